package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/library-engine/library"
	"github.com/warp/library-engine/store/sqldb"
)

type result struct {
	code   int
	stdout string
	stderr string
}

func run(t *testing.T, stdin string, args ...string) result {
	t.Helper()
	var out, errOut bytes.Buffer
	code := execute(args, strings.NewReader(stdin), &out, &errOut)
	return result{code: code, stdout: out.String(), stderr: errOut.String()}
}

func dbArgs(t *testing.T) []string {
	t.Helper()
	return []string{"--driver", "sqlite", "--dsn", "file:" + filepath.Join(t.TempDir(), "library.db")}
}

func plantOrphan(t *testing.T, dsn string) {
	t.Helper()
	ctx := context.Background()
	db, err := sqldb.Open(ctx, sqldb.DriverSQLite, dsn)
	require.NoError(t, err)
	defer db.Close()
	now := time.Now().UTC()
	require.NoError(t, db.CreateLoan(ctx, library.Loan{
		ID: "orphan", StudentID: "ghost", BookID: "ghost-book",
		IssuedAt: now.AddDate(0, 0, -3), DueDate: now.AddDate(0, 0, 11), ReturnedAt: &now,
		Status: library.LoanReturned, FineAmount: decimal.Zero, UpdatedAt: now,
	}))
}

func TestReseedThenChecksPass(t *testing.T) {
	// GIVEN: A freshly reseeded database
	// THEN: Every read-only check exits 0

	db := dbArgs(t)
	res := run(t, "", append(db, "reseed", "--commit", "--yes", "--students", "15", "--books", "8")...)
	require.Equal(t, exitOK, res.code, res.stderr)
	assert.Contains(t, res.stdout, "Post-seed integrity: PASS")

	for _, cmd := range []string{"scan", "audit-consistency", "validate-integrity", "health-report", "full-check"} {
		res := run(t, "", append(db, cmd)...)
		assert.Equal(t, exitOK, res.code, "%s: %s%s", cmd, res.stdout, res.stderr)
	}
}

func TestCleanup_ConfirmAndExecute(t *testing.T) {
	// GIVEN: A database with one orphaned loan
	// WHEN: Running scan, a dry-run cleanup, and an execute cleanup
	// THEN: Scan and dry run exit 1, a wrong confirmation aborts, "YES"
	//       deletes the orphan and scan is clean again

	db := dbArgs(t)
	require.Equal(t, exitOK, run(t, "", append(db, "reseed", "--commit", "--yes", "--students", "5", "--books", "3")...).code)
	plantOrphan(t, db[3])

	scan := run(t, "", append(db, "scan")...)
	assert.Equal(t, exitProblems, scan.code)
	assert.Contains(t, scan.stdout, "orphan")

	dry := run(t, "", append(db, "cleanup")...)
	assert.Equal(t, exitProblems, dry.code)
	assert.Contains(t, dry.stdout, "Dry run: 1 records would be deleted")

	aborted := run(t, "no\n", append(db, "cleanup", "--execute")...)
	assert.Equal(t, exitError, aborted.code)
	assert.Contains(t, aborted.stderr, "aborted")

	done := run(t, "YES\n", append(db, "cleanup", "--execute")...)
	assert.Equal(t, exitOK, done.code, done.stderr)
	assert.Contains(t, done.stdout, "Deleted 1 records")

	assert.Equal(t, exitOK, run(t, "", append(db, "scan")...).code)
}

func TestScan_JSON(t *testing.T) {
	db := dbArgs(t)
	plantOrphan(t, db[3])

	res := run(t, "", append(db, "--json", "scan")...)

	assert.Equal(t, exitProblems, res.code)
	var rep library.IntegrityReport
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &rep))
	require.Len(t, rep.Orphans[library.KindLoan], 1)
	assert.Equal(t, "orphan", rep.Orphans[library.KindLoan][0].ID)
}

func TestReseed_RequiresExactlyOneMode(t *testing.T) {
	db := dbArgs(t)

	assert.Equal(t, exitError, run(t, "", append(db, "reseed")...).code)
	assert.Equal(t, exitError, run(t, "", append(db, "reseed", "--dry-run", "--commit")...).code)

	dry := run(t, "", append(db, "reseed", "--dry-run")...)
	assert.Equal(t, exitOK, dry.code)
	assert.Contains(t, dry.stdout, "nothing was changed")
}

func TestReconcile_DryRunReportsDrift(t *testing.T) {
	db := dbArgs(t)
	ctx := context.Background()
	st, err := sqldb.Open(ctx, sqldb.DriverSQLite, db[3])
	require.NoError(t, err)
	now := time.Now().UTC()
	b := library.Book{
		ID: "b1", Title: "Drifted", Author: "A", ISBN: "1", Department: library.DeptGeneral,
		TotalCopies: 2, CheckedOutCount: 1, AddedDate: now, UpdatedAt: now, Version: 1,
	}
	require.NoError(t, library.ApplyInventory(&b))
	require.NoError(t, st.CreateBook(ctx, b))
	require.NoError(t, st.Close())

	dry := run(t, "", append(db, "reconcile", "--dry-run")...)
	assert.Equal(t, exitProblems, dry.code)
	assert.Contains(t, dry.stdout, "Would apply 1 corrections")

	fix := run(t, "", append(db, "reconcile")...)
	assert.Equal(t, exitOK, fix.code, fix.stderr)

	assert.Equal(t, exitOK, run(t, "", append(db, "reconcile", "--dry-run")...).code)
}

func TestUserAdd(t *testing.T) {
	db := dbArgs(t)

	res := run(t, "s3cret-pass\n", append(db, "user", "add", "--name", "Lee", "--email", "lee@example.com", "--role", "librarian")...)
	require.Equal(t, exitOK, res.code, res.stderr)
	assert.Contains(t, res.stdout, "Created LIBRARIAN Lee <lee@example.com>")

	dup := run(t, "", append(db, "user", "add", "--name", "Lee", "--email", "LEE@example.com", "--password", "another-pass")...)
	assert.Equal(t, exitError, dup.code)

	missing := run(t, "", append(db, "user", "add", "--name", "X")...)
	assert.Equal(t, exitError, missing.code)
}

func TestUnknownDriver(t *testing.T) {
	res := run(t, "", "--driver", "oracle", "scan")

	assert.Equal(t, exitError, res.code)
	assert.Contains(t, res.stderr, "oracle")
}
