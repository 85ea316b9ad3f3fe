package sqldb

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/library-engine/library"
	"github.com/warp/library-engine/library/store/storetest"
)

func openSQLite(t *testing.T) *Store {
	t.Helper()
	st, err := Open(context.Background(), DriverSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestSQLite_Contract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) library.TxStore {
		return openSQLite(t)
	})
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), "oracle", "x")
	assert.ErrorContains(t, err, "unsupported driver")
}

func TestOpen_MigrationIsIdempotent(t *testing.T) {
	st := openSQLite(t)
	assert.NoError(t, st.migrate(context.Background(), st.db))
}

func TestAuditTriggers_RejectUpdateAndDelete(t *testing.T) {
	// GIVEN: An entry in the audit table
	// WHEN: Raw SQL tries to change or remove it
	// THEN: The database aborts both statements and the row is unchanged

	ctx := context.Background()
	st := openSQLite(t)
	require.NoError(t, st.AppendAudit(ctx, library.AuditEntry{
		ID: "a1", Action: library.ActionBorrow, BookID: "b1", Timestamp: time.Now(),
	}))

	_, err := st.db.ExecContext(ctx, "UPDATE audit_log SET action = 'RETURN' WHERE id = 'a1'")
	require.Error(t, err)
	assert.True(t, IsAppendOnlyViolation(err))

	_, err = st.db.ExecContext(ctx, "DELETE FROM audit_log WHERE id = 'a1'")
	require.Error(t, err)
	assert.True(t, IsAppendOnlyViolation(err))

	got, err := st.GetAudit(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, library.ActionBorrow, got.Action)
}

func TestTimeColumns_SortChronologically(t *testing.T) {
	early := time.Date(2025, 3, 3, 9, 0, 0, 0, time.FixedZone("CET", 3600))
	late := time.Date(2025, 3, 3, 8, 30, 0, 500, time.UTC)
	assert.Less(t, fmtTime(early), fmtTime(late))

	parsed, err := parseTime(fmtTime(late))
	require.NoError(t, err)
	assert.True(t, late.Equal(parsed))

	parsed, err = parseTime("2025-03-03T08:30:00Z")
	require.NoError(t, err)
	assert.Equal(t, 8, parsed.Hour())
}

// =============================================================================
// SERVICE OVER SQLITE
// =============================================================================

func newService(t *testing.T) (*library.Service, *Store) {
	t.Helper()
	st := openSQLite(t)
	svc := library.NewService(st, library.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	return svc, st
}

func TestService_LastCopyRace_OneWinner(t *testing.T) {
	// GIVEN: A book with one copy and ten students
	// WHEN: All ten issue it at once
	// THEN: Exactly one loan exists and the counter is 1

	ctx := context.Background()
	svc, st := newService(t)
	b, err := svc.CreateBook(ctx, library.Book{
		Title: "Compilers", Author: "Aho", ISBN: "978-0-321", Department: library.DeptComputerScience, TotalCopies: 1,
	}, library.System)
	require.NoError(t, err)
	students := make([]library.Student, 10)
	for i := range students {
		students[i], err = svc.CreateStudent(ctx, library.Student{
			Name: fmt.Sprintf("Student %d", i), Email: fmt.Sprintf("s%d@uni.edu", i),
		}, library.System)
		require.NoError(t, err)
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for _, s := range students {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := svc.Issue(ctx, library.IssueRequest{BookID: b.ID, StudentID: id, Actor: library.System})
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, library.ErrConflict)
		}(s.ID)
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	n, err := st.CountLoans(ctx, library.LoanFilter{BookID: b.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	got, err := st.GetBook(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.CheckedOutCount)
	assert.Equal(t, library.BookOutOfStock, got.Status)
}

func TestService_OrphanCleanupAndReseed(t *testing.T) {
	ctx := context.Background()
	svc, st := newService(t)

	res, err := svc.Reseed(ctx, library.ReseedOptions{Commit: true, Students: 10, Books: 6, Seed: 5})
	require.NoError(t, err)
	require.NotNil(t, res.Integrity)
	assert.True(t, res.Integrity.Clean())

	books, err := st.ListBooks(ctx, library.BookFilter{Page: library.Page{Limit: 1}})
	require.NoError(t, err)
	require.Len(t, books, 1)
	require.NoError(t, st.CreateLoan(ctx, library.Loan{
		ID: "orphan", StudentID: "ghost", BookID: books[0].ID, IssuedAt: time.Now(), DueDate: time.Now().AddDate(0, 0, 14),
		Status: library.LoanReturned, ReturnedAt: ptr(time.Now()),
	}))

	rep, err := svc.Checker().Scan(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.OrphanCount())

	cleaned, err := svc.Cleanup(ctx, library.CleanupOptions{Execute: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"orphan"}, cleaned.Deleted[library.KindLoan])

	v, err := svc.Validate(ctx)
	require.NoError(t, err)
	assert.True(t, v.OK, "issues: %v", v.Issues)
}

func ptr[T any](v T) *T { return &v }
