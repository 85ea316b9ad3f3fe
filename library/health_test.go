package library_test

import (
	"io"
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/library-engine/library"
)

// =============================================================================
// CONSISTENCY & HEALTH
// =============================================================================

func TestCheckConsistency_NormalUse_NoIssues(t *testing.T) {
	f := newFixture(t)
	a, b := f.student(t, "A"), f.student(t, "B")
	book := f.book(t, "Compilers", 1)
	loan := f.issue(t, book.ID, a.ID)
	_, err := f.svc.Reserve(f.ctx, book.ID, b.ID, library.System)
	require.NoError(t, err)
	f.clock.Advance(days(20))
	_, err = f.svc.Return(f.ctx, loan.ID, library.System)
	require.NoError(t, err)

	issues, err := f.svc.CheckConsistency(f.ctx)

	require.NoError(t, err)
	assert.Empty(t, issues)
}

func TestCheckConsistency_FindsBrokenRecords(t *testing.T) {
	f := newFixture(t)
	st := f.student(t, "Ada")
	b := f.book(t, "Algorithms", 2)

	// Counter says one copy is out, no loan agrees.
	drifted := f.getBook(t, b.ID)
	drifted.CheckedOutCount = 1
	require.NoError(t, library.ApplyInventory(&drifted))
	require.NoError(t, f.store.UpdateBook(f.ctx, drifted))

	// RETURNED without returnedAt.
	require.NoError(t, f.store.CreateLoan(f.ctx, library.Loan{
		ID: "bad-loan", StudentID: st.ID, BookID: b.ID, IssuedAt: start, DueDate: start.AddDate(0, 0, 14),
		Status: library.LoanReturned, FineAmount: decimal.Zero,
	}))
	// Paid without a paid date, and a reason too short to mean anything.
	require.NoError(t, f.store.CreateFine(f.ctx, library.Fine{
		ID: "bad-fine", StudentID: st.ID, Amount: decimal.NewFromInt(1), Reason: "x",
		Status: library.FinePaid, CreatedAt: start,
	}))

	issues, err := f.svc.CheckConsistency(f.ctx)
	require.NoError(t, err)

	byID := map[string]int{}
	for _, is := range issues {
		byID[is.ID]++
	}
	assert.Equal(t, 1, byID[b.ID])
	assert.Equal(t, 1, byID["bad-loan"])
	assert.Equal(t, 2, byID["bad-fine"])
}

func TestValidate_ReportsOrphansAndIssues(t *testing.T) {
	f := newFixture(t)
	b := f.book(t, "Algorithms", 2)

	ok, err := f.svc.Validate(f.ctx)
	require.NoError(t, err)
	assert.True(t, ok.OK)

	plantOrphanLoan(t, f, b.ID)
	broken, err := f.svc.Validate(f.ctx)
	require.NoError(t, err)
	assert.False(t, broken.OK)
	assert.Equal(t, 1, broken.Integrity.OrphanCount())
}

func TestHealthReport_ScoreFromOrphanShare(t *testing.T) {
	// GIVEN: A store where one record in ten is an orphan
	// THEN: The score is 90

	f := newFixture(t)
	b := f.book(t, "Algorithms", 2) // book + ADD audit = 2 records
	for i := 0; i < 3; i++ {
		f.student(t, "S") // student + ADD audit = 2 records each
	}
	plantOrphanLoan(t, f, b.ID) // 1 record, total 9
	require.NoError(t, f.store.AppendAudit(f.ctx, library.AuditEntry{
		ID: "system-note", Action: library.ActionUpdate, Timestamp: start,
	})) // total 10

	h, err := f.svc.HealthReport(f.ctx)

	require.NoError(t, err)
	assert.Equal(t, 10, h.TotalRecords)
	assert.Equal(t, 1, h.Orphans)
	assert.InDelta(t, 90.0, h.Score, 0.0001)
	assert.Equal(t, library.HealthDegraded, h.Status)
	assert.Equal(t, 1, h.Counts[library.KindLoan])
}

func TestHealthReport_EmptyStoreIsHealthy(t *testing.T) {
	f := newFixture(t)

	h, err := f.svc.HealthReport(f.ctx)

	require.NoError(t, err)
	assert.Equal(t, 100.0, h.Score)
	assert.Equal(t, library.HealthHealthy, h.Status)
}

// =============================================================================
// RESEED
// =============================================================================

func TestReseed_DryRun_WritesNothing(t *testing.T) {
	f := newFixture(t)
	f.student(t, "Existing")

	res, err := f.svc.Reseed(f.ctx, library.ReseedOptions{})

	require.NoError(t, err)
	assert.True(t, res.DryRun)
	assert.Equal(t, 1, res.Cleared[library.KindStudent])
	assert.Equal(t, 50, res.Seeded[library.KindStudent])
	n, err := f.store.Count(f.ctx, library.KindStudent)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestReseed_Commit_ProducesCleanConsistentData(t *testing.T) {
	// GIVEN: A store with unrelated data
	// WHEN: Reseeding with commit
	// THEN: The old data is gone and the new data set passes every check

	f := newFixture(t)
	f.student(t, "Existing")

	res, err := f.svc.Reseed(f.ctx, library.ReseedOptions{Commit: true, Students: 20, Books: 10, Seed: 7})

	require.NoError(t, err)
	assert.False(t, res.DryRun)
	assert.Equal(t, 20, res.Seeded[library.KindStudent])
	assert.Equal(t, 10, res.Seeded[library.KindBook])
	assert.Positive(t, res.Seeded[library.KindLoan])
	require.NotNil(t, res.Integrity)
	assert.True(t, res.Integrity.Clean())

	n, err := f.store.CountStudents(f.ctx, library.StudentFilter{Query: "Existing"})
	require.NoError(t, err)
	assert.Zero(t, n)

	v, err := f.svc.Validate(f.ctx)
	require.NoError(t, err)
	assert.Empty(t, v.Issues)
	assert.True(t, v.OK)
}

func TestReseed_FailsPartway_OldDataKept(t *testing.T) {
	// GIVEN: A store with data, and a ledger that rejects every append made
	//        inside a unit of work
	// WHEN: Reseeding with commit, which clears the store and then fails on
	//       the first seeded record
	// THEN: The error is returned and the store is exactly as before

	f := newFixture(t)
	existing := f.student(t, "Existing")
	f.book(t, "Algorithms", 1)
	auditBefore, err := f.store.Count(f.ctx, library.KindAudit)
	require.NoError(t, err)
	f.svc = library.NewService(brokenAudit{f.store},
		library.WithClock(f.clock.Now),
		library.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)

	_, err = f.svc.Reseed(f.ctx, library.ReseedOptions{Commit: true, Students: 5, Books: 3})

	require.ErrorIs(t, err, errAuditDown)
	got, err := f.store.GetStudent(f.ctx, existing.ID)
	require.NoError(t, err)
	assert.Equal(t, "Existing", got.Name)
	for kind, want := range map[library.EntityKind]int{library.KindStudent: 1, library.KindBook: 1, library.KindAudit: auditBefore} {
		n, err := f.store.Count(f.ctx, kind)
		require.NoError(t, err)
		assert.Equal(t, want, n, kind)
	}
}

func TestReseed_SameSeed_SameShape(t *testing.T) {
	run := func() library.ReseedResult {
		f := newFixture(t)
		res, err := f.svc.Reseed(f.ctx, library.ReseedOptions{Commit: true, Students: 20, Books: 10, Seed: 3})
		require.NoError(t, err)
		return res
	}
	first, second := run(), run()
	assert.Equal(t, first.Seeded, second.Seeded)
	assert.Equal(t, first.Skipped, second.Skipped)
}

func TestDeletedBook_LeavesRetainedAuditEntry_StoreStaysHealthy(t *testing.T) {
	// GIVEN: A book that was added and then deleted through the catalogue
	// WHEN: Cleanup executes and the store is scanned and validated
	// THEN: Its ADD entry is listed as retained, the scan is clean and the
	//       health report stays healthy

	f := newFixture(t)
	b := f.book(t, "Algorithms", 1)
	require.NoError(t, f.svc.DeleteBook(f.ctx, b.ID, library.System))

	res, err := f.svc.Cleanup(f.ctx, library.CleanupOptions{Execute: true})
	require.NoError(t, err)
	assert.Zero(t, res.DeletedCount())
	assert.NotEmpty(t, res.Retained)

	rep, err := f.svc.Checker().Scan(f.ctx)
	require.NoError(t, err)
	assert.True(t, rep.Clean())
	assert.Zero(t, rep.OrphanCount())
	require.NotEmpty(t, rep.Retained)
	for _, r := range rep.Retained {
		assert.Equal(t, library.KindAudit, r.Kind)
		assert.Contains(t, r.Reason, b.ID)
	}

	v, err := f.svc.Validate(f.ctx)
	require.NoError(t, err)
	assert.True(t, v.OK)

	h, err := f.svc.HealthReport(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, library.HealthHealthy, h.Status)
	assert.Equal(t, rep.RetainedCount(), h.Retained)
}
