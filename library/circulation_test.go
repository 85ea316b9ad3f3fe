package library_test

import (
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/library-engine/library"
)

// =============================================================================
// ISSUE
// =============================================================================

func TestIssue_TakesOneCopy(t *testing.T) {
	// GIVEN: A book with 3 copies
	// WHEN: One copy is issued
	// THEN: checkedOutCount is 1, 2 copies remain, the loan is BORROWED for 14 days

	f := newFixture(t)
	st := f.student(t, "Ada")
	b := f.book(t, "Algorithms", 3)

	loan := f.issue(t, b.ID, st.ID)

	assert.Equal(t, library.LoanBorrowed, loan.Status)
	assert.Equal(t, start.AddDate(0, 0, 14), loan.DueDate)
	assert.Nil(t, loan.ReturnedAt)
	assert.True(t, loan.FineAmount.IsZero())

	got := f.getBook(t, b.ID)
	assert.Equal(t, 1, got.CheckedOutCount)
	assert.Equal(t, 2, got.AvailableCopies)
	assert.Equal(t, library.BookAvailable, got.Status)
	assert.Equal(t, []library.AuditAction{library.ActionBorrow},
		f.actions(t, library.AuditFilter{Actions: []library.AuditAction{library.ActionBorrow}}))
}

func TestIssue_LastCopy_SecondStudentRejected(t *testing.T) {
	// GIVEN: A single-copy book already on loan
	// WHEN: A different student asks for it
	// THEN: The issue fails with "not available" and nothing changes

	f := newFixture(t)
	a, b := f.student(t, "A"), f.student(t, "B")
	book := f.book(t, "Compilers", 1)
	f.issue(t, book.ID, a.ID)

	_, err := f.svc.Issue(f.ctx, library.IssueRequest{BookID: book.ID, StudentID: b.ID, Actor: library.System})

	require.Error(t, err)
	assert.ErrorIs(t, err, library.ErrConflict)
	assert.Equal(t, library.CodeNotAvailable, conflictCode(err))
	assert.Contains(t, err.Error(), "not available")

	got := f.getBook(t, book.ID)
	assert.Equal(t, 1, got.CheckedOutCount)
	assert.Equal(t, library.BookOutOfStock, got.Status)
	n, err := f.store.CountLoans(f.ctx, library.LoanFilter{BookID: book.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestIssue_SameStudentTwice_Rejected(t *testing.T) {
	f := newFixture(t)
	st := f.student(t, "Ada")
	b := f.book(t, "Algorithms", 3)
	f.issue(t, b.ID, st.ID)

	_, err := f.svc.Issue(f.ctx, library.IssueRequest{BookID: b.ID, StudentID: st.ID, Actor: library.System})

	assert.Equal(t, library.CodeDuplicateLoan, conflictCode(err))
	assert.Equal(t, 1, f.getBook(t, b.ID).CheckedOutCount)
}

func TestIssue_UnknownReferences_NotFound(t *testing.T) {
	f := newFixture(t)
	st := f.student(t, "Ada")
	b := f.book(t, "Algorithms", 1)

	_, err := f.svc.Issue(f.ctx, library.IssueRequest{BookID: "missing", StudentID: st.ID})
	assert.True(t, library.IsNotFound(err))

	_, err = f.svc.Issue(f.ctx, library.IssueRequest{BookID: b.ID, StudentID: "missing"})
	assert.True(t, library.IsNotFound(err))

	_, err = f.svc.Issue(f.ctx, library.IssueRequest{BookID: b.ID, StudentID: st.ID, Days: 400})
	var ve *library.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "days", ve.Field)
}

func TestIssue_ConcurrentRequestsForLastCopy_ExactlyOneWins(t *testing.T) {
	// GIVEN: One copy and ten students asking at the same moment
	// WHEN: All issues run concurrently
	// THEN: Exactly one loan exists and the counter never exceeds the copies

	f := newFixture(t)
	book := f.book(t, "Distributed Systems", 1)
	students := make([]library.Student, 10)
	for i := range students {
		students[i] = f.student(t, "Student")
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for _, st := range students {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := f.svc.Issue(f.ctx, library.IssueRequest{BookID: book.ID, StudentID: id, Actor: library.System})
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
				return
			}
			assert.Equal(t, library.CodeNotAvailable, conflictCode(err))
		}(st.ID)
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	got := f.getBook(t, book.ID)
	assert.Equal(t, 1, got.CheckedOutCount)
	assert.Equal(t, 0, got.AvailableCopies)
}

func TestIssue_AuditFailure_RollsBackEverything(t *testing.T) {
	// GIVEN: A store whose audit ledger rejects writes inside a unit of work
	// WHEN: A book is issued
	// THEN: The original error comes back and neither the loan nor the counter change

	f := newFixture(t)
	st := f.student(t, "Ada")
	b := f.book(t, "Algorithms", 2)

	broken := library.NewService(brokenAudit{f.store}, library.WithClock(f.clock.Now))
	_, err := broken.Issue(f.ctx, library.IssueRequest{BookID: b.ID, StudentID: st.ID, Actor: library.System})

	assert.ErrorIs(t, err, errAuditDown)
	assert.Equal(t, 0, f.getBook(t, b.ID).CheckedOutCount)
	n, err := f.store.CountLoans(f.ctx, library.LoanFilter{})
	require.NoError(t, err)
	assert.Zero(t, n)
}

// =============================================================================
// RETURN
// =============================================================================

func TestReturn_OnTime_RestoresCounterWithoutFine(t *testing.T) {
	// GIVEN: A loan returned before its due date
	// THEN: The counter is back to its pre-issue value and no fine exists

	f := newFixture(t)
	st := f.student(t, "Ada")
	b := f.book(t, "Algorithms", 2)
	loan := f.issue(t, b.ID, st.ID)

	f.clock.Advance(days(3))
	res, err := f.svc.Return(f.ctx, loan.ID, library.System)

	require.NoError(t, err)
	assert.Equal(t, library.LoanReturned, res.Loan.Status)
	require.NotNil(t, res.Loan.ReturnedAt)
	assert.Nil(t, res.Fine)
	assert.Zero(t, res.DaysLate)
	assert.Equal(t, 0, f.getBook(t, b.ID).CheckedOutCount)
	assert.Equal(t, 2, f.getBook(t, b.ID).AvailableCopies)

	fines, err := f.store.ListFines(f.ctx, library.FineFilter{})
	require.NoError(t, err)
	assert.Empty(t, fines)
}

func TestReturn_TenDaysLate_ChargesTen(t *testing.T) {
	f := newFixture(t)
	st := f.student(t, "Ada")
	b := f.book(t, "Algorithms", 1)
	loan := f.issue(t, b.ID, st.ID)

	f.clock.Advance(days(14 + 10))
	res, err := f.svc.Return(f.ctx, loan.ID, library.System)

	require.NoError(t, err)
	assert.Equal(t, 10, res.DaysLate)
	assert.True(t, decimal.NewFromInt(10).Equal(res.Loan.FineAmount))
	require.NotNil(t, res.Fine)
	assert.Equal(t, library.FineUnpaid, res.Fine.Status)
	assert.Equal(t, loan.ID, res.Fine.LoanID)
	assert.Equal(t, "Overdue by 10 days", res.Fine.Reason)
	assert.ElementsMatch(t,
		[]library.AuditAction{library.ActionBorrow, library.ActionOverdue, library.ActionReturn},
		f.actions(t, library.AuditFilter{BookID: b.ID, Actions: []library.AuditAction{
			library.ActionBorrow, library.ActionOverdue, library.ActionReturn,
		}}))
}

func TestReturn_Twice_Conflict(t *testing.T) {
	f := newFixture(t)
	st := f.student(t, "Ada")
	b := f.book(t, "Algorithms", 1)
	loan := f.issue(t, b.ID, st.ID)
	_, err := f.svc.Return(f.ctx, loan.ID, library.System)
	require.NoError(t, err)

	_, err = f.svc.Return(f.ctx, loan.ID, library.System)

	assert.Equal(t, library.CodeAlreadyReturned, conflictCode(err))
	assert.Equal(t, 0, f.getBook(t, b.ID).CheckedOutCount)
}

func TestReturn_WithQueue_HoldsCopyForHead(t *testing.T) {
	// GIVEN: Book(totalCopies=1), A has it, B reserves it
	// WHEN: A returns
	// THEN: B's reservation is Fulfilled, fulfilledAt set, and the copy stays
	//       counted (checkedOutCount 1, not 0) until B picks it up

	f := newFixture(t)
	a, b := f.student(t, "A"), f.student(t, "B")
	book := f.book(t, "Compilers", 1)

	loan := f.issue(t, book.ID, a.ID)
	assert.Equal(t, 0, f.getBook(t, book.ID).AvailableCopies)

	f.clock.Advance(time.Minute)
	r, err := f.svc.Reserve(f.ctx, book.ID, b.ID, library.System)
	require.NoError(t, err)
	assert.Equal(t, 1, r.QueuePosition)

	f.clock.Advance(time.Minute)
	res, err := f.svc.Return(f.ctx, loan.ID, library.System)
	require.NoError(t, err)
	require.NotNil(t, res.ReservedBy)
	assert.Equal(t, r.ID, res.ReservedBy.ID)

	held := f.getReservation(t, r.ID)
	assert.Equal(t, library.ReservationFulfilled, held.Status)
	require.NotNil(t, held.FulfilledAt)
	assert.True(t, held.IsHold())

	got := f.getBook(t, book.ID)
	assert.Equal(t, 1, got.CheckedOutCount)
	assert.Equal(t, 0, got.AvailableCopies)

	// Nobody else can take the held copy.
	c := f.student(t, "C")
	_, err = f.svc.Issue(f.ctx, library.IssueRequest{BookID: book.ID, StudentID: c.ID})
	assert.Equal(t, library.CodeNotAvailable, conflictCode(err))

	// B picks it up; the counter does not move again.
	f.clock.Advance(time.Minute)
	picked := f.issue(t, book.ID, b.ID)
	assert.Equal(t, 1, f.getBook(t, book.ID).CheckedOutCount)
	assert.Equal(t, picked.ID, f.getReservation(t, r.ID).LoanID)

	assert.Equal(t,
		[]library.AuditAction{library.ActionBorrow, library.ActionReserve, library.ActionReturn, library.ActionBorrow},
		f.actions(t, library.AuditFilter{BookID: book.ID, Actions: []library.AuditAction{
			library.ActionBorrow, library.ActionReserve, library.ActionReturn,
		}}))

	// The hold-ready email went to B.
	sent := f.notifier.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, b.Email, sent[0].To)
}

func TestReturn_WithQueue_CompactsRemainingPositions(t *testing.T) {
	// GIVEN: A queue of three behind a single copy
	// WHEN: The copy comes back
	// THEN: The head is fulfilled and the others move up by exactly one, in order

	f := newFixture(t)
	holder := f.student(t, "Holder")
	book := f.book(t, "Operating Systems", 1)
	loan := f.issue(t, book.ID, holder.ID)

	var queue []library.Reservation
	for _, name := range []string{"B", "C", "D"} {
		f.clock.Advance(time.Minute)
		r, err := f.svc.Reserve(f.ctx, book.ID, f.student(t, name).ID, library.System)
		require.NoError(t, err)
		queue = append(queue, r)
	}
	assert.Equal(t, []int{1, 2, 3}, []int{queue[0].QueuePosition, queue[1].QueuePosition, queue[2].QueuePosition})

	_, err := f.svc.Return(f.ctx, loan.ID, library.System)
	require.NoError(t, err)

	assert.Equal(t, library.ReservationFulfilled, f.getReservation(t, queue[0].ID).Status)
	assert.Equal(t, 1, f.getReservation(t, queue[1].ID).QueuePosition)
	assert.Equal(t, 2, f.getReservation(t, queue[2].ID).QueuePosition)
}

// =============================================================================
// RENEW
// =============================================================================

func TestRenew_ExtendsUntilLimit(t *testing.T) {
	f := newFixture(t)
	st := f.student(t, "Ada")
	b := f.book(t, "Algorithms", 1)
	loan := f.issue(t, b.ID, st.ID)

	first, err := f.svc.Renew(f.ctx, loan.ID, 0, library.System)
	require.NoError(t, err)
	assert.Equal(t, loan.DueDate.AddDate(0, 0, 7), first.DueDate)
	assert.Equal(t, 1, first.RenewalCount)

	second, err := f.svc.Renew(f.ctx, loan.ID, 3, library.System)
	require.NoError(t, err)
	assert.Equal(t, first.DueDate.AddDate(0, 0, 3), second.DueDate)

	_, err = f.svc.Renew(f.ctx, loan.ID, 0, library.System)
	assert.Equal(t, library.CodeRenewalLimit, conflictCode(err))
}

func TestRenew_ConfigurableLimit(t *testing.T) {
	opts := library.DefaultOptions()
	opts.MaxRenewals = 5
	f := newFixture(t, library.WithOptions(opts))
	st := f.student(t, "Ada")
	b := f.book(t, "Algorithms", 1)
	loan := f.issue(t, b.ID, st.ID)

	for i := 0; i < 5; i++ {
		_, err := f.svc.Renew(f.ctx, loan.ID, 1, library.System)
		require.NoError(t, err)
	}
	_, err := f.svc.Renew(f.ctx, loan.ID, 1, library.System)
	assert.Equal(t, library.CodeRenewalLimit, conflictCode(err))
}

func TestRenew_PastDue_RejectedRegardlessOfCount(t *testing.T) {
	// GIVEN: A never-renewed loan whose due date has passed (sweep not run yet)
	// WHEN: Renewing it
	// THEN: The renewal is rejected as overdue

	f := newFixture(t)
	st := f.student(t, "Ada")
	b := f.book(t, "Algorithms", 1)
	loan := f.issue(t, b.ID, st.ID)

	f.clock.Advance(days(15))
	_, err := f.svc.Renew(f.ctx, loan.ID, 0, library.System)

	assert.Equal(t, library.CodeRenewOverdue, conflictCode(err))
	got, err := f.store.GetLoan(f.ctx, loan.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.RenewalCount)
	assert.Equal(t, loan.DueDate, got.DueDate)
}

func TestRenew_Returned_Rejected(t *testing.T) {
	f := newFixture(t)
	st := f.student(t, "Ada")
	b := f.book(t, "Algorithms", 1)
	loan := f.issue(t, b.ID, st.ID)
	_, err := f.svc.Return(f.ctx, loan.ID, library.System)
	require.NoError(t, err)

	_, err = f.svc.Renew(f.ctx, loan.ID, 0, library.System)
	assert.Equal(t, library.CodeNotRenewable, conflictCode(err))
}

// =============================================================================
// RESERVE / FULFIL / CANCEL
// =============================================================================

func TestReserve_AvailableBook_Rejected(t *testing.T) {
	f := newFixture(t)
	st := f.student(t, "Ada")
	b := f.book(t, "Algorithms", 2)

	_, err := f.svc.Reserve(f.ctx, b.ID, st.ID, library.System)
	assert.Equal(t, library.CodeAvailableNow, conflictCode(err))
}

func TestReserve_Duplicate_Rejected(t *testing.T) {
	f := newFixture(t)
	a, b := f.student(t, "A"), f.student(t, "B")
	book := f.book(t, "Compilers", 1)
	f.issue(t, book.ID, a.ID)
	_, err := f.svc.Reserve(f.ctx, book.ID, b.ID, library.System)
	require.NoError(t, err)

	_, err = f.svc.Reserve(f.ctx, book.ID, b.ID, library.System)
	assert.Equal(t, library.CodeDuplicateReserve, conflictCode(err))
}

func TestReserve_RivalCommitsFirst_RetriesBehindIt(t *testing.T) {
	// GIVEN: Two students reserving the last copy's queue at the same time,
	//        with the rival committing while this unit is in flight
	// WHEN: This unit writes the book row and loses the version check
	// THEN: It is retried, sees the rival and queues behind it

	f := newFixture(t)
	race := &lostRace{Memory: f.store}
	f.svc = library.NewService(race,
		library.WithClock(f.clock.Now),
		library.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	holder, rival, late := f.student(t, "Holder"), f.student(t, "Rival"), f.student(t, "Late")
	book := f.book(t, "Networks", 1)
	f.issue(t, book.ID, holder.ID)

	race.rival = library.Reservation{
		ID: "rival-reservation", BookID: book.ID, StudentID: rival.ID, Status: library.ReservationActive,
		QueuePosition: 1, ExpiryDate: start.AddDate(0, 0, 30), CreatedAt: start, UpdatedAt: start,
	}
	race.armed = true

	r, err := f.svc.Reserve(f.ctx, book.ID, late.ID, library.System)

	require.NoError(t, err)
	assert.False(t, race.armed)
	assert.Equal(t, 2, r.QueuePosition)
	issues, err := f.svc.CheckConsistency(f.ctx)
	require.NoError(t, err)
	assert.Empty(t, issues)
}

func TestCancelReservation_CompactsQueue(t *testing.T) {
	f := newFixture(t)
	holder := f.student(t, "Holder")
	book := f.book(t, "Networks", 1)
	f.issue(t, book.ID, holder.ID)

	var queue []library.Reservation
	for _, name := range []string{"B", "C", "D"} {
		f.clock.Advance(time.Minute)
		r, err := f.svc.Reserve(f.ctx, book.ID, f.student(t, name).ID, library.System)
		require.NoError(t, err)
		queue = append(queue, r)
	}

	cancelled, err := f.svc.CancelReservation(f.ctx, queue[1].ID, library.System)
	require.NoError(t, err)
	assert.Equal(t, library.ReservationCancelled, cancelled.Status)
	assert.Equal(t, 1, f.getReservation(t, queue[0].ID).QueuePosition)
	assert.Equal(t, 2, f.getReservation(t, queue[2].ID).QueuePosition)

	_, err = f.svc.CancelReservation(f.ctx, queue[1].ID, library.System)
	assert.Equal(t, library.CodeReservationState, conflictCode(err))
}

func TestCancelHold_PassesCopyToNextInLine(t *testing.T) {
	// GIVEN: B holds the returned copy, C waits behind
	// WHEN: B cancels the hold
	// THEN: C is fulfilled and the counter stays at 1

	f := newFixture(t)
	a, b, c := f.student(t, "A"), f.student(t, "B"), f.student(t, "C")
	book := f.book(t, "Networks", 1)
	loan := f.issue(t, book.ID, a.ID)
	rb, err := f.svc.Reserve(f.ctx, book.ID, b.ID, library.System)
	require.NoError(t, err)
	f.clock.Advance(time.Minute)
	rc, err := f.svc.Reserve(f.ctx, book.ID, c.ID, library.System)
	require.NoError(t, err)
	_, err = f.svc.Return(f.ctx, loan.ID, library.System)
	require.NoError(t, err)

	_, err = f.svc.CancelReservation(f.ctx, rb.ID, library.System)
	require.NoError(t, err)

	assert.Equal(t, library.ReservationFulfilled, f.getReservation(t, rc.ID).Status)
	assert.Equal(t, 1, f.getBook(t, book.ID).CheckedOutCount)
}

func TestCancelHold_NoQueue_ReleasesCopy(t *testing.T) {
	f := newFixture(t)
	a, b := f.student(t, "A"), f.student(t, "B")
	book := f.book(t, "Networks", 1)
	loan := f.issue(t, book.ID, a.ID)
	rb, err := f.svc.Reserve(f.ctx, book.ID, b.ID, library.System)
	require.NoError(t, err)
	_, err = f.svc.Return(f.ctx, loan.ID, library.System)
	require.NoError(t, err)

	_, err = f.svc.CancelReservation(f.ctx, rb.ID, library.System)
	require.NoError(t, err)

	got := f.getBook(t, book.ID)
	assert.Equal(t, 0, got.CheckedOutCount)
	assert.Equal(t, library.BookAvailable, got.Status)
}

func TestFulfillReservation_AfterStockAdded(t *testing.T) {
	// GIVEN: A queue on a sold-out book
	// WHEN: Staff add a copy and fulfil the reservation by hand
	// THEN: The new copy is held for the student

	f := newFixture(t)
	a, b := f.student(t, "A"), f.student(t, "B")
	book := f.book(t, "Networks", 1)
	f.issue(t, book.ID, a.ID)
	r, err := f.svc.Reserve(f.ctx, book.ID, b.ID, library.System)
	require.NoError(t, err)

	two := 2
	_, err = f.svc.UpdateBook(f.ctx, book.ID, library.BookPatch{TotalCopies: &two}, library.System)
	require.NoError(t, err)

	got, err := f.svc.FulfillReservation(f.ctx, r.ID, library.System)
	require.NoError(t, err)
	assert.Equal(t, library.ReservationFulfilled, got.Status)
	assert.Equal(t, 2, f.getBook(t, book.ID).CheckedOutCount)

	_, err = f.svc.FulfillReservation(f.ctx, r.ID, library.System)
	assert.Equal(t, library.CodeReservationState, conflictCode(err))
}

func TestLoan_LegacyView(t *testing.T) {
	returned := start.Add(days(20))
	loan := library.Loan{
		ID: "l1", StudentID: "s1", BookID: "b1",
		IssuedAt: start, DueDate: start.Add(days(14)), ReturnedAt: &returned,
		Status: library.LoanReturned, FineAmount: decimal.NewFromInt(6),
	}

	legacy := loan.Legacy()

	assert.Equal(t, "Returned", legacy.Status)
	assert.Equal(t, "s1", legacy.Student)
	assert.Equal(t, "b1", legacy.Book)
	assert.Equal(t, &returned, legacy.ReturnDate)
	assert.True(t, decimal.NewFromInt(6).Equal(legacy.Fine))

	loan.Status = library.LoanOverdue
	assert.Equal(t, "Overdue", loan.Legacy().Status)
	loan.Status = library.LoanBorrowed
	assert.Equal(t, "Issued", loan.Legacy().Status)
}
