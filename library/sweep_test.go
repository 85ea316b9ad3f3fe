package library_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/library-engine/library"
)

func TestSweepOverdue_FlagsOnlyPastDueLoans(t *testing.T) {
	// GIVEN: One loan past due and one still running
	// WHEN: The sweep runs
	// THEN: Only the late loan becomes OVERDUE, and a second sweep changes nothing

	f := newFixture(t)
	st := f.student(t, "Ada")
	late := f.issue(t, f.book(t, "Late", 1).ID, st.ID)
	f.clock.Advance(days(10))
	fresh := f.issue(t, f.book(t, "Fresh", 1).ID, st.ID)
	f.clock.Advance(days(5))

	res, err := f.svc.SweepOverdue(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, library.SweepResult{Checked: 1, Changed: 1}, res)

	got, err := f.store.GetLoan(f.ctx, late.ID)
	require.NoError(t, err)
	assert.Equal(t, library.LoanOverdue, got.Status)
	got, err = f.store.GetLoan(f.ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, library.LoanBorrowed, got.Status)

	again, err := f.svc.SweepOverdue(f.ctx)
	require.NoError(t, err)
	assert.Zero(t, again.Changed)
}

func TestSweepOverdue_OverdueLoanStillCountsAndReturns(t *testing.T) {
	f := newFixture(t)
	st := f.student(t, "Ada")
	b := f.book(t, "Late", 1)
	loan := f.issue(t, b.ID, st.ID)
	f.clock.Advance(days(20))
	_, err := f.svc.SweepOverdue(f.ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, f.getBook(t, b.ID).CheckedOutCount)
	res, err := f.svc.Return(f.ctx, loan.ID, library.System)
	require.NoError(t, err)
	assert.Equal(t, 6, res.DaysLate)
	assert.Equal(t, 0, f.getBook(t, b.ID).CheckedOutCount)
}

func TestExpireReservations_ActivePastExpiry(t *testing.T) {
	f := newFixture(t)
	a, b, c := f.student(t, "A"), f.student(t, "B"), f.student(t, "C")
	book := f.book(t, "Networks", 1)
	f.issue(t, book.ID, a.ID)
	rb, err := f.svc.Reserve(f.ctx, book.ID, b.ID, library.System)
	require.NoError(t, err)

	f.clock.Advance(days(29))
	rc, err := f.svc.Reserve(f.ctx, book.ID, c.ID, library.System)
	require.NoError(t, err)
	f.clock.Advance(days(2))

	res, err := f.svc.ExpireReservations(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Changed)
	assert.Equal(t, library.ReservationExpired, f.getReservation(t, rb.ID).Status)
	assert.Equal(t, 1, f.getReservation(t, rc.ID).QueuePosition)
}

func TestExpireReservations_UncollectedHoldReleasesCopy(t *testing.T) {
	// GIVEN: A hold nobody collected within the pickup window
	// WHEN: Expiry runs
	// THEN: The hold expires and the copy goes back on the shelf

	f := newFixture(t)
	a, b := f.student(t, "A"), f.student(t, "B")
	book := f.book(t, "Networks", 1)
	loan := f.issue(t, book.ID, a.ID)
	r, err := f.svc.Reserve(f.ctx, book.ID, b.ID, library.System)
	require.NoError(t, err)
	_, err = f.svc.Return(f.ctx, loan.ID, library.System)
	require.NoError(t, err)
	require.Equal(t, 1, f.getBook(t, book.ID).CheckedOutCount)

	f.clock.Advance(days(4))
	res, err := f.svc.ExpireReservations(f.ctx)

	require.NoError(t, err)
	assert.Equal(t, 1, res.Changed)
	assert.Equal(t, library.ReservationExpired, f.getReservation(t, r.ID).Status)
	assert.Equal(t, 0, f.getBook(t, book.ID).CheckedOutCount)
}

func TestSendReminders_MatchesWindows(t *testing.T) {
	// GIVEN: Loans due in 7 days, 5 days, today, and 1 day ago
	// WHEN: The daily reminder pass runs
	// THEN: Three reminders go out and each is recorded as EMAIL_SENT

	f := newFixture(t)
	st := f.student(t, "Ada")
	issueAt := func(offset time.Duration, loanDays int) {
		f.clock.Advance(offset)
		defer f.clock.Advance(-offset)
		_, err := f.svc.Issue(f.ctx, library.IssueRequest{
			BookID: f.book(t, "Book", 1).ID, StudentID: st.ID, Days: loanDays, Actor: library.System,
		})
		require.NoError(t, err)
	}
	issueAt(0, 7)
	issueAt(0, 5)
	issueAt(-days(14), 14)
	issueAt(-days(2), 1)

	res, err := f.svc.SendReminders(f.ctx)

	require.NoError(t, err)
	assert.Equal(t, library.ReminderResult{Considered: 3, Sent: 3}, res)
	assert.Len(t, f.notifier.Sent(), 3)
	n, err := f.store.CountAudit(f.ctx, library.AuditFilter{Actions: []library.AuditAction{library.ActionEmailSent}})
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestSendReminders_DeliveryFailureIsRecordedNotReturned(t *testing.T) {
	f := newFixture(t)
	f.notifier.err = errors.New("smtp: connection refused")
	st := f.student(t, "Ada")
	f.issue(t, f.book(t, "Book", 1).ID, st.ID)
	f.clock.Advance(days(7))

	res, err := f.svc.SendReminders(f.ctx)

	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	entries, err := f.store.QueryAudit(f.ctx, library.AuditFilter{Actions: []library.AuditAction{library.ActionEmailSent}})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "failed", entries[0].Metadata["status"])
	assert.Equal(t, "smtp: connection refused", entries[0].Metadata["error"])
}

func TestSendReminders_NoNotifier_Skipped(t *testing.T) {
	f := newFixture(t, library.WithNotifier(nil))
	st := f.student(t, "Ada")
	f.issue(t, f.book(t, "Book", 1).ID, st.ID)
	f.clock.Advance(days(14) + time.Hour)

	res, err := f.svc.SendReminders(f.ctx)

	require.NoError(t, err)
	assert.Equal(t, library.ReminderResult{Considered: 1, Skipped: 1}, res)
}
