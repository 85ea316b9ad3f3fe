/*
circulation.go - Loan and reservation state machine

PURPOSE:
  Issue, return, renew and reserve books. Each operation is one unit of
  work: the loan or reservation write, the book counter write and the audit
  entry commit together or not at all.

LOAN STATES:
  BORROWED -> RETURNED  (terminal)
  BORROWED -> OVERDUE   (background sweep, once now > DueDate)
  OVERDUE  -> RETURNED  (terminal)

RESERVATION STATES:
  Active    -> Fulfilled   (copy came back, or manual fulfilment)
  Active    -> Cancelled | Expired
  Fulfilled -> Cancelled | Expired  (only while the hold is unclaimed)

HOLDS:
  A Fulfilled reservation with no LoanID is a hold. The copy that satisfied
  it stays counted in CheckedOutCount so nobody else can issue it. When the
  reserving student is issued the book, the hold is claimed (LoanID set)
  and the counter does not move again.

QUEUE COMPACTION:
  When an Active reservation leaves the queue (fulfilled, cancelled,
  expired) every Active reservation of the same book behind it moves up by
  one. Positions among Active reservations stay dense: 1..n.

SEE ALSO:
  - inventory.go: checkout/release
  - fine.go: Assess
  - sweep.go: overdue sweep, expiry, reminders
*/
package library

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

const maxLoanDays = 365

// =============================================================================
// ISSUE
// =============================================================================

type IssueRequest struct {
	BookID    string
	StudentID string
	Days      int // zero means DefaultLoanDays
	Actor     Actor
}

// Issue lends a book to a student.
func (s *Service) Issue(ctx context.Context, req IssueRequest) (Loan, error) {
	if req.BookID == "" {
		return Loan{}, invalid("bookId", "is required")
	}
	if req.StudentID == "" {
		return Loan{}, invalid("studentId", "is required")
	}
	days := req.Days
	if days == 0 {
		days = s.opts.DefaultLoanDays
	}
	if days < 1 || days > maxLoanDays {
		return Loan{}, invalid("days", "must be between 1 and %d", maxLoanDays)
	}

	var loan Loan
	err := s.inTx(ctx, "issue", func(st Store) error {
		now := s.Now()

		if _, err := st.GetStudent(ctx, req.StudentID); err != nil {
			return err
		}
		book, err := st.GetBook(ctx, req.BookID)
		if err != nil {
			return err
		}

		open, err := st.ListLoans(ctx, LoanFilter{
			StudentID: req.StudentID,
			BookID:    req.BookID,
			Statuses:  OpenLoanStatuses,
			Page:      Page{Limit: 1},
		})
		if err != nil {
			return err
		}
		if len(open) > 0 {
			return conflict(CodeDuplicateLoan, "Student already has this book on loan (loan %s)", open[0].ID)
		}

		hold, err := findHold(ctx, st, req.BookID, req.StudentID)
		if err != nil {
			return err
		}
		if hold == nil {
			if err := checkout(&book); err != nil {
				return err
			}
		}

		loan = Loan{
			ID:         s.newID(),
			StudentID:  req.StudentID,
			BookID:     req.BookID,
			IssuedAt:   now,
			DueDate:    now.AddDate(0, 0, days),
			Status:     LoanBorrowed,
			FineAmount: decimal.Zero,
			UpdatedAt:  now,
		}
		if err := st.CreateLoan(ctx, loan); err != nil {
			return err
		}

		if hold != nil {
			hold.LoanID = loan.ID
			hold.UpdatedAt = now
			if err := st.UpdateReservation(ctx, *hold); err != nil {
				return err
			}
		} else {
			book.UpdatedAt = now
			if err := st.UpdateBook(ctx, book); err != nil {
				return err
			}
		}

		return s.audit(ctx, st, req.Actor, ActionBorrow, req.BookID, req.StudentID, map[string]any{
			"loanId":   loan.ID,
			"dueDate":  loan.DueDate.Format(time.RFC3339),
			"days":     days,
			"fromHold": hold != nil,
		})
	})
	if err != nil {
		return Loan{}, err
	}

	s.log.Info("book issued", "loan", loan.ID, "book", loan.BookID, "student", loan.StudentID, "due", loan.DueDate)
	return loan, nil
}

// =============================================================================
// RETURN
// =============================================================================

// ReturnResult is the outcome of Return.
type ReturnResult struct {
	Loan       Loan         `json:"transaction"`
	Fine       *Fine        `json:"fine,omitempty"`
	DaysLate   int          `json:"daysLate"`
	ReservedBy *Reservation `json:"fulfilledReservation,omitempty"`
}

// Return closes a loan, charges any fine and hands the copy to the head of
// the reservation queue if there is one.
func (s *Service) Return(ctx context.Context, loanID string, actor Actor) (ReturnResult, error) {
	var res ReturnResult
	err := s.inTx(ctx, "return", func(st Store) error {
		res = ReturnResult{}
		now := s.Now()

		loan, err := st.GetLoan(ctx, loanID)
		if err != nil {
			return err
		}
		if loan.Status == LoanReturned {
			return conflict(CodeAlreadyReturned, "Loan %s was already returned", loan.ID)
		}
		book, err := st.GetBook(ctx, loan.BookID)
		if errors.Is(err, ErrNotFound) {
			return &IntegrityError{Kind: KindLoan, ID: loan.ID, Field: "bookId", Target: KindBook, Ref: loan.BookID}
		}
		if err != nil {
			return err
		}

		assessment := s.opts.Fines.Assess(loan.DueDate, now)
		loan.Status = LoanReturned
		loan.ReturnedAt = &now
		loan.FineAmount = assessment.Amount
		loan.UpdatedAt = now
		if err := st.UpdateLoan(ctx, loan); err != nil {
			return err
		}
		res.Loan = loan
		res.DaysLate = assessment.DaysLate

		if assessment.Due() {
			fine := Fine{
				ID:        s.newID(),
				StudentID: loan.StudentID,
				LoanID:    loan.ID,
				Amount:    assessment.Amount,
				Reason:    assessment.Reason(),
				Status:    FineUnpaid,
				CreatedAt: now,
			}
			if err := st.CreateFine(ctx, fine); err != nil {
				return err
			}
			res.Fine = &fine
			if err := s.audit(ctx, st, actor, ActionOverdue, loan.BookID, loan.StudentID, map[string]any{
				"loanId":   loan.ID,
				"daysLate": assessment.DaysLate,
				"fine":     assessment.Amount.String(),
				"fineId":   fine.ID,
			}); err != nil {
				return err
			}
		}

		reserved, err := s.releaseCopy(ctx, st, &book, now)
		if err != nil {
			return err
		}
		res.ReservedBy = reserved

		meta := map[string]any{
			"loanId": loan.ID,
			"fine":   assessment.Amount.String(),
		}
		if reserved != nil {
			meta["reservedFor"] = reserved.StudentID
			meta["reservationId"] = reserved.ID
		}
		return s.audit(ctx, st, actor, ActionReturn, loan.BookID, loan.StudentID, meta)
	})
	if err != nil {
		return ReturnResult{}, err
	}

	s.log.Info("book returned", "loan", res.Loan.ID, "fine", res.Loan.FineAmount.String(), "days_late", res.DaysLate)
	if res.ReservedBy != nil {
		s.notifyHold(ctx, *res.ReservedBy)
	}
	return res, nil
}

// releaseCopy gives back one copy of book. When the book has a waiting
// queue the copy goes to the head as a hold and the counter stays put;
// otherwise the counter drops by one.
func (s *Service) releaseCopy(ctx context.Context, st Store, book *Book, now time.Time) (*Reservation, error) {
	head, err := queueHead(ctx, st, book.ID)
	if err != nil {
		return nil, err
	}
	if head != nil {
		if err := s.fulfil(ctx, st, head, now); err != nil {
			return nil, err
		}
		return head, nil
	}
	if err := release(book); err != nil {
		return nil, err
	}
	book.UpdatedAt = now
	return nil, st.UpdateBook(ctx, *book)
}

// =============================================================================
// RENEW
// =============================================================================

// Renew pushes the due date of a loan out by days (zero means
// DefaultRenewDays).
func (s *Service) Renew(ctx context.Context, loanID string, days int, actor Actor) (Loan, error) {
	if days == 0 {
		days = s.opts.DefaultRenewDays
	}
	if days < 1 || days > maxLoanDays {
		return Loan{}, invalid("days", "must be between 1 and %d", maxLoanDays)
	}

	var loan Loan
	err := s.inTx(ctx, "renew", func(st Store) error {
		now := s.Now()
		var err error
		loan, err = st.GetLoan(ctx, loanID)
		if err != nil {
			return err
		}
		if loan.Status == LoanReturned {
			return conflict(CodeNotRenewable, "Loan %s is already returned", loan.ID)
		}
		// Overdue is checked before the renewal count: an
		// overdue loan must be returned whatever its history.
		if loan.Status == LoanOverdue || now.After(loan.DueDate) {
			return conflict(CodeRenewOverdue, "Loan %s is overdue and cannot be renewed", loan.ID)
		}
		if loan.RenewalCount >= s.opts.MaxRenewals {
			return conflict(CodeRenewalLimit, "Renewal limit of %d reached", s.opts.MaxRenewals)
		}

		loan.DueDate = loan.DueDate.AddDate(0, 0, days)
		loan.RenewalCount++
		loan.UpdatedAt = now
		if err := st.UpdateLoan(ctx, loan); err != nil {
			return err
		}
		return s.audit(ctx, st, actor, ActionRenew, loan.BookID, loan.StudentID, map[string]any{
			"loanId":       loan.ID,
			"newDueDate":   loan.DueDate.Format(time.RFC3339),
			"renewalCount": loan.RenewalCount,
			"days":         days,
		})
	})
	if err != nil {
		return Loan{}, err
	}
	return loan, nil
}

// =============================================================================
// RESERVE
// =============================================================================

// Reserve queues a student for a book that has no free copy.
func (s *Service) Reserve(ctx context.Context, bookID, studentID string, actor Actor) (Reservation, error) {
	if bookID == "" {
		return Reservation{}, invalid("bookId", "is required")
	}
	if studentID == "" {
		return Reservation{}, invalid("studentId", "is required")
	}

	var r Reservation
	err := s.inTx(ctx, "reserve", func(st Store) error {
		now := s.Now()
		book, err := st.GetBook(ctx, bookID)
		if err != nil {
			return err
		}
		if _, err := st.GetStudent(ctx, studentID); err != nil {
			return err
		}
		if free := book.TotalCopies - book.CheckedOutCount; free > 0 {
			return conflict(CodeAvailableNow, "Book %q has %d copies available; issue it instead of reserving", book.Title, free)
		}
		// Bump the version so concurrent reservations on this book conflict.
		if err := st.UpdateBook(ctx, book); err != nil {
			return err
		}

		active, err := st.ListReservations(ctx, ReservationFilter{BookID: bookID, Statuses: []ReservationStatus{ReservationActive}})
		if err != nil {
			return err
		}
		last := 0
		for _, a := range active {
			if a.StudentID == studentID {
				return conflict(CodeDuplicateReserve, "Student already holds queue position %d for this book", a.QueuePosition)
			}
			if a.QueuePosition > last {
				last = a.QueuePosition
			}
		}

		r = Reservation{
			ID:            s.newID(),
			BookID:        bookID,
			StudentID:     studentID,
			Status:        ReservationActive,
			QueuePosition: last + 1,
			ExpiryDate:    now.AddDate(0, 0, s.opts.ReservationDays),
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := st.CreateReservation(ctx, r); err != nil {
			return err
		}
		return s.audit(ctx, st, actor, ActionReserve, bookID, studentID, map[string]any{
			"reservationId": r.ID,
			"queuePosition": r.QueuePosition,
		})
	})
	if err != nil {
		return Reservation{}, err
	}
	return r, nil
}

// =============================================================================
// FULFIL / CANCEL
// =============================================================================

// FulfillReservation hands a free copy to an Active reservation out of
// queue order. Used by staff when stock is added.
func (s *Service) FulfillReservation(ctx context.Context, id string, actor Actor) (Reservation, error) {
	var r Reservation
	err := s.inTx(ctx, "fulfill", func(st Store) error {
		now := s.Now()
		var err error
		r, err = st.GetReservation(ctx, id)
		if err != nil {
			return err
		}
		if r.Status != ReservationActive {
			return conflict(CodeReservationState, "Reservation %s is %s, not Active", r.ID, r.Status)
		}
		book, err := st.GetBook(ctx, r.BookID)
		if err != nil {
			return err
		}
		if err := checkout(&book); err != nil {
			return err
		}
		book.UpdatedAt = now
		if err := st.UpdateBook(ctx, book); err != nil {
			return err
		}
		if err := s.fulfil(ctx, st, &r, now); err != nil {
			return err
		}
		return s.audit(ctx, st, actor, ActionUpdate, r.BookID, r.StudentID, map[string]any{
			"event":         "reservation_fulfilled",
			"reservationId": r.ID,
		})
	})
	if err != nil {
		return Reservation{}, err
	}
	s.notifyHold(ctx, r)
	return r, nil
}

// CancelReservation withdraws an Active reservation or an unclaimed hold.
func (s *Service) CancelReservation(ctx context.Context, id string, actor Actor) (Reservation, error) {
	var (
		r    Reservation
		next *Reservation
	)
	err := s.inTx(ctx, "cancel", func(st Store) error {
		next = nil
		now := s.Now()
		var err error
		r, err = st.GetReservation(ctx, id)
		if err != nil {
			return err
		}
		next, err = s.retire(ctx, st, &r, ReservationCancelled, now)
		if err != nil {
			return err
		}
		return s.audit(ctx, st, actor, ActionUpdate, r.BookID, r.StudentID, map[string]any{
			"event":         "reservation_cancelled",
			"reservationId": r.ID,
		})
	})
	if err != nil {
		return Reservation{}, err
	}
	if next != nil {
		s.notifyHold(ctx, *next)
	}
	return r, nil
}

// retire moves an Active reservation or a hold to a final status. A retired
// hold releases its copy, which may fulfil the next reservation in line.
func (s *Service) retire(ctx context.Context, st Store, r *Reservation, to ReservationStatus, now time.Time) (*Reservation, error) {
	switch {
	case r.Status == ReservationActive:
		if err := claimBook(ctx, st, r.BookID); err != nil {
			return nil, err
		}
		pos := r.QueuePosition
		r.Status = to
		r.UpdatedAt = now
		if err := st.UpdateReservation(ctx, *r); err != nil {
			return nil, err
		}
		return nil, compact(ctx, st, r.BookID, pos, now)
	case r.IsHold():
		r.Status = to
		r.UpdatedAt = now
		if err := st.UpdateReservation(ctx, *r); err != nil {
			return nil, err
		}
		book, err := st.GetBook(ctx, r.BookID)
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return s.releaseCopy(ctx, st, &book, now)
	default:
		return nil, conflict(CodeReservationState, "Reservation %s is %s and cannot be changed", r.ID, r.Status)
	}
}

// fulfil marks r Fulfilled and closes the gap it leaves in the queue.
func (s *Service) fulfil(ctx context.Context, st Store, r *Reservation, now time.Time) error {
	pos := r.QueuePosition
	r.Status = ReservationFulfilled
	r.FulfilledAt = &now
	r.ExpiryDate = now.AddDate(0, 0, s.opts.HoldDays)
	r.UpdatedAt = now
	if err := st.UpdateReservation(ctx, *r); err != nil {
		return err
	}
	return compact(ctx, st, r.BookID, pos, now)
}

// claimBook writes the book row back unchanged. A unit that reorders a
// queue without touching counters must still bump the version, otherwise
// two such units on one book can interleave on a backend without
// serializable transactions. A missing book is left to the integrity
// checker.
func claimBook(ctx context.Context, st Store, bookID string) error {
	book, err := st.GetBook(ctx, bookID)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return st.UpdateBook(ctx, book)
}

// compact moves every Active reservation behind removed up by one.
func compact(ctx context.Context, st Store, bookID string, removed int, now time.Time) error {
	active, err := st.ListReservations(ctx, ReservationFilter{BookID: bookID, Statuses: []ReservationStatus{ReservationActive}})
	if err != nil {
		return err
	}
	for _, a := range active {
		if a.QueuePosition <= removed {
			continue
		}
		a.QueuePosition--
		a.UpdatedAt = now
		if err := st.UpdateReservation(ctx, a); err != nil {
			return fmt.Errorf("compact queue of book %s: %w", bookID, err)
		}
	}
	return nil
}

func queueHead(ctx context.Context, st Store, bookID string) (*Reservation, error) {
	active, err := st.ListReservations(ctx, ReservationFilter{
		BookID:   bookID,
		Statuses: []ReservationStatus{ReservationActive},
		Page:     Page{Limit: 1},
	})
	if err != nil || len(active) == 0 {
		return nil, err
	}
	return &active[0], nil
}

func findHold(ctx context.Context, st Store, bookID, studentID string) (*Reservation, error) {
	fulfilled, err := st.ListReservations(ctx, ReservationFilter{
		BookID:    bookID,
		StudentID: studentID,
		Statuses:  []ReservationStatus{ReservationFulfilled},
	})
	if err != nil {
		return nil, err
	}
	for i := range fulfilled {
		if fulfilled[i].IsHold() {
			return &fulfilled[i], nil
		}
	}
	return nil, nil
}
