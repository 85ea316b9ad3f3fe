package library

import (
	"context"
	"fmt"
	"time"
)

// =============================================================================
// OVERDUE SWEEP
// =============================================================================

// SweepResult summarizes one background pass.
type SweepResult struct {
	Checked  int `json:"checked"`
	Changed  int `json:"changed"`
	Failures int `json:"failures"`
}

// SweepOverdue flags every BORROWED loan past its due date as OVERDUE.
// Each loan is its own unit of work; one failure does not stop the batch.
func (s *Service) SweepOverdue(ctx context.Context) (SweepResult, error) {
	now := s.Now()
	loans, err := s.store.ListLoans(ctx, LoanFilter{
		Statuses:  []LoanStatus{LoanBorrowed},
		DueBefore: &now,
	})
	if err != nil {
		return SweepResult{}, err
	}

	var res SweepResult
	for _, candidate := range loans {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.Checked++
		changed := false
		err := s.inTx(ctx, "sweep-overdue", func(st Store) error {
			changed = false
			loan, err := st.GetLoan(ctx, candidate.ID)
			if err != nil {
				return err
			}
			at := s.Now()
			if loan.Status != LoanBorrowed || !at.After(loan.DueDate) {
				return nil
			}
			loan.Status = LoanOverdue
			loan.UpdatedAt = at
			if err := st.UpdateLoan(ctx, loan); err != nil {
				return err
			}
			changed = true
			return s.audit(ctx, st, System, ActionOverdue, loan.BookID, loan.StudentID, map[string]any{
				"loanId":   loan.ID,
				"dueDate":  loan.DueDate.Format(time.RFC3339),
				"daysLate": s.opts.Fines.Assess(loan.DueDate, at).DaysLate,
			})
		})
		if err != nil {
			res.Failures++
			s.log.Error("overdue sweep failed for loan", "loan", candidate.ID, "error", err)
			continue
		}
		if changed {
			res.Changed++
		}
	}

	if res.Changed > 0 || res.Failures > 0 {
		s.log.Info("overdue sweep finished", "checked", res.Checked, "flagged", res.Changed, "failures", res.Failures)
	}
	return res, nil
}

// =============================================================================
// RESERVATION EXPIRY
// =============================================================================

// ExpireReservations retires Active reservations past their expiry date and
// holds past their pickup deadline. An expired hold passes its copy on.
func (s *Service) ExpireReservations(ctx context.Context) (SweepResult, error) {
	candidates, err := s.store.ListReservations(ctx, ReservationFilter{
		Statuses: []ReservationStatus{ReservationActive, ReservationFulfilled},
	})
	if err != nil {
		return SweepResult{}, err
	}

	now := s.Now()
	var res SweepResult
	for _, candidate := range candidates {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if !now.After(candidate.ExpiryDate) || (candidate.Status == ReservationFulfilled && !candidate.IsHold()) {
			continue
		}
		res.Checked++
		var next *Reservation
		changed := false
		err := s.inTx(ctx, "expire-reservation", func(st Store) error {
			next, changed = nil, false
			r, err := st.GetReservation(ctx, candidate.ID)
			if err != nil {
				return err
			}
			at := s.Now()
			if !at.After(r.ExpiryDate) || (r.Status != ReservationActive && !r.IsHold()) {
				return nil
			}
			wasHold := r.IsHold()
			next, err = s.retire(ctx, st, &r, ReservationExpired, at)
			if err != nil {
				return err
			}
			changed = true
			return s.audit(ctx, st, System, ActionUpdate, r.BookID, r.StudentID, map[string]any{
				"event":         "reservation_expired",
				"reservationId": r.ID,
				"hold":          wasHold,
			})
		})
		if err != nil {
			res.Failures++
			s.log.Error("reservation expiry failed", "reservation", candidate.ID, "error", err)
			continue
		}
		if changed {
			res.Changed++
		}
		if next != nil {
			s.notifyHold(ctx, *next)
		}
	}
	return res, nil
}

// =============================================================================
// REMINDERS
// =============================================================================

// ReminderKind names one reminder window.
type ReminderKind string

const (
	ReminderWeekBefore   ReminderKind = "due_in_7_days"
	ReminderTwoDays      ReminderKind = "due_in_2_days"
	ReminderDueToday     ReminderKind = "due_today"
	ReminderOneDayLate   ReminderKind = "overdue_1_day"
	ReminderOneWeekLate  ReminderKind = "overdue_7_days"
	ReminderHoldReady    ReminderKind = "hold_ready"
	ReminderAnnouncement ReminderKind = "announcement"
)

// reminderWindows maps "days until due" to a reminder kind.
var reminderWindows = map[int]ReminderKind{
	7:  ReminderWeekBefore,
	2:  ReminderTwoDays,
	0:  ReminderDueToday,
	-1: ReminderOneDayLate,
	-7: ReminderOneWeekLate,
}

// ReminderResult summarizes a reminder pass.
type ReminderResult struct {
	Considered int `json:"considered"`
	Sent       int `json:"sent"`
	Failed     int `json:"failed"`
	Skipped    int `json:"skipped"`
}

// SendReminders emails every student whose open loan hits a reminder
// window today. Delivery failures are recorded and logged, never returned.
func (s *Service) SendReminders(ctx context.Context) (ReminderResult, error) {
	loans, err := s.store.ListLoans(ctx, LoanFilter{Statuses: OpenLoanStatuses})
	if err != nil {
		return ReminderResult{}, err
	}
	today := startOfDay(s.Now())

	var res ReminderResult
	for _, loan := range loans {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		daysLeft := int(startOfDay(loan.DueDate).Sub(today).Hours() / 24)
		kind, ok := reminderWindows[daysLeft]
		if !ok {
			continue
		}
		res.Considered++

		student, err := s.store.GetStudent(ctx, loan.StudentID)
		if err != nil || student.Email == "" {
			res.Skipped++
			s.log.Warn("reminder skipped, no reachable student", "loan", loan.ID, "student", loan.StudentID, "error", err)
			continue
		}
		title := loan.BookID
		if book, err := s.store.GetBook(ctx, loan.BookID); err == nil {
			title = book.Title
		}

		subject, body := reminderText(kind, student.Name, title, loan.DueDate)
		switch s.deliver(ctx, kind, student, loan.BookID, subject, body, map[string]any{"loanId": loan.ID}) {
		case deliverySent:
			res.Sent++
		case deliveryFailed:
			res.Failed++
		default:
			res.Skipped++
		}
	}

	s.log.Info("reminder pass finished", "considered", res.Considered, "sent", res.Sent, "failed", res.Failed)
	return res, nil
}

// notifyHold tells a student their reservation is ready for pickup. Runs
// after the unit of work committed; failures are only logged.
func (s *Service) notifyHold(ctx context.Context, r Reservation) {
	student, err := s.store.GetStudent(ctx, r.StudentID)
	if err != nil || student.Email == "" {
		s.log.Warn("hold notification skipped", "reservation", r.ID, "error", err)
		return
	}
	title := r.BookID
	if book, err := s.store.GetBook(ctx, r.BookID); err == nil {
		title = book.Title
	}
	subject, body := reminderText(ReminderHoldReady, student.Name, title, r.ExpiryDate)
	s.deliver(ctx, ReminderHoldReady, student, r.BookID, subject, body, map[string]any{"reservationId": r.ID})
}

const (
	deliverySent    = "sent"
	deliveryFailed  = "failed"
	deliverySkipped = "skipped"
)

// deliver sends one email and records an EMAIL_SENT audit entry with the
// outcome, which it also returns.
func (s *Service) deliver(ctx context.Context, kind ReminderKind, student Student, bookID, subject, body string, meta map[string]any) string {
	status := deliverySent
	var sendErr error
	if s.notifier == nil {
		status = deliverySkipped
	} else if sendErr = s.notifier.SendReminder(ctx, student.Email, subject, body); sendErr != nil {
		status = deliveryFailed
		s.log.Error("reminder delivery failed", "kind", kind, "student", student.ID, "error", sendErr)
	}

	meta["type"] = string(kind)
	meta["status"] = status
	meta["email"] = student.Email
	if sendErr != nil {
		meta["error"] = sendErr.Error()
	}
	if err := s.audit(ctx, s.store, System, ActionEmailSent, bookID, student.ID, meta); err != nil {
		s.log.Error("could not record email audit entry", "student", student.ID, "error", err)
	}
	return status
}

func reminderText(kind ReminderKind, name, title string, date time.Time) (string, string) {
	day := date.Format("Monday, 2 January 2006")
	switch kind {
	case ReminderWeekBefore:
		return "Library reminder: due in one week",
			fmt.Sprintf("Hello %s,\n\n%q is due back on %s.\n", name, title, day)
	case ReminderTwoDays:
		return "Library reminder: due in two days",
			fmt.Sprintf("Hello %s,\n\n%q is due back on %s. You can renew it at the desk if nobody is waiting.\n", name, title, day)
	case ReminderDueToday:
		return "Library reminder: due today",
			fmt.Sprintf("Hello %s,\n\n%q is due back today.\n", name, title)
	case ReminderOneDayLate:
		return "Overdue notice",
			fmt.Sprintf("Hello %s,\n\n%q was due on %s. Fines accrue for every day late.\n", name, title, day)
	case ReminderOneWeekLate:
		return "Overdue notice: one week late",
			fmt.Sprintf("Hello %s,\n\n%q is one week overdue (due %s). Please return it as soon as possible.\n", name, title, day)
	default:
		return "Your reservation is ready",
			fmt.Sprintf("Hello %s,\n\n%q is waiting for you at the desk. Please collect it before %s.\n", name, title, day)
	}
}

func startOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func endOfDay(t time.Time) time.Time {
	return startOfDay(t).Add(24*time.Hour - time.Nanosecond)
}
