package library

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// reportWindow is the look-back of the weekly report.
const reportWindow = 7 * 24 * time.Hour

// WeeklyReport summarizes the last seven days for the desk.
type WeeklyReport struct {
	GeneratedAt  time.Time `json:"generatedAt"`
	Since        time.Time `json:"since"`
	NewStudents  int       `json:"newStudents"`
	NewBooks     int       `json:"newBooks"`
	ActiveLoans  int       `json:"activeLoans"`
	OverdueLoans int       `json:"overdueLoans"`
}

// WeeklyReport counts students and books added in the last seven days and
// the loans currently open and overdue.
func (s *Service) WeeklyReport(ctx context.Context) (WeeklyReport, error) {
	now := s.Now()
	r := WeeklyReport{GeneratedAt: now, Since: now.Add(-reportWindow)}

	for offset := 0; ; offset += scanBatch {
		students, err := s.store.ListStudents(ctx, StudentFilter{Page: Page{Limit: scanBatch, Offset: offset}})
		if err != nil {
			return r, fmt.Errorf("list students: %w", err)
		}
		for _, st := range students {
			if !st.CreatedAt.Before(r.Since) {
				r.NewStudents++
			}
		}
		if len(students) < scanBatch {
			break
		}
	}
	for offset := 0; ; offset += scanBatch {
		books, err := s.store.ListBooks(ctx, BookFilter{Page: Page{Limit: scanBatch, Offset: offset}})
		if err != nil {
			return r, fmt.Errorf("list books: %w", err)
		}
		for _, b := range books {
			if !b.AddedDate.Before(r.Since) {
				r.NewBooks++
			}
		}
		if len(books) < scanBatch {
			break
		}
	}

	var err error
	if r.ActiveLoans, err = s.store.CountLoans(ctx, LoanFilter{Statuses: OpenLoanStatuses}); err != nil {
		return r, err
	}
	overdue, err := s.overdueLoans(ctx)
	if err != nil {
		return r, err
	}
	r.OverdueLoans = len(overdue)
	return r, nil
}

// =============================================================================
// BROADCAST
// =============================================================================

const (
	defaultAnnouncementSubject = "Important announcement from the library"
	defaultAnnouncementBody    = "Please check your dashboard for new updates."
)

// BroadcastResult counts the outcome of one announcement. Total is the
// number of Active students with an email address.
type BroadcastResult struct {
	Total   int `json:"total"`
	Sent    int `json:"sent"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
}

// Broadcast mails an announcement to every Active student. Each delivery
// is recorded in the audit log like a reminder; one failed address never
// stops the rest.
func (s *Service) Broadcast(ctx context.Context, subject, message string, actor Actor) (BroadcastResult, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		subject = defaultAnnouncementSubject
	}
	message = strings.TrimSpace(message)
	if message == "" {
		message = defaultAnnouncementBody
	}

	var res BroadcastResult
	for offset := 0; ; offset += scanBatch {
		students, err := s.store.ListStudents(ctx, StudentFilter{
			Status: StudentActive,
			Page:   Page{Limit: scanBatch, Offset: offset},
		})
		if err != nil {
			return res, fmt.Errorf("list students: %w", err)
		}
		for _, st := range students {
			if err := ctx.Err(); err != nil {
				return res, err
			}
			if st.Email == "" {
				continue
			}
			res.Total++
			body := fmt.Sprintf("Dear %s,\n\n%s\n\nRegards,\nThe Library\n", st.Name, message)
			meta := map[string]any{"subject": subject, "requestedBy": actor.ID}
			switch s.deliver(ctx, ReminderAnnouncement, st, "", subject, body, meta) {
			case deliverySent:
				res.Sent++
			case deliveryFailed:
				res.Failed++
			default:
				res.Skipped++
			}
		}
		if len(students) < scanBatch {
			break
		}
	}

	s.log.Info("announcement sent", "total", res.Total, "sent", res.Sent, "failed", res.Failed, "by", actor.ID)
	return res, nil
}
