package library

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// =============================================================================
// CONSISTENCY AUDIT
// =============================================================================

// Issue is a record that breaks a field-level invariant.
type Issue struct {
	Kind    EntityKind `json:"kind"`
	ID      string     `json:"id"`
	Problem string     `json:"problem"`
}

// CheckConsistency verifies the per-record invariants: book counters,
// loan status/returnedAt pairing, reservation queue density, and fine
// paid dates. It never writes.
func (s *Service) CheckConsistency(ctx context.Context) ([]Issue, error) {
	issues := []Issue{}
	add := func(kind EntityKind, id, format string, args ...any) {
		issues = append(issues, Issue{Kind: kind, ID: id, Problem: fmt.Sprintf(format, args...)})
	}
	now := s.Now()

	books, err := s.store.ListBooks(ctx, BookFilter{})
	if err != nil {
		return nil, err
	}
	for _, b := range books {
		if b.CheckedOutCount < 0 || b.CheckedOutCount > b.TotalCopies {
			add(KindBook, b.ID, "checkedOutCount %d outside [0, %d]", b.CheckedOutCount, b.TotalCopies)
		}
		if b.AvailableCopies != b.TotalCopies-b.CheckedOutCount {
			add(KindBook, b.ID, "availableCopies %d but counters give %d", b.AvailableCopies, b.TotalCopies-b.CheckedOutCount)
		}
		if want := derivedStatus(b); b.Status != want {
			add(KindBook, b.ID, "status %q but counters give %q", b.Status, want)
		}
		expected, err := expectedCheckedOut(ctx, s.store, b.ID)
		if err != nil {
			return nil, err
		}
		if expected != b.CheckedOutCount {
			add(KindBook, b.ID, "checkedOutCount %d but %d copies are on loan or held", b.CheckedOutCount, expected)
		}
	}

	loans, err := s.store.ListLoans(ctx, LoanFilter{})
	if err != nil {
		return nil, err
	}
	for _, l := range loans {
		if (l.Status == LoanReturned) != (l.ReturnedAt != nil) {
			add(KindLoan, l.ID, "status %s does not match returnedAt", l.Status)
		}
		if l.DueDate.Before(l.IssuedAt) {
			add(KindLoan, l.ID, "dueDate before issuedAt")
		}
		if l.RenewalCount > s.opts.MaxRenewals {
			add(KindLoan, l.ID, "renewalCount %d above limit %d", l.RenewalCount, s.opts.MaxRenewals)
		}
		if l.FineAmount.IsNegative() {
			add(KindLoan, l.ID, "negative fineAmount %s", l.FineAmount)
		}
		if l.Status == LoanBorrowed && now.After(l.DueDate) {
			add(KindLoan, l.ID, "past due but not flagged OVERDUE")
		}
	}

	reservations, err := s.store.ListReservations(ctx, ReservationFilter{})
	if err != nil {
		return nil, err
	}
	queues := map[string][]int{}
	for _, r := range reservations {
		if r.Status == ReservationActive {
			queues[r.BookID] = append(queues[r.BookID], r.QueuePosition)
		}
		if r.Status == ReservationFulfilled && r.FulfilledAt == nil {
			add(KindReservation, r.ID, "fulfilled without fulfilledAt")
		}
		if r.QueuePosition < 1 {
			add(KindReservation, r.ID, "queuePosition %d below 1", r.QueuePosition)
		}
	}
	bookIDs := make([]string, 0, len(queues))
	for id := range queues {
		bookIDs = append(bookIDs, id)
	}
	sort.Strings(bookIDs)
	for _, id := range bookIDs {
		positions := queues[id]
		sort.Ints(positions)
		for i, p := range positions {
			if p != i+1 {
				add(KindBook, id, "reservation queue not dense: positions %v", positions)
				break
			}
		}
	}

	fines, err := s.store.ListFines(ctx, FineFilter{})
	if err != nil {
		return nil, err
	}
	for _, f := range fines {
		if (f.Status == FinePaid) != (f.PaidDate != nil) {
			add(KindFine, f.ID, "status %s does not match paidDate", f.Status)
		}
		if !f.Amount.IsPositive() {
			add(KindFine, f.ID, "amount %s is not positive", f.Amount)
		}
		if len(f.Reason) < 5 {
			add(KindFine, f.ID, "reason %q is too short", f.Reason)
		}
	}
	return issues, nil
}

func derivedStatus(b Book) BookStatus {
	if b.TotalCopies-b.CheckedOutCount > 0 {
		return BookAvailable
	}
	return BookOutOfStock
}

// =============================================================================
// VALIDATION & HEALTH
// =============================================================================

// ValidationReport combines the integrity scan and the consistency audit.
type ValidationReport struct {
	Integrity IntegrityReport `json:"integrity"`
	Issues    []Issue         `json:"issues"`
	OK        bool            `json:"ok"`
}

// Validate runs every read-only check.
func (s *Service) Validate(ctx context.Context) (ValidationReport, error) {
	rep, err := s.Checker().Scan(ctx)
	if err != nil {
		return ValidationReport{}, err
	}
	issues, err := s.CheckConsistency(ctx)
	if err != nil {
		return ValidationReport{}, err
	}
	return ValidationReport{
		Integrity: rep,
		Issues:    issues,
		OK:        rep.Clean() && len(issues) == 0,
	}, nil
}

// HealthReport is a one-page summary of the data set.
type HealthReport struct {
	GeneratedAt  time.Time          `json:"generatedAt"`
	Counts       map[EntityKind]int `json:"counts"`
	TotalRecords int                `json:"totalRecords"`
	Orphans      int                `json:"orphans"`
	Dangling     int                `json:"dangling"`
	Retained     int                `json:"retained"`
	Issues       int                `json:"issues"`
	Score        float64            `json:"score"`
	Status       string             `json:"status"`
}

// Health status thresholds.
const (
	HealthHealthy  = "healthy"
	HealthDegraded = "degraded"
	HealthCritical = "critical"
)

// HealthReport counts every collection and scores the share of orphaned
// records: score = max(0, 100 - orphans/total*100).
func (s *Service) HealthReport(ctx context.Context) (HealthReport, error) {
	h := HealthReport{GeneratedAt: s.Now(), Counts: map[EntityKind]int{}}
	for _, k := range AllKinds {
		n, err := s.store.Count(ctx, k)
		if err != nil {
			return HealthReport{}, fmt.Errorf("count %s: %w", k, err)
		}
		h.Counts[k] = n
		h.TotalRecords += n
	}

	v, err := s.Validate(ctx)
	if err != nil {
		return HealthReport{}, err
	}
	h.Orphans = v.Integrity.OrphanCount()
	h.Dangling = v.Integrity.DanglingCount()
	h.Retained = v.Integrity.RetainedCount()
	h.Issues = len(v.Issues)

	h.Score = 100
	if h.TotalRecords > 0 {
		h.Score = 100 - float64(h.Orphans)/float64(h.TotalRecords)*100
		if h.Score < 0 {
			h.Score = 0
		}
	}
	switch {
	case h.Orphans == 0 && h.Issues == 0:
		h.Status = HealthHealthy
	case h.Score >= 90:
		h.Status = HealthDegraded
	default:
		h.Status = HealthCritical
	}
	return h, nil
}
