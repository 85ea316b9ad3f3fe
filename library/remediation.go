/*
remediation.go - Orphan cleanup and counter reconciliation

PURPOSE:
  Turns an integrity report into action. Cleanup deletes deletable orphans
  and then ALWAYS reconciles book counters in the same run, because
  deleting an orphaned loan leaves its book's CheckedOutCount too high.

CLEANUP MODES:
  Dry run (default): scan and report, nothing is written.
  Execute:           delete every deletable orphan, one unit of work per
                     record, then reconcile.

BATCH RULES:
  - One bad record never aborts the batch. Failures are collected.
  - A record that is already gone counts as done, so a re-run after an
    interrupted run picks up exactly the remaining orphans.
  - Context cancellation is checked between records.
  - Nothing cascades. A book is never deleted because an orphaned loan
    pointed at it.

RECONCILIATION:
  expected(book) = open loans (BORROWED + OVERDUE) + unclaimed holds
  If expected differs from CheckedOutCount, the counter is overwritten
  through the inventory rule. If expected exceeds TotalCopies the book is
  reported as unresolvable and left alone for a human.

  The same pass renumbers each book's Active reservations to 1..n in their
  current order. Deleting an orphaned reservation leaves a gap that the
  workflow would otherwise never close.

SEE ALSO:
  - integrity.go: Produces the report
  - inventory.go: ApplyInventory
*/
package library

import (
	"context"
	"errors"
	"fmt"
)

// CleanupOptions selects the cleanup mode.
type CleanupOptions struct {
	Execute bool
}

// RecordFailure is a per-record error that did not stop the batch.
type RecordFailure struct {
	Kind  EntityKind `json:"kind"`
	ID    string     `json:"id"`
	Error string     `json:"error"`
}

// CleanupResult reports what Cleanup found and did.
type CleanupResult struct {
	DryRun      bool                    `json:"dryRun"`
	Report      IntegrityReport         `json:"report"`
	Deleted     map[EntityKind][]string `json:"deleted"`
	AlreadyGone int                     `json:"alreadyGone"`
	Retained    []Finding               `json:"retained"`
	Failures    []RecordFailure         `json:"failures"`
	Reconcile   *ReconcileResult        `json:"reconcile,omitempty"`
}

// DeletedCount is the number of records removed.
func (r CleanupResult) DeletedCount() int {
	n := 0
	for _, ids := range r.Deleted {
		n += len(ids)
	}
	return n
}

// Cleanup scans for orphans and, in execute mode, removes the deletable
// ones and reconciles book counters.
func (s *Service) Cleanup(ctx context.Context, opts CleanupOptions) (CleanupResult, error) {
	rep, err := s.Checker().Scan(ctx)
	if err != nil {
		return CleanupResult{}, err
	}
	res := CleanupResult{
		DryRun:   !opts.Execute,
		Report:   rep,
		Deleted:  map[EntityKind][]string{},
		Retained: append([]Finding{}, rep.Retained...),
		Failures: []RecordFailure{},
	}

	if !opts.Execute {
		s.log.Info("orphan cleanup dry run", "orphans", rep.OrphanCount(), "deletable", len(rep.Deletable()))
		return res, nil
	}

	for _, f := range rep.Deletable() {
		if err := ctx.Err(); err != nil {
			s.log.Warn("orphan cleanup interrupted", "deleted", res.DeletedCount(), "error", err)
			return res, err
		}
		err := s.inTx(ctx, "delete-orphan", func(tx Store) error {
			if err := deleteRecord(ctx, tx, f.Kind, f.ID); err != nil {
				return err
			}
			return s.audit(ctx, tx, System, ActionDelete, "", "", map[string]any{
				"event":  "orphan_removed",
				"entity": string(f.Kind),
				"id":     f.ID,
				"reason": f.Reason,
			})
		})
		switch {
		case err == nil:
			res.Deleted[f.Kind] = append(res.Deleted[f.Kind], f.ID)
			s.log.Info("orphan deleted", "kind", f.Kind, "id", f.ID, "reason", f.Reason)
		case errors.Is(err, ErrNotFound):
			res.AlreadyGone++
		default:
			res.Failures = append(res.Failures, RecordFailure{Kind: f.Kind, ID: f.ID, Error: err.Error()})
			s.log.Error("orphan delete failed", "kind", f.Kind, "id", f.ID, "error", err)
		}
	}

	rec, err := s.Reconcile(ctx, false)
	if err != nil {
		return res, fmt.Errorf("reconcile after cleanup: %w", err)
	}
	res.Reconcile = &rec
	return res, nil
}

func deleteRecord(ctx context.Context, st Store, kind EntityKind, id string) error {
	switch kind {
	case KindLoan:
		return st.DeleteLoan(ctx, id)
	case KindReservation:
		return st.DeleteReservation(ctx, id)
	case KindFine:
		return st.DeleteFine(ctx, id)
	default:
		return &ImmutableError{Kind: kind}
	}
}

// =============================================================================
// RECONCILIATION
// =============================================================================

// CounterCorrection describes one book whose counter was (or would be)
// rewritten.
type CounterCorrection struct {
	BookID string `json:"bookId"`
	Title  string `json:"title"`
	Before int    `json:"before"`
	After  int    `json:"after"`
	Total  int    `json:"totalCopies"`
	Reason string `json:"reason,omitempty"`
}

// QueueCorrection describes one book whose reservation queue was (or
// would be) renumbered.
type QueueCorrection struct {
	BookID string `json:"bookId"`
	Before []int  `json:"before"`
	After  []int  `json:"after"`
}

// ReconcileResult reports a reconciliation pass.
type ReconcileResult struct {
	DryRun       bool                `json:"dryRun"`
	Checked      int                 `json:"checked"`
	Corrections  []CounterCorrection `json:"corrections"`
	Unresolvable []CounterCorrection `json:"unresolvable"`
	Queues       []QueueCorrection   `json:"queues"`
	Failures     []RecordFailure     `json:"failures"`
}

// Reconcile recounts every book's checked-out copies from the loans and
// holds that reference it and repairs counters that disagree.
func (s *Service) Reconcile(ctx context.Context, dryRun bool) (ReconcileResult, error) {
	res := ReconcileResult{
		DryRun:       dryRun,
		Corrections:  []CounterCorrection{},
		Unresolvable: []CounterCorrection{},
		Queues:       []QueueCorrection{},
		Failures:     []RecordFailure{},
	}
	for offset := 0; ; offset += scanBatch {
		books, err := s.store.ListBooks(ctx, BookFilter{Page: Page{Limit: scanBatch, Offset: offset}})
		if err != nil {
			return res, err
		}
		for _, b := range books {
			if err := ctx.Err(); err != nil {
				return res, err
			}
			res.Checked++
			if err := s.reconcileBook(ctx, b.ID, dryRun, &res); err != nil {
				res.Failures = append(res.Failures, RecordFailure{Kind: KindBook, ID: b.ID, Error: err.Error()})
				s.log.Error("counter reconciliation failed", "book", b.ID, "error", err)
			}
		}
		if len(books) < scanBatch {
			break
		}
	}
	if len(res.Corrections) > 0 || len(res.Unresolvable) > 0 || len(res.Queues) > 0 {
		s.log.Info("counter reconciliation finished", "dry_run", dryRun, "checked", res.Checked,
			"corrected", len(res.Corrections), "unresolvable", len(res.Unresolvable), "queues", len(res.Queues))
	}
	return res, nil
}

func (s *Service) reconcileBook(ctx context.Context, bookID string, dryRun bool, res *ReconcileResult) error {
	var (
		fix   *CounterCorrection
		stuck *CounterCorrection
		queue *QueueCorrection
	)
	err := s.inTx(ctx, "reconcile-book", func(tx Store) error {
		fix, stuck = nil, nil
		var err error
		// Renumbering claims the book row, so it runs before the book is read.
		if queue, err = s.renumberQueue(ctx, tx, bookID, dryRun); err != nil {
			return err
		}
		b, err := tx.GetBook(ctx, bookID)
		if err != nil {
			return err
		}
		expected, err := expectedCheckedOut(ctx, tx, bookID)
		if err != nil {
			return err
		}
		c := CounterCorrection{BookID: b.ID, Title: b.Title, Before: b.CheckedOutCount, After: expected, Total: b.TotalCopies}
		if expected > b.TotalCopies {
			c.Reason = fmt.Sprintf("%d copies in use but only %d exist", expected, b.TotalCopies)
			stuck = &c
			return nil
		}

		derived := b
		derived.CheckedOutCount = expected
		if err := ApplyInventory(&derived); err != nil {
			return err
		}
		if derived.CheckedOutCount == b.CheckedOutCount &&
			derived.AvailableCopies == b.AvailableCopies &&
			derived.Status == b.Status {
			return nil
		}
		if b.CheckedOutCount == expected {
			c.Reason = "derived fields out of date"
		}
		fix = &c
		if dryRun {
			return nil
		}
		derived.UpdatedAt = s.Now()
		if err := tx.UpdateBook(ctx, derived); err != nil {
			return err
		}
		return s.audit(ctx, tx, System, ActionUpdate, b.ID, "", map[string]any{
			"event":  "counter_reconciled",
			"before": b.CheckedOutCount,
			"after":  expected,
		})
	})
	if err != nil {
		return err
	}
	if fix != nil {
		res.Corrections = append(res.Corrections, *fix)
		if !dryRun {
			s.log.Info("book counter corrected", "book", fix.BookID, "before", fix.Before, "after", fix.After)
		}
	}
	if queue != nil {
		res.Queues = append(res.Queues, *queue)
		if !dryRun {
			s.log.Info("reservation queue renumbered", "book", queue.BookID, "before", queue.Before, "after", queue.After)
		}
	}
	if stuck != nil {
		res.Unresolvable = append(res.Unresolvable, *stuck)
		s.log.Error("book counter cannot be reconciled, manual reconciliation required",
			"book", stuck.BookID, "in_use", stuck.After, "total", stuck.Total)
	}
	return nil
}

// renumberQueue closes gaps and duplicates in a book's Active queue,
// keeping the current order. It returns nil when the queue is already 1..n.
func (s *Service) renumberQueue(ctx context.Context, st Store, bookID string, dryRun bool) (*QueueCorrection, error) {
	active, err := st.ListReservations(ctx, ReservationFilter{
		BookID:   bookID,
		Statuses: []ReservationStatus{ReservationActive},
	})
	if err != nil {
		return nil, err
	}
	c := QueueCorrection{BookID: bookID, Before: make([]int, len(active)), After: make([]int, len(active))}
	dense := true
	for i, r := range active {
		c.Before[i], c.After[i] = r.QueuePosition, i+1
		dense = dense && r.QueuePosition == i+1
	}
	if dense {
		return nil, nil
	}
	if dryRun {
		return &c, nil
	}

	if err := claimBook(ctx, st, bookID); err != nil {
		return nil, err
	}
	now := s.Now()
	for i, r := range active {
		if r.QueuePosition == i+1 {
			continue
		}
		r.QueuePosition = i + 1
		r.UpdatedAt = now
		if err := st.UpdateReservation(ctx, r); err != nil {
			return nil, fmt.Errorf("renumber reservation %s: %w", r.ID, err)
		}
	}
	return &c, s.audit(ctx, st, System, ActionUpdate, bookID, "", map[string]any{
		"event":  "queue_renumbered",
		"before": c.Before,
		"after":  c.After,
	})
}

// expectedCheckedOut counts the copies of a book that are really in use.
func expectedCheckedOut(ctx context.Context, st Store, bookID string) (int, error) {
	open, err := st.CountLoans(ctx, LoanFilter{BookID: bookID, Statuses: OpenLoanStatuses})
	if err != nil {
		return 0, err
	}
	fulfilled, err := st.ListReservations(ctx, ReservationFilter{
		BookID:   bookID,
		Statuses: []ReservationStatus{ReservationFulfilled},
	})
	if err != nil {
		return 0, err
	}
	holds := 0
	for _, r := range fulfilled {
		if r.IsHold() {
			holds++
		}
	}
	return open + holds, nil
}
