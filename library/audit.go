/*
audit.go - Append-only audit ledger

PURPOSE:
  Read and append access to the audit log. Entries are written by the
  workflow itself (see Service.audit) and by Record for external events.

APPEND-ONLY CONTRACT:
  Record is the only mutation. Update and Delete exist so callers have
  something to call, and they ALWAYS fail with ImmutableError, whatever
  the caller's role and whether or not the entry exists. Nothing reaches
  the store.

TIME RANGES:
  From and To are inclusive. A date-only upper bound ("2025-03-10") means
  the end of that day, so a query for a single day returns the whole day.

SEE ALSO:
  - store.go: AppendAudit is the ledger's only write
  - integrity.go: Audit entries are scanned but never deleted
*/
package library

import (
	"context"
	"strings"
	"time"
)

// AuditLedger is a view of the audit log.
type AuditLedger struct {
	store Store
	now   func() time.Time
	newID func() string
}

// Record appends an entry. ID and Timestamp are filled in when empty.
func (l *AuditLedger) Record(ctx context.Context, e AuditEntry) (AuditEntry, error) {
	if !e.Action.Valid() {
		return AuditEntry{}, invalid("action", "unknown action %q", e.Action)
	}
	if e.ID == "" {
		e.ID = l.newID()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = l.now()
	}
	if err := l.store.AppendAudit(ctx, e); err != nil {
		return AuditEntry{}, err
	}
	return e, nil
}

func (l *AuditLedger) Get(ctx context.Context, id string) (AuditEntry, error) {
	return l.store.GetAudit(ctx, id)
}

// AuditPage is one page of entries plus the unpaged total.
type AuditPage struct {
	Entries []AuditEntry
	Total   int
}

// Query returns entries newest first.
func (l *AuditLedger) Query(ctx context.Context, f AuditFilter) (AuditPage, error) {
	for _, a := range f.Actions {
		if !a.Valid() {
			return AuditPage{}, invalid("action", "unknown action %q", a)
		}
	}
	if f.From != nil && f.To != nil && f.To.Before(*f.From) {
		return AuditPage{}, invalid("endDate", "is before startDate")
	}
	entries, err := l.store.QueryAudit(ctx, f)
	if err != nil {
		return AuditPage{}, err
	}
	total, err := l.store.CountAudit(ctx, f)
	if err != nil {
		return AuditPage{}, err
	}
	return AuditPage{Entries: entries, Total: total}, nil
}

// Update always fails: audit entries are immutable.
func (l *AuditLedger) Update(_ context.Context, _ string, _ map[string]any) error {
	return &ImmutableError{Kind: KindAudit}
}

// Delete always fails: audit entries are immutable.
func (l *AuditLedger) Delete(_ context.Context, _ string) error {
	return &ImmutableError{Kind: KindAudit}
}

// ParseAuditRange turns query-string bounds into an inclusive range.
// Bounds may be RFC 3339 timestamps or plain dates. A plain-date lower
// bound starts at midnight, a plain-date upper bound ends at the last
// instant of that day. Empty strings mean unbounded.
func ParseAuditRange(from, to string) (*time.Time, *time.Time, error) {
	var lo, hi *time.Time
	if from = strings.TrimSpace(from); from != "" {
		t, dateOnly, err := parseBound(from)
		if err != nil {
			return nil, nil, invalid("startDate", "%q is neither a date nor an RFC 3339 timestamp", from)
		}
		if dateOnly {
			t = startOfDay(t)
		}
		lo = &t
	}
	if to = strings.TrimSpace(to); to != "" {
		t, dateOnly, err := parseBound(to)
		if err != nil {
			return nil, nil, invalid("endDate", "%q is neither a date nor an RFC 3339 timestamp", to)
		}
		if dateOnly {
			t = endOfDay(t)
		}
		hi = &t
	}
	if lo != nil && hi != nil && hi.Before(*lo) {
		return nil, nil, invalid("endDate", "is before startDate")
	}
	return lo, hi, nil
}

func parseBound(s string) (time.Time, bool, error) {
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t.UTC(), true, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	return t.UTC(), false, err
}
