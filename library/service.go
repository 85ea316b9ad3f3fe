/*
service.go - Library engine entry point

PURPOSE:
  Service bundles the store handle, the business constants and the
  collaborators (notifier, logger, clock). Nothing in this package keeps
  process-wide state; every caller passes a Service around explicitly.

BUSINESS CONSTANTS:
  MaxRenewals       How many times one loan can be renewed (default 2).
                    Older deployments disagreed between 2 and 5; the value
                    is a single configuration knob pending product sign-off.
  DefaultLoanDays   Loan length when the caller passes 0 (default 14).
  DefaultRenewDays  Extension when the caller passes 0 (default 7).
  ReservationDays   How long an Active reservation stays in the queue (30).
  HoldDays          Pickup window once a reservation is fulfilled (3).
  Fines             The one fine policy (rate 1, cap 50).

UNITS OF WORK:
  Every multi-write operation runs inside TxStore.WithTx and is retried a
  few times on ErrConcurrentModification. Writes inside a unit always go in
  the same order: circulation record, then book counter, then audit entry.

SEE ALSO:
  - circulation.go: Issue/Return/Renew/Reserve
  - catalog.go: Student and book CRUD
  - remediation.go: Cleanup and Reconcile
*/
package library

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// maxTxAttempts bounds optimistic retries of one unit of work.
const maxTxAttempts = 3

// Options holds the business constants.
type Options struct {
	MaxRenewals      int
	DefaultLoanDays  int
	DefaultRenewDays int
	ReservationDays  int
	HoldDays         int
	Fines            FinePolicy
}

// DefaultOptions returns the stock configuration.
func DefaultOptions() Options {
	return Options{
		MaxRenewals:      2,
		DefaultLoanDays:  14,
		DefaultRenewDays: 7,
		ReservationDays:  30,
		HoldDays:         3,
		Fines:            DefaultFinePolicy(),
	}
}

// Validate rejects nonsensical constants.
func (o Options) Validate() error {
	if o.MaxRenewals < 0 {
		return invalid("maxRenewals", "must be >= 0")
	}
	if o.DefaultLoanDays < 1 || o.DefaultLoanDays > maxLoanDays {
		return invalid("defaultLoanDays", "must be between 1 and %d", maxLoanDays)
	}
	if o.DefaultRenewDays < 1 || o.DefaultRenewDays > maxLoanDays {
		return invalid("defaultRenewDays", "must be between 1 and %d", maxLoanDays)
	}
	if o.ReservationDays < 1 {
		return invalid("reservationDays", "must be >= 1")
	}
	if o.HoldDays < 1 {
		return invalid("holdDays", "must be >= 1")
	}
	return o.Fines.Validate()
}

// Notifier delivers reminder emails. Implementations live in package notify.
type Notifier interface {
	SendReminder(ctx context.Context, email, subject, body string) error
}

// Service is the library engine.
type Service struct {
	store    TxStore
	opts     Options
	notifier Notifier
	log      *slog.Logger
	now      func() time.Time
	newID    func() string
}

// Option configures a Service.
type Option func(*Service)

// WithOptions replaces the business constants.
func WithOptions(o Options) Option {
	return func(s *Service) { s.opts = o }
}

// WithNotifier sets the reminder channel.
func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.log = l }
}

// WithClock replaces time.Now. Tests and the reseeder use it to move time.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates an engine over the given store.
func NewService(store TxStore, opts ...Option) *Service {
	s := &Service{
		store: store,
		opts:  DefaultOptions(),
		log:   slog.Default(),
		now:   time.Now,
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Store returns the underlying store.
func (s *Service) Store() TxStore { return s.store }

// Options returns the business constants in effect.
func (s *Service) Options() Options { return s.opts }

// Now returns the engine's current time in UTC.
func (s *Service) Now() time.Time { return s.now().UTC() }

// Ledger returns the audit ledger view.
func (s *Service) Ledger() *AuditLedger {
	return &AuditLedger{store: s.store, now: s.Now, newID: s.newID}
}

// Checker returns a referential integrity checker over the store.
func (s *Service) Checker() *Checker {
	c := NewChecker(s.store)
	c.now = s.now
	return c
}

// inTx runs fn as one unit of work, retrying on optimistic conflicts.
// The error from the last attempt is returned unchanged.
func (s *Service) inTx(ctx context.Context, op string, fn func(Store) error) error {
	var err error
	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		err = s.store.WithTx(ctx, fn)
		if !IsRetryable(err) {
			return err
		}
		s.log.Warn("concurrent modification, retrying", "op", op, "attempt", attempt)
	}
	return err
}

// audit appends one ledger entry attributed to actor.
func (s *Service) audit(ctx context.Context, st Store, actor Actor, action AuditAction, bookID, studentID string, meta map[string]any) error {
	return st.AppendAudit(ctx, AuditEntry{
		ID:        s.newID(),
		Action:    action,
		BookID:    bookID,
		StudentID: studentID,
		AdminID:   actor.ID,
		Metadata:  meta,
		Timestamp: s.Now(),
		IPAddress: actor.IPAddress,
		UserAgent: actor.UserAgent,
	})
}
