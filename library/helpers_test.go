package library_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/warp/library-engine/library"
	"github.com/warp/library-engine/library/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type sentMail struct {
	To, Subject, Body string
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sentMail
	err  error
}

func (n *recordingNotifier) SendReminder(_ context.Context, email, subject, body string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, sentMail{To: email, Subject: subject, Body: body})
	return nil
}

func (n *recordingNotifier) Sent() []sentMail {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]sentMail(nil), n.sent...)
}

type fixture struct {
	ctx      context.Context
	svc      *library.Service
	store    *store.Memory
	clock    *testClock
	notifier *recordingNotifier
	seq      int
}

var start = time.Date(2025, time.March, 3, 10, 0, 0, 0, time.UTC)

func newFixture(t *testing.T, opts ...library.Option) *fixture {
	t.Helper()
	f := &fixture{
		ctx:      context.Background(),
		store:    store.NewMemory(),
		clock:    &testClock{t: start},
		notifier: &recordingNotifier{},
	}
	base := []library.Option{
		library.WithClock(f.clock.Now),
		library.WithNotifier(f.notifier),
		library.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}
	f.svc = library.NewService(f.store, append(base, opts...)...)
	return f
}

func (f *fixture) student(t *testing.T, name string) library.Student {
	t.Helper()
	f.seq++
	st, err := f.svc.CreateStudent(f.ctx, library.Student{
		Name:  name,
		Email: fmt.Sprintf("student%d@university.edu", f.seq),
	}, library.System)
	require.NoError(t, err)
	return st
}

func (f *fixture) book(t *testing.T, title string, copies int) library.Book {
	t.Helper()
	f.seq++
	b, err := f.svc.CreateBook(f.ctx, library.Book{
		Title:       title,
		Author:      "Test Author",
		ISBN:        fmt.Sprintf("978-1-%06d", f.seq),
		Department:  library.DeptComputerScience,
		TotalCopies: copies,
	}, library.System)
	require.NoError(t, err)
	return b
}

func (f *fixture) issue(t *testing.T, bookID, studentID string) library.Loan {
	t.Helper()
	loan, err := f.svc.Issue(f.ctx, library.IssueRequest{BookID: bookID, StudentID: studentID, Actor: library.System})
	require.NoError(t, err)
	return loan
}

func (f *fixture) getBook(t *testing.T, id string) library.Book {
	t.Helper()
	b, err := f.store.GetBook(f.ctx, id)
	require.NoError(t, err)
	return b
}

func (f *fixture) getReservation(t *testing.T, id string) library.Reservation {
	t.Helper()
	r, err := f.store.GetReservation(f.ctx, id)
	require.NoError(t, err)
	return r
}

func (f *fixture) actions(t *testing.T, filter library.AuditFilter) []library.AuditAction {
	t.Helper()
	entries, err := f.store.QueryAudit(f.ctx, filter)
	require.NoError(t, err)
	out := make([]library.AuditAction, len(entries))
	// Oldest first reads better in assertions.
	for i, e := range entries {
		out[len(entries)-1-i] = e.Action
	}
	return out
}

func days(n int) time.Duration {
	return time.Duration(n) * 24 * time.Hour
}

func conflictCode(err error) string {
	var ce *library.ConflictError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ""
}

// =============================================================================
// FAULT INJECTION
// =============================================================================

var errAuditDown = errors.New("audit ledger unavailable")

// brokenAudit is a TxStore whose audit appends fail inside units of work.
type brokenAudit struct {
	*store.Memory
}

func (b brokenAudit) WithTx(ctx context.Context, fn func(library.Store) error) error {
	return b.Memory.WithTx(ctx, func(st library.Store) error {
		return fn(failingAppend{st})
	})
}

type failingAppend struct {
	library.Store
}

func (failingAppend) AppendAudit(context.Context, library.AuditEntry) error {
	return errAuditDown
}

// lostRace is a TxStore on which, once armed, the first book write of a
// unit loses to a rival reservation that another caller commits before the
// unit is retried. A unit that never writes the book row never notices the
// rival.
type lostRace struct {
	*store.Memory
	rival library.Reservation
	armed bool
}

func (l *lostRace) WithTx(ctx context.Context, fn func(library.Store) error) error {
	if !l.armed {
		return l.Memory.WithTx(ctx, fn)
	}
	lost := false
	err := l.Memory.WithTx(ctx, func(st library.Store) error {
		return fn(contendedBook{Store: st, lost: &lost})
	})
	if !lost {
		return err
	}
	l.armed = false
	if cerr := l.Memory.CreateReservation(ctx, l.rival); cerr != nil {
		return cerr
	}
	b, gerr := l.Memory.GetBook(ctx, l.rival.BookID)
	if gerr != nil {
		return gerr
	}
	if uerr := l.Memory.UpdateBook(ctx, b); uerr != nil {
		return uerr
	}
	return err
}

type contendedBook struct {
	library.Store
	lost *bool
}

func (c contendedBook) UpdateBook(context.Context, library.Book) error {
	*c.lost = true
	return library.ErrConcurrentModification
}
