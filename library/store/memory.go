// Package store provides in-memory Store implementations.
package store

import (
	"cmp"
	"context"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/warp/library-engine/library"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory is a library.TxStore held entirely in process memory. Every
// exported method takes the lock; WithTx holds it for the whole unit and
// hands fn a view that works on the locked state directly.
type Memory struct {
	mu sync.Mutex
	v  *view
}

func NewMemory() *Memory {
	return &Memory{v: &view{d: newData()}}
}

var (
	_ library.TxStore = (*Memory)(nil)
	_ library.TxStore = (*view)(nil)
)

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (m *Memory) WithTx(ctx context.Context, fn func(library.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.v.d.clone()
	if err := fn(m.v); err != nil {
		m.v.d = snapshot
		return err
	}
	return nil
}

func (m *Memory) Exists(ctx context.Context, kind library.EntityKind, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.v.Exists(ctx, kind, id)
}

func (m *Memory) Count(ctx context.Context, kind library.EntityKind) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.v.Count(ctx, kind)
}

func (m *Memory) CreateStudent(ctx context.Context, s library.Student) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.v.CreateStudent(ctx, s)
}

func (m *Memory) GetStudent(ctx context.Context, id string) (library.Student, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.v.GetStudent(ctx, id)
}

func (m *Memory) ListStudents(ctx context.Context, f library.StudentFilter) ([]library.Student, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.v.ListStudents(ctx, f)
}

func (m *Memory) CountStudents(ctx context.Context, f library.StudentFilter) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.v.CountStudents(ctx, f)
}

func (m *Memory) UpdateStudent(ctx context.Context, s library.Student) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.v.UpdateStudent(ctx, s)
}

func (m *Memory) DeleteStudent(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.v.DeleteStudent(ctx, id)
}

func (m *Memory) CreateBook(ctx context.Context, b library.Book) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.v.CreateBook(ctx, b)
}

func (m *Memory) GetBook(ctx context.Context, id string) (library.Book, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.v.GetBook(ctx, id)
}

func (m *Memory) ListBooks(ctx context.Context, f library.BookFilter) ([]library.Book, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.v.ListBooks(ctx, f)
}

func (m *Memory) CountBooks(ctx context.Context, f library.BookFilter) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.v.CountBooks(ctx, f)
}

func (m *Memory) UpdateBook(ctx context.Context, b library.Book) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.v.UpdateBook(ctx, b)
}

func (m *Memory) DeleteBook(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.v.DeleteBook(ctx, id)
}

func (m *Memory) CreateLoan(ctx context.Context, l library.Loan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.v.CreateLoan(ctx, l)
}

func (m *Memory) GetLoan(ctx context.Context, id string) (library.Loan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.v.GetLoan(ctx, id)
}

func (m *Memory) ListLoans(ctx context.Context, f library.LoanFilter) ([]library.Loan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.v.ListLoans(ctx, f)
}

func (m *Memory) CountLoans(ctx context.Context, f library.LoanFilter) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.v.CountLoans(ctx, f)
}

func (m *Memory) UpdateLoan(ctx context.Context, l library.Loan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.v.UpdateLoan(ctx, l)
}

func (m *Memory) DeleteLoan(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.v.DeleteLoan(ctx, id)
}

func (m *Memory) CreateReservation(ctx context.Context, r library.Reservation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.v.CreateReservation(ctx, r)
}

func (m *Memory) GetReservation(ctx context.Context, id string) (library.Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.v.GetReservation(ctx, id)
}

func (m *Memory) ListReservations(ctx context.Context, f library.ReservationFilter) ([]library.Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.v.ListReservations(ctx, f)
}

func (m *Memory) UpdateReservation(ctx context.Context, r library.Reservation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.v.UpdateReservation(ctx, r)
}

func (m *Memory) DeleteReservation(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.v.DeleteReservation(ctx, id)
}

func (m *Memory) CreateFine(ctx context.Context, f library.Fine) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.v.CreateFine(ctx, f)
}

func (m *Memory) GetFine(ctx context.Context, id string) (library.Fine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.v.GetFine(ctx, id)
}

func (m *Memory) ListFines(ctx context.Context, f library.FineFilter) ([]library.Fine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.v.ListFines(ctx, f)
}

func (m *Memory) UpdateFine(ctx context.Context, f library.Fine) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.v.UpdateFine(ctx, f)
}

func (m *Memory) DeleteFine(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.v.DeleteFine(ctx, id)
}

func (m *Memory) AppendAudit(ctx context.Context, e library.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.v.AppendAudit(ctx, e)
}

func (m *Memory) GetAudit(ctx context.Context, id string) (library.AuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.v.GetAudit(ctx, id)
}

func (m *Memory) QueryAudit(ctx context.Context, f library.AuditFilter) ([]library.AuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.v.QueryAudit(ctx, f)
}

func (m *Memory) CountAudit(ctx context.Context, f library.AuditFilter) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.v.CountAudit(ctx, f)
}

func (m *Memory) CreateUser(ctx context.Context, u library.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.v.CreateUser(ctx, u)
}

func (m *Memory) GetUser(ctx context.Context, id string) (library.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.v.GetUser(ctx, id)
}

func (m *Memory) GetUserByEmail(ctx context.Context, email string) (library.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.v.GetUserByEmail(ctx, email)
}

func (m *Memory) Reset(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.v.Reset(ctx)
}

// =============================================================================
// STATE
// =============================================================================

type data struct {
	students     map[string]library.Student
	books        map[string]library.Book
	loans        map[string]library.Loan
	reservations map[string]library.Reservation
	fines        map[string]library.Fine
	audit        map[string]library.AuditEntry
	users        map[string]library.User
}

func newData() *data {
	return &data{
		students:     map[string]library.Student{},
		books:        map[string]library.Book{},
		loans:        map[string]library.Loan{},
		reservations: map[string]library.Reservation{},
		fines:        map[string]library.Fine{},
		audit:        map[string]library.AuditEntry{},
		users:        map[string]library.User{},
	}
}

// clone copies the maps. Stored values are never mutated in place, so a
// shallow copy of each map is a full snapshot.
func (d *data) clone() *data {
	return &data{
		students:     maps.Clone(d.students),
		books:        maps.Clone(d.books),
		loans:        maps.Clone(d.loans),
		reservations: maps.Clone(d.reservations),
		fines:        maps.Clone(d.fines),
		audit:        maps.Clone(d.audit),
		users:        maps.Clone(d.users),
	}
}

// =============================================================================
// VIEW - lock-free access, used inside WithTx and by the locked wrappers
// =============================================================================

type view struct {
	d *data
}

// WithTx on a view joins the unit already running.
func (v *view) WithTx(_ context.Context, fn func(library.Store) error) error {
	return fn(v)
}

func (v *view) Exists(_ context.Context, kind library.EntityKind, id string) (bool, error) {
	var ok bool
	switch kind {
	case library.KindStudent:
		_, ok = v.d.students[id]
	case library.KindBook:
		_, ok = v.d.books[id]
	case library.KindLoan:
		_, ok = v.d.loans[id]
	case library.KindReservation:
		_, ok = v.d.reservations[id]
	case library.KindFine:
		_, ok = v.d.fines[id]
	case library.KindAudit:
		_, ok = v.d.audit[id]
	case library.KindUser:
		_, ok = v.d.users[id]
	default:
		return false, &library.ValidationError{Field: "kind", Message: "unknown entity kind " + string(kind)}
	}
	return ok, nil
}

func (v *view) Count(_ context.Context, kind library.EntityKind) (int, error) {
	switch kind {
	case library.KindStudent:
		return len(v.d.students), nil
	case library.KindBook:
		return len(v.d.books), nil
	case library.KindLoan:
		return len(v.d.loans), nil
	case library.KindReservation:
		return len(v.d.reservations), nil
	case library.KindFine:
		return len(v.d.fines), nil
	case library.KindAudit:
		return len(v.d.audit), nil
	case library.KindUser:
		return len(v.d.users), nil
	}
	return 0, &library.ValidationError{Field: "kind", Message: "unknown entity kind " + string(kind)}
}

// -----------------------------------------------------------------------------
// Students
// -----------------------------------------------------------------------------

func (v *view) CreateStudent(_ context.Context, s library.Student) error {
	if _, ok := v.d.students[s.ID]; ok {
		return &library.ValidationError{Field: "id", Message: "duplicate id " + s.ID}
	}
	if v.studentEmailTaken(s.Email, "") {
		return &library.ValidationError{Field: "email", Message: "email already registered"}
	}
	v.d.students[s.ID] = copyStudent(s)
	return nil
}

func (v *view) GetStudent(_ context.Context, id string) (library.Student, error) {
	s, ok := v.d.students[id]
	if !ok {
		return library.Student{}, &library.NotFoundError{Kind: library.KindStudent, ID: id}
	}
	return copyStudent(s), nil
}

func (v *view) ListStudents(_ context.Context, f library.StudentFilter) ([]library.Student, error) {
	out := v.matchStudents(f)
	slices.SortFunc(out, func(a, b library.Student) int {
		return cmp.Or(cmp.Compare(a.Name, b.Name), cmp.Compare(a.ID, b.ID))
	})
	out = paginate(out, f.Page)
	for i := range out {
		out[i] = copyStudent(out[i])
	}
	return out, nil
}

func (v *view) CountStudents(_ context.Context, f library.StudentFilter) (int, error) {
	return len(v.matchStudents(f)), nil
}

func (v *view) matchStudents(f library.StudentFilter) []library.Student {
	q := strings.ToLower(f.Query)
	out := []library.Student{}
	for _, s := range v.d.students {
		if f.Status != "" && s.Status != f.Status {
			continue
		}
		if q != "" && !containsFold(q, s.Name, s.Email) {
			continue
		}
		out = append(out, s)
	}
	return out
}

func (v *view) UpdateStudent(_ context.Context, s library.Student) error {
	if _, ok := v.d.students[s.ID]; !ok {
		return &library.NotFoundError{Kind: library.KindStudent, ID: s.ID}
	}
	if v.studentEmailTaken(s.Email, s.ID) {
		return &library.ValidationError{Field: "email", Message: "email already registered"}
	}
	v.d.students[s.ID] = copyStudent(s)
	return nil
}

func (v *view) DeleteStudent(_ context.Context, id string) error {
	if _, ok := v.d.students[id]; !ok {
		return &library.NotFoundError{Kind: library.KindStudent, ID: id}
	}
	delete(v.d.students, id)
	return nil
}

func (v *view) studentEmailTaken(email, except string) bool {
	for id, s := range v.d.students {
		if id != except && strings.EqualFold(s.Email, email) {
			return true
		}
	}
	return false
}

// -----------------------------------------------------------------------------
// Books
// -----------------------------------------------------------------------------

func (v *view) CreateBook(_ context.Context, b library.Book) error {
	if _, ok := v.d.books[b.ID]; ok {
		return &library.ValidationError{Field: "id", Message: "duplicate id " + b.ID}
	}
	for _, other := range v.d.books {
		if other.ISBN == b.ISBN {
			return &library.ValidationError{Field: "isbn", Message: "isbn already catalogued"}
		}
	}
	if b.Version == 0 {
		b.Version = 1
	}
	v.d.books[b.ID] = copyBook(b)
	return nil
}

func (v *view) GetBook(_ context.Context, id string) (library.Book, error) {
	b, ok := v.d.books[id]
	if !ok {
		return library.Book{}, &library.NotFoundError{Kind: library.KindBook, ID: id}
	}
	return copyBook(b), nil
}

func (v *view) ListBooks(_ context.Context, f library.BookFilter) ([]library.Book, error) {
	out := v.matchBooks(f)
	slices.SortFunc(out, func(a, b library.Book) int {
		return cmp.Or(cmp.Compare(a.Title, b.Title), cmp.Compare(a.ID, b.ID))
	})
	out = paginate(out, f.Page)
	for i := range out {
		out[i] = copyBook(out[i])
	}
	return out, nil
}

func (v *view) CountBooks(_ context.Context, f library.BookFilter) (int, error) {
	return len(v.matchBooks(f)), nil
}

func (v *view) matchBooks(f library.BookFilter) []library.Book {
	q := strings.ToLower(f.Query)
	out := []library.Book{}
	for _, b := range v.d.books {
		if f.IDs != nil && !slices.Contains(f.IDs, b.ID) {
			continue
		}
		if f.Department != "" && b.Department != f.Department {
			continue
		}
		if q != "" && !containsFold(q, b.Title, b.Author, b.ISBN) {
			continue
		}
		out = append(out, b)
	}
	return out
}

// UpdateBook applies the optimistic version check.
func (v *view) UpdateBook(_ context.Context, b library.Book) error {
	stored, ok := v.d.books[b.ID]
	if !ok {
		return &library.NotFoundError{Kind: library.KindBook, ID: b.ID}
	}
	if stored.Version != b.Version {
		return library.ErrConcurrentModification
	}
	for id, other := range v.d.books {
		if id != b.ID && other.ISBN == b.ISBN {
			return &library.ValidationError{Field: "isbn", Message: "isbn already catalogued"}
		}
	}
	b.Version++
	v.d.books[b.ID] = copyBook(b)
	return nil
}

func (v *view) DeleteBook(_ context.Context, id string) error {
	if _, ok := v.d.books[id]; !ok {
		return &library.NotFoundError{Kind: library.KindBook, ID: id}
	}
	delete(v.d.books, id)
	return nil
}

// -----------------------------------------------------------------------------
// Loans
// -----------------------------------------------------------------------------

func (v *view) CreateLoan(_ context.Context, l library.Loan) error {
	if _, ok := v.d.loans[l.ID]; ok {
		return &library.ValidationError{Field: "id", Message: "duplicate id " + l.ID}
	}
	v.d.loans[l.ID] = copyLoan(l)
	return nil
}

func (v *view) GetLoan(_ context.Context, id string) (library.Loan, error) {
	l, ok := v.d.loans[id]
	if !ok {
		return library.Loan{}, &library.NotFoundError{Kind: library.KindLoan, ID: id}
	}
	return copyLoan(l), nil
}

func (v *view) ListLoans(_ context.Context, f library.LoanFilter) ([]library.Loan, error) {
	out := v.matchLoans(f)
	slices.SortFunc(out, func(a, b library.Loan) int {
		return cmp.Or(b.IssuedAt.Compare(a.IssuedAt), cmp.Compare(a.ID, b.ID))
	})
	out = paginate(out, f.Page)
	for i := range out {
		out[i] = copyLoan(out[i])
	}
	return out, nil
}

func (v *view) CountLoans(_ context.Context, f library.LoanFilter) (int, error) {
	return len(v.matchLoans(f)), nil
}

func (v *view) matchLoans(f library.LoanFilter) []library.Loan {
	out := []library.Loan{}
	for _, l := range v.d.loans {
		if f.StudentID != "" && l.StudentID != f.StudentID {
			continue
		}
		if f.BookID != "" && l.BookID != f.BookID {
			continue
		}
		if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, l.Status) {
			continue
		}
		if f.DueBefore != nil && !l.DueDate.Before(*f.DueBefore) {
			continue
		}
		if f.IssuedAfter != nil && l.IssuedAt.Before(*f.IssuedAfter) {
			continue
		}
		out = append(out, l)
	}
	return out
}

func (v *view) UpdateLoan(_ context.Context, l library.Loan) error {
	if _, ok := v.d.loans[l.ID]; !ok {
		return &library.NotFoundError{Kind: library.KindLoan, ID: l.ID}
	}
	v.d.loans[l.ID] = copyLoan(l)
	return nil
}

func (v *view) DeleteLoan(_ context.Context, id string) error {
	if _, ok := v.d.loans[id]; !ok {
		return &library.NotFoundError{Kind: library.KindLoan, ID: id}
	}
	delete(v.d.loans, id)
	return nil
}

// -----------------------------------------------------------------------------
// Reservations
// -----------------------------------------------------------------------------

func (v *view) CreateReservation(_ context.Context, r library.Reservation) error {
	if _, ok := v.d.reservations[r.ID]; ok {
		return &library.ValidationError{Field: "id", Message: "duplicate id " + r.ID}
	}
	v.d.reservations[r.ID] = copyReservation(r)
	return nil
}

func (v *view) GetReservation(_ context.Context, id string) (library.Reservation, error) {
	r, ok := v.d.reservations[id]
	if !ok {
		return library.Reservation{}, &library.NotFoundError{Kind: library.KindReservation, ID: id}
	}
	return copyReservation(r), nil
}

func (v *view) ListReservations(_ context.Context, f library.ReservationFilter) ([]library.Reservation, error) {
	out := []library.Reservation{}
	for _, r := range v.d.reservations {
		if f.BookID != "" && r.BookID != f.BookID {
			continue
		}
		if f.StudentID != "" && r.StudentID != f.StudentID {
			continue
		}
		if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, r.Status) {
			continue
		}
		out = append(out, r)
	}
	slices.SortFunc(out, func(a, b library.Reservation) int {
		return cmp.Or(
			cmp.Compare(a.QueuePosition, b.QueuePosition),
			a.CreatedAt.Compare(b.CreatedAt),
			cmp.Compare(a.ID, b.ID),
		)
	})
	out = paginate(out, f.Page)
	for i := range out {
		out[i] = copyReservation(out[i])
	}
	return out, nil
}

func (v *view) UpdateReservation(_ context.Context, r library.Reservation) error {
	if _, ok := v.d.reservations[r.ID]; !ok {
		return &library.NotFoundError{Kind: library.KindReservation, ID: r.ID}
	}
	v.d.reservations[r.ID] = copyReservation(r)
	return nil
}

func (v *view) DeleteReservation(_ context.Context, id string) error {
	if _, ok := v.d.reservations[id]; !ok {
		return &library.NotFoundError{Kind: library.KindReservation, ID: id}
	}
	delete(v.d.reservations, id)
	return nil
}

// -----------------------------------------------------------------------------
// Fines
// -----------------------------------------------------------------------------

func (v *view) CreateFine(_ context.Context, f library.Fine) error {
	if _, ok := v.d.fines[f.ID]; ok {
		return &library.ValidationError{Field: "id", Message: "duplicate id " + f.ID}
	}
	v.d.fines[f.ID] = copyFine(f)
	return nil
}

func (v *view) GetFine(_ context.Context, id string) (library.Fine, error) {
	f, ok := v.d.fines[id]
	if !ok {
		return library.Fine{}, &library.NotFoundError{Kind: library.KindFine, ID: id}
	}
	return copyFine(f), nil
}

func (v *view) ListFines(_ context.Context, f library.FineFilter) ([]library.Fine, error) {
	out := []library.Fine{}
	for _, fn := range v.d.fines {
		if f.StudentID != "" && fn.StudentID != f.StudentID {
			continue
		}
		if f.LoanID != "" && fn.LoanID != f.LoanID {
			continue
		}
		if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, fn.Status) {
			continue
		}
		out = append(out, fn)
	}
	slices.SortFunc(out, func(a, b library.Fine) int {
		return cmp.Or(b.CreatedAt.Compare(a.CreatedAt), cmp.Compare(a.ID, b.ID))
	})
	out = paginate(out, f.Page)
	for i := range out {
		out[i] = copyFine(out[i])
	}
	return out, nil
}

func (v *view) UpdateFine(_ context.Context, f library.Fine) error {
	if _, ok := v.d.fines[f.ID]; !ok {
		return &library.NotFoundError{Kind: library.KindFine, ID: f.ID}
	}
	v.d.fines[f.ID] = copyFine(f)
	return nil
}

func (v *view) DeleteFine(_ context.Context, id string) error {
	if _, ok := v.d.fines[id]; !ok {
		return &library.NotFoundError{Kind: library.KindFine, ID: id}
	}
	delete(v.d.fines, id)
	return nil
}

// -----------------------------------------------------------------------------
// Audit ledger. Append only.
// -----------------------------------------------------------------------------

func (v *view) AppendAudit(_ context.Context, e library.AuditEntry) error {
	if _, ok := v.d.audit[e.ID]; ok {
		return &library.ImmutableError{Kind: library.KindAudit}
	}
	v.d.audit[e.ID] = copyAudit(e)
	return nil
}

func (v *view) GetAudit(_ context.Context, id string) (library.AuditEntry, error) {
	e, ok := v.d.audit[id]
	if !ok {
		return library.AuditEntry{}, &library.NotFoundError{Kind: library.KindAudit, ID: id}
	}
	return copyAudit(e), nil
}

func (v *view) QueryAudit(_ context.Context, f library.AuditFilter) ([]library.AuditEntry, error) {
	out := v.matchAudit(f)
	slices.SortFunc(out, func(a, b library.AuditEntry) int {
		return cmp.Or(b.Timestamp.Compare(a.Timestamp), cmp.Compare(a.ID, b.ID))
	})
	out = paginate(out, f.Page)
	for i := range out {
		out[i] = copyAudit(out[i])
	}
	return out, nil
}

func (v *view) CountAudit(_ context.Context, f library.AuditFilter) (int, error) {
	return len(v.matchAudit(f)), nil
}

func (v *view) matchAudit(f library.AuditFilter) []library.AuditEntry {
	out := []library.AuditEntry{}
	for _, e := range v.d.audit {
		if len(f.Actions) > 0 && !slices.Contains(f.Actions, e.Action) {
			continue
		}
		if f.BookID != "" && e.BookID != f.BookID {
			continue
		}
		if f.StudentID != "" && e.StudentID != f.StudentID {
			continue
		}
		if f.AdminID != "" && e.AdminID != f.AdminID {
			continue
		}
		if !inRange(e.Timestamp, f.From, f.To) {
			continue
		}
		out = append(out, e)
	}
	return out
}

// -----------------------------------------------------------------------------
// Users
// -----------------------------------------------------------------------------

func (v *view) CreateUser(_ context.Context, u library.User) error {
	if _, ok := v.d.users[u.ID]; ok {
		return &library.ValidationError{Field: "id", Message: "duplicate id " + u.ID}
	}
	for _, other := range v.d.users {
		if strings.EqualFold(other.Email, u.Email) {
			return &library.ValidationError{Field: "email", Message: "email already registered"}
		}
	}
	v.d.users[u.ID] = u
	return nil
}

func (v *view) GetUser(_ context.Context, id string) (library.User, error) {
	u, ok := v.d.users[id]
	if !ok {
		return library.User{}, &library.NotFoundError{Kind: library.KindUser, ID: id}
	}
	return u, nil
}

func (v *view) GetUserByEmail(_ context.Context, email string) (library.User, error) {
	for _, u := range v.d.users {
		if strings.EqualFold(u.Email, email) {
			return u, nil
		}
	}
	return library.User{}, &library.NotFoundError{Kind: library.KindUser, ID: email}
}

func (v *view) Reset(_ context.Context) error {
	*v.d = *newData()
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

func paginate[T any](xs []T, p library.Page) []T {
	if p.Offset > 0 {
		if p.Offset >= len(xs) {
			return xs[:0]
		}
		xs = xs[p.Offset:]
	}
	if p.Limit > 0 && p.Limit < len(xs) {
		xs = xs[:p.Limit]
	}
	return xs
}

func containsFold(lowerQuery string, fields ...string) bool {
	for _, f := range fields {
		if strings.Contains(strings.ToLower(f), lowerQuery) {
			return true
		}
	}
	return false
}

func inRange(t time.Time, from, to *time.Time) bool {
	if from != nil && t.Before(*from) {
		return false
	}
	if to != nil && t.After(*to) {
		return false
	}
	return true
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

func copyStudent(s library.Student) library.Student {
	if s.GPA != nil {
		g := *s.GPA
		s.GPA = &g
	}
	return s
}

func copyBook(b library.Book) library.Book {
	b.Tags = slices.Clone(b.Tags)
	return b
}

func copyLoan(l library.Loan) library.Loan {
	l.ReturnedAt = copyTime(l.ReturnedAt)
	return l
}

func copyReservation(r library.Reservation) library.Reservation {
	r.FulfilledAt = copyTime(r.FulfilledAt)
	return r
}

func copyFine(f library.Fine) library.Fine {
	f.PaidDate = copyTime(f.PaidDate)
	return f
}

func copyAudit(e library.AuditEntry) library.AuditEntry {
	e.Metadata = maps.Clone(e.Metadata)
	return e
}
