/*
store.go - Persistence port for the library engine

PURPOSE:
  Defines the interface between the domain logic and the database.
  The engine depends only on these interfaces; concrete backends live in
  library/store (in-memory) and store/sqldb (SQLite / PostgreSQL).

KEY INTERFACES:
  Store:   Typed CRUD per entity, existence checks, audit append/query
  TxStore: Store plus WithTx for all-or-nothing units of work

AUDIT LEDGER:
  There is deliberately NO UpdateAudit or DeleteAudit. The only write the
  ledger accepts is AppendAudit. SQL backends additionally install triggers
  that abort UPDATE and DELETE on the audit table.

CONTRACT:
  - Get* on a missing id returns *NotFoundError.
  - Create* on a duplicate unique key (student email, book ISBN, user
    email) returns *ValidationError naming the field.
  - UpdateBook succeeds only when the stored Version equals book.Version,
    then bumps it. A mismatch returns ErrConcurrentModification.
  - Delete* of a missing id returns *NotFoundError.
  - WithTx rolls back every write made through the passed Store when fn
    returns an error, and returns that error unchanged. Calling WithTx on
    the Store handed to fn joins the running unit.

ORDERING:
  Students by name, books by title, loans by IssuedAt desc, reservations
  by QueuePosition then CreatedAt, fines by CreatedAt desc, audit by
  Timestamp desc. Ties are broken by ID so pagination is stable.

SEE ALSO:
  - library/store/memory.go: In-memory implementation
  - store/sqldb/sqldb.go: SQL implementation
*/
package library

import (
	"context"
	"time"
)

// =============================================================================
// FILTERS
// =============================================================================

// Page is an optional limit/offset window. Zero Limit means "no limit".
type Page struct {
	Limit  int
	Offset int
}

type StudentFilter struct {
	Status StudentStatus
	Query  string // case-insensitive match on name or email
	Page
}

type BookFilter struct {
	IDs        []string
	Department Department
	Query      string // case-insensitive match on title, author or ISBN
	Page
}

type LoanFilter struct {
	StudentID   string
	BookID      string
	Statuses    []LoanStatus
	DueBefore   *time.Time
	IssuedAfter *time.Time
	Page
}

type ReservationFilter struct {
	BookID    string
	StudentID string
	Statuses  []ReservationStatus
	Page
}

type FineFilter struct {
	StudentID string
	LoanID    string
	Statuses  []FineStatus
	Page
}

// AuditFilter selects audit entries. From and To are inclusive.
type AuditFilter struct {
	Actions   []AuditAction
	BookID    string
	StudentID string
	AdminID   string
	From      *time.Time
	To        *time.Time
	Page
}

// =============================================================================
// STORE - Interface for entity persistence
// =============================================================================

type Store interface {
	// Exists checks if a record of the given kind exists.
	Exists(ctx context.Context, kind EntityKind, id string) (bool, error)

	// Count returns the number of records of the given kind.
	Count(ctx context.Context, kind EntityKind) (int, error)

	CreateStudent(ctx context.Context, s Student) error
	GetStudent(ctx context.Context, id string) (Student, error)
	ListStudents(ctx context.Context, f StudentFilter) ([]Student, error)
	CountStudents(ctx context.Context, f StudentFilter) (int, error)
	UpdateStudent(ctx context.Context, s Student) error
	DeleteStudent(ctx context.Context, id string) error

	CreateBook(ctx context.Context, b Book) error
	GetBook(ctx context.Context, id string) (Book, error)
	ListBooks(ctx context.Context, f BookFilter) ([]Book, error)
	CountBooks(ctx context.Context, f BookFilter) (int, error)
	// UpdateBook is optimistic on Version. See package doc.
	UpdateBook(ctx context.Context, b Book) error
	DeleteBook(ctx context.Context, id string) error

	CreateLoan(ctx context.Context, l Loan) error
	GetLoan(ctx context.Context, id string) (Loan, error)
	ListLoans(ctx context.Context, f LoanFilter) ([]Loan, error)
	CountLoans(ctx context.Context, f LoanFilter) (int, error)
	UpdateLoan(ctx context.Context, l Loan) error
	DeleteLoan(ctx context.Context, id string) error

	CreateReservation(ctx context.Context, r Reservation) error
	GetReservation(ctx context.Context, id string) (Reservation, error)
	ListReservations(ctx context.Context, f ReservationFilter) ([]Reservation, error)
	UpdateReservation(ctx context.Context, r Reservation) error
	DeleteReservation(ctx context.Context, id string) error

	CreateFine(ctx context.Context, f Fine) error
	GetFine(ctx context.Context, id string) (Fine, error)
	ListFines(ctx context.Context, f FineFilter) ([]Fine, error)
	UpdateFine(ctx context.Context, f Fine) error
	DeleteFine(ctx context.Context, id string) error

	// AppendAudit is the ONLY write on the audit ledger.
	AppendAudit(ctx context.Context, e AuditEntry) error
	GetAudit(ctx context.Context, id string) (AuditEntry, error)
	QueryAudit(ctx context.Context, f AuditFilter) ([]AuditEntry, error)
	CountAudit(ctx context.Context, f AuditFilter) (int, error)

	CreateUser(ctx context.Context, u User) error
	GetUser(ctx context.Context, id string) (User, error)
	GetUserByEmail(ctx context.Context, email string) (User, error)

	// Reset removes every record, audit ledger included. Only the
	// controlled reseed calls it.
	Reset(ctx context.Context) error
}

// =============================================================================
// TRANSACTIONAL STORE - For atomic operations across multiple writes
// =============================================================================

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}
