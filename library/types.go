/*
types.go - Core domain types for the library engine

PURPOSE:
  Defines the records the library owns: students, books, loans,
  reservations, fines, audit entries and staff users. These are pure data
  carriers. Behaviour lives in inventory.go, circulation.go and friends.

KEY CONCEPTS:
  Book:        A catalogue entry with a copy counter (TotalCopies) and an
               in-use counter (CheckedOutCount). AvailableCopies and Status
               are derived, never set by hand.
  Loan:        The single circulation record. The older "Transaction" shape
               survives only as the read view LegacyTransaction.
  Reservation: A place in a per-book queue. A Fulfilled reservation that has
               not been claimed by a loan yet is a "hold" and keeps one copy
               counted as checked out.
  AuditEntry:  Append-only record of something that happened.

IDENTIFIERS:
  All IDs are UUID strings. References between records are plain IDs with
  no storage-level foreign keys, which is why integrity.go exists.

SEE ALSO:
  - inventory.go: Book counter rule
  - circulation.go: Loan/reservation state machine
  - store.go: Persistence port
*/
package library

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// ENTITY KINDS
// =============================================================================

// EntityKind names a stored collection. Used by Exists/Count and by the
// integrity report categories.
type EntityKind string

const (
	KindStudent     EntityKind = "Student"
	KindBook        EntityKind = "Book"
	KindLoan        EntityKind = "BorrowTransaction"
	KindReservation EntityKind = "BookReservation"
	KindFine        EntityKind = "LibraryFineLedger"
	KindAudit       EntityKind = "LibraryAuditLog"
	KindUser        EntityKind = "User"
)

// AllKinds lists every collection in report order.
var AllKinds = []EntityKind{
	KindStudent, KindBook, KindLoan, KindReservation, KindFine, KindAudit, KindUser,
}

// =============================================================================
// ENUMERATIONS
// =============================================================================

type StudentStatus string

const (
	StudentActive    StudentStatus = "Active"
	StudentInactive  StudentStatus = "Inactive"
	StudentSuspended StudentStatus = "Suspended"
	StudentGraduated StudentStatus = "Graduated"
)

func (s StudentStatus) Valid() bool {
	switch s {
	case StudentActive, StudentInactive, StudentSuspended, StudentGraduated:
		return true
	}
	return false
}

type Department string

const (
	DeptComputerScience Department = "Computer Science"
	DeptElectrical      Department = "Electrical"
	DeptMechanical      Department = "Mechanical"
	DeptCivil           Department = "Civil"
	DeptGeneral         Department = "General"
	DeptBusiness        Department = "Business"
	DeptFiction         Department = "Fiction"
	DeptPhilosophy      Department = "Philosophy"
	DeptScience         Department = "Science"
	DeptHistory         Department = "History"
	DeptManagement      Department = "Management"
	DeptMathematics     Department = "Mathematics"
	DeptAIML            Department = "AI / ML"
)

// Departments is the closed set of catalogue departments.
var Departments = []Department{
	DeptComputerScience, DeptElectrical, DeptMechanical, DeptCivil, DeptGeneral,
	DeptBusiness, DeptFiction, DeptPhilosophy, DeptScience, DeptHistory,
	DeptManagement, DeptMathematics, DeptAIML,
}

func (d Department) Valid() bool {
	for _, known := range Departments {
		if d == known {
			return true
		}
	}
	return false
}

type BookStatus string

const (
	BookAvailable  BookStatus = "Available"
	BookOutOfStock BookStatus = "Out of Stock"
)

func (s BookStatus) Valid() bool {
	return s == BookAvailable || s == BookOutOfStock
}

type LoanStatus string

const (
	LoanBorrowed LoanStatus = "BORROWED"
	LoanReturned LoanStatus = "RETURNED"
	LoanOverdue  LoanStatus = "OVERDUE"
)

// OpenLoanStatuses are the statuses that keep a copy checked out.
var OpenLoanStatuses = []LoanStatus{LoanBorrowed, LoanOverdue}

type ReservationStatus string

const (
	ReservationActive    ReservationStatus = "Active"
	ReservationFulfilled ReservationStatus = "Fulfilled"
	ReservationExpired   ReservationStatus = "Expired"
	ReservationCancelled ReservationStatus = "Cancelled"
)

type FineStatus string

const (
	FineUnpaid FineStatus = "Unpaid"
	FinePaid   FineStatus = "Paid"
	FineWaived FineStatus = "Waived"
)

type AuditAction string

const (
	ActionBorrow    AuditAction = "BORROW"
	ActionReturn    AuditAction = "RETURN"
	ActionRenew     AuditAction = "RENEW"
	ActionAdd       AuditAction = "ADD"
	ActionUpdate    AuditAction = "UPDATE"
	ActionDelete    AuditAction = "DELETE"
	ActionOverdue   AuditAction = "OVERDUE"
	ActionReserve   AuditAction = "RESERVE"
	ActionEmailSent AuditAction = "EMAIL_SENT"
)

func (a AuditAction) Valid() bool {
	switch a {
	case ActionBorrow, ActionReturn, ActionRenew, ActionAdd, ActionUpdate,
		ActionDelete, ActionOverdue, ActionReserve, ActionEmailSent:
		return true
	}
	return false
}

// Role is the caller's role as resolved by the HTTP layer.
type Role string

const (
	RoleAdmin     Role = "ADMIN"
	RoleLibrarian Role = "LIBRARIAN"
	RoleStudent   Role = "STUDENT"
	RoleAuditor   Role = "AUDITOR"
	RoleGuest     Role = "GUEST"
)

func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleLibrarian, RoleStudent, RoleAuditor, RoleGuest:
		return true
	}
	return false
}

// =============================================================================
// RECORDS
// =============================================================================

type Student struct {
	ID             string        `json:"id"`
	Name           string        `json:"name"`
	Email          string        `json:"email"`
	Phone          string        `json:"phone,omitempty"`
	Course         string        `json:"course,omitempty"`
	Status         StudentStatus `json:"status"`
	EnrollmentDate time.Time     `json:"enrollmentDate"`
	GPA            *float64      `json:"gpa,omitempty"`
	City           string        `json:"city,omitempty"`
	Country        string        `json:"country,omitempty"`
	CreatedAt      time.Time     `json:"createdAt"`
	UpdatedAt      time.Time     `json:"updatedAt"`
}

type Book struct {
	ID              string     `json:"id"`
	Title           string     `json:"title"`
	Author          string     `json:"author"`
	ISBN            string     `json:"isbn"`
	Genre           string     `json:"genre,omitempty"`
	Department      Department `json:"department"`
	TotalCopies     int        `json:"totalCopies"`
	CheckedOutCount int        `json:"checkedOutCount"`
	AvailableCopies int        `json:"availableCopies"`
	Status          BookStatus `json:"status"`
	ShelfLocation   string     `json:"shelfLocation,omitempty"`
	Tags            []string   `json:"tags,omitempty"`
	AddedDate       time.Time  `json:"addedDate"`
	UpdatedAt       time.Time  `json:"updatedAt"`

	// Version is bumped by every store write and checked on update.
	Version int64 `json:"version"`
}

// Loan is the canonical borrow record.
type Loan struct {
	ID           string          `json:"id"`
	StudentID    string          `json:"studentId"`
	BookID       string          `json:"bookId"`
	IssuedAt     time.Time       `json:"issuedAt"`
	DueDate      time.Time       `json:"dueDate"`
	ReturnedAt   *time.Time      `json:"returnedAt"`
	Status       LoanStatus      `json:"status"`
	FineAmount   decimal.Decimal `json:"fineAmount"`
	RenewalCount int             `json:"renewalCount"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

// IsOpen reports whether the loan still holds a copy.
func (l Loan) IsOpen() bool {
	return l.Status == LoanBorrowed || l.Status == LoanOverdue
}

type Reservation struct {
	ID            string            `json:"id"`
	BookID        string            `json:"bookId"`
	StudentID     string            `json:"studentId"`
	Status        ReservationStatus `json:"status"`
	QueuePosition int               `json:"queuePosition"`
	ExpiryDate    time.Time         `json:"expiryDate"`
	FulfilledAt   *time.Time        `json:"fulfilledAt,omitempty"`
	LoanID        string            `json:"loanId,omitempty"`
	CreatedAt     time.Time         `json:"createdAt"`
	UpdatedAt     time.Time         `json:"updatedAt"`
}

// IsHold reports whether the reservation is fulfilled but not yet picked up.
// A hold keeps one copy counted in the book's CheckedOutCount.
func (r Reservation) IsHold() bool {
	return r.Status == ReservationFulfilled && r.LoanID == ""
}

type Fine struct {
	ID        string          `json:"id"`
	StudentID string          `json:"studentId"`
	LoanID    string          `json:"loanId,omitempty"`
	Amount    decimal.Decimal `json:"amount"`
	Reason    string          `json:"reason"`
	Status    FineStatus      `json:"status"`
	PaidDate  *time.Time      `json:"paidDate,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}

type AuditEntry struct {
	ID        string         `json:"id"`
	Action    AuditAction    `json:"action"`
	BookID    string         `json:"bookId,omitempty"`
	StudentID string         `json:"studentId,omitempty"`
	AdminID   string         `json:"adminId,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	IPAddress string         `json:"ipAddress,omitempty"`
	UserAgent string         `json:"userAgent,omitempty"`
}

// HasReferences reports whether the entry carries any entity reference.
func (e AuditEntry) HasReferences() bool {
	return e.BookID != "" || e.StudentID != "" || e.AdminID != ""
}

// User is a staff account able to sign in.
type User struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Role         Role      `json:"role"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Actor identifies who triggered an operation. It is copied onto the audit
// entries the operation writes.
type Actor struct {
	ID        string
	Role      Role
	IPAddress string
	UserAgent string
}

// System is the actor used by background jobs and tooling.
var System = Actor{Role: RoleAdmin, UserAgent: "library-engine"}

// =============================================================================
// LEGACY VIEW
// =============================================================================

// LegacyTransaction is the read-only shape older clients expect. It is
// always derived from a Loan and never stored.
type LegacyTransaction struct {
	ID         string          `json:"id"`
	Student    string          `json:"student"`
	Book       string          `json:"book"`
	IssueDate  time.Time       `json:"issueDate"`
	DueDate    time.Time       `json:"dueDate"`
	ReturnDate *time.Time      `json:"returnDate"`
	Status     string          `json:"status"`
	Fine       decimal.Decimal `json:"fine"`
}

// Legacy projects a loan onto the legacy transaction shape.
func (l Loan) Legacy() LegacyTransaction {
	status := "Issued"
	switch l.Status {
	case LoanReturned:
		status = "Returned"
	case LoanOverdue:
		status = "Overdue"
	}
	return LegacyTransaction{
		ID:         l.ID,
		Student:    l.StudentID,
		Book:       l.BookID,
		IssueDate:  l.IssuedAt,
		DueDate:    l.DueDate,
		ReturnDate: l.ReturnedAt,
		Status:     status,
		Fine:       l.FineAmount,
	}
}
