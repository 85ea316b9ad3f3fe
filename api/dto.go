/*
dto.go - Request bodies for the HTTP API

PURPOSE:
  Defines the JSON shapes clients send. Struct tags drive validation
  (go-playground/validator) so handlers only see well-formed input; the
  library still enforces every business rule on its own.

  Responses reuse the library records directly. Their JSON tags are the
  wire contract.

NAMING CONVENTION:
  - *Request: Request body types from clients
  - *Response: Response payloads that are not a library record

SEE ALSO:
  - handlers.go: Uses these types
  - response.go: Envelope and validation error formatting
*/
package api

import (
	"time"

	"github.com/warp/library-engine/library"
)

// =============================================================================
// AUTH
// =============================================================================

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type LoginResponse struct {
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expiresAt"`
	User      library.User `json:"user"`
}

// =============================================================================
// STUDENTS
// =============================================================================

type CreateStudentRequest struct {
	Name           string     `json:"name" validate:"required,max=200"`
	Email          string     `json:"email" validate:"required,email"`
	Phone          string     `json:"phone" validate:"max=40"`
	Course         string     `json:"course" validate:"max=200"`
	Status         string     `json:"status" validate:"omitempty,oneof=Active Inactive Suspended Graduated"`
	EnrollmentDate *time.Time `json:"enrollmentDate"`
	GPA            *float64   `json:"gpa" validate:"omitempty,gte=0,lte=10"`
	City           string     `json:"city" validate:"max=100"`
	Country        string     `json:"country" validate:"max=100"`
}

func (r CreateStudentRequest) toStudent() library.Student {
	st := library.Student{
		Name:    r.Name,
		Email:   r.Email,
		Phone:   r.Phone,
		Course:  r.Course,
		Status:  library.StudentStatus(r.Status),
		GPA:     r.GPA,
		City:    r.City,
		Country: r.Country,
	}
	if r.EnrollmentDate != nil {
		st.EnrollmentDate = *r.EnrollmentDate
	}
	return st
}

// UpdateStudentRequest is a partial update. Absent fields are unchanged.
type UpdateStudentRequest struct {
	Name           *string    `json:"name" validate:"omitempty,min=1,max=200"`
	Email          *string    `json:"email" validate:"omitempty,email"`
	Phone          *string    `json:"phone" validate:"omitempty,max=40"`
	Course         *string    `json:"course" validate:"omitempty,max=200"`
	Status         *string    `json:"status" validate:"omitempty,oneof=Active Inactive Suspended Graduated"`
	EnrollmentDate *time.Time `json:"enrollmentDate"`
	GPA            *float64   `json:"gpa" validate:"omitempty,gte=0,lte=10"`
	City           *string    `json:"city" validate:"omitempty,max=100"`
	Country        *string    `json:"country" validate:"omitempty,max=100"`
}

func (r UpdateStudentRequest) toPatch() library.StudentPatch {
	p := library.StudentPatch{
		Name:           r.Name,
		Email:          r.Email,
		Phone:          r.Phone,
		Course:         r.Course,
		EnrollmentDate: r.EnrollmentDate,
		GPA:            r.GPA,
		City:           r.City,
		Country:        r.Country,
	}
	if r.Status != nil {
		s := library.StudentStatus(*r.Status)
		p.Status = &s
	}
	return p
}

// =============================================================================
// BOOKS
// =============================================================================

type CreateBookRequest struct {
	Title         string   `json:"title" validate:"required,max=300"`
	Author        string   `json:"author" validate:"required,max=200"`
	ISBN          string   `json:"isbn" validate:"required,max=20"`
	Genre         string   `json:"genre" validate:"max=100"`
	Department    string   `json:"department" validate:"required"`
	TotalCopies   int      `json:"totalCopies" validate:"gte=0"`
	ShelfLocation string   `json:"shelfLocation" validate:"max=50"`
	Tags          []string `json:"tags" validate:"omitempty,dive,max=50"`
}

func (r CreateBookRequest) toBook() library.Book {
	return library.Book{
		Title:         r.Title,
		Author:        r.Author,
		ISBN:          r.ISBN,
		Genre:         r.Genre,
		Department:    library.Department(r.Department),
		TotalCopies:   r.TotalCopies,
		ShelfLocation: r.ShelfLocation,
		Tags:          r.Tags,
	}
}

// UpdateBookRequest is a partial update. AvailableCopies is accepted only
// so older clients do not fail; it is always recomputed.
type UpdateBookRequest struct {
	Title           *string `json:"title" validate:"omitempty,min=1,max=300"`
	Author          *string `json:"author" validate:"omitempty,min=1,max=200"`
	ISBN            *string `json:"isbn" validate:"omitempty,min=1,max=20"`
	Genre           *string `json:"genre" validate:"omitempty,max=100"`
	Department      *string `json:"department"`
	Status          *string `json:"status"`
	TotalCopies     *int    `json:"totalCopies" validate:"omitempty,gte=0"`
	CheckedOutCount *int    `json:"checkedOutCount" validate:"omitempty,gte=0"`
	AvailableCopies *int    `json:"availableCopies"`
	ShelfLocation   *string `json:"shelfLocation" validate:"omitempty,max=50"`
	AddedDate       *string `json:"addedDate"`
}

func (r UpdateBookRequest) toPatch() library.BookPatch {
	p := library.BookPatch{
		Title:           r.Title,
		Author:          r.Author,
		ISBN:            r.ISBN,
		Genre:           r.Genre,
		TotalCopies:     r.TotalCopies,
		CheckedOutCount: r.CheckedOutCount,
		ShelfLocation:   r.ShelfLocation,
		AddedDate:       r.AddedDate,
	}
	if r.Department != nil {
		d := library.Department(*r.Department)
		p.Department = &d
	}
	if r.Status != nil {
		s := library.BookStatus(*r.Status)
		p.Status = &s
	}
	return p
}

// =============================================================================
// CIRCULATION
// =============================================================================

type IssueBookRequest struct {
	BookID    string `json:"bookId" validate:"required"`
	StudentID string `json:"studentId" validate:"required"`
	Days      int    `json:"days" validate:"omitempty,gte=1,lte=365"`
}

type ReturnBookRequest struct {
	TransactionID string `json:"transactionId" validate:"required"`
}

type RenewBookRequest struct {
	TransactionID string `json:"transactionId" validate:"required"`
	Days          int    `json:"days" validate:"omitempty,gte=1,lte=365"`
}

type ReserveBookRequest struct {
	BookID    string `json:"bookId" validate:"required"`
	StudentID string `json:"studentId" validate:"required"`
}

// =============================================================================
// SYSTEM
// =============================================================================

// BroadcastRequest is an announcement to every Active student. Empty
// fields fall back to a generic text.
type BroadcastRequest struct {
	Subject string `json:"subject" validate:"max=200"`
	Message string `json:"message" validate:"max=5000"`
}

// ReconcileRequest may carry dryRun in the body as well as the query.
type ReconcileRequest struct {
	DryRun bool `json:"dryRun"`
}

type ServiceHealthResponse struct {
	Status string    `json:"status"`
	Time   time.Time `json:"time"`
	Store  string    `json:"store"`
}
