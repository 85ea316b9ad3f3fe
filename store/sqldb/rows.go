package sqldb

import (
	"database/sql"
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/shopspring/decimal"
	"github.com/warp/library-engine/library"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// timeLayout is fixed width so that string comparison orders by instant.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func fmtTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		// Rows written by other tools may use plain RFC 3339.
		t, err = time.Parse(time.RFC3339Nano, s)
	}
	return t.UTC(), err
}

func fmtNullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: fmtTime(*t), Valid: true}
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// =============================================================================
// ROW TYPES - db tags drive both goqu inserts and sqlx scans
// =============================================================================

type studentRow struct {
	ID             string          `db:"id"`
	Name           string          `db:"name"`
	Email          string          `db:"email"`
	Phone          string          `db:"phone"`
	Course         string          `db:"course"`
	Status         string          `db:"status"`
	EnrollmentDate string          `db:"enrollment_date"`
	GPA            sql.NullFloat64 `db:"gpa"`
	City           string          `db:"city"`
	Country        string          `db:"country"`
	CreatedAt      string          `db:"created_at"`
	UpdatedAt      string          `db:"updated_at"`
}

func studentToRow(s library.Student) studentRow {
	r := studentRow{
		ID:             s.ID,
		Name:           s.Name,
		Email:          s.Email,
		Phone:          s.Phone,
		Course:         s.Course,
		Status:         string(s.Status),
		EnrollmentDate: fmtTime(s.EnrollmentDate),
		City:           s.City,
		Country:        s.Country,
		CreatedAt:      fmtTime(s.CreatedAt),
		UpdatedAt:      fmtTime(s.UpdatedAt),
	}
	if s.GPA != nil {
		r.GPA = sql.NullFloat64{Float64: *s.GPA, Valid: true}
	}
	return r
}

func (r studentRow) toStudent() (library.Student, error) {
	s := library.Student{
		ID:      r.ID,
		Name:    r.Name,
		Email:   r.Email,
		Phone:   r.Phone,
		Course:  r.Course,
		Status:  library.StudentStatus(r.Status),
		City:    r.City,
		Country: r.Country,
	}
	var err error
	if s.EnrollmentDate, err = parseTime(r.EnrollmentDate); err != nil {
		return s, fmt.Errorf("student %s enrollment_date: %w", r.ID, err)
	}
	if s.CreatedAt, err = parseTime(r.CreatedAt); err != nil {
		return s, fmt.Errorf("student %s created_at: %w", r.ID, err)
	}
	if s.UpdatedAt, err = parseTime(r.UpdatedAt); err != nil {
		return s, fmt.Errorf("student %s updated_at: %w", r.ID, err)
	}
	if r.GPA.Valid {
		g := r.GPA.Float64
		s.GPA = &g
	}
	return s, nil
}

type bookRow struct {
	ID              string         `db:"id"`
	Title           string         `db:"title"`
	Author          string         `db:"author"`
	ISBN            string         `db:"isbn"`
	Genre           string         `db:"genre"`
	Department      string         `db:"department"`
	TotalCopies     int            `db:"total_copies"`
	CheckedOutCount int            `db:"checked_out_count"`
	AvailableCopies int            `db:"available_copies"`
	Status          string         `db:"status"`
	ShelfLocation   string         `db:"shelf_location"`
	Tags            sql.NullString `db:"tags"`
	AddedDate       string         `db:"added_date"`
	UpdatedAt       string         `db:"updated_at"`
	Version         int64          `db:"version"`
}

func bookToRow(b library.Book) (bookRow, error) {
	r := bookRow{
		ID:              b.ID,
		Title:           b.Title,
		Author:          b.Author,
		ISBN:            b.ISBN,
		Genre:           b.Genre,
		Department:      string(b.Department),
		TotalCopies:     b.TotalCopies,
		CheckedOutCount: b.CheckedOutCount,
		AvailableCopies: b.AvailableCopies,
		Status:          string(b.Status),
		ShelfLocation:   b.ShelfLocation,
		AddedDate:       fmtTime(b.AddedDate),
		UpdatedAt:       fmtTime(b.UpdatedAt),
		Version:         b.Version,
	}
	if b.Tags != nil {
		raw, err := json.Marshal(b.Tags)
		if err != nil {
			return r, fmt.Errorf("encode tags: %w", err)
		}
		r.Tags = sql.NullString{String: string(raw), Valid: true}
	}
	return r, nil
}

func (r bookRow) toBook() (library.Book, error) {
	b := library.Book{
		ID:              r.ID,
		Title:           r.Title,
		Author:          r.Author,
		ISBN:            r.ISBN,
		Genre:           r.Genre,
		Department:      library.Department(r.Department),
		TotalCopies:     r.TotalCopies,
		CheckedOutCount: r.CheckedOutCount,
		AvailableCopies: r.AvailableCopies,
		Status:          library.BookStatus(r.Status),
		ShelfLocation:   r.ShelfLocation,
		Version:         r.Version,
	}
	var err error
	if b.AddedDate, err = parseTime(r.AddedDate); err != nil {
		return b, fmt.Errorf("book %s added_date: %w", r.ID, err)
	}
	if b.UpdatedAt, err = parseTime(r.UpdatedAt); err != nil {
		return b, fmt.Errorf("book %s updated_at: %w", r.ID, err)
	}
	if r.Tags.Valid {
		if err := json.Unmarshal([]byte(r.Tags.String), &b.Tags); err != nil {
			return b, fmt.Errorf("book %s tags: %w", r.ID, err)
		}
	}
	return b, nil
}

type loanRow struct {
	ID           string         `db:"id"`
	StudentID    string         `db:"student_id"`
	BookID       string         `db:"book_id"`
	IssuedAt     string         `db:"issued_at"`
	DueDate      string         `db:"due_date"`
	ReturnedAt   sql.NullString `db:"returned_at"`
	Status       string         `db:"status"`
	FineAmount   string         `db:"fine_amount"`
	RenewalCount int            `db:"renewal_count"`
	UpdatedAt    string         `db:"updated_at"`
}

func loanToRow(l library.Loan) loanRow {
	return loanRow{
		ID:           l.ID,
		StudentID:    l.StudentID,
		BookID:       l.BookID,
		IssuedAt:     fmtTime(l.IssuedAt),
		DueDate:      fmtTime(l.DueDate),
		ReturnedAt:   fmtNullTime(l.ReturnedAt),
		Status:       string(l.Status),
		FineAmount:   l.FineAmount.String(),
		RenewalCount: l.RenewalCount,
		UpdatedAt:    fmtTime(l.UpdatedAt),
	}
}

func (r loanRow) toLoan() (library.Loan, error) {
	l := library.Loan{
		ID:           r.ID,
		StudentID:    r.StudentID,
		BookID:       r.BookID,
		Status:       library.LoanStatus(r.Status),
		RenewalCount: r.RenewalCount,
	}
	var err error
	if l.IssuedAt, err = parseTime(r.IssuedAt); err != nil {
		return l, fmt.Errorf("loan %s issued_at: %w", r.ID, err)
	}
	if l.DueDate, err = parseTime(r.DueDate); err != nil {
		return l, fmt.Errorf("loan %s due_date: %w", r.ID, err)
	}
	if l.UpdatedAt, err = parseTime(r.UpdatedAt); err != nil {
		return l, fmt.Errorf("loan %s updated_at: %w", r.ID, err)
	}
	if l.ReturnedAt, err = parseNullTime(r.ReturnedAt); err != nil {
		return l, fmt.Errorf("loan %s returned_at: %w", r.ID, err)
	}
	if l.FineAmount, err = decimal.NewFromString(r.FineAmount); err != nil {
		return l, fmt.Errorf("loan %s fine_amount: %w", r.ID, err)
	}
	return l, nil
}

type reservationRow struct {
	ID            string         `db:"id"`
	BookID        string         `db:"book_id"`
	StudentID     string         `db:"student_id"`
	Status        string         `db:"status"`
	QueuePosition int            `db:"queue_position"`
	ExpiryDate    string         `db:"expiry_date"`
	FulfilledAt   sql.NullString `db:"fulfilled_at"`
	LoanID        string         `db:"loan_id"`
	CreatedAt     string         `db:"created_at"`
	UpdatedAt     string         `db:"updated_at"`
}

func reservationToRow(r library.Reservation) reservationRow {
	return reservationRow{
		ID:            r.ID,
		BookID:        r.BookID,
		StudentID:     r.StudentID,
		Status:        string(r.Status),
		QueuePosition: r.QueuePosition,
		ExpiryDate:    fmtTime(r.ExpiryDate),
		FulfilledAt:   fmtNullTime(r.FulfilledAt),
		LoanID:        r.LoanID,
		CreatedAt:     fmtTime(r.CreatedAt),
		UpdatedAt:     fmtTime(r.UpdatedAt),
	}
}

func (r reservationRow) toReservation() (library.Reservation, error) {
	res := library.Reservation{
		ID:            r.ID,
		BookID:        r.BookID,
		StudentID:     r.StudentID,
		Status:        library.ReservationStatus(r.Status),
		QueuePosition: r.QueuePosition,
		LoanID:        r.LoanID,
	}
	var err error
	if res.ExpiryDate, err = parseTime(r.ExpiryDate); err != nil {
		return res, fmt.Errorf("reservation %s expiry_date: %w", r.ID, err)
	}
	if res.CreatedAt, err = parseTime(r.CreatedAt); err != nil {
		return res, fmt.Errorf("reservation %s created_at: %w", r.ID, err)
	}
	if res.UpdatedAt, err = parseTime(r.UpdatedAt); err != nil {
		return res, fmt.Errorf("reservation %s updated_at: %w", r.ID, err)
	}
	if res.FulfilledAt, err = parseNullTime(r.FulfilledAt); err != nil {
		return res, fmt.Errorf("reservation %s fulfilled_at: %w", r.ID, err)
	}
	return res, nil
}

type fineRow struct {
	ID        string         `db:"id"`
	StudentID string         `db:"student_id"`
	LoanID    string         `db:"loan_id"`
	Amount    string         `db:"amount"`
	Reason    string         `db:"reason"`
	Status    string         `db:"status"`
	PaidDate  sql.NullString `db:"paid_date"`
	CreatedAt string         `db:"created_at"`
}

func fineToRow(f library.Fine) fineRow {
	return fineRow{
		ID:        f.ID,
		StudentID: f.StudentID,
		LoanID:    f.LoanID,
		Amount:    f.Amount.String(),
		Reason:    f.Reason,
		Status:    string(f.Status),
		PaidDate:  fmtNullTime(f.PaidDate),
		CreatedAt: fmtTime(f.CreatedAt),
	}
}

func (r fineRow) toFine() (library.Fine, error) {
	f := library.Fine{
		ID:        r.ID,
		StudentID: r.StudentID,
		LoanID:    r.LoanID,
		Reason:    r.Reason,
		Status:    library.FineStatus(r.Status),
	}
	var err error
	if f.Amount, err = decimal.NewFromString(r.Amount); err != nil {
		return f, fmt.Errorf("fine %s amount: %w", r.ID, err)
	}
	if f.CreatedAt, err = parseTime(r.CreatedAt); err != nil {
		return f, fmt.Errorf("fine %s created_at: %w", r.ID, err)
	}
	if f.PaidDate, err = parseNullTime(r.PaidDate); err != nil {
		return f, fmt.Errorf("fine %s paid_date: %w", r.ID, err)
	}
	return f, nil
}

type auditRow struct {
	ID        string         `db:"id"`
	Action    string         `db:"action"`
	BookID    string         `db:"book_id"`
	StudentID string         `db:"student_id"`
	AdminID   string         `db:"admin_id"`
	Metadata  sql.NullString `db:"metadata"`
	Timestamp string         `db:"occurred_at"`
	IPAddress string         `db:"ip_address"`
	UserAgent string         `db:"user_agent"`
}

func auditToRow(e library.AuditEntry) (auditRow, error) {
	r := auditRow{
		ID:        e.ID,
		Action:    string(e.Action),
		BookID:    e.BookID,
		StudentID: e.StudentID,
		AdminID:   e.AdminID,
		Timestamp: fmtTime(e.Timestamp),
		IPAddress: e.IPAddress,
		UserAgent: e.UserAgent,
	}
	if e.Metadata != nil {
		raw, err := json.Marshal(e.Metadata)
		if err != nil {
			return r, fmt.Errorf("encode metadata: %w", err)
		}
		r.Metadata = sql.NullString{String: string(raw), Valid: true}
	}
	return r, nil
}

func (r auditRow) toAudit() (library.AuditEntry, error) {
	e := library.AuditEntry{
		ID:        r.ID,
		Action:    library.AuditAction(r.Action),
		BookID:    r.BookID,
		StudentID: r.StudentID,
		AdminID:   r.AdminID,
		IPAddress: r.IPAddress,
		UserAgent: r.UserAgent,
	}
	var err error
	if e.Timestamp, err = parseTime(r.Timestamp); err != nil {
		return e, fmt.Errorf("audit %s timestamp: %w", r.ID, err)
	}
	if r.Metadata.Valid {
		if err := json.Unmarshal([]byte(r.Metadata.String), &e.Metadata); err != nil {
			return e, fmt.Errorf("audit %s metadata: %w", r.ID, err)
		}
	}
	return e, nil
}

type userRow struct {
	ID           string `db:"id"`
	Name         string `db:"name"`
	Email        string `db:"email"`
	PasswordHash string `db:"password_hash"`
	Role         string `db:"role"`
	CreatedAt    string `db:"created_at"`
}

func userToRow(u library.User) userRow {
	return userRow{
		ID:           u.ID,
		Name:         u.Name,
		Email:        u.Email,
		PasswordHash: u.PasswordHash,
		Role:         string(u.Role),
		CreatedAt:    fmtTime(u.CreatedAt),
	}
}

func (r userRow) toUser() (library.User, error) {
	u := library.User{
		ID:           r.ID,
		Name:         r.Name,
		Email:        r.Email,
		PasswordHash: r.PasswordHash,
		Role:         library.Role(r.Role),
	}
	var err error
	if u.CreatedAt, err = parseTime(r.CreatedAt); err != nil {
		return u, fmt.Errorf("user %s created_at: %w", r.ID, err)
	}
	return u, nil
}
