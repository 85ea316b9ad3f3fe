/*
catalog.go - Student roster and book catalogue management

PURPOSE:
  CRUD for students and books plus read access to loans, reservations and
  fines. Every write goes through the same validation as the circulation
  workflow and leaves an ADD/UPDATE/DELETE audit entry.

DELETION POLICY:
  RESTRICT, for both students and books. A record that is referenced by
  any loan, reservation or fine cannot be deleted; the caller gets a
  ConflictError. Students who leave are set to Inactive or Graduated
  instead. This keeps the integrity checker from ever finding orphans
  produced by normal use.

FROZEN FIELDS:
  Student.Email, Book.ISBN, Book.AddedDate, Loan.IssuedAt.

SEE ALSO:
  - inventory.go: Book validation and patching
  - tagger.go: Tags derived at book creation
*/
package library

import (
	"context"
	"net/mail"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// STUDENTS
// =============================================================================

// CreateStudent registers a student. Email is normalized to lower case.
func (s *Service) CreateStudent(ctx context.Context, st Student, actor Actor) (Student, error) {
	now := s.Now()
	st.ID = s.newID()
	st.Name = strings.TrimSpace(st.Name)
	st.Email = strings.ToLower(strings.TrimSpace(st.Email))
	if st.Status == "" {
		st.Status = StudentActive
	}
	if st.EnrollmentDate.IsZero() {
		st.EnrollmentDate = now
	}
	st.CreatedAt = now
	st.UpdatedAt = now
	if err := validateStudent(st); err != nil {
		return Student{}, err
	}

	err := s.inTx(ctx, "create-student", func(tx Store) error {
		if err := tx.CreateStudent(ctx, st); err != nil {
			return err
		}
		return s.audit(ctx, tx, actor, ActionAdd, "", st.ID, map[string]any{
			"entity": string(KindStudent),
			"name":   st.Name,
			"email":  st.Email,
		})
	})
	if err != nil {
		return Student{}, err
	}
	return st, nil
}

// StudentPatch carries the fields a client may change. Nil means unchanged.
type StudentPatch struct {
	Name           *string
	Email          *string
	Phone          *string
	Course         *string
	Status         *StudentStatus
	EnrollmentDate *time.Time
	GPA            *float64
	City           *string
	Country        *string
}

// UpdateStudent applies a patch. Changing the email is rejected.
func (s *Service) UpdateStudent(ctx context.Context, id string, p StudentPatch, actor Actor) (Student, error) {
	var out Student
	err := s.inTx(ctx, "update-student", func(tx Store) error {
		existing, err := tx.GetStudent(ctx, id)
		if err != nil {
			return err
		}
		st := existing
		changed := []string{}
		if p.Email != nil && strings.ToLower(strings.TrimSpace(*p.Email)) != existing.Email {
			return &ImmutableError{Kind: KindStudent, Field: "email"}
		}
		if p.Name != nil {
			st.Name = strings.TrimSpace(*p.Name)
			changed = append(changed, "name")
		}
		if p.Phone != nil {
			st.Phone = *p.Phone
			changed = append(changed, "phone")
		}
		if p.Course != nil {
			st.Course = *p.Course
			changed = append(changed, "course")
		}
		if p.Status != nil {
			st.Status = *p.Status
			changed = append(changed, "status")
		}
		if p.EnrollmentDate != nil {
			st.EnrollmentDate = *p.EnrollmentDate
			changed = append(changed, "enrollmentDate")
		}
		if p.GPA != nil {
			st.GPA = p.GPA
			changed = append(changed, "gpa")
		}
		if p.City != nil {
			st.City = *p.City
			changed = append(changed, "city")
		}
		if p.Country != nil {
			st.Country = *p.Country
			changed = append(changed, "country")
		}
		if err := validateStudent(st); err != nil {
			return err
		}
		st.UpdatedAt = s.Now()
		if err := tx.UpdateStudent(ctx, st); err != nil {
			return err
		}
		out = st
		return s.audit(ctx, tx, actor, ActionUpdate, "", st.ID, map[string]any{
			"entity":  string(KindStudent),
			"changed": changed,
		})
	})
	return out, err
}

// DeleteStudent removes a student nothing refers to.
func (s *Service) DeleteStudent(ctx context.Context, id string, actor Actor) error {
	return s.inTx(ctx, "delete-student", func(tx Store) error {
		st, err := tx.GetStudent(ctx, id)
		if err != nil {
			return err
		}
		if n, err := tx.CountLoans(ctx, LoanFilter{StudentID: id}); err != nil {
			return err
		} else if n > 0 {
			return conflict(CodeReferenced, "Student has %d loans on record; set status to Inactive instead", n)
		}
		if rs, err := tx.ListReservations(ctx, ReservationFilter{StudentID: id, Page: Page{Limit: 1}}); err != nil {
			return err
		} else if len(rs) > 0 {
			return conflict(CodeReferenced, "Student has reservations on record; set status to Inactive instead")
		}
		if fs, err := tx.ListFines(ctx, FineFilter{StudentID: id, Page: Page{Limit: 1}}); err != nil {
			return err
		} else if len(fs) > 0 {
			return conflict(CodeReferenced, "Student has fines on record; set status to Inactive instead")
		}
		if err := tx.DeleteStudent(ctx, id); err != nil {
			return err
		}
		// The entry names the student only in metadata so it never dangles.
		return s.audit(ctx, tx, actor, ActionDelete, "", "", map[string]any{
			"entity":    string(KindStudent),
			"studentId": st.ID,
			"email":     st.Email,
		})
	})
}

func (s *Service) GetStudent(ctx context.Context, id string) (Student, error) {
	return s.store.GetStudent(ctx, id)
}

// StudentPage is one page of students plus the unpaged total.
type StudentPage struct {
	Students []Student
	Total    int
}

func (s *Service) ListStudents(ctx context.Context, f StudentFilter) (StudentPage, error) {
	students, err := s.store.ListStudents(ctx, f)
	if err != nil {
		return StudentPage{}, err
	}
	total, err := s.store.CountStudents(ctx, f)
	if err != nil {
		return StudentPage{}, err
	}
	return StudentPage{Students: students, Total: total}, nil
}

func validateStudent(st Student) error {
	if st.Name == "" {
		return invalid("name", "is required")
	}
	if st.Email == "" {
		return invalid("email", "is required")
	}
	if _, err := mail.ParseAddress(st.Email); err != nil {
		return invalid("email", "%q is not a valid address", st.Email)
	}
	if !st.Status.Valid() {
		return invalid("status", "unknown status %q", st.Status)
	}
	if st.GPA != nil && (*st.GPA < 0 || *st.GPA > 10) {
		return invalid("gpa", "must be between 0 and 10")
	}
	return nil
}

// =============================================================================
// BOOKS
// =============================================================================

// CreateBook adds a title to the catalogue. Tags are derived when the
// caller supplies none.
func (s *Service) CreateBook(ctx context.Context, b Book, actor Actor) (Book, error) {
	now := s.Now()
	b.ID = s.newID()
	b.CheckedOutCount = 0
	if err := ValidateBook(&b); err != nil {
		return Book{}, err
	}
	if len(b.Tags) == 0 {
		b.Tags = TagBook(b.Title, b.Department, b.ISBN)
	}
	b.AddedDate = now
	b.UpdatedAt = now
	b.Version = 1

	err := s.inTx(ctx, "create-book", func(tx Store) error {
		if err := tx.CreateBook(ctx, b); err != nil {
			return err
		}
		return s.audit(ctx, tx, actor, ActionAdd, b.ID, "", map[string]any{
			"entity":      string(KindBook),
			"title":       b.Title,
			"isbn":        b.ISBN,
			"totalCopies": b.TotalCopies,
		})
	})
	if err != nil {
		return Book{}, err
	}
	return b, nil
}

// UpdateBook applies a patch through the counter rule.
func (s *Service) UpdateBook(ctx context.Context, id string, p BookPatch, actor Actor) (Book, error) {
	var out Book
	err := s.inTx(ctx, "update-book", func(tx Store) error {
		existing, err := tx.GetBook(ctx, id)
		if err != nil {
			return err
		}
		b, err := ApplyBookPatch(existing, p)
		if err != nil {
			return err
		}
		b.UpdatedAt = s.Now()
		if err := tx.UpdateBook(ctx, b); err != nil {
			return err
		}
		b.Version++
		out = b
		return s.audit(ctx, tx, actor, ActionUpdate, b.ID, "", map[string]any{
			"entity":          string(KindBook),
			"totalCopies":     b.TotalCopies,
			"checkedOutCount": b.CheckedOutCount,
		})
	})
	return out, err
}

// DeleteBook removes a title nothing refers to.
func (s *Service) DeleteBook(ctx context.Context, id string, actor Actor) error {
	return s.inTx(ctx, "delete-book", func(tx Store) error {
		b, err := tx.GetBook(ctx, id)
		if err != nil {
			return err
		}
		if n, err := tx.CountLoans(ctx, LoanFilter{BookID: id}); err != nil {
			return err
		} else if n > 0 {
			return conflict(CodeReferenced, "Book has %d loans on record and cannot be deleted", n)
		}
		if rs, err := tx.ListReservations(ctx, ReservationFilter{BookID: id, Page: Page{Limit: 1}}); err != nil {
			return err
		} else if len(rs) > 0 {
			return conflict(CodeReferenced, "Book has reservations on record and cannot be deleted")
		}
		if err := tx.DeleteBook(ctx, id); err != nil {
			return err
		}
		return s.audit(ctx, tx, actor, ActionDelete, "", "", map[string]any{
			"entity": string(KindBook),
			"bookId": b.ID,
			"title":  b.Title,
			"isbn":   b.ISBN,
		})
	})
}

func (s *Service) GetBook(ctx context.Context, id string) (Book, error) {
	return s.store.GetBook(ctx, id)
}

// BookQuery selects catalogue entries. Overdue limits the result to books
// with at least one overdue loan.
type BookQuery struct {
	Department Department
	Query      string
	Overdue    bool
	Page
}

type BookPage struct {
	Books []Book
	Total int
}

func (s *Service) ListBooks(ctx context.Context, q BookQuery) (BookPage, error) {
	if q.Department != "" && !q.Department.Valid() {
		return BookPage{}, invalid("department", "unknown department %q", q.Department)
	}
	f := BookFilter{Department: q.Department, Query: q.Query, Page: q.Page}
	if q.Overdue {
		ids, err := s.overdueBookIDs(ctx)
		if err != nil {
			return BookPage{}, err
		}
		if len(ids) == 0 {
			return BookPage{Books: []Book{}}, nil
		}
		f.IDs = ids
	}
	books, err := s.store.ListBooks(ctx, f)
	if err != nil {
		return BookPage{}, err
	}
	total, err := s.store.CountBooks(ctx, f)
	if err != nil {
		return BookPage{}, err
	}
	return BookPage{Books: books, Total: total}, nil
}

func (s *Service) overdueBookIDs(ctx context.Context) ([]string, error) {
	overdue, err := s.overdueLoans(ctx)
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	var ids []string
	for _, l := range overdue {
		if !seen[l.BookID] {
			seen[l.BookID] = true
			ids = append(ids, l.BookID)
		}
	}
	return ids, nil
}

// overdueLoans returns open loans past due, whether or not the sweep has
// flagged them yet.
func (s *Service) overdueLoans(ctx context.Context) ([]Loan, error) {
	now := s.Now()
	return s.store.ListLoans(ctx, LoanFilter{Statuses: OpenLoanStatuses, DueBefore: &now})
}

// =============================================================================
// LOANS, RESERVATIONS, FINES
// =============================================================================

func (s *Service) GetLoan(ctx context.Context, id string) (Loan, error) {
	return s.store.GetLoan(ctx, id)
}

type LoanPage struct {
	Loans []Loan
	Total int
}

func (s *Service) ListLoans(ctx context.Context, f LoanFilter) (LoanPage, error) {
	loans, err := s.store.ListLoans(ctx, f)
	if err != nil {
		return LoanPage{}, err
	}
	total, err := s.store.CountLoans(ctx, f)
	if err != nil {
		return LoanPage{}, err
	}
	return LoanPage{Loans: loans, Total: total}, nil
}

func (s *Service) ListReservations(ctx context.Context, f ReservationFilter) ([]Reservation, error) {
	return s.store.ListReservations(ctx, f)
}

func (s *Service) ListFines(ctx context.Context, f FineFilter) ([]Fine, error) {
	return s.store.ListFines(ctx, f)
}

// PayFine settles an unpaid fine.
func (s *Service) PayFine(ctx context.Context, id string, actor Actor) (Fine, error) {
	return s.settleFine(ctx, id, FinePaid, actor)
}

// WaiveFine forgives an unpaid fine.
func (s *Service) WaiveFine(ctx context.Context, id string, actor Actor) (Fine, error) {
	return s.settleFine(ctx, id, FineWaived, actor)
}

func (s *Service) settleFine(ctx context.Context, id string, to FineStatus, actor Actor) (Fine, error) {
	var f Fine
	err := s.inTx(ctx, "settle-fine", func(tx Store) error {
		var err error
		f, err = tx.GetFine(ctx, id)
		if err != nil {
			return err
		}
		if f.Status != FineUnpaid {
			return conflict(CodeFineState, "Fine %s is already %s", f.ID, f.Status)
		}
		f.Status = to
		if to == FinePaid {
			now := s.Now()
			f.PaidDate = &now
		}
		if err := tx.UpdateFine(ctx, f); err != nil {
			return err
		}
		return s.audit(ctx, tx, actor, ActionUpdate, "", f.StudentID, map[string]any{
			"entity": string(KindFine),
			"fineId": f.ID,
			"status": string(to),
			"amount": f.Amount.String(),
		})
	})
	return f, err
}

// outstanding sums the unpaid fines in fs.
func outstanding(fs []Fine) decimal.Decimal {
	total := decimal.Zero
	for _, f := range fs {
		if f.Status == FineUnpaid {
			total = total.Add(f.Amount)
		}
	}
	return total
}
