package library

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"
)

// PopularBook is one entry of the most-borrowed list.
type PopularBook struct {
	BookID  string `json:"bookId"`
	Title   string `json:"title"`
	Author  string `json:"author"`
	Borrows int    `json:"borrows"`
}

// Analytics is the dashboard summary.
type Analytics struct {
	TotalBooks             int                `json:"totalBooks"`
	TotalCopies            int                `json:"totalCopies"`
	TotalStudents          int                `json:"totalStudents"`
	ActiveLoans            int                `json:"activeLoans"`
	BorrowedToday          int                `json:"borrowedToday"`
	OverdueCount           int                `json:"overdueCount"`
	PopularBooks           []PopularBook      `json:"popularBooks"`
	DepartmentDistribution map[Department]int `json:"deptDist"`
	TotalFines             decimal.Decimal    `json:"totalFine"`
	OutstandingFines       decimal.Decimal    `json:"outstandingFine"`
	ReservationQueue       int                `json:"reservationQueue"`
}

const popularLimit = 5

// Analytics computes the dashboard numbers.
func (s *Service) Analytics(ctx context.Context) (Analytics, error) {
	var a Analytics
	books, err := s.store.ListBooks(ctx, BookFilter{})
	if err != nil {
		return a, err
	}
	a.TotalBooks = len(books)
	a.DepartmentDistribution = map[Department]int{}
	byID := make(map[string]Book, len(books))
	for _, b := range books {
		a.TotalCopies += b.TotalCopies
		a.DepartmentDistribution[b.Department]++
		byID[b.ID] = b
	}

	if a.TotalStudents, err = s.store.Count(ctx, KindStudent); err != nil {
		return a, err
	}
	if a.ActiveLoans, err = s.store.CountLoans(ctx, LoanFilter{Statuses: OpenLoanStatuses}); err != nil {
		return a, err
	}
	today := startOfDay(s.Now())
	if a.BorrowedToday, err = s.store.CountLoans(ctx, LoanFilter{IssuedAfter: &today}); err != nil {
		return a, err
	}
	overdue, err := s.overdueLoans(ctx)
	if err != nil {
		return a, err
	}
	a.OverdueCount = len(overdue)

	loans, err := s.store.ListLoans(ctx, LoanFilter{})
	if err != nil {
		return a, err
	}
	borrows := map[string]int{}
	for _, l := range loans {
		borrows[l.BookID]++
	}
	a.PopularBooks = []PopularBook{}
	for id, n := range borrows {
		b, ok := byID[id]
		if !ok {
			continue
		}
		a.PopularBooks = append(a.PopularBooks, PopularBook{BookID: id, Title: b.Title, Author: b.Author, Borrows: n})
	}
	sort.Slice(a.PopularBooks, func(i, j int) bool {
		if a.PopularBooks[i].Borrows != a.PopularBooks[j].Borrows {
			return a.PopularBooks[i].Borrows > a.PopularBooks[j].Borrows
		}
		return a.PopularBooks[i].Title < a.PopularBooks[j].Title
	})
	if len(a.PopularBooks) > popularLimit {
		a.PopularBooks = a.PopularBooks[:popularLimit]
	}

	fines, err := s.store.ListFines(ctx, FineFilter{})
	if err != nil {
		return a, err
	}
	a.TotalFines = decimal.Zero
	for _, f := range fines {
		a.TotalFines = a.TotalFines.Add(f.Amount)
	}
	a.OutstandingFines = outstanding(fines)

	active, err := s.store.ListReservations(ctx, ReservationFilter{Statuses: []ReservationStatus{ReservationActive}})
	if err != nil {
		return a, err
	}
	a.ReservationQueue = len(active)
	return a, nil
}

// Profile is everything the desk needs to know about one student.
type Profile struct {
	Student          Student         `json:"student"`
	ActiveLoans      []Loan          `json:"activeLoans"`
	PastLoans        []Loan          `json:"pastLoans"`
	Fines            []Fine          `json:"fines"`
	OutstandingFines decimal.Decimal `json:"outstandingFine"`
	Reservations     []Reservation   `json:"reservations"`
	AuditLogs        []AuditEntry    `json:"auditLogs"`
}

const (
	profilePastLoans = 10
	profileAuditLogs = 20
)

// Profile gathers a student's loans, fines, reservations and recent
// activity.
func (s *Service) Profile(ctx context.Context, studentID string) (Profile, error) {
	st, err := s.store.GetStudent(ctx, studentID)
	if err != nil {
		return Profile{}, err
	}
	p := Profile{Student: st}
	if p.ActiveLoans, err = s.store.ListLoans(ctx, LoanFilter{StudentID: studentID, Statuses: OpenLoanStatuses}); err != nil {
		return Profile{}, err
	}
	if p.PastLoans, err = s.store.ListLoans(ctx, LoanFilter{
		StudentID: studentID,
		Statuses:  []LoanStatus{LoanReturned},
		Page:      Page{Limit: profilePastLoans},
	}); err != nil {
		return Profile{}, err
	}
	if p.Fines, err = s.store.ListFines(ctx, FineFilter{StudentID: studentID}); err != nil {
		return Profile{}, err
	}
	p.OutstandingFines = outstanding(p.Fines)
	if p.Reservations, err = s.store.ListReservations(ctx, ReservationFilter{
		StudentID: studentID,
		Statuses:  []ReservationStatus{ReservationActive, ReservationFulfilled},
	}); err != nil {
		return Profile{}, err
	}
	if p.AuditLogs, err = s.store.QueryAudit(ctx, AuditFilter{StudentID: studentID, Page: Page{Limit: profileAuditLogs}}); err != nil {
		return Profile{}, err
	}
	return p, nil
}
