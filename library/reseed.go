/*
reseed.go - Deterministic demo data

PURPOSE:
  Wipes the store and rebuilds a small, referentially clean data set.
  Every record is created through the same operations the API uses, so
  counters, queues, fines and audit entries are consistent by construction.

ORDER:
  1. Clear every collection (ledger included)
  2. Students
  3. Books
  4. Loans, issued at backdated times
  5. Overdue sweep
  6. Returns of some overdue loans (produces fines)
  7. Reservations on books that ran out of copies
  8. Integrity scan. Any orphan fails the reseed.

  A committed reseed is one transaction. If any step fails, the integrity
  scan included, everything rolls back and the old data stays in place.
  No mail is sent while seeding.

DRY RUN:
  Counts what would be cleared and what would be seeded. Writes nothing.

SEE ALSO:
  - cmd/libraryctl: reseed command
*/
package library

import (
	"context"
	"fmt"
	"math/rand"
	"time"
)

// ReseedOptions controls the generated data set.
type ReseedOptions struct {
	Commit   bool
	Students int   // default 50
	Books    int   // default 30
	Seed     int64 // default 42
}

func (o *ReseedOptions) defaults() {
	if o.Students <= 0 {
		o.Students = 50
	}
	if o.Books <= 0 {
		o.Books = 30
	}
	if o.Seed == 0 {
		o.Seed = 42
	}
}

// ReseedResult summarises a reseed.
type ReseedResult struct {
	DryRun    bool               `json:"dryRun"`
	Cleared   map[EntityKind]int `json:"cleared"`
	Seeded    map[EntityKind]int `json:"seeded"`
	Skipped   int                `json:"skipped"`
	Integrity *IntegrityReport   `json:"integrity,omitempty"`
}

var (
	seedFirstNames = []string{"John", "Jane", "Michael", "Sarah", "David", "Emily", "James", "Jessica", "Robert", "Amanda"}
	seedLastNames  = []string{"Smith", "Johnson", "Williams", "Brown", "Jones", "Garcia", "Miller", "Davis", "Rodriguez", "Martinez"}
	seedCourses    = []string{"Computer Science", "Electrical", "Mechanical", "Civil", "Business"}
	seedCities     = []string{"New York", "Boston", "Chicago", "San Francisco", "Austin"}
	seedTitles     = []string{"Database Systems", "Algorithms", "Web Development", "Machine Learning", "Cloud Computing",
		"Data Science", "Cybersecurity", "DevOps", "Microservices", "React Fundamentals"}
	seedAuthors     = []string{"Jane Doe", "John Smith", "Robert Johnson", "Sarah Williams", "Michael Brown"}
	seedDepartments = []Department{DeptComputerScience, DeptElectrical, DeptMechanical, DeptCivil, DeptBusiness}
)

// Reseed clears the store and regenerates demo data. Without Commit it only
// reports what it would do.
func (s *Service) Reseed(ctx context.Context, opts ReseedOptions) (ReseedResult, error) {
	opts.defaults()
	res := ReseedResult{
		DryRun:  !opts.Commit,
		Cleared: map[EntityKind]int{},
		Seeded:  map[EntityKind]int{},
	}
	for _, k := range AllKinds {
		n, err := s.store.Count(ctx, k)
		if err != nil {
			return res, err
		}
		res.Cleared[k] = n
	}
	if !opts.Commit {
		res.Seeded[KindStudent] = opts.Students
		res.Seeded[KindBook] = opts.Books
		s.log.Info("reseed dry run", "students", opts.Students, "books", opts.Books)
		return res, nil
	}

	err := s.store.WithTx(ctx, func(tx Store) error {
		return s.staged(tx).seed(ctx, opts, &res)
	})
	if err != nil {
		res.Seeded = map[EntityKind]int{}
		s.log.Error("reseed rolled back, store unchanged", "error", err)
		return res, err
	}
	s.log.Info("reseed complete", "seeded", res.Seeded, "skipped", res.Skipped)
	return res, nil
}

// seed runs every step of a committed reseed on one transaction.
func (s *Service) seed(ctx context.Context, opts ReseedOptions, res *ReseedResult) error {
	if err := s.store.Reset(ctx); err != nil {
		return fmt.Errorf("reset store: %w", err)
	}
	s.log.Warn("store cleared for reseed", "cleared", res.Cleared)

	rng := rand.New(rand.NewSource(opts.Seed))
	now := s.Now()

	students := make([]Student, 0, opts.Students)
	for i := 0; i < opts.Students; i++ {
		gpa := float64(200+rng.Intn(201)) / 100
		st, err := s.CreateStudent(ctx, Student{
			Name:    pick(rng, seedFirstNames) + " " + pick(rng, seedLastNames),
			Email:   fmt.Sprintf("student%d@university.edu", i),
			Phone:   fmt.Sprintf("555-%04d", 1000+i),
			Course:  pick(rng, seedCourses),
			GPA:     &gpa,
			City:    pick(rng, seedCities),
			Country: "USA",
		}, System)
		if err != nil {
			return fmt.Errorf("seed student %d: %w", i, err)
		}
		students = append(students, st)
	}
	res.Seeded[KindStudent] = len(students)

	books := make([]Book, 0, opts.Books)
	for i := 0; i < opts.Books; i++ {
		b, err := s.CreateBook(ctx, Book{
			Title:       fmt.Sprintf("%s - Edition %d", seedTitles[i%len(seedTitles)], i/len(seedTitles)+1),
			Author:      seedAuthors[i%len(seedAuthors)],
			ISBN:        fmt.Sprintf("978-0-%06d-X", 100000+i),
			Department:  seedDepartments[i%len(seedDepartments)],
			TotalCopies: 1 + rng.Intn(5),
		}, System)
		if err != nil {
			return fmt.Errorf("seed book %d: %w", i, err)
		}
		books = append(books, b)
	}
	res.Seeded[KindBook] = len(books)
	if len(students) == 0 || len(books) == 0 {
		return nil
	}

	// Loans are issued through a clone whose clock points into the past.
	loans := 0
	for i := 0; i < opts.Students*6/10; i++ {
		st, b := students[rng.Intn(len(students))], books[rng.Intn(len(books))]
		at := now.Add(-time.Duration(rng.Intn(30*24)) * time.Hour)
		_, err := s.at(at).Issue(ctx, IssueRequest{BookID: b.ID, StudentID: st.ID, Days: 14, Actor: System})
		if IsClientError(err) {
			res.Skipped++
			continue
		}
		if err != nil {
			return fmt.Errorf("seed loan: %w", err)
		}
		loans++
	}
	res.Seeded[KindLoan] = loans

	if _, err := s.SweepOverdue(ctx); err != nil {
		return fmt.Errorf("seed overdue states: %w", err)
	}

	overdue, err := s.store.ListLoans(ctx, LoanFilter{Statuses: []LoanStatus{LoanOverdue}})
	if err != nil {
		return err
	}
	fines := 0
	for i, l := range overdue {
		if i%2 == 1 {
			continue
		}
		r, err := s.Return(ctx, l.ID, System)
		if err != nil {
			return fmt.Errorf("seed return of %s: %w", l.ID, err)
		}
		if r.Fine != nil {
			fines++
		}
	}
	res.Seeded[KindFine] = fines

	reservations := 0
	for i := 0; i < opts.Students*3/10; i++ {
		st, b := students[rng.Intn(len(students))], books[rng.Intn(len(books))]
		_, err := s.Reserve(ctx, b.ID, st.ID, System)
		if IsClientError(err) {
			res.Skipped++
			continue
		}
		if err != nil {
			return fmt.Errorf("seed reservation: %w", err)
		}
		reservations++
	}
	res.Seeded[KindReservation] = reservations

	if res.Seeded[KindAudit], err = s.store.Count(ctx, KindAudit); err != nil {
		return err
	}

	rep, err := s.Checker().Scan(ctx)
	if err != nil {
		return err
	}
	res.Integrity = &rep
	if !rep.Clean() {
		return fmt.Errorf("%w: %d orphan records after reseed", ErrIntegrity, rep.OrphanCount())
	}
	return nil
}

// staged returns a copy of the service whose units of work all join tx and
// which sends no mail. Nothing it writes is visible until tx commits.
func (s *Service) staged(tx Store) *Service {
	c := *s
	c.store = joinedTx{tx}
	c.notifier = nil
	return &c
}

// joinedTx runs nested units of work on an already open transaction.
type joinedTx struct {
	Store
}

func (j joinedTx) WithTx(_ context.Context, fn func(Store) error) error {
	return fn(j.Store)
}

// at returns a shallow copy of the service whose clock is frozen at t.
func (s *Service) at(t time.Time) *Service {
	c := *s
	c.now = func() time.Time { return t }
	return &c
}

func pick[T any](rng *rand.Rand, xs []T) T {
	return xs[rng.Intn(len(xs))]
}
