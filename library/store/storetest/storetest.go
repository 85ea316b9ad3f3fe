// Package storetest is the behavioural contract every library.TxStore
// implementation must pass. Backends call Run from their own tests.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/library-engine/library"
)

// Factory returns an empty store. Cleanup is the caller's business.
type Factory func(t *testing.T) library.TxStore

var base = time.Date(2025, time.March, 3, 10, 0, 0, 0, time.UTC)

// Run executes the full contract against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("Students", func(t *testing.T) { testStudents(t, newStore(t)) })
	t.Run("Books", func(t *testing.T) { testBooks(t, newStore(t)) })
	t.Run("Loans", func(t *testing.T) { testLoans(t, newStore(t)) })
	t.Run("ReservationsAndFines", func(t *testing.T) { testReservationsAndFines(t, newStore(t)) })
	t.Run("Audit", func(t *testing.T) { testAudit(t, newStore(t)) })
	t.Run("Users", func(t *testing.T) { testUsers(t, newStore(t)) })
	t.Run("Transactions", func(t *testing.T) { testTransactions(t, newStore(t)) })
	t.Run("Reset", func(t *testing.T) { testReset(t, newStore(t)) })
}

// =============================================================================
// FIXTURES
// =============================================================================

func student(id, name, email string) library.Student {
	return library.Student{
		ID: id, Name: name, Email: email, Status: library.StudentActive,
		EnrollmentDate: base, CreatedAt: base, UpdatedAt: base,
	}
}

func book(id, title, isbn string) library.Book {
	b := library.Book{
		ID: id, Title: title, Author: "Author", ISBN: isbn, Department: library.DeptComputerScience,
		TotalCopies: 2, AddedDate: base, UpdatedAt: base,
	}
	_ = library.ApplyInventory(&b)
	return b
}

func loan(id, studentID, bookID string, issued time.Time, status library.LoanStatus) library.Loan {
	return library.Loan{
		ID: id, StudentID: studentID, BookID: bookID, IssuedAt: issued, DueDate: issued.AddDate(0, 0, 14),
		Status: status, FineAmount: decimal.Zero, UpdatedAt: issued,
	}
}

func ids[T any](xs []T, id func(T) string) []string {
	out := make([]string, len(xs))
	for i, x := range xs {
		out[i] = id(x)
	}
	return out
}

func requireNotFound(t *testing.T, err error, kind library.EntityKind) {
	t.Helper()
	var nf *library.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, kind, nf.Kind)
}

func requireField(t *testing.T, err error, field string) {
	t.Helper()
	var ve *library.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, field, ve.Field)
}

// =============================================================================
// CONTRACT
// =============================================================================

func testStudents(t *testing.T, st library.TxStore) {
	ctx := context.Background()
	gpa := 3.5
	ada := student("s1", "Ada", "ada@uni.edu")
	ada.GPA = &gpa
	require.NoError(t, st.CreateStudent(ctx, ada))
	require.NoError(t, st.CreateStudent(ctx, student("s2", "Bob", "bob@uni.edu")))
	require.NoError(t, st.CreateStudent(ctx, student("s3", "Cy", "cy@uni.edu")))

	got, err := st.GetStudent(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "ada@uni.edu", got.Email)
	require.NotNil(t, got.GPA)
	assert.InDelta(t, 3.5, *got.GPA, 0.0001)
	assert.True(t, base.Equal(got.EnrollmentDate))

	requireField(t, st.CreateStudent(ctx, student("s4", "Ada Two", "ADA@uni.edu")), "email")
	requireField(t, st.CreateStudent(ctx, student("s1", "Dup", "dup@uni.edu")), "id")

	bob, err := st.GetStudent(ctx, "s2")
	require.NoError(t, err)
	bob.Email = "ada@uni.edu"
	requireField(t, st.UpdateStudent(ctx, bob), "email")
	bob.Email = "robert@uni.edu"
	bob.Status = library.StudentSuspended
	require.NoError(t, st.UpdateStudent(ctx, bob))

	list, err := st.ListStudents(ctx, library.StudentFilter{})
	require.NoError(t, err)
	assert.Equal(t, []string{"s1", "s2", "s3"}, ids(list, func(s library.Student) string { return s.ID }))

	list, err = st.ListStudents(ctx, library.StudentFilter{Query: "ROBERT"})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "s2", list[0].ID)

	n, err := st.CountStudents(ctx, library.StudentFilter{Status: library.StudentActive})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	list, err = st.ListStudents(ctx, library.StudentFilter{Page: library.Page{Limit: 1, Offset: 1}})
	require.NoError(t, err)
	assert.Equal(t, []string{"s2"}, ids(list, func(s library.Student) string { return s.ID }))

	list, err = st.ListStudents(ctx, library.StudentFilter{Page: library.Page{Offset: 2}})
	require.NoError(t, err)
	assert.Equal(t, []string{"s3"}, ids(list, func(s library.Student) string { return s.ID }))

	_, err = st.GetStudent(ctx, "missing")
	requireNotFound(t, err, library.KindStudent)
	requireNotFound(t, st.UpdateStudent(ctx, student("missing", "X", "x@uni.edu")), library.KindStudent)
	requireNotFound(t, st.DeleteStudent(ctx, "missing"), library.KindStudent)

	require.NoError(t, st.DeleteStudent(ctx, "s3"))
	ok, err := st.Exists(ctx, library.KindStudent, "s3")
	require.NoError(t, err)
	assert.False(t, ok)
	n, err = st.Count(ctx, library.KindStudent)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = st.Exists(ctx, "Nonsense", "x")
	assert.ErrorIs(t, err, library.ErrValidation)
}

func testBooks(t *testing.T, st library.TxStore) {
	ctx := context.Background()
	dune := book("b1", "Dune", "978-0-441")
	dune.Tags = []string{"Classic", "English Edition"}
	require.NoError(t, st.CreateBook(ctx, dune))
	algo := book("b2", "Algorithms", "978-0-262")
	algo.Department = library.DeptMathematics
	require.NoError(t, st.CreateBook(ctx, algo))

	got, err := st.GetBook(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Version)
	assert.Equal(t, []string{"Classic", "English Edition"}, got.Tags)
	assert.Equal(t, 2, got.AvailableCopies)

	requireField(t, st.CreateBook(ctx, book("b3", "Copy", "978-0-441")), "isbn")

	// Optimistic update: matching version wins and bumps, stale loses.
	got.CheckedOutCount = 1
	require.NoError(t, library.ApplyInventory(&got))
	require.NoError(t, st.UpdateBook(ctx, got))
	fresh, err := st.GetBook(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), fresh.Version)
	assert.Equal(t, 1, fresh.CheckedOutCount)
	assert.ErrorIs(t, st.UpdateBook(ctx, got), library.ErrConcurrentModification)

	missing := book("nope", "Nope", "000")
	missing.Version = 1
	requireNotFound(t, st.UpdateBook(ctx, missing), library.KindBook)

	list, err := st.ListBooks(ctx, library.BookFilter{})
	require.NoError(t, err)
	assert.Equal(t, []string{"b2", "b1"}, ids(list, func(b library.Book) string { return b.ID }), "ordered by title")

	list, err = st.ListBooks(ctx, library.BookFilter{IDs: []string{"b1"}})
	require.NoError(t, err)
	assert.Len(t, list, 1)
	list, err = st.ListBooks(ctx, library.BookFilter{IDs: []string{}})
	require.NoError(t, err)
	assert.Empty(t, list)

	n, err := st.CountBooks(ctx, library.BookFilter{Department: library.DeptMathematics})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = st.CountBooks(ctx, library.BookFilter{Query: "262"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, st.DeleteBook(ctx, "b2"))
	requireNotFound(t, st.DeleteBook(ctx, "b2"), library.KindBook)
}

func testLoans(t *testing.T, st library.TxStore) {
	ctx := context.Background()
	require.NoError(t, st.CreateLoan(ctx, loan("l1", "s1", "b1", base, library.LoanBorrowed)))
	require.NoError(t, st.CreateLoan(ctx, loan("l2", "s1", "b2", base.AddDate(0, 0, 1), library.LoanOverdue)))
	returned := loan("l3", "s2", "b1", base.AddDate(0, 0, 2), library.LoanReturned)
	at := base.AddDate(0, 0, 20)
	returned.ReturnedAt = &at
	returned.FineAmount = decimal.RequireFromString("4.50")
	require.NoError(t, st.CreateLoan(ctx, returned))

	got, err := st.GetLoan(ctx, "l3")
	require.NoError(t, err)
	require.NotNil(t, got.ReturnedAt)
	assert.True(t, at.Equal(*got.ReturnedAt))
	assert.True(t, decimal.RequireFromString("4.5").Equal(got.FineAmount))

	all, err := st.ListLoans(ctx, library.LoanFilter{})
	require.NoError(t, err)
	assert.Equal(t, []string{"l3", "l2", "l1"}, ids(all, func(l library.Loan) string { return l.ID }), "newest issue first")

	open, err := st.ListLoans(ctx, library.LoanFilter{Statuses: library.OpenLoanStatuses})
	require.NoError(t, err)
	assert.Len(t, open, 2)

	cutoff := base.AddDate(0, 0, 15)
	due, err := st.ListLoans(ctx, library.LoanFilter{DueBefore: &cutoff})
	require.NoError(t, err)
	assert.Equal(t, []string{"l1"}, ids(due, func(l library.Loan) string { return l.ID }))

	after := base.AddDate(0, 0, 1)
	n, err := st.CountLoans(ctx, library.LoanFilter{IssuedAfter: &after, StudentID: "s1"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err = st.GetLoan(ctx, "l1")
	require.NoError(t, err)
	got.RenewalCount = 1
	require.NoError(t, st.UpdateLoan(ctx, got))
	got, err = st.GetLoan(ctx, "l1")
	require.NoError(t, err)
	assert.Equal(t, 1, got.RenewalCount)
	assert.Nil(t, got.ReturnedAt)

	require.NoError(t, st.DeleteLoan(ctx, "l1"))
	_, err = st.GetLoan(ctx, "l1")
	requireNotFound(t, err, library.KindLoan)
}

func testReservationsAndFines(t *testing.T, st library.TxStore) {
	ctx := context.Background()
	for i, id := range []string{"r2", "r1", "r3"} {
		require.NoError(t, st.CreateReservation(ctx, library.Reservation{
			ID: id, BookID: "b1", StudentID: fmt.Sprintf("s%d", i), Status: library.ReservationActive,
			QueuePosition: map[string]int{"r1": 1, "r2": 2, "r3": 3}[id],
			ExpiryDate:    base.AddDate(0, 0, 30), CreatedAt: base, UpdatedAt: base,
		}))
	}
	queue, err := st.ListReservations(ctx, library.ReservationFilter{BookID: "b1", Statuses: []library.ReservationStatus{library.ReservationActive}})
	require.NoError(t, err)
	assert.Equal(t, []string{"r1", "r2", "r3"}, ids(queue, func(r library.Reservation) string { return r.ID }))

	r := queue[0]
	now := base.AddDate(0, 0, 1)
	r.Status, r.FulfilledAt = library.ReservationFulfilled, &now
	require.NoError(t, st.UpdateReservation(ctx, r))
	r, err = st.GetReservation(ctx, "r1")
	require.NoError(t, err)
	assert.True(t, r.IsHold())
	require.NotNil(t, r.FulfilledAt)
	require.NoError(t, st.DeleteReservation(ctx, "r3"))
	requireNotFound(t, st.DeleteReservation(ctx, "r3"), library.KindReservation)

	require.NoError(t, st.CreateFine(ctx, library.Fine{
		ID: "f1", StudentID: "s1", LoanID: "l1", Amount: decimal.NewFromInt(3), Reason: "Overdue by 3 days",
		Status: library.FineUnpaid, CreatedAt: base,
	}))
	require.NoError(t, st.CreateFine(ctx, library.Fine{
		ID: "f2", StudentID: "s1", Amount: decimal.NewFromInt(7), Reason: "Overdue by 7 days",
		Status: library.FineUnpaid, CreatedAt: base.Add(time.Hour),
	}))
	fines, err := st.ListFines(ctx, library.FineFilter{StudentID: "s1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"f2", "f1"}, ids(fines, func(f library.Fine) string { return f.ID }))

	f := fines[1]
	f.Status, f.PaidDate = library.FinePaid, &now
	require.NoError(t, st.UpdateFine(ctx, f))
	unpaid, err := st.ListFines(ctx, library.FineFilter{Statuses: []library.FineStatus{library.FineUnpaid}})
	require.NoError(t, err)
	assert.Len(t, unpaid, 1)
	byLoan, err := st.ListFines(ctx, library.FineFilter{LoanID: "l1"})
	require.NoError(t, err)
	require.Len(t, byLoan, 1)
	assert.NotNil(t, byLoan[0].PaidDate)
	require.NoError(t, st.DeleteFine(ctx, "f2"))
}

func testAudit(t *testing.T, st library.TxStore) {
	ctx := context.Background()
	for i := 0; i < 4; i++ {
		require.NoError(t, st.AppendAudit(ctx, library.AuditEntry{
			ID:        fmt.Sprintf("a%d", i),
			Action:    []library.AuditAction{library.ActionBorrow, library.ActionReturn}[i%2],
			BookID:    "b1",
			StudentID: fmt.Sprintf("s%d", i%2),
			Metadata:  map[string]any{"loanId": fmt.Sprintf("l%d", i)},
			Timestamp: base.Add(time.Duration(i) * time.Hour),
		}))
	}

	err := st.AppendAudit(ctx, library.AuditEntry{ID: "a0", Action: library.ActionDelete, Timestamp: base})
	assert.ErrorIs(t, err, library.ErrImmutable)
	got, err := st.GetAudit(ctx, "a0")
	require.NoError(t, err)
	assert.Equal(t, library.ActionBorrow, got.Action)
	assert.Equal(t, "l0", got.Metadata["loanId"])

	all, err := st.QueryAudit(ctx, library.AuditFilter{})
	require.NoError(t, err)
	assert.Equal(t, []string{"a3", "a2", "a1", "a0"}, ids(all, func(e library.AuditEntry) string { return e.ID }))

	from, to := base.Add(time.Hour), base.Add(2*time.Hour)
	window, err := st.QueryAudit(ctx, library.AuditFilter{From: &from, To: &to})
	require.NoError(t, err)
	assert.Equal(t, []string{"a2", "a1"}, ids(window, func(e library.AuditEntry) string { return e.ID }), "bounds are inclusive")

	n, err := st.CountAudit(ctx, library.AuditFilter{Actions: []library.AuditAction{library.ActionReturn}, StudentID: "s1"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	page, err := st.QueryAudit(ctx, library.AuditFilter{Page: library.Page{Limit: 2, Offset: 1}})
	require.NoError(t, err)
	assert.Equal(t, []string{"a2", "a1"}, ids(page, func(e library.AuditEntry) string { return e.ID }))

	_, err = st.GetAudit(ctx, "missing")
	requireNotFound(t, err, library.KindAudit)
}

func testUsers(t *testing.T, st library.TxStore) {
	ctx := context.Background()
	u := library.User{ID: "u1", Name: "Root", Email: "root@library.edu", PasswordHash: "hash", Role: library.RoleAdmin, CreatedAt: base}
	require.NoError(t, st.CreateUser(ctx, u))
	requireField(t, st.CreateUser(ctx, library.User{ID: "u2", Email: "ROOT@library.edu", Role: library.RoleAuditor, CreatedAt: base}), "email")

	got, err := st.GetUserByEmail(ctx, "Root@Library.edu")
	require.NoError(t, err)
	assert.Equal(t, "u1", got.ID)
	assert.Equal(t, "hash", got.PasswordHash)

	_, err = st.GetUserByEmail(ctx, "nobody@library.edu")
	requireNotFound(t, err, library.KindUser)
	_, err = st.GetUser(ctx, "u9")
	requireNotFound(t, err, library.KindUser)
}

func testTransactions(t *testing.T, st library.TxStore) {
	ctx := context.Background()
	boom := errors.New("boom")

	// GIVEN: A unit that writes then fails
	// THEN: Nothing it wrote survives and the error comes back unchanged
	err := st.WithTx(ctx, func(tx library.Store) error {
		if err := tx.CreateStudent(ctx, student("s1", "Ada", "ada@uni.edu")); err != nil {
			return err
		}
		if err := tx.AppendAudit(ctx, library.AuditEntry{ID: "a1", Action: library.ActionAdd, StudentID: "s1", Timestamp: base}); err != nil {
			return err
		}
		return boom
	})
	assert.Same(t, boom, err)
	n, err := st.Count(ctx, library.KindStudent)
	require.NoError(t, err)
	assert.Zero(t, n)
	n, err = st.Count(ctx, library.KindAudit)
	require.NoError(t, err)
	assert.Zero(t, n)

	// GIVEN: A nested WithTx on the unit's store
	// THEN: It joins the outer unit and rolls back with it
	err = st.WithTx(ctx, func(tx library.Store) error {
		inner := tx.(library.TxStore)
		if err := inner.WithTx(ctx, func(tx2 library.Store) error {
			return tx2.CreateBook(ctx, book("b1", "Dune", "978-0-441"))
		}); err != nil {
			return err
		}
		ok, err := tx.Exists(ctx, library.KindBook, "b1")
		if err != nil {
			return err
		}
		if !ok {
			return errors.New("nested write not visible in outer unit")
		}
		return boom
	})
	assert.Same(t, boom, err)
	ok, err := st.Exists(ctx, library.KindBook, "b1")
	require.NoError(t, err)
	assert.False(t, ok)

	// A successful unit commits.
	require.NoError(t, st.WithTx(ctx, func(tx library.Store) error {
		return tx.CreateBook(ctx, book("b1", "Dune", "978-0-441"))
	}))
	ok, err = st.Exists(ctx, library.KindBook, "b1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func testReset(t *testing.T, st library.TxStore) {
	ctx := context.Background()
	require.NoError(t, st.CreateStudent(ctx, student("s1", "Ada", "ada@uni.edu")))
	require.NoError(t, st.CreateBook(ctx, book("b1", "Dune", "978-0-441")))
	require.NoError(t, st.AppendAudit(ctx, library.AuditEntry{ID: "a1", Action: library.ActionAdd, Timestamp: base}))
	require.NoError(t, st.CreateUser(ctx, library.User{ID: "u1", Email: "u@l.edu", Role: library.RoleAdmin, CreatedAt: base}))

	require.NoError(t, st.Reset(ctx))

	for _, k := range library.AllKinds {
		n, err := st.Count(ctx, k)
		require.NoError(t, err)
		assert.Zero(t, n, k)
	}
	// The store is usable after a reset, ledger included.
	require.NoError(t, st.AppendAudit(ctx, library.AuditEntry{ID: "a1", Action: library.ActionAdd, Timestamp: base}))
	require.NoError(t, st.CreateStudent(ctx, student("s1", "Ada", "ada@uni.edu")))
}
