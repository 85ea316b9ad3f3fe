package library_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/library-engine/library"
)

// =============================================================================
// STUDENTS
// =============================================================================

func TestCreateStudent_NormalizesAndDefaults(t *testing.T) {
	f := newFixture(t)

	st, err := f.svc.CreateStudent(f.ctx, library.Student{Name: " Ada Lovelace ", Email: "Ada@Example.COM"}, library.System)

	require.NoError(t, err)
	assert.NotEmpty(t, st.ID)
	assert.Equal(t, "Ada Lovelace", st.Name)
	assert.Equal(t, "ada@example.com", st.Email)
	assert.Equal(t, library.StudentActive, st.Status)
	assert.Equal(t, start, st.EnrollmentDate)
}

func TestCreateStudent_DuplicateEmail_ValidationError(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.CreateStudent(f.ctx, library.Student{Name: "A", Email: "a@x.edu"}, library.System)
	require.NoError(t, err)

	_, err = f.svc.CreateStudent(f.ctx, library.Student{Name: "B", Email: "A@X.edu"}, library.System)

	var ve *library.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "email", ve.Field)
}

func TestCreateStudent_Invalid(t *testing.T) {
	f := newFixture(t)
	bad := 11.0
	cases := map[string]library.Student{
		"name":   {Email: "a@x.edu"},
		"email":  {Name: "A", Email: "not-an-email"},
		"status": {Name: "A", Email: "a@x.edu", Status: "Expelled"},
		"gpa":    {Name: "A", Email: "a@x.edu", GPA: &bad},
	}
	for field, st := range cases {
		t.Run(field, func(t *testing.T) {
			_, err := f.svc.CreateStudent(f.ctx, st, library.System)
			var ve *library.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, field, ve.Field)
		})
	}
}

func TestUpdateStudent_EmailIsFrozen(t *testing.T) {
	f := newFixture(t)
	st := f.student(t, "Ada")

	other := "someone@else.edu"
	_, err := f.svc.UpdateStudent(f.ctx, st.ID, library.StudentPatch{Email: &other}, library.System)
	assert.ErrorIs(t, err, library.ErrImmutable)

	city := "Boston"
	got, err := f.svc.UpdateStudent(f.ctx, st.ID, library.StudentPatch{Email: &st.Email, City: &city}, library.System)
	require.NoError(t, err)
	assert.Equal(t, "Boston", got.City)
}

func TestDeleteStudent_RestrictedWhileReferenced(t *testing.T) {
	// GIVEN: A student with a loan on record
	// WHEN: Deleting the student
	// THEN: The delete is refused, so no loan can become an orphan

	f := newFixture(t)
	st := f.student(t, "Ada")
	loan := f.issue(t, f.book(t, "Algorithms", 1).ID, st.ID)

	err := f.svc.DeleteStudent(f.ctx, st.ID, library.System)
	assert.Equal(t, library.CodeReferenced, conflictCode(err))

	_, err = f.svc.Return(f.ctx, loan.ID, library.System)
	require.NoError(t, err)
	err = f.svc.DeleteStudent(f.ctx, st.ID, library.System)
	assert.Equal(t, library.CodeReferenced, conflictCode(err), "returned loans still reference the student")

	lonely := f.student(t, "Nobody")
	require.NoError(t, f.svc.DeleteStudent(f.ctx, lonely.ID, library.System))
	_, err = f.svc.GetStudent(f.ctx, lonely.ID)
	assert.True(t, library.IsNotFound(err))

	deletes, err := f.store.QueryAudit(f.ctx, library.AuditFilter{Actions: []library.AuditAction{library.ActionDelete}})
	require.NoError(t, err)
	require.Len(t, deletes, 1)
	assert.False(t, deletes[0].HasReferences(), "the entry names the student in metadata only")
	assert.Equal(t, lonely.ID, deletes[0].Metadata["studentId"])
}

func TestListStudents_FilterAndPage(t *testing.T) {
	f := newFixture(t)
	for _, n := range []string{"Charlie", "Alice", "Bob"} {
		f.student(t, n)
	}

	page, err := f.svc.ListStudents(f.ctx, library.StudentFilter{Page: library.Page{Limit: 2}})
	require.NoError(t, err)
	assert.Equal(t, 3, page.Total)
	require.Len(t, page.Students, 2)
	assert.Equal(t, "Alice", page.Students[0].Name)
	assert.Equal(t, "Bob", page.Students[1].Name)

	page, err = f.svc.ListStudents(f.ctx, library.StudentFilter{Query: "arl"})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)
}

// =============================================================================
// BOOKS
// =============================================================================

func TestCreateBook_DerivesCountersAndTags(t *testing.T) {
	f := newFixture(t)

	b, err := f.svc.CreateBook(f.ctx, library.Book{
		Title: "Database Systems", Author: "Jane Doe", ISBN: "978-0-000001-X",
		Department: library.DeptComputerScience, TotalCopies: 2, CheckedOutCount: 5,
	}, library.System)

	require.NoError(t, err)
	assert.Equal(t, 0, b.CheckedOutCount, "new books start with every copy on the shelf")
	assert.Equal(t, 2, b.AvailableCopies)
	assert.Equal(t, library.BookAvailable, b.Status)
	assert.Contains(t, b.Tags, "Data Science")
	assert.Contains(t, b.Tags, "English Edition")
	assert.Equal(t, int64(1), b.Version)
}

func TestCreateBook_DuplicateISBN_ValidationError(t *testing.T) {
	f := newFixture(t)
	book := library.Book{Title: "Dune", Author: "Herbert", ISBN: "978-0-441", TotalCopies: 1}
	_, err := f.svc.CreateBook(f.ctx, book, library.System)
	require.NoError(t, err)

	_, err = f.svc.CreateBook(f.ctx, book, library.System)

	var ve *library.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "isbn", ve.Field)
}

func TestUpdateBook_CounterRuleAndVersion(t *testing.T) {
	f := newFixture(t)
	st := f.student(t, "Ada")
	b := f.book(t, "Algorithms", 2)
	f.issue(t, b.ID, st.ID)

	zero := 0
	_, err := f.svc.UpdateBook(f.ctx, b.ID, library.BookPatch{TotalCopies: &zero}, library.System)
	assert.ErrorIs(t, err, library.ErrValidation)

	five := 5
	got, err := f.svc.UpdateBook(f.ctx, b.ID, library.BookPatch{TotalCopies: &five}, library.System)
	require.NoError(t, err)
	assert.Equal(t, 4, got.AvailableCopies)
	assert.Equal(t, f.getBook(t, b.ID).Version, got.Version)
}

func TestUpdateBook_StaleVersion_ConcurrentModification(t *testing.T) {
	f := newFixture(t)
	b := f.book(t, "Algorithms", 2)
	stale := f.getBook(t, b.ID)
	fresh := f.getBook(t, b.ID)
	fresh.ShelfLocation = "A1"
	require.NoError(t, f.store.UpdateBook(f.ctx, fresh))

	stale.ShelfLocation = "B2"
	err := f.store.UpdateBook(f.ctx, stale)

	assert.ErrorIs(t, err, library.ErrConcurrentModification)
	assert.True(t, library.IsRetryable(err))
	assert.Equal(t, "A1", f.getBook(t, b.ID).ShelfLocation)
}

func TestDeleteBook_RestrictedWhileReferenced(t *testing.T) {
	f := newFixture(t)
	st := f.student(t, "Ada")
	b := f.book(t, "Algorithms", 1)
	f.issue(t, b.ID, st.ID)

	assert.Equal(t, library.CodeReferenced, conflictCode(f.svc.DeleteBook(f.ctx, b.ID, library.System)))

	spare := f.book(t, "Spare", 1)
	require.NoError(t, f.svc.DeleteBook(f.ctx, spare.ID, library.System))
	assert.True(t, library.IsNotFound(f.svc.DeleteBook(f.ctx, spare.ID, library.System)))
}

func TestListBooks_OverdueFilter(t *testing.T) {
	f := newFixture(t)
	st := f.student(t, "Ada")
	late := f.book(t, "Late", 1)
	f.book(t, "Shelf", 1)

	page, err := f.svc.ListBooks(f.ctx, library.BookQuery{Overdue: true})
	require.NoError(t, err)
	assert.Empty(t, page.Books)

	f.issue(t, late.ID, st.ID)
	f.clock.Advance(days(15))
	page, err = f.svc.ListBooks(f.ctx, library.BookQuery{Overdue: true})
	require.NoError(t, err)
	require.Len(t, page.Books, 1)
	assert.Equal(t, late.ID, page.Books[0].ID)

	_, err = f.svc.ListBooks(f.ctx, library.BookQuery{Department: "Astrology"})
	assert.ErrorIs(t, err, library.ErrValidation)
}

// =============================================================================
// FINES
// =============================================================================

func TestPayAndWaiveFine(t *testing.T) {
	f := newFixture(t)
	st := f.student(t, "Ada")
	for _, title := range []string{"One", "Two"} {
		loan := f.issue(t, f.book(t, title, 1).ID, st.ID)
		f.clock.Advance(days(16))
		_, err := f.svc.Return(f.ctx, loan.ID, library.System)
		require.NoError(t, err)
	}
	fines, err := f.svc.ListFines(f.ctx, library.FineFilter{StudentID: st.ID})
	require.NoError(t, err)
	require.Len(t, fines, 2)

	paid, err := f.svc.PayFine(f.ctx, fines[0].ID, library.System)
	require.NoError(t, err)
	assert.Equal(t, library.FinePaid, paid.Status)
	require.NotNil(t, paid.PaidDate)

	waived, err := f.svc.WaiveFine(f.ctx, fines[1].ID, library.System)
	require.NoError(t, err)
	assert.Equal(t, library.FineWaived, waived.Status)
	assert.Nil(t, waived.PaidDate)

	_, err = f.svc.PayFine(f.ctx, fines[1].ID, library.System)
	assert.Equal(t, library.CodeFineState, conflictCode(err))
}

// =============================================================================
// USERS
// =============================================================================

func TestCreateUser_AndAuthenticate(t *testing.T) {
	f := newFixture(t)

	u, err := f.svc.CreateUser(f.ctx, "Desk", "Desk@Library.edu", "correct horse", library.RoleLibrarian)
	require.NoError(t, err)
	assert.NotEqual(t, "correct horse", u.PasswordHash)

	got, err := f.svc.Authenticate(f.ctx, "desk@library.edu", "correct horse")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)
	assert.Equal(t, library.RoleLibrarian, got.Role)

	_, err = f.svc.Authenticate(f.ctx, "desk@library.edu", "wrong")
	assert.Equal(t, library.CodeInvalidCredentials, conflictCode(err))
	_, err = f.svc.Authenticate(f.ctx, "nobody@library.edu", "correct horse")
	assert.Equal(t, library.CodeInvalidCredentials, conflictCode(err))
}

func TestCreateUser_Validation(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.CreateUser(f.ctx, "Desk", "desk@library.edu", "short", library.RoleAdmin)
	assert.ErrorIs(t, err, library.ErrValidation)
	_, err = f.svc.CreateUser(f.ctx, "Desk", "desk@library.edu", "long enough", library.RoleGuest)
	assert.ErrorIs(t, err, library.ErrValidation)

	_, created, err := f.svc.EnsureUser(f.ctx, "Admin", "admin@library.edu", "long enough", library.RoleAdmin)
	require.NoError(t, err)
	assert.True(t, created)
	_, created, err = f.svc.EnsureUser(f.ctx, "Admin", "admin@library.edu", "long enough", library.RoleAdmin)
	require.NoError(t, err)
	assert.False(t, created)
}

// =============================================================================
// ANALYTICS
// =============================================================================

func TestAnalytics_Summary(t *testing.T) {
	f := newFixture(t)
	a, b := f.student(t, "A"), f.student(t, "B")
	popular := f.book(t, "Popular", 2)
	quiet := f.book(t, "Quiet", 1)

	first := f.issue(t, popular.ID, a.ID)
	f.issue(t, popular.ID, b.ID)
	f.clock.Advance(days(20))
	_, err := f.svc.Return(f.ctx, first.ID, library.System)
	require.NoError(t, err)
	f.issue(t, quiet.ID, a.ID)

	got, err := f.svc.Analytics(f.ctx)

	require.NoError(t, err)
	assert.Equal(t, 2, got.TotalBooks)
	assert.Equal(t, 3, got.TotalCopies)
	assert.Equal(t, 2, got.TotalStudents)
	assert.Equal(t, 2, got.ActiveLoans)
	assert.Equal(t, 1, got.BorrowedToday)
	assert.Equal(t, 1, got.OverdueCount)
	require.Len(t, got.PopularBooks, 2)
	assert.Equal(t, popular.ID, got.PopularBooks[0].BookID)
	assert.Equal(t, 2, got.PopularBooks[0].Borrows)
	assert.Equal(t, 2, got.DepartmentDistribution[library.DeptComputerScience])
	assert.True(t, decimal.NewFromInt(6).Equal(got.TotalFines))
	assert.True(t, decimal.NewFromInt(6).Equal(got.OutstandingFines))
}

func TestProfile_GathersStudentActivity(t *testing.T) {
	f := newFixture(t)
	st := f.student(t, "Ada")
	returned := f.issue(t, f.book(t, "Returned", 1).ID, st.ID)
	f.clock.Advance(days(16))
	_, err := f.svc.Return(f.ctx, returned.ID, library.System)
	require.NoError(t, err)
	f.issue(t, f.book(t, "Open", 1).ID, st.ID)

	p, err := f.svc.Profile(f.ctx, st.ID)

	require.NoError(t, err)
	assert.Equal(t, st.ID, p.Student.ID)
	assert.Len(t, p.ActiveLoans, 1)
	assert.Len(t, p.PastLoans, 1)
	assert.Len(t, p.Fines, 1)
	assert.True(t, decimal.NewFromInt(2).Equal(p.OutstandingFines))
	assert.NotEmpty(t, p.AuditLogs)

	_, err = f.svc.Profile(f.ctx, "missing")
	assert.True(t, library.IsNotFound(err))
}
