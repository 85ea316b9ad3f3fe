/*
Package sqldb provides a SQL implementation of library.TxStore.

PURPOSE:
  Persists the library engine in SQLite (single file or ":memory:") or
  PostgreSQL. Queries are built with goqu for the selected dialect and
  executed through sqlx, so one code path serves both databases.

DRIVERS:
  sqlite3:  github.com/mattn/go-sqlite3, one open connection. SQLite
            serialises writers anyway, and ":memory:" databases are
            per-connection.
  postgres: github.com/jackc/pgx/v5/stdlib registered as "pgx".

APPEND-ONLY ENFORCEMENT:
  The Store exposes no UPDATE or DELETE for audit_log, and the schema
  installs BEFORE UPDATE / BEFORE DELETE triggers that abort. Only Reset
  may clear the ledger, and it does so by dropping and recreating the
  table, which bypasses row triggers in both databases.

ERROR MAPPING:
  Unique violations become *library.ValidationError naming the field
  (email, isbn or id). A duplicate audit id becomes *library.ImmutableError.
  Missing rows become *library.NotFoundError.

CONCURRENCY:
  UpdateBook is guarded by the version column. Two units of work racing on
  the same book cannot both commit a counter change; the loser gets
  library.ErrConcurrentModification and the service retries it.

USAGE:
  st, err := sqldb.Open(ctx, sqldb.DriverSQLite, ":memory:")
  if err != nil {
      return err
  }
  defer st.Close()
  svc := library.NewService(st)

SEE ALSO:
  - library/store.go: Interface contract
  - library/store/memory.go: In-memory implementation
*/
package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres" // dialect registration
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"  // dialect registration
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
	"github.com/warp/library-engine/library"
)

// Supported drivers.
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

const (
	tableStudents     = "students"
	tableBooks        = "books"
	tableLoans        = "loans"
	tableReservations = "reservations"
	tableFines        = "fines"
	tableAudit        = "audit_log"
	tableUsers        = "users"
)

var tables = map[library.EntityKind]string{
	library.KindStudent:     tableStudents,
	library.KindBook:        tableBooks,
	library.KindLoan:        tableLoans,
	library.KindReservation: tableReservations,
	library.KindFine:        tableFines,
	library.KindAudit:       tableAudit,
	library.KindUser:        tableUsers,
}

// Store implements library.TxStore on top of database/sql.
type Store struct {
	db      *sqlx.DB
	tx      *sqlx.Tx // set on the Store handed to WithTx callbacks
	driver  string
	dialect goqu.DialectWrapper
	schema  []string
}

var _ library.TxStore = (*Store)(nil)

// Open connects, pings and migrates. driver is DriverSQLite or DriverPostgres.
func Open(ctx context.Context, driver, dsn string) (*Store, error) {
	var (
		db     *sqlx.DB
		err    error
		schema []string
	)
	switch driver {
	case DriverSQLite:
		db, err = sqlx.Open("sqlite3", dsn)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		db.SetMaxOpenConns(1)
		schema = sqliteSchema
	case DriverPostgres:
		db, err = sqlx.Open("pgx", dsn)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(time.Hour)
		db.SetConnMaxIdleTime(5 * time.Minute)
		schema = postgresSchema
	default:
		return nil, fmt.Errorf("unsupported driver %q", driver)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &Store{db: db, driver: driver, dialect: goqu.Dialect(driver), schema: schema}
	if err := s.migrate(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Driver reports which database the store talks to.
func (s *Store) Driver() string {
	return s.driver
}

func (s *Store) migrate(ctx context.Context, ex sqlx.ExecerContext) error {
	for _, stmt := range s.schema {
		if _, err := ex.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%s: %w", firstLine(stmt), err)
		}
	}
	return nil
}

func (s *Store) ext() sqlx.ExtContext {
	if s.tx != nil {
		return s.tx
	}
	return s.db
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a database transaction. Calling WithTx on the
// Store handed to fn joins the running transaction.
func (s *Store) WithTx(ctx context.Context, fn func(library.Store) error) error {
	if s.tx != nil {
		return fn(s)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	txStore := &Store{db: s.db, tx: tx, driver: s.driver, dialect: s.dialect, schema: s.schema}
	if err := fn(txStore); err != nil {
		return err
	}
	return tx.Commit()
}

// Reset removes every record. The audit table is dropped and recreated
// so its delete trigger never fires.
func (s *Store) Reset(ctx context.Context) error {
	return s.WithTx(ctx, func(st library.Store) error {
		ts := st.(*Store)
		for _, t := range []string{tableStudents, tableBooks, tableLoans, tableReservations, tableFines, tableUsers} {
			if _, err := ts.tx.ExecContext(ctx, "DELETE FROM "+t); err != nil {
				return fmt.Errorf("clear %s: %w", t, err)
			}
		}
		if _, err := ts.tx.ExecContext(ctx, "DROP TABLE "+tableAudit); err != nil {
			return fmt.Errorf("drop %s: %w", tableAudit, err)
		}
		return ts.migrate(ctx, ts.tx)
	})
}

// =============================================================================
// GENERIC HELPERS
// =============================================================================

func (s *Store) Exists(ctx context.Context, kind library.EntityKind, id string) (bool, error) {
	table, err := tableFor(kind)
	if err != nil {
		return false, err
	}
	n, err := s.count(ctx, s.dialect.From(table).Where(goqu.C("id").Eq(id)))
	return n > 0, err
}

func (s *Store) Count(ctx context.Context, kind library.EntityKind) (int, error) {
	table, err := tableFor(kind)
	if err != nil {
		return 0, err
	}
	return s.count(ctx, s.dialect.From(table))
}

func tableFor(kind library.EntityKind) (string, error) {
	t, ok := tables[kind]
	if !ok {
		return "", &library.ValidationError{Field: "kind", Message: "unknown entity kind " + string(kind)}
	}
	return t, nil
}

func (s *Store) count(ctx context.Context, ds *goqu.SelectDataset) (int, error) {
	query, args, err := ds.Select(goqu.COUNT(goqu.Star())).Prepared(true).ToSQL()
	if err != nil {
		return 0, fmt.Errorf("build count: %w", err)
	}
	var n int
	if err := sqlx.GetContext(ctx, s.ext(), &n, query, args...); err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	return n, nil
}

func (s *Store) insert(ctx context.Context, kind library.EntityKind, table string, row any) error {
	query, args, err := s.dialect.Insert(table).Rows(row).Prepared(true).ToSQL()
	if err != nil {
		return fmt.Errorf("build insert %s: %w", table, err)
	}
	if _, err := s.ext().ExecContext(ctx, query, args...); err != nil {
		return mapWriteError(kind, err)
	}
	return nil
}

// update writes row over the record with id and reports NotFound when no
// row matched.
func (s *Store) update(ctx context.Context, kind library.EntityKind, table, id string, row any) error {
	query, args, err := s.dialect.Update(table).Set(row).Where(goqu.C("id").Eq(id)).Prepared(true).ToSQL()
	if err != nil {
		return fmt.Errorf("build update %s: %w", table, err)
	}
	res, err := s.ext().ExecContext(ctx, query, args...)
	if err != nil {
		return mapWriteError(kind, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return &library.NotFoundError{Kind: kind, ID: id}
	}
	return nil
}

func (s *Store) delete(ctx context.Context, kind library.EntityKind, table, id string) error {
	query, args, err := s.dialect.Delete(table).Where(goqu.C("id").Eq(id)).Prepared(true).ToSQL()
	if err != nil {
		return fmt.Errorf("build delete %s: %w", table, err)
	}
	res, err := s.ext().ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("delete %s %s: %w", kind, id, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return &library.NotFoundError{Kind: kind, ID: id}
	}
	return nil
}

func getOne[R, T any](ctx context.Context, s *Store, kind library.EntityKind, ds *goqu.SelectDataset, id string, conv func(R) (T, error)) (T, error) {
	var zero T
	query, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return zero, fmt.Errorf("build select %s: %w", kind, err)
	}
	var row R
	if err := sqlx.GetContext(ctx, s.ext(), &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return zero, &library.NotFoundError{Kind: kind, ID: id}
		}
		return zero, fmt.Errorf("get %s %s: %w", kind, id, err)
	}
	return conv(row)
}

func getMany[R, T any](ctx context.Context, s *Store, kind library.EntityKind, ds *goqu.SelectDataset, conv func(R) (T, error)) ([]T, error) {
	query, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build select %s: %w", kind, err)
	}
	var rows []R
	if err := sqlx.SelectContext(ctx, s.ext(), &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list %s: %w", kind, err)
	}
	out := make([]T, 0, len(rows))
	for _, r := range rows {
		v, err := conv(r)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func paged(ds *goqu.SelectDataset, p library.Page) *goqu.SelectDataset {
	if p.Limit > 0 {
		ds = ds.Limit(uint(p.Limit))
	}
	if p.Offset > 0 {
		if p.Limit <= 0 {
			// SQLite rejects OFFSET without LIMIT.
			ds = ds.Limit(math.MaxInt32)
		}
		ds = ds.Offset(uint(p.Offset))
	}
	return ds
}

func contains(q string, cols ...string) exp.Expression {
	pattern := "%" + strings.ToLower(q) + "%"
	ors := make([]exp.Expression, len(cols))
	for i, c := range cols {
		ors[i] = goqu.Func("LOWER", goqu.C(c)).Like(pattern)
	}
	return goqu.Or(ors...)
}

func strs[T ~string](xs []T) []string {
	out := make([]string, len(xs))
	for i, x := range xs {
		out[i] = string(x)
	}
	return out
}

func firstLine(stmt string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(stmt), "\n")
	return line
}

// =============================================================================
// ERROR MAPPING
// =============================================================================

// uniqueViolation returns the constraint text of a unique/primary key
// violation, or false for any other error.
func uniqueViolation(err error) (string, bool) {
	var se sqlite3.Error
	if errors.As(err, &se) {
		if se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey {
			return se.Error(), true
		}
		return "", false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
		return pgErr.ConstraintName, true
	}
	return "", false
}

func mapWriteError(kind library.EntityKind, err error) error {
	constraint, ok := uniqueViolation(err)
	if !ok {
		return fmt.Errorf("write %s: %w", kind, err)
	}
	switch {
	case kind == library.KindAudit:
		return &library.ImmutableError{Kind: library.KindAudit}
	case strings.Contains(constraint, idxStudentsEmail), strings.Contains(constraint, idxUsersEmail):
		return &library.ValidationError{Field: "email", Message: "email already registered"}
	case strings.Contains(constraint, idxBooksISBN), strings.Contains(constraint, "isbn"):
		return &library.ValidationError{Field: "isbn", Message: "isbn already catalogued"}
	}
	return &library.ValidationError{Field: "id", Message: "duplicate id"}
}

// IsAppendOnlyViolation reports whether err came from the audit triggers.
func IsAppendOnlyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.RestrictViolation {
		return true
	}
	return err != nil && strings.Contains(err.Error(), appendOnlyMessage)
}

// =============================================================================
// STUDENTS
// =============================================================================

func (s *Store) CreateStudent(ctx context.Context, st library.Student) error {
	return s.insert(ctx, library.KindStudent, tableStudents, studentToRow(st))
}

func (s *Store) GetStudent(ctx context.Context, id string) (library.Student, error) {
	ds := s.dialect.From(tableStudents).Where(goqu.C("id").Eq(id))
	return getOne(ctx, s, library.KindStudent, ds, id, studentRow.toStudent)
}

func (s *Store) studentQuery(f library.StudentFilter) *goqu.SelectDataset {
	ds := s.dialect.From(tableStudents)
	if f.Status != "" {
		ds = ds.Where(goqu.C("status").Eq(string(f.Status)))
	}
	if f.Query != "" {
		ds = ds.Where(contains(f.Query, "name", "email"))
	}
	return ds
}

func (s *Store) ListStudents(ctx context.Context, f library.StudentFilter) ([]library.Student, error) {
	ds := paged(s.studentQuery(f).Order(goqu.C("name").Asc(), goqu.C("id").Asc()), f.Page)
	return getMany(ctx, s, library.KindStudent, ds, studentRow.toStudent)
}

func (s *Store) CountStudents(ctx context.Context, f library.StudentFilter) (int, error) {
	return s.count(ctx, s.studentQuery(f))
}

func (s *Store) UpdateStudent(ctx context.Context, st library.Student) error {
	return s.update(ctx, library.KindStudent, tableStudents, st.ID, studentToRow(st))
}

func (s *Store) DeleteStudent(ctx context.Context, id string) error {
	return s.delete(ctx, library.KindStudent, tableStudents, id)
}

// =============================================================================
// BOOKS
// =============================================================================

func (s *Store) CreateBook(ctx context.Context, b library.Book) error {
	if b.Version == 0 {
		b.Version = 1
	}
	row, err := bookToRow(b)
	if err != nil {
		return err
	}
	return s.insert(ctx, library.KindBook, tableBooks, row)
}

func (s *Store) GetBook(ctx context.Context, id string) (library.Book, error) {
	ds := s.dialect.From(tableBooks).Where(goqu.C("id").Eq(id))
	return getOne(ctx, s, library.KindBook, ds, id, bookRow.toBook)
}

func (s *Store) bookQuery(f library.BookFilter) *goqu.SelectDataset {
	ds := s.dialect.From(tableBooks)
	if f.IDs != nil {
		if len(f.IDs) == 0 {
			return ds.Where(goqu.L("1 = 0"))
		}
		ds = ds.Where(goqu.C("id").In(f.IDs))
	}
	if f.Department != "" {
		ds = ds.Where(goqu.C("department").Eq(string(f.Department)))
	}
	if f.Query != "" {
		ds = ds.Where(contains(f.Query, "title", "author", "isbn"))
	}
	return ds
}

func (s *Store) ListBooks(ctx context.Context, f library.BookFilter) ([]library.Book, error) {
	ds := paged(s.bookQuery(f).Order(goqu.C("title").Asc(), goqu.C("id").Asc()), f.Page)
	return getMany(ctx, s, library.KindBook, ds, bookRow.toBook)
}

func (s *Store) CountBooks(ctx context.Context, f library.BookFilter) (int, error) {
	return s.count(ctx, s.bookQuery(f))
}

// UpdateBook writes only when the stored version matches b.Version.
func (s *Store) UpdateBook(ctx context.Context, b library.Book) error {
	expected := b.Version
	b.Version++
	row, err := bookToRow(b)
	if err != nil {
		return err
	}
	query, args, err := s.dialect.Update(tableBooks).
		Set(row).
		Where(goqu.C("id").Eq(b.ID), goqu.C("version").Eq(expected)).
		Prepared(true).
		ToSQL()
	if err != nil {
		return fmt.Errorf("build update books: %w", err)
	}
	res, err := s.ext().ExecContext(ctx, query, args...)
	if err != nil {
		return mapWriteError(library.KindBook, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	exists, err := s.Exists(ctx, library.KindBook, b.ID)
	if err != nil {
		return err
	}
	if !exists {
		return &library.NotFoundError{Kind: library.KindBook, ID: b.ID}
	}
	return library.ErrConcurrentModification
}

func (s *Store) DeleteBook(ctx context.Context, id string) error {
	return s.delete(ctx, library.KindBook, tableBooks, id)
}

// =============================================================================
// LOANS
// =============================================================================

func (s *Store) CreateLoan(ctx context.Context, l library.Loan) error {
	return s.insert(ctx, library.KindLoan, tableLoans, loanToRow(l))
}

func (s *Store) GetLoan(ctx context.Context, id string) (library.Loan, error) {
	ds := s.dialect.From(tableLoans).Where(goqu.C("id").Eq(id))
	return getOne(ctx, s, library.KindLoan, ds, id, loanRow.toLoan)
}

func (s *Store) loanQuery(f library.LoanFilter) *goqu.SelectDataset {
	ds := s.dialect.From(tableLoans)
	if f.StudentID != "" {
		ds = ds.Where(goqu.C("student_id").Eq(f.StudentID))
	}
	if f.BookID != "" {
		ds = ds.Where(goqu.C("book_id").Eq(f.BookID))
	}
	if len(f.Statuses) > 0 {
		ds = ds.Where(goqu.C("status").In(strs(f.Statuses)))
	}
	if f.DueBefore != nil {
		ds = ds.Where(goqu.C("due_date").Lt(fmtTime(*f.DueBefore)))
	}
	if f.IssuedAfter != nil {
		ds = ds.Where(goqu.C("issued_at").Gte(fmtTime(*f.IssuedAfter)))
	}
	return ds
}

func (s *Store) ListLoans(ctx context.Context, f library.LoanFilter) ([]library.Loan, error) {
	ds := paged(s.loanQuery(f).Order(goqu.C("issued_at").Desc(), goqu.C("id").Asc()), f.Page)
	return getMany(ctx, s, library.KindLoan, ds, loanRow.toLoan)
}

func (s *Store) CountLoans(ctx context.Context, f library.LoanFilter) (int, error) {
	return s.count(ctx, s.loanQuery(f))
}

func (s *Store) UpdateLoan(ctx context.Context, l library.Loan) error {
	return s.update(ctx, library.KindLoan, tableLoans, l.ID, loanToRow(l))
}

func (s *Store) DeleteLoan(ctx context.Context, id string) error {
	return s.delete(ctx, library.KindLoan, tableLoans, id)
}

// =============================================================================
// RESERVATIONS
// =============================================================================

func (s *Store) CreateReservation(ctx context.Context, r library.Reservation) error {
	return s.insert(ctx, library.KindReservation, tableReservations, reservationToRow(r))
}

func (s *Store) GetReservation(ctx context.Context, id string) (library.Reservation, error) {
	ds := s.dialect.From(tableReservations).Where(goqu.C("id").Eq(id))
	return getOne(ctx, s, library.KindReservation, ds, id, reservationRow.toReservation)
}

func (s *Store) ListReservations(ctx context.Context, f library.ReservationFilter) ([]library.Reservation, error) {
	ds := s.dialect.From(tableReservations)
	if f.BookID != "" {
		ds = ds.Where(goqu.C("book_id").Eq(f.BookID))
	}
	if f.StudentID != "" {
		ds = ds.Where(goqu.C("student_id").Eq(f.StudentID))
	}
	if len(f.Statuses) > 0 {
		ds = ds.Where(goqu.C("status").In(strs(f.Statuses)))
	}
	ds = paged(ds.Order(goqu.C("queue_position").Asc(), goqu.C("created_at").Asc(), goqu.C("id").Asc()), f.Page)
	return getMany(ctx, s, library.KindReservation, ds, reservationRow.toReservation)
}

func (s *Store) UpdateReservation(ctx context.Context, r library.Reservation) error {
	return s.update(ctx, library.KindReservation, tableReservations, r.ID, reservationToRow(r))
}

func (s *Store) DeleteReservation(ctx context.Context, id string) error {
	return s.delete(ctx, library.KindReservation, tableReservations, id)
}

// =============================================================================
// FINES
// =============================================================================

func (s *Store) CreateFine(ctx context.Context, f library.Fine) error {
	return s.insert(ctx, library.KindFine, tableFines, fineToRow(f))
}

func (s *Store) GetFine(ctx context.Context, id string) (library.Fine, error) {
	ds := s.dialect.From(tableFines).Where(goqu.C("id").Eq(id))
	return getOne(ctx, s, library.KindFine, ds, id, fineRow.toFine)
}

func (s *Store) ListFines(ctx context.Context, f library.FineFilter) ([]library.Fine, error) {
	ds := s.dialect.From(tableFines)
	if f.StudentID != "" {
		ds = ds.Where(goqu.C("student_id").Eq(f.StudentID))
	}
	if f.LoanID != "" {
		ds = ds.Where(goqu.C("loan_id").Eq(f.LoanID))
	}
	if len(f.Statuses) > 0 {
		ds = ds.Where(goqu.C("status").In(strs(f.Statuses)))
	}
	ds = paged(ds.Order(goqu.C("created_at").Desc(), goqu.C("id").Asc()), f.Page)
	return getMany(ctx, s, library.KindFine, ds, fineRow.toFine)
}

func (s *Store) UpdateFine(ctx context.Context, f library.Fine) error {
	return s.update(ctx, library.KindFine, tableFines, f.ID, fineToRow(f))
}

func (s *Store) DeleteFine(ctx context.Context, id string) error {
	return s.delete(ctx, library.KindFine, tableFines, id)
}

// =============================================================================
// AUDIT LEDGER - INSERT and SELECT only
// =============================================================================

func (s *Store) AppendAudit(ctx context.Context, e library.AuditEntry) error {
	row, err := auditToRow(e)
	if err != nil {
		return err
	}
	return s.insert(ctx, library.KindAudit, tableAudit, row)
}

func (s *Store) GetAudit(ctx context.Context, id string) (library.AuditEntry, error) {
	ds := s.dialect.From(tableAudit).Where(goqu.C("id").Eq(id))
	return getOne(ctx, s, library.KindAudit, ds, id, auditRow.toAudit)
}

func (s *Store) auditQuery(f library.AuditFilter) *goqu.SelectDataset {
	ds := s.dialect.From(tableAudit)
	if len(f.Actions) > 0 {
		ds = ds.Where(goqu.C("action").In(strs(f.Actions)))
	}
	if f.BookID != "" {
		ds = ds.Where(goqu.C("book_id").Eq(f.BookID))
	}
	if f.StudentID != "" {
		ds = ds.Where(goqu.C("student_id").Eq(f.StudentID))
	}
	if f.AdminID != "" {
		ds = ds.Where(goqu.C("admin_id").Eq(f.AdminID))
	}
	if f.From != nil {
		ds = ds.Where(goqu.C("occurred_at").Gte(fmtTime(*f.From)))
	}
	if f.To != nil {
		ds = ds.Where(goqu.C("occurred_at").Lte(fmtTime(*f.To)))
	}
	return ds
}

func (s *Store) QueryAudit(ctx context.Context, f library.AuditFilter) ([]library.AuditEntry, error) {
	ds := paged(s.auditQuery(f).Order(goqu.C("occurred_at").Desc(), goqu.C("id").Asc()), f.Page)
	return getMany(ctx, s, library.KindAudit, ds, auditRow.toAudit)
}

func (s *Store) CountAudit(ctx context.Context, f library.AuditFilter) (int, error) {
	return s.count(ctx, s.auditQuery(f))
}

// =============================================================================
// USERS
// =============================================================================

func (s *Store) CreateUser(ctx context.Context, u library.User) error {
	return s.insert(ctx, library.KindUser, tableUsers, userToRow(u))
}

func (s *Store) GetUser(ctx context.Context, id string) (library.User, error) {
	ds := s.dialect.From(tableUsers).Where(goqu.C("id").Eq(id))
	return getOne(ctx, s, library.KindUser, ds, id, userRow.toUser)
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (library.User, error) {
	ds := s.dialect.From(tableUsers).Where(goqu.Func("LOWER", goqu.C("email")).Eq(strings.ToLower(email)))
	return getOne(ctx, s, library.KindUser, ds, email, userRow.toUser)
}
