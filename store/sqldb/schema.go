package sqldb

// Schema is applied statement by statement on Open. References between
// tables are plain TEXT columns without FOREIGN KEY clauses; the
// integrity checker owns referential consistency. Timestamps are stored as
// fixed-width UTC text so lexical order is chronological in both dialects.

const (
	idxStudentsEmail = "ux_students_email"
	idxBooksISBN     = "ux_books_isbn"
	idxUsersEmail    = "ux_users_email"

	appendOnlyMessage = "audit log is append-only"
)

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS students (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT NOT NULL,
		phone TEXT NOT NULL DEFAULT '',
		course TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		enrollment_date TEXT NOT NULL,
		gpa REAL,
		city TEXT NOT NULL DEFAULT '',
		country TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ` + idxStudentsEmail + ` ON students(lower(email))`,

	`CREATE TABLE IF NOT EXISTS books (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		author TEXT NOT NULL,
		isbn TEXT NOT NULL,
		genre TEXT NOT NULL DEFAULT '',
		department TEXT NOT NULL,
		total_copies INTEGER NOT NULL,
		checked_out_count INTEGER NOT NULL,
		available_copies INTEGER NOT NULL,
		status TEXT NOT NULL,
		shelf_location TEXT NOT NULL DEFAULT '',
		tags TEXT,
		added_date TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		version INTEGER NOT NULL DEFAULT 1
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ` + idxBooksISBN + ` ON books(isbn)`,

	`CREATE TABLE IF NOT EXISTS loans (
		id TEXT PRIMARY KEY,
		student_id TEXT NOT NULL,
		book_id TEXT NOT NULL,
		issued_at TEXT NOT NULL,
		due_date TEXT NOT NULL,
		returned_at TEXT,
		status TEXT NOT NULL,
		fine_amount TEXT NOT NULL DEFAULT '0',
		renewal_count INTEGER NOT NULL DEFAULT 0,
		updated_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_loans_student ON loans(student_id, status)`,
	`CREATE INDEX IF NOT EXISTS idx_loans_book ON loans(book_id, status)`,
	`CREATE INDEX IF NOT EXISTS idx_loans_due ON loans(status, due_date)`,

	`CREATE TABLE IF NOT EXISTS reservations (
		id TEXT PRIMARY KEY,
		book_id TEXT NOT NULL,
		student_id TEXT NOT NULL,
		status TEXT NOT NULL,
		queue_position INTEGER NOT NULL,
		expiry_date TEXT NOT NULL,
		fulfilled_at TEXT,
		loan_id TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_reservations_book ON reservations(book_id, status, queue_position)`,

	`CREATE TABLE IF NOT EXISTS fines (
		id TEXT PRIMARY KEY,
		student_id TEXT NOT NULL,
		loan_id TEXT NOT NULL DEFAULT '',
		amount TEXT NOT NULL,
		reason TEXT NOT NULL,
		status TEXT NOT NULL,
		paid_date TEXT,
		created_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_fines_student ON fines(student_id, status)`,

	`CREATE TABLE IF NOT EXISTS audit_log (
		id TEXT PRIMARY KEY,
		action TEXT NOT NULL,
		book_id TEXT NOT NULL DEFAULT '',
		student_id TEXT NOT NULL DEFAULT '',
		admin_id TEXT NOT NULL DEFAULT '',
		metadata TEXT,
		occurred_at TEXT NOT NULL,
		ip_address TEXT NOT NULL DEFAULT '',
		user_agent TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_timestamp ON audit_log(occurred_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_action ON audit_log(action, occurred_at DESC)`,
	`CREATE TRIGGER IF NOT EXISTS audit_log_no_update BEFORE UPDATE ON audit_log
	BEGIN
		SELECT RAISE(ABORT, '` + appendOnlyMessage + `');
	END`,
	`CREATE TRIGGER IF NOT EXISTS audit_log_no_delete BEFORE DELETE ON audit_log
	BEGIN
		SELECT RAISE(ABORT, '` + appendOnlyMessage + `');
	END`,

	`CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT NOT NULL,
		password_hash TEXT NOT NULL,
		role TEXT NOT NULL,
		created_at TEXT NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ` + idxUsersEmail + ` ON users(lower(email))`,
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS students (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT NOT NULL,
		phone TEXT NOT NULL DEFAULT '',
		course TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		enrollment_date TEXT NOT NULL,
		gpa DOUBLE PRECISION,
		city TEXT NOT NULL DEFAULT '',
		country TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ` + idxStudentsEmail + ` ON students(lower(email))`,

	`CREATE TABLE IF NOT EXISTS books (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		author TEXT NOT NULL,
		isbn TEXT NOT NULL,
		genre TEXT NOT NULL DEFAULT '',
		department TEXT NOT NULL,
		total_copies INTEGER NOT NULL,
		checked_out_count INTEGER NOT NULL,
		available_copies INTEGER NOT NULL,
		status TEXT NOT NULL,
		shelf_location TEXT NOT NULL DEFAULT '',
		tags TEXT,
		added_date TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		version BIGINT NOT NULL DEFAULT 1
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ` + idxBooksISBN + ` ON books(isbn)`,

	`CREATE TABLE IF NOT EXISTS loans (
		id TEXT PRIMARY KEY,
		student_id TEXT NOT NULL,
		book_id TEXT NOT NULL,
		issued_at TEXT NOT NULL,
		due_date TEXT NOT NULL,
		returned_at TEXT,
		status TEXT NOT NULL,
		fine_amount TEXT NOT NULL DEFAULT '0',
		renewal_count INTEGER NOT NULL DEFAULT 0,
		updated_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_loans_student ON loans(student_id, status)`,
	`CREATE INDEX IF NOT EXISTS idx_loans_book ON loans(book_id, status)`,
	`CREATE INDEX IF NOT EXISTS idx_loans_due ON loans(status, due_date)`,

	`CREATE TABLE IF NOT EXISTS reservations (
		id TEXT PRIMARY KEY,
		book_id TEXT NOT NULL,
		student_id TEXT NOT NULL,
		status TEXT NOT NULL,
		queue_position INTEGER NOT NULL,
		expiry_date TEXT NOT NULL,
		fulfilled_at TEXT,
		loan_id TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_reservations_book ON reservations(book_id, status, queue_position)`,

	`CREATE TABLE IF NOT EXISTS fines (
		id TEXT PRIMARY KEY,
		student_id TEXT NOT NULL,
		loan_id TEXT NOT NULL DEFAULT '',
		amount TEXT NOT NULL,
		reason TEXT NOT NULL,
		status TEXT NOT NULL,
		paid_date TEXT,
		created_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_fines_student ON fines(student_id, status)`,

	`CREATE TABLE IF NOT EXISTS audit_log (
		id TEXT PRIMARY KEY,
		action TEXT NOT NULL,
		book_id TEXT NOT NULL DEFAULT '',
		student_id TEXT NOT NULL DEFAULT '',
		admin_id TEXT NOT NULL DEFAULT '',
		metadata TEXT,
		occurred_at TEXT NOT NULL,
		ip_address TEXT NOT NULL DEFAULT '',
		user_agent TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_timestamp ON audit_log(occurred_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_action ON audit_log(action, occurred_at DESC)`,
	`CREATE OR REPLACE FUNCTION audit_log_append_only() RETURNS trigger AS $$
	BEGIN
		RAISE EXCEPTION '` + appendOnlyMessage + `' USING ERRCODE = 'restrict_violation';
	END;
	$$ LANGUAGE plpgsql`,
	`DROP TRIGGER IF EXISTS audit_log_no_update ON audit_log`,
	`CREATE TRIGGER audit_log_no_update BEFORE UPDATE ON audit_log
		FOR EACH ROW EXECUTE FUNCTION audit_log_append_only()`,
	`DROP TRIGGER IF EXISTS audit_log_no_delete ON audit_log`,
	`CREATE TRIGGER audit_log_no_delete BEFORE DELETE ON audit_log
		FOR EACH ROW EXECUTE FUNCTION audit_log_append_only()`,

	`CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT NOT NULL,
		password_hash TEXT NOT NULL,
		role TEXT NOT NULL,
		created_at TEXT NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ` + idxUsersEmail + ` ON users(lower(email))`,
}
