/*
integrity.go - Referential integrity checker

PURPOSE:
  Finds records whose references point at nothing. The store has no
  foreign keys, so this scan is the only thing standing between a broken
  reference and an "Unknown Student" row in a report.

WHAT IS CHECKED:
  BorrowTransaction   studentId, bookId            (both required)
  BookReservation     bookId, studentId            (both required)
  LibraryFineLedger   studentId (required), loanId (optional)
  LibraryAuditLog     bookId, studentId, adminId   (all optional)

CLASSIFICATION:
  Orphan    A required reference is missing. Deletable by remediation.
  Dangling  Only optional references are broken. Reported, never deleted.
  Retained  An audit entry that carries references of which none resolve.

  Audit entries are special. The ledger is append-only, so an entry whose
  references all point at nothing can never be removed. A routine delete
  of a book or student leaves its ADD entry in exactly that state. Such
  entries are listed under Retained and do not make the report unclean.
  An entry with at least one valid reference is merely dangling. An entry
  with no references at all (system events) is fine.

GUARANTEES:
  Scan never writes. Running it twice on an unchanged store gives the
  same report.

SEE ALSO:
  - remediation.go: Cleanup consumes the report
*/
package library

import (
	"context"
	"fmt"
	"time"
)

// scanBatch is the page size used when walking a collection.
const scanBatch = 500

// Finding is one broken record.
type Finding struct {
	Kind      EntityKind `json:"kind"`
	ID        string     `json:"id"`
	Reason    string     `json:"reason"`
	Deletable bool       `json:"deletable"`
}

// IntegrityReport is the result of a scan, grouped per category.
type IntegrityReport struct {
	ScannedAt time.Time                `json:"scannedAt"`
	Scanned   map[EntityKind]int       `json:"scanned"`
	Orphans   map[EntityKind][]Finding `json:"orphans"`
	Dangling  map[EntityKind][]Finding `json:"dangling"`
	Retained  []Finding                `json:"retained"`
}

// ScannedKinds are the report categories in scan order.
var ScannedKinds = []EntityKind{KindLoan, KindReservation, KindFine, KindAudit}

func newReport(at time.Time) IntegrityReport {
	r := IntegrityReport{
		ScannedAt: at,
		Scanned:   map[EntityKind]int{},
		Orphans:   map[EntityKind][]Finding{},
		Dangling:  map[EntityKind][]Finding{},
		Retained:  []Finding{},
	}
	for _, k := range ScannedKinds {
		r.Orphans[k] = []Finding{}
		r.Dangling[k] = []Finding{}
	}
	return r
}

// OrphanCount is the number of orphans across all categories. Retained
// audit entries are not counted.
func (r IntegrityReport) OrphanCount() int {
	n := 0
	for _, fs := range r.Orphans {
		n += len(fs)
	}
	return n
}

// DanglingCount is the number of tolerated partial breakages.
func (r IntegrityReport) DanglingCount() int {
	n := 0
	for _, fs := range r.Dangling {
		n += len(fs)
	}
	return n
}

// RetainedCount is the number of audit entries kept despite having no
// valid reference.
func (r IntegrityReport) RetainedCount() int {
	return len(r.Retained)
}

// Deletable lists the orphans remediation may remove, in category order.
func (r IntegrityReport) Deletable() []Finding {
	var out []Finding
	for _, k := range ScannedKinds {
		for _, f := range r.Orphans[k] {
			if f.Deletable {
				out = append(out, f)
			}
		}
	}
	return out
}

// Clean reports whether no removable orphans were found. Retained audit
// entries are tolerated.
func (r IntegrityReport) Clean() bool {
	return r.OrphanCount() == 0
}

// =============================================================================
// CHECKER
// =============================================================================

// Checker scans a store for broken references.
type Checker struct {
	store Store
	now   func() time.Time
}

func NewChecker(st Store) *Checker {
	return &Checker{store: st, now: time.Now}
}

// Scan walks every referencing collection and classifies broken records.
func (c *Checker) Scan(ctx context.Context) (IntegrityReport, error) {
	rep := newReport(c.now().UTC())
	res := &resolver{store: c.store, seen: map[EntityKind]map[string]bool{}}

	if err := c.scanLoans(ctx, res, &rep); err != nil {
		return rep, fmt.Errorf("scan loans: %w", err)
	}
	if err := c.scanReservations(ctx, res, &rep); err != nil {
		return rep, fmt.Errorf("scan reservations: %w", err)
	}
	if err := c.scanFines(ctx, res, &rep); err != nil {
		return rep, fmt.Errorf("scan fines: %w", err)
	}
	if err := c.scanAudit(ctx, res, &rep); err != nil {
		return rep, fmt.Errorf("scan audit log: %w", err)
	}
	return rep, nil
}

func (c *Checker) scanLoans(ctx context.Context, res *resolver, rep *IntegrityReport) error {
	for offset := 0; ; offset += scanBatch {
		loans, err := c.store.ListLoans(ctx, LoanFilter{Page: Page{Limit: scanBatch, Offset: offset}})
		if err != nil {
			return err
		}
		for _, l := range loans {
			rep.Scanned[KindLoan]++
			missing, err := res.missing(ctx, ref{"studentId", KindStudent, l.StudentID}, ref{"bookId", KindBook, l.BookID})
			if err != nil {
				return err
			}
			if len(missing) > 0 {
				rep.Orphans[KindLoan] = append(rep.Orphans[KindLoan], Finding{
					Kind: KindLoan, ID: l.ID, Reason: describe(missing), Deletable: true,
				})
			}
		}
		if len(loans) < scanBatch {
			return nil
		}
	}
}

func (c *Checker) scanReservations(ctx context.Context, res *resolver, rep *IntegrityReport) error {
	for offset := 0; ; offset += scanBatch {
		rs, err := c.store.ListReservations(ctx, ReservationFilter{Page: Page{Limit: scanBatch, Offset: offset}})
		if err != nil {
			return err
		}
		for _, r := range rs {
			rep.Scanned[KindReservation]++
			missing, err := res.missing(ctx, ref{"bookId", KindBook, r.BookID}, ref{"studentId", KindStudent, r.StudentID})
			if err != nil {
				return err
			}
			if len(missing) > 0 {
				rep.Orphans[KindReservation] = append(rep.Orphans[KindReservation], Finding{
					Kind: KindReservation, ID: r.ID, Reason: describe(missing), Deletable: true,
				})
			}
		}
		if len(rs) < scanBatch {
			return nil
		}
	}
}

func (c *Checker) scanFines(ctx context.Context, res *resolver, rep *IntegrityReport) error {
	for offset := 0; ; offset += scanBatch {
		fs, err := c.store.ListFines(ctx, FineFilter{Page: Page{Limit: scanBatch, Offset: offset}})
		if err != nil {
			return err
		}
		for _, f := range fs {
			rep.Scanned[KindFine]++
			missing, err := res.missing(ctx, ref{"studentId", KindStudent, f.StudentID})
			if err != nil {
				return err
			}
			if len(missing) > 0 {
				rep.Orphans[KindFine] = append(rep.Orphans[KindFine], Finding{
					Kind: KindFine, ID: f.ID, Reason: describe(missing), Deletable: true,
				})
				continue
			}
			if f.LoanID == "" {
				continue
			}
			optional, err := res.missing(ctx, ref{"loanId", KindLoan, f.LoanID})
			if err != nil {
				return err
			}
			if len(optional) > 0 {
				rep.Dangling[KindFine] = append(rep.Dangling[KindFine], Finding{
					Kind: KindFine, ID: f.ID, Reason: describe(optional),
				})
			}
		}
		if len(fs) < scanBatch {
			return nil
		}
	}
}

func (c *Checker) scanAudit(ctx context.Context, res *resolver, rep *IntegrityReport) error {
	for offset := 0; ; offset += scanBatch {
		entries, err := c.store.QueryAudit(ctx, AuditFilter{Page: Page{Limit: scanBatch, Offset: offset}})
		if err != nil {
			return err
		}
		for _, e := range entries {
			rep.Scanned[KindAudit]++
			refs := auditRefs(e)
			if len(refs) == 0 {
				continue
			}
			missing, err := res.missing(ctx, refs...)
			if err != nil {
				return err
			}
			switch {
			case len(missing) == 0:
			case len(missing) == len(refs):
				rep.Retained = append(rep.Retained, Finding{
					Kind: KindAudit, ID: e.ID, Reason: describe(missing),
				})
			default:
				rep.Dangling[KindAudit] = append(rep.Dangling[KindAudit], Finding{
					Kind: KindAudit, ID: e.ID, Reason: describe(missing),
				})
			}
		}
		if len(entries) < scanBatch {
			return nil
		}
	}
}

func auditRefs(e AuditEntry) []ref {
	var refs []ref
	if e.BookID != "" {
		refs = append(refs, ref{"bookId", KindBook, e.BookID})
	}
	if e.StudentID != "" {
		refs = append(refs, ref{"studentId", KindStudent, e.StudentID})
	}
	if e.AdminID != "" {
		refs = append(refs, ref{"adminId", KindUser, e.AdminID})
	}
	return refs
}

// =============================================================================
// RESOLVER
// =============================================================================

type ref struct {
	field  string
	target EntityKind
	id     string
}

// resolver memoizes existence checks for the duration of one scan.
type resolver struct {
	store Store
	seen  map[EntityKind]map[string]bool
}

// missing returns the refs that do not resolve. An empty id counts as
// missing.
func (r *resolver) missing(ctx context.Context, refs ...ref) ([]ref, error) {
	var out []ref
	for _, rf := range refs {
		ok, err := r.exists(ctx, rf.target, rf.id)
		if err != nil {
			return nil, err
		}
		if !ok {
			out = append(out, rf)
		}
	}
	return out, nil
}

func (r *resolver) exists(ctx context.Context, kind EntityKind, id string) (bool, error) {
	if id == "" {
		return false, nil
	}
	cache, ok := r.seen[kind]
	if !ok {
		cache = map[string]bool{}
		r.seen[kind] = cache
	}
	if v, ok := cache[id]; ok {
		return v, nil
	}
	v, err := r.store.Exists(ctx, kind, id)
	if err != nil {
		return false, err
	}
	cache[id] = v
	return v, nil
}

func describe(missing []ref) string {
	reason := ""
	for i, m := range missing {
		if i > 0 {
			reason += "; "
		}
		if m.id == "" {
			reason += fmt.Sprintf("%s is empty", m.field)
			continue
		}
		reason += fmt.Sprintf("%s %s does not exist (%s)", m.target, m.id, m.field)
	}
	return reason
}
