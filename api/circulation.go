package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/warp/library-engine/library"
)

// =============================================================================
// ISSUE / RETURN / RENEW / RESERVE
// =============================================================================

func (h *Handler) IssueBook(w http.ResponseWriter, r *http.Request) {
	var req IssueBookRequest
	if err := h.decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	loan, err := h.svc.Issue(r.Context(), library.IssueRequest{
		BookID:    req.BookID,
		StudentID: req.StudentID,
		Days:      req.Days,
		Actor:     actorFrom(r.Context()),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, loan)
}

func (h *Handler) ReturnBook(w http.ResponseWriter, r *http.Request) {
	var req ReturnBookRequest
	if err := h.decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	res, err := h.svc.Return(r.Context(), req.TransactionID, actorFrom(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, res)
}

func (h *Handler) RenewBook(w http.ResponseWriter, r *http.Request) {
	var req RenewBookRequest
	if err := h.decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	loan, err := h.svc.Renew(r.Context(), req.TransactionID, req.Days, actorFrom(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, loan)
}

func (h *Handler) ReserveBook(w http.ResponseWriter, r *http.Request) {
	var req ReserveBookRequest
	if err := h.decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	res, err := h.svc.Reserve(r.Context(), req.BookID, req.StudentID, actorFrom(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, res)
}

// =============================================================================
// RESERVATIONS
// =============================================================================

func (h *Handler) ListReservations(w http.ResponseWriter, r *http.Request) {
	p := parsePage(r)
	q := r.URL.Query()
	f := library.ReservationFilter{BookID: q.Get("bookId"), StudentID: q.Get("studentId")}
	for _, s := range splitList(q.Get("status")) {
		f.Statuses = append(f.Statuses, library.ReservationStatus(s))
	}
	all, err := h.svc.ListReservations(r.Context(), f)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeList(w, window(all, p), len(all), p)
}

func (h *Handler) FulfillReservation(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.FulfillReservation(r.Context(), chi.URLParam(r, "id"), actorFrom(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, res)
}

func (h *Handler) CancelReservation(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.CancelReservation(r.Context(), chi.URLParam(r, "id"), actorFrom(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, res)
}

// =============================================================================
// LOANS
// =============================================================================

// legacyStatuses maps the older transaction status names onto loan
// statuses so both spellings filter the same way.
var legacyStatuses = map[string]library.LoanStatus{
	"issued":   library.LoanBorrowed,
	"borrowed": library.LoanBorrowed,
	"returned": library.LoanReturned,
	"overdue":  library.LoanOverdue,
}

func loanFilter(r *http.Request, p pageParams) (library.LoanFilter, error) {
	q := r.URL.Query()
	f := library.LoanFilter{
		StudentID: q.Get("studentId"),
		BookID:    q.Get("bookId"),
		Page:      p.toPage(),
	}
	for _, s := range splitList(q.Get("status")) {
		st, ok := legacyStatuses[strings.ToLower(s)]
		if !ok {
			return f, badRequest("unknown loan status %q", s)
		}
		f.Statuses = append(f.Statuses, st)
	}
	return f, nil
}

func (h *Handler) ListLoans(w http.ResponseWriter, r *http.Request) {
	p := parsePage(r)
	f, err := loanFilter(r, p)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	res, err := h.svc.ListLoans(r.Context(), f)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeList(w, res.Loans, res.Total, p)
}

// ListTransactions serves loans in the legacy transaction shape.
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	p := parsePage(r)
	f, err := loanFilter(r, p)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	res, err := h.svc.ListLoans(r.Context(), f)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	legacy := make([]library.LegacyTransaction, len(res.Loans))
	for i, l := range res.Loans {
		legacy[i] = l.Legacy()
	}
	writeList(w, legacy, res.Total, p)
}

// =============================================================================
// FINES
// =============================================================================

func (h *Handler) ListFines(w http.ResponseWriter, r *http.Request) {
	p := parsePage(r)
	q := r.URL.Query()
	f := library.FineFilter{StudentID: q.Get("studentId"), LoanID: q.Get("loanId")}
	for _, s := range splitList(q.Get("status")) {
		f.Statuses = append(f.Statuses, library.FineStatus(s))
	}
	all, err := h.svc.ListFines(r.Context(), f)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeList(w, window(all, p), len(all), p)
}

func (h *Handler) PayFine(w http.ResponseWriter, r *http.Request) {
	f, err := h.svc.PayFine(r.Context(), chi.URLParam(r, "id"), actorFrom(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, f)
}

func (h *Handler) WaiveFine(w http.ResponseWriter, r *http.Request) {
	f, err := h.svc.WaiveFine(r.Context(), chi.URLParam(r, "id"), actorFrom(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, f)
}

// =============================================================================
// REPORTS
// =============================================================================

func (h *Handler) Analytics(w http.ResponseWriter, r *http.Request) {
	a, err := h.svc.Analytics(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, a)
}

func (h *Handler) Profile(w http.ResponseWriter, r *http.Request) {
	p, err := h.svc.Profile(r.Context(), chi.URLParam(r, "studentId"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, p)
}

// TriggerReminders runs the reminder pass now instead of waiting for the
// scheduler.
func (h *Handler) TriggerReminders(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.SendReminders(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, res)
}

// WeeklyReport returns additions of the last seven days and current loans.
func (h *Handler) WeeklyReport(w http.ResponseWriter, r *http.Request) {
	rep, err := h.svc.WeeklyReport(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, rep)
}

// Broadcast mails an announcement to every Active student.
func (h *Handler) Broadcast(w http.ResponseWriter, r *http.Request) {
	var req BroadcastRequest
	if err := h.decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	res, err := h.svc.Broadcast(r.Context(), req.Subject, req.Message, actorFrom(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, res)
}

// =============================================================================
// AUDIT LOG
// =============================================================================

// ListAuditLogs returns entries newest first. start/end (or
// startDate/endDate) accept RFC 3339 timestamps or plain dates.
func (h *Handler) ListAuditLogs(w http.ResponseWriter, r *http.Request) {
	p := parsePage(r)
	q := r.URL.Query()
	from, to, err := library.ParseAuditRange(
		firstNonEmpty(q.Get("start"), q.Get("startDate")),
		firstNonEmpty(q.Get("end"), q.Get("endDate")),
	)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	f := library.AuditFilter{
		BookID:    q.Get("bookId"),
		StudentID: q.Get("studentId"),
		AdminID:   q.Get("adminId"),
		From:      from,
		To:        to,
		Page:      p.toPage(),
	}
	for _, a := range splitList(q.Get("action")) {
		f.Actions = append(f.Actions, library.AuditAction(strings.ToUpper(a)))
	}
	res, err := h.svc.Ledger().Query(r.Context(), f)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeList(w, res.Entries, res.Total, p)
}

func (h *Handler) GetAuditLog(w http.ResponseWriter, r *http.Request) {
	e, err := h.svc.Ledger().Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, e)
}

// RejectAuditChange answers every attempt to modify or delete an audit
// entry, whoever the caller is.
func (h *Handler) RejectAuditChange(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var err error
	if r.Method == http.MethodDelete {
		err = h.svc.Ledger().Delete(r.Context(), id)
	} else {
		err = h.svc.Ledger().Update(r.Context(), id, nil)
	}
	h.log.WarnContext(r.Context(), "audit log change rejected",
		"method", r.Method, "id", id, "role", actorFrom(r.Context()).Role)
	h.writeError(w, r, err)
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// window cuts one page out of an unpaged result.
func window[T any](all []T, p pageParams) []T {
	start := (p.page - 1) * p.limit
	if start >= len(all) {
		return []T{}
	}
	end := min(start+p.limit, len(all))
	return all[start:end]
}
