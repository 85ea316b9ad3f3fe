/*
handlers.go - HTTP API handlers for the library engine

PURPOSE:
  Exposes the library service over REST. Handlers parse and validate the
  request, call exactly one service operation and write the envelope.
  Business rules live in the library package, never here.

ENDPOINTS:
  Auth:
    POST   /api/auth/login                 Exchange email/password for a JWT

  Students:
    GET    /api/students                   List (status, q, page, limit)
    POST   /api/students                   Register
    GET    /api/students/{id}              Details
    PATCH  /api/students/{id}              Partial update (email is immutable)
    DELETE /api/students/{id}              Remove an unreferenced student

  Books:
    GET    /api/library/books              List (department, q, overdue, page, limit)
    POST   /api/library/books              Add a title
    GET    /api/library/books/{id}         Details
    PATCH  /api/library/books/{id}         Partial update through the counter rule
    DELETE /api/library/books/{id}         Remove an unreferenced title

  Circulation, fines, audit: see circulation.go
  Integrity and health: see system.go

ERROR HANDLING:
  Errors are mapped by statusFor:
  - 400: Validation, conflict, broken reference
  - 403: Role denied, immutable field or record
  - 404: Record not found
  - 409: Concurrent modification that survived the retries
  - 500: Anything else (logged, generic message to the client)

SEE ALSO:
  - dto.go: Request bodies
  - response.go: Envelope helpers
  - server.go: Router setup and middleware
*/
package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/warp/library-engine/library"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	svc      *library.Service
	auth     *Auth
	log      *slog.Logger
	validate *validator.Validate
}

// NewHandler creates a handler over svc.
func NewHandler(svc *library.Service, auth *Auth, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		svc:      svc,
		auth:     auth,
		log:      log.With("component", "api"),
		validate: newValidator(),
	}
}

// =============================================================================
// AUTH
// =============================================================================

// Login checks credentials and returns a signed token.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := h.decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	user, err := h.svc.Authenticate(r.Context(), req.Email, req.Password)
	var cerr *library.ConflictError
	if errors.As(err, &cerr) && cerr.Code == library.CodeInvalidCredentials {
		writeFail(w, http.StatusUnauthorized, cerr.Message)
		return
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	token, exp, err := h.auth.Issue(user)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, LoginResponse{Token: token, ExpiresAt: exp, User: user})
}

// =============================================================================
// STUDENT HANDLERS
// =============================================================================

// ListStudents returns one page of students.
func (h *Handler) ListStudents(w http.ResponseWriter, r *http.Request) {
	p := parsePage(r)
	q := r.URL.Query()
	res, err := h.svc.ListStudents(r.Context(), library.StudentFilter{
		Status: library.StudentStatus(q.Get("status")),
		Query:  firstNonEmpty(q.Get("q"), q.Get("search")),
		Page:   p.toPage(),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeList(w, res.Students, res.Total, p)
}

func (h *Handler) GetStudent(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.GetStudent(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, st)
}

func (h *Handler) CreateStudent(w http.ResponseWriter, r *http.Request) {
	var req CreateStudentRequest
	if err := h.decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	st, err := h.svc.CreateStudent(r.Context(), req.toStudent(), actorFrom(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, st)
}

func (h *Handler) UpdateStudent(w http.ResponseWriter, r *http.Request) {
	var req UpdateStudentRequest
	if err := h.decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	st, err := h.svc.UpdateStudent(r.Context(), chi.URLParam(r, "id"), req.toPatch(), actorFrom(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, st)
}

func (h *Handler) DeleteStudent(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteStudent(r.Context(), chi.URLParam(r, "id"), actorFrom(r.Context())); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Envelope{Status: statusSuccess, Message: "Student deleted"})
}

// =============================================================================
// BOOK HANDLERS
// =============================================================================

// ListBooks returns one page of the catalogue. overdue=true limits the
// result to titles with at least one overdue loan.
func (h *Handler) ListBooks(w http.ResponseWriter, r *http.Request) {
	p := parsePage(r)
	q := r.URL.Query()
	res, err := h.svc.ListBooks(r.Context(), library.BookQuery{
		Department: library.Department(q.Get("department")),
		Query:      firstNonEmpty(q.Get("q"), q.Get("search")),
		Overdue:    queryBool(r, "overdue"),
		Page:       p.toPage(),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeList(w, res.Books, res.Total, p)
}

func (h *Handler) GetBook(w http.ResponseWriter, r *http.Request) {
	b, err := h.svc.GetBook(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, b)
}

func (h *Handler) CreateBook(w http.ResponseWriter, r *http.Request) {
	var req CreateBookRequest
	if err := h.decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	b, err := h.svc.CreateBook(r.Context(), req.toBook(), actorFrom(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, b)
}

func (h *Handler) UpdateBook(w http.ResponseWriter, r *http.Request) {
	var req UpdateBookRequest
	if err := h.decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	b, err := h.svc.UpdateBook(r.Context(), chi.URLParam(r, "id"), req.toPatch(), actorFrom(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, b)
}

func (h *Handler) DeleteBook(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteBook(r.Context(), chi.URLParam(r, "id"), actorFrom(r.Context())); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Envelope{Status: statusSuccess, Message: "Book deleted"})
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
