/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the chi router, the middleware stack, and which roles may
  call which route. This is the wiring layer that connects URLs to
  handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. RealIP:     Client address from X-Forwarded-For / X-Real-IP
  3. Logger:     Request logging
  4. Recoverer:  Panic recovery (500 instead of crash)
  5. Timeout:    Per-request deadline
  6. CORS:       Cross-origin requests for the frontend
  7. Identify:   Resolves the caller's role (auth.go)

ROUTE GROUPS:
  /api/auth/*        Login
  /api/students/*    Student management
  /api/library/*     Catalogue, circulation, fines, reports, audit log
  /api/system/*      Integrity scan, cleanup, reconcile, health score
  /health            Liveness probe

ROLES:
  Reads are open to every caller. Writes name their roles with
  requireRole. Audit log entries can never be changed, so PUT, PATCH and
  DELETE on them answer 403 regardless of role.

SEE ALSO:
  - handlers.go: Handler implementations
  - auth.go: Role resolution
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/warp/library-engine/library"
)

// RouterOptions tunes the middleware stack.
type RouterOptions struct {
	RequestTimeout time.Duration
	AllowedOrigins []string
}

var (
	staff     = []library.Role{library.RoleAdmin, library.RoleLibrarian}
	admin     = []library.Role{library.RoleAdmin}
	auditors  = []library.Role{library.RoleAdmin, library.RoleAuditor}
	borrowers = []library.Role{library.RoleAdmin, library.RoleLibrarian, library.RoleStudent}
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"http://localhost:5173", "http://localhost:8080"}
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(opts.RequestTimeout))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Role", "X-User-Id"},
		AllowCredentials: true,
	}))
	r.Use(h.Identify)

	r.Get("/health", h.Health)

	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/login", h.Login)

		// Student routes
		r.Route("/students", func(r chi.Router) {
			r.Get("/", h.ListStudents)
			r.Get("/{id}", h.GetStudent)
			r.With(requireRole(staff...)).Post("/", h.CreateStudent)
			r.With(requireRole(staff...)).Patch("/{id}", h.UpdateStudent)
			r.With(requireRole(admin...)).Delete("/{id}", h.DeleteStudent)
		})

		r.Route("/library", func(r chi.Router) {
			// Catalogue
			r.Get("/books", h.ListBooks)
			r.Get("/books/{id}", h.GetBook)
			r.With(requireRole(staff...)).Post("/books", h.CreateBook)
			r.With(requireRole(staff...)).Patch("/books/{id}", h.UpdateBook)
			r.With(requireRole(admin...)).Delete("/books/{id}", h.DeleteBook)

			// Circulation
			r.With(requireRole(staff...)).Post("/issue", h.IssueBook)
			r.With(requireRole(staff...)).Post("/return", h.ReturnBook)
			r.With(requireRole(staff...)).Post("/renew", h.RenewBook)
			r.With(requireRole(borrowers...)).Post("/reserve", h.ReserveBook)

			r.Get("/reservations", h.ListReservations)
			r.With(requireRole(staff...)).Post("/reservations/{id}/fulfill", h.FulfillReservation)
			r.With(requireRole(borrowers...)).Post("/reservations/{id}/cancel", h.CancelReservation)

			r.Get("/loans", h.ListLoans)
			r.Get("/transactions", h.ListTransactions)

			// Fines
			r.Get("/fines", h.ListFines)
			r.With(requireRole(staff...)).Post("/fines/{id}/pay", h.PayFine)
			r.With(requireRole(staff...)).Post("/fines/{id}/waive", h.WaiveFine)

			// Reports
			r.Get("/analytics", h.Analytics)
			r.Get("/profile/{studentId}", h.Profile)
			r.With(requireRole(admin...)).Post("/trigger-reminders", h.TriggerReminders)

			// Audit log
			r.With(requireRole(auditors...)).Get("/audit-logs", h.ListAuditLogs)
			r.With(requireRole(auditors...)).Get("/audit-logs/{id}", h.GetAuditLog)
			r.Put("/audit-logs/{id}", h.RejectAuditChange)
			r.Patch("/audit-logs/{id}", h.RejectAuditChange)
			r.Delete("/audit-logs/{id}", h.RejectAuditChange)
		})

		r.With(requireRole(staff...)).Get("/reports/weekly", h.WeeklyReport)
		r.With(requireRole(admin...)).Post("/notifications/blast", h.Broadcast)

		r.Route("/system", func(r chi.Router) {
			r.With(requireRole(auditors...)).Get("/integrity", h.ScanIntegrity)
			r.With(requireRole(admin...)).Post("/integrity/cleanup", h.CleanupIntegrity)
			r.With(requireRole(admin...)).Post("/reconcile", h.Reconcile)
			r.With(requireRole(auditors...)).Get("/health", h.SystemHealth)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeFail(w, http.StatusNotFound, "Route not found: "+r.URL.Path)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeFail(w, http.StatusMethodNotAllowed, "Method not allowed")
	})

	return r
}
