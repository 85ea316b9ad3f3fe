package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/warp/library-engine/library"
)

// =============================================================================
// INTEGRITY & MAINTENANCE
// =============================================================================

// ScanIntegrity reports orphaned and dangling references. Read only.
func (h *Handler) ScanIntegrity(w http.ResponseWriter, r *http.Request) {
	rep, err := h.svc.Checker().Scan(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, rep)
}

// CleanupIntegrity is a dry run unless execute=true. Executing deletes
// the deletable orphans and reconciles book counters afterwards.
func (h *Handler) CleanupIntegrity(w http.ResponseWriter, r *http.Request) {
	execute := queryBool(r, "execute")
	res, err := h.svc.Cleanup(r.Context(), library.CleanupOptions{Execute: execute})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.log.InfoContext(r.Context(), "integrity cleanup",
		"execute", execute,
		"deleted", res.DeletedCount(),
		"failures", len(res.Failures),
		"actor", actorFrom(r.Context()).ID,
	)
	writeData(w, http.StatusOK, res)
}

// Reconcile recounts book counters. dryRun may come from the query or the
// body; either one set to true means no writes.
func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	var req ReconcileRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			h.writeError(w, r, badRequest("invalid request body: %v", err))
			return
		}
	}
	dryRun := req.DryRun || queryBool(r, "dryRun")
	res, err := h.svc.Reconcile(r.Context(), dryRun)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, res)
}

// SystemHealth is the scored data-quality report.
func (h *Handler) SystemHealth(w http.ResponseWriter, r *http.Request) {
	rep, err := h.svc.HealthReport(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, rep)
}

// Health is the liveness probe. It touches the store so a lost database
// shows up as 503.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	resp := ServiceHealthResponse{Status: "ok", Time: h.svc.Now(), Store: "up"}
	if _, err := h.svc.Store().Count(r.Context(), library.KindBook); err != nil {
		h.log.ErrorContext(r.Context(), "health check failed", "error", err)
		resp.Status, resp.Store = "degraded", "down"
		writeJSON(w, http.StatusServiceUnavailable, Envelope{Status: statusError, Data: resp})
		return
	}
	writeData(w, http.StatusOK, resp)
}

