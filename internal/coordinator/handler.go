package coordinator

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/ingestkit/ragpipe/internal/model"
	"github.com/ingestkit/ragpipe/internal/observability"
)

// Handler exposes the Coordinator over HTTP.
type Handler struct {
	coordinator *Coordinator
	logger      observability.Logger
}

func NewHandler(c *Coordinator, logger observability.Logger) *Handler {
	return &Handler{coordinator: c, logger: logger.WithPrefix("coordinator-api")}
}

// RegisterRoutes mounts the sync endpoints under /api/v1.
func (h *Handler) RegisterRoutes(router *mux.Router) {
	api := router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/sync", h.triggerSync).Methods(http.MethodPost)
	api.HandleFunc("/sync", h.listSyncs).Methods(http.MethodGet)
	api.HandleFunc("/sync/{id}", h.getSync).Methods(http.MethodGet)
}

type triggerSyncRequest struct {
	SourceID string `json:"source_id"`
	SyncType string `json:"sync_type"`
}

func (h *Handler) triggerSync(w http.ResponseWriter, r *http.Request) {
	var req triggerSyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.SourceID == "" {
		h.respondError(w, "source_id is required", http.StatusBadRequest)
		return
	}
	syncType := model.SyncType(req.SyncType)
	if syncType == "" {
		syncType = model.SyncTypeIncremental
	}

	run, err := h.coordinator.Trigger(r.Context(), req.SourceID, syncType)
	if err != nil {
		switch err {
		case ErrSyncAlreadyRunning:
			h.respondError(w, err.Error(), http.StatusConflict)
		case ErrUnknownSource:
			h.respondError(w, err.Error(), http.StatusNotFound)
		default:
			h.logger.Error("trigger sync failed", map[string]interface{}{"source_id": req.SourceID, "error": err.Error()})
			h.respondError(w, "failed to trigger sync", http.StatusInternalServerError)
		}
		return
	}

	h.respondJSON(w, map[string]interface{}{"sync_run_id": run.ID}, http.StatusAccepted)
}

func (h *Handler) getSync(w http.ResponseWriter, r *http.Request) {
	idParam := mux.Vars(r)["id"]
	id, err := uuid.Parse(idParam)
	if err != nil {
		h.respondError(w, "id must be a valid UUID", http.StatusBadRequest)
		return
	}

	run, err := h.coordinator.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, "sync run not found", http.StatusNotFound)
		return
	}
	h.respondJSON(w, run, http.StatusOK)
}

func (h *Handler) listSyncs(w http.ResponseWriter, r *http.Request) {
	sourceID := r.URL.Query().Get("source_id")
	if sourceID == "" {
		h.respondError(w, "source_id query parameter is required", http.StatusBadRequest)
		return
	}

	runs, err := h.coordinator.ListForSource(r.Context(), sourceID)
	if err != nil {
		h.logger.Error("list syncs failed", map[string]interface{}{"source_id": sourceID, "error": err.Error()})
		h.respondError(w, "failed to list sync runs", http.StatusInternalServerError)
		return
	}
	h.respondJSON(w, map[string]interface{}{"sync_runs": runs, "count": len(runs)}, http.StatusOK)
}

func (h *Handler) respondJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("encode response failed", map[string]interface{}{"error": err.Error()})
	}
}

func (h *Handler) respondError(w http.ResponseWriter, message string, statusCode int) {
	h.respondJSON(w, map[string]interface{}{"error": message}, statusCode)
}
