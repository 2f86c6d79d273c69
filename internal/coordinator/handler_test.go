package coordinator

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"

	"github.com/ingestkit/ragpipe/internal/observability"
)

func newTestRouter(t *testing.T) *mux.Router {
	t.Helper()
	c, _ := newTestCoordinator(t)
	h := NewHandler(c, observability.NewNoopLogger())
	router := mux.NewRouter()
	h.RegisterRoutes(router)
	return router
}

func TestHandler_TriggerSync_MissingSourceID(t *testing.T) {
	router := newTestRouter(t)
	body, _ := json.Marshal(map[string]string{"sync_type": "incremental"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/sync", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandler_TriggerSync_UnknownSourceIs404(t *testing.T) {
	router := newTestRouter(t)
	body, _ := json.Marshal(map[string]string{"source_id": "does-not-exist"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/sync", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandler_GetSync_InvalidIDIs400(t *testing.T) {
	router := newTestRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/sync/not-a-uuid", nil)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandler_ListSyncs_RequiresSourceID(t *testing.T) {
	router := newTestRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/sync", nil)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
