package httpserver

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shopping-copilot/core/internal/store/sessionstore"
	"github.com/shopping-copilot/core/pkg/api"
)

func newTestHandler(t *testing.T) http.Handler {
	t.Helper()
	store, err := sessionstore.New(t.TempDir())
	require.NoError(t, err)
	apiHandler := api.New(store, nil, nil, nil)
	return NewHandler(apiHandler, nil)
}

func TestStartRejectsMissingHouseholdID(t *testing.T) {
	h := newTestHandler(t)
	req := httptest.NewRequest(http.MethodPost, "/sessions", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStartThenGetRoundTrip(t *testing.T) {
	h := newTestHandler(t)

	startReq := httptest.NewRequest(http.MethodPost, "/sessions",
		strings.NewReader(`{"HouseholdID":"hh-1","Username":"alex"}`))
	startRec := httptest.NewRecorder()
	h.ServeHTTP(startRec, startReq)
	require.Equal(t, http.StatusAccepted, startRec.Code)

	var started api.StartSessionResponse
	require.NoError(t, json.Unmarshal(startRec.Body.Bytes(), &started))
	require.NotEmpty(t, started.SessionID)

	getReq := httptest.NewRequest(http.MethodGet, "/sessions/"+started.SessionID, nil)
	getRec := httptest.NewRecorder()
	h.ServeHTTP(getRec, getReq)
	assert.Equal(t, http.StatusOK, getRec.Code)
}

func TestGetUnknownSessionIsNotFound(t *testing.T) {
	h := newTestHandler(t)
	req := httptest.NewRequest(http.MethodGet, "/sessions/does-not-exist", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUnsupportedMethodIsRejected(t *testing.T) {
	h := newTestHandler(t)
	req := httptest.NewRequest(http.MethodDelete, "/sessions", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Allow"))
}

func TestCORSPreflightShortCircuits(t *testing.T) {
	h := newTestHandler(t)
	req := httptest.NewRequest(http.MethodOptions, "/sessions", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
