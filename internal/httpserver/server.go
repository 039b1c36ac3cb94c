// Package httpserver exposes pkg/api.Handler's control-plane operations
// over net/http: session.start, session.get, session.approve, session.cancel
// and the supplemented session.history. It never exposes a checkout/order-
// submission route — approve only ever advances the state machine and
// archives the already-generated review pack.
package httpserver

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/shopping-copilot/core/internal/telemetry"
	"github.com/shopping-copilot/core/pkg/api"
)

const maxJSONBodyBytes int64 = 1 << 20 // 1 MiB

type handlerFunc func(http.ResponseWriter, *http.Request)

type server struct {
	api     *api.Handler
	metrics *telemetry.HTTPMetrics
}

// NewHandler builds the control-plane HTTP surface, wrapped with CORS and
// per-request metrics. metrics may be nil to disable instrumentation.
func NewHandler(apiHandler *api.Handler, metrics *telemetry.HTTPMetrics) http.Handler {
	s := &server{api: apiHandler, metrics: metrics}

	mux := http.NewServeMux()
	mux.Handle("/sessions", s.methodHandlers("/sessions", map[string]handlerFunc{
		http.MethodPost: s.handleStart,
		http.MethodGet:  s.handleHistory,
	}))
	mux.Handle("/sessions/{id}", s.methodHandlers("/sessions/{id}", map[string]handlerFunc{
		http.MethodGet: s.handleGet,
	}))
	mux.Handle("/sessions/{id}/approve", s.methodHandlers("/sessions/{id}/approve", map[string]handlerFunc{
		http.MethodPost: s.handleApprove,
	}))
	mux.Handle("/sessions/{id}/cancel", s.methodHandlers("/sessions/{id}/cancel", map[string]handlerFunc{
		http.MethodPost: s.handleCancel,
	}))

	return withCORS(mux)
}

func (s *server) methodHandlers(route string, handlers map[string]handlerFunc) http.Handler {
	allowed := allowedMethods(handlers)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		status := http.StatusOK
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		handler, ok := handlers[r.Method]
		if !ok {
			methodNotAllowed(rec, allowed...)
			status = http.StatusMethodNotAllowed
		} else {
			handler(rec, r)
			status = rec.status
		}
		s.metrics.RecordRequest(r.Context(), route, status, float64(time.Since(start).Milliseconds()))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (w *statusRecorder) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func allowedMethods(handlers map[string]handlerFunc) []string {
	if len(handlers) == 0 {
		return nil
	}
	allowed := make([]string, 0, len(handlers))
	for method := range handlers {
		allowed = append(allowed, method)
	}
	return allowed
}

func (s *server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req api.StartSessionRequest
	limitRequestBody(w, r)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDecodeError(w, err)
		return
	}
	resp, err := s.api.Start(r.Context(), req)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, resp)
}

func (s *server) handleGet(w http.ResponseWriter, r *http.Request) {
	resp, err := s.api.Get(r.Context(), api.GetSessionRequest{SessionID: r.PathValue("id")})
	if err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *server) handleApprove(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ApprovalData  map[string]any `json:"approvalData"`
		Modifications map[string]any `json:"modifications"`
	}
	limitRequestBody(w, r)
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeDecodeError(w, err)
			return
		}
	}
	resp, err := s.api.Approve(r.Context(), api.ApproveSessionRequest{
		SessionID:     r.PathValue("id"),
		ApprovalData:  body.ApprovalData,
		Modifications: body.Modifications,
	})
	if err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *server) handleCancel(w http.ResponseWriter, r *http.Request) {
	resp, err := s.api.Cancel(r.Context(), api.CancelSessionRequest{SessionID: r.PathValue("id")})
	if err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			limit = n
		}
	}
	resp, err := s.api.History(r.Context(), api.HistoryRequest{
		HouseholdID: r.URL.Query().Get("householdId"),
		Limit:       limit,
	})
	if err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeAPIError(w http.ResponseWriter, err error) {
	writeError(w, statusForError(err), err.Error())
}

func statusForError(err error) int {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "unknown session"):
		return http.StatusNotFound
	case strings.Contains(msg, "already has a run in progress"):
		return http.StatusConflict
	default:
		return http.StatusBadRequest
	}
}

func limitRequestBody(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)
}

func writeDecodeError(w http.ResponseWriter, err error) {
	if isRequestTooLarge(err) {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}
	writeError(w, http.StatusBadRequest, err.Error())
}

func isRequestTooLarge(err error) bool {
	var maxBytesErr *http.MaxBytesError
	return errors.As(err, &maxBytesErr)
}

func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	if len(allowed) > 0 {
		w.Header().Set("Allow", strings.Join(allowed, ", "))
	}
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"status": "error", "error": message})
}

func withCORS(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", allowedCORSHeaders(r))
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		handler.ServeHTTP(w, r)
	})
}

func allowedCORSHeaders(r *http.Request) string {
	defaults := []string{"Content-Type", "Authorization"}
	seen := make(map[string]struct{}, len(defaults))
	for _, header := range defaults {
		seen[strings.ToLower(header)] = struct{}{}
	}
	requested := strings.Split(r.Header.Get("Access-Control-Request-Headers"), ",")
	for _, raw := range requested {
		trimmed := strings.TrimSpace(raw)
		if trimmed == "" {
			continue
		}
		lower := strings.ToLower(trimmed)
		if _, ok := seen[lower]; ok {
			continue
		}
		seen[lower] = struct{}{}
		defaults = append(defaults, trimmed)
	}
	return strings.Join(defaults, ", ")
}
