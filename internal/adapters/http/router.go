package httpadapter

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/reglens/reglens/internal/config"
	"github.com/reglens/reglens/internal/core/domain"
	"github.com/reglens/reglens/internal/core/ports"
	"github.com/reglens/reglens/internal/observability/metrics"
)

const serviceName = "api"

type Router struct {
	cfg      config.Config
	searcher ports.Searcher
	metrics  *metrics.EngineMetrics
}

func NewRouter(cfg config.Config, searcher ports.Searcher, engineMetrics *metrics.EngineMetrics) *Router {
	return &Router{
		cfg:      cfg,
		searcher: searcher,
		metrics:  engineMetrics,
	}
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", rt.healthz)
	mux.HandleFunc("/v1/search", rt.search)
	if rt.metrics != nil {
		mux.Handle("/metrics", rt.metrics.Handler())
	}

	var handler http.Handler = mux
	handler = rateLimitMiddleware(handler, rt.cfg.APIRateLimitRPS, rt.cfg.APIRateLimitBurst)
	handler = backpressureMiddleware(handler, rt.cfg.APIMaxInFlight, rt.cfg.APIBackpressureDelay)
	if rt.metrics != nil {
		handler = rt.metrics.Middleware(serviceName, handler)
	}
	handler = accessLogMiddleware(handler)
	handler = requestIDMiddleware(handler)
	return handler
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type searchRequest struct {
	Query   string         `json:"query"`
	TopK    int            `json:"top_k"`
	Filters domain.Filters `json:"filters"`
}

// search runs the full pipeline. Degraded and partial outcomes are still
// HTTP 200: the diagnostics block tells the caller what happened. Only an
// unusable query or a total backend outage becomes an error status.
func (rt *Router) search(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "query is required"})
		return
	}

	start := time.Now()
	response, err := rt.searcher.Search(r.Context(), req.Query, req.Filters, req.TopK)
	if err != nil {
		status := mapErrorToHTTPStatus(err)
		if status == http.StatusBadRequest && rt.metrics != nil {
			rt.metrics.RecordInvalidQuery(serviceName)
		}
		writeJSON(w, status, map[string]string{
			"error":      err.Error(),
			"request_id": requestIDFromContext(r.Context()),
		})
		return
	}

	if rt.metrics != nil {
		rt.metrics.RecordSearch(serviceName, response, time.Since(start))
	}
	writeJSON(w, http.StatusOK, response)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
