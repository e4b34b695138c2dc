package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/kjstillabower/store-monitor/internal/circuitbreaker"
	"github.com/kjstillabower/store-monitor/internal/lifecycle"
	"github.com/kjstillabower/store-monitor/internal/models"
	"github.com/kjstillabower/store-monitor/internal/service"
	"github.com/kjstillabower/store-monitor/internal/store"
	"github.com/kjstillabower/store-monitor/internal/traffic"
	"github.com/kjstillabower/store-monitor/internal/uptime"
	"github.com/kjstillabower/store-monitor/internal/validation"
)

// HealthConfig holds thresholds and dependency probes for the health handler.
type HealthConfig struct {
	Window           time.Duration
	DegradedErrorPct int
	RateLimitRPS     int
	RateLimitBurst   int // 0 when rate limiter disabled
	// DBPing checks the database. Required.
	DBPing func(ctx context.Context) error
	// CachePing, when set, is called to check cache reachability. Used when backend is memcached.
	CachePing func() error
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	reports          *service.ReportService
	stores           *service.StoreCatalog
	healthConfig     *HealthConfig
	logger           *zap.Logger
	healthStatusMu   sync.Mutex
	healthStatusPrev string
}

// NewHandler returns a new Handler.
func NewHandler(reports *service.ReportService, stores *service.StoreCatalog, healthConfig *HealthConfig, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		reports:      reports,
		stores:       stores,
		healthConfig: healthConfig,
		logger:       logger,
	}
}

type triggerRequest struct {
	Now string `json:"now"`
}

// PostReport handles POST /reports. The body is optional; {"now": RFC3339}
// pins the reference time for the run.
func (h *Handler) PostReport(w http.ResponseWriter, r *http.Request) {
	var body triggerRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, r, http.StatusBadRequest, "INVALID_BODY", "request body must be JSON")
		return
	}
	ref, err := validation.ParseReferenceTime(body.Now)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_REFERENCE_TIME", err.Error())
		return
	}

	rep, err := h.reports.Trigger(r.Context(), ref)
	if err != nil {
		if errors.Is(err, service.ErrShuttingDown) {
			writeError(w, r, http.StatusServiceUnavailable, "SHUTTING_DOWN", "service is shutting down")
			return
		}
		writeInternalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"report_id": rep.ID})
}

// GetReport handles GET /reports/{id}.
func (h *Handler) GetReport(w http.ResponseWriter, r *http.Request) {
	id, err := validation.ValidateReportID(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_REPORT_ID", err.Error())
		return
	}
	rep, err := h.reports.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "REPORT_NOT_FOUND", "report not found")
			return
		}
		writeInternalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reportStatus(r, rep))
}

// reportStatus shapes a report for polling clients. Counts and the download
// link appear only once the run is complete.
func reportStatus(r *http.Request, rep models.Report) map[string]interface{} {
	resp := map[string]interface{}{
		"report_id":      rep.ID,
		"reference_time": rep.ReferenceTime.UTC().Format(time.RFC3339),
	}
	switch rep.Status {
	case models.ReportComplete:
		resp["status"] = "Complete"
		resp["report_url"] = absoluteURL(r, "/reports/"+rep.ID+"/download")
		resp["store_count"] = rep.StoreCount
		resp["failure_count"] = rep.FailureCount
	case models.ReportFailed:
		resp["status"] = "Failed"
		resp["error"] = rep.Error
	default:
		resp["status"] = "Running"
	}
	return resp
}

// absoluteURL resolves path against the host the client called. A proxy's
// X-Forwarded-Proto wins over the connection's own scheme.
func absoluteURL(r *http.Request, path string) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto == "http" || proto == "https" {
		scheme = proto
	}
	return scheme + "://" + r.Host + path
}

// DownloadReport handles GET /reports/{id}/download.
func (h *Handler) DownloadReport(w http.ResponseWriter, r *http.Request) {
	id, err := validation.ValidateReportID(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_REPORT_ID", err.Error())
		return
	}
	path, err := h.reports.ExportPath(r.Context(), id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "REPORT_NOT_FOUND", "report not found")
		return
	case errors.Is(err, service.ErrReportNotReady):
		writeError(w, r, http.StatusConflict, "REPORT_NOT_READY", "report is not complete")
		return
	case err != nil:
		writeInternalError(w, r, err)
		return
	}

	name := filepath.Base(path)
	if strings.HasSuffix(name, ".gz") {
		w.Header().Set("Content-Type", "application/gzip")
	} else {
		w.Header().Set("Content-Type", "text/csv")
	}
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	http.ServeFile(w, r, path)
}

// GetStoreUptime handles GET /stores/{id}/uptime?now=RFC3339.
func (h *Handler) GetStoreUptime(w http.ResponseWriter, r *http.Request) {
	storeID := strings.TrimSpace(mux.Vars(r)["id"])
	if err := validation.ValidateStoreID(storeID); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_STORE_ID", err.Error())
		return
	}
	ref, err := validation.ParseReferenceTime(r.URL.Query().Get("now"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_REFERENCE_TIME", err.Error())
		return
	}

	row, refTime, err := h.reports.ComputeStore(r.Context(), storeID, ref)
	if err != nil {
		writeComputeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"reference_time": refTime.UTC().Format(time.RFC3339),
		"uptime":         row,
	})
}

func writeComputeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "STORE_NOT_FOUND", "store not found")
	case errors.Is(err, uptime.ErrInvalidSchedule), errors.Is(err, uptime.ErrInvalidObservation):
		writeError(w, r, http.StatusUnprocessableEntity, "STORE_DATA_INVALID", err.Error())
	case errors.Is(err, circuitbreaker.ErrOpen):
		writeError(w, r, http.StatusServiceUnavailable, "STORE_UNAVAILABLE", "store database unavailable")
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, r, http.StatusGatewayTimeout, "TIMEOUT", "computation timed out")
	default:
		writeInternalError(w, r, err)
	}
}

// healthResult holds the computed health status and metadata for logging.
type healthResult struct {
	status     string
	statusCode int
	reason     string
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	result, checks := h.computeHealthStatus(r.Context())

	h.healthStatusMu.Lock()
	prev := h.healthStatusPrev
	if prev != "" && prev != result.status {
		h.logger.Info("health status transition",
			zap.String("previous_status", prev),
			zap.String("current_status", result.status),
			zap.String("reason", result.reason))
	}
	h.healthStatusPrev = result.status
	h.healthStatusMu.Unlock()

	resp := map[string]interface{}{
		"status":    result.status,
		"service":   "store-monitor",
		"version":   "dev",
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	writeJSON(w, result.statusCode, resp)
}

// computeHealthStatus evaluates conditions in priority order:
// shutting-down > database unreachable > circuit open > overloaded > degraded > healthy.
func (h *Handler) computeHealthStatus(ctx context.Context) (healthResult, map[string]string) {
	checks := map[string]string{}
	if lifecycle.IsShuttingDown() {
		return healthResult{"shutting-down", http.StatusServiceUnavailable, "signal"}, checks
	}

	dbHealthy := true
	if h.healthConfig != nil && h.healthConfig.DBPing != nil {
		dbHealthy = h.healthConfig.DBPing(ctx) == nil
	}
	checks["database"] = healthyString(dbHealthy)
	if h.healthConfig != nil && h.healthConfig.CachePing != nil {
		checks["cache"] = healthyString(h.healthConfig.CachePing() == nil)
	}
	breakerState := h.reports.Breaker().State()
	checks["circuitBreaker"] = breakerState.String()

	if !dbHealthy {
		return healthResult{"degraded", http.StatusServiceUnavailable, "database_unreachable"}, checks
	}
	if breakerState == circuitbreaker.StateOpen {
		return healthResult{"degraded", http.StatusServiceUnavailable, "circuit_open"}, checks
	}
	if h.healthConfig == nil || h.healthConfig.Window <= 0 {
		return healthResult{"healthy", http.StatusOK, ""}, checks
	}
	// Overloaded when denials in the window exceed what the bucket would admit.
	if h.healthConfig.RateLimitRPS > 0 {
		allowed := float64(h.healthConfig.RateLimitRPS)*h.healthConfig.Window.Seconds() + float64(h.healthConfig.RateLimitBurst)
		if float64(traffic.DenialCount(h.healthConfig.Window)) > allowed {
			return healthResult{"overloaded", http.StatusServiceUnavailable, "overload_threshold"}, checks
		}
	}
	if h.healthConfig.DegradedErrorPct > 0 {
		failed, total := traffic.FailureRate(h.healthConfig.Window)
		if total > 0 && float64(failed)*100/float64(total) >= float64(h.healthConfig.DegradedErrorPct) {
			return healthResult{"degraded", http.StatusServiceUnavailable, "error_rate_breach"}, checks
		}
	}
	return healthResult{"healthy", http.StatusOK, ""}, checks
}

func healthyString(ok bool) string {
	if ok {
		return "healthy"
	}
	return "unhealthy"
}

// GetTestStatus handles GET /test. Returns the sliding-window counters that
// drive health decisions.
func (h *Handler) GetTestStatus(w http.ResponseWriter, r *http.Request) {
	window := 60 * time.Second
	if h.healthConfig != nil && h.healthConfig.Window > 0 {
		window = h.healthConfig.Window
	}
	failed, total := traffic.FailureRate(window)
	result, _ := h.computeHealthStatus(r.Context())
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"computations_in_window":    total,
		"failures_in_window":        failed,
		"denied_requests_in_window": traffic.DenialCount(window),
		"window_length":             window.String(),
		"reports_circuit_breaker":   h.reports.Breaker().State().String(),
		"state":                     result.status,
	})
}

// PostTestAction handles POST /test/{action} for fail, reset and shutdown.
func (h *Handler) PostTestAction(w http.ResponseWriter, r *http.Request) {
	action := mux.Vars(r)["action"]
	switch action {
	case "fail":
		var body struct {
			Count int `json:"count"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Count <= 0 {
			body.Count = 1
		}
		traffic.RecordFailed(body.Count)
		result, _ := h.computeHealthStatus(r.Context())
		writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "action": action, "state": result.status})
	case "reset":
		traffic.Reset()
		lifecycle.SetShuttingDown(false)
		writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "action": action, "message": "All simulated state cleared"})
	case "shutdown":
		lifecycle.SetShuttingDown(true)
		writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "action": action, "message": "Shutting-down flag set"})
	default:
		writeError(w, r, http.StatusNotFound, "UNKNOWN_ACTION", "unknown test action: "+action)
	}
}

// writeJSON writes a JSON response with the specified HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes an error response in the standard error format with code, message,
// and requestId (correlation ID) if available in request context.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	corrID := ""
	if v, ok := r.Context().Value("correlation_id").(string); ok {
		corrID = v
	}
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":      code,
			"message":   message,
			"requestId": corrID,
		},
	})
}

// writeInternalError hides the cause from the client and logs it on the request logger.
func writeInternalError(w http.ResponseWriter, r *http.Request, err error) {
	writeError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error")
	if logger, ok := r.Context().Value("logger").(*zap.Logger); ok && logger != nil {
		logger.Error("request failed", zap.Error(err))
	}
}
