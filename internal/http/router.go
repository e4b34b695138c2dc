package http

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/store-monitor/internal/observability"
)

// RouterConfig controls route-level middleware.
type RouterConfig struct {
	Limiter        *rate.Limiter // nil disables rate limiting on report triggers
	RequestTimeout time.Duration
	TestingMode    bool
}

// NewRouter wires the report and store APIs, health and metrics routes.
func NewRouter(h *Handler, cfg RouterConfig, logger *zap.Logger) *mux.Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(logger))
	router.Use(MetricsMiddleware)
	router.HandleFunc("/health", h.GetHealth).Methods("GET")
	router.Handle("/metrics", observability.MetricsHandler())

	reportRouter := router.PathPrefix("/reports").Subrouter()
	reportRouter.Handle("", RateLimitMiddleware(cfg.Limiter)(http.HandlerFunc(h.PostReport))).Methods("POST")
	reportRouter.HandleFunc("/{id}", h.GetReport).Methods("GET")
	reportRouter.HandleFunc("/{id}/download", h.DownloadReport).Methods("GET")

	storeRouter := router.PathPrefix("/stores").Subrouter()
	if cfg.RequestTimeout > 0 {
		storeRouter.Use(TimeoutMiddleware(cfg.RequestTimeout))
	}
	storeRouter.HandleFunc("", h.ListStores).Methods("GET")
	storeRouter.HandleFunc("", h.CreateStore).Methods("POST")
	storeRouter.HandleFunc("/{id}", h.GetStore).Methods("GET")
	storeRouter.HandleFunc("/{id}", h.UpdateStore).Methods("PUT")
	storeRouter.HandleFunc("/{id}", h.DeleteStore).Methods("DELETE")
	storeRouter.HandleFunc("/{id}/uptime", h.GetStoreUptime).Methods("GET")

	if cfg.TestingMode {
		logger.Warn("Testing mode enabled; /test endpoint exposed")
		router.HandleFunc("/test", h.GetTestStatus).Methods("GET")
		router.HandleFunc("/test/{action}", h.PostTestAction).Methods("POST")
	}
	return router
}
