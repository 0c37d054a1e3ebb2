// Package api is the HTTP surface described in spec §6: process-lifecycle
// and read endpoints around the core batch/spread pipeline, plus the
// ambient observability surface (metrics, health) this system needs to
// run in production the way the teacher's own services do.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/shirou/gopsutil/cpu"
	"github.com/shirou/gopsutil/mem"

	"github.com/arbibridge/spreadscan/catalog"
	"github.com/arbibridge/spreadscan/internal/config"
	"github.com/arbibridge/spreadscan/internal/xlog"
)

// Core is the subset of the batch pipeline the HTTP surface drives; kept
// as an interface so handlers are testable without a live Postgres/Redis.
type Core interface {
	InitPairs(ctx context.Context) error
	TriggerComputeAll(ctx context.Context) error
}

// Server wires routing, CORS, metrics, and health around Core and the
// catalog's read-only query surface.
type Server struct {
	router *mux.Router
	core   Core
	store  *catalog.Store
	log    xlog.Logger
	cfg    *config.Config

	requests       *prometheus.CounterVec
	latency        *prometheus.HistogramVec
	metricsHandler http.Handler
}

func New(core Core, store *catalog.Store, log xlog.Logger, cfg *config.Config) *Server {
	registry := prometheus.NewRegistry()
	s := &Server{
		router: mux.NewRouter(),
		core:   core,
		store:  store,
		log:    log,
		cfg:    cfg,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "spreadscan_http_requests_total",
			Help: "Total HTTP requests by route and status class.",
		}, []string{"route", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "spreadscan_http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
	}
	registry.MustRegister(s.requests, s.latency)
	s.metricsHandler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.HandleFunc("/spreads/init-pairs", s.instrument("init-pairs", s.handleInitPairs)).Methods(http.MethodPost)
	s.router.HandleFunc("/spreads/compute-all", s.instrument("compute-all", s.handleComputeAll)).Methods(http.MethodPost)
	s.router.HandleFunc("/spreads/batch-status", s.instrument("batch-status", s.handleBatchStatus)).Methods(http.MethodGet)
	s.router.HandleFunc("/spreads/computed", s.instrument("computed", s.handleComputed)).Methods(http.MethodGet)
	s.router.HandleFunc("/static/config/{type}", s.instrument("static-config", s.handleStaticConfig)).Methods(http.MethodGet)
	s.router.HandleFunc("/healthz", s.instrument("healthz", s.handleHealthz)).Methods(http.MethodGet)
	s.router.Handle("/metrics", s.metricsHandler)
}

// Handler returns the fully wrapped (CORS-enabled) HTTP handler.
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
	})
	return c.Handler(s.router)
}

func (s *Server) instrument(route string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		h(rec, r)
		s.latency.WithLabelValues(route).Observe(time.Since(start).Seconds())
		s.requests.WithLabelValues(route, statusClass(rec.status)).Inc()
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func statusClass(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	default:
		return "2xx"
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, reason string) {
	writeJSON(w, status, map[string]string{"error": reason})
}

func (s *Server) handleInitPairs(w http.ResponseWriter, r *http.Request) {
	if err := s.core.InitPairs(r.Context()); err != nil {
		s.log.Error("api: init-pairs failed", "err", err)
		writeError(w, http.StatusInternalServerError, "init-pairs failed")
		return
	}
	writeJSON(w, http.StatusOK, true)
}

func (s *Server) handleComputeAll(w http.ResponseWriter, r *http.Request) {
	go func() {
		if err := s.core.TriggerComputeAll(context.Background()); err != nil {
			s.log.Error("api: compute-all background run failed", "err", err)
		}
	}()
	writeJSON(w, http.StatusOK, map[string]string{"status": "accepted", "message": "compute-all scheduled"})
}

func (s *Server) handleBatchStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.store.BatchStatusSummary(r.Context())
	if err != nil {
		s.log.Error("api: batch-status failed", "err", err)
		writeError(w, http.StatusInternalServerError, "batch-status failed")
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleComputed(w http.ResponseWriter, r *http.Request) {
	spreads, err := s.store.ComputedSpreads(r.Context())
	if err != nil {
		s.log.Error("api: computed failed", "err", err)
		writeError(w, http.StatusInternalServerError, "computed failed")
		return
	}
	writeJSON(w, http.StatusOK, spreads)
}

func (s *Server) handleStaticConfig(w http.ResponseWriter, r *http.Request) {
	switch mux.Vars(r)["type"] {
	case "exchanges":
		writeJSON(w, http.StatusOK, config.SupportedExchanges)
	case "intervals":
		writeJSON(w, http.StatusOK, config.SupportedIntervals)
	default:
		writeError(w, http.StatusBadRequest, "unknown static config type")
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	cpuPct, _ := cpu.Percent(0, false)
	vm, _ := mem.VirtualMemory()

	resp := map[string]interface{}{
		"status": "ok",
	}
	if len(cpuPct) > 0 {
		resp["cpu_percent"] = cpuPct[0]
	}
	if vm != nil {
		resp["memory_used_percent"] = vm.UsedPercent
	}
	writeJSON(w, http.StatusOK, resp)
}
