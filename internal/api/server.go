package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lox/cropwatch/internal/advisory"
	"github.com/lox/cropwatch/internal/analysis"
	"github.com/lox/cropwatch/internal/chart"
	"github.com/lox/cropwatch/internal/store"
)

// defaultWindow is the analysis window used when a request names no start date.
const defaultWindow = 90 * 24 * time.Hour

type Server struct {
	store      *store.Store
	engine     *analysis.Engine
	advisor    *advisory.Advisor
	chartCache *chart.Cache
	port       string
	now        func() time.Time
}

// NewServer exposes the store and engine over HTTP. advisor may be nil, in
// which case advisories are the deterministic summary.
func NewServer(st *store.Store, engine *analysis.Engine, advisor *advisory.Advisor, port string) *Server {
	if advisor == nil {
		advisor = advisory.NewAdvisor(nil, nil)
	}
	return &Server{
		store:      st,
		engine:     engine,
		advisor:    advisor,
		chartCache: chart.NewCache(10 * time.Minute),
		port:       port,
		now:        time.Now,
	}
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(api chi.Router) {
		api.Get("/ingest/health", s.handleIngestHealth)

		api.Route("/fields", func(fr chi.Router) {
			fr.Get("/", s.handleListFields)
			fr.Post("/", s.handleCreateField)

			fr.Route("/{id}", func(f chi.Router) {
				f.Get("/", s.handleGetField)
				f.Get("/analysis", s.handleAnalysis)
				f.Get("/results", s.handleListResults)
				f.Get("/results/latest", s.handleLatestResult)
				f.Get("/chart.png", s.handleChart)
				f.Get("/advisory", s.handleAdvisory)
			})
		})
	})
	return r
}

func (s *Server) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:              ":" + s.port,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

type HealthStatus struct {
	Status        string   `json:"status"`
	SchemaVersion int      `json:"schema_version"`
	ActiveFields  int      `json:"active_fields"`
	RecentErrors  int      `json:"recent_ingest_errors"`
	Errors        []string `json:"errors,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := HealthStatus{Status: "ok"}

	version, err := s.store.MigrationVersion()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"status": "error", "error": err.Error()})
		return
	}
	health.SchemaVersion = version

	fields, err := s.store.GetActiveFields()
	if err != nil {
		health.Errors = append(health.Errors, "fields: "+err.Error())
	}
	health.ActiveFields = len(fields)

	since := s.now().Add(-24 * time.Hour)
	runs, err := s.store.GetRecentIngestErrors(50)
	if err != nil {
		health.Errors = append(health.Errors, "ingest: "+err.Error())
	}
	for _, run := range runs {
		if run.StartedAt.After(since) {
			health.RecentErrors++
		}
	}

	if len(health.Errors) > 0 {
		health.Status = "degraded"
	}
	writeJSON(w, http.StatusOK, health)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("api: encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
