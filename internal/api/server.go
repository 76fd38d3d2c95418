package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kanna-karuppasamy/smart-grid-reconciler/internal/cache"
	"github.com/kanna-karuppasamy/smart-grid-reconciler/internal/models"
	"github.com/kanna-karuppasamy/smart-grid-reconciler/internal/processor"
)

// Reconciler is the read side of the processor
type Reconciler interface {
	Compute(scope *int64) models.Snapshot
	Latest(root int64) (models.Snapshot, bool)
	Aggregate() models.Aggregation
	ScopeRoots() []int64
	Stats() processor.Stats
}

// Hierarchy lists the internal nodes offered as roots
type Hierarchy interface {
	Parents() []int64
}

// Catalog resolves display names and lists the known meters
type Catalog interface {
	Name(id int64) string
	Lookup(id int64) (models.MeterNode, bool)
	Meters() []models.MeterNode
}

// SnapshotCache reads snapshots published by an earlier run, possibly by
// another instance
type SnapshotCache interface {
	Get(ctx context.Context, scopeRoot int64) (*cache.Envelope, error)
}

// RootOption is one entry of the root picker
type RootOption struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Scheduled bool   `json:"scheduled"`
}

type aggregateResponse struct {
	WindowStart time.Time          `json:"windowStart"`
	WindowEnd   time.Time          `json:"windowEnd"`
	Values      map[string]float64 `json:"values"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Server serves the JSON query API
type Server struct {
	reconciler Reconciler
	hierarchy  Hierarchy
	catalog    Catalog
	cache      SnapshotCache
	gatherer   prometheus.Gatherer
	logger     *slog.Logger
}

// NewServer creates the API server. gatherer backs /metrics.
func NewServer(reconciler Reconciler, hierarchy Hierarchy, catalog Catalog, gatherer prometheus.Gatherer, logger *slog.Logger) *Server {
	return &Server{
		reconciler: reconciler,
		hierarchy:  hierarchy,
		catalog:    catalog,
		gatherer:   gatherer,
		logger:     logger.With("component", "api"),
	}
}

// WithCache sets the fallback read for /snapshots when this instance has
// not run the scheduler for a root yet
func (s *Server) WithCache(c SnapshotCache) *Server {
	s.cache = c
	return s
}

// Router builds the chi router
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(LoggingMiddleware(s.logger))

	r.Get("/health", s.health)
	r.Get("/roots", s.roots)
	r.Get("/aggregate", s.aggregate)
	r.Get("/reconcile", s.reconcile)
	r.Get("/snapshots/{root}", s.snapshot)
	r.Get("/meters", s.meters)
	r.Get("/meters/{id}", s.meter)
	r.Get("/stats", s.stats)
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	return r
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) roots(w http.ResponseWriter, _ *http.Request) {
	scheduled := make(map[int64]bool)
	for _, id := range s.reconciler.ScopeRoots() {
		scheduled[id] = true
	}

	parents := s.hierarchy.Parents()
	out := make([]RootOption, 0, len(parents))
	for _, id := range parents {
		out = append(out, RootOption{ID: id, Name: s.catalog.Name(id), Scheduled: scheduled[id]})
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) aggregate(w http.ResponseWriter, _ *http.Request) {
	agg := s.reconciler.Aggregate()
	values := make(map[string]float64, len(agg.Values))
	for id, v := range agg.Values {
		values[strconv.FormatInt(id, 10)] = v
	}
	s.writeJSON(w, http.StatusOK, aggregateResponse{
		WindowStart: agg.Start,
		WindowEnd:   agg.End,
		Values:      values,
	})
}

// reconcile computes a tree on demand. Without a root the tree is empty.
func (s *Server) reconcile(w http.ResponseWriter, r *http.Request) {
	var scope *int64
	if raw := r.URL.Query().Get("root"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid_root", "root must be an integer meter id")
			return
		}
		scope = &id
	}
	s.writeJSON(w, http.StatusOK, s.reconciler.Compute(scope))
}

// snapshot serves the latest scheduled reconciliation of a root, falling
// back to the shared cache. Roots never reconciled answer 404.
func (s *Server) snapshot(w http.ResponseWriter, r *http.Request) {
	root, err := strconv.ParseInt(chi.URLParam(r, "root"), 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid_root", "root must be an integer meter id")
		return
	}

	if snap, ok := s.reconciler.Latest(root); ok {
		s.writeJSON(w, http.StatusOK, snap)
		return
	}

	if s.cache != nil {
		env, err := s.cache.Get(r.Context(), root)
		if err != nil {
			s.logger.Error("cache_read_failed", "scope_root", root, "error", err)
			s.writeError(w, http.StatusBadGateway, "backend_unavailable", "failed to read from cache")
			return
		}
		if env != nil {
			s.writeJSON(w, http.StatusOK, models.Snapshot{
				ScopeRoot:   env.ScopeRoot,
				WindowStart: env.WindowStart,
				WindowEnd:   env.WindowEnd,
				GeneratedAt: env.GeneratedAt,
				Tree:        env.Tree,
			})
			return
		}
	}

	s.writeError(w, http.StatusNotFound, "snapshot_not_found", "no reconciliation has run for this root")
}

func (s *Server) meters(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.catalog.Meters())
}

func (s *Server) meter(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid_id", "id must be an integer meter id")
		return
	}
	m, ok := s.catalog.Lookup(id)
	if !ok {
		s.writeError(w, http.StatusNotFound, "meter_not_found", "meter is not in the catalog")
		return
	}
	s.writeJSON(w, http.StatusOK, m)
}

func (s *Server) stats(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.reconciler.Stats())
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("json_encode_failed", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, code, message string) {
	s.writeJSON(w, status, errorResponse{Error: code, Message: message})
}
