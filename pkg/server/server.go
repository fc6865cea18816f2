// Package server is the HTTP front end of askcache.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/pario-ai/askcache/pkg/models"
	"github.com/pario-ai/askcache/pkg/pipeline"
)

const (
	headerCache     = "X-Askcache-Cache"
	headerRequestID = "X-Request-ID"
	defaultTopN     = 10
	maxBodyBytes    = 64 << 10
)

// Asker answers questions.
type Asker interface {
	Ask(ctx context.Context, question string) (*models.Answer, error)
}

// Tier is a cache tier exposed for operations.
type Tier interface {
	Stats(ctx context.Context, topN int) (models.TierStats, error)
	CleanupExpired(ctx context.Context) (int64, error)
	Clear(ctx context.Context) (int64, error)
}

type namedTier struct {
	name string
	tier Tier
}

// Server serves the ask and cache administration endpoints.
type Server struct {
	listen   string
	asker    Asker
	tiers    []namedTier
	gatherer prometheus.Gatherer
	log      logrus.FieldLogger
	mux      *http.ServeMux
}

// Option configures a Server.
type Option func(*Server)

// WithTier exposes t under name on the cache endpoints.
func WithTier(name string, t Tier) Option {
	return func(s *Server) { s.tiers = append(s.tiers, namedTier{name: name, tier: t}) }
}

// WithGatherer serves g at /metrics.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

// New creates a Server.
func New(listen string, asker Asker, opts ...Option) *Server {
	s := &Server{
		listen: listen,
		asker:  asker,
		log:    logrus.StandardLogger(),
		mux:    http.NewServeMux(),
	}
	for _, o := range opts {
		o(s)
	}
	s.mux.HandleFunc("/v1/ask", s.handleAsk)
	s.mux.HandleFunc("/v1/cache/stats", s.handleStats)
	s.mux.HandleFunc("/v1/cache/cleanup", s.handleCleanup)
	s.mux.HandleFunc("/v1/cache", s.handleClear)
	s.mux.HandleFunc("/healthz", s.handleHealth)
	if s.gatherer != nil {
		s.mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	s.mux.ServeHTTP(rec, r)
	s.log.WithFields(logrus.Fields{
		"method":      r.Method,
		"path":        r.URL.Path,
		"status":      rec.status,
		"duration_ms": time.Since(start).Milliseconds(),
	}).Debug("http request")
}

// ListenAndServe starts the server with graceful shutdown support.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.listen,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.WithField("listen", s.listen).Info("askcache listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

type askRequest struct {
	Question string `json:"question"`
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	r.Body.Close()

	var req askRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ctx := r.Context()
	if id := r.Header.Get(headerRequestID); id != "" {
		ctx = pipeline.WithRequestID(ctx, id)
	}

	ans, err := s.asker.Ask(ctx, req.Question)
	if err != nil {
		if errors.Is(err, pipeline.ErrEmptyQuestion) {
			writeJSONError(w, http.StatusBadRequest, "question is required")
			return
		}
		writeJSONError(w, http.StatusBadGateway, "failed to answer question")
		return
	}

	cache := "miss"
	if ans.CacheLevel != models.LevelNone {
		cache = string(ans.CacheLevel)
	}
	w.Header().Set(headerCache, cache)
	w.Header().Set(headerRequestID, ans.RequestID)
	writeJSON(w, http.StatusOK, ans)
}

type tierReport struct {
	models.TierStats
	HitRate float64 `json:"hit_rate"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	topN := defaultTopN
	if v := r.URL.Query().Get("top"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeJSONError(w, http.StatusBadRequest, "top must be a non-negative integer")
			return
		}
		topN = n
	}

	reports := make([]tierReport, len(s.tiers))
	g, ctx := errgroup.WithContext(r.Context())
	for i, nt := range s.tiers {
		g.Go(func() error {
			st, err := nt.tier.Stats(ctx, topN)
			if err != nil {
				return fmt.Errorf("%s stats: %w", nt.name, err)
			}
			st.Tier = nt.name
			reports[i] = tierReport{TierStats: st, HitRate: st.HitRate()}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		s.log.WithError(err).Error("cache stats failed")
		writeJSONError(w, http.StatusInternalServerError, "failed to read cache stats")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tiers": reports})
}

func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.eachTier(w, r, "cleanup", func(ctx context.Context, t Tier) (int64, error) {
		return t.CleanupExpired(ctx)
	})
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.eachTier(w, r, "clear", func(ctx context.Context, t Tier) (int64, error) {
		return t.Clear(ctx)
	})
}

func (s *Server) eachTier(w http.ResponseWriter, r *http.Request, op string, fn func(context.Context, Tier) (int64, error)) {
	deleted := make(map[string]int64, len(s.tiers))
	for _, nt := range s.tiers {
		n, err := fn(r.Context(), nt.tier)
		if err != nil {
			s.log.WithError(err).WithFields(logrus.Fields{"tier": nt.name, "op": op}).Error("cache operation failed")
			writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("%s failed for %s cache", op, nt.name))
			return
		}
		deleted[nt.name] = n
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": deleted})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	fmt.Fprintf(w, `{"error":{"message":%q,"type":"askcache_error","code":%d}}`, message, code)
}
