// Package api serves the HTTP boundary: status, listings, manual scans,
// settings and the change feed.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"site_watcher/internal/model"
	"site_watcher/internal/scanner"
)

// Scanner is the orchestrator surface the API drives.
type Scanner interface {
	Status() model.ScanStatus
	Trigger(ctx context.Context) (scanner.TriggerResult, error)
	Settings(ctx context.Context) (model.Settings, error)
	UpdateSettings(ctx context.Context, s model.Settings) error
}

// Store is the read side of persistence used by the listing endpoints.
type Store interface {
	ListAnnouncements(ctx context.Context, limit int) ([]model.Announcement, error)
	ListChanges(ctx context.Context, limit int) ([]model.Change, error)
}

// Server wires the routes onto an http.Server.
type Server struct {
	scanner    Scanner
	store      Store
	gatherer   prometheus.Gatherer
	listingURL string
	log        *slog.Logger
	srv        *http.Server
}

// New creates a Server listening on addr. A nil gatherer serves the default
// Prometheus registry.
func New(addr string, sc Scanner, store Store, gatherer prometheus.Gatherer, listingURL string, log *slog.Logger) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	s := &Server{
		scanner:    sc,
		store:      store,
		gatherer:   gatherer,
		listingURL: listingURL,
		log:        log,
	}
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
	}
	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.log))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Second))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/status", s.handleStatus)
		r.Get("/announcements", s.handleAnnouncements)
		r.Get("/changes", s.handleChanges)
		r.Get("/changes.atom", s.handleChangesFeed)
		r.Post("/scan", s.handleScan)
		r.Get("/settings", s.handleGetSettings)
		r.Put("/settings", s.handlePutSettings)
	})
	r.Get("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}).ServeHTTP)
	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http server listening", "addr", s.srv.Addr)
		errCh <- s.srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

func requestLogger(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Debug("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}
