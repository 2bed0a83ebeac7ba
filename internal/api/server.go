// Package api serves the synchronized data and the sync audit trail over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/mkoziy/finsync/internal/logging"
	"github.com/mkoziy/finsync/internal/metrics"
	"github.com/mkoziy/finsync/internal/models"
	"github.com/mkoziy/finsync/internal/sources/fmp"
	"github.com/mkoziy/finsync/internal/store"
)

// AuditReader is the read side of the audit log.
type AuditReader interface {
	Recent(ctx context.Context, limit int) ([]models.SyncLog, error)
	ForEntity(ctx context.Context, entity string, limit int) ([]models.SyncLog, error)
	ForSession(ctx context.Context, sessionID string) ([]models.SyncLog, error)
	SessionSummary(ctx context.Context, sessionID string) (*models.FetchSession, error)
	RecentSessions(ctx context.Context, limit int) ([]models.FetchSession, error)
}

// Options configure the HTTP server.
type Options struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// MetricsPath mounts the Prometheus handler when non-empty.
	MetricsPath string
}

// Server is the read API.
type Server struct {
	opts       Options
	store      *store.Store
	audit      AuditReader
	metrics    *metrics.Metrics
	logger     *logrus.Entry
	router     *mux.Router
	httpServer *http.Server
}

// NewServer wires routes over the store and audit log.
func NewServer(opts Options, st *store.Store, au AuditReader, m *metrics.Metrics, logger *logrus.Entry) *Server {
	if logger == nil {
		logger = logging.Discard()
	}
	s := &Server{
		opts:    opts,
		store:   st,
		audit:   au,
		metrics: m,
		logger:  logging.WithComponent(logger, "api"),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router = mux.NewRouter()
	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.recoveryMiddleware)

	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	if s.opts.MetricsPath != "" {
		s.router.Handle(s.opts.MetricsPath, s.metrics.Handler()).Methods(http.MethodGet)
	}

	v1 := s.router.PathPrefix("/v1").Subrouter()

	// Audit routes go first so "sync" is never taken for a dataset name.
	v1.HandleFunc("/sync/logs", s.handleLogs).Methods(http.MethodGet)
	v1.HandleFunc("/sync/sessions", s.handleSessions).Methods(http.MethodGet)
	v1.HandleFunc("/sync/sessions/{id}", s.handleSession).Methods(http.MethodGet)

	datasets := strings.Join(fmp.Names(fmp.Endpoints()), "|")
	v1.HandleFunc("/{dataset:"+datasets+"}", s.handleTickers).Methods(http.MethodGet)
	v1.HandleFunc("/{dataset:"+datasets+"}/{ticker}", s.handleRange).Methods(http.MethodGet)
	v1.HandleFunc("/{dataset:"+datasets+"}/{ticker}/{date}", s.handlePoint).Methods(http.MethodGet)
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Start serves until Stop is called.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:         s.opts.Addr,
		Handler:      s.router,
		ReadTimeout:  s.opts.ReadTimeout,
		WriteTimeout: s.opts.WriteTimeout,
	}

	s.logger.WithField("address", s.opts.Addr).Info("starting HTTP server")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen on %s: %w", s.opts.Addr, err)
	}
	return nil
}

// Stop gracefully stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	s.logger.Info("stopping HTTP server")
	return s.httpServer.Shutdown(ctx)
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		s.logger.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   wrapped.statusCode,
			"duration": time.Since(start),
			"remote":   r.RemoteAddr,
		}).Debug("HTTP request")
	})
}

func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				s.logger.WithFields(logrus.Fields{
					"error": err,
					"path":  r.URL.Path,
				}).Error("panic recovered")
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
