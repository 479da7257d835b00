// Package server provides the HTTP API for audits.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"aeo-audit/pkg/config"
	"aeo-audit/pkg/lifecycle"
	"aeo-audit/pkg/models"
)

// AuditService is the lifecycle surface the API exposes
type AuditService interface {
	Create(ctx context.Context, req lifecycle.CreateRequest) (*lifecycle.CreateResponse, error)
	Get(ctx context.Context, id string) (*models.AuditView, error)
	ListPages(ctx context.Context, id string, limit, offset int) ([]models.AnalyzedPage, error)
	GetPage(ctx context.Context, id, pageID string) (*models.AnalyzedPage, error)
	Continue(ctx context.Context, id string) (*lifecycle.ContinueResult, error)
	Recrawl(ctx context.Context, id string) (*models.AuditView, error)
	Finalize(ctx context.Context, id string) (*models.Audit, error)
	AdminFail(ctx context.Context, id, reason string) (*models.Audit, error)
}

// HealthFunc contributes extra fields to /health
type HealthFunc func() map[string]any

// Server is the audit HTTP API
type Server struct {
	audits     AuditService
	health     HealthFunc
	validate   *validator.Validate
	cfg        config.ServerConfig
	httpServer *http.Server
	log        *logrus.Entry
}

// New creates the server and its routes. health may be nil.
func New(audits AuditService, health HealthFunc, cfg config.ServerConfig, log *logrus.Entry) *Server {
	s := &Server{
		audits:   audits,
		health:   health,
		validate: validator.New(),
		cfg:      cfg,
		log:      log.WithField("component", "http"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)

	mux.HandleFunc("POST /api/audits", s.handleCreateAudit)
	mux.HandleFunc("GET /api/audits/{id}", s.handleGetAudit)
	mux.HandleFunc("GET /api/audits/{id}/pages", s.handleListPages)
	mux.HandleFunc("GET /api/audits/{id}/pages/{pageId}", s.handleGetPage)
	mux.HandleFunc("POST /api/audits/{id}/continue", s.handleContinue)
	mux.HandleFunc("POST /api/audits/{id}/recrawl", s.handleRecrawl)
	mux.HandleFunc("POST /api/audits/{id}/finalize", s.handleFinalize)
	mux.HandleFunc("POST /api/audits/{id}/fail", s.handleFail)

	s.httpServer = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      s.withRecovery(s.withLogging(mux)),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler returns the routed handler with middleware
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Run serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Infof("API listening on %s", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.log.Info("Shutting down API server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	return nil
}

// statusRecorder captures the response code for logging
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// withLogging adds request logging
func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		entry := s.log.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   rec.status,
			"duration": time.Since(start).Round(time.Millisecond),
		})
		if rec.status >= http.StatusInternalServerError {
			entry.Warn("Request failed")
			return
		}
		entry.Debug("Request served")
	})
}

// withRecovery turns handler panics into 500s
func (s *Server) withRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if p := recover(); p != nil {
				s.log.WithField("path", r.URL.Path).Errorf("PANIC Recovered in handler: %v", p)
				s.errorResponse(w, http.StatusInternalServerError, "internal error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// jsonResponse writes a JSON response
func (s *Server) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Warnf("Error encoding JSON response: %v", err)
	}
}

// errorResponse writes an error JSON response
func (s *Server) errorResponse(w http.ResponseWriter, status int, message string) {
	s.jsonResponse(w, status, map[string]string{"error": message})
}
