// Package server exposes a sync controller over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/Sternrassler/gmail-label-sync/pkg/client"
	"github.com/Sternrassler/gmail-label-sync/pkg/credential"
	"github.com/Sternrassler/gmail-label-sync/pkg/metrics"
	"github.com/Sternrassler/gmail-label-sync/pkg/results"
	"github.com/Sternrassler/gmail-label-sync/pkg/syncer"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// Syncer is the controller surface served over HTTP.
// *syncer.Controller implements it.
type Syncer interface {
	LoadMore(ctx context.Context, n int) (syncer.Report, error)
	Refresh(ctx context.Context) (syncer.Report, error)
	Reset()
	SetSelectedPartitions(partitions []string)
	Results() results.Set
	Snapshot() syncer.Snapshot
}

// LabelLister lists the mailbox labels. *client.Client implements it.
type LabelLister interface {
	ListLabels(ctx context.Context, cred credential.Credential) ([]client.Label, error)
}

// CredentialSource yields the credential for label listing.
type CredentialSource interface {
	EnsureValid(ctx context.Context) (credential.Credential, error)
}

// Pinger checks a backing store for readiness.
type Pinger func(ctx context.Context) error

// Options configures the server.
type Options struct {
	Syncer Syncer
	Labels LabelLister
	Creds  CredentialSource

	// Ready is checked by /ready. Nil means always ready.
	Ready Pinger

	// RequestTimeout bounds each load request (default 2m).
	RequestTimeout time.Duration

	Logger zerolog.Logger
}

// Server serves the sync API.
type Server struct {
	opts   Options
	router *mux.Router
	logger zerolog.Logger
}

// New creates a server and registers its routes.
func New(opts Options) *Server {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 2 * time.Minute
	}

	s := &Server{
		opts:   opts,
		router: mux.NewRouter(),
		logger: opts.Logger,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/ready", s.handleReady).Methods(http.MethodGet)
	s.router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	api := s.router.PathPrefix("/v1").Subrouter()
	api.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	api.HandleFunc("/results", s.handleResults).Methods(http.MethodGet)
	api.HandleFunc("/load-more", s.handleLoadMore).Methods(http.MethodPost)
	api.HandleFunc("/refresh", s.handleRefresh).Methods(http.MethodPost)
	api.HandleFunc("/reset", s.handleReset).Methods(http.MethodPost)
	api.HandleFunc("/partitions", s.handleSetPartitions).Methods(http.MethodPut)
	api.HandleFunc("/labels", s.handleLabels).Methods(http.MethodGet)

	s.router.Use(s.logRequests)
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", addr).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info().Msg("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", time.Since(start)).
			Msg("HTTP request")
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
