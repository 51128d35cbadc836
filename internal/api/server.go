// Package api serves the gallery status endpoints and triggers harvests.
package api

import (
	"context"
	"fmt"
	"gallery/internal/domain"
	"gallery/internal/gallery"
	"gallery/internal/harvest"
	"gallery/internal/monitoring"
	"net/http"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Pinger is a backing service checked by /api/health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// StatusStore answers element status queries.
type StatusStore interface {
	GetElementStatus(ctx context.Context, url string) (*domain.ElementStatusResponse, error)
}

// Runner starts harvests.
type Runner interface {
	Run(ctx context.Context, force bool) (*harvest.Result, error)
	Running() bool
}

// Deps holds everything the handlers use. Status, Runner and Checks may be
// nil or empty.
type Deps struct {
	Port    string
	Gallery *gallery.Gallery
	Status  StatusStore
	Runner  Runner
	Checks  map[string]Pinger
	Metrics *monitoring.Metrics
	Logger  *zap.Logger
}

// Server holds the dependencies for the HTTP server.
type Server struct {
	deps       Deps
	router     http.Handler
	httpServer *http.Server
	logger     *zap.Logger

	// runs started over HTTP outlive the request that started them
	baseCtx    context.Context
	cancelRuns context.CancelFunc
	runs       sync.WaitGroup
}

func NewServer(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Metrics == nil {
		deps.Metrics = monitoring.NewMetrics()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		deps:       deps,
		logger:     deps.Logger,
		baseCtx:    ctx,
		cancelRuns: cancel,
	}
	s.router = s.setupRouter()
	return s
}

// Handler returns the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%s", s.deps.Port),
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 70 * time.Second,
	}
	return s.httpServer.ListenAndServe()
}

// Shutdown stops accepting requests, then cancels the harvests started over
// HTTP and waits for them to save their table, or for ctx to end.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	if s.httpServer != nil {
		err = s.httpServer.Shutdown(ctx)
	}
	s.cancelRuns()

	done := make(chan struct{})
	go func() {
		s.runs.Wait()
		close(done)
	}()
	select {
	case <-done:
		return err
	case <-ctx.Done():
		return multierr.Append(err, fmt.Errorf("harvest still running: %w", ctx.Err()))
	}
}
