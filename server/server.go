// Package server exposes the pipeline over HTTP: create and status routes,
// job listing, a websocket feed of job updates and a health endpoint.
package server

import (
	"context"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/reel/am"
	"github.com/teranos/reel/errors"
	"github.com/teranos/reel/gateway"
	"github.com/teranos/reel/housekeeping"
	"github.com/teranos/reel/job"
	"github.com/teranos/reel/pipeline"
	"github.com/teranos/reel/version"
)

// Server is reel's HTTP server
type Server struct {
	cfg          am.ServerConfig
	pipeline     *pipeline.Service
	gateway      *gateway.Handler
	store        *job.Store
	housekeeping *housekeeping.Service
	media        fs.FS // local storage, served under /media/
	hub          *Hub
	limiter      *clientLimiter
	logger       *zap.SugaredLogger

	mu         sync.Mutex
	httpServer *http.Server
}

// Options wires a Server
type Options struct {
	Config       am.ServerConfig
	Pipeline     *pipeline.Service
	Housekeeping *housekeeping.Service // optional
	Media        fs.FS                 // optional
	Logger       *zap.SugaredLogger
}

// New creates a server
func New(opts Options) *Server {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	log = log.Named("server")

	store := opts.Pipeline.Store()
	return &Server{
		cfg:          opts.Config,
		pipeline:     opts.Pipeline,
		gateway:      gateway.NewHandler(opts.Pipeline, log),
		store:        store,
		housekeeping: opts.Housekeeping,
		media:        opts.Media,
		hub:          NewHub(store, log),
		limiter:      newClientLimiter(opts.Config.CreateRatePerMinute),
		logger:       log,
	}
}

// Handler returns the routed handler with middleware applied
func (s *Server) Handler() http.Handler {
	return s.routes()
}

// ListenAndServe serves on port until ctx ends, then shuts down gracefully
func (s *Server) ListenAndServe(ctx context.Context, port int) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return errors.WithHintf(errors.Wrapf(err, "listen on port %d", port),
			"set server.port in am.toml or REEL_SERVER_PORT")
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx ends
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	hubCtx, stopHub := context.WithCancel(ctx)
	defer stopHub()
	go s.hub.Run(hubCtx)

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Lock()
	s.httpServer = srv
	s.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	s.logger.Infow("Server ready",
		"addr", ln.Addr().String(),
		"version", version.Get().String())

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrap(err, "server stopped")
	case <-ctx.Done():
	}

	s.logger.Infow("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "graceful shutdown")
	}
	return nil
}

func (s *Server) requestTimeout() time.Duration {
	if s.cfg.RequestTimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(s.cfg.RequestTimeoutSeconds) * time.Second
}
