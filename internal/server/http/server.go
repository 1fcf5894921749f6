package httpserver

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/rzbill/tasq/internal/runtime"
	logpkg "github.com/rzbill/tasq/pkg/log"
)

// Server exposes the broker facade over HTTP. It is the transport-facing
// client adapter: it validates nothing beyond shape, maps broker errors to
// status codes and keeps every call a thin delegation.
type Server struct {
	rt     *runtime.Runtime
	logger logpkg.Logger
	srv    *http.Server
	lis    net.Listener
}

// New builds the router and returns an unstarted server.
func New(rt *runtime.Runtime, logger logpkg.Logger) *Server {
	if logger == nil {
		logger = logpkg.NewLogger(logpkg.WithLevel(logpkg.InfoLevel))
	}
	s := &Server{rt: rt, logger: logger.With(logpkg.F("component", "http"))}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/v1/healthz", s.handleHealth)
	r.Handle("/metrics", rt.Metrics().Handler())

	r.Route("/v1/tasks", func(r chi.Router) {
		r.Post("/", s.handleEnqueue)
		r.Get("/poll/{taskType}", s.handlePoll)
		r.Post("/update", s.handleUpdate)
		r.Get("/queue/size", s.handleQueueSizes)
		r.Get("/queue/polldata", s.handlePollData)
		r.Delete("/queue/{taskType}/{taskId}", s.handleRemoveFromQueue)
		r.Get("/in_progress/{workflowId}/{taskRefName}", s.handlePendingForWorkflow)
		r.Get("/pending/{taskType}", s.handlePendingForType)
		r.Post("/{taskId}/ack", s.handleAck)
		r.Post("/{taskId}/log", s.handleAddLog)
		r.Get("/{taskId}/log", s.handleGetLogs)
		r.Get("/{taskId}", s.handleGetTask)
	})

	s.srv = &http.Server{Handler: r}
	return s
}

// Handler returns the configured router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// ListenAndServe serves until ctx is canceled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.lis = l
	s.logger.Info("http server listening", logpkg.F("addr", l.Addr().String()))
	errCh := make(chan error, 1)
	go func() { errCh <- s.srv.Serve(l) }()
	select {
	case <-ctx.Done():
		cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(cctx)
		return nil
	case err := <-errCh:
		return err
	}
}

// Close closes the listener.
func (s *Server) Close() {
	if s.lis != nil {
		_ = s.lis.Close()
	}
}
