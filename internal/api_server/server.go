package apiserver

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/pusherbot/pusherbot/internal/gateway"
	"github.com/pusherbot/pusherbot/internal/service"
	"github.com/pusherbot/pusherbot/pkg/log"
	"github.com/pusherbot/pusherbot/pkg/metrics"
	"github.com/pusherbot/pusherbot/pkg/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const (
	gracefulShutdownTimeout = 5 * time.Second
)

type Server struct {
	handler  *Handler
	listener net.Listener
	metrics  *metrics.Middleware
}

// New returns the status API server. The request metrics are registered with
// the default prometheus registry, so New must be called once per process.
func New(handler *Handler, listener net.Listener) *Server {
	metricMiddleware := metrics.NewMiddleware("api_server")
	metricMiddleware.MustRegisterDefault()

	return &Server{
		handler:  handler,
		listener: listener,
		metrics:  metricMiddleware,
	}
}

func (s *Server) Router() http.Handler {
	return NewRouter(s.handler, s.metrics)
}

// NewRouter wires the routes. A nil metrics middleware leaves requests
// uncounted.
func NewRouter(h *Handler, m *metrics.Middleware) http.Handler {
	router := chi.NewRouter()

	if m != nil {
		router.Use(m.Handler)
	}
	router.Use(
		middleware.RequestID,
		log.Logger(zap.L(), "http"),
		chiMiddleware.Recoverer,
	)

	router.Get("/health", h.Health)
	router.Handle("/metrics", promhttp.Handler())

	router.Route("/api/v1", func(r chi.Router) {
		r.Get("/jobs", h.ListJobs)
		r.Get("/jobs/{number}", h.GetJob)
		r.Get("/stats", h.Statistics)
		r.Get("/rankings", h.Rankings)
		r.Get("/completions", h.Completions)
		r.Get("/permanent-jobs", h.ListPermanentJobs)
	})

	return router
}

func (s *Server) Run(ctx context.Context) error {
	srv := http.Server{Handler: s.Router()}

	go func() {
		<-ctx.Done()
		zap.S().Named("api_server").Infof("Shutdown signal received: %s", ctx.Err())
		ctxTimeout, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
		defer cancel()

		srv.SetKeepAlivesEnabled(false)
		_ = srv.Shutdown(ctxTimeout)
		zap.S().Named("api_server").Info("api server terminated")
	}()

	zap.S().Named("api_server").Infof("Listening on %s...", s.listener.Addr().String())
	if err := srv.Serve(s.listener); err != nil && !errors.Is(err, net.ErrClosed) && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}

// HandlerConfig tells the handlers who counts as a worker and how to score.
type HandlerConfig struct {
	WorkerRoleID      string
	Scoring           service.Scoring
	RecentCompletions int
}

// Handler serves read-only views of the board.
type Handler struct {
	board     *service.JobBoard
	permanent *service.PermanentJobService
	gw        gateway.Gateway
	cfg       HandlerConfig
}

func NewHandler(board *service.JobBoard, permanent *service.PermanentJobService, gw gateway.Gateway, cfg HandlerConfig) *Handler {
	return &Handler{board: board, permanent: permanent, gw: gw, cfg: cfg}
}
