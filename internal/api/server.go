package api

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog/log"

	"github.com/forumsync/internal/dispatch"
	"github.com/forumsync/internal/model"
	"github.com/forumsync/internal/reconcile"
)

// EventHandler is the slice of the dispatcher the server needs.
type EventHandler interface {
	Handle(ctx context.Context, ev model.Event) error
	NotifyError(ctx context.Context, text string)
}

var _ EventHandler = (*dispatch.Dispatcher)(nil)

// Reconciler triggers a full reconciliation run.
type Reconciler interface {
	Run(ctx context.Context, progress reconcile.Progress) error
}

// Config holds the server wiring.
type Config struct {
	ListenAddr    string
	WebhookPath   string
	WebhookSecret string
	AllowedRepos  []string
}

// Server represents the webhook listener
type Server struct {
	echo       *echo.Echo
	cfg        Config
	handler    EventHandler
	reconciler Reconciler
	allowed    map[string]bool

	reconciling atomic.Bool
}

// NewServer creates a new webhook server. The reconciler is optional.
func NewServer(cfg Config, handler EventHandler, reconciler Reconciler) *Server {
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	allowed := make(map[string]bool, len(cfg.AllowedRepos))
	for _, repo := range cfg.AllowedRepos {
		allowed[repo] = true
	}
	if cfg.WebhookPath == "" {
		cfg.WebhookPath = "/webhook"
	}

	server := &Server{
		echo:       e,
		cfg:        cfg,
		handler:    handler,
		reconciler: reconciler,
		allowed:    allowed,
	}

	// Setup routes
	server.setupRoutes()

	return server
}

// setupRoutes configures all endpoints
func (s *Server) setupRoutes() {
	// Health check endpoint
	s.echo.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status": "healthy",
		})
	})

	s.echo.POST(s.cfg.WebhookPath, s.handleWebhook)

	v1 := s.echo.Group("/api/v1")
	v1.POST("/reconcile", s.handleReconcile)
}

// Echo exposes the underlying router for handler tests.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

// Start begins the server and blocks until an interrupt arrives.
func (s *Server) Start() error {
	go func() {
		if err := s.echo.Start(s.cfg.ListenAddr); err != nil && err != http.ErrServerClosed {
			s.echo.Logger.Fatal("shutting down the server")
		}
	}()

	// Wait for interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return s.echo.Shutdown(ctx)
}

// handleReconcile kicks off an asynchronous reconciliation run. Only one
// run may be in flight at a time.
func (s *Server) handleReconcile(c echo.Context) error {
	if s.reconciler == nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{
			"error": "reconciliation is not configured",
		})
	}
	if !s.reconciling.CompareAndSwap(false, true) {
		return c.JSON(http.StatusConflict, map[string]string{
			"error": "a reconciliation run is already in progress",
		})
	}

	go func() {
		defer s.reconciling.Store(false)
		progress := func(message string) {
			log.Info().Str("component", "reconcile").Msg(message)
		}
		if err := s.reconciler.Run(context.Background(), progress); err != nil {
			log.Error().Err(err).Msg("Reconciliation run failed")
		}
	}()

	return c.JSON(http.StatusAccepted, map[string]string{
		"status": "accepted",
	})
}
