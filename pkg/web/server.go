// Package web provides the local coaching dashboard and control API.
package web

import (
	"context"
	"embed"
	"errors"
	"io/fs"
	"log/slog"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/filesystem"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-coach/pkg/coach"
	"github.com/teslashibe/go-coach/pkg/hub"
	"github.com/teslashibe/go-coach/pkg/store"
)

//go:embed static
var staticFiles embed.FS

// Controller is the session controller surface the dashboard drives.
type Controller interface {
	Start(ctx context.Context, p coach.StartParams) error
	Stop(ctx context.Context) error
	ToggleCoach(ctx context.Context, enabled bool) error
	Phase() coach.Phase
	Snapshot() coach.Session
	Stats() coach.Stats
	Subscribe() (<-chan coach.Update, func())
}

// Archive lists and loads ended sessions.
type Archive interface {
	ListSessions(ctx context.Context, limit int) ([]store.Summary, error)
	GetSession(ctx context.Context, callID string) (*coach.Session, error)
}

// ErrNoArchive is returned by archive routes when no archive is configured.
var ErrNoArchive = errors.New("web: archive not configured")

// Config holds dashboard settings.
type Config struct {
	// Addr is the listen address, e.g. ":8090".
	Addr string

	// Archive backs /api/calls. Optional.
	Archive Archive

	// ForwardAudio includes per-chunk audio level updates in /ws/events.
	ForwardAudio bool

	Logger *slog.Logger
}

// DefaultConfig returns the default dashboard settings.
func DefaultConfig() *Config {
	return &Config{
		Addr:         ":8090",
		ForwardAudio: true,
	}
}

// Option configures the dashboard.
type Option func(*Config)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(c *Config) {
		c.Addr = addr
	}
}

// WithArchive enables the archive routes.
func WithArchive(a Archive) Option {
	return func(c *Config) {
		c.Archive = a
	}
}

// WithForwardAudio toggles audio level updates on /ws/events.
func WithForwardAudio(on bool) Option {
	return func(c *Config) {
		c.ForwardAudio = on
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = l
	}
}

// Server is the web dashboard server
type Server struct {
	app    *fiber.App
	cfg    *Config
	ctrl   Controller
	logger *slog.Logger

	// Hub for websocket broadcast of controller updates
	events *hub.Hub
}

// NewServer creates a new web dashboard server
func NewServer(ctrl Controller, opts ...Option) *Server {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:    cfg,
		ctrl:   ctrl,
		logger: logger.With("component", "web"),
		events: hub.New("events", logger),
	}

	app := fiber.New(fiber.Config{
		AppName:               "Coach Dashboard",
		DisableStartupMessage: true,
		ErrorHandler:          errorHandler,
	})

	app.Use(recover.New())

	// CORS for local development
	app.Use(cors.New())

	app.Get("/health", s.handleHealth)

	// API routes
	api := app.Group("/api")
	api.Get("/session", s.handleSession)
	api.Post("/session/start", s.handleStart)
	api.Post("/session/stop", s.handleStop)
	api.Post("/coach", s.handleCoach)
	api.Get("/calls", s.handleListCalls)
	api.Get("/calls/:id", s.handleGetCall)

	// WebSocket upgrade middleware
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/events", websocket.New(s.handleEventsWS))

	// Dashboard page
	static, _ := fs.Sub(staticFiles, "static")
	app.Use("/", filesystem.New(filesystem.Config{
		Root:  http.FS(static),
		Index: "index.html",
	}))

	s.app = app
	return s
}

// Run starts the event hub and serves the dashboard until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	go s.events.Run(ctx)
	go s.pumpUpdates(ctx)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("dashboard listening", "addr", s.cfg.Addr)
		errCh <- s.app.Listen(s.cfg.Addr)
	}()

	select {
	case <-ctx.Done():
		if err := s.app.Shutdown(); err != nil {
			s.logger.Warn("dashboard shutdown", "error", err)
		}
		return nil
	case err := <-errCh:
		return err
	}
}

// Events returns the hub broadcasting controller updates.
func (s *Server) Events() *hub.Hub {
	return s.events
}

// pumpUpdates forwards controller updates to websocket clients.
func (s *Server) pumpUpdates(ctx context.Context) {
	updates, cancel := s.ctrl.Subscribe()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-updates:
			if !ok {
				return
			}
			if u.Kind == coach.UpdateAudio && !s.cfg.ForwardAudio {
				continue
			}
			if err := s.events.BroadcastJSON(u); err != nil {
				s.logger.Warn("encode update", "kind", u.Kind, "error", err)
			}
		}
	}
}

func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	}
	return c.Status(code).JSON(fiber.Map{"error": err.Error()})
}
