// Package web serves the narration dashboard: pipeline status and counters,
// recent narrations, the journal and a live event stream.
package web

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/filesystem"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-wayfinder/pkg/hub"
	"github.com/teslashibe/go-wayfinder/pkg/journal"
	"github.com/teslashibe/go-wayfinder/pkg/pipeline"
	"github.com/teslashibe/go-wayfinder/pkg/source"
)

//go:embed static
var staticFiles embed.FS

// StatsSource reports pipeline counters.
type StatsSource interface {
	Stats() pipeline.Stats
}

// JournalReader is the read side of the narration journal.
type JournalReader interface {
	Recent(ctx context.Context, limit int) ([]journal.Entry, error)
	Counts(ctx context.Context) (map[journal.Kind]int, error)
}

// RouteRegistrar mounts extra routes, e.g. the browser camera ingest.
type RouteRegistrar interface {
	RegisterRoutes(app *fiber.App)
}

// Config holds dashboard settings.
type Config struct {
	Port       int
	SourceKind string
	Logger     *slog.Logger
}

// Option configures optional dashboard collaborators.
type Option func(*Server)

// WithJournal enables /api/journal.
func WithJournal(j JournalReader) Option {
	return func(s *Server) { s.journal = j }
}

// WithRoutes mounts r's routes on the dashboard app.
func WithRoutes(r RouteRegistrar) Option {
	return func(s *Server) { s.extra = append(s.extra, r) }
}

// WithClock overrides time.Now for uptime.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// Server is the web dashboard server
type Server struct {
	app    *fiber.App
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	stats   StatsSource
	history *pipeline.History
	journal JournalReader
	extra   []RouteRegistrar

	events  *hub.Hub
	preview *hub.Hub

	startedAt time.Time
}

// NewServer creates the dashboard. stats and history are required.
func NewServer(cfg Config, stats StatsSource, history *pipeline.History, opts ...Option) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	s := &Server{
		cfg:     cfg,
		logger:  cfg.Logger.With("component", "web"),
		now:     time.Now,
		stats:   stats,
		history: history,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.startedAt = s.now()
	s.events = hub.New("events", cfg.Logger)
	s.preview = hub.New("preview", cfg.Logger)

	app := fiber.New(fiber.Config{
		AppName:               "Wayfinder Dashboard",
		DisableStartupMessage: true,
	})
	app.Use(cors.New())

	api := app.Group("/api")
	api.Get("/status", s.handleStatus)
	api.Get("/stats", s.handleStats)
	api.Get("/narrations", s.handleNarrations)
	api.Get("/journal", s.handleJournal)

	for _, r := range s.extra {
		r.RegisterRoutes(app)
	}

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/events", websocket.New(s.events.Handler()))
	app.Get("/ws/preview", websocket.New(s.preview.Handler()))

	sub, err := fs.Sub(staticFiles, "static")
	if err == nil {
		app.Use("/", filesystem.New(filesystem.Config{Root: http.FS(sub)}))
	}

	s.app = app
	return s
}

// App returns the underlying fiber app.
func (s *Server) App() *fiber.App {
	return s.app
}

// Observe is a pipeline.Observer that streams events to /ws/events.
func (s *Server) Observe(e pipeline.Event) {
	if err := s.events.BroadcastJSON(e); err != nil {
		s.logger.Warn("failed to encode event", "type", e.Type, "error", err)
	}
}

// SendPreview streams a frame to /ws/preview.
func (s *Server) SendPreview(f source.Frame) {
	if s.preview.ClientCount() == 0 {
		return
	}
	s.preview.BroadcastBinary(f.JPEG)
}

// Run starts the hubs and serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	go s.events.Run(ctx)
	go s.preview.Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		addr := fmt.Sprintf(":%d", s.cfg.Port)
		s.logger.Info("dashboard listening", "addr", addr)
		errCh <- s.app.Listen(addr)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.app.ShutdownWithContext(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return nil
	}
}
