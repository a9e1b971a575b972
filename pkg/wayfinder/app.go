// Package wayfinder wires the narration pipeline, its providers, the
// dashboard and the journal into one application.
package wayfinder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/teslashibe/go-wayfinder/internal/config"
	"github.com/teslashibe/go-wayfinder/pkg/describe"
	"github.com/teslashibe/go-wayfinder/pkg/detection"
	"github.com/teslashibe/go-wayfinder/pkg/journal"
	"github.com/teslashibe/go-wayfinder/pkg/pipeline"
	"github.com/teslashibe/go-wayfinder/pkg/source"
	"github.com/teslashibe/go-wayfinder/pkg/speech"
	"github.com/teslashibe/go-wayfinder/pkg/tts"
	"github.com/teslashibe/go-wayfinder/pkg/web"
)

// HistorySize is how many narration events the dashboard keeps.
const HistorySize = 50

// previewEvery sends every Nth source frame to the dashboard preview.
const previewEvery = 3

// App is the main application orchestrator.
// It manages all components and their lifecycle.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	// Frames
	src     source.Source
	browser *source.Browser

	// Perception and narration
	detector  detection.Detector
	generator describe.Generator
	tts       tts.Provider
	sink      speech.Sink

	pipeline *pipeline.Pipeline
	history  *pipeline.History

	// Outer surfaces
	web     *web.Server
	store   *journal.Store
	journal *journal.Writer
}

// Overrides replace built components, mainly for tests and tools that
// bring their own collaborators.
type Overrides struct {
	Source    source.Source
	Detector  detection.Detector
	Generator describe.Generator
	Sink      speech.Sink
}

// New creates an application from a validated configuration.
func New(cfg *config.Config, logger *slog.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &App{cfg: cfg, logger: logger}, nil
}

// Init builds every component. Call it after New and before Run.
func (a *App) Init(ctx context.Context, ov Overrides) error {
	fmt.Println("🦯 Wayfinder - scene narration for walking")
	fmt.Println("==========================================")

	var err error
	fmt.Printf("📷 Opening %s source... ", a.cfg.Source.Kind)
	if a.src = ov.Source; a.src == nil {
		a.src, a.browser, err = OpenSource(ctx, a.cfg.Source, a.logger)
		if err != nil {
			fmt.Println("❌")
			return err
		}
	}
	fmt.Println("✅")

	fmt.Print("👁️  Loading detector... ")
	if a.detector = ov.Detector; a.detector == nil {
		v, err := detection.New(DetectionConfig(a.cfg.Detection), a.logger)
		if err != nil {
			fmt.Println("❌")
			return fmt.Errorf("detector: %w", err)
		}
		a.detector = v
	}
	fmt.Println("✅")

	if a.generator = ov.Generator; a.generator == nil {
		a.generator, err = NewGenerator(ctx, a.cfg.Describe, a.logger)
		if err != nil {
			return fmt.Errorf("narration: %w", err)
		}
	}
	fmt.Printf("🧠 Narration: %s\n", a.generator.Name())

	if a.sink = ov.Sink; a.sink == nil {
		a.sink, err = a.buildSink()
		if err != nil {
			return err
		}
	}

	a.pipeline, err = pipeline.New(PipelineConfig(a.cfg.Pipeline, a.logger), pipeline.Deps{
		Source:    source.Tap(a.src, previewEvery, a.preview),
		Detector:  a.detector,
		Generator: a.generator,
		Sink:      a.sink,
	})
	if err != nil {
		return err
	}

	a.history = pipeline.NewHistory(HistorySize,
		pipeline.EventSpoken, pipeline.EventSuppressed, pipeline.EventFailed)
	a.pipeline.Observe(a.history.Observe)
	a.pipeline.Observe(a.logEvent)
	if a.browser != nil {
		a.pipeline.Observe(func(e pipeline.Event) {
			if e.Type == pipeline.EventSpoken {
				a.browser.Notify(e.RecordID, e.Text, e.Urgent)
			}
		})
	}

	if err := a.initJournal(ctx); err != nil {
		fmt.Printf("⚠️  Journal: %v\n", err)
	}
	a.initWeb()
	return nil
}

func (a *App) buildSink() (speech.Sink, error) {
	provider, err := NewTTS(a.cfg.Speech, a.logger)
	if err != nil {
		return nil, fmt.Errorf("tts: %w", err)
	}
	player, err := NewPlayer(a.cfg.Speech, a.cfg.Source.RobotIP)
	if err != nil {
		a.logger.Warn("audio player unavailable, narrations will be logged", "error", err)
	}
	a.tts = provider
	if provider == nil || player == nil {
		fmt.Println("🔇 Speech: log only")
	} else {
		fmt.Printf("🔊 Speech: %s via %s\n", provider.Name(), a.cfg.Speech.Player)
	}
	return NewSink(provider, player, a.logger), nil
}

func (a *App) initJournal(ctx context.Context) error {
	if a.cfg.Journal.Driver == "" || a.cfg.Journal.DSN == "" {
		return nil
	}
	fmt.Print("📓 Opening journal... ")
	store, err := journal.Open(ctx, a.cfg.Journal.Driver, a.cfg.Journal.DSN)
	if err != nil {
		fmt.Println("❌")
		return err
	}
	a.store = store
	a.journal = journal.NewWriter(store, 64, a.logger)
	a.pipeline.Observe(a.journal.Observe)
	fmt.Println("✅")
	return nil
}

func (a *App) initWeb() {
	if a.cfg.Web.Port == 0 {
		return
	}
	opts := []web.Option{}
	if a.store != nil {
		opts = append(opts, web.WithJournal(a.store))
	}
	if a.browser != nil {
		opts = append(opts, web.WithRoutes(a.browser))
	}
	a.web = web.NewServer(web.Config{
		Port:       a.cfg.Web.Port,
		SourceKind: a.cfg.Source.Kind,
		Logger:     a.logger,
	}, a.pipeline, a.history, opts...)
	a.pipeline.Observe(a.web.Observe)
}

// preview forwards tapped frames to the dashboard. a.web is set during Init,
// before any frame is read.
func (a *App) preview(f source.Frame) {
	if a.web != nil {
		a.web.SendPreview(f)
	}
}

func (a *App) logEvent(e pipeline.Event) {
	switch e.Type {
	case pipeline.EventSpoken:
		a.logger.Info("spoken", "text", e.Text, "urgent", e.Urgent)
	case pipeline.EventFailed:
		a.logger.Warn("stage failed", "stage", e.Stage, "error", e.Error)
	}
}

// Pipeline exposes the pipeline for status queries.
func (a *App) Pipeline() *pipeline.Pipeline {
	return a.pipeline
}

// Run starts the pipeline and the dashboard. It returns when the source
// ends, ctx is cancelled or a component fails.
func (a *App) Run(ctx context.Context) error {
	if a.pipeline == nil {
		return errors.New("wayfinder: Init not called")
	}
	if a.web != nil {
		fmt.Printf("🌐 Dashboard: http://localhost:%d\n", a.cfg.Web.Port)
	}
	fmt.Println("\n🚶 Narrating. (Ctrl+C to exit)")

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		// a finished stream stops the dashboard too
		defer cancel()
		return a.pipeline.Run(gctx)
	})
	if a.web != nil {
		g.Go(func() error { return a.web.Run(gctx) })
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Shutdown releases every component. It is safe to call after a failed Init.
func (a *App) Shutdown() {
	fmt.Println("\n👋 Goodbye!")

	if a.journal != nil {
		a.journal.Close()
	}
	var errs []error
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if a.src != nil {
		errs = append(errs, a.src.Close())
	}
	if a.detector != nil {
		errs = append(errs, a.detector.Close())
	}
	if a.tts != nil {
		errs = append(errs, a.tts.Close())
	}
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn("shutdown", "error", err)
	}
}
