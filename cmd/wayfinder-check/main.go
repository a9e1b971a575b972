// Command wayfinder-check validates narration and speech providers before a
// walk: it checks TTS connectivity, generates a narration for a sample scene
// and optionally speaks it.
//
// Usage:
//
//	go run ./cmd/wayfinder-check/
//	go run ./cmd/wayfinder-check/ -speak
//
// Flags:
//
//	-speak      Play the generated narration through the configured player
//	-urgent     Use a very close hazard as the sample scene
//	-timeout    Per-check timeout (default: 20s)
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/teslashibe/go-wayfinder/internal/config"
	wlog "github.com/teslashibe/go-wayfinder/internal/log"
	"github.com/teslashibe/go-wayfinder/pkg/describe"
	"github.com/teslashibe/go-wayfinder/pkg/scene"
	"github.com/teslashibe/go-wayfinder/pkg/wayfinder"
)

var (
	configPath = flag.String("config", "", "YAML config file (or set WAYFINDER_CONFIG)")
	speak      = flag.Bool("speak", false, "Speak the generated narration")
	urgent     = flag.Bool("urgent", false, "Use a very close hazard as the sample scene")
	timeout    = flag.Duration("timeout", 20*time.Second, "Per-check timeout")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("❌ Configuration error: %v\n", err)
		os.Exit(1)
	}
	wlog.Init(cfg.LogLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg); err != nil {
		fmt.Printf("\n❌ Check failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("\n✅ All checks passed!")
}

func sampleScene() describe.Request {
	if *urgent {
		return describe.Request{
			Detections: []scene.Detection{
				{Label: "car", Confidence: 0.91, Distance: scene.DistanceVeryClose, Direction: scene.DirectionLeft},
				{Label: "person", Confidence: 0.84, Distance: scene.DistanceModerate, Direction: scene.DirectionAhead},
			},
			Urgent: true,
		}
	}
	return describe.Request{
		Detections: []scene.Detection{
			{Label: "person", Confidence: 0.88, Distance: scene.DistanceClose, Direction: scene.DirectionAhead},
			{Label: "bench", Confidence: 0.72, Distance: scene.DistanceModerate, Direction: scene.DirectionRight},
		},
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := wlog.L()

	fmt.Print("🧠 Building narration providers... ")
	gen, err := wayfinder.NewGenerator(ctx, cfg.Describe, logger)
	if err != nil {
		fmt.Println("❌")
		return fmt.Errorf("narration: %w", err)
	}
	fmt.Printf("✅ %s\n", gen.Name())

	req := sampleScene()
	fmt.Printf("🧪 Sample scene: %s\n", scene.KeyOf(scene.Labels(req.Detections)))

	genCtx, cancel := context.WithTimeout(ctx, *timeout)
	start := time.Now()
	text, err := gen.Describe(genCtx, req)
	cancel()
	if err != nil {
		return fmt.Errorf("describe: %w", err)
	}
	fmt.Printf("💬 %q (%s)\n", text, time.Since(start).Round(time.Millisecond))

	fmt.Print("🔊 Building TTS providers... ")
	provider, err := wayfinder.NewTTS(cfg.Speech, logger)
	if err != nil {
		fmt.Println("❌")
		return fmt.Errorf("tts: %w", err)
	}
	if provider == nil {
		fmt.Println("⚠️  none configured, narrations would be logged")
		return nil
	}
	defer provider.Close()
	fmt.Printf("✅ %s\n", provider.Name())

	fmt.Print("🩺 TTS health... ")
	healthCtx, cancel := context.WithTimeout(ctx, *timeout)
	err = provider.Health(healthCtx)
	cancel()
	if err != nil {
		fmt.Println("❌")
		return fmt.Errorf("tts health: %w", err)
	}
	fmt.Println("✅")

	if !*speak || text == "" {
		return nil
	}

	player, err := wayfinder.NewPlayer(cfg.Speech, cfg.Source.RobotIP)
	if err != nil {
		return fmt.Errorf("player: %w", err)
	}
	sink := wayfinder.NewSink(provider, player, logger)

	fmt.Print("🗣️  Speaking... ")
	speakCtx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()
	start = time.Now()
	if err := sink.Speak(speakCtx, text); err != nil {
		fmt.Println("❌")
		return fmt.Errorf("speak: %w", err)
	}
	fmt.Printf("✅ (%s)\n", time.Since(start).Round(time.Millisecond))
	return nil
}
