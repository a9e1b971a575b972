// Wayfinder narrates a walker's surroundings from a camera feed.
// Objects are detected, stabilized over a few frames, and a short spoken
// description is produced only when the scene changes or a hazard is close.
package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"

	"github.com/teslashibe/go-wayfinder/internal/config"
	wlog "github.com/teslashibe/go-wayfinder/internal/log"
	"github.com/teslashibe/go-wayfinder/pkg/wayfinder"
)

func main() {
	cfg := parseFlags()

	wlog.Init(cfg.LogLevel)
	logger := wlog.L()

	app, err := wayfinder.New(cfg, logger)
	if err != nil {
		log.Fatalf("❌ Configuration error: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := app.Init(ctx, wayfinder.Overrides{}); err != nil {
		app.Shutdown()
		log.Fatalf("❌ Initialization failed: %v", err)
	}
	defer app.Shutdown()

	if err := app.Run(ctx); err != nil {
		log.Printf("❌ Runtime error: %v", err)
	}
}

// parseFlags loads configuration and applies command line overrides.
func parseFlags() *config.Config {
	configPath := flag.String("config", "", "YAML config file (or set WAYFINDER_CONFIG)")
	debug := flag.Bool("debug", false, "Enable verbose debug logging")
	sourceKind := flag.String("source", "", "Frame source: camera, browser, webrtc, replay")
	replayDir := flag.String("replay", "", "Directory of JPEG frames to replay (implies -source replay)")
	robotIP := flag.String("robot-ip", "", "Robot IP address (overrides ROBOT_IP env var)")
	port := flag.Int("port", -1, "Dashboard port, 0 disables")
	noJournal := flag.Bool("no-journal", false, "Disable the narration journal")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("❌ Configuration error: %v", err)
	}

	if *debug {
		cfg.LogLevel = "debug"
	}
	if *replayDir != "" {
		cfg.Source.Kind = "replay"
		cfg.Source.ReplayDir = *replayDir
	}
	if *sourceKind != "" {
		cfg.Source.Kind = *sourceKind
	}
	if *robotIP != "" {
		cfg.Source.RobotIP = *robotIP
	}
	if *port >= 0 {
		cfg.Web.Port = *port
	}
	if *noJournal {
		cfg.Journal.Driver = ""
	}
	return cfg
}
