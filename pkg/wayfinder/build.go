package wayfinder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/teslashibe/go-wayfinder/internal/config"
	"github.com/teslashibe/go-wayfinder/pkg/audio"
	"github.com/teslashibe/go-wayfinder/pkg/describe"
	"github.com/teslashibe/go-wayfinder/pkg/detection"
	"github.com/teslashibe/go-wayfinder/pkg/pipeline"
	"github.com/teslashibe/go-wayfinder/pkg/source"
	"github.com/teslashibe/go-wayfinder/pkg/speech"
	"github.com/teslashibe/go-wayfinder/pkg/tts"
)

// ErrUnknownProvider is returned for provider names no factory knows.
var ErrUnknownProvider = errors.New("wayfinder: unknown provider")

// OpenSource opens the configured frame source. The browser source is also
// returned on its own so its routes can be mounted and narrations echoed.
func OpenSource(ctx context.Context, cfg config.SourceConfig, logger *slog.Logger) (source.Source, *source.Browser, error) {
	var (
		src source.Source
		err error
	)
	switch cfg.Kind {
	case "camera":
		src, err = source.OpenCamera(cfg.CameraIndex, cfg.CameraURL, logger)
	case "browser":
		b := source.NewBrowser(logger)
		return b, b, nil
	case "webrtc":
		src, err = source.DialRobot(ctx, source.RobotConfig{IP: cfg.RobotIP, Logger: logger})
	case "replay":
		src, err = source.OpenReplay(cfg.ReplayDir, cfg.ReplayFPS)
	default:
		return nil, nil, fmt.Errorf("%w: source %q", ErrUnknownProvider, cfg.Kind)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("open %s source: %w", cfg.Kind, err)
	}
	return src, nil, nil
}

// DetectionConfig maps application config onto the detector's.
func DetectionConfig(cfg config.DetectionConfig) detection.Config {
	d := detection.DefaultConfig()
	if cfg.YOLOModel != "" {
		d.ModelPath = cfg.YOLOModel
	}
	if cfg.YOLOThreshold > 0 {
		d.ConfidenceThresh = float32(cfg.YOLOThreshold)
	}
	d.DepthModelPath = cfg.DepthModel
	return d
}

// NewGenerator builds the narration generator chain in configured order.
// Providers that cannot be constructed (missing keys, no credentials) are
// skipped with a warning; an unknown name is an error.
func NewGenerator(ctx context.Context, cfg config.DescribeConfig, logger *slog.Logger) (describe.Generator, error) {
	var gens []describe.Generator
	for _, name := range cfg.Providers {
		var (
			g   describe.Generator
			err error
		)
		switch strings.ToLower(name) {
		case "vertex":
			g, err = describe.NewVertex(ctx,
				describe.WithProject(cfg.VertexProject, cfg.VertexLocation),
				describe.WithModel(cfg.VertexModel),
				describe.WithLogger(logger))
		case "gemini":
			g, err = describe.NewGemini(
				describe.WithAPIKey(cfg.GeminiAPIKey),
				describe.WithModel(cfg.GeminiModel),
				describe.WithLogger(logger))
		case "groq", "openai":
			g, err = describe.NewOpenAI(
				describe.WithAPIKey(cfg.GroqAPIKey),
				describe.WithBaseURL(cfg.GroqBaseURL),
				describe.WithModel(cfg.GroqModel),
				describe.WithLogger(logger))
		case "summary":
			g = describe.NewSummary()
		default:
			return nil, fmt.Errorf("%w: narration %q", ErrUnknownProvider, name)
		}
		if err != nil {
			logger.Warn("narration provider unavailable", "provider", name, "error", err)
			continue
		}
		gens = append(gens, g)
	}
	if len(gens) == 1 {
		return gens[0], nil
	}
	return describe.NewChain(logger, gens...)
}

// needsPCM reports whether the player can only handle raw PCM.
func needsPCM(player string) bool {
	return player == "aplay" || player == "robot"
}

// NewTTS builds the TTS provider chain. It returns nil, nil when no
// provider could be constructed.
func NewTTS(cfg config.SpeechConfig, logger *slog.Logger) (tts.Provider, error) {
	format := tts.EncodingMP3
	if needsPCM(cfg.Player) {
		format = tts.EncodingPCM24
	}

	var providers []tts.Provider
	for _, name := range cfg.Providers {
		var (
			p   tts.Provider
			err error
		)
		switch strings.ToLower(name) {
		case "elevenlabs":
			p, err = tts.NewElevenLabs(
				tts.WithAPIKey(cfg.ElevenLabsKey),
				tts.WithVoice(cfg.VoiceID),
				tts.WithOutputFormat(format),
				tts.WithLogger(logger))
		case "openai":
			if needsPCM(cfg.Player) {
				logger.Warn("openai tts returns mp3, skipped for this player", "player", cfg.Player)
				continue
			}
			p, err = tts.NewOpenAI(
				tts.WithAPIKey(cfg.OpenAIKey),
				tts.WithVoice(cfg.OpenAIVoice),
				tts.WithLogger(logger))
		default:
			return nil, fmt.Errorf("%w: tts %q", ErrUnknownProvider, name)
		}
		if err != nil {
			logger.Warn("tts provider unavailable", "provider", name, "error", err)
			continue
		}
		providers = append(providers, p)
	}

	switch len(providers) {
	case 0:
		return nil, nil
	case 1:
		return providers[0], nil
	}
	return tts.NewChain(logger, providers...)
}

// NewPlayer returns the configured audio player, or nil for "none".
func NewPlayer(cfg config.SpeechConfig, robotIP string) (audio.Player, error) {
	switch cfg.Player {
	case "none", "":
		return nil, nil
	case "robot":
		return audio.NewRobot(robotIP, cfg.RobotUser, cfg.RobotPass), nil
	}
	return audio.NewLocal(cfg.Player)
}

// NewSink combines a TTS provider and a player. Without either, narrations
// go to the log.
func NewSink(provider tts.Provider, player audio.Player, logger *slog.Logger) speech.Sink {
	if provider == nil || player == nil {
		return speech.NewLogSink(logger)
	}
	return speech.NewTTSSink(provider, player)
}

// PipelineConfig maps application config onto the pipeline's.
func PipelineConfig(cfg config.PipelineConfig, logger *slog.Logger) pipeline.Config {
	p := pipeline.DefaultConfig()
	p.Apply(
		pipeline.WithStride(cfg.SampleStride),
		pipeline.WithStabilizer(cfg.WindowSize, cfg.MinHits),
		pipeline.WithCooldown(config.Seconds(cfg.CooldownSeconds)),
		pipeline.WithForceInterval(config.Seconds(cfg.ForceIntervalSeconds)),
		pipeline.WithQueueCapacity(cfg.QueueCapacity),
		pipeline.WithTimeouts(
			config.Seconds(cfg.GenerateTimeoutSeconds),
			config.Seconds(cfg.SpeakTimeoutSeconds),
			config.Seconds(cfg.ShutdownTimeoutSeconds)),
		pipeline.WithAnticipation(cfg.AnticipationEnabled),
		pipeline.WithLogger(logger),
	)
	return p
}
