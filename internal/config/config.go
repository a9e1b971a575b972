// Package config loads go-wayfinder configuration from defaults, an optional
// YAML file, a .env file and the process environment (in that order of
// increasing precedence).
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// PipelineConfig holds the frame-to-narration control knobs.
type PipelineConfig struct {
	SampleStride           int     `yaml:"sample_stride"`
	WindowSize             int     `yaml:"window_size"`
	MinHits                int     `yaml:"min_hits"`
	CooldownSeconds        float64 `yaml:"cooldown_seconds"`
	ForceIntervalSeconds   float64 `yaml:"force_interval_seconds"`
	QueueCapacity          int     `yaml:"queue_capacity"`
	GenerateTimeoutSeconds float64 `yaml:"generate_timeout_seconds"`
	SpeakTimeoutSeconds    float64 `yaml:"speak_timeout_seconds"`
	ShutdownTimeoutSeconds float64 `yaml:"shutdown_timeout_seconds"`
	AnticipationEnabled    bool    `yaml:"anticipation_enabled"`
}

// SourceConfig selects and parameterizes the frame source.
type SourceConfig struct {
	Kind        string  `yaml:"kind"` // camera, browser, webrtc, replay
	CameraIndex int     `yaml:"camera_index"`
	CameraURL   string  `yaml:"camera_url"`
	ReplayDir   string  `yaml:"replay_dir"`
	ReplayFPS   float64 `yaml:"replay_fps"`
	RobotIP     string  `yaml:"robot_ip"`
}

// DetectionConfig parameterizes the object and depth models.
type DetectionConfig struct {
	YOLOModel     string  `yaml:"yolo_model"`
	YOLOThreshold float64 `yaml:"yolo_threshold"`
	DepthModel    string  `yaml:"depth_model"`
}

// DescribeConfig selects narration generators.
type DescribeConfig struct {
	Providers      []string `yaml:"providers"`
	VertexProject  string   `yaml:"vertex_project"`
	VertexLocation string   `yaml:"vertex_location"`
	VertexModel    string   `yaml:"vertex_model"`
	GeminiAPIKey   string   `yaml:"-"`
	GeminiModel    string   `yaml:"gemini_model"`
	GroqAPIKey     string   `yaml:"-"`
	GroqModel      string   `yaml:"groq_model"`
	GroqBaseURL    string   `yaml:"groq_base_url"`
}

// SpeechConfig selects TTS providers and the local player.
type SpeechConfig struct {
	Providers     []string `yaml:"providers"`
	ElevenLabsKey string   `yaml:"-"`
	VoiceID       string   `yaml:"voice_id"`
	OpenAIKey     string   `yaml:"-"`
	OpenAIVoice   string   `yaml:"openai_voice"`
	Player        string   `yaml:"player"` // ffplay, aplay, robot, none
	RobotUser     string   `yaml:"robot_user"`
	RobotPass     string   `yaml:"-"`
}

// WebConfig controls the dashboard.
type WebConfig struct {
	Port int `yaml:"port"`
}

// JournalConfig controls the narration journal.
type JournalConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// Config is the complete application configuration.
type Config struct {
	LogLevel  string          `yaml:"log_level"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Source    SourceConfig    `yaml:"source"`
	Detection DetectionConfig `yaml:"detection"`
	Describe  DescribeConfig  `yaml:"describe"`
	Speech    SpeechConfig    `yaml:"speech"`
	Web       WebConfig       `yaml:"web"`
	Journal   JournalConfig   `yaml:"journal"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Pipeline: PipelineConfig{
			SampleStride:           5,
			WindowSize:             3,
			MinHits:                2,
			CooldownSeconds:        4,
			ForceIntervalSeconds:   10,
			QueueCapacity:          2,
			GenerateTimeoutSeconds: 12,
			SpeakTimeoutSeconds:    30,
			ShutdownTimeoutSeconds: 5,
			AnticipationEnabled:    true,
		},
		Source: SourceConfig{
			Kind:      "camera",
			ReplayFPS: 10,
		},
		Detection: DetectionConfig{
			YOLOModel:     "models/yolov8n.onnx",
			YOLOThreshold: 0.35,
		},
		Describe: DescribeConfig{
			Providers:      []string{"vertex", "summary"},
			VertexLocation: "us-central1",
			VertexModel:    "gemini-2.0-flash",
			GeminiModel:    "gemini-2.0-flash",
			GroqModel:      "llama-3.1-8b-instant",
			GroqBaseURL:    "https://api.groq.com/openai/v1",
		},
		Speech: SpeechConfig{
			Providers:   []string{"elevenlabs"},
			VoiceID:     "21m00Tcm4TlvDq8ikWAM",
			OpenAIVoice: "nova",
			Player:      "ffplay",
			RobotUser:   "pollen",
			RobotPass:   "root",
		},
		Web: WebConfig{Port: 8765},
		Journal: JournalConfig{
			Driver: "sqlite3",
			DSN:    "wayfinder.db",
		},
	}
}

// Load builds the configuration. path may be empty; when set the YAML file
// must exist. A missing .env file is not an error.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := Default()
	if path == "" {
		path = os.Getenv("WAYFINDER_CONFIG")
	}
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	if err := yaml.NewDecoder(f).Decode(c); err != nil {
		return fmt.Errorf("decode config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)

	p := &c.Pipeline
	p.SampleStride = getEnvInt("WAYFINDER_SAMPLE_STRIDE", p.SampleStride)
	p.WindowSize = getEnvInt("WAYFINDER_WINDOW_SIZE", p.WindowSize)
	p.MinHits = getEnvInt("WAYFINDER_MIN_HITS", p.MinHits)
	p.CooldownSeconds = getEnvFloat("WAYFINDER_COOLDOWN_SECONDS", p.CooldownSeconds)
	p.ForceIntervalSeconds = getEnvFloat("WAYFINDER_FORCE_INTERVAL_SECONDS", p.ForceIntervalSeconds)
	p.QueueCapacity = getEnvInt("WAYFINDER_QUEUE_CAPACITY", p.QueueCapacity)
	p.GenerateTimeoutSeconds = getEnvFloat("WAYFINDER_GENERATE_TIMEOUT_SECONDS", p.GenerateTimeoutSeconds)
	p.SpeakTimeoutSeconds = getEnvFloat("WAYFINDER_SPEAK_TIMEOUT_SECONDS", p.SpeakTimeoutSeconds)
	p.ShutdownTimeoutSeconds = getEnvFloat("WAYFINDER_SHUTDOWN_TIMEOUT_SECONDS", p.ShutdownTimeoutSeconds)
	p.AnticipationEnabled = getEnvBool("WAYFINDER_ANI_ENABLED", p.AnticipationEnabled)

	s := &c.Source
	s.Kind = getEnv("WAYFINDER_SOURCE", s.Kind)
	s.CameraIndex = getEnvInt("CAMERA_INDEX", s.CameraIndex)
	s.CameraURL = getEnv("CAMERA_URL", s.CameraURL)
	s.ReplayDir = getEnv("REPLAY_DIR", s.ReplayDir)
	s.ReplayFPS = getEnvFloat("REPLAY_FPS", s.ReplayFPS)
	s.RobotIP = getEnv("ROBOT_IP", s.RobotIP)

	d := &c.Detection
	d.YOLOModel = getEnv("YOLO_MODEL", d.YOLOModel)
	d.YOLOThreshold = getEnvFloat("YOLO_CONF", d.YOLOThreshold)
	d.DepthModel = getEnv("DEPTH_MODEL", d.DepthModel)

	g := &c.Describe
	g.Providers = getEnvList("DESCRIBE_PROVIDER", g.Providers)
	g.VertexProject = getEnv("VERTEX_PROJECT_ID", g.VertexProject)
	g.VertexLocation = getEnv("VERTEX_LOCATION", g.VertexLocation)
	g.VertexModel = getEnv("VERTEX_MODEL", g.VertexModel)
	g.GeminiAPIKey = getEnv("GEMINI_API_KEY", getEnv("GOOGLE_API_KEY", g.GeminiAPIKey))
	g.GeminiModel = getEnv("GEMINI_MODEL", g.GeminiModel)
	g.GroqAPIKey = getEnv("GROQ_API_KEY", g.GroqAPIKey)
	g.GroqModel = getEnv("GROQ_MODEL", g.GroqModel)
	g.GroqBaseURL = getEnv("GROQ_BASE_URL", g.GroqBaseURL)

	sp := &c.Speech
	sp.Providers = getEnvList("TTS_PROVIDER", sp.Providers)
	sp.ElevenLabsKey = getEnv("ELEVENLABS_API_KEY", sp.ElevenLabsKey)
	sp.VoiceID = getEnv("ELEVENLABS_VOICE_ID", sp.VoiceID)
	sp.OpenAIKey = getEnv("OPENAI_API_KEY", sp.OpenAIKey)
	sp.OpenAIVoice = getEnv("OPENAI_TTS_VOICE", sp.OpenAIVoice)
	sp.Player = getEnv("AUDIO_PLAYER", sp.Player)
	sp.RobotUser = getEnv("ROBOT_SSH_USER", sp.RobotUser)
	sp.RobotPass = getEnv("ROBOT_SSH_PASS", sp.RobotPass)

	c.Web.Port = getEnvInt("HTTP_PORT", c.Web.Port)

	c.Journal.Driver = getEnv("JOURNAL_DRIVER", c.Journal.Driver)
	c.Journal.DSN = getEnv("JOURNAL_DSN", c.Journal.DSN)
}

// Validate checks the configuration for values the pipeline cannot run with.
func (c *Config) Validate() error {
	p := c.Pipeline
	switch {
	case p.SampleStride < 1:
		return &ConfigError{Field: "pipeline.sample_stride", Message: "sample stride must be at least 1"}
	case p.WindowSize < 1:
		return &ConfigError{Field: "pipeline.window_size", Message: "window size must be at least 1"}
	case p.MinHits < 1 || p.MinHits > p.WindowSize:
		return &ConfigError{Field: "pipeline.min_hits", Message: "min hits must be between 1 and the window size"}
	case p.CooldownSeconds < 0:
		return &ConfigError{Field: "pipeline.cooldown_seconds", Message: "cooldown cannot be negative"}
	case p.ForceIntervalSeconds < 0:
		return &ConfigError{Field: "pipeline.force_interval_seconds", Message: "force interval cannot be negative"}
	case p.QueueCapacity < 1:
		return &ConfigError{Field: "pipeline.queue_capacity", Message: "queue capacity must be at least 1"}
	}

	switch c.Source.Kind {
	case "camera", "browser":
	case "webrtc":
		if c.Source.RobotIP == "" {
			return &ConfigError{Field: "source.robot_ip", Message: "ROBOT_IP is required for the webrtc source"}
		}
	case "replay":
		if c.Source.ReplayDir == "" {
			return &ConfigError{Field: "source.replay_dir", Message: "REPLAY_DIR is required for the replay source"}
		}
	default:
		return &ConfigError{Field: "source.kind", Message: fmt.Sprintf("unknown source %q", c.Source.Kind)}
	}

	switch c.Speech.Player {
	case "ffplay", "aplay", "none":
	case "robot":
		if c.Source.RobotIP == "" {
			return &ConfigError{Field: "speech.player", Message: "ROBOT_IP is required for robot playback"}
		}
	default:
		return &ConfigError{Field: "speech.player", Message: fmt.Sprintf("unknown player %q", c.Speech.Player)}
	}

	if len(c.Describe.Providers) == 0 {
		return &ConfigError{Field: "describe.providers", Message: "at least one narration provider is required"}
	}
	return nil
}

// Seconds converts a float number of seconds to a duration.
func Seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return e.Field + ": " + e.Message
}

// IsProduction reports whether GO_ENV selects production mode.
func IsProduction() bool {
	return strings.EqualFold(os.Getenv("GO_ENV"), "production")
}
