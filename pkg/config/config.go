package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

const envPrefix = "MEDIA_ANALYZER_"

type Config struct {
	Server    ServerConfig    `toml:"server"`
	Pipeline  PipelineConfig  `toml:"pipeline"`
	Storage   StorageConfig   `toml:"storage"`
	Gemini    GeminiConfig    `toml:"gemini"`
	Capture   CaptureConfig   `toml:"capture"`
	Recorder  RecorderConfig  `toml:"recorder"`
	Transport TransportConfig `toml:"transport"`
	Session   SessionConfig   `toml:"session"`
	Log       LogConfig       `toml:"log"`
}

type ServerConfig struct {
	Address         string        `toml:"address"`
	ReadTimeout     time.Duration `toml:"read_timeout"`
	WriteTimeout    time.Duration `toml:"write_timeout"`
	ShutdownTimeout time.Duration `toml:"shutdown_timeout"`
	MaxUploadBytes  int64         `toml:"max_upload_bytes"`
}

type PipelineConfig struct {
	ValidationWorkers int           `toml:"validation_workers"`
	AnalysisWorkers   int           `toml:"analysis_workers"`
	StorageWorkers    int           `toml:"storage_workers"`
	QueueSize         int           `toml:"queue_size"`
	ProcessingTimeout time.Duration `toml:"processing_timeout"`
	MaxChunkBytes     int           `toml:"max_chunk_bytes"`
}

type StorageConfig struct {
	Driver string `toml:"driver"` // memory, badger or sqlite
	Path   string `toml:"path"`
}

type GeminiConfig struct {
	APIKey          string        `toml:"api_key"`
	BaseURL         string        `toml:"base_url"`
	Model           string        `toml:"model"`
	InlineLimit     int           `toml:"inline_limit"`
	PollInterval    time.Duration `toml:"poll_interval"`
	MaxPollAttempts int           `toml:"max_poll_attempts"`
	RequestTimeout  time.Duration `toml:"request_timeout"`
}

type CaptureConfig struct {
	Backend      string `toml:"backend"` // ffmpeg or portaudio (audio only)
	FFmpeg       string `toml:"ffmpeg"`
	AudioFormat  string `toml:"audio_format"`
	AudioDevice  string `toml:"audio_device"`
	ScreenFormat string `toml:"screen_format"`
	ScreenDevice string `toml:"screen_device"`
	FrameRate    int    `toml:"frame_rate"`
	SampleRate   int    `toml:"sample_rate"`
	Channels     int    `toml:"channels"`
}

type RecorderConfig struct {
	Timeslice          time.Duration `toml:"timeslice"`
	AggregateThreshold time.Duration `toml:"aggregate_threshold"`
}

// AggregateSlices is the number of timeslices that make one chunk. Zero
// means a single chunk is produced when the recorder stops.
func (r RecorderConfig) AggregateSlices() int {
	if r.AggregateThreshold <= 0 || r.Timeslice <= 0 {
		return 0
	}
	n := int(r.AggregateThreshold / r.Timeslice)
	if n < 1 {
		n = 1
	}
	return n
}

type TransportConfig struct {
	Mode           string        `toml:"mode"` // ws or http
	ServerURL      string        `toml:"server_url"`
	MaxRetries     int           `toml:"max_retries"`
	InitialBackoff time.Duration `toml:"initial_backoff"`
	WriteTimeout   time.Duration `toml:"write_timeout"`
}

type SessionConfig struct {
	MaxDuration     time.Duration `toml:"max_duration"`
	ResultGrace     time.Duration `toml:"result_grace"`
	ContextMode     string        `toml:"context_mode"` // latest or accumulate
	MaxContextBytes int           `toml:"max_context_bytes"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // console, text or json
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Address:         ":8000",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    3 * time.Minute,
			ShutdownTimeout: 30 * time.Second,
			MaxUploadBytes:  32 << 20,
		},
		Pipeline: PipelineConfig{
			ValidationWorkers: 2,
			AnalysisWorkers:   4,
			StorageWorkers:    2,
			QueueSize:         256,
			ProcessingTimeout: 2 * time.Minute,
			MaxChunkBytes:     20 << 20,
		},
		Storage: StorageConfig{
			Driver: "badger",
			Path:   "./data",
		},
		Gemini: GeminiConfig{
			BaseURL:         "https://generativelanguage.googleapis.com",
			Model:           "gemini-1.5-flash",
			InlineLimit:     15 << 20,
			PollInterval:    2 * time.Second,
			MaxPollAttempts: 30,
			RequestTimeout:  90 * time.Second,
		},
		Capture: CaptureConfig{
			Backend:      "ffmpeg",
			FFmpeg:       "ffmpeg",
			AudioFormat:  "pulse",
			AudioDevice:  "default",
			ScreenFormat: "x11grab",
			ScreenDevice: ":0.0",
			FrameRate:    5,
			SampleRate:   16000,
			Channels:     1,
		},
		Recorder: RecorderConfig{
			Timeslice:          time.Second,
			AggregateThreshold: 15 * time.Second,
		},
		Transport: TransportConfig{
			Mode:           "ws",
			ServerURL:      "http://localhost:8000",
			MaxRetries:     2,
			InitialBackoff: 500 * time.Millisecond,
			WriteTimeout:   10 * time.Second,
		},
		Session: SessionConfig{
			MaxDuration:     10 * time.Minute,
			ResultGrace:     30 * time.Second,
			ContextMode:     "latest",
			MaxContextBytes: 8 << 10,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load resolves configuration from defaults, an optional TOML file, a .env
// file in the working directory and finally environment variables.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Server.Address = envOrDefault("ADDRESS", c.Server.Address)

	c.Storage.Driver = envOrDefault("STORAGE_DRIVER", c.Storage.Driver)
	c.Storage.Path = envOrDefault("STORAGE_PATH", c.Storage.Path)

	c.Gemini.APIKey = firstNonEmpty(os.Getenv("GEMINI_API_KEY"), os.Getenv("API_KEY"), c.Gemini.APIKey)
	c.Gemini.BaseURL = envOrDefault("GEMINI_BASE_URL", c.Gemini.BaseURL)
	c.Gemini.Model = envOrDefault("GEMINI_MODEL", c.Gemini.Model)

	c.Capture.Backend = envOrDefault("CAPTURE_BACKEND", c.Capture.Backend)
	c.Capture.FFmpeg = envOrDefault("FFMPEG", c.Capture.FFmpeg)
	c.Capture.AudioFormat = envOrDefault("AUDIO_FORMAT", c.Capture.AudioFormat)
	c.Capture.AudioDevice = envOrDefault("AUDIO_DEVICE", c.Capture.AudioDevice)
	c.Capture.ScreenFormat = envOrDefault("SCREEN_FORMAT", c.Capture.ScreenFormat)
	c.Capture.ScreenDevice = envOrDefault("SCREEN_DEVICE", c.Capture.ScreenDevice)

	c.Recorder.Timeslice = envOrDefaultDuration("TIMESLICE", c.Recorder.Timeslice)
	c.Recorder.AggregateThreshold = envOrDefaultDuration("AGGREGATE_THRESHOLD", c.Recorder.AggregateThreshold)

	c.Transport.Mode = envOrDefault("TRANSPORT", c.Transport.Mode)
	c.Transport.ServerURL = envOrDefault("SERVER_URL", c.Transport.ServerURL)
	c.Transport.MaxRetries = envOrDefaultInt("MAX_RETRIES", c.Transport.MaxRetries)

	c.Session.MaxDuration = envOrDefaultDuration("MAX_DURATION", c.Session.MaxDuration)
	c.Session.ContextMode = envOrDefault("CONTEXT_MODE", c.Session.ContextMode)

	c.Log.Level = envOrDefault("LOG_LEVEL", c.Log.Level)
	c.Log.Format = envOrDefault("LOG_FORMAT", c.Log.Format)
}

// Validate rejects settings the components cannot run with.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "memory", "badger", "sqlite":
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	switch c.Transport.Mode {
	case "ws", "http":
	default:
		return fmt.Errorf("unknown transport mode %q", c.Transport.Mode)
	}
	switch c.Capture.Backend {
	case "ffmpeg", "portaudio":
	default:
		return fmt.Errorf("unknown capture backend %q", c.Capture.Backend)
	}
	switch c.Session.ContextMode {
	case "latest", "accumulate":
	default:
		return fmt.Errorf("unknown context mode %q", c.Session.ContextMode)
	}
	if c.Recorder.Timeslice <= 0 {
		return errors.New("recorder timeslice must be positive")
	}
	if c.Transport.MaxRetries < 0 {
		return errors.New("transport max_retries must not be negative")
	}
	if c.Pipeline.QueueSize <= 0 {
		return errors.New("pipeline queue_size must be positive")
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func envOrDefault(key string, fallback string) string {
	value := strings.TrimSpace(os.Getenv(envPrefix + key))
	if value == "" {
		return fallback
	}
	return value
}

func envOrDefaultInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(envPrefix + key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envOrDefaultDuration(key string, fallback time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(envPrefix + key))
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}
