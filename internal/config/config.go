package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the dictation engine
type Config struct {
	// Server configuration
	Port string `envconfig:"PORT" default:"8080"`

	// Transcription backend selection: deepgram, openai, exec or mock
	Backend string `envconfig:"BACKEND" default:"deepgram"`

	// Deepgram backend configuration
	DeepgramAPIKey   string `envconfig:"DEEPGRAM_API_KEY" default:""`
	DeepgramModel    string `envconfig:"DEEPGRAM_MODEL" default:"nova-2"` // nova-2, enhanced, base
	DeepgramLanguage string `envconfig:"DEEPGRAM_LANGUAGE" default:"en"`  // Language code (en, es, fr, etc.)

	// OpenAI Whisper backend configuration
	OpenAIAPIKey string `envconfig:"OPENAI_API_KEY" default:""`
	OpenAIModel  string `envconfig:"OPENAI_MODEL" default:"whisper-1"`

	// Exec backend configuration (local recognizer command)
	ExecCommand   string `envconfig:"EXEC_COMMAND" default:""`
	ExecModelPath string `envconfig:"EXEC_MODEL_PATH" default:""`
	ExecLanguage  string `envconfig:"EXEC_LANGUAGE" default:""`

	// Streaming aggregation configuration
	AccumulationIntervalMs int     `envconfig:"ACCUMULATION_INTERVAL_MS" default:"500"` // Interval between backend submissions
	OverlapMs              int     `envconfig:"OVERLAP_MS" default:"150"`               // Audio tail re-submitted with the next window
	MinConfidence          float64 `envconfig:"MIN_CONFIDENCE" default:"0.5"`           // Results below this are discarded
	SilenceTimeoutMs       int     `envconfig:"SILENCE_TIMEOUT_MS" default:"2000"`      // Session ends after this much inactivity
	MaxPartialLength       int     `envconfig:"MAX_PARTIAL_LENGTH" default:"2000"`      // Running text buffer cap in characters

	// Progressive injection configuration
	MinInjectLength     int     `envconfig:"MIN_INJECT_LENGTH" default:"2"`       // Shorter texts are not worth delivering
	DeliveryIntervalMs  int     `envconfig:"DELIVERY_INTERVAL_MS" default:"150"`  // Cadence of the deliver loop
	MaxQueueLength      int     `envconfig:"MAX_QUEUE_LENGTH" default:"50"`       // Pending queue depth, drop-oldest beyond
	CorrectionEnabled   bool    `envconfig:"CORRECTION_ENABLED" default:"true"`   // Erase-and-retype for replaced partials
	InjectMinConfidence float64 `envconfig:"INJECT_MIN_CONFIDENCE" default:"0.5"` // Results below this are not queued
	FinalOnly           bool    `envconfig:"FINAL_ONLY" default:"false"`          // Deliver only final results
	PrefixMergeEnabled  bool    `envconfig:"PREFIX_MERGE_ENABLED" default:"true"` // Collapse growing partials into one item

	// Text delivery sink configuration: ws or log
	Sink          string `envconfig:"SINK" default:"log"`
	SinkURL       string `envconfig:"SINK_URL" default:"ws://localhost:8765/inject"`
	SinkTimeoutMs int    `envconfig:"SINK_TIMEOUT_MS" default:"2000"`

	// Event bridge configuration (optional NATS republisher)
	NATSEnabled       bool   `envconfig:"NATS_ENABLED" default:"false"`
	NATSURL           string `envconfig:"NATS_URL" default:"nats://localhost:4222"`
	NATSSubjectPrefix string `envconfig:"NATS_SUBJECT_PREFIX" default:"dictation.events"`

	// Session audio archive (empty disables WAV capture)
	ArchiveDir string `envconfig:"ARCHIVE_DIR" default:""`

	// Resilience configuration
	RetryMaxAttempts           int `envconfig:"RETRY_MAX_ATTEMPTS" default:"3"`             // Maximum backend retry attempts
	RetryInitialBackoff        int `envconfig:"RETRY_INITIAL_BACKOFF" default:"100"`        // Initial backoff in milliseconds
	CircuitBreakerMaxFailures  int `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`   // Failures before opening circuit
	CircuitBreakerResetTimeout int `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30"` // Seconds before attempting recovery

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`       // Log level: debug, info, warn, error
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`     // Pretty print logs (for development)
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"` // Enable Prometheus metrics
}

// Load reads configuration from environment variables
// It first attempts to load from .env file if it exists, then from environment
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks tunables that would otherwise degrade silently at runtime.
// Misconfiguration is the only fatal error class in the engine; nothing inside
// the steady-state loops is allowed to be.
func (c *Config) Validate() error {
	switch c.Backend {
	case "deepgram":
		if c.DeepgramAPIKey == "" {
			return fmt.Errorf("DEEPGRAM_API_KEY is required for the deepgram backend")
		}
	case "openai":
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is required for the openai backend")
		}
	case "exec":
		if c.ExecCommand == "" {
			return fmt.Errorf("EXEC_COMMAND is required for the exec backend")
		}
	case "mock":
		// No credentials needed
	default:
		return fmt.Errorf("unknown backend %q (supported: deepgram, openai, exec, mock)", c.Backend)
	}

	if c.AccumulationIntervalMs <= 0 {
		return fmt.Errorf("ACCUMULATION_INTERVAL_MS must be positive, got %d", c.AccumulationIntervalMs)
	}
	if c.OverlapMs < 0 || c.OverlapMs >= c.AccumulationIntervalMs {
		return fmt.Errorf("OVERLAP_MS must be in [0, ACCUMULATION_INTERVAL_MS), got %d", c.OverlapMs)
	}
	if c.SilenceTimeoutMs <= 0 {
		return fmt.Errorf("SILENCE_TIMEOUT_MS must be positive, got %d", c.SilenceTimeoutMs)
	}
	if c.MinConfidence < 0 || c.MinConfidence > 1 {
		return fmt.Errorf("MIN_CONFIDENCE must be in [0, 1], got %f", c.MinConfidence)
	}
	if c.InjectMinConfidence < 0 || c.InjectMinConfidence > 1 {
		return fmt.Errorf("INJECT_MIN_CONFIDENCE must be in [0, 1], got %f", c.InjectMinConfidence)
	}
	if c.MaxPartialLength <= 0 {
		return fmt.Errorf("MAX_PARTIAL_LENGTH must be positive, got %d", c.MaxPartialLength)
	}
	if c.DeliveryIntervalMs <= 0 {
		return fmt.Errorf("DELIVERY_INTERVAL_MS must be positive, got %d", c.DeliveryIntervalMs)
	}
	if c.MaxQueueLength <= 0 {
		return fmt.Errorf("MAX_QUEUE_LENGTH must be positive, got %d", c.MaxQueueLength)
	}

	switch c.Sink {
	case "ws", "log":
	default:
		return fmt.Errorf("unknown sink %q (supported: ws, log)", c.Sink)
	}

	return nil
}

// GetEnv returns the value of an environment variable or a default value
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
