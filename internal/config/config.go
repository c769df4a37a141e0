package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the voice intake bridge
type Config struct {
	// Server configuration
	Port string `envconfig:"PORT" default:"8080"`

	// Public host Twilio should connect back to (e.g. xxx.ngrok-free.app).
	// Optional; if unset, the Host header of the incoming-call webhook is used.
	PublicHost string `envconfig:"PUBLIC_HOST" default:""`

	// Spoken by Twilio before the media stream is connected. Empty disables it.
	CallGreeting string `envconfig:"CALL_GREETING" default:""`

	// OpenAI Realtime configuration
	OpenAIAPIKey        string  `envconfig:"OPENAI_API_KEY" required:"true"`
	RealtimeURL         string  `envconfig:"OPENAI_REALTIME_URL" default:"wss://api.openai.com/v1/realtime"`
	RealtimeModel       string  `envconfig:"OPENAI_REALTIME_MODEL" default:"gpt-4o-realtime-preview-2024-10-01"`
	RealtimeVoice       string  `envconfig:"OPENAI_REALTIME_VOICE" default:"alloy"`
	RealtimeTemperature float64 `envconfig:"OPENAI_REALTIME_TEMPERATURE" default:"0.8"`
	TurnDetection       string  `envconfig:"OPENAI_TURN_DETECTION" default:"server_vad"` // server_vad or none
	DialTimeout         int     `envconfig:"OPENAI_DIAL_TIMEOUT" default:"10"`           // seconds

	// WebSocket write deadline for both legs
	WriteTimeout int `envconfig:"WS_WRITE_TIMEOUT" default:"5"` // seconds

	// Upper bound for a single tool call, collaborator I/O included
	ToolTimeout int `envconfig:"TOOL_TIMEOUT" default:"10"` // seconds

	// Geoapify address normalization
	GeoapifyAPIKey string `envconfig:"GEOAPIFY_API_KEY" default:""`
	GeoapifyURL    string `envconfig:"GEOAPIFY_URL" default:"https://api.geoapify.com/v1/geocode/search"`

	// SendGrid confirmation email
	SendGridAPIKey    string   `envconfig:"SENDGRID_API_KEY" default:""`
	EmailFrom         string   `envconfig:"EMAIL_FROM" default:"intake@lexiq.ai"`
	EmailFromName     string   `envconfig:"EMAIL_FROM_NAME" default:"Voice Intake"`
	BookingRecipients []string `envconfig:"EMAIL_RECIPIENTS" default:""`

	// Circuit breaker guarding the realtime dial
	CircuitBreakerMaxFailures  int `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`   // Consecutive dial failures before opening
	CircuitBreakerResetTimeout int `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30"` // Seconds before a trial dial

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

	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load .env file (useful for containerized deployments)
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	if c.OpenAIAPIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is required")
	}
	switch c.TurnDetection {
	case "server_vad", "none":
	default:
		return fmt.Errorf("OPENAI_TURN_DETECTION must be server_vad or none, got %q", c.TurnDetection)
	}
	if c.DialTimeout <= 0 || c.WriteTimeout <= 0 || c.ToolTimeout <= 0 {
		return fmt.Errorf("timeouts must be positive")
	}
	return nil
}

// ManualCommit reports whether the bridge must commit the input audio buffer
// itself because the model does no turn detection.
func (c *Config) ManualCommit() bool {
	return c.TurnDetection == "none"
}

// DialTimeoutDuration returns the realtime dial timeout.
func (c *Config) DialTimeoutDuration() time.Duration {
	return time.Duration(c.DialTimeout) * time.Second
}

// WriteTimeoutDuration returns the per-frame WebSocket write deadline.
func (c *Config) WriteTimeoutDuration() time.Duration {
	return time.Duration(c.WriteTimeout) * time.Second
}

// ToolTimeoutDuration returns the per-tool-call deadline.
func (c *Config) ToolTimeoutDuration() time.Duration {
	return time.Duration(c.ToolTimeout) * time.Second
}

// GetEnv returns the value of an environment variable or a default value
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
