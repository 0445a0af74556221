package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Progress policies for the workflow progress aggregator
const (
	ProgressModeImmediate = "immediate"
	ProgressModeDebounced = "debounced"
)

// Config represents the application configuration
type Config struct {
	Environment string         `toml:"environment"` // "development" or "production"
	Server      ServerConfig   `toml:"server"`
	Relay       RelayConfig    `toml:"relay"`
	Backend     BackendConfig  `toml:"backend"`
	Workflow    WorkflowConfig `toml:"workflow"`
	Storage     StorageConfig  `toml:"storage"`
	Logging     LoggingConfig  `toml:"logging"`
}

type ServerConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

// RelayConfig configures the WebSocket connection to the event relay
type RelayConfig struct {
	URL               string `toml:"url"`                // e.g. "ws://localhost:3100/ws"
	ReconnectInterval string `toml:"reconnect_interval"` // Minimum time between dial attempts (default: "2s")
	PingInterval      string `toml:"ping_interval"`      // Keepalive ping period (default: "30s")
	HandshakeTimeout  string `toml:"handshake_timeout"`  // Dial handshake timeout (default: "10s")
	WriteTimeout      string `toml:"write_timeout"`      // Per-frame write deadline (default: "5s")
}

// BackendConfig configures the job-start API of the automation gateway
type BackendConfig struct {
	BaseURL      string `toml:"base_url"`      // e.g. "http://localhost:8000"
	PreCheckPath string `toml:"precheck_path"` // default "/api/operations/pre-check"
	ExecutePath  string `toml:"execute_path"`  // default "/api/operations/execute"
	Timeout      string `toml:"timeout"`       // HTTP timeout (default: "30s")
	RateLimit    int    `toml:"rate_limit"`    // Requests per second (default: 5)
}

// WorkflowConfig tunes the stream-processing core
type WorkflowConfig struct {
	ProgressMode           string `toml:"progress_mode"`            // "immediate" or "debounced" (default)
	DebounceWindow         string `toml:"debounce_window"`          // Debounced-max window (default: "100ms")
	SettleDelay            string `toml:"settle_delay"`             // Delay before automatic phase advance (default: "1500ms")
	DedupCapacity          int    `toml:"dedup_capacity"`           // Max signatures kept per job (default: 4096)
	MaxLogEntries          int    `toml:"max_log_entries"`          // Log history cap, oldest dropped first (default: 2000)
	TextCompletionFallback bool   `toml:"text_completion_fallback"` // Derive job outcome from "Succeeded: X, Failed: Y" text
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Enabled        bool   `toml:"enabled"`          // Persist job history
	Path           string `toml:"path"`             // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete database on startup for clean test runs
}

type LoggingConfig struct {
	Level      string   `toml:"level"`       // "debug", "info", "warn", "error"
	Output     []string `toml:"output"`      // "stdout", "file"
	TimeFormat string   `toml:"time_format"` // Time format for logs (default: "15:04:05.000")
}

// NewDefaultConfig creates a configuration with default values
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port: 8086,
			Host: "localhost",
		},
		Relay: RelayConfig{
			URL:               "ws://localhost:3100/ws",
			ReconnectInterval: "2s",
			PingInterval:      "30s",
			HandshakeTimeout:  "10s",
			WriteTimeout:      "5s",
		},
		Backend: BackendConfig{
			BaseURL:      "http://localhost:8000",
			PreCheckPath: "/api/operations/pre-check",
			ExecutePath:  "/api/operations/execute",
			Timeout:      "30s",
			RateLimit:    5,
		},
		Workflow: WorkflowConfig{
			ProgressMode:           ProgressModeDebounced,
			DebounceWindow:         "100ms",
			SettleDelay:            "1500ms",
			DedupCapacity:          4096,
			MaxLogEntries:          2000,
			TextCompletionFallback: true,
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Enabled: true,
				Path:    "./data/opsdeck",
			},
		},
		Logging: LoggingConfig{
			Level:      "info",
			Output:     []string{"stdout", "file"},
			TimeFormat: "15:04:05.000",
		},
	}
}

// LoadFromFiles loads configuration from multiple files with priority: default -> file1 -> file2 -> ... -> env
// Later files override earlier files. CLI flags are applied afterwards by ApplyFlagOverrides.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		// Unmarshal into config (merges with existing values, later values override)
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	return config, nil
}

// applyEnvOverrides applies OPSDECK_* environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("OPSDECK_ENV"); env != "" {
		config.Environment = env
	}

	// Server configuration
	if port := os.Getenv("OPSDECK_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("OPSDECK_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}

	// Relay and backend endpoints
	if url := os.Getenv("OPSDECK_RELAY_URL"); url != "" {
		config.Relay.URL = url
	}
	if url := os.Getenv("OPSDECK_BACKEND_URL"); url != "" {
		config.Backend.BaseURL = url
	}

	// Workflow configuration
	if mode := os.Getenv("OPSDECK_PROGRESS_MODE"); mode != "" {
		config.Workflow.ProgressMode = mode
	}
	if delay := os.Getenv("OPSDECK_SETTLE_DELAY"); delay != "" {
		config.Workflow.SettleDelay = delay
	}
	if fallback := os.Getenv("OPSDECK_TEXT_COMPLETION_FALLBACK"); fallback != "" {
		if b, err := strconv.ParseBool(fallback); err == nil {
			config.Workflow.TextCompletionFallback = b
		}
	}

	// Storage configuration
	if badgerPath := os.Getenv("OPSDECK_BADGER_PATH"); badgerPath != "" {
		config.Storage.Badger.Path = badgerPath
	}
	if enabled := os.Getenv("OPSDECK_BADGER_ENABLED"); enabled != "" {
		if b, err := strconv.ParseBool(enabled); err == nil {
			config.Storage.Badger.Enabled = b
		}
	}

	// Logging configuration
	if level := os.Getenv("OPSDECK_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if output := os.Getenv("OPSDECK_LOG_OUTPUT"); output != "" {
		outputs := []string{}
		for _, o := range strings.Split(output, ",") {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				outputs = append(outputs, trimmed)
			}
		}
		if len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}
}

// ApplyFlagOverrides applies command-line flag overrides (highest priority)
func ApplyFlagOverrides(config *Config, port int, host string) {
	if port != 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

// Validate checks values that cannot be defaulted
func (c *Config) Validate() error {
	switch c.Workflow.ProgressMode {
	case ProgressModeImmediate, ProgressModeDebounced:
	default:
		return fmt.Errorf("invalid workflow.progress_mode %q (want %q or %q)",
			c.Workflow.ProgressMode, ProgressModeImmediate, ProgressModeDebounced)
	}
	if c.Relay.URL == "" {
		return fmt.Errorf("relay.url is required")
	}
	if c.Backend.BaseURL == "" {
		return fmt.Errorf("backend.base_url is required")
	}
	return nil
}

// IsProduction returns true when running in production environment
func (c *Config) IsProduction() bool {
	env := strings.ToLower(c.Environment)
	return env == "production" || env == "prod"
}

// ParseDuration parses a duration string, returning fallback for empty or invalid values
func ParseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return fallback
	}
	return d
}
