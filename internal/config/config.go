package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Classifier modes.
const (
	ModeRemote = "remote"
	ModeStatic = "static"
	ModeChain  = "chain"
)

// Config holds all configuration for the navigation guard.
type Config struct {
	// CDP connection settings
	CDPAddress string
	CDPPort    int

	// Browser launch
	LaunchBrowser     bool
	BrowserProfileDir string
	BrowserBinary     string

	// HTTP API
	BindAddr         string
	PortCandidates   []string
	PortAutoFallback bool

	// Classification
	ClassifierMode    string
	ClassifierURL     string
	ClassifierTimeout time.Duration
	BlocklistFile     string
	FailClosed        bool

	// Redirect and record lifecycle
	WarningURL      string
	RedirectTimeout time.Duration
	IdleTTL         time.Duration
	SweepInterval   time.Duration

	// Logging and sinks
	LogLevel      string
	LogFile       string
	EventLogDir   string
	EventLogMaxMB int
	NotifyURL     string
}

// Load reads configuration from environment variables and optional .env file.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}

	cfg := &Config{
		CDPAddress:        getEnvOrDefault("CHROMIUM_CDP_ADDRESS", "127.0.0.1"),
		CDPPort:           getEnvIntOrDefault("CHROMIUM_CDP_PORT", 9220),
		LaunchBrowser:     getEnvBoolOrDefault("GUARD_LAUNCH_BROWSER", false),
		BrowserProfileDir: getEnvOrDefault("GUARD_BROWSER_PROFILE_DIR", "./browser_profile"),
		BrowserBinary:     getEnvOrDefault("GUARD_BROWSER_BINARY", ""),
		BindAddr:          getEnvOrDefault("GUARD_BIND_ADDR", "127.0.0.1:8190"),
		PortCandidates:    getEnvListOrDefault("GUARD_PORT_CANDIDATES", []string{"127.0.0.1:8191", "127.0.0.1:8192"}),
		PortAutoFallback:  getEnvBoolOrDefault("GUARD_PORT_AUTO_FALLBACK", true),
		ClassifierMode:    strings.ToLower(getEnvOrDefault("GUARD_CLASSIFIER_MODE", ModeRemote)),
		ClassifierURL:     getEnvOrDefault("GUARD_CLASSIFIER_URL", "http://127.0.0.1:8000/check-url"),
		ClassifierTimeout: time.Duration(getEnvIntOrDefault("GUARD_CLASSIFIER_TIMEOUT_MS", 3000)) * time.Millisecond,
		BlocklistFile:     getEnvOrDefault("GUARD_BLOCKLIST_FILE", ""),
		FailClosed:        getEnvBoolOrDefault("GUARD_FAIL_CLOSED", false),
		WarningURL:        getEnvOrDefault("GUARD_WARNING_URL", ""),
		RedirectTimeout:   time.Duration(getEnvIntOrDefault("GUARD_REDIRECT_TIMEOUT_MS", 5000)) * time.Millisecond,
		IdleTTL:           getEnvDurationOrDefault("GUARD_IDLE_TTL", 30*time.Minute),
		SweepInterval:     getEnvDurationOrDefault("GUARD_SWEEP_INTERVAL", time.Minute),
		LogLevel:          strings.ToLower(getEnvOrDefault("GUARD_LOG_LEVEL", "info")),
		LogFile:           getEnvOrDefault("GUARD_LOG_FILE", "logs/navguard.log"),
		EventLogDir:       getEnvOrDefault("GUARD_EVENT_LOG_DIR", ""),
		EventLogMaxMB:     getEnvIntOrDefault("GUARD_EVENT_LOG_MAX_MB", 100),
		NotifyURL:         getEnvOrDefault("GUARD_NOTIFY_URL", ""),
	}

	if cfg.ClassifierTimeout < 100*time.Millisecond {
		cfg.ClassifierTimeout = 100 * time.Millisecond
	}
	if cfg.RedirectTimeout < 500*time.Millisecond {
		cfg.RedirectTimeout = 500 * time.Millisecond
	}
	if cfg.IdleTTL < 0 {
		cfg.IdleTTL = 0
	}
	if cfg.SweepInterval < time.Second {
		cfg.SweepInterval = time.Second
	}
	if cfg.EventLogMaxMB < 1 {
		cfg.EventLogMaxMB = 1
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.ClassifierMode {
	case ModeRemote, ModeStatic, ModeChain:
	default:
		return fmt.Errorf("GUARD_CLASSIFIER_MODE must be one of remote, static, chain: got %q", c.ClassifierMode)
	}
	if c.ClassifierMode != ModeRemote && c.BlocklistFile == "" {
		return fmt.Errorf("GUARD_BLOCKLIST_FILE is required for classifier mode %q", c.ClassifierMode)
	}
	if c.ClassifierMode != ModeStatic && c.ClassifierURL == "" {
		return errors.New("GUARD_CLASSIFIER_URL is required when the remote classifier is used")
	}
	if c.CDPPort <= 0 || c.CDPPort > 65535 {
		return fmt.Errorf("CHROMIUM_CDP_PORT out of range: %d", c.CDPPort)
	}
	return nil
}

// CDPURL returns the CDP HTTP endpoint, e.g. "http://127.0.0.1:9220".
func (c *Config) CDPURL() string {
	return "http://" + net.JoinHostPort(c.CDPAddress, strconv.Itoa(c.CDPPort))
}

// ResolveWarningURL returns the configured warning page, or the built-in
// /blocked page on the address the API actually bound.
func (c *Config) ResolveWarningURL(bindAddr string) string {
	if c.WarningURL != "" {
		return c.WarningURL
	}
	return "http://" + bindAddr + "/blocked"
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvIntOrDefault(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBoolOrDefault(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvDurationOrDefault(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

func getEnvListOrDefault(key string, defaultVal []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
