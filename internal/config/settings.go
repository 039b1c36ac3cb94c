// Package config centralises runtime configuration for the shopping copilot
// orchestration core, following the teacher's functional-options Settings
// tree (see DESIGN.md).
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Environment identifies the runtime environment the copilot operates in.
type Environment string

const (
	EnvDev     Environment = "dev"
	EnvStaging Environment = "staging"
	EnvProd    Environment = "prod"
)

// Timeouts collects the default operation timeouts from spec §5.
type Timeouts struct {
	Operation        time.Duration
	Navigation       time.Duration
	ModalWaitPerTry  time.Duration
	CartUpdateWait   time.Duration
	KeepAlive        time.Duration
	ObserverDebounce time.Duration
	ScannerInterval  time.Duration
}

// DefaultTimeouts returns the default timeout values named in spec §5.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Operation:        5 * time.Second,
		Navigation:       30 * time.Second,
		ModalWaitPerTry:  1 * time.Second,
		CartUpdateWait:   3 * time.Second,
		KeepAlive:        60 * time.Second,
		ObserverDebounce: 50 * time.Millisecond,
		ScannerInterval:  500 * time.Millisecond,
	}
}

// StorePaths locates the file-backed stores described in spec §6.
type StorePaths struct {
	SessionsDir       string
	PreferencesDir    string
	SelectorRegistry  string
	PopupPatternsFile string
	OrderCacheDir     string
}

// DefaultStorePaths returns the default on-disk layout.
func DefaultStorePaths() StorePaths {
	return StorePaths{
		SessionsDir:       "data/sessions",
		PreferencesDir:    "data/preferences",
		SelectorRegistry:  "data/registry",
		PopupPatternsFile: "data/popup-patterns.yaml",
		OrderCacheDir:     "data/order-cache",
	}
}

// LLMSettings configures the optional Anthropic-family LLM adapter.
type LLMSettings struct {
	Model              string
	MaxTokens          int
	Temperature        float64
	RequestTimeout     time.Duration
	CircuitThreshold   int
	CircuitResetPeriod time.Duration
}

// DefaultLLMSettings returns the default LLM adapter configuration.
func DefaultLLMSettings() LLMSettings {
	return LLMSettings{
		Model:              "claude-3-5-haiku-latest",
		MaxTokens:          1024,
		Temperature:        0.2,
		RequestTimeout:     10 * time.Second,
		CircuitThreshold:   3,
		CircuitResetPeriod: 30 * time.Second,
	}
}

// HistoryArchiveSettings configures the optional Postgres run-history
// archive. Migrations are embedded (db/migrations, via go:embed) rather
// than loaded from a filesystem path, so there is no MigrationsPath here.
type HistoryArchiveSettings struct {
	Enabled        bool
	DSN            string
	ConnectTimeout time.Duration
}

// DefaultHistoryArchiveSettings returns the default (disabled) archive config.
func DefaultHistoryArchiveSettings() HistoryArchiveSettings {
	return HistoryArchiveSettings{
		Enabled:        false,
		DSN:            "",
		ConnectTimeout: 5 * time.Second,
	}
}

// Settings is the full configuration tree built from defaults (Default) and
// environment overrides (FromEnv).
type Settings struct {
	Environment    Environment
	Timeouts       Timeouts
	Stores         StorePaths
	LLM            LLMSettings
	HistoryArchive HistoryArchiveSettings
	OrderCacheTTL  time.Duration
}

// Default returns the default copilot configuration.
func Default() Settings {
	return Settings{
		Environment:    EnvProd,
		Timeouts:       DefaultTimeouts(),
		Stores:         DefaultStorePaths(),
		LLM:            DefaultLLMSettings(),
		HistoryArchive: DefaultHistoryArchiveSettings(),
		OrderCacheTTL:  24 * time.Hour,
	}
}

// FromEnv loads configuration values from environment variables, overriding
// defaults. Mirrors the teacher's config.FromEnv layering.
func FromEnv() Settings {
	cfg := Default()
	if env := strings.TrimSpace(os.Getenv("COPILOT_ENV")); env != "" {
		cfg.Environment = Environment(strings.ToLower(env))
	}
	if v := strings.TrimSpace(os.Getenv("COPILOT_SESSIONS_DIR")); v != "" {
		cfg.Stores.SessionsDir = v
	}
	if v := strings.TrimSpace(os.Getenv("COPILOT_REGISTRY_DIR")); v != "" {
		cfg.Stores.SelectorRegistry = v
	}
	if v := strings.TrimSpace(os.Getenv("COPILOT_POPUP_PATTERNS_FILE")); v != "" {
		cfg.Stores.PopupPatternsFile = v
	}
	if v := strings.TrimSpace(os.Getenv("ANTHROPIC_MODEL")); v != "" {
		cfg.LLM.Model = v
	}
	if v := strings.TrimSpace(os.Getenv("COPILOT_HISTORY_DSN")); v != "" {
		cfg.HistoryArchive.DSN = v
		cfg.HistoryArchive.Enabled = true
	}
	if v := strings.TrimSpace(os.Getenv("COPILOT_ORDER_CACHE_TTL")); v != "" {
		if dur, err := time.ParseDuration(v); err == nil {
			cfg.OrderCacheTTL = dur
		}
	}
	if v := strings.TrimSpace(os.Getenv("COPILOT_MAX_TOKENS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.LLM.MaxTokens = n
		}
	}
	return cfg
}

// Option mutates Settings when applied via Apply.
type Option func(*Settings)

// Apply applies the provided Option set to a copy of the base Settings.
func Apply(base Settings, opts ...Option) Settings {
	cfg := base
	cfg.Stores = base.Stores
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return cfg
}

// WithEnvironment configures the top-level environment.
func WithEnvironment(env Environment) Option {
	return func(s *Settings) {
		if env != "" {
			s.Environment = env
		}
	}
}

// WithSessionsDir overrides the session store directory.
func WithSessionsDir(dir string) Option {
	dir = strings.TrimSpace(dir)
	return func(s *Settings) {
		if dir != "" {
			s.Stores.SessionsDir = dir
		}
	}
}

// WithLLMModel overrides the configured Anthropic-family model id.
func WithLLMModel(model string) Option {
	model = strings.TrimSpace(model)
	return func(s *Settings) {
		if model != "" {
			s.LLM.Model = model
		}
	}
}

// WithHistoryArchiveDSN enables the Postgres run-history archive with the
// given connection string.
func WithHistoryArchiveDSN(dsn string) Option {
	dsn = strings.TrimSpace(dsn)
	return func(s *Settings) {
		if dsn == "" {
			return
		}
		s.HistoryArchive.DSN = dsn
		s.HistoryArchive.Enabled = true
	}
}

// WithOrderCacheTTL overrides the order-history cache TTL.
func WithOrderCacheTTL(ttl time.Duration) Option {
	return func(s *Settings) {
		if ttl > 0 {
			s.OrderCacheTTL = ttl
		}
	}
}
