package config

import (
	"bufio"
	"crypto/rand"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	defaultEnvFile          = ".env"
	defaultEnvironment      = "local"
	defaultHTTPAddr         = ":8080"
	defaultReadTimeout      = 15 * time.Second
	defaultWriteTimeout     = 30 * time.Second
	defaultIdleTimeout      = 120 * time.Second
	defaultShutdownTimeout  = 10 * time.Second
	defaultRequestTimeout   = 30 * time.Second
	defaultSessionCookie    = "giftlens_session"
	defaultSessionIdle      = 30 * time.Minute
	defaultSessionLifetime  = 12 * time.Hour
	defaultCookieMaxLength  = 4096
	defaultBudget           = 300.0
	defaultWishlistQuota    = 64 << 10
	defaultAnalysisInterval = 1500 * time.Millisecond
	defaultLogLevel         = "info"
	defaultLogMaxSizeMB     = 50
	defaultLogMaxBackups    = 3
	defaultLogMaxAgeDays    = 14

	productionEnvironment = "prod"
	minHashKeyLength      = 32
)

// Config captures the runtime configuration of the storefront organised by concern.
type Config struct {
	Environment string
	Server      ServerConfig
	Session     SessionConfig
	Wishlist    WishlistConfig
	Analysis    AnalysisConfig
	Log         LogConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	RequestTimeout  time.Duration
}

// SessionConfig configures the signed session cookie that identifies the visitor.
type SessionConfig struct {
	CookieName   string
	HashKey      []byte
	BlockKey     []byte
	CookieSecure bool
	IdleTimeout  time.Duration
	Lifetime     time.Duration
	MaxLength    int
	// Ephemeral is set when keys were generated at load time because none were configured.
	Ephemeral bool
}

// WishlistConfig holds wishlist defaults.
type WishlistConfig struct {
	DefaultBudget float64
	// Quota bounds the bytes one session may store server side.
	Quota int
}

// AnalysisConfig controls the mock analysis progress runner.
type AnalysisConfig struct {
	Interval time.Duration
}

// LogConfig configures the zap logger and its optional rotated file sink.
type LogConfig struct {
	Level      string
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// IsProduction reports whether the service runs in the production environment.
func (c Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, productionEnvironment)
}

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile      string
	envMap       map[string]string
	useSystemEnv bool
}

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap injects an explicit key/value map for environment lookups. Values in the map
// take precedence over system environment variables.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv disables reading from the process environment, relying only on provided maps and .env files.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// Load assembles the configuration by combining defaults, .env overrides, the process
// environment and an explicit env map (in increasing precedence).
func Load(opts ...Option) (Config, error) {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
	}
	for _, opt := range opts {
		opt(&options)
	}

	dotEnvValues, err := loadDotEnv(options.envFile)
	if err != nil {
		return Config{}, err
	}

	lookup := func(key string) (string, bool) {
		if options.envMap != nil {
			if value, ok := options.envMap[key]; ok {
				return value, true
			}
		}
		if options.useSystemEnv {
			if value, ok := os.LookupEnv(key); ok {
				return value, true
			}
		}
		if dotEnvValues != nil {
			if value, ok := dotEnvValues[key]; ok {
				return value, true
			}
		}
		return "", false
	}

	cfg := Config{
		Environment: strings.ToLower(stringWithDefault(lookup, "GIFTLENS_ENV", defaultEnvironment)),
		Server: ServerConfig{
			Addr:            stringWithDefault(lookup, "GIFTLENS_HTTP_ADDR", defaultHTTPAddr),
			ReadTimeout:     durationWithDefault(lookup, "GIFTLENS_HTTP_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout:    durationWithDefault(lookup, "GIFTLENS_HTTP_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:     durationWithDefault(lookup, "GIFTLENS_HTTP_IDLE_TIMEOUT", defaultIdleTimeout),
			ShutdownTimeout: durationWithDefault(lookup, "GIFTLENS_HTTP_SHUTDOWN_TIMEOUT", defaultShutdownTimeout),
			RequestTimeout:  durationWithDefault(lookup, "GIFTLENS_HTTP_REQUEST_TIMEOUT", defaultRequestTimeout),
		},
		Session: SessionConfig{
			CookieName:   stringWithDefault(lookup, "GIFTLENS_SESSION_COOKIE", defaultSessionCookie),
			HashKey:      []byte(stringWithDefault(lookup, "GIFTLENS_SESSION_HASH_KEY", "")),
			BlockKey:     []byte(stringWithDefault(lookup, "GIFTLENS_SESSION_BLOCK_KEY", "")),
			IdleTimeout:  durationWithDefault(lookup, "GIFTLENS_SESSION_IDLE_TIMEOUT", defaultSessionIdle),
			Lifetime:     durationWithDefault(lookup, "GIFTLENS_SESSION_LIFETIME", defaultSessionLifetime),
			MaxLength:    intWithDefault(lookup, "GIFTLENS_COOKIE_MAX_LENGTH", defaultCookieMaxLength),
			CookieSecure: false,
		},
		Wishlist: WishlistConfig{
			DefaultBudget: floatWithDefault(lookup, "GIFTLENS_DEFAULT_BUDGET", defaultBudget),
			Quota:         intWithDefault(lookup, "GIFTLENS_WISHLIST_QUOTA", defaultWishlistQuota),
		},
		Analysis: AnalysisConfig{
			Interval: durationWithDefault(lookup, "GIFTLENS_ANALYSIS_INTERVAL", defaultAnalysisInterval),
		},
		Log: LogConfig{
			Level:      stringWithDefault(lookup, "GIFTLENS_LOG_LEVEL", defaultLogLevel),
			File:       stringWithDefault(lookup, "GIFTLENS_LOG_FILE", ""),
			MaxSizeMB:  intWithDefault(lookup, "GIFTLENS_LOG_MAX_SIZE_MB", defaultLogMaxSizeMB),
			MaxBackups: intWithDefault(lookup, "GIFTLENS_LOG_MAX_BACKUPS", defaultLogMaxBackups),
			MaxAgeDays: intWithDefault(lookup, "GIFTLENS_LOG_MAX_AGE_DAYS", defaultLogMaxAgeDays),
		},
	}
	cfg.Session.CookieSecure = boolWithDefault(lookup, "GIFTLENS_SESSION_COOKIE_SECURE", cfg.IsProduction())

	if len(cfg.Session.HashKey) == 0 && !cfg.IsProduction() {
		key, err := randomKey(minHashKeyLength)
		if err != nil {
			return Config{}, fmt.Errorf("config: generate session key: %w", err)
		}
		cfg.Session.HashKey = key
		cfg.Session.Ephemeral = true
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validateConfig(cfg Config) error {
	var missing []string

	if strings.TrimSpace(cfg.Server.Addr) == "" {
		missing = append(missing, "Server.Addr")
	}
	if len(cfg.Session.HashKey) < minHashKeyLength {
		missing = append(missing, "Session.HashKey")
	}
	switch len(cfg.Session.BlockKey) {
	case 0, 16, 24, 32:
	default:
		missing = append(missing, "Session.BlockKey")
	}
	if cfg.Session.MaxLength <= 0 {
		missing = append(missing, "Session.MaxLength")
	}
	if cfg.Session.IdleTimeout <= 0 {
		missing = append(missing, "Session.IdleTimeout")
	}
	if cfg.Session.Lifetime <= 0 {
		missing = append(missing, "Session.Lifetime")
	}
	if cfg.Wishlist.DefaultBudget < 0 {
		missing = append(missing, "Wishlist.DefaultBudget")
	}
	if cfg.Wishlist.Quota <= 0 {
		missing = append(missing, "Wishlist.Quota")
	}
	if cfg.Analysis.Interval <= 0 {
		missing = append(missing, "Analysis.Interval")
	}

	if len(missing) > 0 {
		return &ValidationError{fields: missing}
	}
	return nil
}

func randomKey(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func loadDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}

	file, err := os.Open(absPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", absPath, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	values := make(map[string]string)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		values[key] = strings.Trim(strings.TrimSpace(value), "\"'")
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: failed parsing %s: %w", absPath, err)
	}
	return values, nil
}

func stringWithDefault(lookup func(string) (string, bool), key, fallback string) string {
	if value, ok := lookup(key); ok && value != "" {
		return value
	}
	return fallback
}

func durationWithDefault(lookup func(string) (string, bool), key string, fallback time.Duration) time.Duration {
	if value, ok := lookup(key); ok && value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

func intWithDefault(lookup func(string) (string, bool), key string, fallback int) int {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func floatWithDefault(lookup func(string) (string, bool), key string, fallback float64) float64 {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func boolWithDefault(lookup func(string) (string, bool), key string, fallback bool) bool {
	if value, ok := lookup(key); ok && value != "" {
		switch strings.ToLower(value) {
		case "true", "1", "yes", "on":
			return true
		case "false", "0", "no", "off":
			return false
		}
	}
	return fallback
}
