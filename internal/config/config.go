// Package config loads server configuration from an optional YAML file and
// environment variables. Environment variables take precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/robfig/cron/v3"
)

// Config holds all configuration values for the server.
type Config struct {
	Port     int    `koanf:"port"`
	Env      string `koanf:"env"`
	DataDir  string `koanf:"data_dir"`
	LogLevel string `koanf:"log_level"`

	// Redis backs the distributed rate limiter; empty keeps it in memory.
	RedisAddr     string `koanf:"redis_addr"`
	RedisPassword string `koanf:"redis_password"`
	RedisDB       int    `koanf:"redis_db"`

	IPLimitPerMin   int           `koanf:"ip_limit_per_min"`
	CacheTTL        time.Duration `koanf:"cache_ttl"`
	RefreshSchedule string        `koanf:"refresh_schedule"`
	SeedFixtures    bool          `koanf:"seed_fixtures"`
	CORSOrigins     []string      `koanf:"cors_origins"`

	// Horizons maps a period name to its decay half-life in hours.
	Horizons map[string]float64 `koanf:"horizons"`
}

// Configuration validation errors.
var (
	ErrInvalidPort      = errors.New("PORT must be a valid integer between 1 and 65535")
	ErrInvalidInteger   = errors.New("value must be a valid integer")
	ErrInvalidDuration  = errors.New("value must be a valid duration")
	ErrInvalidSchedule  = errors.New("REFRESH_SCHEDULE must be a valid cron expression")
	ErrInvalidHorizon   = errors.New("horizon half-life must be a positive number of hours")
	ErrNoHorizons       = errors.New("at least one horizon is required")
	ErrInvalidRateLimit = errors.New("IP_LIMIT_PER_MIN must be positive")
	ErrMissingDataDir   = errors.New("DATA_DIR is required")
)

// Default values.
const (
	DefaultPort            = 8080
	DefaultEnv             = "development"
	DefaultDataDir         = "./data"
	DefaultLogLevel        = "info"
	DefaultIPLimitPerMin   = 120
	DefaultCacheTTL        = 5 * time.Minute
	DefaultRefreshSchedule = "@every 10m"
)

// DefaultHorizons returns the standard trending periods.
func DefaultHorizons() map[string]float64 {
	return map[string]float64{
		"hourly": 1.5,
		"daily":  24,
		"weekly": 84,
	}
}

// Load reads configuration from environment variables and an optional config file.
// Returns the loaded config and a slice of validation errors (empty if valid).
// If a config file path is provided and the file cannot be loaded, an error is returned.
func Load(configFilePath string) (*Config, []error) {
	k := koanf.New(".")
	var loadErrs []error

	if configFilePath != "" {
		if err := k.Load(file.Provider(configFilePath), yaml.Parser()); err != nil {
			return nil, []error{fmt.Errorf("failed to load config file %s: %w", configFilePath, err)}
		}
	}

	port, err := getEnvIntOrDefault([]string{"TRENDMETER_PORT", "PORT"}, k.Int("port"), DefaultPort)
	if err != nil {
		loadErrs = append(loadErrs, fmt.Errorf("%w: %v", ErrInvalidPort, err))
	}

	redisDB, err := getEnvIntOrDefault([]string{"TRENDMETER_REDIS_DB", "REDIS_DB"}, k.Int("redis_db"), 0)
	if err != nil {
		loadErrs = append(loadErrs, err)
	}

	ipLimit, err := getEnvIntOrDefault([]string{"TRENDMETER_IP_LIMIT_PER_MIN", "IP_LIMIT_PER_MIN"}, k.Int("ip_limit_per_min"), DefaultIPLimitPerMin)
	if err != nil {
		loadErrs = append(loadErrs, err)
	}

	cacheTTL, err := getEnvDurationOrDefault([]string{"TRENDMETER_CACHE_TTL", "CACHE_TTL"}, k.Duration("cache_ttl"), DefaultCacheTTL)
	if err != nil {
		loadErrs = append(loadErrs, err)
	}

	seed := k.Bool("seed_fixtures")
	if val := getEnv("TRENDMETER_SEED_FIXTURES", "SEED_FIXTURES"); val != "" {
		seed = parseBool(val)
	}

	origins := k.Strings("cors_origins")
	if val := getEnv("TRENDMETER_CORS_ORIGINS", "CORS_ORIGINS"); val != "" {
		origins = splitList(val)
	}
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	horizons := DefaultHorizons()
	if k.Exists("horizons") {
		horizons = k.Float64Map("horizons")
	}
	if val := getEnv("TRENDMETER_HORIZONS", "HORIZONS"); val != "" {
		parsed, err := parseHorizons(val)
		if err != nil {
			loadErrs = append(loadErrs, err)
		} else {
			horizons = parsed
		}
	}

	cfg := &Config{
		Port:            port,
		Env:             getEnvOrDefault([]string{"TRENDMETER_ENV", "ENV", "GIN_MODE"}, k.String("env"), DefaultEnv),
		DataDir:         getEnvOrDefault([]string{"TRENDMETER_DATA_DIR", "DATA_DIR"}, k.String("data_dir"), DefaultDataDir),
		LogLevel:        getEnvOrDefault([]string{"TRENDMETER_LOG_LEVEL", "LOG_LEVEL"}, k.String("log_level"), DefaultLogLevel),
		RedisAddr:       getEnvOrDefault([]string{"TRENDMETER_REDIS_ADDR", "REDIS_ADDR"}, k.String("redis_addr"), ""),
		RedisPassword:   getEnvOrDefault([]string{"TRENDMETER_REDIS_PASSWORD", "REDIS_PASSWORD"}, k.String("redis_password"), ""),
		RedisDB:         redisDB,
		IPLimitPerMin:   ipLimit,
		CacheTTL:        cacheTTL,
		RefreshSchedule: getEnvOrDefault([]string{"TRENDMETER_REFRESH_SCHEDULE", "REFRESH_SCHEDULE"}, k.String("refresh_schedule"), DefaultRefreshSchedule),
		SeedFixtures:    seed,
		CORSOrigins:     origins,
		Horizons:        horizons,
	}

	errs := cfg.Validate()
	errs = append(loadErrs, errs...)

	return cfg, errs
}

// Validate checks the loaded values.
// Returns a slice of validation errors (empty if valid).
func (c *Config) Validate() []error {
	var errs []error

	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, ErrInvalidPort)
	}
	if c.DataDir == "" {
		errs = append(errs, ErrMissingDataDir)
	}
	if c.IPLimitPerMin <= 0 {
		errs = append(errs, ErrInvalidRateLimit)
	}
	if c.RefreshSchedule != "" {
		if _, err := cron.ParseStandard(c.RefreshSchedule); err != nil {
			errs = append(errs, fmt.Errorf("%w: %v", ErrInvalidSchedule, err))
		}
	}
	if len(c.Horizons) == 0 {
		errs = append(errs, ErrNoHorizons)
	}
	for name, hours := range c.Horizons {
		if !(hours > 0) {
			errs = append(errs, fmt.Errorf("%w: %s=%v", ErrInvalidHorizon, name, hours))
		}
	}

	return errs
}

// IsProduction reports whether the server runs with production settings.
func (c *Config) IsProduction() bool {
	return c.Env == "production" || c.Env == "release"
}

// Periods returns the configured period names in ascending half-life order.
func (c *Config) Periods() []string {
	names := make([]string, 0, len(c.Horizons))
	for name := range c.Horizons {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		hi, hj := c.Horizons[names[i]], c.Horizons[names[j]]
		if hi != hj {
			return hi < hj
		}
		return names[i] < names[j]
	})
	return names
}

// LogSummary returns a summary of the configuration suitable for logging.
func (c *Config) LogSummary() map[string]string {
	horizons := make([]string, 0, len(c.Horizons))
	for _, name := range c.Periods() {
		horizons = append(horizons, fmt.Sprintf("%s=%gh", name, c.Horizons[name]))
	}
	redis := c.RedisAddr
	if redis == "" {
		redis = "<not set>"
	}
	return map[string]string{
		"port":             strconv.Itoa(c.Port),
		"env":              c.Env,
		"data_dir":         c.DataDir,
		"log_level":        c.LogLevel,
		"redis_addr":       redis,
		"redis_password":   maskSecret(c.RedisPassword),
		"ip_limit_per_min": strconv.Itoa(c.IPLimitPerMin),
		"cache_ttl":        c.CacheTTL.String(),
		"refresh_schedule": c.RefreshSchedule,
		"seed_fixtures":    strconv.FormatBool(c.SeedFixtures),
		"cors_origins":     strings.Join(c.CORSOrigins, ","),
		"horizons":         strings.Join(horizons, ","),
	}
}

// getEnv returns the first non-empty environment variable among keys.
func getEnv(keys ...string) string {
	for _, key := range keys {
		if val := os.Getenv(key); val != "" {
			return val
		}
	}
	return ""
}

func getEnvOrDefault(envKeys []string, koanfVal, defaultVal string) string {
	if val := getEnv(envKeys...); val != "" {
		return val
	}
	if koanfVal != "" {
		return koanfVal
	}
	return defaultVal
}

// getEnvIntOrDefault returns the first set environment variable as int, otherwise the koanf value, or default.
// A zero from the YAML file falls back to the default.
func getEnvIntOrDefault(envKeys []string, koanfVal, defaultVal int) (int, error) {
	for _, key := range envKeys {
		if val := os.Getenv(key); val != "" {
			i, err := strconv.Atoi(val)
			if err != nil {
				return defaultVal, fmt.Errorf("%s: %w", key, ErrInvalidInteger)
			}
			return i, nil
		}
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

func getEnvDurationOrDefault(envKeys []string, koanfVal, defaultVal time.Duration) (time.Duration, error) {
	for _, key := range envKeys {
		if val := os.Getenv(key); val != "" {
			d, err := time.ParseDuration(val)
			if err != nil {
				return defaultVal, fmt.Errorf("%s: %w", key, ErrInvalidDuration)
			}
			return d, nil
		}
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

// parseHorizons reads "hourly=1.5,daily=24" style lists.
func parseHorizons(s string) (map[string]float64, error) {
	out := make(map[string]float64)
	for _, part := range splitList(s) {
		name, value, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrInvalidHorizon, part)
		}
		hours, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrInvalidHorizon, part)
		}
		out[strings.TrimSpace(name)] = hours
	}
	return out, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseBool(s string) bool {
	switch strings.ToLower(s) {
	case "true", "1", "yes", "on":
		return true
	default:
		return false
	}
}

// maskSecret shows only the first 4 characters of secrets of 8 or more characters.
func maskSecret(s string) string {
	if s == "" {
		return "<not set>"
	}
	if len(s) < 8 {
		return "****"
	}
	return s[:4] + "****"
}
