// Package config loads service configuration from config/{ENV_NAME}.yaml,
// an optional .env file and environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Config holds service configuration loaded from YAML and env.
type Config struct {
	Env string

	ServerPort string `validate:"required,numeric"`

	RegionName        string `validate:"required"`
	RegionAbbrev      string
	RegionCountryCode string `validate:"omitempty,len=2"`
	RegionLanguage    string `validate:"required"`
	RegionResultCap   int    `validate:"gte=1,lte=100"`
	QueryMinLength    int    `validate:"gte=1"`
	QueryMaxLength    int    `validate:"gtefield=QueryMinLength"`

	GeocodingURL     string `validate:"required,url"`
	ForecastURL      string `validate:"required,url"`
	ForecastTimezone string `validate:"required"`
	UpstreamTimeout  time.Duration

	ModelBackend  string `validate:"oneof=file remote"`
	ModelPath     string `validate:"required_if=ModelBackend file"`
	ModelURL      string `validate:"required_if=ModelBackend remote,omitempty,url"`
	ModelTimeout  time.Duration
	HighRiskClass string

	RequestTimeout time.Duration
	CacheBackend   string `validate:"oneof=memory memcached"`
	CacheTTL       time.Duration

	MemcachedAddrs        string
	MemcachedTimeout      time.Duration
	MemcachedMaxIdleConns int

	RetryAttempts  int `validate:"gte=1,lte=10"`
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	RateLimitRPS   int `validate:"gte=0"`
	RateLimitBurst int `validate:"gte=0"`

	HealthWindow     time.Duration
	DegradedErrorPct int `validate:"gte=0,lte=100"`

	CircuitBreakerEnabled          bool
	CircuitBreakerFailureThreshold int `validate:"gte=1"`
	CircuitBreakerSuccessThreshold int `validate:"gte=1"`
	CircuitBreakerTimeout          time.Duration

	ShutdownTimeout               time.Duration
	ShutdownInFlightTimeout       time.Duration
	ShutdownInFlightCheckInterval time.Duration

	WarmEnabled      bool
	WarmInterval     time.Duration
	WarmConcurrency  int
	TrackedLocations []string `validate:"dive,required"`
}

type fileConfig struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`

	Region struct {
		Name           string `yaml:"name"`
		Abbreviation   string `yaml:"abbreviation"`
		CountryCode    string `yaml:"country_code"`
		Language       string `yaml:"language"`
		ResultCap      int    `yaml:"result_cap"`
		QueryMinLength int    `yaml:"query_min_length"`
		QueryMaxLength int    `yaml:"query_max_length"`
	} `yaml:"region"`

	Geocoding struct {
		URL string `yaml:"url"`
	} `yaml:"geocoding"`

	Forecast struct {
		URL      string `yaml:"url"`
		Timezone string `yaml:"timezone"`
	} `yaml:"forecast"`

	Upstream struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"upstream"`

	Model struct {
		Backend       string `yaml:"backend"`
		Path          string `yaml:"path"`
		URL           string `yaml:"url"`
		Timeout       string `yaml:"timeout"`
		HighRiskClass string `yaml:"high_risk_class"`
	} `yaml:"model"`

	Request struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"request"`

	Cache struct {
		Backend   string `yaml:"backend"`
		TTL       string `yaml:"ttl"`
		Memcached struct {
			Addrs        string `yaml:"addrs"`
			Timeout      string `yaml:"timeout"`
			MaxIdleConns int    `yaml:"max_idle_conns"`
		} `yaml:"memcached"`
	} `yaml:"cache"`

	Reliability struct {
		RetryMaxAttempts int    `yaml:"retry_max_attempts"`
		RetryBaseDelay   string `yaml:"retry_base_delay"`
		RetryMaxDelay    string `yaml:"retry_max_delay"`
		RateLimitRPS     int    `yaml:"rate_limit_rps"`
		RateLimitBurst   int    `yaml:"rate_limit_burst"`
		HealthWindow     string `yaml:"health_window"`
		DegradedErrorPct int    `yaml:"degraded_error_pct"`
	} `yaml:"reliability"`

	CircuitBreaker struct {
		Enabled          *bool  `yaml:"enabled"`
		FailureThreshold int    `yaml:"failure_threshold"`
		SuccessThreshold int    `yaml:"success_threshold"`
		Timeout          string `yaml:"timeout"`
	} `yaml:"circuit_breaker"`

	Shutdown struct {
		Timeout               string `yaml:"timeout"`
		InFlightTimeout       string `yaml:"in_flight_timeout"`
		InFlightCheckInterval string `yaml:"in_flight_check_interval"`
	} `yaml:"shutdown"`

	Warm struct {
		Enabled          bool     `yaml:"enabled"`
		Interval         string   `yaml:"interval"`
		Concurrency      int      `yaml:"concurrency"`
		TrackedLocations []string `yaml:"tracked_locations"`
	} `yaml:"warm"`
}

// envOverrides are applied after the YAML file. Unset variables leave the
// file value in place.
type envOverrides struct {
	Port             string   `envconfig:"PORT"`
	RegionName       string   `envconfig:"REGION_NAME"`
	CacheBackend     string   `envconfig:"CACHE_BACKEND"`
	MemcachedAddrs   string   `envconfig:"MEMCACHED_ADDRS"`
	ModelBackend     string   `envconfig:"MODEL_BACKEND"`
	ModelPath        string   `envconfig:"MODEL_PATH"`
	ModelURL         string   `envconfig:"MODEL_URL"`
	HighRiskClass    string   `envconfig:"HIGH_RISK_CLASS"`
	TrackedLocations []string `envconfig:"TRACKED_LOCATIONS"`
}

// Load reads configuration from config/{ENV_NAME}.yaml (default dev) under the
// working directory. Call from project root.
func Load() (*Config, error) {
	// Non-fatal when absent; never overrides variables already set.
	_ = godotenv.Load()

	env := os.Getenv("ENV_NAME")
	if env == "" {
		env = "dev"
	}
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: get working directory: %w", err)
	}
	cfg, err := LoadFile(filepath.Join(cwd, "config", env+".yaml"))
	if err != nil {
		return nil, err
	}
	cfg.Env = env
	return cfg, nil
}

// LoadFile reads one YAML file, applies environment overrides and defaults,
// and validates the result. A .env in the working directory is exported to
// the process environment first, so later readers such as the logger see it.
func LoadFile(path string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	var env envOverrides
	if err := envconfig.Process("", &env); err != nil {
		return nil, fmt.Errorf("config: environment: %w", err)
	}

	cfg := fromFile(&fc)
	applyOverrides(cfg, &env)
	applyDefaults(cfg)

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func fromFile(fc *fileConfig) *Config {
	cfg := &Config{
		ServerPort: strings.TrimSpace(fc.Server.Port),

		RegionName:        strings.TrimSpace(fc.Region.Name),
		RegionAbbrev:      strings.TrimSpace(fc.Region.Abbreviation),
		RegionCountryCode: strings.ToUpper(strings.TrimSpace(fc.Region.CountryCode)),
		RegionLanguage:    strings.TrimSpace(fc.Region.Language),
		RegionResultCap:   fc.Region.ResultCap,
		QueryMinLength:    fc.Region.QueryMinLength,
		QueryMaxLength:    fc.Region.QueryMaxLength,

		GeocodingURL:     strings.TrimSpace(fc.Geocoding.URL),
		ForecastURL:      strings.TrimSpace(fc.Forecast.URL),
		ForecastTimezone: strings.TrimSpace(fc.Forecast.Timezone),
		UpstreamTimeout:  parseDurationOrZero(fc.Upstream.Timeout, 20*time.Second),

		ModelBackend:  strings.ToLower(strings.TrimSpace(fc.Model.Backend)),
		ModelPath:     strings.TrimSpace(fc.Model.Path),
		ModelURL:      strings.TrimSpace(fc.Model.URL),
		ModelTimeout:  parseDuration(fc.Model.Timeout, 5*time.Second),
		HighRiskClass: strings.TrimSpace(fc.Model.HighRiskClass),

		RequestTimeout: parseDuration(fc.Request.Timeout, 30*time.Second),
		CacheBackend:   strings.ToLower(strings.TrimSpace(fc.Cache.Backend)),
		CacheTTL:       parseDuration(fc.Cache.TTL, 15*time.Minute),

		MemcachedAddrs:        strings.TrimSpace(fc.Cache.Memcached.Addrs),
		MemcachedTimeout:      parseDuration(fc.Cache.Memcached.Timeout, 500*time.Millisecond),
		MemcachedMaxIdleConns: fc.Cache.Memcached.MaxIdleConns,

		RetryAttempts:  fc.Reliability.RetryMaxAttempts,
		RetryBaseDelay: parseDuration(fc.Reliability.RetryBaseDelay, 100*time.Millisecond),
		RetryMaxDelay:  parseDuration(fc.Reliability.RetryMaxDelay, 2*time.Second),
		RateLimitRPS:   fc.Reliability.RateLimitRPS,
		RateLimitBurst: fc.Reliability.RateLimitBurst,

		HealthWindow:     parseDuration(fc.Reliability.HealthWindow, 60*time.Second),
		DegradedErrorPct: fc.Reliability.DegradedErrorPct,

		CircuitBreakerEnabled:          true,
		CircuitBreakerFailureThreshold: fc.CircuitBreaker.FailureThreshold,
		CircuitBreakerSuccessThreshold: fc.CircuitBreaker.SuccessThreshold,
		CircuitBreakerTimeout:          parseDuration(fc.CircuitBreaker.Timeout, 30*time.Second),

		ShutdownTimeout:               parseDuration(fc.Shutdown.Timeout, 30*time.Second),
		ShutdownInFlightTimeout:       parseDuration(fc.Shutdown.InFlightTimeout, 10*time.Second),
		ShutdownInFlightCheckInterval: parseDuration(fc.Shutdown.InFlightCheckInterval, 100*time.Millisecond),

		WarmEnabled:      fc.Warm.Enabled,
		WarmInterval:     parseDurationOrZero(fc.Warm.Interval, 10*time.Minute),
		WarmConcurrency:  fc.Warm.Concurrency,
		TrackedLocations: fc.Warm.TrackedLocations,
	}
	if fc.CircuitBreaker.Enabled != nil {
		cfg.CircuitBreakerEnabled = *fc.CircuitBreaker.Enabled
	}
	return cfg
}

func applyOverrides(cfg *Config, env *envOverrides) {
	set := func(dst *string, v string) {
		if v = strings.TrimSpace(v); v != "" {
			*dst = v
		}
	}
	set(&cfg.ServerPort, env.Port)
	set(&cfg.RegionName, env.RegionName)
	set(&cfg.CacheBackend, strings.ToLower(env.CacheBackend))
	set(&cfg.MemcachedAddrs, env.MemcachedAddrs)
	set(&cfg.ModelBackend, strings.ToLower(env.ModelBackend))
	set(&cfg.ModelPath, env.ModelPath)
	set(&cfg.ModelURL, env.ModelURL)
	set(&cfg.HighRiskClass, env.HighRiskClass)
	if len(env.TrackedLocations) > 0 {
		cfg.TrackedLocations = env.TrackedLocations
	}
}

func applyDefaults(cfg *Config) {
	def := func(dst *string, v string) {
		if *dst == "" {
			*dst = v
		}
	}
	defInt := func(dst *int, v int) {
		if *dst <= 0 {
			*dst = v
		}
	}
	def(&cfg.ServerPort, "8080")
	def(&cfg.RegionName, "Michigan")
	def(&cfg.RegionLanguage, "en")
	def(&cfg.GeocodingURL, "https://geocoding-api.open-meteo.com/v1/search")
	def(&cfg.ForecastURL, "https://api.open-meteo.com/v1/forecast")
	def(&cfg.ForecastTimezone, "auto")
	def(&cfg.ModelBackend, "file")
	def(&cfg.CacheBackend, "memory")
	def(&cfg.MemcachedAddrs, "localhost:11211")
	if cfg.ModelBackend == "file" {
		def(&cfg.ModelPath, "artifacts/road_risk_forest.json")
	}

	defInt(&cfg.RegionResultCap, 20)
	defInt(&cfg.QueryMinLength, 1)
	defInt(&cfg.QueryMaxLength, 100)
	defInt(&cfg.MemcachedMaxIdleConns, 2)
	defInt(&cfg.RetryAttempts, 3)
	defInt(&cfg.CircuitBreakerFailureThreshold, 5)
	defInt(&cfg.CircuitBreakerSuccessThreshold, 2)
	defInt(&cfg.WarmConcurrency, 4)
	if cfg.RateLimitRPS == 0 {
		cfg.RateLimitRPS = 20
	}
	if cfg.RateLimitBurst == 0 {
		cfg.RateLimitBurst = 40
	}
	if cfg.DegradedErrorPct == 0 {
		cfg.DegradedErrorPct = 50
	}
}

// parseDuration parses a duration string and returns defaultVal if parsing fails or result is <= 0.
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	d := parseDurationOrZero(s, defaultVal)
	if d <= 0 {
		return defaultVal
	}
	return d
}

// parseDurationOrZero parses a duration string, returning defaultVal on empty string or parse error.
// Returns zero or negative durations as-is (caller should handle fallback).
func parseDurationOrZero(s string, defaultVal time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return d
}

// validate performs cross-field checks the struct tags cannot express.
// Auto-adjusts RequestTimeout so one upstream call always fits inside it.
func validate(cfg *Config) error {
	if cfg.UpstreamTimeout <= 0 {
		return fmt.Errorf("upstream.timeout must be positive")
	}
	if cfg.RequestTimeout <= cfg.UpstreamTimeout {
		cfg.RequestTimeout = cfg.UpstreamTimeout + time.Second
	}
	if cfg.RetryMaxDelay < cfg.RetryBaseDelay {
		return fmt.Errorf("reliability.retry_max_delay (%s) must be >= retry_base_delay (%s)", cfg.RetryMaxDelay, cfg.RetryBaseDelay)
	}
	if cfg.WarmEnabled && len(cfg.TrackedLocations) == 0 {
		return fmt.Errorf("warm.enabled requires warm.tracked_locations")
	}
	return nil
}
