// Package config resolves run settings from defaults, an optional YAML file and
// environment variables. Command-line flags are applied on top by the CLI.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults.
const (
	DefaultRoot           = "annotated-projects"
	DefaultOLSBaseURL     = "https://www.ebi.ac.uk/ols4"
	DefaultRequestTimeout = 30 * time.Second
	DefaultMaxAttempts    = 5
)

// Config is the resolved configuration of a validation run.
type Config struct {
	// Root is the submission root; each directory below it is a project.
	Root    string `yaml:"root"`
	Workers int    `yaml:"workers"`
	// Bundles optionally points at a YAML file replacing the built-in bundles.
	Bundles string `yaml:"bundles"`
	// BasicFailFast skips every later bundle once the default bundle fails.
	BasicFailFast bool   `yaml:"basic_fail_fast"`
	Color         string `yaml:"color"`

	OLS OLS `yaml:"ols"`
	Log Log `yaml:"log"`
}

// OLS configures the ontology client and its retry policy.
type OLS struct {
	BaseURL        string        `yaml:"base_url"`
	Token          string        `yaml:"token"`
	DefaultCAPath  string        `yaml:"default_ca_path"`
	RateLimitRPS   float64       `yaml:"rate_limit_rps"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	MaxAttempts    int           `yaml:"max_attempts"`
	BackoffInitial time.Duration `yaml:"backoff_initial"`
	BackoffMax     time.Duration `yaml:"backoff_max"`
}

// Log configures the structured logger.
type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Root:          DefaultRoot,
		Workers:       1,
		BasicFailFast: true,
		Color:         "auto",
		OLS: OLS{
			BaseURL:        DefaultOLSBaseURL,
			RequestTimeout: DefaultRequestTimeout,
			MaxAttempts:    DefaultMaxAttempts,
		},
		Log: Log{Level: "warn", Format: "console"},
	}
}

// Load resolves defaults, then the YAML file at path (when non-empty), then the environment.
func Load(path string) (Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := decodeInto(&cfg, bytes.NewReader(b)); err != nil {
			return Config{}, fmt.Errorf("%s: %w", path, err)
		}
	}
	if err := ApplyEnv(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Parse decodes YAML from r over the defaults, without consulting the environment.
func Parse(r io.Reader) (Config, error) {
	cfg := Default()
	if err := decodeInto(&cfg, r); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func decodeInto(cfg *Config, r io.Reader) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse config YAML: %w", err)
	}
	return nil
}

// ApplyEnv overrides cfg with any of the supported environment variables that are set.
func ApplyEnv(cfg *Config) error {
	var err error
	cfg.Root = envString("SDRF_ROOT", cfg.Root)
	if cfg.Workers, err = envInt("WORKERS", cfg.Workers); err != nil {
		return err
	}
	cfg.Bundles = envString("SDRF_BUNDLES", cfg.Bundles)
	if cfg.BasicFailFast, err = envBool("BASIC_FAIL_FAST", cfg.BasicFailFast); err != nil {
		return err
	}

	cfg.OLS.BaseURL = envString("OLS_BASE_URL", cfg.OLS.BaseURL)
	cfg.OLS.Token = envString("OLS_TOKEN", cfg.OLS.Token)
	cfg.OLS.DefaultCAPath = envString("DEFAULT_CA_PATH", cfg.OLS.DefaultCAPath)
	if cfg.OLS.RateLimitRPS, err = envFloat("OLS_RATE_LIMIT_RPS", cfg.OLS.RateLimitRPS); err != nil {
		return err
	}
	if cfg.OLS.RequestTimeout, err = envDuration("OLS_REQUEST_TIMEOUT", cfg.OLS.RequestTimeout); err != nil {
		return err
	}
	if cfg.OLS.MaxAttempts, err = envInt("OLS_MAX_ATTEMPTS", cfg.OLS.MaxAttempts); err != nil {
		return err
	}

	cfg.Log.Level = envString("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = envString("LOG_FORMAT", cfg.Log.Format)
	return nil
}

// Validate checks the final configuration.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Root) == "" {
		return fmt.Errorf("root is required")
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be >= 1 (got %d)", c.Workers)
	}
	if strings.TrimSpace(c.OLS.BaseURL) == "" {
		return fmt.Errorf("ols base URL is required")
	}
	if c.OLS.MaxAttempts < 1 {
		return fmt.Errorf("ols max attempts must be >= 1 (got %d)", c.OLS.MaxAttempts)
	}
	if c.OLS.RateLimitRPS < 0 {
		return fmt.Errorf("ols rate limit must not be negative (got %g)", c.OLS.RateLimitRPS)
	}
	if c.OLS.RequestTimeout < 0 || c.OLS.BackoffInitial < 0 || c.OLS.BackoffMax < 0 {
		return fmt.Errorf("ols timeouts and backoff must not be negative")
	}
	switch strings.ToLower(strings.TrimSpace(c.Log.Format)) {
	case "", "console", "json":
	default:
		return fmt.Errorf("unknown log format %q (want console or json)", c.Log.Format)
	}
	return nil
}

func envString(varName string, fallback string) string {
	v := strings.TrimSpace(os.Getenv(varName))
	if v == "" {
		return fallback
	}
	return v
}

func envInt(varName string, fallback int) (int, error) {
	v := strings.TrimSpace(os.Getenv(varName))
	if v == "" {
		return fallback, nil
	}
	out, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s=%q: %w", varName, v, err)
	}
	return out, nil
}

func envFloat(varName string, fallback float64) (float64, error) {
	v := strings.TrimSpace(os.Getenv(varName))
	if v == "" {
		return fallback, nil
	}
	out, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s=%q: %w", varName, v, err)
	}
	return out, nil
}

func envDuration(varName string, fallback time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(varName))
	if v == "" {
		return fallback, nil
	}
	out, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s=%q: %w", varName, v, err)
	}
	return out, nil
}

func envBool(varName string, fallback bool) (bool, error) {
	v := strings.TrimSpace(os.Getenv(varName))
	if v == "" {
		return fallback, nil
	}
	out, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s=%q: %w", varName, v, err)
	}
	return out, nil
}
