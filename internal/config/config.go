package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default config file location.
const ConfigPath = "config.yaml"

const (
	defaultRequestTimeout         = 10 * time.Second
	defaultDetailFetchConcurrency = 4
	defaultSessionDBPath          = "studymatch.db"
)

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	APIBaseURL             string `yaml:"apiBaseURL"`
	LogLevel               string `yaml:"logLevel"`
	SessionDBPath          string `yaml:"sessionDBPath"`
	RequestTimeout         string `yaml:"requestTimeout"`
	DetailFetchConcurrency int    `yaml:"detailFetchConcurrency"`
}

// Config is the validated runtime configuration.
type Config struct {
	APIBaseURL             string
	LogLevel               string
	SessionDBPath          string
	RequestTimeout         time.Duration
	DetailFetchConcurrency int
}

// Load reads config from path (defaults to config.yaml), applies environment
// overrides and validates the result.
func Load(path string) (Config, error) {
	fc := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if v := os.Getenv("STUDYMATCH_API_BASE_URL"); v != "" {
		fc.APIBaseURL = strings.TrimSpace(v)
	}
	if v := os.Getenv("STUDYMATCH_LOG_LEVEL"); v != "" {
		fc.LogLevel = strings.TrimSpace(v)
	}
	if v := os.Getenv("STUDYMATCH_SESSION_DB_PATH"); v != "" {
		fc.SessionDBPath = strings.TrimSpace(v)
	}
	if v := os.Getenv("STUDYMATCH_REQUEST_TIMEOUT"); v != "" {
		fc.RequestTimeout = strings.TrimSpace(v)
	}
	if v := os.Getenv("STUDYMATCH_DETAIL_FETCH_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			fc.DetailFetchConcurrency = n
		}
	}
	return build(fc)
}

func build(fc FileConfig) (Config, error) {
	cfg := Config{
		APIBaseURL:             strings.TrimRight(fc.APIBaseURL, "/"),
		LogLevel:               fc.LogLevel,
		SessionDBPath:          fc.SessionDBPath,
		RequestTimeout:         defaultRequestTimeout,
		DetailFetchConcurrency: fc.DetailFetchConcurrency,
	}
	if cfg.APIBaseURL == "" {
		return Config{}, errors.New("config: apiBaseURL is required (set in config.yaml or STUDYMATCH_API_BASE_URL)")
	}
	u, err := url.Parse(cfg.APIBaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return Config{}, fmt.Errorf("config: apiBaseURL %q is not an absolute URL", cfg.APIBaseURL)
	}
	if fc.RequestTimeout != "" {
		d, err := time.ParseDuration(fc.RequestTimeout)
		if err != nil {
			return Config{}, fmt.Errorf("config: requestTimeout: %w", err)
		}
		if d <= 0 {
			return Config{}, errors.New("config: requestTimeout must be positive")
		}
		cfg.RequestTimeout = d
	}
	if cfg.SessionDBPath == "" {
		cfg.SessionDBPath = defaultSessionDBPath
	}
	if cfg.DetailFetchConcurrency <= 0 {
		cfg.DetailFetchConcurrency = defaultDetailFetchConcurrency
	}
	return cfg, nil
}
