package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/rendis/nodeflow/internal/scheduler"
)

// Config holds all nodeflow configuration.
// Priority: env vars > settings.json > defaults.
type Config struct {
	ListenAddr  string          `json:"listen_addr"`
	BaseURL     string          `json:"base_url"`
	DBPath      string          `json:"db_path"`
	LogLevel    string          `json:"log_level"`
	LogFormat   string          `json:"log_format"`
	PoolSize    int             `json:"pool_size"`
	EventBuffer int             `json:"event_buffer"`
	ProcessEnv  bool            `json:"process_env"`
	Journal     bool            `json:"journal"`
	HTTPTimeout Duration        `json:"http_timeout"`
	Schedules   []scheduler.Job `json:"schedules,omitempty"`
}

// Duration is a time.Duration that reads "30s" style strings from JSON.
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("duration must be a string like \"30s\": %w", err)
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func defaultConfig() Config {
	return Config{
		ListenAddr:  ":4200",
		DBPath:      filepath.Join(nodeflowDir(), "nodeflow.db"),
		LogLevel:    "info",
		LogFormat:   "text",
		PoolSize:    8,
		EventBuffer: 64,
		Journal:     true,
		HTTPTimeout: Duration(30 * time.Second),
	}
}

func nodeflowDir() string {
	if v := os.Getenv("NODEFLOW_HOME"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".nodeflow"
	}
	return filepath.Join(home, ".nodeflow")
}

func settingsPath() string {
	if v := os.Getenv("NODEFLOW_CONFIG"); v != "" {
		return v
	}
	return filepath.Join(nodeflowDir(), "settings.json")
}

// loadDotenv loads ./.env into the process environment without overriding
// variables that are already set. A missing file is not an error.
func loadDotenv() error {
	err := godotenv.Load()
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// loadConfig layers settings.json and NODEFLOW_* variables over the
// defaults. A missing settings file is fine; a malformed one is not.
func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	case !errors.Is(err, fs.ErrNotExist):
		return cfg, fmt.Errorf("read %s: %w", path, err)
	}

	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}

	// Derive base_url from listen_addr if empty.
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost" + cfg.ListenAddr
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	if v := os.Getenv("NODEFLOW_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("NODEFLOW_BASE_URL"); v != "" {
		cfg.BaseURL = v
	}
	if v := os.Getenv("NODEFLOW_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("NODEFLOW_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("NODEFLOW_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}
	if v := os.Getenv("NODEFLOW_POOL_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("NODEFLOW_POOL_SIZE: %w", err)
		}
		cfg.PoolSize = n
	}
	if v := os.Getenv("NODEFLOW_EVENT_BUFFER"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("NODEFLOW_EVENT_BUFFER: %w", err)
		}
		cfg.EventBuffer = n
	}
	if v := os.Getenv("NODEFLOW_PROCESS_ENV"); v != "" {
		cfg.ProcessEnv = v == "true" || v == "1"
	}
	if v := os.Getenv("NODEFLOW_JOURNAL"); v != "" {
		cfg.Journal = v == "true" || v == "1"
	}
	if v := os.Getenv("NODEFLOW_HTTP_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("NODEFLOW_HTTP_TIMEOUT: %w", err)
		}
		cfg.HTTPTimeout = Duration(d)
	}
	return nil
}
