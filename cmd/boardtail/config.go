package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type config struct {
	BaseURL      string
	Token        string
	ProjectID    string
	RedisConn    string
	CacheTTL     time.Duration
	PollInterval time.Duration
}

type fileConfig struct {
	BaseURL        string `yaml:"base_url"`
	Token          string `yaml:"token"`
	ProjectID      string `yaml:"project_id"`
	RedisConn      string `yaml:"redis_connection_string"`
	CacheTTLMs     int    `yaml:"cache_ttl_ms"`
	PollIntervalMs int    `yaml:"poll_interval_ms"`
}

// loadConfig resolves settings with defaults < BOARDTAIL_CONFIG file <
// environment precedence.
func loadConfig() (config, error) {
	cfg := config{
		CacheTTL:     30 * time.Second,
		PollInterval: 15 * time.Second,
	}

	if path := os.Getenv("BOARDTAIL_CONFIG"); path != "" {
		if err := applyConfigFile(&cfg, path); err != nil {
			return config{}, err
		}
	}

	if v := os.Getenv("BOARD_API_BASE"); v != "" {
		cfg.BaseURL = v
	}
	if v := os.Getenv("BOARD_API_TOKEN"); v != "" {
		cfg.Token = v
	}
	if v := os.Getenv("PROJECT_ID"); v != "" {
		cfg.ProjectID = v
	}
	if v := os.Getenv("REDIS_CONNECTION_STRING"); v != "" {
		cfg.RedisConn = v
	}
	if v := os.Getenv("CACHE_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return config{}, fmt.Errorf("invalid CACHE_TTL: %q", v)
		}
		cfg.CacheTTL = d
	}
	if v := os.Getenv("POLL_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return config{}, fmt.Errorf("invalid POLL_INTERVAL: %q", v)
		}
		cfg.PollInterval = d
	}

	if cfg.BaseURL == "" {
		return config{}, errors.New("missing BOARD_API_BASE")
	}
	return cfg, nil
}

func applyConfigFile(cfg *config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}

	if fc.BaseURL != "" {
		cfg.BaseURL = fc.BaseURL
	}
	if fc.Token != "" {
		cfg.Token = fc.Token
	}
	if fc.ProjectID != "" {
		cfg.ProjectID = fc.ProjectID
	}
	if fc.RedisConn != "" {
		cfg.RedisConn = fc.RedisConn
	}
	if fc.CacheTTLMs > 0 {
		cfg.CacheTTL = time.Duration(fc.CacheTTLMs) * time.Millisecond
	}
	if fc.PollIntervalMs > 0 {
		cfg.PollInterval = time.Duration(fc.PollIntervalMs) * time.Millisecond
	}
	return nil
}
