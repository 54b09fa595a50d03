// Package config loads engine settings from the environment, with an
// optional YAML file layered underneath. Environment variables always win,
// so a deployment can pin a file and still override per process.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Mindburn-Labs/force/core/pkg/force"
)

// Transport selects how the MCP surface is exposed.
type Transport string

const (
	TransportStdio Transport = "stdio"
	TransportHTTP  Transport = "http"
)

// HTTP configures the streamable HTTP transport.
type HTTP struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Config is the full engine configuration.
type Config struct {
	Root             string     `yaml:"root"`
	Mode             force.Mode `yaml:"mode"`
	Transport        Transport  `yaml:"transport"`
	HTTP             HTTP       `yaml:"http"`
	Debug            bool       `yaml:"debug"`
	AutoFixOnStart   bool       `yaml:"auto_fix_on_start"`
	AutoReload       bool       `yaml:"auto_reload"`
	MaxWorkers       int        `yaml:"max_workers"`
	LogRotationBytes int64      `yaml:"log_rotation_bytes"`
	BreakerCooldownS int        `yaml:"breaker_cooldown_seconds"`
}

// Default returns the development-mode defaults.
func Default() Config {
	return Config{
		Root:      ".force",
		Mode:      force.ModeDevelopment,
		Transport: TransportStdio,
		HTTP:      HTTP{Host: "127.0.0.1", Port: 8321},
	}
}

// Load layers defaults, then the YAML file named by FORCE_CONFIG (if any),
// then FORCE_* environment variables.
func Load() (Config, error) {
	cfg := Default()

	if path := os.Getenv("FORCE_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	if v := os.Getenv("FORCE_ROOT"); v != "" {
		cfg.Root = v
	}
	if v := os.Getenv("FORCE_MODE"); v != "" {
		cfg.Mode = force.Mode(strings.ToLower(v))
	}
	if v := os.Getenv("FORCE_TRANSPORT"); v != "" {
		cfg.Transport = Transport(strings.ToLower(v))
	}
	if v := os.Getenv("FORCE_HTTP_HOST"); v != "" {
		cfg.HTTP.Host = v
	}
	if v := os.Getenv("FORCE_HTTP_PORT"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("config: FORCE_HTTP_PORT %q: %w", v, err)
		}
		cfg.HTTP.Port = p
	}
	if v := os.Getenv("FORCE_DEBUG"); v != "" {
		cfg.Debug = truthy(v)
	}
	if v := os.Getenv("FORCE_AUTO_FIX"); v != "" {
		cfg.AutoFixOnStart = truthy(v)
	}
	if v := os.Getenv("FORCE_AUTO_RELOAD"); v != "" {
		cfg.AutoReload = truthy(v)
	}
	if v := os.Getenv("FORCE_MAX_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("config: FORCE_MAX_WORKERS %q: %w", v, err)
		}
		cfg.MaxWorkers = n
	}
	if v := os.Getenv("FORCE_LOG_ROTATION_BYTES"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return cfg, fmt.Errorf("config: FORCE_LOG_ROTATION_BYTES %q: %w", v, err)
		}
		cfg.LogRotationBytes = n
	}
	if v := os.Getenv("FORCE_BREAKER_COOLDOWN_SECONDS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("config: FORCE_BREAKER_COOLDOWN_SECONDS %q: %w", v, err)
		}
		cfg.BreakerCooldownS = n
	}

	return cfg, cfg.Validate()
}

// Validate rejects configurations the engine cannot serve.
func (c Config) Validate() error {
	switch c.Mode {
	case force.ModeDevelopment, force.ModeStaging, force.ModeProduction:
	default:
		return fmt.Errorf("config: unknown mode %q", c.Mode)
	}
	switch c.Transport {
	case TransportStdio, TransportHTTP:
	default:
		return fmt.Errorf("config: unknown transport %q", c.Transport)
	}
	if c.Transport == TransportHTTP && (c.HTTP.Port <= 0 || c.HTTP.Port > 65535) {
		return fmt.Errorf("config: http port %d out of range", c.HTTP.Port)
	}
	if c.Root == "" {
		return fmt.Errorf("config: component root is required")
	}
	return nil
}

func truthy(v string) bool {
	switch strings.ToLower(v) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}
