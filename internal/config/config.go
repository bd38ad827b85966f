package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"ludexdash/internal/dashboard"
)

const (
	EnvBaseURL  = "LUDEX_BASE_URL"
	EnvRedisURL = "LUDEX_REDIS_URL"
	EnvLogFile  = "LUDEX_LOG_FILE"
)

type Config struct {
	Server   ServerConfig          `json:"server" yaml:"server"`
	Agents   []dashboard.AgentSpec `json:"agents" yaml:"agents"`
	Gates    map[string]GateInfo   `json:"gates" yaml:"gates"`
	Presence PresenceConfig        `json:"presence" yaml:"presence"`
	Log      LogConfig             `json:"log" yaml:"log"`
}

type ServerConfig struct {
	BaseURL            string `json:"base_url" yaml:"base_url"`
	WSPath             string `json:"ws_path" yaml:"ws_path"`
	StartPath          string `json:"start_path" yaml:"start_path"`
	MetricsPath        string `json:"metrics_path" yaml:"metrics_path"`
	HealthPath         string `json:"health_path" yaml:"health_path"`
	MetricsPoll        string `json:"metrics_poll" yaml:"metrics_poll"`
	DialTimeoutSeconds int    `json:"dial_timeout_seconds" yaml:"dial_timeout_seconds"`
	MaxMessageBytes    int64  `json:"max_message_bytes" yaml:"max_message_bytes"`
}

type GateInfo struct {
	Title       string `json:"title" yaml:"title"`
	Description string `json:"description" yaml:"description"`
}

type PresenceConfig struct {
	RedisURL   string `json:"redis_url" yaml:"redis_url"`
	TTLSeconds int    `json:"ttl_seconds" yaml:"ttl_seconds"`
}

type LogConfig struct {
	File  string `json:"file" yaml:"file"`
	Level string `json:"level" yaml:"level"`
}

const fallbackGateTitle = "Approval Required"

// DefaultAgents is the LUDEX pipeline roster in display order.
func DefaultAgents() []dashboard.AgentSpec {
	return []dashboard.AgentSpec{
		{Key: "market_analyst", Name: "Market Analyst", Role: "Validating Concept"},
		{Key: "mechanics_designer", Name: "Mechanics Designer", Role: "Designing Systems"},
		{Key: "system_designer", Name: "System Designer", Role: "Checking Tech Feasibility"},
		{Key: "producer", Name: "Producer", Role: "Estimating Scope"},
		{Key: "gdd_writer", Name: "GDD Writer", Role: "Compiling Document"},
	}
}

func DefaultGates() map[string]GateInfo {
	return map[string]GateInfo{
		"mechanics_designer": {
			Title:       "Market Analysis Approval",
			Description: "Review the market analysis before mechanics design continues.",
		},
		"producer": {
			Title:       "System Design Approval",
			Description: "Review the system design before scope is estimated.",
		},
	}
}

func Default() Config {
	var cfg Config
	cfg.applyDefaults()
	return cfg
}

// Load reads path as YAML when it ends in .yaml or .yml and as JSON
// otherwise. A missing file yields the defaults. Environment overrides are
// applied last.
func Load(path string) (Config, error) {
	path = strings.TrimSpace(path)
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if cfg, err = parse(path, data); err != nil {
				return Config{}, err
			}
		case os.IsNotExist(err):
		default:
			return Config{}, err
		}
	}
	cfg.applyDefaults()
	cfg.applyEnv(os.Getenv)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func parse(path string, data []byte) (Config, error) {
	var cfg Config
	name := filepath.Base(path)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", name, err)
		}
		return cfg, nil
	}

	var root map[string]json.RawMessage
	if err := json.Unmarshal(data, &root); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", name, err)
	}
	sections := []struct {
		key string
		dst any
	}{
		{"server", &cfg.Server},
		{"agents", &cfg.Agents},
		{"gates", &cfg.Gates},
		{"presence", &cfg.Presence},
		{"log", &cfg.Log},
	}
	for _, sec := range sections {
		raw, ok := root[sec.key]
		if !ok || len(bytes.TrimSpace(raw)) == 0 {
			continue
		}
		if err := json.Unmarshal(raw, sec.dst); err != nil {
			return Config{}, fmt.Errorf("parse %s.%s: %w", name, sec.key, err)
		}
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c == nil {
		return
	}
	s := &c.Server
	if strings.TrimSpace(s.BaseURL) == "" {
		s.BaseURL = "http://127.0.0.1:9090"
	}
	if strings.TrimSpace(s.WSPath) == "" {
		s.WSPath = "/ws"
	}
	if strings.TrimSpace(s.StartPath) == "" {
		s.StartPath = "/start"
	}
	if strings.TrimSpace(s.MetricsPath) == "" {
		s.MetricsPath = "/metrics"
	}
	if strings.TrimSpace(s.HealthPath) == "" {
		s.HealthPath = "/health"
	}
	if strings.TrimSpace(s.MetricsPoll) == "" {
		s.MetricsPoll = "@every 5s"
	}
	if s.DialTimeoutSeconds <= 0 {
		s.DialTimeoutSeconds = 15
	}
	if s.MaxMessageBytes <= 0 {
		s.MaxMessageBytes = 4 << 20
	}
	if len(c.Agents) == 0 {
		c.Agents = DefaultAgents()
	}
	if c.Gates == nil {
		c.Gates = DefaultGates()
	}
	if c.Presence.TTLSeconds <= 0 {
		c.Presence.TTLSeconds = 15
	}
	if strings.TrimSpace(c.Log.Level) == "" {
		c.Log.Level = "info"
	}
}

func (c *Config) applyEnv(getenv func(string) string) {
	if v := strings.TrimSpace(getenv(EnvBaseURL)); v != "" {
		c.Server.BaseURL = v
	}
	if v := strings.TrimSpace(getenv(EnvRedisURL)); v != "" {
		c.Presence.RedisURL = v
	}
	if v := strings.TrimSpace(getenv(EnvLogFile)); v != "" {
		c.Log.File = v
	}
}

func (c Config) Validate() error {
	u, err := url.Parse(strings.TrimSpace(c.Server.BaseURL))
	if err != nil {
		return fmt.Errorf("server.base_url: %w", err)
	}
	switch u.Scheme {
	case "http", "https":
	default:
		return fmt.Errorf("server.base_url: unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("server.base_url: host is required")
	}
	switch strings.ToLower(strings.TrimSpace(c.Log.Level)) {
	case "debug", "info":
	default:
		return fmt.Errorf("log.level: unsupported level %q", c.Log.Level)
	}
	return nil
}

func (c Config) AgentSpecs() []dashboard.AgentSpec {
	return append([]dashboard.AgentSpec(nil), c.Agents...)
}

// Gate returns the display text for a gate name, falling back to a generic
// title for gates the catalog does not know.
func (c Config) Gate(name string) GateInfo {
	if info, ok := c.Gates[strings.TrimSpace(name)]; ok {
		if strings.TrimSpace(info.Title) == "" {
			info.Title = fallbackGateTitle
		}
		return info
	}
	return GateInfo{Title: fallbackGateTitle}
}

func (c Config) DebugLogging() bool {
	return strings.EqualFold(strings.TrimSpace(c.Log.Level), "debug")
}

func (c Config) DialTimeout() time.Duration {
	return time.Duration(c.Server.DialTimeoutSeconds) * time.Second
}

func (c Config) PresenceTTL() time.Duration {
	return time.Duration(c.Presence.TTLSeconds) * time.Second
}

// WSURL is base_url with its scheme switched to ws or wss, joined with
// ws_path.
func (c Config) WSURL() string {
	u, err := url.Parse(strings.TrimSpace(c.Server.BaseURL))
	if err != nil {
		return ""
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	return joinPath(u, c.Server.WSPath)
}

func (c Config) StartURL() string   { return c.httpURL(c.Server.StartPath) }
func (c Config) MetricsURL() string { return c.httpURL(c.Server.MetricsPath) }
func (c Config) HealthURL() string  { return c.httpURL(c.Server.HealthPath) }

func (c Config) httpURL(path string) string {
	u, err := url.Parse(strings.TrimSpace(c.Server.BaseURL))
	if err != nil {
		return ""
	}
	return joinPath(u, path)
}

func joinPath(u *url.URL, path string) string {
	base := strings.TrimRight(u.Path, "/")
	path = strings.TrimSpace(path)
	if path != "" && !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	u.Path = base + path
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}
