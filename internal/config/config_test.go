package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestDefaultsMatchPipelineBackend(t *testing.T) {
	t.Parallel()

	cfg := Default()
	if got := cfg.WSURL(); got != "ws://127.0.0.1:9090/ws" {
		t.Fatalf("unexpected ws url %q", got)
	}
	if got := cfg.StartURL(); got != "http://127.0.0.1:9090/start" {
		t.Fatalf("unexpected start url %q", got)
	}
	if got := cfg.MetricsURL(); got != "http://127.0.0.1:9090/metrics" {
		t.Fatalf("unexpected metrics url %q", got)
	}
	if cfg.Server.MetricsPoll != "@every 5s" || cfg.DialTimeout().Seconds() != 15 {
		t.Fatalf("unexpected server defaults: %+v", cfg.Server)
	}
	agents := cfg.AgentSpecs()
	if len(agents) != 5 || agents[0].Key != "market_analyst" || agents[4].Name != "GDD Writer" {
		t.Fatalf("unexpected default roster: %+v", agents)
	}
}

func TestGateCatalogFallback(t *testing.T) {
	t.Parallel()

	cfg := Default()
	if got := cfg.Gate("mechanics_designer").Title; got != "Market Analysis Approval" {
		t.Fatalf("unexpected title %q", got)
	}
	if got := cfg.Gate("producer").Title; got != "System Design Approval" {
		t.Fatalf("unexpected title %q", got)
	}
	if got := cfg.Gate("gdd_writer"); got.Title != "Approval Required" || got.Description != "" {
		t.Fatalf("unexpected fallback %+v", got)
	}
}

func TestLoadJSONSections(t *testing.T) {
	t.Setenv(EnvBaseURL, "")
	path := writeFile(t, "config.json", `{
  "server": {"base_url": "https://pipeline.example.com/api/", "metrics_poll": "@every 2s"},
  "agents": [{"key": "writer", "name": "Writer"}],
  "gates": {"writer": {"title": "Draft Approval"}},
  "log": {"level": "debug"},
  "unrelated": {"x": 1}
}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := cfg.WSURL(); got != "wss://pipeline.example.com/api/ws" {
		t.Fatalf("unexpected ws url %q", got)
	}
	if got := cfg.StartURL(); got != "https://pipeline.example.com/api/start" {
		t.Fatalf("unexpected start url %q", got)
	}
	if cfg.Server.MetricsPoll != "@every 2s" || cfg.Server.WSPath != "/ws" {
		t.Fatalf("unexpected server section: %+v", cfg.Server)
	}
	if len(cfg.Agents) != 1 || cfg.Agents[0].Key != "writer" {
		t.Fatalf("unexpected agents: %+v", cfg.Agents)
	}
	if cfg.Gate("producer").Title != "Approval Required" {
		t.Fatalf("configured gates must replace the defaults")
	}
	if !cfg.DebugLogging() {
		t.Fatalf("expected debug logging")
	}
}

func TestLoadYAML(t *testing.T) {
	t.Setenv(EnvRedisURL, "")
	path := writeFile(t, "ludex.yaml", `
server:
  base_url: http://10.0.0.5:9090
presence:
  redis_url: redis://localhost:6379/2
  ttl_seconds: 30
agents:
  - key: market_analyst
    name: Analyst
    role: Research
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HealthURL() != "http://10.0.0.5:9090/health" {
		t.Fatalf("unexpected health url %q", cfg.HealthURL())
	}
	if cfg.Presence.RedisURL != "redis://localhost:6379/2" || cfg.PresenceTTL().Seconds() != 30 {
		t.Fatalf("unexpected presence: %+v", cfg.Presence)
	}
	if cfg.Agents[0].Role != "Research" {
		t.Fatalf("unexpected agents: %+v", cfg.Agents)
	}
}

func TestLoadMissingFileUsesDefaultsAndEnv(t *testing.T) {
	t.Setenv(EnvBaseURL, "http://backend:8000")
	t.Setenv(EnvLogFile, "/tmp/ludex.log")
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.WSURL() != "ws://backend:8000/ws" || cfg.Log.File != "/tmp/ludex.log" {
		t.Fatalf("env overrides not applied: %+v", cfg)
	}
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	t.Setenv(EnvBaseURL, "")
	cases := map[string]string{
		"bad.json":    `{"server": `,
		"scheme.json": `{"server": {"base_url": "ftp://host"}}`,
		"level.json":  `{"log": {"level": "trace"}}`,
		"bad.yaml":    "server: [",
	}
	for name, content := range cases {
		path := writeFile(t, name, content)
		if _, err := Load(path); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}
