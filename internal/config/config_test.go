package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

const yamlConfig = `
logging:
  level: debug
  console: true
storage:
  driver: sqlite
  path: ./opsdispatch.db
  busy_timeout: 5s
gateway:
  base_url: https://gw.example.org
  token: secret
  rate_per_min: 20
pacing:
  min_interval: 5s
identity:
  country_code: "972"
dashboard:
  base_url: https://ops.example.org
schedule:
  enabled: true
  timezone: Asia/Jerusalem
  entries:
    - name: weekly-tasks
      spec: "0 9 * * 0"
      template: open_tasks
      audience: volunteers
`

func TestLoadYAML(t *testing.T) {
	t.Parallel()
	path := writeFile(t, t.TempDir(), "config.yaml", yamlConfig)

	m := NewConfigManager(path)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Storage.Driver != "sqlite" || cfg.Gateway.RatePerMin != 20 {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.Identity.CountryCode != "972" {
		t.Fatalf("country code = %q", cfg.Identity.CountryCode)
	}
	if len(cfg.Schedule.Entries) != 1 || cfg.Schedule.Entries[0].Template != "open_tasks" {
		t.Fatalf("schedule = %+v", cfg.Schedule)
	}
	if got := m.Get(); got != cfg {
		t.Fatal("Get did not return the committed config")
	}
}

func TestLoadJSON(t *testing.T) {
	t.Parallel()
	path := writeFile(t, t.TempDir(), "config.json",
		`{"logging":{"level":"info","console":true,"file":{"enabled":false,"path":""}},
		  "storage":{"driver":"memory"},
		  "gateway":{"base_url":"https://gw.example.org"},
		  "dashboard":{"base_url":"https://ops.example.org"}}`)

	m := NewConfigManager(path)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Gateway.BaseURL != "https://gw.example.org" {
		t.Fatalf("cfg = %+v", cfg)
	}
}

func TestUnknownKeysRejected(t *testing.T) {
	t.Parallel()
	path := writeFile(t, t.TempDir(), "config.json",
		`{"gatway":{"base_url":"typo"}}`)

	if _, err := NewConfigManager(path).Load(); err == nil {
		t.Fatal("expected error for unknown key")
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	d, err := ParseDurationField("pacing.min_interval", "5s")
	if err != nil || d != 5*time.Second {
		t.Fatalf("got (%v, %v)", d, err)
	}
	if _, err := ParseDurationField("x", "not-a-duration"); err == nil {
		t.Fatal("expected error")
	}
	if _, err := ParseDurationField("x", "-3s"); err == nil {
		t.Fatal("expected error for negative duration")
	}
	d, err = ParseDurationOrDefault("x", "", 7*time.Second)
	if err != nil || d != 7*time.Second {
		t.Fatalf("default got (%v, %v)", d, err)
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()
	oldCfg := &Config{
		Gateway: GatewayConfig{BaseURL: "https://gw.example.org", RatePerMin: 20},
		Pacing:  PacingConfig{MinInterval: "5s"},
	}
	newCfg := &Config{
		Gateway: GatewayConfig{BaseURL: "https://gw.example.org", RatePerMin: 40},
		Pacing:  PacingConfig{MinInterval: "2s"},
	}

	changed, attrs := SummarizeConfigChange(oldCfg, newCfg)
	if len(changed) != 2 || changed[0] != "gateway" || changed[1] != "pacing" {
		t.Fatalf("changed = %v", changed)
	}
	if len(attrs) == 0 {
		t.Fatal("expected structured attrs")
	}

	if changed, _ := SummarizeConfigChange(newCfg, newCfg); len(changed) != 0 {
		t.Fatalf("no-op change reported: %v", changed)
	}
}
