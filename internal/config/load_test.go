package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	if cfg.LLM.Model != "qwen3-coder" {
		t.Errorf("model = %q", cfg.LLM.Model)
	}
	if cfg.Gateway.Port != 8000 {
		t.Errorf("port = %d", cfg.Gateway.Port)
	}
	if cfg.Agents.MaxSteps != 30 || cfg.Agents.MaxRetries != 2 {
		t.Errorf("agents = %+v", cfg.Agents)
	}
	if !cfg.Agents.ControllerEnabled {
		t.Error("controller must default to enabled")
	}
	if cfg.Gateway.RateLimitRPM != 0 {
		t.Errorf("rate limit must default to disabled, got %d", cfg.Gateway.RateLimitRPM)
	}
}

func TestLoadMissingFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatalf("missing file must not error: %v", err)
	}
	if cfg.LLM.Model != "qwen3-coder" {
		t.Errorf("model = %q", cfg.LLM.Model)
	}
}

func TestLoadJSON5File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	body := `{
  // comments are allowed
  workspace: "/srv/work",
  llm: {
    model: "local-coder",
    manager_model: "big-planner",
  },
  gateway: {
    port: 9001,
    token: "secret",
  },
}`
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Workspace != "/srv/work" {
		t.Errorf("workspace = %q", cfg.Workspace)
	}
	if cfg.LLM.Model != "local-coder" {
		t.Errorf("model = %q", cfg.LLM.Model)
	}
	if cfg.ManagerModel() != "big-planner" {
		t.Errorf("manager model = %q", cfg.ManagerModel())
	}
	// Unset summarizer model falls back to the base model.
	if cfg.SummarizerModel() != "local-coder" {
		t.Errorf("summarizer model = %q", cfg.SummarizerModel())
	}
	if cfg.Gateway.Port != 9001 || cfg.Gateway.Token != "secret" {
		t.Errorf("gateway = %+v", cfg.Gateway)
	}
	// File values merge over defaults, not replace them.
	if cfg.LLM.TimeoutSec != 300 {
		t.Errorf("timeout = %d", cfg.LLM.TimeoutSec)
	}
}

func TestLoadMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	os.WriteFile(path, []byte("{{{"), 0644)
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	os.WriteFile(path, []byte(`{llm: {model: "from-file"}, gateway: {port: 9001}}`), 0644)

	t.Setenv("KESTREL_MODEL", "from-env")
	t.Setenv("KESTREL_PORT", "9002")
	t.Setenv("KESTREL_RATE_LIMIT_RPM", "120")
	t.Setenv("KESTREL_TELEMETRY_ENABLED", "true")
	t.Setenv("KESTREL_CONTROLLER_ENABLED", "false")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.LLM.Model != "from-env" {
		t.Errorf("model = %q", cfg.LLM.Model)
	}
	if cfg.Gateway.Port != 9002 {
		t.Errorf("port = %d", cfg.Gateway.Port)
	}
	if cfg.Gateway.RateLimitRPM != 120 {
		t.Errorf("rpm = %d", cfg.Gateway.RateLimitRPM)
	}
	if !cfg.Telemetry.Enabled {
		t.Error("telemetry not enabled")
	}
	if cfg.Agents.ControllerEnabled {
		t.Error("controller env override not applied")
	}
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home dir")
	}
	if got := ExpandHome("~/work"); got != home+"/work" {
		t.Errorf("got %q", got)
	}
	if got := ExpandHome("~"); got != home {
		t.Errorf("got %q", got)
	}
	if got := ExpandHome("/abs/path"); got != "/abs/path" {
		t.Errorf("got %q", got)
	}
}
