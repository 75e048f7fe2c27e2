package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func validConfig() *Config {
	return &Config{
		Server: ServerConfig{Host: "0.0.0.0", Port: 8000, RequestTimeout: "120s"},
		Log:    LogConfig{Level: "info", Format: "auto"},
		State:  StateConfig{Backend: "json", Path: ".paperflow/runs"},
		LLM:    LLMConfig{APIKey: "sk-test", Model: "gpt-4o", Temperature: 0.2},
		Craft:  CraftConfig{BaseURL: "https://api.craft.example", Token: "tok", SpaceID: "space-1"},
	}
}

func chdirTemp(t *testing.T) {
	t.Helper()
	cwd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(cwd) })
	if err := os.Chdir(t.TempDir()); err != nil {
		t.Fatalf("chdir: %v", err)
	}
}

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := NewLoader().Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 8000 {
		t.Fatalf("default port = %d", cfg.Server.Port)
	}
	if cfg.State.Backend != "json" || cfg.State.Path != ".paperflow/runs" {
		t.Fatalf("state defaults = %+v", cfg.State)
	}
	if cfg.LLM.Model != "gpt-4o" || cfg.LLM.AsideModel != "gpt-4o-mini" {
		t.Fatalf("llm defaults = %+v", cfg.LLM)
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "auto" {
		t.Fatalf("log defaults = %+v", cfg.Log)
	}
}

func TestLoadFromYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "paperflow.yaml")
	yaml := `
server:
  port: 9001
state:
  backend: sqlite
  path: /var/lib/paperflow/runs.db
llm:
  api_key: sk-file
  model: gpt-custom
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := NewLoader().WithConfigFile(path).Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 9001 {
		t.Fatalf("port = %d", cfg.Server.Port)
	}
	if cfg.State.Backend != "sqlite" {
		t.Fatalf("backend = %q", cfg.State.Backend)
	}
	if cfg.LLM.Model != "gpt-custom" {
		t.Fatalf("model = %q", cfg.LLM.Model)
	}
	// Unset keys keep their defaults.
	if cfg.Log.Level != "info" {
		t.Fatalf("log level = %q", cfg.Log.Level)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv("PAPERFLOW_SERVER_PORT", "7777")
	t.Setenv("PAPERFLOW_LLM_API_KEY", "sk-env")
	chdirTemp(t)

	cfg, err := NewLoader().Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 7777 {
		t.Fatalf("env port not applied, got %d", cfg.Server.Port)
	}
	if cfg.LLM.APIKey != "sk-env" {
		t.Fatalf("env api key not applied, got %q", cfg.LLM.APIKey)
	}
}

func TestValidateAcceptsCompleteConfig(t *testing.T) {
	if err := NewValidator().Validate(validConfig()); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := validConfig()
	cfg.Server.Port = 0
	cfg.Log.Level = "verbose"
	cfg.State.Backend = "postgres"
	cfg.LLM.APIKey = ""
	cfg.Craft.Token = ""

	err := NewValidator().Validate(cfg)
	if err == nil {
		t.Fatal("invalid config accepted")
	}
	msg := err.Error()
	for _, field := range []string{"server.port", "log.level", "state.backend", "llm.api_key", "craft.token"} {
		if !strings.Contains(msg, field) {
			t.Errorf("error does not mention %s: %s", field, msg)
		}
	}
}

func TestValidateFeishuOptionalButComplete(t *testing.T) {
	cfg := validConfig()
	if err := NewValidator().Validate(cfg); err != nil {
		t.Fatalf("disabled bot must be allowed: %v", err)
	}

	cfg.Feishu = FeishuConfig{AppID: "cli_app"}
	if err := NewValidator().Validate(cfg); err == nil {
		t.Fatal("half-configured bot accepted")
	}

	cfg.Feishu = FeishuConfig{AppID: "cli_app", AppSecret: "s", VerificationToken: "v"}
	if err := NewValidator().Validate(cfg); err != nil {
		t.Fatalf("complete bot config rejected: %v", err)
	}
	if !cfg.Feishu.Enabled() {
		t.Fatal("Enabled() false for complete bot config")
	}
}

func TestValidateTemperatureRange(t *testing.T) {
	cfg := validConfig()
	cfg.LLM.Temperature = 3.5
	if err := NewValidator().Validate(cfg); err == nil {
		t.Fatal("out-of-range temperature accepted")
	}
}
