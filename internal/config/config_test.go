package config

import (
	"testing"
	"time"
)

func TestLoadSimServerConfigDefaults(t *testing.T) {
	cfg, err := LoadSimServerConfig()
	if err != nil {
		t.Fatalf("LoadSimServerConfig: %v", err)
	}
	if cfg.HTTPAddr != ":9020" || cfg.LLMProvider != "ollama" || cfg.TickInterval != time.Second {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.SeedSet {
		t.Fatalf("seed should be unset by default")
	}
}

func TestLoadSimServerConfigOverrides(t *testing.T) {
	t.Setenv("SIM_SEED", "42")
	t.Setenv("SIM_AUTOSTART", "true")
	t.Setenv("SIM_TICK_SECONDS", "30.5")
	t.Setenv("LLM_TIMEOUT_MS", "1500")
	t.Setenv("OLLAMA_BASE_URL", "http://ollama:11434/")

	cfg, err := LoadSimServerConfig()
	if err != nil {
		t.Fatalf("LoadSimServerConfig: %v", err)
	}
	if !cfg.SeedSet || cfg.Seed != 42 {
		t.Fatalf("seed=%d set=%v want 42", cfg.Seed, cfg.SeedSet)
	}
	if !cfg.AutoStart || cfg.TickSeconds != 30.5 || cfg.LLMTimeout != 1500*time.Millisecond {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if cfg.OllamaBaseURL != "http://ollama:11434" {
		t.Fatalf("base url=%q", cfg.OllamaBaseURL)
	}
}

func TestLoadSimServerConfigValidation(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "openai without key", env: map[string]string{"LLM_PROVIDER": "openai"}},
		{name: "claude without key", env: map[string]string{"LLM_PROVIDER": "claude"}},
		{name: "unknown provider", env: map[string]string{"LLM_PROVIDER": "parrot"}},
		{name: "two stores", env: map[string]string{"DB_DSN": "postgres://x", "SIM_SQLITE_PATH": "/tmp/x.db"}},
		{name: "zero phases", env: map[string]string{"SIM_PLANNING_PHASES": "0"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := LoadSimServerConfig(); err == nil {
				t.Fatalf("expected an error")
			}
		})
	}
}

func TestDisabledPlannerSkipsProviderChecks(t *testing.T) {
	t.Setenv("PLANNER_ENABLED", "false")
	t.Setenv("LLM_PROVIDER", "openai")
	if _, err := LoadSimServerConfig(); err != nil {
		t.Fatalf("disabled planner should not need a key: %v", err)
	}
}

func TestLoadDeviceConsoleConfig(t *testing.T) {
	t.Setenv("DEVICE_ACTIONS", " dim , ,set_color")
	cfg := LoadDeviceConsoleConfig()
	if len(cfg.Actions) != 2 || cfg.Actions[0] != "dim" || cfg.Actions[1] != "set_color" {
		t.Fatalf("actions=%v", cfg.Actions)
	}
	if cfg.MQTTTopicPrefix != "housesim" {
		t.Fatalf("prefix=%q", cfg.MQTTTopicPrefix)
	}
}
