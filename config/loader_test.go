package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := NewLoader().Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.HTTPPort != 8080 {
		t.Errorf("unexpected default http port %d", cfg.Server.HTTPPort)
	}
	if cfg.Cache.TTL != 24*time.Hour {
		t.Errorf("unexpected default cache TTL %v", cfg.Cache.TTL)
	}
	if cfg.Retrieval.RRFConstant != 60 {
		t.Errorf("unexpected default RRF constant %d", cfg.Retrieval.RRFConstant)
	}
	if cfg.Retrieval.VariantCount != 5 {
		t.Errorf("unexpected default variant count %d", cfg.Retrieval.VariantCount)
	}
	if cfg.Conversation.WindowSize != 4 {
		t.Errorf("unexpected default window size %d", cfg.Conversation.WindowSize)
	}
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
server:
  http_port: 9000
llm:
  model: gpt-4o
retrieval:
  golden_size: 12
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.HTTPPort != 9000 {
		t.Errorf("expected yaml override 9000, got %d", cfg.Server.HTTPPort)
	}
	if cfg.LLM.Model != "gpt-4o" {
		t.Errorf("expected yaml override gpt-4o, got %s", cfg.LLM.Model)
	}
	if cfg.Retrieval.GoldenSize != 12 {
		t.Errorf("expected yaml override 12, got %d", cfg.Retrieval.GoldenSize)
	}
	// 未覆盖的字段保持默认值
	if cfg.Server.MetricsPort != 9091 {
		t.Errorf("expected default metrics port, got %d", cfg.Server.MetricsPort)
	}
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("server:\n  http_port: 9000\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("DOCQA_SERVER_HTTP_PORT", "9100")
	t.Setenv("DOCQA_CACHE_ENABLED", "false")
	t.Setenv("DOCQA_LLM_TIMEOUT", "90s")
	t.Setenv("DOCQA_LOG_OUTPUT_PATHS", "stdout, /var/log/docqa.log")

	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.HTTPPort != 9100 {
		t.Errorf("env must win over yaml, got %d", cfg.Server.HTTPPort)
	}
	if cfg.Cache.Enabled {
		t.Error("expected cache disabled via env")
	}
	if cfg.LLM.Timeout != 90*time.Second {
		t.Errorf("expected duration parsing, got %v", cfg.LLM.Timeout)
	}
	if len(cfg.Log.OutputPaths) != 2 || cfg.Log.OutputPaths[1] != "/var/log/docqa.log" {
		t.Errorf("expected comma-split slice, got %v", cfg.Log.OutputPaths)
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := NewLoader().WithConfigPath("/nonexistent/config.yaml").Load()
	if err != nil {
		t.Fatalf("missing file must not fail: %v", err)
	}
	if cfg.Server.HTTPPort != 8080 {
		t.Errorf("expected defaults, got %d", cfg.Server.HTTPPort)
	}
}

func TestLoad_ValidatorRejects(t *testing.T) {
	_, err := NewLoader().
		WithValidator(func(c *Config) error {
			if c.Server.HTTPPort == 8080 {
				return os.ErrInvalid
			}
			return nil
		}).
		Load()
	if err == nil {
		t.Fatal("expected validation error")
	}
}

func TestLoad_BadEnvValue(t *testing.T) {
	t.Setenv("DOCQA_SERVER_HTTP_PORT", "not-a-number")

	if _, err := NewLoader().Load(); err == nil {
		t.Fatal("expected error for unparsable env value")
	}
}
