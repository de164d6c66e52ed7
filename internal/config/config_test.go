package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ferro-labs/pipeline-router/internal/rerr"
)

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func TestLoad_JSON_SingleProvider(t *testing.T) {
	path := writeTemp(t, "cfg.json", `{
		"Providers": [
			{"name": "openai", "protocol": "openai", "api_base_url": "https://api.openai.com/v1", "api_key": "sk-test", "models": ["gpt-4o"]}
		],
		"router": {"default": "openai,gpt-4o"}
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Providers) != 1 || cfg.Providers[0].Name != "openai" {
		t.Fatalf("unexpected providers: %+v", cfg.Providers)
	}
	if cfg.Router["default"] != "openai,gpt-4o" {
		t.Fatalf("unexpected router: %+v", cfg.Router)
	}
}

func TestLoad_YAML_MultiKeyProvider(t *testing.T) {
	path := writeTemp(t, "cfg.yaml", `
Providers:
  - name: qwen
    protocol: openai
    api_base_url: https://dashscope.aliyuncs.com/v1
    api_key: ["k0", "k1", "k2"]
    models: ["qwen-plus"]
router:
  default: "qwen,qwen-plus"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Providers[0].APIKey) != 3 {
		t.Fatalf("expected 3 keys, got %d", len(cfg.Providers[0].APIKey))
	}
}

func TestLoad_EnvSubstitution(t *testing.T) {
	t.Setenv("TEST_OPENAI_KEY", "sk-from-env")
	path := writeTemp(t, "cfg.json", `{
		"Providers": [
			{"name": "openai", "api_base_url": "https://api.openai.com/v1", "api_key": "${TEST_OPENAI_KEY}", "models": ["gpt-4o"]}
		],
		"router": {"default": "openai,gpt-4o"}
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Providers[0].APIKey[0] != "sk-from-env" {
		t.Fatalf("expected substituted env value, got %q", cfg.Providers[0].APIKey[0])
	}
}

func TestLoad_EnvSubstitution_Default(t *testing.T) {
	path := writeTemp(t, "cfg.json", `{
		"Providers": [
			{"name": "openai", "api_base_url": "https://api.openai.com/v1", "api_key": "${MISSING_KEY:fallback}", "models": ["gpt-4o"]}
		],
		"router": {"default": "openai,gpt-4o"}
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Providers[0].APIKey[0] != "fallback" {
		t.Fatalf("expected default fallback value, got %q", cfg.Providers[0].APIKey[0])
	}
}

func TestLoad_EnvSubstitution_MissingRequired_HardError(t *testing.T) {
	path := writeTemp(t, "cfg.json", `{
		"Providers": [
			{"name": "openai", "api_base_url": "https://api.openai.com/v1", "api_key": "${DEFINITELY_UNSET_VAR}", "models": ["gpt-4o"]}
		],
		"router": {"default": "openai,gpt-4o"}
	}`)

	_, err := Load(path)
	if !rerr.Is(err, rerr.ConfigurationInvalid) {
		t.Fatalf("expected ConfigurationInvalid, got %v", err)
	}
}

func TestValidate_DuplicateProviderName(t *testing.T) {
	cfg := &UserConfig{
		Providers: []Provider{
			{Name: "openai", APIBaseURL: "https://x", APIKey: StringOrSlice{"k"}},
			{Name: "openai", APIBaseURL: "https://y", APIKey: StringOrSlice{"k"}},
		},
		Router: map[string]string{"default": "openai,gpt-4o"},
	}
	err := Validate(cfg)
	if !rerr.Is(err, rerr.ConfigurationInvalid) {
		t.Fatalf("expected ConfigurationInvalid, got %v", err)
	}
}

func TestValidate_NoProviders(t *testing.T) {
	err := Validate(&UserConfig{Router: map[string]string{"default": "x,y"}})
	if !rerr.Is(err, rerr.ConfigurationInvalid) {
		t.Fatalf("expected ConfigurationInvalid, got %v", err)
	}
}

func TestDefaultServer_Defaults(t *testing.T) {
	cfg := &UserConfig{}
	s := cfg.DefaultServer()
	if s.Port != 5506 || s.Host != "0.0.0.0" {
		t.Fatalf("unexpected defaults: %+v", s)
	}
}
