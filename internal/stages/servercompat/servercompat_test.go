package servercompat

import (
	"context"
	"testing"

	"github.com/ferro-labs/pipeline-router/internal/module"
)

func TestOllamaQuirk_NoAuthHeaderInjected(t *testing.T) {
	m, err := module.Default.Construct(module.KindServerCompat, Ollama, map[string]any{"api_key": "unused"})
	if err != nil {
		t.Fatalf("Construct: %v", err)
	}
	_ = m.Start(context.Background())

	frame := module.Frame{Direction: module.DirectionRequest, Request: &module.WireRequest{Body: map[string]any{}}}
	out, err := m.Process(context.Background(), &module.ExecContext{}, frame)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if _, ok := out.Request.Headers["Authorization"]; ok {
		t.Errorf("ollama quirk should not set an Authorization header")
	}
}

func TestAnthropicQuirk_UsesXAPIKeyHeader(t *testing.T) {
	m, _ := module.Default.Construct(module.KindServerCompat, Anthropic, map[string]any{"api_key": "sk-ant"})
	_ = m.Start(context.Background())

	frame := module.Frame{Direction: module.DirectionRequest, Request: &module.WireRequest{Body: map[string]any{}}}
	out, err := m.Process(context.Background(), &module.ExecContext{}, frame)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if out.Request.Headers["x-api-key"] != "sk-ant" {
		t.Errorf("expected x-api-key header, got %+v", out.Request.Headers)
	}
}

func TestOpenAIQuirk_DefaultsToBearerAuth(t *testing.T) {
	m, _ := module.Default.Construct(module.KindServerCompat, OpenAI, map[string]any{"api_key": "sk-test"})
	_ = m.Start(context.Background())

	frame := module.Frame{Direction: module.DirectionRequest, Request: &module.WireRequest{Body: map[string]any{}}}
	out, err := m.Process(context.Background(), &module.ExecContext{}, frame)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if out.Request.Headers["Authorization"] != "Bearer sk-test" {
		t.Errorf("expected Bearer auth, got %+v", out.Request.Headers)
	}
}

func TestQuirk_MaxTokensCap(t *testing.T) {
	m, _ := module.Default.Construct(module.KindServerCompat, Passthrough, map[string]any{"max_tokens_cap": 100})
	_ = m.Start(context.Background())

	frame := module.Frame{Direction: module.DirectionRequest, Request: &module.WireRequest{Body: map[string]any{"max_tokens": 4096}}}
	out, err := m.Process(context.Background(), &module.ExecContext{}, frame)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if out.Request.Body["max_tokens"] != 100 {
		t.Errorf("expected max_tokens capped to 100, got %+v", out.Request.Body["max_tokens"])
	}
}
