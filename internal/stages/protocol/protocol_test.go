package protocol

import (
	"context"
	"testing"

	"github.com/ferro-labs/pipeline-router/internal/module"
)

func construct(t *testing.T, name string, cfg map[string]any) module.Module {
	t.Helper()
	m, err := module.Default.Construct(module.KindProtocol, name, cfg)
	if err != nil {
		t.Fatalf("Construct %s: %v", name, err)
	}
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start %s: %v", name, err)
	}
	return m
}

func TestOpenAIProtocol_RequestDirection_BuildsEndpoint(t *testing.T) {
	p := construct(t, OpenAI, map[string]any{"base_url": "https://api.openai.com/v1"})
	frame := module.Frame{
		Direction: module.DirectionRequest,
		Request:   &module.WireRequest{Body: map[string]any{"model": "gpt-4o"}},
	}
	out, err := p.Process(context.Background(), &module.ExecContext{}, frame)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if out.Request.URL != "https://api.openai.com/v1/chat/completions" {
		t.Errorf("unexpected URL: %s", out.Request.URL)
	}
	if out.Request.Method != "POST" {
		t.Errorf("unexpected method: %s", out.Request.Method)
	}
}

func TestGeminiProtocol_RequestDirection_BuildsModelScopedURL(t *testing.T) {
	p := construct(t, Gemini, map[string]any{"base_url": "https://generativelanguage.googleapis.com"})
	frame := module.Frame{
		Direction: module.DirectionRequest,
		Request:   &module.WireRequest{Body: map[string]any{"model": "gemini-1.5-pro"}},
	}
	out, err := p.Process(context.Background(), &module.ExecContext{}, frame)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	want := "https://generativelanguage.googleapis.com/v1beta/models/gemini-1.5-pro:generateContent"
	if out.Request.URL != want {
		t.Errorf("URL = %s, want %s", out.Request.URL, want)
	}
	if _, stillPresent := out.Request.Body["model"]; stillPresent {
		t.Errorf("model should be consumed into the URL, not left in body")
	}
}

func TestGeminiProtocol_Streaming_UsesStreamEndpoint(t *testing.T) {
	p := construct(t, Gemini, map[string]any{"base_url": "https://generativelanguage.googleapis.com"})
	frame := module.Frame{
		Direction: module.DirectionRequest,
		Request:   &module.WireRequest{Body: map[string]any{"model": "gemini-1.5-pro"}, Stream: true},
	}
	out, err := p.Process(context.Background(), &module.ExecContext{}, frame)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if out.Request.URL != "https://generativelanguage.googleapis.com/v1beta/models/gemini-1.5-pro:streamGenerateContent?alt=sse" {
		t.Errorf("unexpected streaming URL: %s", out.Request.URL)
	}
}

func TestAnthropicProtocol_RequestDirection_ExtractsSystem(t *testing.T) {
	p := construct(t, Anthropic, map[string]any{"base_url": "https://anthropic-compatible.example.com"})
	frame := module.Frame{
		Direction: module.DirectionRequest,
		Request: &module.WireRequest{Body: map[string]any{
			"model": "claude-instant",
			"messages": []any{
				map[string]any{"role": "system", "content": "be terse"},
				map[string]any{"role": "user", "content": "hi"},
			},
		}},
	}
	out, err := p.Process(context.Background(), &module.ExecContext{}, frame)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if out.Request.Body["system"] != "be terse" {
		t.Errorf("expected system extracted, got %+v", out.Request.Body)
	}
	messages := out.Request.Body["messages"].([]any)
	if len(messages) != 1 {
		t.Errorf("expected system message removed from messages array, got %d", len(messages))
	}
}

func TestAnthropicProtocol_ResponseDirection_ReshapesToOpenAIIntermediate(t *testing.T) {
	p := construct(t, Anthropic, map[string]any{"base_url": "https://x"})
	frame := module.Frame{
		Direction: module.DirectionResponse,
		Response: &module.WireResponse{Body: map[string]any{
			"id":    "msg_1",
			"model": "claude-instant",
			"content": []any{
				map[string]any{"type": "text", "text": "hello"},
			},
			"usage": map[string]any{"input_tokens": 4, "output_tokens": 1},
		}},
	}
	out, err := p.Process(context.Background(), &module.ExecContext{}, frame)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	choices, _ := out.Response.Body["choices"].([]any)
	if len(choices) != 1 {
		t.Fatalf("expected 1 choice, got %d", len(choices))
	}
	msg := choices[0].(map[string]any)["message"].(map[string]any)
	if msg["content"] != "hello" {
		t.Errorf("unexpected message content: %+v", msg)
	}
}
