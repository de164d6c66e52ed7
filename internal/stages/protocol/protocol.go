// Package protocol implements the Protocol Module variant (spec §4.1,
// §4.2): serialisation and endpoint conventions for each upstream wire
// format, keyed by declared_protocol (openai|gemini|anthropic, default
// openai). Where the Transformer stage reshapes message *content*, Protocol
// assembles the concrete request line (method, URL, streaming query
// params) the way providers/openai.go, providers/gemini.go, and
// providers/anthropic.go each build their endpoint URL and headers.
package protocol

import (
	"context"
	"fmt"
	"strings"

	"github.com/ferro-labs/pipeline-router/internal/module"
)

const (
	OpenAI    = "openai"
	Gemini    = "gemini"
	Anthropic = "anthropic"
)

func init() {
	module.Default.Register(module.KindProtocol, OpenAI, func() module.Module { return &openAIProtocol{} })
	module.Default.Register(module.KindProtocol, Gemini, func() module.Module { return &geminiProtocol{} })
	module.Default.Register(module.KindProtocol, Anthropic, func() module.Module { return &anthropicProtocol{} })
}

type cfg struct {
	baseURL string
}

func parseConfig(raw map[string]any) cfg {
	c := cfg{}
	if v, ok := raw["base_url"].(string); ok {
		c.baseURL = strings.TrimRight(v, "/")
	}
	return c
}

// openAIProtocol builds POST {base_url}/chat/completions with an
// OpenAI-shaped body passthrough (the transformer already produced that
// shape) — grounded on providers/openai.go's endpoint construction.
type openAIProtocol struct {
	status module.Status
	cfg    cfg
}

func (p *openAIProtocol) Configure(raw map[string]any) error {
	p.cfg = parseConfig(raw)
	p.status = module.Status{Name: OpenAI, Kind: module.KindProtocol, State: module.StateStopped}
	return nil
}
func (p *openAIProtocol) Start(context.Context) error { p.status.State = module.StateRunning; return nil }
func (p *openAIProtocol) Stop(context.Context) error  { p.status.State = module.StateStopped; return nil }
func (p *openAIProtocol) HealthCheck(context.Context) module.Health {
	return module.Health{Healthy: p.status.State == module.StateRunning}
}
func (p *openAIProtocol) Status() module.Status { return p.status }

func (p *openAIProtocol) Process(_ context.Context, _ *module.ExecContext, frame module.Frame) (module.Frame, error) {
	switch frame.Direction {
	case module.DirectionRequest:
		frame.Request.Method = "POST"
		frame.Request.URL = p.cfg.baseURL + "/chat/completions"
		if frame.Request.Headers == nil {
			frame.Request.Headers = map[string]string{}
		}
		frame.Request.Headers["Content-Type"] = "application/json"
		return frame, nil
	case module.DirectionResponse:
		return frame, nil
	default:
		return frame, fmt.Errorf("protocol/openai: unknown frame direction %q", frame.Direction)
	}
}

// geminiProtocol builds the generateContent/streamGenerateContent endpoint,
// grounded on providers/gemini.go's URL assembly (?key=, :generateContent).
type geminiProtocol struct {
	status module.Status
	cfg    cfg
}

func (p *geminiProtocol) Configure(raw map[string]any) error {
	p.cfg = parseConfig(raw)
	p.status = module.Status{Name: Gemini, Kind: module.KindProtocol, State: module.StateStopped}
	return nil
}
func (p *geminiProtocol) Start(context.Context) error { p.status.State = module.StateRunning; return nil }
func (p *geminiProtocol) Stop(context.Context) error  { p.status.State = module.StateStopped; return nil }
func (p *geminiProtocol) HealthCheck(context.Context) module.Health {
	return module.Health{Healthy: p.status.State == module.StateRunning}
}
func (p *geminiProtocol) Status() module.Status { return p.status }

func (p *geminiProtocol) Process(_ context.Context, ectx *module.ExecContext, frame module.Frame) (module.Frame, error) {
	switch frame.Direction {
	case module.DirectionRequest:
		method := "generateContent"
		if frame.Request.Stream {
			method = "streamGenerateContent"
		}
		model, _ := frame.Request.Body["model"].(string)
		if model == "" {
			model = ectx.TargetModel
		}
		delete(frame.Request.Body, "model")
		frame.Request.Method = "POST"
		frame.Request.URL = fmt.Sprintf("%s/v1beta/models/%s:%s", p.cfg.baseURL, model, method)
		if frame.Request.Stream {
			frame.Request.URL += "?alt=sse"
		}
		if frame.Request.Headers == nil {
			frame.Request.Headers = map[string]string{}
		}
		frame.Request.Headers["Content-Type"] = "application/json"
		return frame, nil
	case module.DirectionResponse:
		return frame, nil
	default:
		return frame, fmt.Errorf("protocol/gemini: unknown frame direction %q", frame.Direction)
	}
}

// anthropicProtocol targets an upstream that itself speaks the Anthropic
// Messages wire format (a distinct Anthropic-compatible backend, not the
// front door). It converts the OpenAI-shaped intermediate produced by the
// default transformer back into native Anthropic request/response shape,
// grounded on providers/anthropic.go's anthropicRequest/anthropicResponse
// wire types.
type anthropicProtocol struct {
	status module.Status
	cfg    cfg
}

func (p *anthropicProtocol) Configure(raw map[string]any) error {
	p.cfg = parseConfig(raw)
	p.status = module.Status{Name: Anthropic, Kind: module.KindProtocol, State: module.StateStopped}
	return nil
}
func (p *anthropicProtocol) Start(context.Context) error { p.status.State = module.StateRunning; return nil }
func (p *anthropicProtocol) Stop(context.Context) error  { p.status.State = module.StateStopped; return nil }
func (p *anthropicProtocol) HealthCheck(context.Context) module.Health {
	return module.Health{Healthy: p.status.State == module.StateRunning}
}
func (p *anthropicProtocol) Status() module.Status { return p.status }

func (p *anthropicProtocol) Process(_ context.Context, _ *module.ExecContext, frame module.Frame) (module.Frame, error) {
	switch frame.Direction {
	case module.DirectionRequest:
		messages, _ := frame.Request.Body["messages"].([]any)
		var system string
		var converted []any
		for _, rm := range messages {
			msg, ok := rm.(map[string]any)
			if !ok {
				continue
			}
			role, _ := msg["role"].(string)
			content, _ := msg["content"].(string)
			if role == "system" {
				system = content
				continue
			}
			converted = append(converted, map[string]any{"role": role, "content": content})
		}
		maxTokens := frame.Request.Body["max_tokens"]
		if maxTokens == nil {
			maxTokens = 1024
		}
		body := map[string]any{
			"model":      frame.Request.Body["model"],
			"max_tokens": maxTokens,
			"messages":   converted,
		}
		if system != "" {
			body["system"] = system
		}
		if frame.Request.Stream {
			body["stream"] = true
		}
		frame.Request.Body = body
		frame.Request.Method = "POST"
		frame.Request.URL = p.cfg.baseURL + "/v1/messages"
		if frame.Request.Headers == nil {
			frame.Request.Headers = map[string]string{}
		}
		frame.Request.Headers["anthropic-version"] = "2023-06-01"
		frame.Request.Headers["Content-Type"] = "application/json"
		return frame, nil
	case module.DirectionResponse:
		// The upstream already returned a native Anthropic message shape;
		// reshape it into the OpenAI-shaped intermediate so the shared
		// default transformer's response-direction step still applies
		// uniformly regardless of which protocol stage ran.
		content, _ := frame.Response.Body["content"].([]any)
		var text string
		for _, c := range content {
			if m, ok := c.(map[string]any); ok {
				if t, ok := m["text"].(string); ok {
					text += t
				}
			}
		}
		usage, _ := frame.Response.Body["usage"].(map[string]any)
		promptTokens, completionTokens := 0, 0
		if usage != nil {
			promptTokens = toInt(usage["input_tokens"])
			completionTokens = toInt(usage["output_tokens"])
		}
		frame.Response.Body = map[string]any{
			"id":    frame.Response.Body["id"],
			"model": frame.Response.Body["model"],
			"choices": []any{
				map[string]any{
					"index":         0,
					"message":       map[string]any{"role": "assistant", "content": text},
					"finish_reason": "stop",
				},
			},
			"usage": map[string]any{
				"prompt_tokens":     promptTokens,
				"completion_tokens": completionTokens,
			},
		}
		return frame, nil
	default:
		return frame, fmt.Errorf("protocol/anthropic: unknown frame direction %q", frame.Direction)
	}
}

func toInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case float64:
		return int(n)
	default:
		return 0
	}
}
