// Package transformer implements the Transformer Module variant (spec §4.1,
// §4.2): a shape-preserving bidirectional content rewriter between the
// front-facing Anthropic Messages shape and the OpenAI-shaped intermediate
// representation the rest of the pipeline operates on. Message-shape
// conversion is grounded on the teacher's providers/anthropic.go wire types
// (content blocks, tool_use/tool_result) and providers/gemini.go's
// convertMessagesToGemini (role remap, system-message folding).
package transformer

import (
	"context"
	"fmt"

	"github.com/ferro-labs/pipeline-router/internal/module"
)

const (
	// AnthropicToOpenAI is the default transformer (spec §4.2): front-facing
	// Anthropic Messages shape <-> OpenAI-shaped chat completion body.
	AnthropicToOpenAI = "anthropic-to-openai"
	// AnthropicToGemini is used when the pipeline's declared_protocol is
	// "gemini" (spec §4.2).
	AnthropicToGemini = "anthropic-to-gemini"
)

func init() {
	module.Default.Register(module.KindTransformer, AnthropicToOpenAI, func() module.Module {
		return &base{name: AnthropicToOpenAI, convertReq: anthropicRequestToOpenAI, convertResp: openAIResponseToAnthropic}
	})
	module.Default.Register(module.KindTransformer, AnthropicToGemini, func() module.Module {
		return &base{name: AnthropicToGemini, convertReq: anthropicRequestToGemini, convertResp: geminiResponseToAnthropic}
	})
}

// base implements module.Module for both transformer strategies; only the
// conversion functions differ.
type base struct {
	status     module.Status
	convertReq func(anthropicBody map[string]any) (map[string]any, error)
	convertResp func(providerBody map[string]any) (map[string]any, error)
	name       string
}

func (b *base) Configure(map[string]any) error {
	b.status = module.Status{Name: b.name, Kind: module.KindTransformer, State: module.StateStopped}
	return nil
}

func (b *base) Start(context.Context) error {
	b.status.State = module.StateRunning
	return nil
}

func (b *base) Stop(context.Context) error {
	b.status.State = module.StateStopped
	return nil
}

func (b *base) HealthCheck(context.Context) module.Health {
	return module.Health{Healthy: b.status.State == module.StateRunning}
}

func (b *base) Status() module.Status { return b.status }

func (b *base) Process(_ context.Context, _ *module.ExecContext, frame module.Frame) (module.Frame, error) {
	switch frame.Direction {
	case module.DirectionRequest:
		if frame.Request == nil {
			return frame, fmt.Errorf("transformer: request frame has no Request")
		}
		body, err := b.convertReq(frame.Request.Body)
		if err != nil {
			return frame, err
		}
		frame.Request.Body = body
		return frame, nil
	case module.DirectionResponse:
		if frame.Response == nil {
			return frame, fmt.Errorf("transformer: response frame has no Response")
		}
		body, err := b.convertResp(frame.Response.Body)
		if err != nil {
			return frame, err
		}
		frame.Response.Body = body
		return frame, nil
	default:
		return frame, fmt.Errorf("transformer: unknown frame direction %q", frame.Direction)
	}
}
