// Bedrock Server strategy: AWS Bedrock's InvokeModel API is authenticated
// with SigV4, not a bearer token, so it cannot flow through the "http"
// strategy the way every other upstream does —
// grounded on providers/bedrock.go's BedrockProvider, which carries its own
// *bedrockruntime.Client instead of a base URL + API key pair. Only the
// Anthropic-Claude-on-Bedrock request/response shape is implemented, since
// that is the shape the Transformer/Protocol stages ahead of this one
// already produce.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/ferro-labs/pipeline-router/internal/module"
	"github.com/ferro-labs/pipeline-router/internal/rerr"
)

func init() {
	module.Default.Register(module.KindServer, Bedrock, func() module.Module { return &bedrockServer{} })
}

type bedrockAnthropicRequest struct {
	AnthropicVersion string           `json:"anthropic_version"`
	MaxTokens        int              `json:"max_tokens"`
	Messages         []bedrockMessage `json:"messages"`
	System           string           `json:"system,omitempty"`
}

type bedrockMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type bedrockAnthropicResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

type bedrockServer struct {
	status module.Status
	client *bedrockruntime.Client
}

func (b *bedrockServer) Configure(raw map[string]any) error {
	region, _ := raw["region"].(string)
	if region == "" {
		region = "us-east-1"
	}
	cfg, err := awsconfig.LoadDefaultConfig(context.Background(), awsconfig.WithRegion(region))
	if err != nil {
		return rerr.Wrap(rerr.StartupFailed, "load AWS config for bedrock server", err)
	}
	b.client = bedrockruntime.NewFromConfig(cfg)
	b.status = module.Status{Name: Bedrock, Kind: module.KindServer, State: module.StateStopped}
	return nil
}

func (b *bedrockServer) Start(context.Context) error { b.status.State = module.StateRunning; return nil }
func (b *bedrockServer) Stop(context.Context) error  { b.status.State = module.StateStopped; return nil }
func (b *bedrockServer) HealthCheck(context.Context) module.Health {
	return module.Health{Healthy: b.status.State == module.StateRunning}
}
func (b *bedrockServer) Status() module.Status { return b.status }

func (b *bedrockServer) Process(ctx context.Context, ectx *module.ExecContext, frame module.Frame) (module.Frame, error) {
	if frame.Direction != module.DirectionRequest {
		return frame, fmt.Errorf("server/bedrock: Server stage only accepts request-direction frames")
	}
	if frame.Request.Stream {
		return module.Frame{}, rerr.New(rerr.ProtocolMismatch, "server/bedrock: streaming is not supported by this strategy")
	}

	model, _ := frame.Request.Body["model"].(string)
	if model == "" {
		model = ectx.TargetModel
	}

	req := bedrockAnthropicRequest{
		AnthropicVersion: "bedrock-2023-05-31",
		MaxTokens:        toInt(frame.Request.Body["max_tokens"]),
	}
	if req.MaxTokens == 0 {
		req.MaxTokens = 1024
	}
	if system, ok := frame.Request.Body["system"].(string); ok {
		req.System = system
	}
	if msgs, ok := frame.Request.Body["messages"].([]any); ok {
		for _, rm := range msgs {
			if m, ok := rm.(map[string]any); ok {
				role, _ := m["role"].(string)
				content, _ := m["content"].(string)
				req.Messages = append(req.Messages, bedrockMessage{Role: role, Content: content})
			}
		}
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return module.Frame{}, rerr.Wrap(rerr.ProtocolMismatch, "marshal bedrock anthropic request", err)
	}

	out, err := b.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(model),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        payload,
	})
	if err != nil {
		return module.Frame{}, classifyBedrockError(err)
	}

	var decoded bedrockAnthropicResponse
	if err := json.Unmarshal(out.Body, &decoded); err != nil {
		return module.Frame{}, rerr.Wrap(rerr.ProtocolMismatch, "decode bedrock response", err)
	}

	var text string
	for _, c := range decoded.Content {
		text += c.Text
	}

	body := map[string]any{
		"id":    decoded.ID,
		"model": model,
		"content": []any{
			map[string]any{"type": "text", "text": text},
		},
		"usage": map[string]any{
			"input_tokens":  decoded.Usage.InputTokens,
			"output_tokens": decoded.Usage.OutputTokens,
		},
	}
	return module.Frame{Direction: module.DirectionResponse, Response: &module.WireResponse{StatusCode: 200, Body: body}}, nil
}

// classifyBedrockError maps the AWS SDK's typed InvokeModel exceptions into
// spec §7's Kinds: throttling -> rate limited, access-denied -> auth
// failure, model-timeout/context deadline -> timeout, everything else ->
// transient (spec §9, Zero Fallback: never silently downgraded to success).
func classifyBedrockError(err error) error {
	var throttling *types.ThrottlingException
	if errors.As(err, &throttling) {
		return rerr.Wrap(rerr.UpstreamRateLimited, "bedrock InvokeModel throttled", err)
	}
	var accessDenied *types.AccessDeniedException
	if errors.As(err, &accessDenied) {
		return rerr.Wrap(rerr.UpstreamAuth, "bedrock InvokeModel access denied", err)
	}
	var modelTimeout *types.ModelTimeoutException
	if errors.As(err, &modelTimeout) {
		return rerr.Wrap(rerr.UpstreamTimeout, "bedrock InvokeModel timed out", err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return rerr.Wrap(rerr.UpstreamTimeout, "bedrock InvokeModel deadline exceeded", err)
	}
	return rerr.Wrap(rerr.UpstreamTransient, "bedrock InvokeModel failed", err)
}
