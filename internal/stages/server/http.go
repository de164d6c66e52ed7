// Package server implements the Server Module variant (spec §4.1, §4.2):
// the only stage allowed to perform network I/O. "http" is the default
// strategy (spec §4.2: "http (default) ... inferred from endpoint_url
// scheme"); for an OpenAI-wire upstream it dispatches through the
// github.com/openai/openai-go SDK exactly as providers/openai.go does,
// since the transformer/protocol/servercompat stages ahead of it already
// produced an OpenAI-shaped body. For every other wire protocol (the
// upstream URL/body was assembled by the gemini or anthropic Protocol
// stage instead) it falls back to a plain net/http POST, since those wire
// shapes have no matching third-party SDK in the retrieval pack.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/ferro-labs/pipeline-router/internal/module"
	"github.com/ferro-labs/pipeline-router/internal/rerr"
)

const (
	HTTP      = "http"
	WebSocket = "websocket"
	Bedrock   = "bedrock"
)

func init() {
	module.Default.Register(module.KindServer, HTTP, func() module.Module { return &httpServer{} })
}

type httpServer struct {
	status      module.Status
	client      *http.Client
	wireProtocol string
	oaiClient   *openai.Client
	timeout     time.Duration
}

func (s *httpServer) Configure(raw map[string]any) error {
	s.wireProtocol, _ = raw["wire_protocol"].(string)
	s.timeout = 60 * time.Second
	if v, ok := raw["timeout_seconds"]; ok {
		if n := toInt(v); n > 0 {
			s.timeout = time.Duration(n) * time.Second
		}
	}
	s.client = &http.Client{}

	if s.wireProtocol == "openai" {
		baseURL, _ := raw["base_url"].(string)
		apiKey, _ := raw["api_key"].(string)
		opts := []option.RequestOption{option.WithAPIKey(apiKey)}
		if baseURL != "" {
			opts = append(opts, option.WithBaseURL(baseURL))
		}
		c := openai.NewClient(opts...)
		s.oaiClient = &c
	}

	s.status = module.Status{Name: HTTP, Kind: module.KindServer, State: module.StateStopped}
	return nil
}

func (s *httpServer) Start(context.Context) error { s.status.State = module.StateRunning; return nil }
func (s *httpServer) Stop(context.Context) error  { s.status.State = module.StateStopped; return nil }
func (s *httpServer) HealthCheck(ctx context.Context) module.Health {
	return module.Health{Healthy: s.status.State == module.StateRunning}
}
func (s *httpServer) Status() module.Status { return s.status }

func (s *httpServer) Process(ctx context.Context, ectx *module.ExecContext, frame module.Frame) (module.Frame, error) {
	if frame.Direction != module.DirectionRequest {
		return frame, fmt.Errorf("server/http: Server stage only accepts request-direction frames")
	}
	if frame.Request.Stream {
		return s.processStream(ctx, frame)
	}
	if s.wireProtocol == "openai" {
		return s.processOpenAI(ctx, frame)
	}
	return s.processRaw(ctx, frame)
}

func (s *httpServer) processOpenAI(ctx context.Context, frame module.Frame) (module.Frame, error) {
	params, err := bodyToOpenAIParams(frame.Request.Body)
	if err != nil {
		return module.Frame{}, rerr.Wrap(rerr.ProtocolMismatch, "build openai chat completion params", err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	completion, err := s.oaiClient.Chat.Completions.New(ctx, *params)
	if err != nil {
		return module.Frame{}, classifyOpenAIError(err)
	}

	body, err := openAICompletionToBody(completion)
	if err != nil {
		return module.Frame{}, rerr.Wrap(rerr.ProtocolMismatch, "decode openai chat completion", err)
	}
	return module.Frame{Direction: module.DirectionResponse, Response: &module.WireResponse{StatusCode: http.StatusOK, Body: body}}, nil
}

func (s *httpServer) processRaw(ctx context.Context, frame module.Frame) (module.Frame, error) {
	payload, err := json.Marshal(frame.Request.Body)
	if err != nil {
		return module.Frame{}, rerr.Wrap(rerr.ProtocolMismatch, "marshal request body", err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	method := frame.Request.Method
	if method == "" {
		method = http.MethodPost
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, frame.Request.URL, bytes.NewReader(payload))
	if err != nil {
		return module.Frame{}, rerr.Wrap(rerr.ProtocolMismatch, "build upstream request", err)
	}
	for k, v := range frame.Request.Headers {
		httpReq.Header.Set(k, v)
	}

	httpResp, err := s.client.Do(httpReq)
	if err != nil {
		return module.Frame{}, classifyTransportError(err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return module.Frame{}, rerr.Wrap(rerr.UpstreamTransient, "read upstream response body", err)
	}

	if kind, ok := classifyStatusCode(httpResp.StatusCode); ok {
		return module.Frame{}, rerr.New(kind, fmt.Sprintf("upstream returned %d: %s", httpResp.StatusCode, string(respBody)))
	}

	var decoded map[string]any
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return module.Frame{}, rerr.Wrap(rerr.ProtocolMismatch, "decode upstream response", err)
	}

	return module.Frame{Direction: module.DirectionResponse, Response: &module.WireResponse{StatusCode: httpResp.StatusCode, Body: decoded}}, nil
}

func classifyStatusCode(code int) (rerr.Kind, bool) {
	switch {
	case code == http.StatusTooManyRequests:
		return rerr.UpstreamRateLimited, true
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return rerr.UpstreamAuth, true
	case code >= 500:
		return rerr.UpstreamTransient, true
	case code >= 400:
		return rerr.ProtocolMismatch, true
	default:
		return "", false
	}
}

func classifyTransportError(err error) error {
	return rerr.Wrap(rerr.UpstreamTransient, "upstream request failed", err)
}

func classifyOpenAIError(err error) error {
	return rerr.Wrap(rerr.UpstreamTransient, "openai chat completion failed", err)
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
