package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/ferro-labs/pipeline-router/internal/module"
	"github.com/ferro-labs/pipeline-router/internal/rerr"
)

// processStream dispatches a streaming request, grounded on
// providers/openai.go's CompleteStream (goroutine-fed channel over the SDK
// stream) for the openai wire protocol, and a generic SSE line scanner for
// every other upstream whose Protocol stage already appended the streaming
// query parameter (gemini's "?alt=sse", anthropic's "stream": true body flag).
func (s *httpServer) processStream(ctx context.Context, frame module.Frame) (module.Frame, error) {
	if s.wireProtocol == "openai" {
		return s.processOpenAIStream(ctx, frame)
	}
	return s.processRawStream(ctx, frame)
}

func (s *httpServer) processOpenAIStream(ctx context.Context, frame module.Frame) (module.Frame, error) {
	params, err := bodyToOpenAIParams(frame.Request.Body)
	if err != nil {
		return module.Frame{}, rerr.Wrap(rerr.ProtocolMismatch, "build openai chat completion params", err)
	}

	stream := s.oaiClient.Chat.Completions.NewStreaming(ctx, *params)
	out := make(chan module.StreamChunk)
	go func() {
		defer close(out)
		model, _ := frame.Request.Body["model"].(string)
		conv := newAnthropicStreamConverter(model)
		for stream.Next() {
			chunk := stream.Current()
			for _, c := range chunk.Choices {
				for _, ev := range conv.Delta(c.Delta.Content) {
					out <- module.StreamChunk{Data: ev}
				}
				if string(c.FinishReason) != "" {
					for _, ev := range conv.Stop(string(c.FinishReason)) {
						out <- module.StreamChunk{Data: ev}
					}
					out <- module.StreamChunk{Done: true}
					return
				}
			}
		}
		if err := stream.Err(); err != nil {
			out <- module.StreamChunk{Err: classifyOpenAIError(err)}
			return
		}
		for _, ev := range conv.Stop("") {
			out <- module.StreamChunk{Data: ev}
		}
		out <- module.StreamChunk{Done: true}
	}()

	return module.Frame{Direction: module.DirectionResponse, Response: &module.WireResponse{StatusCode: http.StatusOK, Stream: out}}, nil
}

func (s *httpServer) processRawStream(ctx context.Context, frame module.Frame) (module.Frame, error) {
	payload, err := json.Marshal(frame.Request.Body)
	if err != nil {
		return module.Frame{}, rerr.Wrap(rerr.ProtocolMismatch, "marshal streaming request body", err)
	}

	method := frame.Request.Method
	if method == "" {
		method = http.MethodPost
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, frame.Request.URL, bytes.NewReader(payload))
	if err != nil {
		return module.Frame{}, rerr.Wrap(rerr.ProtocolMismatch, "build streaming upstream request", err)
	}
	for k, v := range frame.Request.Headers {
		httpReq.Header.Set(k, v)
	}
	httpReq.Header.Set("Accept", "text/event-stream")

	httpResp, err := s.client.Do(httpReq)
	if err != nil {
		return module.Frame{}, classifyTransportError(err)
	}
	if kind, ok := classifyStatusCode(httpResp.StatusCode); ok {
		defer func() { _ = httpResp.Body.Close() }()
		return module.Frame{}, rerr.New(kind, fmt.Sprintf("upstream stream returned %d", httpResp.StatusCode))
	}

	model, _ := frame.Request.Body["model"].(string)
	wireProtocol := s.wireProtocol
	out := make(chan module.StreamChunk)
	go func() {
		defer close(out)
		defer func() { _ = httpResp.Body.Close() }()
		conv := newAnthropicStreamConverter(model)
		scanner := bufio.NewScanner(httpResp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "" {
				continue
			}
			if data == "[DONE]" {
				break
			}
			var decoded map[string]any
			if err := json.Unmarshal([]byte(data), &decoded); err != nil {
				out <- module.StreamChunk{Err: rerr.Wrap(rerr.ProtocolMismatch, "decode upstream stream chunk", err)}
				return
			}

			// An upstream that already speaks the Anthropic Messages wire
			// format emits Anthropic-shaped events natively; relay them
			// unchanged. Every other raw-path protocol (gemini's
			// streamGenerateContent candidates/parts shape) is reshaped
			// through the same converter the OpenAI-SDK path uses.
			if wireProtocol == "anthropic" {
				out <- module.StreamChunk{Data: decoded}
				if t, _ := decoded["type"].(string); t == "message_stop" {
					out <- module.StreamChunk{Done: true}
					return
				}
				continue
			}

			text, finishReason, done := extractGeminiDelta(decoded)
			for _, ev := range conv.Delta(text) {
				out <- module.StreamChunk{Data: ev}
			}
			if done {
				for _, ev := range conv.Stop(finishReason) {
					out <- module.StreamChunk{Data: ev}
				}
				out <- module.StreamChunk{Done: true}
				return
			}
		}
		if err := scanner.Err(); err != nil {
			out <- module.StreamChunk{Err: rerr.Wrap(rerr.UpstreamTransient, "read upstream stream", err)}
			return
		}
		for _, ev := range conv.Stop("") {
			out <- module.StreamChunk{Data: ev}
		}
		out <- module.StreamChunk{Done: true}
	}()

	return module.Frame{Direction: module.DirectionResponse, Response: &module.WireResponse{StatusCode: httpResp.StatusCode, Stream: out}}, nil
}

// extractGeminiDelta pulls the assistant text and completion state out of one
// streamGenerateContent chunk (candidates[0].content.parts[].text,
// candidates[0].finishReason), grounded on providers/gemini.go's
// geminiStreamResponse shape.
func extractGeminiDelta(decoded map[string]any) (text string, finishReason string, done bool) {
	candidates, _ := decoded["candidates"].([]any)
	if len(candidates) == 0 {
		return "", "", false
	}
	candidate, _ := candidates[0].(map[string]any)
	content, _ := candidate["content"].(map[string]any)
	parts, _ := content["parts"].([]any)
	for _, rp := range parts {
		part, ok := rp.(map[string]any)
		if !ok {
			continue
		}
		if t, ok := part["text"].(string); ok {
			text += t
		}
	}
	finishReason, _ = candidate["finishReason"].(string)
	return text, finishReason, finishReason != ""
}
