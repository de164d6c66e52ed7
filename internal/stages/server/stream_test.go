package server

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ferro-labs/pipeline-router/internal/module"
)

func collectEvents(t *testing.T, ch <-chan module.StreamChunk) []map[string]any {
	t.Helper()
	var events []map[string]any
	for chunk := range ch {
		if chunk.Err != nil {
			t.Fatalf("unexpected stream error: %v", chunk.Err)
		}
		if chunk.Done {
			return events
		}
		events = append(events, chunk.Data)
	}
	t.Fatal("stream closed without a Done chunk")
	return nil
}

func TestProcessRawStream_GeminiReshapedToAnthropicEvents(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, `data: {"candidates":[{"content":{"parts":[{"text":"Hel"}]}}]}`+"\n\n")
		fmt.Fprint(w, `data: {"candidates":[{"content":{"parts":[{"text":"lo"}]},"finishReason":"STOP"}]}`+"\n\n")
	}))
	defer upstream.Close()

	s := &httpServer{client: upstream.Client(), wireProtocol: "gemini"}
	frame := module.Frame{
		Direction: module.DirectionRequest,
		Request:   &module.WireRequest{Method: "POST", URL: upstream.URL, Body: map[string]any{"model": "gemini-1.5-pro"}, Stream: true},
	}

	out, err := s.processStream(context.Background(), frame)
	if err != nil {
		t.Fatalf("processStream: %v", err)
	}
	events := collectEvents(t, out.Response.Stream)

	var types []string
	for _, ev := range events {
		types = append(types, ev["type"].(string))
	}
	want := []string{"message_start", "content_block_start", "content_block_delta", "content_block_delta", "content_block_stop", "message_delta", "message_stop"}
	if len(types) != len(want) {
		t.Fatalf("event sequence = %v, want %v", types, want)
	}
	for i, tpe := range types {
		if tpe != want[i] {
			t.Errorf("event[%d] = %q, want %q", i, tpe, want[i])
		}
	}
}

func TestProcessRawStream_AnthropicWireRelayedUnchanged(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, `data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"hi"}}`+"\n\n")
		fmt.Fprint(w, `data: {"type":"message_stop"}`+"\n\n")
	}))
	defer upstream.Close()

	s := &httpServer{client: upstream.Client(), wireProtocol: "anthropic"}
	frame := module.Frame{
		Direction: module.DirectionRequest,
		Request:   &module.WireRequest{Method: "POST", URL: upstream.URL, Body: map[string]any{"model": "claude-3-sonnet"}, Stream: true},
	}

	out, err := s.processStream(context.Background(), frame)
	if err != nil {
		t.Fatalf("processStream: %v", err)
	}
	events := collectEvents(t, out.Response.Stream)
	if len(events) != 2 || events[0]["type"] != "content_block_delta" || events[1]["type"] != "message_stop" {
		t.Errorf("expected native anthropic events relayed unchanged, got %+v", events)
	}
}
