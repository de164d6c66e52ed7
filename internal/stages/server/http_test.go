package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ferro-labs/pipeline-router/internal/module"
	"github.com/ferro-labs/pipeline-router/internal/rerr"
)

func TestHTTPServer_Raw_SuccessfulCall(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["model"] != "llama3" {
			t.Errorf("unexpected body: %+v", body)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"id": "1", "choices": []any{}})
	}))
	defer upstream.Close()

	m, err := module.Default.Construct(module.KindServer, HTTP, map[string]any{})
	if err != nil {
		t.Fatalf("Construct: %v", err)
	}
	_ = m.Start(context.Background())

	frame := module.Frame{
		Direction: module.DirectionRequest,
		Request: &module.WireRequest{
			Method: "POST",
			URL:    upstream.URL,
			Body:   map[string]any{"model": "llama3"},
		},
	}
	out, err := m.Process(context.Background(), &module.ExecContext{}, frame)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if out.Response.Body["id"] != "1" {
		t.Errorf("unexpected response: %+v", out.Response.Body)
	}
}

func TestHTTPServer_Raw_RateLimitClassifiedCorrectly(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":"rate limited"}`))
	}))
	defer upstream.Close()

	m, _ := module.Default.Construct(module.KindServer, HTTP, map[string]any{})
	_ = m.Start(context.Background())

	frame := module.Frame{
		Direction: module.DirectionRequest,
		Request:   &module.WireRequest{Method: "POST", URL: upstream.URL, Body: map[string]any{}},
	}
	_, err := m.Process(context.Background(), &module.ExecContext{}, frame)
	if !rerr.Is(err, rerr.UpstreamRateLimited) {
		t.Fatalf("expected UpstreamRateLimited, got %v", err)
	}
}

func TestHTTPServer_Raw_AuthFailureClassifiedCorrectly(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer upstream.Close()

	m, _ := module.Default.Construct(module.KindServer, HTTP, map[string]any{})
	_ = m.Start(context.Background())

	frame := module.Frame{
		Direction: module.DirectionRequest,
		Request:   &module.WireRequest{Method: "POST", URL: upstream.URL, Body: map[string]any{}},
	}
	_, err := m.Process(context.Background(), &module.ExecContext{}, frame)
	if !rerr.Is(err, rerr.UpstreamAuth) {
		t.Fatalf("expected UpstreamAuth, got %v", err)
	}
}
