// Package pipeline implements PipelineFactory and Pipeline (spec §4.2,
// §4.3): selecting the four Module strategies for a RouteEntry, and the
// handshake/execute/stop lifecycle that threads a request through them.
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ferro-labs/pipeline-router/internal/logging"
	"github.com/ferro-labs/pipeline-router/internal/module"
	"github.com/ferro-labs/pipeline-router/internal/rerr"
	"github.com/ferro-labs/pipeline-router/internal/routing"
	"github.com/ferro-labs/pipeline-router/internal/stages/server"
)

// stageIndex is the canonical stage order spec §2/§4.3 describes:
// 0 Transformer, 1 Protocol, 2 ServerCompatibility, 3 Server.
const (
	stageTransformer = iota
	stageProtocol
	stageServerCompat
	stageServer
	stageCount
)

// Status is a read-only snapshot of a Pipeline's lifecycle state and its
// four stages' individual statuses (spec §4.3's getStatus()).
type Status struct {
	PipelineID        string
	State             module.State
	LastHandshakeTime int64 // unix seconds; zero if never handshook
	Stages            [stageCount]module.Status
}

// Pipeline is spec §4.3's unit of lifecycle + request execution + handshake.
// One Pipeline exists per (provider, target_model, api_key_index) triple.
type Pipeline struct {
	id     string
	entry  routing.RouteEntry
	stages [stageCount]module.Module

	mu                sync.Mutex
	state             module.State
	lastHandshakeTime int64

	cancel context.CancelFunc
}

// Build is PipelineFactory's sole operation: selects and constructs the four
// Module strategies for a RouteEntry per spec §4.2's selection tables.
func Build(entry routing.RouteEntry) (*Pipeline, error) {
	p := &Pipeline{id: entry.PipelineID(), entry: entry, state: module.StateStopped}

	transformerName := entry.DeclaredTransformer
	if transformerName == "" {
		transformerName = "anthropic-to-openai"
	}
	transformerModule, err := module.Default.Construct(module.KindTransformer, transformerName, nil)
	if err != nil {
		return nil, rerr.Wrap(rerr.ConfigurationInvalid, "construct transformer stage for "+p.id, err)
	}
	p.stages[stageTransformer] = transformerModule

	protocolName := entry.DeclaredProtocol
	if protocolName == "" {
		protocolName = "openai"
	}
	protocolModule, err := module.Default.Construct(module.KindProtocol, protocolName, map[string]any{
		"base_url": entry.APIBaseURL,
	})
	if err != nil {
		return nil, rerr.Wrap(rerr.ConfigurationInvalid, "construct protocol stage for "+p.id, err)
	}
	p.stages[stageProtocol] = protocolModule

	compatName := entry.DeclaredServerCompatibility
	if compatName == "" {
		// spec §4.2: ServerCompatibility is keyed by provider name, default
		// passthrough — not "default passthrough unless explicitly named".
		compatName = entry.Provider
	}
	if !module.Default.Registered(module.KindServerCompat, compatName) {
		compatName = "passthrough"
	}
	compatCfg := map[string]any{"api_key": entry.APIKey}
	for k, v := range entry.ServerCompatibilityOptions {
		compatCfg[k] = v
	}
	if entry.MaxTokens != nil {
		compatCfg["max_tokens_cap"] = *entry.MaxTokens
	}
	compatModule, err := module.Default.Construct(module.KindServerCompat, compatName, compatCfg)
	if err != nil {
		return nil, rerr.Wrap(rerr.ConfigurationInvalid, "construct server-compatibility stage for "+p.id, err)
	}
	p.stages[stageServerCompat] = compatModule

	serverName, serverCfg := selectServerStrategy(entry)
	serverModule, err := module.Default.Construct(module.KindServer, serverName, serverCfg)
	if err != nil {
		return nil, rerr.Wrap(rerr.ConfigurationInvalid, "construct server stage for "+p.id, err)
	}
	p.stages[stageServer] = serverModule

	return p, nil
}

// selectServerStrategy picks http (default), websocket (endpoint_url scheme
// ws/wss), or bedrock (AWS SigV4, no scheme to infer from) per spec §4.2.
func selectServerStrategy(entry routing.RouteEntry) (string, map[string]any) {
	if entry.Provider == "bedrock" {
		return server.Bedrock, map[string]any{}
	}
	if strings.HasPrefix(entry.APIBaseURL, "ws://") || strings.HasPrefix(entry.APIBaseURL, "wss://") {
		return server.WebSocket, map[string]any{}
	}
	return server.HTTP, map[string]any{
		"base_url":      entry.APIBaseURL,
		"api_key":       entry.APIKey,
		"wire_protocol": entry.DeclaredProtocol,
	}
}

// ID returns the pipeline's stable identity (spec §3: "{provider}-{target_model}-key{index}").
func (p *Pipeline) ID() string { return p.id }

// Entry returns the RouteEntry this pipeline was built from.
func (p *Pipeline) Entry() routing.RouteEntry { return p.entry }

// Handshake starts each stage in order, then liveness-checks the Server
// stage (spec §4.3). On any failure, started stages are stopped in reverse
// order and the pipeline is left in module.StateError.
func (p *Pipeline) Handshake(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	started := 0
	for i := 0; i < stageCount; i++ {
		if err := p.stages[i].Start(ctx); err != nil {
			p.state = module.StateError
			p.stopStarted(ctx, started)
			return rerr.Wrap(rerr.StartupFailed, fmt.Sprintf("pipeline %s: start stage %d failed", p.id, i), err)
		}
		started = i + 1
	}

	health := p.stages[stageServer].HealthCheck(ctx)
	if !health.Healthy {
		p.state = module.StateError
		p.stopStarted(ctx, started)
		return rerr.New(rerr.StartupFailed, fmt.Sprintf("pipeline %s: server stage liveness check failed: %s", p.id, health.Details))
	}

	p.state = module.StateRunning
	p.lastHandshakeTime = time.Now().Unix()
	logging.Logger.Info("pipeline handshake succeeded", "pipeline_id", p.id)
	return nil
}

// stopStarted stops the first n stages in reverse order. Caller must hold p.mu.
func (p *Pipeline) stopStarted(ctx context.Context, n int) {
	for i := n - 1; i >= 0; i-- {
		_ = p.stages[i].Stop(ctx)
	}
}

// Execute threads a request through stages 0->3 (forward, request
// direction) then 2->0 (backward, response direction), per spec §4.3. A
// stage failure aborts and propagates unchanged — no swallowing, no
// substitution (spec §9, Zero Fallback).
func (p *Pipeline) Execute(ctx context.Context, ectx *module.ExecContext, body map[string]any, stream bool) (map[string]any, <-chan module.StreamChunk, error) {
	p.mu.Lock()
	if p.state != module.StateRunning {
		p.mu.Unlock()
		return nil, nil, rerr.New(rerr.NoRoute, fmt.Sprintf("pipeline %s is not running", p.id))
	}
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.cancel = nil
		p.mu.Unlock()
	}()

	frame := module.Frame{
		Direction: module.DirectionRequest,
		Request:   &module.WireRequest{Body: body, Stream: stream, Headers: map[string]string{}},
	}

	for i := 0; i < stageCount; i++ {
		out, err := p.stages[i].Process(ctx, ectx, frame)
		if err != nil {
			if ctx.Err() != nil {
				return nil, nil, rerr.Wrap(rerr.ExecutionCancelled, fmt.Sprintf("pipeline %s cancelled at stage %d", p.id, i), err)
			}
			return nil, nil, err
		}
		frame = out
	}

	if frame.Response != nil && frame.Response.Stream != nil {
		return nil, frame.Response.Stream, nil
	}

	for i := stageServerCompat; i >= stageTransformer; i-- {
		frame.Direction = module.DirectionResponse
		out, err := p.stages[i].Process(ctx, ectx, frame)
		if err != nil {
			if ctx.Err() != nil {
				return nil, nil, rerr.Wrap(rerr.ExecutionCancelled, fmt.Sprintf("pipeline %s cancelled at stage %d", p.id, i), err)
			}
			return nil, nil, err
		}
		frame = out
	}

	return frame.Response.Body, nil, nil
}

// Stop stops stages 3->0; idempotent (spec §4.3).
func (p *Pipeline) Stop(ctx context.Context) error {
	p.mu.Lock()
	if p.cancel != nil {
		p.cancel()
	}
	defer p.mu.Unlock()
	if p.state == module.StateStopped {
		return nil
	}
	for i := stageCount - 1; i >= 0; i-- {
		_ = p.stages[i].Stop(ctx)
	}
	p.state = module.StateStopped
	return nil
}

// HealthCheck reports whether the pipeline is running and its Server stage
// is live, the same liveness check Handshake performs (spec §4.5's
// healthCheck aggregation reuses it per-pipeline).
func (p *Pipeline) HealthCheck(ctx context.Context) module.Health {
	p.mu.Lock()
	state := p.state
	p.mu.Unlock()
	if state != module.StateRunning {
		return module.Health{Healthy: false, Details: fmt.Sprintf("pipeline %s is %s", p.id, state)}
	}
	return p.stages[stageServer].HealthCheck(ctx)
}

// GetStatus snapshots pipeline + per-stage status (spec §4.3).
func (p *Pipeline) GetStatus() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := Status{PipelineID: p.id, State: p.state, LastHandshakeTime: p.lastHandshakeTime}
	for i := 0; i < stageCount; i++ {
		s.Stages[i] = p.stages[i].Status()
	}
	return s
}
