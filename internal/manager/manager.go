// Package manager implements PipelineManager (spec §4.5): the process-wide
// owner of all pipelines. It drives PipelineFactory + handshake from a
// RoutingTable, registers survivors with the LoadBalancerRouter, and emits
// the pipeline-table artifact on success.
package manager

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ferro-labs/pipeline-router/internal/artifact"
	"github.com/ferro-labs/pipeline-router/internal/logging"
	"github.com/ferro-labs/pipeline-router/internal/pipeline"
	"github.com/ferro-labs/pipeline-router/internal/rerr"
	"github.com/ferro-labs/pipeline-router/internal/router"
	"github.com/ferro-labs/pipeline-router/internal/routing"
)

// Manager is the process-wide PipelineManager.
type Manager struct {
	mu        sync.RWMutex
	pipelines map[string]*pipeline.Pipeline // keyed by pipeline id
	owner     map[string]string             // pipeline id -> virtual model
	router    *router.Router
}

// New builds a Manager bound to the given Router (pipelines are registered
// into it on successful handshake, per spec §4.5 step 1.c).
func New(r *router.Router) *Manager {
	return &Manager{
		pipelines: make(map[string]*pipeline.Pipeline),
		owner:     make(map[string]string),
		router:    r,
	}
}

// InitializeFromRoutingTable builds, handshakes, and registers one pipeline
// per RouteEntry row, skipping duplicates on (provider, target_model,
// api_key_index) (spec §4.5 step 1). If any row fails, every pipeline
// created in this call is stopped and destroyed in creation order, and the
// failure propagates (spec §4.5 step 2).
func (m *Manager) InitializeFromRoutingTable(ctx context.Context, table routing.RoutingTable) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var created []*pipeline.Pipeline
	var createdVirtualModel []string

	rollback := func(cause error) error {
		for i := 0; i < len(created); i++ {
			_ = created[i].Stop(ctx)
			delete(m.pipelines, created[i].ID())
			delete(m.owner, created[i].ID())
			m.router.Unregister(createdVirtualModel[i], created[i].ID())
		}
		return cause
	}

	seen := make(map[string]bool)
	for virtualModel, entries := range table {
		for _, entry := range entries {
			id := entry.PipelineID()
			if seen[id] {
				continue
			}
			seen[id] = true

			if _, exists := m.pipelines[id]; exists {
				continue
			}

			p, err := pipeline.Build(entry)
			if err != nil {
				return rollback(rerr.Wrap(rerr.StartupFailed, fmt.Sprintf("build pipeline %s", id), err))
			}
			if err := p.Handshake(ctx); err != nil {
				return rollback(err)
			}

			m.pipelines[id] = p
			m.owner[id] = virtualModel
			m.router.Register(virtualModel, p)
			created = append(created, p)
			createdVirtualModel = append(createdVirtualModel, virtualModel)
		}
	}

	logging.Logger.Info("pipeline manager initialized", "pipeline_count", len(m.pipelines))
	return nil
}

// DestroyPipeline cancels in-flight executions for id, stops its stages, and
// removes it from the router pool (spec §4.5).
func (m *Manager) DestroyPipeline(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.pipelines[id]
	if !ok {
		return rerr.New(rerr.NoRoute, fmt.Sprintf("destroy: unknown pipeline %s", id))
	}
	if err := p.Stop(ctx); err != nil {
		return rerr.Wrap(rerr.StartupFailed, fmt.Sprintf("destroy pipeline %s", id), err)
	}
	m.router.Unregister(m.owner[id], id)
	delete(m.pipelines, id)
	delete(m.owner, id)
	logging.Logger.Info("pipeline destroyed", "pipeline_id", id)
	return nil
}

// GetPipelineStatus returns a status snapshot for id (spec §4.5).
func (m *Manager) GetPipelineStatus(id string) (pipeline.Status, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.pipelines[id]
	if !ok {
		return pipeline.Status{}, rerr.New(rerr.NoRoute, fmt.Sprintf("unknown pipeline %s", id))
	}
	return p.GetStatus(), nil
}

// HealthCheck aggregates per-pipeline liveness (spec §4.5), reusing each
// pipeline's Server-stage liveness check rather than just its last known
// state.
func (m *Manager) HealthCheck(ctx context.Context) map[string]bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make(map[string]bool, len(m.pipelines))
	for id, p := range m.pipelines {
		result[id] = p.HealthCheck(ctx).Healthy
	}
	return result
}

// EmitArtifact writes the pipeline-table artifact (spec §6, spec §4.5 step
// 3) for the current pipeline set.
func (m *Manager) EmitArtifact(home, configName, configFile string, port int) error {
	m.mu.RLock()
	grouped := make(map[string][]*pipeline.Pipeline)
	for id, p := range m.pipelines {
		grouped[m.owner[id]] = append(grouped[m.owner[id]], p)
	}
	m.mu.RUnlock()

	table := artifact.Build(configName, configFile, time.Now(), grouped)
	return artifact.Write(home, port, table, time.Now())
}
