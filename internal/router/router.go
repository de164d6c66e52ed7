// Package router implements LoadBalancerRouter (spec §4.4): round-robin
// pipeline selection per virtual model, with outcome-driven blacklisting
// across three distinct timeout classes (transient-threshold, unconditional
// 429, permanent auth-failure). Grounded on the mutex+timeout idiom of the
// teacher's internal/circuitbreaker package, re-derived here rather than
// kept as a generic three-state breaker: spec §4.4's blacklist semantics
// need three independently-timed classes, not one recovery-testing state
// machine.
package router

import (
	"errors"
	"sync"
	"time"

	"github.com/ferro-labs/pipeline-router/internal/logging"
	"github.com/ferro-labs/pipeline-router/internal/metrics"
	"github.com/ferro-labs/pipeline-router/internal/pipeline"
)

// ErrNoCandidate is returned by Pick when a virtual model's pool is empty or
// every pipeline in it is currently blacklisted (spec §4.4).
var ErrNoCandidate = errors.New("router: no candidate pipeline available")

// Outcome classifies how a dispatched request completed (spec §4.4's
// outcome-accounting paragraph).
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeTransient
	OutcomeRateLimited
	OutcomeAuthFailure
)

const (
	defaultErrorThreshold = 3
	defaultTransientTTL   = 5 * time.Minute
	defaultRateLimitTTL   = 60 * time.Second
)

// entry is one pipeline's position and counters inside a pool (spec §3's
// PipelinePool: "ordered list of pipeline references + parallel counters").
type entry struct {
	p                 *pipeline.Pipeline
	consecutiveErrors int
	blacklistUntil    time.Time // zero value: never blacklisted; far future: permanent
}

// pool is one virtual model's PipelinePool: an ordered entry list plus a
// round-robin cursor.
type pool struct {
	entries []*entry
	cursor  int
}

// EventKind names the three event types LoadBalancerRouter emits for
// PipelineManager to observe (spec §4.4's "Event surface").
type EventKind int

const (
	EventDestroyPipelineRequired EventKind = iota
	EventAuthenticationRequired
	EventPipelineReactivated
)

// Event is one router-emitted notification, delivered over the Events
// channel (spec §9's "Event emitters → channels" design note).
type Event struct {
	Kind       EventKind
	PipelineID string
}

// Router is the process-wide LoadBalancerRouter.
type Router struct {
	mu             sync.Mutex
	pools          map[string]*pool
	byID           map[string]*entry
	errorThreshold int
	transientTTL   time.Duration
	rateLimitTTL   time.Duration

	Events chan Event
}

// New builds an empty Router with spec-default thresholds. Events has a
// generous buffer since PipelineManager drains it asynchronously; a full
// buffer never blocks Pick/ReportOutcome (they drop the event with a log
// line instead, since losing a reactivation notice is recoverable on the
// next pick() and losing a destroy notice just delays cleanup).
func New() *Router {
	return &Router{
		pools:          make(map[string]*pool),
		byID:           make(map[string]*entry),
		errorThreshold: defaultErrorThreshold,
		transientTTL:   defaultTransientTTL,
		rateLimitTTL:   defaultRateLimitTTL,
		Events:         make(chan Event, 256),
	}
}

// Register adds a handshook pipeline to its virtual model's pool (called by
// PipelineManager after a successful Handshake, spec §4.5).
func (r *Router) Register(virtualModel string, p *pipeline.Pipeline) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := &entry{p: p}
	if r.pools[virtualModel] == nil {
		r.pools[virtualModel] = &pool{}
	}
	r.pools[virtualModel].entries = append(r.pools[virtualModel].entries, e)
	r.byID[p.ID()] = e
	metrics.PipelinesRegistered.WithLabelValues(virtualModel).Inc()
}

// Unregister removes a pipeline from virtualModel's pool (called on destroy).
func (r *Router) Unregister(virtualModel, pipelineID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byID, pipelineID)
	pl := r.pools[virtualModel]
	if pl == nil {
		return
	}
	for i, e := range pl.entries {
		if e.p.ID() == pipelineID {
			pl.entries = append(pl.entries[:i], pl.entries[i+1:]...)
			metrics.PipelinesRegistered.WithLabelValues(virtualModel).Dec()
			break
		}
	}
}

// Pick selects the next pipeline for a virtual model per spec §4.4's
// three-step algorithm: empty pool -> NoCandidate; filter blacklisted ->
// NoCandidate if none remain; advance the round-robin cursor modulo the
// filtered set.
func (r *Router) Pick(virtualModel string) (*pipeline.Pipeline, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	pl := r.pools[virtualModel]
	if pl == nil || len(pl.entries) == 0 {
		return nil, ErrNoCandidate
	}

	now := time.Now()
	var active []*entry
	for _, e := range pl.entries {
		if e.blacklistUntil.IsZero() || e.blacklistUntil.Before(now) {
			if !e.blacklistUntil.IsZero() {
				r.reactivate(virtualModel, e)
			}
			active = append(active, e)
		}
	}
	if len(active) == 0 {
		return nil, ErrNoCandidate
	}

	pl.cursor = pl.cursor % len(active)
	chosen := active[pl.cursor]
	pl.cursor++
	return chosen.p, nil
}

// reactivate resets counters and emits EventPipelineReactivated. Caller
// must hold r.mu.
func (r *Router) reactivate(virtualModel string, e *entry) {
	e.blacklistUntil = time.Time{}
	e.consecutiveErrors = 0
	metrics.PipelineBlacklisted.WithLabelValues(e.p.ID()).Set(0)
	r.emit(Event{Kind: EventPipelineReactivated, PipelineID: e.p.ID()})
	logging.Logger.Info("pipeline reactivated", "pipeline_id", e.p.ID(), "virtual_model", virtualModel)
}

// ReportOutcome applies spec §4.4's outcome-accounting rules for a
// completed dispatch against pipelineID.
func (r *Router) ReportOutcome(pipelineID string, outcome Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.byID[pipelineID]
	if !ok {
		return
	}

	switch outcome {
	case OutcomeSuccess:
		e.consecutiveErrors = 0
	case OutcomeTransient:
		e.consecutiveErrors++
		if e.consecutiveErrors >= r.errorThreshold {
			e.blacklistUntil = time.Now().Add(r.transientTTL)
			e.consecutiveErrors = 0
			metrics.PipelineBlacklisted.WithLabelValues(pipelineID).Set(1)
			r.emit(Event{Kind: EventDestroyPipelineRequired, PipelineID: pipelineID})
		}
	case OutcomeRateLimited:
		e.blacklistUntil = time.Now().Add(r.rateLimitTTL)
		metrics.PipelineBlacklisted.WithLabelValues(pipelineID).Set(1)
	case OutcomeAuthFailure:
		e.blacklistUntil = time.Now().Add(100 * 365 * 24 * time.Hour) // effectively permanent
		metrics.PipelineBlacklisted.WithLabelValues(pipelineID).Set(1)
		r.emit(Event{Kind: EventAuthenticationRequired, PipelineID: pipelineID})
	default:
		// "all other errors: treated as transient" (spec §4.4)
		r.unlockedReportTransient(e, pipelineID)
	}
}

func (r *Router) unlockedReportTransient(e *entry, pipelineID string) {
	e.consecutiveErrors++
	if e.consecutiveErrors >= r.errorThreshold {
		e.blacklistUntil = time.Now().Add(r.transientTTL)
		e.consecutiveErrors = 0
		metrics.PipelineBlacklisted.WithLabelValues(pipelineID).Set(1)
		r.emit(Event{Kind: EventDestroyPipelineRequired, PipelineID: pipelineID})
	}
}

// emit delivers an event without blocking; a full buffer drops the event
// with a log line rather than stalling Pick/ReportOutcome callers. Caller
// must hold r.mu.
func (r *Router) emit(ev Event) {
	select {
	case r.Events <- ev:
	default:
		logging.Logger.Warn("router event buffer full, dropping event", "kind", ev.Kind, "pipeline_id", ev.PipelineID)
	}
}
