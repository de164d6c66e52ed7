// Package dispatcher implements the Request dispatcher (spec §4.7): maps a
// client-declared model to a virtual model, asks the router for a
// pipeline, executes the request, and reports the outcome back to the
// router. It is the one place model-to-virtual-model mapping, NoRoute
// handling, and outcome classification come together.
package dispatcher

import (
	"context"
	"errors"

	"github.com/ferro-labs/pipeline-router/internal/logging"
	"github.com/ferro-labs/pipeline-router/internal/metrics"
	"github.com/ferro-labs/pipeline-router/internal/module"
	"github.com/ferro-labs/pipeline-router/internal/rerr"
	"github.com/ferro-labs/pipeline-router/internal/router"
)

// Dispatcher is spec §4.7's Request dispatcher.
type Dispatcher struct {
	router   *router.Router
	modelMap map[string]string
}

// New builds a Dispatcher. modelMap maps client-declared model names to
// virtual model names; an absent mapping is identity (spec §4.7).
func New(r *router.Router, modelMap map[string]string) *Dispatcher {
	return &Dispatcher{router: r, modelMap: modelMap}
}

// Result is what Dispatch returns: Body for a non-streaming request, Stream
// for a streaming one.
type Result struct {
	Body   map[string]any
	Stream <-chan module.StreamChunk
}

// Dispatch maps model -> virtual_model, picks a pipeline, executes the
// request, and reports the outcome (spec §4.7).
func (d *Dispatcher) Dispatch(ctx context.Context, requestedModel string, body map[string]any, stream bool) (Result, error) {
	virtualModel := requestedModel
	if mapped, ok := d.modelMap[requestedModel]; ok {
		virtualModel = mapped
	}

	p, err := d.router.Pick(virtualModel)
	if err != nil {
		if errors.Is(err, router.ErrNoCandidate) {
			return Result{}, rerr.New(rerr.NoRoute, "no candidate pipeline for virtual model "+virtualModel)
		}
		return Result{}, err
	}

	// The front door's logging.Middleware already stamped a request ID into
	// ctx; reuse it so every stage's logs and this pipeline execution share
	// the one id a client-facing log line would show. Only a caller with no
	// such ctx (e.g. a direct, non-HTTP invocation) gets a freshly minted one.
	requestID := logging.RequestIDFromContext(ctx)
	if requestID == "" {
		requestID = logging.NewRequestID()
		ctx = logging.WithRequestID(ctx, requestID)
	}

	entry := p.Entry()
	ectx := &module.ExecContext{
		RequestID:    requestID,
		VirtualModel: virtualModel,
		Provider:     entry.Provider,
		TargetModel:  entry.TargetModel,
		APIKeyIndex:  entry.APIKeyIndex,
	}

	log := logging.FromContext(ctx)
	respBody, stream2, err := p.Execute(ctx, ectx, body, stream)
	outcome := classifyOutcome(err)
	d.router.ReportOutcome(p.ID(), outcome)

	status := "success"
	if err != nil {
		status = "error"
		log.Error("dispatch failed", "virtual_model", virtualModel, "pipeline_id", p.ID(), "error", err)
	} else {
		log.Info("dispatch succeeded", "virtual_model", virtualModel, "pipeline_id", p.ID())
	}
	metrics.RequestsTotal.WithLabelValues(virtualModel, entry.Provider, entry.TargetModel, status).Inc()

	if err != nil {
		return Result{}, err
	}
	return Result{Body: respBody, Stream: stream2}, nil
}

// classifyOutcome maps a rerr.Kind to the router's Outcome classification
// (spec §4.4: timeout/5xx/connection-reset -> transient, 429 -> rate
// limited, 401/403 -> auth failure, everything else -> transient).
func classifyOutcome(err error) router.Outcome {
	if err == nil {
		return router.OutcomeSuccess
	}
	kind, ok := rerr.KindOf(err)
	if !ok {
		return router.OutcomeTransient
	}
	switch kind {
	case rerr.UpstreamRateLimited:
		return router.OutcomeRateLimited
	case rerr.UpstreamAuth:
		return router.OutcomeAuthFailure
	case rerr.UpstreamTimeout, rerr.UpstreamTransient:
		return router.OutcomeTransient
	default:
		return router.OutcomeTransient
	}
}
