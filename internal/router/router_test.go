package router

import (
	"testing"
	"time"

	"github.com/ferro-labs/pipeline-router/internal/pipeline"
	"github.com/ferro-labs/pipeline-router/internal/routing"

	_ "github.com/ferro-labs/pipeline-router/internal/stages/protocol"
	_ "github.com/ferro-labs/pipeline-router/internal/stages/server"
	_ "github.com/ferro-labs/pipeline-router/internal/stages/servercompat"
	_ "github.com/ferro-labs/pipeline-router/internal/stages/transformer"
)

func buildPipeline(t *testing.T, provider, model string, keyIndex int) *pipeline.Pipeline {
	t.Helper()
	p, err := pipeline.Build(routing.RouteEntry{
		Provider:         provider,
		TargetModel:      model,
		APIKeyIndex:      keyIndex,
		APIBaseURL:       "https://api.example.com/v1",
		DeclaredProtocol: "openai",
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return p
}

func TestPick_EmptyPool_NoCandidate(t *testing.T) {
	r := New()
	if _, err := r.Pick("claude-3-sonnet"); err != ErrNoCandidate {
		t.Fatalf("expected ErrNoCandidate, got %v", err)
	}
}

func TestPick_RoundRobinsAcrossPool(t *testing.T) {
	r := New()
	p1 := buildPipeline(t, "openai", "gpt-4o", 0)
	p2 := buildPipeline(t, "openai", "gpt-4o", 1)
	r.Register("claude-3-sonnet", p1)
	r.Register("claude-3-sonnet", p2)

	first, err := r.Pick("claude-3-sonnet")
	if err != nil {
		t.Fatalf("Pick: %v", err)
	}
	second, err := r.Pick("claude-3-sonnet")
	if err != nil {
		t.Fatalf("Pick: %v", err)
	}
	if first.ID() == second.ID() {
		t.Errorf("expected round-robin to alternate pipelines, got %s twice", first.ID())
	}
}

func TestReportOutcome_TransientThresholdBlacklistsAndEmitsDestroy(t *testing.T) {
	r := New()
	p := buildPipeline(t, "openai", "gpt-4o", 0)
	r.Register("claude-3-sonnet", p)

	for i := 0; i < defaultErrorThreshold; i++ {
		r.ReportOutcome(p.ID(), OutcomeTransient)
	}

	if _, err := r.Pick("claude-3-sonnet"); err != ErrNoCandidate {
		t.Fatalf("expected pipeline to be blacklisted, got %v", err)
	}

	select {
	case ev := <-r.Events:
		if ev.Kind != EventDestroyPipelineRequired || ev.PipelineID != p.ID() {
			t.Errorf("unexpected event: %+v", ev)
		}
	default:
		t.Fatal("expected a destroy-required event")
	}
}

func TestReportOutcome_RateLimit_BlacklistsWithoutDestroy(t *testing.T) {
	r := New()
	p := buildPipeline(t, "openai", "gpt-4o", 0)
	r.Register("claude-3-sonnet", p)

	r.ReportOutcome(p.ID(), OutcomeRateLimited)

	if _, err := r.Pick("claude-3-sonnet"); err != ErrNoCandidate {
		t.Fatalf("expected pipeline to be blacklisted, got %v", err)
	}
	select {
	case ev := <-r.Events:
		t.Fatalf("rate-limit outcome must not emit a destroy event, got %+v", ev)
	default:
	}
}

func TestReportOutcome_AuthFailure_PermanentBlacklistAndEvent(t *testing.T) {
	r := New()
	p := buildPipeline(t, "openai", "gpt-4o", 0)
	r.Register("claude-3-sonnet", p)

	r.ReportOutcome(p.ID(), OutcomeAuthFailure)

	select {
	case ev := <-r.Events:
		if ev.Kind != EventAuthenticationRequired {
			t.Errorf("expected authentication-required event, got %+v", ev)
		}
	default:
		t.Fatal("expected an authentication-required event")
	}

	if _, err := r.Pick("claude-3-sonnet"); err != ErrNoCandidate {
		t.Fatalf("expected pipeline to be blacklisted after auth failure, got %v", err)
	}
}

func TestPick_ReactivatesAfterBlacklistExpires(t *testing.T) {
	r := New()
	r.rateLimitTTL = time.Millisecond
	p := buildPipeline(t, "openai", "gpt-4o", 0)
	r.Register("claude-3-sonnet", p)

	r.ReportOutcome(p.ID(), OutcomeRateLimited)
	time.Sleep(5 * time.Millisecond)

	got, err := r.Pick("claude-3-sonnet")
	if err != nil {
		t.Fatalf("expected reactivated pipeline to be pickable, got %v", err)
	}
	if got.ID() != p.ID() {
		t.Errorf("unexpected pipeline returned: %s", got.ID())
	}

	select {
	case ev := <-r.Events:
		if ev.Kind != EventPipelineReactivated {
			t.Errorf("expected reactivated event, got %+v", ev)
		}
	default:
		t.Fatal("expected a reactivated event")
	}
}
