package module

import (
	"context"
	"testing"
)

type stubModule struct {
	status Status
}

func (s *stubModule) Configure(map[string]any) error { return nil }
func (s *stubModule) Start(context.Context) error {
	s.status.State = StateRunning
	return nil
}
func (s *stubModule) Process(_ context.Context, _ *ExecContext, frame Frame) (Frame, error) {
	return frame, nil
}
func (s *stubModule) Stop(context.Context) error {
	s.status.State = StateStopped
	return nil
}
func (s *stubModule) HealthCheck(context.Context) Health { return Health{Healthy: true} }
func (s *stubModule) Status() Status                     { return s.status }

func TestRegistry_RegisterAndConstruct(t *testing.T) {
	r := NewRegistry()
	r.Register(KindServer, "stub", func() Module {
		return &stubModule{status: Status{Name: "stub", Kind: KindServer}}
	})

	m, err := r.Construct(KindServer, "stub", nil)
	if err != nil {
		t.Fatalf("Construct: %v", err)
	}
	if m.Status().Name != "stub" {
		t.Fatalf("unexpected status: %+v", m.Status())
	}
}

func TestRegistry_Construct_UnknownName(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Construct(KindServer, "missing", nil); err == nil {
		t.Fatal("expected error for unregistered strategy")
	}
}

func TestRegistry_Register_DuplicatePanics(t *testing.T) {
	r := NewRegistry()
	r.Register(KindProtocol, "dup", func() Module { return &stubModule{} })

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on duplicate registration")
		}
	}()
	r.Register(KindProtocol, "dup", func() Module { return &stubModule{} })
}

func TestRegistry_Names(t *testing.T) {
	r := NewRegistry()
	r.Register(KindTransformer, "anthropic-to-openai", func() Module { return &stubModule{} })
	r.Register(KindTransformer, "gemini-to-openai", func() Module { return &stubModule{} })

	names := r.Names(KindTransformer)
	if len(names) != 2 {
		t.Fatalf("expected 2 names, got %d: %v", len(names), names)
	}
}
