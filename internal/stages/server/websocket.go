package server

import (
	"context"
	"fmt"

	"github.com/ferro-labs/pipeline-router/internal/module"
)

func init() {
	module.Default.Register(module.KindServer, WebSocket, func() module.Module { return &websocketServer{} })
}

// websocketServer is the Server strategy selected when endpoint_url uses a
// ws:// or wss:// scheme (spec §4.2). No upstream in the current provider
// set speaks a websocket wire protocol; this strategy exists so routing
// table construction has somewhere to resolve a ws(s) scheme to. It
// constructs normally but fails loudly rather than silently falling back to
// HTTP: its health check always reports unhealthy, so the pipeline's
// handshake fails, and Process always returns an error.
type websocketServer struct {
	status module.Status
}

func (w *websocketServer) Configure(map[string]any) error {
	w.status = module.Status{Name: WebSocket, Kind: module.KindServer, State: module.StateStopped}
	return nil
}
func (w *websocketServer) Start(context.Context) error { w.status.State = module.StateRunning; return nil }
func (w *websocketServer) Stop(context.Context) error  { w.status.State = module.StateStopped; return nil }
func (w *websocketServer) HealthCheck(context.Context) module.Health {
	return module.Health{Healthy: false, Details: "websocket server strategy has no upstream implementation"}
}
func (w *websocketServer) Status() module.Status { return w.status }

func (w *websocketServer) Process(context.Context, *module.ExecContext, module.Frame) (module.Frame, error) {
	return module.Frame{}, fmt.Errorf("server/websocket: not implemented for any configured upstream")
}
