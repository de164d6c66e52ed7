// Command routerd is the routing proxy's front-facing HTTP server: it loads
// a UserConfig, expands it into a RoutingTable, builds and handshakes every
// pipeline, emits the pipeline-table artifact, and serves the Anthropic
// Messages-shaped /v1/messages endpoint over the resulting pipeline set.
// Grounded on cmd/ferrogw/main.go's chi wiring and graceful-shutdown idiom.
package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ferro-labs/pipeline-router/internal/authn"
	"github.com/ferro-labs/pipeline-router/internal/config"
	"github.com/ferro-labs/pipeline-router/internal/dispatcher"
	"github.com/ferro-labs/pipeline-router/internal/logging"
	"github.com/ferro-labs/pipeline-router/internal/manager"
	"github.com/ferro-labs/pipeline-router/internal/module"
	"github.com/ferro-labs/pipeline-router/internal/rerr"
	"github.com/ferro-labs/pipeline-router/internal/router"
	"github.com/ferro-labs/pipeline-router/internal/routing"
	"github.com/ferro-labs/pipeline-router/internal/version"

	// Register every stage strategy via blank import, exactly as the
	// teacher's plugin packages called plugin.RegisterFactory from init().
	_ "github.com/ferro-labs/pipeline-router/internal/stages/protocol"
	_ "github.com/ferro-labs/pipeline-router/internal/stages/server"
	_ "github.com/ferro-labs/pipeline-router/internal/stages/servercompat"
	_ "github.com/ferro-labs/pipeline-router/internal/stages/transformer"
)

func main() {
	configPath := os.Getenv("ROUTER_CONFIG")
	if configPath == "" {
		configPath = "config.json"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("failed to load config %s: %v", configPath, err)
	}

	table, err := routing.Build(cfg)
	if err != nil {
		log.Fatalf("failed to build routing table: %v", err)
	}

	r := router.New()
	m := manager.New(r)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := m.InitializeFromRoutingTable(ctx, table); err != nil {
		log.Fatalf("failed to initialize pipelines: %v", err)
	}

	server := cfg.DefaultServer()

	if home, herr := os.UserHomeDir(); herr == nil {
		if err := m.EmitArtifact(home, configName(configPath), configPath, server.Port); err != nil {
			logging.Logger.Warn("failed to emit pipeline-table artifact", "error", err)
		}
	}

	d := dispatcher.New(r, cfg.ModelMap)

	httpRouter := chi.NewRouter()
	httpRouter.Use(middleware.RealIP)
	httpRouter.Use(middleware.Recoverer)
	httpRouter.Use(logging.Middleware)

	httpRouter.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	httpRouter.Handle("/metrics", promhttp.Handler())

	httpRouter.Group(func(g chi.Router) {
		g.Use(authn.Middleware(cfg.APIKey))
		g.Post("/v1/messages", messagesHandler(d))
		g.Get("/v1/pipelines/status", pipelineStatusHandler(m))
	})

	addr := server.Host + ":" + strconv.Itoa(server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpRouter,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		logging.Logger.Info("shutting down gracefully")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logging.Logger.Error("shutdown error", "error", err)
		}
	}()

	logging.Logger.Info("router listening", "version", version.Short(), "addr", addr, "virtual_model_count", len(table))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("server error: %v", err)
	}
	logging.Logger.Info("server stopped")
}

func messagesHandler(d *dispatcher.Dispatcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}

		model, _ := body["model"].(string)
		stream, _ := body["stream"].(bool)

		result, err := d.Dispatch(r.Context(), model, body, stream)
		if err != nil {
			writeDispatchError(w, err)
			return
		}

		if result.Stream != nil {
			streamSSE(w, result.Stream)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(result.Body)
	}
}

// pipelineStatusHandler reports the PipelineManager's aggregated
// healthCheck() result (spec §4.5), keyed by pipeline id.
func pipelineStatusHandler(m *manager.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(m.HealthCheck(r.Context()))
	}
}

// streamSSE relays each pipeline-produced chunk to the client as a named
// Anthropic Messages streaming event (event: <type>\ndata: <json>\n\n); the
// Server stage's streaming paths already reshape every chunk into that
// event shape (spec §6) before it reaches here.
func streamSSE(w http.ResponseWriter, ch <-chan module.StreamChunk) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	flusher, _ := w.(http.Flusher)

	for chunk := range ch {
		if chunk.Err != nil {
			writeSSELine(w, "error", map[string]any{"type": "error", "error": map[string]any{"message": chunk.Err.Error()}})
			break
		}
		if chunk.Done {
			break
		}
		eventType, _ := chunk.Data["type"].(string)
		writeSSELine(w, eventType, chunk.Data)
		if flusher != nil {
			flusher.Flush()
		}
	}
}

func writeSSELine(w http.ResponseWriter, eventType string, data map[string]any) {
	payload, err := json.Marshal(data)
	if err != nil {
		return
	}
	if eventType != "" {
		_, _ = w.Write([]byte("event: " + eventType + "\n"))
	}
	_, _ = w.Write([]byte("data: "))
	_, _ = w.Write(payload)
	_, _ = w.Write([]byte("\n\n"))
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"message": message}})
}

func writeDispatchError(w http.ResponseWriter, err error) {
	kind, ok := rerr.KindOf(err)
	if !ok {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	status := http.StatusBadGateway
	switch kind {
	case rerr.NoRoute:
		status = http.StatusNotFound
	case rerr.UpstreamRateLimited:
		status = http.StatusTooManyRequests
	case rerr.UpstreamAuth:
		status = http.StatusUnauthorized
	case rerr.ExecutionCancelled:
		status = http.StatusGatewayTimeout
	case rerr.ProtocolMismatch, rerr.ConfigurationInvalid:
		status = http.StatusBadRequest
	}
	writeError(w, status, err.Error())
}

func configName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
