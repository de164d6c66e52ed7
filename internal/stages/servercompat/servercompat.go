// Package servercompat implements the ServerCompatibility Module variant
// (spec §4.1, §4.2): a small, fixed quirk table keyed by provider name
// (lmstudio, ollama, vllm, anthropic, openai, gemini, modelscope, qwen;
// default passthrough). Each strategy patches parameter limits and auth
// header conventions the way the teacher's ~10 thin OpenAI-compatible
// provider variants (ollama.go, groq.go, azure_openai.go, and siblings)
// each hard-coded individually — folded here into one quirk table per
// spec §4.2's "ServerCompatibility keyed by provider name" design, rather
// than kept as separate Provider implementations.
package servercompat

import (
	"context"
	"fmt"

	"github.com/ferro-labs/pipeline-router/internal/module"
)

const (
	LMStudio    = "lmstudio"
	Ollama      = "ollama"
	VLLM        = "vllm"
	Anthropic   = "anthropic"
	OpenAI      = "openai"
	Gemini      = "gemini"
	ModelScope  = "modelscope"
	Qwen        = "qwen"
	Passthrough = "passthrough"
)

func init() {
	module.Default.Register(module.KindServerCompat, LMStudio, func() module.Module { return newQuirk(LMStudio, quirkOpts{noAuthHeader: true}) })
	module.Default.Register(module.KindServerCompat, Ollama, func() module.Module { return newQuirk(Ollama, quirkOpts{noAuthHeader: true, acceptAnyModel: true}) })
	module.Default.Register(module.KindServerCompat, VLLM, func() module.Module { return newQuirk(VLLM, quirkOpts{acceptAnyModel: true}) })
	module.Default.Register(module.KindServerCompat, Anthropic, func() module.Module { return newQuirk(Anthropic, quirkOpts{authHeaderName: "x-api-key"}) })
	module.Default.Register(module.KindServerCompat, OpenAI, func() module.Module { return newQuirk(OpenAI, quirkOpts{}) })
	module.Default.Register(module.KindServerCompat, Gemini, func() module.Module { return newGeminiCompat() })
	module.Default.Register(module.KindServerCompat, ModelScope, func() module.Module { return newQuirk(ModelScope, quirkOpts{acceptAnyModel: true}) })
	module.Default.Register(module.KindServerCompat, Qwen, func() module.Module { return newQuirk(Qwen, quirkOpts{acceptAnyModel: true}) })
	module.Default.Register(module.KindServerCompat, Passthrough, func() module.Module { return newQuirk(Passthrough, quirkOpts{}) })
}

// quirkOpts captures the small set of per-provider behavioral differences
// the teacher's thin provider variants hard-coded individually.
type quirkOpts struct {
	// noAuthHeader: provider is a local server with no API key requirement
	// (ollama.go: "AuthHeaders implements ProxiableProvider... no API key").
	noAuthHeader bool
	// authHeaderName overrides the default "Authorization: Bearer <key>"
	// convention with a provider-specific header name (anthropic.go's
	// "x-api-key", gemini.go's "x-goog-api-key").
	authHeaderName string
	// acceptAnyModel: the provider accepts any model string without
	// validation (ollama.go/azure_openai.go's "SupportsModel returns true").
	acceptAnyModel bool
	// maxTokensCap, when non-zero, clamps an outgoing max_tokens value —
	// a parameter-limits quirk patch (spec §4.1's "parameter-limits, quirk
	// patches" responsibility).
	maxTokensCap int
}

type quirk struct {
	name    string
	opts    quirkOpts
	apiKey  string
	status  module.Status
}

func newQuirk(name string, opts quirkOpts) *quirk {
	return &quirk{name: name, opts: opts}
}

func (q *quirk) Configure(raw map[string]any) error {
	if v, ok := raw["api_key"].(string); ok {
		q.apiKey = v
	}
	if v, ok := raw["max_tokens_cap"]; ok {
		q.opts.maxTokensCap = toInt(v)
	}
	q.status = module.Status{Name: q.name, Kind: module.KindServerCompat, State: module.StateStopped}
	return nil
}

func (q *quirk) Start(context.Context) error { q.status.State = module.StateRunning; return nil }
func (q *quirk) Stop(context.Context) error  { q.status.State = module.StateStopped; return nil }
func (q *quirk) HealthCheck(context.Context) module.Health {
	return module.Health{Healthy: q.status.State == module.StateRunning}
}
func (q *quirk) Status() module.Status { return q.status }

func (q *quirk) Process(_ context.Context, _ *module.ExecContext, frame module.Frame) (module.Frame, error) {
	switch frame.Direction {
	case module.DirectionRequest:
		if frame.Request.Headers == nil {
			frame.Request.Headers = map[string]string{}
		}
		if !q.opts.noAuthHeader && q.apiKey != "" {
			switch q.opts.authHeaderName {
			case "":
				frame.Request.Headers["Authorization"] = "Bearer " + q.apiKey
			default:
				frame.Request.Headers[q.opts.authHeaderName] = q.apiKey
			}
		}
		if q.opts.maxTokensCap > 0 {
			if mt, ok := frame.Request.Body["max_tokens"]; ok {
				if n := toInt(mt); n > q.opts.maxTokensCap {
					frame.Request.Body["max_tokens"] = q.opts.maxTokensCap
				}
			}
		}
		return frame, nil
	case module.DirectionResponse:
		return frame, nil
	default:
		return frame, fmt.Errorf("servercompat/%s: unknown frame direction %q", q.name, frame.Direction)
	}
}

func toInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case float64:
		return int(n)
	default:
		return 0
	}
}
