package servercompat

import (
	"context"
	"fmt"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/ferro-labs/pipeline-router/internal/module"
	"github.com/ferro-labs/pipeline-router/internal/rerr"
)

// geminiCompat is the Gemini ServerCompatibility strategy. By default it
// behaves exactly like the generic quirk table's gemini entry (plain API
// key attached as the x-goog-api-key header). When a Provider's
// server_compatibility.options supplies oauth2_token_url/oauth2_client_id/
// oauth2_client_secret (a Vertex-style client-credentials deployment), it
// instead exchanges those for a live bearer token and attaches it as
// Authorization, exactly as the plain-API-key path would have attached
// x-goog-api-key — additive, not a replacement of the default path.
type geminiCompat struct {
	quirk
	tokenSource oauth2.TokenSource
	useOAuth2   bool
}

func newGeminiCompat() *geminiCompat {
	return &geminiCompat{quirk: quirk{name: Gemini, opts: quirkOpts{authHeaderName: "x-goog-api-key"}}}
}

func (g *geminiCompat) Configure(raw map[string]any) error {
	if err := g.quirk.Configure(raw); err != nil {
		return err
	}

	tokenURL, _ := raw["oauth2_token_url"].(string)
	clientID, _ := raw["oauth2_client_id"].(string)
	clientSecret, _ := raw["oauth2_client_secret"].(string)
	if tokenURL == "" && clientID == "" && clientSecret == "" {
		return nil
	}
	if tokenURL == "" || clientID == "" || clientSecret == "" {
		return rerr.New(rerr.ConfigurationInvalid, "gemini server_compatibility: oauth2_token_url, oauth2_client_id and oauth2_client_secret must all be set together")
	}

	cfg := &clientcredentials.Config{ClientID: clientID, ClientSecret: clientSecret, TokenURL: tokenURL}
	g.tokenSource = cfg.TokenSource(context.Background())
	g.useOAuth2 = true
	return nil
}

func (g *geminiCompat) Process(ctx context.Context, ectx *module.ExecContext, frame module.Frame) (module.Frame, error) {
	if !g.useOAuth2 {
		return g.quirk.Process(ctx, ectx, frame)
	}

	switch frame.Direction {
	case module.DirectionRequest:
		token, err := g.tokenSource.Token()
		if err != nil {
			return frame, rerr.Wrap(rerr.UpstreamAuth, "gemini oauth2 token refresh failed", err)
		}
		if frame.Request.Headers == nil {
			frame.Request.Headers = map[string]string{}
		}
		delete(frame.Request.Headers, "x-goog-api-key")
		frame.Request.Headers["Authorization"] = "Bearer " + token.AccessToken
		if g.opts.maxTokensCap > 0 {
			if mt, ok := frame.Request.Body["max_tokens"]; ok {
				if n := toInt(mt); n > g.opts.maxTokensCap {
					frame.Request.Body["max_tokens"] = g.opts.maxTokensCap
				}
			}
		}
		return frame, nil
	case module.DirectionResponse:
		return frame, nil
	default:
		return frame, fmt.Errorf("servercompat/gemini: unknown frame direction %q", frame.Direction)
	}
}
