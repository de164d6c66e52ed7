// Package routing implements the ConfigPreprocessor (spec §4.6): it expands
// a loaded UserConfig's route-strings into the concrete RoutingTable that
// PipelineManager assembles pipelines from. Route-string expansion and
// multi-key fan-out are plain data transforms, grounded on the teacher's
// config_load.go validation style (fail fast, collect a clear message per
// violated invariant) generalized to §4.6's expand-don't-fail-hard policy.
package routing

import (
	"fmt"
	"strings"

	"github.com/ferro-labs/pipeline-router/internal/config"
	"github.com/ferro-labs/pipeline-router/internal/logging"
	"github.com/ferro-labs/pipeline-router/internal/rerr"
)

// RouteEntry is one resolved (provider, model, key) candidate for a virtual
// model (spec §3).
type RouteEntry struct {
	VirtualModel                string
	Provider                    string
	TargetModel                 string
	APIKeyIndex                 int
	APIKey                      string
	APIBaseURL                  string
	DeclaredProtocol            string
	DeclaredServerCompatibility string
	ServerCompatibilityOptions  map[string]any
	DeclaredTransformer         string
	MaxTokens                   *int
	IsSecurityEnhanced          bool
	Priority                    int
}

// PipelineID is the deterministic identity spec §3 requires:
// "{provider}-{target_model}-key{index}".
func (e RouteEntry) PipelineID() string {
	return fmt.Sprintf("%s-%s-key%d", e.Provider, e.TargetModel, e.APIKeyIndex)
}

// RoutingTable maps virtual model name to its ordered RouteEntry sequence
// (spec §3). Built once at startup; read-only thereafter.
type RoutingTable map[string][]RouteEntry

// declaredTransformer mirrors PipelineFactory's transformer selection table
// (spec §4.2) so the routing table records the intended transformer name
// even though stage *construction* happens later, in internal/pipeline.
func declaredTransformer(protocol string) string {
	if protocol == "gemini" {
		return "anthropic-to-gemini"
	}
	return "anthropic-to-openai"
}

// Build runs the ConfigPreprocessor over a validated UserConfig: expands
// every router (and optional security) route-string, fans each pair out
// across the provider's API keys, and returns the resulting RoutingTable.
//
// Unknown (provider, model) pairs are skipped with a warning (not a hard
// failure) unless no valid pair remains for a virtual model, which is a hard
// ConfigurationInvalid error (spec §4.6).
func Build(cfg *config.UserConfig) (RoutingTable, error) {
	providers := make(map[string]config.Provider, len(cfg.Providers))
	for _, p := range cfg.Providers {
		providers[p.Name] = p
	}

	table := make(RoutingTable)

	if err := expandSection(cfg.Router, providers, false, table); err != nil {
		return nil, err
	}
	if len(cfg.Security) > 0 {
		if err := expandSection(cfg.Security, providers, true, table); err != nil {
			return nil, err
		}
	}

	return table, nil
}

func expandSection(section map[string]string, providers map[string]config.Provider, securityEnhanced bool, table RoutingTable) error {
	for virtual, routeString := range section {
		pairs := strings.Split(routeString, ";")
		priority := len(table[virtual])

		var validCount int
		for _, pair := range pairs {
			pair = strings.TrimSpace(pair)
			if pair == "" {
				continue
			}
			parts := strings.SplitN(pair, ",", 2)
			if len(parts) != 2 {
				logging.Logger.Warn("skipping malformed route pair", "virtual_model", virtual, "pair", pair)
				continue
			}
			providerName := strings.TrimSpace(parts[0])
			modelName := strings.TrimSpace(parts[1])

			provider, ok := providers[providerName]
			if !ok {
				logging.Logger.Warn("skipping route pair: unknown provider", "virtual_model", virtual, "provider", providerName)
				continue
			}
			if !containsModel(provider.Models, modelName) {
				logging.Logger.Warn("skipping route pair: model not declared for provider", "virtual_model", virtual, "provider", providerName, "model", modelName)
				continue
			}

			for keyIndex, key := range provider.APIKey {
				entry := RouteEntry{
					VirtualModel:        virtual,
					Provider:            provider.Name,
					TargetModel:         modelName,
					APIKeyIndex:         keyIndex,
					APIKey:              key,
					APIBaseURL:          provider.APIBaseURL,
					DeclaredProtocol:    normalizedProtocol(provider.Protocol),
					DeclaredTransformer: declaredTransformer(normalizedProtocol(provider.Protocol)),
					MaxTokens:           provider.MaxTokens,
					IsSecurityEnhanced:  securityEnhanced,
					Priority:            priority,
				}
				if provider.ServerCompatibility != nil {
					entry.DeclaredServerCompatibility = provider.ServerCompatibility.Use
					entry.ServerCompatibilityOptions = provider.ServerCompatibility.Options
				}
				table[virtual] = append(table[virtual], entry)
				priority++
			}
			validCount++
		}

		if validCount == 0 {
			return rerr.New(rerr.ConfigurationInvalid, fmt.Sprintf("virtual model %q: no valid (provider, model) pair in route-string %q", virtual, routeString))
		}
	}
	return nil
}

func normalizedProtocol(p string) string {
	if p == "" {
		return "openai"
	}
	return p
}

func containsModel(models []string, model string) bool {
	for _, m := range models {
		if m == model {
			return true
		}
	}
	return false
}
