// Package config loads and validates the routing proxy's user configuration
// (spec §6), in the teacher's config-loading style: JSON or YAML, whatever
// the file extension, decoded with gopkg.in/yaml.v3 (which also parses JSON,
// since JSON is a YAML subset), followed by ${VAR}/${VAR:default}
// environment-variable substitution and structural validation.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ferro-labs/pipeline-router/internal/rerr"
)

// ServerCompatibilityConfig names a ServerCompatibility strategy and its
// per-provider options (spec §3 UserConfig.Provider.server_compatibility).
type ServerCompatibilityConfig struct {
	Use     string         `json:"use" yaml:"use"`
	Options map[string]any `json:"options" yaml:"options"`
}

// Provider is one upstream entry in the Providers array (spec §6).
type Provider struct {
	Name                string                     `json:"name" yaml:"name"`
	Protocol            string                     `json:"protocol" yaml:"protocol"`
	APIBaseURL          string                     `json:"api_base_url" yaml:"api_base_url"`
	APIKey              StringOrSlice              `json:"api_key" yaml:"api_key"`
	Models              []string                   `json:"models" yaml:"models"`
	ServerCompatibility *ServerCompatibilityConfig `json:"server_compatibility,omitempty" yaml:"server_compatibility,omitempty"`
	MaxTokens           *int                       `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty"`
}

// StringOrSlice decodes either a bare JSON/YAML string or an array of
// strings into a []string — the api_key field's "string or array" shape.
type StringOrSlice []string

// UnmarshalYAML implements yaml.Unmarshaler. gopkg.in/yaml.v3 also decodes
// JSON documents through this path, so one implementation covers both
// config file formats the way config_load.go originally switched on
// extension for.
func (s *StringOrSlice) UnmarshalYAML(value *yaml.Node) error {
	var single string
	if err := value.Decode(&single); err == nil {
		*s = StringOrSlice{single}
		return nil
	}
	var many []string
	if err := value.Decode(&many); err != nil {
		return fmt.Errorf("api_key must be a string or an array of strings: %w", err)
	}
	*s = StringOrSlice(many)
	return nil
}

// ServerConfig is the optional {port, host} block; defaults {5506, 0.0.0.0}.
type ServerConfig struct {
	Port int    `json:"port" yaml:"port"`
	Host string `json:"host" yaml:"host"`
}

// UserConfig is the full decoded shape of the configuration file (spec §3, §6).
type UserConfig struct {
	Providers []Provider          `json:"Providers" yaml:"Providers"`
	Router    map[string]string   `json:"router" yaml:"router"`
	Security  map[string]string   `json:"security,omitempty" yaml:"security,omitempty"`
	Server    *ServerConfig       `json:"server,omitempty" yaml:"server,omitempty"`
	APIKey    string              `json:"APIKEY,omitempty" yaml:"APIKEY,omitempty"`
	ModelMap  map[string]string   `json:"model_map,omitempty" yaml:"model_map,omitempty"`
}

// DefaultServer fills in the §6-specified default {5506, 0.0.0.0}.
func (c *UserConfig) DefaultServer() ServerConfig {
	if c.Server != nil {
		s := *c.Server
		if s.Port == 0 {
			s.Port = 5506
		}
		if s.Host == "" {
			s.Host = "0.0.0.0"
		}
		return s
	}
	return ServerConfig{Port: 5506, Host: "0.0.0.0"}
}

var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:([^}]*))?\}`)

// substituteEnv performs ${VAR} / ${VAR:default} replacement. A referenced
// variable with no default and no environment value is a hard error (spec §6).
func substituteEnv(raw []byte) ([]byte, error) {
	var firstErr error
	out := envPattern.ReplaceAllFunc(raw, func(match []byte) []byte {
		groups := envPattern.FindSubmatch(match)
		name := string(groups[1])
		hasDefault := len(groups[2]) > 0
		defaultVal := string(groups[3])

		if val, ok := os.LookupEnv(name); ok {
			return []byte(val)
		}
		if hasDefault {
			return []byte(defaultVal)
		}
		if firstErr == nil {
			firstErr = rerr.New(rerr.ConfigurationInvalid, fmt.Sprintf("required environment variable %q is not set", name))
		}
		return match
	})
	if firstErr != nil {
		return nil, firstErr
	}
	return out, nil
}

// Load reads, substitutes, decodes, and validates a UserConfig from path.
// JSON and YAML are both accepted regardless of extension, matching
// config_load.go's original JSON/YAML duality — gopkg.in/yaml.v3 decodes
// both.
func Load(path string) (*UserConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, rerr.Wrap(rerr.ConfigurationInvalid, "read config file", err)
	}

	substituted, err := substituteEnv(raw)
	if err != nil {
		return nil, err
	}

	var cfg UserConfig
	if err := yaml.Unmarshal(substituted, &cfg); err != nil {
		return nil, rerr.Wrap(rerr.ConfigurationInvalid, fmt.Sprintf("parse config file %s", filepath.Base(path)), err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks structural invariants that ConfigPreprocessor relies on:
// provider names unique and non-empty, protocol in the recognised set,
// api_base_url present, every router/security route-string will be checked
// against these providers at expansion time (internal/routing).
func Validate(cfg *UserConfig) error {
	if len(cfg.Providers) == 0 {
		return rerr.New(rerr.ConfigurationInvalid, "Providers must declare at least one entry")
	}
	seen := make(map[string]bool, len(cfg.Providers))
	for _, p := range cfg.Providers {
		if p.Name == "" {
			return rerr.New(rerr.ConfigurationInvalid, "Provider name must not be empty")
		}
		if seen[p.Name] {
			return rerr.New(rerr.ConfigurationInvalid, fmt.Sprintf("duplicate provider name %q", p.Name))
		}
		seen[p.Name] = true
		if p.APIBaseURL == "" {
			return rerr.New(rerr.ConfigurationInvalid, fmt.Sprintf("provider %q: api_base_url is required", p.Name))
		}
		switch strings.ToLower(p.Protocol) {
		case "", "openai", "anthropic", "gemini":
		default:
			return rerr.New(rerr.ConfigurationInvalid, fmt.Sprintf("provider %q: unrecognised protocol %q", p.Name, p.Protocol))
		}
		if len(p.APIKey) == 0 {
			return rerr.New(rerr.ConfigurationInvalid, fmt.Sprintf("provider %q: api_key is required", p.Name))
		}
	}
	if len(cfg.Router) == 0 {
		return rerr.New(rerr.ConfigurationInvalid, "router must map at least one virtual model to a route-string")
	}
	return nil
}
