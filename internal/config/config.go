// Package config loads the service configuration: the child profile
// roster, the permission catalog, rate-limit rules and the endpoints of
// the external collaborators. Values come from defaults, then a YAML
// file, then KIDSGATE_* environment overrides.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	yamlv3 "gopkg.in/yaml.v3"

	"kidsgate.org/internal/profile"
	"kidsgate.org/internal/ratelimit"
	"kidsgate.org/internal/secure"
)

// envPrefix namespaces environment overrides, e.g. KIDSGATE_HTTP_ADDR.
const envPrefix = "KIDSGATE_"

// OpenAIConfig configures the AI capability client.
type OpenAIConfig struct {
	APIKey  string `koanf:"api_key" yaml:"api_key"`
	Model   string `koanf:"model" yaml:"model"`
	BaseURL string `koanf:"base_url" yaml:"base_url"`
}

// PortalConfig configures the portal authentication client.
type PortalConfig struct {
	Secret     string        `koanf:"secret" yaml:"secret"`
	SessionTTL time.Duration `koanf:"session_ttl" yaml:"session_ttl"`
}

// Config is the full service configuration.
type Config struct {
	HTTPAddr string `koanf:"http_addr" yaml:"http_addr"`
	GRPCAddr string `koanf:"grpc_addr" yaml:"grpc_addr"`

	// PostgresDSN enables the durable audit archive and artifact store
	// when set; the service runs on in-memory stores without it.
	PostgresDSN string `koanf:"postgres_dsn" yaml:"postgres_dsn"`

	// Profiles is the roster of child profiles scopes may be opened for.
	Profiles []profile.Profile `koanf:"profiles" yaml:"profiles"`

	// Permissions lists the allowed operations. Empty means the built-in
	// catalog.
	Permissions []string `koanf:"permissions" yaml:"permissions"`

	// RateLimits maps operation names to ceilings; Fallback applies to
	// operations without an explicit rule.
	RateLimits map[string]ratelimit.Rule `koanf:"rate_limits" yaml:"rate_limits"`
	Fallback   ratelimit.Rule            `koanf:"fallback_limit" yaml:"fallback_limit"`

	// ContextLifetime bounds how long a bound profile context stays valid.
	ContextLifetime time.Duration `koanf:"context_lifetime" yaml:"context_lifetime"`

	OpenAI OpenAIConfig `koanf:"openai" yaml:"openai"`
	Portal PortalConfig `koanf:"portal" yaml:"portal"`
}

// Default returns the configuration used when no file or overrides are
// present.
func Default() *Config {
	return &Config{
		HTTPAddr: ":8080",
		Fallback: ratelimit.Rule{Limit: 30, Window: time.Minute},
		RateLimits: map[string]ratelimit.Rule{
			secure.OpAIQuery:     {Limit: 10, Window: time.Minute},
			secure.OpAISummarize: {Limit: 10, Window: time.Minute},
			secure.OpDeleteData:  {Limit: 5, Window: time.Minute},
		},
		ContextLifetime: time.Hour,
		OpenAI: OpenAIConfig{
			Model: "gpt-4o-mini",
		},
		Portal: PortalConfig{
			SessionTTL: 30 * time.Minute,
		},
	}
}

// Load reads configuration from the given YAML file, then overlays
// KIDSGATE_* environment variables.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	cfg := Default()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("reading config %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("accessing config %s: %w", path, err)
		}
	}

	// KIDSGATE_HTTP_ADDR -> http_addr, KIDSGATE_OPENAI__API_KEY ->
	// openai.api_key.
	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		s = strings.ToLower(strings.TrimPrefix(s, envPrefix))
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("loading env overrides: %w", err)
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}
	return cfg, nil
}

// Save writes the configuration to the given YAML file path.
func (c *Config) Save(path string) error {
	data, err := yamlv3.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshalling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Validate checks the configuration before any scope is opened: profile
// ids must be unique and valid, configured permissions and rate-limit
// keys must name known operations, and ceilings must be positive.
func (c *Config) Validate() error {
	if c.HTTPAddr == "" {
		return fmt.Errorf("http_addr is required")
	}
	if len(c.Profiles) == 0 {
		return fmt.Errorf("at least one profile is required")
	}
	seen := make(map[string]bool, len(c.Profiles))
	for _, p := range c.Profiles {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("profile %q: %w", p.ID, err)
		}
		if seen[p.ID] {
			return fmt.Errorf("duplicate profile id %q", p.ID)
		}
		seen[p.ID] = true
	}

	if len(c.Permissions) > 0 {
		if _, err := secure.NewCatalog(c.Permissions); err != nil {
			return err
		}
	}

	known := secure.DefaultCatalog()
	for op, rule := range c.RateLimits {
		if !known.Allowed(op) {
			return fmt.Errorf("rate limit for unknown operation %q", op)
		}
		if rule.Limit <= 0 || rule.Window <= 0 {
			return fmt.Errorf("rate limit for %q must have positive limit and window", op)
		}
	}
	if c.Fallback.Limit <= 0 || c.Fallback.Window <= 0 {
		return fmt.Errorf("fallback_limit must have positive limit and window")
	}
	if c.ContextLifetime <= 0 {
		return fmt.Errorf("context_lifetime must be positive")
	}
	return nil
}

// Catalog builds the permission catalog from the configured operations,
// falling back to the built-in set.
func (c *Config) Catalog() (*secure.Catalog, error) {
	if len(c.Permissions) == 0 {
		return secure.DefaultCatalog(), nil
	}
	return secure.NewCatalog(c.Permissions)
}
