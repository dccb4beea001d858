// Package relay hosts the auth-handler page and relays popup messages back
// to in-process sign-in attempts. It also fronts the app's generate API so
// browser clients never see the upstream key.
package relay

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Hardcoded relay defaults
const (
	DefaultAttemptTTL   = 10 * time.Minute
	DefaultBufferSize   = 16
	DefaultOpenerPolicy = "same-origin-allow-popups"
)

// Hardcoded CORS defaults
var (
	DefaultCORSAllowedHeaders = []string{"Authorization", "Content-Type"}
	DefaultCORSAllowedMethods = []string{"GET", "POST", "OPTIONS"}
)

// Config captures the full application configuration loaded from YAML and environment variables.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Identity IdentityConfig `yaml:"identity"`
	Relay    RelayConfig    `yaml:"relay"`
	Generate GenerateConfig `yaml:"generate"`
}

// ServerConfig controls listener, TLS, and HTTP concerns.
type ServerConfig struct {
	PublicURL       string     `yaml:"public_url"`
	DevListenAddr   string     `yaml:"dev_listen_addr"`
	HTTPListenAddr  string     `yaml:"http_listen_addr"`
	HTTPSListenAddr string     `yaml:"https_listen_addr"`
	DevMode         bool       `yaml:"dev_mode"`
	StaticDir       string     `yaml:"static_dir"`
	TLS             TLSConfig  `yaml:"tls"`
	CORS            CORSConfig `yaml:"cors"`
}

// TLSConfig defines autocert behaviour and TLS constraints.
type TLSConfig struct {
	Domains    []string `yaml:"domains"`
	Email      string   `yaml:"email"`
	MinVersion string   `yaml:"min_version"`
	HSTSMaxAge int      `yaml:"hsts_max_age"`
}

// CORSConfig lists the origins allowed to post relay messages.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// IdentityConfig points at the identity service backing the sign-in flows.
type IdentityConfig struct {
	BaseURL    string `yaml:"base_url"`
	AuthDomain string `yaml:"auth_domain"`
	APIKeyEnv  string `yaml:"api_key_env"`
	Issuer     string `yaml:"issuer"`
	JWKSURL    string `yaml:"jwks_url"`
	Audience   string `yaml:"audience"`
}

// RelayConfig tunes the message relay between popup and opener.
type RelayConfig struct {
	AttemptTTL   string `yaml:"attempt_ttl"`
	BufferSize   int    `yaml:"buffer_size"`
	OpenerPolicy string `yaml:"opener_policy"`
}

// GenerateConfig defines the proxied generate endpoint.
type GenerateConfig struct {
	Target    string `yaml:"target"`
	APIKeyEnv string `yaml:"api_key_env"`
	Timeout   string `yaml:"timeout"`
}

// LoadConfig reads the YAML config file and merges environment overrides.
func LoadConfig(path string) (Config, error) {
	cfg := defaultConfig()

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		sanitized := stripYAMLComments(b)

		// Use strict unmarshaling to detect unknown fields
		decoder := yaml.NewDecoder(bytes.NewReader(sanitized))
		decoder.KnownFields(true)

		if err := decoder.Decode(&cfg); err != nil {
			if strings.Contains(err.Error(), "field") && strings.Contains(err.Error(), "not found") {
				slog.Error("Configuration contains unknown keys", "error", err, "file", path)
				return Config{}, fmt.Errorf("invalid config: %w (check for typos or deprecated fields)", err)
			}
			slog.Error("Failed to parse configuration", "error", err, "file", path)
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		slog.Error("Configuration validation failed", "error", err)
		return Config{}, err
	}

	return cfg, nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			PublicURL:       "http://127.0.0.1:8080",
			DevListenAddr:   "127.0.0.1:8080",
			HTTPListenAddr:  ":80",
			HTTPSListenAddr: ":443",
			DevMode:         true,
			TLS: TLSConfig{
				Domains:    []string{"localhost"},
				Email:      "",
				MinVersion: "1.2",
				HSTSMaxAge: 31536000,
			},
			CORS: CORSConfig{
				AllowedMethods: DefaultCORSAllowedMethods,
				AllowedHeaders: DefaultCORSAllowedHeaders,
			},
		},
		Identity: IdentityConfig{
			APIKeyEnv: "COOPAUTH_IDENTITY_API_KEY",
		},
		Relay: RelayConfig{
			AttemptTTL:   DefaultAttemptTTL.String(),
			BufferSize:   DefaultBufferSize,
			OpenerPolicy: DefaultOpenerPolicy,
		},
		Generate: GenerateConfig{
			APIKeyEnv: "COOPAUTH_GENERATE_API_KEY",
			Timeout:   "30s",
		},
	}
}

// DefaultConfig returns the default configuration template.
func DefaultConfig() Config {
	return defaultConfig()
}

func stripYAMLComments(in []byte) []byte {
	lines := bytes.Split(in, []byte("\n"))
	out := make([][]byte, 0, len(lines))
	for _, line := range lines {
		trim := bytes.TrimLeft(line, " \t")
		if len(trim) > 0 && trim[0] == '#' {
			continue
		}
		out = append(out, line)
	}
	return bytes.Join(out, []byte("\n"))
}

func applyEnvOverrides(cfg *Config) {
	overrides := map[string]func(string){
		"COOPAUTH_SERVER_PUBLIC_URL":        func(v string) { cfg.Server.PublicURL = v },
		"COOPAUTH_SERVER_DEV_LISTEN_ADDR":   func(v string) { cfg.Server.DevListenAddr = v },
		"COOPAUTH_SERVER_HTTP_LISTEN_ADDR":  func(v string) { cfg.Server.HTTPListenAddr = v },
		"COOPAUTH_SERVER_HTTPS_LISTEN_ADDR": func(v string) { cfg.Server.HTTPSListenAddr = v },
		"COOPAUTH_SERVER_DEV_MODE":          func(v string) { cfg.Server.DevMode = parseBool(v, cfg.Server.DevMode) },
		"COOPAUTH_SERVER_STATIC_DIR":        func(v string) { cfg.Server.StaticDir = v },
		"COOPAUTH_SERVER_TLS_DOMAINS":       func(v string) { cfg.Server.TLS.Domains = splitAndTrim(v) },
		"COOPAUTH_SERVER_TLS_EMAIL":         func(v string) { cfg.Server.TLS.Email = v },
		"COOPAUTH_IDENTITY_BASE_URL":        func(v string) { cfg.Identity.BaseURL = v },
		"COOPAUTH_IDENTITY_AUTH_DOMAIN":     func(v string) { cfg.Identity.AuthDomain = v },
		"COOPAUTH_RELAY_OPENER_POLICY":      func(v string) { cfg.Relay.OpenerPolicy = v },
		"COOPAUTH_GENERATE_TARGET":          func(v string) { cfg.Generate.Target = v },
	}

	for key, fn := range overrides {
		if val, ok := os.LookupEnv(key); ok {
			fn(val)
		}
	}
}

func parseBool(val string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(val)) {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return fallback
	}
}

func splitAndTrim(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Validate performs minimal sanity checks on the config.
func (c Config) Validate() error {
	if c.Server.PublicURL == "" {
		slog.Error("Missing required configuration", "field", "server.public_url")
		return errors.New("server.public_url is required")
	}
	if !strings.HasPrefix(c.Server.PublicURL, "http://") && !strings.HasPrefix(c.Server.PublicURL, "https://") {
		slog.Error("Invalid configuration value", "field", "server.public_url", "value", c.Server.PublicURL, "reason", "must start with http:// or https://")
		return fmt.Errorf("server.public_url must start with http:// or https://, got: %s", c.Server.PublicURL)
	}

	if !c.Server.DevMode && len(c.Server.TLS.Domains) == 0 {
		slog.Error("Missing required configuration for production mode", "field", "server.tls.domains")
		return errors.New("server.tls.domains must be provided in production")
	}
	if c.Server.TLS.MinVersion != "" {
		validVersions := map[string]bool{"1.2": true, "1.3": true}
		if !validVersions[c.Server.TLS.MinVersion] {
			slog.Error("Invalid TLS minimum version", "field", "server.tls.min_version", "value", c.Server.TLS.MinVersion, "valid_values", []string{"1.2", "1.3"})
			return fmt.Errorf("server.tls.min_version must be '1.2' or '1.3', got: %s", c.Server.TLS.MinVersion)
		}
	}

	if !c.Server.DevMode && c.Identity.BaseURL == "" {
		slog.Error("Missing required configuration for production mode", "field", "identity.base_url")
		return errors.New("identity.base_url is required in production")
	}
	if c.Identity.BaseURL != "" && !strings.HasPrefix(c.Identity.BaseURL, "http://") && !strings.HasPrefix(c.Identity.BaseURL, "https://") {
		slog.Error("Invalid configuration value", "field", "identity.base_url", "value", c.Identity.BaseURL)
		return fmt.Errorf("identity.base_url must start with http:// or https://, got: %s", c.Identity.BaseURL)
	}

	if _, err := c.AttemptTTL(); err != nil {
		slog.Error("Invalid relay attempt TTL", "field", "relay.attempt_ttl", "value", c.Relay.AttemptTTL, "error", err)
		return fmt.Errorf("relay.attempt_ttl: %w", err)
	}
	if c.Relay.BufferSize < 0 {
		slog.Error("Invalid relay buffer size", "field", "relay.buffer_size", "value", c.Relay.BufferSize)
		return fmt.Errorf("relay.buffer_size must not be negative, got: %d", c.Relay.BufferSize)
	}

	if c.Generate.Target != "" {
		if !strings.HasPrefix(c.Generate.Target, "http://") && !strings.HasPrefix(c.Generate.Target, "https://") {
			slog.Error("Invalid generate target URL", "field", "generate.target", "value", c.Generate.Target)
			return fmt.Errorf("generate.target must start with http:// or https://, got: %s", c.Generate.Target)
		}
		if c.Generate.Timeout != "" {
			if _, err := time.ParseDuration(c.Generate.Timeout); err != nil {
				slog.Error("Invalid generate timeout", "field", "generate.timeout", "value", c.Generate.Timeout, "error", err)
				return fmt.Errorf("generate.timeout: invalid duration '%s': %w", c.Generate.Timeout, err)
			}
		}
	}

	return nil
}

// AttemptTTL parses the configured attempt TTL, falling back to the default
// when unset.
func (c Config) AttemptTTL() (time.Duration, error) {
	if c.Relay.AttemptTTL == "" {
		return DefaultAttemptTTL, nil
	}
	d, err := time.ParseDuration(c.Relay.AttemptTTL)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("must be positive, got %s", c.Relay.AttemptTTL)
	}
	return d, nil
}

// GenerateTimeout parses the configured proxy timeout.
func (c Config) GenerateTimeout() time.Duration {
	return c.Generate.DialTimeout()
}

// DialTimeout parses the configured proxy timeout, falling back
// to 30s when unset or invalid.
func (g GenerateConfig) DialTimeout() time.Duration {
	if g.Timeout == "" {
		return 30 * time.Second
	}
	d, err := time.ParseDuration(g.Timeout)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}
