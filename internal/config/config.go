// Package config loads and validates the gateway's configuration from a
// YAML file plus environment variable overrides, following the same
// decode-then-default-then-validate shape the teacher uses for its run
// config (strict decode, defaults applied, then validated as a whole).
package config

import (
	"bytes"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// SourceType selects where document content is materialised from.
type SourceType string

const (
	SourceLocal  SourceType = "local"
	SourceGithub SourceType = "github"
)

// AuthMethod is one of the pluggable authentication strategies.
type AuthMethod string

const (
	AuthOpen  AuthMethod = "open"
	AuthBasic AuthMethod = "basic"
	AuthMTLS  AuthMethod = "mtls"
)

// MTLSConfig configures the CF-mTLS-via-headers strategy.
type MTLSConfig struct {
	Enabled            bool     `yaml:"enabled"`
	TrustedIssuers     []string `yaml:"trustedIssuers"`
	TrustedSubjects    []string `yaml:"trustedSubjects"`
	DecodeBase64Headers bool    `yaml:"decodeBase64Headers"`
	ConfigEndpoints    []string `yaml:"configEndpoints"`
}

// AuthConfig configures the auth pipeline.
type AuthConfig struct {
	Methods         []AuthMethod      `yaml:"methods"`
	BasicAuthUsers  map[string]string `yaml:"basicAuthUsers"`
	SAPCFMTLS       MTLSConfig        `yaml:"sapCfMtls"`
}

// Config is the top-level gateway configuration.
type Config struct {
	SourceType              SourceType `yaml:"sourceType"`
	OrdDirectory            string     `yaml:"ordDirectory"`
	OrdDocumentsSubDirectory string    `yaml:"ordDocumentsSubDirectory"`
	BaseURL                 string     `yaml:"baseUrl"`

	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	GithubAPIURL    string `yaml:"githubApiUrl"`
	GithubRepository string `yaml:"githubRepository"`
	GithubBranch    string `yaml:"githubBranch"`
	GithubToken     string `yaml:"githubToken"`

	WebhookSecret string `yaml:"webhookSecret"`
	UpdateDelayMS int    `yaml:"updateDelay"`

	DataDir string `yaml:"dataDir"`

	// SchemaPath optionally overrides the embedded default ORD document
	// JSON Schema with one read from disk (e.g. to pin a newer ORD spec
	// version). Empty means "use the embedded default".
	SchemaPath string `yaml:"schemaPath"`

	Authentication AuthConfig `yaml:"authentication"`

	StatusDashboardEnabled bool `yaml:"statusDashboardEnabled"`
}

// defaults mirrors the teacher's applyConfigDefaults: zero-value fields get
// filled in before validation runs.
func applyDefaults(cfg *Config) {
	if cfg.SourceType == "" {
		cfg.SourceType = SourceLocal
	}
	if cfg.OrdDocumentsSubDirectory == "" {
		cfg.OrdDocumentsSubDirectory = "documents"
	}
	if cfg.Host == "" {
		cfg.Host = "0.0.0.0"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.UpdateDelayMS == 0 {
		cfg.UpdateDelayMS = 60_000
	}
	if cfg.DataDir == "" {
		cfg.DataDir = "./data"
	}
	if cfg.GithubBranch == "" {
		cfg.GithubBranch = "main"
	}
	if cfg.GithubAPIURL == "" {
		cfg.GithubAPIURL = "https://api.github.com"
	}
	if len(cfg.Authentication.Methods) == 0 {
		cfg.Authentication.Methods = []AuthMethod{AuthOpen}
	}
}

func validate(cfg *Config) error {
	switch cfg.SourceType {
	case SourceLocal, SourceGithub:
	default:
		return fmt.Errorf("sourceType must be %q or %q, got %q", SourceLocal, SourceGithub, cfg.SourceType)
	}
	if cfg.SourceType == SourceGithub && strings.TrimSpace(cfg.GithubRepository) == "" {
		return fmt.Errorf("githubRepository is required when sourceType=github")
	}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		u, err := url.Parse(cfg.BaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("baseUrl must be an absolute URL, got %q", cfg.BaseURL)
		}
	}
	for _, m := range cfg.Authentication.Methods {
		switch m {
		case AuthOpen, AuthBasic, AuthMTLS:
		default:
			return fmt.Errorf("unknown authentication method %q", m)
		}
	}
	if cfg.UpdateDelayMS < 0 {
		return fmt.Errorf("updateDelay must be >= 0")
	}
	return nil
}

// Load reads and strictly decodes the YAML config at path, applies
// defaults, overlays environment variables, and validates the result.
func Load(path string) (*Config, error) {
	var cfg Config
	if strings.TrimSpace(path) != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := decodeYAMLStrict(b, &cfg); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
	}
	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func decodeYAMLStrict(b []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	return dec.Decode(cfg)
}

// applyEnvOverrides applies the documented environment-driven fallbacks
// (spec §6) after YAML decode, so an operator can override without editing
// the file (e.g. in a container).
func applyEnvOverrides(cfg *Config) {
	if v, ok := os.LookupEnv("BASIC_AUTH"); ok {
		cfg.Authentication.BasicAuthUsers = parseBasicAuthEnv(v, cfg.Authentication.BasicAuthUsers)
		if !containsMethod(cfg.Authentication.Methods, AuthBasic) {
			cfg.Authentication.Methods = append(cfg.Authentication.Methods, AuthBasic)
		}
	}
	if v, ok := os.LookupEnv("MTLS_MODE"); ok {
		cfg.Authentication.SAPCFMTLS.Enabled = parseBool(v, cfg.Authentication.SAPCFMTLS.Enabled)
		if cfg.Authentication.SAPCFMTLS.Enabled && !containsMethod(cfg.Authentication.Methods, AuthMTLS) {
			cfg.Authentication.Methods = append(cfg.Authentication.Methods, AuthMTLS)
		}
	}
	if v, ok := os.LookupEnv("MTLS_TRUSTED_ISSUERS"); ok {
		cfg.Authentication.SAPCFMTLS.TrustedIssuers = splitNonEmpty(v, ",")
	}
	if v, ok := os.LookupEnv("MTLS_TRUSTED_SUBJECTS"); ok {
		cfg.Authentication.SAPCFMTLS.TrustedSubjects = splitNonEmpty(v, ",")
	}
	if v, ok := os.LookupEnv("MTLS_CONFIG_ENDPOINTS"); ok {
		cfg.Authentication.SAPCFMTLS.ConfigEndpoints = splitNonEmpty(v, ",")
	}
	if v, ok := os.LookupEnv("MTLS_DECODE_BASE64_HEADERS"); ok {
		cfg.Authentication.SAPCFMTLS.DecodeBase64Headers = parseBool(v, cfg.Authentication.SAPCFMTLS.DecodeBase64Headers)
	}
}

func containsMethod(methods []AuthMethod, m AuthMethod) bool {
	for _, x := range methods {
		if x == m {
			return true
		}
	}
	return false
}

func parseBool(s string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1", "yes", "y":
		return true
	case "false", "0", "no", "n":
		return false
	default:
		return def
	}
}

func splitNonEmpty(s, sep string) []string {
	parts := strings.Split(s, sep)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// parseBasicAuthEnv parses "user:bcrypthash,user2:bcrypthash2" into a map,
// merging with (and overriding) any existing entries from the YAML file.
func parseBasicAuthEnv(v string, existing map[string]string) map[string]string {
	out := make(map[string]string, len(existing))
	for k, val := range existing {
		out[k] = val
	}
	for _, pair := range strings.Split(v, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		idx := strings.Index(pair, ":")
		if idx < 0 {
			continue
		}
		out[pair[:idx]] = pair[idx+1:]
	}
	return out
}

// Addr returns the host:port listen address.
func (c *Config) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}
