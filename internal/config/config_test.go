package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfigFile(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestLoadAppliesDefaultsWhenFileEmpty(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.SourceType != SourceLocal {
		t.Errorf("expected default sourceType %q, got %q", SourceLocal, cfg.SourceType)
	}
	if cfg.OrdDocumentsSubDirectory != "documents" {
		t.Errorf("expected default documents subdir, got %q", cfg.OrdDocumentsSubDirectory)
	}
	if cfg.Host != "0.0.0.0" || cfg.Port != 8080 {
		t.Errorf("expected default host:port 0.0.0.0:8080, got %s:%d", cfg.Host, cfg.Port)
	}
	if cfg.UpdateDelayMS != 60_000 {
		t.Errorf("expected default updateDelay 60000, got %d", cfg.UpdateDelayMS)
	}
	if len(cfg.Authentication.Methods) != 1 || cfg.Authentication.Methods[0] != AuthOpen {
		t.Errorf("expected default auth method [open], got %v", cfg.Authentication.Methods)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeConfigFile(t, "sourceType: local\nbogusField: true\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected strict decode to reject an unknown field")
	}
}

func TestLoadRequiresGithubRepositoryForGithubSource(t *testing.T) {
	path := writeConfigFile(t, "sourceType: github\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error when githubRepository is missing")
	}
}

func TestLoadAcceptsGithubSourceWithRepository(t *testing.T) {
	path := writeConfigFile(t, "sourceType: github\ngithubRepository: acme/catalog\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.GithubBranch != "main" {
		t.Errorf("expected default githubBranch main, got %q", cfg.GithubBranch)
	}
}

func TestLoadRejectsRelativeBaseURL(t *testing.T) {
	path := writeConfigFile(t, "baseUrl: /not-absolute\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error for a non-absolute baseUrl")
	}
}

func TestLoadRejectsUnknownAuthMethod(t *testing.T) {
	path := writeConfigFile(t, "authentication:\n  methods: [\"carrier-pigeon\"]\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error for an unknown authentication method")
	}
}

func TestLoadRejectsNegativeUpdateDelay(t *testing.T) {
	path := writeConfigFile(t, "updateDelay: -1\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error for a negative updateDelay")
	}
}

func TestApplyEnvOverridesAddsBasicAuthMethod(t *testing.T) {
	t.Setenv("BASIC_AUTH", "alice:$2a$10$hash")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !containsMethod(cfg.Authentication.Methods, AuthBasic) {
		t.Errorf("expected BASIC_AUTH env var to add the basic auth method, got %v", cfg.Authentication.Methods)
	}
	if cfg.Authentication.BasicAuthUsers["alice"] != "$2a$10$hash" {
		t.Errorf("expected alice's hash to be parsed, got %v", cfg.Authentication.BasicAuthUsers)
	}
}

func TestApplyEnvOverridesAddsMTLSMethodWhenEnabled(t *testing.T) {
	t.Setenv("MTLS_MODE", "true")
	t.Setenv("MTLS_TRUSTED_ISSUERS", "CN=ca1, CN=ca2")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !containsMethod(cfg.Authentication.Methods, AuthMTLS) {
		t.Errorf("expected MTLS_MODE=true to add the mtls auth method, got %v", cfg.Authentication.Methods)
	}
	if len(cfg.Authentication.SAPCFMTLS.TrustedIssuers) != 2 {
		t.Errorf("expected 2 trusted issuers, got %v", cfg.Authentication.SAPCFMTLS.TrustedIssuers)
	}
}

func TestAddrCombinesHostAndPort(t *testing.T) {
	cfg := &Config{Host: "127.0.0.1", Port: 9090}
	if got := cfg.Addr(); got != "127.0.0.1:9090" {
		t.Errorf("expected 127.0.0.1:9090, got %q", got)
	}
}

func TestParseBasicAuthEnvMergesWithExisting(t *testing.T) {
	existing := map[string]string{"bob": "oldhash"}
	out := parseBasicAuthEnv("bob:newhash,carol:carolhash", existing)
	if out["bob"] != "newhash" {
		t.Errorf("expected bob's hash to be overridden, got %q", out["bob"])
	}
	if out["carol"] != "carolhash" {
		t.Errorf("expected carol to be added, got %q", out["carol"])
	}
}
