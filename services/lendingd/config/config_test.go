package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeConfig(t, `
listen: " :6000 "
tls:
  allow_insecure: true
auth:
  api_tokens:
    - " token-one "
    - " "
    - "token-two"
  admin_tokens: [" root "]
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.ListenAddress != ":6000" {
		t.Fatalf("unexpected listen address: %q", cfg.ListenAddress)
	}
	if cfg.ProtocolConfig != defaultProtocolConfig {
		t.Fatalf("unexpected protocol config: %q", cfg.ProtocolConfig)
	}
	if cfg.ShutdownTimeout != defaultShutdownTimeout {
		t.Fatalf("unexpected shutdown timeout: %s", cfg.ShutdownTimeout)
	}
	if !cfg.TLS.AllowInsecure || cfg.TLS.Enabled() {
		t.Fatalf("expected plaintext listener")
	}
	if len(cfg.Auth.APITokens) != 2 {
		t.Fatalf("expected 2 trimmed api tokens, got %d", len(cfg.Auth.APITokens))
	}
	if len(cfg.Auth.AdminTokens) != 1 || cfg.Auth.AdminTokens[0] != "root" {
		t.Fatalf("unexpected admin tokens: %v", cfg.Auth.AdminTokens)
	}
}

func TestLoadConfigParsesLimitsAndTimeouts(t *testing.T) {
	path := writeConfig(t, `
protocol_config: /etc/fixedlend/protocol.toml
shutdown_timeout: 12s
tls:
  allow_insecure: true
auth:
  admin_tokens: [root]
rate_limit:
  requests_per_minute: 120
  burst: 10
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.ProtocolConfig != "/etc/fixedlend/protocol.toml" {
		t.Fatalf("unexpected protocol config: %q", cfg.ProtocolConfig)
	}
	if cfg.ShutdownTimeout != 12*time.Second {
		t.Fatalf("unexpected shutdown timeout: %s", cfg.ShutdownTimeout)
	}
	if cfg.RateLimit.RequestsPerMinute != 120 || cfg.RateLimit.Burst != 10 {
		t.Fatalf("unexpected rate limit: %+v", cfg.RateLimit)
	}
}

func TestLoadConfigRequiresTokens(t *testing.T) {
	path := writeConfig(t, `
tls:
  allow_insecure: true
auth: {}
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error when no tokens are configured")
	}
}

func TestLoadConfigRejectsSharedTokens(t *testing.T) {
	path := writeConfig(t, `
tls:
  allow_insecure: true
auth:
  api_tokens: [shared]
  admin_tokens: [shared]
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error when a token is both api and admin")
	}
}

func TestLoadConfigValidatesTLS(t *testing.T) {
	path := writeConfig(t, `
tls:
  cert: "server.crt"
auth:
  api_tokens:
    - token
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error when tls key is missing")
	}
}

func TestLoadConfigRequiresTLSMaterialUnlessInsecure(t *testing.T) {
	path := writeConfig(t, `
auth:
  api_tokens: [token]
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error when tls material missing without allow_insecure")
	}
}

func TestLoadConfigRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, `
tls:
  allow_insecure: true
auth:
  api_tokens: [token]
mtls: {}
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestLoadConfigRejectsNegativeRateLimit(t *testing.T) {
	path := writeConfig(t, `
tls:
  allow_insecure: true
auth:
  api_tokens: [token]
rate_limit:
  burst: -1
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for negative burst")
	}
}
