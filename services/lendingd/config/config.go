package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultListen          = ":8545"
	defaultProtocolConfig  = "./fixedlend.toml"
	defaultShutdownTimeout = 5 * time.Second
)

// Config captures the runtime settings for the lending daemon.
type Config struct {
	ListenAddress   string          `yaml:"listen"`
	ProtocolConfig  string          `yaml:"protocol_config"`
	LogFile         string          `yaml:"log_file"`
	ShutdownTimeout time.Duration   `yaml:"shutdown_timeout"`
	TLS             TLSConfig       `yaml:"tls"`
	Auth            AuthConfig      `yaml:"auth"`
	RateLimit       RateLimitConfig `yaml:"rate_limit"`
}

// TLSConfig describes the TLS material for the HTTP listener.
type TLSConfig struct {
	CertPath      string `yaml:"cert"`
	KeyPath       string `yaml:"key"`
	ClientCAPath  string `yaml:"client_ca"`
	AllowInsecure bool   `yaml:"allow_insecure"`
}

// AuthConfig lists the bearer tokens accepted by the daemon. Admin tokens
// additionally unlock the /admin routes.
type AuthConfig struct {
	APITokens   []string `yaml:"api_tokens"`
	AdminTokens []string `yaml:"admin_tokens"`
}

// RateLimitConfig bounds requests per client. Zero disables throttling.
type RateLimitConfig struct {
	RequestsPerMinute float64 `yaml:"requests_per_minute"`
	Burst             int     `yaml:"burst"`
}

// Load reads the YAML configuration from disk and validates the result.
func Load(path string) (Config, error) {
	cfg := Config{
		ListenAddress:   defaultListen,
		ProtocolConfig:  defaultProtocolConfig,
		ShutdownTimeout: defaultShutdownTimeout,
	}
	if path == "" {
		return cfg, fmt.Errorf("config path required")
	}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (cfg *Config) normalize() {
	if cfg == nil {
		return
	}
	cfg.ListenAddress = strings.TrimSpace(cfg.ListenAddress)
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = defaultListen
	}
	cfg.ProtocolConfig = strings.TrimSpace(cfg.ProtocolConfig)
	if cfg.ProtocolConfig == "" {
		cfg.ProtocolConfig = defaultProtocolConfig
	}
	cfg.LogFile = strings.TrimSpace(cfg.LogFile)
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}
	cfg.TLS.normalize()
	cfg.Auth.normalize()
}

func (cfg *Config) validate() error {
	if cfg == nil {
		return fmt.Errorf("configuration is missing")
	}
	if err := cfg.TLS.validate(); err != nil {
		return fmt.Errorf("tls: %w", err)
	}
	if err := cfg.Auth.validate(); err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	if cfg.RateLimit.RequestsPerMinute < 0 || cfg.RateLimit.Burst < 0 {
		return fmt.Errorf("rate_limit: values must not be negative")
	}
	return nil
}

func (cfg *TLSConfig) normalize() {
	if cfg == nil {
		return
	}
	cfg.CertPath = strings.TrimSpace(cfg.CertPath)
	cfg.KeyPath = strings.TrimSpace(cfg.KeyPath)
	cfg.ClientCAPath = strings.TrimSpace(cfg.ClientCAPath)
}

func (cfg TLSConfig) validate() error {
	hasCert := cfg.CertPath != ""
	hasKey := cfg.KeyPath != ""
	if hasCert != hasKey {
		return fmt.Errorf("cert and key must either both be provided or both be empty")
	}
	if !cfg.AllowInsecure && !hasCert {
		return fmt.Errorf("cert and key are required unless allow_insecure=true")
	}
	if cfg.ClientCAPath != "" && !hasCert {
		return fmt.Errorf("client_ca requires a server certificate and key")
	}
	return nil
}

// Enabled reports whether the listener serves TLS.
func (cfg TLSConfig) Enabled() bool {
	return cfg.CertPath != "" && cfg.KeyPath != ""
}

func trimTokens(in []string) []string {
	out := make([]string, 0, len(in))
	for _, token := range in {
		if trimmed := strings.TrimSpace(token); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func (cfg *AuthConfig) normalize() {
	if cfg == nil {
		return
	}
	cfg.APITokens = trimTokens(cfg.APITokens)
	cfg.AdminTokens = trimTokens(cfg.AdminTokens)
}

func (cfg AuthConfig) validate() error {
	if len(cfg.APITokens) == 0 && len(cfg.AdminTokens) == 0 {
		return fmt.Errorf("at least one api or admin token must be configured")
	}
	admin := make(map[string]struct{}, len(cfg.AdminTokens))
	for _, token := range cfg.AdminTokens {
		admin[token] = struct{}{}
	}
	for _, token := range cfg.APITokens {
		if _, ok := admin[token]; ok {
			return fmt.Errorf("token listed as both api and admin token")
		}
	}
	return nil
}
