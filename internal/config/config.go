// Package config parses the relay server's environment-variable
// configuration, with optional flag overrides in the teacher's style.
package config

import (
	"errors"
	"flag"
	"os"
	"strconv"
	"strings"
	"time"
)

// ServerConfig holds the relay server's runtime configuration.
type ServerConfig struct {
	Port     int
	TLSCert  string
	TLSKey   string
	DataDir  string
	LogLevel string

	RequireGitHubAuth   bool
	GitHubClientID      string
	GitHubClientSecret  string
	GitHubRedirectURL   string
	PublicURL           string
	JWTSecret           string
	CORSOrigin          string

	IdleGracePeriod time.Duration
	PersistDebounce time.Duration

	RESTRateLimitPerMin int
}

const (
	defaultPort            = 4321
	defaultDataDir         = "./data/yjs-docs"
	defaultIdleGracePeriod = 30 * time.Second
	defaultPersistDebounce = 5 * time.Second
	defaultRESTRateLimit   = 30
)

// ParseServerFlags builds a ServerConfig from environment variables, with
// flags able to override them, following the teacher's
// flag.NewFlagSet + envOrDefault pattern.
func ParseServerFlags(args []string) (ServerConfig, error) {
	cfg := ServerConfig{
		Port:                envIntOrDefault("PORT", defaultPort),
		TLSCert:             envOrDefault("TLS_CERT", ""),
		TLSKey:              envOrDefault("TLS_KEY", ""),
		DataDir:             envOrDefault("DATA_DIR", defaultDataDir),
		LogLevel:            envOrDefault("LOG_LEVEL", "info"),
		RequireGitHubAuth:   envBoolOrDefault("REQUIRE_GITHUB_AUTH", false),
		GitHubClientID:      envOrDefault("GITHUB_CLIENT_ID", ""),
		GitHubClientSecret:  envOrDefault("GITHUB_CLIENT_SECRET", ""),
		GitHubRedirectURL:   envOrDefault("GITHUB_REDIRECT_URL", ""),
		PublicURL:           envOrDefault("PUBLIC_URL", ""),
		JWTSecret:           envOrDefault("JWT_SECRET", ""),
		CORSOrigin:          envOrDefault("CORS_ORIGIN", "*"),
		IdleGracePeriod:     defaultIdleGracePeriod,
		PersistDebounce:     defaultPersistDebounce,
		RESTRateLimitPerMin: defaultRESTRateLimit,
	}

	fs := flag.NewFlagSet("relay", flag.ContinueOnError)
	fs.IntVar(&cfg.Port, "port", cfg.Port, "HTTP/WS listen port")
	fs.StringVar(&cfg.TLSCert, "tls-cert", cfg.TLSCert, "TLS certificate PEM file")
	fs.StringVar(&cfg.TLSKey, "tls-key", cfg.TLSKey, "TLS key PEM file")
	fs.StringVar(&cfg.DataDir, "data-dir", cfg.DataDir, "SQLite persistence store path")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level: debug|info|warn|error")
	fs.StringVar(&cfg.CORSOrigin, "cors-origin", cfg.CORSOrigin, "Access-Control-Allow-Origin value")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	if cfg.Port <= 0 || cfg.Port > 65535 {
		return cfg, errors.New("port must be between 1 and 65535")
	}
	if cfg.RequireGitHubAuth && strings.TrimSpace(cfg.JWTSecret) == "" {
		return cfg, errors.New("JWT_SECRET is required when REQUIRE_GITHUB_AUTH is enabled")
	}
	if (cfg.TLSCert == "") != (cfg.TLSKey == "") {
		return cfg, errors.New("TLS_CERT and TLS_KEY must both be set to enable TLS")
	}

	return cfg, nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envIntOrDefault(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envBoolOrDefault(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
