// Package config holds process configuration, populated from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joeshaw/envdecode"
)

// Config is the full process configuration. Every field has a sensible
// default; the environment overrides.
type Config struct {
	// ListenAddr is the HTTP listen address. ENV: JMCP_LISTEN_ADDR
	ListenAddr string `env:"JMCP_LISTEN_ADDR,default=0.0.0.0:1896"`

	// CredentialsPath is the persisted cookie file. Defaults to
	// <user-config-dir>/jaccount-mcp/cookies.json. ENV: JMCP_CREDENTIALS_PATH
	CredentialsPath string `env:"JMCP_CREDENTIALS_PATH"`

	// CacheDir holds transient challenge images. Defaults to a cache
	// directory beside the credential file. ENV: JMCP_CACHE_DIR
	CacheDir string `env:"JMCP_CACHE_DIR"`

	// HTTPTimeout bounds every outbound request. ENV: JMCP_HTTP_TIMEOUT
	HTTPTimeout time.Duration `env:"JMCP_HTTP_TIMEOUT,default=30s"`

	// LogLevel is one of debug, info, warn, error. ENV: JMCP_LOG_LEVEL
	LogLevel string `env:"JMCP_LOG_LEVEL,default=info"`

	// ServerName is advertised in initialize results. ENV: JMCP_SERVER_NAME
	ServerName string `env:"JMCP_SERVER_NAME,default=SJTU-Chatbot MCP Server"`
}

// Load populates a Config from the environment and resolves path defaults.
func Load() (*Config, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode environment: %w", err)
	}

	if cfg.CredentialsPath == "" {
		base, err := os.UserConfigDir()
		if err != nil {
			base = "."
		}
		cfg.CredentialsPath = filepath.Join(base, "jaccount-mcp", "cookies.json")
	}
	if cfg.CacheDir == "" {
		cfg.CacheDir = filepath.Join(filepath.Dir(cfg.CredentialsPath), "cache")
	}

	return &cfg, nil
}
