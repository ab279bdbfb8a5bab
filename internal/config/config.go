package config

import (
	"time"

	"github.com/finchsocial/finch/internal/logging"
)

// Config represents the application configuration
type Config struct {
	Server  ServerConfig   `json:"server" yaml:"server"`
	Store   StoreConfig    `json:"store" yaml:"store"`
	Auth    AuthConfig     `json:"auth" yaml:"auth"`
	Logging logging.Config `json:"logging" yaml:"logging"`
}

// ServerConfig represents server configuration
type ServerConfig struct {
	Host         string        `json:"host" yaml:"host" envconfig:"SERVER_HOST"`
	Port         int           `json:"port" yaml:"port" envconfig:"SERVER_PORT"`
	ReadTimeout  time.Duration `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout" yaml:"idle_timeout"`
}

// StoreConfig represents message store configuration
type StoreConfig struct {
	Path     string `json:"path" yaml:"path" envconfig:"STORE_PATH"`
	InMemory bool   `json:"in_memory" yaml:"in_memory" envconfig:"STORE_IN_MEMORY"`
}

// AuthConfig represents token verification configuration. An empty
// secret disables verification; the relay then trusts announced
// identities as-is.
type AuthConfig struct {
	Secret   string        `json:"secret" yaml:"secret" envconfig:"AUTH_SECRET"`
	Issuer   string        `json:"issuer" yaml:"issuer" envconfig:"AUTH_ISSUER"`
	TokenTTL time.Duration `json:"token_ttl" yaml:"token_ttl" envconfig:"AUTH_TOKEN_TTL"`
}

// Default returns the default configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "localhost",
			Port:         3000,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
		Store: StoreConfig{
			Path: "data/messages",
		},
		Auth: AuthConfig{
			Issuer:   "finch",
			TokenTTL: 24 * time.Hour,
		},
		Logging: logging.Config{
			Level:  "info",
			Format: "json",
		},
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return NewConfigError("server.port", "invalid port number")
	}

	if c.Server.ReadTimeout < 0 {
		return NewConfigError("server.read_timeout", "timeout cannot be negative")
	}

	if c.Server.WriteTimeout < 0 {
		return NewConfigError("server.write_timeout", "timeout cannot be negative")
	}

	if c.Store.Path == "" && !c.Store.InMemory {
		return NewConfigError("store.path", "a path is required unless the store is in-memory")
	}

	if c.Auth.Secret != "" && c.Auth.TokenTTL <= 0 {
		return NewConfigError("auth.token_ttl", "token ttl must be positive when auth is enabled")
	}

	return nil
}
