package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Default relay server configuration values
const (
	DefaultPort            = "3000"
	DefaultShutdownTimeout = 5 * time.Second
)

// ServerConfig holds the relay server configuration
type ServerConfig struct {
	Port string

	// AllowedOrigins restricts browser websocket upgrades. Empty allows all.
	AllowedOrigins []string

	ShutdownTimeout time.Duration
}

// ServerOptions for loading server config with CLI flag overrides
type ServerOptions struct {
	Port            string
	AllowedOrigins  string
	ShutdownTimeout time.Duration
}

// LoadServer reads the relay configuration with the same priority as Load.
func LoadServer(opts ServerOptions) (*ServerConfig, error) {
	port := firstNonEmpty(opts.Port, os.Getenv("PORT"), DefaultPort)
	n, err := strconv.Atoi(port)
	if err != nil || n < 1 || n > 65535 {
		return nil, fmt.Errorf("invalid port %q", port)
	}

	timeout := opts.ShutdownTimeout
	if timeout <= 0 {
		timeout = DefaultShutdownTimeout
	}

	return &ServerConfig{
		Port:            port,
		AllowedOrigins:  splitList(firstNonEmpty(opts.AllowedOrigins, os.Getenv("ALLOWED_ORIGINS"))),
		ShutdownTimeout: timeout,
	}, nil
}

// Addr returns the listen address for the http server.
func (c *ServerConfig) Addr() string {
	return ":" + c.Port
}
