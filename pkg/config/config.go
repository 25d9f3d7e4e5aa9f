package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is the process configuration, read from the environment (a .env
// file is loaded by the entrypoint before parsing).
type Config struct {
	// Addr is the HTTP listen address. The default port is 5050; the
	// bundled frontend expects it.
	Addr string `env:"SLICEWISE_ADDR" envDefault:":5050"`
	// AlgoDir is where uploaded algorithms (metadata + sources) live.
	AlgoDir string `env:"ALGO_DIR" envDefault:"alg_store"`
	// SessionTTL is how long an untouched play session survives.
	SessionTTL time.Duration `env:"SESSION_TTL" envDefault:"30m"`
	// SweepInterval enables a periodic expiry sweep in addition to the
	// lazy sweeps; zero keeps eviction lazy-only.
	SweepInterval time.Duration `env:"SESSION_SWEEP_INTERVAL" envDefault:"0"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}
