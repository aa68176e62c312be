package config

import (
	"fmt"
	"log/slog"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	HTTPAddr string     `env:"HTTP_ADDR" envDefault:":8080"`
	Backend  string     `env:"LOBBY_BACKEND" envDefault:"memory"`
	DBPath   string     `env:"DB_PATH" envDefault:"data/lobby.db"`
	LogLevel slog.Level `env:"LOG_LEVEL" envDefault:"INFO"`
}

func Load() (*Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}
	if cfg.Backend != "memory" && cfg.Backend != "sqlite" {
		return nil, fmt.Errorf("unknown LOBBY_BACKEND %q (want memory or sqlite)", cfg.Backend)
	}
	return &cfg, nil
}
