// Package config reads the server configuration from the environment.
package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/geocoin/engine/internal/geo"
	"github.com/geocoin/engine/internal/neighborhood"
	"github.com/geocoin/engine/internal/session"
)

// Config holds every tunable of the server.
type Config struct {
	Port         string        `env:"PORT"          envDefault:"8080"`
	DatabaseURL  string        `env:"DATABASE_URL"`
	RedisURL     string        `env:"REDIS_URL"`
	CacheTTL     time.Duration `env:"CACHE_TTL"     envDefault:"30s"`
	SaveSlot     string        `env:"SAVE_SLOT"     envDefault:"default"`
	StoreTimeout time.Duration `env:"STORE_TIMEOUT" envDefault:"2s"`
	LogLevel     slog.Level    `env:"LOG_LEVEL"     envDefault:"info"`

	TileSize         float64 `env:"TILE_SIZE"         envDefault:"0.0001"`
	NeighborhoodSize int     `env:"NEIGHBORHOOD_SIZE" envDefault:"8"`
	CacheChance      float64 `env:"CACHE_CHANCE"      envDefault:"0.1"`
	OriginLat        float64 `env:"ORIGIN_LAT"        envDefault:"36.989498"`
	OriginLon        float64 `env:"ORIGIN_LON"        envDefault:"-122.062777"`
}

// Load parses the environment and validates the result.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects values the game cannot run with.
func (c Config) Validate() error {
	if c.TileSize < geo.MinTileSize {
		return fmt.Errorf("config: TILE_SIZE must be at least %v, got %v", geo.MinTileSize, c.TileSize)
	}
	if c.NeighborhoodSize < 1 {
		return fmt.Errorf("config: NEIGHBORHOOD_SIZE must be at least 1, got %d", c.NeighborhoodSize)
	}
	if c.CacheChance < 0 || c.CacheChance > 1 {
		return fmt.Errorf("config: CACHE_CHANCE must be in [0, 1], got %v", c.CacheChance)
	}
	if c.SaveSlot == "" {
		return fmt.Errorf("config: SAVE_SLOT must not be empty")
	}
	if err := geo.ValidatePosition(c.Origin()); err != nil {
		return fmt.Errorf("config: origin: %w", err)
	}
	return nil
}

// Origin is the starting position of a fresh player.
func (c Config) Origin() geo.Position {
	return geo.Position{Lat: c.OriginLat, Lon: c.OriginLon}
}

// Session returns the session parameters.
func (c Config) Session() session.Config {
	return session.Config{
		Origin: c.Origin(),
		Neighborhood: neighborhood.Config{
			Grid:        geo.Grid{TileSize: c.TileSize, Radius: c.NeighborhoodSize},
			CacheChance: c.CacheChance,
		},
	}
}
