package config

import (
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/geocoin/engine/internal/geo"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "8080" {
		t.Errorf("port = %q, want 8080", cfg.Port)
	}
	if cfg.TileSize != 1e-4 || cfg.NeighborhoodSize != 8 || cfg.CacheChance != 0.1 {
		t.Errorf("unexpected game defaults: %+v", cfg)
	}
	if cfg.StoreTimeout != 2*time.Second || cfg.CacheTTL != 30*time.Second {
		t.Errorf("unexpected store defaults: %+v", cfg)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Errorf("log level = %v, want info", cfg.LogLevel)
	}
	if o := cfg.Origin(); o.Lat != 36.989498 || o.Lon != -122.062777 {
		t.Errorf("origin = %v", o)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("NEIGHBORHOOD_SIZE", "4")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("SAVE_SLOT", "alice")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Errorf("log level = %v, want debug", cfg.LogLevel)
	}
	sc := cfg.Session()
	if sc.Neighborhood.Grid.Radius != 4 {
		t.Errorf("radius = %d, want 4", sc.Neighborhood.Grid.Radius)
	}
	if cfg.SaveSlot != "alice" {
		t.Errorf("slot = %q", cfg.SaveSlot)
	}
}

func TestLoadParseError(t *testing.T) {
	t.Setenv("TILE_SIZE", "wide")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "parse env:") {
		t.Fatalf("expected parse env prefix, got %v", err)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]struct{ key, value string }{
		"zero tile":            {"TILE_SIZE", "0"},
		"tile below cell size": {"TILE_SIZE", "0.000001"},
		"zero radius":          {"NEIGHBORHOOD_SIZE", "0"},
		"chance above one":     {"CACHE_CHANCE", "1.5"},
		"latitude off globe":   {"ORIGIN_LAT", "95"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			t.Setenv(tc.key, tc.value)
			if _, err := Load(); err == nil {
				t.Errorf("%s=%s: expected error", tc.key, tc.value)
			}
		})
	}
}

func TestValidateAcceptsSmallestTile(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	cfg.TileSize = geo.MinTileSize
	if err := cfg.Validate(); err != nil {
		t.Errorf("tile of one cell bucket should be valid: %v", err)
	}
}
