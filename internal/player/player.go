// Package player holds the player's coin ledger, position, and path history,
// and persists them under the fixed player keys.
package player

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/geocoin/engine/internal/cache"
	"github.com/geocoin/engine/internal/geo"
	"github.com/geocoin/engine/internal/model"
	"github.com/geocoin/engine/internal/store"
)

// Player is the single player of a session.
type Player struct {
	Coins    model.Coins
	Position geo.Position
	Path     []geo.Position
}

// New returns a fresh player standing at origin with no coins.
func New(origin geo.Position) *Player {
	return &Player{
		Coins:    model.Coins{},
		Position: origin,
		Path:     []geo.Position{origin},
	}
}

// Load reads the player from st. Missing keys take their defaults; corrupt
// keys, and keys a degraded store cannot serve, are logged and replaced by
// their defaults. Any other store error fails the load.
func Load(ctx context.Context, st store.Store, origin geo.Position, logger *slog.Logger) (*Player, error) {
	if logger == nil {
		logger = slog.Default()
	}
	p := New(origin)

	if raw, ok, err := get(ctx, st, logger, store.KeyPlayerCoins); err != nil {
		return nil, err
	} else if ok {
		coins, err := cache.DecodeCoins(raw)
		if err != nil {
			logger.Warn("discarding corrupt player coins", "err", err)
		} else {
			p.Coins = coins
		}
	}

	if raw, ok, err := get(ctx, st, logger, store.KeyPlayerPosition); err != nil {
		return nil, err
	} else if ok {
		pos, err := decodePosition(raw)
		if err != nil {
			logger.Warn("discarding corrupt player position", "err", err)
		} else {
			p.Position = pos
			p.Path = []geo.Position{pos}
		}
	}

	if raw, ok, err := get(ctx, st, logger, store.KeyPlayerPath); err != nil {
		return nil, err
	} else if ok {
		path, err := decodePath(raw)
		if err != nil {
			logger.Warn("discarding corrupt player path", "err", err)
		} else if len(path) > 0 {
			p.Path = path
		}
	}

	return p, nil
}

func get(ctx context.Context, st store.Store, logger *slog.Logger, key string) (string, bool, error) {
	v, err := st.Get(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return "", false, nil
	}
	if errors.Is(err, store.ErrPersistenceUnavailable) {
		logger.Warn("player key unavailable, using default", "key", key, "err", err)
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("load %s: %w", key, err)
	}
	return v, true, nil
}

// MoveTo sets the position and appends it to the path.
func (p *Player) MoveTo(pos geo.Position) {
	p.Position = pos
	p.Path = append(p.Path, pos)
}

// SaveCoins persists the coin ledger.
func (p *Player) SaveCoins(ctx context.Context, st store.Store) error {
	v, err := cache.EncodeCoins(p.Coins)
	if err != nil {
		return err
	}
	return st.Set(ctx, store.KeyPlayerCoins, v)
}

// SavePosition persists the current position as a [lat, lon] pair.
func (p *Player) SavePosition(ctx context.Context, st store.Store) error {
	data, err := json.Marshal([2]float64{p.Position.Lat, p.Position.Lon})
	if err != nil {
		return fmt.Errorf("marshal position: %w", err)
	}
	return st.Set(ctx, store.KeyPlayerPosition, string(data))
}

// SavePath persists the path as a list of [lat, lon] pairs.
func (p *Player) SavePath(ctx context.Context, st store.Store) error {
	pairs := make([][2]float64, len(p.Path))
	for i, pos := range p.Path {
		pairs[i] = [2]float64{pos.Lat, pos.Lon}
	}
	data, err := json.Marshal(pairs)
	if err != nil {
		return fmt.Errorf("marshal path: %w", err)
	}
	return st.Set(ctx, store.KeyPlayerPath, string(data))
}

// Save persists coins, position, and path, joining any errors.
func (p *Player) Save(ctx context.Context, st store.Store) error {
	return errors.Join(
		p.SaveCoins(ctx, st),
		p.SavePosition(ctx, st),
		p.SavePath(ctx, st),
	)
}

func decodePosition(raw string) (geo.Position, error) {
	var pair []float64
	if err := json.Unmarshal([]byte(raw), &pair); err != nil {
		return geo.Position{}, fmt.Errorf("decode position: %w", err)
	}
	if len(pair) != 2 {
		return geo.Position{}, fmt.Errorf("decode position: want 2 values, got %d", len(pair))
	}
	pos := geo.Position{Lat: pair[0], Lon: pair[1]}
	if err := geo.ValidatePosition(pos); err != nil {
		return geo.Position{}, err
	}
	return pos, nil
}

func decodePath(raw string) ([]geo.Position, error) {
	var pairs [][]float64
	if err := json.Unmarshal([]byte(raw), &pairs); err != nil {
		return nil, fmt.Errorf("decode path: %w", err)
	}
	path := make([]geo.Position, 0, len(pairs))
	for i, pair := range pairs {
		if len(pair) != 2 {
			return nil, fmt.Errorf("decode path: point %d has %d values", i, len(pair))
		}
		path = append(path, geo.Position{Lat: pair[0], Lon: pair[1]})
	}
	return path, nil
}
