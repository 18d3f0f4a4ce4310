// Package neighborhood instantiates the caches around the player and hands
// them to the map view.
//
// The populator is a two-state machine. Populate moves it from Idle to
// Populated; Reset persists and evicts every tracked cache, removes the
// markers, and returns it to Idle. Caches are always obtained through the
// registry, so a cache that was ever generated or restored is never
// regenerated.
package neighborhood

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/paulmach/orb"

	"github.com/geocoin/engine/internal/cache"
	"github.com/geocoin/engine/internal/geo"
	"github.com/geocoin/engine/internal/metrics"
	"github.com/geocoin/engine/internal/player"
	"github.com/geocoin/engine/internal/registry"
	"github.com/geocoin/engine/internal/store"
)

// State is the populator's lifecycle state.
type State int

const (
	Idle State = iota
	Populated
)

func (s State) String() string {
	if s == Populated {
		return "populated"
	}
	return "idle"
}

// MapView is the rendering collaborator. The core never touches rendering
// primitives; it only calls this contract.
type MapView interface {
	PanTo(pos geo.Position)
	SetPlayerMarker(pos geo.Position)
	AppendPathPoint(pos geo.Position)
	ResetPath(path []geo.Position)
	AddCacheMarker(m *Marker)
	RemoveAllCacheMarkers()
	Warn(msg string)
}

// Counts is the coin split after a cache interaction.
type Counts struct {
	Cache  int  `json:"cache"`
	Player int  `json:"player"`
	Moved  bool `json:"moved"`
}

// Marker is a visible cache. Its callbacks operate on the registry's live
// state for the cell and persist after every transfer.
type Marker struct {
	Cell   geo.CellID
	Bounds orb.Bound

	OnOpen    func(ctx context.Context) (Counts, error)
	OnCollect func(ctx context.Context) (Counts, error)
	OnDeposit func(ctx context.Context) (Counts, error)
}

// Config holds the neighborhood parameters.
type Config struct {
	Grid        geo.Grid
	CacheChance float64
}

// Populator owns the visible neighborhood.
type Populator struct {
	cfg      Config
	registry *registry.Registry
	player   *player.Player
	store    store.Store
	view     MapView
	logger   *slog.Logger

	state   State
	markers map[geo.CellID]*Marker
	order   []geo.CellID
}

// New creates an idle populator.
func New(cfg Config, reg *registry.Registry, p *player.Player, st store.Store, view MapView, logger *slog.Logger) *Populator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Populator{
		cfg:      cfg,
		registry: reg,
		player:   p,
		store:    st,
		view:     view,
		logger:   logger,
		markers:  make(map[geo.CellID]*Marker),
	}
}

// State returns the current lifecycle state.
func (n *Populator) State() State { return n.state }

// SetPlayer swaps the ledger the marker callbacks transfer against.
func (n *Populator) SetPlayer(p *player.Player) { n.player = p }

// Populate instantiates every cache in the window around pos and adds a
// marker for each. It returns the cache cells in window order. A populated
// neighborhood is reset first. Cells whose persisted state cannot be read
// get no marker; their errors are joined into the result.
func (n *Populator) Populate(ctx context.Context, pos geo.Position) ([]geo.CellID, error) {
	var errs []error
	if n.state == Populated {
		if err := n.Reset(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	start := time.Now()
	for _, cell := range n.cfg.Grid.Window(pos) {
		if !cache.HasCache(cell, n.cfg.CacheChance) {
			continue
		}
		if _, err := n.registry.GetOrCreate(ctx, cell); err != nil {
			n.logger.Warn("cache unavailable, skipping marker", "cell", cell.String(), "err", err)
			errs = append(errs, err)
			continue
		}
		m := n.marker(cell)
		n.markers[cell] = m
		n.order = append(n.order, cell)
		n.view.AddCacheMarker(m)
	}
	n.state = Populated

	metrics.VisibleCaches.Set(float64(len(n.order)))
	metrics.PopulateLatency.Observe(time.Since(start).Seconds())
	n.logger.Debug("neighborhood populated", "pos", pos.String(), "caches", len(n.order))

	return n.Cells(), errors.Join(errs...)
}

// Reset persists and evicts every tracked cache and removes the markers.
// The populator is Idle afterwards even if persisting failed.
func (n *Populator) Reset(ctx context.Context) error {
	err := n.registry.Clear(ctx)
	n.view.RemoveAllCacheMarkers()
	clear(n.markers)
	n.order = nil
	n.state = Idle
	metrics.VisibleCaches.Set(0)
	if err != nil {
		return fmt.Errorf("reset neighborhood: %w", err)
	}
	return nil
}

// Discard drops markers and tracked caches without persisting them. Used
// after the store has been wiped.
func (n *Populator) Discard() {
	n.registry.Forget()
	n.view.RemoveAllCacheMarkers()
	clear(n.markers)
	n.order = nil
	n.state = Idle
	metrics.VisibleCaches.Set(0)
}

// Move resets the neighborhood and repopulates it around pos.
func (n *Populator) Move(ctx context.Context, pos geo.Position) ([]geo.CellID, error) {
	resetErr := n.Reset(ctx)
	cells, err := n.Populate(ctx, pos)
	return cells, errors.Join(resetErr, err)
}

// Cells returns the visible cache cells in window order.
func (n *Populator) Cells() []geo.CellID {
	out := make([]geo.CellID, len(n.order))
	copy(out, n.order)
	return out
}

// Marker returns the visible marker for cell.
func (n *Populator) Marker(cell geo.CellID) (*Marker, bool) {
	m, ok := n.markers[cell]
	return m, ok
}

func (n *Populator) marker(cell geo.CellID) *Marker {
	m := &Marker{
		Cell:   cell,
		Bounds: n.cfg.Grid.Bounds(cell),
	}
	m.OnOpen = func(ctx context.Context) (Counts, error) {
		s, err := n.registry.GetOrCreate(ctx, cell)
		if err != nil {
			return Counts{Player: n.player.Coins.Len()}, err
		}
		return Counts{Cache: s.Len(), Player: n.player.Coins.Len()}, nil
	}
	m.OnCollect = func(ctx context.Context) (Counts, error) {
		return n.transfer(ctx, cell, true)
	}
	m.OnDeposit = func(ctx context.Context) (Counts, error) {
		return n.transfer(ctx, cell, false)
	}
	return m
}

func (n *Populator) transfer(ctx context.Context, cell geo.CellID, collect bool) (Counts, error) {
	s, err := n.registry.GetOrCreate(ctx, cell)
	if err != nil {
		return Counts{Player: n.player.Coins.Len()}, err
	}

	var moved bool
	direction := "deposit"
	if collect {
		direction = "collect"
		moved = cache.TransferOne(&s.Coins, &n.player.Coins)
	} else {
		moved = cache.TransferOne(&n.player.Coins, &s.Coins)
	}

	counts := Counts{Cache: s.Len(), Player: n.player.Coins.Len(), Moved: moved}
	if !moved {
		return counts, nil
	}
	metrics.CoinTransfers.WithLabelValues(direction).Inc()

	err = errors.Join(
		n.registry.Persist(ctx, cell),
		n.player.SaveCoins(ctx, n.store),
	)
	if err != nil {
		n.logger.Warn("coin transfer not persisted", "cell", cell.String(), "direction", direction, "err", err)
	}
	return counts, err
}
