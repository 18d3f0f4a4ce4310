// Package registry tracks the in-memory cache states of the visible
// neighborhood and mediates between them and the persistence store.
//
// At most one *cache.State exists per cell while it is tracked; every
// mutation goes through the pointer GetOrCreate returns.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/geocoin/engine/internal/cache"
	"github.com/geocoin/engine/internal/geo"
	"github.com/geocoin/engine/internal/metrics"
	"github.com/geocoin/engine/internal/store"
)

// ErrNotTracked is returned when persisting a cell that is not in memory.
var ErrNotTracked = errors.New("registry: cell not tracked")

// Registry maps cell identifiers to their live cache state. It is not safe
// for concurrent use; the session loop owns it.
type Registry struct {
	store  store.Store
	logger *slog.Logger
	caches map[geo.CellID]*cache.State
}

// New creates an empty registry backed by st.
func New(st store.Store, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		store:  st,
		logger: logger,
		caches: make(map[geo.CellID]*cache.State),
	}
}

// GetOrCreate returns the tracked state for cell, restoring it from the
// store or generating it on first access. Corrupt persisted state falls
// back to generation. A failed read returns an error and leaves the cell
// untracked and ungenerated.
func (r *Registry) GetOrCreate(ctx context.Context, cell geo.CellID) (*cache.State, error) {
	if s, ok := r.caches[cell]; ok {
		return s, nil
	}

	s, source, err := r.load(ctx, cell)
	if err != nil {
		metrics.CachesLoaded.WithLabelValues("unavailable").Inc()
		return nil, err
	}
	r.caches[cell] = s
	metrics.CachesLoaded.WithLabelValues(source).Inc()
	return s, nil
}

func (r *Registry) load(ctx context.Context, cell geo.CellID) (*cache.State, string, error) {
	m, err := r.store.Get(ctx, cell.String())
	switch {
	case errors.Is(err, store.ErrNotFound):
		return cache.Generate(cell), "generated", nil
	case err != nil:
		return nil, "", fmt.Errorf("load %s: %w", cell, err)
	}

	s, err := cache.Restore(m)
	if err != nil {
		metrics.CorruptMementos.Inc()
		r.logger.Warn("discarding corrupt cache memento",
			"cell", cell.String(),
			"unsupported_version", errors.Is(err, cache.ErrUnsupportedVersion),
			"err", err,
		)
		return cache.Generate(cell), "regenerated", nil
	}
	return s, "restored", nil
}

// Lookup returns the tracked state for cell without loading it.
func (r *Registry) Lookup(cell geo.CellID) (*cache.State, bool) {
	s, ok := r.caches[cell]
	return s, ok
}

// Persist writes the memento of the tracked state for cell.
func (r *Registry) Persist(ctx context.Context, cell geo.CellID) error {
	s, ok := r.caches[cell]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotTracked, cell)
	}
	m, err := s.Memento()
	if err != nil {
		return fmt.Errorf("persist %s: %w", cell, err)
	}
	if err := r.store.Set(ctx, cell.String(), m); err != nil {
		metrics.PersistFailures.Inc()
		return fmt.Errorf("persist %s: %w", cell, err)
	}
	return nil
}

// PersistAll persists every tracked cell. A failing cell does not stop the
// others; the errors are joined.
func (r *Registry) PersistAll(ctx context.Context) error {
	var errs []error
	for _, cell := range r.Tracked() {
		if err := r.Persist(ctx, cell); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Clear persists every tracked cell and then evicts them all. Persisted
// data is never deleted. The registry is emptied even if persisting fails.
func (r *Registry) Clear(ctx context.Context) error {
	err := r.PersistAll(ctx)
	clear(r.caches)
	return err
}

// Forget drops every tracked cell without persisting. Used by reset, after
// the store itself has been wiped.
func (r *Registry) Forget() {
	clear(r.caches)
}

// Len returns the number of tracked cells.
func (r *Registry) Len() int { return len(r.caches) }

// Tracked returns the tracked cells in a stable order.
func (r *Registry) Tracked() []geo.CellID {
	cells := make([]geo.CellID, 0, len(r.caches))
	for c := range r.caches {
		cells = append(cells, c)
	}
	sort.Slice(cells, func(i, j int) bool {
		if cells[i].I != cells[j].I {
			return cells[i].I < cells[j].I
		}
		return cells[i].J < cells[j].J
	})
	return cells
}
