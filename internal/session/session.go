// Package session owns one player's game: the store, the cache registry,
// the neighborhood, the player ledger, and the map view.
//
// All state is mutated on a single goroutine. Callers submit events and wait
// for the reply; the loop runs each event's handlers to completion, in table
// order, before taking the next one.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/geocoin/engine/internal/geo"
	"github.com/geocoin/engine/internal/metrics"
	"github.com/geocoin/engine/internal/model"
	"github.com/geocoin/engine/internal/neighborhood"
	"github.com/geocoin/engine/internal/player"
	"github.com/geocoin/engine/internal/registry"
	"github.com/geocoin/engine/internal/store"
)

var (
	// ErrUnknownCache is returned for cache commands on a cell without a
	// visible cache.
	ErrUnknownCache = errors.New("session: no cache at cell")

	// ErrResetNotConfirmed is returned when a reset lacks the "yes"
	// confirmation.
	ErrResetNotConfirmed = errors.New("session: reset not confirmed")

	// ErrInvalidDirection is returned for an unknown movement direction.
	ErrInvalidDirection = errors.New("session: invalid direction")

	// ErrClosed is returned by Submit once the loop has stopped.
	ErrClosed = errors.New("session: closed")
)

// Config holds the session parameters.
type Config struct {
	Origin       geo.Position
	Neighborhood neighborhood.Config
}

// Snapshot is a read-only view of the session state.
type Snapshot struct {
	Position geo.Position   `json:"position"`
	Coins    int            `json:"coins"`
	Path     []geo.Position `json:"path"`
	Caches   []string       `json:"caches"`
	State    string         `json:"state"`
	Degraded bool           `json:"degraded"`
}

// Result is the outcome of one event.
type Result struct {
	Counts   *neighborhood.Counts `json:"counts,omitempty"`
	Snapshot Snapshot             `json:"snapshot"`
}

type degrader interface {
	Degraded() bool
}

// Session is the explicit game context.
type Session struct {
	cfg      Config
	store    store.Store
	registry *registry.Registry
	pop      *neighborhood.Populator
	player   *player.Player
	view     neighborhood.MapView
	logger   *slog.Logger
	handlers map[Kind][]Handler

	requests chan request
	done     chan struct{}
}

type request struct {
	ev    Event
	reply chan reply
}

type reply struct {
	res Result
	err error
}

// New loads the player from st and wires the session. Call Start before
// Run to render and populate the initial neighborhood.
func New(ctx context.Context, cfg Config, st store.Store, view neighborhood.MapView, logger *slog.Logger) (*Session, error) {
	if logger == nil {
		logger = slog.Default()
	}
	p, err := player.Load(ctx, st, cfg.Origin, logger)
	if err != nil {
		return nil, err
	}
	if err := geo.ValidatePosition(p.Position); err != nil {
		logger.Warn("stored position invalid, starting at origin", "err", err)
		p = player.New(cfg.Origin)
	}

	reg := registry.New(st, logger)
	s := &Session{
		cfg:      cfg,
		store:    st,
		registry: reg,
		pop:      neighborhood.New(cfg.Neighborhood, reg, p, st, view, logger),
		player:   p,
		view:     view,
		logger:   logger,
		requests: make(chan request),
		done:     make(chan struct{}),
	}
	s.handlers = defaultHandlers()
	return s, nil
}

// Start renders the player and populates the initial neighborhood.
func (s *Session) Start(ctx context.Context) error {
	s.view.PanTo(s.player.Position)
	s.view.SetPlayerMarker(s.player.Position)
	s.view.ResetPath(s.player.Path)
	cells, err := s.pop.Populate(ctx, s.player.Position)
	s.logger.Info("session started",
		"lat", s.player.Position.Lat,
		"lon", s.player.Position.Lon,
		"coins", s.player.Coins.Len(),
		"caches", len(cells),
	)
	return err
}

// Run processes submitted events until ctx is done. Tracked caches and the
// player are persisted on the way out.
func (s *Session) Run(ctx context.Context) error {
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			flush := context.WithoutCancel(ctx)
			if err := errors.Join(s.registry.PersistAll(flush), s.player.Save(flush, s.store)); err != nil {
				s.logger.Warn("final persist failed", "err", err)
			}
			return ctx.Err()
		case req := <-s.requests:
			res, err := s.Dispatch(ctx, req.ev)
			req.reply <- reply{res: res, err: err}
		}
	}
}

// Submit enqueues ev on the loop and waits for its result. If ctx ends
// while the event is being processed, Submit returns early but the event
// still runs to completion.
func (s *Session) Submit(ctx context.Context, ev Event) (Result, error) {
	req := request{ev: ev, reply: make(chan reply, 1)}
	select {
	case s.requests <- req:
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case <-s.done:
		return Result{}, ErrClosed
	}
	select {
	case r := <-req.reply:
		return r.res, r.err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Dispatch runs ev's handlers synchronously. It must only be called from
// the loop goroutine, or in place of Run by single-goroutine callers.
func (s *Session) Dispatch(ctx context.Context, ev Event) (Result, error) {
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	handlers, ok := s.handlers[ev.Kind]
	if !ok {
		return Result{}, errUnknownKind(ev.Kind)
	}

	var res Result
	for _, h := range handlers {
		if err := h(ctx, s, &ev, &res); err != nil {
			metrics.Events.WithLabelValues(string(ev.Kind), "rejected").Inc()
			s.logger.Info("event rejected", "event", ev.ID.String(), "kind", ev.Kind, "err", err)
			res.Snapshot = s.Snapshot()
			return res, err
		}
	}
	metrics.Events.WithLabelValues(string(ev.Kind), "ok").Inc()
	res.Snapshot = s.Snapshot()
	return res, nil
}

// Snapshot returns the current state. Loop goroutine only.
func (s *Session) Snapshot() Snapshot {
	cells := s.pop.Cells()
	caches := make([]string, len(cells))
	for i, c := range cells {
		caches[i] = c.String()
	}
	snap := Snapshot{
		Position: s.player.Position,
		Coins:    s.player.Coins.Len(),
		Path:     append([]geo.Position(nil), s.player.Path...),
		Caches:   caches,
		State:    s.pop.State().String(),
	}
	if d, ok := s.store.(degrader); ok {
		snap.Degraded = d.Degraded()
	}
	return snap
}

func (s *Session) marker(cell geo.CellID) (*neighborhood.Marker, error) {
	m, ok := s.pop.Marker(cell)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCache, cell)
	}
	return m, nil
}

// WatchLocation forwards position samples into the loop until the returned
// stop function is called or updates is closed. Stopping never interrupts
// an update already being processed.
func (s *Session) WatchLocation(ctx context.Context, updates <-chan geo.Position) (stop func()) {
	wctx, cancel := context.WithCancel(ctx)
	go func() {
		for {
			select {
			case <-wctx.Done():
				return
			case pos, ok := <-updates:
				if !ok {
					return
				}
				if _, err := s.Submit(wctx, LocationUpdated(pos)); err != nil && !errors.Is(err, context.Canceled) {
					s.logger.Warn("location update rejected", "err", err)
				}
			}
		}
	}()
	return cancel
}

// Move is shorthand for submitting a PlayerMoved event.
func (s *Session) Move(ctx context.Context, d model.Direction) (Result, error) {
	return s.Submit(ctx, PlayerMoved(d))
}
