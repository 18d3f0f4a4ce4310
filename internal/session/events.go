package session

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/geocoin/engine/internal/geo"
	"github.com/geocoin/engine/internal/model"
	"github.com/geocoin/engine/internal/player"
)

// Kind identifies an event.
type Kind string

const (
	KindPlayerMoved     Kind = "player_moved"
	KindLocationUpdated Kind = "location_updated"
	KindResetRequested  Kind = "reset_requested"
	KindOpenCache       Kind = "open_cache"
	KindCollect         Kind = "collect"
	KindDeposit         Kind = "deposit"
	KindSnapshot        Kind = "snapshot"
)

// ResetConfirmation is the answer a reset must carry.
const ResetConfirmation = "yes"

// Event is a command for the session loop. Only the fields relevant to Kind
// are read.
type Event struct {
	ID        uuid.UUID
	Kind      Kind
	Direction model.Direction
	Position  geo.Position
	Cell      geo.CellID
	Confirm   string
}

func PlayerMoved(d model.Direction) Event { return Event{Kind: KindPlayerMoved, Direction: d} }

func LocationUpdated(pos geo.Position) Event {
	return Event{Kind: KindLocationUpdated, Position: pos}
}

func ResetRequested(confirm string) Event { return Event{Kind: KindResetRequested, Confirm: confirm} }

func OpenCache(cell geo.CellID) Event { return Event{Kind: KindOpenCache, Cell: cell} }

func Collect(cell geo.CellID) Event { return Event{Kind: KindCollect, Cell: cell} }

func Deposit(cell geo.CellID) Event { return Event{Kind: KindDeposit, Cell: cell} }

func SnapshotRequested() Event { return Event{Kind: KindSnapshot} }

// Handler is one step of an event's processing. A non-nil error stops the
// chain and is returned to the submitter.
type Handler func(ctx context.Context, s *Session, ev *Event, res *Result) error

// defaultHandlers is the dispatch table. Handlers run in slice order.
func defaultHandlers() map[Kind][]Handler {
	movement := []Handler{updatePlayerState, updateMapView, clearCaches, populateNeighborhood}
	return map[Kind][]Handler{
		KindPlayerMoved:     append([]Handler{resolveStep}, movement...),
		KindLocationUpdated: movement,
		KindResetRequested:  {confirmReset, wipeState, redrawPlayer, populateNeighborhood},
		KindOpenCache:       {openCache},
		KindCollect:         {collectCoin},
		KindDeposit:         {depositCoin},
		KindSnapshot:        {},
	}
}

func errUnknownKind(k Kind) error {
	return fmt.Errorf("session: unknown event kind %q", k)
}

func resolveStep(_ context.Context, s *Session, ev *Event, _ *Result) error {
	if !ev.Direction.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidDirection, ev.Direction)
	}
	ev.Position = s.player.Position.Step(ev.Direction, s.cfg.Neighborhood.Grid.TileSize)
	return nil
}

func updatePlayerState(ctx context.Context, s *Session, ev *Event, _ *Result) error {
	if err := geo.ValidatePosition(ev.Position); err != nil {
		s.view.Warn("Ignoring invalid location " + ev.Position.String())
		return err
	}
	s.player.MoveTo(ev.Position)
	if err := s.player.Save(ctx, s.store); err != nil {
		s.logger.Warn("player state not persisted", "event", ev.ID.String(), "err", err)
	}
	return nil
}

func updateMapView(_ context.Context, s *Session, _ *Event, _ *Result) error {
	pos := s.player.Position
	s.view.PanTo(pos)
	s.view.SetPlayerMarker(pos)
	s.view.AppendPathPoint(pos)
	return nil
}

func clearCaches(ctx context.Context, s *Session, ev *Event, _ *Result) error {
	if err := s.pop.Reset(ctx); err != nil {
		s.logger.Warn("caches not persisted on clear", "event", ev.ID.String(), "err", err)
	}
	return nil
}

func populateNeighborhood(ctx context.Context, s *Session, ev *Event, _ *Result) error {
	if _, err := s.pop.Populate(ctx, s.player.Position); err != nil {
		s.logger.Warn("populate incomplete", "event", ev.ID.String(), "err", err)
	}
	return nil
}

func confirmReset(_ context.Context, _ *Session, ev *Event, _ *Result) error {
	if ev.Confirm != ResetConfirmation {
		return ErrResetNotConfirmed
	}
	return nil
}

func wipeState(ctx context.Context, s *Session, ev *Event, _ *Result) error {
	s.pop.Discard()
	if err := s.store.Clear(ctx); err != nil {
		s.logger.Warn("store not cleared", "event", ev.ID.String(), "err", err)
	}
	s.player = player.New(s.cfg.Origin)
	s.pop.SetPlayer(s.player)
	s.logger.Info("game reset", "event", ev.ID.String())
	return nil
}

func redrawPlayer(_ context.Context, s *Session, _ *Event, _ *Result) error {
	s.view.PanTo(s.player.Position)
	s.view.SetPlayerMarker(s.player.Position)
	s.view.ResetPath(s.player.Path)
	return nil
}

func openCache(ctx context.Context, s *Session, ev *Event, res *Result) error {
	m, err := s.marker(ev.Cell)
	if err != nil {
		return err
	}
	counts, err := m.OnOpen(ctx)
	if err != nil {
		return err
	}
	res.Counts = &counts
	return nil
}

// Transfer persistence failures are logged by the populator and do not
// reject the event: the in-memory move has already happened.
func collectCoin(ctx context.Context, s *Session, ev *Event, res *Result) error {
	m, err := s.marker(ev.Cell)
	if err != nil {
		return err
	}
	counts, _ := m.OnCollect(ctx)
	res.Counts = &counts
	return nil
}

func depositCoin(ctx context.Context, s *Session, ev *Event, res *Result) error {
	m, err := s.marker(ev.Cell)
	if err != nil {
		return err
	}
	counts, _ := m.OnDeposit(ctx)
	res.Counts = &counts
	return nil
}
