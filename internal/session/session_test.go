package session_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geocoin/engine/internal/cache"
	"github.com/geocoin/engine/internal/geo"
	"github.com/geocoin/engine/internal/mapview"
	"github.com/geocoin/engine/internal/model"
	"github.com/geocoin/engine/internal/neighborhood"
	"github.com/geocoin/engine/internal/session"
	"github.com/geocoin/engine/internal/store"
)

var (
	origin = geo.Position{Lat: 36.989498, Lon: -122.062777}
	cfg    = session.Config{
		Origin: origin,
		Neighborhood: neighborhood.Config{
			Grid:        geo.Grid{TileSize: 1e-4, Radius: 8},
			CacheChance: 0.1,
		},
	}
)

func start(t *testing.T, st store.Store) (*session.Session, *mapview.Recorder) {
	t.Helper()
	view := mapview.NewRecorder()
	s, err := session.New(context.Background(), cfg, st, view, nil)
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	return s, view
}

// richCell returns a visible cache cell generated with at least n coins.
func richCell(t *testing.T, snap session.Snapshot, n int) geo.CellID {
	t.Helper()
	for _, id := range snap.Caches {
		cell, err := geo.ParseCellID(id)
		require.NoError(t, err)
		if cache.Generate(cell).Len() >= n {
			return cell
		}
	}
	t.Fatalf("no visible cache with %d coins", n)
	return geo.CellID{}
}

func TestStart_RendersPlayerAndCaches(t *testing.T) {
	s, view := start(t, store.NewMemoryStore())

	require.GreaterOrEqual(t, len(view.Calls), 3)
	assert.Equal(t, []string{"pan_to", "player_marker", "path_reset"}, view.Calls[:3])
	assert.Equal(t, origin, view.Player)

	snap := s.Snapshot()
	assert.Equal(t, origin, snap.Position)
	assert.Equal(t, 0, snap.Coins)
	assert.Equal(t, "populated", snap.State)
	assert.Len(t, view.Markers, len(snap.Caches))
	assert.NotEmpty(t, snap.Caches)
}

func TestPlayerMoved_RunsChainInOrder(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	s, view := start(t, st)
	view.Reset()

	res, err := s.Dispatch(ctx, session.PlayerMoved(model.North))
	require.NoError(t, err)

	want := origin.Step(model.North, cfg.Neighborhood.Grid.TileSize)
	assert.Equal(t, want, res.Snapshot.Position)
	assert.Equal(t, []geo.Position{origin, want}, res.Snapshot.Path)

	require.GreaterOrEqual(t, len(view.Calls), 4)
	assert.Equal(t, []string{"pan_to", "player_marker", "path_point", "clear_markers"}, view.Calls[:4])
	for _, c := range view.Calls[4:] {
		assert.Equal(t, "cache_marker", c)
	}

	raw, err := st.Get(ctx, store.KeyPlayerPosition)
	require.NoError(t, err)
	assert.NotEmpty(t, raw)
	_, err = st.Get(ctx, store.KeyPlayerPath)
	require.NoError(t, err)
}

func TestPlayerMoved_PersistsCoinsWithMovement(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	s, _ := start(t, st)
	cell := richCell(t, s.Snapshot(), 1)

	_, err := s.Dispatch(ctx, session.Collect(cell))
	require.NoError(t, err)
	require.NoError(t, st.Clear(ctx))

	_, err = s.Dispatch(ctx, session.PlayerMoved(model.East))
	require.NoError(t, err)

	raw, err := st.Get(ctx, store.KeyPlayerCoins)
	require.NoError(t, err)
	coins, err := cache.DecodeCoins(raw)
	require.NoError(t, err)
	assert.Len(t, coins, 1)
}

func TestPlayerMoved_InvalidDirection(t *testing.T) {
	s, view := start(t, store.NewMemoryStore())
	view.Reset()

	_, err := s.Dispatch(context.Background(), session.PlayerMoved("up"))
	require.ErrorIs(t, err, session.ErrInvalidDirection)
	assert.Empty(t, view.Calls)
}

func TestLocationUpdated_InvalidPositionKeepsPrevious(t *testing.T) {
	s, view := start(t, store.NewMemoryStore())
	view.Reset()

	res, err := s.Dispatch(context.Background(), session.LocationUpdated(geo.Position{Lat: 91, Lon: 0}))
	require.ErrorIs(t, err, geo.ErrInvalidPosition)
	assert.Equal(t, origin, res.Snapshot.Position)
	assert.Equal(t, []string{"warning"}, view.Calls)
	assert.Len(t, view.Warnings, 1)
}

func TestLocationUpdated_JumpsAndRepopulates(t *testing.T) {
	s, view := start(t, store.NewMemoryStore())
	far := geo.Position{Lat: 51.5007, Lon: -0.1246}

	res, err := s.Dispatch(context.Background(), session.LocationUpdated(far))
	require.NoError(t, err)
	assert.Equal(t, far, res.Snapshot.Position)
	assert.Equal(t, far, view.Center)
	assert.Len(t, view.Markers, len(res.Snapshot.Caches))
}

func TestCacheCommands_UnknownCell(t *testing.T) {
	s, _ := start(t, store.NewMemoryStore())
	hidden := geo.CellID{I: 0, J: 0}

	for _, ev := range []session.Event{session.OpenCache(hidden), session.Collect(hidden), session.Deposit(hidden)} {
		_, err := s.Dispatch(context.Background(), ev)
		assert.ErrorIs(t, err, session.ErrUnknownCache, "kind %s", ev.Kind)
	}
}

func TestCollectAndDeposit(t *testing.T) {
	ctx := context.Background()
	s, _ := start(t, store.NewMemoryStore())
	cell := richCell(t, s.Snapshot(), 1)

	opened, err := s.Dispatch(ctx, session.OpenCache(cell))
	require.NoError(t, err)
	require.NotNil(t, opened.Counts)

	res, err := s.Dispatch(ctx, session.Collect(cell))
	require.NoError(t, err)
	assert.True(t, res.Counts.Moved)
	assert.Equal(t, opened.Counts.Cache-1, res.Counts.Cache)
	assert.Equal(t, 1, res.Snapshot.Coins)

	res, err = s.Dispatch(ctx, session.Deposit(cell))
	require.NoError(t, err)
	assert.Equal(t, opened.Counts.Cache, res.Counts.Cache)
	assert.Equal(t, 0, res.Snapshot.Coins)
}

func TestReset_RequiresConfirmation(t *testing.T) {
	ctx := context.Background()
	s, _ := start(t, store.NewMemoryStore())
	_, err := s.Dispatch(ctx, session.PlayerMoved(model.East))
	require.NoError(t, err)
	before := s.Snapshot()

	_, err = s.Dispatch(ctx, session.ResetRequested("no"))
	require.ErrorIs(t, err, session.ErrResetNotConfirmed)
	assert.Equal(t, before, s.Snapshot())
}

func TestReset_WipesEverything(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	s, view := start(t, st)

	cell := richCell(t, s.Snapshot(), 2)
	for i := 0; i < 2; i++ {
		_, err := s.Dispatch(ctx, session.Collect(cell))
		require.NoError(t, err)
	}
	for i := 0; i < 3; i++ {
		_, err := s.Dispatch(ctx, session.PlayerMoved(model.South))
		require.NoError(t, err)
	}
	require.NotZero(t, st.Len())

	res, err := s.Dispatch(ctx, session.ResetRequested(session.ResetConfirmation))
	require.NoError(t, err)
	assert.Equal(t, origin, res.Snapshot.Position)
	assert.Equal(t, 0, res.Snapshot.Coins)
	assert.Equal(t, []geo.Position{origin}, res.Snapshot.Path)
	assert.Equal(t, []geo.Position{origin}, view.Path)
	assert.Equal(t, 0, st.Len())

	// The collected cache is back to its generated contents.
	opened, err := s.Dispatch(ctx, session.OpenCache(cell))
	require.NoError(t, err)
	assert.Equal(t, cache.Generate(cell).Len(), opened.Counts.Cache)
}

func TestResume_RestoresPlayerAndCaches(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	first, _ := start(t, st)

	cell := richCell(t, first.Snapshot(), 3)
	for i := 0; i < 3; i++ {
		_, err := first.Dispatch(ctx, session.Collect(cell))
		require.NoError(t, err)
	}

	second, _ := start(t, st)
	snap := second.Snapshot()
	assert.Equal(t, 3, snap.Coins)

	opened, err := second.Dispatch(ctx, session.OpenCache(cell))
	require.NoError(t, err)
	assert.Equal(t, cache.Generate(cell).Len()-3, opened.Counts.Cache)
	assert.Equal(t, 3, opened.Counts.Player)
}

func TestRun_SubmitAndClose(t *testing.T) {
	s, _ := start(t, store.NewMemoryStore())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	res, err := s.Move(context.Background(), model.West)
	require.NoError(t, err)
	assert.Equal(t, origin.Step(model.West, cfg.Neighborhood.Grid.TileSize), res.Snapshot.Position)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("run did not stop")
	}

	_, err = s.Submit(context.Background(), session.SnapshotRequested())
	assert.ErrorIs(t, err, session.ErrClosed)
}

func TestWatchLocation_ForwardsUntilStopped(t *testing.T) {
	s, _ := start(t, store.NewMemoryStore())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	updates := make(chan geo.Position)
	stop := s.WatchLocation(ctx, updates)

	target := geo.Position{Lat: 36.99, Lon: -122.06}
	updates <- target
	require.Eventually(t, func() bool {
		res, err := s.Submit(ctx, session.SnapshotRequested())
		return err == nil && res.Snapshot.Position == target
	}, 2*time.Second, 10*time.Millisecond)

	stop()
	time.Sleep(20 * time.Millisecond)
	select {
	case updates <- geo.Position{Lat: 1, Lon: 1}:
		t.Fatal("watcher still receiving after stop")
	case <-time.After(50 * time.Millisecond):
	}
}

var errDown = errors.New("connection refused")

// writesDown serves reads from inner and rejects every write.
type writesDown struct{ inner *store.MemoryStore }

func (s writesDown) Get(ctx context.Context, key string) (string, error) {
	return s.inner.Get(ctx, key)
}
func (writesDown) Set(context.Context, string, string) error { return errDown }
func (writesDown) Clear(context.Context) error               { return errDown }

// cellsDown serves the player keys from inner and fails every cell read.
type cellsDown struct{ inner *store.MemoryStore }

func (s cellsDown) Get(ctx context.Context, key string) (string, error) {
	switch key {
	case store.KeyPlayerCoins, store.KeyPlayerPosition, store.KeyPlayerPath:
		return s.inner.Get(ctx, key)
	}
	return "", errDown
}
func (s cellsDown) Set(ctx context.Context, key, value string) error { return s.inner.Set(ctx, key, value) }
func (s cellsDown) Clear(ctx context.Context) error                  { return s.inner.Clear(ctx) }

func TestDegradedStore_KeepsPlaying(t *testing.T) {
	ctx := context.Background()
	var warned int
	st := store.NewFailFastStore(writesDown{inner: store.NewMemoryStore()}, time.Second,
		store.OnDegrade(func(error) { warned++ }))
	s, _ := start(t, st)
	assert.False(t, s.Snapshot().Degraded)

	cell := richCell(t, s.Snapshot(), 1)
	res, err := s.Dispatch(ctx, session.Collect(cell))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Snapshot.Coins)
	assert.True(t, res.Snapshot.Degraded)

	_, err = s.Dispatch(ctx, session.PlayerMoved(model.North))
	require.NoError(t, err)
	_, err = s.Dispatch(ctx, session.PlayerMoved(model.South))
	require.NoError(t, err)

	opened, err := s.Dispatch(ctx, session.OpenCache(cell))
	require.NoError(t, err)
	assert.Equal(t, cache.Generate(cell).Len()-1, opened.Counts.Cache)
	assert.Equal(t, 1, warned)
}

func TestDegradedRead_NeverRegeneratesPersistedCache(t *testing.T) {
	ctx := context.Background()
	saved := store.NewMemoryStore()

	first, _ := start(t, saved)
	cell := richCell(t, first.Snapshot(), 2)
	_, err := first.Dispatch(ctx, session.Collect(cell))
	require.NoError(t, err)
	_, err = first.Dispatch(ctx, session.PlayerMoved(model.North))
	require.NoError(t, err)
	_, err = first.Dispatch(ctx, session.PlayerMoved(model.South))
	require.NoError(t, err)

	st := store.NewFailFastStore(cellsDown{inner: saved}, time.Second)
	second, err := session.New(ctx, cfg, st, mapview.NewRecorder(), nil)
	require.NoError(t, err)
	assert.ErrorIs(t, second.Start(ctx), store.ErrPersistenceUnavailable)
	snap := second.Snapshot()
	assert.True(t, snap.Degraded)
	assert.Equal(t, 1, snap.Coins)
	assert.NotContains(t, snap.Caches, cell.String())
	assert.Empty(t, snap.Caches)

	_, err = second.Dispatch(ctx, session.OpenCache(cell))
	assert.ErrorIs(t, err, session.ErrUnknownCache)

	// The persisted cache is untouched in the backing store.
	raw, err := saved.Get(ctx, cell.String())
	require.NoError(t, err)
	restored, err := cache.Restore(raw)
	require.NoError(t, err)
	assert.Equal(t, cache.Generate(cell).Len()-1, restored.Len())
}
