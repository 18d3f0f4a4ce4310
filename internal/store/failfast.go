package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// FailFastStore bounds every call to a backing store with a deadline and,
// on the first failure, switches to memory-only operation for the rest of
// its lifetime. Nothing is retried.
//
// Every value read from or written to the backing store is mirrored into
// memory, so state touched during the session survives the switch. Once
// degraded, a key missing from memory is only reported as ErrNotFound when
// the backing store confirmed its absence or the slot was cleared.
// Otherwise Get returns ErrPersistenceUnavailable.
type FailFastStore struct {
	backing   Store
	memory    *MemoryStore
	timeout   time.Duration
	logger    *slog.Logger
	onDegrade func(error)

	degraded atomic.Bool
	once     sync.Once

	// keys the backing store reported absent, guarded by mu
	mu      sync.Mutex
	absent  map[string]struct{}
	cleared bool
}

// FailFastOption configures a FailFastStore.
type FailFastOption func(*FailFastStore)

// WithLogger sets the logger used for the degradation warning.
func WithLogger(l *slog.Logger) FailFastOption {
	return func(s *FailFastStore) { s.logger = l }
}

// OnDegrade registers a callback invoked once, with the triggering error,
// when the store switches to memory-only mode.
func OnDegrade(fn func(error)) FailFastOption {
	return func(s *FailFastStore) { s.onDegrade = fn }
}

// NewFailFastStore wraps backing. A non-positive timeout disables the
// per-call deadline.
func NewFailFastStore(backing Store, timeout time.Duration, opts ...FailFastOption) *FailFastStore {
	s := &FailFastStore{
		backing: backing,
		memory:  NewMemoryStore(),
		timeout: timeout,
		logger:  slog.Default(),
		absent:  make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Degraded reports whether the store has fallen back to memory-only mode.
func (s *FailFastStore) Degraded() bool { return s.degraded.Load() }

func (s *FailFastStore) Get(ctx context.Context, key string) (string, error) {
	if s.degraded.Load() {
		return s.fromMemory(ctx, key)
	}

	cctx, cancel := s.bound(ctx)
	v, err := s.backing.Get(cctx, key)
	cancel()

	switch {
	case err == nil:
		s.memory.Set(ctx, key, v)
		return v, nil
	case errors.Is(err, ErrNotFound):
		s.mu.Lock()
		s.absent[key] = struct{}{}
		s.mu.Unlock()
		return "", ErrNotFound
	default:
		s.degrade(err)
		return s.fromMemory(ctx, key)
	}
}

// fromMemory serves key from the mirror in degraded mode.
func (s *FailFastStore) fromMemory(ctx context.Context, key string) (string, error) {
	v, err := s.memory.Get(ctx, key)
	if !errors.Is(err, ErrNotFound) {
		return v, err
	}
	s.mu.Lock()
	_, known := s.absent[key]
	known = known || s.cleared
	s.mu.Unlock()
	if known {
		return "", ErrNotFound
	}
	return "", fmt.Errorf("%w: %s not mirrored", ErrPersistenceUnavailable, key)
}

func (s *FailFastStore) Set(ctx context.Context, key, value string) error {
	s.memory.Set(ctx, key, value)
	if s.degraded.Load() {
		return nil
	}

	cctx, cancel := s.bound(ctx)
	err := s.backing.Set(cctx, key, value)
	cancel()

	if err != nil {
		s.degrade(err)
	}
	return nil
}

func (s *FailFastStore) Clear(ctx context.Context) error {
	s.memory.Clear(ctx)
	s.mu.Lock()
	s.cleared = true
	clear(s.absent)
	s.mu.Unlock()
	if s.degraded.Load() {
		return nil
	}

	cctx, cancel := s.bound(ctx)
	err := s.backing.Clear(cctx)
	cancel()

	if err != nil {
		s.degrade(err)
	}
	return nil
}

func (s *FailFastStore) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

func (s *FailFastStore) degrade(cause error) {
	s.once.Do(func() {
		s.degraded.Store(true)
		err := fmt.Errorf("%w: %w", ErrPersistenceUnavailable, cause)
		s.logger.Warn("persistence unavailable, continuing in memory only", "err", cause)
		if s.onDegrade != nil {
			s.onDegrade(err)
		}
	})
}
