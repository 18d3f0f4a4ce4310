// Package store defines the key-value persistence interface for game state.
// Implementations include in-memory (development and fallback), PostgreSQL,
// Redis, and a Redis read-through cache in front of PostgreSQL.
package store

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned by Get when no value is stored under a key.
	ErrNotFound = errors.New("store: key not found")

	// ErrPersistenceUnavailable marks a backing store that could not be read
	// or written.
	ErrPersistenceUnavailable = errors.New("store: persistence unavailable")
)

// Fixed keys for player state. Cell mementos are stored under the cell id.
const (
	KeyPlayerCoins    = "playerCoin"
	KeyPlayerPosition = "playerLocation"
	KeyPlayerPath     = "savedPath"
)

// Store is a string-to-string persistence interface scoped to one save slot.
type Store interface {
	// Get returns the value stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) (string, error)

	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key, value string) error

	// Clear removes every key of the slot.
	Clear(ctx context.Context) error
}
