package cache

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/geocoin/engine/internal/model"
)

// MementoVersion is the payload version written by Memento.
const MementoVersion = 1

var (
	// ErrCorruptState is returned when a memento cannot be parsed as a coin
	// sequence.
	ErrCorruptState = errors.New("cache: corrupt state")

	// ErrUnsupportedVersion is returned for mementos written by a newer
	// format. It wraps ErrCorruptState so callers that only handle
	// corruption still fall back correctly.
	ErrUnsupportedVersion = fmt.Errorf("%w: unsupported memento version", ErrCorruptState)
)

// memento is the persisted shape. Version 0 is the original browser format,
// which had no version field.
type memento struct {
	Version int         `json:"version,omitempty"`
	Coins   model.Coins `json:"coins"`
}

// Memento serializes the coin sequence. The cell id is not part of the
// payload; it is the storage key.
func (s *State) Memento() (string, error) {
	coins := s.Coins
	if coins == nil {
		coins = model.Coins{}
	}
	data, err := json.Marshal(memento{Version: MementoVersion, Coins: coins})
	if err != nil {
		return "", fmt.Errorf("marshal memento: %w", err)
	}
	return string(data), nil
}

// FromMemento replaces the coin sequence with the one in m. On error the
// state is left untouched.
func (s *State) FromMemento(m string) error {
	coins, err := decodeCoins(m)
	if err != nil {
		return err
	}
	s.Coins = coins
	return nil
}

// Restore builds a State from a memento.
func Restore(m string) (*State, error) {
	s := &State{}
	if err := s.FromMemento(m); err != nil {
		return nil, err
	}
	return s, nil
}

// EncodeCoins serializes a bare coin sequence, the format used for the
// player's inventory.
func EncodeCoins(coins model.Coins) (string, error) {
	if coins == nil {
		coins = model.Coins{}
	}
	data, err := json.Marshal(coins)
	if err != nil {
		return "", fmt.Errorf("marshal coins: %w", err)
	}
	return string(data), nil
}

// DecodeCoins parses a bare coin sequence written by EncodeCoins.
func DecodeCoins(s string) (model.Coins, error) {
	var coins model.Coins
	if err := json.Unmarshal([]byte(s), &coins); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptState, err)
	}
	if coins == nil {
		return nil, fmt.Errorf("%w: null coin list", ErrCorruptState)
	}
	if err := checkSerials(coins); err != nil {
		return nil, err
	}
	return coins, nil
}

func decodeCoins(m string) (model.Coins, error) {
	var raw struct {
		Version *int             `json:"version"`
		Coins   *json.RawMessage `json:"coins"`
	}
	if err := json.Unmarshal([]byte(m), &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptState, err)
	}

	version := 0
	if raw.Version != nil {
		version = *raw.Version
	}
	if version < 0 {
		return nil, fmt.Errorf("%w: version %d", ErrCorruptState, version)
	}
	if version > MementoVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, version)
	}
	if raw.Coins == nil {
		return nil, fmt.Errorf("%w: missing coins", ErrCorruptState)
	}

	// Versions 0 and 1 share the coin list layout.
	return DecodeCoins(string(*raw.Coins))
}

func checkSerials(coins model.Coins) error {
	for i, c := range coins {
		if c.Serial == "" {
			return fmt.Errorf("%w: coin %d has no serial", ErrCorruptState, i)
		}
	}
	return nil
}
