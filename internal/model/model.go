// Package model defines the core domain types shared across the cell engine.
package model

// Coin is a single collectible. Serials are unique across the game and a coin
// is held by exactly one cache or by the player at any time.
type Coin struct {
	Serial string `json:"serial"`
}

// Coins is an ordered coin sequence. Order is insertion order; removal is
// LIFO.
type Coins []Coin

// Len returns the number of coins held.
func (c Coins) Len() int { return len(c) }

// Serials returns the coin serials in order.
func (c Coins) Serials() []string {
	out := make([]string, len(c))
	for i, coin := range c {
		out[i] = coin.Serial
	}
	return out
}

// Clone returns an independent copy of the sequence.
func (c Coins) Clone() Coins {
	if c == nil {
		return nil
	}
	out := make(Coins, len(c))
	copy(out, c)
	return out
}

// Direction is one of the four single-tile player moves.
type Direction string

const (
	North Direction = "north"
	East  Direction = "east"
	South Direction = "south"
	West  Direction = "west"
)

// Valid reports whether d is a known direction.
func (d Direction) Valid() bool {
	switch d {
	case North, East, South, West:
		return true
	}
	return false
}
