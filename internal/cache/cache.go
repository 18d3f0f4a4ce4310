// Package cache holds the coin inventory of a single map cell.
//
// A cache starts life as a deterministic function of its cell (Generate) and
// diverges from that default once coins are moved in or out. The memento
// functions capture and restore that divergence.
package cache

import (
	"fmt"

	"github.com/geocoin/engine/internal/geo"
	"github.com/geocoin/engine/internal/luck"
	"github.com/geocoin/engine/internal/model"
)

// MaxInitialCoins bounds the coin count of a freshly generated cache.
const MaxInitialCoins = 100

// State is the coin inventory of one cell.
type State struct {
	Coins model.Coins
}

// Len returns the number of coins in the cache.
func (s *State) Len() int { return len(s.Coins) }

// Generate builds the default cache for cell. The result depends only on the
// cell, so repeated calls produce identical serials in identical order.
func Generate(cell geo.CellID) *State {
	n := luck.Intn(cell.CoinSeed(), MaxInitialCoins)
	coins := make(model.Coins, n)
	for i := range coins {
		coins[i] = model.Coin{Serial: fmt.Sprintf("%s#%d", cell, i)}
	}
	return &State{Coins: coins}
}

// HasCache reports whether cell holds a cache at the given chance.
func HasCache(cell geo.CellID, chance float64) bool {
	return luck.Below(cell.PresenceSeed(), chance)
}

// TransferOne moves the most recently added coin of from onto the end of
// to. It returns false and changes nothing when from is empty.
func TransferOne(from, to *model.Coins) bool {
	n := len(*from)
	if n == 0 {
		return false
	}
	coin := (*from)[n-1]
	*from = (*from)[:n-1]
	*to = append(*to, coin)
	return true
}
