package geo

import (
	"github.com/paulmach/orb"
	"github.com/shopspring/decimal"
)

// Grid describes the tile lattice the neighborhood is laid out on.
type Grid struct {
	// TileSize is the tile edge length in degrees.
	TileSize float64

	// Radius is the window half-width in tiles.
	Radius int
}

// Window returns the cells of the square window [-Radius, +Radius) tiles
// around pos, row-major starting at the south-west corner. The window is
// anchored to the tile lattice, so any two positions inside the same tile
// yield the same window.
func (g Grid) Window(pos Position) []CellID {
	if g.Radius <= 0 || g.TileSize <= 0 {
		return nil
	}

	tile := decimal.NewFromFloat(g.TileSize)
	baseLat := decimal.NewFromFloat(pos.Lat).Div(tile).Floor()
	baseLon := decimal.NewFromFloat(pos.Lon).Div(tile).Floor()

	side := 2 * g.Radius
	cells := make([]CellID, 0, side*side)
	for di := -g.Radius; di < g.Radius; di++ {
		lat := baseLat.Add(decimal.NewFromInt(int64(di))).Mul(tile)
		for dj := -g.Radius; dj < g.Radius; dj++ {
			lon := baseLon.Add(decimal.NewFromInt(int64(dj))).Mul(tile)
			cells = append(cells, keyOfDecimal(lat, lon))
		}
	}
	return cells
}

// Bounds returns the tile rectangle whose south-west corner is the cell.
func (g Grid) Bounds(c CellID) orb.Bound {
	lat, lon := c.Corner()
	tile := decimal.NewFromFloat(g.TileSize)
	return orb.Bound{
		Min: orb.Point{lon.InexactFloat64(), lat.InexactFloat64()},
		Max: orb.Point{lon.Add(tile).InexactFloat64(), lat.Add(tile).InexactFloat64()},
	}
}
