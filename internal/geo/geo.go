// Package geo maps continuous coordinates onto the discrete cell grid.
//
// Cell identifiers are derived from exact decimal arithmetic so that a
// coordinate never lands in a neighbouring bucket because of a binary
// floating point artefact (e.g. 36.9895 * 1e5 == 3698949.9999999995).
package geo

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/shopspring/decimal"

	"github.com/geocoin/engine/internal/model"
)

// keyExp is the decimal exponent of a cell identifier bucket (1e-5 degrees).
const keyExp = 5

// MinTileSize is the smallest tile for which every window step lands in a
// distinct cell identifier bucket.
const MinTileSize = 1e-5

var (
	// ErrInvalidPosition is returned for coordinates outside the
	// representable latitude/longitude range.
	ErrInvalidPosition = errors.New("geo: invalid position")

	// ErrInvalidCellID is returned when a cell identifier string is malformed.
	ErrInvalidCellID = errors.New("geo: invalid cell id")
)

// Position is a latitude/longitude pair in degrees.
type Position struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Point returns the position as an orb point (lon, lat order).
func (p Position) Point() orb.Point {
	return orb.Point{p.Lon, p.Lat}
}

func (p Position) String() string {
	return strconv.FormatFloat(p.Lat, 'f', -1, 64) + "," + strconv.FormatFloat(p.Lon, 'f', -1, 64)
}

// ValidatePosition rejects NaN, infinities and out-of-range coordinates.
func ValidatePosition(p Position) error {
	if math.IsNaN(p.Lat) || math.IsNaN(p.Lon) || math.IsInf(p.Lat, 0) || math.IsInf(p.Lon, 0) {
		return fmt.Errorf("%w: %v", ErrInvalidPosition, p)
	}
	if p.Lat < -90 || p.Lat > 90 || p.Lon < -180 || p.Lon > 180 {
		return fmt.Errorf("%w: %v out of range", ErrInvalidPosition, p)
	}
	return nil
}

// Step returns p moved one tile in direction d. The result is not
// validated; callers pass it through ValidatePosition.
func (p Position) Step(d model.Direction, tileSize float64) Position {
	tile := decimal.NewFromFloat(tileSize)
	lat := decimal.NewFromFloat(p.Lat)
	lon := decimal.NewFromFloat(p.Lon)

	switch d {
	case model.North:
		lat = lat.Add(tile)
	case model.South:
		lat = lat.Sub(tile)
	case model.East:
		lon = lon.Add(tile)
	case model.West:
		lon = lon.Sub(tile)
	}
	return Position{Lat: lat.InexactFloat64(), Lon: lon.InexactFloat64()}
}

// CellID addresses one 1e-5 degree bucket.
type CellID struct {
	I int64
	J int64
}

// KeyOf returns the cell containing (lat, lon). Negative coordinates are
// floored, not truncated toward zero.
func KeyOf(lat, lon float64) CellID {
	return keyOfDecimal(decimal.NewFromFloat(lat), decimal.NewFromFloat(lon))
}

func keyOfDecimal(lat, lon decimal.Decimal) CellID {
	return CellID{
		I: lat.Shift(keyExp).Floor().IntPart(),
		J: lon.Shift(keyExp).Floor().IntPart(),
	}
}

// String returns the canonical "I:J" form used as the storage key.
func (c CellID) String() string {
	return strconv.FormatInt(c.I, 10) + ":" + strconv.FormatInt(c.J, 10)
}

// ParseCellID parses the "I:J" form produced by CellID.String.
func ParseCellID(s string) (CellID, error) {
	is, js, ok := strings.Cut(s, ":")
	if !ok {
		return CellID{}, fmt.Errorf("%w: %q", ErrInvalidCellID, s)
	}
	i, err := strconv.ParseInt(is, 10, 64)
	if err != nil {
		return CellID{}, fmt.Errorf("%w: %q", ErrInvalidCellID, s)
	}
	j, err := strconv.ParseInt(js, 10, 64)
	if err != nil {
		return CellID{}, fmt.Errorf("%w: %q", ErrInvalidCellID, s)
	}
	return CellID{I: i, J: j}, nil
}

// Corner returns the exact south-west corner of the cell's bucket.
func (c CellID) Corner() (lat, lon decimal.Decimal) {
	return decimal.New(c.I, -keyExp), decimal.New(c.J, -keyExp)
}

// PresenceSeed is the luck key deciding whether the cell holds a cache.
func (c CellID) PresenceSeed() string {
	lat, lon := c.Corner()
	return lat.String() + "," + lon.String()
}

// CoinSeed is the luck key deciding a fresh cache's coin count. It is salted
// so it does not correlate with PresenceSeed.
func (c CellID) CoinSeed() string {
	return c.PresenceSeed() + "#coins"
}
