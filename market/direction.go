package market

import (
	"fmt"
	"strings"
)

// Direction is the side of a signal or position.
type Direction int

const (
	Flat  Direction = 0
	Long  Direction = 1
	Short Direction = -1
)

func (d Direction) String() string {
	switch d {
	case Long:
		return "LONG"
	case Short:
		return "SHORT"
	default:
		return "FLAT"
	}
}

// Sign is +1 for longs, -1 for shorts and 0 otherwise. Multiplying a
// price delta by Sign turns it into a "favorable" distance.
func (d Direction) Sign() float64 {
	return float64(d)
}

// Opposite returns the other side; Flat stays Flat.
func (d Direction) Opposite() Direction {
	return -d
}

// Favorable returns how far price has moved in the direction's favor
// relative to ref. Negative values are adverse.
func (d Direction) Favorable(ref, price float64) float64 {
	return (price - ref) * d.Sign()
}

// Better reports whether a is a more favorable price than b for the
// direction: higher for longs, lower for shorts.
func (d Direction) Better(a, b float64) bool {
	switch d {
	case Long:
		return a > b
	case Short:
		return a < b
	}
	return false
}

func (d Direction) MarshalText() ([]byte, error) {
	if d == Flat {
		return []byte(""), nil
	}
	return []byte(d.String()), nil
}

func (d *Direction) UnmarshalText(b []byte) error {
	switch strings.ToUpper(strings.TrimSpace(string(b))) {
	case "LONG", "BUY":
		*d = Long
	case "SHORT", "SELL":
		*d = Short
	case "", "FLAT":
		*d = Flat
	default:
		return fmt.Errorf("unknown direction %q", string(b))
	}
	return nil
}

// DirectionOf derives the side from signed units.
func DirectionOf(units float64) Direction {
	switch {
	case units > 0:
		return Long
	case units < 0:
		return Short
	}
	return Flat
}
