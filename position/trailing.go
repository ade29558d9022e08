package position

import "github.com/rustyeddy/breakout/market"

// TrailStop returns the stop trailing distance behind best, and whether
// it tightens current. A stop never loosens: for longs the result is
// never below current, for shorts never above.
func TrailStop(dir market.Direction, current, best, distance float64) (float64, bool) {
	candidate := best - dir.Sign()*distance
	if dir.Better(candidate, current) {
		return candidate, true
	}
	return current, false
}
