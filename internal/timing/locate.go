package timing

import "math"

// ActiveIndex returns the index of the token whose [Start, End] interval
// contains t, or -1 when no token covers t. tokens must be sorted by start
// and must not overlap.
func ActiveIndex(tokens []TokenTiming, t float64) int {
	if math.IsNaN(t) {
		return -1
	}
	lo, hi := 0, len(tokens)-1
	for lo <= hi {
		mid := lo + (hi-lo)/2
		switch {
		case t < tokens[mid].Start:
			hi = mid - 1
		case t > tokens[mid].End:
			lo = mid + 1
		default:
			return mid
		}
	}
	return -1
}
