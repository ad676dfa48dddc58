package fare

// Price is a fare amount.
//
// Two values are reserved: Unset (0) means nothing is known for that slot and
// acts as "no constraint" when comparing; NotFound marks a slot that was
// searched and yielded no fare. Neither is a real price, see [Price.Value].
type Price float64

const (
	// Unset is the zero Price.
	Unset Price = 0
	// NotFound is the largest integer a float64 holds exactly (2^53-1).
	NotFound Price = 1<<53 - 1
)

// Stops is the number of stop counts tracked in a PriceVector (0, 1 and 2 stops).
const Stops = 3

// Value returns the fare and true, or false when p is Unset or NotFound.
func (p Price) Value() (float64, bool) {
	if p == Unset || p == NotFound {
		return 0, false
	}
	return float64(p), true
}

// PriceVector holds one fare per stop count, indexed by number of stops.
type PriceVector [Stops]Price

// NotFoundVector returns a vector with every slot set to NotFound.
func NotFoundVector() PriceVector {
	return PriceVector{NotFound, NotFound, NotFound}
}

// Min returns the smallest slot of v. Unset slots compare as zero.
func (v PriceVector) Min() Price {
	m := v[0]
	for _, p := range v[1:] {
		m = min(m, p)
	}
	return m
}

// Valid reports whether every slot of v is non-negative.
func (v PriceVector) Valid() bool {
	for _, p := range v {
		if p < 0 {
			return false
		}
	}
	return true
}

// MinPrice returns the cheaper of a and b. When either operand is Unset the
// other one wins, so an unset slot never reads as a free fare.
func MinPrice(a, b Price) Price {
	if a == Unset || b == Unset {
		return max(a, b)
	}
	return min(a, b)
}
