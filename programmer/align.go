package programmer

import "golang.org/x/exp/constraints"

// alignDown rounds v down to a multiple of unit.
func alignDown[T constraints.Unsigned](v, unit T) T {
	if unit == 0 {
		return v
	}
	return v - v%unit
}

// aligned reports whether v is a multiple of unit.
func aligned[T constraints.Unsigned](v, unit T) bool {
	return unit == 0 || v%unit == 0
}

// chunk returns the length of the piece starting at addr that ends at the
// next unit boundary or at remaining, whichever comes first.
func chunk[T constraints.Unsigned](addr, remaining, unit T) T {
	if unit == 0 {
		return remaining
	}
	return min(unit-addr%unit, remaining)
}

// units counts the unit-aligned pieces covering [addr, addr+length).
func units[T constraints.Unsigned](addr, length, unit T) int {
	if length == 0 {
		return 0
	}
	if unit == 0 {
		return 1
	}
	first := alignDown(addr, unit)
	last := alignDown(addr+length-1, unit)
	return int((last-first)/unit) + 1
}

func percent[T constraints.Integer](done, total T) float64 {
	if total == 0 {
		return 100
	}
	return float64(done) / float64(total) * 100
}
