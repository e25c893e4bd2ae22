package messages

import (
	"fmt"
	"math"
)

// RoundingPolicy selects how Round resolves a value between two multiples.
type RoundingPolicy uint8

const (
	// RoundHalfUp rounds to the nearest multiple; ties go to the larger one.
	RoundHalfUp RoundingPolicy = iota
	// RoundFloor rounds down to the multiple at or below the value.
	RoundFloor
	// RoundNearestEven rounds to the nearest multiple; ties go to the even quotient.
	RoundNearestEven
)

func (p RoundingPolicy) String() string {
	switch p {
	case RoundHalfUp:
		return "HalfUp"
	case RoundFloor:
		return "Floor"
	case RoundNearestEven:
		return "NearestEven"
	default:
		return fmt.Sprintf("RoundingPolicy(%d)", uint8(p))
	}
}

// Round quantizes value to a multiple of step with the RoundHalfUp policy.
// value is returned unchanged when step <= 0.
func Round(value, step int64) int64 {
	return RoundHalfUp.Round(value, step)
}

// Round quantizes value to a multiple of step under policy p.
// value is returned unchanged when step <= 0. Near the int64 limits, where
// the nearest multiple would overflow, the closest representable multiple
// is returned instead.
func (p RoundingPolicy) Round(value, step int64) int64 {
	if step <= 0 {
		return value
	}

	// Floor division, so the remainder is in [0, step) for negative values too.
	q := value / step
	r := value % step
	if r < 0 {
		q--
		r += step
	}

	switch p {
	case RoundFloor:
	case RoundNearestEven:
		if r > step-r || (r == step-r && q%2 != 0) {
			q++
		}
	default:
		if r >= step-r {
			q++
		}
	}

	// Saturate to the outermost multiples representable in int64.
	if hi := math.MaxInt64 / step; q > hi {
		q = hi
	} else if lo := math.MinInt64 / step; q < lo {
		q = lo
	}

	return q * step
}
