// Package reward computes staking rewards in fixed-point integer arithmetic.
//
// The annual rate is an integer percentage applied pro rata per full day:
//
//	reward = floor(principal * rate * days / (100 * 365))
//
// The product is formed in 256-bit integers before the single division, so
// the result is exact, platform independent and never rounds up.
package reward

import (
	"errors"

	"github.com/holiman/uint256"
)

const (
	SecondsPerDay = 86400
	DaysPerYear   = 365
	MaxRate       = 100
)

var (
	ErrNegativeElapsed = errors.New("reward: negative elapsed time")
	ErrRateOutOfRange  = errors.New("reward: rate above 100 percent")
	ErrOverflow        = errors.New("reward: result overflows uint64")
)

var denominator = uint256.NewInt(MaxRate * DaysPerYear)

// Compute returns the reward accrued by principal staked for elapsed seconds
// at ratePercent annual yield. Partial days earn nothing.
func Compute(principal uint64, elapsed int64, ratePercent uint8) (uint64, error) {
	if elapsed < 0 {
		return 0, ErrNegativeElapsed
	}
	if ratePercent > MaxRate {
		return 0, ErrRateOutOfRange
	}
	days := uint64(elapsed / SecondsPerDay)
	if principal == 0 || ratePercent == 0 || days == 0 {
		return 0, nil
	}

	x := uint256.NewInt(principal)
	if _, overflow := x.MulOverflow(x, uint256.NewInt(uint64(ratePercent))); overflow {
		return 0, ErrOverflow
	}
	if _, overflow := x.MulOverflow(x, uint256.NewInt(days)); overflow {
		return 0, ErrOverflow
	}
	x.Div(x, denominator)
	if !x.IsUint64() {
		return 0, ErrOverflow
	}
	return x.Uint64(), nil
}

// UnlockTime returns the first timestamp at which a position opened at
// openedAt may be redeemed without force.
func UnlockTime(openedAt, minDuration int64) int64 {
	if minDuration <= 0 {
		return openedAt
	}
	return openedAt + minDuration
}
