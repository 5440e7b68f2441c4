package reward

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeTable(t *testing.T) {
	tests := []struct {
		name      string
		principal uint64
		elapsed   int64
		rate      uint8
		want      uint64
	}{
		{"zero principal", 0, 10 * SecondsPerDay, 10, 0},
		{"zero rate", 1_000_000, 10 * SecondsPerDay, 0, 0},
		{"under one day", 1_000_000, SecondsPerDay - 1, 100, 0},
		{"zero elapsed", 1_000_000, 0, 100, 0},
		{"one day small principal floors to zero", 500, SecondsPerDay, 10, 0},
		{"one day", 73_000, SecondsPerDay, 10, 20},
		{"partial day truncated", 73_000, 2*SecondsPerDay - 1, 10, 20},
		{"full year full rate doubles", 36_500, DaysPerYear * SecondsPerDay, 100, 36_500},
		{"full year ten percent", 1_000_000, DaysPerYear * SecondsPerDay, 10, 100_000},
		{"floor not round", 36_499, SecondsPerDay, 100, 99},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Compute(tt.principal, tt.elapsed, tt.rate)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestComputeNegativeElapsed(t *testing.T) {
	_, err := Compute(100, -1, 10)
	assert.ErrorIs(t, err, ErrNegativeElapsed)
}

func TestComputeRateOutOfRange(t *testing.T) {
	_, err := Compute(100, SecondsPerDay, 101)
	assert.ErrorIs(t, err, ErrRateOutOfRange)
}

func TestComputeWideIntermediate(t *testing.T) {
	// principal*rate*days exceeds uint64 but the quotient fits.
	got, err := Compute(math.MaxUint64, SecondsPerDay, 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(math.MaxUint64/36500), got)
}

func TestComputeOverflow(t *testing.T) {
	_, err := Compute(math.MaxUint64, math.MaxInt64, 100)
	assert.ErrorIs(t, err, ErrOverflow)
}

func TestComputeProperties(t *testing.T) {
	principals := []uint64{0, 1, 99, 500, 73_000, 1 << 40}
	elapsed := []int64{0, 1, SecondsPerDay - 1, SecondsPerDay, 30 * SecondsPerDay, 10 * DaysPerYear * SecondsPerDay}
	for _, p := range principals {
		for _, e := range elapsed {
			for rate := uint8(0); rate <= MaxRate; rate += 5 {
				got, err := Compute(p, e, rate)
				require.NoError(t, err)

				zeroP, _ := Compute(0, e, rate)
				assert.Zero(t, zeroP)
				zeroR, _ := Compute(p, e, 0)
				assert.Zero(t, zeroR)
				sub, _ := Compute(p, SecondsPerDay-1, rate)
				assert.Zero(t, sub)

				// Never pays more than the exact rational reward.
				days := uint64(e / SecondsPerDay)
				if p < 1<<32 && days < 1<<16 {
					assert.LessOrEqual(t, got*36500, p*uint64(rate)*days)
				}
			}
		}
	}
}

func TestComputeMonotonicInTime(t *testing.T) {
	var prev uint64
	for d := int64(0); d < 400; d++ {
		got, err := Compute(1_000_000, d*SecondsPerDay, 7)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, got, prev)
		prev = got
	}
}

func TestUnlockTime(t *testing.T) {
	assert.Equal(t, int64(100), UnlockTime(100, 0))
	assert.Equal(t, int64(100), UnlockTime(100, -5))
	assert.Equal(t, int64(86500), UnlockTime(100, 86400))
}
