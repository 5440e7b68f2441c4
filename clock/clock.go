// Package clock provides the time source used to stamp and age positions.
package clock

import (
	"sync/atomic"
	"time"

	"github.com/beevik/ntp"
	"github.com/ethereum/go-ethereum/log"
)

// Clock returns the current time as unix seconds.
type Clock interface {
	Now() int64
}

// System reads the local wall clock.
type System struct{}

func (System) Now() int64 { return time.Now().Unix() }

// Manual is a settable clock for tests and simulations.
type Manual struct {
	t atomic.Int64
}

// NewManual returns a Manual clock set to t.
func NewManual(t int64) *Manual {
	m := &Manual{}
	m.t.Store(t)
	return m
}

func (m *Manual) Now() int64 { return m.t.Load() }

// Set moves the clock to t.
func (m *Manual) Set(t int64) { m.t.Store(t) }

// Advance moves the clock forward by d seconds.
func (m *Manual) Advance(d int64) { m.t.Add(d) }

// Offset is the wall clock corrected by a fixed offset, normally measured
// against an NTP server at startup.
type Offset struct {
	offset time.Duration
	now    func() time.Time
}

// NewOffset returns a clock that adds offset to the local wall clock.
func NewOffset(offset time.Duration) *Offset {
	return &Offset{offset: offset, now: time.Now}
}

func (o *Offset) Now() int64 { return o.now().Add(o.offset).Unix() }

// Drift returns the applied correction.
func (o *Offset) Drift() time.Duration { return o.offset }

// Sync queries host for the local clock offset. Offsets larger than maxOffset
// are logged as a warning but still applied.
func Sync(host string, maxOffset time.Duration) (*Offset, error) {
	resp, err := ntp.Query(host)
	if err != nil {
		return nil, err
	}
	if abs(resp.ClockOffset) > maxOffset {
		log.Warn("Clock offset above limit", "server", host, "offset", resp.ClockOffset)
	}
	log.Info("Clock synchronised", "server", host, "offset", resp.ClockOffset)
	return NewOffset(resp.ClockOffset), nil
}

func abs(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
