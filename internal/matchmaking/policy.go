package matchmaking

import (
	"time"

	"github.com/park285/wagerchess-core/internal/domain"
)

// Config holds scheduler and range-widening tunables.
type Config struct {
	TickInterval  time.Duration
	SearchTimeout time.Duration

	// initial band is [base-InitialFloor, base+InitialCeiling]
	InitialFloor   int
	InitialCeiling int

	// linear widening per elapsed second
	FloorWidenPerSecond   float64
	CeilingWidenPerSecond float64

	// DispatchTimeout bounds each asynchronous game-session call.
	DispatchTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		TickInterval:          time.Second,
		SearchTimeout:         60 * time.Second,
		InitialFloor:          25,
		InitialCeiling:        400,
		FloorWidenPerSecond:   5,
		CeilingWidenPerSecond: 5,
		DispatchTimeout:       10 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.TickInterval <= 0 {
		c.TickInterval = d.TickInterval
	}
	if c.SearchTimeout <= 0 {
		c.SearchTimeout = d.SearchTimeout
	}
	if c.InitialFloor < 0 {
		c.InitialFloor = 0
	}
	if c.InitialCeiling < 0 {
		c.InitialCeiling = 0
	}
	if c.FloorWidenPerSecond < 0 {
		c.FloorWidenPerSecond = 0
	}
	if c.CeilingWidenPerSecond < 0 {
		c.CeilingWidenPerSecond = 0
	}
	if c.DispatchTimeout <= 0 {
		c.DispatchTimeout = d.DispatchTimeout
	}
	return c
}

// RangeAt is the acceptable band for base after elapsed whole seconds of
// searching. It never shrinks as elapsed grows, always contains base and
// never goes below zero.
func (c Config) RangeAt(base, elapsed int) domain.RatingRange {
	if elapsed < 0 {
		elapsed = 0
	}
	lo := base - c.InitialFloor - int(c.FloorWidenPerSecond*float64(elapsed))
	hi := base + c.InitialCeiling + int(c.CeilingWidenPerSecond*float64(elapsed))
	if lo < 0 {
		lo = 0
	}
	if lo > base {
		lo = base
	}
	if hi < base {
		hi = base
	}
	return domain.RatingRange{Min: lo, Max: hi}
}

// widen never lets a range shrink relative to prev.
func widen(prev, next domain.RatingRange) domain.RatingRange {
	if prev.Min < next.Min {
		next.Min = prev.Min
	}
	if prev.Max > next.Max {
		next.Max = prev.Max
	}
	return next
}

func elapsedSeconds(since, now time.Time) int {
	d := now.Sub(since)
	if d < 0 {
		return 0
	}
	return int(d / time.Second)
}
