package matchmaking

import (
	"testing"
	"time"

	"github.com/park285/wagerchess-core/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestRangeAt(t *testing.T) {
	cfg := DefaultConfig()
	tests := []struct {
		base, elapsed int
		want          domain.RatingRange
	}{
		{1500, 0, domain.RatingRange{Min: 1475, Max: 1900}},
		{1500, 10, domain.RatingRange{Min: 1425, Max: 1950}},
		{1500, -3, domain.RatingRange{Min: 1475, Max: 1900}},
		{10, 0, domain.RatingRange{Min: 0, Max: 410}},
		{100, 60, domain.RatingRange{Min: 0, Max: 800}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, cfg.RangeAt(tt.base, tt.elapsed), "base=%d elapsed=%d", tt.base, tt.elapsed)
	}
}

func TestRangeAtNeverShrinks(t *testing.T) {
	cfg := Config{InitialFloor: 10, InitialCeiling: 10, FloorWidenPerSecond: 2.5, CeilingWidenPerSecond: 7}.withDefaults()
	prev := cfg.RangeAt(1200, 0)
	for s := 1; s <= 120; s++ {
		r := cfg.RangeAt(1200, s)
		assert.LessOrEqual(t, r.Min, prev.Min)
		assert.GreaterOrEqual(t, r.Max, prev.Max)
		assert.True(t, r.Contains(1200))
		prev = r
	}
}

func TestWiden(t *testing.T) {
	got := widen(domain.RatingRange{Min: 100, Max: 900}, domain.RatingRange{Min: 200, Max: 800})
	assert.Equal(t, domain.RatingRange{Min: 100, Max: 900}, got)
}

func TestElapsedSeconds(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, 0, elapsedSeconds(t0, t0.Add(999*time.Millisecond)))
	assert.Equal(t, 15, elapsedSeconds(t0, t0.Add(15500*time.Millisecond)))
	assert.Equal(t, 0, elapsedSeconds(t0, t0.Add(-time.Second)))
}

func TestWithDefaults(t *testing.T) {
	c := Config{FloorWidenPerSecond: -1}.withDefaults()
	assert.Equal(t, time.Second, c.TickInterval)
	assert.Equal(t, time.Minute, c.SearchTimeout)
	assert.Zero(t, c.FloorWidenPerSecond)
}
