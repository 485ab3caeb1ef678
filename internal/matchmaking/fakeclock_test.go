package matchmaking

import (
	"sync"
	"time"
)

// fakeClock advances only when told to. Tickers and timers deliver at most one
// pending value, like the time package.
type fakeClock struct {
	mu      sync.Mutex
	now     time.Time
	tickers map[*fakeTicker]struct{}
	timers  map[*fakeTimer]struct{}
}

func newFakeClock() *fakeClock {
	return &fakeClock{
		now:     time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC),
		tickers: make(map[*fakeTicker]struct{}),
		timers:  make(map[*fakeTimer]struct{}),
	}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) NewTicker(d time.Duration) Ticker {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := &fakeTicker{clk: f, period: d, next: f.now.Add(d), ch: make(chan time.Time, 1)}
	f.tickers[t] = struct{}{}
	return t
}

func (f *fakeClock) NewTimer(d time.Duration) Timer {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := &fakeTimer{clk: f, at: f.now.Add(d), ch: make(chan time.Time, 1)}
	f.timers[t] = struct{}{}
	return t
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
	for t := range f.tickers {
		if f.now.Before(t.next) {
			continue
		}
		for !f.now.Before(t.next) {
			t.next = t.next.Add(t.period)
		}
		select {
		case t.ch <- f.now:
		default:
		}
	}
	for t := range f.timers {
		if f.now.Before(t.at) {
			continue
		}
		delete(f.timers, t)
		select {
		case t.ch <- f.now:
		default:
		}
	}
}

func (f *fakeClock) activeTickers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tickers)
}

func (f *fakeClock) activeTimers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.timers)
}

type fakeTicker struct {
	clk    *fakeClock
	period time.Duration
	next   time.Time
	ch     chan time.Time
}

func (t *fakeTicker) C() <-chan time.Time { return t.ch }

func (t *fakeTicker) Stop() {
	t.clk.mu.Lock()
	delete(t.clk.tickers, t)
	t.clk.mu.Unlock()
}

type fakeTimer struct {
	clk *fakeClock
	at  time.Time
	ch  chan time.Time
}

func (t *fakeTimer) C() <-chan time.Time { return t.ch }

func (t *fakeTimer) Stop() bool {
	t.clk.mu.Lock()
	defer t.clk.mu.Unlock()
	_, ok := t.clk.timers[t]
	delete(t.clk.timers, t)
	return ok
}

// hookClock runs beforeTicker once, just before the next ticker is created.
type hookClock struct {
	*fakeClock
	beforeTicker func()
}

func (h *hookClock) NewTicker(d time.Duration) Ticker {
	if f := h.beforeTicker; f != nil {
		h.beforeTicker = nil
		f()
	}
	return h.fakeClock.NewTicker(d)
}
