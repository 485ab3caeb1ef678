package matchmaking

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/park285/wagerchess-core/internal/domain"
	"github.com/park285/wagerchess-core/internal/matchqueue"
	"github.com/park285/wagerchess-core/internal/notify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var blitz = domain.TimeControl{BaseMinutes: 3, IncrementSeconds: 2}

type profiles map[string]int

func (p profiles) GetProfile(_ context.Context, id string) (*domain.RatingProfile, error) {
	r, ok := p[id]
	if !ok {
		return nil, domain.ErrPlayerNotFound
	}
	return &domain.RatingProfile{PlayerID: id, Rating: r, GamesPlayed: 20}, nil
}

type factory struct {
	calls atomic.Int32
	err   error
}

func (f *factory) CreateSession(_ context.Context, a, b string, _ domain.TimeControl) (string, error) {
	n := f.calls.Add(1)
	if f.err != nil {
		return "", f.err
	}
	return fmt.Sprintf("game-%d-%s-%s", n, a, b), nil
}

type events struct {
	mu  sync.Mutex
	evs []notify.Event
}

func (e *events) Notify(_ context.Context, ev notify.Event) {
	e.mu.Lock()
	e.evs = append(e.evs, ev)
	e.mu.Unlock()
}

func (e *events) count(match func(notify.Event) bool) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, ev := range e.evs {
		if match(ev) {
			n++
		}
	}
	return n
}

func (e *events) last(match func(notify.Event) bool) (notify.Event, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := len(e.evs) - 1; i >= 0; i-- {
		if match(e.evs[i]) {
			return e.evs[i], true
		}
	}
	return notify.Event{}, false
}

func kind(k notify.Kind, player string) func(notify.Event) bool {
	return func(ev notify.Event) bool { return ev.Kind == k && ev.PlayerID == player }
}

func searchingAt(player string, elapsed int) func(notify.Event) bool {
	return func(ev notify.Event) bool {
		return ev.Kind == notify.KindSearching && ev.PlayerID == player && ev.ElapsedSeconds == elapsed
	}
}

type harness struct {
	c   *Coordinator
	q   *matchqueue.Queue
	clk *fakeClock
	fac *factory
	evs *events
}

func newHarness(t *testing.T, ratings profiles) *harness {
	t.Helper()
	h := &harness{q: matchqueue.New(), clk: newFakeClock(), fac: &factory{}, evs: &events{}}
	h.c = New(h.q, ratings, h.fac, WithClock(h.clk), WithNotifier(h.evs), WithLogger(zap.NewNop()))
	t.Cleanup(h.c.Close)
	return h
}

func (h *harness) waitFor(t *testing.T, match func(notify.Event) bool) {
	t.Helper()
	require.Eventually(t, func() bool { return h.evs.count(match) > 0 }, 2*time.Second, time.Millisecond)
}

func TestSubmitStartsSearching(t *testing.T) {
	h := newHarness(t, profiles{"alice": 1500})
	snap, err := h.c.Submit(context.Background(), "alice", blitz)
	require.NoError(t, err)
	assert.Equal(t, StateSearching, snap.State)
	assert.Equal(t, 0, snap.ElapsedSeconds)
	assert.Equal(t, domain.RatingRange{Min: 1475, Max: 1900}, snap.Range)
	assert.NotEmpty(t, snap.RequestID)
	assert.True(t, h.q.Contains("alice", blitz))
	assert.Equal(t, 1, h.evs.count(searchingAt("alice", 0)))
	assert.Len(t, h.c.Active("alice"), 1)
}

func TestSubmitValidation(t *testing.T) {
	h := newHarness(t, profiles{"alice": 1500})

	_, err := h.c.Submit(context.Background(), "ghost", blitz)
	require.ErrorIs(t, err, domain.ErrPlayerNotFound)

	_, err = h.c.Submit(context.Background(), "alice", domain.TimeControl{})
	require.ErrorIs(t, err, domain.ErrInvalidTimeControl)

	_, err = h.c.Submit(context.Background(), " ", blitz)
	require.ErrorIs(t, err, domain.ErrPlayerNotFound)

	assert.Equal(t, 0, h.q.Len(blitz))
}

func TestDuplicateSubmitLeavesOriginalSearching(t *testing.T) {
	h := newHarness(t, profiles{"alice": 1500})
	first, err := h.c.Submit(context.Background(), "alice", blitz)
	require.NoError(t, err)

	_, err = h.c.Submit(context.Background(), "alice", blitz)
	require.ErrorIs(t, err, domain.ErrDuplicateRequest)

	st, err := h.c.Status("alice", blitz)
	require.NoError(t, err)
	assert.Equal(t, first.RequestID, st.RequestID)
	assert.Equal(t, StateSearching, st.State)
	assert.Equal(t, 1, h.q.Len(blitz))

	// another time control is a separate search
	_, err = h.c.Submit(context.Background(), "alice", domain.TimeControl{BaseMinutes: 10})
	require.NoError(t, err)
}

func TestRangeWidensMonotonically(t *testing.T) {
	h := newHarness(t, profiles{"alice": 1500})
	_, err := h.c.Submit(context.Background(), "alice", blitz)
	require.NoError(t, err)

	prev := domain.RatingRange{Min: 1475, Max: 1900}
	for i := 1; i <= 10; i++ {
		h.clk.Advance(time.Second)
		h.waitFor(t, searchingAt("alice", i))
		ev, _ := h.evs.last(searchingAt("alice", i))
		require.NotNil(t, ev.RatingRange)
		assert.LessOrEqual(t, ev.RatingRange.Min, prev.Min)
		assert.GreaterOrEqual(t, ev.RatingRange.Max, prev.Max)
		prev = *ev.RatingRange
	}
	assert.Equal(t, domain.RatingRange{Min: 1425, Max: 1950}, prev)

	st, err := h.c.Status("alice", blitz)
	require.NoError(t, err)
	assert.Equal(t, 10, st.ElapsedSeconds)
	assert.Equal(t, prev, st.Range)
}

func TestTimeoutFiresOnce(t *testing.T) {
	h := newHarness(t, profiles{"alice": 1500})
	_, err := h.c.Submit(context.Background(), "alice", blitz)
	require.NoError(t, err)

	h.clk.Advance(30 * time.Second)
	h.waitFor(t, searchingAt("alice", 30))
	h.clk.Advance(30 * time.Second)
	h.waitFor(t, kind(notify.KindTimeout, "alice"))

	h.c.Close()
	assert.Equal(t, 1, h.evs.count(kind(notify.KindTimeout, "alice")))
	assert.Equal(t, 0, h.evs.count(kind(notify.KindCancelled, "alice")))
	assert.False(t, h.q.Contains("alice", blitz))
	assert.Equal(t, 0, h.clk.activeTickers())
	assert.Equal(t, 0, h.clk.activeTimers())

	st, err := h.c.Status("alice", blitz)
	require.NoError(t, err)
	assert.Equal(t, StateTimeout, st.State)
	assert.Equal(t, 60, st.ElapsedSeconds)
	assert.Empty(t, h.c.Active("alice"))
}

func TestTimeoutUsesWallClockWhenTicksAreLate(t *testing.T) {
	h := newHarness(t, profiles{"alice": 1500})
	_, err := h.c.Submit(context.Background(), "alice", blitz)
	require.NoError(t, err)

	// one jump delivers a single tick; the deadline still applies
	h.clk.Advance(61 * time.Second)
	h.waitFor(t, kind(notify.KindTimeout, "alice"))
	ev, _ := h.evs.last(kind(notify.KindTimeout, "alice"))
	assert.Equal(t, 61, ev.ElapsedSeconds)
	assert.Equal(t, 0, h.evs.count(searchingAt("alice", 61)))
}

func TestResubmitAfterTimeout(t *testing.T) {
	h := newHarness(t, profiles{"alice": 1500})
	first, err := h.c.Submit(context.Background(), "alice", blitz)
	require.NoError(t, err)
	h.clk.Advance(time.Minute)
	h.waitFor(t, kind(notify.KindTimeout, "alice"))
	require.Eventually(t, func() bool { return !h.q.Contains("alice", blitz) }, time.Second, time.Millisecond)

	second, err := h.c.Submit(context.Background(), "alice", blitz)
	require.NoError(t, err)
	assert.NotEqual(t, first.RequestID, second.RequestID)
	assert.Equal(t, StateSearching, second.State)
}

func TestCancelIsIdempotent(t *testing.T) {
	h := newHarness(t, profiles{"alice": 1500})
	_, err := h.c.Submit(context.Background(), "alice", blitz)
	require.NoError(t, err)

	first, err := h.c.Cancel("alice", blitz)
	require.NoError(t, err)
	assert.Equal(t, StateCancelled, first.State)
	assert.False(t, h.q.Contains("alice", blitz))
	assert.Equal(t, 0, h.clk.activeTickers())

	second, err := h.c.Cancel("alice", blitz)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, h.evs.count(kind(notify.KindCancelled, "alice")))

	// no further ticks after cancellation
	h.clk.Advance(5 * time.Second)
	h.c.Close()
	assert.Equal(t, 0, h.evs.count(searchingAt("alice", 5)))
}

func TestCancelUnknown(t *testing.T) {
	h := newHarness(t, profiles{})
	_, err := h.c.Cancel("nobody", blitz)
	require.ErrorIs(t, err, domain.ErrSessionNotFound)
	_, err = h.c.Status("nobody", blitz)
	require.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestImmediatePairing(t *testing.T) {
	h := newHarness(t, profiles{"alice": 1500, "bob": 1520})
	_, err := h.c.Submit(context.Background(), "alice", blitz)
	require.NoError(t, err)
	snap, err := h.c.Submit(context.Background(), "bob", blitz)
	require.NoError(t, err)
	assert.Equal(t, StateFound, snap.State)
	assert.Equal(t, "alice", snap.OpponentID)

	h.waitFor(t, kind(notify.KindMatchFound, "alice"))
	h.waitFor(t, kind(notify.KindMatchFound, "bob"))
	assert.EqualValues(t, 1, h.fac.calls.Load())
	assert.Equal(t, 0, h.q.Len(blitz))

	a, _ := h.evs.last(kind(notify.KindMatchFound, "alice"))
	b, _ := h.evs.last(kind(notify.KindMatchFound, "bob"))
	assert.Equal(t, a.SessionID, b.SessionID)
	assert.Equal(t, "bob", a.OpponentID)

	// cancelling a found search is a no-op
	st, err := h.c.Cancel("alice", blitz)
	require.NoError(t, err)
	assert.Equal(t, StateFound, st.State)
	assert.Equal(t, a.SessionID, st.SessionID)
}

func TestPairsAfterRangesWiden(t *testing.T) {
	h := newHarness(t, profiles{"alice": 1500, "bob": 1600})
	_, err := h.c.Submit(context.Background(), "alice", blitz)
	require.NoError(t, err)
	_, err = h.c.Submit(context.Background(), "bob", blitz)
	require.NoError(t, err)

	// bob's floor starts at 1575 and reaches 1500 after 15s
	h.clk.Advance(14 * time.Second)
	h.waitFor(t, searchingAt("alice", 14))
	h.waitFor(t, searchingAt("bob", 14))
	assert.EqualValues(t, 0, h.fac.calls.Load())
	assert.Equal(t, 2, h.q.Len(blitz))

	h.clk.Advance(time.Second)
	h.waitFor(t, kind(notify.KindMatchFound, "alice"))
	h.waitFor(t, kind(notify.KindMatchFound, "bob"))
	assert.EqualValues(t, 1, h.fac.calls.Load())
	assert.Equal(t, 0, h.q.Len(blitz))

	st, err := h.c.Status("bob", blitz)
	require.NoError(t, err)
	assert.Equal(t, StateFound, st.State)
	assert.Equal(t, "alice", st.OpponentID)
	assert.NotEmpty(t, st.SessionID)
	assert.Equal(t, 0, h.clk.activeTickers())
}

func TestDifferentTimeControlsNeverPair(t *testing.T) {
	h := newHarness(t, profiles{"alice": 1500, "bob": 1500})
	_, err := h.c.Submit(context.Background(), "alice", blitz)
	require.NoError(t, err)
	snap, err := h.c.Submit(context.Background(), "bob", domain.TimeControl{BaseMinutes: 3})
	require.NoError(t, err)
	assert.Equal(t, StateSearching, snap.State)
	assert.EqualValues(t, 0, h.fac.calls.Load())
}

func TestConcurrentSubmitsPairExactlyOnce(t *testing.T) {
	const n = 50
	ratings := profiles{}
	for i := 0; i < n; i++ {
		ratings[fmt.Sprintf("p%02d", i)] = 1500
	}
	h := newHarness(t, ratings)

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for id := range ratings {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if _, err := h.c.Submit(context.Background(), id, blitz); err != nil {
				errs <- err
			}
		}(id)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	found := func(ev notify.Event) bool { return ev.Kind == notify.KindMatchFound }
	require.Eventually(t, func() bool { return h.evs.count(found) == n }, 2*time.Second, time.Millisecond)
	assert.EqualValues(t, n/2, h.fac.calls.Load())
	assert.Equal(t, 0, h.q.Len(blitz))

	opp := map[string]string{}
	for id := range ratings {
		st, err := h.c.Status(id, blitz)
		require.NoError(t, err)
		require.Equal(t, StateFound, st.State)
		opp[id] = st.OpponentID
	}
	for id, o := range opp {
		assert.Equal(t, id, opp[o], "pairing of %s is not symmetric", id)
	}
}

func TestFactoryFailureNotifiesBoth(t *testing.T) {
	h := newHarness(t, profiles{"alice": 1500, "bob": 1500})
	h.fac.err = errors.New("game service down")
	_, err := h.c.Submit(context.Background(), "alice", blitz)
	require.NoError(t, err)
	_, err = h.c.Submit(context.Background(), "bob", blitz)
	require.NoError(t, err)

	h.waitFor(t, kind(notify.KindMatchFailed, "alice"))
	h.waitFor(t, kind(notify.KindMatchFailed, "bob"))
	assert.Equal(t, 0, h.evs.count(func(ev notify.Event) bool { return ev.Kind == notify.KindMatchFound }))

	st, err := h.c.Status("alice", blitz)
	require.NoError(t, err)
	assert.Equal(t, StateFound, st.State)
	assert.Equal(t, "game service down", st.Failure)

	// both may search again
	_, err = h.c.Submit(context.Background(), "alice", blitz)
	require.NoError(t, err)
}

func TestCloseCancelsRunningSearches(t *testing.T) {
	h := newHarness(t, profiles{"alice": 1500})
	_, err := h.c.Submit(context.Background(), "alice", blitz)
	require.NoError(t, err)

	h.c.Close()
	assert.Equal(t, 1, h.evs.count(kind(notify.KindCancelled, "alice")))
	assert.False(t, h.q.Contains("alice", blitz))
	assert.Equal(t, 0, h.clk.activeTickers())

	_, err = h.c.Submit(context.Background(), "alice", blitz)
	require.ErrorIs(t, err, ErrClosed)
}

func TestCancelDuringSubmitLeavesNoQueueEntry(t *testing.T) {
	clk := &hookClock{fakeClock: newFakeClock()}
	q := matchqueue.New()
	c := New(q, profiles{"alice": 1500}, &factory{}, WithClock(clk), WithNotifier(&events{}), WithLogger(zap.NewNop()))
	t.Cleanup(c.Close)

	var cancelErr error
	clk.beforeTicker = func() { _, cancelErr = c.Cancel("alice", blitz) }
	snap, err := c.Submit(context.Background(), "alice", blitz)
	require.NoError(t, err)
	require.ErrorIs(t, cancelErr, domain.ErrSessionNotFound)
	assert.Equal(t, StateSearching, snap.State)
	assert.True(t, q.Contains("alice", blitz))

	st, err := c.Cancel("alice", blitz)
	require.NoError(t, err)
	assert.Equal(t, StateCancelled, st.State)
	assert.False(t, q.Contains("alice", blitz))

	_, err = c.Submit(context.Background(), "alice", blitz)
	require.NoError(t, err)
	assert.True(t, q.Contains("alice", blitz))
}

func TestNoSearchingEventAfterCancel(t *testing.T) {
	const n = 20
	ratings := profiles{}
	for i := 0; i < n; i++ {
		// far apart so nobody pairs
		ratings[fmt.Sprintf("p%02d", i)] = 1000 + 2000*i
	}
	h := newHarness(t, ratings)
	for id := range ratings {
		_, err := h.c.Submit(context.Background(), id, blitz)
		require.NoError(t, err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 30; i++ {
			h.clk.Advance(time.Second)
			time.Sleep(time.Millisecond)
		}
	}()
	var wg sync.WaitGroup
	for id := range ratings {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			time.Sleep(time.Duration(len(id)%7) * time.Millisecond)
			_, err := h.c.Cancel(id, blitz)
			assert.NoError(t, err)
		}(id)
	}
	wg.Wait()
	<-done
	h.c.Close()

	h.evs.mu.Lock()
	defer h.evs.mu.Unlock()
	cancelled := map[string]bool{}
	for _, ev := range h.evs.evs {
		switch ev.Kind {
		case notify.KindCancelled:
			cancelled[ev.PlayerID] = true
		case notify.KindSearching:
			assert.False(t, cancelled[ev.PlayerID], "searching after cancelled for %s", ev.PlayerID)
		}
	}
	assert.Len(t, cancelled, n)
}
