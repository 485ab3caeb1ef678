// Package matchmaking drives match requests through their search lifecycle:
// each request gets its own ticker that widens the acceptable rating range and
// asks the queue for a partner, plus a hard wall-clock deadline.
package matchmaking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/park285/wagerchess-core/internal/domain"
	"github.com/park285/wagerchess-core/internal/matchqueue"
	"github.com/park285/wagerchess-core/internal/notify"
	"github.com/park285/wagerchess-core/internal/obslog"
	"go.uber.org/zap"
)

var ErrClosed = errors.New("matchmaking: coordinator closed")

// ProfileSource supplies the rating a search starts from.
type ProfileSource interface {
	GetProfile(ctx context.Context, playerID string) (*domain.RatingProfile, error)
}

// SessionFactory creates the game once two requests are paired.
type SessionFactory interface {
	CreateSession(ctx context.Context, playerA, playerB string, tc domain.TimeControl) (string, error)
}

type Option func(*Coordinator)

func WithConfig(cfg Config) Option { return func(c *Coordinator) { c.cfg = cfg } }

func WithClock(clk Clock) Option { return func(c *Coordinator) { c.clock = clk } }

func WithNotifier(n notify.Notifier) Option { return func(c *Coordinator) { c.notifier = n } }

func WithLogger(l *zap.Logger) Option { return func(c *Coordinator) { c.log = l } }

type Coordinator struct {
	queue    *matchqueue.Queue
	profiles ProfileSource
	factory  SessionFactory
	notifier notify.Notifier
	clock    Clock
	cfg      Config
	log      *zap.Logger

	mu       sync.Mutex
	sessions map[key]*session
	closed   bool
	closing  chan struct{}

	// live maps request id to its searching session. Read from inside the
	// queue's claim callback, so it must not share a lock with Submit.
	live sync.Map

	wg sync.WaitGroup
}

func New(queue *matchqueue.Queue, profiles ProfileSource, factory SessionFactory, opts ...Option) *Coordinator {
	c := &Coordinator{
		queue:    queue,
		profiles: profiles,
		factory:  factory,
		notifier: notify.Nop,
		clock:    SystemClock(),
		cfg:      DefaultConfig(),
		sessions: make(map[key]*session),
		closing:  make(chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	c.cfg = c.cfg.withDefaults()
	if c.log == nil {
		c.log = obslog.L()
	}
	if c.notifier == nil {
		c.notifier = notify.Nop
	}
	return c
}

func (c *Coordinator) Config() Config { return c.cfg }

// Submit starts a search for playerID under tc.
func (c *Coordinator) Submit(ctx context.Context, playerID string, tc domain.TimeControl) (Snapshot, error) {
	playerID = strings.TrimSpace(playerID)
	if playerID == "" {
		return Snapshot{}, fmt.Errorf("%w: empty player id", domain.ErrPlayerNotFound)
	}
	if !tc.Valid() {
		return Snapshot{}, fmt.Errorf("%w: %s", domain.ErrInvalidTimeControl, tc)
	}
	k := key{playerID: playerID, tc: tc}
	if c.isActive(k) {
		return Snapshot{}, domain.ErrDuplicateRequest
	}
	prof, err := c.profiles.GetProfile(ctx, playerID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("load profile %s: %w", playerID, err)
	}
	if prof == nil {
		return Snapshot{}, fmt.Errorf("%w: %s", domain.ErrPlayerNotFound, playerID)
	}

	now := c.clock.Now()
	req := domain.MatchRequest{
		ID:          uuid.NewString(),
		PlayerID:    playerID,
		TimeControl: tc,
		EnqueuedAt:  now,
		BaseRating:  prof.Rating,
		Range:       c.cfg.RangeAt(prof.Rating, 0),
	}
	s := newSession(req)
	s.ticker = c.clock.NewTicker(c.cfg.TickInterval)
	s.timer = c.clock.NewTimer(c.cfg.SearchTimeout)
	c.live.Store(req.ID, s)

	// Enqueue before publishing so Cancel never sees a session that is not
	// queued yet. Lock order c.mu → bucket is safe: claim callbacks never take c.mu.
	c.mu.Lock()
	err = c.register(k, s)
	c.mu.Unlock()
	if err != nil {
		c.live.Delete(req.ID)
		s.halt()
		return Snapshot{}, err
	}
	c.log.Info("mm_submit",
		zap.String("player_id", playerID),
		zap.String("request_id", req.ID),
		zap.String("time_control", tc.String()),
		zap.Int("rating", prof.Rating),
		zap.Int("range_min", req.Range.Min),
		zap.Int("range_max", req.Range.Max),
	)
	c.emitSearching(s, 0)
	c.attempt(s, req.Range)

	go c.run(s)
	return s.snapshot(), nil
}

// register enqueues s and publishes it. Caller holds c.mu.
func (c *Coordinator) register(k key, s *session) error {
	if c.closed {
		return ErrClosed
	}
	if old := c.sessions[k]; old != nil && !old.terminal() {
		return domain.ErrDuplicateRequest
	}
	if err := c.queue.Enqueue(s.req); err != nil {
		return err
	}
	c.sessions[k] = s
	c.wg.Add(1)
	return nil
}

func (c *Coordinator) isActive(k key) bool {
	c.mu.Lock()
	s := c.sessions[k]
	c.mu.Unlock()
	return s != nil && !s.terminal()
}

// Cancel stops a search. Cancelling a finished search returns its final
// snapshot without error.
func (c *Coordinator) Cancel(playerID string, tc domain.TimeControl) (Snapshot, error) {
	s := c.lookup(strings.TrimSpace(playerID), tc)
	if s == nil {
		return Snapshot{}, domain.ErrSessionNotFound
	}
	if !s.transition(StateCancelled) {
		return s.snapshot(), nil
	}
	c.queue.Remove(s.req.PlayerID, s.req.TimeControl)
	c.finish(s)
	snap := s.snapshot()
	c.log.Info("mm_cancel", zap.String("player_id", snap.PlayerID), zap.String("request_id", snap.RequestID), zap.Int("elapsed", snap.ElapsedSeconds))
	c.emit(notify.Event{Kind: notify.KindCancelled, PlayerID: snap.PlayerID, RequestID: snap.RequestID, TimeControl: tc.String(), ElapsedSeconds: snap.ElapsedSeconds})
	return snap, nil
}

// Status returns the latest search for playerID under tc, terminal or not.
func (c *Coordinator) Status(playerID string, tc domain.TimeControl) (Snapshot, error) {
	s := c.lookup(strings.TrimSpace(playerID), tc)
	if s == nil {
		return Snapshot{}, domain.ErrSessionNotFound
	}
	return s.snapshot(), nil
}

// Active lists playerID's searches that are still running.
func (c *Coordinator) Active(playerID string) []Snapshot {
	playerID = strings.TrimSpace(playerID)
	c.mu.Lock()
	list := make([]*session, 0, 2)
	for k, s := range c.sessions {
		if k.playerID == playerID {
			list = append(list, s)
		}
	}
	c.mu.Unlock()
	out := make([]Snapshot, 0, len(list))
	for _, s := range list {
		if snap := s.snapshot(); !snap.State.Terminal() {
			out = append(out, snap)
		}
	}
	return out
}

// ScanForMatch reports the opponent req would be paired with right now,
// without pairing.
func (c *Coordinator) ScanForMatch(req domain.MatchRequest) (domain.MatchRequest, bool) {
	return c.queue.ScanForMatch(req)
}

// Close cancels every running search and waits for schedulers and pending
// game-session calls to finish.
func (c *Coordinator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.wg.Wait()
		return
	}
	c.closed = true
	close(c.closing)
	c.mu.Unlock()
	c.wg.Wait()
}

func (c *Coordinator) lookup(playerID string, tc domain.TimeControl) *session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessions[key{playerID: playerID, tc: tc}]
}

func (c *Coordinator) run(s *session) {
	defer c.wg.Done()
	defer s.halt()
	for {
		select {
		case <-s.stop:
			return
		case <-c.closing:
			if s.transition(StateCancelled) {
				c.queue.Remove(s.req.PlayerID, s.req.TimeControl)
				c.finish(s)
				c.emit(notify.Event{Kind: notify.KindCancelled, PlayerID: s.req.PlayerID, RequestID: s.req.ID, TimeControl: s.req.TimeControl.String(), ElapsedSeconds: s.snapshot().ElapsedSeconds})
			}
			return
		case <-s.timer.C():
			c.expire(s)
			return
		case <-s.ticker.C():
			if done := c.tick(s); done {
				return
			}
		}
	}
}

// tick widens the range from wall-clock elapsed time and tries to pair.
// It reports true once the session has left searching.
func (c *Coordinator) tick(s *session) bool {
	now := c.clock.Now()
	s.mu.Lock()
	if s.state != StateSearching {
		s.mu.Unlock()
		return true
	}
	if now.Sub(s.req.EnqueuedAt) >= c.cfg.SearchTimeout {
		s.mu.Unlock()
		c.expire(s)
		return true
	}
	el := elapsedSeconds(s.req.EnqueuedAt, now)
	if el < s.elapsed {
		el = s.elapsed
	}
	s.elapsed = el
	s.rng = widen(s.rng, c.cfg.RangeAt(s.req.BaseRating, el))
	rng := s.rng
	s.mu.Unlock()

	if c.attempt(s, rng) {
		return true
	}
	return !c.emitSearching(s, el)
}

func (c *Coordinator) expire(s *session) {
	now := c.clock.Now()
	s.mu.Lock()
	if s.state != StateSearching {
		s.mu.Unlock()
		return
	}
	s.state = StateTimeout
	if el := elapsedSeconds(s.req.EnqueuedAt, now); el > s.elapsed {
		s.elapsed = el
	}
	el := s.elapsed
	s.mu.Unlock()

	c.queue.Remove(s.req.PlayerID, s.req.TimeControl)
	c.finish(s)
	c.log.Info("mm_timeout", zap.String("player_id", s.req.PlayerID), zap.String("request_id", s.req.ID), zap.Int("elapsed", el))
	c.emit(notify.Event{Kind: notify.KindTimeout, PlayerID: s.req.PlayerID, RequestID: s.req.ID, TimeControl: s.req.TimeControl.String(), ElapsedSeconds: el})
}

// attempt publishes rng for s and runs one pairing scan. Both sessions move
// to found inside the queue's critical section; the game is created afterwards.
func (c *Coordinator) attempt(s *session, rng domain.RatingRange) bool {
	var other *session
	claim := func(self, opp domain.MatchRequest) bool {
		v, ok := c.live.Load(opp.ID)
		if !ok {
			return false
		}
		o := v.(*session)
		s.mu.Lock()
		defer s.mu.Unlock()
		o.mu.Lock()
		defer o.mu.Unlock()
		if s.state != StateSearching || o.state != StateSearching {
			return false
		}
		s.state, o.state = StateFound, StateFound
		s.opponentID, o.opponentID = opp.PlayerID, self.PlayerID
		s.rng = rng
		other = o
		return true
	}
	_, opp, ok := c.queue.Pair(s.req.PlayerID, s.req.TimeControl, rng, claim)
	if !ok {
		return false
	}
	c.finish(s)
	c.finish(other)
	c.log.Info("mm_pair",
		zap.String("player_id", s.req.PlayerID),
		zap.String("opponent_id", opp.PlayerID),
		zap.String("time_control", s.req.TimeControl.String()),
		zap.Int("rating", s.req.BaseRating),
		zap.Int("opponent_rating", opp.BaseRating),
	)
	c.dispatch(s, other)
	return true
}

func (c *Coordinator) finish(s *session) {
	c.live.Delete(s.req.ID)
	s.halt()
}

// dispatch creates the game off the scheduler goroutine and reports the
// result to both players.
func (c *Coordinator) dispatch(a, b *session) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.DispatchTimeout)
		defer cancel()
		tc := a.req.TimeControl
		id, err := c.factory.CreateSession(ctx, a.req.PlayerID, b.req.PlayerID, tc)
		if err != nil {
			c.log.Error("mm_session_create_failed",
				zap.String("player_a", a.req.PlayerID),
				zap.String("player_b", b.req.PlayerID),
				zap.Error(err),
			)
			for _, s := range []*session{a, b} {
				s.mu.Lock()
				s.failure = err.Error()
				s.mu.Unlock()
				c.emit(notify.Event{Kind: notify.KindMatchFailed, PlayerID: s.req.PlayerID, RequestID: s.req.ID, TimeControl: tc.String(), OpponentID: s.opponentIDValue()})
			}
			return
		}
		for _, s := range []*session{a, b} {
			s.mu.Lock()
			s.sessionID = id
			opp := s.opponentID
			el := s.elapsed
			s.mu.Unlock()
			c.emit(notify.Event{Kind: notify.KindMatchFound, PlayerID: s.req.PlayerID, RequestID: s.req.ID, TimeControl: tc.String(), SessionID: id, OpponentID: opp, ElapsedSeconds: el})
		}
	}()
}

func (s *session) opponentIDValue() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opponentID
}

// emitSearching reports progress while s is still searching. It holds s.mu so
// a concurrent Cancel or timeout always emits after it. It reports false once
// s has left searching.
func (c *Coordinator) emitSearching(s *session, elapsed int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateSearching {
		return false
	}
	r := s.rng
	c.emit(notify.Event{
		Kind:           notify.KindSearching,
		PlayerID:       s.req.PlayerID,
		RequestID:      s.req.ID,
		TimeControl:    s.req.TimeControl.String(),
		ElapsedSeconds: elapsed,
		RatingRange:    &r,
	})
	return true
}

func (c *Coordinator) emit(ev notify.Event) {
	if ev.At.IsZero() {
		ev.At = c.clock.Now()
	}
	c.notifier.Notify(context.Background(), ev)
}
