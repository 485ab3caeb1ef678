// Package settlement applies finished games to player ratings. Each side is
// applied independently with bounded retries; updates that still fail are
// parked in a backlog and replayed later.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/park285/wagerchess-core/internal/domain"
	"github.com/park285/wagerchess-core/internal/notify"
	"github.com/park285/wagerchess-core/internal/obslog"
	"github.com/park285/wagerchess-core/internal/rating"
	"github.com/park285/wagerchess-core/internal/ratingstore"
	"go.uber.org/zap"
)

type Option func(*Service)

func WithNotifier(n notify.Notifier) Option { return func(s *Service) { s.notifier = n } }

func WithLogger(l *zap.Logger) Option { return func(s *Service) { s.log = l } }

// WithRetry sets attempts per side and the first backoff step.
func WithRetry(max int, base time.Duration) Option {
	return func(s *Service) {
		s.retryMax = max
		s.retryBase = base
	}
}

type Service struct {
	store    ratingstore.Store
	backlog  Backlog
	notifier notify.Notifier
	log      *zap.Logger

	retryMax  int
	retryBase time.Duration
	sleep     func(ctx context.Context, d time.Duration) error

	reconcileMu sync.Mutex
}

func NewService(store ratingstore.Store, backlog Backlog, opts ...Option) *Service {
	s := &Service{
		store:     store,
		backlog:   backlog,
		notifier:  notify.Nop,
		retryMax:  4,
		retryBase: 100 * time.Millisecond,
		sleep:     sleepWithContext,
	}
	for _, o := range opts {
		o(s)
	}
	if s.log == nil {
		s.log = obslog.L()
	}
	if s.notifier == nil {
		s.notifier = notify.Nop
	}
	if s.backlog == nil {
		s.backlog = NewMemoryBacklog()
	}
	if s.retryMax <= 0 {
		s.retryMax = 1
	}
	return s
}

// SideResult reports what happened to one player's update.
type SideResult struct {
	PlayerID string                `json:"player_id"`
	Delta    int                   `json:"delta"`
	Profile  *domain.RatingProfile `json:"profile,omitempty"`
	Deferred bool                  `json:"deferred"`
	Err      error                 `json:"-"`
}

type Result struct {
	SessionID string        `json:"session_id"`
	Change    rating.Change `json:"change"`
	White     SideResult    `json:"white"`
	Black     SideResult    `json:"black"`
}

// Settle computes both deltas from the pre-game ratings in o and applies
// them. A side that stays unavailable after retries is deferred, not failed;
// the returned error only carries non-retryable failures.
func (s *Service) Settle(ctx context.Context, o domain.GameOutcome) (Result, error) {
	if err := o.Validate(); err != nil {
		return Result{}, err
	}
	ch := rating.ForOutcome(o)
	res := Result{SessionID: o.SessionID, Change: ch}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		res.White = s.applySide(ctx, ratingstore.Update{
			PlayerID: o.White.PlayerID, SessionID: o.SessionID, OpponentID: o.Black.PlayerID,
			Delta: ch.WhiteDelta, Score: ch.WhiteScore,
		})
	}()
	go func() {
		defer wg.Done()
		res.Black = s.applySide(ctx, ratingstore.Update{
			PlayerID: o.Black.PlayerID, SessionID: o.SessionID, OpponentID: o.White.PlayerID,
			Delta: ch.BlackDelta, Score: ch.BlackScore,
		})
	}()
	wg.Wait()

	s.log.Info("rating_settle",
		zap.String("session_id", o.SessionID),
		zap.String("white_id", o.White.PlayerID),
		zap.String("black_id", o.Black.PlayerID),
		zap.String("result", string(o.Result)),
		zap.Int("white_delta", ch.WhiteDelta),
		zap.Int("black_delta", ch.BlackDelta),
		zap.Int("white_k", ch.WhiteK),
		zap.Int("black_k", ch.BlackK),
		zap.Bool("white_deferred", res.White.Deferred),
		zap.Bool("black_deferred", res.Black.Deferred),
	)
	return res, errors.Join(res.White.Err, res.Black.Err)
}

// SettleByPlayers loads current profiles as the pre-game ratings and settles.
func (s *Service) SettleByPlayers(ctx context.Context, sessionID, whiteID, blackID string, result domain.Result) (Result, error) {
	whiteID, blackID = strings.TrimSpace(whiteID), strings.TrimSpace(blackID)
	if whiteID == "" || blackID == "" || whiteID == blackID {
		return Result{}, fmt.Errorf("%w: need two distinct players", domain.ErrInvalidOutcome)
	}
	w, err := s.store.EnsureProfile(ctx, whiteID)
	if err != nil {
		return Result{}, fmt.Errorf("load white profile: %w", err)
	}
	b, err := s.store.EnsureProfile(ctx, blackID)
	if err != nil {
		return Result{}, fmt.Errorf("load black profile: %w", err)
	}
	return s.Settle(ctx, domain.GameOutcome{
		SessionID: sessionID,
		White:     domain.Participant{PlayerID: w.PlayerID, Rating: w.Rating, Provisional: w.Provisional},
		Black:     domain.Participant{PlayerID: b.PlayerID, Rating: b.Rating, Provisional: b.Provisional},
		Result:    result,
	})
}

func (s *Service) applySide(ctx context.Context, u ratingstore.Update) SideResult {
	out := SideResult{PlayerID: u.PlayerID, Delta: u.Delta}
	p, err := s.applyWithRetry(ctx, u)
	switch {
	case err == nil:
		out.Profile = p
		s.emitUpdated(ctx, u, p)
	case errors.Is(err, domain.ErrRatingStoreUnavailable):
		out.Deferred = true
		if perr := s.backlog.Push(context.WithoutCancel(ctx), u); perr != nil {
			s.log.Error("rating_backlog_push_failed", zap.String("player_id", u.PlayerID), zap.String("session_id", u.SessionID), zap.Error(perr))
			out.Err = fmt.Errorf("defer rating update for %s: %w", u.PlayerID, perr)
			return out
		}
		s.log.Warn("rating_deferred", zap.String("player_id", u.PlayerID), zap.String("session_id", u.SessionID), zap.Int("delta", u.Delta), zap.Error(err))
	default:
		out.Err = fmt.Errorf("apply rating for %s: %w", u.PlayerID, err)
	}
	return out
}

// applyWithRetry treats an already-recorded update as applied.
func (s *Service) applyWithRetry(ctx context.Context, u ratingstore.Update) (*domain.RatingProfile, error) {
	var lastErr error
	for attempt := 1; attempt <= s.retryMax; attempt++ {
		p, err := s.store.ApplyResult(ctx, u)
		if err == nil {
			return p, nil
		}
		if errors.Is(err, ratingstore.ErrAlreadyApplied) {
			return s.store.GetProfile(ctx, u.PlayerID)
		}
		if !errors.Is(err, domain.ErrRatingStoreUnavailable) {
			return nil, err
		}
		lastErr = err
		if attempt == s.retryMax {
			break
		}
		s.log.Debug("rating_apply_retry", zap.String("player_id", u.PlayerID), zap.Int("attempt", attempt), zap.Error(err))
		if sleepErr := s.sleep(ctx, backoffDuration(s.retryBase, attempt)); sleepErr != nil {
			// still retryable later
			return nil, fmt.Errorf("%w: %w", domain.ErrRatingStoreUnavailable, sleepErr)
		}
	}
	return nil, lastErr
}

func (s *Service) emitUpdated(ctx context.Context, u ratingstore.Update, p *domain.RatingProfile) {
	if p == nil {
		return
	}
	s.notifier.Notify(ctx, notify.Event{
		Kind:        notify.KindRatingUpdated,
		PlayerID:    u.PlayerID,
		SessionID:   u.SessionID,
		OpponentID:  u.OpponentID,
		Rating:      p.Rating,
		RatingDelta: u.Delta,
		At:          time.Now(),
	})
}

// Reconcile replays the backlog once. It stops early, leaving the rest
// queued, as soon as the store is still unavailable. Returns how many
// updates were applied.
func (s *Service) Reconcile(ctx context.Context) (int, error) {
	s.reconcileMu.Lock()
	defer s.reconcileMu.Unlock()

	n, err := s.backlog.Len(ctx)
	if err != nil {
		return 0, fmt.Errorf("backlog len: %w", err)
	}
	applied := 0
	for i := 0; i < n; i++ {
		u, ok, err := s.backlog.Pop(ctx)
		if err != nil {
			return applied, fmt.Errorf("backlog pop: %w", err)
		}
		if !ok {
			break
		}
		p, err := s.store.ApplyResult(ctx, u)
		switch {
		case err == nil:
			applied++
			s.emitUpdated(ctx, u, p)
		case errors.Is(err, ratingstore.ErrAlreadyApplied):
			applied++
		case errors.Is(err, domain.ErrRatingStoreUnavailable):
			if perr := s.backlog.Push(ctx, u); perr != nil {
				return applied, fmt.Errorf("backlog requeue: %w", perr)
			}
			return applied, nil
		default:
			s.log.Error("rating_backlog_drop", zap.String("player_id", u.PlayerID), zap.String("session_id", u.SessionID), zap.Error(err))
		}
	}
	if applied > 0 {
		s.log.Info("rating_reconciled", zap.Int("applied", applied))
	}
	return applied, nil
}

// Run reconciles every interval until ctx is done.
func (s *Service) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if _, err := s.Reconcile(ctx); err != nil && ctx.Err() == nil {
				s.log.Warn("rating_reconcile_failed", zap.Error(err))
			}
		}
	}
}

func (s *Service) Pending(ctx context.Context) (int, error) { return s.backlog.Len(ctx) }

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func backoffDuration(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 6 {
		attempt = 6
	}
	return time.Duration(1<<uint(attempt-1)) * base
}
