package ratingstore

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/park285/wagerchess-core/internal/domain"
)

// memstore keeps everything in process. Used when DATABASE_URL is unset.
type memstore struct {
	mu sync.RWMutex

	nextID   int64
	profiles map[string]*domain.RatingProfile
	history  map[string][]HistoryEntry // playerID -> entries, latest last
	applied  map[string]struct{}       // sessionID|playerID

	now func() time.Time
}

func NewMemory() Store {
	return &memstore{
		profiles: make(map[string]*domain.RatingProfile),
		history:  make(map[string][]HistoryEntry),
		applied:  make(map[string]struct{}),
		now:      time.Now,
	}
}

func (m *memstore) GetProfile(_ context.Context, playerID string) (*domain.RatingProfile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.profiles[strings.TrimSpace(playerID)]
	if !ok {
		return nil, domain.ErrPlayerNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *memstore) EnsureProfile(_ context.Context, playerID string) (*domain.RatingProfile, error) {
	playerID = strings.TrimSpace(playerID)
	if playerID == "" {
		return nil, domain.ErrPlayerNotFound
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *m.profileLocked(playerID)
	return &cp, nil
}

func (m *memstore) profileLocked(playerID string) *domain.RatingProfile {
	p, ok := m.profiles[playerID]
	if !ok {
		p = domain.NewProfile(playerID, m.now())
		m.profiles[playerID] = p
	}
	return p
}

func (m *memstore) ApplyDelta(_ context.Context, playerID string, delta int) (*domain.RatingProfile, error) {
	return m.apply(Update{PlayerID: playerID, Delta: delta}, false)
}

func (m *memstore) ApplyResult(_ context.Context, u Update) (*domain.RatingProfile, error) {
	return m.apply(u, true)
}

func (m *memstore) apply(u Update, counted bool) (*domain.RatingProfile, error) {
	u.PlayerID = strings.TrimSpace(u.PlayerID)
	if u.PlayerID == "" {
		return nil, domain.ErrPlayerNotFound
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	key := ""
	if u.SessionID != "" {
		key = u.SessionID + "|" + u.PlayerID
		if _, dup := m.applied[key]; dup {
			return nil, ErrAlreadyApplied
		}
	}
	p := m.profileLocked(u.PlayerID)
	before := p.Rating
	now := m.now()
	if counted {
		p.Apply(u.Delta, u.Score, now)
	} else {
		p.ApplyRating(u.Delta, now)
	}
	if key != "" {
		m.applied[key] = struct{}{}
	}
	m.nextID++
	m.history[u.PlayerID] = append(m.history[u.PlayerID], HistoryEntry{
		ID:           m.nextID,
		PlayerID:     u.PlayerID,
		SessionID:    u.SessionID,
		OpponentID:   u.OpponentID,
		RatingBefore: before,
		RatingAfter:  p.Rating,
		Delta:        p.Rating - before,
		Score:        u.Score,
		CreatedAt:    now,
	})
	cp := *p
	return &cp, nil
}

func (m *memstore) RecentHistory(_ context.Context, playerID string, limit int) ([]HistoryEntry, error) {
	if limit <= 0 {
		limit = 10
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	list := m.history[strings.TrimSpace(playerID)]
	out := make([]HistoryEntry, 0, min(limit, len(list)))
	for i := len(list) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, list[i])
	}
	return out, nil
}
