package matchmaking

import (
	"sync"
	"time"

	"github.com/park285/wagerchess-core/internal/domain"
)

type State string

const (
	StateIdle      State = "idle"
	StateSearching State = "searching"
	StateFound     State = "found"
	StateTimeout   State = "timeout"
	StateCancelled State = "cancelled"
)

// Terminal states are entered once and never left.
func (s State) Terminal() bool {
	return s == StateFound || s == StateTimeout || s == StateCancelled
}

// Snapshot is a point-in-time copy of a search.
type Snapshot struct {
	RequestID      string             `json:"request_id"`
	PlayerID       string             `json:"player_id"`
	TimeControl    domain.TimeControl `json:"time_control"`
	State          State              `json:"state"`
	BaseRating     int                `json:"base_rating"`
	ElapsedSeconds int                `json:"elapsed_seconds"`
	Range          domain.RatingRange `json:"rating_range"`
	EnqueuedAt     time.Time          `json:"enqueued_at"`
	OpponentID     string             `json:"opponent_id,omitempty"`
	SessionID      string             `json:"session_id,omitempty"`
	Failure        string             `json:"failure,omitempty"`
}

type key struct {
	playerID string
	tc       domain.TimeControl
}

// session owns one request's lifecycle. All fields below mu are guarded by it;
// ticker and timer are set before the scheduler goroutine starts.
type session struct {
	req    domain.MatchRequest
	ticker Ticker
	timer  Timer
	stop   chan struct{}
	once   sync.Once

	mu         sync.Mutex
	state      State
	elapsed    int
	rng        domain.RatingRange
	opponentID string
	sessionID  string
	failure    string
}

func newSession(req domain.MatchRequest) *session {
	return &session{req: req, state: StateSearching, rng: req.Range, stop: make(chan struct{})}
}

func (s *session) snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *session) snapshotLocked() Snapshot {
	return Snapshot{
		RequestID:      s.req.ID,
		PlayerID:       s.req.PlayerID,
		TimeControl:    s.req.TimeControl,
		State:          s.state,
		BaseRating:     s.req.BaseRating,
		ElapsedSeconds: s.elapsed,
		Range:          s.rng,
		EnqueuedAt:     s.req.EnqueuedAt,
		OpponentID:     s.opponentID,
		SessionID:      s.sessionID,
		Failure:        s.failure,
	}
}

// transition moves a searching session to a terminal state. It reports false
// when the session already left searching.
func (s *session) transition(to State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateSearching {
		return false
	}
	s.state = to
	return true
}

func (s *session) terminal() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Terminal()
}

// halt stops the scheduler for good. Safe to call more than once.
func (s *session) halt() {
	s.once.Do(func() {
		close(s.stop)
		if s.ticker != nil {
			s.ticker.Stop()
		}
		if s.timer != nil {
			s.timer.Stop()
		}
	})
}
