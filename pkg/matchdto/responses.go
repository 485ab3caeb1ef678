package matchdto

import "time"

type RatingRange struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

type SearchStatus struct {
	RequestID      string      `json:"request_id"`
	PlayerID       string      `json:"player_id"`
	TimeControl    string      `json:"time_control"`
	Category       string      `json:"category"`
	State          string      `json:"state"`
	BaseRating     int         `json:"base_rating"`
	ElapsedSeconds int         `json:"elapsed_seconds"`
	RatingRange    RatingRange `json:"rating_range"`
	OpponentID     string      `json:"opponent_id,omitempty"`
	SessionID      string      `json:"session_id,omitempty"`
	Failure        string      `json:"failure,omitempty"`
	EnqueuedAt     time.Time   `json:"enqueued_at"`
}

type QueueEntry struct {
	PlayerID    string      `json:"player_id"`
	Rating      int         `json:"rating"`
	RatingRange RatingRange `json:"rating_range"`
	EnqueuedAt  time.Time   `json:"enqueued_at"`
}

type QueueStatus struct {
	TimeControl string       `json:"time_control"`
	Category    string       `json:"category"`
	Waiting     int          `json:"waiting"`
	Entries     []QueueEntry `json:"entries"`
}

type Profile struct {
	PlayerID    string    `json:"player_id"`
	Rating      int       `json:"rating"`
	GamesPlayed int       `json:"games_played"`
	Provisional bool      `json:"provisional"`
	Wins        int       `json:"wins"`
	Losses      int       `json:"losses"`
	Draws       int       `json:"draws"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type HistoryEntry struct {
	SessionID    string    `json:"session_id,omitempty"`
	OpponentID   string    `json:"opponent_id,omitempty"`
	RatingBefore int       `json:"rating_before"`
	RatingAfter  int       `json:"rating_after"`
	Delta        int       `json:"delta"`
	Score        float64   `json:"score"`
	At           time.Time `json:"at"`
}

type ProfileResponse struct {
	Profile Profile        `json:"profile"`
	Recent  []HistoryEntry `json:"recent"`
}

type SideResult struct {
	PlayerID string `json:"player_id"`
	Delta    int    `json:"delta"`
	Rating   *int   `json:"rating,omitempty"`
	Deferred bool   `json:"deferred"`
}

type ResultResponse struct {
	SessionID string     `json:"session_id"`
	Result    string     `json:"result"`
	White     SideResult `json:"white"`
	Black     SideResult `json:"black"`
}
