package matchdto

type SubmitRequest struct {
	TimeControl string `json:"time_control"`
}

// ResultRequest reports a finished game. With a known session id the players
// and their pre-game ratings come from the stored session; otherwise WhiteID
// and BlackID are required.
type ResultRequest struct {
	SessionID string `json:"session_id"`
	WhiteID   string `json:"white_id,omitempty"`
	BlackID   string `json:"black_id,omitempty"`
	Result    string `json:"result"`
}
