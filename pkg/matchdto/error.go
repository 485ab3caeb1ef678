package matchdto

// DomainError is the error body returned by the API.
type DomainError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

func (e DomainError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Code != "" {
		return e.Code
	}
	return "matchmaking service error"
}

type ErrorResponse struct {
	Error DomainError `json:"error"`
}
