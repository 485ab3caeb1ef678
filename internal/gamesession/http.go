package gamesession

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/park285/wagerchess-core/internal/domain"
	"github.com/valyala/fasthttp"
)

type HTTPOption func(*HTTPFactory)

func WithTimeout(d time.Duration) HTTPOption {
	return func(f *HTTPFactory) { f.defaultTimeout = d }
}

func WithRetry(max int) HTTPOption {
	return func(f *HTTPFactory) { f.retryMax = max }
}

// WithDial replaces the dialer, e.g. with an in-memory listener in tests.
func WithDial(d fasthttp.DialFunc) HTTPOption {
	return func(f *HTTPFactory) { f.http.Dial = d }
}

func WithHeader(k, v string) HTTPOption {
	return func(f *HTTPFactory) { f.headers[k] = v }
}

// HTTPFactory asks an external game service to create sessions.
type HTTPFactory struct {
	baseURL string
	http    *fasthttp.Client
	headers map[string]string

	defaultTimeout time.Duration
	retryMax       int
}

type createRequest struct {
	PlayerA     string `json:"player_a"`
	PlayerB     string `json:"player_b"`
	TimeControl string `json:"time_control"`
	Category    string `json:"category"`
}

type createResponse struct {
	SessionID string `json:"session_id"`
}

func NewHTTPFactory(baseURL string, opts ...HTTPOption) *HTTPFactory {
	f := &HTTPFactory{
		baseURL:        strings.TrimRight(baseURL, "/"),
		http:           &fasthttp.Client{ReadTimeout: 10 * time.Second, WriteTimeout: 10 * time.Second, MaxConnsPerHost: 64},
		headers:        map[string]string{},
		defaultTimeout: 10 * time.Second,
		retryMax:       3,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *HTTPFactory) CreateSession(ctx context.Context, playerA, playerB string, tc domain.TimeControl) (string, error) {
	in := createRequest{PlayerA: playerA, PlayerB: playerB, TimeControl: tc.String(), Category: string(tc.Category())}
	var out createResponse
	if err := f.doJSON(ctx, fasthttp.MethodPost, "/sessions", in, &out); err != nil {
		return "", err
	}
	if strings.TrimSpace(out.SessionID) == "" {
		return "", errors.New("game service returned empty session id")
	}
	return out.SessionID, nil
}

func (f *HTTPFactory) doJSON(ctx context.Context, method, path string, in any, out any) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.Header.SetMethod(method)
	req.SetRequestURI(f.baseURL + path)
	req.Header.SetContentType("application/json")
	for k, v := range f.headers {
		if strings.TrimSpace(k) != "" && strings.TrimSpace(v) != "" {
			req.Header.Set(k, v)
		}
	}
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		req.SetBody(payload)
	}

	attempts := f.retryMax
	if attempts <= 0 {
		attempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := f.http.DoDeadline(req, resp, f.computeDeadline(ctx)); err != nil {
			lastErr = fmt.Errorf("request failed: %w", err)
			if attempt == attempts {
				return lastErr
			}
			if sleepErr := sleepWithContext(ctx, backoffDuration(attempt)); sleepErr != nil {
				return lastErr
			}
			continue
		}

		status := resp.StatusCode()
		if status < 200 || status >= 300 {
			err := fmt.Errorf("game service error: status=%d body=%s", status, truncate(string(resp.Body()), 512))
			if attempt == attempts || !shouldRetryStatus(status) {
				return err
			}
			lastErr = err
			if sleepErr := sleepWithContext(ctx, backoffDuration(attempt)); sleepErr != nil {
				return lastErr
			}
			continue
		}

		if out != nil {
			if err := json.Unmarshal(resp.Body(), out); err != nil {
				return fmt.Errorf("decode response: %w", err)
			}
		}
		return nil
	}
	if lastErr == nil {
		lastErr = errors.New("unknown error")
	}
	return lastErr
}

func (f *HTTPFactory) computeDeadline(ctx context.Context) time.Time {
	clientDL := time.Now().Add(f.defaultTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(clientDL) {
		return dl
	}
	return clientDL
}

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

func backoffDuration(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 6 {
		attempt = 6
	}
	return time.Duration(1<<uint(attempt-1)) * 100 * time.Millisecond
}

func shouldRetryStatus(code int) bool {
	switch code {
	case 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
