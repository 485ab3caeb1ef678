package notify

import (
	"context"
	"sort"
	"strconv"

	"github.com/park285/wagerchess-core/internal/obslog"
	"go.uber.org/zap"
)

// Renderer produces user-facing text for a catalog key.
type Renderer interface {
	Render(key string, data any) (string, error)
}

var messageKeys = map[Kind]string{
	KindSearching:     "match.searching",
	KindMatchFound:    "match.found",
	KindTimeout:       "match.timeout",
	KindCancelled:     "match.cancelled",
	KindMatchFailed:   "match.failed",
	KindRatingUpdated: "rating.updated",
}

// MessageKeys lists the catalog keys WithMessages renders.
func MessageKeys() []string {
	out := make([]string, 0, len(messageKeys))
	for _, k := range messageKeys {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

type withMessages struct {
	r    Renderer
	next Notifier
}

// WithMessages fills Event.Message from r before passing the event on.
// Events that already carry a message are left alone.
func WithMessages(r Renderer, next Notifier) Notifier {
	if r == nil {
		return next
	}
	return withMessages{r: r, next: next}
}

func (w withMessages) Notify(ctx context.Context, ev Event) {
	if ev.Message == "" {
		if key, ok := messageKeys[ev.Kind]; ok {
			msg, err := w.r.Render(key, templateData(ev))
			if err != nil {
				obslog.L().Warn("notify_render_failed", zap.String("key", key), zap.Error(err))
			} else {
				ev.Message = msg
			}
		}
	}
	w.next.Notify(ctx, ev)
}

func templateData(ev Event) map[string]any {
	d := map[string]any{
		"PlayerID":       ev.PlayerID,
		"ElapsedSeconds": ev.ElapsedSeconds,
		"SessionID":      ev.SessionID,
		"OpponentID":     ev.OpponentID,
		"TimeControl":    ev.TimeControl,
		"Rating":         ev.Rating,
		"Delta":          signed(ev.RatingDelta),
		"Min":            0,
		"Max":            0,
	}
	if ev.RatingRange != nil {
		d["Min"] = ev.RatingRange.Min
		d["Max"] = ev.RatingRange.Max
	}
	return d
}

func signed(n int) string {
	if n > 0 {
		return "+" + strconv.Itoa(n)
	}
	return strconv.Itoa(n)
}
