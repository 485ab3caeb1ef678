package notify

import (
	"context"
	"sync"

	"github.com/park285/wagerchess-core/internal/obslog"
	"go.uber.org/zap"
)

// AsyncNotifier hands events to a single worker goroutine so a slow sink
// (network publish) never blocks the caller. Events are dropped when the
// buffer is full.
type AsyncNotifier struct {
	next   Notifier
	ch     chan Event
	done   chan struct{}
	once   sync.Once
	closed chan struct{}
	mu     sync.RWMutex
}

func Async(next Notifier, buffer int) *AsyncNotifier {
	if buffer <= 0 {
		buffer = 256
	}
	a := &AsyncNotifier{next: next, ch: make(chan Event, buffer), done: make(chan struct{}), closed: make(chan struct{})}
	go a.loop()
	return a
}

func (a *AsyncNotifier) loop() {
	defer close(a.done)
	for ev := range a.ch {
		a.next.Notify(context.Background(), ev)
	}
}

func (a *AsyncNotifier) Notify(_ context.Context, ev Event) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	select {
	case <-a.closed:
		return
	default:
	}
	select {
	case a.ch <- ev:
	default:
		obslog.L().Warn("notify_async_drop", zap.String("player_id", ev.PlayerID), zap.String("kind", string(ev.Kind)))
	}
}

// Close stops accepting events and waits until queued ones are delivered.
func (a *AsyncNotifier) Close() {
	a.once.Do(func() {
		a.mu.Lock()
		close(a.closed)
		close(a.ch)
		a.mu.Unlock()
	})
	<-a.done
}
