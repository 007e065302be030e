// Package transport connects the relay to the places post update events come from.
package transport

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/welldanyogia/llmbot-stream/internal/events"
)

// Source is an upstream producer of platform event envelopes.
type Source interface {
	// Run blocks, delivering envelopes to registered handlers until ctx is done.
	Run(ctx context.Context) error
	Connected() bool
}

// HandlerFunc receives the data of one envelope. Handlers run on the source's
// read goroutine, one at a time, in arrival order.
type HandlerFunc func(data json.RawMessage)

// router maps event names to handlers.
type router struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

// Handle registers fn for event, replacing any previous handler.
func (r *router) Handle(event string, fn HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.handlers == nil {
		r.handlers = make(map[string]HandlerFunc)
	}
	r.handlers[event] = fn
}

// route delivers env to its handler and reports whether one was registered.
func (r *router) route(env events.Envelope) bool {
	r.mu.RLock()
	fn, ok := r.handlers[env.Event]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	fn(env.Data)
	return true
}

// backoff produces capped exponential delays.
type backoff struct {
	min, max time.Duration
	next     time.Duration
}

func newBackoff(min, max time.Duration) *backoff {
	if min <= 0 {
		min = time.Second
	}
	if max < min {
		max = min
	}
	return &backoff{min: min, max: max, next: min}
}

func (b *backoff) Next() time.Duration {
	d := b.next
	b.next *= 2
	if b.next > b.max {
		b.next = b.max
	}
	return d
}

func (b *backoff) Reset() {
	b.next = b.min
}

// sleep waits for d or until ctx is done, reporting whether the full delay elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func componentLogger(logger *slog.Logger, name string) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return logger.With(slog.String("component", name))
}
