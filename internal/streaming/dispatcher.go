package streaming

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/welldanyogia/llmbot-stream/internal/metrics"
)

// Dispatcher delivers decoded post updates to the subscribers held in a Registry.
//
// HandleIncoming must be called from a single goroutine per upstream source; events for a
// post reach its subscribers in exactly the order they were handed in. The dispatcher keeps
// no per-post state and never unsubscribes anyone, terminal events included.
type Dispatcher struct {
	registry *Registry
	decode   DecodeFunc
	logger   *slog.Logger
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger used for dropped events and failing callbacks.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithDecoder replaces DecodePostUpdate.
func WithDecoder(decode DecodeFunc) Option {
	return func(d *Dispatcher) {
		if decode != nil {
			d.decode = decode
		}
	}
}

// NewDispatcher creates a Dispatcher reading subscribers from registry.
func NewDispatcher(registry *Registry, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		registry: registry,
		decode:   DecodePostUpdate,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With(slog.String("component", "dispatcher"))
	return d
}

// HandleIncoming decodes one raw post update and dispatches it.
// Malformed events are dropped; nothing escapes to the caller.
func (d *Dispatcher) HandleIncoming(raw json.RawMessage) {
	ev, err := d.safeDecode(raw)
	if err != nil {
		metrics.StreamDecodeFailures.Inc()
		d.logger.Debug("dropping undecodable post update",
			slog.String("error", err.Error()),
			slog.Int("size", len(raw)),
		)
		return
	}

	d.Dispatch(ev)
}

// Dispatch delivers ev to every callback subscribed to ev.MessageID when the call starts,
// in registration order, and returns how many callbacks were invoked.
// Subscriptions added or removed by a callback take effect from the next event on.
func (d *Dispatcher) Dispatch(ev UpdateEvent) int {
	callbacks := d.registry.ListFor(ev.MessageID)
	if len(callbacks) == 0 {
		metrics.StreamEventsUnrouted.Inc()
		return 0
	}

	metrics.StreamEventsDispatched.WithLabelValues(string(ev.Kind)).Inc()

	for i, cb := range callbacks {
		d.invoke(i, cb, ev)
	}
	return len(callbacks)
}

// invoke runs one callback behind its own recover boundary.
func (d *Dispatcher) invoke(position int, cb Callback, ev UpdateEvent) {
	defer func() {
		if r := recover(); r != nil {
			metrics.StreamCallbackPanics.Inc()
			d.logger.Warn("subscriber callback panicked",
				slog.String("message_id", string(ev.MessageID)),
				slog.String("kind", string(ev.Kind)),
				slog.Int("position", position),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
		}
	}()

	cb(ev)
}

// safeDecode guards against decoders that panic on hostile input.
func (d *Dispatcher) safeDecode(raw json.RawMessage) (ev UpdateEvent, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: decoder panicked: %v", ErrMalformedEvent, r)
		}
	}()

	ev, err = d.decode(raw)
	if err != nil {
		return UpdateEvent{}, err
	}
	if ev.MessageID == "" {
		return UpdateEvent{}, fmt.Errorf("%w: missing message id", ErrMalformedEvent)
	}
	if !ev.Kind.Valid() {
		return UpdateEvent{}, fmt.Errorf("%w: unknown kind %q", ErrMalformedEvent, ev.Kind)
	}
	return ev, nil
}
