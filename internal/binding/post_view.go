// Package binding holds the local subscriber side of post streaming: a PostView observes
// one bot post through a streaming.Registry and keeps the text rendered so far.
package binding

import (
	"context"
	"sync"

	"github.com/welldanyogia/llmbot-stream/internal/streaming"
)

// State is the generation state of a post as observed by a view.
type State string

const (
	StateIdle      State = "idle"
	StateStreaming State = "streaming"
	StateTerminal  State = "terminal"
)

// Snapshot is an immutable copy of a view's state.
type Snapshot struct {
	MessageID streaming.MessageID
	State     State
	Text      string
	// Error holds the backend's message after a generation failed.
	Error string
	// Generation counts generation cycles seen, starting at 1 with the first update.
	Generation int
	// Updates counts applied events across all generations.
	Updates int
}

// Failed reports whether the last generation ended with an error.
func (s Snapshot) Failed() bool {
	return s.State == StateTerminal && s.Error != ""
}

// Subscriber is the part of streaming.Registry a view needs.
type Subscriber interface {
	Subscribe(id streaming.MessageID, cb streaming.Callback) streaming.Handle
	Unsubscribe(h streaming.Handle)
}

// PostView is one rendered instance of a bot post. Several views of the same post
// (a channel and a thread panel, say) are independent subscribers.
type PostView struct {
	mu       sync.Mutex
	snap     Snapshot
	reg      Subscriber
	handle   streaming.Handle
	mounted  bool
	onChange func(Snapshot)
	changed  chan struct{} // closed and replaced on every applied update
}

// ViewOption configures a PostView.
type ViewOption func(*PostView)

// WithOnChange registers a function called with the new snapshot after every applied update.
// It runs on the dispatching goroutine.
func WithOnChange(fn func(Snapshot)) ViewOption {
	return func(v *PostView) {
		v.onChange = fn
	}
}

// WithInitialText seeds the view with the text already stored on the post, for posts
// that are mounted after their generation finished.
func WithInitialText(text string) ViewOption {
	return func(v *PostView) {
		v.snap.Text = text
	}
}

// NewPostView creates an unmounted view of post id.
func NewPostView(id streaming.MessageID, opts ...ViewOption) *PostView {
	v := &PostView{
		snap:    Snapshot{MessageID: id, State: StateIdle},
		changed: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Mount subscribes the view to reg. Mounting a mounted view does nothing.
func (v *PostView) Mount(reg Subscriber) {
	v.mu.Lock()
	if v.mounted {
		v.mu.Unlock()
		return
	}
	v.mounted = true
	v.reg = reg
	id := v.snap.MessageID
	v.mu.Unlock()

	// Subscribing outside the lock keeps a dispatch already in flight from deadlocking on Apply.
	h := reg.Subscribe(id, v.Apply)

	v.mu.Lock()
	if !v.mounted {
		// Unmounted while subscribing.
		v.mu.Unlock()
		reg.Unsubscribe(h)
		return
	}
	v.handle = h
	v.mu.Unlock()
}

// Unmount releases the view's subscription. It is safe to call any number of times.
func (v *PostView) Unmount() {
	v.mu.Lock()
	reg, h := v.reg, v.handle
	v.mounted = false
	v.handle = streaming.Handle{}
	v.reg = nil
	v.mu.Unlock()

	if reg != nil {
		reg.Unsubscribe(h)
	}
}

// Mounted reports whether the view currently holds a subscription.
func (v *PostView) Mounted() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.mounted
}

// Observe mounts the view and unmounts it when ctx is done or release is called,
// whichever happens first.
func (v *PostView) Observe(ctx context.Context, reg Subscriber) (release func()) {
	v.Mount(reg)

	done := make(chan struct{})
	var once sync.Once
	release = func() {
		once.Do(func() {
			close(done)
			v.Unmount()
		})
	}

	go func() {
		select {
		case <-ctx.Done():
			release()
		case <-done:
		}
	}()

	return release
}

// Apply folds one update into the view. It is the view's registry callback.
//
// Content replaces the text (last write wins, so replayed duplicates are harmless).
// Content after a terminal event starts a new generation, as happens on regenerate.
func (v *PostView) Apply(ev streaming.UpdateEvent) {
	if ev.MessageID != v.snap.MessageID {
		return
	}

	v.mu.Lock()
	switch ev.Kind {
	case streaming.KindContent:
		if v.snap.State != StateStreaming {
			v.snap.Generation++
			v.snap.Error = ""
		}
		v.snap.State = StateStreaming
		v.snap.Text = ev.Payload
	case streaming.KindEnd:
		if v.snap.State == StateIdle {
			v.snap.Generation++
		}
		v.snap.State = StateTerminal
		if ev.Payload != "" {
			v.snap.Text = ev.Payload
		}
	case streaming.KindError:
		if v.snap.State == StateIdle {
			v.snap.Generation++
		}
		v.snap.State = StateTerminal
		v.snap.Error = ev.Payload
		if v.snap.Error == "" {
			v.snap.Error = "generation failed"
		}
	default:
		v.mu.Unlock()
		return
	}
	v.snap.Updates++
	snap := v.snap
	onChange := v.onChange
	close(v.changed)
	v.changed = make(chan struct{})
	v.mu.Unlock()

	if onChange != nil {
		onChange(snap)
	}
}

// Snapshot returns the current state of the view.
func (v *PostView) Snapshot() Snapshot {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.snap
}

// Wait blocks until the view reaches the terminal state or ctx is done.
func (v *PostView) Wait(ctx context.Context) (Snapshot, error) {
	for {
		v.mu.Lock()
		snap, changed := v.snap, v.changed
		v.mu.Unlock()

		if snap.State == StateTerminal {
			return snap, nil
		}

		select {
		case <-ctx.Done():
			return snap, ctx.Err()
		case <-changed:
		}
	}
}
