package streaming

import "sync"

type subscription struct {
	seq      uint64
	callback Callback
}

// Registry maps a post to the ordered subscriptions interested in its updates.
// It is safe for concurrent use. Callbacks are never invoked by the registry itself.
type Registry struct {
	mu      sync.Mutex
	subs    map[MessageID][]subscription // messageID -> subscriptions in registration order
	nextSeq uint64
	total   int
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		subs: make(map[MessageID][]subscription),
	}
}

// Subscribe registers callback for updates of id and returns a handle for Unsubscribe.
// Registering the same callback twice creates two independent subscriptions.
func (r *Registry) Subscribe(id MessageID, callback Callback) Handle {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextSeq++
	r.subs[id] = append(r.subs[id], subscription{seq: r.nextSeq, callback: callback})
	r.total++

	return Handle{owner: r, messageID: id, seq: r.nextSeq}
}

// Unsubscribe removes exactly the subscription identified by h.
// Unknown, already removed and zero handles are ignored, as are handles issued by
// another Registry.
func (r *Registry) Unsubscribe(h Handle) {
	if h.IsZero() || h.owner != r {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	subs, exists := r.subs[h.messageID]
	if !exists {
		return
	}

	for i, s := range subs {
		if s.seq != h.seq {
			continue
		}
		// Build a new slice so snapshots handed out earlier never observe the removal.
		remaining := make([]subscription, 0, len(subs)-1)
		remaining = append(remaining, subs[:i]...)
		remaining = append(remaining, subs[i+1:]...)
		r.total--

		if len(remaining) == 0 {
			delete(r.subs, h.messageID)
		} else {
			r.subs[h.messageID] = remaining
		}
		return
	}
}

// ListFor returns a copy of the callbacks currently subscribed to id, in registration order.
func (r *Registry) ListFor(id MessageID) []Callback {
	r.mu.Lock()
	defer r.mu.Unlock()

	subs := r.subs[id]
	if len(subs) == 0 {
		return nil
	}

	callbacks := make([]Callback, len(subs))
	for i, s := range subs {
		callbacks[i] = s.callback
	}
	return callbacks
}

// SubscriberCount returns the number of subscriptions for id.
func (r *Registry) SubscriberCount(id MessageID) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs[id])
}

// TotalSubscribers returns the number of subscriptions across all posts.
func (r *Registry) TotalSubscribers() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.total
}

// MessageCount returns the number of posts with at least one subscription.
func (r *Registry) MessageCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}
