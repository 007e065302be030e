// Package streaming routes incremental bot post updates to the live subscribers of each post.
//
// A Registry holds, per post, the ordered set of callbacks currently interested in that
// post. A Dispatcher decodes raw post update payloads coming off the platform connection
// and delivers each one to a snapshot of the post's subscribers, isolating subscriber
// failures from each other.
package streaming

// MessageID identifies a chat post. It stays stable for the lifetime of a generation and
// is reused when the post is regenerated.
type MessageID string

// Kind is the kind of a post update.
type Kind string

const (
	// KindContent carries the full text generated so far.
	KindContent Kind = "content"
	// KindEnd marks the end of a generation.
	KindEnd Kind = "end"
	// KindError marks a generation aborted by the backend.
	KindError Kind = "error"
)

// Terminal reports whether no further updates are expected for the current generation.
func (k Kind) Terminal() bool {
	return k == KindEnd || k == KindError
}

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindContent, KindEnd, KindError:
		return true
	}
	return false
}

// UpdateEvent is a decoded post update.
type UpdateEvent struct {
	MessageID MessageID `json:"message_id"`
	Kind      Kind      `json:"kind"`
	// Payload is the full current text for content updates, never a delta.
	// It may be empty for end and error.
	Payload string `json:"payload"`
}

// Callback receives post updates. It must not block for long: it runs on the
// goroutine that feeds the dispatcher.
type Callback func(UpdateEvent)

// Handle identifies one subscription. The zero Handle identifies nothing.
type Handle struct {
	owner     *Registry
	messageID MessageID
	seq       uint64
}

// MessageID returns the post the handle subscribes to.
func (h Handle) MessageID() MessageID {
	return h.messageID
}

// IsZero reports whether h is the zero Handle.
func (h Handle) IsZero() bool {
	return h.seq == 0
}
