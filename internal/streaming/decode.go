package streaming

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/welldanyogia/llmbot-stream/internal/events"
)

// ErrMalformedEvent is returned for raw events that cannot be routed to a post.
var ErrMalformedEvent = errors.New("malformed post update event")

// DecodeFunc turns a raw transport payload into an UpdateEvent.
type DecodeFunc func(raw json.RawMessage) (UpdateEvent, error)

// DecodePostUpdate decodes the data of a platform post update event.
//
// A missing control means more content; "end" and "cancel" finish the generation
// (cancel is what the platform sends after a user stops it); "error" aborts it.
func DecodePostUpdate(raw json.RawMessage) (UpdateEvent, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return UpdateEvent{}, fmt.Errorf("%w: payload is not an object", ErrMalformedEvent)
	}

	var update events.PostUpdate
	if err := json.Unmarshal(trimmed, &update); err != nil {
		return UpdateEvent{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	// Post ids are opaque: a blank id is rejected, anything else is routed verbatim.
	if strings.TrimSpace(update.PostID) == "" {
		return UpdateEvent{}, fmt.Errorf("%w: missing post_id", ErrMalformedEvent)
	}

	ev := UpdateEvent{MessageID: MessageID(update.PostID)}
	switch update.Control {
	case events.ControlNone:
		ev.Kind = KindContent
		ev.Payload = update.Next
	case events.ControlEnd, events.ControlCancel:
		ev.Kind = KindEnd
		ev.Payload = update.Next
	case events.ControlError:
		ev.Kind = KindError
		ev.Payload = update.Error
		if ev.Payload == "" {
			ev.Payload = update.Next
		}
	default:
		return UpdateEvent{}, fmt.Errorf("%w: unknown control %q", ErrMalformedEvent, update.Control)
	}

	return ev, nil
}

// EncodePostUpdate is the inverse of DecodePostUpdate: it renders an update in the
// platform's wire shape.
func EncodePostUpdate(ev UpdateEvent) (json.RawMessage, error) {
	update := events.PostUpdate{PostID: string(ev.MessageID)}
	switch ev.Kind {
	case KindContent:
		update.Next = ev.Payload
	case KindEnd:
		update.Control = events.ControlEnd
		update.Next = ev.Payload
	case KindError:
		update.Control = events.ControlError
		update.Error = ev.Payload
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrMalformedEvent, ev.Kind)
	}
	return json.Marshal(update)
}
