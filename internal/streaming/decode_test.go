package streaming

import (
	"encoding/json"
	"errors"
	"testing"

	"pgregory.net/rapid"
)

func TestDecodePostUpdate(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want UpdateEvent
	}{
		{
			name: "content",
			raw:  `{"post_id":"p1","next":"Hello"}`,
			want: UpdateEvent{MessageID: "p1", Kind: KindContent, Payload: "Hello"},
		},
		{
			name: "empty content",
			raw:  `{"post_id":"p1","next":""}`,
			want: UpdateEvent{MessageID: "p1", Kind: KindContent},
		},
		{
			name: "end",
			raw:  `{"post_id":"p1","next":"Hello world","control":"end"}`,
			want: UpdateEvent{MessageID: "p1", Kind: KindEnd, Payload: "Hello world"},
		},
		{
			name: "cancel is an end",
			raw:  `{"post_id":"p1","control":"cancel"}`,
			want: UpdateEvent{MessageID: "p1", Kind: KindEnd},
		},
		{
			name: "error with message",
			raw:  `{"post_id":"p1","control":"error","error":"rate limited"}`,
			want: UpdateEvent{MessageID: "p1", Kind: KindError, Payload: "rate limited"},
		},
		{
			name: "error falls back to next",
			raw:  `{"post_id":"p1","control":"error","next":"partial"}`,
			want: UpdateEvent{MessageID: "p1", Kind: KindError, Payload: "partial"},
		},
		{
			name: "post id is kept verbatim",
			raw:  `{"post_id":" p1 ","next":"x"}`,
			want: UpdateEvent{MessageID: " p1 ", Kind: KindContent, Payload: "x"},
		},
		{
			name: "unknown fields are ignored",
			raw:  `{"post_id":"p1","next":"x","channel_id":"c1"}`,
			want: UpdateEvent{MessageID: "p1", Kind: KindContent, Payload: "x"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodePostUpdate(json.RawMessage(tt.raw))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %+v, got %+v", tt.want, got)
			}
		})
	}
}

func TestDecodePostUpdate_Malformed(t *testing.T) {
	inputs := []string{
		``,
		`   `,
		`null`,
		`true`,
		`"p1"`,
		`[{"post_id":"p1"}]`,
		`{"post_id":`,
		`{}`,
		`{"post_id":""}`,
		`{"post_id":"  "}`,
		`{"post_id":7}`,
		`{"post_id":"p1","control":"pause"}`,
	}

	for _, in := range inputs {
		_, err := DecodePostUpdate(json.RawMessage(in))
		if !errors.Is(err, ErrMalformedEvent) {
			t.Errorf("input %q: expected ErrMalformedEvent, got %v", in, err)
		}
	}
}

func TestDispatcher_PaddedPostIDDoesNotReachTrimmedSubscribers(t *testing.T) {
	reg := NewRegistry()
	var got []UpdateEvent
	reg.Subscribe("p1", func(ev UpdateEvent) { got = append(got, ev) })

	NewDispatcher(reg).HandleIncoming(json.RawMessage(`{"post_id":" p1 ","next":"x"}`))

	if len(got) != 0 {
		t.Errorf("expected no delivery to p1, got %+v", got)
	}
}

func TestEncodePostUpdate_UnknownKind(t *testing.T) {
	_, err := EncodePostUpdate(UpdateEvent{MessageID: "p1", Kind: "partial"})
	if !errors.Is(err, ErrMalformedEvent) {
		t.Errorf("expected ErrMalformedEvent, got %v", err)
	}
}

// Anything a producer encodes decodes back to the same event.
func TestDecodePostUpdate_AcceptsEncodedEvents(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		ev := UpdateEvent{
			MessageID: MessageID(rapid.StringMatching(`[a-z0-9]{26}`).Draw(t, "id")),
			Kind:      rapid.SampledFrom([]Kind{KindContent, KindEnd, KindError}).Draw(t, "kind"),
			Payload:   rapid.String().Draw(t, "payload"),
		}

		raw, err := EncodePostUpdate(ev)
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		got, err := DecodePostUpdate(raw)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if got != ev {
			t.Fatalf("expected %+v, got %+v", ev, got)
		}
	})
}
