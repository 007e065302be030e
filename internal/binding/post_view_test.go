package binding

import (
	"context"
	"testing"
	"time"

	"github.com/welldanyogia/llmbot-stream/internal/streaming"
	"pgregory.net/rapid"
)

func content(id streaming.MessageID, text string) streaming.UpdateEvent {
	return streaming.UpdateEvent{MessageID: id, Kind: streaming.KindContent, Payload: text}
}

func TestPostView_StreamLifecycle(t *testing.T) {
	reg := streaming.NewRegistry()
	d := streaming.NewDispatcher(reg)

	view := NewPostView("p1")
	view.Mount(reg)
	defer view.Unmount()

	if s := view.Snapshot(); s.State != StateIdle || s.Generation != 0 {
		t.Fatalf("expected idle view, got %+v", s)
	}

	d.Dispatch(content("p1", "Hel"))
	d.Dispatch(content("p1", "Hello"))
	s := view.Snapshot()
	if s.State != StateStreaming || s.Text != "Hello" || s.Generation != 1 {
		t.Fatalf("expected streaming Hello in generation 1, got %+v", s)
	}

	d.Dispatch(streaming.UpdateEvent{MessageID: "p1", Kind: streaming.KindEnd})
	s = view.Snapshot()
	if s.State != StateTerminal || s.Text != "Hello" || s.Failed() {
		t.Fatalf("expected terminal Hello, got %+v", s)
	}
	if s.Updates != 3 {
		t.Errorf("expected 3 updates, got %d", s.Updates)
	}
}

func TestPostView_RegenerateStartsNewGeneration(t *testing.T) {
	view := NewPostView("p1")

	view.Apply(content("p1", "first"))
	view.Apply(streaming.UpdateEvent{MessageID: "p1", Kind: streaming.KindError, Payload: "timeout"})
	if s := view.Snapshot(); !s.Failed() || s.Error != "timeout" {
		t.Fatalf("expected failed view, got %+v", s)
	}

	view.Apply(content("p1", "Sec"))
	s := view.Snapshot()
	if s.State != StateStreaming || s.Text != "Sec" || s.Error != "" || s.Generation != 2 {
		t.Fatalf("expected fresh generation 2, got %+v", s)
	}
}

func TestPostView_DuplicateContentIsIdempotent(t *testing.T) {
	view := NewPostView("p1")

	view.Apply(content("p1", "Hello"))
	view.Apply(content("p1", "Hello"))
	view.Apply(content("p1", "Hello"))

	s := view.Snapshot()
	if s.Text != "Hello" || s.Generation != 1 {
		t.Errorf("expected Hello in generation 1, got %+v", s)
	}
}

func TestPostView_EndPayloadReplacesText(t *testing.T) {
	view := NewPostView("p1", WithInitialText("stale"))

	view.Apply(streaming.UpdateEvent{MessageID: "p1", Kind: streaming.KindEnd, Payload: "final"})
	if s := view.Snapshot(); s.Text != "final" || s.Generation != 1 {
		t.Errorf("expected final text, got %+v", s)
	}
}

func TestPostView_IgnoresOtherPosts(t *testing.T) {
	view := NewPostView("p1")
	view.Apply(content("p2", "not mine"))

	if s := view.Snapshot(); s.Updates != 0 || s.Text != "" {
		t.Errorf("expected untouched view, got %+v", s)
	}
}

func TestPostView_MountUnmountIdempotent(t *testing.T) {
	reg := streaming.NewRegistry()
	view := NewPostView("p1")

	view.Mount(reg)
	view.Mount(reg)
	if reg.SubscriberCount("p1") != 1 {
		t.Fatalf("expected a single subscription, got %d", reg.SubscriberCount("p1"))
	}

	view.Unmount()
	view.Unmount()
	if reg.SubscriberCount("p1") != 0 || view.Mounted() {
		t.Errorf("expected view to be released")
	}
	if reg.MessageCount() != 0 {
		t.Errorf("expected registry entry to be pruned")
	}
}

func TestPostView_TwoViewsOfSamePost(t *testing.T) {
	reg := streaming.NewRegistry()
	d := streaming.NewDispatcher(reg)

	channelView := NewPostView("p1")
	threadView := NewPostView("p1")
	channelView.Mount(reg)
	threadView.Mount(reg)

	d.Dispatch(content("p1", "shared"))
	threadView.Unmount()
	d.Dispatch(content("p1", "shared text"))

	if got := channelView.Snapshot().Text; got != "shared text" {
		t.Errorf("channel view: expected latest text, got %q", got)
	}
	if got := threadView.Snapshot().Text; got != "shared" {
		t.Errorf("thread view: expected text frozen at unmount, got %q", got)
	}
	channelView.Unmount()
}

func TestPostView_OnChange(t *testing.T) {
	var seen []Snapshot
	view := NewPostView("p1", WithOnChange(func(s Snapshot) { seen = append(seen, s) }))

	view.Apply(content("p1", "a"))
	view.Apply(content("p1", "ab"))

	if len(seen) != 2 || seen[1].Text != "ab" {
		t.Errorf("expected two change notifications ending in ab, got %+v", seen)
	}
}

func TestPostView_ObserveReleasesOnContextCancel(t *testing.T) {
	reg := streaming.NewRegistry()
	view := NewPostView("p1")

	ctx, cancel := context.WithCancel(context.Background())
	release := view.Observe(ctx, reg)
	if reg.SubscriberCount("p1") != 1 {
		t.Fatalf("expected subscription while observing")
	}

	cancel()
	deadline := time.Now().Add(time.Second)
	for reg.SubscriberCount("p1") != 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if reg.SubscriberCount("p1") != 0 {
		t.Fatal("expected subscription to be released after cancel")
	}

	release()
	release()
}

func TestPostView_ObserveReleasesOnErrorPath(t *testing.T) {
	reg := streaming.NewRegistry()

	watch := func() (err error) {
		view := NewPostView("p1")
		release := view.Observe(context.Background(), reg)
		defer release()
		return context.DeadlineExceeded
	}

	if err := watch(); err == nil {
		t.Fatal("expected error")
	}
	if reg.SubscriberCount("p1") != 0 {
		t.Errorf("expected release on error return, still %d subscribers", reg.SubscriberCount("p1"))
	}
}

func TestPostView_Wait(t *testing.T) {
	view := NewPostView("p1")

	go func() {
		view.Apply(content("p1", "partial"))
		time.Sleep(5 * time.Millisecond)
		view.Apply(streaming.UpdateEvent{MessageID: "p1", Kind: streaming.KindEnd, Payload: "done"})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s, err := view.Wait(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Text != "done" {
		t.Errorf("expected done, got %q", s.Text)
	}
}

func TestPostView_WaitHonoursContext(t *testing.T) {
	view := NewPostView("p1")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := view.Wait(ctx); err != context.DeadlineExceeded {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

// Whatever order updates arrive in, the view shows the payload of the last content or end
// event, and the generation count equals the number of streams started.
func TestPostView_LastWriteWins(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		view := NewPostView("p1")
		kinds := []streaming.Kind{streaming.KindContent, streaming.KindEnd, streaming.KindError}

		wantText := ""
		wantGen := 0
		state := StateIdle
		n := rapid.IntRange(1, 40).Draw(t, "n")
		for i := 0; i < n; i++ {
			ev := streaming.UpdateEvent{
				MessageID: "p1",
				Kind:      rapid.SampledFrom(kinds).Draw(t, "kind"),
				Payload:   rapid.StringMatching(`[a-z]{0,5}`).Draw(t, "payload"),
			}
			view.Apply(ev)

			switch ev.Kind {
			case streaming.KindContent:
				if state != StateStreaming {
					wantGen++
				}
				state = StateStreaming
				wantText = ev.Payload
			default:
				if state == StateIdle {
					wantGen++
				}
				state = StateTerminal
				if ev.Kind == streaming.KindEnd && ev.Payload != "" {
					wantText = ev.Payload
				}
			}
		}

		s := view.Snapshot()
		if s.Text != wantText || s.Generation != wantGen || s.State != state || s.Updates != n {
			t.Fatalf("expected text=%q gen=%d state=%s updates=%d, got %+v", wantText, wantGen, state, n, s)
		}
	})
}
