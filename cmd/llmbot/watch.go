package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/welldanyogia/llmbot-stream/internal/binding"
	"github.com/welldanyogia/llmbot-stream/internal/streaming"
	"github.com/welldanyogia/llmbot-stream/internal/transport"
)

type watchOptions struct {
	follow  bool
	timeout time.Duration
}

func (w *watchOptions) bind(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&w.follow, "follow", false, "keep watching after the generation ends, e.g. to see regenerations")
	cmd.Flags().DurationVar(&w.timeout, "timeout", 5*time.Minute, "give up after this long (0 waits forever)")
}

// trigger starts whatever produces the posts to watch and names any post it created.
// It runs once the event source is connected and the known posts are mounted.
type trigger func(ctx context.Context) ([]streaming.MessageID, error)

func newWatchCmd(opts *globalOptions) *cobra.Command {
	var wo watchOptions

	cmd := &cobra.Command{
		Use:   "watch <post-id>...",
		Short: "Print bot replies as they are generated",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := make([]streaming.MessageID, len(args))
			for i, a := range args {
				ids[i] = streaming.MessageID(a)
			}
			return runWatch(cmd.Context(), opts, cmd.OutOrStdout(), wo, ids, nil)
		},
	}
	wo.bind(cmd)
	return cmd
}

// runWatch connects to the event source, mounts a view per post and prints replies until
// every view reaches a terminal state. Posts in known are mounted before start runs.
func runWatch(ctx context.Context, opts *globalOptions, out io.Writer, wo watchOptions, known []streaming.MessageID, start trigger) error {
	source, redisClient, err := transport.FromConfig(opts.cfg, opts.log)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	registry := streaming.NewRegistry()
	dispatcher := streaming.NewDispatcher(registry, streaming.WithLogger(opts.log))
	source.Handle(opts.cfg.Transport.EventName, func(data json.RawMessage) {
		dispatcher.HandleIncoming(data)
	})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if wo.timeout > 0 {
		var cancelTimeout context.CancelFunc
		ctx, cancelTimeout = context.WithTimeout(ctx, wo.timeout)
		defer cancelTimeout()
	}

	var views []*binding.PostView
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := source.Run(gctx); err != nil && gctx.Err() == nil {
			return err
		}
		return nil
	})

	g.Go(func() error {
		defer cancel()

		if err := waitConnected(gctx, source); err != nil {
			return fmt.Errorf("connect to event source: %w", err)
		}
		mount := func(ids []streaming.MessageID, multi bool) {
			for _, id := range ids {
				p := &printer{out: out, id: id, prefixed: multi}
				v := binding.NewPostView(id, binding.WithOnChange(p.update))
				v.Observe(gctx, registry)
				views = append(views, v)
			}
		}

		mount(known, len(known) > 1)
		if start != nil {
			created, err := start(gctx)
			if err != nil {
				return err
			}
			mount(created, len(known)+len(created) > 1)
		}

		if wo.follow {
			<-gctx.Done()
			return nil
		}
		for _, v := range views {
			if _, err := v.Wait(gctx); err != nil {
				if errors.Is(err, context.DeadlineExceeded) {
					return fmt.Errorf("post %s: timed out waiting for the reply", v.Snapshot().MessageID)
				}
				return err
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}

	var failed []string
	for _, v := range views {
		if s := v.Snapshot(); s.Failed() {
			failed = append(failed, fmt.Sprintf("%s: %s", s.MessageID, s.Error))
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("generation failed: %s", strings.Join(failed, "; "))
	}
	return nil
}

func waitConnected(ctx context.Context, source transport.Source) error {
	ticker := time.NewTicker(25 * time.Millisecond)
	defer ticker.Stop()
	for !source.Connected() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

// printer writes one post's reply to the terminal. A single post is streamed as it
// grows; with several posts each one is printed whole, prefixed with its id, when it ends.
// It is only called from the dispatching goroutine.
type printer struct {
	out      io.Writer
	id       streaming.MessageID
	prefixed bool

	generation int
	printed    string
}

func (p *printer) update(s binding.Snapshot) {
	if p.prefixed {
		if s.State != binding.StateTerminal {
			return
		}
		if s.Failed() {
			fmt.Fprintf(p.out, "[%s] error: %s\n", p.id, s.Error)
			return
		}
		fmt.Fprintf(p.out, "[%s] %s\n", p.id, s.Text)
		return
	}

	if s.Generation != p.generation {
		if p.generation != 0 {
			fmt.Fprintln(p.out, "--- regenerated ---")
		}
		p.generation = s.Generation
		p.printed = ""
	}

	switch {
	case strings.HasPrefix(s.Text, p.printed):
		io.WriteString(p.out, s.Text[len(p.printed):])
	default:
		// The text was rewritten rather than extended.
		fmt.Fprintf(p.out, "\n%s", s.Text)
	}
	p.printed = s.Text

	if s.State == binding.StateTerminal {
		if s.Failed() {
			fmt.Fprintf(p.out, "\nerror: %s", s.Error)
		}
		fmt.Fprintln(p.out)
	}
}
