package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/welldanyogia/llmbot-stream/internal/streaming"
)

// postAction builds a command that runs a plugin action on one post.
func postAction(use, short string, call func(ctx context.Context, postID string) error) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <post-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := call(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("%s: %w", use, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s requested for post %s\n", use, args[0])
			return nil
		},
	}
}

func newReactCmd(opts *globalOptions) *cobra.Command {
	return postAction("react", "Ask the bot to react to a post with an emoji",
		func(ctx context.Context, postID string) error { return opts.client().React(ctx, postID) })
}

func newTranscribeCmd(opts *globalOptions) *cobra.Command {
	return postAction("transcribe", "Transcribe the recording attached to a post",
		func(ctx context.Context, postID string) error { return opts.client().Transcribe(ctx, postID) })
}

func newSummarizeTranscriptionCmd(opts *globalOptions) *cobra.Command {
	return postAction("summarize-transcription", "Summarize a transcription post",
		func(ctx context.Context, postID string) error { return opts.client().SummarizeTranscription(ctx, postID) })
}

func newStopCmd(opts *globalOptions) *cobra.Command {
	return postAction("stop", "Stop an in-progress generation",
		func(ctx context.Context, postID string) error { return opts.client().Stop(ctx, postID) })
}

func newFeedbackCmd(opts *globalOptions) *cobra.Command {
	var negative bool
	cmd := postAction("feedback", "Record thumbs up (or --negative) on a bot post",
		func(ctx context.Context, postID string) error { return opts.client().Feedback(ctx, postID, !negative) })
	cmd.Flags().BoolVar(&negative, "negative", false, "record a thumbs down")
	return cmd
}

func newRegenerateCmd(opts *globalOptions) *cobra.Command {
	var watch bool
	var wo watchOptions

	cmd := &cobra.Command{
		Use:   "regenerate <post-id>",
		Short: "Regenerate a bot post",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			postID := args[0]
			if !watch {
				if err := opts.client().Regenerate(cmd.Context(), postID); err != nil {
					return fmt.Errorf("regenerate: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "regenerate requested for post %s\n", postID)
				return nil
			}
			known := []streaming.MessageID{streaming.MessageID(postID)}
			return runWatch(cmd.Context(), opts, cmd.OutOrStdout(), wo, known, func(ctx context.Context) ([]streaming.MessageID, error) {
				if err := opts.client().Regenerate(ctx, postID); err != nil {
					return nil, fmt.Errorf("regenerate: %w", err)
				}
				return nil, nil
			})
		},
	}
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "print the new reply as it is generated")
	wo.bind(cmd)
	return cmd
}

func newSummarizeCmd(opts *globalOptions) *cobra.Command {
	var watch bool
	var wo watchOptions

	cmd := &cobra.Command{
		Use:   "summarize <post-id>",
		Short: "Summarize the thread a post belongs to",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			summarize := func(ctx context.Context) (string, error) {
				res, err := opts.client().Summarize(ctx, args[0])
				if err != nil {
					return "", fmt.Errorf("summarize: %w", err)
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "summary post %s in channel %s\n", res.PostID, res.ChannelID)
				return res.PostID, nil
			}
			return runOrWatch(cmd, opts, watch, wo, summarize)
		},
	}
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "print the summary as it is generated")
	wo.bind(cmd)
	return cmd
}

func newSummarizeSinceCmd(opts *globalOptions) *cobra.Command {
	var watch bool
	var wo watchOptions
	var since time.Duration
	var prompt string

	cmd := &cobra.Command{
		Use:   "summarize-since <channel-id>",
		Short: "Summarize a channel's recent messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			from := time.Now().Add(-since).UnixMilli()
			summarize := func(ctx context.Context) (string, error) {
				postID, err := opts.client().SummarizeChannelSince(ctx, args[0], from, prompt)
				if err != nil {
					return "", fmt.Errorf("summarize-since: %w", err)
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "summary post %s\n", postID)
				return postID, nil
			}
			return runOrWatch(cmd, opts, watch, wo, summarize)
		},
	}
	cmd.Flags().DurationVar(&since, "since", 24*time.Hour, "how far back to summarize")
	cmd.Flags().StringVar(&prompt, "prompt", "summarize_unreads", "preset prompt the bot should use")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "print the summary as it is generated")
	wo.bind(cmd)
	return cmd
}

// runOrWatch runs an action that creates a post, then optionally follows that post.
func runOrWatch(cmd *cobra.Command, opts *globalOptions, watch bool, wo watchOptions, create func(ctx context.Context) (string, error)) error {
	if !watch {
		postID, err := create(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), postID)
		return nil
	}
	return runWatch(cmd.Context(), opts, cmd.OutOrStdout(), wo, nil, func(ctx context.Context) ([]streaming.MessageID, error) {
		postID, err := create(ctx)
		if err != nil {
			return nil, err
		}
		return []streaming.MessageID{streaming.MessageID(postID)}, nil
	})
}

func newThreadsCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "threads",
		Short: "List your conversations with bots",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			threads, err := opts.client().AIThreads(cmd.Context())
			if err != nil {
				return fmt.Errorf("threads: %w", err)
			}
			if len(threads) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No threads found")
				return nil
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tTITLE\tREPLIES\tUPDATED")
			for _, t := range threads {
				title := t.Title
				if title == "" {
					title = t.Message
				}
				title = truncate(title, 60)
				updated := time.UnixMilli(t.UpdateAt).Format(time.DateTime)
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", t.ID, title, t.ReplyCount, updated)
			}
			return tw.Flush()
		},
	}
}

// truncate shortens s to at most max runes, marking the cut with an ellipsis.
func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-3]) + "..."
}
