// Command llmbot triggers bot actions on a chat platform and follows the streamed replies
// from the terminal.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/welldanyogia/llmbot-stream/internal/client"
	"github.com/welldanyogia/llmbot-stream/internal/config"
	"github.com/welldanyogia/llmbot-stream/internal/logger"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// globalOptions are resolved once per invocation from the environment and persistent flags.
type globalOptions struct {
	cfg      *config.Config
	userID   string
	logLevel string
	log      *slog.Logger
}

func (o *globalOptions) client() *client.Client {
	return client.New(o.cfg.Platform.PluginURL(),
		client.WithToken(o.cfg.Platform.Token),
		client.WithUserID(o.userID),
	)
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{cfg: config.Load()}

	cmd := &cobra.Command{
		Use:           "llmbot",
		Short:         "Drive chat bots and follow their streamed replies",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			opts.cfg.Platform.URL = strings.TrimRight(opts.cfg.Platform.URL, "/")
			if opts.cfg.Platform.URL == "" {
				return fmt.Errorf("platform URL is required")
			}
			opts.log = logger.NewWithWriter(logger.Config{Level: opts.logLevel, Format: "text"}, cmd.ErrOrStderr()).
				With(slog.String("invocation_id", uuid.NewString()))
			return nil
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&opts.cfg.Platform.URL, "url", opts.cfg.Platform.URL, "platform base URL (PLATFORM_URL)")
	pf.StringVar(&opts.cfg.Platform.Token, "token", opts.cfg.Platform.Token, "platform access token (PLATFORM_TOKEN)")
	pf.StringVar(&opts.cfg.Platform.PluginID, "plugin", opts.cfg.Platform.PluginID, "bot plugin id (PLATFORM_PLUGIN_ID)")
	pf.StringVar(&opts.userID, "user", os.Getenv("PLATFORM_USER_ID"), "acting user id, for calls from inside the platform network (PLATFORM_USER_ID)")
	pf.StringVar(&opts.cfg.Transport.Kind, "transport", opts.cfg.Transport.Kind, "where post updates come from: websocket or redis (TRANSPORT)")
	pf.StringVar(&opts.cfg.Redis.Addr, "redis-addr", opts.cfg.Redis.Addr, "redis address for the redis transport (REDIS_ADDR)")
	pf.StringVar(&opts.logLevel, "log-level", "warn", "log level: debug, info, warn or error")

	cmd.AddCommand(newWatchCmd(opts))
	cmd.AddCommand(newReactCmd(opts))
	cmd.AddCommand(newSummarizeCmd(opts))
	cmd.AddCommand(newSummarizeSinceCmd(opts))
	cmd.AddCommand(newTranscribeCmd(opts))
	cmd.AddCommand(newSummarizeTranscriptionCmd(opts))
	cmd.AddCommand(newStopCmd(opts))
	cmd.AddCommand(newRegenerateCmd(opts))
	cmd.AddCommand(newFeedbackCmd(opts))
	cmd.AddCommand(newThreadsCmd(opts))

	return cmd
}
