package client

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/pretyflaco/syncd/internal/client/apply"
	"github.com/pretyflaco/syncd/internal/client/checkpoint"
	"github.com/pretyflaco/syncd/internal/client/resume"
	"github.com/pretyflaco/syncd/internal/client/transport"
	"github.com/pretyflaco/syncd/internal/config"
	"github.com/pretyflaco/syncd/internal/eventlog"
	logpkg "github.com/pretyflaco/syncd/pkg/log"
)

func newFollowCommand(baseURL BaseURLFunc, token TokenFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "follow",
		Short: "Follow a stream, resuming from the local checkpoint",
		Long: `Follow subscribes to a stream and applies events in order, persisting a
local checkpoint after each one. Restarting the command resumes from the
last durable watermark; stale cursors trigger a snapshot rebootstrap.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			stream, _ := cmd.Flags().GetString("stream")
			stateDir, _ := cmd.Flags().GetString("state-dir")
			filter, _ := cmd.Flags().GetString("filter")
			quiet, _ := cmd.Flags().GetBool("quiet")

			if stateDir == "" {
				stateDir = filepath.Join(config.DefaultDataDir(), "client", uuid.NewString())
				fmt.Fprintf(cmd.ErrOrStderr(), "no --state-dir given, using ephemeral %s\n", stateDir)
			}

			logger := logpkg.NewLogger(
				logpkg.WithLevel(logpkg.InfoLevel),
				logpkg.WithFormatter(&logpkg.TextFormatter{}),
			).With(logpkg.Component("follow"))

			cps, err := checkpoint.NewStore(stateDir)
			if err != nil {
				return fmt.Errorf("open checkpoint store: %w", err)
			}

			out := cmd.OutOrStdout()
			enc := json.NewEncoder(out)
			effect := apply.EffectFunc(func(_ context.Context, ev eventlog.Event) error {
				if quiet {
					return nil
				}
				return enc.Encode(ev)
			})
			engine := apply.NewEngine(cps, effect, logger)

			mgr := resume.NewManager(stream, transport.NewWSClient(baseURL(), token()), engine, logger)
			mgr.Filter = filter
			mgr.Hooks = resume.Hooks{
				OnConnect: func(g transport.Grant) {
					fmt.Fprintf(cmd.ErrOrStderr(), "connected: resume_seq=%d head_seq=%d\n", g.ResumeSeq, g.Window.HeadSeq)
				},
				OnRebootstrap: func(reason string) {
					fmt.Fprintf(cmd.ErrOrStderr(), "rebootstrap: %s\n", reason)
				},
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return mgr.Run(ctx)
		},
	}
	cmd.Flags().String("stream", "", "stream id")
	cmd.Flags().String("state-dir", "", "directory for checkpoint files (empty = ephemeral)")
	cmd.Flags().String("filter", "", "server-side CEL filter expression")
	cmd.Flags().Bool("quiet", false, "apply events without printing them")
	_ = cmd.MarkFlagRequired("stream")
	return cmd
}

func newCheckpointCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "checkpoint",
		Short: "Show the local checkpoint for a stream",
		RunE: func(cmd *cobra.Command, _ []string) error {
			stream, _ := cmd.Flags().GetString("stream")
			stateDir, _ := cmd.Flags().GetString("state-dir")
			cps, err := checkpoint.NewStore(stateDir)
			if err != nil {
				return err
			}
			cp, ok, err := cps.Load(stream)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("no checkpoint for %s in %s", stream, stateDir)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(cp)
		},
	}
	cmd.Flags().String("stream", "", "stream id")
	cmd.Flags().String("state-dir", "", "directory holding checkpoint files")
	_ = cmd.MarkFlagRequired("stream")
	_ = cmd.MarkFlagRequired("state-dir")
	return cmd
}
