package main

import (
	"context"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"taskmate-sync/config"
)

func newRootCmd() *cobra.Command {
	var s settings
	root := &cobra.Command{
		Use:          "boardsync",
		Short:        "Read and edit task boards through the optimistic sync engine",
		SilenceUsage: true,
	}
	defTimeout, err := config.EnvDur("BOARDSYNC_TIMEOUT", 30*time.Second)
	if err != nil {
		log.WithError(err).Warn("using default timeout")
		defTimeout = 30 * time.Second
	}
	flags := root.PersistentFlags()
	flags.StringVar(&s.apiURL, "api", os.Getenv("BOARDSYNC_API"), "board API base URL")
	flags.StringVar(&s.token, "token", os.Getenv("BOARDSYNC_TOKEN"), "bearer token")
	flags.DurationVar(&s.timeout, "timeout", defTimeout, "timeout of each remote call")
	flags.DurationVar(&s.coalesce, "coalesce", 250*time.Millisecond, "window collapsing bursts of peer events")

	// run opens a session, hands it to fn and waits for pending changes.
	run := func(fn func(ctx context.Context, cmd *cobra.Command, sess *session, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			sess, err := newSession(s)
			if err != nil {
				return err
			}
			defer sess.close()
			return fn(cmd.Context(), cmd, sess, args)
		}
	}

	root.AddCommand(
		newShowCmd(run),
		newBoardsCmd(run),
		newWatchCmd(run),
		newTaskCmd(run),
		newPanelCmd(run),
		newBoardCmd(run),
		newFolderCmd(run),
	)
	return root
}

type runner func(fn func(ctx context.Context, cmd *cobra.Command, sess *session, args []string) error) func(*cobra.Command, []string) error
