package main

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"taskmate-sync/cache"
)

func newShowCmd(run runner) *cobra.Command {
	return &cobra.Command{
		Use:   "show <board-id>",
		Short: "Print a board",
		Args:  cobra.ExactArgs(1),
		RunE: run(func(ctx context.Context, cmd *cobra.Command, sess *session, args []string) error {
			tree, err := sess.board(ctx, args[0])
			if err != nil {
				return err
			}
			renderBoard(cmd.OutOrStdout(), tree.Board())
			return nil
		}),
	}
}

func newBoardsCmd(run runner) *cobra.Command {
	return &cobra.Command{
		Use:   "boards",
		Short: "List the folders and boards of the workspace",
		Args:  cobra.NoArgs,
		RunE: run(func(ctx context.Context, cmd *cobra.Command, sess *session, args []string) error {
			ws, err := sess.workspace(ctx)
			if err != nil {
				return err
			}
			renderWorkspace(cmd.OutOrStdout(), ws.Value())
			return nil
		}),
	}
}

func newWatchCmd(run runner) *cobra.Command {
	return &cobra.Command{
		Use:   "watch <board-id>",
		Short: "Print a board and reprint it whenever a collaborator changes it",
		Args:  cobra.ExactArgs(1),
		RunE: run(func(ctx context.Context, cmd *cobra.Command, sess *session, args []string) error {
			boardID := args[0]
			key := cache.BoardKey(boardID)
			changed, unwatch := sess.cache.Watch(key)
			defer unwatch()

			if err := sess.broadcaster.Join(ctx, boardID); err != nil {
				return err
			}
			defer sess.broadcaster.Leave(context.Background(), boardID)
			go func() {
				if err := sess.broadcaster.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					sess.logger.WithError(err).Error("board event listener stopped")
				}
			}()

			out := cmd.OutOrStdout()
			for {
				tree, err := sess.board(ctx, boardID)
				if err != nil {
					if ctx.Err() != nil {
						return nil
					}
					return err
				}
				// Drop the signal raised by our own fetch.
				select {
				case <-changed:
				default:
				}
				if sess.cache.Stale(key) {
					continue
				}
				renderBoard(out, tree.Board())
				select {
				case <-ctx.Done():
					return nil
				case <-changed:
				}
			}
		}),
	}
}
