package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"taskmate-sync/cache"
	"taskmate-sync/domain"
	"taskmate-sync/engine"
)

// commit settles h and reports the outcome.
func commit(ctx context.Context, cmd *cobra.Command, h *engine.Handle) error {
	if err := settle(ctx, h); err != nil {
		return err
	}
	if h.EntityID != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s: %s\n", h.Name, h.EntityID, h.State())
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", h.Name, h.State())
	return nil
}

// onBoard loads boardID and runs a board mutation against it.
func onBoard(run runner, mutate func(ctx context.Context, sess *session, args []string) (*engine.Handle, error)) func(*cobra.Command, []string) error {
	return run(func(ctx context.Context, cmd *cobra.Command, sess *session, args []string) error {
		if _, err := sess.board(ctx, args[0]); err != nil {
			return err
		}
		h, err := mutate(ctx, sess, args)
		if err != nil {
			return err
		}
		return commit(ctx, cmd, h)
	})
}

// onWorkspace loads the workspace and runs a workspace mutation.
func onWorkspace(run runner, mutate func(ctx context.Context, sess *session, args []string) (*engine.Handle, error)) func(*cobra.Command, []string) error {
	return run(func(ctx context.Context, cmd *cobra.Command, sess *session, args []string) error {
		if _, err := sess.workspace(ctx); err != nil {
			return err
		}
		h, err := mutate(ctx, sess, args)
		if err != nil {
			return err
		}
		return commit(ctx, cmd, h)
	})
}

func newTaskCmd(run runner) *cobra.Command {
	task := &cobra.Command{Use: "task", Short: "Edit tasks"}

	var parent, due string
	add := &cobra.Command{
		Use:   "add <board-id> <panel-id> <title>",
		Short: "Append a task to a panel, or a subtask with --parent",
		Args:  cobra.ExactArgs(3),
		RunE: onBoard(run, func(ctx context.Context, sess *session, args []string) (*engine.Handle, error) {
			t := domain.Task{Title: args[2]}
			if due != "" {
				ts, err := time.Parse("2006-01-02", due)
				if err != nil {
					return nil, fmt.Errorf("invalid --due: %w", err)
				}
				t.DueAt = &ts
			}
			if parent != "" {
				return sess.coordinator.CreateSubtask(ctx, args[0], parent, t)
			}
			return sess.coordinator.CreateTask(ctx, args[0], args[1], t)
		}),
	}
	add.Flags().StringVar(&parent, "parent", "", "parent task id")
	add.Flags().StringVar(&due, "due", "", "due date (YYYY-MM-DD)")

	var reopen bool
	toggle := &cobra.Command{
		Use:   "done <board-id> <task-id>",
		Short: "Mark a task completed, or open again with --reopen",
		Args:  cobra.ExactArgs(2),
		RunE: onBoard(run, func(ctx context.Context, sess *session, args []string) (*engine.Handle, error) {
			return sess.coordinator.ToggleTask(ctx, args[0], args[1], !reopen)
		}),
	}
	toggle.Flags().BoolVar(&reopen, "reopen", false, "mark the task open")

	rename := &cobra.Command{
		Use:   "rename <board-id> <task-id> <title>",
		Short: "Change a task title",
		Args:  cobra.ExactArgs(3),
		RunE: onBoard(run, func(ctx context.Context, sess *session, args []string) (*engine.Handle, error) {
			title := args[2]
			return sess.coordinator.UpdateTask(ctx, args[0], args[1], domain.TaskPatch{Title: &title})
		}),
	}

	var toPanel, toParent string
	var index int
	move := &cobra.Command{
		Use:   "move <board-id> <task-id>",
		Short: "Move a task within or across panels",
		Args:  cobra.ExactArgs(2),
		RunE: onBoard(run, func(ctx context.Context, sess *session, args []string) (*engine.Handle, error) {
			dest := cache.Scope{PanelID: toPanel, ParentID: toParent}
			if dest.PanelID == "" && dest.ParentID == "" {
				tree, ok := sess.cache.Peek(cache.BoardKey(args[0]))
				if !ok {
					return nil, domain.ErrNotCached
				}
				s, ok := tree.(*cache.Tree).Scope(args[1])
				if !ok {
					return nil, domain.NotFound("task", args[1])
				}
				dest = s
			}
			return sess.coordinator.ReorderTask(ctx, args[0], args[1], dest, index)
		}),
	}
	move.Flags().StringVar(&toPanel, "panel", "", "destination panel (default: current list)")
	move.Flags().StringVar(&toParent, "parent", "", "destination parent task")
	move.Flags().IntVar(&index, "index", 0, "position in the destination list")

	nest := &cobra.Command{
		Use:   "nest <board-id> <task-id> <parent-id>",
		Short: "Turn a task into a subtask of another task",
		Args:  cobra.ExactArgs(3),
		RunE: onBoard(run, func(ctx context.Context, sess *session, args []string) (*engine.Handle, error) {
			return sess.coordinator.CombineTask(ctx, args[0], args[1], args[2])
		}),
	}

	unnest := &cobra.Command{
		Use:   "unnest <board-id> <task-id>",
		Short: "Move a subtask to the end of its panel",
		Args:  cobra.ExactArgs(2),
		RunE: onBoard(run, func(ctx context.Context, sess *session, args []string) (*engine.Handle, error) {
			return sess.coordinator.UnappendSubtask(ctx, args[0], args[1], nil)
		}),
	}

	rm := &cobra.Command{
		Use:   "rm <board-id> <task-id>",
		Short: "Delete a task and its subtasks",
		Args:  cobra.ExactArgs(2),
		RunE: onBoard(run, func(ctx context.Context, sess *session, args []string) (*engine.Handle, error) {
			return sess.coordinator.DeleteTask(ctx, args[0], args[1])
		}),
	}

	var unassign bool
	assign := &cobra.Command{
		Use:   "assign <board-id> <task-id> <user-id>",
		Short: "Assign a collaborator to a task, or remove with --remove",
		Args:  cobra.ExactArgs(3),
		RunE: onBoard(run, func(ctx context.Context, sess *session, args []string) (*engine.Handle, error) {
			if unassign {
				return sess.coordinator.RemoveAssignee(ctx, args[0], args[1], args[2])
			}
			return sess.coordinator.AddAssignee(ctx, args[0], args[1], args[2])
		}),
	}
	assign.Flags().BoolVar(&unassign, "remove", false, "remove the assignee")

	task.AddCommand(add, toggle, rename, move, nest, unnest, rm, assign)
	return task
}

func newPanelCmd(run runner) *cobra.Command {
	panel := &cobra.Command{Use: "panel", Short: "Edit panels"}

	var color string
	add := &cobra.Command{
		Use:   "add <board-id> <title>",
		Short: "Append a panel to a board",
		Args:  cobra.ExactArgs(2),
		RunE: onBoard(run, func(ctx context.Context, sess *session, args []string) (*engine.Handle, error) {
			return sess.coordinator.CreatePanel(ctx, args[0], domain.Panel{Title: args[1], Color: color, Visible: true})
		}),
	}
	add.Flags().StringVar(&color, "color", "", "panel color")

	var index int
	move := &cobra.Command{
		Use:   "move <board-id> <panel-id>",
		Short: "Move a panel to another position",
		Args:  cobra.ExactArgs(2),
		RunE: onBoard(run, func(ctx context.Context, sess *session, args []string) (*engine.Handle, error) {
			return sess.coordinator.ReorderPanel(ctx, args[0], args[1], index)
		}),
	}
	move.Flags().IntVar(&index, "index", 0, "destination position")

	rm := &cobra.Command{
		Use:   "rm <board-id> <panel-id>",
		Short: "Delete a panel and its tasks",
		Args:  cobra.ExactArgs(2),
		RunE: onBoard(run, func(ctx context.Context, sess *session, args []string) (*engine.Handle, error) {
			return sess.coordinator.DeletePanel(ctx, args[0], args[1])
		}),
	}

	panel.AddCommand(add, move, rm)
	return panel
}

func newBoardCmd(run runner) *cobra.Command {
	board := &cobra.Command{Use: "board", Short: "Edit the boards of the workspace"}

	var folder string
	add := &cobra.Command{
		Use:   "add <title>",
		Short: "Create a board",
		Args:  cobra.ExactArgs(1),
		RunE: onWorkspace(run, func(ctx context.Context, sess *session, args []string) (*engine.Handle, error) {
			return sess.coordinator.CreateBoard(ctx, args[0], folder)
		}),
	}
	add.Flags().StringVar(&folder, "folder", "", "folder id (default: unorganized)")

	rename := &cobra.Command{
		Use:   "rename <board-id> <title>",
		Short: "Rename a board",
		Args:  cobra.ExactArgs(2),
		RunE: onWorkspace(run, func(ctx context.Context, sess *session, args []string) (*engine.Handle, error) {
			return sess.coordinator.RenameBoard(ctx, args[0], args[1])
		}),
	}

	var to string
	var index int
	move := &cobra.Command{
		Use:   "move <board-id>",
		Short: "Move a board into a folder, or to the unorganized list",
		Args:  cobra.ExactArgs(1),
		RunE: onWorkspace(run, func(ctx context.Context, sess *session, args []string) (*engine.Handle, error) {
			return sess.coordinator.MoveBoard(ctx, args[0], to, index)
		}),
	}
	move.Flags().StringVar(&to, "folder", "", "destination folder id")
	move.Flags().IntVar(&index, "index", 0, "destination position")

	rm := &cobra.Command{
		Use:   "rm <board-id>",
		Short: "Delete a board",
		Args:  cobra.ExactArgs(1),
		RunE: onWorkspace(run, func(ctx context.Context, sess *session, args []string) (*engine.Handle, error) {
			return sess.coordinator.DeleteBoard(ctx, args[0])
		}),
	}

	board.AddCommand(add, rename, move, rm)
	return board
}

func newFolderCmd(run runner) *cobra.Command {
	folder := &cobra.Command{Use: "folder", Short: "Edit workspace folders"}

	add := &cobra.Command{
		Use:   "add <title>",
		Short: "Create a folder",
		Args:  cobra.ExactArgs(1),
		RunE: onWorkspace(run, func(ctx context.Context, sess *session, args []string) (*engine.Handle, error) {
			return sess.coordinator.CreateFolder(ctx, args[0])
		}),
	}

	rename := &cobra.Command{
		Use:   "rename <folder-id> <title>",
		Short: "Rename a folder",
		Args:  cobra.ExactArgs(2),
		RunE: onWorkspace(run, func(ctx context.Context, sess *session, args []string) (*engine.Handle, error) {
			return sess.coordinator.RenameFolder(ctx, args[0], args[1])
		}),
	}

	rm := &cobra.Command{
		Use:   "rm <folder-id>",
		Short: "Delete a folder; its boards become unorganized",
		Args:  cobra.ExactArgs(1),
		RunE: onWorkspace(run, func(ctx context.Context, sess *session, args []string) (*engine.Handle, error) {
			return sess.coordinator.DeleteFolder(ctx, args[0])
		}),
	}

	folder.AddCommand(add, rename, rm)
	return folder
}
