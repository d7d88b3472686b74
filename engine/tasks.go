package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"taskmate-sync/cache"
	"taskmate-sync/domain"
	"taskmate-sync/order"
)

var errEmptyPatch = errors.New("patch changes nothing")

// boardMutation builds a mutation whose only required key is the board.
func boardMutation(name, boardID string, apply func(*cache.Tree) (domain.Command, error)) Mutation {
	key := cache.BoardKey(boardID)
	return Mutation{
		Name:    name,
		BoardID: boardID,
		Keys:    []cache.Key{key},
		Apply: func(values map[cache.Key]cache.Value) (domain.Command, error) {
			tree, ok := values[key].(*cache.Tree)
			if !ok {
				return domain.Command{}, fmt.Errorf("%s: %w", key, domain.ErrNotCached)
			}
			return apply(tree)
		},
	}
}

func lastKey(keys []float64) *float64 {
	if len(keys) == 0 {
		return nil
	}
	return &keys[len(keys)-1]
}

func siblingOrders(tree *cache.Tree, s cache.Scope) ([]float64, error) {
	ids, err := tree.Siblings(s)
	if err != nil {
		return nil, err
	}
	keys := make([]float64, 0, len(ids))
	for _, id := range ids {
		task, _ := tree.Lookup(id)
		keys = append(keys, task.Order)
	}
	return keys, nil
}

// CreateTask appends a task to a panel's root list. An empty task.ID is
// replaced by a fresh id, reported in Handle.EntityID.
func (c *Coordinator) CreateTask(ctx context.Context, boardID, panelID string, task domain.Task) (*Handle, error) {
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	task.PanelID = panelID
	task.ParentTaskID = nil
	return c.createTask(ctx, boardID, cache.Scope{PanelID: panelID}, task)
}

// CreateSubtask appends a task to parentID's subtask list.
func (c *Coordinator) CreateSubtask(ctx context.Context, boardID, parentID string, task domain.Task) (*Handle, error) {
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	pid := parentID
	task.ParentTaskID = &pid
	task.PanelID = ""
	return c.createTask(ctx, boardID, cache.Scope{ParentID: parentID}, task)
}

func (c *Coordinator) createTask(ctx context.Context, boardID string, scope cache.Scope, task domain.Task) (*Handle, error) {
	h, err := c.Run(ctx, boardMutation(domain.TaskCreate, boardID, func(tree *cache.Tree) (domain.Command, error) {
		if scope.ParentID != "" {
			parent, ok := tree.Lookup(scope.ParentID)
			if !ok {
				return domain.Command{}, domain.NotFound("task", scope.ParentID)
			}
			scope.PanelID = parent.PanelID
			task.PanelID = parent.PanelID
		}
		keys, err := siblingOrders(tree, scope)
		if err != nil {
			return domain.Command{}, err
		}
		task.Order = order.Append(lastKey(keys))
		if err := tree.InsertTask(task); err != nil {
			return domain.Command{}, err
		}
		created, _ := tree.Task(task.ID)
		return domain.NewCommand(domain.EntityTask, domain.TaskCreate, domain.TaskCreatedData{BoardID: boardID, Task: created})
	}))
	if err != nil {
		return nil, err
	}
	h.EntityID = task.ID
	return h, nil
}

// DeleteTask removes a task and its subtasks.
func (c *Coordinator) DeleteTask(ctx context.Context, boardID, taskID string) (*Handle, error) {
	return c.Run(ctx, boardMutation(domain.TaskDelete, boardID, func(tree *cache.Tree) (domain.Command, error) {
		if err := tree.RemoveTask(taskID); err != nil {
			return domain.Command{}, err
		}
		return domain.NewCommand(domain.EntityTask, domain.TaskDelete, domain.TaskRefData{BoardID: boardID, TaskID: taskID})
	}))
}

// UpdateTask renames a task or changes its details and dates.
func (c *Coordinator) UpdateTask(ctx context.Context, boardID, taskID string, patch domain.TaskPatch) (*Handle, error) {
	if patch.Empty() {
		return nil, fmt.Errorf("update task %s: %w", taskID, errEmptyPatch)
	}
	return c.Run(ctx, boardMutation(domain.TaskUpdate, boardID, func(tree *cache.Tree) (domain.Command, error) {
		if err := tree.UpdateTask(taskID, patch); err != nil {
			return domain.Command{}, err
		}
		return domain.NewCommand(domain.EntityTask, domain.TaskUpdate, domain.TaskUpdatedData{BoardID: boardID, TaskID: taskID, Patch: patch})
	}))
}

// ToggleTask sets a task's completion, cascading to subtasks and ancestors.
func (c *Coordinator) ToggleTask(ctx context.Context, boardID, taskID string, completed bool) (*Handle, error) {
	return c.Run(ctx, boardMutation(domain.TaskToggle, boardID, func(tree *cache.Tree) (domain.Command, error) {
		if err := tree.SetCompletion(taskID, completed); err != nil {
			return domain.Command{}, err
		}
		return domain.NewCommand(domain.EntityTask, domain.TaskToggle, domain.TaskToggledData{BoardID: boardID, TaskID: taskID, Value: completed})
	}))
}

// ToggleSubtaskVisibility shows or hides a task's subtasks.
func (c *Coordinator) ToggleSubtaskVisibility(ctx context.Context, boardID, taskID string, show bool) (*Handle, error) {
	return c.Run(ctx, boardMutation(domain.TaskSubtaskDisplay, boardID, func(tree *cache.Tree) (domain.Command, error) {
		if err := tree.SetShowSubtasks(taskID, show); err != nil {
			return domain.Command{}, err
		}
		return domain.NewCommand(domain.EntityTask, domain.TaskSubtaskDisplay, domain.TaskToggledData{BoardID: boardID, TaskID: taskID, Value: show})
	}))
}

// CombineTask turns taskID into the last subtask of parentID.
func (c *Coordinator) CombineTask(ctx context.Context, boardID, taskID, parentID string) (*Handle, error) {
	return c.Run(ctx, boardMutation(domain.TaskCombine, boardID, func(tree *cache.Tree) (domain.Command, error) {
		key, err := tree.AttachAsSubtask(taskID, parentID)
		if err != nil {
			return domain.Command{}, err
		}
		return domain.NewCommand(domain.EntityTask, domain.TaskCombine, domain.TaskCombinedData{
			BoardID: boardID, TaskID: taskID, ParentID: parentID, Order: key,
		})
	}))
}

// UnappendSubtask moves a subtask back to its panel's root list. A nil key
// appends it; otherwise it is placed by key.
func (c *Coordinator) UnappendSubtask(ctx context.Context, boardID, taskID string, key *float64) (*Handle, error) {
	return c.Run(ctx, boardMutation(domain.TaskUnappend, boardID, func(tree *cache.Tree) (domain.Command, error) {
		assigned, err := tree.DetachSubtask(taskID, key)
		if err != nil {
			return domain.Command{}, err
		}
		moved, _ := tree.Lookup(taskID)
		return domain.NewCommand(domain.EntityTask, domain.TaskUnappend, domain.TaskMovedData{
			BoardID: boardID, TaskID: taskID, PanelID: moved.PanelID, Orders: assigned,
		})
	}))
}

// ReorderTask moves a task to index within dest, across panels or parents.
func (c *Coordinator) ReorderTask(ctx context.Context, boardID, taskID string, dest cache.Scope, index int) (*Handle, error) {
	return c.Run(ctx, boardMutation(domain.TaskReorder, boardID, func(tree *cache.Tree) (domain.Command, error) {
		assigned, err := tree.MoveTask(taskID, dest, index)
		if err != nil {
			return domain.Command{}, err
		}
		moved, _ := tree.Lookup(taskID)
		return domain.NewCommand(domain.EntityTask, domain.TaskReorder, domain.TaskMovedData{
			BoardID: boardID, TaskID: taskID, PanelID: moved.PanelID, ParentID: moved.ParentTaskID, Orders: assigned,
		})
	}))
}
