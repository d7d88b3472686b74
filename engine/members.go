package engine

import (
	"context"

	"taskmate-sync/cache"
	"taskmate-sync/domain"
)

// AddCollaborator shares a board with a user.
func (c *Coordinator) AddCollaborator(ctx context.Context, boardID string, user domain.User) (*Handle, error) {
	return c.Run(ctx, boardMutation(domain.BoardAddMember, boardID, func(tree *cache.Tree) (domain.Command, error) {
		if err := tree.AddCollaborator(user); err != nil {
			return domain.Command{}, err
		}
		return domain.NewCommand(domain.EntityBoard, domain.BoardAddMember, domain.CollaboratorData{BoardID: boardID, User: user})
	}))
}

// RemoveCollaborator revokes a user's access and unassigns them everywhere
// on the board.
func (c *Coordinator) RemoveCollaborator(ctx context.Context, boardID, userID string) (*Handle, error) {
	return c.Run(ctx, boardMutation(domain.BoardRemoveMember, boardID, func(tree *cache.Tree) (domain.Command, error) {
		user, ok := findUser(tree.Collaborators(), userID)
		if !ok {
			return domain.Command{}, domain.NotFound("collaborator", userID)
		}
		if err := tree.RemoveCollaborator(userID); err != nil {
			return domain.Command{}, err
		}
		return domain.NewCommand(domain.EntityBoard, domain.BoardRemoveMember, domain.CollaboratorData{BoardID: boardID, User: user})
	}))
}

// AddAssignee assigns a board collaborator to a task.
func (c *Coordinator) AddAssignee(ctx context.Context, boardID, taskID, userID string) (*Handle, error) {
	return c.Run(ctx, boardMutation(domain.TaskAssign, boardID, func(tree *cache.Tree) (domain.Command, error) {
		user, ok := findUser(tree.Collaborators(), userID)
		if !ok {
			return domain.Command{}, domain.NotFound("collaborator", userID)
		}
		if err := tree.AddAssignee(taskID, user); err != nil {
			return domain.Command{}, err
		}
		return domain.NewCommand(domain.EntityTask, domain.TaskAssign, domain.TaskAssigneeData{BoardID: boardID, TaskID: taskID, UserID: userID})
	}))
}

// RemoveAssignee unassigns a user from a task.
func (c *Coordinator) RemoveAssignee(ctx context.Context, boardID, taskID, userID string) (*Handle, error) {
	return c.Run(ctx, boardMutation(domain.TaskUnassign, boardID, func(tree *cache.Tree) (domain.Command, error) {
		if err := tree.RemoveAssignee(taskID, userID); err != nil {
			return domain.Command{}, err
		}
		return domain.NewCommand(domain.EntityTask, domain.TaskUnassign, domain.TaskAssigneeData{BoardID: boardID, TaskID: taskID, UserID: userID})
	}))
}

func findUser(users []domain.User, id string) (domain.User, bool) {
	for _, u := range users {
		if u.ID == id {
			return u, true
		}
	}
	return domain.User{}, false
}
