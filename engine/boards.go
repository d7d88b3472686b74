package engine

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"taskmate-sync/cache"
	"taskmate-sync/domain"
	"taskmate-sync/order"
)

// workspaceMutation builds a mutation over the workspace entry. boardID, when
// set, names the board channel peers are notified on.
func workspaceMutation(name, boardID string, apply func(*cache.Workspace) (domain.Command, error)) Mutation {
	return Mutation{
		Name:    name,
		BoardID: boardID,
		Keys:    []cache.Key{cache.WorkspaceKey},
		Apply: func(values map[cache.Key]cache.Value) (domain.Command, error) {
			ws, ok := values[cache.WorkspaceKey].(*cache.Workspace)
			if !ok {
				return domain.Command{}, fmt.Errorf("%s: %w", cache.WorkspaceKey, domain.ErrNotCached)
			}
			return apply(ws)
		},
	}
}

// CreateBoard adds a board to a folder, or to the unorganized list when
// folderID is empty.
func (c *Coordinator) CreateBoard(ctx context.Context, title, folderID string) (*Handle, error) {
	board := domain.BoardSummary{ID: uuid.NewString(), Title: title}
	h, err := c.Run(ctx, workspaceMutation(domain.BoardCreate, "", func(ws *cache.Workspace) (domain.Command, error) {
		if err := ws.AddBoard(board, folderID); err != nil {
			return domain.Command{}, err
		}
		board.FolderID = folderID
		return domain.NewCommand(domain.EntityBoard, domain.BoardCreate, domain.BoardCreatedData{Board: board, FolderID: folderID})
	}))
	if err != nil {
		return nil, err
	}
	h.EntityID = board.ID
	return h, nil
}

// DeleteBoard removes a board from the workspace and evicts its cached view.
func (c *Coordinator) DeleteBoard(ctx context.Context, boardID string) (*Handle, error) {
	m := workspaceMutation(domain.BoardDelete, boardID, func(ws *cache.Workspace) (domain.Command, error) {
		if err := ws.RemoveBoard(boardID); err != nil {
			return domain.Command{}, err
		}
		return domain.NewCommand(domain.EntityBoard, domain.BoardDelete, domain.BoardRefData{BoardID: boardID})
	})
	m.Drop = []cache.Key{cache.BoardKey(boardID)}
	return c.Run(ctx, m)
}

// RenameBoard renames a board in the workspace and in its cached view,
// whichever are loaded.
func (c *Coordinator) RenameBoard(ctx context.Context, boardID, title string) (*Handle, error) {
	boardKey := cache.BoardKey(boardID)
	return c.Run(ctx, Mutation{
		Name:     domain.BoardRename,
		BoardID:  boardID,
		Optional: []cache.Key{cache.WorkspaceKey, boardKey},
		Apply: func(values map[cache.Key]cache.Value) (domain.Command, error) {
			if len(values) == 0 {
				return domain.Command{}, fmt.Errorf("rename board %s: %w", boardID, domain.ErrNotCached)
			}
			if ws, ok := values[cache.WorkspaceKey].(*cache.Workspace); ok {
				if err := ws.RenameBoard(boardID, title); err != nil {
					return domain.Command{}, err
				}
			}
			if tree, ok := values[boardKey].(*cache.Tree); ok {
				tree.SetTitle(title)
			}
			return domain.NewCommand(domain.EntityBoard, domain.BoardRename, domain.BoardRenamedData{BoardID: boardID, Title: title})
		},
	})
}

// MoveBoard moves a board into, out of or between folders. An empty
// toFolderID targets the unorganized list.
func (c *Coordinator) MoveBoard(ctx context.Context, boardID, toFolderID string, index int) (*Handle, error) {
	return c.Run(ctx, workspaceMutation(domain.BoardMove, boardID, func(ws *cache.Workspace) (domain.Command, error) {
		from, dest, err := ws.MoveBoard(boardID, toFolderID, index)
		if err != nil {
			return domain.Command{}, err
		}
		encoded, err := order.EncodeIDs(dest)
		if err != nil {
			return domain.Command{}, err
		}
		return domain.NewCommand(domain.EntityBoard, domain.BoardMove, domain.BoardMovedData{
			BoardID: boardID, FromFolderID: from, ToFolderID: toFolderID, Order: encoded,
		})
	}))
}

// ReorderBoard moves a board to index within the collection it is already in.
func (c *Coordinator) ReorderBoard(ctx context.Context, boardID string, index int) (*Handle, error) {
	return c.Run(ctx, workspaceMutation(domain.BoardReorder, boardID, func(ws *cache.Workspace) (domain.Command, error) {
		b, ok := ws.Board(boardID)
		if !ok {
			return domain.Command{}, domain.NotFound("board", boardID)
		}
		_, dest, err := ws.MoveBoard(boardID, b.FolderID, index)
		if err != nil {
			return domain.Command{}, err
		}
		encoded, err := order.EncodeIDs(dest)
		if err != nil {
			return domain.Command{}, err
		}
		return domain.NewCommand(domain.EntityBoard, domain.BoardReorder, domain.BoardMovedData{
			BoardID: boardID, FromFolderID: b.FolderID, ToFolderID: b.FolderID, Order: encoded,
		})
	}))
}
