package engine

import (
	"context"

	"github.com/google/uuid"

	"taskmate-sync/cache"
	"taskmate-sync/domain"
	"taskmate-sync/order"
)

// CreateFolder appends an empty folder to the workspace.
func (c *Coordinator) CreateFolder(ctx context.Context, title string) (*Handle, error) {
	id := uuid.NewString()
	h, err := c.Run(ctx, workspaceMutation(domain.FolderCreate, "", func(ws *cache.Workspace) (domain.Command, error) {
		if err := ws.AddFolder(id, title); err != nil {
			return domain.Command{}, err
		}
		return domain.NewCommand(domain.EntityFolder, domain.FolderCreate, domain.FolderCreatedData{FolderID: id, Title: title})
	}))
	if err != nil {
		return nil, err
	}
	h.EntityID = id
	return h, nil
}

// DeleteFolder removes a folder; its boards become unorganized.
func (c *Coordinator) DeleteFolder(ctx context.Context, folderID string) (*Handle, error) {
	return c.Run(ctx, workspaceMutation(domain.FolderDelete, "", func(ws *cache.Workspace) (domain.Command, error) {
		if err := ws.RemoveFolder(folderID); err != nil {
			return domain.Command{}, err
		}
		return domain.NewCommand(domain.EntityFolder, domain.FolderDelete, domain.FolderRefData{FolderID: folderID})
	}))
}

// RenameFolder changes a folder's title.
func (c *Coordinator) RenameFolder(ctx context.Context, folderID, title string) (*Handle, error) {
	return c.Run(ctx, workspaceMutation(domain.FolderRename, "", func(ws *cache.Workspace) (domain.Command, error) {
		if err := ws.RenameFolder(folderID, title); err != nil {
			return domain.Command{}, err
		}
		return domain.NewCommand(domain.EntityFolder, domain.FolderRename, domain.FolderRenamedData{FolderID: folderID, Title: title})
	}))
}

// ReorderFolder moves a folder to index and persists the resulting order.
func (c *Coordinator) ReorderFolder(ctx context.Context, folderID string, index int) (*Handle, error) {
	return c.Run(ctx, workspaceMutation(domain.FolderReorder, "", func(ws *cache.Workspace) (domain.Command, error) {
		ids, err := ws.MoveFolder(folderID, index)
		if err != nil {
			return domain.Command{}, err
		}
		encoded, err := order.EncodeIDs(ids)
		if err != nil {
			return domain.Command{}, err
		}
		return domain.NewCommand(domain.EntityFolder, domain.FolderReorder, domain.FolderReorderedData{Order: encoded})
	}))
}
