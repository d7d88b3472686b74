package engine

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"taskmate-sync/cache"
	"taskmate-sync/domain"
	"taskmate-sync/order"
)

// CreatePanel appends a panel to a board.
func (c *Coordinator) CreatePanel(ctx context.Context, boardID string, panel domain.Panel) (*Handle, error) {
	if panel.ID == "" {
		panel.ID = uuid.NewString()
	}
	panel.BoardID = boardID
	h, err := c.Run(ctx, boardMutation(domain.PanelCreate, boardID, func(tree *cache.Tree) (domain.Command, error) {
		var last *float64
		if ids := tree.PanelIDs(); len(ids) > 0 {
			p, _ := tree.Panel(ids[len(ids)-1])
			last = &p.Order
		}
		panel.Order = order.Append(last)
		if err := tree.InsertPanel(panel); err != nil {
			return domain.Command{}, err
		}
		created, _ := tree.Panel(panel.ID)
		return domain.NewCommand(domain.EntityPanel, domain.PanelCreate, domain.PanelCreatedData{Panel: created})
	}))
	if err != nil {
		return nil, err
	}
	h.EntityID = panel.ID
	return h, nil
}

// DeletePanel removes a panel and all of its tasks.
func (c *Coordinator) DeletePanel(ctx context.Context, boardID, panelID string) (*Handle, error) {
	return c.Run(ctx, boardMutation(domain.PanelDelete, boardID, func(tree *cache.Tree) (domain.Command, error) {
		if err := tree.RemovePanel(panelID); err != nil {
			return domain.Command{}, err
		}
		return domain.NewCommand(domain.EntityPanel, domain.PanelDelete, domain.PanelRefData{BoardID: boardID, PanelID: panelID})
	}))
}

// UpdatePanel renames, recolors, hides or shows a panel, or toggles whether it
// lists completed tasks.
func (c *Coordinator) UpdatePanel(ctx context.Context, boardID, panelID string, patch domain.PanelPatch) (*Handle, error) {
	if patch.Empty() {
		return nil, fmt.Errorf("update panel %s: %w", panelID, errEmptyPatch)
	}
	return c.Run(ctx, boardMutation(domain.PanelUpdate, boardID, func(tree *cache.Tree) (domain.Command, error) {
		if err := tree.UpdatePanel(panelID, patch); err != nil {
			return domain.Command{}, err
		}
		return domain.NewCommand(domain.EntityPanel, domain.PanelUpdate, domain.PanelUpdatedData{BoardID: boardID, PanelID: panelID, Patch: patch})
	}))
}

// ReorderPanel moves a panel to index among the board's panels.
func (c *Coordinator) ReorderPanel(ctx context.Context, boardID, panelID string, index int) (*Handle, error) {
	return c.Run(ctx, boardMutation(domain.PanelReorder, boardID, func(tree *cache.Tree) (domain.Command, error) {
		assigned, err := tree.MovePanel(panelID, index)
		if err != nil {
			return domain.Command{}, err
		}
		return domain.NewCommand(domain.EntityPanel, domain.PanelReorder, domain.PanelReorderedData{BoardID: boardID, PanelID: panelID, Orders: assigned})
	}))
}
