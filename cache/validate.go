package cache

import "fmt"

// Validate checks the structural invariants of the tree: every indexed task
// is reachable from exactly one scope, back-references match the scope that
// holds the task, sibling keys never decrease and a parent's completion equals
// the conjunction of its subtasks.
func (t *Tree) Validate() error {
	if len(t.panelIDs) != len(t.panels) {
		return fmt.Errorf("board %s: %d panels listed, %d stored", t.board.ID, len(t.panelIDs), len(t.panels))
	}
	seen := make(map[string]bool, len(t.tasks))
	var prevPanel *float64
	for _, pid := range t.panelIDs {
		panel, ok := t.panels[pid]
		if !ok {
			return fmt.Errorf("board %s: listed panel %s is not stored", t.board.ID, pid)
		}
		if panel.Panel.BoardID != t.board.ID {
			return fmt.Errorf("panel %s: board %q, want %q", pid, panel.Panel.BoardID, t.board.ID)
		}
		if prevPanel != nil && panel.Panel.Order < *prevPanel {
			return fmt.Errorf("panel %s: order %v below previous %v", pid, panel.Panel.Order, *prevPanel)
		}
		o := panel.Panel.Order
		prevPanel = &o
		if err := t.validateList(pid, "", panel.TaskIDs, seen); err != nil {
			return err
		}
	}
	if len(seen) != len(t.tasks) {
		for id := range t.tasks {
			if !seen[id] {
				return fmt.Errorf("task %s: indexed but unreachable", id)
			}
		}
	}
	return nil
}

func (t *Tree) validateList(panelID, parentID string, ids []string, seen map[string]bool) error {
	var prev *float64
	for _, id := range ids {
		node, ok := t.tasks[id]
		if !ok {
			return fmt.Errorf("task %s: listed but not indexed", id)
		}
		if seen[id] {
			return fmt.Errorf("task %s: reachable from more than one scope", id)
		}
		seen[id] = true
		if node.Task.PanelID != panelID {
			return fmt.Errorf("task %s: panel %q, want %q", id, node.Task.PanelID, panelID)
		}
		got := ""
		if node.Task.ParentTaskID != nil {
			got = *node.Task.ParentTaskID
		}
		if got != parentID {
			return fmt.Errorf("task %s: parent %q, want %q", id, got, parentID)
		}
		if prev != nil && node.Task.Order < *prev {
			return fmt.Errorf("task %s: order %v below previous %v", id, node.Task.Order, *prev)
		}
		o := node.Task.Order
		prev = &o
		if len(node.SubtaskIDs) > 0 {
			all := true
			for _, sid := range node.SubtaskIDs {
				if sub, ok := t.tasks[sid]; ok && !sub.Task.Completed {
					all = false
				}
			}
			if node.Task.Completed != all {
				return fmt.Errorf("task %s: completed=%v but subtasks all completed=%v", id, node.Task.Completed, all)
			}
		}
		if err := t.validateList(panelID, id, node.SubtaskIDs, seen); err != nil {
			return err
		}
	}
	return nil
}
