package cache

import (
	"fmt"
	"sort"
	"time"

	"taskmate-sync/domain"
	"taskmate-sync/order"
)

// InsertTask adds a task, with any subtasks it carries, to the scope named by
// its PanelID and ParentTaskID. The task is placed by its Order key.
func (t *Tree) InsertTask(task domain.Task) error {
	if err := t.checkNewTasks([]domain.Task{task}, map[string]bool{}); err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	var parentID *string
	if task.IsSubtask() {
		parent, ok := t.tasks[*task.ParentTaskID]
		if !ok {
			return domain.NotFound("task", *task.ParentTaskID)
		}
		if task.PanelID == "" {
			task.PanelID = parent.Task.PanelID
		}
		if task.PanelID != parent.Task.PanelID {
			return fmt.Errorf("insert task %s: %w", task.ID, domain.ErrInvalidMove)
		}
		parentID = task.ParentTaskID
	}
	panel, ok := t.panels[task.PanelID]
	if !ok {
		return domain.NotFound("panel", task.PanelID)
	}

	node := &TaskNode{Task: cloneTask(task)}
	node.Task.Subtasks = nil
	node.Task.ParentTaskID = cloneString(parentID)
	t.tasks[task.ID] = node
	id := task.ID
	children, err := t.loadTasks(task.PanelID, &id, task.Subtasks)
	if err != nil {
		return err
	}
	node.SubtaskIDs = children

	list := &panel.TaskIDs
	if parentID != nil {
		list = &t.tasks[*parentID].SubtaskIDs
	}
	*list = order.InsertAt(*list, task.ID, t.sortedIndex(*list, task.Order))
	if parentID != nil {
		t.recomputeAncestors(*parentID)
	}
	return nil
}

// RemoveTask deletes a task and its whole subtree.
func (t *Tree) RemoveTask(id string) error {
	node, ok := t.tasks[id]
	if !ok {
		return domain.NotFound("task", id)
	}
	scope := scopeOf(node)
	list, err := t.scopeList(scope)
	if err != nil {
		return err
	}
	*list = order.Remove(*list, id)
	t.dropSubtree(id)
	if scope.ParentID != "" {
		t.recomputeAncestors(scope.ParentID)
	}
	return nil
}

// MoveTask places a task at index within dest, which may be another panel or
// another parent. It returns every order key it assigned: the moved task and,
// when the gap was exhausted, each renumbered sibling.
func (t *Tree) MoveTask(id string, dest Scope, index int) (map[string]float64, error) {
	node, ok := t.tasks[id]
	if !ok {
		return nil, domain.NotFound("task", id)
	}
	if dest.ParentID != "" {
		parent, ok := t.tasks[dest.ParentID]
		if !ok {
			return nil, domain.NotFound("task", dest.ParentID)
		}
		if dest.ParentID == id || t.isDescendant(dest.ParentID, id) {
			return nil, fmt.Errorf("move %s under %s: %w", id, dest.ParentID, domain.ErrInvalidMove)
		}
		if dest.PanelID == "" {
			dest.PanelID = parent.Task.PanelID
		}
		if dest.PanelID != parent.Task.PanelID {
			return nil, fmt.Errorf("move %s: parent %s is not in panel %s: %w", id, dest.ParentID, dest.PanelID, domain.ErrInvalidMove)
		}
	}
	destList, err := t.scopeList(dest)
	if err != nil {
		return nil, err
	}
	src := scopeOf(node)
	srcList, err := t.scopeList(src)
	if err != nil {
		return nil, err
	}

	*srcList = order.Remove(*srcList, id)
	siblings := *destList
	key, renumbered := order.Insert(t.orderKeys(siblings), index)
	assigned := make(map[string]float64, len(renumbered)+1)
	for i, sid := range siblings {
		if renumbered != nil {
			t.tasks[sid].Task.Order = renumbered[i]
			assigned[sid] = renumbered[i]
		}
	}
	if index < 0 {
		index = 0
	}
	if index > len(siblings) {
		index = len(siblings)
	}
	*destList = order.InsertAt(siblings, id, index)

	node.Task.Order = key
	assigned[id] = key
	if dest.ParentID == "" {
		node.Task.ParentTaskID = nil
	} else {
		pid := dest.ParentID
		node.Task.ParentTaskID = &pid
	}
	if node.Task.PanelID != dest.PanelID {
		t.setPanel(id, dest.PanelID)
	}

	if src.ParentID != "" {
		t.recomputeAncestors(src.ParentID)
	}
	if dest.ParentID != "" {
		t.recomputeAncestors(dest.ParentID)
	}
	return assigned, nil
}

// AttachAsSubtask makes id the last subtask of parentID and returns its new
// order key.
func (t *Tree) AttachAsSubtask(id, parentID string) (float64, error) {
	parent, ok := t.tasks[parentID]
	if !ok {
		return 0, domain.NotFound("task", parentID)
	}
	if _, ok := t.tasks[id]; !ok {
		return 0, domain.NotFound("task", id)
	}
	index := len(parent.SubtaskIDs)
	if order.IndexOf(parent.SubtaskIDs, id) >= 0 {
		index--
	}
	assigned, err := t.MoveTask(id, Scope{PanelID: parent.Task.PanelID, ParentID: parentID}, index)
	if err != nil {
		return 0, err
	}
	return assigned[id], nil
}

// DetachSubtask moves a subtask to the root list of its panel. With a nil key
// it is appended; otherwise it takes the given key and is placed by it.
func (t *Tree) DetachSubtask(id string, key *float64) (map[string]float64, error) {
	node, ok := t.tasks[id]
	if !ok {
		return nil, domain.NotFound("task", id)
	}
	if !node.Task.IsSubtask() {
		return nil, fmt.Errorf("detach %s: not a subtask: %w", id, domain.ErrInvalidMove)
	}
	panel, ok := t.panels[node.Task.PanelID]
	if !ok {
		return nil, domain.NotFound("panel", node.Task.PanelID)
	}
	dest := Scope{PanelID: node.Task.PanelID}
	if key == nil {
		return t.MoveTask(id, dest, len(panel.TaskIDs))
	}

	parentID := *node.Task.ParentTaskID
	parent := t.tasks[parentID]
	parent.SubtaskIDs = order.Remove(parent.SubtaskIDs, id)
	node.Task.ParentTaskID = nil
	node.Task.Order = *key
	panel.TaskIDs = order.InsertAt(panel.TaskIDs, id, t.sortedIndex(panel.TaskIDs, *key))
	t.recomputeAncestors(parentID)
	return map[string]float64{id: *key}, nil
}

// SetOrder assigns a key to a task and repositions it among its siblings.
func (t *Tree) SetOrder(id string, key float64) error {
	node, ok := t.tasks[id]
	if !ok {
		return domain.NotFound("task", id)
	}
	list, err := t.scopeList(scopeOf(node))
	if err != nil {
		return err
	}
	rest := order.Remove(*list, id)
	node.Task.Order = key
	*list = order.InsertAt(rest, id, t.sortedIndex(rest, key))
	return nil
}

// SetCompletion sets the completion of a task and all of its descendants,
// then derives every ancestor's completion from its subtasks.
func (t *Tree) SetCompletion(id string, completed bool) error {
	node, ok := t.tasks[id]
	if !ok {
		return domain.NotFound("task", id)
	}
	t.walk(id, func(n *TaskNode) { n.Task.Completed = completed })
	if node.Task.ParentTaskID != nil {
		t.recomputeAncestors(*node.Task.ParentTaskID)
	}
	return nil
}

// UpdateTask applies the non-nil fields of patch.
func (t *Tree) UpdateTask(id string, patch domain.TaskPatch) error {
	node, ok := t.tasks[id]
	if !ok {
		return domain.NotFound("task", id)
	}
	if patch.Title != nil {
		node.Task.Title = *patch.Title
	}
	if patch.Details != nil {
		node.Task.Details = *patch.Details
	}
	if patch.StartAt != nil {
		node.Task.StartAt = cloneTime(patch.StartAt)
	}
	if patch.EndAt != nil {
		node.Task.EndAt = cloneTime(patch.EndAt)
	}
	if patch.DueAt != nil {
		node.Task.DueAt = cloneTime(patch.DueAt)
	}
	return nil
}

// SetShowSubtasks toggles whether a task's subtasks are displayed.
func (t *Tree) SetShowSubtasks(id string, show bool) error {
	node, ok := t.tasks[id]
	if !ok {
		return domain.NotFound("task", id)
	}
	node.Task.ShowSubtasks = show
	return nil
}

// AddAssignee assigns a user to a task. Assigning twice is a no-op.
func (t *Tree) AddAssignee(taskID string, user domain.User) error {
	node, ok := t.tasks[taskID]
	if !ok {
		return domain.NotFound("task", taskID)
	}
	if indexOfUser(node.Task.Assignees, user.ID) >= 0 {
		return nil
	}
	node.Task.Assignees = append(node.Task.Assignees, user)
	return nil
}

// RemoveAssignee unassigns a user from a task.
func (t *Tree) RemoveAssignee(taskID, userID string) error {
	node, ok := t.tasks[taskID]
	if !ok {
		return domain.NotFound("task", taskID)
	}
	i := indexOfUser(node.Task.Assignees, userID)
	if i < 0 {
		return domain.NotFound("assignee", userID)
	}
	node.Task.Assignees = append(node.Task.Assignees[:i:i], node.Task.Assignees[i+1:]...)
	return nil
}

// AddCollaborator adds a user to the board. Adding twice is a no-op.
func (t *Tree) AddCollaborator(user domain.User) error {
	if user.ID == "" {
		return fmt.Errorf("add collaborator: missing user id")
	}
	if indexOfUser(t.board.Collaborators, user.ID) >= 0 {
		return nil
	}
	t.board.Collaborators = append(t.board.Collaborators, user)
	return nil
}

// RemoveCollaborator removes a user from the board and from every task it
// was assigned to.
func (t *Tree) RemoveCollaborator(userID string) error {
	i := indexOfUser(t.board.Collaborators, userID)
	if i < 0 {
		return domain.NotFound("collaborator", userID)
	}
	t.board.Collaborators = append(t.board.Collaborators[:i:i], t.board.Collaborators[i+1:]...)
	for _, node := range t.tasks {
		if j := indexOfUser(node.Task.Assignees, userID); j >= 0 {
			node.Task.Assignees = append(node.Task.Assignees[:j:j], node.Task.Assignees[j+1:]...)
		}
	}
	return nil
}

// SetTitle renames the board.
func (t *Tree) SetTitle(title string) { t.board.Title = title }

// InsertPanel adds a panel, placed by its Order key, together with any tasks
// it carries.
func (t *Tree) InsertPanel(p domain.Panel) error {
	if p.ID == "" {
		return fmt.Errorf("insert panel: missing id")
	}
	if _, exists := t.panels[p.ID]; exists {
		return fmt.Errorf("insert panel: %s already exists", p.ID)
	}
	if p.BoardID != "" && p.BoardID != t.board.ID {
		return fmt.Errorf("insert panel %s: belongs to board %s", p.ID, p.BoardID)
	}
	if err := t.checkNewTasks(p.Tasks, map[string]bool{}); err != nil {
		return fmt.Errorf("insert panel %s: %w", p.ID, err)
	}
	node := &PanelNode{Panel: p}
	node.Panel.Tasks = nil
	node.Panel.BoardID = t.board.ID
	t.panels[p.ID] = node
	ids, err := t.loadTasks(p.ID, nil, p.Tasks)
	if err != nil {
		return err
	}
	node.TaskIDs = ids

	i := sort.Search(len(t.panelIDs), func(i int) bool { return t.panels[t.panelIDs[i]].Panel.Order > p.Order })
	t.panelIDs = order.InsertAt(t.panelIDs, p.ID, i)
	return nil
}

// RemovePanel deletes a panel and every task in it.
func (t *Tree) RemovePanel(id string) error {
	node, ok := t.panels[id]
	if !ok {
		return domain.NotFound("panel", id)
	}
	for _, tid := range node.TaskIDs {
		t.dropSubtree(tid)
	}
	delete(t.panels, id)
	t.panelIDs = order.Remove(t.panelIDs, id)
	return nil
}

// MovePanel places a panel at index and returns the keys it assigned.
func (t *Tree) MovePanel(id string, index int) (map[string]float64, error) {
	node, ok := t.panels[id]
	if !ok {
		return nil, domain.NotFound("panel", id)
	}
	rest := order.Remove(t.panelIDs, id)
	keys := make([]float64, len(rest))
	for i, pid := range rest {
		keys[i] = t.panels[pid].Panel.Order
	}
	key, renumbered := order.Insert(keys, index)
	assigned := map[string]float64{id: key}
	for i, pid := range rest {
		if renumbered != nil {
			t.panels[pid].Panel.Order = renumbered[i]
			assigned[pid] = renumbered[i]
		}
	}
	node.Panel.Order = key
	t.panelIDs = order.InsertAt(rest, id, index)
	return assigned, nil
}

// UpdatePanel applies the non-nil fields of patch.
func (t *Tree) UpdatePanel(id string, patch domain.PanelPatch) error {
	node, ok := t.panels[id]
	if !ok {
		return domain.NotFound("panel", id)
	}
	if patch.Title != nil {
		node.Panel.Title = *patch.Title
	}
	if patch.Color != nil {
		node.Panel.Color = *patch.Color
	}
	if patch.Visible != nil {
		node.Panel.Visible = *patch.Visible
	}
	if patch.ShowCompleted != nil {
		node.Panel.ShowCompleted = *patch.ShowCompleted
	}
	return nil
}

// SetOrders applies keys computed elsewhere, typically the orders a server
// confirmed, to tasks and panels and re-sorts the affected lists.
func (t *Tree) SetOrders(keys map[string]float64) error {
	for id, key := range keys {
		if _, ok := t.tasks[id]; ok {
			if err := t.SetOrder(id, key); err != nil {
				return err
			}
			continue
		}
		node, ok := t.panels[id]
		if !ok {
			return domain.NotFound("task", id)
		}
		rest := order.Remove(t.panelIDs, id)
		node.Panel.Order = key
		i := sort.Search(len(rest), func(i int) bool { return t.panels[rest[i]].Panel.Order > key })
		t.panelIDs = order.InsertAt(rest, id, i)
	}
	return nil
}

// checkNewTasks rejects missing, duplicate or already indexed ids so that a
// subsequent load cannot fail halfway.
func (t *Tree) checkNewTasks(tasks []domain.Task, seen map[string]bool) error {
	for _, task := range tasks {
		if task.ID == "" {
			return fmt.Errorf("task without id")
		}
		if _, exists := t.tasks[task.ID]; exists || seen[task.ID] {
			return fmt.Errorf("task %s already exists", task.ID)
		}
		seen[task.ID] = true
		if err := t.checkNewTasks(task.Subtasks, seen); err != nil {
			return err
		}
	}
	return nil
}

// sortedIndex returns the position after the last sibling whose key is not
// greater than key.
func (t *Tree) sortedIndex(ids []string, key float64) int {
	return sort.Search(len(ids), func(i int) bool { return t.tasks[ids[i]].Task.Order > key })
}

func (t *Tree) recomputeAncestors(id string) {
	for id != "" {
		node, ok := t.tasks[id]
		if !ok {
			return
		}
		if len(node.SubtaskIDs) > 0 {
			all := true
			for _, sid := range node.SubtaskIDs {
				if !t.tasks[sid].Task.Completed {
					all = false
					break
				}
			}
			node.Task.Completed = all
		}
		if node.Task.ParentTaskID == nil {
			return
		}
		id = *node.Task.ParentTaskID
	}
}

// isDescendant reports whether id sits somewhere below ancestor.
func (t *Tree) isDescendant(id, ancestor string) bool {
	node, ok := t.tasks[id]
	for ok && node.Task.ParentTaskID != nil {
		if *node.Task.ParentTaskID == ancestor {
			return true
		}
		node, ok = t.tasks[*node.Task.ParentTaskID]
	}
	return false
}

func (t *Tree) walk(id string, fn func(*TaskNode)) {
	node, ok := t.tasks[id]
	if !ok {
		return
	}
	fn(node)
	for _, sid := range node.SubtaskIDs {
		t.walk(sid, fn)
	}
}

func (t *Tree) setPanel(id, panelID string) {
	t.walk(id, func(n *TaskNode) { n.Task.PanelID = panelID })
}

func (t *Tree) dropSubtree(id string) {
	node, ok := t.tasks[id]
	if !ok {
		return
	}
	for _, sid := range node.SubtaskIDs {
		t.dropSubtree(sid)
	}
	delete(t.tasks, id)
}

func indexOfUser(users []domain.User, id string) int {
	for i, u := range users {
		if u.ID == id {
			return i
		}
	}
	return -1
}

func cloneTime(ts *time.Time) *time.Time {
	if ts == nil {
		return nil
	}
	v := *ts
	return &v
}
