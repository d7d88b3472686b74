package cache

import (
	"fmt"
	"sort"

	"taskmate-sync/domain"
)

// TaskNode is the arena record of a task. Task.Subtasks is always nil inside
// the arena; children are referenced by SubtaskIDs.
type TaskNode struct {
	Task       domain.Task
	SubtaskIDs []string
}

// PanelNode is the arena record of a panel. Panel.Tasks is always nil inside
// the arena; root tasks are referenced by TaskIDs.
type PanelNode struct {
	Panel   domain.Panel
	TaskIDs []string
}

// Scope addresses a sibling list: a panel's root list when ParentID is empty,
// otherwise the subtask list of ParentID.
type Scope struct {
	PanelID  string
	ParentID string
}

// Tree is the cached state of one board. The task table doubles as the flat
// task index: every task, root or nested, is one record keyed by id, so each
// structural edit touches a single table.
type Tree struct {
	board    domain.Board
	panelIDs []string
	panels   map[string]*PanelNode
	tasks    map[string]*TaskNode
}

// NewTree builds the arena from a nested board as returned by the server.
// Panels and sibling lists are sorted by order; subtasks inherit the panel of
// their root task.
func NewTree(b domain.Board) (*Tree, error) {
	t := &Tree{
		board:  b,
		panels: make(map[string]*PanelNode, len(b.Panels)),
		tasks:  make(map[string]*TaskNode),
	}
	t.board.Panels = nil
	t.board.Collaborators = cloneUsers(b.Collaborators)

	panels := append([]domain.Panel(nil), b.Panels...)
	sort.SliceStable(panels, func(i, j int) bool { return panels[i].Order < panels[j].Order })
	for _, p := range panels {
		if p.ID == "" {
			return nil, fmt.Errorf("board %s: panel without id", b.ID)
		}
		if _, dup := t.panels[p.ID]; dup {
			return nil, fmt.Errorf("board %s: duplicate panel %s", b.ID, p.ID)
		}
		node := &PanelNode{Panel: p}
		node.Panel.Tasks = nil
		node.Panel.BoardID = b.ID
		t.panels[p.ID] = node
		t.panelIDs = append(t.panelIDs, p.ID)

		ids, err := t.loadTasks(p.ID, nil, p.Tasks)
		if err != nil {
			return nil, err
		}
		node.TaskIDs = ids
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Tree) loadTasks(panelID string, parentID *string, tasks []domain.Task) ([]string, error) {
	sorted := append([]domain.Task(nil), tasks...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Order < sorted[j].Order })
	ids := make([]string, 0, len(sorted))
	for _, task := range sorted {
		if task.ID == "" {
			return nil, fmt.Errorf("panel %s: task without id", panelID)
		}
		if _, dup := t.tasks[task.ID]; dup {
			return nil, fmt.Errorf("panel %s: duplicate task %s", panelID, task.ID)
		}
		node := &TaskNode{Task: cloneTask(task)}
		node.Task.Subtasks = nil
		node.Task.PanelID = panelID
		node.Task.ParentTaskID = cloneString(parentID)
		t.tasks[task.ID] = node

		id := task.ID
		children, err := t.loadTasks(panelID, &id, task.Subtasks)
		if err != nil {
			return nil, err
		}
		node.SubtaskIDs = children
		ids = append(ids, task.ID)
	}
	return ids, nil
}

// ID returns the board id.
func (t *Tree) ID() string { return t.board.ID }

// Title returns the board title.
func (t *Tree) Title() string { return t.board.Title }

// Collaborators returns a copy of the board's collaborators.
func (t *Tree) Collaborators() []domain.User { return cloneUsers(t.board.Collaborators) }

// PanelIDs returns the panel ids in display order.
func (t *Tree) PanelIDs() []string { return append([]string(nil), t.panelIDs...) }

// TaskCount returns the number of indexed tasks, subtasks included.
func (t *Tree) TaskCount() int { return len(t.tasks) }

// Lookup returns the index entry of a task without its subtasks.
func (t *Tree) Lookup(id string) (domain.Task, bool) {
	node, ok := t.tasks[id]
	if !ok {
		return domain.Task{}, false
	}
	return cloneTask(node.Task), true
}

// Task returns a task with its subtasks materialized.
func (t *Tree) Task(id string) (domain.Task, bool) {
	if _, ok := t.tasks[id]; !ok {
		return domain.Task{}, false
	}
	return t.materializeTask(id), true
}

// Panel returns a panel with its task tree materialized.
func (t *Tree) Panel(id string) (domain.Panel, bool) {
	if _, ok := t.panels[id]; !ok {
		return domain.Panel{}, false
	}
	return t.materializePanel(id), true
}

// Scope returns the sibling list a task currently belongs to.
func (t *Tree) Scope(id string) (Scope, bool) {
	node, ok := t.tasks[id]
	if !ok {
		return Scope{}, false
	}
	return scopeOf(node), true
}

// Siblings returns the ids of a scope in order.
func (t *Tree) Siblings(s Scope) ([]string, error) {
	list, err := t.scopeList(s)
	if err != nil {
		return nil, err
	}
	return append([]string(nil), (*list)...), nil
}

// Board materializes the nested board view.
func (t *Tree) Board() domain.Board {
	b := t.board
	b.Collaborators = cloneUsers(t.board.Collaborators)
	b.Panels = make([]domain.Panel, 0, len(t.panelIDs))
	for _, id := range t.panelIDs {
		b.Panels = append(b.Panels, t.materializePanel(id))
	}
	return b
}

func (t *Tree) materializePanel(id string) domain.Panel {
	node := t.panels[id]
	p := node.Panel
	p.Tasks = make([]domain.Task, 0, len(node.TaskIDs))
	for _, tid := range node.TaskIDs {
		p.Tasks = append(p.Tasks, t.materializeTask(tid))
	}
	return p
}

func (t *Tree) materializeTask(id string) domain.Task {
	node := t.tasks[id]
	task := cloneTask(node.Task)
	task.Subtasks = make([]domain.Task, 0, len(node.SubtaskIDs))
	for _, sid := range node.SubtaskIDs {
		task.Subtasks = append(task.Subtasks, t.materializeTask(sid))
	}
	return task
}

// Clone returns a deep copy that shares no mutable state with t.
func (t *Tree) Clone() *Tree {
	c := &Tree{
		board:    t.board,
		panelIDs: append([]string(nil), t.panelIDs...),
		panels:   make(map[string]*PanelNode, len(t.panels)),
		tasks:    make(map[string]*TaskNode, len(t.tasks)),
	}
	c.board.Collaborators = cloneUsers(t.board.Collaborators)
	for id, p := range t.panels {
		c.panels[id] = &PanelNode{Panel: p.Panel, TaskIDs: append([]string(nil), p.TaskIDs...)}
	}
	for id, n := range t.tasks {
		c.tasks[id] = &TaskNode{Task: cloneTask(n.Task), SubtaskIDs: append([]string(nil), n.SubtaskIDs...)}
	}
	return c
}

// CloneValue implements Value.
func (t *Tree) CloneValue() Value { return t.Clone() }

func scopeOf(node *TaskNode) Scope {
	s := Scope{PanelID: node.Task.PanelID}
	if node.Task.ParentTaskID != nil {
		s.ParentID = *node.Task.ParentTaskID
	}
	return s
}

func (t *Tree) scopeList(s Scope) (*[]string, error) {
	if s.ParentID != "" {
		parent, ok := t.tasks[s.ParentID]
		if !ok {
			return nil, domain.NotFound("task", s.ParentID)
		}
		return &parent.SubtaskIDs, nil
	}
	panel, ok := t.panels[s.PanelID]
	if !ok {
		return nil, domain.NotFound("panel", s.PanelID)
	}
	return &panel.TaskIDs, nil
}

func (t *Tree) orderKeys(ids []string) []float64 {
	keys := make([]float64, len(ids))
	for i, id := range ids {
		keys[i] = t.tasks[id].Task.Order
	}
	return keys
}

func cloneTask(task domain.Task) domain.Task {
	c := task
	c.StartAt = cloneTime(task.StartAt)
	c.EndAt = cloneTime(task.EndAt)
	c.DueAt = cloneTime(task.DueAt)
	c.ParentTaskID = cloneString(task.ParentTaskID)
	c.Assignees = cloneUsers(task.Assignees)
	if task.Attachments != nil {
		c.Attachments = append(c.Attachments[:0:0], task.Attachments...)
	}
	if task.Activity != nil {
		c.Activity = append(c.Activity[:0:0], task.Activity...)
	}
	if task.Subtasks != nil {
		c.Subtasks = make([]domain.Task, len(task.Subtasks))
		for i := range task.Subtasks {
			c.Subtasks[i] = cloneTask(task.Subtasks[i])
		}
	}
	return c
}

func cloneUsers(users []domain.User) []domain.User {
	if users == nil {
		return nil
	}
	return append([]domain.User(nil), users...)
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
