package domain

import (
	"encoding/json"
	"time"
)

// Task is a unit of work. A task with a ParentTaskID is a subtask and lives in
// its parent's Subtasks list instead of its panel's root list.
type Task struct {
	ID           string            `json:"id"`
	PanelID      string            `json:"panelId"`
	Title        string            `json:"title"`
	Details      string            `json:"details,omitempty"`
	StartAt      *time.Time        `json:"startAt,omitempty"`
	EndAt        *time.Time        `json:"endAt,omitempty"`
	DueAt        *time.Time        `json:"dueAt,omitempty"`
	Completed    bool              `json:"isCompleted"`
	Order        float64           `json:"order"`
	ParentTaskID *string           `json:"parentTaskId"`
	Subtasks     []Task            `json:"subtasks"`
	ShowSubtasks bool              `json:"showSubtasks"`
	Assignees    []User            `json:"assignees"`
	Attachments  []json.RawMessage `json:"attachments,omitempty"`
	Activity     []json.RawMessage `json:"activity,omitempty"`
}

// IsSubtask reports whether the task is nested under another task.
func (t Task) IsSubtask() bool { return t.ParentTaskID != nil && *t.ParentTaskID != "" }

// TaskPatch carries the task fields a rename/update may change.
type TaskPatch struct {
	Title   *string    `json:"title,omitempty"`
	Details *string    `json:"details,omitempty"`
	StartAt *time.Time `json:"startAt,omitempty"`
	EndAt   *time.Time `json:"endAt,omitempty"`
	DueAt   *time.Time `json:"dueAt,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p TaskPatch) Empty() bool {
	return p.Title == nil && p.Details == nil && p.StartAt == nil && p.EndAt == nil && p.DueAt == nil
}
