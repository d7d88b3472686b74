package domain

import (
	"errors"
	"fmt"

	"github.com/bytedance/sonic"
)

// Command represents a write request sent to the authoritative store.
type Command struct {
	// ID carries the idempotency key once the command is accepted.
	ID             string                 `json:"id,omitempty"`
	IdempotencyKey string                 `json:"idempotencyKey"`
	EntityType     string                 `json:"entityType"`
	Type           string                 `json:"type"`
	Data           sonic.NoCopyRawMessage `json:"data,omitempty"`
	Timestamp      int64                  `json:"timestamp"`
}

// CommandEnvelope wraps a command with the user performing it.
type CommandEnvelope struct {
	UserID  string  `json:"userId"`
	Command Command `json:"command"`
}

// NewCommand encodes data into a command of the given type.
func NewCommand(entityType, typ string, data any) (Command, error) {
	payload, err := sonic.Marshal(data)
	if err != nil {
		return Command{}, err
	}
	return Command{EntityType: entityType, Type: typ, Data: payload}, nil
}

const (
	EntityTask   = "task"
	EntityPanel  = "panel"
	EntityBoard  = "board"
	EntityFolder = "folder"
)

const (
	TaskCreate         = "task-create"
	TaskDelete         = "task-delete"
	TaskUpdate         = "task-update"
	TaskToggle         = "task-toggle"
	TaskCombine        = "task-combine"
	TaskUnappend       = "task-unappend"
	TaskReorder        = "task-reorder"
	TaskAssign         = "task-assign"
	TaskUnassign       = "task-unassign"
	TaskSubtaskDisplay = "task-subtask-display"
	PanelCreate        = "panel-create"
	PanelDelete        = "panel-delete"
	PanelUpdate        = "panel-update"
	PanelReorder       = "panel-reorder"
	BoardCreate        = "board-create"
	BoardDelete        = "board-delete"
	BoardRename        = "board-rename"
	BoardMove          = "board-move"
	BoardReorder       = "board-reorder"
	BoardAddMember     = "board-add-collaborator"
	BoardRemoveMember  = "board-remove-collaborator"
	FolderCreate       = "folder-create"
	FolderDelete       = "folder-delete"
	FolderRename       = "folder-rename"
	FolderReorder      = "folder-reorder"
)

// TaskCreatedData is the payload of TaskCreate.
type TaskCreatedData struct {
	BoardID string `json:"boardId"`
	Task    Task   `json:"task"`
}

// TaskRefData addresses a single task.
type TaskRefData struct {
	BoardID string `json:"boardId"`
	TaskID  string `json:"taskId"`
}

// TaskUpdatedData is the payload of TaskUpdate.
type TaskUpdatedData struct {
	BoardID string    `json:"boardId"`
	TaskID  string    `json:"taskId"`
	Patch   TaskPatch `json:"patch"`
}

// TaskToggledData is the payload of TaskToggle and TaskSubtaskDisplay.
type TaskToggledData struct {
	BoardID string `json:"boardId"`
	TaskID  string `json:"taskId"`
	Value   bool   `json:"value"`
}

// TaskCombinedData is the payload of TaskCombine.
type TaskCombinedData struct {
	BoardID  string  `json:"boardId"`
	TaskID   string  `json:"taskId"`
	ParentID string  `json:"parentTaskId"`
	Order    float64 `json:"order"`
}

// TaskMovedData is the payload of TaskUnappend and TaskReorder. Orders holds
// every order key the client assigned, including renumbered siblings.
type TaskMovedData struct {
	BoardID  string             `json:"boardId"`
	TaskID   string             `json:"taskId"`
	PanelID  string             `json:"panelId"`
	ParentID *string            `json:"parentTaskId"`
	Orders   map[string]float64 `json:"orders"`
}

// TaskAssigneeData is the payload of TaskAssign and TaskUnassign.
type TaskAssigneeData struct {
	BoardID string `json:"boardId"`
	TaskID  string `json:"taskId"`
	UserID  string `json:"userId"`
}

// PanelCreatedData is the payload of PanelCreate.
type PanelCreatedData struct {
	Panel Panel `json:"panel"`
}

// PanelRefData addresses a single panel.
type PanelRefData struct {
	BoardID string `json:"boardId"`
	PanelID string `json:"panelId"`
}

// PanelUpdatedData is the payload of PanelUpdate.
type PanelUpdatedData struct {
	BoardID string     `json:"boardId"`
	PanelID string     `json:"panelId"`
	Patch   PanelPatch `json:"patch"`
}

// PanelReorderedData is the payload of PanelReorder.
type PanelReorderedData struct {
	BoardID string             `json:"boardId"`
	PanelID string             `json:"panelId"`
	Orders  map[string]float64 `json:"orders"`
}

// BoardCreatedData is the payload of BoardCreate.
type BoardCreatedData struct {
	Board    BoardSummary `json:"board"`
	FolderID string       `json:"folderId,omitempty"`
}

// BoardRefData addresses a single board.
type BoardRefData struct {
	BoardID string `json:"boardId"`
}

// BoardRenamedData is the payload of BoardRename.
type BoardRenamedData struct {
	BoardID string `json:"boardId"`
	Title   string `json:"title"`
}

// BoardMovedData is the payload of BoardMove and BoardReorder. Order is the
// resulting id list of the destination collection.
type BoardMovedData struct {
	BoardID      string `json:"boardId"`
	FromFolderID string `json:"fromFolderId,omitempty"`
	ToFolderID   string `json:"toFolderId,omitempty"`
	Order        string `json:"order"`
}

// CollaboratorData is the payload of BoardAddMember and BoardRemoveMember.
type CollaboratorData struct {
	BoardID string `json:"boardId"`
	User    User   `json:"user"`
}

// FolderCreatedData is the payload of FolderCreate.
type FolderCreatedData struct {
	FolderID string `json:"folderId"`
	Title    string `json:"title"`
}

// FolderRefData addresses a single folder.
type FolderRefData struct {
	FolderID string `json:"folderId"`
}

// FolderRenamedData is the payload of FolderRename.
type FolderRenamedData struct {
	FolderID string `json:"folderId"`
	Title    string `json:"title"`
}

// FolderReorderedData is the payload of FolderReorder. Order is the user's
// resulting folder order as a delimited id string.
type FolderReorderedData struct {
	Order string `json:"order"`
}

var commandEntities = map[string]string{
	TaskCreate:         EntityTask,
	TaskDelete:         EntityTask,
	TaskUpdate:         EntityTask,
	TaskToggle:         EntityTask,
	TaskCombine:        EntityTask,
	TaskUnappend:       EntityTask,
	TaskReorder:        EntityTask,
	TaskAssign:         EntityTask,
	TaskUnassign:       EntityTask,
	TaskSubtaskDisplay: EntityTask,
	PanelCreate:        EntityPanel,
	PanelDelete:        EntityPanel,
	PanelUpdate:        EntityPanel,
	PanelReorder:       EntityPanel,
	BoardCreate:        EntityBoard,
	BoardDelete:        EntityBoard,
	BoardRename:        EntityBoard,
	BoardMove:          EntityBoard,
	BoardReorder:       EntityBoard,
	BoardAddMember:     EntityBoard,
	BoardRemoveMember:  EntityBoard,
	FolderCreate:       EntityFolder,
	FolderDelete:       EntityFolder,
	FolderRename:       EntityFolder,
	FolderReorder:      EntityFolder,
}

// ErrUnknownCommand is returned by Validate for unsupported command types.
var ErrUnknownCommand = errors.New("unknown command")

// Validate checks that the command type exists and belongs to its entity.
func (c Command) Validate() error {
	entity, ok := commandEntities[c.Type]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownCommand, c.Type)
	}
	if c.EntityType != entity {
		return fmt.Errorf("%w: %q is not a %s command", ErrUnknownCommand, c.Type, c.EntityType)
	}
	return nil
}

// BoardID returns the board a command refers to, or "" for workspace and
// folder commands.
func (c Command) BoardID() string {
	if len(c.Data) == 0 {
		return ""
	}
	var ref struct {
		BoardID string `json:"boardId"`
		Panel   struct {
			BoardID string `json:"boardId"`
		} `json:"panel"`
	}
	if sonic.Unmarshal(c.Data, &ref) != nil {
		return ""
	}
	if ref.BoardID != "" {
		return ref.BoardID
	}
	return ref.Panel.BoardID
}

// CreatedBoardID returns the id of the board a BoardCreate command creates,
// or "" for any other command.
func (c Command) CreatedBoardID() string {
	if c.Type != BoardCreate || len(c.Data) == 0 {
		return ""
	}
	var data BoardCreatedData
	if sonic.Unmarshal(c.Data, &data) != nil {
		return ""
	}
	return data.Board.ID
}
