package storage

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/bytedance/sonic"

	"taskmate-sync/domain"
	"taskmate-sync/order"
)

// Row key prefixes. A board partition holds one board row plus one row per
// panel and task; a workspace partition holds one workspace row plus one row
// per folder and board summary.
const (
	boardRowKey     = "board"
	workspaceRowKey = "workspace"
	panelPrefix     = "panel_"
	taskPrefix      = "task_"
	folderPrefix    = "folder_"
	summaryPrefix   = "board_"
)

type boardEntity struct {
	aztables.Entity
	Title         string `json:"Title"`
	Thumbnail     string `json:"Thumbnail,omitempty"`
	Collaborators string `json:"Collaborators,omitempty"`
}

type panelEntity struct {
	aztables.Entity
	Title         string  `json:"Title"`
	Color         string  `json:"Color,omitempty"`
	Visible       bool    `json:"Visible"`
	ShowCompleted bool    `json:"ShowCompleted"`
	Order         float64 `json:"Order"`
}

type taskEntity struct {
	aztables.Entity
	PanelID      string  `json:"PanelId"`
	ParentTaskID string  `json:"ParentTaskId,omitempty"`
	Title        string  `json:"Title"`
	Details      string  `json:"Details,omitempty"`
	StartAt      string  `json:"StartAt,omitempty"`
	EndAt        string  `json:"EndAt,omitempty"`
	DueAt        string  `json:"DueAt,omitempty"`
	Completed    bool    `json:"Completed"`
	ShowSubtasks bool    `json:"ShowSubtasks"`
	Order        float64 `json:"Order"`
	Assignees    string  `json:"Assignees,omitempty"`
}

type workspaceEntity struct {
	aztables.Entity
	FolderOrder string `json:"FolderOrder,omitempty"`
	BoardOrder  string `json:"BoardOrder,omitempty"`
}

type folderEntity struct {
	aztables.Entity
	Title      string `json:"Title"`
	BoardOrder string `json:"BoardOrder,omitempty"`
}

type summaryEntity struct {
	aztables.Entity
	Title     string `json:"Title"`
	Thumbnail string `json:"Thumbnail,omitempty"`
	FolderID  string `json:"FolderId,omitempty"`
}

type userEntity struct {
	aztables.Entity
	Name  string `json:"Name"`
	Email string `json:"Email"`
	Image string `json:"Image,omitempty"`
}

func decodeUserEntity(data []byte) (domain.User, error) {
	var ent userEntity
	if err := sonic.Unmarshal(data, &ent); err != nil {
		return domain.User{}, err
	}
	return domain.User{ID: ent.RowKey, Name: ent.Name, Email: ent.Email, Image: ent.Image}, nil
}

// assembleBoard builds the board tree from the rows of its partition.
func assembleBoard(boardID string, rows [][]byte) (domain.Board, error) {
	var (
		head   *boardEntity
		panels []domain.Panel
		tasks  []taskEntity
	)
	for _, raw := range rows {
		var key aztables.Entity
		if err := sonic.Unmarshal(raw, &key); err != nil {
			return domain.Board{}, err
		}
		switch {
		case key.RowKey == boardRowKey:
			var ent boardEntity
			if err := sonic.Unmarshal(raw, &ent); err != nil {
				return domain.Board{}, err
			}
			head = &ent
		case strings.HasPrefix(key.RowKey, panelPrefix):
			var ent panelEntity
			if err := sonic.Unmarshal(raw, &ent); err != nil {
				return domain.Board{}, err
			}
			panels = append(panels, domain.Panel{
				ID:            strings.TrimPrefix(ent.RowKey, panelPrefix),
				BoardID:       boardID,
				Title:         ent.Title,
				Color:         ent.Color,
				Visible:       ent.Visible,
				ShowCompleted: ent.ShowCompleted,
				Order:         ent.Order,
				Tasks:         []domain.Task{},
			})
		case strings.HasPrefix(key.RowKey, taskPrefix):
			var ent taskEntity
			if err := sonic.Unmarshal(raw, &ent); err != nil {
				return domain.Board{}, err
			}
			tasks = append(tasks, ent)
		}
	}
	if head == nil {
		return domain.Board{}, domain.NotFound("board", boardID)
	}

	b := domain.Board{ID: boardID, Title: head.Title, Thumbnail: head.Thumbnail, Collaborators: []domain.User{}}
	if head.Collaborators != "" {
		if err := sonic.UnmarshalString(head.Collaborators, &b.Collaborators); err != nil {
			return domain.Board{}, fmt.Errorf("board %s collaborators: %w", boardID, err)
		}
	}

	children := make(map[string][]domain.Task)
	for _, ent := range tasks {
		t, err := taskFromEntity(ent, b.Collaborators)
		if err != nil {
			return domain.Board{}, err
		}
		parent := panelPrefix + ent.PanelID
		if ent.ParentTaskID != "" {
			parent = taskPrefix + ent.ParentTaskID
		}
		children[parent] = append(children[parent], t)
	}
	var nest func(parent string) []domain.Task
	nest = func(parent string) []domain.Task {
		list := children[parent]
		sort.SliceStable(list, func(i, j int) bool { return list[i].Order < list[j].Order })
		for i := range list {
			list[i].Subtasks = nest(taskPrefix + list[i].ID)
		}
		if list == nil {
			list = []domain.Task{}
		}
		return list
	}
	sort.SliceStable(panels, func(i, j int) bool { return panels[i].Order < panels[j].Order })
	for i := range panels {
		panels[i].Tasks = nest(panelPrefix + panels[i].ID)
	}
	b.Panels = panels
	if b.Panels == nil {
		b.Panels = []domain.Panel{}
	}
	return b, nil
}

func taskFromEntity(ent taskEntity, collaborators []domain.User) (domain.Task, error) {
	t := domain.Task{
		ID:           strings.TrimPrefix(ent.RowKey, taskPrefix),
		PanelID:      ent.PanelID,
		Title:        ent.Title,
		Details:      ent.Details,
		Completed:    ent.Completed,
		ShowSubtasks: ent.ShowSubtasks,
		Order:        ent.Order,
		Assignees:    []domain.User{},
	}
	if ent.ParentTaskID != "" {
		parent := ent.ParentTaskID
		t.ParentTaskID = &parent
	}
	var err error
	if t.StartAt, err = parseTime(ent.StartAt); err != nil {
		return domain.Task{}, err
	}
	if t.EndAt, err = parseTime(ent.EndAt); err != nil {
		return domain.Task{}, err
	}
	if t.DueAt, err = parseTime(ent.DueAt); err != nil {
		return domain.Task{}, err
	}
	for _, id := range order.DecodeIDs(ent.Assignees) {
		u := domain.User{ID: id}
		for _, c := range collaborators {
			if c.ID == id {
				u = c
				break
			}
		}
		t.Assignees = append(t.Assignees, u)
	}
	return t, nil
}

func parseTime(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	return &t, nil
}

// assembleWorkspace builds a user's board list from the rows of its
// partition.
func assembleWorkspace(userID string, rows [][]byte) (domain.Workspace, error) {
	ws := domain.Workspace{UserID: userID, Folders: []domain.Folder{}, Boards: []domain.BoardSummary{}}
	var summaries []summaryEntity
	for _, raw := range rows {
		var key aztables.Entity
		if err := sonic.Unmarshal(raw, &key); err != nil {
			return domain.Workspace{}, err
		}
		switch {
		case key.RowKey == workspaceRowKey:
			var ent workspaceEntity
			if err := sonic.Unmarshal(raw, &ent); err != nil {
				return domain.Workspace{}, err
			}
			ws.FolderOrder = order.DecodeIDs(ent.FolderOrder)
			ws.BoardOrder = order.DecodeIDs(ent.BoardOrder)
		case strings.HasPrefix(key.RowKey, folderPrefix):
			var ent folderEntity
			if err := sonic.Unmarshal(raw, &ent); err != nil {
				return domain.Workspace{}, err
			}
			ws.Folders = append(ws.Folders, domain.Folder{
				ID:         strings.TrimPrefix(ent.RowKey, folderPrefix),
				Title:      ent.Title,
				BoardOrder: order.DecodeIDs(ent.BoardOrder),
				Boards:     []domain.BoardSummary{},
			})
		case strings.HasPrefix(key.RowKey, summaryPrefix):
			var ent summaryEntity
			if err := sonic.Unmarshal(raw, &ent); err != nil {
				return domain.Workspace{}, err
			}
			summaries = append(summaries, ent)
		}
	}
	for _, ent := range summaries {
		s := domain.BoardSummary{
			ID:        strings.TrimPrefix(ent.RowKey, summaryPrefix),
			Title:     ent.Title,
			Thumbnail: ent.Thumbnail,
			FolderID:  ent.FolderID,
		}
		placed := false
		for i := range ws.Folders {
			if ws.Folders[i].ID == s.FolderID {
				ws.Folders[i].Boards = append(ws.Folders[i].Boards, s)
				placed = true
				break
			}
		}
		if !placed {
			// Folder row gone: the board falls back to the unorganized list.
			s.FolderID = ""
			ws.Boards = append(ws.Boards, s)
		}
	}
	return ws, nil
}
