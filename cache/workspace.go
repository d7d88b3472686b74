package cache

import (
	"fmt"

	"taskmate-sync/domain"
	"taskmate-sync/order"
)

// Workspace is the cached board list of a user. Folder.Boards and the
// unorganized Boards are kept in the order of their id lists.
type Workspace struct {
	ws domain.Workspace
}

// NewWorkspace copies ws into a cache value. Boards missing from an order
// list are appended to it so every board has a position.
func NewWorkspace(ws domain.Workspace) *Workspace {
	w := &Workspace{ws: cloneWorkspace(ws)}
	for i := range w.ws.Folders {
		f := &w.ws.Folders[i]
		f.BoardOrder = completeOrder(f.BoardOrder, f.Boards)
		f.Boards = arrange(f.Boards, f.BoardOrder)
		for j := range f.Boards {
			f.Boards[j].FolderID = f.ID
		}
	}
	w.ws.BoardOrder = completeOrder(w.ws.BoardOrder, w.ws.Boards)
	w.ws.Boards = arrange(w.ws.Boards, w.ws.BoardOrder)
	folderOrder := make([]string, 0, len(w.ws.Folders))
	for _, id := range w.ws.FolderOrder {
		if w.folder(id) != nil && order.IndexOf(folderOrder, id) < 0 {
			folderOrder = append(folderOrder, id)
		}
	}
	for _, f := range w.ws.Folders {
		if order.IndexOf(folderOrder, f.ID) < 0 {
			folderOrder = append(folderOrder, f.ID)
		}
	}
	w.ws.FolderOrder = folderOrder
	w.ws.Folders = arrangeFolders(w.ws.Folders, w.ws.FolderOrder)
	return w
}

// Value returns a copy of the workspace.
func (w *Workspace) Value() domain.Workspace { return cloneWorkspace(w.ws) }

// Clone returns a deep copy.
func (w *Workspace) Clone() *Workspace { return &Workspace{ws: cloneWorkspace(w.ws)} }

// CloneValue implements Value.
func (w *Workspace) CloneValue() Value { return w.Clone() }

// FolderOrder returns the folder ids in display order.
func (w *Workspace) FolderOrder() []string { return append([]string(nil), w.ws.FolderOrder...) }

// BoardOrder returns the board ids of a folder, or of the unorganized list
// when folderID is empty.
func (w *Workspace) BoardOrder(folderID string) ([]string, error) {
	if folderID == "" {
		return append([]string(nil), w.ws.BoardOrder...), nil
	}
	f := w.folder(folderID)
	if f == nil {
		return nil, domain.NotFound("folder", folderID)
	}
	return append([]string(nil), f.BoardOrder...), nil
}

// Board returns a board summary and the folder holding it ("" when
// unorganized).
func (w *Workspace) Board(id string) (domain.BoardSummary, bool) {
	for _, b := range w.ws.Boards {
		if b.ID == id {
			return b, true
		}
	}
	for _, f := range w.ws.Folders {
		for _, b := range f.Boards {
			if b.ID == id {
				return b, true
			}
		}
	}
	return domain.BoardSummary{}, false
}

// AddFolder appends an empty folder.
func (w *Workspace) AddFolder(id, title string) error {
	if id == "" {
		return fmt.Errorf("add folder: missing id")
	}
	if w.folder(id) != nil {
		return fmt.Errorf("add folder: %s already exists", id)
	}
	w.ws.Folders = append(w.ws.Folders, domain.Folder{ID: id, Title: title, BoardOrder: []string{}, Boards: []domain.BoardSummary{}})
	w.ws.FolderOrder = append(w.ws.FolderOrder, id)
	return nil
}

// RemoveFolder deletes a folder. Its boards become unorganized, appended to
// the unorganized list in the folder's order.
func (w *Workspace) RemoveFolder(id string) error {
	f := w.folder(id)
	if f == nil {
		return domain.NotFound("folder", id)
	}
	for _, b := range f.Boards {
		b.FolderID = ""
		w.ws.Boards = append(w.ws.Boards, b)
	}
	w.ws.BoardOrder = append(w.ws.BoardOrder, f.BoardOrder...)
	w.ws.Boards = arrange(w.ws.Boards, w.ws.BoardOrder)
	w.ws.FolderOrder = order.Remove(w.ws.FolderOrder, id)
	folders := w.ws.Folders[:0:0]
	for _, other := range w.ws.Folders {
		if other.ID != id {
			folders = append(folders, other)
		}
	}
	w.ws.Folders = folders
	return nil
}

// RenameFolder changes a folder's title.
func (w *Workspace) RenameFolder(id, title string) error {
	f := w.folder(id)
	if f == nil {
		return domain.NotFound("folder", id)
	}
	f.Title = title
	return nil
}

// MoveFolder places a folder at index and returns the new folder order.
func (w *Workspace) MoveFolder(id string, index int) ([]string, error) {
	if w.folder(id) == nil {
		return nil, domain.NotFound("folder", id)
	}
	w.ws.FolderOrder = order.InsertAt(order.Remove(w.ws.FolderOrder, id), id, index)
	w.ws.Folders = arrangeFolders(w.ws.Folders, w.ws.FolderOrder)
	return w.FolderOrder(), nil
}

// AddBoard appends a board to a folder, or to the unorganized list when
// folderID is empty.
func (w *Workspace) AddBoard(b domain.BoardSummary, folderID string) error {
	if b.ID == "" {
		return fmt.Errorf("add board: missing id")
	}
	if _, exists := w.Board(b.ID); exists {
		return fmt.Errorf("add board: %s already exists", b.ID)
	}
	b.FolderID = folderID
	if folderID == "" {
		w.ws.Boards = append(w.ws.Boards, b)
		w.ws.BoardOrder = append(w.ws.BoardOrder, b.ID)
		return nil
	}
	f := w.folder(folderID)
	if f == nil {
		return domain.NotFound("folder", folderID)
	}
	f.Boards = append(f.Boards, b)
	f.BoardOrder = append(f.BoardOrder, b.ID)
	return nil
}

// RemoveBoard deletes a board from wherever it is listed.
func (w *Workspace) RemoveBoard(id string) error {
	b, ok := w.Board(id)
	if !ok {
		return domain.NotFound("board", id)
	}
	w.detach(b)
	return nil
}

// RenameBoard changes a board's title.
func (w *Workspace) RenameBoard(id, title string) error {
	if _, ok := w.Board(id); !ok {
		return domain.NotFound("board", id)
	}
	rename := func(boards []domain.BoardSummary) {
		for i := range boards {
			if boards[i].ID == id {
				boards[i].Title = title
			}
		}
	}
	rename(w.ws.Boards)
	for i := range w.ws.Folders {
		rename(w.ws.Folders[i].Boards)
	}
	return nil
}

// MoveBoard places a board at index within toFolderID ("" for the unorganized
// list). It returns the folder the board came from and the destination order.
func (w *Workspace) MoveBoard(id, toFolderID string, index int) (from string, dest []string, err error) {
	b, ok := w.Board(id)
	if !ok {
		return "", nil, domain.NotFound("board", id)
	}
	var target *domain.Folder
	if toFolderID != "" {
		if target = w.folder(toFolderID); target == nil {
			return "", nil, domain.NotFound("folder", toFolderID)
		}
	}
	from = b.FolderID
	w.detach(b)
	b.FolderID = toFolderID
	if target == nil {
		w.ws.BoardOrder = order.InsertAt(w.ws.BoardOrder, id, index)
		w.ws.Boards = arrange(append(w.ws.Boards, b), w.ws.BoardOrder)
		return from, append([]string(nil), w.ws.BoardOrder...), nil
	}
	target.BoardOrder = order.InsertAt(target.BoardOrder, id, index)
	target.Boards = arrange(append(target.Boards, b), target.BoardOrder)
	return from, append([]string(nil), target.BoardOrder...), nil
}

// Validate checks that every board is listed exactly once and that each
// collection matches its order list.
func (w *Workspace) Validate() error {
	seen := map[string]string{}
	check := func(owner string, boards []domain.BoardSummary, ids []string) error {
		if len(boards) != len(ids) {
			return fmt.Errorf("%s: %d boards, %d ordered ids", owner, len(boards), len(ids))
		}
		for i, b := range boards {
			if b.ID != ids[i] {
				return fmt.Errorf("%s: board %s at %d, order has %s", owner, b.ID, i, ids[i])
			}
			if prev, dup := seen[b.ID]; dup {
				return fmt.Errorf("board %s listed in %s and %s", b.ID, prev, owner)
			}
			seen[b.ID] = owner
		}
		return nil
	}
	if err := check("unorganized", w.ws.Boards, w.ws.BoardOrder); err != nil {
		return err
	}
	if len(w.ws.Folders) != len(w.ws.FolderOrder) {
		return fmt.Errorf("%d folders, %d ordered ids", len(w.ws.Folders), len(w.ws.FolderOrder))
	}
	for i, f := range w.ws.Folders {
		if f.ID != w.ws.FolderOrder[i] {
			return fmt.Errorf("folder %s at %d, order has %s", f.ID, i, w.ws.FolderOrder[i])
		}
		if err := check("folder "+f.ID, f.Boards, f.BoardOrder); err != nil {
			return err
		}
	}
	return nil
}

func (w *Workspace) folder(id string) *domain.Folder {
	for i := range w.ws.Folders {
		if w.ws.Folders[i].ID == id {
			return &w.ws.Folders[i]
		}
	}
	return nil
}

func (w *Workspace) detach(b domain.BoardSummary) {
	drop := func(boards []domain.BoardSummary) []domain.BoardSummary {
		out := boards[:0:0]
		for _, other := range boards {
			if other.ID != b.ID {
				out = append(out, other)
			}
		}
		return out
	}
	if b.FolderID == "" {
		w.ws.Boards = drop(w.ws.Boards)
		w.ws.BoardOrder = order.Remove(w.ws.BoardOrder, b.ID)
		return
	}
	if f := w.folder(b.FolderID); f != nil {
		f.Boards = drop(f.Boards)
		f.BoardOrder = order.Remove(f.BoardOrder, b.ID)
	}
}

func completeOrder(ids []string, boards []domain.BoardSummary) []string {
	out := make([]string, 0, len(boards))
	present := make(map[string]bool, len(boards))
	for _, b := range boards {
		present[b.ID] = true
	}
	for _, id := range ids {
		if present[id] && order.IndexOf(out, id) < 0 {
			out = append(out, id)
		}
	}
	for _, b := range boards {
		if order.IndexOf(out, b.ID) < 0 {
			out = append(out, b.ID)
		}
	}
	return out
}

func arrange(boards []domain.BoardSummary, ids []string) []domain.BoardSummary {
	byID := make(map[string]domain.BoardSummary, len(boards))
	for _, b := range boards {
		byID[b.ID] = b
	}
	out := make([]domain.BoardSummary, 0, len(ids))
	for _, id := range ids {
		if b, ok := byID[id]; ok {
			out = append(out, b)
		}
	}
	return out
}

func arrangeFolders(folders []domain.Folder, ids []string) []domain.Folder {
	byID := make(map[string]domain.Folder, len(folders))
	for _, f := range folders {
		byID[f.ID] = f
	}
	out := make([]domain.Folder, 0, len(ids))
	for _, id := range ids {
		if f, ok := byID[id]; ok {
			out = append(out, f)
		}
	}
	return out
}

func cloneWorkspace(ws domain.Workspace) domain.Workspace {
	c := ws
	c.FolderOrder = append([]string{}, ws.FolderOrder...)
	c.BoardOrder = append([]string{}, ws.BoardOrder...)
	c.Boards = append([]domain.BoardSummary{}, ws.Boards...)
	c.Folders = make([]domain.Folder, len(ws.Folders))
	for i, f := range ws.Folders {
		c.Folders[i] = f
		c.Folders[i].BoardOrder = append([]string{}, f.BoardOrder...)
		c.Folders[i].Boards = append([]domain.BoardSummary{}, f.Boards...)
	}
	return c
}
