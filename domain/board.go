package domain

// User identifies a person on a board: a collaborator, an assignee or a
// presence member of a board channel.
type User struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	Image string `json:"image,omitempty"`
}

// Board is the collaborative workspace holding ordered panels.
type Board struct {
	ID            string  `json:"id"`
	Title         string  `json:"title"`
	Thumbnail     string  `json:"thumbnail,omitempty"`
	Panels        []Panel `json:"panels"`
	Collaborators []User  `json:"collaborators"`
}

// Panel is a column of root-level tasks inside a board.
type Panel struct {
	ID            string  `json:"id"`
	BoardID       string  `json:"boardId"`
	Title         string  `json:"title"`
	Color         string  `json:"color,omitempty"`
	Visible       bool    `json:"isVisible"`
	Order         float64 `json:"order"`
	Tasks         []Task  `json:"tasks"`
	ShowCompleted bool    `json:"showCompleted"`
}

// PanelPatch carries the panel fields a client may change. Nil fields are
// left untouched.
type PanelPatch struct {
	Title         *string `json:"title,omitempty"`
	Color         *string `json:"color,omitempty"`
	Visible       *bool   `json:"isVisible,omitempty"`
	ShowCompleted *bool   `json:"showCompleted,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p PanelPatch) Empty() bool {
	return p.Title == nil && p.Color == nil && p.Visible == nil && p.ShowCompleted == nil
}
