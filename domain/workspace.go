package domain

// BoardSummary is the board entry shown in a user's board list.
type BoardSummary struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Thumbnail string `json:"thumbnail,omitempty"`
	FolderID  string `json:"folderId,omitempty"`
}

// Folder groups boards. BoardOrder lists its board ids in display order.
type Folder struct {
	ID         string         `json:"id"`
	Title      string         `json:"title"`
	BoardOrder []string       `json:"boardOrder"`
	Boards     []BoardSummary `json:"boards"`
}

// Workspace is a user's board list: folders plus boards that are not in any
// folder. FolderOrder and BoardOrder are persisted as delimited id strings.
type Workspace struct {
	UserID      string         `json:"userId"`
	Folders     []Folder       `json:"folders"`
	Boards      []BoardSummary `json:"boards"`
	FolderOrder []string       `json:"folderOrder"`
	BoardOrder  []string       `json:"boardOrder"`
}
