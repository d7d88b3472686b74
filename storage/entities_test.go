package storage

import (
	"testing"

	"taskmate-sync/domain"
)

func rows(raw ...string) [][]byte {
	out := make([][]byte, len(raw))
	for i, r := range raw {
		out[i] = []byte(r)
	}
	return out
}

func TestAssembleBoardNestsTasks(t *testing.T) {
	b, err := assembleBoard("b1", rows(
		`{"PartitionKey":"b1","RowKey":"task_s1","PanelId":"p1","ParentTaskId":"t1","Title":"Sub","Order":100,"Completed":true}`,
		`{"PartitionKey":"b1","RowKey":"panel_p2","Title":"Done","Visible":true,"Order":200}`,
		`{"PartitionKey":"b1","RowKey":"task_t2","PanelId":"p1","Title":"Second","Order":200,"Assignees":"u2,u9"}`,
		`{"PartitionKey":"b1","RowKey":"board","Title":"Launch","Collaborators":"[{\"id\":\"u1\",\"name\":\"Ann\"},{\"id\":\"u2\",\"name\":\"Bo\"}]"}`,
		`{"PartitionKey":"b1","RowKey":"task_t1","PanelId":"p1","Title":"First","Order":100,"DueAt":"2026-03-01T10:00:00Z"}`,
		`{"PartitionKey":"b1","RowKey":"panel_p1","Title":"Todo","Visible":true,"Order":100}`,
	))
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	if b.Title != "Launch" || len(b.Collaborators) != 2 {
		t.Fatalf("unexpected board header: %#v", b)
	}
	if len(b.Panels) != 2 || b.Panels[0].ID != "p1" || b.Panels[1].ID != "p2" {
		t.Fatalf("panels not ordered: %#v", b.Panels)
	}
	if b.Panels[0].BoardID != "b1" || len(b.Panels[1].Tasks) != 0 || b.Panels[1].Tasks == nil {
		t.Fatalf("unexpected panel fields: %#v", b.Panels)
	}
	tasks := b.Panels[0].Tasks
	if len(tasks) != 2 || tasks[0].ID != "t1" || tasks[1].ID != "t2" {
		t.Fatalf("tasks not ordered: %#v", tasks)
	}
	if tasks[0].DueAt == nil || tasks[0].DueAt.Day() != 1 {
		t.Fatalf("due date not parsed: %#v", tasks[0].DueAt)
	}
	if len(tasks[0].Subtasks) != 1 || tasks[0].Subtasks[0].ID != "s1" || !tasks[0].Subtasks[0].IsSubtask() {
		t.Fatalf("subtask not nested: %#v", tasks[0].Subtasks)
	}
	got := tasks[1].Assignees
	if len(got) != 2 || got[0].Name != "Bo" || got[1] != (domain.User{ID: "u9"}) {
		t.Fatalf("unexpected assignees: %#v", got)
	}
}

func TestAssembleBoardWithoutHeaderIsNotFound(t *testing.T) {
	_, err := assembleBoard("b1", rows(`{"PartitionKey":"b1","RowKey":"panel_p1","Title":"Todo"}`))
	if !domain.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestAssembleBoardRejectsBadTimestamp(t *testing.T) {
	_, err := assembleBoard("b1", rows(
		`{"PartitionKey":"b1","RowKey":"board","Title":"x"}`,
		`{"PartitionKey":"b1","RowKey":"task_t1","PanelId":"p1","StartAt":"tomorrow"}`,
	))
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestAssembleWorkspace(t *testing.T) {
	ws, err := assembleWorkspace("u1", rows(
		`{"PartitionKey":"u1","RowKey":"workspace","FolderOrder":"f2,f1","BoardOrder":"b0"}`,
		`{"PartitionKey":"u1","RowKey":"folder_f1","Title":"Work","BoardOrder":"b2,b1"}`,
		`{"PartitionKey":"u1","RowKey":"folder_f2","Title":"Home"}`,
		`{"PartitionKey":"u1","RowKey":"board_b1","Title":"One","FolderId":"f1"}`,
		`{"PartitionKey":"u1","RowKey":"board_b2","Title":"Two","FolderId":"f1"}`,
		`{"PartitionKey":"u1","RowKey":"board_b0","Title":"Loose"}`,
		`{"PartitionKey":"u1","RowKey":"board_b9","Title":"Orphan","FolderId":"gone"}`,
	))
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	if len(ws.FolderOrder) != 2 || ws.FolderOrder[0] != "f2" {
		t.Fatalf("unexpected folder order: %v", ws.FolderOrder)
	}
	if len(ws.Folders) != 2 || len(ws.Folders[0].Boards) != 2 || ws.Folders[0].BoardOrder[0] != "b2" {
		t.Fatalf("unexpected folders: %#v", ws.Folders)
	}
	if len(ws.Boards) != 2 || ws.Boards[1].ID != "b9" || ws.Boards[1].FolderID != "" {
		t.Fatalf("orphaned board should be unorganized: %#v", ws.Boards)
	}
}

func TestDecodeUserEntity(t *testing.T) {
	u, err := decodeUserEntity([]byte(`{"PartitionKey":"u1","RowKey":"u1","Name":"Ann","Email":"ann@example.com"}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if u != (domain.User{ID: "u1", Name: "Ann", Email: "ann@example.com"}) {
		t.Fatalf("unexpected user: %#v", u)
	}
}
