package main

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bytedance/sonic"

	"taskmate-sync/domain"
)

type fakeAPI struct {
	mu       sync.Mutex
	commands []domain.Command
	fail     bool
	title    string
	// events feeds the board event stream.
	events chan string
}

func (f *fakeAPI) setTitle(title string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.title = title
}

func (f *fakeAPI) sent() []domain.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Command(nil), f.commands...)
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Authorization") != "Bearer secret" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/api/boards/b1/events" && f.events != nil:
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(":ok\n\n"))
		w.(http.Flusher).Flush()
		for {
			select {
			case <-r.Context().Done():
				return
			case data := <-f.events:
				_, _ = w.Write([]byte("event: update-event\ndata: " + data + "\n\n"))
				w.(http.Flusher).Flush()
			}
		}
	case r.Method == http.MethodGet && r.URL.Path == "/api/boards/b1":
		f.mu.Lock()
		title := f.title
		f.mu.Unlock()
		if title == "" {
			title = "Launch"
		}
		board := domain.Board{
			ID:    "b1",
			Title: title,
			Panels: []domain.Panel{{ID: "p1", BoardID: "b1", Title: "Todo", Visible: true, Order: 1, Tasks: []domain.Task{
				{ID: "t1", PanelID: "p1", Title: "Write docs", Order: 1},
			}}},
		}
		data, _ := sonic.Marshal(board)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(data)
	case r.Method == http.MethodPost && r.URL.Path == "/api/commands":
		body, _ := io.ReadAll(r.Body)
		var cmds []domain.Command
		if err := sonic.Unmarshal(body, &cmds); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		f.commands = append(f.commands, cmds...)
		fail := f.fail
		f.mu.Unlock()
		if fail {
			http.Error(w, "failed to enqueue commands", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"idempotencyKeys":["k1"]}`))
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func runCLI(t *testing.T, api *fakeAPI, args ...string) (string, error) {
	t.Helper()
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(append([]string{"--api", srv.URL, "--token", "secret"}, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestShowPrintsBoard(t *testing.T) {
	out, err := runCLI(t, &fakeAPI{}, "show", "b1")
	if err != nil {
		t.Fatalf("show: %v", err)
	}
	if !strings.Contains(out, "Launch (b1)") || !strings.Contains(out, "[ ] Write docs  t1") {
		t.Fatalf("unexpected output:\n%s", out)
	}
}

func TestTaskAddSendsCommand(t *testing.T) {
	api := &fakeAPI{}
	out, err := runCLI(t, api, "task", "add", "b1", "p1", "Review")
	if err != nil {
		t.Fatalf("task add: %v", err)
	}
	if !strings.Contains(out, "task-create ") || !strings.HasSuffix(strings.TrimSpace(out), ": committed") {
		t.Fatalf("unexpected output: %q", out)
	}
	sent := api.sent()
	if len(sent) != 1 || sent[0].Type != domain.TaskCreate || sent[0].IdempotencyKey == "" {
		t.Fatalf("unexpected commands: %#v", sent)
	}
	if id := sent[0].BoardID(); id != "b1" {
		t.Fatalf("command targets board %q", id)
	}
}

func TestRejectedCommandReportsRollback(t *testing.T) {
	api := &fakeAPI{fail: true}
	_, err := runCLI(t, api, "task", "done", "b1", "t1")
	if err == nil || !strings.Contains(err.Error(), "rolled back") {
		t.Fatalf("expected rollback error, got %v", err)
	}
}

func TestUnknownTaskFailsBeforeSending(t *testing.T) {
	api := &fakeAPI{}
	if _, err := runCLI(t, api, "task", "rm", "b1", "missing"); err == nil {
		t.Fatalf("expected an error for an unknown task")
	}
	if n := len(api.sent()); n != 0 {
		t.Fatalf("expected nothing sent, got %d commands", n)
	}
}

// syncBuffer is written by the CLI and read by the test concurrently.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestWatchReprintsOnPeerEvent(t *testing.T) {
	api := &fakeAPI{events: make(chan string, 1)}
	srv := httptest.NewServer(api)
	defer srv.Close()

	root := newRootCmd()
	out := &syncBuffer{}
	root.SetOut(out)
	root.SetErr(io.Discard)
	root.SetArgs([]string{"--api", srv.URL, "--token", "secret", "--coalesce", "0", "watch", "b1"})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- root.ExecuteContext(ctx) }()

	waitForOutput := func(want string) {
		t.Helper()
		deadline := time.Now().Add(5 * time.Second)
		for !strings.Contains(out.String(), want) {
			if time.Now().After(deadline) {
				t.Fatalf("expected %q in output:\n%s", want, out.String())
			}
			time.Sleep(10 * time.Millisecond)
		}
	}
	waitForOutput("Launch (b1)")

	api.setTitle("Relaunch")
	api.events <- `{"channel":"public-board-b1","event":"update-event","data":{"timeStamp":1,"sender":"bo","session":"other"}}`
	waitForOutput("Relaunch (b1)")

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("watch: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("watch did not stop")
	}
}
