package api

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus/hooks/test"

	"taskmate-sync/domain"
)

type mockStore struct {
	boards     map[string]domain.Board
	users      map[string]domain.User
	enqueueErr error
	pingErr    error

	mu    sync.Mutex
	cmds  []domain.Command
	saved []domain.User
}

func newMockStore() *mockStore {
	return &mockStore{
		boards: map[string]domain.Board{
			"b1": {ID: "b1", Title: "Launch", Panels: []domain.Panel{}, Collaborators: []domain.User{{ID: "ann"}, {ID: "bo"}}},
		},
		users: map[string]domain.User{
			"ann": {ID: "ann", Name: "Ann", Email: "ann@example.com"},
		},
	}
}

func (m *mockStore) FetchBoard(ctx context.Context, boardID string) (domain.Board, error) {
	b, ok := m.boards[boardID]
	if !ok {
		return domain.Board{}, domain.NotFound("board", boardID)
	}
	return b, nil
}

func (m *mockStore) FetchWorkspace(ctx context.Context, userID string) (domain.Workspace, error) {
	return domain.Workspace{UserID: userID, Folders: []domain.Folder{}, Boards: []domain.BoardSummary{{ID: "b1", Title: "Launch"}}}, nil
}

func (m *mockStore) FetchUser(ctx context.Context, userID string) (domain.User, error) {
	u, ok := m.users[userID]
	if !ok {
		return domain.User{}, domain.NotFound("user", userID)
	}
	return u, nil
}

func (m *mockStore) UpsertUser(ctx context.Context, u domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved = append(m.saved, u)
	return nil
}

func (m *mockStore) EnqueueCommands(ctx context.Context, userID string, cmds []domain.Command) error {
	if m.enqueueErr != nil {
		return m.enqueueErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cmds = append(m.cmds, cmds...)
	return nil
}

func (m *mockStore) Ping(ctx context.Context) error { return m.pingErr }

func (m *mockStore) Commands() []domain.Command {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Command(nil), m.cmds...)
}

// mockAuth treats the bearer token as the user id.
type mockAuth struct{}

func (mockAuth) UserIDFromAuthHeader(h string) (string, error) {
	uid := strings.TrimPrefix(h, "Bearer ")
	if uid == "" || uid == h {
		return "", errors.New("unauthorized")
	}
	return uid, nil
}

func newTestServer(t *testing.T, store Storage, opts Options) *echo.Echo {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger, _ = test.NewNullLogger()
	}
	e := echo.New()
	Register(e, store, mockAuth{}, opts)
	return e
}

func do(e *echo.Echo, method, path, user, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if user != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+user)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

const toggleBody = `[{"idempotencyKey":"k1","entityType":"task","type":"task-toggle","data":{"boardId":"b1","taskId":"t1","value":true},"timestamp":1}]`

func TestPostCommandsEnqueues(t *testing.T) {
	store := newMockStore()
	e := newTestServer(t, store, Options{})

	rec := do(e, http.MethodPost, "/api/commands", "ann", toggleBody)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("unexpected status %d: %s", rec.Code, rec.Body.String())
	}
	var resp postCommandResponse
	if err := sonic.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.IdempotencyKeys) != 1 || resp.IdempotencyKeys[0] != "k1" {
		t.Fatalf("unexpected keys: %#v", resp)
	}
	cmds := store.Commands()
	if len(cmds) != 1 || cmds[0].ID != "k1" || cmds[0].Timestamp <= 1 {
		t.Fatalf("unexpected enqueued commands: %#v", cmds)
	}
	if cmds[0].BoardID() != "b1" {
		t.Fatalf("payload lost: %s", cmds[0].Data)
	}
}

func TestPostCommandsRejectsInvalidInput(t *testing.T) {
	e := newTestServer(t, newMockStore(), Options{})
	tests := []struct {
		name string
		user string
		body string
		code int
	}{
		{name: "unauthenticated", body: toggleBody, code: http.StatusUnauthorized},
		{name: "malformed", user: "ann", body: `{"type":`, code: http.StatusBadRequest},
		{name: "unknown field", user: "ann", body: `[{"entityType":"task","type":"task-toggle","extra":1}]`, code: http.StatusBadRequest},
		{name: "empty batch", user: "ann", body: `[]`, code: http.StatusBadRequest},
		{name: "unknown type", user: "ann", body: `[{"entityType":"task","type":"task-explode"}]`, code: http.StatusBadRequest},
		{name: "entity mismatch", user: "ann", body: `[{"entityType":"panel","type":"task-toggle"}]`, code: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := do(e, http.MethodPost, "/api/commands", tt.user, tt.body); rec.Code != tt.code {
				t.Fatalf("expected %d, got %d: %s", tt.code, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestPostCommandsDropsDuplicates(t *testing.T) {
	_, rc := newTestRedis(t)
	store := newMockStore()
	e := newTestServer(t, store, Options{Deduper: NewRedisDeduper(rc, time.Hour)})

	for i := 0; i < 2; i++ {
		if rec := do(e, http.MethodPost, "/api/commands", "ann", toggleBody); rec.Code != http.StatusAccepted {
			t.Fatalf("attempt %d: unexpected status %d", i, rec.Code)
		}
	}
	if n := len(store.Commands()); n != 1 {
		t.Fatalf("expected duplicate to be dropped, enqueued %d", n)
	}
}

func TestPostCommandsEnqueueFailureReleasesKeys(t *testing.T) {
	_, rc := newTestRedis(t)
	store := newMockStore()
	store.enqueueErr = errors.New("queue down")
	e := newTestServer(t, store, Options{Deduper: NewRedisDeduper(rc, time.Hour)})

	if rec := do(e, http.MethodPost, "/api/commands", "ann", toggleBody); rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	store.enqueueErr = nil
	if rec := do(e, http.MethodPost, "/api/commands", "ann", toggleBody); rec.Code != http.StatusAccepted {
		t.Fatalf("retry: unexpected status %d", rec.Code)
	}
	if n := len(store.Commands()); n != 1 {
		t.Fatalf("expected retry to be enqueued, got %d", n)
	}
}

func TestGetBoardChecksMembership(t *testing.T) {
	e := newTestServer(t, newMockStore(), Options{})

	rec := do(e, http.MethodGet, "/api/boards/b1", "bo", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	var b domain.Board
	if err := sonic.Unmarshal(rec.Body.Bytes(), &b); err != nil || b.Title != "Launch" {
		t.Fatalf("unexpected board %#v (%v)", b, err)
	}
	if rec := do(e, http.MethodGet, "/api/boards/b1", "eve", ""); rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
	if rec := do(e, http.MethodGet, "/api/boards/nope", "ann", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if rec := do(e, http.MethodGet, "/api/boards/b1", "", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestGetWorkspace(t *testing.T) {
	e := newTestServer(t, newMockStore(), Options{})
	rec := do(e, http.MethodGet, "/api/workspace", "ann", "")
	var ws domain.Workspace
	if err := sonic.Unmarshal(rec.Body.Bytes(), &ws); err != nil || ws.UserID != "ann" || len(ws.Boards) != 1 {
		t.Fatalf("unexpected workspace %#v (%v)", ws, err)
	}
}

func TestPutUserUsesCallerID(t *testing.T) {
	store := newMockStore()
	e := newTestServer(t, store, Options{})
	rec := do(e, http.MethodPut, "/api/user", "ann", `{"id":"mallory","name":"Ann B"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	if len(store.saved) != 1 || store.saved[0].ID != "ann" || store.saved[0].Name != "Ann B" {
		t.Fatalf("unexpected saved users %#v", store.saved)
	}
}

func TestHealthz(t *testing.T) {
	store := newMockStore()
	e := newTestServer(t, store, Options{})
	if rec := do(e, http.MethodGet, "/healthz", "", ""); rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	store.pingErr = errors.New("down")
	if rec := do(e, http.MethodGet, "/healthz", "", ""); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestChannelAuth(t *testing.T) {
	signer := &ChannelSigner{Key: "app-key", Secret: []byte("app-secret")}
	e := newTestServer(t, newMockStore(), Options{Channels: signer})
	body := `{"socket_id":"123.456","userId":"ann","channel_name":"public-board-b1"}`

	rec := do(e, http.MethodPost, "/api/channels/auth", "ann", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", rec.Code, rec.Body.String())
	}
	var resp channelAuthResponse
	if err := sonic.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	var data channelData
	if err := sonic.UnmarshalString(resp.ChannelData, &data); err != nil {
		t.Fatalf("decode channel data: %v", err)
	}
	if data.UserID != "ann" || data.UserInfo.Name != "Ann" || data.UserInfo.Email != "ann@example.com" {
		t.Fatalf("unexpected channel data %#v", data)
	}
	mac := hmac.New(sha256.New, []byte("app-secret"))
	mac.Write([]byte("123.456:public-board-b1:" + resp.ChannelData))
	if want := "app-key:" + hex.EncodeToString(mac.Sum(nil)); resp.Auth != want {
		t.Fatalf("unexpected signature %q, want %q", resp.Auth, want)
	}

	// Collaborator without a profile still gets an id-only presence entry.
	rec = do(e, http.MethodPost, "/api/channels/auth", "bo", strings.ReplaceAll(body, "ann", "bo"))
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status for user without profile %d", rec.Code)
	}
}

func TestChannelAuthRejections(t *testing.T) {
	e := newTestServer(t, newMockStore(), Options{Channels: &ChannelSigner{Key: "k", Secret: []byte("s")}})
	tests := []struct {
		name string
		user string
		body string
		code int
	}{
		{name: "user mismatch", user: "bo", body: `{"socket_id":"1.2","userId":"ann","channel_name":"public-board-b1"}`, code: http.StatusForbidden},
		{name: "not collaborator", user: "eve", body: `{"socket_id":"1.2","userId":"eve","channel_name":"public-board-b1"}`, code: http.StatusForbidden},
		{name: "foreign channel", user: "ann", body: `{"socket_id":"1.2","userId":"ann","channel_name":"private-x"}`, code: http.StatusBadRequest},
		{name: "missing socket", user: "ann", body: `{"userId":"ann","channel_name":"public-board-b1"}`, code: http.StatusBadRequest},
		{name: "unauthenticated", body: `{"socket_id":"1.2","userId":"ann","channel_name":"public-board-b1"}`, code: http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := do(e, http.MethodPost, "/api/channels/auth", tt.user, tt.body); rec.Code != tt.code {
				t.Fatalf("expected %d, got %d: %s", tt.code, rec.Code, rec.Body.String())
			}
		})
	}
}

func commandBody(t *testing.T, cmds ...domain.Command) string {
	t.Helper()
	data, err := sonic.Marshal(cmds)
	if err != nil {
		t.Fatalf("encode commands: %v", err)
	}
	return string(data)
}

func mustCommand(t *testing.T, entity, typ string, data any) domain.Command {
	t.Helper()
	cmd, err := domain.NewCommand(entity, typ, data)
	if err != nil {
		t.Fatalf("build command: %v", err)
	}
	return cmd
}

func TestPostCommandsRequiresBoardMembership(t *testing.T) {
	store := newMockStore()
	e := newTestServer(t, store, Options{})
	del := commandBody(t, mustCommand(t, domain.EntityTask, domain.TaskDelete, domain.TaskRefData{BoardID: "b1", TaskID: "t1"}))

	if rec := do(e, http.MethodGet, "/api/boards/b1", "mallory", ""); rec.Code != http.StatusForbidden {
		t.Fatalf("expected board read to be forbidden, got %d", rec.Code)
	}
	rec := do(e, http.MethodPost, "/api/commands", "mallory", del)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for a non-collaborator, got %d: %s", rec.Code, rec.Body.String())
	}
	missing := commandBody(t, mustCommand(t, domain.EntityTask, domain.TaskDelete, domain.TaskRefData{BoardID: "nope", TaskID: "t1"}))
	if rec := do(e, http.MethodPost, "/api/commands", "ann", missing); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for an unknown board, got %d", rec.Code)
	}
	if n := len(store.Commands()); n != 0 {
		t.Fatalf("expected nothing enqueued, got %d", n)
	}

	if rec := do(e, http.MethodPost, "/api/commands", "bo", del); rec.Code != http.StatusAccepted {
		t.Fatalf("collaborator rejected: %d", rec.Code)
	}
}

func TestPostCommandsAllowsBoardCreatedInBatch(t *testing.T) {
	store := newMockStore()
	e := newTestServer(t, store, Options{})
	body := commandBody(t,
		mustCommand(t, domain.EntityBoard, domain.BoardCreate, domain.BoardCreatedData{Board: domain.BoardSummary{ID: "nb", Title: "New"}}),
		mustCommand(t, domain.EntityPanel, domain.PanelCreate, domain.PanelCreatedData{Panel: domain.Panel{ID: "p1", BoardID: "nb", Title: "Todo"}}),
	)
	if rec := do(e, http.MethodPost, "/api/commands", "mallory", body); rec.Code != http.StatusAccepted {
		t.Fatalf("unexpected status %d: %s", rec.Code, rec.Body.String())
	}
	if n := len(store.Commands()); n != 2 {
		t.Fatalf("expected both commands enqueued, got %d", n)
	}

	// Claiming an existing board id does not grant access to it.
	hijack := commandBody(t,
		mustCommand(t, domain.EntityBoard, domain.BoardCreate, domain.BoardCreatedData{Board: domain.BoardSummary{ID: "b1", Title: "Mine"}}),
		mustCommand(t, domain.EntityTask, domain.TaskDelete, domain.TaskRefData{BoardID: "b1", TaskID: "t1"}),
	)
	if rec := do(e, http.MethodPost, "/api/commands", "mallory", hijack); rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}
