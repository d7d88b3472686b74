package api

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"taskmate-sync/broadcast"
)

func TestStreamBoardRelaysEvents(t *testing.T) {
	_, rc := newTestRedis(t)
	transport := broadcast.NewRedisTransport(rc)
	srv := httptest.NewServer(newTestServer(t, newMockStore(), Options{Events: transport}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/boards/b1/events?token=ann", nil)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	if err != nil || line != ":ok\n" {
		t.Fatalf("expected initial comment, got %q (%v)", line, err)
	}

	payload, err := broadcast.NewEvent("b1", "bo", 42).Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := transport.Publish(ctx, broadcast.ChannelName("b1"), payload); err != nil {
		t.Fatalf("publish: %v", err)
	}

	var event, data string
	for data == "" {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("read stream: %v", err)
		}
		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event: "))
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimSpace(strings.TrimPrefix(line, "data: "))
		}
	}
	if event != broadcast.EventName {
		t.Fatalf("unexpected event name %q", event)
	}
	ev, err := broadcast.DecodeEvent([]byte(data))
	if err != nil {
		t.Fatalf("decode relayed event: %v", err)
	}
	if ev.Data.Sender != "bo" || ev.Data.TimeStamp != 42 {
		t.Fatalf("unexpected relayed event %#v", ev)
	}
}

func TestStreamBoardRequiresMembership(t *testing.T) {
	_, rc := newTestRedis(t)
	e := newTestServer(t, newMockStore(), Options{Events: broadcast.NewRedisTransport(rc)})

	req := httptest.NewRequest(http.MethodGet, "/api/boards/b1/events?token=eve", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestPublishBoardEventStampsCaller(t *testing.T) {
	_, rc := newTestRedis(t)
	transport := broadcast.NewRedisTransport(rc)
	e := newTestServer(t, newMockStore(), Options{Events: transport})
	ctx := context.Background()

	sub, err := transport.Subscribe(ctx, broadcast.ChannelName("b1"))
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()

	// A forged sender and channel are overwritten with the caller and route.
	forged := `{"channel":"public-board-b2","event":"other","data":{"timeStamp":7,"sender":"bo","session":"tab-1"}}`
	rec := do(e, http.MethodPost, "/api/boards/b1/events", "ann", forged)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}

	select {
	case msg := <-sub.Messages():
		ev, err := broadcast.DecodeEvent(msg.Payload)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if ev.Channel != broadcast.ChannelName("b1") || ev.Event != broadcast.EventName {
			t.Fatalf("unexpected routing %#v", ev)
		}
		if ev.Data.Sender != "ann" || ev.Data.Session != "tab-1" || ev.Data.TimeStamp != 7 {
			t.Fatalf("unexpected data %#v", ev.Data)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("event was not published")
	}
}

func TestPublishBoardEventRejections(t *testing.T) {
	_, rc := newTestRedis(t)
	e := newTestServer(t, newMockStore(), Options{Events: broadcast.NewRedisTransport(rc)})

	cases := []struct {
		name string
		path string
		user string
		body string
		code int
	}{
		{name: "anonymous", path: "/api/boards/b1/events", body: `{}`, code: http.StatusUnauthorized},
		{name: "not a collaborator", path: "/api/boards/b1/events", user: "eve", body: `{}`, code: http.StatusForbidden},
		{name: "unknown board", path: "/api/boards/nope/events", user: "ann", body: `{}`, code: http.StatusNotFound},
		{name: "malformed", path: "/api/boards/b1/events", user: "ann", body: `{"data":`, code: http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := do(e, http.MethodPost, tc.path, tc.user, tc.body)
			if rec.Code != tc.code {
				t.Fatalf("expected %d, got %d", tc.code, rec.Code)
			}
		})
	}
}
