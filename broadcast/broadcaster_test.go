package broadcast

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus/hooks/test"

	"taskmate-sync/cache"
)

type recordingCache struct {
	mu   sync.Mutex
	keys []cache.Key
}

func (r *recordingCache) Invalidate(keys ...cache.Key) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keys = append(r.keys, keys...)
}

func (r *recordingCache) invalidated() []cache.Key {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]cache.Key(nil), r.keys...)
}

func waitForKeys(t *testing.T, r *recordingCache, n int, timeout time.Duration) []cache.Key {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		if keys := r.invalidated(); len(keys) >= n {
			return keys
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected %d invalidations within %v, got %v", n, timeout, r.invalidated())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func newRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rc.Close() })
	return rc
}

func TestChannelNaming(t *testing.T) {
	if got := ChannelName("b1"); got != "public-board-b1" {
		t.Fatalf("unexpected channel name: %s", got)
	}
	if id, ok := BoardIDFromChannel("public-board-b1"); !ok || id != "b1" {
		t.Fatalf("unexpected board id: %q %v", id, ok)
	}
	for _, ch := range []string{"public-board-", "private-board-b1", ""} {
		if _, ok := BoardIDFromChannel(ch); ok {
			t.Fatalf("expected %q to be rejected", ch)
		}
	}
}

func TestNotifyPublishesUpdateEvent(t *testing.T) {
	rc := newRedis(t)
	ctx := context.Background()

	pubsub := rc.Subscribe(ctx, ChannelName("b1"))
	defer pubsub.Close()
	if _, err := pubsub.Receive(ctx); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	done := make(chan string, 1)
	go func() {
		msg := <-pubsub.Channel()
		done <- msg.Payload
	}()

	logger, _ := test.NewNullLogger()
	b := New(NewRedisTransport(rc), &recordingCache{}, Options{Identity: "me", Logger: logger})
	b.Notify(ctx, "b1", "")

	select {
	case payload := <-done:
		ev, err := DecodeEvent([]byte(payload))
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if ev.Channel != "public-board-b1" || ev.Event != EventName || ev.Data.Sender != "me" || ev.Data.TimeStamp == 0 {
			t.Fatalf("unexpected event: %#v", ev)
		}
	case <-time.After(time.Second):
		t.Fatalf("no message received")
	}
}

type failingTransport struct{}

func (failingTransport) Publish(ctx context.Context, channel string, payload []byte) error {
	return errors.New("down")
}

func (failingTransport) Subscribe(ctx context.Context, channels ...string) (Subscription, error) {
	return nil, errors.New("down")
}

func TestNotifyFailureIsLoggedNotReturned(t *testing.T) {
	logger, hook := test.NewNullLogger()
	b := New(failingTransport{}, &recordingCache{}, Options{Logger: logger})
	b.Notify(context.Background(), "b1", "me")

	entry := hook.LastEntry()
	if entry == nil || entry.Message != "publish board event" {
		t.Fatalf("expected publish failure to be logged, got %#v", entry)
	}
}

func TestRemoteEventsInvalidateBoard(t *testing.T) {
	rec := &recordingCache{}
	b := New(failingTransport{}, rec, Options{Identity: "me"})

	b.OnRemoteEvent(NewEvent("b1", "me", 1))
	b.OnRemoteEvent(Event{Channel: ChannelName("b1"), Event: "other", Data: EventData{Sender: "peer"}})
	b.OnRemoteEvent(NewEvent("b1", "peer", 2))

	keys := rec.invalidated()
	if len(keys) != 1 || keys[0] != cache.BoardKey("b1") {
		t.Fatalf("expected a single invalidation of b1, got %v", keys)
	}
}

func TestRemoteEventsAreCoalescedPerBoard(t *testing.T) {
	rec := &recordingCache{}
	b := New(failingTransport{}, rec, Options{Identity: "me", CoalesceWindow: 30 * time.Millisecond})

	for i := 0; i < 5; i++ {
		b.OnRemoteEvent(NewEvent("b1", "peer", int64(i)))
	}
	b.OnRemoteEvent(NewEvent("b2", "peer", 9))

	waitForKeys(t, rec, 2, time.Second)
	time.Sleep(60 * time.Millisecond)
	keys := rec.invalidated()
	if len(keys) != 2 {
		t.Fatalf("expected one invalidation per board, got %v", keys)
	}
	seen := map[cache.Key]bool{}
	for _, k := range keys {
		seen[k] = true
	}
	if !seen[cache.BoardKey("b1")] || !seen[cache.BoardKey("b2")] {
		t.Fatalf("unexpected keys: %v", keys)
	}

	b.OnRemoteEvent(NewEvent("b1", "peer", 10))
	waitForKeys(t, rec, 3, time.Second)
}

func TestRunDeliversPeerEvents(t *testing.T) {
	rc := newRedis(t)
	logger, _ := test.NewNullLogger()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rec := &recordingCache{}
	listener := New(NewRedisTransport(rc), rec, Options{Identity: "a", Logger: logger})
	if err := listener.Join(ctx, "b1"); err != nil {
		t.Fatalf("join: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- listener.Run(ctx) }()

	peer := New(NewRedisTransport(rc), &recordingCache{}, Options{Identity: "b", Logger: logger})
	deadline := time.Now().Add(2 * time.Second)
	for len(rec.invalidated()) == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("listener never saw the peer event")
		}
		peer.Notify(ctx, "b1", "")
		listener.Notify(ctx, "b1", "")
		time.Sleep(20 * time.Millisecond)
	}
	for _, k := range rec.invalidated() {
		if k != cache.BoardKey("b1") {
			t.Fatalf("unexpected key: %s", k)
		}
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("unexpected run error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("run did not stop")
	}
}

func TestJoinLeaveAreReferenceCounted(t *testing.T) {
	b := New(failingTransport{}, &recordingCache{}, Options{})
	ctx := context.Background()
	_ = b.Join(ctx, "b1")
	_ = b.Join(ctx, "b1")
	_ = b.Leave(ctx, "b1")
	if got := b.Joined(); len(got) != 1 {
		t.Fatalf("expected b1 still joined, got %v", got)
	}
	_ = b.Leave(ctx, "b1")
	if got := b.Joined(); len(got) != 0 {
		t.Fatalf("expected no joined boards, got %v", got)
	}
}

type recordingTransport struct {
	mu        sync.Mutex
	published [][]byte
	// gate, when set, holds Subscribe until closed.
	gate       chan struct{}
	subscribed chan []string
	sub        *recordingSubscription
}

func (r *recordingTransport) Publish(ctx context.Context, channel string, payload []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.published = append(r.published, payload)
	return nil
}

func (r *recordingTransport) Subscribe(ctx context.Context, channels ...string) (Subscription, error) {
	if r.subscribed != nil {
		r.subscribed <- channels
	}
	if r.gate != nil {
		select {
		case <-r.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sub = &recordingSubscription{msgs: make(chan Message)}
	return r.sub, nil
}

func (r *recordingTransport) subscription() *recordingSubscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sub
}

type recordingSubscription struct {
	mu      sync.Mutex
	added   []string
	removed []string
	msgs    chan Message
	once    sync.Once
}

func (s *recordingSubscription) Add(ctx context.Context, channels ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.added = append(s.added, channels...)
	return nil
}

func (s *recordingSubscription) Remove(ctx context.Context, channels ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removed = append(s.removed, channels...)
	return nil
}

func (s *recordingSubscription) Messages() <-chan Message { return s.msgs }

func (s *recordingSubscription) Close() error {
	s.once.Do(func() { close(s.msgs) })
	return nil
}

func (s *recordingSubscription) changes() ([]string, []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.added...), append([]string(nil), s.removed...)
}

func TestNotifyStampsUserAndSession(t *testing.T) {
	tr := &recordingTransport{}
	b := New(tr, &recordingCache{}, Options{Identity: "alice", Session: "tab-1"})
	b.Notify(context.Background(), "b1", "")

	if len(tr.published) != 1 {
		t.Fatalf("expected one published event, got %d", len(tr.published))
	}
	ev, err := DecodeEvent(tr.published[0])
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.Data.Sender != "alice" || ev.Data.Session != "tab-1" {
		t.Fatalf("expected sender alice from session tab-1, got %#v", ev.Data)
	}
}

func TestSessionDefaultsToRandomID(t *testing.T) {
	a := New(failingTransport{}, &recordingCache{}, Options{Identity: "alice"})
	b := New(failingTransport{}, &recordingCache{}, Options{Identity: "alice"})
	if a.Session() == "" || a.Session() == b.Session() {
		t.Fatalf("expected distinct sessions, got %q and %q", a.Session(), b.Session())
	}
}

func TestOtherSessionsOfSameUserInvalidate(t *testing.T) {
	rec := &recordingCache{}
	b := New(failingTransport{}, rec, Options{Identity: "alice", Session: "tab-1"})

	own := NewEvent("b1", "alice", 1)
	own.Data.Session = "tab-1"
	b.OnRemoteEvent(own)
	if keys := rec.invalidated(); len(keys) != 0 {
		t.Fatalf("own echo must be dropped, got %v", keys)
	}

	other := NewEvent("b1", "alice", 2)
	other.Data.Session = "tab-2"
	b.OnRemoteEvent(other)
	keys := rec.invalidated()
	if len(keys) != 1 || keys[0] != cache.BoardKey("b1") {
		t.Fatalf("expected the second tab's change to invalidate b1, got %v", keys)
	}
}

func TestRunReconcilesBoardsChangedWhileSubscribing(t *testing.T) {
	logger, _ := test.NewNullLogger()
	tr := &recordingTransport{gate: make(chan struct{}), subscribed: make(chan []string, 1)}
	b := New(tr, &recordingCache{}, Options{Logger: logger})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := b.Join(ctx, "b1"); err != nil {
		t.Fatalf("join: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	select {
	case channels := <-tr.subscribed:
		if len(channels) != 1 || channels[0] != ChannelName("b1") {
			t.Fatalf("unexpected initial channels: %v", channels)
		}
	case <-time.After(time.Second):
		t.Fatalf("run never subscribed")
	}
	if err := b.Leave(ctx, "b1"); err != nil {
		t.Fatalf("leave: %v", err)
	}
	if err := b.Join(ctx, "b2"); err != nil {
		t.Fatalf("join: %v", err)
	}
	close(tr.gate)

	deadline := time.Now().Add(time.Second)
	for {
		if sub := tr.subscription(); sub != nil {
			added, removed := sub.changes()
			if len(added) == 1 && len(removed) == 1 {
				if added[0] != ChannelName("b2") || removed[0] != ChannelName("b1") {
					t.Fatalf("expected +b2 -b1, got +%v -%v", added, removed)
				}
				break
			}
		}
		if time.Now().After(deadline) {
			t.Fatalf("subscription was not reconciled")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("run did not stop")
	}
}
