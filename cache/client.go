package cache

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"taskmate-sync/domain"
)

// Value is a cacheable entry. CloneValue must return a deep copy.
type Value interface {
	CloneValue() Value
}

// Key names a cache entry.
type Key string

// WorkspaceKey is the entry holding the current user's board list.
const WorkspaceKey Key = "workspace"

const boardKeyPrefix = "board:"

// BoardKey returns the entry key of a board.
func BoardKey(boardID string) Key { return Key(boardKeyPrefix + boardID) }

// BoardID extracts the board id from a board key.
func (k Key) BoardID() (string, bool) {
	if !strings.HasPrefix(string(k), boardKeyPrefix) {
		return "", false
	}
	return strings.TrimPrefix(string(k), boardKeyPrefix), true
}

// Fetcher loads the authoritative value of a key.
type Fetcher func(ctx context.Context, key Key) (Value, error)

// Source is the read side of the remote store.
type Source interface {
	FetchBoard(ctx context.Context, boardID string) (domain.Board, error)
	FetchWorkspace(ctx context.Context) (domain.Workspace, error)
}

// SourceFetcher adapts a Source to a Fetcher.
func SourceFetcher(src Source) Fetcher {
	return func(ctx context.Context, key Key) (Value, error) {
		if key == WorkspaceKey {
			ws, err := src.FetchWorkspace(ctx)
			if err != nil {
				return nil, err
			}
			return NewWorkspace(ws), nil
		}
		boardID, ok := key.BoardID()
		if !ok {
			return nil, errors.New("cache: unknown key " + string(key))
		}
		b, err := src.FetchBoard(ctx, boardID)
		if err != nil {
			return nil, err
		}
		tree, err := NewTree(b)
		if err != nil {
			return nil, err
		}
		return tree, nil
	}
}

type fetchCall struct {
	done   chan struct{}
	cancel context.CancelFunc
	value  Value
	err    error
}

type entry struct {
	value     Value
	stale     bool
	updatedAt time.Time
	// gen changes whenever the entry is written or a fetch is cancelled; a
	// fetch started under an older gen is discarded.
	gen      uint64
	inflight *fetchCall
}

// Client is the local query cache. Entries are filled by the fetcher,
// overwritten by optimistic patches and marked stale on invalidation.
type Client struct {
	fetch  Fetcher
	logger *log.Logger

	mu       sync.Mutex
	entries  map[Key]*entry
	watchers map[Key]map[chan struct{}]struct{}
}

// New creates a cache client that loads entries with fetch.
func New(fetch Fetcher, logger *log.Logger) *Client {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Client{
		fetch:    fetch,
		logger:   logger,
		entries:  make(map[Key]*entry),
		watchers: make(map[Key]map[chan struct{}]struct{}),
	}
}

// Get returns a copy of the entry, fetching it when missing or stale. Only
// one fetch per key is in flight; concurrent callers share it.
func (c *Client) Get(ctx context.Context, key Key) (Value, error) {
	c.mu.Lock()
	e := c.entry(key)
	if e.value != nil && !e.stale {
		v := e.value.CloneValue()
		c.mu.Unlock()
		return v, nil
	}
	call := e.inflight
	if call == nil {
		call = c.startFetchLocked(key, e)
	}
	c.mu.Unlock()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-call.done:
	}
	if call.err != nil && !errors.Is(call.err, context.Canceled) {
		return nil, call.err
	}
	// A cancelled or superseded fetch yields to whatever was written instead.
	if v, ok := c.Peek(key); ok {
		return v, nil
	}
	if call.err != nil {
		return nil, call.err
	}
	return call.value.CloneValue(), nil
}

// Peek returns a copy of the entry without fetching.
func (c *Client) Peek(key Key) (Value, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || e.value == nil {
		return nil, false
	}
	return e.value.CloneValue(), true
}

// Snapshot returns the stored value itself. Callers must treat it as
// read-only; it is what a rollback restores.
func (c *Client) Snapshot(key Key) (Value, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || e.value == nil {
		return nil, false
	}
	return e.value, true
}

// Stale reports whether the entry is resident and marked for refetch.
func (c *Client) Stale(key Key) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	return ok && e.stale
}

// Set stores v as the entry. Any fetch already in flight for the key is
// discarded when it completes.
func (c *Client) Set(key Key, v Value) {
	c.mu.Lock()
	e := c.entry(key)
	e.value = v
	e.stale = false
	e.updatedAt = time.Now()
	e.gen++
	c.notifyLocked(key)
	c.mu.Unlock()
}

// CancelFetch aborts the in-flight fetch of key, if any. Its result will not
// be written.
func (c *Client) CancelFetch(key Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return
	}
	e.gen++
	if e.inflight != nil {
		e.inflight.cancel()
		e.inflight = nil
	}
}

// Invalidate marks entries stale and refetches those that are resident.
func (c *Client) Invalidate(keys ...Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, key := range keys {
		e, ok := c.entries[key]
		if !ok {
			continue
		}
		e.stale = true
		if e.value != nil && e.inflight == nil {
			c.startFetchLocked(key, e)
		}
	}
}

// Remove evicts an entry, cancelling its fetch.
func (c *Client) Remove(key Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return
	}
	if e.inflight != nil {
		e.inflight.cancel()
	}
	delete(c.entries, key)
	c.notifyLocked(key)
}

// Keys lists the resident entries.
func (c *Client) Keys() []Key {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]Key, 0, len(c.entries))
	for k, e := range c.entries {
		if e.value != nil {
			keys = append(keys, k)
		}
	}
	return keys
}

// Watch returns a channel signalled whenever the entry changes. The channel
// holds one pending signal; bursts collapse. Call the returned func to stop.
func (c *Client) Watch(key Key) (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	c.mu.Lock()
	subs, ok := c.watchers[key]
	if !ok {
		subs = make(map[chan struct{}]struct{})
		c.watchers[key] = subs
	}
	subs[ch] = struct{}{}
	c.mu.Unlock()
	return ch, func() {
		c.mu.Lock()
		delete(c.watchers[key], ch)
		if len(c.watchers[key]) == 0 {
			delete(c.watchers, key)
		}
		c.mu.Unlock()
	}
}

func (c *Client) entry(key Key) *entry {
	e, ok := c.entries[key]
	if !ok {
		e = &entry{}
		c.entries[key] = e
	}
	return e
}

func (c *Client) notifyLocked(key Key) {
	for ch := range c.watchers[key] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (c *Client) startFetchLocked(key Key, e *entry) *fetchCall {
	ctx, cancel := context.WithCancel(context.Background())
	call := &fetchCall{done: make(chan struct{}), cancel: cancel}
	e.inflight = call
	gen := e.gen
	go func() {
		defer cancel()
		v, err := c.fetch(ctx, key)
		if err == nil && ctx.Err() != nil {
			err = ctx.Err()
		}

		c.mu.Lock()
		cur, ok := c.entries[key]
		if ok && cur.inflight == call {
			cur.inflight = nil
		}
		switch {
		case err != nil:
			if !errors.Is(err, context.Canceled) {
				c.logger.WithError(err).WithField("key", key).Warn("cache fetch failed")
			}
		case !ok || cur != e || cur.gen != gen:
			c.logger.WithField("key", key).Debug("discarding superseded fetch")
		default:
			cur.value = v
			cur.stale = false
			cur.updatedAt = time.Now()
			cur.gen++
			c.notifyLocked(key)
		}
		call.value, call.err = v, err
		c.mu.Unlock()
		close(call.done)
	}()
	return call
}
