// Package broadcast tells other clients that a board changed and turns their
// notifications into cache invalidations.
package broadcast

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"taskmate-sync/cache"
)

var eventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "boardsync_broadcast_events_total",
	Help: "Board events by direction (sent, received) and outcome",
}, []string{"direction", "outcome"})

// Invalidator marks cache entries stale.
type Invalidator interface {
	Invalidate(keys ...cache.Key)
}

// Options configures a Broadcaster.
type Options struct {
	// Identity is the user id stamped as sender on outgoing events.
	Identity string
	// Session identifies this client among the user's clients. Incoming
	// events carrying it are the client's own echoes and are dropped.
	// Empty means a random id.
	Session string
	// CoalesceWindow collapses events for one board into a single
	// invalidation. Zero invalidates on every event.
	CoalesceWindow time.Duration
	// PublishTimeout bounds Notify. Zero means 5s.
	PublishTimeout time.Duration
	// ReconnectDelay is the pause before resubscribing. Zero means 1s.
	ReconnectDelay time.Duration
	Logger         *log.Logger
}

// Broadcaster publishes board change events and consumes those of peers.
type Broadcaster struct {
	transport      Transport
	cache          Invalidator
	identity       string
	session        string
	window         time.Duration
	publishTimeout time.Duration
	reconnectDelay time.Duration
	logger         *log.Logger

	mu      sync.Mutex
	joined  map[string]int
	sub     Subscription
	pending map[string]*time.Timer
}

// New creates a broadcaster over transport that invalidates entries of c.
func New(transport Transport, c Invalidator, opts Options) *Broadcaster {
	if opts.PublishTimeout <= 0 {
		opts.PublishTimeout = 5 * time.Second
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = time.Second
	}
	if opts.Logger == nil {
		opts.Logger = log.StandardLogger()
	}
	if opts.Session == "" {
		opts.Session = uuid.NewString()
	}
	return &Broadcaster{
		transport:      transport,
		cache:          c,
		identity:       opts.Identity,
		session:        opts.Session,
		window:         opts.CoalesceWindow,
		publishTimeout: opts.PublishTimeout,
		reconnectDelay: opts.ReconnectDelay,
		logger:         opts.Logger,
		joined:         make(map[string]int),
		pending:        make(map[string]*time.Timer),
	}
}

// Identity returns the sender id stamped on outgoing events.
func (b *Broadcaster) Identity() string { return b.identity }

// Session returns the id this client stamps on its own events.
func (b *Broadcaster) Session() string { return b.session }

// Notify publishes an update event for boardID. Failures are logged and
// counted, never returned: peers will converge on their next refetch.
func (b *Broadcaster) Notify(ctx context.Context, boardID, sender string) {
	if sender == "" {
		sender = b.identity
	}
	ev := NewEvent(boardID, sender, time.Now().UnixMilli())
	ev.Data.Session = b.session
	payload, err := ev.Encode()
	if err != nil {
		eventsTotal.WithLabelValues("sent", "encode_error").Inc()
		b.logger.WithError(err).WithField("boardId", boardID).Error("encode board event")
		return
	}
	ctx, cancel := context.WithTimeout(ctx, b.publishTimeout)
	defer cancel()
	if err := b.transport.Publish(ctx, ev.Channel, payload); err != nil {
		eventsTotal.WithLabelValues("sent", "error").Inc()
		b.logger.WithError(err).WithField("channel", ev.Channel).Warn("publish board event")
		return
	}
	eventsTotal.WithLabelValues("sent", "ok").Inc()
}

// OnRemoteEvent handles an event received from a peer.
func (b *Broadcaster) OnRemoteEvent(ev Event) {
	if ev.Event != EventName {
		eventsTotal.WithLabelValues("received", "unknown_event").Inc()
		return
	}
	boardID, ok := ev.BoardID()
	if !ok {
		eventsTotal.WithLabelValues("received", "bad_channel").Inc()
		return
	}
	if b.isOwn(ev.Data) {
		eventsTotal.WithLabelValues("received", "own").Inc()
		return
	}
	if b.window <= 0 {
		eventsTotal.WithLabelValues("received", "invalidated").Inc()
		b.cache.Invalidate(cache.BoardKey(boardID))
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, waiting := b.pending[boardID]; waiting {
		eventsTotal.WithLabelValues("received", "coalesced").Inc()
		return
	}
	eventsTotal.WithLabelValues("received", "invalidated").Inc()
	b.pending[boardID] = time.AfterFunc(b.window, func() {
		b.mu.Lock()
		delete(b.pending, boardID)
		b.mu.Unlock()
		b.cache.Invalidate(cache.BoardKey(boardID))
	})
}

// isOwn reports whether an event echoes this client's own Notify. Events
// from other sessions of the same user are not own.
func (b *Broadcaster) isOwn(d EventData) bool {
	if d.Session != "" {
		return d.Session == b.session
	}
	return b.identity != "" && d.Sender == b.identity
}

// Join starts listening on a board's channel. Joins are reference counted.
func (b *Broadcaster) Join(ctx context.Context, boardID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.joined[boardID]++
	if b.joined[boardID] > 1 || b.sub == nil {
		return nil
	}
	return b.sub.Add(ctx, ChannelName(boardID))
}

// Leave stops listening on a board's channel once every Join was matched.
func (b *Broadcaster) Leave(ctx context.Context, boardID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	n, ok := b.joined[boardID]
	if !ok {
		return nil
	}
	if n > 1 {
		b.joined[boardID] = n - 1
		return nil
	}
	delete(b.joined, boardID)
	if t, ok := b.pending[boardID]; ok {
		t.Stop()
		delete(b.pending, boardID)
	}
	if b.sub == nil {
		return nil
	}
	return b.sub.Remove(ctx, ChannelName(boardID))
}

// Joined lists the boards currently listened to.
func (b *Broadcaster) Joined() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.joined))
	for id := range b.joined {
		out = append(out, id)
	}
	return out
}

// Run consumes peer events until ctx is done, resubscribing to every joined
// channel whenever the subscription drops.
func (b *Broadcaster) Run(ctx context.Context) error {
	for {
		b.mu.Lock()
		channels := make([]string, 0, len(b.joined))
		for id := range b.joined {
			channels = append(channels, ChannelName(id))
		}
		b.mu.Unlock()

		sub, err := b.transport.Subscribe(ctx, channels...)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			b.logger.WithError(err).Error("subscribe to board channels")
			if !b.sleep(ctx) {
				return ctx.Err()
			}
			continue
		}
		b.reconcile(ctx, sub, channels)

		b.consume(ctx, sub)

		b.mu.Lock()
		b.sub = nil
		b.mu.Unlock()
		_ = sub.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b.logger.Error("board event subscription closed, reconnecting")
		if !b.sleep(ctx) {
			return ctx.Err()
		}
	}
}

// reconcile installs sub and brings it in line with boards joined or left
// while Subscribe was in flight. The lock is held throughout so a concurrent
// Join or Leave either ran before and is accounted for here, or runs after
// and sees b.sub.
func (b *Broadcaster) reconcile(ctx context.Context, sub Subscription, subscribed []string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sub = sub
	var late, left []string
	for id := range b.joined {
		if !contains(subscribed, ChannelName(id)) {
			late = append(late, ChannelName(id))
		}
	}
	for _, ch := range subscribed {
		id, _ := BoardIDFromChannel(ch)
		if _, ok := b.joined[id]; !ok {
			left = append(left, ch)
		}
	}
	if len(late) > 0 {
		if err := sub.Add(ctx, late...); err != nil {
			b.logger.WithError(err).Warn("subscribe to late joined boards")
		}
	}
	if len(left) > 0 {
		if err := sub.Remove(ctx, left...); err != nil {
			b.logger.WithError(err).Warn("unsubscribe from left boards")
		}
	}
}

func (b *Broadcaster) consume(ctx context.Context, sub Subscription) {
	msgs := sub.Messages()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			ev, err := DecodeEvent(msg.Payload)
			if err != nil {
				eventsTotal.WithLabelValues("received", "decode_error").Inc()
				b.logger.WithError(err).WithField("channel", msg.Channel).Warn("unable to parse board event")
				continue
			}
			if ev.Channel == "" {
				ev.Channel = msg.Channel
			}
			b.OnRemoteEvent(ev)
		}
	}
}

func (b *Broadcaster) sleep(ctx context.Context) bool {
	t := time.NewTimer(b.reconnectDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
