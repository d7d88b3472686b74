// Package engine applies board mutations optimistically: the local cache is
// patched before the remote store confirms, and restored if it refuses.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"taskmate-sync/cache"
	"taskmate-sync/domain"
)

const mutationSpanName = "boardsync.mutation"

// RemoteStore executes commands against the authoritative store.
type RemoteStore interface {
	Execute(ctx context.Context, cmd domain.Command) error
}

// Notifier tells other clients that a board changed.
type Notifier interface {
	Notify(ctx context.Context, boardID, sender string)
}

// FailureHook is called after a mutation was rolled back.
type FailureHook func(name string, cmd domain.Command, err error)

// Mutation describes one optimistic change.
//
// Keys must be resident in the cache; Optional keys are patched only when
// resident; Drop keys are evicted while the mutation is pending. Apply
// receives deep copies of every resident key in Keys and Optional, edits them
// in place and returns the command to send. An Apply error aborts the
// mutation before anything is written.
type Mutation struct {
	Name     string
	BoardID  string
	Keys     []cache.Key
	Optional []cache.Key
	Drop     []cache.Key
	Apply    func(values map[cache.Key]cache.Value) (domain.Command, error)
}

// Options configures a Coordinator.
type Options struct {
	// Identity is sent with peer notifications so a client can ignore its
	// own events.
	Identity string
	// Timeout bounds each remote call. Zero means 30s.
	Timeout   time.Duration
	OnFailure FailureHook
	Logger    *log.Logger
}

// Coordinator runs mutations against a cache, a remote store and a notifier.
type Coordinator struct {
	cache     *cache.Client
	remote    RemoteStore
	notifier  Notifier
	identity  string
	timeout   time.Duration
	onFailure FailureHook
	logger    *log.Logger
	tracer    trace.Tracer

	wg sync.WaitGroup
}

// New wires a coordinator. notifier may be nil when no peers need telling.
func New(c *cache.Client, remote RemoteStore, notifier Notifier, opts Options) *Coordinator {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = log.StandardLogger()
	}
	return &Coordinator{
		cache:     c,
		remote:    remote,
		notifier:  notifier,
		identity:  opts.Identity,
		timeout:   opts.Timeout,
		onFailure: opts.OnFailure,
		logger:    opts.Logger,
		tracer:    otel.Tracer("taskmate-sync/engine"),
	}
}

// Cache returns the cache the coordinator patches.
func (c *Coordinator) Cache() *cache.Client { return c.cache }

// Wait blocks until every started mutation has settled.
func (c *Coordinator) Wait() { c.wg.Wait() }

// Run applies m to the cache and sends its command in the background. The
// returned handle settles once the remote store answered.
func (c *Coordinator) Run(ctx context.Context, m Mutation) (*Handle, error) {
	ctx, span := c.tracer.Start(ctx, mutationSpanName, trace.WithAttributes(
		attribute.String("mutation.name", m.Name),
		attribute.String("board.id", m.BoardID),
	))
	start := time.Now()

	touched := make([]cache.Key, 0, len(m.Keys)+len(m.Optional)+len(m.Drop))
	touched = append(touched, m.Keys...)
	touched = append(touched, m.Optional...)
	touched = append(touched, m.Drop...)
	for _, key := range touched {
		c.cache.CancelFetch(key)
	}

	snapshots := make(map[cache.Key]cache.Value, len(touched))
	working := make(map[cache.Key]cache.Value, len(m.Keys)+len(m.Optional))
	for _, key := range m.Keys {
		v, ok := c.cache.Snapshot(key)
		if !ok {
			err := fmt.Errorf("%s %s: %w", m.Name, key, domain.ErrNotCached)
			c.reject(span, m.Name, err)
			return nil, err
		}
		snapshots[key] = v
		working[key] = v.CloneValue()
	}
	for _, key := range m.Optional {
		if v, ok := c.cache.Snapshot(key); ok {
			snapshots[key] = v
			working[key] = v.CloneValue()
		}
	}
	for _, key := range m.Drop {
		if v, ok := c.cache.Snapshot(key); ok {
			snapshots[key] = v
		}
	}

	cmd, err := m.Apply(working)
	if err != nil {
		c.reject(span, m.Name, err)
		return nil, err
	}
	if cmd.IdempotencyKey == "" {
		cmd.IdempotencyKey = uuid.NewString()
	}
	if cmd.Timestamp == 0 {
		cmd.Timestamp = time.Now().UnixMilli()
	}

	for key, v := range working {
		c.cache.Set(key, v)
	}
	for _, key := range m.Drop {
		c.cache.Remove(key)
	}

	h := newHandle(m.Name, cmd)
	mutationsInFlight.Inc()
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer mutationsInFlight.Dec()
		defer span.End()

		rctx, cancel := context.WithTimeout(trace.ContextWithSpan(context.Background(), span), c.timeout)
		defer cancel()

		err := c.remote.Execute(rctx, cmd)
		mutationDuration.WithLabelValues(m.Name).Observe(time.Since(start).Seconds())
		if err != nil {
			c.rollback(m, cmd, snapshots, span, err)
			h.settle(StateRolledBack, err)
			return
		}

		refresh := make([]cache.Key, 0, len(working))
		for key := range working {
			refresh = append(refresh, key)
		}
		c.cache.Invalidate(refresh...)
		if m.BoardID != "" && c.notifier != nil {
			// The notifier bounds its own publish; rctx may be nearly spent.
			c.notifier.Notify(trace.ContextWithSpan(context.Background(), span), m.BoardID, c.identity)
		}
		mutationsTotal.WithLabelValues(m.Name, "committed").Inc()
		span.SetStatus(codes.Ok, "")
		c.logger.WithFields(log.Fields{
			"mutation":       m.Name,
			"boardId":        m.BoardID,
			"idempotencyKey": cmd.IdempotencyKey,
		}).Debug("mutation committed")
		h.settle(StateCommitted, nil)
	}()
	return h, nil
}

func (c *Coordinator) rollback(m Mutation, cmd domain.Command, snapshots map[cache.Key]cache.Value, span trace.Span, err error) {
	for key, v := range snapshots {
		c.cache.Set(key, v)
	}
	outcome := "rolled_back"
	if errors.Is(err, context.DeadlineExceeded) {
		outcome = "timed_out"
	}
	mutationsTotal.WithLabelValues(m.Name, outcome).Inc()
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	c.logger.WithError(err).WithFields(log.Fields{
		"mutation":       m.Name,
		"boardId":        m.BoardID,
		"idempotencyKey": cmd.IdempotencyKey,
	}).Warn("mutation rolled back")
	if c.onFailure != nil {
		c.onFailure(m.Name, cmd, err)
	}
}

func (c *Coordinator) reject(span trace.Span, name string, err error) {
	mutationsTotal.WithLabelValues(name, "rejected").Inc()
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	span.End()
	c.logger.WithError(err).WithField("mutation", name).Debug("mutation rejected")
}
