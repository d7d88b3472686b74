package main

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"taskmate-sync/broadcast"
	"taskmate-sync/cache"
	"taskmate-sync/domain"
	"taskmate-sync/engine"
	"taskmate-sync/remote"
)

type settings struct {
	apiURL   string
	token    string
	timeout  time.Duration
	coalesce time.Duration
}

// session wires the sync engine for one CLI invocation.
type session struct {
	remote      *remote.Client
	cache       *cache.Client
	broadcaster *broadcast.Broadcaster
	coordinator *engine.Coordinator
	logger      *log.Logger
}

func newSession(s settings) (*session, error) {
	if s.apiURL == "" {
		return nil, fmt.Errorf("missing API URL (--api or BOARDSYNC_API)")
	}
	logger := log.StandardLogger()
	rc := remote.New(s.apiURL, s.token, s.timeout)
	sess := &session{
		remote: rc,
		cache:  cache.New(cache.SourceFetcher(rc), logger),
		logger: logger,
	}

	// Events are stamped with the user id; the session id set by the
	// broadcaster tells this process apart from the user's other clients.
	identity, err := remote.Subject(s.token)
	if err != nil {
		logger.WithError(err).Debug("bearer token carries no user id")
	}
	sess.broadcaster = broadcast.New(rc.Events(), sess.cache, broadcast.Options{
		Identity:       identity,
		CoalesceWindow: s.coalesce,
		Logger:         logger,
	})

	sess.coordinator = engine.New(sess.cache, rc, sess.broadcaster, engine.Options{
		Identity: identity,
		Timeout:  s.timeout,
		Logger:   logger,
		OnFailure: func(name string, cmd domain.Command, err error) {
			logger.WithError(err).WithField("mutation", name).Error("change was rolled back")
		},
	})
	return sess, nil
}

func (s *session) close() {
	s.coordinator.Wait()
}

// board loads a board into the cache.
func (s *session) board(ctx context.Context, boardID string) (*cache.Tree, error) {
	v, err := s.cache.Get(ctx, cache.BoardKey(boardID))
	if err != nil {
		return nil, err
	}
	return v.(*cache.Tree), nil
}

// workspace loads the caller's workspace into the cache.
func (s *session) workspace(ctx context.Context) (*cache.Workspace, error) {
	v, err := s.cache.Get(ctx, cache.WorkspaceKey)
	if err != nil {
		return nil, err
	}
	return v.(*cache.Workspace), nil
}

// settle waits for a mutation to be confirmed or rolled back.
func settle(ctx context.Context, h *engine.Handle) error {
	err := h.Wait(ctx)
	if h.State() == engine.StateRolledBack {
		return fmt.Errorf("%s rolled back: %w", h.Name, err)
	}
	return err
}
