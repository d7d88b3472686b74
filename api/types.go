package api

import (
	"context"

	"taskmate-sync/domain"
)

// Storage abstracts the read model and command intake for handlers.
type Storage interface {
	FetchBoard(ctx context.Context, boardID string) (domain.Board, error)
	FetchWorkspace(ctx context.Context, userID string) (domain.Workspace, error)
	FetchUser(ctx context.Context, userID string) (domain.User, error)
	UpsertUser(ctx context.Context, u domain.User) error
	EnqueueCommands(ctx context.Context, userID string, cmds []domain.Command) error
	Ping(ctx context.Context) error
}

// Authenticator is implemented by types able to extract user IDs from headers.
type Authenticator interface {
	UserIDFromAuthHeader(string) (string, error)
}

// Deduper drops commands whose idempotency key was already accepted.
type Deduper interface {
	// Claim records the keys of cmds and reports which of them were new.
	Claim(ctx context.Context, userID string, cmds []domain.Command) ([]bool, error)
	// Release forgets keys after their commands failed to enqueue.
	Release(ctx context.Context, userID string, keys ...string) error
}
