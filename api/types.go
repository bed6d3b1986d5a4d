package api

import (
	"context"

	"taskboard/board"
)

// Boards hands out the board session of an owner.
type Boards interface {
	Session(ctx context.Context, owner string) (*board.Session, error)
}

// Authenticator is implemented by types able to extract user IDs from headers.
type Authenticator interface {
	UserIDFromAuthHeader(string) (string, error)
}

// Deduper prevents a retried create from adding the same task twice.
type Deduper interface {
	// Add records the idempotency key and returns true if it was newly added.
	Add(ctx context.Context, owner, key string) (bool, error)
	// Remove deletes a previously added key, used when the create fails.
	Remove(ctx context.Context, owner, key string) error
}

// Anonymous accepts every request as the anonymous board owner.
type Anonymous struct{}

func (Anonymous) UserIDFromAuthHeader(string) (string, error) { return "", nil }
