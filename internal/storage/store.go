package storage

import (
	"context"
	"errors"
	"time"

	"github.com/supportdesk/internal/model"
)

// ErrUnknownToken is returned when a bearer token maps to no identity (absent or expired).
var ErrUnknownToken = errors.New("unknown token")

// TokenStore resolves bearer tokens to identities.
// Реализации: redis.Client, memory.Client (для -dev без Redis), devstore.Client (статические токены поверх другой реализации).
type TokenStore interface {
	Identity(ctx context.Context, token string) (*model.Identity, error)
	// Put stores token -> identity; ttl <= 0 means no expiry.
	Put(ctx context.Context, token string, id model.Identity, ttl time.Duration) error
	Revoke(ctx context.Context, token string) error
	Close() error
}
