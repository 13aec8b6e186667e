package devstore

import (
	"context"
	"errors"
	"time"

	"github.com/supportdesk/internal/model"
	"github.com/supportdesk/internal/storage"
)

// Client реализует TokenStore для режима -dev: статические токены из конфига
// отвечают первыми, остальное уходит в base (Redis или память).
type Client struct {
	static map[string]model.Identity
	base   storage.TokenStore
}

func New(static map[string]model.Identity, base storage.TokenStore) *Client {
	cp := make(map[string]model.Identity, len(static))
	for k, v := range static {
		cp[k] = v
	}
	return &Client{static: cp, base: base}
}

func (c *Client) Close() error { return c.base.Close() }

func (c *Client) Identity(ctx context.Context, token string) (*model.Identity, error) {
	if id, ok := c.static[token]; ok {
		return &id, nil
	}
	return c.base.Identity(ctx, token)
}

func (c *Client) Put(ctx context.Context, token string, id model.Identity, ttl time.Duration) error {
	if _, ok := c.static[token]; ok {
		return errors.New("devstore: token is static")
	}
	return c.base.Put(ctx, token, id, ttl)
}

func (c *Client) Revoke(ctx context.Context, token string) error {
	if _, ok := c.static[token]; ok {
		return errors.New("devstore: token is static")
	}
	return c.base.Revoke(ctx, token)
}
