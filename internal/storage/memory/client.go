package memory

import (
	"context"
	"sync"
	"time"

	"github.com/supportdesk/internal/model"
	"github.com/supportdesk/internal/storage"
)

type item struct {
	id  model.Identity
	exp time.Time // zero: no expiry
}

type Client struct {
	mu     sync.RWMutex
	tokens map[string]item
	now    func() time.Time
}

func New() *Client {
	return &Client{tokens: make(map[string]item), now: time.Now}
}

func (c *Client) Close() error { return nil }

func (c *Client) Identity(ctx context.Context, token string) (*model.Identity, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.tokens[token]
	if !ok || (!v.exp.IsZero() && c.now().After(v.exp)) {
		return nil, storage.ErrUnknownToken
	}
	id := v.id
	return &id, nil
}

func (c *Client) Put(ctx context.Context, token string, id model.Identity, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	it := item{id: id}
	if ttl > 0 {
		it.exp = c.now().Add(ttl)
	}
	c.tokens[token] = it
	return nil
}

func (c *Client) Revoke(ctx context.Context, token string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.tokens, token)
	return nil
}
