package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/supportdesk/internal/model"
	"github.com/supportdesk/internal/storage"
)

const tokenKeyPrefix = "chat_token:"

type Client struct {
	cli *redis.Client
}

func New(ctx context.Context, url string) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis parse url: %w", err)
	}
	return NewFromClient(ctx, redis.NewClient(opts))
}

// NewFromClient wraps an existing go-redis client after a ping.
func NewFromClient(ctx context.Context, cli *redis.Client) (*Client, error) {
	if err := cli.Ping(ctx).Err(); err != nil {
		if closeErr := cli.Close(); closeErr != nil {
			return nil, fmt.Errorf("redis ping: %w (close: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Client{cli: cli}, nil
}

func (c *Client) Close() error {
	return c.cli.Close()
}

// Identity читает JSON identity по ключу chat_token:{token}.
func (c *Client) Identity(ctx context.Context, token string) (*model.Identity, error) {
	raw, err := c.cli.Get(ctx, tokenKeyPrefix+token).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, storage.ErrUnknownToken
	}
	if err != nil {
		return nil, fmt.Errorf("redis get token: %w", err)
	}
	var id model.Identity
	if err := json.Unmarshal(raw, &id); err != nil {
		return nil, fmt.Errorf("redis decode identity: %w", err)
	}
	return &id, nil
}

func (c *Client) Put(ctx context.Context, token string, id model.Identity, ttl time.Duration) error {
	raw, err := json.Marshal(id)
	if err != nil {
		return err
	}
	if ttl < 0 {
		ttl = 0
	}
	return c.cli.Set(ctx, tokenKeyPrefix+token, raw, ttl).Err()
}

func (c *Client) Revoke(ctx context.Context, token string) error {
	return c.cli.Del(ctx, tokenKeyPrefix+token).Err()
}
