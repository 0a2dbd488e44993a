// Package redis stores address activity in Redis.
package redis

import (
	"context"

	redis "github.com/redis/go-redis/v9"
)

// DefaultStreamMaxLen caps every activity stream, approximately.
const DefaultStreamMaxLen = 10_000

type config struct {
	streamMaxLen int64
}

type Option func(*config)

// WithStreamMaxLen sets the approximate length activity streams are trimmed
// to. Zero disables trimming.
func WithStreamMaxLen(n int64) Option {
	return func(c *config) {
		c.streamMaxLen = n
	}
}

type client struct {
	conn *redis.Client
	cfg  config
}

func (c *client) Close() error {
	return c.conn.Close()
}

func newClient(conn *redis.Client, opts ...Option) *client {
	cfg := config{streamMaxLen: DefaultStreamMaxLen}
	for _, opt := range opts {
		opt(&cfg)
	}

	return &client{
		conn: conn,
		cfg:  cfg,
	}
}

func NewClient(ctx context.Context, addr, username, password string, db int, opts ...Option) (*client, error) {
	conn := redis.NewClient(&redis.Options{
		Addr:     addr,
		Username: username,
		Password: password,
		DB:       db,
	})

	if err := conn.Ping(ctx).Err(); err != nil {
		_ = conn.Close()
		return nil, err
	}

	return newClient(conn, opts...), nil
}
