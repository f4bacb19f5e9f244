// Package redisstore keeps sessions in Redis and broadcasts changes over a
// pub/sub channel, so Stores in different processes observe each other's
// logins and logouts.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/jrsteele09/go-auth-session/sessions"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var _ sessions.Backend = (*Backend)(nil)

type Backend struct {
	client  redis.UniversalClient
	channel string
	log     zerolog.Logger
}

type Option func(*Backend)

func WithLogger(l zerolog.Logger) Option {
	return func(b *Backend) {
		b.log = l
	}
}

// New wraps an existing client. Events are exchanged on channel.
func New(client redis.UniversalClient, channel string, options ...Option) *Backend {
	b := &Backend{
		client:  client,
		channel: channel,
		log:     log.Logger,
	}
	for _, opt := range options {
		opt(b)
	}
	return b
}

// Dial connects to addr and checks the connection.
func Dial(ctx context.Context, addr, channel string, options ...Option) (*Backend, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	return New(client, channel, options...), nil
}

func (b *Backend) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := b.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (b *Backend) Set(ctx context.Context, key, value string) error {
	return b.client.Set(ctx, key, value, 0).Err()
}

func (b *Backend) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return b.client.Del(ctx, keys...).Err()
}

func (b *Backend) Publish(ctx context.Context, event sessions.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, b.channel, payload).Err()
}

// Subscribe returns once the subscription is confirmed by the server, so no
// event published afterwards is missed.
func (b *Backend) Subscribe(fn func(sessions.Event)) (func(), error) {
	ctx := context.Background()
	ps := b.client.Subscribe(ctx, b.channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", b.channel, err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for msg := range ps.Channel() {
			var e sessions.Event
			if err := json.Unmarshal([]byte(msg.Payload), &e); err != nil {
				b.log.Warn().Err(err).Str("channel", b.channel).Msg("ignoring malformed session event")
				continue
			}
			fn(e)
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			_ = ps.Close()
			<-done
		})
	}, nil
}

func (b *Backend) Close() error {
	return b.client.Close()
}
