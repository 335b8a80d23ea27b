// Package redisnotify delivers row-change events over Redis pub/sub. The
// backend publishes one JSON event per changed row on rowchange:{resource};
// filtering by chat id and event type happens client-side.
package redisnotify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/chatview/internal/backend"
	"github.com/chatview/internal/logger"
)

const channelPrefix = "rowchange:"

type Client struct {
	cli *redis.Client
}

func New(ctx context.Context, url string) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis parse url: %w", err)
	}
	cli := redis.NewClient(opts)
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

type pubsubChannel struct {
	id   string
	ps   *redis.PubSub
	done chan struct{}
}

func (c *pubsubChannel) ID() string { return c.id }

func (c *Client) Subscribe(ctx context.Context, sub backend.Subscription, fn func(backend.Event)) (backend.Channel, error) {
	ps := c.cli.Subscribe(ctx, channelPrefix+string(sub.Resource))
	// Force the subscription onto the wire before returning the handle.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, &backend.SubscriptionError{Op: "redisnotify.Subscribe", Err: err}
	}

	ch := &pubsubChannel{
		id:   uuid.New().String(),
		ps:   ps,
		done: make(chan struct{}),
	}
	go func() {
		defer close(ch.done)
		for msg := range ps.Channel() {
			var ev backend.Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				logger.Errorf("redisnotify: bad payload %q: %v", msg.Payload, err)
				continue
			}
			if sub.Matches(ev) {
				fn(ev)
			}
		}
	}()
	return ch, nil
}

// Unsubscribe closes the pub/sub connection and waits for the delivery
// goroutine to exit, so no callback can fire after it returns.
func (c *Client) Unsubscribe(ch backend.Channel) error {
	pc, ok := ch.(*pubsubChannel)
	if !ok {
		return &backend.SubscriptionError{Op: "redisnotify.Unsubscribe", Err: backend.ErrNotFound}
	}
	if err := pc.ps.Close(); err != nil {
		return &backend.SubscriptionError{Op: "redisnotify.Unsubscribe", Err: err}
	}
	<-pc.done
	return nil
}

// Publish sends an event for a changed row; used by tooling and tests that
// stand in for the backend side.
func (c *Client) Publish(ctx context.Context, ev backend.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("redisnotify.Publish marshal: %w", err)
	}
	return c.cli.Publish(ctx, channelPrefix+string(ev.Resource), payload).Err()
}
