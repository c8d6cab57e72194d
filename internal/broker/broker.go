// Package broker mirrors events onto Redis pub/sub for consumers in other
// processes.
package broker

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	connectTimeout = 5 * time.Second
	publishTimeout = 3 * time.Second
)

// ErrDisabled is returned by Connect when no Redis address is configured.
var ErrDisabled = errors.New("broker disabled")

// ErrBackingOff is returned by Connect while waiting for the next reconnect
// attempt.
var ErrBackingOff = errors.New("broker waiting to reconnect")

// Envelope is the wire format of every mirrored message.
type Envelope struct {
	ID        uuid.UUID       `json:"id"`
	Resource  string          `json:"resource"`
	Action    string          `json:"action"`
	CreatedAt time.Time       `json:"createdAt"`
	Payload   json.RawMessage `json:"payload"`
}

type Handler func(ctx context.Context, env Envelope)

// Client owns one shared Redis connection pool, created on first use.
type Client struct {
	opts      *redis.Options
	namespace string
	logger    *zap.Logger
	now       func() time.Time

	mu          sync.Mutex
	client      *redis.Client
	initialized bool
	nextAttempt time.Time
	backoff     backoff.BackOff
}

// New returns a client publishing under namespace. A nil opts yields a
// disabled client where every call is a no-op.
func New(opts *redis.Options, namespace string, logger *zap.Logger) *Client {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0
	return &Client{
		opts:      opts,
		namespace: namespace,
		logger:    logger.Named("broker"),
		now:       time.Now,
		backoff:   b,
	}
}

func (c *Client) Enabled() bool {
	return c.opts != nil
}

// Channel returns the channel name for resource and action.
func (c *Client) Channel(resource, action string) string {
	return c.namespace + ":" + resource + ":" + action
}

// Connect establishes the shared connection. It is safe to call repeatedly
// and from many goroutines; after a failure further attempts are refused
// until the backoff interval has passed.
func (c *Client) Connect(ctx context.Context) error {
	_, err := c.connect(ctx)
	return err
}

// connect returns the shared client as seen under the lock, so a concurrent
// Close cannot leave the caller with a nil client.
func (c *Client) connect(ctx context.Context) (*redis.Client, error) {
	if !c.Enabled() {
		return nil, ErrDisabled
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.initialized {
		return c.client, nil
	}
	if c.now().Before(c.nextAttempt) {
		return nil, ErrBackingOff
	}

	client := redis.NewClient(c.opts)
	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		wait := c.backoff.NextBackOff()
		c.nextAttempt = c.now().Add(wait)
		c.logger.Error("broker.connect_failed",
			zap.String("addr", c.opts.Addr),
			zap.Duration("retry_in", wait),
			zap.Error(err))
		return nil, errors.Wrap(err, "ping redis")
	}

	c.client = client
	c.initialized = true
	c.backoff.Reset()
	c.nextAttempt = time.Time{}
	c.logger.Info("broker.connected", zap.String("addr", c.opts.Addr))
	return client, nil
}

// Publish wraps payload in an envelope and sends it to the channel for
// resource and action. Failures are logged and dropped. It returns the
// envelope id, or uuid.Nil when nothing was sent.
func (c *Client) Publish(ctx context.Context, resource, action string, payload any) uuid.UUID {
	if !c.Enabled() {
		return uuid.Nil
	}
	rc, err := c.connect(ctx)
	if err != nil {
		c.logger.Debug("broker.publish_skipped",
			zap.String("resource", resource),
			zap.String("action", action),
			zap.Error(err))
		return uuid.Nil
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		c.logger.Error("broker.failed_to_marshal", zap.Error(err))
		return uuid.Nil
	}
	env := Envelope{
		ID:        uuid.New(),
		Resource:  resource,
		Action:    action,
		CreatedAt: c.now().UTC(),
		Payload:   raw,
	}
	data, err := json.Marshal(env)
	if err != nil {
		c.logger.Error("broker.failed_to_marshal", zap.Error(err))
		return uuid.Nil
	}

	channel := c.Channel(resource, action)
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := rc.Publish(pubCtx, channel, data).Err(); err != nil {
		c.logger.Error("broker.publish_failed",
			zap.String("channel", channel),
			zap.Error(err))
		return uuid.Nil
	}

	c.logger.Debug("broker.published",
		zap.String("id", env.ID.String()),
		zap.String("channel", channel))
	return env.ID
}

// Subscribe delivers every envelope published for the given resources to
// handler until ctx is done, reconnecting as needed. It blocks.
func (c *Client) Subscribe(ctx context.Context, handler Handler, resources ...string) error {
	if !c.Enabled() {
		return ErrDisabled
	}
	patterns := make([]string, len(resources))
	for i, r := range resources {
		patterns[i] = c.Channel(r, "*")
	}

	retry := backoff.NewExponentialBackOff()
	retry.InitialInterval = time.Second
	retry.MaxInterval = 30 * time.Second
	retry.MaxElapsedTime = 0

	wait := func() bool {
		select {
		case <-ctx.Done():
			return false
		case <-time.After(retry.NextBackOff()):
			return true
		}
	}

	for {
		if ctx.Err() != nil {
			return nil
		}
		rc, err := c.connect(ctx)
		if err != nil {
			if !wait() {
				return nil
			}
			continue
		}

		c.logger.Info("broker.subscribing", zap.Strings("patterns", patterns))
		pubsub := rc.PSubscribe(ctx, patterns...)
		if _, err := pubsub.Receive(ctx); err != nil {
			pubsub.Close()
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error("broker.subscribe_failed", zap.Error(err))
			if !wait() {
				return nil
			}
			continue
		}
		retry.Reset()
		c.logger.Info("broker.subscribed", zap.Strings("patterns", patterns))

		if !c.consume(ctx, pubsub.Channel(), handler) {
			pubsub.Close()
			return nil
		}
		pubsub.Close()
		c.logger.Warn("broker.channel_closed")
		if !wait() {
			return nil
		}
	}
}

// consume reads until ctx is done (false) or the channel closes (true).
func (c *Client) consume(ctx context.Context, ch <-chan *redis.Message, handler Handler) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case msg, ok := <-ch:
			if !ok {
				return true
			}
			var env Envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				c.logger.Error("broker.failed_to_unmarshal",
					zap.Error(err),
					zap.String("channel", msg.Channel))
				continue
			}
			if env.Resource == "" || env.Action == "" {
				env.Resource, env.Action = c.splitChannel(msg.Channel)
			}
			handler(ctx, env)
		}
	}
}

func (c *Client) splitChannel(channel string) (string, string) {
	rest := strings.TrimPrefix(channel, c.namespace+":")
	resource, action, _ := strings.Cut(rest, ":")
	return resource, action
}

// Close releases the shared connection. The client may be reconnected by a
// later call.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client == nil {
		return nil
	}
	err := c.client.Close()
	c.client = nil
	c.initialized = false
	return err
}
