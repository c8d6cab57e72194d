// Package realtime pushes newly created notifications to connected clients.
package realtime

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tgdrive/geonotify/internal/broker"
	"github.com/tgdrive/geonotify/pkg/schemas"
)

const (
	resource = "notification"
	action   = "created"

	defaultBufferSize       = 100
	defaultDeduplicationTTL = 30 * time.Minute
)

// Broker is the part of the broker client the hub needs.
type Broker interface {
	Enabled() bool
	Publish(ctx context.Context, resource, action string, payload any) uuid.UUID
	Subscribe(ctx context.Context, handler broker.Handler, resources ...string) error
}

type Config struct {
	BufferSize       int
	DeduplicationTTL time.Duration
}

// Hub keeps per-user subscriber channels. With a broker, announcements go
// through Redis and are delivered when they come back, so every instance
// sees each one exactly once.
type Hub struct {
	broker Broker
	logger *zap.Logger
	config Config

	subscribers map[int64][]chan schemas.Notification
	subMu       sync.RWMutex

	recent   map[string]time.Time
	recentMu sync.Mutex
}

func NewHub(b Broker, config Config, logger *zap.Logger) *Hub {
	if config.BufferSize <= 0 {
		config.BufferSize = defaultBufferSize
	}
	if config.DeduplicationTTL <= 0 {
		config.DeduplicationTTL = defaultDeduplicationTTL
	}
	return &Hub{
		broker:      b,
		logger:      logger.Named("realtime"),
		config:      config,
		subscribers: make(map[int64][]chan schemas.Notification),
		recent:      make(map[string]time.Time),
	}
}

func (h *Hub) distributed() bool {
	return h.broker != nil && h.broker.Enabled()
}

// Announce tells the recipient of n that it exists.
func (h *Hub) Announce(ctx context.Context, n schemas.Notification) {
	if h.distributed() {
		if id := h.broker.Publish(ctx, resource, action, n); id != uuid.Nil {
			return
		}
		h.logger.Debug("realtime.broker_unavailable_local_only", zap.Int64("id", n.ID))
	}
	h.deliver(n)
}

// Run consumes announcements from other instances until ctx is done. Without
// a broker it just waits.
func (h *Hub) Run(ctx context.Context) error {
	if !h.distributed() {
		<-ctx.Done()
		return nil
	}
	return h.broker.Subscribe(ctx, h.receive, resource)
}

func (h *Hub) receive(_ context.Context, env broker.Envelope) {
	if env.Action != action {
		return
	}
	var n schemas.Notification
	if err := json.Unmarshal(env.Payload, &n); err != nil {
		h.logger.Error("realtime.failed_to_unmarshal",
			zap.Error(err),
			zap.String("envelope_id", env.ID.String()))
		return
	}
	h.deliver(n)
}

func (h *Hub) deliver(n schemas.Notification) {
	if !h.shouldProcess(strconv.FormatInt(n.ID, 10)) {
		h.logger.Debug("realtime.duplicate_skipped", zap.Int64("id", n.ID))
		return
	}
	h.broadcast(n)
}

// shouldProcess reports whether id was not delivered within the TTL.
func (h *Hub) shouldProcess(id string) bool {
	h.recentMu.Lock()
	defer h.recentMu.Unlock()

	if ts, ok := h.recent[id]; ok {
		if time.Since(ts) < h.config.DeduplicationTTL {
			return false
		}
		delete(h.recent, id)
	}
	h.recent[id] = time.Now()

	if len(h.recent)%100 == 0 {
		now := time.Now()
		for k, ts := range h.recent {
			if now.Sub(ts) > h.config.DeduplicationTTL {
				delete(h.recent, k)
			}
		}
	}
	return true
}

// broadcast never blocks; a full subscriber misses the message.
func (h *Hub) broadcast(n schemas.Notification) {
	h.subMu.RLock()
	defer h.subMu.RUnlock()

	for i, ch := range h.subscribers[n.UserID] {
		select {
		case ch <- n:
		default:
			h.logger.Debug("realtime.channel_full",
				zap.Int64("id", n.ID),
				zap.Int("subscriber_index", i))
		}
	}
}

func (h *Hub) Subscribe(userID int64) chan schemas.Notification {
	ch := make(chan schemas.Notification, h.config.BufferSize)

	h.subMu.Lock()
	h.subscribers[userID] = append(h.subscribers[userID], ch)
	total := len(h.subscribers[userID])
	h.subMu.Unlock()

	h.logger.Debug("realtime.subscribed",
		zap.Int64("user_id", userID),
		zap.Int("total_subs", total))
	return ch
}

// Unsubscribe removes ch and closes it once pending messages are drained.
func (h *Hub) Unsubscribe(userID int64, ch chan schemas.Notification) {
	h.subMu.Lock()
	if subs, ok := h.subscribers[userID]; ok {
		for i, sub := range subs {
			if sub == ch {
				h.subscribers[userID] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		if len(h.subscribers[userID]) == 0 {
			delete(h.subscribers, userID)
		}
	}
	h.subMu.Unlock()

	go func() {
		timeout := time.After(100 * time.Millisecond)
		for {
			select {
			case <-ch:
			case <-timeout:
				close(ch)
				return
			}
		}
	}()

	h.logger.Debug("realtime.unsubscribed", zap.Int64("user_id", userID))
}
