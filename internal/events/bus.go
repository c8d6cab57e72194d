package events

import (
	"context"
	"runtime/debug"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tgdrive/geonotify/internal/logging"
)

type Mode string

const (
	// ModeSync runs handlers inside Publish.
	ModeSync Mode = "sync"
	// ModeAsync hands events to an in-process worker pool and returns.
	ModeAsync Mode = "async"
	// ModeQueue hands events to a durable job queue.
	ModeQueue Mode = "queue"
)

const (
	defaultWorkers    = 8
	defaultBufferSize = 1000
	shutdownTimeout   = 5 * time.Second
)

type Handler func(ctx context.Context, evt Event) error

// Mirror forwards published events to other processes.
type Mirror interface {
	Enabled() bool
	Publish(ctx context.Context, resource, action string, payload any) uuid.UUID
}

// Enqueuer persists an event for a worker to dispatch later.
type Enqueuer interface {
	Enqueue(ctx context.Context, evt Event) error
}

type Config struct {
	Mode       Mode
	Workers    int
	BufferSize int
}

// Bus routes published events to the handlers subscribed to their type.
type Bus struct {
	cfg      Config
	logger   *zap.Logger
	mirror   Mirror
	validate *validator.Validate
	now      func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	handlerMu sync.RWMutex
	handlers  map[Type][]Handler

	queueMu  sync.RWMutex
	queue    chan Event
	closed   bool
	enqueuer Enqueuer

	workers sync.WaitGroup
	pending sync.WaitGroup
}

// NewBus starts a bus. mirror may be nil.
func NewBus(ctx context.Context, cfg Config, mirror Mirror, logger *zap.Logger) *Bus {
	if cfg.Mode == "" {
		cfg.Mode = ModeAsync
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}

	// Workers ignore the caller's cancellation; Shutdown cancels after draining.
	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	b := &Bus{
		cfg:      cfg,
		logger:   logger.Named("events"),
		mirror:   mirror,
		validate: validator.New(),
		now:      time.Now,
		ctx:      ctx,
		cancel:   cancel,
		handlers: make(map[Type][]Handler),
	}

	if cfg.Mode != ModeSync {
		b.queue = make(chan Event, cfg.BufferSize)
		for i := 0; i < cfg.Workers; i++ {
			b.workers.Add(1)
			go b.worker()
		}
	}

	b.logger.Info("events.bus_started",
		zap.String("mode", string(cfg.Mode)),
		zap.Int("workers", cfg.Workers))
	return b
}

// UseQueue sets the queue used in ModeQueue.
func (b *Bus) UseQueue(e Enqueuer) {
	b.queueMu.Lock()
	defer b.queueMu.Unlock()
	b.enqueuer = e
}

func (b *Bus) Mode() Mode {
	return b.cfg.Mode
}

// Subscribe registers h for t. Handlers for a type run in registration order.
func (b *Bus) Subscribe(t Type, h Handler) {
	b.handlerMu.Lock()
	defer b.handlerMu.Unlock()
	b.handlers[t] = append(b.handlers[t], h)
}

func (b *Bus) handlersFor(t Type) []Handler {
	b.handlerMu.RLock()
	defer b.handlerMu.RUnlock()
	return b.handlers[t]
}

// Publish announces that something happened. Only a nil or invalid payload is
// reported; handler and transport failures are logged.
func (b *Bus) Publish(ctx context.Context, p Payload) error {
	if p == nil {
		return errors.Wrap(ErrInvalidPayload, "nil payload")
	}
	if err := b.validate.Struct(p); err != nil {
		return errors.Wrapf(ErrInvalidPayload, "%s: %v", p.EventType(), err)
	}

	evt := Event{
		ID:         uuid.New(),
		Type:       p.EventType(),
		Payload:    p,
		OccurredAt: b.now().UTC(),
	}

	b.forward(ctx, evt)

	if b.cfg.Mode != ModeQueue && len(b.handlersFor(evt.Type)) == 0 {
		b.logger.Debug("events.no_handlers", zap.String("type", string(evt.Type)))
		return nil
	}

	switch b.cfg.Mode {
	case ModeSync:
		b.Dispatch(ctx, evt)
	case ModeQueue:
		b.queueMu.RLock()
		enq := b.enqueuer
		b.queueMu.RUnlock()
		if enq == nil {
			b.logger.Warn("events.queue_not_configured", zap.String("id", evt.ID.String()))
			b.offer(evt)
			return nil
		}
		if err := enq.Enqueue(ctx, evt); err != nil {
			b.logger.Error("events.enqueue_failed",
				zap.String("id", evt.ID.String()),
				zap.String("type", string(evt.Type)),
				zap.Error(err))
		}
	default:
		b.offer(evt)
	}
	return nil
}

// offer queues evt for the worker pool without blocking.
func (b *Bus) offer(evt Event) bool {
	b.queueMu.RLock()
	defer b.queueMu.RUnlock()
	if b.closed {
		b.logger.Warn("events.publish_after_shutdown", zap.String("id", evt.ID.String()))
		return false
	}
	select {
	case b.queue <- evt:
		return true
	default:
		b.logger.Warn("events.publish_dropped",
			zap.String("id", evt.ID.String()),
			zap.String("type", string(evt.Type)),
			zap.Int("buffer_size", b.cfg.BufferSize))
		return false
	}
}

// forward mirrors evt to the broker in the background.
func (b *Bus) forward(ctx context.Context, evt Event) {
	if b.mirror == nil || !b.mirror.Enabled() {
		return
	}
	ctx = context.WithoutCancel(ctx)
	b.pending.Add(1)
	go func() {
		defer b.pending.Done()
		b.mirror.Publish(ctx, evt.Type.Resource(), evt.Type.Action(), evt)
	}()
}

func (b *Bus) worker() {
	defer b.workers.Done()
	for evt := range b.queue {
		b.Dispatch(b.ctx, evt)
	}
}

// Dispatch runs every handler subscribed to evt.Type and returns how many
// completed without error.
func (b *Bus) Dispatch(ctx context.Context, evt Event) int {
	handlers := b.handlersFor(evt.Type)
	ok := 0
	for i, h := range handlers {
		if b.run(ctx, i, h, evt) {
			ok++
		}
	}
	return ok
}

func (b *Bus) run(ctx context.Context, idx int, h Handler, evt Event) (ok bool) {
	lg := b.logger.With(
		zap.String("id", evt.ID.String()),
		zap.String("type", string(evt.Type)),
		zap.Int("handler", idx))
	defer func() {
		if r := recover(); r != nil {
			lg.Error("events.handler_panicked",
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
			ok = false
		}
	}()
	if err := h(logging.WithLogger(ctx, lg), evt); err != nil {
		lg.Error("events.handler_failed", zap.Error(err))
		return false
	}
	return true
}

// Shutdown stops accepting events, lets workers drain the buffer and waits
// for them, giving up after a timeout.
func (b *Bus) Shutdown() {
	b.logger.Info("events.bus_shutting_down")

	b.queueMu.Lock()
	if !b.closed {
		b.closed = true
		if b.queue != nil {
			close(b.queue)
		}
	}
	b.queueMu.Unlock()

	done := make(chan struct{})
	go func() {
		b.workers.Wait()
		b.pending.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(shutdownTimeout):
		b.logger.Warn("events.shutdown_timeout")
	}
	b.cancel()

	b.logger.Info("events.bus_shutdown_complete")
}
