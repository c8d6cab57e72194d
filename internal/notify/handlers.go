// Package notify turns events into per-recipient notifications.
package notify

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tgdrive/geonotify/internal/events"
	"github.com/tgdrive/geonotify/internal/logging"
	"github.com/tgdrive/geonotify/pkg/schemas"
)

type Store interface {
	Create(ctx context.Context, userID int64, details schemas.Details) (int64, bool)
}

type Followers interface {
	ReverseConnections(ctx context.Context, userID int64) ([]schemas.UserRef, error)
}

type Announcer interface {
	Announce(ctx context.Context, n schemas.Notification)
}

type Handlers struct {
	store       Store
	followers   Followers
	announcer   Announcer
	concurrency int
	now         func() time.Time
}

// New returns the handlers. announcer may be nil.
func New(store Store, followers Followers, announcer Announcer, concurrency int) *Handlers {
	if concurrency <= 0 {
		concurrency = 8
	}
	return &Handlers{
		store:       store,
		followers:   followers,
		announcer:   announcer,
		concurrency: concurrency,
		now:         time.Now,
	}
}

func (h *Handlers) Register(bus *events.Bus) {
	bus.Subscribe(events.PostCreatedType, h.handle)
	bus.Subscribe(events.PostGuessedType, h.handle)
	bus.Subscribe(events.PostFailedType, h.handle)
	bus.Subscribe(events.UserFollowedType, h.handle)
}

func (h *Handlers) handle(ctx context.Context, evt events.Event) error {
	switch p := evt.Payload.(type) {
	case events.PostCreated:
		h.PostCreated(ctx, p)
	case events.PostGuessed:
		h.PostGuessed(ctx, p)
	case events.PostFailed:
		h.PostFailed(ctx, p)
	case events.UserFollowed:
		h.UserFollowed(ctx, p)
	default:
		logging.FromContext(ctx).Warn("notify.unexpected_payload", zap.String("type", string(evt.Type)))
	}
	return nil
}

// PostCreated notifies every follower of the author and returns how many
// notifications were stored.
func (h *Handlers) PostCreated(ctx context.Context, p events.PostCreated) int {
	lg := logging.FromContext(ctx)

	recipients, err := h.followers.ReverseConnections(ctx, p.AuthorID)
	if err != nil {
		lg.Error("notify.followers_lookup_failed", zap.Int64("author_id", p.AuthorID), zap.Error(err))
		return 0
	}
	if len(recipients) == 0 {
		return 0
	}

	details := schemas.ConnectionCreatedGPSPost{
		PostID:      p.PostID,
		AuthorID:    p.AuthorID,
		AuthorAlias: p.AuthorAlias,
		PostType:    p.PostType,
		Title:       p.Title,
	}

	var created atomic.Int64
	g := new(errgroup.Group)
	g.SetLimit(h.concurrency)
	for _, r := range recipients {
		if r.ID == p.AuthorID {
			continue
		}
		g.Go(func() error {
			if h.notify(ctx, r.ID, details) {
				created.Add(1)
			}
			return nil
		})
	}
	g.Wait()

	lg.Debug("notify.fanout_done",
		zap.Int64("post_id", p.PostID),
		zap.Int("recipients", len(recipients)),
		zap.Int64("created", created.Load()))
	return int(created.Load())
}

// PostGuessed notifies the post author, unless they guessed their own post.
func (h *Handlers) PostGuessed(ctx context.Context, p events.PostGuessed) bool {
	if p.UserID == p.AuthorID {
		return false
	}
	return h.notify(ctx, p.AuthorID, schemas.GPSGuess{
		PostID:    p.PostID,
		UserID:    p.UserID,
		UserAlias: p.UserAlias,
		Score:     p.Score,
	})
}

func (h *Handlers) PostFailed(ctx context.Context, p events.PostFailed) bool {
	return h.notify(ctx, p.AuthorID, schemas.GPSPostFailed{
		PostID: p.PostID,
		Title:  p.Title,
		Reason: p.Reason,
	})
}

// UserFollowed notifies the user who gained a follower.
func (h *Handlers) UserFollowed(ctx context.Context, p events.UserFollowed) bool {
	if p.UserID == p.ConnectionID {
		return false
	}
	return h.notify(ctx, p.ConnectionID, schemas.UserStartedFollowing{
		UserID:    p.UserID,
		UserAlias: p.UserAlias,
	})
}

// notify stores one notification and announces it. A failed insert is not
// retried.
func (h *Handlers) notify(ctx context.Context, userID int64, details schemas.Details) bool {
	id, ok := h.store.Create(ctx, userID, details)
	if !ok {
		logging.FromContext(ctx).Warn("notify.recipient_skipped",
			zap.Int64("user_id", userID),
			zap.String("type", string(details.NotificationType())))
		return false
	}
	if h.announcer != nil {
		h.announcer.Announce(ctx, schemas.Notification{
			ID:        id,
			UserID:    userID,
			Type:      details.NotificationType(),
			Details:   details,
			CreatedAt: h.now().UTC(),
		})
	}
	return true
}
