// Package reminder e-mails recipients about notifications they have not seen.
package reminder

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/tgdrive/geonotify/internal/mailer"
	"github.com/tgdrive/geonotify/pkg/schemas"
)

type Store interface {
	DueForReminder(ctx context.Context, olderThan time.Time, limit int) ([]schemas.ReminderCandidate, error)
	ClaimReminder(ctx context.Context, notificationID int64) (bool, error)
	MarkReminderSent(ctx context.Context, notificationIDs []int64) error
	ReleaseReminder(ctx context.Context, notificationIDs []int64) error
}

type Settings interface {
	GetNotificationSettings(ctx context.Context, userID int64) (schemas.NotificationSettings, error)
}

type Config struct {
	Delay     time.Duration
	BatchSize int
	Rate      float64
	SiteURL   string
}

type Stats struct {
	Recipients int
	Emails     int
	Reminded   int
	Suppressed int
	Failed     int
}

type Scheduler struct {
	store    Store
	settings Settings
	sender   mailer.Sender
	cfg      Config
	limiter  *rate.Limiter
	logger   *zap.Logger
	now      func() time.Time
}

func New(store Store, settings Settings, sender mailer.Sender, cfg Config, logger *zap.Logger) *Scheduler {
	if cfg.Delay <= 0 {
		cfg.Delay = 12 * time.Hour
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	if cfg.Rate <= 0 {
		cfg.Rate = 5
	}
	return &Scheduler{
		store:    store,
		settings: settings,
		sender:   sender,
		cfg:      cfg,
		limiter:  rate.NewLimiter(rate.Limit(cfg.Rate), 1),
		logger:   logger.Named("reminders"),
		now:      time.Now,
	}
}

type recipient struct {
	userID int64
	email  string
	alias  string
	items  []schemas.ReminderCandidate
}

func group(due []schemas.ReminderCandidate) []*recipient {
	var out []*recipient
	index := make(map[int64]*recipient)
	for _, c := range due {
		r, ok := index[c.UserID]
		if !ok {
			r = &recipient{userID: c.UserID, alias: c.Alias}
			if c.Email != nil {
				r.email = *c.Email
			}
			index[c.UserID] = r
			out = append(out, r)
		}
		r.items = append(r.items, c)
	}
	return out
}

// Run sends at most one reminder per unseen notification older than the
// configured delay, batching all of a recipient's notifications into one
// e-mail. Concurrent runs are safe: a notification is only handled by the
// run that claims it.
func (s *Scheduler) Run(ctx context.Context) (Stats, error) {
	var stats Stats

	cutoff := s.now().Add(-s.cfg.Delay)
	due, err := s.store.DueForReminder(ctx, cutoff, s.cfg.BatchSize)
	if err != nil {
		return stats, err
	}

	for _, r := range group(due) {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		stats.Recipients++
		lg := s.logger.With(zap.Int64("user_id", r.userID))

		settings, err := s.settings.GetNotificationSettings(ctx, r.userID)
		if err != nil {
			lg.Error("reminders.settings_failed", zap.Error(err))
			stats.Failed += len(r.items)
			continue
		}

		claimed := s.claim(ctx, lg, r)
		if len(claimed) == 0 {
			continue
		}

		if !settings.EmailNotificationsEnabled || r.email == "" {
			lg.Debug("reminders.suppressed", zap.Int("count", len(claimed)))
			stats.Suppressed += len(claimed)
			continue
		}

		if err := s.limiter.Wait(ctx); err != nil {
			s.release(ctx, lg, claimed)
			return stats, err
		}
		if err := s.send(ctx, r, claimed); err != nil {
			lg.Error("reminders.send_failed", zap.Error(err))
			s.release(ctx, lg, claimed)
			stats.Failed += len(claimed)
			continue
		}

		if err := s.store.MarkReminderSent(ctx, ids(claimed)); err != nil {
			lg.Error("reminders.mark_sent_failed", zap.Error(err))
		}
		stats.Emails++
		stats.Reminded += len(claimed)
		lg.Info("reminders.sent", zap.Int("count", len(claimed)))
	}

	return stats, nil
}

func (s *Scheduler) claim(ctx context.Context, lg *zap.Logger, r *recipient) []schemas.ReminderCandidate {
	var claimed []schemas.ReminderCandidate
	for _, c := range r.items {
		ok, err := s.store.ClaimReminder(ctx, c.ID)
		if err != nil {
			lg.Error("reminders.claim_failed", zap.Int64("notification_id", c.ID), zap.Error(err))
			continue
		}
		if ok {
			claimed = append(claimed, c)
		}
	}
	return claimed
}

func (s *Scheduler) release(ctx context.Context, lg *zap.Logger, claimed []schemas.ReminderCandidate) {
	if err := s.store.ReleaseReminder(context.WithoutCancel(ctx), ids(claimed)); err != nil {
		lg.Error("reminders.release_failed", zap.Error(err))
	}
}

func (s *Scheduler) send(ctx context.Context, r *recipient, claimed []schemas.ReminderCandidate) error {
	data := mailer.ReminderData{Alias: r.alias, SiteURL: s.cfg.SiteURL}
	for _, c := range claimed {
		data.Items = append(data.Items, mailer.ReminderItem{Summary: Describe(c), CreatedAt: c.CreatedAt})
	}
	msg, err := mailer.RenderReminder(r.email, data)
	if err != nil {
		return err
	}
	return s.sender.Send(ctx, msg)
}

func ids(cs []schemas.ReminderCandidate) []int64 {
	out := make([]int64, len(cs))
	for i, c := range cs {
		out[i] = c.ID
	}
	return out
}

// Describe renders one line about a notification for the reminder e-mail.
func Describe(c schemas.ReminderCandidate) string {
	d, err := schemas.DecodeDetails(c.Type, c.Details)
	if err != nil {
		return "You have a new notification"
	}
	switch v := d.(type) {
	case schemas.GPSGuess:
		return fmt.Sprintf("%s guessed your photo and scored %d", v.UserAlias, v.Score)
	case schemas.ConnectionCreatedGPSPost:
		return fmt.Sprintf("%s posted a new photo: %s", v.AuthorAlias, v.Title)
	case schemas.GPSPostFailed:
		if v.Reason == "" {
			return fmt.Sprintf("Your photo %q could not be published", v.Title)
		}
		return fmt.Sprintf("Your photo %q could not be published: %s", v.Title, v.Reason)
	case schemas.UserStartedFollowing:
		return fmt.Sprintf("%s started following you", v.UserAlias)
	}
	return "You have a new notification"
}
