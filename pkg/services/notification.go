package services

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-faster/errors"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tgdrive/geonotify/internal/logging"
	"github.com/tgdrive/geonotify/pkg/models"
	"github.com/tgdrive/geonotify/pkg/schemas"
)

const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

type NotificationService struct {
	db  *gorm.DB
	now func() time.Time
}

func NewNotificationService(db *gorm.DB) *NotificationService {
	return &NotificationService{db: db, now: time.Now}
}

// Create stores one notification for userID. Failures are logged and
// reported as ok=false.
func (s *NotificationService) Create(ctx context.Context, userID int64, details schemas.Details) (int64, bool) {
	lg := logging.FromContext(ctx)

	if err := schemas.ValidateDetails(details); err != nil {
		lg.Error("notifications.invalid_details", zap.Int64("user_id", userID), zap.Error(err))
		return 0, false
	}
	raw, err := json.Marshal(details)
	if err != nil {
		lg.Error("notifications.failed_to_marshal", zap.Int64("user_id", userID), zap.Error(err))
		return 0, false
	}

	n := models.Notification{
		UserID:    userID,
		Type:      string(details.NotificationType()),
		Details:   datatypes.JSON(raw),
		CreatedAt: s.now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&n).Error; err != nil {
		lg.Error("notifications.create_failed",
			zap.Int64("user_id", userID),
			zap.String("type", n.Type),
			zap.Error(err))
		return 0, false
	}
	return n.ID, true
}

type notificationRow struct {
	models.Notification
	Alias string
}

func (r *notificationRow) toSchema() schemas.Notification {
	t := schemas.NotificationType(r.Type)
	return schemas.Notification{
		ID:        r.ID,
		UserID:    r.UserID,
		Alias:     r.Alias,
		Type:      t,
		Details:   schemas.NormalizeDetails(t, r.Details),
		CreatedAt: r.CreatedAt,
		Seen:      r.IsSeen(),
		SeenAt:    r.SeenAt,
	}
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultListLimit
	case limit > MaxListLimit:
		return MaxListLimit
	}
	return limit
}

// ListForUser returns the newest notifications of userID first, each joined
// with the recipient's alias.
func (s *NotificationService) ListForUser(ctx context.Context, userID int64, limit int) ([]schemas.Notification, error) {
	var rows []notificationRow
	err := s.db.WithContext(ctx).
		Table("geonotify.notifications AS n").
		Select("n.*, u.alias").
		Joins("JOIN geonotify.users AS u ON u.id = n.user_id").
		Where("n.user_id = ?", userID).
		Order("n.created_at DESC, n.id DESC").
		Limit(clampLimit(limit)).
		Scan(&rows).Error
	if err != nil {
		return nil, errors.Wrap(err, "list notifications")
	}

	res := make([]schemas.Notification, len(rows))
	for i := range rows {
		res[i] = rows[i].toSchema()
	}
	return res, nil
}

// MarkSeen marks notification id as seen if it belongs to userID.
func (s *NotificationService) MarkSeen(ctx context.Context, id, userID int64) bool {
	return s.update(ctx, "notifications.mark_seen_failed", id, userID, map[string]any{
		"seen":    true,
		"seen_at": s.now().UTC(),
	})
}

// MarkUnseen reverts MarkSeen.
func (s *NotificationService) MarkUnseen(ctx context.Context, id, userID int64) bool {
	return s.update(ctx, "notifications.mark_unseen_failed", id, userID, map[string]any{
		"seen":    false,
		"seen_at": nil,
	})
}

func (s *NotificationService) update(ctx context.Context, failure string, id, userID int64, values map[string]any) bool {
	res := s.db.WithContext(ctx).
		Model(&models.Notification{}).
		Where("id = ? AND user_id = ?", id, userID).
		Updates(values)
	if res.Error != nil {
		logging.FromContext(ctx).Error(failure,
			zap.Int64("id", id),
			zap.Int64("user_id", userID),
			zap.Error(res.Error))
		return false
	}
	return res.RowsAffected == 1
}

func (s *NotificationService) UnseenCount(ctx context.Context, userID int64) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&models.Notification{}).
		Where("user_id = ? AND seen IS NOT TRUE", userID).
		Count(&count).Error
	if err != nil {
		return 0, errors.Wrap(err, "count unseen")
	}
	return count, nil
}

// LoadNotifications is ListForUser for the presentation layer: a failure
// yields an empty list.
func (s *NotificationService) LoadNotifications(ctx context.Context, userID int64, limit int) []schemas.Notification {
	res, err := s.ListForUser(ctx, userID, limit)
	if err != nil {
		logging.FromContext(ctx).Error("notifications.load_failed", zap.Int64("user_id", userID), zap.Error(err))
		return []schemas.Notification{}
	}
	return res
}

func (s *NotificationService) MarkAsRead(ctx context.Context, userID, id int64) bool {
	return s.MarkSeen(ctx, id, userID)
}

func (s *NotificationService) MarkAsUnread(ctx context.Context, userID, id int64) bool {
	return s.MarkUnseen(ctx, id, userID)
}

// DueForReminder returns unseen notifications created before olderThan that
// have no reminder record, grouped by recipient.
func (s *NotificationService) DueForReminder(ctx context.Context, olderThan time.Time, limit int) ([]schemas.ReminderCandidate, error) {
	var rows []schemas.ReminderCandidate
	err := s.db.WithContext(ctx).Raw(`
		SELECT n.id, n.user_id, n.type, n.details, n.created_at, u.email, u.alias
		FROM geonotify.notifications AS n
		JOIN geonotify.users AS u ON u.id = n.user_id
		WHERE n.seen IS NOT TRUE
		  AND n.created_at < ?
		  AND NOT EXISTS (
		    SELECT 1 FROM geonotify.notification_reminders AS r WHERE r.notification_id = n.id
		  )
		ORDER BY n.user_id, n.created_at
		LIMIT ?`, olderThan.UTC(), limit).
		Scan(&rows).Error
	if err != nil {
		return nil, errors.Wrap(err, "query due notifications")
	}
	return rows, nil
}

// ClaimReminder records that a reminder for notificationID is being sent.
// It reports false when another run already holds the claim.
func (s *NotificationService) ClaimReminder(ctx context.Context, notificationID int64) (bool, error) {
	rec := models.NotificationReminder{NotificationID: notificationID, CreatedAt: s.now().UTC()}
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "notification_id"}}, DoNothing: true}).
		Create(&rec)
	if res.Error != nil {
		return false, errors.Wrap(res.Error, "claim reminder")
	}
	return res.RowsAffected == 1, nil
}

func (s *NotificationService) MarkReminderSent(ctx context.Context, notificationIDs []int64) error {
	if len(notificationIDs) == 0 {
		return nil
	}
	err := s.db.WithContext(ctx).
		Model(&models.NotificationReminder{}).
		Where("notification_id IN ?", notificationIDs).
		Update("sent_at", s.now().UTC()).Error
	return errors.Wrap(err, "mark reminders sent")
}

// ReleaseReminder drops unsent claims so a later run may retry them.
func (s *NotificationService) ReleaseReminder(ctx context.Context, notificationIDs []int64) error {
	if len(notificationIDs) == 0 {
		return nil
	}
	err := s.db.WithContext(ctx).
		Where("notification_id IN ? AND sent_at IS NULL", notificationIDs).
		Delete(&models.NotificationReminder{}).Error
	return errors.Wrap(err, "release reminders")
}
