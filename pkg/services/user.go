package services

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tgdrive/geonotify/internal/cache"
	"github.com/tgdrive/geonotify/internal/database"
	"github.com/tgdrive/geonotify/internal/logging"
	"github.com/tgdrive/geonotify/pkg/models"
	"github.com/tgdrive/geonotify/pkg/schemas"
)

type UserService struct {
	db    *gorm.DB
	cache cache.Cacher
	ttl   time.Duration
}

func NewUserService(db *gorm.DB, c cache.Cacher, ttl time.Duration) *UserService {
	return &UserService{db: db, cache: c, ttl: ttl}
}

// GetNotificationSettings returns the e-mail preference of userID. Users
// without an options row get the column default.
func (s *UserService) GetNotificationSettings(ctx context.Context, userID int64) (schemas.NotificationSettings, error) {
	return cache.Fetch(ctx, s.cache, cache.KeyUserSettings(userID), s.ttl, func() (schemas.NotificationSettings, error) {
		var opts models.UserOptions
		err := s.db.WithContext(ctx).Where("user_id = ?", userID).Take(&opts).Error
		if database.IsRecordNotFoundErr(err) {
			return schemas.NotificationSettings{EmailNotificationsEnabled: true}, nil
		}
		if err != nil {
			return schemas.NotificationSettings{}, errors.Wrap(err, "load user options")
		}
		return schemas.NotificationSettings{EmailNotificationsEnabled: opts.EmailNotifications}, nil
	})
}

func (s *UserService) SetNotificationSettings(ctx context.Context, userID int64, settings schemas.NotificationSettings) error {
	opts := models.UserOptions{
		UserID:             userID,
		EmailNotifications: settings.EmailNotificationsEnabled,
		UpdatedAt:          time.Now().UTC(),
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"email_notifications", "updated_at"}),
	}).Create(&opts).Error
	if err != nil {
		return errors.Wrap(err, "save user options")
	}
	if err := s.cache.Delete(ctx, cache.KeyUserSettings(userID)); err != nil {
		logging.FromContext(ctx).Warn("users.cache_invalidate_failed", zap.Int64("user_id", userID), zap.Error(err))
	}
	return nil
}

func (s *UserService) Get(ctx context.Context, userID int64) (*models.User, error) {
	var u models.User
	if err := s.db.WithContext(ctx).Where("id = ?", userID).Take(&u).Error; err != nil {
		if database.IsRecordNotFoundErr(err) {
			return nil, database.ErrNotFound
		}
		return nil, errors.Wrap(err, "load user")
	}
	return &u, nil
}
