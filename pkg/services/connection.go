package services

import (
	"context"

	"github.com/go-faster/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tgdrive/geonotify/internal/database"
	"github.com/tgdrive/geonotify/internal/events"
	"github.com/tgdrive/geonotify/internal/logging"
	"github.com/tgdrive/geonotify/pkg/models"
	"github.com/tgdrive/geonotify/pkg/schemas"
)

var ErrSelfFollow = errors.New("users cannot follow themselves")

// Publisher is how services report that something happened.
type Publisher interface {
	Publish(ctx context.Context, p events.Payload) error
}

type ConnectionService struct {
	db  *gorm.DB
	bus Publisher
}

func NewConnectionService(db *gorm.DB, bus Publisher) *ConnectionService {
	return &ConnectionService{db: db, bus: bus}
}

// Follow makes followerID follow followeeID. It reports whether a new edge
// was created; following twice is not an error.
func (s *ConnectionService) Follow(ctx context.Context, followerID, followeeID int64) (bool, error) {
	if followerID == followeeID {
		return false, ErrSelfFollow
	}

	var users []models.User
	if err := s.db.WithContext(ctx).Where("id IN ?", []int64{followerID, followeeID}).Find(&users).Error; err != nil {
		return false, errors.Wrap(err, "load users")
	}
	if len(users) != 2 {
		return false, database.ErrNotFound
	}
	var follower models.User
	for _, u := range users {
		if u.ID == followerID {
			follower = u
		}
	}

	conn := models.Connection{
		UserID:       followerID,
		ConnectionID: followeeID,
		Type:         models.ConnectionTypeFollow,
	}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&conn)
	if res.Error != nil {
		if database.IsCheckViolationErr(res.Error) {
			return false, ErrSelfFollow
		}
		return false, errors.Wrap(res.Error, "create connection")
	}
	if res.RowsAffected == 0 {
		return false, nil
	}

	if s.bus != nil {
		err := s.bus.Publish(ctx, events.UserFollowed{
			UserID:       followerID,
			UserAlias:    follower.Alias,
			ConnectionID: followeeID,
		})
		if err != nil {
			logging.FromContext(ctx).Error("connections.publish_failed", zap.Error(err))
		}
	}
	return true, nil
}

// Unfollow removes the edge, reporting whether one existed.
func (s *ConnectionService) Unfollow(ctx context.Context, followerID, followeeID int64) (bool, error) {
	res := s.db.WithContext(ctx).
		Where("user_id = ? AND type = ? AND connection_id = ?", followerID, models.ConnectionTypeFollow, followeeID).
		Delete(&models.Connection{})
	if res.Error != nil {
		return false, errors.Wrap(res.Error, "delete connection")
	}
	return res.RowsAffected > 0, nil
}

// ReverseConnections lists the users following userID.
func (s *ConnectionService) ReverseConnections(ctx context.Context, userID int64) ([]schemas.UserRef, error) {
	var res []schemas.UserRef
	err := s.db.WithContext(ctx).
		Table("geonotify.connections AS c").
		Select("u.id, u.alias").
		Joins("JOIN geonotify.users AS u ON u.id = c.user_id").
		Where("c.connection_id = ? AND c.type = ?", userID, models.ConnectionTypeFollow).
		Order("u.id").
		Scan(&res).Error
	if err != nil {
		return nil, errors.Wrap(err, "reverse connections")
	}
	return res, nil
}
