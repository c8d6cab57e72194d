package models

import (
	"time"
)

type User struct {
	ID        int64     `gorm:"type:bigint;primaryKey"`
	Alias     string    `gorm:"type:text;not null;uniqueIndex"`
	Email     *string   `gorm:"type:text"`
	CreatedAt time.Time `gorm:"default:timezone('utc'::text, now())"`
}

type UserOptions struct {
	UserID             int64     `gorm:"type:bigint;primaryKey"`
	EmailNotifications bool      `gorm:"not null;default:true"`
	UpdatedAt          time.Time `gorm:"default:timezone('utc'::text, now())"`
}

func (UserOptions) TableName() string { return "geonotify.user_options" }
