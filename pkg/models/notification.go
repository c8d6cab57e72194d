package models

import (
	"time"

	"gorm.io/datatypes"
)

type Notification struct {
	ID        int64          `gorm:"type:bigint;primaryKey;autoIncrement"`
	UserID    int64          `gorm:"type:bigint;not null;index"`
	Type      string         `gorm:"type:text;not null"`
	Details   datatypes.JSON `gorm:"type:jsonb;not null"`
	CreatedAt time.Time      `gorm:"default:timezone('utc'::text, now())"`
	Seen      *bool          `gorm:"type:boolean"`
	SeenAt    *time.Time     `gorm:"type:timestamp"`
}

// IsSeen treats a NULL seen column as unseen.
func (n *Notification) IsSeen() bool {
	return n.Seen != nil && *n.Seen
}

type NotificationReminder struct {
	ID             int64      `gorm:"type:bigint;primaryKey;autoIncrement"`
	NotificationID int64      `gorm:"type:bigint;not null;uniqueIndex"`
	SentAt         *time.Time `gorm:"type:timestamp"`
	CreatedAt      time.Time  `gorm:"default:timezone('utc'::text, now())"`
}
