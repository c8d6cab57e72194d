package models

import "time"

const ConnectionTypeFollow = "connection"

// Connection is a directed follow edge: UserID follows ConnectionID.
type Connection struct {
	ID           int64     `gorm:"type:bigint;primaryKey;autoIncrement"`
	UserID       int64     `gorm:"type:bigint;not null;uniqueIndex:connections_unique,priority:1"`
	Type         string    `gorm:"type:text;not null;default:connection;uniqueIndex:connections_unique,priority:2"`
	ConnectionID int64     `gorm:"type:bigint;not null;uniqueIndex:connections_unique,priority:3"`
	CreatedAt    time.Time `gorm:"default:timezone('utc'::text, now())"`
}
