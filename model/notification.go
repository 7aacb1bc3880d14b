package model

import "time"

type Notification struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    uint      `gorm:"not null; index:idx_notifications_user_read,priority:1" json:"user_id"`
	Kind      string    `gorm:"not null" json:"kind"`
	Title     string    `gorm:"not null" json:"title"`
	Body      string    `gorm:"not null; default:''" json:"body"`
	Link      string    `gorm:"not null; default:''" json:"link"`
	Read      bool      `gorm:"not null; default:false; index:idx_notifications_user_read,priority:2" json:"read"`
	CreatedAt time.Time `json:"created_at"`
}

const (
	NotificationMessage    = "message"
	NotificationMention    = "mention"
	NotificationAssignment = "assignment"
)
