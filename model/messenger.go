package model

import (
	"time"

	"gorm.io/gorm"
)

type ConversationKind string

const (
	ConversationDirect ConversationKind = "direct"
	ConversationGroup  ConversationKind = "group"
)

type Conversation struct {
	gorm.Model
	Kind ConversationKind `gorm:"not null; index" json:"kind"`
	Name string           `gorm:"not null; default:''" json:"name"`

	// DirectKey is "<low>:<high>" for direct conversations, NULL for groups.
	DirectKey *string `gorm:"uniqueIndex" json:"-"`
	ProjectID *uint   `gorm:"uniqueIndex" json:"project_id,omitempty"`

	LastActivityAt time.Time     `gorm:"not null; index" json:"last_activity_at"`
	Participants   []Participant `gorm:"foreignKey:ConversationID" json:"participants,omitempty"`
}

type Participant struct {
	ConversationID    uint      `gorm:"primaryKey" json:"conversation_id"`
	UserID            uint      `gorm:"primaryKey; index" json:"user_id"`
	UnreadCount       int       `gorm:"not null; default:0" json:"unread_count"`
	LastReadMessageID uint      `gorm:"not null; default:0" json:"last_read_message_id"`
	JoinedAt          time.Time `gorm:"autoCreateTime" json:"joined_at"`
	User              User      `gorm:"foreignKey:UserID" json:"-"`
}

type Message struct {
	ID             uint       `gorm:"primaryKey" json:"id"`
	ConversationID uint       `gorm:"not null; index:idx_messages_conversation_created,priority:1" json:"conversation_id"`
	SenderID       uint       `gorm:"not null" json:"sender_id"`
	Content        string     `gorm:"not null" json:"content"`
	CreatedAt      time.Time  `gorm:"index:idx_messages_conversation_created,priority:2" json:"created_at"`
	Reactions      []Reaction `gorm:"foreignKey:MessageID" json:"reactions"`
}

type Reaction struct {
	MessageID uint      `gorm:"primaryKey; autoIncrement:false" json:"message_id"`
	UserID    uint      `gorm:"primaryKey; autoIncrement:false" json:"user_id"`
	Emoji     string    `gorm:"primaryKey; size:32" json:"emoji"`
	CreatedAt time.Time `json:"created_at"`
}

// ProjectMember is owned by the project module; the messenger only reads it.
type ProjectMember struct {
	ProjectID uint `gorm:"primaryKey; autoIncrement:false"`
	UserID    uint `gorm:"primaryKey; autoIncrement:false"`
}

// ConversationSummary is a conversation as seen by one participant.
type ConversationSummary struct {
	Conversation
	UnreadCount int `json:"unread_count"`
}
