package messenger

import (
	"encoding/json"
	"time"
	"unicode/utf8"

	"collab-messenger/model"
)

// Inbound events.
const (
	EventJoin        = "join"
	EventLeave       = "leave"
	EventSend        = "send"
	EventTyping      = "typing"
	EventReactAdd    = "reactAdd"
	EventReactRemove = "reactRemove"
	EventRead        = "read"
)

// Outbound events.
const (
	EventMessage       = "message"
	EventMessageNotice = "messageNotice"
	EventReaction      = "reaction"
	EventPresence      = "presence"
	EventNotification  = "notification"
	EventReply         = "reply"
)

const (
	ReactionAdd    = "add"
	ReactionRemove = "remove"

	NotificationNew     = "new"
	NotificationUpdate  = "update"
	NotificationReadAll = "readAll"

	previewLength = 80
)

// Envelope is the frame every transport carries.
type Envelope struct {
	Event string          `json:"event"`
	Ref   string          `json:"ref,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type RoomRequest struct {
	ConversationID uint `json:"conversationId"`
}

type SendRequest struct {
	ConversationID uint   `json:"conversationId"`
	Content        string `json:"content"`
}

type TypingRequest struct {
	ConversationID uint `json:"conversationId"`
	IsTyping       bool `json:"isTyping"`
}

type ReactionRequest struct {
	MessageID uint   `json:"messageId"`
	Emoji     string `json:"emoji"`
}

type Reply struct {
	Ref   string `json:"ref,omitempty"`
	OK    bool   `json:"ok"`
	Code  string `json:"code,omitempty"`
	Error string `json:"error,omitempty"`
	Data  any    `json:"data,omitempty"`
}

type ReactionPayload struct {
	MessageID      uint   `json:"messageId"`
	ConversationID uint   `json:"conversationId"`
	UserID         uint   `json:"userId"`
	Emoji          string `json:"emoji"`
	Action         string `json:"action"`
	Delta          int    `json:"delta"`
}

type MessageReaction struct {
	UserID uint   `json:"userId"`
	Emoji  string `json:"emoji"`
}

type MessagePayload struct {
	ID             uint              `json:"id"`
	ConversationID uint              `json:"conversationId"`
	SenderID       uint              `json:"senderId"`
	Content        string            `json:"content"`
	CreatedAt      time.Time         `json:"createdAt"`
	Reactions      []MessageReaction `json:"reactions"`
}

type MessageNotice struct {
	ConversationID uint   `json:"conversationId"`
	MessageID      uint   `json:"messageId"`
	SenderID       uint   `json:"senderId"`
	Preview        string `json:"preview"`
}

type TypingPayload struct {
	ConversationID uint `json:"conversationId"`
	UserID         uint `json:"userId"`
	IsTyping       bool `json:"isTyping"`
}

type PresencePayload struct {
	UserID uint `json:"userId"`
	Online bool `json:"online"`
}

type NotificationPayload struct {
	Type         string              `json:"type"`
	Notification *model.Notification `json:"notification,omitempty"`
	ID           uint                `json:"id,omitempty"`
	Read         *bool               `json:"read,omitempty"`
	UnreadCount  *int64              `json:"unreadCount,omitempty"`
}

func NewMessagePayload(m *model.Message) MessagePayload {
	reactions := make([]MessageReaction, 0, len(m.Reactions))
	for _, r := range m.Reactions {
		reactions = append(reactions, MessageReaction{UserID: r.UserID, Emoji: r.Emoji})
	}
	return MessagePayload{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		Content:        m.Content,
		CreatedAt:      m.CreatedAt,
		Reactions:      reactions,
	}
}

func preview(content string) string {
	if utf8.RuneCountInString(content) <= previewLength {
		return content
	}
	return string([]rune(content)[:previewLength]) + "…"
}
