package store

import (
	"context"
	"fmt"
	"time"

	"collab-messenger/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 200
)

// MessageQuery selects a window of a conversation's history. AfterID is used
// for gap-fill, BeforeID for scrolling back.
type MessageQuery struct {
	AfterID  uint
	BeforeID uint
	Limit    int
}

// CreateMessage persists a message, bumps the conversation's last activity and
// increments unread counters of every other participant in one transaction.
func (s *Store) CreateMessage(ctx context.Context, conversationID, senderID uint, content string) (*model.Message, error) {
	msg := model.Message{
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		Reactions:      []model.Reaction{},
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Create(&msg).Error; err != nil {
			return err
		}

		res := tx.Model(&model.Conversation{}).
			Where("id = ?", conversationID).
			Update("last_activity_at", msg.CreatedAt)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("conversation %d: %w", conversationID, model.ErrNotFound)
		}

		return tx.Model(&model.Participant{}).
			Where("conversation_id = ? AND user_id <> ?", conversationID, senderID).
			Update("unread_count", gorm.Expr("unread_count + 1")).Error
	})
	if err != nil {
		return nil, wrap("create message", err)
	}
	return &msg, nil
}

func (s *Store) Message(ctx context.Context, id uint) (*model.Message, error) {
	var msg model.Message
	if err := s.db.WithContext(ctx).Preload("Reactions").First(&msg, id).Error; err != nil {
		return nil, wrap(fmt.Sprintf("message %d", id), err)
	}
	return &msg, nil
}

// Messages returns messages in ascending id order.
func (s *Store) Messages(ctx context.Context, conversationID uint, q MessageQuery) ([]model.Message, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}

	tx := s.db.WithContext(ctx).Preload("Reactions").Where("conversation_id = ?", conversationID)
	if q.BeforeID > 0 {
		tx = tx.Where("id < ?", q.BeforeID)
	}

	var msgs []model.Message
	if q.AfterID > 0 {
		err := tx.Where("id > ?", q.AfterID).Order("id asc").Limit(limit).Find(&msgs).Error
		if err != nil {
			return nil, wrap("messages after", err)
		}
		return msgs, nil
	}

	if err := tx.Order("id desc").Limit(limit).Find(&msgs).Error; err != nil {
		return nil, wrap("messages", err)
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// MarkRead resets the user's unread counter and moves the read marker to the
// latest message. The participant row is written first so that it stays
// locked while the marker is read; a message committing in between either
// bumps the counter after this transaction or is already visible to MAX(id).
func (s *Store) MarkRead(ctx context.Context, conversationID, userID uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.Participant{}).
			Where("conversation_id = ? AND user_id = ?", conversationID, userID).
			Update("unread_count", 0)
		if res.Error != nil {
			return wrap("mark read", res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("conversation %d: %w", conversationID, model.ErrMembership)
		}

		var last uint
		err := tx.Model(&model.Message{}).
			Where("conversation_id = ?", conversationID).
			Select("COALESCE(MAX(id), 0)").
			Scan(&last).Error
		if err != nil {
			return wrap("last message", err)
		}

		err = tx.Model(&model.Participant{}).
			Where("conversation_id = ? AND user_id = ?", conversationID, userID).
			Update("last_read_message_id", last).Error
		return wrap("read marker", err)
	})
}

func (s *Store) UnreadCount(ctx context.Context, conversationID, userID uint) (int, error) {
	var p model.Participant
	err := s.db.WithContext(ctx).
		Where("conversation_id = ? AND user_id = ?", conversationID, userID).
		First(&p).Error
	if err != nil {
		return 0, wrap("unread count", err)
	}
	return p.UnreadCount, nil
}

// AddReaction stores the triple once. added is false when it already existed.
func (s *Store) AddReaction(ctx context.Context, messageID, userID uint, emoji string) (bool, error) {
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&model.Reaction{
		MessageID: messageID,
		UserID:    userID,
		Emoji:     emoji,
		CreatedAt: time.Now(),
	})
	if res.Error != nil {
		return false, wrap("add reaction", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// RemoveReaction deletes the triple. Removing a missing triple is not an error.
func (s *Store) RemoveReaction(ctx context.Context, messageID, userID uint, emoji string) (bool, error) {
	res := s.db.WithContext(ctx).
		Where("message_id = ? AND user_id = ? AND emoji = ?", messageID, userID, emoji).
		Delete(&model.Reaction{})
	if res.Error != nil {
		return false, wrap("remove reaction", res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (s *Store) ReactionCount(ctx context.Context, messageID uint, emoji string) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&model.Reaction{}).
		Where("message_id = ? AND emoji = ?", messageID, emoji).
		Count(&count).Error
	if err != nil {
		return 0, wrap("reaction count", err)
	}
	return count, nil
}
