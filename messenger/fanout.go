package messenger

import (
	"context"
	"errors"
	"fmt"

	"collab-messenger/model"

	"github.com/rs/zerolog"
)

type NotificationStore interface {
	CreateNotification(ctx context.Context, n *model.Notification) error
}

// Fanout delivers notifications to a user's live connection regardless of
// room membership and always persists them.
type Fanout struct {
	store    NotificationStore
	presence *Presence
	log      zerolog.Logger
}

func NewFanout(store NotificationStore, presence *Presence, log zerolog.Logger) *Fanout {
	return &Fanout{store: store, presence: presence, log: log.With().Str("component", "fanout").Logger()}
}

// Notify persists n for userID and pushes it when the user is online. Mentions,
// assignments and due dates raised by other modules arrive here.
func (f *Fanout) Notify(ctx context.Context, userID uint, n *model.Notification) error {
	if n.Kind == "" || n.Title == "" {
		return fmt.Errorf("notification needs kind and title: %w", model.ErrValidation)
	}
	n.ID = 0
	n.UserID = userID
	n.Read = false
	if err := f.store.CreateNotification(ctx, n); err != nil {
		return err
	}

	if c := f.presence.Connection(userID); c != nil {
		c.Push(EventNotification, NotificationPayload{Type: NotificationNew, Notification: n})
	}
	f.log.Debug().Uint("user", userID).Str("kind", n.Kind).Uint("id", n.ID).Msg("notification delivered")
	return nil
}

// MessageNotice tells recipients that are not in the conversation's room about
// a new message.
func (f *Fanout) MessageNotice(ctx context.Context, msg *model.Message, recipients []uint) error {
	notice := MessageNotice{
		ConversationID: msg.ConversationID,
		MessageID:      msg.ID,
		SenderID:       msg.SenderID,
		Preview:        preview(msg.Content),
	}

	var errs []error
	for _, userID := range recipients {
		n := &model.Notification{
			UserID: userID,
			Kind:   model.NotificationMessage,
			Title:  "New message",
			Body:   notice.Preview,
			Link:   fmt.Sprintf("/chat/%d", msg.ConversationID),
		}
		if err := f.store.CreateNotification(ctx, n); err != nil {
			errs = append(errs, fmt.Errorf("notify user %d: %w", userID, err))
		}
		if c := f.presence.Connection(userID); c != nil {
			c.Push(EventMessageNotice, notice)
		}
	}
	return errors.Join(errs...)
}

func (f *Fanout) Updated(userID uint, n *model.Notification) {
	if c := f.presence.Connection(userID); c != nil {
		read := n.Read
		c.Push(EventNotification, NotificationPayload{Type: NotificationUpdate, ID: n.ID, Read: &read})
	}
}

func (f *Fanout) ReadAll(userID uint, unread int64) {
	if c := f.presence.Connection(userID); c != nil {
		c.Push(EventNotification, NotificationPayload{Type: NotificationReadAll, UnreadCount: &unread})
	}
}
