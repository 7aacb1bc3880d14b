package listener

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"collab-messenger/event"
	"collab-messenger/model"

	"github.com/rs/zerolog"
)

const ActionNotify = "notify"

// Notifier raises a notification for one user.
type Notifier interface {
	Notify(ctx context.Context, userID uint, n *model.Notification) error
}

// Delivery is the part of a consumed message the listener acts on.
type Delivery interface {
	Ack() error
	Nack(requeue bool) error
}

type NotifyRequest struct {
	UserID uint   `json:"user_id"`
	Kind   string `json:"kind"`
	Title  string `json:"title"`
	Body   string `json:"body"`
	Link   string `json:"link"`
}

// Notifications consumes the notify queue filled by other workspace
// services (kanban, calendar) and hands each request to the fan-out.
// Handle is not safe for concurrent use; Run calls it from one goroutine.
type Notifications struct {
	notifier Notifier
	log      zerolog.Logger

	requeueBase time.Duration
	requeueMax  time.Duration
	failures    int
}

func NewNotifications(notifier Notifier, log zerolog.Logger) *Notifications {
	return &Notifications{
		notifier:    notifier,
		log:         log.With().Str("component", "notify-listener").Logger(),
		requeueBase: 500 * time.Millisecond,
		requeueMax:  30 * time.Second,
	}
}

// WithRequeueDelay sets the pause before a storage failure is requeued. The
// pause doubles with each consecutive failure up to max.
func (l *Notifications) WithRequeueDelay(base, max time.Duration) *Notifications {
	l.requeueBase, l.requeueMax = base, max
	return l
}

func (l *Notifications) Run(ctx context.Context, deliveries <-chan event.EventChannelData) {
	for d := range deliveries {
		l.Handle(ctx, d.Action, d.Data, d)
	}
}

// Handle processes one delivery. Malformed or invalid requests are dropped;
// storage failures are requeued.
func (l *Notifications) Handle(ctx context.Context, action string, body []byte, d Delivery) {
	err := l.notify(ctx, action, body)
	switch {
	case err == nil:
		l.failures = 0
		if err := d.Ack(); err != nil {
			l.log.Error().Err(err).Msg("ack")
		}
	case errors.Is(err, model.ErrStorage):
		delay := l.requeueDelay()
		l.log.Error().Err(err).Dur("delay", delay).Msg("notification not stored, requeueing")
		select {
		case <-time.After(delay):
		case <-ctx.Done():
		}
		if err := d.Nack(true); err != nil {
			l.log.Error().Err(err).Msg("nack")
		}
	default:
		l.log.Warn().Err(err).Str("action", action).Msg("dropping event")
		if err := d.Nack(false); err != nil {
			l.log.Error().Err(err).Msg("nack")
		}
	}
}

func (l *Notifications) requeueDelay() time.Duration {
	delay := l.requeueBase
	for i := 0; i < l.failures && delay < l.requeueMax; i++ {
		delay *= 2
	}
	l.failures++
	return min(delay, l.requeueMax)
}

func (l *Notifications) notify(ctx context.Context, action string, body []byte) error {
	if action != ActionNotify {
		return fmt.Errorf("unknown action %q: %w", action, model.ErrValidation)
	}

	var req NotifyRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return fmt.Errorf("decode: %v: %w", err, model.ErrValidation)
	}
	if req.UserID == 0 {
		return fmt.Errorf("user_id required: %w", model.ErrValidation)
	}

	return l.notifier.Notify(ctx, req.UserID, &model.Notification{
		Kind:  req.Kind,
		Title: req.Title,
		Body:  req.Body,
		Link:  req.Link,
	})
}
