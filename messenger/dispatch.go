package messenger

import (
	"context"
	"encoding/json"
	"fmt"

	"collab-messenger/model"
)

// Serve is the connection's actor: it handles inbound envelopes one at a
// time until the connection closes or ctx is cancelled.
func (g *Gateway) Serve(ctx context.Context, c *Connection) {
	for {
		select {
		case <-ctx.Done():
			g.Disconnect(c)
			return
		case <-c.done:
			return
		case env := <-c.inbound:
			g.handle(ctx, c, env)
		}
	}
}

func (g *Gateway) handle(ctx context.Context, c *Connection, env Envelope) {
	if !c.limiter.Allow() {
		g.reply(c, env.Ref, nil, fmt.Errorf("too many events: %w", model.ErrValidation))
		return
	}

	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	data, err := g.dispatch(opCtx, c, env)
	if err != nil {
		c.log.Debug().Err(err).Str("event", env.Event).Msg("event rejected")
		g.reply(c, env.Ref, nil, err)
		return
	}
	if env.Ref != "" {
		g.reply(c, env.Ref, data, nil)
	}
}

func (g *Gateway) dispatch(ctx context.Context, c *Connection, env Envelope) (any, error) {
	switch env.Event {
	case EventJoin:
		var req RoomRequest
		if err := decode(env, &req); err != nil {
			return nil, err
		}
		return nil, g.JoinRoom(ctx, c, req.ConversationID)

	case EventLeave:
		var req RoomRequest
		if err := decode(env, &req); err != nil {
			return nil, err
		}
		g.LeaveRoom(c, req.ConversationID)
		return nil, nil

	case EventSend:
		var req SendRequest
		if err := decode(env, &req); err != nil {
			return nil, err
		}
		return g.SendMessage(ctx, c, req.ConversationID, req.Content)

	case EventTyping:
		var req TypingRequest
		if err := decode(env, &req); err != nil {
			return nil, err
		}
		return nil, g.SetTyping(c, req.ConversationID, req.IsTyping)

	case EventReactAdd, EventReactRemove:
		var req ReactionRequest
		if err := decode(env, &req); err != nil {
			return nil, err
		}
		if env.Event == EventReactAdd {
			return nil, g.AddReaction(ctx, c.UserID, req.MessageID, req.Emoji)
		}
		return nil, g.RemoveReaction(ctx, c.UserID, req.MessageID, req.Emoji)

	case EventRead:
		var req RoomRequest
		if err := decode(env, &req); err != nil {
			return nil, err
		}
		return nil, g.MarkRead(ctx, c.UserID, req.ConversationID)

	default:
		return nil, fmt.Errorf("unknown event %q: %w", env.Event, model.ErrValidation)
	}
}

func decode(env Envelope, v any) error {
	if len(env.Data) == 0 {
		return fmt.Errorf("%s: missing data: %w", env.Event, model.ErrValidation)
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		return fmt.Errorf("%s: %v: %w", env.Event, err, model.ErrValidation)
	}
	return nil
}

func (g *Gateway) reply(c *Connection, ref string, data any, err error) {
	r := Reply{Ref: ref, OK: err == nil, Data: data}
	if err != nil {
		r.Code = model.ErrorCode(err)
		r.Error = err.Error()
	}
	c.Push(EventReply, r)
}
