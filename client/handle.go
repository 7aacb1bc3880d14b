package client

import (
	"encoding/json"
	"time"

	"collab-messenger/messenger"

	"github.com/samber/lo"
)

// reply mirrors messenger.Reply with the payload left raw.
type reply struct {
	Ref   string          `json:"ref"`
	OK    bool            `json:"ok"`
	Code  string          `json:"code"`
	Error string          `json:"error"`
	Data  json.RawMessage `json:"data"`
}

func (s *Session) handle(f Frame) {
	var err error
	switch f.Event {
	case messenger.EventMessage:
		var m messenger.MessagePayload
		if err = json.Unmarshal(f.Data, &m); err == nil {
			s.onMessage(m)
		}
	case messenger.EventMessageNotice:
		var n messenger.MessageNotice
		if err = json.Unmarshal(f.Data, &n); err == nil {
			s.onNotice(n)
		}
	case messenger.EventTyping:
		var t messenger.TypingPayload
		if err = json.Unmarshal(f.Data, &t); err == nil {
			s.onTyping(t)
		}
	case messenger.EventReaction:
		var r messenger.ReactionPayload
		if err = json.Unmarshal(f.Data, &r); err == nil {
			s.onReaction(r)
		}
	case messenger.EventPresence:
		var p messenger.PresencePayload
		if err = json.Unmarshal(f.Data, &p); err == nil {
			s.online[p.UserID] = p.Online
			s.emit(Update{Kind: UpdatePresence})
		}
	case messenger.EventNotification:
		var n messenger.NotificationPayload
		if err = json.Unmarshal(f.Data, &n); err == nil {
			s.onNotification(n)
		}
	case messenger.EventReply:
		var r reply
		if err = json.Unmarshal(f.Data, &r); err == nil {
			s.onReply(r)
		}
	default:
		s.log.Debug().Str("event", f.Event).Msg("unhandled event")
	}
	if err != nil {
		s.log.Warn().Err(err).Str("event", f.Event).Msg("malformed frame")
	}
}

func (s *Session) onMessage(m messenger.MessagePayload) {
	// The room may have been left while the event was in flight.
	if m.ConversationID != s.active {
		return
	}
	if t, ok := s.typers[m.ConversationID][m.SenderID]; ok {
		t.Stop()
		delete(s.typers[m.ConversationID], m.SenderID)
	}
	s.merge(m.ConversationID, m)
	if m.SenderID != s.cfg.UserID {
		s.markRead(m.ConversationID)
	}
}

func (s *Session) onNotice(n messenger.MessageNotice) {
	c, ok := s.conversations[n.ConversationID]
	if !ok {
		s.refreshConversations()
		return
	}
	if n.ConversationID == s.active {
		// Joined after the message was routed.
		s.fetchGap(n.ConversationID)
		return
	}
	c.UnreadCount++
	c.Preview = n.Preview
	c.LastActivityAt = time.Now().UnixMilli()
	s.emit(Update{Kind: UpdateConversations, ConversationID: n.ConversationID})
}

func (s *Session) onTyping(t messenger.TypingPayload) {
	if t.ConversationID != s.active || t.UserID == s.cfg.UserID {
		return
	}
	typers := s.typers[t.ConversationID]
	if old, ok := typers[t.UserID]; ok {
		old.Stop()
		delete(typers, t.UserID)
	}
	if t.IsTyping {
		if typers == nil {
			typers = make(map[uint]*time.Timer)
			s.typers[t.ConversationID] = typers
		}
		var timer *time.Timer
		timer = time.AfterFunc(s.cfg.TypingExpiry, func() {
			s.post(func() {
				if s.typers[t.ConversationID][t.UserID] == timer {
					delete(s.typers[t.ConversationID], t.UserID)
					s.emit(Update{Kind: UpdateTyping, ConversationID: t.ConversationID})
				}
			})
		})
		typers[t.UserID] = timer
	}
	s.emit(Update{Kind: UpdateTyping, ConversationID: t.ConversationID})
}

func (s *Session) onReaction(r messenger.ReactionPayload) {
	m := s.findMessage(r.MessageID)
	if m == nil {
		return
	}
	entry := messenger.MessageReaction{UserID: r.UserID, Emoji: r.Emoji}
	switch r.Action {
	case messenger.ReactionAdd:
		if !lo.Contains(m.Reactions, entry) {
			m.Reactions = append(m.Reactions, entry)
		}
	case messenger.ReactionRemove:
		m.Reactions = lo.Without(m.Reactions, entry)
	}
	s.emit(Update{Kind: UpdateMessages, ConversationID: m.ConversationID})
}

func (s *Session) onNotification(n messenger.NotificationPayload) {
	switch n.Type {
	case messenger.NotificationNew:
		s.unreadNotifications++
	case messenger.NotificationUpdate:
		if n.Read != nil && *n.Read && s.unreadNotifications > 0 {
			s.unreadNotifications--
		}
	case messenger.NotificationReadAll:
		if n.UnreadCount != nil {
			s.unreadNotifications = *n.UnreadCount
		}
	}
	s.emit(Update{Kind: UpdateNotification, Notification: &n})
}

func (s *Session) onReply(r reply) {
	if p, ok := s.pending[r.Ref]; ok {
		if !r.OK {
			p.Status, p.Err = SendFailed, r.Error
			s.emit(Update{Kind: UpdatePending, ConversationID: p.ConversationID})
			return
		}
		delete(s.pending, r.Ref)
		s.pendingOrder = lo.Without(s.pendingOrder, r.Ref)

		var m messenger.MessagePayload
		if err := json.Unmarshal(r.Data, &m); err == nil && m.ID != 0 {
			s.merge(m.ConversationID, m)
		}
		s.emit(Update{Kind: UpdatePending, ConversationID: p.ConversationID})
		return
	}

	if conv, ok := s.reads[r.Ref]; ok {
		delete(s.reads, r.Ref)
		if c, known := s.conversations[conv]; known && r.OK {
			c.UnreadCount = 0
			s.emit(Update{Kind: UpdateConversations, ConversationID: conv})
		}
		return
	}

	if !r.OK {
		s.log.Warn().Str("code", r.Code).Str("error", r.Error).Msg("request rejected")
		s.emit(Update{Kind: UpdateError, Err: &RequestError{Code: r.Code, Message: r.Error}})
	}
}

// RequestError is a server rejection of a request that had no pending entry.
type RequestError struct {
	Code    string
	Message string
}

func (e *RequestError) Error() string {
	return e.Code + ": " + e.Message
}
