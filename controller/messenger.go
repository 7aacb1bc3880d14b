package controller

import (
	"fmt"

	"collab-messenger/messenger"
	"collab-messenger/model"
	"collab-messenger/store"

	"github.com/gofiber/fiber/v2"
	"github.com/samber/lo"
)

type DirectConversationInput struct {
	UserID uint `json:"user_id" validate:"required"`
}

type GroupConversationInput struct {
	ProjectID uint   `json:"project_id" validate:"required"`
	Name      string `json:"name" validate:"required,max=128"`
}

type ParticipantInput struct {
	UserID uint `json:"user_id" validate:"required"`
}

type ReactionInput struct {
	Emoji string `json:"emoji" validate:"required"`
}

type MessagesQuery struct {
	AfterID  uint `query:"after_id"`
	BeforeID uint `query:"before_id"`
	Limit    int  `query:"limit" validate:"gte=0,lte=200"`
}

type ConversationView struct {
	ID             uint                   `json:"id"`
	Kind           model.ConversationKind `json:"kind"`
	Name           string                 `json:"name"`
	ProjectID      *uint                  `json:"projectId,omitempty"`
	ParticipantIDs []uint                 `json:"participantIds"`
	LastActivityAt int64                  `json:"lastActivityAt"`
	UnreadCount    int                    `json:"unreadCount"`
}

func conversationView(conv *model.Conversation, unread int) ConversationView {
	return ConversationView{
		ID:             conv.ID,
		Kind:           conv.Kind,
		Name:           conv.Name,
		ProjectID:      conv.ProjectID,
		ParticipantIDs: lo.Map(conv.Participants, func(p model.Participant, _ int) uint { return p.UserID }),
		LastActivityAt: conv.LastActivityAt.UnixMilli(),
		UnreadCount:    unread,
	}
}

func (h *Handler) Conversations(c *fiber.Ctx) error {
	userID, err := currentUser(c)
	if err != nil {
		return h.fail(c, err)
	}

	summaries, err := h.store.ListConversations(c.UserContext(), userID)
	if err != nil {
		return h.fail(c, err)
	}
	return success(c, lo.Map(summaries, func(s model.ConversationSummary, _ int) ConversationView {
		return conversationView(&s.Conversation, s.UnreadCount)
	}))
}

func (h *Handler) DirectConversation(c *fiber.Ctx) error {
	userID, err := currentUser(c)
	if err != nil {
		return h.fail(c, err)
	}
	input := new(DirectConversationInput)
	if err := h.parse(c, input); err != nil {
		return h.fail(c, err)
	}

	conv, err := h.store.DirectConversation(c.UserContext(), userID, input.UserID)
	if err != nil {
		return h.fail(c, err)
	}
	return success(c, conversationView(conv, 0))
}

// GroupConversation fetches the project's group conversation, creating it on
// first use and adding project members who joined since.
func (h *Handler) GroupConversation(c *fiber.Ctx) error {
	userID, err := currentUser(c)
	if err != nil {
		return h.fail(c, err)
	}
	input := new(GroupConversationInput)
	if err := h.parse(c, input); err != nil {
		return h.fail(c, err)
	}

	conv, err := h.store.GroupConversation(c.UserContext(), input.ProjectID, input.Name)
	if err != nil {
		return h.fail(c, err)
	}
	if !lo.ContainsBy(conv.Participants, func(p model.Participant) bool { return p.UserID == userID }) {
		return h.fail(c, fmt.Errorf("project %d: %w", input.ProjectID, model.ErrMembership))
	}
	return success(c, conversationView(conv, 0))
}

func (h *Handler) AddParticipant(c *fiber.Ctx) error {
	userID, err := currentUser(c)
	if err != nil {
		return h.fail(c, err)
	}
	convID, ok := paramID(c, "id")
	if !ok {
		return failure(c, fiber.StatusBadRequest, "Invalid conversation id")
	}
	input := new(ParticipantInput)
	if err := h.parse(c, input); err != nil {
		return h.fail(c, err)
	}

	conv, err := h.store.AddParticipant(c.UserContext(), convID, userID, input.UserID)
	if err != nil {
		return h.fail(c, err)
	}
	return success(c, conversationView(conv, 0))
}

// Messages returns history in ascending id order. after_id serves gap-fill
// after a reconnect; before_id pages backwards.
func (h *Handler) Messages(c *fiber.Ctx) error {
	userID, err := currentUser(c)
	if err != nil {
		return h.fail(c, err)
	}
	convID, ok := paramID(c, "id")
	if !ok {
		return failure(c, fiber.StatusBadRequest, "Invalid conversation id")
	}
	q := new(MessagesQuery)
	if err := c.QueryParser(q); err != nil {
		return failure(c, fiber.StatusBadRequest, "Review your input")
	}
	if err := h.validate.Struct(q); err != nil {
		return failure(c, fiber.StatusBadRequest, err.Error())
	}

	if err := h.store.Membership(c.UserContext(), convID, userID); err != nil {
		return h.fail(c, err)
	}
	messages, err := h.store.Messages(c.UserContext(), convID, store.MessageQuery{
		AfterID:  q.AfterID,
		BeforeID: q.BeforeID,
		Limit:    q.Limit,
	})
	if err != nil {
		return h.fail(c, err)
	}
	return success(c, lo.Map(messages, func(m model.Message, _ int) messenger.MessagePayload {
		return messenger.NewMessagePayload(&m)
	}))
}

func (h *Handler) MarkRead(c *fiber.Ctx) error {
	userID, err := currentUser(c)
	if err != nil {
		return h.fail(c, err)
	}
	convID, ok := paramID(c, "id")
	if !ok {
		return failure(c, fiber.StatusBadRequest, "Invalid conversation id")
	}

	if err := h.gateway.MarkRead(c.UserContext(), userID, convID); err != nil {
		return h.fail(c, err)
	}
	return success(c, fiber.Map{"conversationId": convID, "unreadCount": 0})
}

func (h *Handler) Users(c *fiber.Ctx) error {
	userID, err := currentUser(c)
	if err != nil {
		return h.fail(c, err)
	}

	users, err := h.store.Users(c.UserContext(), userID)
	if err != nil {
		return h.fail(c, err)
	}
	presence := h.gateway.Presence()
	return success(c, lo.Map(users, func(u model.User, _ int) fiber.Map {
		return fiber.Map{
			"id":       u.ID,
			"username": u.Username,
			"online":   presence.IsOnline(u.ID),
		}
	}))
}

func (h *Handler) AddReaction(c *fiber.Ctx) error {
	return h.react(c, true)
}

func (h *Handler) RemoveReaction(c *fiber.Ctx) error {
	return h.react(c, false)
}

func (h *Handler) react(c *fiber.Ctx, add bool) error {
	userID, err := currentUser(c)
	if err != nil {
		return h.fail(c, err)
	}
	messageID, ok := paramID(c, "id")
	if !ok {
		return failure(c, fiber.StatusBadRequest, "Invalid message id")
	}
	input := new(ReactionInput)
	if err := h.parse(c, input); err != nil {
		return h.fail(c, err)
	}

	if add {
		err = h.gateway.AddReaction(c.UserContext(), userID, messageID, input.Emoji)
	} else {
		err = h.gateway.RemoveReaction(c.UserContext(), userID, messageID, input.Emoji)
	}
	if err != nil {
		return h.fail(c, err)
	}
	return success(c, nil)
}
