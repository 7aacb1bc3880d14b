package controller

import (
	"collab-messenger/model"

	"github.com/gofiber/fiber/v2"
)

type AdminNotificationInput struct {
	UserID uint   `json:"user_id" validate:"required"`
	Kind   string `json:"kind" validate:"required,max=32"`
	Title  string `json:"title" validate:"required,max=256"`
	Body   string `json:"body"`
	Link   string `json:"link" validate:"omitempty,max=512"`
}

func (h *Handler) Notifications(c *fiber.Ctx) error {
	userID, err := currentUser(c)
	if err != nil {
		return h.fail(c, err)
	}

	list, err := h.store.Notifications(c.UserContext(), userID, c.QueryInt("limit", 50))
	if err != nil {
		return h.fail(c, err)
	}
	unread, err := h.store.UnreadNotifications(c.UserContext(), userID)
	if err != nil {
		return h.fail(c, err)
	}
	return success(c, fiber.Map{
		"notifications": list,
		"unreadCount":   unread,
	})
}

func (h *Handler) ReadNotification(c *fiber.Ctx) error {
	userID, err := currentUser(c)
	if err != nil {
		return h.fail(c, err)
	}
	id, ok := paramID(c, "id")
	if !ok {
		return failure(c, fiber.StatusBadRequest, "Invalid notification id")
	}

	n, err := h.store.MarkNotificationRead(c.UserContext(), userID, id)
	if err != nil {
		return h.fail(c, err)
	}
	h.gateway.Fanout().Updated(userID, n)
	return success(c, n)
}

func (h *Handler) ReadAllNotifications(c *fiber.Ctx) error {
	userID, err := currentUser(c)
	if err != nil {
		return h.fail(c, err)
	}

	unread, err := h.store.MarkAllNotificationsRead(c.UserContext(), userID)
	if err != nil {
		return h.fail(c, err)
	}
	h.gateway.Fanout().ReadAll(userID, unread)
	return success(c, fiber.Map{"unreadCount": unread})
}

// AdminNotify lets other workspace services raise a notification
// synchronously. Access is limited by casbin to the service and admin roles.
func (h *Handler) AdminNotify(c *fiber.Ctx) error {
	input := new(AdminNotificationInput)
	if err := h.parse(c, input); err != nil {
		return h.fail(c, err)
	}

	n := &model.Notification{
		Kind:  input.Kind,
		Title: input.Title,
		Body:  input.Body,
		Link:  input.Link,
	}
	if err := h.gateway.Fanout().Notify(c.UserContext(), input.UserID, n); err != nil {
		return h.fail(c, err)
	}
	return success(c, n)
}
