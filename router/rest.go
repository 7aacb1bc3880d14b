package router

import (
	"collab-messenger/controller"
	"collab-messenger/middleware"

	"github.com/casbin/casbin/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/rs/zerolog"
)

func Rest(app *fiber.App, h *controller.Handler, accessKey []byte, enforcer *casbin.Enforcer, log zerolog.Logger) {
	api := app.Group("/v1", logger.New())
	jwt := middleware.JWT(accessKey)

	// Auth
	auth := api.Group("/auth")
	auth.Post("/signup", h.AuthSignup)
	auth.Post("/signin", h.AuthSignin)
	auth.Post("/token/renew", h.AuthTokenRenew)
	auth.Post("/2fa/secret", jwt, middleware.OTP(), h.AuthOtpSecret)
	auth.Post("/2fa/verify", jwt, middleware.OTP(), h.AuthOtpVerify)
	auth.Post("/2fa/validate", jwt, h.AuthOtpValidate)
	auth.Post("/2fa/disable", jwt, middleware.OTP(), h.AuthOtpDisable)

	// User
	user := api.Group("/user", jwt, middleware.OTP())
	user.Get("/profile", h.UserProfile)

	// Messenger
	messenger := api.Group("/messenger", jwt, middleware.OTP())
	messenger.Get("/conversations", h.Conversations)
	messenger.Post("/conversations/direct", h.DirectConversation)
	messenger.Post("/conversations/group", h.GroupConversation)
	messenger.Post("/conversations/:id/participants", h.AddParticipant)
	messenger.Get("/conversations/:id/messages", h.Messages)
	messenger.Post("/conversations/:id/read", h.MarkRead)
	messenger.Get("/users", h.Users)
	messenger.Post("/messages/:id/reactions", h.AddReaction)
	messenger.Delete("/messages/:id/reactions", h.RemoveReaction)

	// Notifications
	notifications := api.Group("/notifications", jwt, middleware.OTP())
	notifications.Get("/", h.Notifications)
	notifications.Post("/read-all", h.ReadAllNotifications)
	notifications.Post("/:id/read", h.ReadNotification)

	// Admin
	admin := api.Group("/admin", jwt, middleware.OTP(), middleware.RBAC(enforcer, log))
	admin.Post("/notifications", h.AdminNotify)
}
