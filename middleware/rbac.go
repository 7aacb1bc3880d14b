package middleware

import (
	"github.com/casbin/casbin/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
)

// RBAC enforces casbin policies with the token's user id as subject. Role
// assignments live in the grouping policy.
func RBAC(enforcer *casbin.Enforcer, log zerolog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token, ok := c.Locals("user").(*jwt.Token)
		if !ok {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"status":  "error",
				"message": "Invalid or expired JWT",
				"data":    nil,
			})
		}
		claims, _ := token.Claims.(jwt.MapClaims)
		sub, _ := claims["id"].(string)

		// Policies may be edited by other replicas.
		if err := enforcer.LoadPolicy(); err != nil {
			log.Error().Err(err).Msg("casbin load policy")
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"status":  "error",
				"message": "Internal server error",
				"data":    nil,
			})
		}

		accepted, err := enforcer.Enforce(sub, c.Path(), c.Method())
		if err != nil {
			log.Error().Err(err).Msg("casbin enforce")
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"status":  "error",
				"message": "Internal server error",
				"data":    nil,
			})
		}

		if !accepted {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"status":  "error",
				"message": "Forbidden",
				"data":    nil,
			})
		}

		return c.Next()
	}
}
