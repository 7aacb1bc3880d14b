package middleware

import (
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

// OTP rejects tokens issued before the second factor was validated.
func OTP() fiber.Handler {
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

		if pending, _ := claims["otp"].(bool); pending {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"status":  "error",
				"message": "2FA required",
				"data":    nil,
			})
		}

		return c.Next()
	}
}
