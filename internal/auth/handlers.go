package auth

import "github.com/gofiber/fiber/v2"

// RegisterRoutes exposes token verification for clients that want to check
// a token before opening a tracking session.
func RegisterRoutes(r fiber.Router, secret string) {
	r.Get("/jwt/verify", JWTMiddleware(secret), func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"user_id": c.Locals("user_id")})
	})
}
