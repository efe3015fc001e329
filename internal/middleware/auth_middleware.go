package middleware

import (
	"log"
	"strings"

	"github.com/gofiber/fiber/v2"

	"bazaar/internal/authapi"
	"bazaar/internal/services"
)

// LocalsUserID is the context key the guards store the resolved identity
// under.
const LocalsUserID = "uid"

// AuthRequired resolves the bearer token and stores the identity in the
// request context for the handlers behind it.
func AuthRequired(provider authapi.Provider) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authHeader := c.Get("Authorization")
		if authHeader == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"message": "Authorization header is required",
			})
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if !(len(parts) == 2 && parts[0] == "Bearer") {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"message": "Authorization header format must be 'Bearer <token>'",
			})
		}

		uid, err := provider.VerifyToken(parts[1])
		if err != nil {
			log.Printf("middleware: token rejected: %v", err)
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"message": "Invalid or expired token",
			})
		}

		c.Locals(LocalsUserID, uid)
		return c.Next()
	}
}

// AdminRequired allows only identities whose stored role is admin. Role
// lookup fails closed to the plain user role, so a broken read can never
// open the console.
func AdminRequired(admin *services.AdminService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		uid, _ := c.Locals(LocalsUserID).(string)
		if uid == "" || !admin.IsAdmin(c.Context(), uid) {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"message": "Admin role is required",
			})
		}
		return c.Next()
	}
}
