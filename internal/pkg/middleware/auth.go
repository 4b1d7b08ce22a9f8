package middleware

import (
	"errors"
	"log"
	"strings"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/coursepay/coursepay/app/models"
	"github.com/coursepay/coursepay/app/repository"
)

const (
	// KeyUserID carries the authenticated user's ID in fiber locals.
	KeyUserID = "USER_ID"
	// KeyIsAdmin carries the admin flag in fiber locals.
	KeyIsAdmin = "IS_ADMIN"
)

// BearerAuthMiddleware authenticates requests carrying an opaque session
// token in the Authorization header and loads the user into locals.
func BearerAuthMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := extractBearerToken(c)
		if token == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing bearer token"})
		}

		sessions := repository.GetGlobalFactory().GetSessionRepository()
		session, err := sessions.GetActiveByToken(token)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Invalid or expired session"})
			}
			log.Printf("session lookup failed: %v", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Session verification failed"})
		}

		users := repository.GetGlobalFactory().GetUserRepository()
		user, err := users.GetByID(session.UserID)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Unknown session user"})
		}
		if !user.IsActive() {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "forbidden", "message": "User inactive"})
		}

		c.Locals(KeyUserID, user.ID)
		c.Locals(KeyIsAdmin, user.Role == models.ROLE_ADMIN)

		return c.Next()
	}
}

// RequireAdmin rejects non-admin sessions. Must run after
// BearerAuthMiddleware.
func RequireAdmin(c *fiber.Ctx) error {
	if isAdmin, ok := c.Locals(KeyIsAdmin).(bool); !ok || !isAdmin {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "forbidden", "message": "Admin access required"})
	}
	return c.Next()
}

// UserID returns the authenticated user's ID from locals, zero if absent.
func UserID(c *fiber.Ctx) uint {
	if id, ok := c.Locals(KeyUserID).(uint); ok {
		return id
	}
	return 0
}

func extractBearerToken(c *fiber.Ctx) string {
	header := strings.TrimSpace(c.Get(fiber.HeaderAuthorization))
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
