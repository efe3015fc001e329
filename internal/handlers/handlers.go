package handlers

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"bazaar/internal/middleware"
	"bazaar/internal/models"
)

// send writes the envelope with okStatus on success and failStatus
// otherwise. The envelope itself is the response body either way; the
// storefront pages read the success flag, not the status code.
func send[T any](c *fiber.Ctx, okStatus, failStatus int, res models.Result[T]) error {
	if res.Success {
		return c.Status(okStatus).JSON(res)
	}
	return c.Status(failStatus).JSON(res)
}

func validationErrors(err error) map[string]string {
	out := make(map[string]string)
	for _, e := range err.(validator.ValidationErrors) {
		out[e.Field()] = fmt.Sprintf("Field '%s' failed on the '%s' tag", e.Field(), e.Tag())
	}
	return out
}

func badRequest(c *fiber.Ctx, message string, err error) error {
	body := fiber.Map{"message": message}
	if err != nil {
		body["error"] = err.Error()
	}
	return c.Status(fiber.StatusBadRequest).JSON(body)
}

func sessionUserID(c *fiber.Ctx) string {
	uid, _ := c.Locals(middleware.LocalsUserID).(string)
	return uid
}
