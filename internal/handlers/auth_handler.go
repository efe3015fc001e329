package handlers

import (
	"log"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"bazaar/internal/models"
	"bazaar/internal/services"
)

// AuthHandler handles HTTP requests for the credential flows.
type AuthHandler struct {
	creds    *services.CredentialService
	validate *validator.Validate
}

func NewAuthHandler(creds *services.CredentialService) *AuthHandler {
	return &AuthHandler{
		creds:    creds,
		validate: validator.New(),
	}
}

// RegisterRoutes registers the credential routes with the Fiber app.
func (h *AuthHandler) RegisterRoutes(router fiber.Router) {
	authRoutes := router.Group("/auth")
	authRoutes.Post("/register", h.HandleRegister)
	authRoutes.Post("/login", h.HandleLogin)
	authRoutes.Post("/logout", h.HandleLogout)
	authRoutes.Post("/reset", h.HandleReset)
	authRoutes.Get("/session", h.HandleSession)
}

// RegisterRequest carries a new registration. Email syntax and password
// strength are judged by the credential provider so that its localized
// sentences reach the user; only presence is checked here.
type RegisterRequest struct {
	Email       string `json:"email" validate:"required"`
	Password    string `json:"password" validate:"required"`
	DisplayName string `json:"displayName"`
}

func (h *AuthHandler) HandleRegister(c *fiber.Ctx) error {
	var req RegisterRequest
	if err := c.BodyParser(&req); err != nil {
		log.Printf("handlers: bad register body: %v", err)
		return badRequest(c, "Invalid request body", err)
	}
	if err := h.validate.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"message": "Validation failed",
			"errors":  validationErrors(err),
		})
	}

	res := h.creds.Register(c.Context(), req.Email, req.Password, req.DisplayName)
	return send(c, fiber.StatusCreated, fiber.StatusBadRequest, res)
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

func (h *AuthHandler) HandleLogin(c *fiber.Ctx) error {
	var req LoginRequest
	if err := c.BodyParser(&req); err != nil {
		log.Printf("handlers: bad login body: %v", err)
		return badRequest(c, "Invalid request body", err)
	}
	if err := h.validate.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"message": "Validation failed",
			"errors":  validationErrors(err),
		})
	}

	res := h.creds.Login(c.Context(), req.Email, req.Password)
	return send(c, fiber.StatusOK, fiber.StatusUnauthorized, res)
}

func (h *AuthHandler) HandleLogout(c *fiber.Ctx) error {
	return send(c, fiber.StatusOK, fiber.StatusInternalServerError, h.creds.Logout(c.Context()))
}

type ResetRequest struct {
	Email string `json:"email" validate:"required"`
}

func (h *AuthHandler) HandleReset(c *fiber.Ctx) error {
	var req ResetRequest
	if err := c.BodyParser(&req); err != nil {
		log.Printf("handlers: bad reset body: %v", err)
		return badRequest(c, "Invalid request body", err)
	}
	if err := h.validate.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"message": "Validation failed",
			"errors":  validationErrors(err),
		})
	}

	res := h.creds.ResetPassword(c.Context(), req.Email)
	return send(c, fiber.StatusOK, fiber.StatusBadRequest, res)
}

// HandleSession reports the current cached session, nil when signed out.
func (h *AuthHandler) HandleSession(c *fiber.Ctx) error {
	return c.JSON(models.OK(h.creds.CurrentSession()))
}
