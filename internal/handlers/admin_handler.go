package handlers

import (
	"log"

	"github.com/gofiber/fiber/v2"

	"bazaar/internal/services"
)

// AdminHandler handles the admin console routes: full collections,
// derived statistics and the per-order and per-user administrative
// operations.
type AdminHandler struct {
	admin *services.AdminService
}

func NewAdminHandler(admin *services.AdminService) *AdminHandler {
	return &AdminHandler{admin: admin}
}

// RegisterRoutes registers the console routes behind the session and
// admin-role guards.
func (h *AdminHandler) RegisterRoutes(router fiber.Router, requireAuth, requireAdmin fiber.Handler) {
	adminRoutes := router.Group("/admin", requireAuth, requireAdmin)
	adminRoutes.Get("/users", h.HandleGetUsers)
	adminRoutes.Get("/orders", h.HandleGetOrders)
	adminRoutes.Get("/stats", h.HandleGetStats)
	adminRoutes.Patch("/orders/:userId/:orderId/status", h.HandleUpdateOrderStatus)
	adminRoutes.Delete("/orders/:userId/:orderId", h.HandleDeleteOrder)
	adminRoutes.Delete("/users/:userId", h.HandleDeleteUser)
	adminRoutes.Post("/users/:userId/role", h.HandleSetAdminRole)
	adminRoutes.Post("/users/:userId/password", h.HandleChangePassword)
}

func (h *AdminHandler) HandleGetUsers(c *fiber.Ctx) error {
	res := h.admin.GetAllUsers(c.Context())
	return send(c, fiber.StatusOK, fiber.StatusInternalServerError, res)
}

func (h *AdminHandler) HandleGetOrders(c *fiber.Ctx) error {
	res := h.admin.GetAllOrders(c.Context())
	return send(c, fiber.StatusOK, fiber.StatusInternalServerError, res)
}

func (h *AdminHandler) HandleGetStats(c *fiber.Ctx) error {
	res := h.admin.GetStats(c.Context())
	return send(c, fiber.StatusOK, fiber.StatusInternalServerError, res)
}

type StatusRequest struct {
	Status string `json:"status"`
}

func (h *AdminHandler) HandleUpdateOrderStatus(c *fiber.Ctx) error {
	var req StatusRequest
	if err := c.BodyParser(&req); err != nil {
		log.Printf("handlers: bad status body: %v", err)
		return badRequest(c, "Invalid request body", err)
	}
	if req.Status == "" {
		return badRequest(c, "Status is required", nil)
	}
	res := h.admin.UpdateOrderStatus(c.Context(), c.Params("userId"), c.Params("orderId"), req.Status)
	return send(c, fiber.StatusOK, fiber.StatusInternalServerError, res)
}

func (h *AdminHandler) HandleDeleteOrder(c *fiber.Ctx) error {
	res := h.admin.DeleteOrder(c.Context(), c.Params("userId"), c.Params("orderId"))
	return send(c, fiber.StatusOK, fiber.StatusInternalServerError, res)
}

func (h *AdminHandler) HandleDeleteUser(c *fiber.Ctx) error {
	res := h.admin.DeleteUser(c.Context(), c.Params("userId"))
	return send(c, fiber.StatusOK, fiber.StatusInternalServerError, res)
}

func (h *AdminHandler) HandleSetAdminRole(c *fiber.Ctx) error {
	res := h.admin.SetAdminRole(c.Context(), c.Params("userId"))
	return send(c, fiber.StatusOK, fiber.StatusInternalServerError, res)
}

// HandleChangePassword always answers the fixed unsupported envelope;
// changing another user's password needs privileges this layer does not
// hold.
func (h *AdminHandler) HandleChangePassword(c *fiber.Ctx) error {
	res := h.admin.ChangeUserPassword(c.Params("userId"))
	return c.Status(fiber.StatusNotImplemented).JSON(res)
}
