package handlers

import (
	"log"

	"github.com/gofiber/fiber/v2"

	"bazaar/internal/models"
	"bazaar/internal/services"
)

// StoreHandler handles the authenticated profile, cart and order routes.
// The identity always comes from the session guard, never from the body.
type StoreHandler struct {
	store *services.StoreService
}

func NewStoreHandler(store *services.StoreService) *StoreHandler {
	return &StoreHandler{store: store}
}

// RegisterRoutes registers the storefront routes behind the session guard.
func (h *StoreHandler) RegisterRoutes(router fiber.Router, requireAuth fiber.Handler) {
	router.Get("/profile", requireAuth, h.HandleGetProfile)
	router.Put("/profile", requireAuth, h.HandleSaveProfile)
	router.Get("/cart", requireAuth, h.HandleGetCart)
	router.Put("/cart", requireAuth, h.HandleSaveCart)
	router.Delete("/cart", requireAuth, h.HandleDeleteCart)
	router.Get("/orders", requireAuth, h.HandleGetOrders)
	router.Post("/orders", requireAuth, h.HandleCreateOrder)
}

func (h *StoreHandler) HandleGetProfile(c *fiber.Ctx) error {
	res := h.store.GetProfile(c.Context(), sessionUserID(c))
	return send(c, fiber.StatusOK, fiber.StatusInternalServerError, res)
}

// ProfileRequest deliberately has no role field: the role is only ever
// assigned by a direct administrative write.
type ProfileRequest struct {
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
}

func (h *StoreHandler) HandleSaveProfile(c *fiber.Ctx) error {
	var req ProfileRequest
	if err := c.BodyParser(&req); err != nil {
		log.Printf("handlers: bad profile body: %v", err)
		return badRequest(c, "Invalid request body", err)
	}
	profile := models.Profile{Email: req.Email, DisplayName: req.DisplayName}
	res := h.store.SaveProfile(c.Context(), sessionUserID(c), profile)
	return send(c, fiber.StatusOK, fiber.StatusInternalServerError, res)
}

func (h *StoreHandler) HandleGetCart(c *fiber.Ctx) error {
	res := h.store.GetCart(c.Context(), sessionUserID(c))
	return send(c, fiber.StatusOK, fiber.StatusInternalServerError, res)
}

type CartRequest struct {
	Items []models.LineItem `json:"items"`
}

func (h *StoreHandler) HandleSaveCart(c *fiber.Ctx) error {
	var req CartRequest
	if err := c.BodyParser(&req); err != nil {
		log.Printf("handlers: bad cart body: %v", err)
		return badRequest(c, "Invalid request body", err)
	}
	res := h.store.SaveCart(c.Context(), sessionUserID(c), req.Items)
	return send(c, fiber.StatusOK, fiber.StatusInternalServerError, res)
}

func (h *StoreHandler) HandleDeleteCart(c *fiber.Ctx) error {
	res := h.store.DeleteCart(c.Context(), sessionUserID(c))
	return send(c, fiber.StatusOK, fiber.StatusInternalServerError, res)
}

func (h *StoreHandler) HandleGetOrders(c *fiber.Ctx) error {
	res := h.store.GetUserOrders(c.Context(), sessionUserID(c))
	return send(c, fiber.StatusOK, fiber.StatusInternalServerError, res)
}

type OrderRequest struct {
	Items []models.LineItem `json:"items"`
	Total float64           `json:"total"`
}

func (h *StoreHandler) HandleCreateOrder(c *fiber.Ctx) error {
	var req OrderRequest
	if err := c.BodyParser(&req); err != nil {
		log.Printf("handlers: bad order body: %v", err)
		return badRequest(c, "Invalid request body", err)
	}
	if len(req.Items) == 0 {
		return badRequest(c, "At least one item is required for an order", nil)
	}
	res := h.store.SaveOrder(c.Context(), sessionUserID(c), req.Items, req.Total)
	return send(c, fiber.StatusCreated, fiber.StatusInternalServerError, res)
}
