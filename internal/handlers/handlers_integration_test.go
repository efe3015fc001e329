package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"bazaar/internal/authapi"
	"bazaar/internal/handlers"
	"bazaar/internal/middleware"
	"bazaar/internal/services"
	"bazaar/internal/treestore"

	"github.com/gofiber/fiber/v2"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupApp builds a Fiber app on an in-memory tree store with every
// handler wired the way main does it. The admin service is returned so
// tests can promote a user to admin.
func setupApp() (*fiber.App, *services.AdminService, error) {
	viper.SetDefault("JWT_SECRET", "test_jwt_secret")
	viper.AutomaticEnv()
	jwtSecret := viper.GetString("JWT_SECRET")

	store := treestore.NewMemoryStore()
	provider := authapi.NewLocalProvider(store, jwtSecret, nil)

	storeService := services.NewStoreService(store, nil) // nil for RabbitMQ client
	credService := services.NewCredentialService(provider, storeService)
	adminService := services.NewAdminService(store, nil)

	authHandler := handlers.NewAuthHandler(credService)
	storeHandler := handlers.NewStoreHandler(storeService)
	adminHandler := handlers.NewAdminHandler(adminService)

	app := fiber.New()
	apiV1 := app.Group("/api/v1")

	requireAuth := middleware.AuthRequired(provider)
	requireAdmin := middleware.AdminRequired(adminService)

	authHandler.RegisterRoutes(apiV1)
	storeHandler.RegisterRoutes(apiV1, requireAuth)
	adminHandler.RegisterRoutes(apiV1, requireAuth, requireAdmin)

	return app, adminService, nil
}

// TestMain suppresses logging during tests for cleaner output.
func TestMain(m *testing.M) {
	log.SetOutput(io.Discard)
	os.Exit(m.Run())
}

func doJSON(t *testing.T, app *fiber.App, method, path, token string, body any) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(jsonBody)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := app.Test(req, -1) // -1 for no timeout
	require.NoError(t, err)
	defer resp.Body.Close()

	out := map[string]any{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

// registerUser registers a user and returns their uid and token.
func registerUser(t *testing.T, app *fiber.App, email, displayName string) (string, string) {
	t.Helper()
	status, body := doJSON(t, app, http.MethodPost, "/api/v1/auth/register", "", map[string]string{
		"email":       email,
		"password":    "password123",
		"displayName": displayName,
	})
	require.Equal(t, http.StatusCreated, status)
	require.Equal(t, true, body["success"])
	data := body["data"].(map[string]any)
	return data["uid"].(string), data["token"].(string)
}

func TestAuthRegisterAndLogin(t *testing.T) {
	app, _, err := setupApp()
	require.NoError(t, err)

	uid, token := registerUser(t, app, "anna@example.com", "Анна")
	assert.NotEmpty(t, uid)
	assert.NotEmpty(t, token)

	// Duplicate registration comes back localized.
	status, body := doJSON(t, app, http.MethodPost, "/api/v1/auth/register", "", map[string]string{
		"email":    "anna@example.com",
		"password": "password456",
	})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "Этот адрес электронной почты уже используется", body["error"])

	// Login succeeds with the right password.
	status, body = doJSON(t, app, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"email":    "anna@example.com",
		"password": "password123",
	})
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["success"])
	data := body["data"].(map[string]any)
	assert.Equal(t, "Анна", data["displayName"])
	assert.NotEmpty(t, data["token"])

	// And fails localized with the wrong one.
	status, body = doJSON(t, app, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"email":    "anna@example.com",
		"password": "wrongpassword",
	})
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "Неверный пароль", body["error"])
}

func TestAuthValidation(t *testing.T) {
	app, _, err := setupApp()
	require.NoError(t, err)

	status, body := doJSON(t, app, http.MethodPost, "/api/v1/auth/register", "", map[string]string{
		"email": "anna@example.com",
	})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "Validation failed", body["message"])
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	app, _, err := setupApp()
	require.NoError(t, err)

	status, _ := doJSON(t, app, http.MethodGet, "/api/v1/cart", "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = doJSON(t, app, http.MethodGet, "/api/v1/cart", "garbage-token", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestProfileFlow(t *testing.T) {
	app, _, err := setupApp()
	require.NoError(t, err)
	_, token := registerUser(t, app, "anna@example.com", "Анна")

	status, body := doJSON(t, app, http.MethodGet, "/api/v1/profile", token, nil)
	assert.Equal(t, http.StatusOK, status)
	data := body["data"].(map[string]any)
	assert.Equal(t, "anna@example.com", data["email"])
	assert.Equal(t, "Анна", data["displayName"])
	assert.Equal(t, "user", data["role"])

	status, _ = doJSON(t, app, http.MethodPut, "/api/v1/profile", token, map[string]string{
		"email":       "anna@example.com",
		"displayName": "Анна Иванова",
	})
	assert.Equal(t, http.StatusOK, status)

	status, body = doJSON(t, app, http.MethodGet, "/api/v1/profile", token, nil)
	assert.Equal(t, http.StatusOK, status)
	data = body["data"].(map[string]any)
	assert.Equal(t, "Анна Иванова", data["displayName"])
	// A routine profile save keeps the stored role.
	assert.Equal(t, "user", data["role"])
}

func TestCartAndOrderFlow(t *testing.T) {
	app, _, err := setupApp()
	require.NoError(t, err)
	_, token := registerUser(t, app, "anna@example.com", "Анна")

	// Empty cart before anything is saved.
	status, body := doJSON(t, app, http.MethodGet, "/api/v1/cart", token, nil)
	assert.Equal(t, http.StatusOK, status)
	data := body["data"].(map[string]any)
	assert.Empty(t, data["items"])

	status, _ = doJSON(t, app, http.MethodPut, "/api/v1/cart", token, map[string]any{
		"items": []map[string]any{{"id": "p1", "qty": 2}},
	})
	assert.Equal(t, http.StatusOK, status)

	status, body = doJSON(t, app, http.MethodGet, "/api/v1/cart", token, nil)
	assert.Equal(t, http.StatusOK, status)
	data = body["data"].(map[string]any)
	assert.Len(t, data["items"], 1)

	// An order without items is rejected.
	status, _ = doJSON(t, app, http.MethodPost, "/api/v1/orders", token, map[string]any{
		"items": []map[string]any{},
		"total": 0,
	})
	assert.Equal(t, http.StatusBadRequest, status)

	status, body = doJSON(t, app, http.MethodPost, "/api/v1/orders", token, map[string]any{
		"items": []map[string]any{{"id": "p1", "qty": 2}},
		"total": 99.5,
	})
	assert.Equal(t, http.StatusCreated, status)
	assert.Equal(t, true, body["success"])
	orderID := body["orderId"].(string)
	assert.NotEmpty(t, orderID)

	status, body = doJSON(t, app, http.MethodGet, "/api/v1/orders", token, nil)
	assert.Equal(t, http.StatusOK, status)
	orders := body["data"].(map[string]any)
	assert.Contains(t, orders, orderID)

	status, _ = doJSON(t, app, http.MethodDelete, "/api/v1/cart", token, nil)
	assert.Equal(t, http.StatusOK, status)

	status, body = doJSON(t, app, http.MethodGet, "/api/v1/cart", token, nil)
	assert.Equal(t, http.StatusOK, status)
	data = body["data"].(map[string]any)
	assert.Empty(t, data["items"])
}

func TestAdminRoutes(t *testing.T) {
	app, adminService, err := setupApp()
	require.NoError(t, err)

	buyerUID, buyerToken := registerUser(t, app, "anna@example.com", "Анна")
	adminUID, adminToken := registerUser(t, app, "boris@example.com", "Борис")

	// A plain user cannot reach the console.
	status, _ := doJSON(t, app, http.MethodGet, "/api/v1/admin/stats", buyerToken, nil)
	assert.Equal(t, http.StatusForbidden, status)

	require.True(t, adminService.SetAdminRole(context.Background(), adminUID).Success)

	// The buyer places an order so the stats have something to count.
	status, body := doJSON(t, app, http.MethodPost, "/api/v1/orders", buyerToken, map[string]any{
		"items": []map[string]any{{"id": "p1", "qty": 1}},
		"total": 25.0,
	})
	require.Equal(t, http.StatusCreated, status)
	orderID := body["orderId"].(string)

	status, body = doJSON(t, app, http.MethodGet, "/api/v1/admin/stats", adminToken, nil)
	assert.Equal(t, http.StatusOK, status)
	stats := body["data"].(map[string]any)
	assert.Equal(t, 2.0, stats["totalUsers"])
	assert.Equal(t, 1.0, stats["totalOrders"])
	assert.Equal(t, 25.0, stats["totalRevenue"])

	status, body = doJSON(t, app, http.MethodGet, "/api/v1/admin/orders", adminToken, nil)
	assert.Equal(t, http.StatusOK, status)
	orders := body["data"].([]any)
	assert.Len(t, orders, 1)
	first := orders[0].(map[string]any)
	assert.Equal(t, buyerUID, first["userId"])
	assert.Equal(t, orderID, first["orderId"])

	status, _ = doJSON(t, app, http.MethodPatch, "/api/v1/admin/orders/"+buyerUID+"/"+orderID+"/status", adminToken, map[string]string{
		"status": "shipped",
	})
	assert.Equal(t, http.StatusOK, status)

	status, body = doJSON(t, app, http.MethodGet, "/api/v1/orders", buyerToken, nil)
	assert.Equal(t, http.StatusOK, status)
	userOrders := body["data"].(map[string]any)
	shipped := userOrders[orderID].(map[string]any)
	assert.Equal(t, "shipped", shipped["status"])
	assert.Equal(t, 25.0, shipped["total"])

	// The password route never reaches the credential backend.
	status, body = doJSON(t, app, http.MethodPost, "/api/v1/admin/users/"+buyerUID+"/password", adminToken, nil)
	assert.Equal(t, http.StatusNotImplemented, status)
	assert.Equal(t, false, body["success"])
	assert.NotEmpty(t, body["instruction"])

	status, _ = doJSON(t, app, http.MethodDelete, "/api/v1/admin/users/"+buyerUID, adminToken, nil)
	assert.Equal(t, http.StatusOK, status)

	status, body = doJSON(t, app, http.MethodGet, "/api/v1/admin/users", adminToken, nil)
	assert.Equal(t, http.StatusOK, status)
	users := body["data"].(map[string]any)
	assert.NotContains(t, users, buyerUID)
	assert.Contains(t, users, adminUID)

	// Orders survive the profile deletion.
	status, body = doJSON(t, app, http.MethodGet, "/api/v1/admin/orders", adminToken, nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Len(t, body["data"].([]any), 1)
}
