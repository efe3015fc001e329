package models

// Order is a single order stored under orders/{userId}/{orderId}.
// UserID is only populated on the admin views, where orders from all
// users are flattened into one list.
type Order struct {
	OrderID   string     `json:"orderId,omitempty"`
	UserID    string     `json:"userId,omitempty"`
	Items     []LineItem `json:"items"`
	Total     float64    `json:"total"`
	Status    string     `json:"status"` // e.g. "pending", "shipped", "delivered"
	CreatedAt string     `json:"createdAt"`
	UpdatedAt string     `json:"updatedAt,omitempty"`
}

// AdminStats is the derived statistics view composed from the full user
// and order collections. Recomputed on every request, never persisted.
type AdminStats struct {
	TotalUsers   int                `json:"totalUsers"`
	TotalOrders  int                `json:"totalOrders"`
	TotalRevenue float64            `json:"totalRevenue"`
	Users        map[string]Profile `json:"users"`
	Orders       []Order            `json:"orders"`
}
