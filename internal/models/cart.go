package models

// LineItem is an opaque cart/order line. Its shape is owned by the
// storefront pages; this layer only moves it between client and store.
type LineItem = map[string]any

// Cart is the per-user cart stored under carts/{id}. Saved wholesale on
// every change, never merged.
type Cart struct {
	Items     []LineItem `json:"items"`
	UpdatedAt string     `json:"updatedAt,omitempty"`
}
