package models

// Roles a profile can carry. Anything else found in the tree is treated as
// a plain user by the role lookup.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// DefaultDisplayName is the placeholder for profiles that never set a name.
const DefaultDisplayName = "Пользователь"

// Profile is the per-user record stored under users/{id}. Timestamps are
// ISO-8601 strings, matching what the storefront pages render directly.
type Profile struct {
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
	Role        string `json:"role,omitempty"`
	CreatedAt   string `json:"createdAt"`
}
