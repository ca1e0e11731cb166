package model

// Role represents the portal a participant belongs to.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleClient Role = "client"
)

// Participant identifies either endpoint of a message. It is owned by the
// auth/user subsystem; messaging treats it as read-only reference data.
type Participant struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Email  string `json:"email"`
	Avatar string `json:"avatar,omitempty"`
	Role   Role   `json:"role"`
}
