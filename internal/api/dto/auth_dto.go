package dto

import "time"

// AdminLoginRequest payload for login.
type AdminLoginRequest struct {
	AdminID  int64  `json:"admin_id"`
	Password string `json:"password"`
}

// AuthResponse standard response for auth endpoints.
type AuthResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}
