package dto

import "time"

// UserResponse is one registered user.
type UserResponse struct {
	UserID       int64     `json:"user_id"`
	Name         string    `json:"name"`
	Module       string    `json:"module"`
	RegisteredAt time.Time `json:"registered_at"`
}
