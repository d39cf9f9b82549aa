package domain

import "time"

// Profile is the registration record of a chat user.
type Profile struct {
	UserID       int64     `json:"user_id"`
	Name         string    `json:"name"`
	Module       string    `json:"module"`
	RegisteredAt time.Time `json:"registered_at"`
}

// Submission is one row of the append-only submission log.
type Submission struct {
	SubmittedAt time.Time
	UserID      int64
	Name        string
	Module      string
	Type        TicketType
	Category    string
	Description string
}
