package model

import "time"

// Room is a named chat room joined via a short invite code.
// Rows are created once and never mutated.
type Room struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Code      string    `json:"code"`
	CreatedBy string    `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
}
