package model

import "time"

// PresenceRecord is one tracked connection on a presence channel. A single
// username may hold several concurrent records (multiple tabs/devices), so
// records are keyed by ConnID, not by username.
type PresenceRecord struct {
	ConnID   string    `json:"conn_id"`
	Username string    `json:"username"`
	OnlineAt time.Time `json:"online_at"`
}
