package model

import "time"

// PollOption is one selectable answer. Options are stored inline on the poll
// row (jsonb column), matching the low cardinality of a chat poll.
type PollOption struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// Poll is immutable after creation except for Closed.
type Poll struct {
	ID        string       `json:"id"`
	Question  string       `json:"question"`
	Options   []PollOption `json:"options"`
	CreatedBy string       `json:"created_by"`
	CreatedAt time.Time    `json:"created_at"`
	Closed    bool         `json:"closed"`
}

// PollVote is one user's vote. At most one row exists per (poll_id, username);
// upserts on that key switch the vote in place.
type PollVote struct {
	ID        string    `json:"id"`
	PollID    string    `json:"poll_id"`
	Username  string    `json:"username"`
	OptionID  string    `json:"option_id"`
	CreatedAt time.Time `json:"created_at"`
}
