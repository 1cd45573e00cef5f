package chat

import "time"

// Session captures a conversation between one user and one companion.
type Session struct {
	ID          int       `json:"id"`
	CompanionID int       `json:"companion_id"`
	UserID      string    `json:"user_id"`
	Title       string    `json:"title,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}
