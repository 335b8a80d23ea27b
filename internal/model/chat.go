package model

import "time"

type ChatType string

const (
	ChatTypeDirect ChatType = "direct"
	ChatTypeGroup  ChatType = "group"
)

type Chat struct {
	ID        string    `json:"id"`
	ChatType  ChatType  `json:"chat_type"`
	Name      string    `json:"name"`
	CreatedBy string    `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Membership relates a user to a chat. User is populated when the row was
// fetched with a join; it may be nil on a dangling reference.
type Membership struct {
	ChatID     string    `json:"chat_id"`
	UserID     string    `json:"user_id"`
	LastReadAt time.Time `json:"last_read_at"`
	User       *User     `json:"user,omitempty"`
}

// ChatRow is the joined chat row as returned by the backend chat query:
// the chat itself with nested memberships, a last-message preview and the
// viewer's unread count.
type ChatRow struct {
	Chat        Chat         `json:"chat"`
	Members     []Membership `json:"members"`
	LastMessage *Message     `json:"last_message,omitempty"`
	UnreadCount int          `json:"unread_count"`
}
