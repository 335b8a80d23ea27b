package model

import "time"

// ChatViewModel is the derived presentation row for one chat. It is
// recomputed from raw rows on every reload and never persisted.
type ChatViewModel struct {
	ChatID      string     `json:"chat_id"`
	ChatType    ChatType   `json:"chat_type"`
	DisplayName string     `json:"display_name"`
	AvatarURL   string     `json:"avatar_url,omitempty"`
	Tags        []string   `json:"tags,omitempty"`
	LastMessage string     `json:"last_message,omitempty"`
	LastActive  *time.Time `json:"last_active,omitempty"`
	UnreadCount int        `json:"unread_count"`
	MemberCount int        `json:"member_count"`
}

// MessageViewModel wraps a message with its presentation flags.
type MessageViewModel struct {
	Message      Message `json:"message"`
	ShowAvatar   bool    `json:"show_avatar"`
	ShowUsername bool    `json:"show_username"`
	IsOwn        bool    `json:"is_own"`
	SystemAuthor bool    `json:"system_author"`
}

// MessageGroup is one date bucket of the feed ("Today", "Yesterday" or a
// formatted date), in the chronological order of its first message.
type MessageGroup struct {
	Label    string             `json:"label"`
	Messages []MessageViewModel `json:"messages"`
}
