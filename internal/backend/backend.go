// Package backend defines the remote collaborator surface the sync core
// consumes: row queries over the canonical tables and row-level
// change-notification channels. Implementations live in subpackages
// (postgres, redisnotify, wsnotify, memory).
package backend

import (
	"context"

	"github.com/chatview/internal/model"
)

type Resource string

const (
	ResourceChats    Resource = "chats"
	ResourceMessages Resource = "messages"
)

type EventType string

const (
	EventInsert EventType = "insert"
	EventUpdate EventType = "update"
	EventDelete EventType = "delete"
	EventAny    EventType = "any"
)

// Event is one row-level change delivered on a channel.
type Event struct {
	Resource Resource  `json:"resource"`
	Type     EventType `json:"type"`
	ChatID   string    `json:"chat_id,omitempty"`
	RowID    string    `json:"row_id,omitempty"`
}

// Filter restricts a subscription to matching rows. Zero value matches all.
type Filter struct {
	ChatID string `json:"chat_id,omitempty"`
}

// Subscription describes one change-notification scope.
type Subscription struct {
	Resource Resource    `json:"resource"`
	Filter   Filter      `json:"filter"`
	Types    []EventType `json:"types"`
}

// Matches reports whether an event passes the filter and event-type set.
func (s Subscription) Matches(ev Event) bool {
	if ev.Resource != s.Resource {
		return false
	}
	if s.Filter.ChatID != "" && ev.ChatID != s.Filter.ChatID {
		return false
	}
	for _, t := range s.Types {
		if t == EventAny || t == ev.Type {
			return true
		}
	}
	return false
}

// Channel is an opaque handle for an open change-notification channel.
// It is returned by Subscribe and must be passed back to Unsubscribe.
type Channel interface {
	ID() string
}

// Notifier delivers row-level change events for subscribed scopes.
// The callback is invoked once per matching event; after Unsubscribe
// returns, no further invocations may happen for that channel.
type Notifier interface {
	Subscribe(ctx context.Context, sub Subscription, fn func(Event)) (Channel, error)
	Unsubscribe(ch Channel) error
}

// Querier reads canonical rows. All results are snapshots; the caller owns
// the returned slices.
type Querier interface {
	// QueryMemberships returns the memberships of one user (unordered).
	QueryMemberships(ctx context.Context, userID string) ([]model.Membership, error)

	// QueryChats returns the full joined rows for the given chat ids,
	// ordered by updated_at descending. viewerID scopes the unread count.
	QueryChats(ctx context.Context, chatIDs []string, viewerID string) ([]model.ChatRow, error)

	// QueryMessages returns all messages of a chat with their authors
	// joined, ordered by created_at ascending, ties broken by id.
	QueryMessages(ctx context.Context, chatID string) ([]model.Message, error)
}

// Backend combines queries and notifications; the memory implementation and
// composed production setups satisfy it.
type Backend interface {
	Querier
	Notifier
}
