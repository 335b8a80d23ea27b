// Package memory implements the full backend surface in process memory.
// It backs -dev mode and the package tests: mutators update the tables and
// publish the same row-change events a production backend would.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chatview/internal/backend"
	"github.com/chatview/internal/model"
)

type Client struct {
	mu          sync.Mutex
	users       map[string]model.User
	chats       map[string]model.Chat
	memberships []model.Membership
	messages    []model.Message

	subMu sync.Mutex
	subs  map[string]*subscriber

	queryErr error

	// BeforeQuery, when set, is called at the start of every query with the
	// operation name and its key (user or chat id). Tests use it to hold a
	// fetch in flight.
	BeforeQuery func(op, key string)
}

type subscriber struct {
	id  string
	sub backend.Subscription
	fn  func(backend.Event)

	mu     sync.Mutex
	closed bool
}

func (s *subscriber) ID() string { return s.id }

func New() *Client {
	return &Client{
		users: make(map[string]model.User),
		chats: make(map[string]model.Chat),
		subs:  make(map[string]*subscriber),
	}
}

// SetQueryError makes every subsequent query fail with err until cleared
// with nil. Mutators and subscriptions are unaffected.
func (c *Client) SetQueryError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queryErr = err
}

func (c *Client) beforeQuery(op, key string) error {
	if hook := c.BeforeQuery; hook != nil {
		hook(op, key)
	}
	c.mu.Lock()
	err := c.queryErr
	c.mu.Unlock()
	if err != nil {
		return &backend.NetworkError{Op: op, Err: err}
	}
	return nil
}

// --- Querier ---

func (c *Client) QueryMemberships(ctx context.Context, userID string) ([]model.Membership, error) {
	if err := c.beforeQuery("memory.QueryMemberships", userID); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	result := make([]model.Membership, 0, 8)
	for _, m := range c.memberships {
		if m.UserID == userID {
			m.User = nil
			result = append(result, m)
		}
	}
	return result, nil
}

func (c *Client) QueryChats(ctx context.Context, chatIDs []string, viewerID string) ([]model.ChatRow, error) {
	if err := c.beforeQuery("memory.QueryChats", viewerID); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	result := make([]model.ChatRow, 0, len(chatIDs))
	seen := make(map[string]struct{}, len(chatIDs))
	for _, id := range chatIDs {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		chat, ok := c.chats[id]
		if !ok {
			continue
		}
		result = append(result, model.ChatRow{
			Chat:        chat,
			Members:     c.chatMembersLocked(id),
			LastMessage: c.lastMessageLocked(id),
			UnreadCount: c.unreadCountLocked(id, viewerID),
		})
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Chat.UpdatedAt.After(result[j].Chat.UpdatedAt)
	})
	return result, nil
}

func (c *Client) QueryMessages(ctx context.Context, chatID string) ([]model.Message, error) {
	if err := c.beforeQuery("memory.QueryMessages", chatID); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	result := make([]model.Message, 0, 32)
	for _, m := range c.messages {
		if m.ChatID != chatID {
			continue
		}
		if u, ok := c.users[m.SenderID]; ok {
			user := u
			m.Sender = &user
		} else {
			m.Sender = nil
		}
		result = append(result, m)
	}
	sort.SliceStable(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

func (c *Client) chatMembersLocked(chatID string) []model.Membership {
	members := make([]model.Membership, 0, 4)
	for _, m := range c.memberships {
		if m.ChatID != chatID {
			continue
		}
		if u, ok := c.users[m.UserID]; ok {
			user := u
			m.User = &user
		} else {
			m.User = nil
		}
		members = append(members, m)
	}
	return members
}

func (c *Client) lastMessageLocked(chatID string) *model.Message {
	var last *model.Message
	for i := range c.messages {
		m := c.messages[i]
		if m.ChatID != chatID {
			continue
		}
		if last == nil || m.CreatedAt.After(last.CreatedAt) ||
			(m.CreatedAt.Equal(last.CreatedAt) && m.ID > last.ID) {
			if u, ok := c.users[m.SenderID]; ok {
				user := u
				m.Sender = &user
			}
			last = &m
		}
	}
	return last
}

func (c *Client) unreadCountLocked(chatID, viewerID string) int {
	var lastRead time.Time
	for _, m := range c.memberships {
		if m.ChatID == chatID && m.UserID == viewerID {
			lastRead = m.LastReadAt
			break
		}
	}
	count := 0
	for _, m := range c.messages {
		if m.ChatID == chatID && m.SenderID != viewerID && m.CreatedAt.After(lastRead) {
			count++
		}
	}
	return count
}

// --- Notifier ---

func (c *Client) Subscribe(ctx context.Context, sub backend.Subscription, fn func(backend.Event)) (backend.Channel, error) {
	s := &subscriber{id: uuid.New().String(), sub: sub, fn: fn}
	c.subMu.Lock()
	c.subs[s.id] = s
	c.subMu.Unlock()
	return s, nil
}

// Unsubscribe marks the channel closed under its own lock, so any delivery
// already in flight finishes first and nothing fires afterwards.
func (c *Client) Unsubscribe(ch backend.Channel) error {
	s, ok := ch.(*subscriber)
	if !ok {
		return &backend.SubscriptionError{Op: "memory.Unsubscribe", Err: backend.ErrNotFound}
	}
	c.subMu.Lock()
	delete(c.subs, s.id)
	c.subMu.Unlock()
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// Publish delivers an event synchronously to every matching subscriber.
func (c *Client) Publish(ev backend.Event) {
	c.subMu.Lock()
	targets := make([]*subscriber, 0, len(c.subs))
	for _, s := range c.subs {
		targets = append(targets, s)
	}
	c.subMu.Unlock()

	for _, s := range targets {
		s.mu.Lock()
		if !s.closed && s.sub.Matches(ev) {
			s.fn(ev)
		}
		s.mu.Unlock()
	}
}

// --- Mutators (the "backend side": they change rows and publish events) ---

func (c *Client) AddUser(u model.User) {
	c.mu.Lock()
	c.users[u.ID] = u
	c.mu.Unlock()
}

func (c *Client) AddChat(chat model.Chat) {
	c.mu.Lock()
	c.chats[chat.ID] = chat
	c.mu.Unlock()
	c.Publish(backend.Event{Resource: backend.ResourceChats, Type: backend.EventInsert, ChatID: chat.ID, RowID: chat.ID})
}

func (c *Client) UpdateChat(chat model.Chat) {
	c.mu.Lock()
	c.chats[chat.ID] = chat
	c.mu.Unlock()
	c.Publish(backend.Event{Resource: backend.ResourceChats, Type: backend.EventUpdate, ChatID: chat.ID, RowID: chat.ID})
}

func (c *Client) RemoveChat(chatID string) {
	c.mu.Lock()
	delete(c.chats, chatID)
	kept := c.memberships[:0]
	for _, m := range c.memberships {
		if m.ChatID != chatID {
			kept = append(kept, m)
		}
	}
	c.memberships = kept
	c.mu.Unlock()
	c.Publish(backend.Event{Resource: backend.ResourceChats, Type: backend.EventDelete, ChatID: chatID, RowID: chatID})
}

func (c *Client) AddMember(m model.Membership) {
	c.mu.Lock()
	m.User = nil
	c.memberships = append(c.memberships, m)
	c.mu.Unlock()
}

// AddMessage appends a message and bumps the chat's updated_at, mirroring
// the backend trigger, then publishes insert events for both resources.
func (c *Client) AddMessage(m model.Message) {
	c.mu.Lock()
	m.Sender = nil
	c.messages = append(c.messages, m)
	chat, ok := c.chats[m.ChatID]
	if ok {
		chat.UpdatedAt = m.CreatedAt
		c.chats[m.ChatID] = chat
	}
	c.mu.Unlock()
	c.Publish(backend.Event{Resource: backend.ResourceMessages, Type: backend.EventInsert, ChatID: m.ChatID, RowID: m.ID})
	if ok {
		c.Publish(backend.Event{Resource: backend.ResourceChats, Type: backend.EventUpdate, ChatID: m.ChatID, RowID: m.ChatID})
	}
}
