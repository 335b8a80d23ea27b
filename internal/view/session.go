// Package view exposes the presentation surface of the sync core: the
// derived chat list, the grouped feed of the active chat, and the intents
// that drive them (select chat, refresh). One Session serves one viewer.
package view

import (
	"context"
	"sync"
	"time"

	"github.com/chatview/internal/backend"
	"github.com/chatview/internal/feedview"
	"github.com/chatview/internal/logger"
	"github.com/chatview/internal/model"
	"github.com/chatview/internal/store"
	"github.com/chatview/internal/subscription"
)

type Session struct {
	userID   string
	subs     *subscription.Manager
	chatList *store.ChatListStore
	feed     *store.MessageFeedStore

	mu         sync.Mutex
	activeChat string
}

func NewSession(querier backend.Querier, notifier backend.Notifier, userID string) *Session {
	subs := subscription.NewManager(notifier)
	return &Session{
		userID:   userID,
		subs:     subs,
		chatList: store.NewChatListStore(querier, subs),
		feed:     store.NewMessageFeedStore(querier, subs),
	}
}

// Start performs the initial chat-list load and opens the chat-list change
// scope. A subscription failure is logged once and does not block the
// fetch; a fetch failure is returned and leaves the (empty) list in place.
func (s *Session) Start(ctx context.Context) error {
	loadErr := s.chatList.LoadForUser(ctx, s.userID)
	if err := s.chatList.SubscribeToUpdates(ctx, s.userID); err != nil {
		logger.Errorf("session: subscribe chat list user=%s: %v", s.userID, err)
	}
	return loadErr
}

// SelectChat switches the active feed to chatID: the previous chat's
// subscription is torn down, the new scope opened, and the feed reloaded.
// An empty chatID deselects; the feed empties and no scope stays open.
func (s *Session) SelectChat(ctx context.Context, chatID string) error {
	s.mu.Lock()
	s.activeChat = chatID
	s.mu.Unlock()

	if err := s.feed.Subscribe(ctx, chatID); err != nil {
		logger.Errorf("session: subscribe feed chat=%s: %v", chatID, err)
	}
	return s.feed.Load(ctx, chatID)
}

// ActiveChat returns the currently selected chat id, or "" when none is.
func (s *Session) ActiveChat() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeChat
}

// ChatList returns the derived chat rows, newest activity first.
func (s *Session) ChatList() []model.ChatViewModel {
	return s.chatList.Chats()
}

// ActiveFeed groups the held feed by calendar day relative to now. Pure
// derivation over the snapshot; calling it twice without an intervening
// reload yields identical output.
func (s *Session) ActiveFeed() []model.MessageGroup {
	return feedview.Group(s.feed.Messages(), s.userID, time.Now())
}

// RefreshChatList re-runs the chat-list load on user intent.
func (s *Session) RefreshChatList(ctx context.Context) error {
	return s.chatList.LoadForUser(ctx, s.userID)
}

// RefreshActiveFeed re-runs the feed load for the selected chat.
func (s *Session) RefreshActiveFeed(ctx context.Context) error {
	return s.feed.Load(ctx, s.ActiveChat())
}

// Status reports when each snapshot was last successfully replaced; the
// presentation layer uses it as its staleness indicator.
type Status struct {
	UserID           string    `json:"user_id"`
	ActiveChat       string    `json:"active_chat,omitempty"`
	ChatListLoadedAt time.Time `json:"chat_list_loaded_at"`
	FeedLoadedAt     time.Time `json:"feed_loaded_at"`
}

func (s *Session) Status() Status {
	return Status{
		UserID:           s.userID,
		ActiveChat:       s.ActiveChat(),
		ChatListLoadedAt: s.chatList.LoadedAt(),
		FeedLoadedAt:     s.feed.LoadedAt(),
	}
}

// Close releases every open channel. The session must not be used after.
func (s *Session) Close() {
	s.chatList.Unsubscribe()
	s.feed.Unsubscribe()
	s.subs.Close()
}
