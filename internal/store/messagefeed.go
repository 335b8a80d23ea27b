package store

import (
	"context"
	"sync"
	"time"

	"github.com/chatview/internal/backend"
	"github.com/chatview/internal/logger"
	"github.com/chatview/internal/model"
	"github.com/chatview/internal/subscription"
)

// slotFeed is the subscription manager slot for the active feed. One slot
// means at most one feed subscription exists, whatever chat it points at.
const slotFeed = "feed"

type MessageFeedStore struct {
	querier backend.Querier
	subs    *subscription.Manager

	mu       sync.Mutex
	chatID   string
	gen      uint64
	messages []model.Message
	loadedAt time.Time
	handle   *subscription.Handle
}

func NewMessageFeedStore(querier backend.Querier, subs *subscription.Manager) *MessageFeedStore {
	return &MessageFeedStore{querier: querier, subs: subs}
}

// Load replaces the held feed with all messages of chatID, authors joined,
// ordered ascending by created_at (ties by id). An empty chatID clears the
// feed without fetching. A result that arrives after the store moved to
// another chat, or after a newer reload was initiated, is discarded. On
// failure the previous feed is left untouched and the error is returned.
func (s *MessageFeedStore) Load(ctx context.Context, chatID string) error {
	defer logger.DeferLogDuration("feed.Load", time.Now())()

	s.mu.Lock()
	s.chatID = chatID
	s.gen++
	gen := s.gen
	s.mu.Unlock()

	if chatID == "" {
		s.apply(gen, chatID, nil)
		return nil
	}

	messages, err := s.querier.QueryMessages(ctx, chatID)
	if err != nil {
		logger.Errorf("feed: load chat=%s: %v", chatID, err)
		return err
	}
	for _, m := range messages {
		if m.Sender == nil {
			logger.Errorf("feed: %v", &backend.DataIntegrityError{
				Resource: backend.ResourceMessages, RowID: m.ID, Ref: "user " + m.SenderID,
			})
		}
	}
	s.apply(gen, chatID, messages)
	return nil
}

func (s *MessageFeedStore) apply(gen uint64, chatID string, messages []model.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen || chatID != s.chatID {
		return
	}
	s.messages = messages
	s.loadedAt = time.Now()
}

// Messages returns a copy of the held feed in ascending order.
func (s *MessageFeedStore) Messages() []model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// ChatID returns the chat the store is currently bound to.
func (s *MessageFeedStore) ChatID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chatID
}

// LoadedAt returns when the held feed was last successfully replaced.
func (s *MessageFeedStore) LoadedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadedAt
}

// Subscribe opens the feed change scope for chatID: every insert on that
// chat triggers a full reload, so the new row always carries joined author
// data and total ordering comes from the query, not event arrival. The
// previous chat's subscription is torn down before the new one opens; with
// an empty chatID the slot is simply released.
func (s *MessageFeedStore) Subscribe(ctx context.Context, chatID string) error {
	if chatID == "" {
		s.Unsubscribe()
		return nil
	}
	s.mu.Lock()
	s.chatID = chatID
	s.mu.Unlock()
	sub := backend.Subscription{
		Resource: backend.ResourceMessages,
		Filter:   backend.Filter{ChatID: chatID},
		Types:    []backend.EventType{backend.EventInsert},
	}
	h, err := s.subs.Replace(ctx, slotFeed, sub, func(backend.Event) {
		if s.ChatID() != chatID {
			return
		}
		reloadCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.Load(reloadCtx, chatID); err != nil {
			logger.Errorf("feed: reload on event chat=%s: %v", chatID, err)
		}
	})
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.handle = h
	s.mu.Unlock()
	return nil
}

// Unsubscribe releases the feed channel. Safe to call repeatedly.
func (s *MessageFeedStore) Unsubscribe() {
	s.mu.Lock()
	h := s.handle
	s.handle = nil
	s.mu.Unlock()
	if h == nil {
		return
	}
	if err := s.subs.Release(h); err != nil {
		logger.Errorf("feed: unsubscribe: %v", err)
	}
}
