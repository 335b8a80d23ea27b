// Package store holds the two synchronized snapshots this core maintains:
// the viewer's chat list and the feed of the currently open chat. All
// mutation funnels through the reload path; concurrent reloads are
// serialized by a per-scope generation number so that only the most
// recently initiated fetch is ever applied.
package store

import (
	"context"
	"sync"
	"time"

	"github.com/chatview/internal/backend"
	"github.com/chatview/internal/display"
	"github.com/chatview/internal/logger"
	"github.com/chatview/internal/model"
	"github.com/chatview/internal/subscription"
)

// slotChatList is the subscription manager slot for chat-list updates.
const slotChatList = "chatlist"

type ChatListStore struct {
	querier backend.Querier
	subs    *subscription.Manager

	mu       sync.Mutex
	userID   string
	gen      uint64
	list     []model.ChatViewModel
	loadedAt time.Time
	handle   *subscription.Handle
}

func NewChatListStore(querier backend.Querier, subs *subscription.Manager) *ChatListStore {
	return &ChatListStore{querier: querier, subs: subs}
}

// LoadForUser replaces the held list with a fresh two-phase read: first the
// viewer's membership chat ids, then the full joined chat rows, ordered by
// updated_at descending. An empty userID clears the list without fetching.
// On failure the previous list is left untouched and the error is returned.
func (s *ChatListStore) LoadForUser(ctx context.Context, userID string) error {
	defer logger.DeferLogDuration("chatlist.LoadForUser", time.Now())()

	s.mu.Lock()
	s.userID = userID
	s.gen++
	gen := s.gen
	s.mu.Unlock()

	if userID == "" {
		s.apply(gen, userID, nil)
		return nil
	}

	memberships, err := s.querier.QueryMemberships(ctx, userID)
	if err != nil {
		logger.Errorf("chatlist: load memberships user=%s: %v", userID, err)
		return err
	}

	var rows []model.ChatRow
	if len(memberships) > 0 {
		ids := make([]string, 0, len(memberships))
		seen := make(map[string]struct{}, len(memberships))
		for _, m := range memberships {
			if _, dup := seen[m.ChatID]; dup {
				continue
			}
			seen[m.ChatID] = struct{}{}
			ids = append(ids, m.ChatID)
		}
		rows, err = s.querier.QueryChats(ctx, ids, userID)
		if err != nil {
			logger.Errorf("chatlist: load chats user=%s: %v", userID, err)
			return err
		}
	}

	s.apply(gen, userID, buildChatList(rows, userID))
	return nil
}

// apply installs a reload result unless a newer reload was initiated or the
// scope has moved to another user in the meantime.
func (s *ChatListStore) apply(gen uint64, userID string, list []model.ChatViewModel) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen || userID != s.userID {
		return
	}
	s.list = list
	s.loadedAt = time.Now()
}

// Chats returns a copy of the current chat view models, newest activity
// first.
func (s *ChatListStore) Chats() []model.ChatViewModel {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.ChatViewModel, len(s.list))
	copy(out, s.list)
	return out
}

func (s *ChatListStore) currentUser() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

// LoadedAt returns when the held list was last successfully replaced; the
// zero time means it never was. Callers use it as a staleness indicator.
func (s *ChatListStore) LoadedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadedAt
}

// SubscribeToUpdates opens the chat-list change scope: any insert, update
// or delete on the chats resource triggers a full reload for userID. A
// previous chat-list subscription is torn down first.
func (s *ChatListStore) SubscribeToUpdates(ctx context.Context, userID string) error {
	s.mu.Lock()
	s.userID = userID
	s.mu.Unlock()
	sub := backend.Subscription{
		Resource: backend.ResourceChats,
		Types:    []backend.EventType{backend.EventAny},
	}
	h, err := s.subs.Replace(ctx, slotChatList, sub, func(backend.Event) {
		if s.currentUser() != userID {
			return
		}
		reloadCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.LoadForUser(reloadCtx, userID); err != nil {
			logger.Errorf("chatlist: reload on event user=%s: %v", userID, err)
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

// Unsubscribe releases the chat-list channel. Safe to call repeatedly.
func (s *ChatListStore) Unsubscribe() {
	s.mu.Lock()
	h := s.handle
	s.handle = nil
	s.mu.Unlock()
	if h == nil {
		return
	}
	if err := s.subs.Release(h); err != nil {
		logger.Errorf("chatlist: unsubscribe: %v", err)
	}
}

// buildChatList derives the presentation rows from raw joined rows. Rows
// arrive ordered by updated_at descending and each chat appears once.
func buildChatList(rows []model.ChatRow, userID string) []model.ChatViewModel {
	list := make([]model.ChatViewModel, 0, len(rows))
	for _, row := range rows {
		for _, m := range row.Members {
			if m.User == nil {
				logger.Errorf("chatlist: %v", &backend.DataIntegrityError{
					Resource: backend.ResourceChats, RowID: row.Chat.ID, Ref: "user " + m.UserID,
				})
			}
		}
		vm := model.ChatViewModel{
			ChatID:      row.Chat.ID,
			ChatType:    row.Chat.ChatType,
			DisplayName: display.Name(row.Chat, row.Members, userID),
			AvatarURL:   display.Avatar(row.Chat, row.Members, userID),
			Tags:        display.Tags(row.Chat),
			UnreadCount: row.UnreadCount,
			MemberCount: len(row.Members),
		}
		if vm.UnreadCount < 0 {
			vm.UnreadCount = 0
		}
		if row.LastMessage != nil {
			vm.LastMessage = row.LastMessage.Content
			at := row.LastMessage.CreatedAt
			vm.LastActive = &at
		}
		list = append(list, vm)
	}
	return list
}
