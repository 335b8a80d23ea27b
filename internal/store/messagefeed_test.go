package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/chatview/internal/backend/memory"
	"github.com/chatview/internal/model"
	"github.com/chatview/internal/subscription"
)

func newFeedStore(mem *memory.Client) *MessageFeedStore {
	return NewMessageFeedStore(mem, subscription.NewManager(mem))
}

func feedIDs(s *MessageFeedStore) []string {
	msgs := s.Messages()
	ids := make([]string, len(msgs))
	for i, m := range msgs {
		ids[i] = m.ID
	}
	return ids
}

func TestLoadOrdersAscendingWithIDTieBreak(t *testing.T) {
	mem := seedBackend()
	// Two messages share a timestamp; the id decides.
	ts := base.Add(10 * time.Minute)
	mem.AddMessage(model.Message{ID: "m9", ChatID: "d1", SenderID: "alice", Content: "b", CreatedAt: ts})
	mem.AddMessage(model.Message{ID: "m8", ChatID: "d1", SenderID: "bob", Content: "a", CreatedAt: ts})

	s := newFeedStore(mem)
	if err := s.Load(context.Background(), "d1"); err != nil {
		t.Fatalf("Load: %v", err)
	}
	got := feedIDs(s)
	want := []string{"m1", "m8", "m9"}
	if len(got) != len(want) {
		t.Fatalf("feed = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("feed = %v, want %v", got, want)
		}
	}

	// Authors arrive joined.
	for _, m := range s.Messages() {
		if m.Sender == nil {
			t.Errorf("message %s loaded without sender", m.ID)
		}
	}
	if s.ChatID() != "d1" {
		t.Errorf("ChatID = %q, want d1", s.ChatID())
	}
}

func TestLoadTwiceYieldsSameFeed(t *testing.T) {
	mem := seedBackend()
	s := newFeedStore(mem)
	if err := s.Load(context.Background(), "d1"); err != nil {
		t.Fatalf("first Load: %v", err)
	}
	first := feedIDs(s)
	if err := s.Load(context.Background(), "d1"); err != nil {
		t.Fatalf("second Load: %v", err)
	}
	second := feedIDs(s)
	if len(first) != len(second) {
		t.Fatalf("reload changed the feed: %v vs %v", first, second)
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("reload changed the feed: %v vs %v", first, second)
		}
	}
}

func TestLoadScopesToOneChat(t *testing.T) {
	mem := seedBackend()
	s := newFeedStore(mem)
	if err := s.Load(context.Background(), "g1"); err != nil {
		t.Fatalf("Load: %v", err)
	}
	for _, m := range s.Messages() {
		if m.ChatID != "g1" {
			t.Errorf("foreign message %s in feed", m.ID)
		}
	}
}

func TestLoadEmptyChatIDClears(t *testing.T) {
	mem := seedBackend()
	s := newFeedStore(mem)
	if err := s.Load(context.Background(), "d1"); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := s.Load(context.Background(), ""); err != nil {
		t.Fatalf("Load(\"\"): %v", err)
	}
	if got := s.Messages(); len(got) != 0 {
		t.Errorf("feed not cleared: %v", got)
	}
}

func TestLoadFailureKeepsPreviousFeed(t *testing.T) {
	mem := seedBackend()
	s := newFeedStore(mem)
	if err := s.Load(context.Background(), "d1"); err != nil {
		t.Fatalf("Load: %v", err)
	}
	before := feedIDs(s)
	loadedAt := s.LoadedAt()

	mem.SetQueryError(errors.New("connection reset"))
	if err := s.Load(context.Background(), "d1"); err == nil {
		t.Fatal("expected load error")
	}
	after := feedIDs(s)
	if len(after) != len(before) {
		t.Errorf("failed load changed the feed: %v", after)
	}
	if !s.LoadedAt().Equal(loadedAt) {
		t.Error("failed load bumped LoadedAt")
	}
}

func TestStaleFetchCannotCrossChats(t *testing.T) {
	mem := seedBackend()
	s := newFeedStore(mem)

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	mem.BeforeQuery = func(op, key string) {
		if op == "memory.QueryMessages" && key == "d1" {
			once.Do(func() {
				close(entered)
				<-release
			})
		}
	}

	firstDone := make(chan error, 1)
	go func() {
		firstDone <- s.Load(context.Background(), "d1")
	}()
	<-entered

	// The viewer switches chats while the old fetch is still in flight.
	if err := s.Load(context.Background(), "g1"); err != nil {
		t.Fatalf("Load g1: %v", err)
	}

	close(release)
	if err := <-firstDone; err != nil {
		t.Fatalf("Load d1: %v", err)
	}
	for _, m := range s.Messages() {
		if m.ChatID != "g1" {
			t.Fatalf("stale d1 fetch leaked into the g1 feed: %v", feedIDs(s))
		}
	}
	if s.ChatID() != "g1" {
		t.Errorf("ChatID = %q, want g1", s.ChatID())
	}
}

func TestSubscribeReloadsOnInsert(t *testing.T) {
	mem := seedBackend()
	s := newFeedStore(mem)

	if err := s.Subscribe(context.Background(), "d1"); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer s.Unsubscribe()
	if err := s.Load(context.Background(), "d1"); err != nil {
		t.Fatalf("Load: %v", err)
	}

	mem.AddMessage(model.Message{ID: "m3", ChatID: "d1", SenderID: "alice", Content: "pong", CreatedAt: base.Add(5 * time.Minute)})

	got := feedIDs(s)
	if len(got) != 2 || got[1] != "m3" {
		t.Fatalf("feed after insert = %v, want [m1 m3]", got)
	}
	// The reloaded row carries its joined author.
	if msgs := s.Messages(); msgs[1].Sender == nil || msgs[1].Sender.Username != "alice" {
		t.Error("reloaded message missing joined sender")
	}
}

func TestSubscribeIgnoresOtherChats(t *testing.T) {
	mem := seedBackend()
	s := newFeedStore(mem)

	if err := s.Subscribe(context.Background(), "d1"); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer s.Unsubscribe()
	if err := s.Load(context.Background(), "d1"); err != nil {
		t.Fatalf("Load: %v", err)
	}
	loadedAt := s.LoadedAt()

	mem.AddMessage(model.Message{ID: "m3", ChatID: "g1", SenderID: "carol", Content: "elsewhere", CreatedAt: base.Add(5 * time.Minute)})

	if !s.LoadedAt().Equal(loadedAt) {
		t.Error("insert on another chat reloaded the feed")
	}
	if got := feedIDs(s); len(got) != 1 || got[0] != "m1" {
		t.Errorf("feed = %v, want [m1]", got)
	}
}

func TestSubscribeEmptyChatReleases(t *testing.T) {
	mem := seedBackend()
	s := newFeedStore(mem)

	if err := s.Subscribe(context.Background(), "d1"); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if err := s.Load(context.Background(), "d1"); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := s.Subscribe(context.Background(), ""); err != nil {
		t.Fatalf("Subscribe(\"\"): %v", err)
	}
	if err := s.Load(context.Background(), ""); err != nil {
		t.Fatalf("Load(\"\"): %v", err)
	}

	loadedAt := s.LoadedAt()
	mem.AddMessage(model.Message{ID: "m3", ChatID: "d1", SenderID: "bob", Content: "anyone?", CreatedAt: base.Add(5 * time.Minute)})
	if !s.LoadedAt().Equal(loadedAt) {
		t.Error("released subscription still reloads")
	}
}

func TestLoadKeepsDanglingSender(t *testing.T) {
	mem := seedBackend()
	mem.AddMessage(model.Message{ID: "m3", ChatID: "d1", SenderID: "ghost", Content: "boo", CreatedAt: base.Add(5 * time.Minute)})

	s := newFeedStore(mem)
	if err := s.Load(context.Background(), "d1"); err != nil {
		t.Fatalf("Load: %v", err)
	}
	msgs := s.Messages()
	if len(msgs) != 2 {
		t.Fatalf("feed = %v", feedIDs(s))
	}
	if msgs[1].ID != "m3" || msgs[1].Sender != nil {
		t.Errorf("dangling-sender message mangled: %+v", msgs[1])
	}
}
