package subscription

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/chatview/internal/backend"
)

// fakeNotifier records channel lifecycle calls in order. fire delivers to
// every callback ever registered, released or not, so tests see what the
// manager's own guard filters out.
type fakeNotifier struct {
	nextID int
	log    []string
	open   map[string]func(backend.Event)
	fns    []func(backend.Event)
	subErr error
}

type fakeChannel struct{ id string }

func (c *fakeChannel) ID() string { return c.id }

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{open: make(map[string]func(backend.Event))}
}

func (n *fakeNotifier) Subscribe(ctx context.Context, sub backend.Subscription, fn func(backend.Event)) (backend.Channel, error) {
	if n.subErr != nil {
		return nil, n.subErr
	}
	n.nextID++
	id := fmt.Sprintf("ch%d", n.nextID)
	n.log = append(n.log, "subscribe "+id)
	n.open[id] = fn
	n.fns = append(n.fns, fn)
	return &fakeChannel{id: id}, nil
}

func (n *fakeNotifier) Unsubscribe(ch backend.Channel) error {
	n.log = append(n.log, "unsubscribe "+ch.ID())
	delete(n.open, ch.ID())
	return nil
}

func (n *fakeNotifier) fire(ev backend.Event) {
	for _, fn := range n.fns {
		fn(ev)
	}
}

func TestReplaceReleasesPreviousChannelFirst(t *testing.T) {
	n := newFakeNotifier()
	m := NewManager(n)
	sub := backend.Subscription{Resource: backend.ResourceMessages}

	h1, err := m.Replace(context.Background(), "feed", sub, func(backend.Event) {})
	if err != nil {
		t.Fatalf("first Replace: %v", err)
	}
	if _, err := m.Replace(context.Background(), "feed", sub, func(backend.Event) {}); err != nil {
		t.Fatalf("second Replace: %v", err)
	}

	want := []string{"subscribe ch1", "unsubscribe ch1", "subscribe ch2"}
	if len(n.log) != len(want) {
		t.Fatalf("log = %v, want %v", n.log, want)
	}
	for i := range want {
		if n.log[i] != want[i] {
			t.Fatalf("log = %v, want %v", n.log, want)
		}
	}

	// The displaced handle is already released; a second release is a no-op.
	if err := m.Release(h1); err != nil {
		t.Errorf("release displaced handle: %v", err)
	}
	if len(n.log) != len(want) {
		t.Errorf("release of displaced handle hit the notifier: %v", n.log)
	}
}

func TestSlotsAreIndependent(t *testing.T) {
	n := newFakeNotifier()
	m := NewManager(n)
	sub := backend.Subscription{Resource: backend.ResourceChats}

	if _, err := m.Replace(context.Background(), "chatlist", sub, func(backend.Event) {}); err != nil {
		t.Fatalf("Replace chatlist: %v", err)
	}
	if _, err := m.Replace(context.Background(), "feed", sub, func(backend.Event) {}); err != nil {
		t.Fatalf("Replace feed: %v", err)
	}
	if len(n.open) != 2 {
		t.Errorf("open channels = %d, want 2", len(n.open))
	}
}

func TestReleaseIsIdempotent(t *testing.T) {
	n := newFakeNotifier()
	m := NewManager(n)

	h, err := m.Replace(context.Background(), "feed", backend.Subscription{}, func(backend.Event) {})
	if err != nil {
		t.Fatalf("Replace: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := m.Release(h); err != nil {
			t.Fatalf("Release #%d: %v", i+1, err)
		}
	}
	unsubs := 0
	for _, entry := range n.log {
		if entry == "unsubscribe ch1" {
			unsubs++
		}
	}
	if unsubs != 1 {
		t.Errorf("channel unsubscribed %d times, want 1", unsubs)
	}
	if err := m.Release(nil); err != nil {
		t.Errorf("Release(nil): %v", err)
	}
}

func TestNoCallbackAfterRelease(t *testing.T) {
	n := newFakeNotifier()
	m := NewManager(n)

	fired := 0
	h, err := m.Replace(context.Background(), "feed", backend.Subscription{}, func(backend.Event) { fired++ })
	if err != nil {
		t.Fatalf("Replace: %v", err)
	}
	n.fire(backend.Event{Resource: backend.ResourceMessages, Type: backend.EventInsert})
	if fired != 1 {
		t.Fatalf("callback fired %d times before release, want 1", fired)
	}

	if err := m.Release(h); err != nil {
		t.Fatalf("Release: %v", err)
	}
	// Even if the transport still held the callback, the guard drops it.
	n.fire(backend.Event{Resource: backend.ResourceMessages, Type: backend.EventInsert})
	if fired != 1 {
		t.Errorf("callback fired after release")
	}
}

func TestReplaceSubscribeError(t *testing.T) {
	n := newFakeNotifier()
	n.subErr = errors.New("broker down")
	m := NewManager(n)

	if _, err := m.Replace(context.Background(), "feed", backend.Subscription{}, func(backend.Event) {}); err == nil {
		t.Fatal("expected subscribe error")
	}
	if len(n.open) != 0 {
		t.Errorf("channel left open after failed subscribe")
	}
}

func TestCloseReleasesEverySlot(t *testing.T) {
	n := newFakeNotifier()
	m := NewManager(n)

	m.Replace(context.Background(), "chatlist", backend.Subscription{}, func(backend.Event) {})
	m.Replace(context.Background(), "feed", backend.Subscription{}, func(backend.Event) {})

	m.Close()
	if len(n.open) != 0 {
		t.Errorf("%d channels still open after Close", len(n.open))
	}
}
