// Package subscription owns change-notification channel lifecycles. Each
// logical slot (the chat list, the active feed) holds at most one open
// channel; replacing a slot tears the previous channel down first, and
// releasing a handle is idempotent.
package subscription

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/chatview/internal/backend"
	"github.com/chatview/internal/logger"
)

type Manager struct {
	notifier backend.Notifier

	mu    sync.Mutex
	slots map[string]*Handle
}

func NewManager(notifier backend.Notifier) *Manager {
	return &Manager{
		notifier: notifier,
		slots:    make(map[string]*Handle),
	}
}

// Handle is the caller-owned reference to one open channel. Teardown goes
// through Manager.Release; there is no ambient registry to forget it in.
type Handle struct {
	slot     string
	ch       backend.Channel
	released atomic.Bool
}

// Slot returns the logical slot this handle occupies.
func (h *Handle) Slot() string { return h.slot }

// Replace opens a new channel for the slot, synchronously releasing any
// channel the slot held before. At no point do two channels for the same
// slot coexist.
func (m *Manager) Replace(ctx context.Context, slot string, sub backend.Subscription, fn func(backend.Event)) (*Handle, error) {
	m.mu.Lock()
	old := m.slots[slot]
	delete(m.slots, slot)
	m.mu.Unlock()
	if old != nil {
		if err := m.Release(old); err != nil {
			logger.Errorf("subscription: release slot %s: %v", slot, err)
		}
	}

	h := &Handle{slot: slot}
	guarded := func(ev backend.Event) {
		if h.released.Load() {
			return
		}
		fn(ev)
	}
	ch, err := m.notifier.Subscribe(ctx, sub, guarded)
	if err != nil {
		return nil, err
	}
	h.ch = ch

	m.mu.Lock()
	m.slots[slot] = h
	m.mu.Unlock()
	return h, nil
}

// Release tears the handle's channel down. Calling it again, or on a handle
// already displaced by Replace, is a no-op.
func (m *Manager) Release(h *Handle) error {
	if h == nil || h.released.Swap(true) {
		return nil
	}
	m.mu.Lock()
	if m.slots[h.slot] == h {
		delete(m.slots, h.slot)
	}
	m.mu.Unlock()
	return m.notifier.Unsubscribe(h.ch)
}

// Close releases every open slot; used on session disposal.
func (m *Manager) Close() {
	m.mu.Lock()
	handles := make([]*Handle, 0, len(m.slots))
	for _, h := range m.slots {
		handles = append(handles, h)
	}
	m.slots = make(map[string]*Handle)
	m.mu.Unlock()

	for _, h := range handles {
		if err := m.Release(h); err != nil {
			logger.Errorf("subscription: close slot %s: %v", h.slot, err)
		}
	}
}
