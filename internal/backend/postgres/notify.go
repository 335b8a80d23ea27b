package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/chatview/internal/backend"
	"github.com/chatview/internal/logger"
)

// NotifyChannel is the Postgres NOTIFY channel the schema triggers publish
// row-change payloads on (see migrations/001_init.sql).
const NotifyChannel = "chatview_changes"

// Notifier delivers change events via Postgres LISTEN/NOTIFY. Each
// subscription holds its own dedicated connection so that teardown can
// close it and unblock the wait loop.
type Notifier struct {
	connString string
}

func NewNotifier(connString string) *Notifier {
	return &Notifier{connString: connString}
}

type listenChannel struct {
	id     string
	cancel context.CancelFunc
	done   chan struct{}
}

func (c *listenChannel) ID() string { return c.id }

func (n *Notifier) Subscribe(ctx context.Context, sub backend.Subscription, fn func(backend.Event)) (backend.Channel, error) {
	conn, err := pgx.Connect(ctx, n.connString)
	if err != nil {
		return nil, &backend.SubscriptionError{Op: "pgnotify.Subscribe connect", Err: err}
	}
	if _, err := conn.Exec(ctx, "LISTEN "+NotifyChannel); err != nil {
		_ = conn.Close(context.Background())
		return nil, &backend.SubscriptionError{Op: "pgnotify.Subscribe listen", Err: err}
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	ch := &listenChannel{
		id:     uuid.New().String(),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go func() {
		defer close(ch.done)
		defer func() {
			closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer closeCancel()
			if err := conn.Close(closeCtx); err != nil {
				logger.Errorf("pgnotify: close listen conn: %v", err)
			}
		}()
		for {
			note, err := conn.WaitForNotification(loopCtx)
			if err != nil {
				if loopCtx.Err() != nil {
					return
				}
				logger.Errorf("pgnotify: wait channel=%s: %v", ch.id, err)
				return
			}
			var ev backend.Event
			if err := json.Unmarshal([]byte(note.Payload), &ev); err != nil {
				logger.Errorf("pgnotify: bad payload %q: %v", note.Payload, err)
				continue
			}
			if sub.Matches(ev) {
				fn(ev)
			}
		}
	}()
	return ch, nil
}

// Unsubscribe cancels the wait loop and blocks until it has exited, so no
// callback can fire after it returns. Safe to call more than once.
func (n *Notifier) Unsubscribe(ch backend.Channel) error {
	lc, ok := ch.(*listenChannel)
	if !ok {
		return &backend.SubscriptionError{Op: "pgnotify.Unsubscribe", Err: backend.ErrNotFound}
	}
	lc.cancel()
	<-lc.done
	return nil
}
