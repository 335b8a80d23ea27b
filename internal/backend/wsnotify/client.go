// Package wsnotify delivers row-change events over a WebSocket connection
// to the backend's event endpoint. One connection is dialed per channel;
// the subscription scope is sent as the first frame and the backend streams
// matching events back as JSON.
package wsnotify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/chatview/internal/backend"
	"github.com/chatview/internal/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

type Notifier struct {
	url string
}

func NewNotifier(url string) *Notifier {
	return &Notifier{url: url}
}

type wsChannel struct {
	id   string
	conn *websocket.Conn
	done chan struct{}
}

func (c *wsChannel) ID() string { return c.id }

func (n *Notifier) Subscribe(ctx context.Context, sub backend.Subscription, fn func(backend.Event)) (backend.Channel, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, n.url, nil)
	if err != nil {
		return nil, &backend.SubscriptionError{Op: "wsnotify.Subscribe dial", Err: err}
	}
	conn.SetReadLimit(maxMessageSize)

	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		conn.Close()
		return nil, &backend.SubscriptionError{Op: "wsnotify.Subscribe deadline", Err: err}
	}
	if err := conn.WriteJSON(sub); err != nil {
		conn.Close()
		return nil, &backend.SubscriptionError{Op: "wsnotify.Subscribe scope", Err: err}
	}

	ch := &wsChannel{
		id:   uuid.New().String(),
		conn: conn,
		done: make(chan struct{}),
	}
	go ch.readPump(sub, fn)
	go ch.pingLoop()
	return ch, nil
}

// Unsubscribe closes the connection and waits for the read pump to exit,
// so no callback can fire after it returns.
func (n *Notifier) Unsubscribe(ch backend.Channel) error {
	wc, ok := ch.(*wsChannel)
	if !ok {
		return &backend.SubscriptionError{Op: "wsnotify.Unsubscribe", Err: backend.ErrNotFound}
	}
	_ = wc.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
	wc.conn.Close()
	<-wc.done
	return nil
}

func (c *wsChannel) readPump(sub backend.Subscription, fn func(backend.Event)) {
	defer close(c.done)
	defer c.conn.Close()

	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		logger.Errorf("wsnotify: set read deadline channel=%s: %v", c.id, err)
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Errorf("wsnotify: read channel=%s: %v", c.id, err)
			}
			return
		}
		var ev backend.Event
		if err := json.Unmarshal(raw, &ev); err != nil {
			logger.Errorf("wsnotify: bad payload channel=%s: %v", c.id, err)
			continue
		}
		if sub.Matches(ev) {
			fn(ev)
		}
	}
}

func (c *wsChannel) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
