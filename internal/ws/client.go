package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/estatechat/internal/logger"
)

const (
	defaultWriteTimeout   = 10 * time.Second
	defaultPongTimeout    = 60 * time.Second
	defaultMaxMessageSize = 64 * 1024
	defaultSendBufferSize = 256
)

// Tuning carries the per-connection knobs from config. The zero value means
// defaults throughout.
type Tuning struct {
	SendBufferSize int
	WriteTimeout   time.Duration
	PongTimeout    time.Duration
	MaxMessageSize int64
}

func (t Tuning) withDefaults() Tuning {
	if t.SendBufferSize <= 0 {
		t.SendBufferSize = defaultSendBufferSize
	}
	if t.WriteTimeout <= 0 {
		t.WriteTimeout = defaultWriteTimeout
	}
	if t.PongTimeout <= 0 {
		t.PongTimeout = defaultPongTimeout
	}
	if t.MaxMessageSize <= 0 {
		t.MaxMessageSize = defaultMaxMessageSize
	}
	return t
}

// pingPeriod must fire before the pong deadline expires.
func (t Tuning) pingPeriod() time.Duration {
	return t.PongTimeout * 9 / 10
}

// Client is one authenticated WebSocket session.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	userID string

	done      chan struct{}
	cancel    context.CancelFunc
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func NewClient(hub *Hub, conn *websocket.Conn, userID string) *Client {
	return &Client{
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, hub.tuning.SendBufferSize),
		userID: userID,
		done:   make(chan struct{}),
	}
}

// Start launches the read and write pumps. The passed cancel tears down the
// session context when either pump exits.
func (c *Client) Start(ctx context.Context, cancel context.CancelFunc) {
	c.cancel = cancel
	c.wg.Add(2)
	go c.readPump(ctx)
	go c.writePump(ctx)
}

// Wait blocks until both pumps have returned.
func (c *Client) Wait() {
	c.wg.Wait()
}

// Close is idempotent and safe from any goroutine.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}
		close(c.done)
		if c.conn != nil {
			_ = c.conn.Close()
		}
	})
}

func (c *Client) readPump(ctx context.Context) {
	defer func() {
		c.hub.Unregister(c)
		c.Close()
		c.wg.Done()
	}()

	tuning := c.hub.tuning
	c.conn.SetReadLimit(tuning.MaxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(tuning.PongTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(tuning.PongTimeout))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Errorf("ws read user=%s: %v", c.userID, err)
			}
			return
		}
		var ev ClientEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			logger.Errorf("ws bad frame user=%s: %v", c.userID, err)
			continue
		}
		c.hub.HandleEvent(ctx, c, ev)
	}
}

func (c *Client) writePump(ctx context.Context) {
	tuning := c.hub.tuning
	ticker := time.NewTicker(tuning.pingPeriod())
	defer func() {
		ticker.Stop()
		c.Close()
		c.wg.Done()
	}()

	for {
		select {
		case <-ctx.Done():
			_ = c.conn.SetWriteDeadline(time.Now().Add(tuning.WriteTimeout))
			_ = c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
			return
		case <-c.done:
			return
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(tuning.WriteTimeout))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(tuning.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
