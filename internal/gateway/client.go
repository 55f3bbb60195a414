package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/flamechat/internal/logger"
	"github.com/flamechat/internal/wire"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 65536
	sendBufSize    = 256
	publishTimeout = 5 * time.Second
)

// bufPool pools buffers for JSON encoding in writePump.
var bufPool = sync.Pool{
	New: func() any { return new(bytes.Buffer) },
}

// Client is one websocket connection.
// Lifecycle: NewClient -> Start(ctx, cancel) -> pumps -> Close -> Wait.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan wire.ServerFrame

	mu      sync.Mutex
	topics  map[string]struct{}
	tracked map[string]map[string]struct{} // presence topic -> conn ids

	done   chan struct{}
	cancel context.CancelFunc
	once   sync.Once
	wg     sync.WaitGroup
}

func NewClient(hub *Hub, conn *websocket.Conn) *Client {
	return &Client{
		hub:     hub,
		conn:    conn,
		send:    make(chan wire.ServerFrame, sendBufSize),
		topics:  make(map[string]struct{}),
		tracked: make(map[string]map[string]struct{}),
		done:    make(chan struct{}),
	}
}

// Start launches the pumps; cancel is kept for Close.
func (c *Client) Start(ctx context.Context, cancel context.CancelFunc) {
	c.cancel = cancel
	c.wg.Add(2)
	go c.writePump(ctx)
	go c.readPump(ctx)
}

// Wait blocks until both pumps exited.
func (c *Client) Wait() { c.wg.Wait() }

// Close stops the client. Safe to call repeatedly from any goroutine.
func (c *Client) Close() {
	c.once.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}
		close(c.done)
		c.conn.Close()
	})
}

func (c *Client) subscribe(topic string) {
	c.mu.Lock()
	c.topics[topic] = struct{}{}
	c.mu.Unlock()
}

func (c *Client) unsubscribe(topic string) {
	c.mu.Lock()
	delete(c.topics, topic)
	c.mu.Unlock()
}

func (c *Client) subscribed(topic string) bool {
	c.mu.Lock()
	_, ok := c.topics[topic]
	c.mu.Unlock()
	return ok
}

func (c *Client) addTracked(topic, connID string) {
	c.mu.Lock()
	if c.tracked[topic] == nil {
		c.tracked[topic] = make(map[string]struct{})
	}
	c.tracked[topic][connID] = struct{}{}
	c.mu.Unlock()
}

func (c *Client) removeTracked(topic, connID string) {
	c.mu.Lock()
	if m := c.tracked[topic]; m != nil {
		delete(m, connID)
		if len(m) == 0 {
			delete(c.tracked, topic)
		}
	}
	c.mu.Unlock()
}

// takeTracked returns and clears everything this connection still tracks.
func (c *Client) takeTracked() map[string]map[string]struct{} {
	c.mu.Lock()
	out := c.tracked
	c.tracked = make(map[string]map[string]struct{})
	c.mu.Unlock()
	return out
}

// trySend queues a frame without blocking; false means the buffer is full.
func (c *Client) trySend(frame wire.ServerFrame) bool {
	select {
	case <-c.done:
		return true
	default:
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

func (c *Client) readPump(ctx context.Context) {
	defer c.wg.Done()
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		logger.Errorf("ws set read deadline: %v", err)
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Errorf("ws read error: %v", err)
			}
			return
		}

		var frame wire.ClientFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			logger.Errorf("ws unmarshal error: %v", err)
			continue
		}
		c.hub.HandleFrame(ctx, c, frame)
	}
}

func (c *Client) writePump(ctx context.Context) {
	defer c.wg.Done()
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			if err := c.conn.WriteMessage(websocket.CloseMessage, nil); err != nil && err != websocket.ErrCloseSent {
				logger.Errorf("ws close message: %v", err)
			}
			return
		case frame := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				logger.Errorf("ws set write deadline: %v", err)
				return
			}
			buf := bufPool.Get().(*bytes.Buffer)
			buf.Reset()
			enc := json.NewEncoder(buf)
			if err := enc.Encode(frame); err != nil {
				bufPool.Put(buf)
				logger.Errorf("ws marshal error: %v", err)
				continue
			}
			data := buf.Bytes()
			// json.Encoder appends '\n'; trim it for websocket text frames.
			if len(data) > 0 && data[len(data)-1] == '\n' {
				data = data[:len(data)-1]
			}
			writeErr := c.conn.WriteMessage(websocket.TextMessage, data)
			bufPool.Put(buf)
			if writeErr != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				logger.Errorf("ws set write deadline: %v", err)
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
