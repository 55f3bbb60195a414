package gateway

import (
	"context"
	"sync"

	"github.com/flamechat/internal/logger"
	"github.com/flamechat/internal/wire"
)

// Hub owns the websocket clients of one gateway instance. It routes bus
// frames to the clients subscribed to their topic and turns client presence
// ops into bus frames.
type Hub struct {
	mu       sync.RWMutex
	clients  map[*Client]struct{}
	maxConns int

	bus      *Bus
	presence *presenceRegistry

	register   chan *Client
	unregister chan *Client
	done       chan struct{}
}

func NewHub(bus *Bus, maxConns int) *Hub {
	if maxConns <= 0 {
		maxConns = 10000
	}
	return &Hub{
		clients:    make(map[*Client]struct{}),
		maxConns:   maxConns,
		bus:        bus,
		presence:   newPresenceRegistry(),
		register:   make(chan *Client, 64),
		unregister: make(chan *Client, 64),
		done:       make(chan struct{}),
	}
}

// Run processes registration until ctx is cancelled, then closes every
// client. The bus receive loop runs here too, so frame application is
// single-threaded per instance.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	var busWg sync.WaitGroup
	busWg.Add(1)
	go func() {
		defer busWg.Done()
		h.bus.Run(ctx, h.applyBusFrame)
	}()

	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			busWg.Wait()
			return
		case c := <-h.register:
			h.addClient(c)
		case c := <-h.unregister:
			h.removeClient(c)
		}
	}
}

func (h *Hub) Register(c *Client)   { h.register <- c }
func (h *Hub) Unregister(c *Client) { h.unregister <- c }

func (h *Hub) shutdown() {
	// Collect under the lock; close outside it (network I/O).
	h.mu.Lock()
	all := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		all = append(all, c)
	}
	h.clients = make(map[*Client]struct{})
	h.mu.Unlock()

	for _, c := range all {
		c.Close()
	}
	for _, c := range all {
		c.Wait()
	}
}

func (h *Hub) addClient(c *Client) {
	h.mu.Lock()
	if len(h.clients) >= h.maxConns {
		h.mu.Unlock()
		logger.Errorf("ws connection limit reached (%d), rejecting", h.maxConns)
		c.Close()
		return
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
	}
	h.mu.Unlock()
	if !ok {
		return
	}
	c.Close()

	// Withdraw everything the connection was still tracking, so other
	// clients see the departure on the next sync instead of never.
	for topic, connIDs := range c.takeTracked() {
		for connID := range connIDs {
			h.publishUntrack(topic, connID)
		}
	}
}

// HandleFrame processes one client request.
func (h *Hub) HandleFrame(ctx context.Context, c *Client, frame wire.ClientFrame) {
	switch frame.Op {
	case wire.OpSubscribe:
		c.subscribe(frame.Topic)
		// A presence subscriber gets the current set immediately; further
		// sets arrive as sync frames on every change.
		if isPresenceTopic(frame.Topic) {
			c.trySend(wire.ServerFrame{
				Type:    wire.FrameSync,
				Topic:   frame.Topic,
				Records: h.presence.snapshot(frame.Topic),
			})
		}
	case wire.OpUnsubscribe:
		c.unsubscribe(frame.Topic)
	case wire.OpTrack:
		if frame.Record == nil || frame.Record.ConnID == "" {
			logger.Errorf("ws track without record on %s", frame.Topic)
			return
		}
		c.addTracked(frame.Topic, frame.Record.ConnID)
		if err := h.bus.Publish(ctx, wire.BusFrame{
			Type:   wire.OpTrack,
			Topic:  frame.Topic,
			Record: frame.Record,
		}); err != nil {
			logger.Errorf("bus publish track: %v", err)
		}
	case wire.OpUntrack:
		c.removeTracked(frame.Topic, frame.ConnID)
		h.publishUntrack(frame.Topic, frame.ConnID)
	default:
		logger.Errorf("ws unknown op %q", frame.Op)
	}
}

func (h *Hub) publishUntrack(topic, connID string) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := h.bus.Publish(ctx, wire.BusFrame{
		Type:   wire.OpUntrack,
		Topic:  topic,
		ConnID: connID,
	}); err != nil {
		logger.Errorf("bus publish untrack: %v", err)
	}
}

// applyBusFrame integrates one bus frame: change frames go straight to the
// topic's subscribers, presence ops update the registry and fan the resulting
// set out as a sync frame.
func (h *Hub) applyBusFrame(frame wire.BusFrame) {
	switch frame.Type {
	case wire.FrameChange:
		h.broadcast(wire.ServerFrame{
			Type:  wire.FrameChange,
			Topic: frame.Topic,
			Kind:  frame.Kind,
			Row:   frame.Row,
		})
	case wire.OpTrack:
		if frame.Record == nil {
			return
		}
		h.presence.track(frame.Topic, *frame.Record)
		h.broadcastSync(frame.Topic)
	case wire.OpUntrack:
		h.presence.untrack(frame.Topic, frame.ConnID)
		h.broadcastSync(frame.Topic)
	}
}

func (h *Hub) broadcastSync(topic string) {
	h.broadcast(wire.ServerFrame{
		Type:    wire.FrameSync,
		Topic:   topic,
		Records: h.presence.snapshot(topic),
	})
}

func (h *Hub) broadcast(frame wire.ServerFrame) {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		if c.subscribed(frame.Topic) {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if !c.trySend(frame) {
			// Slow consumer: drop the connection rather than block the hub.
			logger.Errorf("ws send buffer full, closing slow client")
			select {
			case h.unregister <- c:
			default:
				c.Close()
			}
		}
	}
}

func isPresenceTopic(topic string) bool {
	return len(topic) > 9 && topic[:9] == "presence:"
}
