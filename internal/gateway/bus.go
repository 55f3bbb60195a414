// Package gateway is the reference store server: an HTTP row API, a websocket
// realtime endpoint, and a redis bus fanning change and presence events out
// across gateway instances.
package gateway

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/flamechat/internal/logger"
	"github.com/flamechat/internal/wire"
)

// busChannel is the redis pub/sub channel shared by all gateway instances.
const busChannel = "flamechat:changes"

// Bus distributes frames to every gateway instance. With a redis client it
// goes through pub/sub; without one (-dev, single instance) frames loop back
// in-process. Either way a published frame is applied only when it comes back
// through the receive path, so single- and multi-instance deployments run the
// same code.
type Bus struct {
	rdb     *redis.Client
	handler func(wire.BusFrame)

	mu       sync.Mutex
	loopback chan wire.BusFrame
	closed   bool
}

// NewBus creates a bus over rdb; rdb may be nil for in-process loopback.
func NewBus(rdb *redis.Client) *Bus {
	return &Bus{
		rdb:      rdb,
		loopback: make(chan wire.BusFrame, 1024),
	}
}

// Run delivers frames to handler until ctx is cancelled. Must be called once
// before any Publish.
func (b *Bus) Run(ctx context.Context, handler func(wire.BusFrame)) {
	b.handler = handler
	if b.rdb == nil {
		b.runLoopback(ctx)
		return
	}

	sub := b.rdb.Subscribe(ctx, busChannel)
	defer sub.Close()
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var frame wire.BusFrame
			if err := json.Unmarshal([]byte(msg.Payload), &frame); err != nil {
				logger.Errorf("bus: bad frame: %v", err)
				continue
			}
			b.handler(frame)
		}
	}
}

func (b *Bus) runLoopback(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			b.mu.Lock()
			b.closed = true
			b.mu.Unlock()
			return
		case frame := <-b.loopback:
			b.handler(frame)
		}
	}
}

// Publish sends one frame to all instances, this one included.
func (b *Bus) Publish(ctx context.Context, frame wire.BusFrame) error {
	if b.rdb != nil {
		raw, err := json.Marshal(frame)
		if err != nil {
			return err
		}
		return b.rdb.Publish(ctx, busChannel, raw).Err()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	select {
	case b.loopback <- frame:
	default:
		logger.Errorf("bus: loopback full, dropping %s frame on %s", frame.Type, frame.Topic)
	}
	return nil
}
