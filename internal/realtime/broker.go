package realtime

import (
	"sync"

	"github.com/flamechat/internal/logger"
)

// eventBufSize is the per-subscription event buffer. A subscriber that falls
// this far behind is disconnected instead of blocking the publisher, the same
// backpressure rule the gateway applies to slow websocket clients.
const eventBufSize = 256

// Broker fans row events out to subscribers. Each subscription gets its own
// delivery goroutine, so handlers for one subscription run serialized and in
// publish order while handlers across subscriptions may interleave.
type Broker[T any] struct {
	mu     sync.RWMutex
	subs   map[uint64]*brokerSub[T]
	nextID uint64
	closed bool
}

type brokerSub[T any] struct {
	filter       Filter[T]
	handler      Handler[T]
	events       chan Event[T]
	done         chan struct{}
	disconnected chan struct{}
	detach       func()
	stopOnce     sync.Once
	dropOnce     sync.Once
}

func NewBroker[T any]() *Broker[T] {
	return &Broker[T]{subs: make(map[uint64]*brokerSub[T])}
}

// Subscribe registers a handler for rows matching filter and starts its
// delivery goroutine.
func (b *Broker[T]) Subscribe(filter Filter[T], h Handler[T]) Subscription {
	s := &brokerSub[T]{
		filter:       filter,
		handler:      h,
		events:       make(chan Event[T], eventBufSize),
		done:         make(chan struct{}),
		disconnected: make(chan struct{}),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		s.markDisconnected()
		s.stop()
		return s
	}
	id := b.nextID
	b.nextID++
	s.detach = func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
	b.subs[id] = s
	b.mu.Unlock()

	go func() {
		for {
			// Checked first so no further events are delivered after
			// Unsubscribe, even if the buffer still holds some.
			select {
			case <-s.done:
				return
			default:
			}
			select {
			case <-s.done:
				return
			case ev := <-s.events:
				s.handler(ev)
			}
		}
	}()

	return s
}

// Publish delivers ev to every matching subscription. Never blocks: a
// subscriber whose buffer is full is marked disconnected and dropped.
func (b *Broker[T]) Publish(ev Event[T]) {
	b.mu.RLock()
	targets := make([]*brokerSub[T], 0, len(b.subs))
	for _, s := range b.subs {
		if s.filter == nil || s.filter(ev.Row) {
			targets = append(targets, s)
		}
	}
	b.mu.RUnlock()

	for _, s := range targets {
		select {
		case s.events <- ev:
		case <-s.done:
		default:
			logger.Errorf("realtime: subscriber buffer full, disconnecting")
			s.markDisconnected()
			s.stop()
		}
	}
}

// Disconnect signals transport loss to every live subscription without
// removing it; handles stay valid so callers can observe Disconnected and
// tear down in their own order.
func (b *Broker[T]) Disconnect() {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs {
		s.markDisconnected()
	}
}

// Close disconnects and stops every subscription. Publish after Close is a
// no-op.
func (b *Broker[T]) Close() {
	b.mu.Lock()
	subs := b.subs
	b.subs = make(map[uint64]*brokerSub[T])
	b.closed = true
	b.mu.Unlock()

	for _, s := range subs {
		s.markDisconnected()
		s.stop()
	}
}

func (s *brokerSub[T]) stop() {
	s.stopOnce.Do(func() {
		close(s.done)
		if s.detach != nil {
			s.detach()
		}
	})
}

func (s *brokerSub[T]) markDisconnected() {
	s.dropOnce.Do(func() { close(s.disconnected) })
}

func (s *brokerSub[T]) Unsubscribe() { s.stop() }

func (s *brokerSub[T]) Disconnected() <-chan struct{} { return s.disconnected }
