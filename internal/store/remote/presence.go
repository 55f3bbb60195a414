package remote

import (
	"context"
	"sync"

	"github.com/flamechat/internal/model"
	"github.com/flamechat/internal/realtime"
	"github.com/flamechat/internal/store"
	"github.com/flamechat/internal/wire"
)

// presenceChannel is one client-side handle on a scope's presence topic. It
// tracks at most one record at a time, keyed by the record's connection id.
type presenceChannel struct {
	store *Store
	topic string

	mu     sync.Mutex
	connID string
}

func (s *Store) Presence(scope store.Scope) store.PresenceChannel {
	return &presenceChannel{store: s, topic: wire.PresenceTopic(scope.String())}
}

// presenceBroker returns the per-topic broker, creating it on first use.
func (s *Store) presenceBroker(topic string) *realtime.Broker[[]model.PresenceRecord] {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.presence[topic]
	if !ok {
		b = realtime.NewBroker[[]model.PresenceRecord]()
		s.presence[topic] = b
	}
	return b
}

func (p *presenceChannel) Track(ctx context.Context, rec model.PresenceRecord) error {
	p.mu.Lock()
	p.connID = rec.ConnID
	p.mu.Unlock()
	r := rec
	return p.store.sendFrame(wire.ClientFrame{Op: wire.OpTrack, Topic: p.topic, Record: &r})
}

func (p *presenceChannel) Untrack(ctx context.Context) error {
	p.mu.Lock()
	connID := p.connID
	p.connID = ""
	p.mu.Unlock()
	if connID == "" {
		return nil
	}
	return p.store.sendFrame(wire.ClientFrame{Op: wire.OpUntrack, Topic: p.topic, ConnID: connID})
}

func (p *presenceChannel) OnSync(h func(records []model.PresenceRecord)) (realtime.Subscription, error) {
	if err := p.store.acquireTopic(p.topic); err != nil {
		return nil, err
	}
	broker := p.store.presenceBroker(p.topic)
	sub := broker.Subscribe(nil, func(ev realtime.Event[[]model.PresenceRecord]) {
		h(ev.Row)
	})
	return &topicSub{Subscription: sub, store: p.store, topic: p.topic}, nil
}
