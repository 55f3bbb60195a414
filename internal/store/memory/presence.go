package memory

import (
	"context"
	"sync"

	"github.com/flamechat/internal/model"
	"github.com/flamechat/internal/realtime"
	"github.com/flamechat/internal/store"
)

// presenceScope holds the live records of one scope, shared by every channel
// handle opened on it. Sync sets are published through a broker so each
// subscriber sees them serialized and in order.
type presenceScope struct {
	mu      sync.Mutex
	records map[string]model.PresenceRecord // keyed by conn id
	order   []string                        // track order, for stable sync sets
	broker  *realtime.Broker[[]model.PresenceRecord]
}

func (s *Store) scopeState(scope store.Scope) *presenceScope {
	s.presenceMu.Lock()
	defer s.presenceMu.Unlock()
	ps, ok := s.presence[scope.String()]
	if !ok {
		ps = &presenceScope{
			records: make(map[string]model.PresenceRecord),
			broker:  realtime.NewBroker[[]model.PresenceRecord](),
		}
		s.presence[scope.String()] = ps
	}
	return ps
}

// Presence returns a channel handle for the scope. Each handle tracks at most
// one connection record; the underlying record set is shared across handles.
func (s *Store) Presence(scope store.Scope) store.PresenceChannel {
	return &presenceChannel{state: s.scopeState(scope)}
}

type presenceChannel struct {
	state  *presenceScope
	mu     sync.Mutex
	connID string
}

func (c *presenceChannel) Track(ctx context.Context, rec model.PresenceRecord) error {
	c.mu.Lock()
	prev := c.connID
	c.connID = rec.ConnID
	c.mu.Unlock()

	st := c.state
	st.mu.Lock()
	if prev != "" && prev != rec.ConnID {
		st.remove(prev)
	}
	if _, exists := st.records[rec.ConnID]; !exists {
		st.order = append(st.order, rec.ConnID)
	}
	st.records[rec.ConnID] = rec
	set := st.snapshot()
	st.mu.Unlock()

	st.broker.Publish(realtime.Event[[]model.PresenceRecord]{Kind: realtime.KindUpdate, Row: set})
	return nil
}

func (c *presenceChannel) Untrack(ctx context.Context) error {
	c.mu.Lock()
	id := c.connID
	c.connID = ""
	c.mu.Unlock()
	if id == "" {
		return nil
	}

	st := c.state
	st.mu.Lock()
	st.remove(id)
	set := st.snapshot()
	st.mu.Unlock()

	st.broker.Publish(realtime.Event[[]model.PresenceRecord]{Kind: realtime.KindUpdate, Row: set})
	return nil
}

func (c *presenceChannel) OnSync(h func(records []model.PresenceRecord)) (realtime.Subscription, error) {
	return c.state.broker.Subscribe(nil, func(ev realtime.Event[[]model.PresenceRecord]) {
		h(ev.Row)
	}), nil
}

// remove must be called with st.mu held.
func (st *presenceScope) remove(connID string) {
	delete(st.records, connID)
	for i, id := range st.order {
		if id == connID {
			st.order = append(st.order[:i], st.order[i+1:]...)
			break
		}
	}
}

// snapshot must be called with st.mu held.
func (st *presenceScope) snapshot() []model.PresenceRecord {
	out := make([]model.PresenceRecord, 0, len(st.order))
	for _, id := range st.order {
		if rec, ok := st.records[id]; ok {
			out = append(out, rec)
		}
	}
	return out
}
