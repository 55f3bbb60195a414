package gateway

import (
	"sync"

	"github.com/flamechat/internal/model"
)

// presenceRegistry is each instance's view of who is tracked on which
// presence topic. It is fed exclusively from the bus, so every instance
// converges on the same record set regardless of which instance a connection
// lives on.
type presenceRegistry struct {
	mu     sync.Mutex
	topics map[string]*topicRecords
}

type topicRecords struct {
	order []string // conn ids, arrival order
	recs  map[string]model.PresenceRecord
}

func newPresenceRegistry() *presenceRegistry {
	return &presenceRegistry{topics: make(map[string]*topicRecords)}
}

// track adds or refreshes a record, keyed by connection id.
func (p *presenceRegistry) track(topic string, rec model.PresenceRecord) {
	if rec.ConnID == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	tr, ok := p.topics[topic]
	if !ok {
		tr = &topicRecords{recs: make(map[string]model.PresenceRecord)}
		p.topics[topic] = tr
	}
	if _, exists := tr.recs[rec.ConnID]; !exists {
		tr.order = append(tr.order, rec.ConnID)
	}
	tr.recs[rec.ConnID] = rec
}

// untrack removes one connection's record.
func (p *presenceRegistry) untrack(topic, connID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	tr, ok := p.topics[topic]
	if !ok {
		return
	}
	if _, exists := tr.recs[connID]; !exists {
		return
	}
	delete(tr.recs, connID)
	for i, id := range tr.order {
		if id == connID {
			tr.order = append(tr.order[:i], tr.order[i+1:]...)
			break
		}
	}
	if len(tr.recs) == 0 {
		delete(p.topics, topic)
	}
}

// snapshot returns the full record set of one topic in arrival order.
func (p *presenceRegistry) snapshot(topic string) []model.PresenceRecord {
	p.mu.Lock()
	defer p.mu.Unlock()
	tr, ok := p.topics[topic]
	if !ok {
		return []model.PresenceRecord{}
	}
	out := make([]model.PresenceRecord, 0, len(tr.order))
	for _, id := range tr.order {
		out = append(out, tr.recs[id])
	}
	return out
}
