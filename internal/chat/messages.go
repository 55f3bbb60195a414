// Package chat is the client-side synchronization engine: it keeps a local
// view of messages, room presence, and poll state consistent with the backing
// store through change-feed subscriptions, and applies optimistic local
// mutations with rollback on failure.
package chat

import (
	"context"
	"sync"
	"time"

	"github.com/flamechat/internal/logger"
	"github.com/flamechat/internal/model"
	"github.com/flamechat/internal/realtime"
	"github.com/flamechat/internal/reply"
	"github.com/flamechat/internal/store"
)

// Draft is a local message about to be sent.
type Draft struct {
	Username  string
	Content   string
	Type      model.MessageType
	FileURL   string
	FileName  string
	PollID    string
	ReplyToID string // when set, the content is wrapped with the reply marker
}

// MessageStore maintains the ordered message sequence for one scope. The
// remote store is the system of record; the local slice is a derived view
// merged from the initial snapshot and change-feed inserts.
type MessageStore struct {
	st    store.Store
	scope store.Scope

	mu   sync.Mutex
	msgs []model.Message
	ids  map[string]struct{}
	sub  realtime.Subscription
	gen  int

	onUpdate func()
}

func NewMessageStore(st store.Store, scope store.Scope) *MessageStore {
	return &MessageStore{
		st:    st,
		scope: scope,
		ids:   make(map[string]struct{}),
	}
}

// SetOnUpdate registers a callback fired after every local sequence change.
// Must be called before Open.
func (s *MessageStore) SetOnUpdate(fn func()) { s.onUpdate = fn }

// Open subscribes to the scope's message feed and then loads the initial
// snapshot. Subscribing first means an insert committed during the snapshot
// query is not missed; the ordered, id-deduplicated merge makes the overlap
// harmless whichever side delivers a row first.
func (s *MessageStore) Open(ctx context.Context, limit int) error {
	s.mu.Lock()
	gen := s.gen
	s.mu.Unlock()

	sub, err := s.st.SubscribeMessages(s.scope, func(ev realtime.Event[model.Message]) {
		s.onChangeEvent(gen, ev)
	})
	if err != nil {
		return &LoadError{Err: err}
	}
	s.mu.Lock()
	if gen != s.gen {
		// Closed while subscribing.
		s.mu.Unlock()
		sub.Unsubscribe()
		return nil
	}
	s.sub = sub
	s.mu.Unlock()

	return s.LoadInitial(ctx, limit)
}

// LoadInitial fetches the ordered snapshot (created_at ascending, capped at
// limit) and replaces the local sequence with it, keeping any rows that
// already arrived over the feed but are missing from the snapshot. On failure
// the existing sequence is retained and a LoadError is returned.
func (s *MessageStore) LoadInitial(ctx context.Context, limit int) error {
	defer logger.DeferLogDuration("messages.LoadInitial", time.Now())()
	snapshot, err := s.st.ListMessages(ctx, s.scope, limit)
	if err != nil {
		return &LoadError{Err: err}
	}

	s.mu.Lock()
	prior := s.msgs
	s.msgs = make([]model.Message, 0, len(snapshot)+4)
	s.ids = make(map[string]struct{}, len(snapshot)+4)
	for _, m := range snapshot {
		s.insertLocked(m)
	}
	for _, m := range prior {
		s.insertLocked(m)
	}
	s.mu.Unlock()

	s.notify()
	return nil
}

// onChangeEvent merges one feed event. Only inserts mutate the sequence:
// messages are immutable once created. Duplicate delivery of the same insert
// leaves exactly one copy.
func (s *MessageStore) onChangeEvent(gen int, ev realtime.Event[model.Message]) {
	if ev.Kind != realtime.KindInsert {
		return
	}
	s.mu.Lock()
	if gen != s.gen {
		// Event from a torn-down subscription.
		s.mu.Unlock()
		return
	}
	changed := s.insertLocked(ev.Row)
	s.mu.Unlock()
	if changed {
		s.notify()
	}
}

// insertLocked places m at its ordered position (created_at asc, ties by id),
// skipping ids already present. Must be called with s.mu held.
func (s *MessageStore) insertLocked(m model.Message) bool {
	if _, dup := s.ids[m.ID]; dup {
		return false
	}
	s.ids[m.ID] = struct{}{}
	// Almost always an append; walk back only for out-of-order arrivals.
	i := len(s.msgs)
	for i > 0 && m.Before(&s.msgs[i-1]) {
		i--
	}
	s.msgs = append(s.msgs, model.Message{})
	copy(s.msgs[i+1:], s.msgs[i:])
	s.msgs[i] = m
	return true
}

// Send constructs a message from the draft and inserts it remotely. The local
// sequence is not touched: the sender's own message is added when its insert
// event comes back over the feed, so self-sent and remote messages go through
// the single dedup path. On failure nothing is inserted and the draft can be
// re-submitted.
func (s *MessageStore) Send(ctx context.Context, d Draft) error {
	defer logger.DeferLogDuration("messages.Send", time.Now())()
	content := d.Content
	if d.ReplyToID != "" {
		content = reply.Encode(d.ReplyToID, content)
	}
	msgType := d.Type
	if msgType == "" {
		msgType = model.MessageTypeText
	}
	m := &model.Message{
		RoomID:   s.scope.RoomID,
		Username: d.Username,
		Content:  content,
		Type:     msgType,
		FileURL:  d.FileURL,
		FileName: d.FileName,
		PollID:   d.PollID,
	}
	if err := s.st.InsertMessage(ctx, m); err != nil {
		return &SendError{Err: err}
	}
	return nil
}

// Resolve fetches the message a reply refers to, for preview rendering.
func (s *MessageStore) Resolve(ctx context.Context, id string) (*model.Message, error) {
	return s.st.GetMessage(ctx, id)
}

// Snapshot returns a copy of the current ordered sequence.
func (s *MessageStore) Snapshot() []model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Message(nil), s.msgs...)
}

// Disconnected reports transport loss on the underlying feed subscription.
// Returns nil before Open.
func (s *MessageStore) Disconnected() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sub == nil {
		return nil
	}
	return s.sub.Disconnected()
}

// Close unsubscribes from the feed. Late callbacks from the old subscription
// are dropped by the generation check.
func (s *MessageStore) Close() {
	s.mu.Lock()
	s.gen++
	sub := s.sub
	s.sub = nil
	s.mu.Unlock()
	if sub != nil {
		sub.Unsubscribe()
	}
}

func (s *MessageStore) notify() {
	if s.onUpdate != nil {
		s.onUpdate()
	}
}

// Stats are the derived per-scope counters shown in the room sidebar.
type Stats struct {
	Polls  int
	Photos int
	Docs   int
}

// Stats counts poll, image and document messages in the local sequence.
func (s *MessageStore) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	var st Stats
	for _, m := range s.msgs {
		switch m.Type {
		case model.MessageTypePoll:
			st.Polls++
		case model.MessageTypeImage:
			st.Photos++
		case model.MessageTypeDocument:
			st.Docs++
		}
	}
	return st
}

// FilesBy lists the image and document messages sent by username, in feed
// order.
func (s *MessageStore) FilesBy(username string) []model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Message
	for _, m := range s.msgs {
		if m.Username != username {
			continue
		}
		if m.Type == model.MessageTypeImage || m.Type == model.MessageTypeDocument {
			out = append(out, m)
		}
	}
	return out
}
