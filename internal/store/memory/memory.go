// Package memory implements store.Store fully in process: mutex-guarded row
// slices plus realtime brokers per table. It backs tests and -dev runs the
// same way no external database is needed there.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flamechat/internal/model"
	"github.com/flamechat/internal/realtime"
	"github.com/flamechat/internal/store"
)

type Store struct {
	mu       sync.RWMutex
	messages []model.Message
	rooms    []model.Room
	polls    []model.Poll
	votes    []model.PollVote

	msgBroker  *realtime.Broker[model.Message]
	roomBroker *realtime.Broker[model.Room]
	voteBroker *realtime.Broker[model.PollVote]

	presenceMu sync.Mutex
	presence   map[string]*presenceScope
}

func New() *Store {
	return &Store{
		msgBroker:  realtime.NewBroker[model.Message](),
		roomBroker: realtime.NewBroker[model.Room](),
		voteBroker: realtime.NewBroker[model.PollVote](),
		presence:   make(map[string]*presenceScope),
	}
}

func (s *Store) Close() error {
	s.msgBroker.Close()
	s.roomBroker.Close()
	s.voteBroker.Close()
	s.presenceMu.Lock()
	for _, ps := range s.presence {
		ps.broker.Close()
	}
	s.presence = make(map[string]*presenceScope)
	s.presenceMu.Unlock()
	return nil
}

func fillRow(id *string, createdAt *time.Time) {
	if *id == "" {
		*id = uuid.New().String()
	}
	if createdAt.IsZero() {
		*createdAt = time.Now().UTC()
	}
}

// --- messages ---

func (s *Store) ListMessages(ctx context.Context, scope store.Scope, limit int) ([]model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Message, 0, limit)
	for _, m := range s.messages {
		if m.RoomID != scope.RoomID {
			continue
		}
		out = append(out, m)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *Store) GetMessage(ctx context.Context, id string) (*model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := range s.messages {
		if s.messages[i].ID == id {
			m := s.messages[i]
			return &m, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) InsertMessage(ctx context.Context, m *model.Message) error {
	s.mu.Lock()
	fillRow(&m.ID, &m.CreatedAt)
	s.messages = append(s.messages, *m)
	sort.SliceStable(s.messages, func(i, j int) bool {
		return s.messages[i].Before(&s.messages[j])
	})
	row := *m
	s.mu.Unlock()

	s.msgBroker.Publish(realtime.Event[model.Message]{Kind: realtime.KindInsert, Row: row})
	return nil
}

// --- rooms ---

func (s *Store) ListRooms(ctx context.Context, limit int) ([]model.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Room, 0, limit)
	for _, r := range s.rooms {
		out = append(out, r)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *Store) GetRoom(ctx context.Context, id string) (*model.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := range s.rooms {
		if s.rooms[i].ID == id {
			r := s.rooms[i]
			return &r, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) GetRoomByCode(ctx context.Context, code string) (*model.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := range s.rooms {
		if s.rooms[i].Code == code {
			r := s.rooms[i]
			return &r, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) InsertRoom(ctx context.Context, r *model.Room) error {
	s.mu.Lock()
	fillRow(&r.ID, &r.CreatedAt)
	s.rooms = append(s.rooms, *r)
	row := *r
	s.mu.Unlock()

	s.roomBroker.Publish(realtime.Event[model.Room]{Kind: realtime.KindInsert, Row: row})
	return nil
}

// --- polls ---

func (s *Store) GetPoll(ctx context.Context, id string) (*model.Poll, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := range s.polls {
		if s.polls[i].ID == id {
			p := s.polls[i]
			return &p, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) InsertPoll(ctx context.Context, p *model.Poll) error {
	s.mu.Lock()
	fillRow(&p.ID, &p.CreatedAt)
	s.polls = append(s.polls, *p)
	s.mu.Unlock()
	return nil
}

// --- votes ---

func (s *Store) ListVotes(ctx context.Context, pollID string) ([]model.PollVote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.PollVote, 0, 8)
	for _, v := range s.votes {
		if v.PollID == pollID {
			out = append(out, v)
		}
	}
	return out, nil
}

func (s *Store) UpsertVote(ctx context.Context, v *model.PollVote) (*model.PollVote, error) {
	s.mu.Lock()
	for i := range s.votes {
		if s.votes[i].PollID == v.PollID && s.votes[i].Username == v.Username {
			// Conflict on (poll_id, username): switch the vote in place,
			// keeping the row identity.
			s.votes[i].OptionID = v.OptionID
			row := s.votes[i]
			s.mu.Unlock()
			s.voteBroker.Publish(realtime.Event[model.PollVote]{Kind: realtime.KindUpdate, Row: row})
			return &row, nil
		}
	}
	fillRow(&v.ID, &v.CreatedAt)
	s.votes = append(s.votes, *v)
	row := *v
	s.mu.Unlock()

	s.voteBroker.Publish(realtime.Event[model.PollVote]{Kind: realtime.KindInsert, Row: row})
	return &row, nil
}

func (s *Store) DeleteVote(ctx context.Context, pollID, username string) error {
	s.mu.Lock()
	for i := range s.votes {
		if s.votes[i].PollID == pollID && s.votes[i].Username == username {
			row := s.votes[i]
			s.votes = append(s.votes[:i], s.votes[i+1:]...)
			s.mu.Unlock()
			s.voteBroker.Publish(realtime.Event[model.PollVote]{Kind: realtime.KindDelete, Row: row})
			return nil
		}
	}
	s.mu.Unlock()
	return nil
}

// --- feeds ---

func (s *Store) SubscribeMessages(scope store.Scope, h realtime.Handler[model.Message]) (realtime.Subscription, error) {
	roomID := scope.RoomID
	return s.msgBroker.Subscribe(func(m model.Message) bool { return m.RoomID == roomID }, h), nil
}

func (s *Store) SubscribeRooms(h realtime.Handler[model.Room]) (realtime.Subscription, error) {
	return s.roomBroker.Subscribe(nil, h), nil
}

func (s *Store) SubscribeVotes(pollID string, h realtime.Handler[model.PollVote]) (realtime.Subscription, error) {
	return s.voteBroker.Subscribe(func(v model.PollVote) bool { return v.PollID == pollID }, h), nil
}

var _ store.Store = (*Store)(nil)
