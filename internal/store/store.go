// Package store defines the backing-store contract the sync engine is built
// against: row storage with equality filters and ordering, a filtered
// change-feed per table, a presence channel per scope, and a conflict-keyed
// vote upsert. Implementations: memory.Store (tests and -dev runs),
// postgres repositories on the gateway side, remote.Store for clients.
package store

import (
	"context"
	"errors"

	"github.com/flamechat/internal/model"
	"github.com/flamechat/internal/realtime"
)

// ErrNotFound is returned by single-row lookups with no matching row.
var ErrNotFound = errors.New("not found")

// Scope is the logical partition messages and presence are tracked over:
// the global feed or one room.
type Scope struct {
	RoomID string // empty for the global feed
}

// GlobalScope is the lobby-wide feed.
var GlobalScope = Scope{}

// RoomScope scopes to a single room.
func RoomScope(roomID string) Scope { return Scope{RoomID: roomID} }

func (s Scope) IsGlobal() bool { return s.RoomID == "" }

// String renames the scope for logs and presence channel names.
func (s Scope) String() string {
	if s.IsGlobal() {
		return "global"
	}
	return "room-" + s.RoomID
}

// PresenceChannel tracks which connections are present in one scope.
// Track registers this client's record; Untrack withdraws it. Only sync
// events are authoritative for the roster: each delivers the full current
// record set for the scope.
type PresenceChannel interface {
	Track(ctx context.Context, rec model.PresenceRecord) error
	Untrack(ctx context.Context) error
	OnSync(h func(records []model.PresenceRecord)) (realtime.Subscription, error)
}

// Store is the system of record. Rows receive a store-assigned uuid id and
// created_at timestamp at insert when unset. List results are ordered by
// created_at ascending.
type Store interface {
	// Messages.
	ListMessages(ctx context.Context, scope Scope, limit int) ([]model.Message, error)
	GetMessage(ctx context.Context, id string) (*model.Message, error)
	InsertMessage(ctx context.Context, m *model.Message) error

	// Rooms.
	ListRooms(ctx context.Context, limit int) ([]model.Room, error)
	GetRoom(ctx context.Context, id string) (*model.Room, error)
	GetRoomByCode(ctx context.Context, code string) (*model.Room, error)
	InsertRoom(ctx context.Context, r *model.Room) error

	// Polls.
	GetPoll(ctx context.Context, id string) (*model.Poll, error)
	InsertPoll(ctx context.Context, p *model.Poll) error

	// Votes. UpsertVote inserts or, when a row for (poll_id, username)
	// exists, updates that row in place and returns the resulting row.
	ListVotes(ctx context.Context, pollID string) ([]model.PollVote, error)
	UpsertVote(ctx context.Context, v *model.PollVote) (*model.PollVote, error)
	DeleteVote(ctx context.Context, pollID, username string) error

	// Change feeds. Handlers within one subscription are invoked one at a
	// time; duplicate re-delivery after reconnect is possible and must be
	// tolerated by consumers.
	SubscribeMessages(scope Scope, h realtime.Handler[model.Message]) (realtime.Subscription, error)
	SubscribeRooms(h realtime.Handler[model.Room]) (realtime.Subscription, error)
	SubscribeVotes(pollID string, h realtime.Handler[model.PollVote]) (realtime.Subscription, error)

	// Presence returns the presence channel for a scope.
	Presence(scope Scope) PresenceChannel

	Close() error
}
