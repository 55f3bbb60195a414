package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/flamechat/internal/logger"
	"github.com/flamechat/internal/model"
	"github.com/flamechat/internal/realtime"
	"github.com/flamechat/internal/roomcode"
	"github.com/flamechat/internal/store"
)

// roomListLimit caps the lobby room list.
const roomListLimit = 50

// ErrBadRoomCode rejects join attempts with a malformed or unknown code, and
// codes that name a different room than the one being joined.
var ErrBadRoomCode = errors.New("invalid room code")

// RoomDirectory maintains the lobby's room list from the initial snapshot and
// the rooms insert feed.
type RoomDirectory struct {
	st store.Store

	mu    sync.Mutex
	rooms []model.Room
	ids   map[string]struct{}
	sub   realtime.Subscription
	gen   int

	onUpdate func()
}

func NewRoomDirectory(st store.Store) *RoomDirectory {
	return &RoomDirectory{st: st, ids: make(map[string]struct{})}
}

// SetOnUpdate registers a callback fired after every list change. Must be
// called before Open.
func (d *RoomDirectory) SetOnUpdate(fn func()) { d.onUpdate = fn }

// Open subscribes to the rooms feed and loads the initial list. As with
// messages, subscribing first and deduplicating by id closes the window
// between snapshot and feed.
func (d *RoomDirectory) Open(ctx context.Context) error {
	d.mu.Lock()
	gen := d.gen
	d.mu.Unlock()

	sub, err := d.st.SubscribeRooms(func(ev realtime.Event[model.Room]) {
		if ev.Kind != realtime.KindInsert {
			return
		}
		d.mu.Lock()
		if gen != d.gen {
			d.mu.Unlock()
			return
		}
		changed := d.insertLocked(ev.Row)
		d.mu.Unlock()
		if changed {
			d.notify()
		}
	})
	if err != nil {
		return &LoadError{Err: err}
	}
	d.mu.Lock()
	if gen != d.gen {
		d.mu.Unlock()
		sub.Unsubscribe()
		return nil
	}
	d.sub = sub
	d.mu.Unlock()

	return d.LoadInitial(ctx)
}

// LoadInitial fetches the room list, capped at roomListLimit, and merges it
// with rooms already delivered over the feed.
func (d *RoomDirectory) LoadInitial(ctx context.Context) error {
	defer logger.DeferLogDuration("rooms.LoadInitial", time.Now())()
	snapshot, err := d.st.ListRooms(ctx, roomListLimit)
	if err != nil {
		return &LoadError{Err: err}
	}

	d.mu.Lock()
	prior := d.rooms
	d.rooms = make([]model.Room, 0, len(snapshot)+2)
	d.ids = make(map[string]struct{}, len(snapshot)+2)
	for _, r := range snapshot {
		d.insertLocked(r)
	}
	for _, r := range prior {
		d.insertLocked(r)
	}
	d.mu.Unlock()

	d.notify()
	return nil
}

// insertLocked appends r in created_at order, skipping known ids.
func (d *RoomDirectory) insertLocked(r model.Room) bool {
	if _, dup := d.ids[r.ID]; dup {
		return false
	}
	d.ids[r.ID] = struct{}{}
	i := len(d.rooms)
	for i > 0 && roomBefore(&r, &d.rooms[i-1]) {
		i--
	}
	d.rooms = append(d.rooms, model.Room{})
	copy(d.rooms[i+1:], d.rooms[i:])
	d.rooms[i] = r
	return true
}

func roomBefore(a, b *model.Room) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

// Rooms returns a copy of the current list.
func (d *RoomDirectory) Rooms() []model.Room {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]model.Room(nil), d.rooms...)
}

// Get returns a room from the local list by id.
func (d *RoomDirectory) Get(id string) (*model.Room, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := range d.rooms {
		if d.rooms[i].ID == id {
			r := d.rooms[i]
			return &r, true
		}
	}
	return nil, false
}

// CreateRoom inserts a new room with a freshly generated join code. The
// creator still has to present the code to enter, same as everyone else; the
// caller is expected to mark the room joined in the session right away.
func (d *RoomDirectory) CreateRoom(ctx context.Context, name, createdBy string) (*model.Room, error) {
	defer logger.DeferLogDuration("rooms.CreateRoom", time.Now())()
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, &SendError{Err: errors.New("room name is empty")}
	}
	code, err := roomcode.Generate()
	if err != nil {
		return nil, &SendError{Err: err}
	}
	r := &model.Room{Name: name, Code: code, CreatedBy: createdBy}
	if err := d.st.InsertRoom(ctx, r); err != nil {
		return nil, &SendError{Err: err}
	}
	return r, nil
}

// JoinByCode resolves a join code to its room. When roomID is non-empty the
// code must belong to that specific room; this is the path used when entering
// a room picked from the lobby list.
func (d *RoomDirectory) JoinByCode(ctx context.Context, roomID, code string) (*model.Room, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if !roomcode.Valid(code) {
		return nil, ErrBadRoomCode
	}
	r, err := d.st.GetRoomByCode(ctx, code)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrBadRoomCode
		}
		return nil, &LoadError{Err: err}
	}
	if roomID != "" && r.ID != roomID {
		return nil, ErrBadRoomCode
	}
	return r, nil
}

// Disconnected reports transport loss on the rooms feed. Nil before Open.
func (d *RoomDirectory) Disconnected() <-chan struct{} {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.sub == nil {
		return nil
	}
	return d.sub.Disconnected()
}

// Close unsubscribes from the rooms feed.
func (d *RoomDirectory) Close() {
	d.mu.Lock()
	d.gen++
	sub := d.sub
	d.sub = nil
	d.mu.Unlock()
	if sub != nil {
		sub.Unsubscribe()
	}
}

func (d *RoomDirectory) notify() {
	if d.onUpdate != nil {
		d.onUpdate()
	}
}
