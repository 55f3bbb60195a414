package chat

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flamechat/internal/logger"
	"github.com/flamechat/internal/model"
	"github.com/flamechat/internal/realtime"
	"github.com/flamechat/internal/store"
)

// PresenceTracker maintains the live roster of one scope. One username may
// hold several concurrent connections (tabs), so the roster is the set of
// distinct usernames across all tracked records, recomputed on every sync
// event. join/leave micro-events are observational only; syncs are the single
// authoritative source.
type PresenceTracker struct {
	st    store.Store
	scope store.Scope

	mu      sync.Mutex
	channel store.PresenceChannel
	sub     realtime.Subscription
	roster  []string
	gen     int

	onChange func(roster []string)
}

func NewPresenceTracker(st store.Store, scope store.Scope) *PresenceTracker {
	return &PresenceTracker{st: st, scope: scope}
}

// SetOnChange registers a roster callback. Must be called before Join.
func (t *PresenceTracker) SetOnChange(fn func(roster []string)) { t.onChange = fn }

// Join opens the scope's presence channel, subscribes to sync events and
// tracks one connection record for username.
func (t *PresenceTracker) Join(ctx context.Context, username string) error {
	t.mu.Lock()
	gen := t.gen
	ch := t.st.Presence(t.scope)
	t.channel = ch
	t.mu.Unlock()

	sub, err := ch.OnSync(func(records []model.PresenceRecord) {
		t.onSync(gen, records)
	})
	if err != nil {
		return err
	}

	t.mu.Lock()
	if gen != t.gen {
		t.mu.Unlock()
		sub.Unsubscribe()
		return nil
	}
	t.sub = sub
	t.mu.Unlock()

	rec := model.PresenceRecord{
		ConnID:   uuid.New().String(),
		Username: username,
		OnlineAt: time.Now().UTC(),
	}
	if err := ch.Track(ctx, rec); err != nil {
		sub.Unsubscribe()
		return err
	}
	return nil
}

// onSync recomputes the roster: flatten all live records and dedupe by
// username, keeping first-seen order. A username disappears exactly when its
// last connection record is gone.
func (t *PresenceTracker) onSync(gen int, records []model.PresenceRecord) {
	seen := make(map[string]struct{}, len(records))
	roster := make([]string, 0, len(records))
	for _, r := range records {
		if r.Username == "" {
			continue
		}
		if _, ok := seen[r.Username]; ok {
			continue
		}
		seen[r.Username] = struct{}{}
		roster = append(roster, r.Username)
	}

	t.mu.Lock()
	if gen != t.gen {
		t.mu.Unlock()
		return
	}
	t.roster = roster
	fn := t.onChange
	t.mu.Unlock()

	if fn != nil {
		fn(roster)
	}
}

// Roster returns the distinct usernames currently present.
func (t *PresenceTracker) Roster() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.roster...)
}

// Disconnected reports transport loss on the sync subscription. Nil before
// Join.
func (t *PresenceTracker) Disconnected() <-chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sub == nil {
		return nil
	}
	return t.sub.Disconnected()
}

// Leave withdraws this client's presence record and tears the subscription
// down. Untrack runs before unsubscribe, and is attempted even when the
// subscription is already gone, so other clients see the record disappear on
// the next sync instead of waiting for a passive timeout.
func (t *PresenceTracker) Leave(ctx context.Context) error {
	t.mu.Lock()
	t.gen++
	ch := t.channel
	sub := t.sub
	t.channel = nil
	t.sub = nil
	t.roster = nil
	t.mu.Unlock()

	var untrackErr error
	if ch != nil {
		untrackErr = ch.Untrack(ctx)
		if untrackErr != nil {
			logger.Errorf("presence untrack %s: %v", t.scope, untrackErr)
		}
	}
	if sub != nil {
		sub.Unsubscribe()
	}
	return untrackErr
}
