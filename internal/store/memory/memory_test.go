package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flamechat/internal/model"
	"github.com/flamechat/internal/realtime"
	"github.com/flamechat/internal/store"
)

func TestInsertMessageAssignsIDAndPublishes(t *testing.T) {
	s := New()
	defer s.Close()
	ctx := context.Background()

	got := make(chan model.Message, 1)
	sub, err := s.SubscribeMessages(store.GlobalScope, func(ev realtime.Event[model.Message]) {
		if ev.Kind == realtime.KindInsert {
			got <- ev.Row
		}
	})
	require.NoError(t, err)
	defer sub.Unsubscribe()

	m := &model.Message{Username: "bob", Content: "hi", Type: model.MessageTypeText}
	require.NoError(t, s.InsertMessage(ctx, m))
	assert.NotEmpty(t, m.ID)
	assert.False(t, m.CreatedAt.IsZero())

	select {
	case row := <-got:
		assert.Equal(t, m.ID, row.ID)
	case <-time.After(time.Second):
		t.Fatal("insert event not delivered")
	}
}

func TestSubscribeMessagesFiltersByScope(t *testing.T) {
	s := New()
	defer s.Close()
	ctx := context.Background()

	var mu sync.Mutex
	var seen []string
	sub, err := s.SubscribeMessages(store.RoomScope("r1"), func(ev realtime.Event[model.Message]) {
		mu.Lock()
		seen = append(seen, ev.Row.RoomID)
		mu.Unlock()
	})
	require.NoError(t, err)
	defer sub.Unsubscribe()

	require.NoError(t, s.InsertMessage(ctx, &model.Message{RoomID: "r1", Username: "a", Content: "x"}))
	require.NoError(t, s.InsertMessage(ctx, &model.Message{RoomID: "r2", Username: "a", Content: "y"}))
	require.NoError(t, s.InsertMessage(ctx, &model.Message{Username: "a", Content: "global"}))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 1 && seen[0] == "r1"
	}, time.Second, 10*time.Millisecond)
}

func TestListMessagesScopedAndOrdered(t *testing.T) {
	s := New()
	defer s.Close()
	ctx := context.Background()

	base := time.Now().UTC()
	require.NoError(t, s.InsertMessage(ctx, &model.Message{Username: "a", Content: "2", CreatedAt: base.Add(2 * time.Second)}))
	require.NoError(t, s.InsertMessage(ctx, &model.Message{Username: "a", Content: "1", CreatedAt: base.Add(1 * time.Second)}))
	require.NoError(t, s.InsertMessage(ctx, &model.Message{RoomID: "r1", Username: "a", Content: "room", CreatedAt: base}))

	msgs, err := s.ListMessages(ctx, store.GlobalScope, 100)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "1", msgs[0].Content)
	assert.Equal(t, "2", msgs[1].Content)
}

func TestUpsertVoteKeepsOneRowPerKey(t *testing.T) {
	s := New()
	defer s.Close()
	ctx := context.Background()

	first, err := s.UpsertVote(ctx, &model.PollVote{PollID: "p1", Username: "bob", OptionID: "o1"})
	require.NoError(t, err)
	second, err := s.UpsertVote(ctx, &model.PollVote{PollID: "p1", Username: "bob", OptionID: "o2"})
	require.NoError(t, err)

	// Same vote identity, switched option.
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "o2", second.OptionID)

	votes, err := s.ListVotes(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, votes, 1)
	assert.Equal(t, "o2", votes[0].OptionID)
}

func TestDeleteVote(t *testing.T) {
	s := New()
	defer s.Close()
	ctx := context.Background()

	_, err := s.UpsertVote(ctx, &model.PollVote{PollID: "p1", Username: "bob", OptionID: "o1"})
	require.NoError(t, err)
	require.NoError(t, s.DeleteVote(ctx, "p1", "bob"))
	// Deleting a missing row is not an error.
	require.NoError(t, s.DeleteVote(ctx, "p1", "bob"))

	votes, err := s.ListVotes(ctx, "p1")
	require.NoError(t, err)
	assert.Empty(t, votes)
}

func TestRoomLookups(t *testing.T) {
	s := New()
	defer s.Close()
	ctx := context.Background()

	r := &model.Room{Name: "friends", Code: "AB12CD", CreatedBy: "ann"}
	require.NoError(t, s.InsertRoom(ctx, r))

	byCode, err := s.GetRoomByCode(ctx, "AB12CD")
	require.NoError(t, err)
	assert.Equal(t, r.ID, byCode.ID)

	_, err = s.GetRoomByCode(ctx, "NOPE")
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = s.GetRoom(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestPresenceSyncSets(t *testing.T) {
	s := New()
	defer s.Close()
	ctx := context.Background()
	scope := store.RoomScope("r1")

	observer := s.Presence(scope)
	var mu sync.Mutex
	var last []model.PresenceRecord
	sub, err := observer.OnSync(func(recs []model.PresenceRecord) {
		mu.Lock()
		last = recs
		mu.Unlock()
	})
	require.NoError(t, err)
	defer sub.Unsubscribe()

	chA := s.Presence(scope)
	chB := s.Presence(scope)
	require.NoError(t, chA.Track(ctx, model.PresenceRecord{ConnID: "c1", Username: "ann", OnlineAt: time.Now()}))
	require.NoError(t, chB.Track(ctx, model.PresenceRecord{ConnID: "c2", Username: "bob", OnlineAt: time.Now()}))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(last) == 2
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, chA.Untrack(ctx))
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(last) == 1 && last[0].Username == "bob"
	}, time.Second, 10*time.Millisecond)

	// Untrack with nothing tracked is a no-op.
	require.NoError(t, chA.Untrack(ctx))
}
