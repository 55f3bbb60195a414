package chat

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flamechat/internal/store"
	"github.com/flamechat/internal/store/memory"
)

func TestPresenceRoster(t *testing.T) {
	st := memory.New()
	defer st.Close()
	ctx := context.Background()
	scope := store.RoomScope("r1")

	ann := NewPresenceTracker(st, scope)
	bob := NewPresenceTracker(st, scope)
	require.NoError(t, ann.Join(ctx, "ann"))
	require.NoError(t, bob.Join(ctx, "bob"))

	waitFor(t, func() bool { return len(ann.Roster()) == 2 }, "roster did not converge")
	assert.ElementsMatch(t, []string{"ann", "bob"}, ann.Roster())

	require.NoError(t, bob.Leave(ctx))
	waitFor(t, func() bool {
		r := ann.Roster()
		return len(r) == 1 && r[0] == "ann"
	}, "leave not observed")
}

func TestPresenceDedupesMultipleConnections(t *testing.T) {
	st := memory.New()
	defer st.Close()
	ctx := context.Background()
	scope := store.RoomScope("r1")

	// The same user on two connections shows up once.
	tab1 := NewPresenceTracker(st, scope)
	tab2 := NewPresenceTracker(st, scope)
	require.NoError(t, tab1.Join(ctx, "ann"))
	require.NoError(t, tab2.Join(ctx, "ann"))

	observer := NewPresenceTracker(st, scope)
	require.NoError(t, observer.Join(ctx, "eve"))

	waitFor(t, func() bool { return len(observer.Roster()) == 2 }, "roster did not converge")

	// Closing one tab keeps the user present; closing both removes them.
	require.NoError(t, tab1.Leave(ctx))
	time.Sleep(50 * time.Millisecond)
	assert.Contains(t, observer.Roster(), "ann")

	require.NoError(t, tab2.Leave(ctx))
	waitFor(t, func() bool {
		r := observer.Roster()
		return len(r) == 1 && r[0] == "eve"
	}, "last connection leave not observed")
}

func TestPresenceScopesAreIsolated(t *testing.T) {
	st := memory.New()
	defer st.Close()
	ctx := context.Background()

	a := NewPresenceTracker(st, store.RoomScope("r1"))
	b := NewPresenceTracker(st, store.RoomScope("r2"))
	require.NoError(t, a.Join(ctx, "ann"))
	require.NoError(t, b.Join(ctx, "bob"))

	waitFor(t, func() bool { return len(a.Roster()) == 1 }, "own roster missing")
	assert.Equal(t, []string{"ann"}, a.Roster())
	assert.NotContains(t, a.Roster(), "bob")
}

func TestLeaveClearsRoster(t *testing.T) {
	st := memory.New()
	defer st.Close()
	ctx := context.Background()

	tr := NewPresenceTracker(st, store.GlobalScope)
	require.NoError(t, tr.Join(ctx, "ann"))
	waitFor(t, func() bool { return len(tr.Roster()) == 1 }, "join not observed")

	require.NoError(t, tr.Leave(ctx))
	assert.Empty(t, tr.Roster())
}
