package gateway

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flamechat/internal/model"
	"github.com/flamechat/internal/wire"
)

func TestPresenceRegistry(t *testing.T) {
	reg := newPresenceRegistry()
	topic := wire.PresenceTopic("room-r1")

	reg.track(topic, model.PresenceRecord{ConnID: "c1", Username: "ann"})
	reg.track(topic, model.PresenceRecord{ConnID: "c2", Username: "bob"})

	recs := reg.snapshot(topic)
	require.Len(t, recs, 2)
	assert.Equal(t, "ann", recs[0].Username)
	assert.Equal(t, "bob", recs[1].Username)

	// Re-tracking the same connection refreshes, not duplicates.
	reg.track(topic, model.PresenceRecord{ConnID: "c1", Username: "ann"})
	assert.Len(t, reg.snapshot(topic), 2)

	reg.untrack(topic, "c1")
	recs = reg.snapshot(topic)
	require.Len(t, recs, 1)
	assert.Equal(t, "bob", recs[0].Username)

	// Unknown untrack is a no-op.
	reg.untrack(topic, "nope")
	assert.Len(t, reg.snapshot(topic), 1)

	// Scopes are independent.
	assert.Empty(t, reg.snapshot(wire.PresenceTopic("room-r2")))
}

func TestBusLoopback(t *testing.T) {
	bus := NewBus(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var got []wire.BusFrame
	go bus.Run(ctx, func(f wire.BusFrame) {
		mu.Lock()
		got = append(got, f)
		mu.Unlock()
	})

	require.NoError(t, bus.Publish(ctx, wire.BusFrame{Type: wire.FrameChange, Topic: wire.TopicMessages, Kind: "insert"}))
	require.NoError(t, bus.Publish(ctx, wire.BusFrame{Type: wire.OpTrack, Topic: wire.PresenceTopic("global")}))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	}, time.Second, 10*time.Millisecond)

	mu.Lock()
	assert.Equal(t, wire.FrameChange, got[0].Type)
	assert.Equal(t, wire.OpTrack, got[1].Type)
	mu.Unlock()
}
