package realtime

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(t *testing.T, n int) (Handler[int], func() []int) {
	t.Helper()
	var mu sync.Mutex
	got := make([]int, 0, n)
	done := make(chan struct{})
	h := func(ev Event[int]) {
		mu.Lock()
		got = append(got, ev.Row)
		if len(got) == n {
			close(done)
		}
		mu.Unlock()
	}
	wait := func() []int {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for events")
		}
		mu.Lock()
		defer mu.Unlock()
		return append([]int(nil), got...)
	}
	return h, wait
}

func TestBrokerDeliversInOrder(t *testing.T) {
	b := NewBroker[int]()
	defer b.Close()

	h, wait := collect(t, 5)
	sub := b.Subscribe(nil, h)
	defer sub.Unsubscribe()

	for i := 1; i <= 5; i++ {
		b.Publish(Event[int]{Kind: KindInsert, Row: i})
	}
	assert.Equal(t, []int{1, 2, 3, 4, 5}, wait())
}

func TestBrokerFilter(t *testing.T) {
	b := NewBroker[int]()
	defer b.Close()

	h, wait := collect(t, 2)
	sub := b.Subscribe(func(v int) bool { return v%2 == 0 }, h)
	defer sub.Unsubscribe()

	for i := 1; i <= 4; i++ {
		b.Publish(Event[int]{Kind: KindInsert, Row: i})
	}
	assert.Equal(t, []int{2, 4}, wait())
}

func TestUnsubscribeStopsDeliveryAndIsIdempotent(t *testing.T) {
	b := NewBroker[int]()
	defer b.Close()

	var mu sync.Mutex
	var got []int
	sub := b.Subscribe(nil, func(ev Event[int]) {
		mu.Lock()
		got = append(got, ev.Row)
		mu.Unlock()
	})

	sub.Unsubscribe()
	sub.Unsubscribe() // second call must be a no-op

	b.Publish(Event[int]{Kind: KindInsert, Row: 42})
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Empty(t, got)
}

func TestDisconnectSignalsAllSubscriptions(t *testing.T) {
	b := NewBroker[int]()
	defer b.Close()

	s1 := b.Subscribe(nil, func(Event[int]) {})
	s2 := b.Subscribe(nil, func(Event[int]) {})

	select {
	case <-s1.Disconnected():
		t.Fatal("disconnected before transport drop")
	default:
	}

	b.Disconnect()

	for _, s := range []Subscription{s1, s2} {
		select {
		case <-s.Disconnected():
		case <-time.After(time.Second):
			t.Fatal("disconnect signal not delivered")
		}
	}
}

func TestSubscribeAfterClose(t *testing.T) {
	b := NewBroker[int]()
	b.Close()

	sub := b.Subscribe(nil, func(Event[int]) {})
	require.NotNil(t, sub)
	select {
	case <-sub.Disconnected():
	case <-time.After(time.Second):
		t.Fatal("subscription on closed broker must report disconnected")
	}
	sub.Unsubscribe()
}

func TestSubscriptionsInterleaveButSerializePerHandler(t *testing.T) {
	b := NewBroker[int]()
	defer b.Close()

	// A handler that detects concurrent invocation of itself.
	var inFlight, overlapped bool
	var mu sync.Mutex
	done := make(chan struct{})
	count := 0
	h := func(Event[int]) {
		mu.Lock()
		if inFlight {
			overlapped = true
		}
		inFlight = true
		mu.Unlock()

		time.Sleep(time.Millisecond)

		mu.Lock()
		inFlight = false
		count++
		if count == 20 {
			close(done)
		}
		mu.Unlock()
	}
	sub := b.Subscribe(nil, h)
	defer sub.Unsubscribe()

	for i := 0; i < 20; i++ {
		b.Publish(Event[int]{Kind: KindInsert, Row: i})
	}
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("events not delivered")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.False(t, overlapped, "handler invoked concurrently with itself")
}
