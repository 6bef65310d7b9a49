package events

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type greeting struct {
	From  string   `json:"from"`
	Words []string `json:"words"`
}

func TestBus_PublishSubscribe(t *testing.T) {
	bus := NewBus(zaptest.NewLogger(t))
	defer bus.Stop()

	got := make(chan Event, 1)
	bus.Subscribe(HandshakeRequest, func(ev Event) { got <- ev })

	bus.Publish(Event{Type: HandshakeRequest, Source: "a", Payload: greeting{From: "a"}})

	select {
	case ev := <-got:
		assert.NotEmpty(t, ev.ID)
		assert.False(t, ev.Timestamp.IsZero())
		assert.Equal(t, "a", ev.Source)
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestBus_OnlyMatchingTypeDelivered(t *testing.T) {
	bus := NewBus(nil)
	defer bus.Stop()

	var requests, responses atomic.Int32
	bus.Subscribe(HandshakeRequest, func(Event) { requests.Add(1) })
	bus.Subscribe(HandshakeResponse, func(Event) { responses.Add(1) })

	bus.Publish(New(HandshakeResponse, "b", "a", nil))

	assert.Eventually(t, func() bool { return responses.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(0), requests.Load())
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus(nil)
	defer bus.Stop()

	id := bus.Subscribe(SyncRequest, func(Event) {})
	assert.Equal(t, 1, bus.SubscriberCount(SyncRequest))
	bus.Unsubscribe(id)
	bus.Unsubscribe("unknown-id")
	assert.Equal(t, 0, bus.SubscriberCount(SyncRequest))
}

func TestBus_HandlerPanicIsContained(t *testing.T) {
	bus := NewBus(zaptest.NewLogger(t))
	defer bus.Stop()

	var wg sync.WaitGroup
	wg.Add(1)
	bus.Subscribe(HandoffFailed, func(Event) { panic("boom") })
	bus.Subscribe(HandoffFailed, func(Event) { wg.Done() })

	bus.Publish(New(HandoffFailed, "x", "", nil))
	wg.Wait()
}

func TestBus_PublishAfterStopIsIgnored(t *testing.T) {
	bus := NewBus(nil, WithQueueSize(1))
	bus.Stop()

	// 停止后 Publish 直接忽略，不计入丢弃
	bus.Publish(New(HandoffStarted, "x", "", nil))
	bus.Stop()
	assert.Equal(t, int64(0), bus.Dropped())
}

func TestDecode(t *testing.T) {
	want := greeting{From: "a", Words: []string{"hi"}}

	got, err := Decode[greeting](Event{Payload: want})
	require.NoError(t, err)
	assert.Equal(t, want, got)

	got, err = Decode[greeting](Event{Payload: &want})
	require.NoError(t, err)
	assert.Equal(t, want, got)

	raw, _ := json.Marshal(want)
	got, err = Decode[greeting](Event{Payload: json.RawMessage(raw)})
	require.NoError(t, err)
	assert.Equal(t, want, got)

	got, err = Decode[greeting](Event{Payload: map[string]any{"from": "a", "words": []any{"hi"}}})
	require.NoError(t, err)
	assert.Equal(t, want, got)

	_, err = Decode[greeting](Event{Type: SyncRequest})
	assert.Error(t, err)

	_, err = Decode[greeting](Event{Payload: json.RawMessage(`{"from": 3}`)})
	assert.Error(t, err)
}
