package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingHandler struct {
	mu        sync.Mutex
	events    []Event
	refreshes int
	block     chan struct{}
}

func (h *recordingHandler) add(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, ev)
}

func (h *recordingHandler) OnRecordsSent(s SendStatus)    { h.add(s) }
func (h *recordingHandler) OnServerStatus(s ServerStatus) { h.add(s) }
func (h *recordingHandler) OnSourceStatus(s SourceStatus) { h.add(s) }

func (h *recordingHandler) OnPluginsUpdated() {
	if h.block != nil {
		<-h.block
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.refreshes++
}

func (h *recordingHandler) snapshot() ([]Event, int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Event(nil), h.events...), h.refreshes
}

func startRouter(t *testing.T, h Handler) (*Bus, *Router) {
	t.Helper()
	bus := NewBus(zerolog.Nop())
	router := NewRouter(bus, h, zerolog.Nop())
	require.NoError(t, router.Start(context.Background()))
	t.Cleanup(func() {
		router.Stop()
		_ = bus.Close()
	})
	return bus, router
}

func TestRouter_DeliversInOrder(t *testing.T) {
	h := &recordingHandler{}
	bus, _ := startRouter(t, h)

	require.NoError(t, bus.PublishServerStatus(ServerConnecting))
	require.NoError(t, bus.PublishRecordsSent("acc", 10))
	require.NoError(t, bus.PublishRecordsSent("acc", -1))
	require.NoError(t, bus.PublishSourceStatus(SourceStatus{Plugin: "p", State: SourceConnected}))
	require.NoError(t, bus.PublishServerStatus(ServerConnected))

	// publishing blocks until acked, so everything is handled by now
	events, _ := h.snapshot()
	assert.Equal(t, []Event{
		ServerConnecting,
		SendStatus{Topic: "acc", Success: true, NumberOfRecords: 10},
		SendStatus{Topic: "acc"},
		SourceStatus{Plugin: "p", State: SourceConnected},
		ServerConnected,
	}, events)
}

func TestRouter_DropsMalformed(t *testing.T) {
	h := &recordingHandler{}
	bus, _ := startRouter(t, h)

	require.NoError(t, bus.Publish(Notification{Action: ActionRecordsSent, Extras: map[string]string{ExtraCount: "3"}}))
	require.NoError(t, bus.Publish(Notification{Action: ActionServerStatusChanged, Extras: map[string]string{ExtraStatus: "99"}}))
	require.NoError(t, bus.Publish(Notification{Action: "unknown"}))
	require.NoError(t, bus.PublishServerStatus(ServerReady))

	events, _ := h.snapshot()
	assert.Equal(t, []Event{ServerReady}, events)
}

type panickingHandler struct {
	recordingHandler
}

func (h *panickingHandler) OnServerStatus(ServerStatus) { panic("boom") }

func TestRouter_RecoversFromHandlerPanic(t *testing.T) {
	h := &panickingHandler{}
	bus, _ := startRouter(t, h)

	require.NoError(t, bus.PublishServerStatus(ServerReady))
	require.NoError(t, bus.PublishRecordsSent("t", 1))

	events, _ := h.snapshot()
	assert.Equal(t, []Event{SendStatus{Topic: "t", Success: true, NumberOfRecords: 1}}, events)
}

func TestRouter_CoalescesPluginUpdates(t *testing.T) {
	h := &recordingHandler{block: make(chan struct{})}
	bus, _ := startRouter(t, h)

	for i := 0; i < 10; i++ {
		require.NoError(t, bus.PublishPluginsUpdated())
	}
	close(h.block)

	assert.Eventually(t, func() bool {
		_, n := h.snapshot()
		return n >= 1
	}, time.Second, 5*time.Millisecond)

	time.Sleep(20 * time.Millisecond)
	_, n := h.snapshot()
	// one refresh may be running while the rest collapse into a single pending one
	assert.LessOrEqual(t, n, 2)
}

func TestRouter_StartStop(t *testing.T) {
	h := &recordingHandler{}
	bus := NewBus(zerolog.Nop())
	defer bus.Close()
	router := NewRouter(bus, h, zerolog.Nop())

	router.Stop()
	assert.False(t, router.Running())

	require.NoError(t, router.Start(context.Background()))
	require.NoError(t, router.Start(context.Background()))
	assert.True(t, router.Running())

	router.Stop()
	router.Stop()
	assert.False(t, router.Running())

	// nothing subscribed: dropped without blocking
	require.NoError(t, bus.PublishServerStatus(ServerReady))
	events, _ := h.snapshot()
	assert.Empty(t, events)

	require.NoError(t, router.Start(context.Background()))
	require.NoError(t, bus.PublishServerStatus(ServerDisabled))
	router.Stop()

	events, _ = h.snapshot()
	assert.Equal(t, []Event{ServerDisabled}, events)
}

func TestBus_Closed(t *testing.T) {
	bus := NewBus(zerolog.Nop())
	require.NoError(t, bus.Close())
	require.NoError(t, bus.Close())

	assert.ErrorIs(t, bus.PublishPluginsUpdated(), ErrBusClosed)
	_, err := bus.Subscribe(context.Background())
	assert.ErrorIs(t, err, ErrBusClosed)
}
