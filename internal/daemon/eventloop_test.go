package daemon

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEventLoop(t *testing.T) {
	d, _ := createTestDaemon(t)
	defer d.closeHost()

	loop := NewEventLoop(d)
	assert.Equal(t, d, loop.daemon)
	assert.Equal(t, maintenanceInterval, loop.interval)
}

func TestEventLoopRun(t *testing.T) {
	d, _ := createTestDaemon(t)
	defer d.closeHost()

	loop := NewEventLoop(d)
	loop.interval = 5 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		loop.Run(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("event loop did not stop")
	}
}

func TestEventLoopHandleShutdown(t *testing.T) {
	d, _ := createTestDaemon(t)
	defer d.closeHost()
	defer d.queue.Close()

	loop := NewEventLoop(d)

	start := time.Now()
	loop.HandleShutdown()
	assert.Less(t, time.Since(start), time.Second)

	require.NotPanics(t, func() { loop.processTasks(context.Background()) })
}
