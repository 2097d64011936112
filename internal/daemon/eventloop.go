package daemon

import (
	"context"
	"time"

	"github.com/harun/passivebridge/internal/observability"
)

const maintenanceInterval = 30 * time.Second

// EventLoop runs periodic maintenance while the daemon is up.
type EventLoop struct {
	daemon   *Daemon
	interval time.Duration
}

func NewEventLoop(d *Daemon) *EventLoop {
	return &EventLoop{
		daemon:   d,
		interval: maintenanceInterval,
	}
}

// Run runs the event loop until ctx is cancelled.
func (e *EventLoop) Run(ctx context.Context) {
	e.daemon.logger.Info().Msg("Event loop started")

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.daemon.logger.Info().Msg("Event loop stopping")
			return

		case <-ticker.C:
			e.processTasks(ctx)
		}
	}
}

// processTasks logs queue load and refreshes the client gauge.
func (e *EventLoop) processTasks(_ context.Context) {
	stats := e.daemon.queue.Stats()
	for lane, laneStats := range stats {
		if laneStats["queued"] > 0 || laneStats["running"] > 0 {
			e.daemon.logger.Debug().
				Str("lane", lane).
				Int("queued", laneStats["queued"]).
				Int("running", laneStats["running"]).
				Msg("Queue stats")
		}
	}

	clients := e.daemon.gatewayServer.GetConnectedClients()
	observability.SetGatewayClients(len(clients))

	e.daemon.logger.Debug().
		Str("bridge", e.daemon.bridge.State().String()).
		Int("clients", len(clients)).
		Str("serverStatus", e.daemon.sessionHost.ServerStatus().String()).
		Msg("Maintenance tick")
}

// HandleShutdown waits briefly for queued configuration commands.
func (e *EventLoop) HandleShutdown() {
	e.daemon.logger.Info().Msg("Handling graceful shutdown")

	deadline := time.Now().Add(stopTimeout)
	for time.Now().Before(deadline) {
		busy := false
		for _, laneStats := range e.daemon.queue.Stats() {
			if laneStats["queued"] > 0 || laneStats["running"] > 0 {
				busy = true
				break
			}
		}
		if !busy {
			e.daemon.logger.Info().Msg("All active tasks completed")
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	e.daemon.logger.Warn().Msg("Shutdown continuing with tasks still queued")
}
