package events

import (
	"context"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/harun/passivebridge/internal/observability"
	"github.com/rs/zerolog"
)

// Handler receives decoded events in bus order. OnPluginsUpdated runs on a
// separate goroutine and bursts of updates may be coalesced into one call.
type Handler interface {
	OnRecordsSent(status SendStatus)
	OnServerStatus(status ServerStatus)
	OnSourceStatus(status SourceStatus)
	OnPluginsUpdated()
}

// Router subscribes to the bus and hands decoded events to a Handler.
type Router struct {
	bus     *Bus
	handler Handler
	logger  zerolog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewRouter(bus *Bus, handler Handler, logger zerolog.Logger) *Router {
	return &Router{
		bus:     bus,
		handler: handler,
		logger:  logger.With().Str("component", "event_router").Logger(),
	}
}

// Start subscribes to the bus. Calling Start on a running router is a no-op.
// Notifications published after Start returns are delivered.
func (r *Router) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cancel != nil {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	msgs, err := r.bus.Subscribe(runCtx)
	if err != nil {
		cancel()
		return fmt.Errorf("failed to subscribe to broadcast bus: %w", err)
	}

	r.cancel = cancel
	r.done = make(chan struct{})
	go r.run(msgs, r.done)

	r.logger.Debug().Msg("Event router started")
	return nil
}

// Stop unsubscribes and waits for in-flight handling to finish. It must not
// be called from a Handler method.
func (r *Router) Stop() {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel, r.done = nil, nil
	r.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done

	r.logger.Debug().Msg("Event router stopped")
}

// Running reports whether the router is subscribed.
func (r *Router) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancel != nil
}

func (r *Router) run(msgs <-chan *message.Message, done chan struct{}) {
	defer close(done)

	refresh := make(chan struct{}, 1)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for range refresh {
			r.safely(ActionPluginsUpdated, r.handler.OnPluginsUpdated)
		}
	}()

	for msg := range msgs {
		r.handle(msg, refresh)
		msg.Ack()
	}

	close(refresh)
	wg.Wait()
}

func (r *Router) handle(msg *message.Message, refresh chan struct{}) {
	n, err := ToNotification(msg)
	if err == nil {
		var ev Event
		ev, err = Decode(n)
		if err == nil {
			observability.RecordNotification(string(n.Action))
			r.route(ev, refresh)
			return
		}
	}

	observability.RecordNotificationDropped(string(n.Action))
	r.logger.Warn().
		Err(err).
		Str("action", string(n.Action)).
		Str("messageId", msg.UUID).
		Msg("Dropping malformed notification")
}

func (r *Router) route(ev Event, refresh chan struct{}) {
	switch e := ev.(type) {
	case SendStatus:
		r.safely(e.Action(), func() { r.handler.OnRecordsSent(e) })
	case ServerStatus:
		r.safely(e.Action(), func() { r.handler.OnServerStatus(e) })
	case SourceStatus:
		r.safely(e.Action(), func() { r.handler.OnSourceStatus(e) })
	case PluginsUpdated:
		select {
		case refresh <- struct{}{}:
		default:
			r.logger.Trace().Msg("Plugin refresh already pending")
		}
	}
}

func (r *Router) safely(action Action, fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error().
				Str("action", string(action)).
				Interface("panic", rec).
				Msg("Event handler panicked")
		}
	}()
	fn()
}
