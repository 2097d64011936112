// Package bridge exposes the session host lifecycle and its event streams to
// command callers. It owns the listener registries, the connection state and
// the authentication snapshot.
package bridge

import (
	"context"
	"fmt"
	"sync"

	"github.com/harun/passivebridge/internal/observability"
	"github.com/harun/passivebridge/pkg/events"
	"github.com/harun/passivebridge/pkg/listener"
	"github.com/harun/passivebridge/pkg/permission"
	"github.com/rs/zerolog"
)

// State is the session host connection state.
type State int

const (
	Unbound State = iota
	Binding
	Bound
)

func (s State) String() string {
	switch s {
	case Unbound:
		return "unbound"
	case Binding:
		return "binding"
	case Bound:
		return "bound"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Message delivered to pending callers on teardown.
const stoppedMessage = "Bridge stopped"

// Options configures a Bridge.
type Options struct {
	Session  Connection[SessionHost]
	Auth     Connection[AuthHost]
	Config   Configuration
	Bus      *events.Bus
	Platform permission.Platform

	// BluetoothPermissions marks the permissions that make a plugin count
	// as needing bluetooth.
	BluetoothPermissions []string

	// OnStateChange, if set, is called after every connection state change.
	// It must not call back into the bridge synchronously.
	OnStateChange func(State)

	Logger zerolog.Logger
}

// Bridge is the session facade.
type Bridge struct {
	session   Connection[SessionHost]
	auth      Connection[AuthHost]
	config    Configuration
	bluetooth map[string]bool
	onState   func(State)
	logger    zerolog.Logger

	router     *events.Router
	negotiator *permission.Negotiator

	bind         *listener.Registry[struct{}]
	serverStatus *listener.Registry[events.ServerStatus]
	sourceStatus *listener.Registry[events.SourceStatus]
	send         *listener.Registry[events.SendStatus]
	plugins      *listener.Registry[[]string]
	flushes      *listener.Registry[FlushResult]

	mu             sync.Mutex
	started        bool
	state          State
	generation     uint64
	sessionHost    SessionHost
	authHost       AuthHost
	authentication *Authentication
	// authSet is false until SetAuthentication is first called, so a bind
	// leaves the host's restored credentials alone.
	authSet bool

	// authMu orders pushes to the auth host.
	authMu sync.Mutex
	// configMu makes each configure batch atomic with respect to others.
	configMu sync.Mutex
}

// New creates a bridge in the Unbound state.
func New(opts Options) *Bridge {
	logger := opts.Logger.With().Str("component", "bridge").Logger()

	bluetooth := make(map[string]bool, len(opts.BluetoothPermissions))
	for _, p := range opts.BluetoothPermissions {
		bluetooth[p] = true
	}

	b := &Bridge{
		session:      opts.Session,
		auth:         opts.Auth,
		config:       opts.Config,
		bluetooth:    bluetooth,
		onState:      opts.OnStateChange,
		logger:       logger,
		negotiator:   permission.NewNegotiator(opts.Platform, opts.Logger),
		bind:         listener.New[struct{}]("bind", logger),
		serverStatus: listener.New[events.ServerStatus]("server_status", logger),
		sourceStatus: listener.New[events.SourceStatus]("source_status", logger),
		send:         listener.New[events.SendStatus]("send", logger),
		plugins:      listener.New[[]string]("plugins_updated", logger),
		flushes:      listener.New[FlushResult]("flush", logger),
	}
	b.router = events.NewRouter(opts.Bus, b, opts.Logger)
	return b
}

// State returns the current connection state.
func (b *Bridge) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Bridge) notifyState(s State) {
	if b.onState != nil {
		b.onState(s)
	}
}

// Start resolves h once the session host is bound, binding both hosts and
// subscribing to notifications if that has not happened yet. When the host
// is already bound h resolves before Start returns.
func (b *Bridge) Start(h listener.Handle[struct{}]) error {
	b.mu.Lock()
	if b.state == Bound {
		b.mu.Unlock()
		return h.Success(struct{}{})
	}

	b.bind.Register(listener.AutoID, h)
	b.started = true

	needBind := b.state == Unbound
	if needBind {
		b.state = Binding
		b.generation++
	}
	gen := b.generation
	b.mu.Unlock()

	if needBind {
		b.notifyState(Binding)
	}

	if err := b.router.Start(context.Background()); err != nil {
		b.logger.Error().Err(err).Msg("Failed to listen for notifications")
	}

	if !needBind {
		return nil
	}

	b.logger.Info().Msg("Binding to session and auth hosts")

	if err := b.auth.Bind(
		func(host AuthHost) { b.onAuthBound(gen, host) },
		func() { b.onAuthUnbound(gen) },
	); err != nil {
		b.logger.Warn().Err(err).Msg("Failed to bind auth host")
	}

	if err := b.session.Bind(
		func(host SessionHost) { b.onSessionBound(gen, host) },
		func() { b.onSessionUnbound(gen) },
	); err != nil {
		b.mu.Lock()
		reverted := b.generation == gen
		if reverted {
			b.state = Unbound
			b.started = false
			b.generation++
			b.authHost = nil
		}
		b.mu.Unlock()
		if reverted {
			b.auth.Unbind()
			b.router.Stop()
			observability.SetConnectionBound("auth", false)
			b.notifyState(Unbound)
		}

		b.bind.FailAll(fmt.Sprintf("failed to bind session host: %v", err))
		return fmt.Errorf("failed to bind session host: %w", err)
	}
	return nil
}

func (b *Bridge) onSessionBound(gen uint64, host SessionHost) {
	b.mu.Lock()
	if gen != b.generation || !b.started {
		b.mu.Unlock()
		b.logger.Debug().Msg("Ignoring stale session host bind")
		return
	}
	b.sessionHost = host
	b.state = Bound
	b.mu.Unlock()

	observability.SetConnectionBound("session", true)
	b.negotiator.SetRequesters(host.PermissionRequesters())
	b.notifyState(Bound)

	resolved := b.bind.ResolveAll(struct{}{})
	b.logger.Info().Int("listeners", resolved).Msg("Session host bound")
}

func (b *Bridge) onSessionUnbound(gen uint64) {
	b.mu.Lock()
	if gen != b.generation || b.state != Bound {
		b.mu.Unlock()
		return
	}
	b.sessionHost = nil
	b.state = Binding
	b.mu.Unlock()

	observability.SetConnectionBound("session", false)
	b.notifyState(Binding)
	b.logger.Warn().Msg("Session host disconnected, waiting for rebind")
}

func (b *Bridge) onAuthBound(gen uint64, host AuthHost) {
	b.mu.Lock()
	if gen != b.generation || !b.started {
		b.mu.Unlock()
		return
	}
	b.authHost = host
	b.mu.Unlock()

	observability.SetConnectionBound("auth", true)
	b.logger.Info().Msg("Auth host bound")
	b.syncAuthentication()
}

func (b *Bridge) onAuthUnbound(gen uint64) {
	b.mu.Lock()
	if gen != b.generation {
		b.mu.Unlock()
		return
	}
	b.authHost = nil
	b.mu.Unlock()

	observability.SetConnectionBound("auth", false)
}

// Stop logs out and tears the bridge down.
func (b *Bridge) Stop() {
	b.detach(true)
}

// Destroy tears the bridge down without touching credentials.
func (b *Bridge) Destroy() {
	b.detach(false)
}

func (b *Bridge) detach(invalidate bool) {
	b.mu.Lock()
	if !b.started {
		b.mu.Unlock()
		return
	}
	authHost := b.authHost
	b.started = false
	b.state = Unbound
	b.generation++
	b.sessionHost = nil
	b.authHost = nil
	b.mu.Unlock()

	if invalidate && authHost != nil {
		authHost.Invalidate()
	}
	b.auth.Unbind()
	b.session.Unbind()
	observability.SetConnectionBound("session", false)
	observability.SetConnectionBound("auth", false)

	b.router.Stop()
	b.notifyState(Unbound)

	failed := b.bind.FailAll(stoppedMessage) + b.flushes.FailAll(stoppedMessage)
	cleared := b.serverStatus.Clear() + b.sourceStatus.Clear() + b.send.Clear() + b.plugins.Clear()
	prompts := b.negotiator.Clear(stoppedMessage)

	b.logger.Info().
		Bool("invalidate", invalidate).
		Int("pendingRequests", failed).
		Int("listeners", cleared).
		Int("permissionRequests", prompts).
		Msg("Bridge detached")
}

// host returns the bound session host or ErrNotConnected.
func (b *Bridge) host() (SessionHost, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != Bound || b.sessionHost == nil {
		return nil, ErrNotConnected
	}
	return b.sessionHost, nil
}

// Listener registration. Passing listener.AutoID picks a free id; the id used
// is returned.

func (b *Bridge) RegisterServerStatusListener(id int, h listener.Handle[events.ServerStatus]) int {
	return b.serverStatus.Register(id, h)
}

func (b *Bridge) UnregisterServerStatusListener(id int) bool {
	return b.serverStatus.Unregister(id)
}

func (b *Bridge) RegisterSourceStatusListener(id int, h listener.Handle[events.SourceStatus]) int {
	return b.sourceStatus.Register(id, h)
}

func (b *Bridge) UnregisterSourceStatusListener(id int) bool {
	return b.sourceStatus.Unregister(id)
}

func (b *Bridge) RegisterSendListener(id int, h listener.Handle[events.SendStatus]) int {
	return b.send.Register(id, h)
}

func (b *Bridge) UnregisterSendListener(id int) bool {
	return b.send.Unregister(id)
}

func (b *Bridge) RegisterPluginListener(id int, h listener.Handle[[]string]) int {
	return b.plugins.Register(id, h)
}

func (b *Bridge) UnregisterPluginListener(id int) bool {
	return b.plugins.Unregister(id)
}

// events.Handler

func (b *Bridge) OnRecordsSent(status events.SendStatus) {
	b.send.Dispatch(status)
}

func (b *Bridge) OnServerStatus(status events.ServerStatus) {
	b.serverStatus.Dispatch(status)
}

func (b *Bridge) OnSourceStatus(status events.SourceStatus) {
	b.sourceStatus.Dispatch(status)
}

func (b *Bridge) OnPluginsUpdated() {
	names, err := b.PluginsActive()
	if err != nil {
		b.logger.Debug().Err(err).Msg("Skipping plugin refresh")
		return
	}
	b.plugins.Dispatch(names)
}
