package simhost

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/harun/passivebridge/internal/config"
	"github.com/harun/passivebridge/pkg/bridge"
	"github.com/harun/passivebridge/pkg/events"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

const waitFor = 2 * time.Second

// collector records every event published on a bus.
type collector struct {
	mu     sync.Mutex
	events []events.Event
}

func collect(t *testing.T, bus *events.Bus) *collector {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	msgs, err := bus.Subscribe(ctx)
	require.NoError(t, err)

	c := &collector{}
	done := make(chan struct{})
	go func() {
		defer close(done)
		for msg := range msgs {
			n, err := events.ToNotification(msg)
			if err == nil {
				if ev, err := events.Decode(n); err == nil {
					c.mu.Lock()
					c.events = append(c.events, ev)
					c.mu.Unlock()
				}
			}
			msg.Ack()
		}
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return c
}

func (c *collector) snapshot() []events.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]events.Event(nil), c.events...)
}

func (c *collector) sourceStates(plugin string) []events.SourceState {
	var states []events.SourceState
	for _, ev := range c.snapshot() {
		if s, ok := ev.(events.SourceStatus); ok && s.Plugin == plugin {
			states = append(states, s.State)
		}
	}
	return states
}

func (c *collector) sent() []events.SendStatus {
	var sent []events.SendStatus
	for _, ev := range c.snapshot() {
		if s, ok := ev.(events.SendStatus); ok {
			sent = append(sent, s)
		}
	}
	return sent
}

func (c *collector) count(action events.Action) int {
	n := 0
	for _, ev := range c.snapshot() {
		if ev.Action() == action {
			n++
		}
	}
	return n
}

type fixture struct {
	bus      *events.Bus
	store    *Store
	auth     *AuthHost
	platform *Platform
	host     *SessionHost
	events   *collector
}

func testHostConfig() config.HostConfig {
	return config.HostConfig{
		UploadSchedule:     "@every 1h",
		RecordsPerCycle:    3,
		ServicePermissions: []string{"ACCESS_NETWORK_STATE"},
		Plugins: []config.PluginConfig{
			{Name: "phone", Enabled: true, SourceName: "Phone", Topics: []string{"acc", "battery"}},
			{Name: "e4", Enabled: true, SourceName: "E4", Topics: []string{"bvp"}, PermissionsNeeded: []string{"BLUETOOTH_SCAN"}},
			{Name: "audio", Enabled: false, Topics: []string{"audio"}},
		},
		Requesters: []config.RequesterConfig{
			{Permissions: []string{"BLUETOOTH_SCAN", "RECORD_AUDIO"}, AutoGrant: true},
		},
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		bus:      events.NewBus(zerolog.Nop()),
		platform: NewPlatform(),
	}
	var err error
	f.store, err = OpenStore(":memory:")
	require.NoError(t, err)
	f.auth, err = NewAuthHost(f.store, zerolog.Nop())
	require.NoError(t, err)
	f.events = collect(t, f.bus)

	f.host, err = NewSessionHost(Options{
		Config:   testHostConfig(),
		Bus:      f.bus,
		Store:    f.store,
		Auth:     f.auth,
		Platform: f.platform,
		Logger:   zerolog.Nop(),
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		f.host.Close()
		_ = f.bus.Close()
		_ = f.store.Close()
	})
	return f
}

func (f *fixture) login() {
	token := "secret-token"
	f.auth.UpdateState(func(s *bridge.AuthState) {
		s.IsValid = true
		s.Token = &token
	})
}
