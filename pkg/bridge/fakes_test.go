package bridge

import (
	"errors"
	"sync"
	"testing"

	"github.com/harun/passivebridge/pkg/events"
	"github.com/harun/passivebridge/pkg/permission"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// fakeConnection binds synchronously unless manual is set, in which case the
// test fires the callbacks.
type fakeConnection[B any] struct {
	mu        sync.Mutex
	host      B
	manual    bool
	bindErr   error
	onBound   func(B)
	onUnbound func()
	binds     int
	unbinds   int
}

func (c *fakeConnection[B]) Bind(onBound func(B), onUnbound func()) error {
	c.mu.Lock()
	c.binds++
	if c.bindErr != nil {
		err := c.bindErr
		c.mu.Unlock()
		return err
	}
	c.onBound, c.onUnbound = onBound, onUnbound
	manual, host := c.manual, c.host
	c.mu.Unlock()

	if !manual {
		onBound(host)
	}
	return nil
}

func (c *fakeConnection[B]) Unbind() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unbinds++
}

func (c *fakeConnection[B]) fireBound() {
	c.mu.Lock()
	fn, host := c.onBound, c.host
	c.mu.Unlock()
	fn(host)
}

func (c *fakeConnection[B]) fireUnbound() {
	c.mu.Lock()
	fn := c.onUnbound
	c.mu.Unlock()
	fn()
}

func (c *fakeConnection[B]) counts() (binds, unbinds int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.binds, c.unbinds
}

type fakeSessionHost struct {
	mu           sync.Mutex
	status       events.ServerStatus
	plugins      []ProviderInfo
	connections  []ProviderInfo
	needed       []string
	caches       []CacheInfo
	cachesActive bool
	allowed      map[string][]string
	flush        func(cb FlushCallback)
	requesters   []permission.Requester
	scans        int
	stops        int
}

func (h *fakeSessionHost) StartScanning() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.scans++
}

func (h *fakeSessionHost) StopScanning() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stops++
}

func (h *fakeSessionHost) ServerStatus() events.ServerStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}

func (h *fakeSessionHost) Plugins() []ProviderInfo {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.plugins
}

func (h *fakeSessionHost) Connections() []ProviderInfo {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.connections
}

func (h *fakeSessionHost) PermissionsNeeded() []string { return h.needed }

func (h *fakeSessionHost) Caches() ([]CacheInfo, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.caches, h.cachesActive
}

func (h *fakeSessionHost) SetAllowedSourceIDs(plugin string, ids []string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.allowed == nil {
		h.allowed = make(map[string][]string)
	}
	h.allowed[plugin] = ids
	return nil
}

func (h *fakeSessionHost) FlushCaches(cb FlushCallback) {
	if h.flush != nil {
		h.flush(cb)
		return
	}
	cb.Success()
}

func (h *fakeSessionHost) PermissionRequesters() []permission.Requester { return h.requesters }

type fakeAuthHost struct {
	mu          sync.Mutex
	state       AuthState
	updates     int
	invalidated int
}

func (a *fakeAuthHost) UpdateState(fn func(*AuthState)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.updates++
	fn(&a.state)
}

func (a *fakeAuthHost) Invalidate() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.invalidated++
	a.state.IsValid = false
}

func (a *fakeAuthHost) snapshot() AuthState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// fakeConfig applies changes directly and records every call in ops.
type fakeConfig struct {
	mu         sync.Mutex
	values     map[string]string
	resets     [][]string
	persists   int
	discards   int
	putErr     error
	resetErr   error
	persistErr error
	ops        []string
}

func (c *fakeConfig) Put(key, value string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.putErr != nil {
		return c.putErr
	}
	if c.values == nil {
		c.values = make(map[string]string)
	}
	c.values[key] = value
	c.ops = append(c.ops, "put:"+key)
	return nil
}

func (c *fakeConfig) Reset(keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.resetErr != nil {
		return c.resetErr
	}
	c.resets = append(c.resets, keys)
	for _, k := range keys {
		delete(c.values, k)
	}
	c.ops = append(c.ops, "reset")
	return nil
}

func (c *fakeConfig) PersistChanges() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.persistErr != nil {
		return c.persistErr
	}
	c.persists++
	c.ops = append(c.ops, "persist")
	return nil
}

func (c *fakeConfig) Discard() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.discards++
	c.ops = append(c.ops, "discard")
}

type fakePlatform struct {
	granted map[string]bool
}

func (p *fakePlatform) IsGranted(permission string) bool { return p.granted[permission] }

type fakeRequester struct {
	mu       sync.Mutex
	caps     []string
	err      error
	requests map[int][]string
}

func (r *fakeRequester) Permissions() []string { return r.caps }

func (r *fakeRequester) Request(code int, permissions []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	if r.requests == nil {
		r.requests = make(map[int][]string)
	}
	r.requests[code] = permissions
	return nil
}

func (r *fakeRequester) last() (int, []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for code, perms := range r.requests {
		return code, perms
	}
	return -1, nil
}

// recorder is an in-memory listener handle.
type recorder[T any] struct {
	mu      sync.Mutex
	next    []T
	success []T
	errors  []string
	done    chan struct{}
}

func newRecorder[T any]() *recorder[T] {
	return &recorder[T]{done: make(chan struct{})}
}

func (r *recorder[T]) Next(v T) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next = append(r.next, v)
	return nil
}

func (r *recorder[T]) Success(v T) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.success = append(r.success, v)
	r.finish()
	return nil
}

func (r *recorder[T]) Error(msg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, msg)
	r.finish()
	return nil
}

func (r *recorder[T]) finish() {
	select {
	case <-r.done:
	default:
		close(r.done)
	}
}

func (r *recorder[T]) snapshot() (next, success []T, errs []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]T(nil), r.next...), append([]T(nil), r.success...), append([]string(nil), r.errors...)
}

type harness struct {
	bridge  *Bridge
	session *fakeConnection[SessionHost]
	auth    *fakeConnection[AuthHost]
	host    *fakeSessionHost
	authed  *fakeAuthHost
	config  *fakeConfig
	bus     *events.Bus
	states  chan State
}

type harnessOption func(*harness, *Options)

func manualSession() harnessOption {
	return func(h *harness, _ *Options) { h.session.manual = true }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()

	h := &harness{
		host:   &fakeSessionHost{status: events.ServerConnected, cachesActive: true},
		authed: &fakeAuthHost{},
		config: &fakeConfig{},
		bus:    events.NewBus(zerolog.Nop()),
		states: make(chan State, 64),
	}
	h.session = &fakeConnection[SessionHost]{host: h.host}
	h.auth = &fakeConnection[AuthHost]{host: h.authed}

	o := Options{
		Session:              h.session,
		Auth:                 h.auth,
		Config:               h.config,
		Bus:                  h.bus,
		Platform:             &fakePlatform{},
		BluetoothPermissions: []string{"BLUETOOTH_SCAN", "BLUETOOTH_CONNECT"},
		OnStateChange:        func(s State) { h.states <- s },
		Logger:               zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(h, &o)
	}
	h.bridge = New(o)

	t.Cleanup(func() {
		h.bridge.Destroy()
		require.NoError(t, h.bus.Close())
	})
	return h
}

// start binds the bridge and waits for the start listener.
func (h *harness) start(t *testing.T) {
	t.Helper()
	rec := newRecorder[struct{}]()
	require.NoError(t, h.bridge.Start(rec))
	<-rec.done
	_, success, errs := rec.snapshot()
	require.Empty(t, errs)
	require.Len(t, success, 1)
}

var errBoom = errors.New("boom")

func strPtr(s string) *string { return &s }
