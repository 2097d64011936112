package simhost

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/harun/passivebridge/internal/config"
	"github.com/harun/passivebridge/pkg/bridge"
	"github.com/harun/passivebridge/pkg/events"
	"github.com/harun/passivebridge/pkg/permission"
	"github.com/rs/zerolog"
)

// ErrUnauthorized is reported by uploads while the credentials are invalid.
var ErrUnauthorized = errors.New("upload credentials are not valid")

// ErrClosed is reported by work submitted after Close.
var ErrClosed = errors.New("session host is closed")

type plugin struct {
	cfg        config.PluginConfig
	connecting bool
	connected  bool
	state      *events.SourceState
	allowed    []string
}

// Options configures a SessionHost.
type Options struct {
	Config   config.HostConfig
	Bus      *events.Bus
	Store    *Store
	Auth     *AuthHost
	Platform *Platform
	Logger   zerolog.Logger
}

// SessionHost implements bridge.SessionHost. Notifications are always
// published without holding mu, since the bridge reads the host back from
// its notification handlers.
type SessionHost struct {
	bus                *events.Bus
	store              *Store
	auth               *AuthHost
	platform           *Platform
	servicePermissions []string
	requesters         []*Requester
	logger             zerolog.Logger

	mu            sync.Mutex
	plugins       []*plugin
	scanning      bool
	handlerActive bool
	status        events.ServerStatus
	caches        map[string]int64
	closed        bool

	// uploadMu serializes upload cycles and flushes.
	uploadMu sync.Mutex
	wg       sync.WaitGroup
}

func NewSessionHost(opts Options) (*SessionHost, error) {
	if opts.Bus == nil || opts.Store == nil || opts.Auth == nil || opts.Platform == nil {
		return nil, errors.New("bus, store, auth host and platform are required")
	}

	h := &SessionHost{
		bus:                opts.Bus,
		store:              opts.Store,
		auth:               opts.Auth,
		platform:           opts.Platform,
		servicePermissions: append([]string(nil), opts.Config.ServicePermissions...),
		logger:             opts.Logger.With().Str("component", "session_host").Logger(),
		status:             events.ServerDisconnected,
		caches:             make(map[string]int64),
	}

	for _, cfg := range opts.Config.Plugins {
		p := &plugin{cfg: cfg}
		raw, ok, err := opts.Store.Get(allowedKey(cfg.Name))
		if err != nil {
			return nil, err
		}
		if ok {
			if err := json.Unmarshal([]byte(raw), &p.allowed); err != nil {
				h.logger.Warn().Err(err).Str("plugin", cfg.Name).Msg("Ignoring stored source ids")
			}
		}
		h.plugins = append(h.plugins, p)
	}

	for _, cfg := range opts.Config.Requesters {
		h.requesters = append(h.requesters, NewRequester(cfg, opts.Platform))
	}

	return h, nil
}

func allowedKey(plugin string) string {
	return "plugin." + plugin + ".allowed_source_ids"
}

// Requesters returns the permission prompt providers, so a result handler
// can be attached to each.
func (h *SessionHost) Requesters() []*Requester {
	return append([]*Requester(nil), h.requesters...)
}

func (h *SessionHost) PermissionRequesters() []permission.Requester {
	list := make([]permission.Requester, len(h.requesters))
	for i, r := range h.requesters {
		list[i] = r
	}
	return list
}

func (h *SessionHost) find(name string) *plugin {
	for _, p := range h.plugins {
		if p.cfg.Name == name {
			return p
		}
	}
	return nil
}

func (h *SessionHost) missingPermissions(p *plugin) []string {
	var missing []string
	for _, perm := range p.cfg.PermissionsNeeded {
		if !h.platform.IsGranted(perm) {
			missing = append(missing, perm)
		}
	}
	return missing
}

// async runs fn on a tracked goroutine unless the host is closed.
// async reports false when the host is closed and fn was not started.
func (h *SessionHost) async(fn func()) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		fn()
	}()
	return true
}

func (h *SessionHost) publish(what string, err error) {
	if err != nil {
		h.logger.Debug().Err(err).Str("notification", what).Msg("Notification not delivered")
	}
}

// StartScanning activates the data handler and connects every enabled plugin
// whose permissions are granted.
func (h *SessionHost) StartScanning() {
	h.mu.Lock()
	h.scanning = true
	h.handlerActive = true

	var names []string
	for _, p := range h.plugins {
		if !p.cfg.Enabled || p.connected || p.connecting {
			continue
		}
		if missing := h.missingPermissions(p); len(missing) > 0 {
			h.logger.Info().Str("plugin", p.cfg.Name).Strs("missing", missing).Msg("Plugin waiting for permissions")
			continue
		}
		p.connecting = true
		names = append(names, p.cfg.Name)
	}
	h.mu.Unlock()

	h.logger.Info().Strs("plugins", names).Msg("Scanning started")
	if len(names) > 0 {
		h.async(func() { h.connect(names) })
	}
}

func (h *SessionHost) connect(names []string) {
	connected := 0
	for _, name := range names {
		if status, ok := h.transition(name, events.SourceConnecting); ok {
			h.publish("source_status", h.bus.PublishSourceStatus(status))
		}
		if status, ok := h.transition(name, events.SourceConnected); ok {
			connected++
			h.publish("source_status", h.bus.PublishSourceStatus(status))
		}
	}
	if connected > 0 {
		h.publish("plugins_updated", h.bus.PublishPluginsUpdated())
	}
}

// transition moves a connecting plugin to state. It fails when scanning was
// stopped in the meantime.
func (h *SessionHost) transition(name string, state events.SourceState) (events.SourceStatus, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	p := h.find(name)
	if p == nil || !p.connecting || !h.scanning {
		return events.SourceStatus{}, false
	}
	st := state
	p.state = &st
	if state == events.SourceConnected {
		p.connecting = false
		p.connected = true
	}
	return h.statusOf(p), true
}

func (h *SessionHost) statusOf(p *plugin) events.SourceStatus {
	status := events.SourceStatus{Plugin: p.cfg.Name, State: events.SourceDisconnected}
	if p.state != nil {
		status.State = *p.state
	}
	if p.connected && p.cfg.SourceName != "" {
		name := p.cfg.SourceName
		status.SourceName = &name
	}
	return status
}

// StopScanning disconnects every plugin. Cached records are kept.
func (h *SessionHost) StopScanning() {
	h.mu.Lock()
	h.scanning = false
	var statuses []events.SourceStatus
	for _, p := range h.plugins {
		if !p.connected && !p.connecting {
			continue
		}
		p.connected = false
		p.connecting = false
		st := events.SourceDisconnected
		p.state = &st
		statuses = append(statuses, h.statusOf(p))
	}
	h.mu.Unlock()

	h.logger.Info().Int("disconnected", len(statuses)).Msg("Scanning stopped")
	if len(statuses) == 0 {
		return
	}
	h.async(func() {
		for _, s := range statuses {
			h.publish("source_status", h.bus.PublishSourceStatus(s))
		}
		h.publish("plugins_updated", h.bus.PublishPluginsUpdated())
	})
}

func (h *SessionHost) Scanning() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.scanning
}

func (h *SessionHost) ServerStatus() events.ServerStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}

func (h *SessionHost) providerInfo(p *plugin) bridge.ProviderInfo {
	info := bridge.ProviderInfo{
		Name:                 p.cfg.Name,
		Bound:                p.cfg.Enabled,
		PermissionsNeeded:    append([]string(nil), p.cfg.PermissionsNeeded...),
		PermissionsRequested: append([]string(nil), p.cfg.PermissionsRequested...),
	}
	if p.state != nil {
		st := *p.state
		info.State = &st
	}
	if p.connected && p.cfg.SourceName != "" {
		name := p.cfg.SourceName
		info.SourceName = &name
	}
	return info
}

// Plugins lists every configured plugin. Disabled plugins are reported as
// not bound.
func (h *SessionHost) Plugins() []bridge.ProviderInfo {
	h.mu.Lock()
	defer h.mu.Unlock()

	list := make([]bridge.ProviderInfo, 0, len(h.plugins))
	for _, p := range h.plugins {
		list = append(list, h.providerInfo(p))
	}
	return list
}

func (h *SessionHost) Connections() []bridge.ProviderInfo {
	h.mu.Lock()
	defer h.mu.Unlock()

	var list []bridge.ProviderInfo
	for _, p := range h.plugins {
		if p.connected {
			list = append(list, h.providerInfo(p))
		}
	}
	return list
}

func (h *SessionHost) PermissionsNeeded() []string {
	return append([]string(nil), h.servicePermissions...)
}

// Caches lists the record count per topic, sorted by topic. It reports
// false until scanning has started once.
func (h *SessionHost) Caches() ([]bridge.CacheInfo, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.handlerActive {
		return nil, false
	}
	return h.cacheList(), true
}

// cacheList must be called with h.mu held.
func (h *SessionHost) cacheList() []bridge.CacheInfo {
	list := make([]bridge.CacheInfo, 0, len(h.caches))
	for topic, n := range h.caches {
		list = append(list, bridge.CacheInfo{Topic: topic, Records: n})
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Topic < list[j].Topic })
	return list
}

// AllowedSourceIDs returns the source ids plugin may connect to. Empty means
// any source.
func (h *SessionHost) AllowedSourceIDs(name string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if p := h.find(name); p != nil {
		return append([]string(nil), p.allowed...)
	}
	return nil
}

func (h *SessionHost) SetAllowedSourceIDs(name string, ids []string) error {
	h.mu.Lock()
	p := h.find(name)
	if p == nil {
		h.mu.Unlock()
		return fmt.Errorf("unknown plugin %s", name)
	}
	p.allowed = append([]string(nil), ids...)
	h.mu.Unlock()

	data, err := json.Marshal(ids)
	if err != nil {
		return err
	}
	if err := h.store.Save(allowedKey(name), string(data)); err != nil {
		return err
	}
	h.logger.Info().Str("plugin", name).Strs("sourceIds", ids).Msg("Allowed source ids updated")
	return nil
}

// Collect adds n records to every topic of each connected plugin and returns
// the number added.
func (h *SessionHost) Collect(n int) int64 {
	if n <= 0 {
		return 0
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.handlerActive {
		return 0
	}
	var added int64
	for _, p := range h.plugins {
		if !p.connected {
			continue
		}
		for _, topic := range p.cfg.Topics {
			h.caches[topic] += int64(n)
			added += int64(n)
		}
	}
	return added
}

// setStatus reports whether the status changed.
func (h *SessionHost) setStatus(s events.ServerStatus) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	changed := h.status != s
	h.status = s
	return changed
}

func (h *SessionHost) announce(s events.ServerStatus) {
	if h.setStatus(s) {
		h.publish("server_status", h.bus.PublishServerStatus(s))
	}
}

// drain empties the caches and returns what they held.
func (h *SessionHost) drain() ([]bridge.CacheInfo, int64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	pending := h.cacheList()
	var total int64
	for _, c := range pending {
		total += c.Records
	}
	for topic := range h.caches {
		h.caches[topic] = 0
	}
	return pending, total
}

// pending lists the topics holding records, leaving the caches untouched.
func (h *SessionHost) pending() []bridge.CacheInfo {
	h.mu.Lock()
	defer h.mu.Unlock()

	var list []bridge.CacheInfo
	for _, c := range h.cacheList() {
		if c.Records > 0 {
			list = append(list, c)
		}
	}
	return list
}

// Upload sends every cached record. progress, if set, is called after each
// topic.
func (h *SessionHost) Upload(progress func(current, total int64)) error {
	h.uploadMu.Lock()
	defer h.uploadMu.Unlock()

	if !h.auth.Authorized() {
		h.announce(events.ServerUnauthorized)
		for _, c := range h.pending() {
			h.publish("records_sent", h.bus.PublishRecordsSent(c.Topic, -1))
		}
		return ErrUnauthorized
	}

	pending, total := h.drain()
	if total == 0 {
		h.announce(events.ServerConnected)
		return nil
	}

	h.announce(events.ServerUploading)
	var current int64
	for _, c := range pending {
		if c.Records == 0 {
			continue
		}
		current += c.Records
		h.publish("records_sent", h.bus.PublishRecordsSent(c.Topic, c.Records))
		if progress != nil {
			progress(current, total)
		}
	}
	h.announce(events.ServerConnected)

	h.logger.Debug().Int64("records", total).Int("topics", len(pending)).Msg("Records uploaded")
	return nil
}

// FlushCaches uploads everything cached on a goroutine, reporting through cb.
func (h *SessionHost) FlushCaches(cb bridge.FlushCallback) {
	started := h.async(func() {
		if err := h.Upload(cb.Progress); err != nil {
			if cb.Error != nil {
				cb.Error(err)
			}
			return
		}
		if cb.Success != nil {
			cb.Success()
		}
	})
	if !started && cb.Error != nil {
		cb.Error(ErrClosed)
	}
}

// Close waits for pending notifications and prompts. The store is not
// closed.
func (h *SessionHost) Close() {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()

	h.wg.Wait()
	for _, r := range h.requesters {
		r.Wait()
	}
}

var (
	_ bridge.SessionHost   = (*SessionHost)(nil)
	_ bridge.AuthHost      = (*AuthHost)(nil)
	_ bridge.Configuration = (*Store)(nil)
	_ permission.Platform  = (*Platform)(nil)
)
