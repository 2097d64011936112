package bridge

import (
	"fmt"
	"sort"

	"github.com/harun/passivebridge/pkg/events"
	"github.com/harun/passivebridge/pkg/listener"
)

// BaseURLAttribute is the auth attribute holding the upload server address.
const BaseURLAttribute = "baseUrl"

// ServiceRequester is the requester name used for permissions the session
// host itself needs.
const ServiceRequester = "radar_service"

// Authentication is the credential snapshot pushed to the auth host.
type Authentication struct {
	BaseURL   string  `json:"baseUrl"`
	UserID    string  `json:"userId"`
	ProjectID string  `json:"projectId"`
	Token     *string `json:"token,omitempty"`
}

// FlushResult is either FlushProgress or FlushSuccess.
type FlushResult interface {
	isFlushResult()
}

type FlushProgress struct {
	Current int64
	Total   int64
}

type FlushSuccess struct{}

func (FlushProgress) isFlushResult() {}
func (FlushSuccess) isFlushResult()  {}

// Configure applies settings in one batch. Keys with a nil or empty value
// are reset to their defaults, the others are overridden. Changes are
// persisted once at the end; on any error nothing from the batch is kept.
func (b *Bridge) Configure(settings map[string]*string) error {
	b.configMu.Lock()
	defer b.configMu.Unlock()

	keys := make([]string, 0, len(settings))
	for k := range settings {
		if k == "" {
			return ErrEmptySettingKey
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	reset, err := b.stageSettings(keys, settings)
	if err != nil {
		b.config.Discard()
		return err
	}
	if err := b.config.PersistChanges(); err != nil {
		b.config.Discard()
		return fmt.Errorf("failed to persist configuration: %w", err)
	}

	b.logger.Info().Int("set", len(keys)-len(reset)).Strs("reset", reset).Msg("Configuration updated")
	return nil
}

func (b *Bridge) stageSettings(keys []string, settings map[string]*string) ([]string, error) {
	var reset []string
	for _, k := range keys {
		v := settings[k]
		if v == nil || *v == "" {
			reset = append(reset, k)
			continue
		}
		if err := b.config.Put(k, *v); err != nil {
			return nil, fmt.Errorf("failed to set %s: %w", k, err)
		}
	}

	if len(reset) > 0 {
		if err := b.config.Reset(reset...); err != nil {
			return nil, fmt.Errorf("failed to reset %v: %w", reset, err)
		}
	}
	return reset, nil
}

// SetAuthentication stores auth and pushes it to the auth host if bound. nil
// logs out. Once set, the stored value is pushed again whenever the auth host
// binds; before the first call a bind keeps the host's own credentials.
func (b *Bridge) SetAuthentication(auth *Authentication) {
	var snapshot *Authentication
	if auth != nil {
		copied := *auth
		snapshot = &copied
	}

	b.mu.Lock()
	b.authentication = snapshot
	b.authSet = true
	b.mu.Unlock()

	b.syncAuthentication()
}

func (b *Bridge) syncAuthentication() {
	b.authMu.Lock()
	defer b.authMu.Unlock()

	b.mu.Lock()
	host := b.authHost
	auth := b.authentication
	set := b.authSet
	b.mu.Unlock()

	if host == nil || !set {
		return
	}

	host.UpdateState(func(state *AuthState) {
		applyAuthentication(state, auth)
	})
	b.logger.Debug().Bool("loggedIn", auth != nil).Msg("Authentication synchronized")
}

func applyAuthentication(state *AuthState, auth *Authentication) {
	if state.Attributes == nil {
		state.Attributes = make(map[string]string)
	}

	if auth == nil {
		state.IsValid = false
		state.UserID = ""
		state.ProjectID = ""
		state.Token = nil
		state.NeedsRegisteredSources = true
		delete(state.Attributes, BaseURLAttribute)
		state.Headers = nil
		return
	}

	state.UserID = auth.UserID
	state.ProjectID = auth.ProjectID
	state.Token = auth.Token
	state.Attributes[BaseURLAttribute] = auth.BaseURL
	state.NeedsRegisteredSources = false
	state.IsValid = true

	if auth.Token != nil {
		headers := state.Headers[:0:0]
		for _, h := range state.Headers {
			if h.Name != "Authorization" {
				headers = append(headers, h)
			}
		}
		state.Headers = append(headers, Header{Name: "Authorization", Value: "Bearer " + *auth.Token})
	}
}

func (b *Bridge) StartScanning() error {
	host, err := b.host()
	if err != nil {
		return err
	}
	host.StartScanning()
	return nil
}

func (b *Bridge) StopScanning() error {
	host, err := b.host()
	if err != nil {
		return err
	}
	host.StopScanning()
	return nil
}

// OnAcquiredPermissions restarts scanning so plugins pick up permissions
// granted outside the bridge.
func (b *Bridge) OnAcquiredPermissions(permissions []string) error {
	b.logger.Debug().Strs("permissions", permissions).Msg("Permissions acquired externally")
	return b.StartScanning()
}

func (b *Bridge) ServerStatus() (events.ServerStatus, error) {
	host, err := b.host()
	if err != nil {
		return 0, err
	}
	return host.ServerStatus(), nil
}

// SourceStatus returns the status of every configured plugin keyed by name.
// Unbound plugins report DISABLED, bound ones without a state DISCONNECTED.
func (b *Bridge) SourceStatus() (map[string]events.SourceStatus, error) {
	host, err := b.host()
	if err != nil {
		return nil, err
	}

	plugins := host.Plugins()
	statuses := make(map[string]events.SourceStatus, len(plugins))
	for _, p := range plugins {
		status := events.SourceStatus{Plugin: p.Name, State: events.SourceDisabled}
		if p.Bound {
			status.State = events.SourceDisconnected
			if p.State != nil {
				status.State = *p.State
			}
			status.SourceName = p.SourceName
		}
		statuses[p.Name] = status
	}
	return statuses, nil
}

// RecordsInCache sums cached records per topic.
func (b *Bridge) RecordsInCache() (map[string]int64, error) {
	host, err := b.host()
	if err != nil {
		return nil, err
	}

	caches, active := host.Caches()
	if !active {
		return nil, ErrDataHandlerInactive
	}

	counts := make(map[string]int64, len(caches))
	for _, c := range caches {
		counts[c.Topic] += c.Records
	}
	return counts, nil
}

// PermissionsNeeded maps each permission to the requesters needing it.
func (b *Bridge) PermissionsNeeded() (map[string][]string, error) {
	host, err := b.host()
	if err != nil {
		return nil, err
	}

	grouped := make(map[string]map[string]bool)
	groupInverted := func(name string, permissions []string) {
		for _, p := range permissions {
			if grouped[p] == nil {
				grouped[p] = make(map[string]bool)
			}
			grouped[p][name] = true
		}
	}

	groupInverted(ServiceRequester, host.PermissionsNeeded())
	for _, c := range host.Connections() {
		groupInverted(c.Name, c.PermissionsNeeded)
		groupInverted(c.Name, c.PermissionsRequested)
	}

	needed := make(map[string][]string, len(grouped))
	for p, names := range grouped {
		list := make([]string, 0, len(names))
		for n := range names {
			list = append(list, n)
		}
		sort.Strings(list)
		needed[p] = list
	}
	return needed, nil
}

// BluetoothNeeded lists connected plugins that need a bluetooth permission.
func (b *Bridge) BluetoothNeeded() ([]string, error) {
	host, err := b.host()
	if err != nil {
		return nil, err
	}

	plugins := []string{}
	for _, c := range host.Connections() {
		for _, p := range c.PermissionsNeeded {
			if b.bluetooth[p] {
				plugins = append(plugins, c.Name)
				break
			}
		}
	}
	return plugins, nil
}

// PluginsActive lists the names of connected plugins.
func (b *Bridge) PluginsActive() ([]string, error) {
	host, err := b.host()
	if err != nil {
		return nil, err
	}

	connections := host.Connections()
	names := make([]string, 0, len(connections))
	for _, c := range connections {
		names = append(names, c.Name)
	}
	return names, nil
}

// SetAllowedSourceIDs restricts which sources plugin may connect to.
func (b *Bridge) SetAllowedSourceIDs(plugin string, ids []string) error {
	host, err := b.host()
	if err != nil {
		return err
	}

	for _, c := range host.Connections() {
		if c.Name == plugin {
			return host.SetAllowedSourceIDs(plugin, ids)
		}
	}
	return &PluginNotFoundError{Plugin: plugin}
}

// FlushCaches streams progress to h and finishes with FlushSuccess or an
// error. A flush still running at teardown fails with the stopped message.
func (b *Bridge) FlushCaches(h listener.Handle[FlushResult]) error {
	host, err := b.host()
	if err != nil {
		return err
	}

	id := b.flushes.Register(listener.AutoID, h)
	host.FlushCaches(FlushCallback{
		Progress: func(current, total int64) {
			_ = h.Next(FlushProgress{Current: current, Total: total})
		},
		Success: func() {
			if b.flushes.Unregister(id) {
				_ = h.Success(FlushSuccess{})
			}
		},
		Error: func(err error) {
			if b.flushes.Unregister(id) {
				_ = h.Error(err.Error())
			}
		},
	})
	return nil
}

// RequestPermissions negotiates a platform prompt for permissions and
// resolves h with the granted set.
func (b *Bridge) RequestPermissions(permissions []string, h listener.Handle[[]string]) error {
	if _, err := b.host(); err != nil {
		return err
	}
	_, err := b.negotiator.Request(permissions, h)
	return err
}

// RequestPermissionsSupported returns each requester's permissions keyed by
// requester index.
func (b *Bridge) RequestPermissionsSupported() (map[string][]string, error) {
	if _, err := b.host(); err != nil {
		return nil, err
	}
	return b.negotiator.Supported(), nil
}

// OnPermissionsResult completes the permission prompt identified by code.
func (b *Bridge) OnPermissionsResult(code int, granted []string, err error) bool {
	return b.negotiator.OnResult(code, granted, err)
}
