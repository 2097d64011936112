package bridge

import (
	"github.com/harun/passivebridge/pkg/events"
	"github.com/harun/passivebridge/pkg/permission"
)

// ProviderInfo describes one source plugin known to the session host.
type ProviderInfo struct {
	Name                 string
	Bound                bool
	State                *events.SourceState
	SourceName           *string
	PermissionsNeeded    []string
	PermissionsRequested []string
}

// CacheInfo is the number of records waiting in one cache.
type CacheInfo struct {
	Topic   string
	Records int64
}

// FlushCallback receives flush progress. Exactly one of Success or Error is
// called last.
type FlushCallback struct {
	Progress func(current, total int64)
	Success  func()
	Error    func(err error)
}

// SessionHost is the bound data collection service.
type SessionHost interface {
	StartScanning()
	StopScanning()
	ServerStatus() events.ServerStatus

	// Plugins lists every configured provider, Connections only the ones
	// with an active connection.
	Plugins() []ProviderInfo
	Connections() []ProviderInfo
	PermissionsNeeded() []string

	// Caches reports false while the data handler is not running.
	Caches() ([]CacheInfo, bool)
	SetAllowedSourceIDs(plugin string, ids []string) error
	FlushCaches(cb FlushCallback)
	PermissionRequesters() []permission.Requester
}

// Header is one HTTP header sent with uploads.
type Header struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// AuthState is the credential state held by the auth host.
type AuthState struct {
	UserID                 string
	ProjectID              string
	Token                  *string
	Attributes             map[string]string
	Headers                []Header
	IsValid                bool
	NeedsRegisteredSources bool
}

// AuthHost is the bound credential service.
type AuthHost interface {
	// UpdateState applies fn atomically and persists the result.
	UpdateState(fn func(state *AuthState))
	// Invalidate marks the current credentials as unusable.
	Invalidate()
}

// Configuration is the session host's settings store.
type Configuration interface {
	Put(key, value string) error
	Reset(keys ...string) error
	PersistChanges() error
	// Discard drops every staged change.
	Discard()
}

// Connection binds to a host service. onBound may run on any goroutine and
// runs again after every rebind; onUnbound runs when the service goes away
// without Unbind being called.
type Connection[B any] interface {
	Bind(onBound func(B), onUnbound func()) error
	Unbind()
}
