package simhost

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/harun/passivebridge/internal/observability"
	"github.com/harun/passivebridge/pkg/bridge"
	"github.com/rs/zerolog"
)

// authStateKey is the settings key holding the persisted credentials.
const authStateKey = "auth.state"

type persistedAuth struct {
	UserID                 string            `json:"userId"`
	ProjectID              string            `json:"projectId"`
	Token                  *string           `json:"token"`
	Attributes             map[string]string `json:"attributes,omitempty"`
	Headers                []bridge.Header   `json:"headers,omitempty"`
	IsValid                bool              `json:"isValid"`
	NeedsRegisteredSources bool              `json:"needsRegisteredSources"`
}

// AuthHost holds the upload credentials and persists every change.
type AuthHost struct {
	store  *Store
	logger zerolog.Logger

	mu    sync.Mutex
	state bridge.AuthState
}

// NewAuthHost restores the last persisted credentials, if any.
func NewAuthHost(store *Store, logger zerolog.Logger) (*AuthHost, error) {
	a := &AuthHost{
		store:  store,
		logger: logger.With().Str("component", "auth_host").Logger(),
		state:  bridge.AuthState{Attributes: map[string]string{}, NeedsRegisteredSources: true},
	}

	raw, ok, err := store.Get(authStateKey)
	if err != nil {
		return nil, err
	}
	if ok {
		var p persistedAuth
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			a.logger.Warn().Err(err).Msg("Discarding unreadable stored credentials")
		} else {
			a.state = bridge.AuthState(p)
			if a.state.Attributes == nil {
				a.state.Attributes = map[string]string{}
			}
		}
	}
	return a, nil
}

func (a *AuthHost) UpdateState(fn func(state *bridge.AuthState)) {
	a.mu.Lock()
	defer a.mu.Unlock()

	fn(&a.state)
	a.persist()
	a.logger.Debug().
		Str("userId", a.state.UserID).
		Bool("isValid", a.state.IsValid).
		Msg("Credentials updated")
	observability.RecordSessionAudit(context.Background(), "auth.update", a.state.UserID, validity(a.state.IsValid))
}

func (a *AuthHost) Invalidate() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.state.IsValid = false
	a.state.Token = nil
	a.persist()
	a.logger.Info().Msg("Credentials invalidated")
	observability.RecordSessionAudit(context.Background(), "auth.invalidate", a.state.UserID, "invalid")
}

func validity(valid bool) string {
	if valid {
		return "valid"
	}
	return "invalid"
}

// persist must be called with a.mu held.
func (a *AuthHost) persist() {
	data, err := json.Marshal(persistedAuth(a.state))
	if err != nil {
		a.logger.Error().Err(err).Msg("Failed to encode credentials")
		return
	}
	if err := a.store.Save(authStateKey, string(data)); err != nil {
		a.logger.Error().Err(err).Msg("Failed to persist credentials")
	}
}

// Snapshot returns a deep copy of the current state.
func (a *AuthHost) Snapshot() bridge.AuthState {
	a.mu.Lock()
	defer a.mu.Unlock()

	s := a.state
	if a.state.Token != nil {
		token := *a.state.Token
		s.Token = &token
	}
	s.Attributes = make(map[string]string, len(a.state.Attributes))
	for k, v := range a.state.Attributes {
		s.Attributes[k] = v
	}
	s.Headers = append([]bridge.Header(nil), a.state.Headers...)
	return s
}

// Authorized reports whether uploads may proceed.
func (a *AuthHost) Authorized() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state.IsValid
}
