package simhost

import (
	"testing"

	"github.com/harun/passivebridge/pkg/bridge"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthHost(t *testing.T) {
	t.Run("starts logged out", func(t *testing.T) {
		a, err := NewAuthHost(openMemoryStore(t), zerolog.Nop())
		require.NoError(t, err)

		s := a.Snapshot()
		assert.False(t, s.IsValid)
		assert.True(t, s.NeedsRegisteredSources)
		assert.False(t, a.Authorized())
	})

	t.Run("state survives a restart", func(t *testing.T) {
		store := openMemoryStore(t)
		a, err := NewAuthHost(store, zerolog.Nop())
		require.NoError(t, err)

		token := "abc"
		a.UpdateState(func(s *bridge.AuthState) {
			s.UserID = "user"
			s.ProjectID = "project"
			s.Token = &token
			s.IsValid = true
			s.Attributes[bridge.BaseURLAttribute] = "https://radar.example"
			s.Headers = []bridge.Header{{Name: "Authorization", Value: "Bearer abc"}}
		})

		restored, err := NewAuthHost(store, zerolog.Nop())
		require.NoError(t, err)
		s := restored.Snapshot()
		assert.Equal(t, "user", s.UserID)
		assert.Equal(t, "project", s.ProjectID)
		require.NotNil(t, s.Token)
		assert.Equal(t, "abc", *s.Token)
		assert.Equal(t, "https://radar.example", s.Attributes[bridge.BaseURLAttribute])
		assert.Equal(t, []bridge.Header{{Name: "Authorization", Value: "Bearer abc"}}, s.Headers)
		assert.True(t, restored.Authorized())
	})

	t.Run("invalidate drops the token", func(t *testing.T) {
		a, err := NewAuthHost(openMemoryStore(t), zerolog.Nop())
		require.NoError(t, err)

		token := "abc"
		a.UpdateState(func(s *bridge.AuthState) {
			s.UserID = "user"
			s.Token = &token
			s.IsValid = true
		})
		a.Invalidate()

		s := a.Snapshot()
		assert.False(t, s.IsValid)
		assert.Nil(t, s.Token)
		assert.Equal(t, "user", s.UserID)
	})

	t.Run("snapshot is a copy", func(t *testing.T) {
		a, err := NewAuthHost(openMemoryStore(t), zerolog.Nop())
		require.NoError(t, err)

		s := a.Snapshot()
		s.Attributes["x"] = "y"
		s.UserID = "changed"

		assert.NotContains(t, a.Snapshot().Attributes, "x")
		assert.Empty(t, a.Snapshot().UserID)
	})

	t.Run("unreadable stored state is ignored", func(t *testing.T) {
		store := openMemoryStore(t)
		require.NoError(t, store.Save(authStateKey, "{not json"))

		a, err := NewAuthHost(store, zerolog.Nop())
		require.NoError(t, err)
		assert.False(t, a.Snapshot().IsValid)
	})
}
