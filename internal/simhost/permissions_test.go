package simhost

import (
	"sync"
	"testing"

	"github.com/harun/passivebridge/internal/config"
	"github.com/harun/passivebridge/pkg/listener"
	"github.com/harun/passivebridge/pkg/permission"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlatform(t *testing.T) {
	p := NewPlatform("B")
	assert.True(t, p.IsGranted("B"))
	assert.False(t, p.IsGranted("A"))

	p.Grant("A", "C")
	assert.Equal(t, []string{"A", "B", "C"}, p.Granted())

	p.Revoke("B")
	assert.False(t, p.IsGranted("B"))
}

func TestRequester(t *testing.T) {
	t.Run("fails without a result handler", func(t *testing.T) {
		r := NewRequester(config.RequesterConfig{Permissions: []string{"A"}}, NewPlatform())
		assert.ErrorIs(t, r.Request(1, []string{"A"}), ErrNoResultHandler)
	})

	t.Run("auto grant updates the platform", func(t *testing.T) {
		platform := NewPlatform()
		r := NewRequester(config.RequesterConfig{Permissions: []string{"A", "B"}, AutoGrant: true}, platform)

		var mu sync.Mutex
		var gotCode int
		var gotGranted []string
		r.SetResultHandler(func(code int, granted []string, err error) bool {
			mu.Lock()
			defer mu.Unlock()
			gotCode, gotGranted = code, granted
			return true
		})

		require.NoError(t, r.Request(7, []string{"A"}))
		r.Wait()

		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, 7, gotCode)
		assert.Equal(t, []string{"A"}, gotGranted)
		assert.True(t, platform.IsGranted("A"))
		assert.False(t, platform.IsGranted("B"))
	})

	t.Run("dismissed prompts grant nothing", func(t *testing.T) {
		platform := NewPlatform()
		r := NewRequester(config.RequesterConfig{Permissions: []string{"A"}}, platform)

		results := make(chan []string, 1)
		r.SetResultHandler(func(_ int, granted []string, _ error) bool {
			results <- granted
			return true
		})

		require.NoError(t, r.Request(1, []string{"A"}))
		assert.Empty(t, <-results)
		assert.False(t, platform.IsGranted("A"))
	})

	t.Run("round trip through a negotiator", func(t *testing.T) {
		platform := NewPlatform("B")
		r := NewRequester(config.RequesterConfig{Permissions: []string{"A", "B"}, AutoGrant: true}, platform)
		n := permission.NewNegotiator(platform, zerolog.Nop())
		r.SetResultHandler(n.OnResult)
		n.SetRequesters([]permission.Requester{r})

		done := make(chan []string, 1)
		_, err := n.Request([]string{"A", "B"}, &listener.Funcs[[]string]{
			OnSuccess: func(granted []string) { done <- granted },
			OnError:   func(msg string) { t.Errorf("unexpected error: %s", msg) },
		})
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"A", "B"}, <-done)
	})
}
