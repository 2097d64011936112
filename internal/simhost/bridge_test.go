package simhost

import (
	"sync"
	"testing"
	"time"

	"github.com/harun/passivebridge/pkg/bridge"
	"github.com/harun/passivebridge/pkg/events"
	"github.com/harun/passivebridge/pkg/listener"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type wired struct {
	*fixture
	bridge  *bridge.Bridge
	session *Connection[bridge.SessionHost]
	authC   *Connection[bridge.AuthHost]
}

func newWired(t *testing.T) *wired {
	t.Helper()

	f := newFixture(t)
	w := &wired{
		fixture: f,
		session: NewConnection[bridge.SessionHost]("session", f.host, time.Millisecond, zerolog.Nop()),
		authC:   NewConnection[bridge.AuthHost]("auth", f.auth, time.Millisecond, zerolog.Nop()),
	}
	w.bridge = bridge.New(bridge.Options{
		Session:              w.session,
		Auth:                 w.authC,
		Config:               f.store,
		Bus:                  f.bus,
		Platform:             f.platform,
		BluetoothPermissions: []string{"BLUETOOTH_SCAN"},
		Logger:               zerolog.Nop(),
	})
	for _, r := range f.host.Requesters() {
		r.SetResultHandler(w.bridge.OnPermissionsResult)
	}

	t.Cleanup(func() {
		w.bridge.Destroy()
		w.session.Wait()
		w.authC.Wait()
	})
	return w
}

func (w *wired) start(t *testing.T) {
	t.Helper()
	done := make(chan string, 1)
	require.NoError(t, w.bridge.Start(&listener.Funcs[struct{}]{
		OnSuccess: func(struct{}) { done <- "" },
		OnError:   func(msg string) { done <- msg },
	}))
	select {
	case msg := <-done:
		require.Empty(t, msg)
	case <-time.After(waitFor):
		t.Fatal("bridge never bound")
	}
}

func TestBridgeOverSimulatedHost(t *testing.T) {
	w := newWired(t)

	_, err := w.bridge.ServerStatus()
	require.ErrorIs(t, err, bridge.ErrNotConnected)

	w.start(t)

	var mu sync.Mutex
	var plugins [][]string
	w.bridge.RegisterPluginListener(listener.AutoID, &listener.Funcs[[]string]{
		OnNext: func(names []string) {
			mu.Lock()
			plugins = append(plugins, names)
			mu.Unlock()
		},
	})

	require.NoError(t, w.bridge.StartScanning())
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(plugins) == 1
	}, waitFor, 5*time.Millisecond)
	mu.Lock()
	assert.Equal(t, []string{"phone"}, plugins[0])
	mu.Unlock()

	statuses, err := w.bridge.SourceStatus()
	require.NoError(t, err)
	assert.Equal(t, events.SourceConnected, statuses["phone"].State)
	assert.Equal(t, events.SourceDisconnected, statuses["e4"].State)
	assert.Equal(t, events.SourceDisabled, statuses["audio"].State)

	needed, err := w.bridge.PermissionsNeeded()
	require.NoError(t, err)
	assert.Equal(t, []string{bridge.ServiceRequester}, needed["ACCESS_NETWORK_STATE"])

	t.Run("permission prompt then rescan", func(t *testing.T) {
		granted := make(chan []string, 1)
		require.NoError(t, w.bridge.RequestPermissions([]string{"BLUETOOTH_SCAN"}, &listener.Funcs[[]string]{
			OnSuccess: func(p []string) { granted <- p },
			OnError:   func(msg string) { t.Errorf("unexpected error: %s", msg) },
		}))
		assert.Equal(t, []string{"BLUETOOTH_SCAN"}, <-granted)

		require.NoError(t, w.bridge.OnAcquiredPermissions([]string{"BLUETOOTH_SCAN"}))
		require.Eventually(t, func() bool {
			active, err := w.bridge.PluginsActive()
			return err == nil && len(active) == 2
		}, waitFor, 5*time.Millisecond)

		bt, err := w.bridge.BluetoothNeeded()
		require.NoError(t, err)
		assert.Equal(t, []string{"e4"}, bt)
	})

	t.Run("login enables flushing", func(t *testing.T) {
		token := "tok"
		w.bridge.SetAuthentication(&bridge.Authentication{
			BaseURL: "https://radar.example", UserID: "u", ProjectID: "p", Token: &token,
		})
		require.True(t, w.auth.Authorized())

		sent := make(chan events.SendStatus, 8)
		w.bridge.RegisterSendListener(listener.AutoID, &listener.Funcs[events.SendStatus]{
			OnNext: func(s events.SendStatus) { sent <- s },
		})

		w.host.Collect(2)
		counts, err := w.bridge.RecordsInCache()
		require.NoError(t, err)
		assert.Equal(t, int64(2), counts["bvp"])

		done := make(chan bridge.FlushResult, 16)
		require.NoError(t, w.bridge.FlushCaches(&listener.Funcs[bridge.FlushResult]{
			OnNext:    func(r bridge.FlushResult) { done <- r },
			OnSuccess: func(r bridge.FlushResult) { done <- r },
			OnError:   func(msg string) { t.Errorf("flush failed: %s", msg) },
		}))

		var progress []bridge.FlushProgress
	wait:
		for {
			select {
			case r := <-done:
				switch v := r.(type) {
				case bridge.FlushProgress:
					progress = append(progress, v)
				case bridge.FlushSuccess:
					break wait
				}
			case <-time.After(waitFor):
				t.Fatal("flush did not finish")
			}
		}
		assert.Equal(t, bridge.FlushProgress{Current: 6, Total: 6}, progress[len(progress)-1])
		assert.Len(t, sent, 3)
	})

	t.Run("configure persists in one batch", func(t *testing.T) {
		require.NoError(t, w.bridge.Configure(map[string]*string{
			"kafka_upload_rate": strPtr("10"),
			"unset_me":          nil,
		}))
		v, ok, err := w.store.Get("kafka_upload_rate")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "10", v)
		assert.Zero(t, w.store.Pending())
	})

	t.Run("service loss and rebind", func(t *testing.T) {
		require.True(t, w.session.Drop())
		require.Eventually(t, func() bool { return w.session.Binds() == 2 }, waitFor, time.Millisecond)
		require.Eventually(t, func() bool { return w.bridge.State() == bridge.Bound }, waitFor, time.Millisecond)

		_, err := w.bridge.ServerStatus()
		assert.NoError(t, err)
	})

	t.Run("stop logs out", func(t *testing.T) {
		w.bridge.Stop()
		assert.False(t, w.auth.Authorized())
		_, err := w.bridge.ServerStatus()
		assert.ErrorIs(t, err, bridge.ErrNotConnected)
	})
}

func strPtr(s string) *string { return &s }

func TestBridgeOverSimulatedHost_Credentials(t *testing.T) {
	t.Run("restored credentials survive start", func(t *testing.T) {
		w := newWired(t)
		token := "restored-token"
		w.auth.UpdateState(func(s *bridge.AuthState) {
			s.UserID = "u"
			s.IsValid = true
			s.Token = &token
		})

		w.start(t)

		state := w.auth.Snapshot()
		assert.Equal(t, "u", state.UserID)
		assert.True(t, state.IsValid)
		require.NotNil(t, state.Token)
		assert.Equal(t, token, *state.Token)
	})

	t.Run("logout restores a fresh state", func(t *testing.T) {
		w := newWired(t)
		fresh := w.auth.Snapshot()
		w.start(t)

		token := "tok"
		w.bridge.SetAuthentication(&bridge.Authentication{
			BaseURL: "https://radar.example", UserID: "u", ProjectID: "p", Token: &token,
		})
		w.bridge.SetAuthentication(nil)

		assert.Equal(t, fresh, w.auth.Snapshot())
	})
}

func TestBridgeOverSimulatedHost_ConfigureIsAllOrNothing(t *testing.T) {
	w := newWired(t)

	err := w.bridge.Configure(map[string]*string{"a": strPtr("1"), "": nil})
	require.ErrorIs(t, err, bridge.ErrEmptySettingKey)
	assert.Zero(t, w.store.Pending())

	require.NoError(t, w.bridge.Configure(map[string]*string{"b": strPtr("2")}))
	_, ok, err := w.store.Get("a")
	require.NoError(t, err)
	assert.False(t, ok, "key from the rejected batch was committed")

	v, ok, err := w.store.Get("b")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "2", v)
}

func TestBridgeOverSimulatedHost_FailedUpload(t *testing.T) {
	w := newWired(t)
	w.start(t)

	sent := make(chan events.SendStatus, 8)
	w.bridge.RegisterSendListener(listener.AutoID, &listener.Funcs[events.SendStatus]{
		OnNext: func(s events.SendStatus) { sent <- s },
	})

	require.NoError(t, w.bridge.StartScanning())
	require.Eventually(t, func() bool {
		active, err := w.bridge.PluginsActive()
		return err == nil && len(active) == 1
	}, waitFor, 5*time.Millisecond)
	w.host.Collect(1)

	failed := make(chan string, 1)
	require.NoError(t, w.bridge.FlushCaches(&listener.Funcs[bridge.FlushResult]{
		OnSuccess: func(bridge.FlushResult) { failed <- "" },
		OnError:   func(msg string) { failed <- msg },
	}))
	select {
	case msg := <-failed:
		assert.Equal(t, ErrUnauthorized.Error(), msg)
	case <-time.After(waitFor):
		t.Fatal("flush did not finish")
	}

	require.Len(t, sent, 2)
	assert.Equal(t, events.SendStatus{Topic: "acc"}, <-sent)
	assert.Equal(t, events.SendStatus{Topic: "battery"}, <-sent)
}

func TestBridgeOverSimulatedHost_FlushAfterHostClosed(t *testing.T) {
	w := newWired(t)
	w.start(t)
	w.host.Close()

	var msg string
	require.NoError(t, w.bridge.FlushCaches(&listener.Funcs[bridge.FlushResult]{
		OnError: func(m string) { msg = m },
	}))
	assert.Equal(t, ErrClosed.Error(), msg)
}
