package main

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/gdindex/internal/config"
	"github.com/tonimelisma/gdindex/testutil"
)

func testLogger(t *testing.T) *slog.Logger {
	t.Helper()

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// fakeConfig returns a validated config pointing at fake with one credential
// and a public key file for the test RSA key.
func fakeConfig(t *testing.T, fake *testutil.FakeDrive) *config.Config {
	t.Helper()

	keyPath := filepath.Join(t.TempDir(), "gate.pem")
	require.NoError(t, os.WriteFile(keyPath, testutil.PublicKeyPEM(t, testutil.RSAKey(t)), 0o600))

	cfg := config.DefaultConfig()
	cfg.Drive.APIEndpoint = fake.Endpoint()
	cfg.Drive.TokenEndpoint = fake.TokenURL()
	cfg.Credentials = []config.CredentialConfig{
		{ClientID: "id-0", ClientSecret: "s", RefreshToken: "r"},
	}
	cfg.Gate.PublicKeyFile = keyPath
	cfg.Server.ShutdownTimeout = "5s"
	require.NoError(t, config.Validate(cfg))

	return cfg
}

func TestNewDriveStack_ResolvesAgainstBackend(t *testing.T) {
	fake := testutil.NewFakeDrive(t)
	fake.AddFolder("root", "dir", "Music")
	fake.AddFile("dir", "f1", "a.mp3", "audio/mpeg", []byte("abc"))

	for _, maxEntries := range []int64{0, 1000} {
		cfg := fakeConfig(t, fake)
		cfg.Cache.MaxEntries = maxEntries

		st, err := newDriveStack(cfg, nil, testLogger(t))
		require.NoError(t, err)
		assert.Equal(t, 1, st.tokens.Slots())

		f, err := st.resolver.ResolveMetadata(context.Background(), "/Music/a.mp3", "root", 0)
		require.NoError(t, err)
		require.NotNil(t, f)
		assert.Equal(t, "f1", f.ID)
		assert.Equal(t, 2, st.resolver.CacheLen())
	}
}

func TestNewDriveStack_NegativeCacheFallsBackToMap(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Cache.MaxEntries = -1

	st, err := newDriveStack(cfg, nil, testLogger(t))
	require.NoError(t, err)
	assert.Zero(t, st.resolver.CacheLen())
}

func TestNewKeySource(t *testing.T) {
	key := testutil.RSAKey(t)
	pemBytes := testutil.PublicKeyPEM(t, key)
	keyPath := filepath.Join(t.TempDir(), "gate.pem")
	require.NoError(t, os.WriteFile(keyPath, pemBytes, 0o600))

	t.Run("file", func(t *testing.T) {
		ks, watcher, err := newKeySource(&config.GateConfig{PublicKeyFile: keyPath}, testLogger(t))
		require.NoError(t, err)
		assert.Nil(t, watcher)
		assert.True(t, ks.PublicKey().Equal(&key.PublicKey))
	})

	t.Run("watched file", func(t *testing.T) {
		ks, watcher, err := newKeySource(&config.GateConfig{PublicKeyFile: keyPath, WatchKeyFile: true}, testLogger(t))
		require.NoError(t, err)
		require.NotNil(t, watcher)
		assert.True(t, ks.PublicKey().Equal(&key.PublicKey))
	})

	t.Run("inline", func(t *testing.T) {
		ks, watcher, err := newKeySource(&config.GateConfig{PublicKey: string(pemBytes)}, testLogger(t))
		require.NoError(t, err)
		assert.Nil(t, watcher)
		assert.True(t, ks.PublicKey().Equal(&key.PublicKey))
	})

	t.Run("bad inline", func(t *testing.T) {
		_, _, err := newKeySource(&config.GateConfig{PublicKey: "garbage"}, testLogger(t))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "gate.public_key")
	})

	t.Run("missing file", func(t *testing.T) {
		_, _, err := newKeySource(&config.GateConfig{PublicKeyFile: filepath.Join(t.TempDir(), "nope.pem")}, testLogger(t))
		assert.Error(t, err)
	})
}

func TestNewHandler_GateDisabled(t *testing.T) {
	fake := testutil.NewFakeDrive(t)
	fake.AddFile("root", "f1", "a.txt", "text/plain", []byte("hello"))

	cfg := fakeConfig(t, fake)
	cfg.Gate.Enabled = false

	st, err := newDriveStack(cfg, nil, testLogger(t))
	require.NoError(t, err)

	srv := httptest.NewServer(newHandler(cfg, st, nil, testLogger(t)))
	t.Cleanup(srv.Close)

	resp, err := srv.Client().Get(srv.URL + "/a.txt")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "hello", string(body))
}

func TestRunServe_ServesAndShutsDown(t *testing.T) {
	fake := testutil.NewFakeDrive(t)
	fake.AddFile("root", "f1", "a.txt", "text/plain", []byte("hello"))

	cfg := fakeConfig(t, fake)
	cfg.Gate.WatchKeyFile = true

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)

	go func() {
		done <- runServe(ctx, cfg, ln, testLogger(t))
	}()

	base := "http://" + ln.Addr().String()
	token := testutil.SignToken(t, testutil.RSAKey(t), time.Minute)

	resp, err := http.Get(base + "/a.txt?token=" + token)
	require.NoError(t, err)

	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "hello", string(body))

	resp, err = http.Get(base + "/a.txt")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("runServe did not return after cancel")
	}
}

func TestRunServe_BadKeyFails(t *testing.T) {
	fake := testutil.NewFakeDrive(t)
	cfg := fakeConfig(t, fake)
	require.NoError(t, os.WriteFile(cfg.Gate.PublicKeyFile, []byte("not a key"), 0o600))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	assert.Error(t, runServe(context.Background(), cfg, ln, testLogger(t)))
}
