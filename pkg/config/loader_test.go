package config_test

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sameer2210/CodeX-sub000/pkg/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.Load(testLogger(), "does-not-exist")
	require.NoError(t, err)

	require.Equal(t, ":8080", cfg.Server.Address)
	require.Equal(t, 0, cfg.Server.ConnectionLimit.MaxPerIdentity)
	require.Equal(t, 60*time.Second, cfg.Transport.ReadTimeout)
	require.Equal(t, "memory", cfg.Chat.Store)
	require.Equal(t, 100, cfg.Chat.HistoryLimit)
	require.Equal(t, 30*time.Second, cfg.Call.RingTimeout)
	require.Equal(t, 100*time.Millisecond, cfg.Presence.LeaveDelay)
	require.Empty(t, cfg.Review.Endpoint)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	body := `
server:
  address: ":9999"
call:
  ringTimeout: 5s
chat:
  store: sqlite
  historyLimit: 25
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(body), 0o644))

	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	cfg, err := config.Load(testLogger(), "config")
	require.NoError(t, err)
	require.Equal(t, ":9999", cfg.Server.Address)
	require.Equal(t, 5*time.Second, cfg.Call.RingTimeout)
	require.Equal(t, "sqlite", cfg.Chat.Store)
	require.Equal(t, 25, cfg.Chat.HistoryLimit)
	// untouched keys keep their defaults
	require.Equal(t, "100ms", cfg.Presence.LeaveDelay.String())
}
