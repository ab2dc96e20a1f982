package config

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Setenv(EnvServer, "")
	t.Setenv(EnvAddr, "")
	t.Setenv(EnvDB, "")
	t.Setenv(EnvUploadDir, "")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultServer, cfg.Client.Server)
	assert.Equal(t, DefaultAddr, cfg.Server.Addr)
	interval, err := cfg.SchedulerInterval()
	require.NoError(t, err)
	assert.Equal(t, DefaultSchedulerInterval, interval)
}

func TestLoadYAMLAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snspost.yaml")
	writeFile(t, path, `
client:
  server: http://example.test:9000
  timeout: 5s
server:
  timezone: UTC
scheduler:
  interval: 2m
  rate_per_sec: 0.5
limits:
  x: 250
`)
	t.Setenv(EnvServer, "")
	t.Setenv(EnvAddr, "")
	t.Setenv(EnvUploadDir, "")
	t.Setenv(EnvDB, "/tmp/other.db")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "http://example.test:9000", cfg.Client.Server)
	assert.Equal(t, "/tmp/other.db", cfg.Server.DBPath)
	assert.Equal(t, 0.5, cfg.Scheduler.RatePerSec)
	assert.Equal(t, map[string]int{"x": 250}, cfg.Limits)

	timeout, err := cfg.ClientTimeout()
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, timeout)
	interval, err := cfg.SchedulerInterval()
	require.NoError(t, err)
	assert.Equal(t, 2*time.Minute, interval)
	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, "UTC", loc.String())
}

func TestParseRejectsUnknownFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snspost.yaml")
	writeFile(t, path, "client:\n  sever: typo\n")
	_, err := Parse(path)
	assert.Error(t, err)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := Default()
	cfg.Scheduler.Interval = "often"
	cfg.Limits = map[string]int{"x": 0}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scheduler.interval")
	assert.Contains(t, err.Error(), "limits.x")
}

func TestParseDurationOrDefault(t *testing.T) {
	d, err := ParseDurationOrDefault("a", "", time.Second)
	require.NoError(t, err)
	assert.Equal(t, time.Second, d)

	d, err = ParseDurationOrDefault("a", "3s", time.Second)
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, d)

	_, err = ParseDurationOrDefault("a", "-3s", time.Second)
	assert.Error(t, err)
}

func TestWatchReloadsLimits(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snspost.yaml")
	writeFile(t, path, "limits:\n  x: 200\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		mu   sync.Mutex
		last *Config
	)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, func(cfg *Config) {
			mu.Lock()
			last = cfg
			mu.Unlock()
		})
	}()

	// give the watcher time to register before editing
	time.Sleep(100 * time.Millisecond)
	writeFile(t, path, "limits:\n  x: 150\n")

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return last != nil && last.Limits["x"] == 150
	}, 5*time.Second, 50*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}
