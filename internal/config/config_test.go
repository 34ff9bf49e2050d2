package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 5*time.Minute, cfg.Lease.LeaseDuration())
	assert.Equal(t, 10*time.Second, cfg.Lease.SweepInterval())
	assert.Equal(t, 2*time.Second, cfg.Oracle.OracleDeadline())
	assert.Equal(t, 5*time.Minute, cfg.Provider.ReconcileInterval())
	assert.Equal(t, 3, cfg.Assignment.RetryBound)
	assert.Equal(t, "reject", cfg.Assignment.MonotonicPolicy)
	assert.Equal(t, []string{"human-only"}, cfg.Assignment.ExcludedLabels)
	assert.Equal(t, 0.6, cfg.Oracle.ConfidenceThreshold)
	assert.Equal(t, 3, cfg.Diagnostics.BottleneckThreshold)
	assert.Equal(t, 6, cfg.Diagnostics.LongChainDepth)
	assert.Equal(t, "in-memory", cfg.Provider.Backend)
	assert.Equal(t, 3, cfg.Provider.RetryAttempts)
	assert.Equal(t, 200*time.Millisecond, cfg.Provider.RetryBase())
	assert.Equal(t, "embedded-kv", cfg.Store.Backend)
}

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "marcus", cfg.Name)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "marcus.yaml")
	body := `
lease:
  duration: 90s
  sweeper_interval: 2s
assignment:
  retry_bound: 5
provider:
  backend: github
  token: tok
store:
  backend: sql
  path: /tmp/marcus.db
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, cfg.Lease.LeaseDuration())
	assert.Equal(t, 2*time.Second, cfg.Lease.SweepInterval())
	assert.Equal(t, 5, cfg.Assignment.RetryBound)
	assert.Equal(t, "github", cfg.Provider.Backend)
	assert.Equal(t, "sql", cfg.Store.Backend)
	// Untouched sections keep defaults.
	assert.Equal(t, 0.6, cfg.Oracle.ConfidenceThreshold)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "marcus.yaml")
	require.NoError(t, os.WriteFile(path, []byte("lease:\n  durration: 5m\n"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestValidateRejectsBadEnums(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Provider.Backend = "trello"
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Assignment.MonotonicPolicy = "ignore"
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Oracle.ConfidenceThreshold = 1.5
	assert.Error(t, cfg.Validate())
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("MARCUS_ORACLE_API_KEY", "secret")
	t.Setenv("MARCUS_LOG_LEVEL", "debug")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "secret", cfg.Oracle.APIKey)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestMalformedDurationFallsBack(t *testing.T) {
	lc := LeaseConfig{Duration: "not-a-duration"}
	assert.Equal(t, 5*time.Minute, lc.LeaseDuration())
}

func TestWatcherReloads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "marcus.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: marcus\n"), 0o644))

	reloaded := make(chan *Config, 1)
	w, err := Watch(path, func(c *Config) {
		select {
		case reloaded <- c:
		default:
		}
	})
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.WriteFile(path, []byte("name: marcus-two\n"), 0o644))

	select {
	case cfg := <-reloaded:
		assert.Equal(t, "marcus-two", cfg.Name)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not observe config change")
	}
}
