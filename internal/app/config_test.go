package app

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var configEnv = []string{
	"CONFIG_FILE", "STATE_TABLE", "PARAM_PREFIX", "MAX_MESSAGE_LENGTH", "CLASSIFIER_TIMEOUT_MS",
	"DECISION_STRATEGY", "OPENAI_BASE_URL", "REDIS_URL", "SESSION_LOCK_TTL_MS", "SESSION_LOCK_WAIT_MS",
	"LOG_LEVEL", "LOG_FORMAT", "LISTEN_ADDR",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range configEnv {
		t.Setenv(k, "")
	}
}

func TestLoadConfig_Required(t *testing.T) {
	clearEnv(t)
	t.Setenv("PARAM_PREFIX", "/dispute-agent")
	_, err := LoadConfig("")
	require.ErrorContains(t, err, "STATE_TABLE")

	t.Setenv("STATE_TABLE", "state")
	t.Setenv("PARAM_PREFIX", " ")
	_, err = LoadConfig("")
	require.ErrorContains(t, err, "PARAM_PREFIX")
}

func TestLoadConfig_Defaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("STATE_TABLE", "state")
	t.Setenv("PARAM_PREFIX", "/dispute-agent")

	cfg, err := ConfigFromEnv()
	require.NoError(t, err)
	require.Equal(t, 1000, cfg.MaxMessageLength)
	require.Equal(t, 8*time.Second, cfg.ClassifierTimeout)
	require.Equal(t, 30*time.Second, cfg.SessionLockTTL)
	require.Equal(t, 5*time.Second, cfg.LockWait)
	require.Equal(t, "json", cfg.LogFormat)
	require.Equal(t, ":8080", cfg.ListenAddr)
	require.Empty(t, cfg.RedisURL)
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("STATE_TABLE", "state")
	t.Setenv("PARAM_PREFIX", "/dispute-agent")
	t.Setenv("MAX_MESSAGE_LENGTH", "200")
	t.Setenv("CLASSIFIER_TIMEOUT_MS", "1500")
	t.Setenv("SESSION_LOCK_TTL_MS", "not-a-number")
	t.Setenv("REDIS_URL", " redis://localhost:6379/0 ")
	t.Setenv("DECISION_STRATEGY", "flags")

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	require.Equal(t, 200, cfg.MaxMessageLength)
	require.Equal(t, 1500*time.Millisecond, cfg.ClassifierTimeout)
	require.Equal(t, 30*time.Second, cfg.SessionLockTTL)
	require.Equal(t, "redis://localhost:6379/0", cfg.RedisURL)
	require.Equal(t, "flags", cfg.DecisionStrategy)
}

func TestLoadConfig_File(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
storage:
  state_table: from-file
params:
  prefix: /from-file
chat:
  max_message_length: 500
  classifier_timeout_ms: 2000
  decision_strategy: flags
lock:
  redis_url: localhost:6379
  wait_ms: 750
http:
  listen_addr: ":9000"
`), 0o600))

	t.Setenv("STATE_TABLE", "from-env")
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, "from-env", cfg.StateTable)
	require.Equal(t, "/from-file", cfg.ParamPrefix)
	require.Equal(t, 500, cfg.MaxMessageLength)
	require.Equal(t, 2*time.Second, cfg.ClassifierTimeout)
	require.Equal(t, "flags", cfg.DecisionStrategy)
	require.Equal(t, "localhost:6379", cfg.RedisURL)
	require.Equal(t, 750*time.Millisecond, cfg.LockWait)
	require.Equal(t, 30*time.Second, cfg.SessionLockTTL)
	require.Equal(t, ":9000", cfg.ListenAddr)
}

func TestLoadConfig_FileErrors(t *testing.T) {
	clearEnv(t)
	t.Setenv("STATE_TABLE", "state")
	t.Setenv("PARAM_PREFIX", "/dispute-agent")

	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("storage: [unclosed"), 0o600))
	_, err = LoadConfig(path)
	require.ErrorContains(t, err, "parse config file")
}

func TestNewLocker(t *testing.T) {
	a := &App{}
	l, err := a.newLocker(Config{})
	require.NoError(t, err)
	require.NotNil(t, l)
	require.Empty(t, a.closers)

	l, err = a.newLocker(Config{RedisURL: "localhost:6379", SessionLockTTL: time.Second})
	require.NoError(t, err)
	require.NotNil(t, l)
	require.Len(t, a.closers, 1)
	a.Close()
}
