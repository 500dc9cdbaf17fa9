package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func load(t *testing.T, file string) (*Config, error) {
	t.Helper()
	v, err := New()
	require.NoError(t, err)
	return Load(v, file)
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("WEBSOCKET_URL", "ws://localhost:8546")

	cfg, err := load(t, "")
	require.NoError(t, err)

	assert.Equal(t, "ws://localhost:8546", cfg.WebsocketURL)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr())
	assert.Equal(t, "eth-engine-sub", cfg.SubscribeChannel)
	assert.Equal(t, "eth-engine-unsub", cfg.UnsubscribeChannel)
	assert.Equal(t, "", cfg.ResponsePrefix)
	assert.Equal(t, BackendRedis, cfg.RegistryBackend)
	assert.Equal(t, BackendRedis, cfg.SinkBackend)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, ":9090", cfg.GRPCAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 30*time.Second, cfg.CommandTimeout)
}

func TestLoad_Environment(t *testing.T) {
	t.Setenv("WEBSOCKET_URL", "wss://mainnet.example/ws")
	t.Setenv("REDIS_HOST", "redis.internal")
	t.Setenv("REDIS_PORT", "6380")
	t.Setenv("REDIS_PASSWORD", "hunter2")
	t.Setenv("ETH_ENGINE_REDIS_DB", "3")
	t.Setenv("ETH_ENGINE_CHANNELS_RESPONSE_PREFIX", "res:")
	t.Setenv("ETH_ENGINE_SINK_BACKEND", "MEMORY")
	t.Setenv("ETH_ENGINE_TIMEOUTS_COMMAND", "5s")
	t.Setenv("ETH_ENGINE_LOG_LEVEL", "debug")

	cfg, err := load(t, "")
	require.NoError(t, err)

	assert.Equal(t, "wss://mainnet.example/ws", cfg.WebsocketURL)
	assert.Equal(t, "redis.internal:6380", cfg.Redis.Addr())
	assert.Equal(t, "hunter2", cfg.Redis.Password)
	assert.Equal(t, 3, cfg.Redis.DB)
	assert.Equal(t, "res:", cfg.ResponsePrefix)
	assert.Equal(t, BackendMemory, cfg.SinkBackend)
	assert.Equal(t, 5*time.Second, cfg.CommandTimeout)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoad_LegacyNameWinsOverPrefixed(t *testing.T) {
	t.Setenv("WEBSOCKET_URL", "ws://a")
	t.Setenv("REDIS_HOST", "legacy")
	t.Setenv("ETH_ENGINE_REDIS_HOST", "prefixed")

	cfg, err := load(t, "")
	require.NoError(t, err)
	assert.Equal(t, "legacy", cfg.Redis.Host)
}

func TestLoad_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ethengine.yaml")
	content := `
websocket_url: ws://from-file
redis:
  host: filehost
  port: 7000
registry:
  backend: memory
channels:
  subscribe: sub
  unsubscribe: unsub
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := load(t, path)
	require.NoError(t, err)
	assert.Equal(t, "ws://from-file", cfg.WebsocketURL)
	assert.Equal(t, "filehost:7000", cfg.Redis.Addr())
	assert.Equal(t, BackendMemory, cfg.RegistryBackend)
	assert.Equal(t, "sub", cfg.SubscribeChannel)

	t.Run("environment overrides file", func(t *testing.T) {
		t.Setenv("REDIS_HOST", "envhost")
		cfg, err := load(t, path)
		require.NoError(t, err)
		assert.Equal(t, "envhost", cfg.Redis.Host)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := load(t, filepath.Join(dir, "missing.yaml"))
		assert.Error(t, err)
	})
}

func TestLoad_EmailSink(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ethengine.yaml")
	content := `
websocket_url: ws://x
sink:
  backend: email
  email:
    host: smtp.example.com
    username: alerts
    from: engine@example.com
    to:
      - ops@example.com
      - desk@example.com
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Setenv("ETH_ENGINE_SINK_EMAIL_PASSWORD", "app-password")

	cfg, err := load(t, path)
	require.NoError(t, err)
	assert.Equal(t, BackendEmail, cfg.SinkBackend)
	assert.Equal(t, "smtp.example.com", cfg.Email.Host)
	assert.Equal(t, 587, cfg.Email.Port)
	assert.True(t, cfg.Email.RequireTLS)
	assert.Equal(t, "app-password", cfg.Email.Password)
	assert.Equal(t, []string{"ops@example.com", "desk@example.com"}, cfg.Email.To)
}

func TestConfig_Validate(t *testing.T) {
	valid := func() Config {
		return Config{
			WebsocketURL:       "ws://x",
			Redis:              RedisConfig{Host: "localhost", Port: 6379},
			SubscribeChannel:   "a",
			UnsubscribeChannel: "b",
			RegistryBackend:    BackendRedis,
			SinkBackend:        BackendMemory,
			CommandTimeout:     time.Second,
			CallbackTimeout:    time.Second,
		}
	}

	t.Run("valid", func(t *testing.T) {
		c := valid()
		assert.NoError(t, c.Validate())
	})

	cases := []struct {
		name   string
		mutate func(c *Config)
		want   error
	}{
		{"no websocket", func(c *Config) { c.WebsocketURL = "" }, ErrMissingWebsocketURL},
		{"no redis host", func(c *Config) { c.Redis.Host = "" }, ErrMissingRedisHost},
		{"bad port", func(c *Config) { c.Redis.Port = 70000 }, ErrInvalidRedisPort},
		{"bad registry backend", func(c *Config) { c.RegistryBackend = "etcd" }, ErrUnknownBackend},
		{"bad sink backend", func(c *Config) { c.SinkBackend = "kafka" }, ErrUnknownBackend},
		{"email registry backend", func(c *Config) { c.RegistryBackend = BackendEmail }, ErrUnknownBackend},
		{"email sink without recipients", func(c *Config) {
			c.SinkBackend = BackendEmail
			c.Email = EmailConfig{Host: "smtp.example.com", From: "engine@example.com"}
		}, ErrIncompleteEmail},
		{"same channel", func(c *Config) { c.UnsubscribeChannel = "a" }, ErrSameChannel},
		{"zero timeout", func(c *Config) { c.CallbackTimeout = 0 }, ErrInvalidTimeout},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := valid()
			tc.mutate(&c)
			assert.ErrorIs(t, c.Validate(), tc.want)
		})
	}

	t.Run("load rejects missing websocket", func(t *testing.T) {
		t.Setenv("WEBSOCKET_URL", "")
		_, err := load(t, "")
		assert.ErrorIs(t, err, ErrMissingWebsocketURL)
	})
}
