package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "roomtodo.db", cfg.Server.DB)
	assert.Equal(t, "roomtodo", cfg.Server.NATSPrefix)
	assert.True(t, cfg.Server.Metrics)
	assert.Equal(t, "http://localhost:8080", cfg.Client.URL)
	assert.Equal(t, "info", cfg.Log.Level)

	ttl, err := cfg.Server.TTL()
	require.NoError(t, err)
	assert.Equal(t, 24*time.Hour, ttl)
}

func TestParse_CUE(t *testing.T) {
	cfg, err := Parse([]byte(`
server: {
	addr: "127.0.0.1:9000"
	token_ttl: "1h30m"
}
log: level: "debug"
`), "roomtodo.cue")
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Addr)
	assert.Equal(t, "roomtodo.db", cfg.Server.DB)
	assert.Equal(t, slog.LevelDebug, cfg.Log.SlogLevel())

	ttl, err := cfg.Server.TTL()
	require.NoError(t, err)
	assert.Equal(t, 90*time.Minute, ttl)
}

func TestParse_JSON(t *testing.T) {
	cfg, err := Parse([]byte(`{"client": {"url": "https://todo.example.com", "token": "abc"}}`), "config.json")
	require.NoError(t, err)

	assert.Equal(t, "https://todo.example.com", cfg.Client.URL)
	assert.Equal(t, "abc", cfg.Client.Token)
}

func TestParse_YAML(t *testing.T) {
	cfg, err := Parse([]byte("server:\n  nats_url: nats://localhost:4222\n  metrics: false\n"), "config.yaml")
	require.NoError(t, err)

	assert.Equal(t, "nats://localhost:4222", cfg.Server.NATSURL)
	assert.False(t, cfg.Server.Metrics)
}

func TestParse_Rejects(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"unknown field", `server: port: 80`},
		{"unknown section", `cache: size: 1`},
		{"bad level", `log: level: "loud"`},
		{"bad url", `client: url: "localhost:8080"`},
		{"bad ttl", `server: token_ttl: "one day"`},
		{"empty db", `server: db: ""`},
		{"wrong type", `server: metrics: "yes"`},
		{"syntax", `server: {`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.src), "bad.cue")
			assert.Error(t, err)
		})
	}
}

func TestLoad_File(t *testing.T) {
	path := writeFile(t, "roomtodo.cue", `server: jwt_secret: "from-file"`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-file", cfg.Server.JWTSecret)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.cue"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeFile(t, "roomtodo.cue", `
server: {jwt_secret: "from-file", db: "file.db"}
client: {url: "http://file:8080", token: "file-token"}
`)
	t.Setenv(EnvServerURL, "https://env.example.com")
	t.Setenv(EnvToken, "env-token")
	t.Setenv(EnvJWTSecret, "env-secret")
	t.Setenv(EnvDB, "/var/lib/roomtodo.db")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://env.example.com", cfg.Client.URL)
	assert.Equal(t, "env-token", cfg.Client.Token)
	assert.Equal(t, "env-secret", cfg.Server.JWTSecret)
	assert.Equal(t, "/var/lib/roomtodo.db", cfg.Server.DB)
}

func TestApplyEnv_OnlySetVariables(t *testing.T) {
	cfg := Default()
	env := map[string]string{EnvToken: "t"}
	ApplyEnv(cfg, func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	})

	assert.Equal(t, "t", cfg.Client.Token)
	assert.Equal(t, "http://localhost:8080", cfg.Client.URL)
}

func TestRequireSecret(t *testing.T) {
	cfg := Default()
	_, err := cfg.RequireSecret()
	assert.ErrorIs(t, err, ErrNoSecret)

	cfg.Server.JWTSecret = "s"
	secret, err := cfg.RequireSecret()
	require.NoError(t, err)
	assert.Equal(t, "s", secret)
}

func TestLog_SlogLevelFallback(t *testing.T) {
	assert.Equal(t, slog.LevelWarn, Log{Level: "warn"}.SlogLevel())
	assert.Equal(t, slog.LevelInfo, Log{Level: ""}.SlogLevel())
}
