package app

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bnema/flotilla/internal/domain"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "flotilla.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, ""))
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:7070", cfg.Agent.Listen)
	assert.Equal(t, "cli", cfg.Agent.Backend)
	assert.Equal(t, "docker", cfg.Agent.Runtime)
	assert.Equal(t, float64(20), cfg.Agent.RateLimit)
	assert.Equal(t, 2*time.Second, cfg.Discovery.ProbeTimeout)
	assert.Equal(t, "/etc/nginx/conf.d", cfg.Certs.NginxDir)
	assert.Equal(t, "/etc/letsencrypt/live", cfg.Certs.CertDir)
	assert.Equal(t, "lego", cfg.Certs.Issuer)
	assert.Equal(t, 2*time.Minute, cfg.Certs.Timeout)
	assert.Equal(t, "17 3 * * *", cfg.Certs.Schedule)
	assert.Equal(t, 7, cfg.Backup.DefaultRetentionDays)
	assert.Equal(t, "memory", cfg.Lock.Backend)
	assert.Equal(t, 30*time.Second, cfg.Lock.TTL)
	assert.Equal(t, "/run/flotilla", cfg.Jobs.LockDir)

	timeout, err := cfg.CommandTimeout()
	require.NoError(t, err)
	assert.Equal(t, 10*time.Minute, timeout)

	chunk, err := cfg.ChunkSize()
	require.NoError(t, err)
	assert.Equal(t, int64(8<<20), chunk)
}

func TestLoad_FileValues(t *testing.T) {
	path := writeConfig(t, `
[agent]
backend = "sdk"
command_timeout = "1d"

[client]
chunk_size = "512KB"

[certs]
issuer = "certbot"
timeout = "30s"

[lock]
backend = "redis"
redis_addr = "10.0.0.5:6379"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "sdk", cfg.Agent.Backend)
	assert.Equal(t, "certbot", cfg.Certs.Issuer)
	assert.Equal(t, 30*time.Second, cfg.Certs.Timeout)
	assert.Equal(t, "redis", cfg.Lock.Backend)
	assert.Equal(t, "10.0.0.5:6379", cfg.Lock.RedisAddr)

	timeout, err := cfg.CommandTimeout()
	require.NoError(t, err)
	assert.Equal(t, 24*time.Hour, timeout)

	chunk, err := cfg.ChunkSize()
	require.NoError(t, err)
	assert.Equal(t, int64(512<<10), chunk)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "[certs]\nemail = \"ops@example.com\"\n")
	t.Setenv("FLOTILLA_CERTS_EMAIL", "certs@example.com")
	t.Setenv("FLOTILLA_BACKUP_DEFAULT_RETENTION_DAYS", "14")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "certs@example.com", cfg.Certs.Email)
	assert.Equal(t, 14, cfg.Backup.DefaultRetentionDays)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"unknown backend", "[agent]\nbackend = \"grpc\"\n"},
		{"unknown issuer", "[certs]\nissuer = \"acme-sh\"\n"},
		{"unknown lock backend", "[lock]\nbackend = \"etcd\"\n"},
		{"bad command timeout", "[agent]\ncommand_timeout = \"soon\"\n"},
		{"bad chunk size", "[client]\nchunk_size = \"lots\"\n"},
		{"zero chunk size", "[client]\nchunk_size = \"0B\"\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrInvalidConfig)
		})
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.Error(t, err)
}

func TestLoad_MalformedFile(t *testing.T) {
	_, err := Load(writeConfig(t, "[agent\nlisten = "))
	require.Error(t, err)
}

func TestConfigEntries(t *testing.T) {
	cfg, err := Load(writeConfig(t, "[lock]\nredis_password = \"hunter2\"\n"))
	require.NoError(t, err)

	entries := cfg.Entries()
	require.Len(t, entries, len(configKeys))
	assert.Equal(t, ConfigEntry{Key: "agent.listen", Value: "127.0.0.1:7070"}, entries[0])

	values := make(map[string]string, len(entries))
	for _, e := range entries {
		values[e.Key] = e.Value
	}
	assert.Equal(t, redacted, values["lock.redis_password"])
	assert.Equal(t, "30s", values["lock.ttl"])
	assert.Equal(t, "false", values["certs.staging"])
	assert.Equal(t, "20", values["agent.rate_limit"])

	cfg.Lock.RedisPassword = ""
	for _, e := range cfg.Entries() {
		if e.Key == "lock.redis_password" {
			assert.Empty(t, e.Value)
		}
	}
}
