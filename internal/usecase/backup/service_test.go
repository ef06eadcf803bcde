package backup

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bnema/zerowrap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bnema/flotilla/internal/domain"
)

func testLogger() zerowrap.Logger {
	return zerowrap.Default()
}

func boolPtr(b bool) *bool { return &b }
func intPtr(n int) *int    { return &n }

func newTestService() *Service {
	return NewService(Config{HostRoot: "/srv/flotilla"}, testLogger())
}

func TestGenerateBackupSpec_Postgres(t *testing.T) {
	svc := newTestService()
	cfg := domain.ServiceConfig{
		Image: "postgres:16",
		Environment: map[string]string{
			"POSTGRES_USER":     "acme",
			"POSTGRES_DB":       "acme_prod",
			"POSTGRES_PASSWORD": "s3cret",
			"UNRELATED":         "x",
		},
	}

	spec, err := svc.GenerateBackupSpec("acme", "prod", "db", cfg, "10.0.0.5")
	require.NoError(t, err)
	require.NotNil(t, spec)

	assert.Equal(t, domain.KindPostgres, spec.ServiceType)
	assert.Equal(t, "0 2 * * *", spec.Schedule)
	assert.Equal(t, 7, spec.RetentionDays)
	assert.Equal(t, "acme_prod_net", spec.Network)
	assert.Equal(t, "acme_prod_db_backup", spec.Sidecar.ContainerName)
	assert.Regexp(t, `^flotilla-backup-postgres:[0-9a-f]{12}$`, spec.Sidecar.ImageTag)

	assert.Equal(t, map[string]string{
		"PGUSER":         "acme",
		"PGDATABASE":     "acme_prod",
		"PGPASSWORD":     "s3cret",
		"DB_HOST":        "acme_prod_db",
		"SERVICE_NAME":   "db",
		"RETENTION_DAYS": "7",
		"BACKUP_DIR":     "/backups",
		"BACKUP_HOST_IP": "10.0.0.5",
	}, spec.EnvVars)

	assert.Equal(t, map[string]string{
		"/srv/flotilla/acme/prod/db/data":       "/source:ro",
		"/srv/flotilla/acme/prod/db/secrets":    "/run/secrets:ro",
		"/srv/flotilla/backups/acme/prod/db":    "/backups",
	}, spec.Volumes)

	assert.True(t, strings.HasPrefix(spec.Sidecar.Dockerfile, "FROM postgres:"))
	assert.Contains(t, spec.Sidecar.Dockerfile, "COPY backup.sh")
	assert.Contains(t, spec.Sidecar.Script, "pg_restore --list")
}

func TestGenerateBackupSpec_RedisDefaultsAndOverrides(t *testing.T) {
	svc := newTestService()
	cfg := domain.ServiceConfig{
		Image:       "redis:7-alpine",
		Environment: map[string]string{"REDIS_PASSWORD": "pw"},
		Backup:      &domain.BackupSettings{Schedule: "*/30 * * * *", RetentionDays: intPtr(14)},
	}

	spec, err := svc.GenerateBackupSpec("acme", "prod", "cache", cfg, "")
	require.NoError(t, err)
	require.NotNil(t, spec)

	assert.Equal(t, domain.KindRedis, spec.ServiceType)
	assert.Equal(t, "*/30 * * * *", spec.Schedule)
	assert.Equal(t, 14, spec.RetentionDays)
	assert.Equal(t, "pw", spec.EnvVars["REDISCLI_AUTH"])
	assert.Equal(t, "14", spec.EnvVars["RETENTION_DAYS"])
	assert.NotContains(t, spec.EnvVars, "BACKUP_HOST_IP")
	assert.Contains(t, spec.Sidecar.Script, "redis-check-rdb")
}

func TestGenerateBackupSpec_NoneWhenDisabled(t *testing.T) {
	svc := newTestService()
	cfg := domain.ServiceConfig{Image: "postgres:16", Backup: &domain.BackupSettings{Enabled: boolPtr(false)}}

	spec, err := svc.GenerateBackupSpec("acme", "prod", "db", cfg, "10.0.0.5")
	require.NoError(t, err)
	assert.Nil(t, spec)
}

func TestGenerateBackupSpec_NoneWhenUnsupported(t *testing.T) {
	svc := newTestService()

	spec, err := svc.GenerateBackupSpec("acme", "prod", "api", domain.ServiceConfig{Image: "node:22"}, "")
	require.NoError(t, err)
	assert.Nil(t, spec)
}

func TestGenerateBackupSpec_RejectsBadOverrides(t *testing.T) {
	svc := newTestService()

	_, err := svc.GenerateBackupSpec("acme", "prod", "db",
		domain.ServiceConfig{Image: "postgres:16", Backup: &domain.BackupSettings{Schedule: "@daily"}}, "")
	assert.ErrorIs(t, err, domain.ErrInvalidSchedule)

	_, err = svc.GenerateBackupSpec("acme", "prod", "db",
		domain.ServiceConfig{Image: "postgres:16", Backup: &domain.BackupSettings{RetentionDays: intPtr(0)}}, "")
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)
}

func TestGenerateBackupSpec_IsPure(t *testing.T) {
	svc := newTestService()
	cfg := domain.ServiceConfig{Image: "postgres:16", Environment: map[string]string{"POSTGRES_USER": "acme"}}

	first, err := svc.GenerateBackupSpec("acme", "prod", "db", cfg, "10.0.0.5")
	require.NoError(t, err)
	second, err := svc.GenerateBackupSpec("acme", "prod", "db", cfg, "10.0.0.5")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	// Two services of the same kind share byte-identical build instructions.
	other, err := svc.GenerateBackupSpec("shop", "staging", "orders-postgres", domain.ServiceConfig{}, "")
	require.NoError(t, err)
	require.NotNil(t, other)
	assert.Equal(t, first.Sidecar.Dockerfile, other.Sidecar.Dockerfile)
	assert.Equal(t, first.Sidecar.Script, other.Sidecar.Script)
	assert.Equal(t, first.Sidecar.ImageTag, other.Sidecar.ImageTag)
}

func TestPlanAll_ContinuesPastFailures(t *testing.T) {
	svc := newTestService()
	services := map[string]domain.ServiceConfig{
		"api":   {Image: "ghcr.io/acme/api:1"},
		"db":    {Image: "postgres:16"},
		"cache": {Image: "redis:7", Backup: &domain.BackupSettings{Schedule: "not a cron"}},
		"queue": {Image: "redis:7", Backup: &domain.BackupSettings{Enabled: boolPtr(false)}},
	}

	plan := svc.PlanAll("acme", "prod", services, "")

	require.Len(t, plan.Specs, 1)
	assert.Equal(t, "db", plan.Specs[0].Service)
	assert.Equal(t, []string{"api", "queue"}, plan.Skipped)
	require.Len(t, plan.Errors, 1)
	assert.Equal(t, "cache", plan.Errors[0].Service)
	assert.ErrorIs(t, plan.Errors[0].Err, domain.ErrInvalidSchedule)
	assert.True(t, plan.Failed())
}

func TestWriteSidecarContextAndCrontabLine(t *testing.T) {
	svc := newTestService()
	spec, err := svc.GenerateBackupSpec("acme", "prod", "db",
		domain.ServiceConfig{Image: "postgres:16", Environment: map[string]string{"POSTGRES_USER": "acme"}}, "")
	require.NoError(t, err)

	dir := filepath.Join(t.TempDir(), "acme_prod_db_backup")
	require.NoError(t, WriteSidecarContext(dir, *spec))

	dockerfile, err := os.ReadFile(filepath.Join(dir, "Dockerfile"))
	require.NoError(t, err)
	assert.Equal(t, spec.Sidecar.Dockerfile, string(dockerfile))

	info, err := os.Stat(filepath.Join(dir, "backup.sh"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o755), info.Mode().Perm())

	env, err := os.ReadFile(filepath.Join(dir, "backup.env"))
	require.NoError(t, err)
	assert.Contains(t, string(env), "DB_HOST=acme_prod_db\n")
	assert.Contains(t, string(env), "PGUSER=acme\n")

	line := CrontabLine(*spec, "docker", dir)
	assert.True(t, strings.HasPrefix(line, "0 2 * * * docker run --rm --name acme_prod_db_backup --network acme_prod_net"))
	assert.Contains(t, line, "-v /srv/flotilla/acme/prod/db/data:/source:ro")
	assert.True(t, strings.HasSuffix(line, spec.Sidecar.ImageTag))
}
