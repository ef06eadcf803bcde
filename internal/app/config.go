package app

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/bnema/flotilla/internal/adapters/out/telemetry"
	"github.com/bnema/flotilla/internal/domain"
	"github.com/bnema/flotilla/pkg/bytesize"
	"github.com/bnema/flotilla/pkg/duration"
)

// Config holds the settings of every flotilla entry point. It is built once
// by Load and passed down; nothing reads viper after that.
type Config struct {
	Agent     AgentConfig      `mapstructure:"agent"`
	Client    ClientConfig     `mapstructure:"client"`
	Discovery DiscoveryConfig  `mapstructure:"discovery"`
	Topology  TopologyConfig   `mapstructure:"topology"`
	Certs     CertsConfig      `mapstructure:"certs"`
	Backup    BackupConfig     `mapstructure:"backup"`
	Lock      LockConfig       `mapstructure:"lock"`
	Logging   LoggingConfig    `mapstructure:"logging"`
	Jobs      JobsConfig       `mapstructure:"jobs"`
	Telemetry telemetry.Config `mapstructure:"telemetry"`
}

// AgentConfig configures the node agent.
type AgentConfig struct {
	// Listen defaults to loopback. Agents that take deploys from other hosts
	// must listen on the private interface.
	Listen           string        `mapstructure:"listen"`
	APIKeyFile       string        `mapstructure:"api_key_file"`
	Backend          string        `mapstructure:"backend"` // cli or sdk
	Runtime          string        `mapstructure:"runtime"`
	Binary           string        `mapstructure:"binary"`
	UploadDir        string        `mapstructure:"upload_dir"`
	RateLimit        float64       `mapstructure:"rate_limit"`
	RateBurst        int           `mapstructure:"rate_burst"`
	RateLimitBackend string        `mapstructure:"rate_limit_backend"`
	CommandTimeout   string        `mapstructure:"command_timeout"`
	ShutdownTimeout  time.Duration `mapstructure:"shutdown_timeout"`
}

// ClientConfig configures calls from a deploy driver to remote agents.
type ClientConfig struct {
	APIKeyFile string        `mapstructure:"api_key_file"`
	Port       int           `mapstructure:"port"`
	Timeout    time.Duration `mapstructure:"timeout"`
	ChunkSize  string        `mapstructure:"chunk_size"`
	Retries    int           `mapstructure:"retries"`
	BasePort   int           `mapstructure:"base_port"`
}

// DiscoveryConfig configures the service locator.
type DiscoveryConfig struct {
	StaticConfig string        `mapstructure:"static_config"`
	ProbeTimeout time.Duration `mapstructure:"probe_timeout"`
}

// TopologyConfig configures host metadata lookups.
type TopologyConfig struct {
	MetadataURL string        `mapstructure:"metadata_url"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// CertsConfig configures the certificate reconcile job.
type CertsConfig struct {
	NginxDir      string        `mapstructure:"nginx_dir"`
	CertDir       string        `mapstructure:"cert_dir"`
	Issuer        string        `mapstructure:"issuer"` // lego or certbot
	Email         string        `mapstructure:"email"`
	Webroot       string        `mapstructure:"webroot"`
	Staging       bool          `mapstructure:"staging"`
	CADirURL      string        `mapstructure:"ca_dir_url"`
	CertbotBinary string        `mapstructure:"certbot_binary"`
	Timeout       time.Duration `mapstructure:"timeout"`
	Schedule      string        `mapstructure:"schedule"`
	ReloadCommand string        `mapstructure:"reload_command"`
}

// BackupConfig configures backup planning.
type BackupConfig struct {
	HostRoot             string `mapstructure:"host_root"`
	DefaultRetentionDays int    `mapstructure:"default_retention_days"`
	ServicesFile         string `mapstructure:"services_file"`
	RuntimeBinary        string `mapstructure:"runtime_binary"`
}

// LockConfig configures the distributed deploy lock.
type LockConfig struct {
	Backend       string        `mapstructure:"backend"` // memory or redis
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
	Prefix        string        `mapstructure:"prefix"`
	TTL           time.Duration `mapstructure:"ttl"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level  string            `mapstructure:"level"`
	Format string            `mapstructure:"format"`
	File   LoggingFileConfig `mapstructure:"file"`
}

// LoggingFileConfig configures rotated file output.
type LoggingFileConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Path       string `mapstructure:"path"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
}

// JobsConfig configures one-shot job guards.
type JobsConfig struct {
	LockDir string `mapstructure:"lock_dir"`
}

// Load reads the configuration from configPath, or from the default search
// paths when empty, with FLOTILLA_* environment overrides.
func Load(configPath string) (Config, error) {
	v := viper.New()
	if err := loadConfig(v, configPath); err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadConfig(v *viper.Viper, configPath string) error {
	stateDir := DefaultStateDir()

	v.SetDefault("agent.listen", "127.0.0.1:7070")
	v.SetDefault("agent.api_key_file", "/etc/flotilla/agent.key")
	v.SetDefault("agent.backend", "cli")
	v.SetDefault("agent.runtime", string(domain.RuntimeDocker))
	v.SetDefault("agent.binary", "")
	v.SetDefault("agent.upload_dir", filepath.Join(stateDir, "uploads"))
	v.SetDefault("agent.rate_limit", 20)
	v.SetDefault("agent.rate_burst", 40)
	v.SetDefault("agent.rate_limit_backend", "memory")
	v.SetDefault("agent.command_timeout", "10m")
	v.SetDefault("agent.shutdown_timeout", 15*time.Second)
	v.SetDefault("client.api_key_file", "/etc/flotilla/agent.key")
	v.SetDefault("client.port", 7070)
	v.SetDefault("client.timeout", 30*time.Second)
	v.SetDefault("client.chunk_size", "8MB")
	v.SetDefault("client.retries", 3)
	v.SetDefault("client.base_port", 0) // 0 keeps the naming default
	v.SetDefault("discovery.static_config", "/etc/flotilla/static.toml")
	v.SetDefault("discovery.probe_timeout", 2*time.Second)
	v.SetDefault("topology.metadata_url", "")
	v.SetDefault("topology.timeout", time.Second)
	v.SetDefault("certs.nginx_dir", "/etc/nginx/conf.d")
	v.SetDefault("certs.cert_dir", "/etc/letsencrypt/live")
	v.SetDefault("certs.issuer", "lego")
	v.SetDefault("certs.email", "")
	v.SetDefault("certs.webroot", "/var/www/acme")
	v.SetDefault("certs.staging", false)
	v.SetDefault("certs.ca_dir_url", "")
	v.SetDefault("certs.certbot_binary", "certbot")
	v.SetDefault("certs.timeout", 2*time.Minute)
	v.SetDefault("certs.schedule", "17 3 * * *")
	v.SetDefault("certs.reload_command", "nginx -s reload")
	v.SetDefault("backup.host_root", "/srv/flotilla")
	v.SetDefault("backup.default_retention_days", 7)
	v.SetDefault("backup.services_file", "flotilla.yml")
	v.SetDefault("backup.runtime_binary", "docker")
	v.SetDefault("lock.backend", "memory")
	v.SetDefault("lock.redis_addr", "127.0.0.1:6379")
	v.SetDefault("lock.redis_password", "")
	v.SetDefault("lock.redis_db", 0)
	v.SetDefault("lock.prefix", "flotilla:")
	v.SetDefault("lock.ttl", 30*time.Second)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.file.enabled", false)
	v.SetDefault("logging.file.path", "")
	v.SetDefault("logging.file.max_size", 100)
	v.SetDefault("logging.file.max_backups", 3)
	v.SetDefault("logging.file.max_age", 28)
	v.SetDefault("jobs.lock_dir", "/run/flotilla")
	v.SetDefault("telemetry.enabled", true)
	v.SetDefault("telemetry.runtime_collectors", true)
	v.SetDefault("telemetry.listen", "")

	ConfigureViper(v, configPath)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix("FLOTILLA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return nil
}

func (c Config) validate() error {
	switch c.Agent.Backend {
	case "cli", "sdk":
	default:
		return fmt.Errorf("%w: agent.backend must be cli or sdk, got %q", domain.ErrInvalidConfig, c.Agent.Backend)
	}
	switch c.Certs.Issuer {
	case "lego", "certbot":
	default:
		return fmt.Errorf("%w: certs.issuer must be lego or certbot, got %q", domain.ErrInvalidConfig, c.Certs.Issuer)
	}
	switch c.Lock.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("%w: lock.backend must be memory or redis, got %q", domain.ErrInvalidConfig, c.Lock.Backend)
	}
	if _, err := c.CommandTimeout(); err != nil {
		return err
	}
	if _, err := c.ChunkSize(); err != nil {
		return err
	}
	return nil
}

// CommandTimeout parses agent.command_timeout. Day and week units are accepted.
func (c Config) CommandTimeout() (time.Duration, error) {
	d, err := duration.Parse(c.Agent.CommandTimeout)
	if err != nil {
		return 0, fmt.Errorf("%w: agent.command_timeout: %v", domain.ErrInvalidConfig, err)
	}
	return d, nil
}

// ChunkSize parses client.chunk_size.
func (c Config) ChunkSize() (int64, error) {
	n, err := bytesize.Parse(c.Client.ChunkSize)
	if err != nil {
		return 0, fmt.Errorf("%w: client.chunk_size: %v", domain.ErrInvalidConfig, err)
	}
	if n <= 0 || n > 1<<30 {
		return 0, fmt.Errorf("%w: client.chunk_size out of range", domain.ErrInvalidConfig)
	}
	return n, nil
}

// ConfigEntry is one row of `flotilla config show`.
type ConfigEntry struct {
	Key   string
	Value string
}

const redacted = "********"

// configKeys lists the keys shown by `config show`, in display order.
var configKeys = []struct {
	key   string
	value func(Config) string
}{
	{"agent.listen", func(c Config) string { return c.Agent.Listen }},
	{"agent.api_key_file", func(c Config) string { return c.Agent.APIKeyFile }},
	{"agent.backend", func(c Config) string { return c.Agent.Backend }},
	{"agent.runtime", func(c Config) string { return c.Agent.Runtime }},
	{"agent.binary", func(c Config) string { return c.Agent.Binary }},
	{"agent.upload_dir", func(c Config) string { return c.Agent.UploadDir }},
	{"agent.rate_limit", func(c Config) string { return strconv.FormatFloat(c.Agent.RateLimit, 'f', -1, 64) }},
	{"agent.rate_burst", func(c Config) string { return strconv.Itoa(c.Agent.RateBurst) }},
	{"agent.rate_limit_backend", func(c Config) string { return c.Agent.RateLimitBackend }},
	{"agent.command_timeout", func(c Config) string { return c.Agent.CommandTimeout }},
	{"agent.shutdown_timeout", func(c Config) string { return c.Agent.ShutdownTimeout.String() }},
	{"client.api_key_file", func(c Config) string { return c.Client.APIKeyFile }},
	{"client.port", func(c Config) string { return strconv.Itoa(c.Client.Port) }},
	{"client.timeout", func(c Config) string { return c.Client.Timeout.String() }},
	{"client.chunk_size", func(c Config) string { return c.Client.ChunkSize }},
	{"client.retries", func(c Config) string { return strconv.Itoa(c.Client.Retries) }},
	{"client.base_port", func(c Config) string { return strconv.Itoa(c.Client.BasePort) }},
	{"discovery.static_config", func(c Config) string { return c.Discovery.StaticConfig }},
	{"discovery.probe_timeout", func(c Config) string { return c.Discovery.ProbeTimeout.String() }},
	{"topology.metadata_url", func(c Config) string { return c.Topology.MetadataURL }},
	{"topology.timeout", func(c Config) string { return c.Topology.Timeout.String() }},
	{"certs.nginx_dir", func(c Config) string { return c.Certs.NginxDir }},
	{"certs.cert_dir", func(c Config) string { return c.Certs.CertDir }},
	{"certs.issuer", func(c Config) string { return c.Certs.Issuer }},
	{"certs.email", func(c Config) string { return c.Certs.Email }},
	{"certs.webroot", func(c Config) string { return c.Certs.Webroot }},
	{"certs.staging", func(c Config) string { return strconv.FormatBool(c.Certs.Staging) }},
	{"certs.ca_dir_url", func(c Config) string { return c.Certs.CADirURL }},
	{"certs.certbot_binary", func(c Config) string { return c.Certs.CertbotBinary }},
	{"certs.timeout", func(c Config) string { return c.Certs.Timeout.String() }},
	{"certs.schedule", func(c Config) string { return c.Certs.Schedule }},
	{"certs.reload_command", func(c Config) string { return c.Certs.ReloadCommand }},
	{"backup.host_root", func(c Config) string { return c.Backup.HostRoot }},
	{"backup.default_retention_days", func(c Config) string { return strconv.Itoa(c.Backup.DefaultRetentionDays) }},
	{"backup.services_file", func(c Config) string { return c.Backup.ServicesFile }},
	{"backup.runtime_binary", func(c Config) string { return c.Backup.RuntimeBinary }},
	{"lock.backend", func(c Config) string { return c.Lock.Backend }},
	{"lock.redis_addr", func(c Config) string { return c.Lock.RedisAddr }},
	{"lock.redis_password", func(c Config) string { return redact(c.Lock.RedisPassword) }},
	{"lock.redis_db", func(c Config) string { return strconv.Itoa(c.Lock.RedisDB) }},
	{"lock.prefix", func(c Config) string { return c.Lock.Prefix }},
	{"lock.ttl", func(c Config) string { return c.Lock.TTL.String() }},
	{"logging.level", func(c Config) string { return c.Logging.Level }},
	{"logging.format", func(c Config) string { return c.Logging.Format }},
	{"logging.file.enabled", func(c Config) string { return strconv.FormatBool(c.Logging.File.Enabled) }},
	{"logging.file.path", func(c Config) string { return c.Logging.File.Path }},
	{"jobs.lock_dir", func(c Config) string { return c.Jobs.LockDir }},
	{"telemetry.enabled", func(c Config) string { return strconv.FormatBool(c.Telemetry.Enabled) }},
	{"telemetry.runtime_collectors", func(c Config) string { return strconv.FormatBool(c.Telemetry.RuntimeCollectors) }},
	{"telemetry.listen", func(c Config) string { return c.Telemetry.Listen }},
}

func redact(s string) string {
	if s == "" {
		return ""
	}
	return redacted
}

// Entries returns the effective configuration in display order. Secrets are redacted.
func (c Config) Entries() []ConfigEntry {
	entries := make([]ConfigEntry, 0, len(configKeys))
	for _, k := range configKeys {
		entries = append(entries, ConfigEntry{Key: k.key, Value: k.value(c)})
	}
	return entries
}
