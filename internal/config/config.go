// Package config provides configuration loading and management for the tenant
// sync server.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/launchfold/tenant-sync-server/internal/telemetry"
)

const (
	// StoreBackendMemory keeps all records in process memory
	StoreBackendMemory = "memory"

	// StoreBackendPostgres persists records in PostgreSQL
	StoreBackendPostgres = "postgres"
)

const (
	// LockBackendMemory keeps sync locks in process memory
	LockBackendMemory = "memory"

	// LockBackendRedis shares sync locks through Redis
	LockBackendRedis = "redis"
)

// Environment variable names honoured as overrides for sensitive fields
const (
	envRemoteToken   = "LFTS_REMOTE_TOKEN"
	envRemoteTeamID  = "LFTS_REMOTE_TEAM_ID"
	envStorePassword = "LFTS_STORE_PASSWORD"
)

// Option defines the interface for configuration options
type Option func(*loaderConfig) error

// loaderConfig defines the configuration for loading a configuration
type loaderConfig struct {
	path string
}

// WithConfigPath loads configuration from a YAML file
func WithConfigPath(path string) Option {
	return func(cfg *loaderConfig) error {
		if path == "" {
			return fmt.Errorf("path is required")
		}

		// Resolve symlinks to prevent symlink attacks.
		// Note that this calls filepath.Clean internally.
		realPath, err := filepath.EvalSymlinks(path)
		if err != nil {
			return fmt.Errorf("failed to evaluate symlinks: %w", err)
		}

		// Validate the path to prevent path traversal attacks
		if !filepath.IsAbs(realPath) {
			if !filepath.IsLocal(realPath) {
				return fmt.Errorf("path is not local or contains invalid traversal: %s", path)
			}
		}

		cfg.path = realPath
		return nil
	}
}

// Config represents the root configuration structure
type Config struct {
	Remote    RemoteConfig      `yaml:"remote"`
	Store     StoreConfig       `yaml:"store"`
	Locks     LocksConfig       `yaml:"locks,omitempty"`
	Sync      SyncConfig        `yaml:"sync,omitempty"`
	Server    ServerConfig      `yaml:"server,omitempty"`
	Telemetry *telemetry.Config `yaml:"telemetry,omitempty"`
}

// RemoteConfig defines how the deployment platform is reached
type RemoteConfig struct {
	// Endpoint is the base URL of the platform API
	Endpoint string `yaml:"endpoint"`

	// Token is the process-default API token. TokenFile and the
	// LFTS_REMOTE_TOKEN environment variable take precedence.
	Token string `yaml:"token,omitempty"`

	// TokenFile is the path to a file containing the API token
	TokenFile string `yaml:"tokenFile,omitempty"`

	// TeamID scopes platform requests to a team. Overridden by
	// LFTS_REMOTE_TEAM_ID.
	TeamID string `yaml:"teamId,omitempty"`

	// Timeout is the per-request timeout (e.g. "10s")
	Timeout string `yaml:"timeout,omitempty"`

	// MaxTries bounds the retry loop for retryable platform errors
	MaxTries int `yaml:"maxTries,omitempty"`
}

// GetToken resolves the platform token: token file, then the
// LFTS_REMOTE_TOKEN environment variable, then the inline value.
func (r *RemoteConfig) GetToken() (string, error) {
	if r.TokenFile != "" {
		data, err := os.ReadFile(filepath.Clean(r.TokenFile))
		if err != nil {
			return "", fmt.Errorf("failed to read token from file %s: %w", r.TokenFile, err)
		}
		return strings.TrimSpace(string(data)), nil
	}

	if token := os.Getenv(envRemoteToken); token != "" {
		return token, nil
	}

	return r.Token, nil
}

// GetTeamID resolves the team scope, honouring the environment override
func (r *RemoteConfig) GetTeamID() string {
	if teamID := os.Getenv(envRemoteTeamID); teamID != "" {
		return teamID
	}
	return r.TeamID
}

// GetTimeout returns the per-request timeout, defaulting to 10 seconds
func (r *RemoteConfig) GetTimeout() time.Duration {
	if r.Timeout == "" {
		return 10 * time.Second
	}
	d, err := time.ParseDuration(r.Timeout)
	if err != nil {
		return 10 * time.Second
	}
	return d
}

// Validate checks the remote section
func (r *RemoteConfig) Validate() error {
	if r.Endpoint == "" {
		return fmt.Errorf("remote.endpoint is required")
	}
	parsed, err := url.Parse(r.Endpoint)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("remote.endpoint must be a valid URL, got %q", r.Endpoint)
	}
	if r.Timeout != "" {
		if _, err := time.ParseDuration(r.Timeout); err != nil {
			return fmt.Errorf("remote.timeout must be a valid duration (e.g. '10s'): %w", err)
		}
	}
	if r.MaxTries < 0 {
		return fmt.Errorf("remote.maxTries must not be negative")
	}
	return nil
}

// StoreConfig selects and configures the record store backend
type StoreConfig struct {
	// Backend is either "memory" or "postgres"
	Backend string `yaml:"backend"`

	// Postgres holds the connection settings when Backend is "postgres"
	Postgres *PostgresConfig `yaml:"postgres,omitempty"`
}

// Validate checks the store section
func (s *StoreConfig) Validate() error {
	switch s.Backend {
	case StoreBackendMemory:
		if s.Postgres != nil {
			return fmt.Errorf("store.postgres must not be set with the memory backend")
		}
	case StoreBackendPostgres:
		if s.Postgres == nil {
			return fmt.Errorf("store.postgres is required with the postgres backend")
		}
		return s.Postgres.Validate()
	case "":
		return fmt.Errorf("store.backend is required (memory or postgres)")
	default:
		return fmt.Errorf("store.backend must be memory or postgres, got %q", s.Backend)
	}
	return nil
}

// PostgresConfig defines database connection settings
type PostgresConfig struct {
	// Host is the database server hostname or IP address
	Host string `yaml:"host"`

	// Port is the database server port
	Port int `yaml:"port"`

	// User is the database username
	User string `yaml:"user"`

	// PasswordFile is the path to a file containing the database password.
	// This is the recommended approach for production deployments.
	PasswordFile string `yaml:"passwordFile,omitempty"`

	// Database is the database name
	Database string `yaml:"database"`

	// SSLMode is the SSL mode for the connection (disable, require, verify-ca, verify-full)
	SSLMode string `yaml:"sslMode,omitempty"`

	// MaxOpenConns is the maximum number of open connections to the database
	MaxOpenConns int32 `yaml:"maxOpenConns,omitempty"`

	// MaxIdleConns is the maximum number of idle connections in the pool
	MaxIdleConns int32 `yaml:"maxIdleConns,omitempty"`

	// ConnMaxLifetime is the maximum lifetime of a connection (e.g., "1h", "30m")
	ConnMaxLifetime string `yaml:"connMaxLifetime,omitempty"`
}

// Validate checks the postgres connection settings
func (p *PostgresConfig) Validate() error {
	if p.Host == "" {
		return fmt.Errorf("store.postgres.host is required")
	}
	if p.Port <= 0 || p.Port > 65535 {
		return fmt.Errorf("store.postgres.port must be between 1 and 65535")
	}
	if p.User == "" {
		return fmt.Errorf("store.postgres.user is required")
	}
	if p.Database == "" {
		return fmt.Errorf("store.postgres.database is required")
	}
	if p.ConnMaxLifetime != "" {
		if _, err := time.ParseDuration(p.ConnMaxLifetime); err != nil {
			return fmt.Errorf("store.postgres.connMaxLifetime must be a valid duration: %w", err)
		}
	}
	return nil
}

// GetPassword returns the database password using the following priority:
// 1. Read from PasswordFile if specified
// 2. Read from the LFTS_STORE_PASSWORD environment variable
//
// The password from file will have leading/trailing whitespace trimmed.
func (p *PostgresConfig) GetPassword() (string, error) {
	if p.PasswordFile != "" {
		// Use filepath.Clean to prevent path traversal attacks
		data, err := os.ReadFile(filepath.Clean(p.PasswordFile))
		if err != nil {
			return "", fmt.Errorf("failed to read password from file %s: %w", p.PasswordFile, err)
		}
		return strings.TrimSpace(string(data)), nil
	}

	if envPassword := os.Getenv(envStorePassword); envPassword != "" {
		return envPassword, nil
	}

	return "", fmt.Errorf(
		"no database password configured: set passwordFile or the %s environment variable",
		envStorePassword,
	)
}

// GetConnectionString builds a PostgreSQL connection string with proper
// password handling. The password is URL-escaped to handle special characters.
func (p *PostgresConfig) GetConnectionString() (string, error) {
	password, err := p.GetPassword()
	if err != nil {
		return "", err
	}

	sslMode := p.SSLMode
	if sslMode == "" {
		sslMode = "require"
	}

	connString := fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		p.User,
		url.QueryEscape(password),
		p.Host,
		p.Port,
		p.Database,
		sslMode,
	)

	return connString, nil
}

// LocksConfig selects and configures the sync-lock backend
type LocksConfig struct {
	// Backend is either "memory" or "redis"; empty defaults to memory
	Backend string `yaml:"backend,omitempty"`

	// Redis holds the connection settings when Backend is "redis"
	Redis *RedisConfig `yaml:"redis,omitempty"`

	// DebounceWindow rejects repeat document passes started within the
	// window (e.g. "1s")
	DebounceWindow string `yaml:"debounceWindow,omitempty"`
}

// RedisConfig defines Redis connection settings for shared locks
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db,omitempty"`
}

// GetBackend returns the lock backend, defaulting to memory
func (l *LocksConfig) GetBackend() string {
	if l.Backend == "" {
		return LockBackendMemory
	}
	return l.Backend
}

// GetDebounceWindow returns the debounce window, defaulting to one second
func (l *LocksConfig) GetDebounceWindow() time.Duration {
	if l.DebounceWindow == "" {
		return time.Second
	}
	d, err := time.ParseDuration(l.DebounceWindow)
	if err != nil {
		return time.Second
	}
	return d
}

// Validate checks the locks section
func (l *LocksConfig) Validate() error {
	switch l.GetBackend() {
	case LockBackendMemory:
		if l.Redis != nil {
			return fmt.Errorf("locks.redis must not be set with the memory backend")
		}
	case LockBackendRedis:
		if l.Redis == nil || l.Redis.Addr == "" {
			return fmt.Errorf("locks.redis.addr is required with the redis backend")
		}
	default:
		return fmt.Errorf("locks.backend must be memory or redis, got %q", l.Backend)
	}
	if l.DebounceWindow != "" {
		if _, err := time.ParseDuration(l.DebounceWindow); err != nil {
			return fmt.Errorf("locks.debounceWindow must be a valid duration: %w", err)
		}
	}
	return nil
}

// SyncConfig tunes the reconciliation schedule
type SyncConfig struct {
	// Interval between background reconciliation passes (e.g. "2m")
	Interval string `yaml:"interval,omitempty"`

	// FetchLimit caps how many recent deployments are mirrored per tenant (1-3)
	FetchLimit int `yaml:"fetchLimit,omitempty"`

	// CredentialCacheTTL bounds how long resolved credentials are reused
	CredentialCacheTTL string `yaml:"credentialCacheTtl,omitempty"`

	// Parallelism bounds concurrent tenant passes
	Parallelism int `yaml:"parallelism,omitempty"`
}

// GetInterval returns the sync interval, defaulting to two minutes
func (s *SyncConfig) GetInterval() time.Duration {
	if s.Interval == "" {
		return 2 * time.Minute
	}
	d, err := time.ParseDuration(s.Interval)
	if err != nil {
		return 2 * time.Minute
	}
	return d
}

// GetCredentialCacheTTL returns the credential cache TTL, defaulting to five minutes
func (s *SyncConfig) GetCredentialCacheTTL() time.Duration {
	if s.CredentialCacheTTL == "" {
		return 5 * time.Minute
	}
	d, err := time.ParseDuration(s.CredentialCacheTTL)
	if err != nil {
		return 5 * time.Minute
	}
	return d
}

// Validate checks the sync section
func (s *SyncConfig) Validate() error {
	if s.Interval != "" {
		if _, err := time.ParseDuration(s.Interval); err != nil {
			return fmt.Errorf("sync.interval must be a valid duration (e.g. '2m'): %w", err)
		}
	}
	if s.FetchLimit < 0 || s.FetchLimit > 3 {
		return fmt.Errorf("sync.fetchLimit must be between 1 and 3")
	}
	if s.CredentialCacheTTL != "" {
		if _, err := time.ParseDuration(s.CredentialCacheTTL); err != nil {
			return fmt.Errorf("sync.credentialCacheTtl must be a valid duration: %w", err)
		}
	}
	if s.Parallelism < 0 {
		return fmt.Errorf("sync.parallelism must not be negative")
	}
	return nil
}

// ServerConfig tunes the HTTP listener
type ServerConfig struct {
	// Address is the listen address (e.g. ":8080")
	Address string `yaml:"address,omitempty"`

	// ReadTimeout bounds request reads (e.g. "10s")
	ReadTimeout string `yaml:"readTimeout,omitempty"`

	// WriteTimeout bounds response writes (e.g. "30s")
	WriteTimeout string `yaml:"writeTimeout,omitempty"`
}

// GetAddress returns the listen address, defaulting to ":8080"
func (s *ServerConfig) GetAddress() string {
	if s.Address == "" {
		return ":8080"
	}
	return s.Address
}

// GetReadTimeout returns the read timeout, defaulting to 10 seconds
func (s *ServerConfig) GetReadTimeout() time.Duration {
	return parseDurationOr(s.ReadTimeout, 10*time.Second)
}

// GetWriteTimeout returns the write timeout, defaulting to 30 seconds
func (s *ServerConfig) GetWriteTimeout() time.Duration {
	return parseDurationOr(s.WriteTimeout, 30*time.Second)
}

// Validate checks the server section
func (s *ServerConfig) Validate() error {
	for name, value := range map[string]string{
		"server.readTimeout":  s.ReadTimeout,
		"server.writeTimeout": s.WriteTimeout,
	} {
		if value == "" {
			continue
		}
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("%s must be a valid duration: %w", name, err)
		}
	}
	return nil
}

func parseDurationOr(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}

// LoadConfig loads and parses configuration from a YAML file
func LoadConfig(opts ...Option) (*Config, error) {
	loaderCfg := &loaderConfig{}
	for _, opt := range opts {
		if err := opt(loaderCfg); err != nil {
			return nil, err
		}
	}

	// As of now, this is required because there's no other options to load
	// configuration. Once we add more options, we can remove this check.
	if loaderCfg.path == "" {
		return nil, fmt.Errorf("path is required")
	}

	data, err := os.ReadFile(loaderCfg.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Validate performs validation on the configuration
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config cannot be nil")
	}

	if err := c.Remote.Validate(); err != nil {
		return err
	}
	if err := c.Store.Validate(); err != nil {
		return err
	}
	if err := c.Locks.Validate(); err != nil {
		return err
	}
	if err := c.Sync.Validate(); err != nil {
		return err
	}
	if err := c.Server.Validate(); err != nil {
		return err
	}
	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	return nil
}
