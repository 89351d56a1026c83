// Package config provides configuration loading and management for the proxy server.
package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/go-containerregistry/pkg/name"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/stacklok/seqci-proxy/internal/telemetry"
)

// EnvPrefix is the prefix for environment variables that override configuration values
const EnvPrefix = "SEQCI"

const (
	// DatabaseDriverSQLite stores the registry in a local sqlite file
	DatabaseDriverSQLite = "sqlite"

	// DatabaseDriverPostgres stores the registry in a PostgreSQL database
	DatabaseDriverPostgres = "postgres"
)

const (
	// PullPolicyAlways pulls the image before every instance start
	PullPolicyAlways = "always"

	// PullPolicyMissing pulls the image only when it is not present locally
	PullPolicyMissing = "missing"

	// PullPolicyNever never pulls the image
	PullPolicyNever = "never"
)

// PortPlaceholder is replaced by the allocated port in the container command
const PortPlaceholder = "{port}"

const (
	defaultAddress           = ":5050"
	defaultDatabasePath      = "./data/seqci.db"
	defaultHostIP            = "127.0.0.1"
	defaultStopTimeout       = "10s"
	defaultStartTimeout      = "2m"
	defaultPortMin           = 10001
	defaultPortMax           = 64999
	defaultPortAttempts      = 64
	defaultLogTail           = 25
	defaultOrphanGracePeriod = "2m"
	defaultRealm             = "seqci-proxy"
)

// defaultCommand mirrors the katana invocation used by the sequencer image
var defaultCommand = []string{"katana", "--port", PortPlaceholder, "--disable-fee"}

// Option defines the interface for configuration options
type Option func(*loaderConfig) error

// loaderConfig defines the configuration for loading a configuration
type loaderConfig struct {
	path string
	env  *viper.Viper
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

		if !filepath.IsAbs(realPath) {
			if !filepath.IsLocal(realPath) {
				return fmt.Errorf("path is not local or contains invalid traversal: %s", path)
			}
		}

		cfg.path = realPath
		return nil
	}
}

// WithEnv overrides the viper instance used to read environment overrides.
// Tests use it to inject values without touching the process environment.
func WithEnv(v *viper.Viper) Option {
	return func(cfg *loaderConfig) error {
		if v == nil {
			return fmt.Errorf("viper instance cannot be nil")
		}
		cfg.env = v
		return nil
	}
}

// Config represents the root configuration structure
type Config struct {
	Server    ServerConfig      `yaml:"server"`
	Container ContainerConfig   `yaml:"container"`
	Database  DatabaseConfig    `yaml:"database"`
	Ports     PortsConfig       `yaml:"ports"`
	Auth      AuthConfig        `yaml:"auth"`
	Logs      LogsConfig        `yaml:"logs"`
	Reconcile ReconcileConfig   `yaml:"reconcile"`
	Telemetry *telemetry.Config `yaml:"telemetry,omitempty"`
}

// ServerConfig defines the HTTP listener settings
type ServerConfig struct {
	// Address is the address the HTTP server listens on
	Address string `yaml:"address"`

	// StartTimeout bounds a single /start request, image pull included
	StartTimeout string `yaml:"startTimeout,omitempty"`
}

// ContainerConfig defines how sequencer containers are created
type ContainerConfig struct {
	// Image is the container image reference instantiated for every instance
	Image string `yaml:"image"`

	// Command is the container command. The PortPlaceholder token is replaced
	// with the allocated port.
	Command []string `yaml:"command,omitempty"`

	// HostIP is the host address the allocated port is bound to and proxied from
	HostIP string `yaml:"hostIP,omitempty"`

	// PullPolicy controls when the image is pulled (always, missing, never)
	PullPolicy string `yaml:"pullPolicy,omitempty"`

	// StopTimeout is the grace period given to a container before it is killed
	StopTimeout string `yaml:"stopTimeout,omitempty"`

	// Labels are extra labels applied to every managed container
	Labels map[string]string `yaml:"labels,omitempty"`
}

// DatabaseConfig defines registry database settings
type DatabaseConfig struct {
	// Driver selects the registry backend (sqlite or postgres)
	Driver string `yaml:"driver,omitempty"`

	// Path is the sqlite database file
	Path string `yaml:"path,omitempty"`

	// Host is the database server hostname or IP address
	Host string `yaml:"host,omitempty"`

	// Port is the database server port
	Port int `yaml:"port,omitempty"`

	// User is the database username
	User string `yaml:"user,omitempty"`

	// PasswordFile is the path to a file containing the database password
	PasswordFile string `yaml:"passwordFile,omitempty"`

	// Database is the database name
	Database string `yaml:"database,omitempty"`

	// SSLMode is the SSL mode for the connection (disable, require, verify-ca, verify-full)
	SSLMode string `yaml:"sslMode,omitempty"`

	// MaxOpenConns is the maximum number of open connections to the database
	MaxOpenConns int `yaml:"maxOpenConns,omitempty"`

	// MaxIdleConns is the maximum number of idle connections in the pool
	MaxIdleConns int `yaml:"maxIdleConns,omitempty"`

	// ConnMaxLifetime is the maximum lifetime of a connection (e.g., "1h", "30m")
	ConnMaxLifetime string `yaml:"connMaxLifetime,omitempty"`
}

// PortsConfig defines the range proxied ports are drawn from
type PortsConfig struct {
	Min         int   `yaml:"min,omitempty"`
	Max         int   `yaml:"max,omitempty"`
	MaxAttempts int   `yaml:"maxAttempts,omitempty"`
	ProbeHost   *bool `yaml:"probeHost,omitempty"`
}

// AuthConfig defines tenant authentication settings
type AuthConfig struct {
	// Realm is reported in WWW-Authenticate challenges
	Realm string `yaml:"realm,omitempty"`

	// UsersFile seeds tenants at startup, one "name,api_key" pair per line
	UsersFile string `yaml:"usersFile,omitempty"`

	// RevealForeignInstances answers 403 instead of 404 when a tenant
	// addresses an instance it does not own
	RevealForeignInstances bool `yaml:"revealForeignInstances,omitempty"`
}

// LogsConfig defines log retrieval settings
type LogsConfig struct {
	// DefaultTail is the number of lines returned when n is not given
	DefaultTail int `yaml:"defaultTail,omitempty"`
}

// ReconcileConfig defines the background reconciliation sweep
type ReconcileConfig struct {
	// Interval between sweeps. Empty disables the background sweep.
	Interval string `yaml:"interval,omitempty"`

	// OrphanGracePeriod is how old an untracked managed container must be
	// before the sweep removes it
	OrphanGracePeriod string `yaml:"orphanGracePeriod,omitempty"`
}

// Default returns a configuration with every default applied
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// LoadConfig loads configuration from an optional YAML file, applies defaults
// and environment overrides, and validates the result
func LoadConfig(opts ...Option) (*Config, error) {
	loaderCfg := &loaderConfig{}
	for _, opt := range opts {
		if err := opt(loaderCfg); err != nil {
			return nil, err
		}
	}

	config := &Config{}
	if loaderCfg.path != "" {
		data, err := os.ReadFile(loaderCfg.path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	}

	env := loaderCfg.env
	if env == nil {
		env = newEnvViper()
	}
	config.applyEnv(env)
	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

func newEnvViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// applyEnv overrides file values with SEQCI_* environment variables
func (c *Config) applyEnv(v *viper.Viper) {
	if s := v.GetString("container.image"); s != "" {
		c.Container.Image = s
	}
	if s := v.GetString("database.path"); s != "" {
		c.Database.Path = s
	}
	if s := v.GetString("users_file"); s != "" {
		c.Auth.UsersFile = s
	}
	if s := v.GetString("server.address"); s != "" {
		c.Server.Address = s
	}
}

func (c *Config) applyDefaults() {
	if c.Server.Address == "" {
		c.Server.Address = defaultAddress
	}
	if c.Server.StartTimeout == "" {
		c.Server.StartTimeout = defaultStartTimeout
	}
	if len(c.Container.Command) == 0 {
		c.Container.Command = append([]string(nil), defaultCommand...)
	}
	if c.Container.HostIP == "" {
		c.Container.HostIP = defaultHostIP
	}
	if c.Container.PullPolicy == "" {
		c.Container.PullPolicy = PullPolicyMissing
	}
	if c.Container.StopTimeout == "" {
		c.Container.StopTimeout = defaultStopTimeout
	}
	if c.Database.Driver == "" {
		c.Database.Driver = DatabaseDriverSQLite
	}
	if c.Database.Driver == DatabaseDriverSQLite && c.Database.Path == "" {
		c.Database.Path = defaultDatabasePath
	}
	if c.Ports.Min == 0 {
		c.Ports.Min = defaultPortMin
	}
	if c.Ports.Max == 0 {
		c.Ports.Max = defaultPortMax
	}
	if c.Ports.MaxAttempts == 0 {
		c.Ports.MaxAttempts = defaultPortAttempts
	}
	if c.Ports.ProbeHost == nil {
		probe := true
		c.Ports.ProbeHost = &probe
	}
	if c.Auth.Realm == "" {
		c.Auth.Realm = defaultRealm
	}
	if c.Logs.DefaultTail == 0 {
		c.Logs.DefaultTail = defaultLogTail
	}
	if c.Reconcile.OrphanGracePeriod == "" {
		c.Reconcile.OrphanGracePeriod = defaultOrphanGracePeriod
	}
}

// Validate performs validation on the configuration
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config cannot be nil")
	}

	var errs []error

	if c.Container.Image == "" {
		errs = append(errs, fmt.Errorf("container.image is required (or set %s_CONTAINER_IMAGE)", EnvPrefix))
	} else if _, err := name.ParseReference(c.Container.Image); err != nil {
		errs = append(errs, fmt.Errorf("container.image is not a valid image reference: %w", err))
	}

	if !containsPlaceholder(c.Container.Command) {
		errs = append(errs, fmt.Errorf("container.command must contain the %s placeholder", PortPlaceholder))
	}

	if net.ParseIP(c.Container.HostIP) == nil {
		errs = append(errs, fmt.Errorf("container.hostIP is not a valid IP address: %q", c.Container.HostIP))
	}

	switch c.Container.PullPolicy {
	case PullPolicyAlways, PullPolicyMissing, PullPolicyNever:
	default:
		errs = append(errs, fmt.Errorf("container.pullPolicy must be one of always, missing, never; got %q",
			c.Container.PullPolicy))
	}

	errs = append(errs,
		validateDuration("server.startTimeout", c.Server.StartTimeout, false),
		validateDuration("container.stopTimeout", c.Container.StopTimeout, false),
		validateDuration("reconcile.interval", c.Reconcile.Interval, true),
		validateDuration("reconcile.orphanGracePeriod", c.Reconcile.OrphanGracePeriod, false),
		c.Database.validate(),
		c.Ports.validate(),
	)

	if c.Logs.DefaultTail < 0 {
		errs = append(errs, fmt.Errorf("logs.defaultTail must not be negative"))
	}

	if err := c.Telemetry.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("telemetry: %w", err))
	}

	return errors.Join(errs...)
}

func (d *DatabaseConfig) validate() error {
	switch d.Driver {
	case DatabaseDriverSQLite:
		if d.Path == "" {
			return fmt.Errorf("database.path is required for the sqlite driver")
		}
	case DatabaseDriverPostgres:
		if d.Host == "" || d.Port == 0 || d.User == "" || d.Database == "" {
			return fmt.Errorf("database host, port, user and database are required for the postgres driver")
		}
	default:
		return fmt.Errorf("database.driver must be sqlite or postgres, got %q", d.Driver)
	}
	return validateDuration("database.connMaxLifetime", d.ConnMaxLifetime, true)
}

func (p *PortsConfig) validate() error {
	if p.Min < 1 || p.Max > 65535 || p.Min > p.Max {
		return fmt.Errorf("ports range [%d, %d] is invalid", p.Min, p.Max)
	}
	if p.MaxAttempts < 1 {
		return fmt.Errorf("ports.maxAttempts must be positive")
	}
	return nil
}

func validateDuration(field, value string, optional bool) error {
	if value == "" {
		if optional {
			return nil
		}
		return fmt.Errorf("%s is required", field)
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("%s must be a valid duration (e.g., '30s', '5m'): %w", field, err)
	}
	if d < 0 {
		return fmt.Errorf("%s must not be negative", field)
	}
	return nil
}

func containsPlaceholder(cmd []string) bool {
	for _, arg := range cmd {
		if strings.Contains(arg, PortPlaceholder) {
			return true
		}
	}
	return false
}

// mustDuration parses a duration that Validate has already checked
func mustDuration(value string) time.Duration {
	d, _ := time.ParseDuration(value)
	return d
}

// GetStartTimeout returns the per-request start timeout
func (s *ServerConfig) GetStartTimeout() time.Duration {
	return mustDuration(s.StartTimeout)
}

// GetStopTimeout returns the container stop grace period
func (c *ContainerConfig) GetStopTimeout() time.Duration {
	return mustDuration(c.StopTimeout)
}

// GetInterval returns the sweep interval, zero when the sweep is disabled
func (r *ReconcileConfig) GetInterval() time.Duration {
	return mustDuration(r.Interval)
}

// GetOrphanGracePeriod returns the orphan grace period
func (r *ReconcileConfig) GetOrphanGracePeriod() time.Duration {
	return mustDuration(r.OrphanGracePeriod)
}

// GetConnMaxLifetime returns the connection lifetime, zero when unset
func (d *DatabaseConfig) GetConnMaxLifetime() time.Duration {
	return mustDuration(d.ConnMaxLifetime)
}

// ShouldProbeHost reports whether sampled ports are test-bound on the host
func (p *PortsConfig) ShouldProbeHost() bool {
	return p.ProbeHost == nil || *p.ProbeHost
}

// GetPassword returns the database password using the following priority:
// 1. Read from PasswordFile if specified
// 2. Read from SEQCI_DATABASE_PASSWORD environment variable
//
// The password from file will have leading/trailing whitespace trimmed.
func (d *DatabaseConfig) GetPassword() (string, error) {
	if d.PasswordFile != "" {
		cleanPath := filepath.Clean(d.PasswordFile)

		data, err := os.ReadFile(cleanPath)
		if err != nil {
			return "", fmt.Errorf("failed to read password from file %s: %w", d.PasswordFile, err)
		}

		return strings.TrimSpace(string(data)), nil
	}

	if envPassword := os.Getenv(EnvPrefix + "_DATABASE_PASSWORD"); envPassword != "" {
		return envPassword, nil
	}

	return "", fmt.Errorf(
		"no database password configured: set passwordFile or %s_DATABASE_PASSWORD environment variable", EnvPrefix,
	)
}

// GetConnectionString builds a PostgreSQL connection URL with proper password handling.
// The password is URL-escaped to handle special characters safely.
func (d *DatabaseConfig) GetConnectionString() (string, error) {
	password, err := d.GetPassword()
	if err != nil {
		return "", err
	}

	sslMode := d.SSLMode
	if sslMode == "" {
		sslMode = "require"
	}

	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(d.User),
		url.QueryEscape(password),
		d.Host,
		d.Port,
		d.Database,
		sslMode,
	), nil
}
