package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrConfigNotFound is returned when the config file does not exist.
// Callers can check for this with errors.Is(err, config.ErrConfigNotFound).
var ErrConfigNotFound = errors.New("config file not found")

type ConnectionConfig struct {
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	Username       string `yaml:"username"`
	Database       string `yaml:"database"`
	AppName        string `yaml:"application_name,omitempty"`
	SSLMode        string `yaml:"sslmode"`
	SSLCert        string `yaml:"sslcert,omitempty"`
	SSLKey         string `yaml:"sslkey,omitempty"`
	SSLRootCert    string `yaml:"sslrootcert,omitempty"`
	Native         bool   `yaml:"native,omitempty"`
	AuthMethod     string `yaml:"auth_method,omitempty"`
	AzureTenantID  string `yaml:"azure_tenant_id,omitempty"`
	AzureClientID  string `yaml:"azure_client_id,omitempty"`
	AWSRegion      string `yaml:"aws_region,omitempty"`
	GoogleInstance string `yaml:"google_instance,omitempty"`
}

type PoolConfig struct {
	MaxConns    int32  `yaml:"max_conns,omitempty"`
	MinConns    int32  `yaml:"min_conns,omitempty"`
	MaxConnIdle string `yaml:"max_conn_idle,omitempty"`
}

type RetryConfig struct {
	// Limit is the number of transaction attempts; zero means the default.
	Limit          int    `yaml:"limit,omitempty"`
	ConnectRetries int    `yaml:"connect_retries,omitempty"`
	ConnectTimeout string `yaml:"connect_timeout,omitempty"`
}

type ProjectConfig struct {
	Connection ConnectionConfig `yaml:"connection"`
	Pool       PoolConfig       `yaml:"pool"`
	Retry      RetryConfig      `yaml:"retry"`
}

const ConfigFileName = "crdb.yaml"

// Load reads crdb.yaml from dir.
func Load(dir string) (*ProjectConfig, error) {
	return LoadFile(filepath.Join(dir, ConfigFileName))
}

// LoadFile reads the config file at path.
func LoadFile(path string) (*ProjectConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrConfigNotFound
		}
		return nil, err
	}

	var cfg ProjectConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &cfg, nil
}

// MaxConnIdleTime parses pool.max_conn_idle. Empty means zero.
func (c *ProjectConfig) MaxConnIdleTime() time.Duration {
	d, _ := parseDuration(c.Pool.MaxConnIdle)
	return d
}

// ConnectTimeout parses retry.connect_timeout. Empty means zero.
func (c *ProjectConfig) ConnectTimeout() time.Duration {
	d, _ := parseDuration(c.Retry.ConnectTimeout)
	return d
}

func (c *ProjectConfig) validate() error {
	var errs []error
	if _, err := parseDuration(c.Pool.MaxConnIdle); err != nil {
		errs = append(errs, fmt.Errorf("pool.max_conn_idle: %w", err))
	}
	if _, err := parseDuration(c.Retry.ConnectTimeout); err != nil {
		errs = append(errs, fmt.Errorf("retry.connect_timeout: %w", err))
	}
	if c.Retry.Limit < 0 {
		errs = append(errs, fmt.Errorf("retry.limit must not be negative, got %d", c.Retry.Limit))
	}
	if c.Retry.ConnectRetries < 0 {
		errs = append(errs, fmt.Errorf("retry.connect_retries must not be negative, got %d", c.Retry.ConnectRetries))
	}
	return errors.Join(errs...)
}

func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	return time.ParseDuration(s)
}
