package db

import (
	"fmt"
	"os"
	"strconv"

	"github.com/vvka-141/crdb/internal/config"
	"github.com/vvka-141/crdb/pkg/crdb"
)

// GranularConnFlags represents connection parameters from CLI flags.
// These follow PostgreSQL standard flag conventions (-h, -p, -U, -d).
//
// Password is not a flag; use $PGPASSWORD or a connection string.
type GranularConnFlags struct {
	Host        string
	Port        int
	Username    string
	Database    string
	SSLMode     string
	SSLRootCert string
	SSLCert     string
	SSLKey      string
}

// IsEmpty returns true if no connection-related granular flags were provided.
// Database is excluded: it may override the database of a connection string.
func (g *GranularConnFlags) IsEmpty() bool {
	return g.Host == "" && g.Port == 0 && g.Username == "" && g.SSLMode == "" &&
		g.SSLRootCert == "" && g.SSLCert == "" && g.SSLKey == ""
}

// AzureFlags represents Azure Entra ID CLI flags.
// These override the corresponding AZURE_* environment variables.
// The client secret only comes from AZURE_CLIENT_SECRET.
type AzureFlags struct {
	TenantID string
	ClientID string
}

// IsEmpty returns true if no Azure flags were provided.
func (a *AzureFlags) IsEmpty() bool {
	return a == nil || (a.TenantID == "" && a.ClientID == "")
}

// EnvVars represents the PostgreSQL standard environment variables plus the
// CockroachDB and Azure SDK ones the resolver understands.
// See: https://www.postgresql.org/docs/current/libpq-envars.html
type EnvVars struct {
	PGHOST        string
	PGPORT        string
	PGUSER        string
	PGPASSWORD    string
	PGDATABASE    string
	PGSSLMODE     string
	PGSSLROOTCERT string
	PGSSLCERT     string
	PGSSLKEY      string
	PGAPPNAME     string
	DATABASE_URL  string // Heroku/Rails convention
	COCKROACH_URL string // cockroach CLI convention, wins over DATABASE_URL

	AZURE_TENANT_ID     string
	AZURE_CLIENT_ID     string
	AZURE_CLIENT_SECRET string
}

// LoadFromEnvironment reads the variables EnvVars describes.
func LoadFromEnvironment() *EnvVars {
	return &EnvVars{
		PGHOST:              os.Getenv("PGHOST"),
		PGPORT:              os.Getenv("PGPORT"),
		PGUSER:              os.Getenv("PGUSER"),
		PGPASSWORD:          os.Getenv("PGPASSWORD"),
		PGDATABASE:          os.Getenv("PGDATABASE"),
		PGSSLMODE:           os.Getenv("PGSSLMODE"),
		PGSSLROOTCERT:       os.Getenv("PGSSLROOTCERT"),
		PGSSLCERT:           os.Getenv("PGSSLCERT"),
		PGSSLKEY:            os.Getenv("PGSSLKEY"),
		PGAPPNAME:           os.Getenv("PGAPPNAME"),
		DATABASE_URL:        os.Getenv("DATABASE_URL"),
		COCKROACH_URL:       os.Getenv("COCKROACH_URL"),
		AZURE_TENANT_ID:     os.Getenv("AZURE_TENANT_ID"),
		AZURE_CLIENT_ID:     os.Getenv("AZURE_CLIENT_ID"),
		AZURE_CLIENT_SECRET: os.Getenv("AZURE_CLIENT_SECRET"),
	}
}

// HasAzureCredentials returns true if Azure Entra ID environment variables are set.
func (e *EnvVars) HasAzureCredentials() bool {
	return e.AZURE_TENANT_ID != "" || e.AZURE_CLIENT_ID != ""
}

func (e *EnvVars) connectionURL() string {
	if e.COCKROACH_URL != "" {
		return e.COCKROACH_URL
	}
	return e.DATABASE_URL
}

// ResolveConnectionParams resolves connection parameters with this precedence:
//
//  1. Connection string flag (--connection)
//  2. Granular flags (-h, -p, -U, -d, --sslmode, ...)
//  3. COCKROACH_URL, then DATABASE_URL, when no granular flag is set
//  4. PG* environment variables
//  5. crdb.yaml
//  6. Defaults (localhost:26257, user root, database defaultdb, sslmode prefer)
//
// Pool, retry, driver and cloud auth settings come from crdb.yaml on every
// path. Azure flags or AZURE_* variables switch to Azure Entra ID auth.
//
// Returns an error if BOTH --connection and granular flags are provided.
func ResolveConnectionParams(
	connStringFlag string,
	granularFlags *GranularConnFlags,
	azureFlags *AzureFlags,
	envVars *EnvVars,
	projectConfig *config.ProjectConfig,
) (*crdb.ConnectionConfig, error) {
	if granularFlags == nil {
		granularFlags = &GranularConnFlags{}
	}
	if azureFlags == nil {
		azureFlags = &AzureFlags{}
	}
	if envVars == nil {
		envVars = &EnvVars{}
	}

	if connStringFlag != "" && !granularFlags.IsEmpty() {
		return nil, fmt.Errorf(
			"cannot specify both --connection and granular flags (-h, -p, -U)\n" +
				"Choose one approach:\n" +
				"  1. Connection string: --connection \"postgresql://root@localhost:26257/defaultdb\"\n" +
				"  2. Granular flags: -h localhost -p 26257 -U root -d defaultdb\n" +
				"  3. Environment variables: export PGHOST=localhost PGPORT=26257 PGUSER=root",
		)
	}

	var cfg *crdb.ConnectionConfig
	var err error

	switch {
	case connStringFlag != "":
		cfg, err = resolveFromConnectionString(connStringFlag, envVars)
	case granularFlags.IsEmpty() && envVars.connectionURL() != "":
		cfg, err = resolveFromConnectionString(envVars.connectionURL(), envVars)
	default:
		cfg, err = resolveFromGranularParams(granularFlags, envVars, projectConfig)
	}
	if err != nil {
		return nil, err
	}

	if granularFlags.Database != "" {
		cfg.Database = granularFlags.Database
	}

	if err := applyProjectSettings(cfg, projectConfig); err != nil {
		return nil, err
	}
	applyAzureAuth(cfg, azureFlags, envVars)

	return cfg, nil
}

// applyAzureAuth sets Azure Entra ID authentication on the config if credentials are available.
// CLI flags take precedence over environment variables.
func applyAzureAuth(cfg *crdb.ConnectionConfig, flags *AzureFlags, env *EnvVars) {
	tenantID := flags.TenantID
	if tenantID == "" {
		tenantID = env.AZURE_TENANT_ID
	}
	clientID := flags.ClientID
	if clientID == "" {
		clientID = env.AZURE_CLIENT_ID
	}

	if tenantID != "" || clientID != "" {
		cfg.AuthMethod = crdb.AuthMethodAzureEntraID
		cfg.AzureTenantID = tenantID
		cfg.AzureClientID = clientID
		cfg.AzureClientSecret = env.AZURE_CLIENT_SECRET
	}
}

// applyProjectSettings copies the non-address settings of crdb.yaml. Values
// already set on cfg win.
func applyProjectSettings(cfg *crdb.ConnectionConfig, pc *config.ProjectConfig) error {
	if pc == nil {
		return nil
	}

	if pc.Connection.AuthMethod != "" && cfg.AuthMethod == crdb.AuthMethodStandard {
		method, err := crdb.ParseAuthMethod(pc.Connection.AuthMethod)
		if err != nil {
			return fmt.Errorf("crdb.yaml: %w", err)
		}
		cfg.AuthMethod = method
	}
	if cfg.AWSRegion == "" {
		cfg.AWSRegion = pc.Connection.AWSRegion
	}
	if cfg.GoogleInstance == "" {
		cfg.GoogleInstance = pc.Connection.GoogleInstance
	}
	if cfg.AzureTenantID == "" {
		cfg.AzureTenantID = pc.Connection.AzureTenantID
	}
	if cfg.AzureClientID == "" {
		cfg.AzureClientID = pc.Connection.AzureClientID
	}

	cfg.Native = cfg.Native || pc.Connection.Native
	if cfg.MaxConns == 0 {
		cfg.MaxConns = pc.Pool.MaxConns
	}
	if cfg.MinConns == 0 {
		cfg.MinConns = pc.Pool.MinConns
	}
	if cfg.MaxConnIdleTime == 0 {
		cfg.MaxConnIdleTime = pc.MaxConnIdleTime()
	}
	if cfg.ConnectRetries == 0 {
		cfg.ConnectRetries = pc.Retry.ConnectRetries
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = pc.ConnectTimeout()
	}
	return nil
}

// resolveFromConnectionString parses a connection string. Environment
// variables fill in the TLS settings the string leaves out, following libpq.
func resolveFromConnectionString(connStr string, envVars *EnvVars) (*crdb.ConnectionConfig, error) {
	cfg, err := ParseConnectionString(connStr)
	if err != nil {
		return nil, fmt.Errorf("invalid connection string: %w", err)
	}

	cfg.SSL.Mode = firstNonEmpty(cfg.SSL.Mode, envVars.PGSSLMODE, "prefer")
	cfg.SSL.RootCert = firstNonEmpty(cfg.SSL.RootCert, envVars.PGSSLROOTCERT)
	cfg.SSL.Cert = firstNonEmpty(cfg.SSL.Cert, envVars.PGSSLCERT)
	cfg.SSL.Key = firstNonEmpty(cfg.SSL.Key, envVars.PGSSLKEY)
	cfg.AppName = firstNonEmpty(cfg.AppName, envVars.PGAPPNAME)

	return cfg, nil
}

// resolveFromGranularParams builds a ConnectionConfig from flags, environment
// variables and crdb.yaml, in that order of precedence.
func resolveFromGranularParams(
	flags *GranularConnFlags,
	envVars *EnvVars,
	projectConfig *config.ProjectConfig,
) (*crdb.ConnectionConfig, error) {
	var pc config.ConnectionConfig
	if projectConfig != nil {
		pc = projectConfig.Connection
	}

	cfg := &crdb.ConnectionConfig{
		Host:             firstNonEmpty(flags.Host, envVars.PGHOST, pc.Host, "localhost"),
		Username:         firstNonEmpty(flags.Username, envVars.PGUSER, pc.Username, "root"),
		Password:         envVars.PGPASSWORD,
		Database:         firstNonEmpty(flags.Database, envVars.PGDATABASE, pc.Database, crdb.DefaultDatabase),
		AppName:          firstNonEmpty(envVars.PGAPPNAME, pc.AppName),
		AuthMethod:       crdb.AuthMethodStandard,
		AdditionalParams: make(map[string]string),
		SSL: crdb.SSLConfig{
			Mode:     firstNonEmpty(flags.SSLMode, envVars.PGSSLMODE, pc.SSLMode, "prefer"),
			RootCert: firstNonEmpty(flags.SSLRootCert, envVars.PGSSLROOTCERT, pc.SSLRootCert),
			Cert:     firstNonEmpty(flags.SSLCert, envVars.PGSSLCERT, pc.SSLCert),
			Key:      firstNonEmpty(flags.SSLKey, envVars.PGSSLKEY, pc.SSLKey),
		},
	}

	switch {
	case flags.Port != 0:
		cfg.Port = flags.Port
	case envVars.PGPORT != "":
		port, err := strconv.Atoi(envVars.PGPORT)
		if err != nil {
			return nil, fmt.Errorf("invalid $PGPORT value '%s': must be an integer", envVars.PGPORT)
		}
		cfg.Port = port
	case pc.Port != 0:
		cfg.Port = pc.Port
	default:
		cfg.Port = crdb.DefaultPort
	}

	return cfg, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
