package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/vvka-141/crdb/internal/config"
	"github.com/vvka-141/crdb/internal/db"
	"github.com/vvka-141/crdb/pkg/crdb"
)

// connectionFlags holds the connection-related flag values shared by all
// commands that talk to the database.
type connectionFlags struct {
	connection     string
	host           string
	port           int
	username       string
	database       string
	sslMode        string
	sslRootCert    string
	sslCert        string
	sslKey         string
	azureTenantID  string
	azureClientID  string
	native         bool
	connectRetries int
	configDir      string
	envFiles       []string
	timeout        time.Duration
}

// registerConnectionFlags adds the connection flags to cmd.
func registerConnectionFlags(cmd *cobra.Command, f *connectionFlags) {
	flags := cmd.Flags()

	flags.StringVar(&f.connection, "connection", "",
		"Connection string (URI or ADO.NET format).\n"+
			"Mutually exclusive with granular flags (--host, --port, --username).\n"+
			"Alternative: COCKROACH_URL or DATABASE_URL environment variable.\n"+
			"Example: postgresql://root@localhost:26257/defaultdb?sslmode=verify-full&sslrootcert=certs/ca.crt")

	flags.StringVarP(&f.host, "host", "h", "",
		"Database host\n"+
			"Precedence: --host > $PGHOST > crdb.yaml > localhost")
	flags.IntVarP(&f.port, "port", "p", 0,
		"Database port\n"+
			"Precedence: --port > $PGPORT > crdb.yaml > 26257")
	flags.StringVarP(&f.username, "username", "U", "",
		"Database user (default: $PGUSER or root)")
	flags.StringVarP(&f.database, "database", "d", "",
		"Database name (default: $PGDATABASE or defaultdb)\n"+
			"Overrides the database of a connection string")
	flags.StringVar(&f.sslMode, "sslmode", "",
		"SSL mode: disable|allow|prefer|require|verify-ca|verify-full\n"+
			"(default: prefer, or $PGSSLMODE)")
	flags.StringVar(&f.sslRootCert, "sslrootcert", "", "CA certificate file (default: $PGSSLROOTCERT)")
	flags.StringVar(&f.sslCert, "sslcert", "", "Client certificate file (default: $PGSSLCERT)")
	flags.StringVar(&f.sslKey, "sslkey", "", "Client private key file (default: $PGSSLKEY)")

	flags.StringVar(&f.azureTenantID, "azure-tenant-id", "",
		"Azure AD tenant/directory ID (overrides $AZURE_TENANT_ID)\n"+
			"Setting it switches to Azure Entra ID authentication")
	flags.StringVar(&f.azureClientID, "azure-client-id", "",
		"Azure AD application/client ID (overrides $AZURE_CLIENT_ID)")

	flags.BoolVar(&f.native, "native", false,
		"Use the database/sql driver instead of pgx")
	flags.IntVar(&f.connectRetries, "connect-retries", 0,
		"Retry transient connection failures this many times with exponential backoff")

	flags.StringVar(&f.configDir, "config", ".",
		"Directory containing crdb.yaml")
	flags.StringSliceVar(&f.envFiles, "env-file", nil,
		"Load environment variables from .env files before resolving the connection\n"+
			"(default: .env in the working directory, if present)")
	flags.DurationVar(&f.timeout, "timeout", 2*time.Minute,
		"Overall timeout for the command\n"+
			"Examples: 30s, 5m")
}

// loadEnvFiles loads .env files into the process environment. Variables that
// are already set win. Without explicit files a missing .env is not an error.
func loadEnvFiles(files []string) error {
	if len(files) == 0 {
		_ = godotenv.Load()
		return nil
	}
	if err := godotenv.Load(files...); err != nil {
		return fmt.Errorf("failed to load env file: %w", err)
	}
	return nil
}

// loadProjectConfig loads crdb.yaml from dir.
// Returns nil config if crdb.yaml does not exist (not an error).
func loadProjectConfig(dir string) (*config.ProjectConfig, error) {
	projectCfg, err := config.Load(dir)
	if err != nil {
		if errors.Is(err, config.ErrConfigNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load %s: %w", config.ConfigFileName, err)
	}
	return projectCfg, nil
}

// resolveConnection turns flags, environment and crdb.yaml into a validated
// connection config. The project config is nil when crdb.yaml is absent.
func resolveConnection(f *connectionFlags) (*crdb.ConnectionConfig, *config.ProjectConfig, error) {
	if err := loadEnvFiles(f.envFiles); err != nil {
		return nil, nil, err
	}

	projectCfg, err := loadProjectConfig(f.configDir)
	if err != nil {
		return nil, nil, err
	}

	granular := &db.GranularConnFlags{
		Host:        f.host,
		Port:        f.port,
		Username:    f.username,
		Database:    f.database,
		SSLMode:     f.sslMode,
		SSLRootCert: f.sslRootCert,
		SSLCert:     f.sslCert,
		SSLKey:      f.sslKey,
	}
	azure := &db.AzureFlags{
		TenantID: f.azureTenantID,
		ClientID: f.azureClientID,
	}

	cfg, err := db.ResolveConnectionParams(f.connection, granular, azure, db.LoadFromEnvironment(), projectCfg)
	if err != nil {
		return nil, nil, err
	}

	if f.native {
		cfg.Native = true
	}
	if f.connectRetries > 0 {
		cfg.ConnectRetries = f.connectRetries
	}

	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	return cfg, projectCfg, nil
}

// logConnectionVerbose logs connection details when verbose mode is enabled.
func logConnectionVerbose(logger crdb.Logger, cfg *crdb.ConnectionConfig) {
	logger.Verbose("connection resolved: host=%s port=%d user=%s database=%s sslmode=%s auth=%s native=%t",
		cfg.Host, cfg.Port, cfg.Username, cfg.Database, cfg.SSL.Mode, cfg.AuthMethod, cfg.Native)
	if cfg.SSL.RootCert != "" {
		logger.Verbose("ssl root cert: %s", cfg.SSL.RootCert)
	}
	if cfg.SSL.Cert != "" {
		logger.Verbose("ssl client cert: %s, key: %s", cfg.SSL.Cert, cfg.SSL.Key)
	}
}

// commandContext bounds a command by timeout and cancels it on Ctrl+C or
// SIGTERM.
func commandContext(timeout time.Duration) (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	if timeout <= 0 {
		return ctx, stop
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	return ctx, func() {
		cancel()
		stop()
	}
}
