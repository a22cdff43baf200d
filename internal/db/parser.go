package db

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/vvka-141/crdb/pkg/crdb"
)

// ParseConnectionString parses a connection string in either PostgreSQL URI
// format or ADO.NET format and returns a ConnectionConfig.
//
// Supported formats:
//   - PostgreSQL URI: postgresql://root@localhost:26257/defaultdb?sslmode=verify-full&sslrootcert=certs/ca.crt
//   - ADO.NET: Host=localhost;Port=26257;Database=defaultdb;Username=root;Root Certificate=certs/ca.crt
func ParseConnectionString(connStr string) (*crdb.ConnectionConfig, error) {
	if connStr == "" {
		return nil, fmt.Errorf("connection string is empty")
	}

	if strings.HasPrefix(connStr, "postgresql://") || strings.HasPrefix(connStr, "postgres://") ||
		strings.HasPrefix(connStr, "cockroachdb://") {
		return parsePostgreSQLURI(connStr)
	}

	if strings.Contains(connStr, "=") && strings.Contains(connStr, ";") {
		return parseADONET(connStr)
	}

	return nil, fmt.Errorf("unrecognized connection string format")
}

func newParsedConfig() *crdb.ConnectionConfig {
	return &crdb.ConnectionConfig{
		Host:             "localhost",
		Port:             crdb.DefaultPort,
		Database:         crdb.DefaultDatabase,
		AuthMethod:       crdb.AuthMethodStandard,
		AdditionalParams: make(map[string]string),
	}
}

// parsePostgreSQLURI parses a PostgreSQL URI format connection string.
// Format: postgresql://[user[:password]@][host][:port][/dbname][?param1=value1&...]
func parsePostgreSQLURI(connStr string) (*crdb.ConnectionConfig, error) {
	u, err := url.Parse(connStr)
	if err != nil {
		return nil, fmt.Errorf("invalid PostgreSQL URI: %w", err)
	}

	config := newParsedConfig()

	if u.Hostname() != "" {
		config.Host = u.Hostname()
	}
	if u.Port() != "" {
		port, err := strconv.Atoi(u.Port())
		if err != nil {
			return nil, fmt.Errorf("invalid port: %w", err)
		}
		config.Port = port
	}

	if u.User != nil {
		config.Username = u.User.Username()
		if pass, ok := u.User.Password(); ok {
			config.Password = pass
		}
	}

	if len(u.Path) > 1 {
		config.Database = strings.TrimPrefix(u.Path, "/")
	}

	for key, values := range u.Query() {
		if len(values) == 0 {
			continue
		}
		value := values[0]

		switch strings.ToLower(key) {
		case "sslmode":
			config.SSL.Mode = value
		case "sslrootcert":
			config.SSL.RootCert = value
		case "sslcert":
			config.SSL.Cert = value
		case "sslkey":
			config.SSL.Key = value
		case "application_name", "applicationname":
			config.AppName = value
		case "connect_timeout", "connecttimeout":
			if timeout, err := strconv.Atoi(value); err == nil {
				config.ConnectTimeout = time.Duration(timeout) * time.Second
			}
		default:
			config.AdditionalParams[key] = value
		}
	}

	return config, nil
}

// parseADONET parses an ADO.NET format connection string.
// Format: Host=localhost;Port=26257;Database=dbname;Username=user;Password=pass;...
func parseADONET(connStr string) (*crdb.ConnectionConfig, error) {
	config := newParsedConfig()

	for _, part := range strings.Split(connStr, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			continue
		}

		key := strings.TrimSpace(kv[0])
		value := strings.TrimSpace(kv[1])

		switch strings.ToLower(key) {
		case "host", "server":
			config.Host = value
		case "port":
			port, err := strconv.Atoi(value)
			if err != nil {
				return nil, fmt.Errorf("invalid port in ADO.NET string: %w", err)
			}
			config.Port = port
		case "database", "initial catalog":
			config.Database = value
		case "username", "user id", "uid":
			config.Username = value
		case "password", "pwd":
			config.Password = value
		case "sslmode", "ssl mode":
			config.SSL.Mode = value
		case "root certificate", "sslrootcert":
			config.SSL.RootCert = value
		case "ssl certificate", "sslcert":
			config.SSL.Cert = value
		case "ssl key", "sslkey":
			config.SSL.Key = value
		case "application name", "applicationname":
			config.AppName = value
		case "timeout", "connect timeout", "connecttimeout":
			if timeout, err := strconv.Atoi(value); err == nil {
				config.ConnectTimeout = time.Duration(timeout) * time.Second
			}
		default:
			config.AdditionalParams[key] = value
		}
	}

	return config, nil
}

// BuildConnectionString converts a ConnectionConfig back to a PostgreSQL URI,
// certificate paths included.
func BuildConnectionString(config *crdb.ConnectionConfig) string {
	return buildURI(config, true)
}

// driverConnectionString is the URI handed to pgx. Certificate paths are left
// out; the drivers attach the loaded material themselves.
func driverConnectionString(config *crdb.ConnectionConfig) string {
	return buildURI(config, false)
}

func buildURI(config *crdb.ConnectionConfig, withCertPaths bool) string {
	port := config.Port
	if port == 0 {
		port = crdb.DefaultPort
	}

	u := &url.URL{
		Scheme: "postgresql",
		Host:   fmt.Sprintf("%s:%d", config.Host, port),
		Path:   "/" + config.Database,
	}

	if config.Username != "" {
		if config.Password != "" {
			u.User = url.UserPassword(config.Username, config.Password)
		} else {
			u.User = url.User(config.Username)
		}
	}

	query := url.Values{}
	if config.SSL.Mode != "" {
		query.Set("sslmode", config.SSL.Mode)
	}
	if withCertPaths {
		if config.SSL.RootCert != "" {
			query.Set("sslrootcert", config.SSL.RootCert)
		}
		if config.SSL.Cert != "" {
			query.Set("sslcert", config.SSL.Cert)
		}
		if config.SSL.Key != "" {
			query.Set("sslkey", config.SSL.Key)
		}
	}
	if config.AppName != "" {
		query.Set("application_name", config.AppName)
	}
	if config.ConnectTimeout > 0 {
		query.Set("connect_timeout", strconv.Itoa(int(config.ConnectTimeout.Seconds())))
	}

	for key, value := range config.AdditionalParams {
		query.Set(key, value)
	}

	u.RawQuery = query.Encode()
	return u.String()
}
