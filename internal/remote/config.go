// Package remote reads tables and views from the user's MySQL or PostgreSQL database. It only
// ever issues SELECT statements.
package remote

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/kpisync/kpisync/internal/store"
)

type Driver string

const (
	DriverMySQL    Driver = "mysql"
	DriverPostgres Driver = "postgres"
)

type Config struct {
	Driver   Driver
	Host     string
	Port     string
	User     string
	Password string
	Database string
	// Schema is used for PostgreSQL only; empty means public.
	Schema         string
	ConnectTimeout time.Duration
}

// ConfigFromSettings builds a Config from saved connection settings. An empty driver falls back
// to defaultDriver.
func ConfigFromSettings(settings store.ConnectionSettings, defaultDriver string, timeout time.Duration) Config {
	driver := strings.ToLower(strings.TrimSpace(settings.Driver))
	if driver == "" {
		driver = strings.ToLower(defaultDriver)
	}
	return Config{
		Driver:         Driver(driver),
		Host:           strings.TrimSpace(settings.Host),
		Port:           strings.TrimSpace(settings.Port),
		User:           settings.User,
		Password:       settings.Password,
		Database:       strings.TrimSpace(settings.Database),
		Schema:         strings.TrimSpace(settings.Schema),
		ConnectTimeout: timeout,
	}
}

// ConfigError reports missing or invalid connection parameters. It is returned before any
// network call.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid connection config: %s %s", e.Field, e.Reason)
}

// ConnectionError reports an unreachable source or rejected credentials.
type ConnectionError struct {
	Driver Driver
	Host   string
	Err    error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connect to %s source %s: %v", e.Driver, e.Host, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

func (c Config) Validate() error {
	switch c.Driver {
	case DriverMySQL, DriverPostgres:
	case "":
		return &ConfigError{Field: "driver", Reason: "is required"}
	default:
		return &ConfigError{Field: "driver", Reason: fmt.Sprintf("%q is not supported (want mysql or postgres)", c.Driver)}
	}
	if c.Host == "" {
		return &ConfigError{Field: "host", Reason: "is required"}
	}
	if c.Port == "" {
		return &ConfigError{Field: "port", Reason: "is required"}
	}
	port, err := strconv.Atoi(c.Port)
	if err != nil {
		return &ConfigError{Field: "port", Reason: fmt.Sprintf("%q is not an integer", c.Port)}
	}
	if port < 1 || port > 65535 {
		return &ConfigError{Field: "port", Reason: fmt.Sprintf("%d is outside 1-65535", port)}
	}
	if strings.TrimSpace(c.User) == "" {
		return &ConfigError{Field: "user", Reason: "is required"}
	}
	if c.Database == "" {
		return &ConfigError{Field: "database", Reason: "is required"}
	}
	return nil
}

func (c Config) schema() string {
	if c.Driver == DriverMySQL {
		return c.Database
	}
	if c.Schema == "" {
		return "public"
	}
	return c.Schema
}

// DSN renders the driver specific data source name. Call Validate first.
func (c Config) DSN() string {
	timeout := c.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	address := net.JoinHostPort(c.Host, c.Port)

	if c.Driver == DriverMySQL {
		cfg := mysql.NewConfig()
		cfg.User = c.User
		cfg.Passwd = c.Password
		cfg.Net = "tcp"
		cfg.Addr = address
		cfg.DBName = c.Database
		cfg.ParseTime = true
		cfg.Loc = time.UTC
		cfg.Timeout = timeout
		return cfg.FormatDSN()
	}

	query := url.Values{}
	query.Set("connect_timeout", strconv.Itoa(max(1, int(timeout.Seconds()))))
	dsn := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     address,
		Path:     "/" + c.Database,
		RawQuery: query.Encode(),
	}
	return dsn.String()
}
