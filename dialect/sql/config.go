package sql

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/syssam/tabula/dialect"
)

// Config describes a database connection. Either DSN is set, or the
// connection is assembled from the host parts.
type Config struct {
	Dialect  string `yaml:"dialect"`
	DSN      string `yaml:"dsn,omitempty"`
	Host     string `yaml:"host,omitempty"`
	Port     int    `yaml:"port,omitempty"`
	Database string `yaml:"database,omitempty"`
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`
	// SSLMode is passed to PostgreSQL as sslmode. Defaults to "disable".
	SSLMode string `yaml:"sslmode,omitempty"`
	// TimeZone is used by MySQL to parse DATETIME values. Defaults to UTC.
	TimeZone string `yaml:"timezone,omitempty"`

	MaxOpenConns    int           `yaml:"max_open_conns,omitempty"`
	MaxIdleConns    int           `yaml:"max_idle_conns,omitempty"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime,omitempty"`
}

// Validate checks if the connection configuration is valid.
func (c *Config) Validate() error {
	switch c.Dialect {
	case dialect.MySQL, dialect.Postgres, dialect.SQLite:
	case "":
		return fmt.Errorf("dialect/sql: dialect is required")
	default:
		return fmt.Errorf("dialect/sql: unsupported dialect %q", c.Dialect)
	}
	if c.MaxOpenConns < 0 || c.MaxIdleConns < 0 {
		return fmt.Errorf("dialect/sql: connection pool sizes must not be negative")
	}
	if c.MaxOpenConns > 0 && c.MaxIdleConns > c.MaxOpenConns {
		return fmt.Errorf("dialect/sql: max_idle_conns cannot be greater than max_open_conns")
	}
	if c.DSN != "" {
		return nil
	}
	if c.Database == "" {
		return fmt.Errorf("dialect/sql: database name is required")
	}
	if c.Dialect == dialect.SQLite {
		return nil
	}
	if c.Host == "" {
		return fmt.Errorf("dialect/sql: database host is required")
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("dialect/sql: database port must be between 1 and 65535, got %d", c.Port)
	}
	return nil
}

// DataSource returns the data source name for the configured dialect.
// An explicit DSN takes precedence over the host parts.
func (c *Config) DataSource() string {
	if c.DSN != "" {
		return c.DSN
	}
	switch c.Dialect {
	case dialect.MySQL:
		cfg := mysql.NewConfig()
		cfg.User = c.Username
		cfg.Passwd = c.Password
		cfg.Net = "tcp"
		cfg.Addr = net.JoinHostPort(c.Host, strconv.Itoa(c.port(3306)))
		cfg.DBName = c.Database
		cfg.Loc = parseLocation(c.TimeZone)
		cfg.ParseTime = true
		return cfg.FormatDSN()
	case dialect.Postgres:
		u := &url.URL{
			Scheme: "postgres",
			Host:   net.JoinHostPort(c.Host, strconv.Itoa(c.port(5432))),
			Path:   "/" + c.Database,
		}
		if c.Username != "" {
			u.User = url.UserPassword(c.Username, c.Password)
		}
		mode := c.SSLMode
		if mode == "" {
			mode = "disable"
		}
		u.RawQuery = url.Values{"sslmode": {mode}}.Encode()
		return u.String()
	default:
		return "file:" + c.Database + "?_pragma=foreign_keys(1)"
	}
}

func (c *Config) port(def int) int {
	if c.Port == 0 {
		return def
	}
	return c.Port
}

// OpenConfig validates the configuration, opens the database and applies
// the connection pool settings.
func OpenConfig(c *Config) (*Driver, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	drv, err := Open(c.Dialect, c.DataSource())
	if err != nil {
		return nil, err
	}
	db := drv.DB()
	if c.MaxOpenConns > 0 {
		db.SetMaxOpenConns(c.MaxOpenConns)
	}
	if c.MaxIdleConns > 0 {
		db.SetMaxIdleConns(c.MaxIdleConns)
	}
	if c.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(c.ConnMaxLifetime)
	}
	return drv, nil
}

// parseLocation parses timezone string to *time.Location
func parseLocation(tz string) *time.Location {
	if tz == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.UTC
	}
	return loc
}
