package database

import (
	"fmt"
	"time"
)

const (
	defaultMaxIdleConns    = 12
	defaultMaxOpenConns    = 12
	defaultConnMaxLifetime = time.Hour
	defaultCacheSizeKB     = -64000 // negative means KiB, so 64MB
	defaultBusyTimeoutMS   = 5000
)

// Config holds database configuration settings
type Config struct {
	DBPath string

	// Zero values fall back to defaults.
	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
	CacheSizeKB     int
	BusyTimeoutMS   int

	// ReadOnly opens the file with mode=ro and skips migrations. The read
	// API uses it when no refresh trigger is configured.
	ReadOnly bool
}

// NewConfig creates a read-write configuration with default values
func NewConfig(dbPath string) *Config {
	return &Config{
		DBPath:          dbPath,
		ConnMaxLifetime: defaultConnMaxLifetime,
		CacheSizeKB:     defaultCacheSizeKB,
		BusyTimeoutMS:   defaultBusyTimeoutMS,
	}
}

func (c *Config) applyDefaults() {
	if c.MaxIdleConns <= 0 {
		c.MaxIdleConns = defaultMaxIdleConns
	}
	if c.MaxOpenConns <= 0 {
		c.MaxOpenConns = defaultMaxOpenConns
	}
	if c.ConnMaxLifetime <= 0 {
		c.ConnMaxLifetime = defaultConnMaxLifetime
	}
	if c.CacheSizeKB == 0 {
		c.CacheSizeKB = defaultCacheSizeKB
	}
	if c.BusyTimeoutMS <= 0 {
		c.BusyTimeoutMS = defaultBusyTimeoutMS
	}
}

// dsn builds the go-sqlite3 connection string. WAL lets the read API serve
// while a run is writing. Writers take the lock up front so concurrent
// source workers queue on busy_timeout instead of failing on lock upgrade.
func (c *Config) dsn() string {
	dsn := fmt.Sprintf("file:%s?_journal=WAL&_synchronous=NORMAL&_busy_timeout=%d", c.DBPath, c.BusyTimeoutMS)
	if c.ReadOnly {
		return dsn + "&mode=ro"
	}
	return dsn + "&_txlock=immediate"
}

// pragmas are applied after open; journal, sync and timeout come from the DSN.
func (c *Config) pragmas() []string {
	pragmas := []string{
		fmt.Sprintf("PRAGMA cache_size = %d;", c.CacheSizeKB),
		"PRAGMA temp_store = MEMORY;",
	}
	if c.ReadOnly {
		return append(pragmas, "PRAGMA query_only = ON;")
	}
	return append(pragmas, "PRAGMA foreign_keys = ON;")
}

func (c *Config) mode() string {
	if c.ReadOnly {
		return "read-only"
	}
	return "read-write"
}
