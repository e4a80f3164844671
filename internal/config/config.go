package config

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Config holds all configuration for the application
type Config struct {
	// File paths
	SourcesPath string
	DBPath      string

	// Server settings
	ServerHost string
	ServerPort int
	Metrics    bool

	// Trigger credentials. Either one authorizes a refresh.
	CronSecret string
	ServiceKey string

	// Run settings
	WorkerCount   int
	Interval      time.Duration
	RunTimeout    time.Duration
	RetentionDays int

	// Fetch settings
	FetchTimeout   time.Duration
	UserAgent      string
	HostInterval   time.Duration
	MaxBodyBytes   int64
	ProxyTemplates []string

	// Log settings
	LogLevel zerolog.Level
}

// DefaultConfig returns an initial configuration with hardcoded defaults.
// Secrets and proxies are only ever read from the environment.
func DefaultConfig() *Config {
	logLevel, _ := zerolog.ParseLevel(DefaultLogLevel)
	logLevel = GetEnvLogLevel("INGESTOR_LOG_LEVEL", logLevel)

	return &Config{
		SourcesPath:    DefaultSourcesPath,
		DBPath:         DefaultDBPath,
		ServerHost:     DefaultServerHost,
		ServerPort:     DefaultServerPort,
		Metrics:        DefaultMetrics,
		CronSecret:     GetEnvString("INGESTOR_CRON_SECRET", ""),
		ServiceKey:     GetEnvString("INGESTOR_SERVICE_KEY", ""),
		WorkerCount:    DefaultWorkerCount,
		Interval:       time.Duration(DefaultInterval) * time.Minute,
		RunTimeout:     DefaultRunTimeout,
		RetentionDays:  DefaultRetentionDays,
		FetchTimeout:   DefaultFetchTimeout,
		UserAgent:      DefaultUserAgent,
		HostInterval:   DefaultHostInterval,
		MaxBodyBytes:   DefaultMaxBodyBytes,
		ProxyTemplates: GetEnvStringSlice("INGESTOR_PROXIES", nil),
		LogLevel:       logLevel,
	}
}

// ListenAddr returns the formatted listen address for the HTTP server.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.ServerHost, c.ServerPort)
}

// TriggerEnabled reports whether any credential is configured for the refresh endpoint.
func (c *Config) TriggerEnabled() bool {
	return c.CronSecret != "" || c.ServiceKey != ""
}
