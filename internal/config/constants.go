package config

import "time"

// Constants defining default values for application configuration
const (
	DefaultSourcesPath = "./sources.csv"
	DefaultDBPath      = "./ingestor.db"

	DefaultServerPort = 8080
	DefaultServerHost = "" // Empty string means all interfaces
	DefaultMetrics    = true

	DefaultWorkerCount   = 0  // 0 means use runtime.NumCPU()
	DefaultInterval      = 15 // Minutes between scheduled runs, 0 for one-shot
	DefaultRetentionDays = 0  // 0 keeps items forever

	DefaultRunTimeout   = 5 * time.Minute
	DefaultFetchTimeout = 20 * time.Second
	DefaultHostInterval = time.Second
	DefaultMaxBodyBytes = 10 << 20

	DefaultUserAgent = "reddot-watch-ingestor/1.0"

	DefaultLogLevel = "info"
)
