package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Database Configuration
	Database DatabaseConfig

	// Ingestion Configuration
	Ingestion IngestionConfig

	// Log source discovery configuration
	Sources SourcesConfig

	// Monitoring configuration
	Monitor MonitorConfig

	// Log configuration
	LogLevel string
}

// DatabaseConfig contains database-related settings
type DatabaseConfig struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLife     time.Duration
	RetentionDays   int           // Number of days to retain occurrence rows (0 = unlimited)
	CleanupInterval time.Duration // How often to check for cleanup (default: 1 hour)
	CleanupTime     string        // Time of day to run cleanup (24-hour format, e.g., "02:00")
	VacuumEnabled   bool          // Run VACUUM after cleanup to reclaim space

	// Connection pool monitoring
	PoolMonitoring   bool
	PoolMonitorEvery time.Duration
	PoolSaturation   float64 // In-use fraction that counts as high utilization
	PoolAutoTune     bool    // Size the pool from CPU cores when larger than configured
}

// IngestionConfig contains the global tailing knobs. Per-source rows in the
// database can override the cap, age cutoff, and stagger delay.
type IngestionConfig struct {
	PollInterval    time.Duration // How often each tailer checks its file for new data
	BatchSize       int           // Lines handled between state snapshots
	MaxTailers      int           // Concurrent tailers per source
	MaxFileAgeDays  int           // Files modified longer ago are skipped (0 = no cutoff)
	StaggerDelayMs  int           // Delay between tailer starts
	AdmissionDelay  time.Duration // Recheck interval while at the tailer cap
	WatchFiles      bool          // Pick up files created after startup
	SyncInterval    time.Duration // How often to reconcile sources with the database
	BackfillSkipped bool          // One-shot ingest of files older than the age cutoff
}

// SourcesConfig controls automatic log source detection
type SourcesConfig struct {
	AutoDiscover   bool
	JellyfinLogDir string // Explicit override; empty = platform defaults
	SonarrLogDir   string
	RadarrLogDir   string
	ProwlarrLogDir string
	SkipBackfill   bool // Seeded sources start at end-of-file instead of byte 0
}

// MonitorConfig contains ingestion statistics settings
type MonitorConfig struct {
	StatsInterval time.Duration
}

// Load reads configuration from .env file and environment variables
func Load() (*Config, error) {
	// Try to load .env file (ignore error if file doesn't exist)
	_ = godotenv.Load()

	cfg := &Config{
		Database: DatabaseConfig{
			Path:            getEnv("DB_PATH", "mediasentry.db"),
			MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 10),
			MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 3),
			ConnMaxLife:     getEnvAsDuration("DB_CONN_MAX_LIFE", time.Hour),
			RetentionDays:   getEnvAsInt("DB_RETENTION_DAYS", 60),
			CleanupInterval: getEnvAsDuration("DB_CLEANUP_INTERVAL", 1*time.Hour),
			CleanupTime:     getEnv("DB_CLEANUP_TIME", "02:00"),
			VacuumEnabled:   getEnvAsBool("DB_VACUUM_ENABLED", true),

			PoolMonitoring:   getEnvAsBool("DB_POOL_MONITORING", true),
			PoolMonitorEvery: getEnvAsDuration("DB_POOL_MONITOR_INTERVAL", time.Minute),
			PoolSaturation:   getEnvAsFloat("DB_POOL_SATURATION", 0.8),
			PoolAutoTune:     getEnvAsBool("DB_POOL_AUTO_TUNE", true),
		},
		Ingestion: IngestionConfig{
			PollInterval:    getEnvAsDuration("INGEST_POLL_INTERVAL", 3*time.Second),
			BatchSize:       getEnvAsInt("INGEST_BATCH_SIZE", 200),
			MaxTailers:      getEnvAsInt("INGEST_MAX_TAILERS", 5),
			MaxFileAgeDays:  getEnvAsInt("INGEST_MAX_FILE_AGE_DAYS", 30),
			StaggerDelayMs:  getEnvAsInt("INGEST_STAGGER_DELAY_MS", 250),
			AdmissionDelay:  getEnvAsDuration("INGEST_ADMISSION_DELAY", 2*time.Second),
			WatchFiles:      getEnvAsBool("INGEST_WATCH_FILES", true),
			SyncInterval:    getEnvAsDuration("INGEST_SYNC_INTERVAL", time.Minute),
			BackfillSkipped: getEnvAsBool("INGEST_BACKFILL_SKIPPED", false),
		},
		Sources: SourcesConfig{
			AutoDiscover:   getEnvAsBool("LOG_AUTO_DISCOVER", true),
			JellyfinLogDir: getEnv("JELLYFIN_LOG_DIR", ""),
			SonarrLogDir:   getEnv("SONARR_LOG_DIR", ""),
			RadarrLogDir:   getEnv("RADARR_LOG_DIR", ""),
			ProwlarrLogDir: getEnv("PROWLARR_LOG_DIR", ""),
			SkipBackfill:   getEnvAsBool("SOURCES_SKIP_BACKFILL", false),
		},
		Monitor: MonitorConfig{
			StatsInterval: getEnvAsDuration("STATS_INTERVAL", 5*time.Second),
		},
		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	return cfg, nil
}

// Helper functions to read environment variables with defaults

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}
