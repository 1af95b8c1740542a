package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

// Config holds application configuration.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Log        LogConfig        `mapstructure:"log"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Archive    ArchiveConfig    `mapstructure:"archive"`
	AI         AIConfig         `mapstructure:"ai"`
	Categories CategoriesConfig `mapstructure:"categories"`
	Backup     BackupConfig     `mapstructure:"backup"`
	Jobs       JobsConfig       `mapstructure:"jobs"`
}

// ServerConfig holds HTTP settings.
type ServerConfig struct {
	Port string `mapstructure:"port"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// StorageConfig selects and configures the record store.
type StorageConfig struct {
	Driver   string         `mapstructure:"driver"`
	SQLite   SQLiteConfig   `mapstructure:"sqlite"`
	BigQuery BigQueryConfig `mapstructure:"bigquery"`
}

type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

type BigQueryConfig struct {
	Project string `mapstructure:"project"`
	Dataset string `mapstructure:"dataset"`
}

// ArchiveConfig selects where backup archives are written.
type ArchiveConfig struct {
	Driver string       `mapstructure:"driver"`
	Prefix string       `mapstructure:"prefix"`
	Local  LocalArchive `mapstructure:"local"`
	GCS    GCSArchive   `mapstructure:"gcs"`
}

type LocalArchive struct {
	Dir string `mapstructure:"dir"`
}

type GCSArchive struct {
	Bucket string `mapstructure:"bucket"`
}

// AIConfig holds categorizer settings.
type AIConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	Model         string        `mapstructure:"model"`
	APIKeyEnv     string        `mapstructure:"api_key_env"`
	Timeout       time.Duration `mapstructure:"timeout"`
	Concurrency   int           `mapstructure:"concurrency"`
	MinConfidence float64       `mapstructure:"min_confidence"`
}

// APIKey resolves the key from the configured environment variable.
func (c AIConfig) APIKey() string {
	return os.Getenv(c.APIKeyEnv)
}

type CategoriesConfig struct {
	// SystemFile overrides the embedded system category definitions when set.
	SystemFile string `mapstructure:"system_file"`
}

type BackupConfig struct {
	Schedule string `mapstructure:"schedule"`
}

type JobsConfig struct {
	Workers int `mapstructure:"workers"`
	Buffer  int `mapstructure:"buffer"`
}

// Storage and archive drivers.
const (
	DriverSQLite   = "sqlite"
	DriverBigQuery = "bigquery"
	DriverMemory   = "memory"

	ArchiveLocal = "local"
	ArchiveGCS   = "gcs"
)

// Load reads configuration from file and env. Env var overrides use prefix SPENDALIZER_.
func Load() (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigType("toml")

	cfgPath := os.Getenv("SPENDALIZER_CONFIG")
	if cfgPath != "" {
		v.SetConfigFile(cfgPath)
	} else {
		v.AddConfigPath(filepath.Join(os.Getenv("HOME"), ".config", "spendalizer"))
		v.SetConfigName("config")
	}

	v.SetEnvPrefix("SPENDALIZER")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		// an explicitly named file must exist; the default location is optional
		var notFound viper.ConfigFileNotFoundError
		if cfgPath != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("Load: reading config: %w", err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("Load: unmarshal config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func setDefaults(v *viper.Viper) {
	home := os.Getenv("HOME")

	v.SetDefault("server.port", "8080")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	v.SetDefault("storage.driver", DriverSQLite)
	v.SetDefault("storage.sqlite.path", filepath.Join(home, ".local", "share", "spendalizer", "spendalizer.db"))
	v.SetDefault("storage.bigquery.project", "")
	v.SetDefault("storage.bigquery.dataset", "finance")

	v.SetDefault("archive.driver", ArchiveLocal)
	v.SetDefault("archive.prefix", "backups")
	v.SetDefault("archive.local.dir", filepath.Join(home, ".local", "share", "spendalizer", "archives"))
	v.SetDefault("archive.gcs.bucket", "")

	v.SetDefault("ai.enabled", false)
	v.SetDefault("ai.model", "gemini-2.5-flash")
	v.SetDefault("ai.api_key_env", "GEMINI_API_KEY")
	v.SetDefault("ai.timeout", 15*time.Second)
	v.SetDefault("ai.concurrency", 4)
	v.SetDefault("ai.min_confidence", 0.5)

	v.SetDefault("categories.system_file", "")

	v.SetDefault("backup.schedule", "0 3 * * *")

	v.SetDefault("jobs.workers", 2)
	v.SetDefault("jobs.buffer", 100)
}

// Validate rejects configurations the services cannot start with.
func (c Config) Validate() error {
	switch c.Storage.Driver {
	case DriverSQLite:
		if c.Storage.SQLite.Path == "" {
			return fmt.Errorf("config: storage.sqlite.path is required")
		}
	case DriverBigQuery:
		if c.Storage.BigQuery.Project == "" || c.Storage.BigQuery.Dataset == "" {
			return fmt.Errorf("config: storage.bigquery.project and storage.bigquery.dataset are required")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("config: unknown storage.driver %q", c.Storage.Driver)
	}

	switch c.Archive.Driver {
	case ArchiveLocal:
		if c.Archive.Local.Dir == "" {
			return fmt.Errorf("config: archive.local.dir is required")
		}
	case ArchiveGCS:
		if c.Archive.GCS.Bucket == "" {
			return fmt.Errorf("config: archive.gcs.bucket is required")
		}
	default:
		return fmt.Errorf("config: unknown archive.driver %q", c.Archive.Driver)
	}

	if c.AI.Timeout <= 0 {
		return fmt.Errorf("config: ai.timeout must be positive")
	}
	if c.AI.Concurrency <= 0 {
		return fmt.Errorf("config: ai.concurrency must be positive")
	}
	if c.AI.MinConfidence < 0 || c.AI.MinConfidence > 1 {
		return fmt.Errorf("config: ai.min_confidence must be within [0,1]")
	}
	if c.Jobs.Workers <= 0 {
		return fmt.Errorf("config: jobs.workers must be positive")
	}
	if c.Jobs.Buffer < 0 {
		return fmt.Errorf("config: jobs.buffer must not be negative")
	}
	if c.Backup.Schedule != "" {
		if _, err := cron.ParseStandard(c.Backup.Schedule); err != nil {
			return fmt.Errorf("config: invalid backup.schedule: %w", err)
		}
	}
	return nil
}
