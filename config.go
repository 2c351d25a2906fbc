package bulkingest

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Storage backends
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// Duplicate temp_id policies
const (
	DuplicateTempIDsReject    = "reject"
	DuplicateTempIDsOverwrite = "overwrite"
)

// Config consolidates settings for one ingest invocation
type Config struct {
	Storage  StorageConfig  `yaml:"storage" json:"storage"`
	Database DatabaseConfig `yaml:"database" json:"database"`
	SQLite   SQLiteConfig   `yaml:"sqlite" json:"sqlite"`
	AWS      AWSConfig      `yaml:"aws" json:"aws"`
	Files    FilesConfig    `yaml:"files" json:"files"`
	Batch    BatchConfig    `yaml:"batch" json:"batch"`
	Logging  LoggingConfig  `yaml:"logging" json:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics" json:"metrics"`
	Report   ReportConfig   `yaml:"report" json:"report"`
}

// StorageConfig selects the entity repository backend
type StorageConfig struct {
	Backend string `yaml:"backend" json:"backend"`
	// AutoMigrate applies pending migrations when the store opens. Dry runs skip it.
	AutoMigrate bool `yaml:"autoMigrate" json:"autoMigrate"`
	// SeedFile loads existing records (e.g. taxonomy terms) into whichever
	// backend is configured. In a dry run they go to the in-memory overlay.
	SeedFile string `yaml:"seedFile" json:"seedFile"`
}

// DatabaseConfig contains PostgreSQL connection settings
type DatabaseConfig struct {
	URL             string        `yaml:"url" json:"url"`
	Host            string        `yaml:"host" json:"host"`
	Port            int           `yaml:"port" json:"port"`
	Database        string        `yaml:"database" json:"database"`
	Username        string        `yaml:"username" json:"username"`
	Password        string        `yaml:"password" json:"password"`
	SSLMode         string        `yaml:"sslMode" json:"sslMode"`
	MaxConnections  int           `yaml:"maxConnections" json:"maxConnections"`
	MinConnections  int           `yaml:"minConnections" json:"minConnections"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime" json:"connMaxLifetime"`
	ConnMaxIdleTime time.Duration `yaml:"connMaxIdleTime" json:"connMaxIdleTime"`
	Timeout         time.Duration `yaml:"timeout" json:"timeout"`
	// UseIAM replaces Password with a generated Aurora DSQL auth token.
	UseIAM bool `yaml:"useIAM" json:"useIAM"`
}

// SQLiteConfig contains settings for the single-file backend
type SQLiteConfig struct {
	Path        string        `yaml:"path" json:"path"`
	BusyTimeout time.Duration `yaml:"busyTimeout" json:"busyTimeout"`
}

// AWSConfig contains settings shared by the S3 and DSQL clients
type AWSConfig struct {
	Region          string `yaml:"region" json:"region"`
	Endpoint        string `yaml:"endpoint" json:"endpoint"`
	AccessKeyID     string `yaml:"accessKeyId" json:"accessKeyId"`
	SecretAccessKey string `yaml:"secretAccessKey" json:"secretAccessKey"`
	UsePathStyle    bool   `yaml:"usePathStyle" json:"usePathStyle"`
}

// FilesConfig controls verification of create_file locations
type FilesConfig struct {
	VerifyLocations bool `yaml:"verifyLocations" json:"verifyLocations"`
	// StreamRoots maps a stream wrapper scheme (public, private, ...) to a local directory.
	StreamRoots  map[string]string `yaml:"streamRoots" json:"streamRoots"`
	CheckTimeout time.Duration     `yaml:"checkTimeout" json:"checkTimeout"`
}

// BatchConfig contains batch interpretation settings
type BatchConfig struct {
	DuplicateTempIDs string `yaml:"duplicateTempIds" json:"duplicateTempIds"`
	MaxOperations    int    `yaml:"maxOperations" json:"maxOperations"`
	NodeBundle       string `yaml:"nodeBundle" json:"nodeBundle"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level      string `yaml:"level" json:"level"`
	Format     string `yaml:"format" json:"format"`
	FilePath   string `yaml:"filePath" json:"filePath"`
	MaxSizeMB  int    `yaml:"maxSizeMB" json:"maxSizeMB"`
	MaxBackups int    `yaml:"maxBackups" json:"maxBackups"`
	MaxAgeDays int    `yaml:"maxAgeDays" json:"maxAgeDays"`
	Compress   bool   `yaml:"compress" json:"compress"`
}

// MetricsConfig contains metrics collection settings
type MetricsConfig struct {
	Enabled      bool   `yaml:"enabled" json:"enabled"`
	Namespace    string `yaml:"namespace" json:"namespace"`
	TextfilePath string `yaml:"textfilePath" json:"textfilePath"`
}

// ReportConfig controls where the execution report goes
type ReportConfig struct {
	// Output is "-" for stdout, a local path, or an s3://bucket/key URL.
	Output string `yaml:"output" json:"output"`
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		Storage: StorageConfig{
			Backend:     BackendMemory,
			AutoMigrate: true,
		},
		Database: DatabaseConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "repository",
			Username:        "postgres",
			SSLMode:         "disable",
			MaxConnections:  4,
			MinConnections:  1,
			ConnMaxLifetime: 5 * time.Minute,
			ConnMaxIdleTime: 5 * time.Minute,
			Timeout:         30 * time.Second,
		},
		SQLite: SQLiteConfig{
			Path:        "./data/repository.db",
			BusyTimeout: 5 * time.Second,
		},
		Files: FilesConfig{
			VerifyLocations: false,
			StreamRoots:     map[string]string{},
			CheckTimeout:    10 * time.Second,
		},
		Batch: BatchConfig{
			DuplicateTempIDs: DuplicateTempIDsReject,
			MaxOperations:    0,
			NodeBundle:       "islandora_object",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "console",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "bulkingest",
		},
		Report: ReportConfig{
			Output: "-",
		},
	}
}

// LoadConfig reads config from a YAML file (if given) and overrides it with
// environment variables. Environment variables take precedence.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, &ConfigError{Field: "config", Message: fmt.Sprintf("cannot read %s: %v", path, err)}
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, &ConfigError{Field: "config", Message: fmt.Sprintf("cannot parse %s: %v", path, err)}
		}
	}

	cfg.applyEnv(os.Getenv)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(getenv func(string) string) {
	setString := func(key string, dst *string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	setInt := func(key string, dst *int) {
		if v := getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	setBool := func(key string, dst *bool) {
		if v := getenv(key); v != "" {
			if b, err := strconv.ParseBool(v); err == nil {
				*dst = b
			}
		}
	}

	setString("BULKINGEST_BACKEND", &c.Storage.Backend)
	setString("DATABASE_URL", &c.Database.URL)
	setString("BULKINGEST_DB_HOST", &c.Database.Host)
	setInt("BULKINGEST_DB_PORT", &c.Database.Port)
	setString("BULKINGEST_DB_NAME", &c.Database.Database)
	setString("BULKINGEST_DB_USER", &c.Database.Username)
	setString("BULKINGEST_DB_PASSWORD", &c.Database.Password)
	setString("BULKINGEST_DB_SSL_MODE", &c.Database.SSLMode)
	setBool("BULKINGEST_DB_USE_IAM", &c.Database.UseIAM)
	setString("BULKINGEST_SQLITE_PATH", &c.SQLite.Path)
	setString("AWS_REGION", &c.AWS.Region)
	setString("BULKINGEST_S3_ENDPOINT", &c.AWS.Endpoint)
	setString("BULKINGEST_LOG_LEVEL", &c.Logging.Level)
	setString("BULKINGEST_LOG_FORMAT", &c.Logging.Format)
	setString("BULKINGEST_LOG_FILE", &c.Logging.FilePath)
	setString("BULKINGEST_DUPLICATE_TEMP_IDS", &c.Batch.DuplicateTempIDs)
	setInt("BULKINGEST_MAX_OPERATIONS", &c.Batch.MaxOperations)
	setBool("BULKINGEST_VERIFY_LOCATIONS", &c.Files.VerifyLocations)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case BackendMemory, BackendSQLite, BackendPostgres:
	default:
		return &ConfigError{Field: "storage.backend", Message: fmt.Sprintf("unsupported backend %q", c.Storage.Backend)}
	}

	if c.Storage.Backend == BackendPostgres {
		if c.Database.URL == "" && c.Database.Host == "" {
			return &ConfigError{Field: "database.host", Message: "host or url is required for the postgres backend"}
		}
		if c.Database.MaxConnections <= 0 {
			return &ConfigError{Field: "database.maxConnections", Message: "must be greater than 0"}
		}
		if c.Database.MinConnections > c.Database.MaxConnections {
			return &ConfigError{Field: "database.minConnections", Message: "must be less than or equal to maxConnections"}
		}
		if c.Database.UseIAM && c.AWS.Region == "" {
			return &ConfigError{Field: "aws.region", Message: "is required when database.useIAM is set"}
		}
	}

	if c.Storage.Backend == BackendSQLite && c.SQLite.Path == "" {
		return &ConfigError{Field: "sqlite.path", Message: "is required for the sqlite backend"}
	}

	switch c.Batch.DuplicateTempIDs {
	case DuplicateTempIDsReject, DuplicateTempIDsOverwrite:
	default:
		return &ConfigError{Field: "batch.duplicateTempIds", Message: "must be 'reject' or 'overwrite'"}
	}

	if c.Batch.MaxOperations < 0 {
		return &ConfigError{Field: "batch.maxOperations", Message: "must not be negative"}
	}

	switch strings.ToLower(c.Logging.Format) {
	case "json", "console":
	default:
		return &ConfigError{Field: "logging.format", Message: "must be 'json' or 'console'"}
	}

	if (c.AWS.AccessKeyID == "") != (c.AWS.SecretAccessKey == "") {
		return &ConfigError{Field: "aws.secretAccessKey", Message: "accessKeyId and secretAccessKey must be set together"}
	}

	if c.Report.Output == "" {
		return &ConfigError{Field: "report.output", Message: "must not be empty; use '-' for stdout"}
	}

	return nil
}

// ConfigError represents a configuration validation error
type ConfigError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *ConfigError) Error() string {
	return "config validation error for field '" + e.Field + "': " + e.Message
}

// IsConfigError checks if an error is a configuration error
func IsConfigError(err error) bool {
	var cfgErr *ConfigError
	return errors.As(err, &cfgErr)
}
