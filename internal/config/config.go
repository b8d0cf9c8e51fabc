package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/rowpane/rowpane/internal/dao"
)

// Config represents the root configuration structure
type Config struct {
	Logging     LoggingConfig      `mapstructure:"logging"`
	DAO         DAOConfig          `mapstructure:"dao"`
	Import      ImportConfig       `mapstructure:"import"`
	Cache       CacheConfig        `mapstructure:"cache"`
	Agent       AgentConfig        `mapstructure:"agent"`
	Connections []ConnectionConfig `mapstructure:"connections"`
}

// LoggingConfig controls the slog logger.
type LoggingConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

// DAOConfig holds adapter tuning shared by every engine.
type DAOConfig struct {
	LargeDatasetThreshold int64         `mapstructure:"large_dataset_threshold"`
	DefaultPerPage        int           `mapstructure:"default_per_page"`
	AutocompleteLimit     int           `mapstructure:"autocomplete_limit"`
	SampleSize            int           `mapstructure:"sample_size"`
	QueryTimeout          time.Duration `mapstructure:"query_timeout"`
}

// ImportConfig controls CSV import batching.
type ImportConfig struct {
	Workers           int `mapstructure:"workers"`
	SQLBatchSize      int `mapstructure:"sql_batch_size"`
	DynamoDBBatchSize int `mapstructure:"dynamodb_batch_size"`
	MongoDBBatchSize  int `mapstructure:"mongodb_batch_size"`
}

// CacheConfig bounds the connection/resource cache.
type CacheConfig struct {
	MaxConnections  int           `mapstructure:"max_connections"`
	MetadataEntries int           `mapstructure:"metadata_entries"`
	MetadataTTL     time.Duration `mapstructure:"metadata_ttl"`
}

// Options converts the DAO and import sections into adapter options.
func (c *Config) Options() dao.Options {
	return dao.Options{
		LargeDatasetThreshold: c.DAO.LargeDatasetThreshold,
		DefaultPerPage:        c.DAO.DefaultPerPage,
		AutocompleteLimit:     c.DAO.AutocompleteLimit,
		SampleSize:            c.DAO.SampleSize,
		QueryTimeout:          c.DAO.QueryTimeout,
		ImportWorkers:         c.Import.Workers,
		SQLBatchSize:          c.Import.SQLBatchSize,
		DynamoBatchSize:       c.Import.DynamoDBBatchSize,
		DocumentBatchSize:     c.Import.MongoDBBatchSize,
	}.WithDefaults()
}

// Loader owns a viper instance so the agent can re-read and watch the same file.
type Loader struct {
	v *viper.Viper
}

// NewLoader prepares a loader. An empty path searches $HOME/.config/rowpane
// and the working directory for config.yaml.
func NewLoader(path string) *Loader {
	// A .env file is optional; it only seeds the environment.
	_ = godotenv.Load()

	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("$HOME/.config/rowpane")
		v.AddConfigPath(".")
	}

	// Environment variable support
	v.SetEnvPrefix("ROWPANE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	applyDefaults(v)
	return &Loader{v: v}
}

// LoadConfig loads configuration from the default locations.
func LoadConfig() (*Config, error) {
	return NewLoader("").Load()
}

// LoadConfigFromPath loads configuration from an explicit file.
func LoadConfigFromPath(path string) (*Config, error) {
	return NewLoader(path).Load()
}

// Load reads, unmarshals and validates the configuration. A missing file in
// the search paths yields the defaults.
func (l *Loader) Load() (*Config, error) {
	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := ValidateConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ConfigFile returns the file in use, or "" when running on defaults.
func (l *Loader) ConfigFile() string {
	return l.v.ConfigFileUsed()
}

// ValidateConfig validates the configuration values
func ValidateConfig(cfg *Config) error {
	if cfg.DAO.LargeDatasetThreshold < 1 {
		return fmt.Errorf("dao.large_dataset_threshold must be >= 1, got %d", cfg.DAO.LargeDatasetThreshold)
	}
	if cfg.DAO.DefaultPerPage < 1 || cfg.DAO.DefaultPerPage > 10000 {
		return fmt.Errorf("dao.default_per_page must be between 1 and 10000, got %d", cfg.DAO.DefaultPerPage)
	}
	if cfg.DAO.AutocompleteLimit < 1 {
		return fmt.Errorf("dao.autocomplete_limit must be >= 1, got %d", cfg.DAO.AutocompleteLimit)
	}
	if cfg.DAO.SampleSize < 1 {
		return fmt.Errorf("dao.sample_size must be >= 1, got %d", cfg.DAO.SampleSize)
	}
	if cfg.DAO.QueryTimeout < time.Second {
		return fmt.Errorf("dao.query_timeout must be >= 1s, got %v", cfg.DAO.QueryTimeout)
	}

	if cfg.Import.Workers < 1 || cfg.Import.Workers > 16 {
		return fmt.Errorf("import.workers must be between 1 and 16, got %d", cfg.Import.Workers)
	}
	if cfg.Import.DynamoDBBatchSize < 1 || cfg.Import.DynamoDBBatchSize > 25 {
		return fmt.Errorf("import.dynamodb_batch_size must be between 1 and 25, got %d", cfg.Import.DynamoDBBatchSize)
	}
	if cfg.Import.SQLBatchSize < 1 {
		return fmt.Errorf("import.sql_batch_size must be >= 1, got %d", cfg.Import.SQLBatchSize)
	}
	if cfg.Import.MongoDBBatchSize < 1 {
		return fmt.Errorf("import.mongodb_batch_size must be >= 1, got %d", cfg.Import.MongoDBBatchSize)
	}

	if cfg.Cache.MaxConnections < 1 {
		return fmt.Errorf("cache.max_connections must be >= 1, got %d", cfg.Cache.MaxConnections)
	}
	if cfg.Cache.MetadataEntries < 1 {
		return fmt.Errorf("cache.metadata_entries must be >= 1, got %d", cfg.Cache.MetadataEntries)
	}
	if cfg.Cache.MetadataTTL < time.Second {
		return fmt.Errorf("cache.metadata_ttl must be >= 1s, got %v", cfg.Cache.MetadataTTL)
	}

	if err := ValidateAgentConfig(&cfg.Agent); err != nil {
		return err
	}
	return ValidateConnections(cfg.Connections)
}

// applyDefaults sets default configuration values
func applyDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.file", "")

	v.SetDefault("dao.large_dataset_threshold", dao.DefaultLargeDatasetThreshold)
	v.SetDefault("dao.default_per_page", dao.DefaultPerPage)
	v.SetDefault("dao.autocomplete_limit", dao.DefaultAutocompleteLimit)
	v.SetDefault("dao.sample_size", dao.DefaultSampleSize)
	v.SetDefault("dao.query_timeout", dao.DefaultQueryTimeout.String())

	v.SetDefault("import.workers", dao.DefaultImportWorkers)
	v.SetDefault("import.sql_batch_size", dao.DefaultSQLBatchSize)
	v.SetDefault("import.dynamodb_batch_size", dao.DefaultDynamoBatchSize)
	v.SetDefault("import.mongodb_batch_size", dao.DefaultDocumentBatchSize)

	v.SetDefault("cache.max_connections", 100)
	v.SetDefault("cache.metadata_entries", 1000)
	v.SetDefault("cache.metadata_ttl", "5m")

	v.SetDefault("agent.address", DefaultAgentAddress)
	v.SetDefault("agent.listen", DefaultAgentListen)
	v.SetDefault("agent.jwt_secret", "")
	v.SetDefault("agent.token_ttl", "1h")
	v.SetDefault("agent.connection_token", "")
	v.SetDefault("agent.email", "")
	v.SetDefault("agent.data_dir", defaultDataDir())
	v.SetDefault("agent.request_timeout", "60s")
}

func defaultDataDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = os.TempDir()
	}
	return filepath.Join(homeDir, ".config", "rowpane")
}
