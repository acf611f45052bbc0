package config

import (
	"log/slog"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config is the engine's full runtime configuration, loaded once at
// startup by Load.
type Config struct {
	DatabaseDriver string `mapstructure:"database_driver" validate:"required,oneof=postgres mongo"`
	PostgresURL    string `mapstructure:"postgres_url"`
	MongoURL       string `mapstructure:"mongo_url"`

	LogLevel string `mapstructure:"log_level" validate:"required,uppercase"`

	CacheOptions      CacheConfig      `mapstructure:"cache" validate:"required"`
	CRUDOptions       CRUDConfig       `mapstructure:"crud" validate:"required"`
	CoordinationOptions CoordinationConfig `mapstructure:"coordination" validate:"required"`
}

// CacheConfig configures the bounded per-resource TTL cache.
type CacheConfig struct {
	DurationSecs int  `mapstructure:"duration_secs" validate:"min=1"`
	Disabled     bool `mapstructure:"disabled"`
}

// CRUDConfig configures the CRUD Core's schema-wide defaults, mirrored
// onto schema.Schema at startup.
type CRUDConfig struct {
	MaxPageSize        int  `mapstructure:"max_page_size" validate:"min=1"`
	MaxMultiPublish     int  `mapstructure:"max_multi_publish" validate:"min=1"`
	BlockPreByDefault   bool `mapstructure:"block_pre_by_default"`
	TypedViewChannelParams bool `mapstructure:"typed_view_channel_params"`
}

// CoordinationConfig configures the cross-process schema-bootstrap lease.
type CoordinationConfig struct {
	LeaseDurationSecs int64 `mapstructure:"lease_duration_secs" validate:"min=1"`
}

// Load reads configuration from an explicit file named by
// RELAYCRUD_CONFIG_PATH (or, when that is unset, a config.yaml found on the
// search path) and from RELAYCRUD_-prefixed environment variables, which
// take precedence over file values, then validates it. Following
// the teacher's internal/config.Load, a bad config is fatal at startup
// rather than surfaced as a returned error.
func Load() *Config {
	v := viper.New()

	v.SetDefault("database_driver", "postgres")
	v.SetDefault("postgres_url", "")
	v.SetDefault("mongo_url", "")
	v.SetDefault("log_level", "INFO")
	v.SetDefault("cache.duration_secs", 10)
	v.SetDefault("cache.disabled", false)
	v.SetDefault("crud.max_page_size", 100)
	v.SetDefault("crud.max_multi_publish", 20)
	v.SetDefault("crud.block_pre_by_default", false)
	v.SetDefault("crud.typed_view_channel_params", false)
	v.SetDefault("coordination.lease_duration_secs", 30)

	v.SetEnvPrefix("RELAYCRUD")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	configFile := os.Getenv("RELAYCRUD_CONFIG_PATH")
	if configFile != "" {
		v.SetConfigFile(configFile)
		slog.Info("loading configuration from specified file", "path", configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/relaycrud/")
		slog.Info("config path not set, using default search paths",
			"paths", []string{".", "./config", "/etc/relaycrud/"},
			"filename", "config.yaml")
	}

	err := v.ReadInConfig()
	if err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			slog.Warn("config file not found, using defaults and environment variables")
		} else {
			slog.Error("failed to read config file", "error", err)
			os.Exit(1)
		}
	} else {
		slog.Info("configuration loaded", "file", v.ConfigFileUsed())
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		slog.Error("failed to parse configuration", "error", err)
		os.Exit(1)
	}

	validateConfig(&cfg)
	logConfig(&cfg)
	return &cfg
}

func validateConfig(cfg *Config) {
	v := validator.New()
	if err := v.Struct(cfg); err != nil {
		slog.Error("config validation failed", "error", err)
		os.Exit(1)
	}
	if cfg.DatabaseDriver == "postgres" && cfg.PostgresURL == "" {
		slog.Error("postgres_url is required when database_driver is postgres")
		os.Exit(1)
	}
	if cfg.DatabaseDriver == "mongo" && cfg.MongoURL == "" {
		slog.Error("mongo_url is required when database_driver is mongo")
		os.Exit(1)
	}
	slog.Info("configuration validated successfully")
}

func logConfig(cfg *Config) {
	slog.Info("final configuration",
		"database_driver", cfg.DatabaseDriver,
		"log_level", cfg.LogLevel,
		"cache", cfg.CacheOptions,
		"crud", cfg.CRUDOptions,
		"coordination", cfg.CoordinationOptions)
}
