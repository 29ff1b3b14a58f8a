package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Storage backends
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Config holds all configuration for the provider process
type Config struct {
	Provider ProviderConfig `mapstructure:"provider"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Relay    RelayConfig    `mapstructure:"relay"`
	Worker   WorkerConfig   `mapstructure:"worker"`
	Server   ServerConfig   `mapstructure:"server"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ProviderConfig identifies the provider instance
type ProviderConfig struct {
	AppName          string `mapstructure:"app_name"`
	ChainID          uint64 `mapstructure:"chain_id"`
	RPCURL           string `mapstructure:"rpc_url"`
	PersistAddresses bool   `mapstructure:"persist_addresses"`
}

// StorageConfig selects where authorized addresses are kept
type StorageConfig struct {
	Backend string      `mapstructure:"backend"`
	Redis   RedisConfig `mapstructure:"redis"`
}

// RedisConfig contains Redis connection settings
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

// RelayConfig configures the local-key development relay
type RelayConfig struct {
	PrivateKeys []string `mapstructure:"private_keys"`
	NodeURL     string   `mapstructure:"node_url"`
}

// WorkerConfig sizes the pool running callback-style requests
type WorkerConfig struct {
	WorkerCount int `mapstructure:"worker_count"`
	QueueSize   int `mapstructure:"queue_size"`
}

// ServerConfig contains the JSON-RPC endpoint settings
type ServerConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
}

// MetricsConfig contains metrics configuration
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("provider")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix("ETH_PROVIDER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("provider.app_name", "ethprovider")
	v.SetDefault("provider.chain_id", 1)
	v.SetDefault("provider.rpc_url", "http://127.0.0.1:8545")
	v.SetDefault("provider.persist_addresses", true)
	v.SetDefault("storage.backend", BackendMemory)
	v.SetDefault("storage.redis.addr", "127.0.0.1:6379")
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.pool_size", 10)
	v.SetDefault("worker.worker_count", 4)
	v.SetDefault("worker.queue_size", 64)
	v.SetDefault("server.listen_addr", "127.0.0.1:8546")
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Provider.AppName == "" {
		return fmt.Errorf("provider.app_name is required")
	}
	if c.Provider.ChainID == 0 {
		return fmt.Errorf("provider.chain_id must be positive")
	}
	if c.Provider.RPCURL == "" {
		return fmt.Errorf("provider.rpc_url is required")
	}
	switch c.Storage.Backend {
	case BackendMemory:
	case BackendRedis:
		if c.Storage.Redis.Addr == "" {
			return fmt.Errorf("storage.redis.addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("unknown storage.backend %q", c.Storage.Backend)
	}
	if c.Worker.WorkerCount <= 0 {
		return fmt.Errorf("worker.worker_count must be positive")
	}
	if c.Worker.QueueSize < 0 {
		return fmt.Errorf("worker.queue_size must be non-negative")
	}
	return nil
}
