package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	config := GetDefaults()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath("/etc/llm-anonymizer/")
	viper.AddConfigPath("$HOME/.llm-anonymizer/")

	viper.SetEnvPrefix("ANONYMIZER")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	bindEnv()

	if configPath != "" {
		viper.SetConfigFile(configPath)
	}

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// bindEnv registers the keys that are commonly overridden from the environment.
// AutomaticEnv alone only applies to keys viper already knows from a config file.
func bindEnv() {
	for _, key := range []string{
		"server.port",
		"logging.level",
		"logging.format",
		"entity_source.kind",
		"entity_source.worker_url",
		"entity_source.detect_timeout",
		"sessions.store",
		"sessions.redis_url",
		"sessions.ttl",
		"audit.enabled",
		"audit.database_url",
		"rate_limit.enabled",
		"websocket.username",
		"websocket.password",
	} {
		_ = viper.BindEnv(key)
	}
}

// validateConfig validates the loaded configuration
func validateConfig(config *Config) error {
	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	switch config.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", config.Logging.Level)
	}

	if config.Logging.Format != "json" && config.Logging.Format != "console" {
		return fmt.Errorf("invalid log format: %s (must be json or console)", config.Logging.Format)
	}

	if config.Engine.ChunkSize < 100 {
		return fmt.Errorf("invalid chunk size: %d (must be at least 100)", config.Engine.ChunkSize)
	}

	if config.Engine.MinConfidence < 0 || config.Engine.MinConfidence > 1 {
		return fmt.Errorf("invalid min confidence: %v (must be within [0,1])", config.Engine.MinConfidence)
	}

	switch config.EntitySource.Kind {
	case "none", "worker", "onnx":
	default:
		return fmt.Errorf("invalid entity source: %s (must be none, worker, or onnx)", config.EntitySource.Kind)
	}

	if config.EntitySource.Kind != "none" && config.EntitySource.DetectTimeout <= 0 {
		return fmt.Errorf("entity source detect timeout must be positive")
	}

	if config.Sessions.Store != "memory" && config.Sessions.Store != "redis" {
		return fmt.Errorf("invalid session store: %s (must be memory or redis)", config.Sessions.Store)
	}

	if config.RateLimit.Enabled && config.RateLimit.RequestsPerMin <= 0 {
		return fmt.Errorf("rate limit requests_per_min must be positive when enabled")
	}

	return nil
}

// Watch starts watching the configuration file for changes
func Watch(callback func(*Config)) {
	viper.OnConfigChange(func(e fsnotify.Event) {
		newConfig := GetDefaults()
		if err := viper.Unmarshal(newConfig); err != nil {
			return
		}

		if err := validateConfig(newConfig); err != nil {
			return
		}

		callback(newConfig)
	})
	viper.WatchConfig()
}
