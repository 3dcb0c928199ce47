package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// ApplyEnvOverrides applies environment variable overrides to the configuration
// Environment variables follow the pattern: SENTINEL_<SECTION>_<KEY>
// Example: SENTINEL_ENGINE_SHARDS=64
func ApplyEnvOverrides(config *Config) error {
	// Application overrides
	if val := os.Getenv("SENTINEL_APPLICATION_NAME"); val != "" {
		config.Application.Name = val
	}
	if val := os.Getenv("SENTINEL_APPLICATION_ENVIRONMENT"); val != "" {
		config.Application.Environment = val
	}

	// Engine overrides
	if val := os.Getenv("SENTINEL_ENGINE_SHARDS"); val != "" {
		shards, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("invalid SENTINEL_ENGINE_SHARDS: %w", err)
		}
		config.Engine.Shards = shards
	}

	if val := os.Getenv("SENTINEL_ENGINE_SHARD_BUFFER_SIZE"); val != "" {
		size, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("invalid SENTINEL_ENGINE_SHARD_BUFFER_SIZE: %w", err)
		}
		config.Engine.ShardBufferSize = size
	}

	if val := os.Getenv("SENTINEL_ENGINE_INGEST_BUFFER_SIZE"); val != "" {
		size, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("invalid SENTINEL_ENGINE_INGEST_BUFFER_SIZE: %w", err)
		}
		config.Engine.IngestBufferSize = size
	}

	if val := os.Getenv("SENTINEL_ENGINE_EVICTION_TICK"); val != "" {
		duration, err := time.ParseDuration(val)
		if err != nil {
			return fmt.Errorf("invalid SENTINEL_ENGINE_EVICTION_TICK: %w", err)
		}
		config.Engine.EvictionTick = duration
	}

	// Store overrides
	if val := os.Getenv("SENTINEL_STORE_MAX_LATENESS"); val != "" {
		duration, err := time.ParseDuration(val)
		if err != nil {
			return fmt.Errorf("invalid SENTINEL_STORE_MAX_LATENESS: %w", err)
		}
		config.Store.MaxLateness = duration
	}

	if val := os.Getenv("SENTINEL_STORE_DISTINCT_CAP"); val != "" {
		cap, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("invalid SENTINEL_STORE_DISTINCT_CAP: %w", err)
		}
		config.Store.DistinctCap = cap
	}

	if val := os.Getenv("SENTINEL_STORE_RETENTION"); val != "" {
		duration, err := time.ParseDuration(val)
		if err != nil {
			return fmt.Errorf("invalid SENTINEL_STORE_RETENTION: %w", err)
		}
		config.Store.Retention = duration
	}

	// Rule overrides
	if val := os.Getenv("SENTINEL_RULES_LARGE_AMOUNT"); val != "" {
		amount, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return fmt.Errorf("invalid SENTINEL_RULES_LARGE_AMOUNT: %w", err)
		}
		config.Rules.LargeAmount = amount
	}

	if val := os.Getenv("SENTINEL_RULES_DEFAULT_COOLDOWN"); val != "" {
		duration, err := time.ParseDuration(val)
		if err != nil {
			return fmt.Errorf("invalid SENTINEL_RULES_DEFAULT_COOLDOWN: %w", err)
		}
		config.Rules.DefaultCooldown = duration
	}

	// Alert overrides
	if val := os.Getenv("SENTINEL_ALERTS_QUEUE_SIZE"); val != "" {
		size, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("invalid SENTINEL_ALERTS_QUEUE_SIZE: %w", err)
		}
		config.Alerts.QueueSize = size
	}

	if val := os.Getenv("SENTINEL_ALERTS_MAX_RETRIES"); val != "" {
		retries, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("invalid SENTINEL_ALERTS_MAX_RETRIES: %w", err)
		}
		config.Alerts.MaxRetries = retries
	}

	// Reference data overrides
	if val := os.Getenv("SENTINEL_REFDATA_PROVIDER"); val != "" {
		config.RefData.Provider = val
	}

	if val := os.Getenv("SENTINEL_REFDATA_REDIS_ADDR"); val != "" {
		config.RefData.Redis.Addr = val
	}

	if val := os.Getenv("SENTINEL_REFDATA_REDIS_PASSWORD"); val != "" {
		config.RefData.Redis.Password = val
	}

	// Metrics overrides
	if val := os.Getenv("SENTINEL_METRICS_ENABLED"); val != "" {
		enabled, err := strconv.ParseBool(val)
		if err != nil {
			return fmt.Errorf("invalid SENTINEL_METRICS_ENABLED: %w", err)
		}
		config.Metrics.Enabled = enabled
	}

	if val := os.Getenv("SENTINEL_METRICS_ADDRESS"); val != "" {
		config.Metrics.Address = val
	}

	if val := os.Getenv("SENTINEL_METRICS_NAMESPACE"); val != "" {
		config.Metrics.Namespace = val
	}

	// Tracing overrides
	if val := os.Getenv("SENTINEL_TRACING_ENABLED"); val != "" {
		enabled, err := strconv.ParseBool(val)
		if err != nil {
			return fmt.Errorf("invalid SENTINEL_TRACING_ENABLED: %w", err)
		}
		config.Tracing.Enabled = enabled
	}

	if val := os.Getenv("SENTINEL_TRACING_ENDPOINT"); val != "" {
		config.Tracing.Endpoint = val
	}

	// Logging overrides
	if val := os.Getenv("SENTINEL_LOG_LEVEL"); val != "" {
		config.Logging.Level = val
	}

	if val := os.Getenv("SENTINEL_LOG_FORMAT"); val != "" {
		config.Logging.Format = val
	}

	if val := os.Getenv("SENTINEL_LOG_OUTPUT"); val != "" {
		config.Logging.Output = val
	}

	if val := os.Getenv("SENTINEL_LOG_OUTPUT_PATH"); val != "" {
		config.Logging.OutputPath = val
	}

	return nil
}

// GetEnvWithDefault retrieves an environment variable or returns a default value
func GetEnvWithDefault(key, defaultValue string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultValue
}

// GetEnvInt retrieves an integer environment variable or returns a default value
func GetEnvInt(key string, defaultValue int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// GetEnvBool retrieves a boolean environment variable or returns a default value
func GetEnvBool(key string, defaultValue bool) bool {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseBool(val); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// GetEnvDuration retrieves a duration environment variable or returns a default value
func GetEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if parsed, err := time.ParseDuration(val); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// LoadConfigWithEnv loads configuration from file and applies environment variable overrides
func LoadConfigWithEnv(path string) (*Config, error) {
	// Load base configuration
	config, err := LoadConfigWithDefaults(path)
	if err != nil {
		return nil, err
	}

	// Apply environment overrides
	if err := ApplyEnvOverrides(config); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	return config, nil
}

// LoadOrDefaultWithEnv loads configuration from file (or uses default) and applies environment overrides
func LoadOrDefaultWithEnv(path string) (*Config, error) {
	// Load base configuration or use default
	config, err := LoadOrDefault(path)
	if err != nil {
		return nil, err
	}

	// Apply environment overrides
	if err := ApplyEnvOverrides(config); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	return config, nil
}
