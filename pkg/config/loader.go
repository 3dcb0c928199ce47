package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// LoadConfig loads configuration from a file
// Supports both YAML and JSON formats
func LoadConfig(path string) (*Config, error) {
	// Read file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Determine format based on file extension
	ext := strings.ToLower(filepath.Ext(path))

	var config Config

	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s (supported: .yaml, .yml, .json)", ext)
	}

	return &config, nil
}

// LoadConfigWithDefaults loads configuration from a file and applies defaults for missing values
func LoadConfigWithDefaults(path string) (*Config, error) {
	config, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}

	// Apply defaults for missing values
	applyDefaults(config)

	return config, nil
}

// LoadOrDefault attempts to load configuration from path, returns default config if file doesn't exist
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return DefaultConfig(), nil
	}

	return LoadConfigWithDefaults(path)
}

// SaveConfig saves configuration to a file
// Format is determined by file extension
func SaveConfig(config *Config, path string) error {
	ext := strings.ToLower(filepath.Ext(path))

	var data []byte
	var err error

	switch ext {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(config)
		if err != nil {
			return fmt.Errorf("failed to marshal config to YAML: %w", err)
		}
	case ".json":
		data, err = json.MarshalIndent(config, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal config to JSON: %w", err)
		}
	default:
		return fmt.Errorf("unsupported config file format: %s (supported: .yaml, .yml, .json)", ext)
	}

	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Write file
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// applyDefaults fills in missing values with defaults
func applyDefaults(config *Config) {
	defaults := DefaultConfig()

	// Apply version if missing
	if config.Version == "" {
		config.Version = defaults.Version
	}

	// Apply application defaults
	if config.Application.Name == "" {
		config.Application.Name = defaults.Application.Name
	}
	if config.Application.Environment == "" {
		config.Application.Environment = defaults.Application.Environment
	}
	if config.Application.Tags == nil {
		config.Application.Tags = make(map[string]string)
	}

	// Apply engine defaults
	if config.Engine.Shards == 0 {
		config.Engine.Shards = defaults.Engine.Shards
	}
	if config.Engine.ShardBufferSize == 0 {
		config.Engine.ShardBufferSize = defaults.Engine.ShardBufferSize
	}
	if config.Engine.IngestBufferSize == 0 {
		config.Engine.IngestBufferSize = defaults.Engine.IngestBufferSize
	}
	if config.Engine.EvictionTick == 0 {
		config.Engine.EvictionTick = defaults.Engine.EvictionTick
	}
	if config.Engine.DedupeRetention == 0 {
		config.Engine.DedupeRetention = defaults.Engine.DedupeRetention
	}

	// Apply store defaults
	if config.Store.MaxLateness == 0 {
		config.Store.MaxLateness = defaults.Store.MaxLateness
	}
	if config.Store.DistinctCap == 0 {
		config.Store.DistinctCap = defaults.Store.DistinctCap
	}
	if config.Store.Retention == 0 {
		config.Store.Retention = defaults.Store.Retention
	}
	if config.Store.IdleTimeout == 0 {
		config.Store.IdleTimeout = defaults.Store.IdleTimeout
	}

	// Apply rule threshold defaults
	applyRuleDefaults(&config.Rules, &defaults.Rules)

	// Apply alert dispatch defaults
	if config.Alerts.QueueSize == 0 {
		config.Alerts.QueueSize = defaults.Alerts.QueueSize
	}
	if config.Alerts.MaxRetries == 0 {
		config.Alerts.MaxRetries = defaults.Alerts.MaxRetries
	}
	if config.Alerts.InitialBackoff == 0 {
		config.Alerts.InitialBackoff = defaults.Alerts.InitialBackoff
	}
	if config.Alerts.MaxBackoff == 0 {
		config.Alerts.MaxBackoff = defaults.Alerts.MaxBackoff
	}

	// Apply refdata defaults
	if config.RefData.Provider == "" {
		config.RefData.Provider = defaults.RefData.Provider
	}

	// Apply metrics defaults
	if config.Metrics.Address == "" {
		config.Metrics.Address = defaults.Metrics.Address
	}
	if config.Metrics.Path == "" {
		config.Metrics.Path = defaults.Metrics.Path
	}
	if config.Metrics.Namespace == "" {
		config.Metrics.Namespace = defaults.Metrics.Namespace
	}
	if config.Metrics.Subsystem == "" {
		config.Metrics.Subsystem = defaults.Metrics.Subsystem
	}

	// Apply tracing defaults
	if config.Tracing.Exporter == "" {
		config.Tracing.Exporter = defaults.Tracing.Exporter
	}
	if config.Tracing.SamplingRate == 0 {
		config.Tracing.SamplingRate = defaults.Tracing.SamplingRate
	}

	// Apply logging defaults
	if config.Logging.Level == "" {
		config.Logging.Level = defaults.Logging.Level
	}
	if config.Logging.Format == "" {
		config.Logging.Format = defaults.Logging.Format
	}
	if config.Logging.Output == "" {
		config.Logging.Output = defaults.Logging.Output
	}
}

func applyRuleDefaults(rules, defaults *RulesConfig) {
	if rules.LargeAmount == 0 {
		rules.LargeAmount = defaults.LargeAmount
	}
	if rules.LateNightEndHour == 0 {
		rules.LateNightEndHour = defaults.LateNightEndHour
	}
	if rules.VelocityCount == 0 {
		rules.VelocityCount = defaults.VelocityCount
	}
	if rules.VelocityWindow == 0 {
		rules.VelocityWindow = defaults.VelocityWindow
	}
	if rules.MultiIPCount == 0 {
		rules.MultiIPCount = defaults.MultiIPCount
	}
	if rules.MultiDeviceCount == 0 {
		rules.MultiDeviceCount = defaults.MultiDeviceCount
	}
	if rules.SharedIPCustomers == 0 {
		rules.SharedIPCustomers = defaults.SharedIPCustomers
	}
	if rules.FailedTxnCount == 0 {
		rules.FailedTxnCount = defaults.FailedTxnCount
	}
	if rules.DailyOutflowSum == 0 {
		rules.DailyOutflowSum = defaults.DailyOutflowSum
	}
	if rules.StructuringAmount == 0 {
		rules.StructuringAmount = defaults.StructuringAmount
	}
	if rules.StructuringCount == 0 {
		rules.StructuringCount = defaults.StructuringCount
	}
	if rules.DailyCountries == 0 {
		rules.DailyCountries = defaults.DailyCountries
	}
	if rules.TravelWindow == 0 {
		rules.TravelWindow = defaults.TravelWindow
	}
	if rules.LoginFailureCount == 0 {
		rules.LoginFailureCount = defaults.LoginFailureCount
	}
	if rules.CardReuseAccounts == 0 {
		rules.CardReuseAccounts = defaults.CardReuseAccounts
	}
	if rules.MerchantCustomers == 0 {
		rules.MerchantCustomers = defaults.MerchantCustomers
	}
	if rules.TakeoverAccounts == 0 {
		rules.TakeoverAccounts = defaults.TakeoverAccounts
	}
	if rules.RefundCount == 0 {
		rules.RefundCount = defaults.RefundCount
	}
	if rules.DefaultCooldown == 0 {
		rules.DefaultCooldown = defaults.DefaultCooldown
	}
	if rules.Cooldowns == nil {
		rules.Cooldowns = make(map[string]time.Duration)
	}
}

// MergeConfigs merges multiple configurations, with later configs overriding earlier ones
func MergeConfigs(configs ...*Config) *Config {
	if len(configs) == 0 {
		return DefaultConfig()
	}

	result := configs[0]

	for i := 1; i < len(configs); i++ {
		mergeInto(result, configs[i])
	}

	return result
}

// mergeInto merges source into target, overriding non-zero values
func mergeInto(target, source *Config) {
	// Merge application config
	if source.Application.Name != "" {
		target.Application.Name = source.Application.Name
	}
	if source.Application.Environment != "" {
		target.Application.Environment = source.Application.Environment
	}
	for k, v := range source.Application.Tags {
		target.Application.Tags[k] = v
	}

	// Merge engine config
	if source.Engine.Shards != 0 {
		target.Engine.Shards = source.Engine.Shards
	}
	if source.Engine.ShardBufferSize != 0 {
		target.Engine.ShardBufferSize = source.Engine.ShardBufferSize
	}
	if source.Engine.IngestBufferSize != 0 {
		target.Engine.IngestBufferSize = source.Engine.IngestBufferSize
	}
	if source.Engine.EvictionTick != 0 {
		target.Engine.EvictionTick = source.Engine.EvictionTick
	}
	if source.Engine.DedupeRetention != 0 {
		target.Engine.DedupeRetention = source.Engine.DedupeRetention
	}

	// Merge store config
	if source.Store.MaxLateness != 0 {
		target.Store.MaxLateness = source.Store.MaxLateness
	}
	if source.Store.DistinctCap != 0 {
		target.Store.DistinctCap = source.Store.DistinctCap
	}
	if source.Store.Retention != 0 {
		target.Store.Retention = source.Store.Retention
	}
	if source.Store.IdleTimeout != 0 {
		target.Store.IdleTimeout = source.Store.IdleTimeout
	}

	// Merge rule cooldown overrides
	for id, d := range source.Rules.Cooldowns {
		target.Rules.Cooldowns[id] = d
	}
	target.Rules.Disabled = append(target.Rules.Disabled, source.Rules.Disabled...)

	// Merge sources and sinks (append)
	target.Sources.Kafka = append(target.Sources.Kafka, source.Sources.Kafka...)
	target.Sources.NATS = append(target.Sources.NATS, source.Sources.NATS...)
	target.Sources.WebSocket = append(target.Sources.WebSocket, source.Sources.WebSocket...)
	target.Sinks.Kafka = append(target.Sinks.Kafka, source.Sinks.Kafka...)
	target.Sinks.Postgres = append(target.Sinks.Postgres, source.Sinks.Postgres...)
}
