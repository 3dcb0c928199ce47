package config

import (
	"fmt"
	"strings"
)

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for %s: %s", e.Field, e.Message)
}

// ValidationErrors represents multiple validation errors
type ValidationErrors struct {
	Errors []ValidationError
}

func (e *ValidationErrors) Error() string {
	if len(e.Errors) == 0 {
		return "no validation errors"
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("found %d validation error(s):\n", len(e.Errors)))
	for _, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  - %s: %s\n", err.Field, err.Message))
	}
	return sb.String()
}

// HasErrors returns true if there are validation errors
func (e *ValidationErrors) HasErrors() bool {
	return len(e.Errors) > 0
}

// Add adds a validation error
func (e *ValidationErrors) Add(field, message string) {
	e.Errors = append(e.Errors, ValidationError{
		Field:   field,
		Message: message,
	})
}

// Validate validates the entire configuration
func Validate(config *Config) error {
	errs := &ValidationErrors{}

	validateVersion(config, errs)
	validateApplication(config, errs)
	validateEngine(config, errs)
	validateStore(config, errs)
	validateRules(config, errs)
	validateAlerts(config, errs)
	validateSources(config, errs)
	validateSinks(config, errs)
	validateRefData(config, errs)
	validateMetrics(config, errs)
	validateTracing(config, errs)
	validateLogging(config, errs)

	if errs.HasErrors() {
		return errs
	}

	return nil
}

func validateVersion(config *Config, errs *ValidationErrors) {
	if err := ValidateVersion(config); err != nil {
		errs.Add("version", err.Error())
	}
}

func validateApplication(config *Config, errs *ValidationErrors) {
	if config.Application.Name == "" {
		errs.Add("application.name", "application name is required")
	}

	if config.Application.Environment != "" {
		validEnvs := []string{"development", "staging", "production", "test"}
		valid := false
		for _, env := range validEnvs {
			if config.Application.Environment == env {
				valid = true
				break
			}
		}
		if !valid {
			errs.Add("application.environment", fmt.Sprintf("invalid environment %s (valid: %s)",
				config.Application.Environment, strings.Join(validEnvs, ", ")))
		}
	}
}

func validateEngine(config *Config, errs *ValidationErrors) {
	if config.Engine.Shards <= 0 {
		errs.Add("engine.shards", "shard count must be positive")
	}

	if config.Engine.ShardBufferSize <= 0 {
		errs.Add("engine.shard_buffer_size", "shard buffer size must be positive")
	}

	if config.Engine.IngestBufferSize <= 0 {
		errs.Add("engine.ingest_buffer_size", "ingest buffer size must be positive")
	}

	if config.Engine.EvictionTick <= 0 {
		errs.Add("engine.eviction_tick", "eviction tick must be positive")
	}

	if config.Engine.DedupeRetention <= 0 {
		errs.Add("engine.dedupe_retention", "dedupe retention must be positive")
	}
}

func validateStore(config *Config, errs *ValidationErrors) {
	if config.Store.MaxLateness < 0 {
		errs.Add("store.max_lateness", "max lateness cannot be negative")
	}

	if config.Store.DistinctCap <= 0 {
		errs.Add("store.distinct_cap", "distinct cap must be positive")
	}

	if config.Store.Retention <= 0 {
		errs.Add("store.retention", "retention must be positive")
	}

	if config.Store.IdleTimeout <= 0 {
		errs.Add("store.idle_timeout", "idle timeout must be positive")
	}
}

func validateRules(config *Config, errs *ValidationErrors) {
	r := config.Rules

	if r.LargeAmount <= 0 {
		errs.Add("rules.large_amount", "large amount threshold must be positive")
	}
	if r.LateNightStartHour < 0 || r.LateNightStartHour > 23 {
		errs.Add("rules.late_night_start_hour", "hour must be between 0 and 23")
	}
	if r.LateNightEndHour < 0 || r.LateNightEndHour > 23 {
		errs.Add("rules.late_night_end_hour", "hour must be between 0 and 23")
	}
	if r.VelocityCount <= 0 {
		errs.Add("rules.velocity_count", "velocity count must be positive")
	}
	if r.VelocityWindow <= 0 {
		errs.Add("rules.velocity_window", "velocity window must be positive")
	}
	if r.StructuringAmount <= 0 {
		errs.Add("rules.structuring_amount", "structuring amount must be positive")
	}
	if r.TravelWindow <= 0 {
		errs.Add("rules.travel_window", "travel window must be positive")
	}
	if r.DefaultCooldown < 0 {
		errs.Add("rules.default_cooldown", "default cooldown cannot be negative")
	}
	for id, d := range r.Cooldowns {
		if d < 0 {
			errs.Add(fmt.Sprintf("rules.cooldowns[%s]", id), "cooldown cannot be negative")
		}
	}
}

func validateAlerts(config *Config, errs *ValidationErrors) {
	if config.Alerts.QueueSize <= 0 {
		errs.Add("alerts.queue_size", "queue size must be positive")
	}

	if config.Alerts.MaxRetries < 0 {
		errs.Add("alerts.max_retries", "max retries cannot be negative")
	}

	if config.Alerts.InitialBackoff <= 0 {
		errs.Add("alerts.initial_backoff", "initial backoff must be positive")
	}

	if config.Alerts.MaxBackoff < config.Alerts.InitialBackoff {
		errs.Add("alerts.max_backoff", "max backoff must be >= initial backoff")
	}
}

func validateSources(config *Config, errs *ValidationErrors) {
	// Validate Kafka sources
	for i, kafka := range config.Sources.Kafka {
		prefix := fmt.Sprintf("sources.kafka[%d]", i)

		if kafka.Name == "" {
			errs.Add(prefix+".name", "source name is required")
		}

		if len(kafka.Brokers) == 0 {
			errs.Add(prefix+".brokers", "at least one broker is required")
		}

		if len(kafka.Topics) == 0 {
			errs.Add(prefix+".topics", "at least one topic is required")
		}

		if kafka.GroupID == "" {
			errs.Add(prefix+".group_id", "group ID is required")
		}
	}

	// Validate NATS sources
	for i, n := range config.Sources.NATS {
		prefix := fmt.Sprintf("sources.nats[%d]", i)

		if n.Name == "" {
			errs.Add(prefix+".name", "source name is required")
		}

		if n.URL == "" {
			errs.Add(prefix+".url", "server URL is required")
		}

		if len(n.Subjects) == 0 {
			errs.Add(prefix+".subjects", "at least one subject is required")
		}
	}

	// Validate WebSocket sources
	for i, ws := range config.Sources.WebSocket {
		prefix := fmt.Sprintf("sources.websocket[%d]", i)

		if ws.Name == "" {
			errs.Add(prefix+".name", "source name is required")
		}

		if ws.Address == "" {
			errs.Add(prefix+".address", "address is required")
		}

		if ws.Path == "" {
			errs.Add(prefix+".path", "path is required")
		}
	}
}

func validateSinks(config *Config, errs *ValidationErrors) {
	// Validate Kafka sinks
	for i, kafka := range config.Sinks.Kafka {
		prefix := fmt.Sprintf("sinks.kafka[%d]", i)

		if kafka.Name == "" {
			errs.Add(prefix+".name", "sink name is required")
		}

		if len(kafka.Brokers) == 0 {
			errs.Add(prefix+".brokers", "at least one broker is required")
		}

		if kafka.Topic == "" {
			errs.Add(prefix+".topic", "topic is required")
		}

		if kafka.SchemaRegistryURL != "" && kafka.Subject == "" {
			errs.Add(prefix+".subject", "subject is required when a schema registry is configured")
		}
	}

	// Validate Postgres sinks
	for i, pg := range config.Sinks.Postgres {
		prefix := fmt.Sprintf("sinks.postgres[%d]", i)

		if pg.Name == "" {
			errs.Add(prefix+".name", "sink name is required")
		}

		if pg.ConnectionString == "" {
			errs.Add(prefix+".connection_string", "connection string is required")
		}

		if pg.Table == "" {
			errs.Add(prefix+".table", "table name is required")
		}
	}
}

func validateRefData(config *Config, errs *ValidationErrors) {
	validProviders := []string{"static", "redis"}
	valid := false
	for _, p := range validProviders {
		if config.RefData.Provider == p {
			valid = true
			break
		}
	}
	if !valid {
		errs.Add("refdata.provider", fmt.Sprintf("invalid provider %s (valid: %s)",
			config.RefData.Provider, strings.Join(validProviders, ", ")))
	}

	if config.RefData.Provider == "redis" && config.RefData.Redis.Addr == "" {
		errs.Add("refdata.redis.addr", "redis address is required")
	}
}

func validateMetrics(config *Config, errs *ValidationErrors) {
	if config.Metrics.Enabled {
		if config.Metrics.Address == "" {
			errs.Add("metrics.address", "metrics address is required when metrics are enabled")
		}

		if config.Metrics.Path == "" {
			errs.Add("metrics.path", "metrics path is required when metrics are enabled")
		}

		if config.Metrics.Namespace == "" {
			errs.Add("metrics.namespace", "metrics namespace is required")
		}
	}
}

func validateTracing(config *Config, errs *ValidationErrors) {
	if !config.Tracing.Enabled {
		return
	}

	validExporters := []string{"otlp", "stdout"}
	valid := false
	for _, exp := range validExporters {
		if config.Tracing.Exporter == exp {
			valid = true
			break
		}
	}
	if !valid {
		errs.Add("tracing.exporter", fmt.Sprintf("invalid exporter %s (valid: %s)",
			config.Tracing.Exporter, strings.Join(validExporters, ", ")))
	}

	if config.Tracing.Exporter == "otlp" && config.Tracing.Endpoint == "" {
		errs.Add("tracing.endpoint", "endpoint is required for the otlp exporter")
	}

	if config.Tracing.SamplingRate < 0 || config.Tracing.SamplingRate > 1 {
		errs.Add("tracing.sampling_rate", "sampling rate must be between 0 and 1")
	}
}

func validateLogging(config *Config, errs *ValidationErrors) {
	validLevels := []string{"debug", "info", "warn", "error"}
	valid := false
	for _, level := range validLevels {
		if config.Logging.Level == level {
			valid = true
			break
		}
	}
	if !valid {
		errs.Add("logging.level", fmt.Sprintf("invalid log level %s (valid: %s)",
			config.Logging.Level, strings.Join(validLevels, ", ")))
	}

	validFormats := []string{"json", "console"}
	valid = false
	for _, format := range validFormats {
		if config.Logging.Format == format {
			valid = true
			break
		}
	}
	if !valid {
		errs.Add("logging.format", fmt.Sprintf("invalid log format %s (valid: %s)",
			config.Logging.Format, strings.Join(validFormats, ", ")))
	}

	validOutputs := []string{"stdout", "stderr", "file"}
	valid = false
	for _, output := range validOutputs {
		if config.Logging.Output == output {
			valid = true
			break
		}
	}
	if !valid {
		errs.Add("logging.output", fmt.Sprintf("invalid log output %s (valid: %s)",
			config.Logging.Output, strings.Join(validOutputs, ", ")))
	}

	if config.Logging.Output == "file" && config.Logging.OutputPath == "" {
		errs.Add("logging.output_path", "output path is required when output is 'file'")
	}
}

// ValidateAndLoad loads and validates a configuration file
func ValidateAndLoad(path string) (*Config, error) {
	config, err := LoadConfigWithEnv(path)
	if err != nil {
		return nil, err
	}

	if err := Validate(config); err != nil {
		return nil, err
	}

	return config, nil
}
