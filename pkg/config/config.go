package config

import (
	"time"
)

// Version represents the configuration file version
const (
	CurrentConfigVersion = "v1"
)

// Config represents the complete sentinel configuration
type Config struct {
	// Version of the configuration schema
	Version string `yaml:"version" json:"version"`

	// Application metadata
	Application ApplicationConfig `yaml:"application" json:"application"`

	// Engine configuration (routing, sharding, buffers)
	Engine EngineConfig `yaml:"engine" json:"engine"`

	// Windowed aggregation store configuration
	Store StoreConfig `yaml:"store" json:"store"`

	// Rule thresholds and cooldowns
	Rules RulesConfig `yaml:"rules" json:"rules"`

	// Alert dispatch configuration
	Alerts AlertsConfig `yaml:"alerts" json:"alerts"`

	// Sources configuration
	Sources SourcesConfig `yaml:"sources" json:"sources"`

	// Sinks configuration
	Sinks SinksConfig `yaml:"sinks" json:"sinks"`

	// Reference data configuration
	RefData RefDataConfig `yaml:"refdata" json:"refdata"`

	// Metrics and monitoring configuration
	Metrics MetricsConfig `yaml:"metrics" json:"metrics"`

	// Tracing configuration
	Tracing TracingConfig `yaml:"tracing" json:"tracing"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// ApplicationConfig holds application-level metadata
type ApplicationConfig struct {
	Name        string            `yaml:"name" json:"name"`
	Environment string            `yaml:"environment" json:"environment"` // development, staging, production
	Tags        map[string]string `yaml:"tags" json:"tags"`
}

// EngineConfig holds event routing and worker configuration
type EngineConfig struct {
	// Shards is the worker count; the store partitions by the same hash,
	// so all updates for one dimension value serialize through one worker.
	Shards int `yaml:"shards" json:"shards"`
	// ShardBufferSize is each shard worker's input queue depth.
	ShardBufferSize int `yaml:"shard_buffer_size" json:"shard_buffer_size"`
	// IngestBufferSize is the source-to-router channel depth.
	IngestBufferSize int `yaml:"ingest_buffer_size" json:"ingest_buffer_size"`
	// EvictionTick is the expiry sweep interval.
	EvictionTick time.Duration `yaml:"eviction_tick" json:"eviction_tick"`
	// DedupeRetention bounds how long processed event ids are remembered.
	DedupeRetention time.Duration `yaml:"dedupe_retention" json:"dedupe_retention"`
}

// StoreConfig holds aggregation store parameters
type StoreConfig struct {
	MaxLateness time.Duration `yaml:"max_lateness" json:"max_lateness"`
	DistinctCap int           `yaml:"distinct_cap" json:"distinct_cap"`
	Retention   time.Duration `yaml:"retention" json:"retention"`
	IdleTimeout time.Duration `yaml:"idle_timeout" json:"idle_timeout"`
}

// RulesConfig holds rule thresholds. Zero values fall back to the
// defaults below, so a config file only needs to list overrides.
type RulesConfig struct {
	LargeAmount        float64 `yaml:"large_amount" json:"large_amount"`
	LateNightStartHour int     `yaml:"late_night_start_hour" json:"late_night_start_hour"`
	LateNightEndHour   int     `yaml:"late_night_end_hour" json:"late_night_end_hour"`

	VelocityCount     int64         `yaml:"velocity_count" json:"velocity_count"`
	VelocityWindow    time.Duration `yaml:"velocity_window" json:"velocity_window"`
	MultiIPCount      int           `yaml:"multi_ip_count" json:"multi_ip_count"`
	MultiDeviceCount  int           `yaml:"multi_device_count" json:"multi_device_count"`
	SharedIPCustomers int           `yaml:"shared_ip_customers" json:"shared_ip_customers"`
	FailedTxnCount    int64         `yaml:"failed_txn_count" json:"failed_txn_count"`
	DailyOutflowSum   float64       `yaml:"daily_outflow_sum" json:"daily_outflow_sum"`
	StructuringAmount float64       `yaml:"structuring_amount" json:"structuring_amount"`
	StructuringCount  int64         `yaml:"structuring_count" json:"structuring_count"`
	DailyCountries    int           `yaml:"daily_countries" json:"daily_countries"`
	TravelWindow      time.Duration `yaml:"travel_window" json:"travel_window"`
	LoginFailureCount int64         `yaml:"login_failure_count" json:"login_failure_count"`
	CardReuseAccounts int           `yaml:"card_reuse_accounts" json:"card_reuse_accounts"`
	MerchantCustomers int           `yaml:"merchant_customers" json:"merchant_customers"`
	TakeoverAccounts  int           `yaml:"takeover_accounts" json:"takeover_accounts"`
	RefundCount       int64         `yaml:"refund_count" json:"refund_count"`

	// DefaultCooldown applies to every rule without an entry in Cooldowns.
	DefaultCooldown time.Duration            `yaml:"default_cooldown" json:"default_cooldown"`
	Cooldowns       map[string]time.Duration `yaml:"cooldowns" json:"cooldowns"`

	// Disabled lists rule ids excluded from the catalog.
	Disabled []string `yaml:"disabled" json:"disabled"`
}

// AlertsConfig holds alert dispatch configuration
type AlertsConfig struct {
	// QueueSize bounds the pending mutation buffer; beyond it the oldest
	// pending mutation is dropped and counted as lost.
	QueueSize int `yaml:"queue_size" json:"queue_size"`
	// MaxRetries per mutation delivery.
	MaxRetries int `yaml:"max_retries" json:"max_retries"`
	// InitialBackoff for delivery retries, doubling up to MaxBackoff.
	InitialBackoff time.Duration `yaml:"initial_backoff" json:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff" json:"max_backoff"`
}

// SourcesConfig holds event source configurations
type SourcesConfig struct {
	Kafka     []KafkaSourceConfig     `yaml:"kafka" json:"kafka"`
	NATS      []NATSSourceConfig      `yaml:"nats" json:"nats"`
	WebSocket []WebSocketSourceConfig `yaml:"websocket" json:"websocket"`
}

// KafkaSourceConfig holds Kafka source configuration
type KafkaSourceConfig struct {
	Name            string   `yaml:"name" json:"name"`
	Brokers         []string `yaml:"brokers" json:"brokers"`
	Topics          []string `yaml:"topics" json:"topics"`
	GroupID         string   `yaml:"group_id" json:"group_id"`
	AutoOffsetReset string   `yaml:"auto_offset_reset" json:"auto_offset_reset"`
}

// NATSSourceConfig holds NATS source configuration
type NATSSourceConfig struct {
	Name     string   `yaml:"name" json:"name"`
	URL      string   `yaml:"url" json:"url"`
	Subjects []string `yaml:"subjects" json:"subjects"`
	Queue    string   `yaml:"queue" json:"queue"`
}

// WebSocketSourceConfig holds WebSocket source configuration
type WebSocketSourceConfig struct {
	Name    string `yaml:"name" json:"name"`
	Address string `yaml:"address" json:"address"`
	Path    string `yaml:"path" json:"path"`
}

// SinksConfig holds alert sink configurations
type SinksConfig struct {
	Kafka    []KafkaSinkConfig    `yaml:"kafka" json:"kafka"`
	Postgres []PostgresSinkConfig `yaml:"postgres" json:"postgres"`
}

// KafkaSinkConfig holds the alert topic producer configuration
type KafkaSinkConfig struct {
	Name    string   `yaml:"name" json:"name"`
	Brokers []string `yaml:"brokers" json:"brokers"`
	Topic   string   `yaml:"topic" json:"topic"`
	// SchemaRegistryURL enables Avro encoding through the registry;
	// empty means plain JSON payloads.
	SchemaRegistryURL string `yaml:"schema_registry_url" json:"schema_registry_url"`
	Subject           string `yaml:"subject" json:"subject"`
}

// PostgresSinkConfig holds the alert table writer configuration
type PostgresSinkConfig struct {
	Name             string `yaml:"name" json:"name"`
	ConnectionString string `yaml:"connection_string" json:"connection_string"`
	Table            string `yaml:"table" json:"table"`
}

// RefDataConfig selects and parameterizes the reference data provider
type RefDataConfig struct {
	// Provider is "static" or "redis".
	Provider string `yaml:"provider" json:"provider"`

	Redis RedisRefDataConfig `yaml:"redis" json:"redis"`

	// Static lists, used when Provider is "static".
	MerchantMCC       map[string]string `yaml:"merchant_mcc" json:"merchant_mcc"`
	HighRiskMCCs      []string          `yaml:"high_risk_mccs" json:"high_risk_mccs"`
	HighRiskCountries []string          `yaml:"high_risk_countries" json:"high_risk_countries"`
	HighRiskCities    []string          `yaml:"high_risk_cities" json:"high_risk_cities"`
}

// RedisRefDataConfig holds the Redis reference cache connection
type RedisRefDataConfig struct {
	Addr     string        `yaml:"addr" json:"addr"`
	Password string        `yaml:"password" json:"password"`
	DB       int           `yaml:"db" json:"db"`
	Timeout  time.Duration `yaml:"timeout" json:"timeout"`
}

// MetricsConfig holds metrics and monitoring configuration
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled" json:"enabled"`
	Address   string `yaml:"address" json:"address"`
	Path      string `yaml:"path" json:"path"`
	Namespace string `yaml:"namespace" json:"namespace"`
	Subsystem string `yaml:"subsystem" json:"subsystem"`
}

// TracingConfig holds OpenTelemetry configuration
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled" json:"enabled"`
	Exporter     string  `yaml:"exporter" json:"exporter"` // otlp, stdout
	Endpoint     string  `yaml:"endpoint" json:"endpoint"`
	SamplingRate float64 `yaml:"sampling_rate" json:"sampling_rate"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level      string `yaml:"level" json:"level"`   // debug, info, warn, error
	Format     string `yaml:"format" json:"format"` // json, console
	Output     string `yaml:"output" json:"output"` // stdout, stderr, file
	OutputPath string `yaml:"output_path" json:"output_path"`
}

// DefaultConfig returns a default configuration with the standard rule
// thresholds.
func DefaultConfig() *Config {
	return &Config{
		Version: CurrentConfigVersion,
		Application: ApplicationConfig{
			Name:        "sentinel",
			Environment: "development",
			Tags:        make(map[string]string),
		},
		Engine: EngineConfig{
			Shards:           32,
			ShardBufferSize:  1024,
			IngestBufferSize: 10000,
			EvictionTick:     30 * time.Second,
			DedupeRetention:  time.Hour,
		},
		Store: StoreConfig{
			MaxLateness: 5 * time.Minute,
			DistinctCap: 64,
			Retention:   24 * time.Hour,
			IdleTimeout: 24 * time.Hour,
		},
		Rules: RulesConfig{
			LargeAmount:        50000,
			LateNightStartHour: 0,
			LateNightEndHour:   4,
			VelocityCount:      10,
			VelocityWindow:     time.Minute,
			MultiIPCount:       5,
			MultiDeviceCount:   3,
			SharedIPCustomers:  3,
			FailedTxnCount:     5,
			DailyOutflowSum:    100000,
			StructuringAmount:  500,
			StructuringCount:   20,
			DailyCountries:     2,
			TravelWindow:       15 * time.Minute,
			LoginFailureCount:  5,
			CardReuseAccounts:  1,
			MerchantCustomers:  50,
			TakeoverAccounts:   1,
			RefundCount:        3,
			DefaultCooldown:    10 * time.Minute,
			Cooldowns:          make(map[string]time.Duration),
		},
		Alerts: AlertsConfig{
			QueueSize:      4096,
			MaxRetries:     3,
			InitialBackoff: 100 * time.Millisecond,
			MaxBackoff:     10 * time.Second,
		},
		Sources: SourcesConfig{
			Kafka:     []KafkaSourceConfig{},
			NATS:      []NATSSourceConfig{},
			WebSocket: []WebSocketSourceConfig{},
		},
		Sinks: SinksConfig{
			Kafka:    []KafkaSinkConfig{},
			Postgres: []PostgresSinkConfig{},
		},
		RefData: RefDataConfig{
			Provider: "static",
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Address:   ":9091",
			Path:      "/metrics",
			Namespace: "sentinel",
			Subsystem: "engine",
		},
		Tracing: TracingConfig{
			Enabled:      false,
			Exporter:     "stdout",
			SamplingRate: 1.0,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// ProductionConfig returns a production-ready configuration
func ProductionConfig() *Config {
	config := DefaultConfig()
	config.Application.Environment = "production"
	config.Engine.IngestBufferSize = 50000
	config.Engine.Shards = 64
	config.Alerts.QueueSize = 16384
	config.Alerts.MaxRetries = 5
	config.Alerts.MaxBackoff = 60 * time.Second
	config.Logging.Level = "warn"
	return config
}

// DevelopmentConfig returns a development-friendly configuration
func DevelopmentConfig() *Config {
	config := DefaultConfig()
	config.Application.Environment = "development"
	config.Logging.Level = "debug"
	config.Logging.Format = "console"
	return config
}
