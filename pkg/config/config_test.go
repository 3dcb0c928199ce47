package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, CurrentConfigVersion, cfg.Version)
	assert.Equal(t, "sentinel", cfg.Application.Name)
	assert.Equal(t, "development", cfg.Application.Environment)
	assert.Equal(t, 32, cfg.Engine.Shards)
	assert.Equal(t, 10000, cfg.Engine.IngestBufferSize)
	assert.Equal(t, 5*time.Minute, cfg.Store.MaxLateness)
	assert.Equal(t, float64(50000), cfg.Rules.LargeAmount)
	assert.True(t, cfg.Metrics.Enabled)
}

func TestProductionConfig(t *testing.T) {
	cfg := ProductionConfig()

	assert.Equal(t, "production", cfg.Application.Environment)
	assert.Equal(t, 64, cfg.Engine.Shards)
	assert.Equal(t, 50000, cfg.Engine.IngestBufferSize)
	assert.Equal(t, 16384, cfg.Alerts.QueueSize)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestDevelopmentConfig(t *testing.T) {
	cfg := DevelopmentConfig()

	assert.Equal(t, "development", cfg.Application.Environment)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "console", cfg.Logging.Format)
}

func TestLoadYAMLConfig(t *testing.T) {
	yamlContent := `
version: v1
application:
  name: test-app
  environment: test
engine:
  shards: 8
  ingest_buffer_size: 5000
rules:
  large_amount: 25000
  velocity_count: 20
logging:
  level: info
`
	tmpFile, err := os.CreateTemp("", "config-*.yaml")
	require.NoError(t, err)
	defer os.Remove(tmpFile.Name())

	_, err = tmpFile.Write([]byte(yamlContent))
	require.NoError(t, err)
	tmpFile.Close()

	cfg, err := LoadConfig(tmpFile.Name())
	require.NoError(t, err)

	assert.Equal(t, "v1", cfg.Version)
	assert.Equal(t, "test-app", cfg.Application.Name)
	assert.Equal(t, "test", cfg.Application.Environment)
	assert.Equal(t, 8, cfg.Engine.Shards)
	assert.Equal(t, 5000, cfg.Engine.IngestBufferSize)
	assert.Equal(t, float64(25000), cfg.Rules.LargeAmount)
	assert.Equal(t, int64(20), cfg.Rules.VelocityCount)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadJSONConfig(t *testing.T) {
	jsonContent := `{
  "version": "v1",
  "application": {
    "name": "test-app",
    "environment": "test"
  },
  "engine": {
    "shards": 8,
    "ingest_buffer_size": 5000
  },
  "logging": {
    "level": "info"
  }
}`
	tmpFile, err := os.CreateTemp("", "config-*.json")
	require.NoError(t, err)
	defer os.Remove(tmpFile.Name())

	_, err = tmpFile.Write([]byte(jsonContent))
	require.NoError(t, err)
	tmpFile.Close()

	cfg, err := LoadConfig(tmpFile.Name())
	require.NoError(t, err)

	assert.Equal(t, "v1", cfg.Version)
	assert.Equal(t, "test-app", cfg.Application.Name)
	assert.Equal(t, 8, cfg.Engine.Shards)
}

func TestLoadConfigWithDefaults(t *testing.T) {
	yamlContent := `
version: v1
application:
  name: minimal-app
`
	tmpFile, err := os.CreateTemp("", "config-*.yaml")
	require.NoError(t, err)
	defer os.Remove(tmpFile.Name())

	_, err = tmpFile.Write([]byte(yamlContent))
	require.NoError(t, err)
	tmpFile.Close()

	cfg, err := LoadConfigWithDefaults(tmpFile.Name())
	require.NoError(t, err)

	assert.Equal(t, "minimal-app", cfg.Application.Name)
	assert.Equal(t, 32, cfg.Engine.Shards)                    // default
	assert.Equal(t, 5*time.Minute, cfg.Store.MaxLateness)     // default
	assert.Equal(t, int64(10), cfg.Rules.VelocityCount)       // default
	assert.Equal(t, 10*time.Minute, cfg.Rules.DefaultCooldown) // default
	assert.Equal(t, "info", cfg.Logging.Level)                // default
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := DefaultConfig()

	os.Setenv("SENTINEL_APPLICATION_NAME", "env-app")
	os.Setenv("SENTINEL_ENGINE_SHARDS", "16")
	os.Setenv("SENTINEL_RULES_LARGE_AMOUNT", "75000")
	os.Setenv("SENTINEL_LOG_LEVEL", "debug")
	defer func() {
		os.Unsetenv("SENTINEL_APPLICATION_NAME")
		os.Unsetenv("SENTINEL_ENGINE_SHARDS")
		os.Unsetenv("SENTINEL_RULES_LARGE_AMOUNT")
		os.Unsetenv("SENTINEL_LOG_LEVEL")
	}()

	err := ApplyEnvOverrides(cfg)
	require.NoError(t, err)

	assert.Equal(t, "env-app", cfg.Application.Name)
	assert.Equal(t, 16, cfg.Engine.Shards)
	assert.Equal(t, float64(75000), cfg.Rules.LargeAmount)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid default config",
			mutate:  func(*Config) {},
			wantErr: false,
		},
		{
			name:    "missing version",
			mutate:  func(c *Config) { c.Version = "" },
			wantErr: true,
		},
		{
			name:    "negative shards",
			mutate:  func(c *Config) { c.Engine.Shards = -1 },
			wantErr: true,
		},
		{
			name:    "invalid environment",
			mutate:  func(c *Config) { c.Application.Environment = "invalid-env" },
			wantErr: true,
		},
		{
			name:    "negative lateness",
			mutate:  func(c *Config) { c.Store.MaxLateness = -time.Minute },
			wantErr: true,
		},
		{
			name: "kafka sink without topic",
			mutate: func(c *Config) {
				c.Sinks.Kafka = []KafkaSinkConfig{{Name: "alerts", Brokers: []string{"localhost:9092"}}}
			},
			wantErr: true,
		},
		{
			name: "registry without subject",
			mutate: func(c *Config) {
				c.Sinks.Kafka = []KafkaSinkConfig{{
					Name:              "alerts",
					Brokers:           []string{"localhost:9092"},
					Topic:             "sentinel.alerts",
					SchemaRegistryURL: "http://localhost:8081",
				}}
			},
			wantErr: true,
		},
		{
			name:    "redis provider without addr",
			mutate:  func(c *Config) { c.RefData.Provider = "redis" },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := Validate(cfg)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSaveConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Application.Name = "save-test"

	yamlFile, err := os.CreateTemp("", "config-*.yaml")
	require.NoError(t, err)
	defer os.Remove(yamlFile.Name())
	yamlFile.Close()

	err = SaveConfig(cfg, yamlFile.Name())
	require.NoError(t, err)

	loaded, err := LoadConfig(yamlFile.Name())
	require.NoError(t, err)
	assert.Equal(t, "save-test", loaded.Application.Name)

	jsonFile, err := os.CreateTemp("", "config-*.json")
	require.NoError(t, err)
	defer os.Remove(jsonFile.Name())
	jsonFile.Close()

	err = SaveConfig(cfg, jsonFile.Name())
	require.NoError(t, err)

	loaded, err = LoadConfig(jsonFile.Name())
	require.NoError(t, err)
	assert.Equal(t, "save-test", loaded.Application.Name)
}

func TestMergeConfigs(t *testing.T) {
	base := DefaultConfig()
	base.Application.Name = "base"
	base.Engine.IngestBufferSize = 1000

	override := &Config{
		Application: ApplicationConfig{Name: "override"},
		Engine:      EngineConfig{Shards: 16},
		Sources: SourcesConfig{
			Kafka: []KafkaSourceConfig{{Name: "txn", Brokers: []string{"localhost:9092"}, Topics: []string{"txn"}}},
		},
	}

	merged := MergeConfigs(base, override)

	assert.Equal(t, "override", merged.Application.Name)
	assert.Equal(t, 1000, merged.Engine.IngestBufferSize) // from base
	assert.Equal(t, 16, merged.Engine.Shards)             // from override
	assert.Len(t, merged.Sources.Kafka, 1)
}
