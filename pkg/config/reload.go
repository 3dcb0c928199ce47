package config

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ReloadableConfig wraps a configuration with hot-reload capability.
// Rule thresholds and cooldowns can change at runtime; topology-shaping
// settings (shards, sources, sinks) require a restart.
type ReloadableConfig struct {
	mu sync.RWMutex

	config   *Config
	path     string
	logger   *zap.Logger
	lastMod  time.Time
	interval time.Duration

	// Callback functions called when configuration is reloaded
	onReload []ReloadCallback

	// Critical settings that cannot be hot-reloaded
	criticalSettings CriticalSettings

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// ReloadCallback is called when configuration is reloaded
type ReloadCallback func(oldConfig, newConfig *Config) error

// CriticalSettings stores settings that cannot be changed during hot reload
type CriticalSettings struct {
	Version         string
	ApplicationName string
	Shards          int
	DistinctCap     int
	SourceCount     int
	SinkCount       int
}

// NewReloadableConfig creates a new reloadable configuration
func NewReloadableConfig(path string, logger *zap.Logger) (*ReloadableConfig, error) {
	if logger == nil {
		logger, _ = zap.NewProduction()
	}

	// Load initial configuration
	config, err := ValidateAndLoad(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load initial configuration: %w", err)
	}

	// Get file modification time
	stat, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	rc := &ReloadableConfig{
		config:           config,
		path:             path,
		logger:           logger,
		lastMod:          stat.ModTime(),
		interval:         10 * time.Second, // Check for changes every 10 seconds
		onReload:         make([]ReloadCallback, 0),
		criticalSettings: criticalSettingsOf(config),
		ctx:              ctx,
		cancel:           cancel,
	}

	return rc, nil
}

func criticalSettingsOf(config *Config) CriticalSettings {
	return CriticalSettings{
		Version:         config.Version,
		ApplicationName: config.Application.Name,
		Shards:          config.Engine.Shards,
		DistinctCap:     config.Store.DistinctCap,
		SourceCount:     len(config.Sources.Kafka) + len(config.Sources.NATS) + len(config.Sources.WebSocket),
		SinkCount:       len(config.Sinks.Kafka) + len(config.Sinks.Postgres),
	}
}

// Get returns the current configuration (thread-safe)
func (rc *ReloadableConfig) Get() *Config {
	rc.mu.RLock()
	defer rc.mu.RUnlock()

	// Return a copy to prevent external modifications
	return copyConfig(rc.config)
}

// OnReload registers a callback to be called when configuration is reloaded
func (rc *ReloadableConfig) OnReload(callback ReloadCallback) {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	rc.onReload = append(rc.onReload, callback)
}

// SetReloadInterval sets the interval for checking configuration changes
func (rc *ReloadableConfig) SetReloadInterval(interval time.Duration) {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	rc.interval = interval
}

// Start begins watching for configuration file changes
func (rc *ReloadableConfig) Start() {
	rc.wg.Add(1)
	go rc.watchLoop()
}

// Stop stops watching for configuration changes
func (rc *ReloadableConfig) Stop() {
	rc.cancel()
	rc.wg.Wait()
}

// watchLoop periodically checks for configuration file changes
func (rc *ReloadableConfig) watchLoop() {
	defer rc.wg.Done()

	ticker := time.NewTicker(rc.interval)
	defer ticker.Stop()

	for {
		select {
		case <-rc.ctx.Done():
			rc.logger.Info("Configuration watcher stopped")
			return

		case <-ticker.C:
			if err := rc.checkAndReload(); err != nil {
				rc.logger.Error("Failed to reload configuration",
					zap.String("path", rc.path),
					zap.Error(err))
			}
		}
	}
}

// checkAndReload checks if the configuration file has changed and reloads it
func (rc *ReloadableConfig) checkAndReload() error {
	// Get current file modification time
	stat, err := os.Stat(rc.path)
	if err != nil {
		return fmt.Errorf("failed to stat config file: %w", err)
	}

	rc.mu.RLock()
	lastMod := rc.lastMod
	rc.mu.RUnlock()

	// Check if file has been modified
	if !stat.ModTime().After(lastMod) {
		return nil // No changes
	}

	rc.logger.Info("Configuration file changed, reloading...",
		zap.String("path", rc.path),
		zap.Time("last_modified", stat.ModTime()))

	// Load new configuration
	newConfig, err := ValidateAndLoad(rc.path)
	if err != nil {
		return fmt.Errorf("failed to load new configuration: %w", err)
	}

	// Validate that critical settings haven't changed
	if err := rc.validateCriticalSettings(newConfig); err != nil {
		return fmt.Errorf("critical settings changed (requires restart): %w", err)
	}

	// Get old config for callbacks
	rc.mu.RLock()
	oldConfig := rc.config
	rc.mu.RUnlock()

	// Call reload callbacks
	for _, callback := range rc.onReload {
		if err := callback(oldConfig, newConfig); err != nil {
			rc.logger.Error("Reload callback failed", zap.Error(err))
			return fmt.Errorf("reload callback failed: %w", err)
		}
	}

	// Update configuration
	rc.mu.Lock()
	rc.config = newConfig
	rc.lastMod = stat.ModTime()
	rc.mu.Unlock()

	rc.logger.Info("Configuration reloaded successfully",
		zap.String("path", rc.path))

	return nil
}

// validateCriticalSettings ensures critical settings haven't changed
func (rc *ReloadableConfig) validateCriticalSettings(newConfig *Config) error {
	cs := rc.criticalSettings
	ns := criticalSettingsOf(newConfig)

	if ns.Version != cs.Version {
		return fmt.Errorf("version changed from %s to %s", cs.Version, ns.Version)
	}

	if ns.ApplicationName != cs.ApplicationName {
		return fmt.Errorf("application name changed from %s to %s", cs.ApplicationName, ns.ApplicationName)
	}

	if ns.Shards != cs.Shards {
		return fmt.Errorf("shard count changed from %d to %d", cs.Shards, ns.Shards)
	}

	if ns.DistinctCap != cs.DistinctCap {
		return fmt.Errorf("distinct cap changed from %d to %d", cs.DistinctCap, ns.DistinctCap)
	}

	if ns.SourceCount != cs.SourceCount {
		return fmt.Errorf("source topology changed (%d -> %d sources)", cs.SourceCount, ns.SourceCount)
	}

	if ns.SinkCount != cs.SinkCount {
		return fmt.Errorf("sink topology changed (%d -> %d sinks)", cs.SinkCount, ns.SinkCount)
	}

	return nil
}

// Reload manually triggers a configuration reload
func (rc *ReloadableConfig) Reload() error {
	return rc.checkAndReload()
}

// copyConfig creates a deep copy of the configuration
func copyConfig(src *Config) *Config {
	dst := *src

	// Copy maps
	dst.Application.Tags = make(map[string]string)
	for k, v := range src.Application.Tags {
		dst.Application.Tags[k] = v
	}
	dst.Rules.Cooldowns = make(map[string]time.Duration)
	for k, v := range src.Rules.Cooldowns {
		dst.Rules.Cooldowns[k] = v
	}

	// Copy slices
	dst.Rules.Disabled = append([]string{}, src.Rules.Disabled...)
	dst.Sources.Kafka = append([]KafkaSourceConfig{}, src.Sources.Kafka...)
	dst.Sources.NATS = append([]NATSSourceConfig{}, src.Sources.NATS...)
	dst.Sources.WebSocket = append([]WebSocketSourceConfig{}, src.Sources.WebSocket...)
	dst.Sinks.Kafka = append([]KafkaSinkConfig{}, src.Sinks.Kafka...)
	dst.Sinks.Postgres = append([]PostgresSinkConfig{}, src.Sinks.Postgres...)
	dst.RefData.HighRiskMCCs = append([]string{}, src.RefData.HighRiskMCCs...)
	dst.RefData.HighRiskCountries = append([]string{}, src.RefData.HighRiskCountries...)
	dst.RefData.HighRiskCities = append([]string{}, src.RefData.HighRiskCities...)

	return &dst
}

// HotReloadableSettings returns a list of settings that can be hot-reloaded
func HotReloadableSettings() []string {
	return []string{
		"rules.*",
		"alerts.max_retries",
		"alerts.initial_backoff",
		"alerts.max_backoff",
		"store.max_lateness",
		"store.retention",
		"store.idle_timeout",
		"engine.eviction_tick",
		"metrics.enabled",
		"logging.level",
		"logging.format",
	}
}

// CriticalSettingsList returns a list of settings that require restart
func CriticalSettingsList() []string {
	return []string{
		"version",
		"application.name",
		"engine.shards",
		"store.distinct_cap",
		"sources.*",
		"sinks.*",
	}
}
