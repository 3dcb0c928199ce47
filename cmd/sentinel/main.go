package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/meridianbank/sentinel/pkg/aggstore"
	"github.com/meridianbank/sentinel/pkg/alert"
	"github.com/meridianbank/sentinel/pkg/config"
	"github.com/meridianbank/sentinel/pkg/engine"
	senterrors "github.com/meridianbank/sentinel/pkg/errors"
	"github.com/meridianbank/sentinel/pkg/ingest"
	"github.com/meridianbank/sentinel/pkg/metrics"
	"github.com/meridianbank/sentinel/pkg/refdata"
	"github.com/meridianbank/sentinel/pkg/rules"
	"github.com/meridianbank/sentinel/pkg/schema"
	"github.com/meridianbank/sentinel/pkg/sink"
	"github.com/meridianbank/sentinel/pkg/tracing"
)

const version = "1.0.0"

var configFile = flag.String("config", "", "Path to configuration file")

func main() {
	flag.Parse()

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "sentinel: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadOrDefaultWithEnv(*configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger, err := tracing.NewLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()

	logger.Info("Starting Sentinel fraud detection engine",
		zap.String("version", version),
		zap.String("environment", cfg.Application.Environment),
		zap.String("config", *configFile))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tracer, err := tracing.NewProvider(ctx, cfg.Tracing,
		cfg.Application.Name, version, cfg.Application.Environment, logger)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := tracer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("tracing shutdown failed", zap.Error(err))
		}
	}()

	collector := metrics.NewCollector(logger)
	var metricsServer *metrics.Server
	if cfg.Metrics.Enabled {
		collector.Registry().MustRegister(metrics.NewRuntimeCollector())

		metricsServer = metrics.NewServer(cfg.Metrics.Address, collector, logger)
		if err := metricsServer.Start(); err != nil {
			return fmt.Errorf("start metrics server: %w", err)
		}
		defer metricsServer.Stop()
	}

	ref, err := buildRefData(cfg.RefData, logger)
	if err != nil {
		return fmt.Errorf("init reference data: %w", err)
	}

	catalog, err := rules.DefaultCatalog(cfg.Rules)
	if err != nil {
		return fmt.Errorf("build rule catalog: %w", err)
	}

	store := aggstore.New(aggstore.Config{
		Shards:      cfg.Engine.Shards,
		MaxLateness: cfg.Store.MaxLateness,
		DistinctCap: cfg.Store.DistinctCap,
		Retention:   cfg.Store.Retention,
		IdleTimeout: cfg.Store.IdleTimeout,
	}, catalog.Specs(), logger)

	evaluator := rules.NewEvaluator(catalog, ref, logger)
	manager := alert.NewManager(logger)

	sinks, err := buildSinks(cfg.Sinks, logger)
	if err != nil {
		return fmt.Errorf("init sinks: %w", err)
	}
	dispatcher := alert.NewDispatcher(alert.DispatcherConfig{
		QueueSize: cfg.Alerts.QueueSize,
		Metrics:   collector.Delivery,
		Retry: &senterrors.RetryPolicy{
			MaxAttempts:       cfg.Alerts.MaxRetries,
			InitialBackoff:    cfg.Alerts.InitialBackoff,
			MaxBackoff:        cfg.Alerts.MaxBackoff,
			BackoffMultiplier: 2.0,
			Jitter:            0.1,
			RetriableFunc:     senterrors.IsRetriable,
		},
	}, sinks, logger)

	eng := engine.New(cfg.Engine, store, evaluator, manager, dispatcher, collector, logger)

	// Rule thresholds and cooldowns follow the config file at runtime;
	// topology changes still require a restart.
	if *configFile != "" {
		watcher, err := config.NewReloadableConfig(*configFile, logger)
		if err != nil {
			logger.Warn("config hot reload unavailable", zap.Error(err))
		} else {
			watcher.OnReload(func(_, next *config.Config) error {
				rebuilt, err := rules.DefaultCatalog(next.Rules)
				if err != nil {
					return fmt.Errorf("rebuild rule catalog: %w", err)
				}
				evaluator.ReplaceCatalog(rebuilt)
				return nil
			})
			watcher.Start()
			defer watcher.Stop()
		}
	}

	validator, err := schema.NewEventValidator(logger)
	if err != nil {
		return fmt.Errorf("compile event schema: %w", err)
	}
	if err := addSources(eng, cfg.Sources, validator, logger); err != nil {
		return err
	}

	if err := eng.Start(ctx); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}

	logger.Info("Sentinel is running")
	<-ctx.Done()

	logger.Info("Shutting down", zap.String("stats", eng.Stats()))
	eng.Stop()
	return nil
}

func buildRefData(cfg config.RefDataConfig, logger *zap.Logger) (refdata.Provider, error) {
	switch cfg.Provider {
	case "redis":
		return refdata.NewRedisProvider(refdata.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Timeout:  cfg.Redis.Timeout,
		}, logger)
	case "static", "":
		return refdata.NewStaticProvider(cfg.MerchantMCC, cfg.HighRiskMCCs,
			cfg.HighRiskCountries, cfg.HighRiskCities), nil
	default:
		return nil, fmt.Errorf("unknown refdata provider: %s", cfg.Provider)
	}
}

func buildSinks(cfg config.SinksConfig, logger *zap.Logger) ([]alert.Sink, error) {
	var sinks []alert.Sink
	for _, kc := range cfg.Kafka {
		s, err := sink.NewKafkaSink(kc, logger)
		if err != nil {
			return nil, fmt.Errorf("kafka sink %s: %w", kc.Name, err)
		}
		sinks = append(sinks, s)
	}
	for _, pc := range cfg.Postgres {
		s, err := sink.NewPostgresSink(pc, logger)
		if err != nil {
			return nil, fmt.Errorf("postgres sink %s: %w", pc.Name, err)
		}
		sinks = append(sinks, s)
	}
	if len(sinks) == 0 {
		logger.Warn("No sinks configured, alert mutations will only be logged")
		sinks = append(sinks, sink.NewMemorySink("memory"))
	}
	return sinks, nil
}

func addSources(eng *engine.Engine, cfg config.SourcesConfig, validator *schema.EventValidator, logger *zap.Logger) error {
	for _, kc := range cfg.Kafka {
		src, err := ingest.NewKafkaSource(kc, validator, logger)
		if err != nil {
			return fmt.Errorf("kafka source %s: %w", kc.Name, err)
		}
		eng.AddSource(src)
	}
	for _, nc := range cfg.NATS {
		src, err := ingest.NewNATSSource(nc, validator, logger)
		if err != nil {
			return fmt.Errorf("nats source %s: %w", nc.Name, err)
		}
		eng.AddSource(src)
	}
	for _, wc := range cfg.WebSocket {
		eng.AddSource(ingest.NewWebSocketSource(wc, validator, logger))
	}
	return nil
}
