package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sourcegraph/conc"
	"go.uber.org/zap"

	"github.com/Aidin1998/ebbo_monitor/internal/apis"
	"github.com/Aidin1998/ebbo_monitor/internal/cache"
	"github.com/Aidin1998/ebbo_monitor/internal/chain"
	"github.com/Aidin1998/ebbo_monitor/internal/checks"
	"github.com/Aidin1998/ebbo_monitor/internal/config"
	"github.com/Aidin1998/ebbo_monitor/internal/daemon"
	"github.com/Aidin1998/ebbo_monitor/internal/monitoring"
	"github.com/Aidin1998/ebbo_monitor/internal/server"
	"github.com/Aidin1998/ebbo_monitor/pkg/logger"
	"github.com/Aidin1998/ebbo_monitor/pkg/telemetry"
)

func main() {
	configPath := flag.String("config", "", "path to the configuration file")
	flag.Parse()

	// Load environment variables
	if err := config.LoadDotEnv(); err != nil {
		log.Printf("Warning: %v", err)
	}

	// Bootstrap logger until the configured level is known
	bootstrap, _, err := logger.NewLogger(os.Getenv("EBBO_LOG_LEVEL"), os.Getenv("EBBO_LOG_ENCODING"))
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}

	manager := config.NewManager(*configPath, bootstrap)
	cfg, err := manager.Load()
	if err != nil {
		bootstrap.Fatal("Failed to load configuration", zap.Error(err))
	}

	zapLogger, level, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Encoding)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer zapLogger.Sync()
	manager.WatchLogLevel(level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Setup(ctx, telemetry.Config{
		Tracing:        cfg.Telemetry.Tracing,
		Metrics:        cfg.Telemetry.Metrics,
		MetricInterval: cfg.Telemetry.MetricInterval,
	})
	if err != nil {
		zapLogger.Fatal("Failed to set up telemetry", zap.Error(err))
	}

	// Connect to the node
	chainClient, err := chain.Dial(ctx, cfg.Chain.URL(), cfg.ChainClientConfig(), zapLogger.Named("chain"))
	if err != nil {
		zapLogger.Fatal("Failed to connect to node", zap.Error(err))
	}

	// Optional payload cache
	var store cache.Store
	if cfg.Redis.Enabled {
		rdb := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    []string{cfg.Redis.Address},
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			zapLogger.Warn("Redis unavailable, requests will not be cached", zap.Error(err))
		} else {
			store = cache.NewRedisStore(rdb, cfg.Redis.TTL, cfg.Redis.CompressionMin)
		}
	}

	deps := buildDeps(ctx, cfg, chainClient, store, zapLogger)
	if closer, ok := deps.Tracer.(*chain.TenderlyTracer); ok {
		defer closer.Close()
	}

	alerter, kafkaChannel := buildAlerter(cfg, zapLogger)
	if kafkaChannel != nil {
		defer func() {
			if err := kafkaChannel.Close(); err != nil {
				zapLogger.Warn("Failed to close kafka writer", zap.Error(err))
			}
		}()
	}

	thresholds, err := cfg.Thresholds.Thresholds()
	if err != nil {
		zapLogger.Fatal("Invalid thresholds", zap.Error(err))
	}
	tests, err := checks.Build(cfg.Tests.Enabled, deps, thresholds, alerter, zapLogger.Named("checks"))
	if err != nil {
		zapLogger.Fatal("Failed to build tests", zap.Error(err))
	}

	d := daemon.New(cfg.DaemonConfig(), chainClient, tests, zapLogger.Named("daemon"))

	var wg conc.WaitGroup
	var ops *server.Server
	if cfg.Server.Enabled {
		ops = server.NewServer(zapLogger.Named("server"), d, cfg.Redacted())
		wg.Go(func() {
			if err := ops.Start(cfg.Server.Port); err != nil {
				zapLogger.Error("Ops server failed", zap.Error(err))
			}
		})
	}

	zapLogger.Info("Starting EBBO monitor",
		zap.Strings("tests", cfg.Tests.Enabled),
		zap.Strings("alert_channels", alerter.GetEnabledChannels()))

	if err := d.Run(ctx); err != nil {
		zapLogger.Error("Daemon stopped with error", zap.Error(err))
	}
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if ops != nil {
		if err := ops.Shutdown(shutdownCtx); err != nil {
			zapLogger.Error("Failed to stop ops server", zap.Error(err))
		}
	}
	wg.Wait()
	if err := shutdownTelemetry(shutdownCtx); err != nil {
		zapLogger.Error("Failed to flush telemetry", zap.Error(err))
	}

	zapLogger.Info("EBBO monitor exited properly")
}

// buildDeps creates the upstream clients. Clients that are not configured stay nil so
// the tests depending on them are skipped.
func buildDeps(ctx context.Context, cfg *config.Config, chainClient *chain.Client, store cache.Store, zapLogger *zap.Logger) checks.Deps {
	deps := checks.Deps{
		Chain:              chainClient,
		SettlementContract: cfg.Chain.SettlementContract,
		CoWAMMHelper:       cfg.Chain.CoWAMMHelper,
	}

	httpLogger := zapLogger.Named("apis")
	deps.Orderbook = apis.NewOrderbook(
		apis.NewClient("orderbook", cfg.ClientConfig(0), httpLogger),
		cfg.Orderbook.ProdURL, cfg.Orderbook.BarnURL, store, httpLogger)

	if cfg.Solver.URL != "" {
		deps.Instances = apis.NewAuctionInstances(
			apis.NewClient("auction_instances", cfg.ClientConfig(0), httpLogger),
			cfg.AuctionInstance.ProdURL, cfg.AuctionInstance.BarnURL, store, httpLogger)
		// The solver gets the time limit plus the usual request timeout.
		solverCfg := cfg.ClientConfig(0)
		solverCfg.Timeout += time.Duration(cfg.Solver.TimeLimit) * time.Second
		deps.Solver = apis.NewSolver(apis.NewClient("solver", solverCfg, httpLogger), cfg.Solver.URL, cfg.Solver.TimeLimit, httpLogger)
	}

	if cfg.Chain.TenderlyNodeURL != "" {
		tracer, err := chain.DialTenderly(ctx, cfg.Chain.TenderlyNodeURL)
		if err != nil {
			zapLogger.Warn("Failed to connect to tenderly, token imbalances disabled", zap.Error(err))
		} else {
			deps.Tracer = tracer
		}
	}

	if cfg.Ethplorer.URL != "" && cfg.Coingecko.URL != "" && len(cfg.TokenLists) > 0 {
		deps.Holdings = apis.NewEthplorer(
			apis.NewClient("ethplorer", cfg.ClientConfig(cfg.Coingecko.RatePerSecond), httpLogger),
			cfg.Ethplorer.URL, cfg.Ethplorer.APIKey)
		deps.USDPricer = apis.NewCoingecko(
			apis.NewClient("coingecko", cfg.ClientConfig(cfg.Coingecko.RatePerSecond), httpLogger),
			cfg.Coingecko.URL)
		deps.TokenList = apis.NewTokenLists(
			apis.NewClient("token_lists", cfg.ClientConfig(0), httpLogger),
			cfg.TokenLists, httpLogger)
	}
	return deps
}

func buildAlerter(cfg *config.Config, zapLogger *zap.Logger) (*monitoring.Alerter, *monitoring.KafkaChannel) {
	alertLogger := zapLogger.Named("alerts")
	alerter := monitoring.NewAlerter(alertLogger)

	if cfg.Alerts.Slack.WebhookURL != "" {
		alerter.AddChannel(monitoring.NewSlackChannel(cfg.Alerts.Slack.WebhookURL, cfg.Alerts.Slack.Channel, "", "", alertLogger))
	}
	if cfg.Alerts.Webhook.URL != "" {
		alerter.AddChannel(monitoring.NewWebhookChannel(cfg.Alerts.Webhook.URL, "", cfg.Alerts.Webhook.Headers, cfg.Alerts.Webhook.Timeout, alertLogger))
	}
	if !cfg.Alerts.Kafka.Enabled {
		return alerter, nil
	}
	kafkaChannel := monitoring.NewKafkaChannel(cfg.Alerts.Kafka.Brokers, cfg.Alerts.Kafka.Topic, alertLogger)
	alerter.AddChannel(kafkaChannel)
	return alerter, kafkaChannel
}
