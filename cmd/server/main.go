// Package main wires the Execution Engine, Policy Risk Engine, Order
// Tracker, Rate Limiter, Strategy Coordinator, and Persistence Sink
// into a running server: validate -> risk -> rate-limit -> adapter
// dispatch, fronted by the REST/WS API.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/atlas-desktop/trading-backend/internal/api"
	appconfig "github.com/atlas-desktop/trading-backend/internal/config"
	"github.com/atlas-desktop/trading-backend/internal/execution"
	"github.com/atlas-desktop/trading-backend/internal/metrics"
	"github.com/atlas-desktop/trading-backend/internal/oms"
	"github.com/atlas-desktop/trading-backend/internal/persistence"
	"github.com/atlas-desktop/trading-backend/internal/ratelimit"
	"github.com/atlas-desktop/trading-backend/internal/risk"
	"github.com/atlas-desktop/trading-backend/internal/venue/polymarket"
)

func main() {
	host := flag.String("host", "0.0.0.0", "API server host")
	port := flag.Int("port", 8080, "API server port")
	configPath := flag.String("config", "", "Path to the app config file (viper: yaml/json/toml)")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	flag.Parse()

	logger := setupLogger(*logLevel)
	defer logger.Sync()

	cfg, err := appconfig.Load(*configPath)
	if err != nil {
		logger.Fatal("failed to load app config", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var rules []risk.Rule
	if cfg.PolicyFile != "" {
		rules, err = appconfig.LoadPolicyFile(cfg.PolicyFile)
		if err != nil {
			logger.Warn("failed to load policy file, starting with an empty rule set",
				zap.String("path", cfg.PolicyFile), zap.Error(err))
		}
	}
	riskEngine := risk.NewEngine(logger, rules)

	limiters := ratelimit.NewRegistry()
	for venueID, rl := range cfg.RateLimits {
		limiters.Register(venueID, rl.RequestsPerSecond, float64(rl.BurstSize))
	}

	tracker := oms.NewTracker(logger)
	validator := oms.NewValidator(oms.DefaultValidatorConfig())

	engineConfig := execution.DefaultConfig()
	engineConfig.AdapterTimeout = cfg.AdapterTimeout
	engine := execution.New(logger, engineConfig, tracker, validator, riskEngine, limiters)

	for venueID, vc := range cfg.Venues {
		switch venueID {
		case "polymarket":
			pmConfig := polymarket.DefaultConfig()
			pmConfig.BaseURL = vc.BaseURL
			pmConfig.APIKey = vc.APIKey
			pmConfig.APISecret = vc.APISecret
			engine.RegisterAdapter(polymarket.New(logger, pmConfig))
		default:
			logger.Warn("no adapter binding for configured venue, skipping", zap.String("venue", venueID))
		}
	}

	sink, err := persistence.Open(logger, cfg.PersistenceDSN)
	if err != nil {
		logger.Fatal("failed to open persistence sink", zap.Error(err))
	}

	collectors := metrics.NewCollectors(prometheus.DefaultRegisterer)

	activeOrdersTicker := time.NewTicker(5 * time.Second)
	go func() {
		defer activeOrdersTicker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-activeOrdersTicker.C:
				byVenue := make(map[string]int)
				for _, o := range tracker.GetActiveOrders() {
					byVenue[string(o.Venue)]++
				}
				for venueID, count := range byVenue {
					collectors.SetActiveOrders(venueID, count)
				}
			}
		}
	}()

	reconcileTicker := time.NewTicker(cfg.AdapterTimeout)
	go func() {
		defer reconcileTicker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-reconcileTicker.C:
				engine.ReconcileStuckOrders(ctx)
			}
		}
	}()

	retentionTicker := time.NewTicker(24 * time.Hour)
	go func() {
		defer retentionTicker.Stop()
		policy := persistence.RetentionPolicy{
			MetricsRetention:   time.Duration(cfg.Retention.MetricsDays) * 24 * time.Hour,
			OrdersRetention:    time.Duration(cfg.Retention.OrdersDays) * 24 * time.Hour,
			FillsRetention:     time.Duration(cfg.Retention.FillsDays) * 24 * time.Hour,
			PositionsRetention: time.Duration(cfg.Retention.PositionsDays) * 24 * time.Hour,
			CompressAfter:      time.Duration(cfg.Retention.CompressAfterDays) * 24 * time.Hour,
		}
		for {
			select {
			case <-ctx.Done():
				return
			case <-retentionTicker.C:
				if err := sink.ApplyRetention(ctx, policy); err != nil {
					logger.Warn("retention sweep failed", zap.Error(err))
				}
			}
		}
	}()

	reloadPolicy := func(path string) error {
		loaded, err := appconfig.LoadPolicyFile(path)
		if err != nil {
			return err
		}
		riskEngine.UpdateRules(loaded)
		logger.Info("policy reloaded", zap.String("path", path), zap.Int("rules", len(loaded)))
		return nil
	}

	serverConfig := api.DefaultServerConfig()
	serverConfig.Host = *host
	serverConfig.Port = *port

	server := api.NewServer(logger, serverConfig, engine, sink, collectors, reloadPolicy)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("starting API server", zap.String("host", *host), zap.Int("port", *port))
		if err := server.Start(); err != nil {
			logger.Error("API server stopped", zap.Error(err))
		}
	}()

	<-sigChan
	logger.Info("shutdown signal received")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Stop(shutdownCtx); err != nil {
		logger.Error("error during server shutdown", zap.Error(err))
	}
	if err := sink.Close(); err != nil {
		logger.Error("error closing persistence sink", zap.Error(err))
	}

	logger.Info("server stopped")
}

func setupLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	config := zap.Config{
		Level:       zap.NewAtomicLevelAt(zapLevel),
		Development: false,
		Encoding:    "console",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "time",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalColorLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := config.Build()
	if err != nil {
		panic(err)
	}
	return logger
}
