package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"deribit-gateway/internal/broadcast"
	"deribit-gateway/internal/config"
	"deribit-gateway/internal/coordinator"
	"deribit-gateway/internal/latency"
	"deribit-gateway/internal/logger"
	"deribit-gateway/internal/session"
	"deribit-gateway/internal/store"
)

func main() {
	log := logger.Global()

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("error loading .env file")
	}

	apiKey, apiSecret, port, err := parseArgs(os.Args[1:])
	if err != nil {
		log.WithError(err).Error("invalid arguments")
		fmt.Fprintln(os.Stderr, "usage: gateway <api_key> <api_secret> [port]")
		os.Exit(1)
	}

	cfg := config.Defaults()
	if loaded, err := config.Load("config.yml"); err == nil {
		cfg = loaded
	}
	if port != 0 {
		cfg.Broadcast.Port = port
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("failed to configure logger")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	lat := latency.Default()

	var reportHooks []func()
	if cfg.CloudWatch.Namespace != "" {
		exporter, err := latency.NewCloudWatchExporter(ctx, cfg.CloudWatch.Region, cfg.CloudWatch.Namespace)
		if err != nil {
			log.WithError(err).Warn("failed to build cloudwatch exporter, continuing without metrics export")
		} else {
			reportHooks = append(reportHooks, func() { exporter.Publish(ctx, lat) })
		}
	}
	logger.StartRuntimeReport(ctx, log, 30*time.Second, reportHooks...)

	sess := session.New(apiKey, apiSecret, cfg.Venue.TestMode, cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst, lat)
	st := store.New(sess, lat)
	srv := broadcast.New()

	coord := coordinator.New(sess, st, srv, lat, "BTC")

	if err := coord.Initialize(); err != nil {
		log.WithError(err).Error("failed to initialize coordinator")
		os.Exit(1)
	}

	listenAddr := fmt.Sprintf(":%d", cfg.Broadcast.Port)
	if err := coord.Start(ctx, listenAddr); err != nil {
		log.WithError(err).Error("failed to start coordinator")
		os.Exit(1)
	}

	for _, instrument := range cfg.Venue.Instruments {
		if err := coord.SubscribeMarketData(instrument); err != nil {
			log.WithFields(logger.Fields{"instrument": instrument}).WithError(err).Warn("failed to join instrument order-book stream")
		}
	}

	log.WithFields(logger.Fields{"listen_addr": listenAddr}).Info("gateway running")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")

	cancel()

	exportLatencyCSV(log, lat, "performance_metrics.csv")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := coord.Stop(shutdownCtx); err != nil {
		log.WithError(err).Warn("coordinator shutdown reported an error")
	}

	log.Info("gateway stopped")
}

func exportLatencyCSV(log *logger.Log, lat *latency.Registry, path string) {
	f, err := os.Create(path)
	if err != nil {
		log.WithError(err).Warn("failed to create performance metrics file")
		return
	}
	defer f.Close()

	if err := lat.ExportCSV(f); err != nil {
		log.WithError(err).Warn("failed to export performance metrics")
		return
	}
	log.WithFields(logger.Fields{"path": path}).Info("performance metrics exported")
}

func parseArgs(args []string) (apiKey, apiSecret string, port int, err error) {
	if len(args) < 2 {
		creds := config.CredentialsFromEnv()
		if creds.APIKey == "" || creds.APISecret == "" {
			return "", "", 0, fmt.Errorf("missing api_key/api_secret")
		}
		return creds.APIKey, creds.APISecret, 0, nil
	}

	apiKey, apiSecret = args[0], args[1]
	if len(args) >= 3 {
		port, err = strconv.Atoi(args[2])
		if err != nil {
			return "", "", 0, fmt.Errorf("invalid port %q: %w", args[2], err)
		}
	}
	return apiKey, apiSecret, port, nil
}
