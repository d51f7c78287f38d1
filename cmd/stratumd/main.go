// Package main implements stratumd, the cnpool stratum core: it tracks the
// daemon chain tip, serves mining jobs to CryptoNote miners, validates
// submitted shares, and emits share events to the message bus.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	fasthex "github.com/tmthrgd/go-hex"

	"github.com/bardlex/cnpool/internal/banning"
	"github.com/bardlex/cnpool/internal/clock"
	"github.com/bardlex/cnpool/internal/config"
	"github.com/bardlex/cnpool/internal/cryptonote"
	"github.com/bardlex/cnpool/internal/daemon"
	"github.com/bardlex/cnpool/internal/jobs"
	"github.com/bardlex/cnpool/internal/messaging"
	"github.com/bardlex/cnpool/internal/pow"
	"github.com/bardlex/cnpool/internal/stratum"
	"github.com/bardlex/cnpool/internal/telemetry"
	"github.com/bardlex/cnpool/internal/validation"
	"github.com/bardlex/cnpool/internal/vardiff"
	"github.com/bardlex/cnpool/pkg/log"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := log.New(cfg.ServiceName, cfg.Version, cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting stratumd",
		"version", cfg.Version,
		"listen_addr", cfg.ListenAddr,
		"ports", len(cfg.Ports),
		"daemon", cfg.DaemonRPCURL,
	)

	if cfg.PoolWalletAddress == "" {
		logger.Warn("POOL_WALLET_ADDRESS is empty, templates will be rejected by the daemon")
	}

	clk := clock.System{}

	daemonClient, err := daemon.NewClient(cfg.DaemonRPCURL, cfg.DaemonRPCTimeout)
	if err != nil {
		logger.WithError(err).Error("failed to create daemon client")
		os.Exit(1)
	}

	// Connectivity check; a down daemon is not fatal, the poller retries
	infoCtx, infoCancel := context.WithTimeout(context.Background(), cfg.DaemonRPCTimeout)
	if info, err := daemonClient.GetInfo(infoCtx); err != nil {
		logger.WithError(err).Warn("daemon unreachable at startup")
	} else {
		logger.Info("connected to daemon", "height", info.Height, "top_block", info.TopBlockHash)
	}
	infoCancel()

	kafkaClient := messaging.NewKafkaClient(cfg.KafkaBrokers, logger.Logger)

	recorder, err := telemetry.NewRecorder(&telemetry.Config{
		URL:    cfg.InfluxURL,
		Token:  cfg.InfluxToken,
		Org:    cfg.InfluxOrg,
		Bucket: cfg.InfluxBucket,
	}, kafkaClient, logger)
	if err != nil {
		logger.WithError(err).Warn("telemetry sink unavailable, continuing without it")
		recorder = nil
	}

	hashPool := pow.NewPool(cfg.HashWorkers, logger)

	manager := jobs.NewManager(pow.Family(cfg.CoinFamily), logger)

	poller := jobs.NewPoller(jobs.PollerConfig{
		WalletAddress:   cfg.PoolWalletAddress,
		ReserveSize:     cfg.ReserveSize,
		PollInterval:    cfg.PollInterval,
		RefreshInterval: cfg.RefreshInterval,
	}, daemonClient, manager, clk, recorder, logger)

	bans := banning.NewManager(banning.Config{
		Enabled:        cfg.BanningEnabled,
		CheckThreshold: cfg.BanCheckThreshold,
		InvalidPercent: cfg.BanInvalidPercent,
		BanDuration:    cfg.BanDuration,
		RedisAddr:      cfg.RedisAddr,
		RedisPassword:  cfg.RedisPassword,
		RedisDB:        cfg.RedisDB,
	}, clk, logger)

	validator := validation.NewValidator(
		manager,
		hashPool,
		daemonClient,
		kafkaClient,
		recorder,
		clk,
		cfg.BlobNonceOffset,
		logger,
	)

	controllers := make(map[int]*vardiff.Controller, len(cfg.Ports))
	for _, port := range cfg.Ports {
		controllers[port.Port] = vardiff.NewController(vardiff.Config{
			MinDiff:         port.MinDiff,
			MaxDiff:         port.MaxDiff,
			TargetTime:      port.TargetTime,
			Variance:        port.Variance,
			WindowSize:      cfg.VardiffWindowSize,
			RetargetMinimum: cfg.VardiffRetargetMinimum,
		})
	}

	addressParams := cryptonote.AddressParams{
		Prefixes:        cfg.AddressPrefixes,
		MinLen:          cfg.AddressMinLen,
		MaxLen:          cfg.AddressMaxLen,
		PaymentIDHexLen: cfg.PaymentIDHexLen,
	}

	handler := stratum.NewHandler(
		manager,
		validator,
		bans,
		clk,
		addressParams,
		controllers,
		cfg.MaxShareAge,
		logger,
	)

	server := stratum.NewServer(cfg, handler, manager, bans, clk, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	hashPool.Start(ctx)

	go func() {
		if err := poller.Run(ctx); err != nil && err != context.Canceled {
			logger.WithError(err).Error("poller failed")
			cancel()
		}
	}()

	if cfg.DaemonZMQAddr != "" {
		notifier, err := daemon.NewZMQNotifier(cfg.DaemonZMQAddr, cfg.DaemonZMQTopic, logger)
		if err != nil {
			logger.WithError(err).Error("failed to create ZMQ notifier")
			os.Exit(1)
		}
		defer notifier.Close()

		if err := notifier.Connect(); err != nil {
			logger.WithError(err).Warn("ZMQ connect failed, relying on polling")
		} else {
			go func() {
				_ = notifier.Listen(ctx, func([]byte) error {
					poller.Kick()
					return nil
				})
			}()
		}
	}

	if cfg.DaemonWSURL != "" {
		notifier := daemon.NewWSNotifier(cfg.DaemonWSURL, logger)
		go func() {
			_ = notifier.Listen(ctx, func([]byte) error {
				poller.Kick()
				return nil
			})
		}()
	}

	// Pre-warm the next RandomX epoch as templates announce it
	go func() {
		templates, unsubscribe := manager.Stream().Subscribe()
		defer unsubscribe()

		warmed := ""
		for {
			select {
			case <-ctx.Done():
				return
			case t, ok := <-templates:
				if !ok {
					return
				}
				if t.NextSeedHash == "" || t.NextSeedHash == warmed {
					continue
				}
				if seed, err := fasthex.DecodeString(t.NextSeedHash); err == nil {
					hashPool.Prewarm(seed)
					warmed = t.NextSeedHash
				}
			}
		}
	}()

	go func() {
		if err := server.Start(ctx); err != nil && err != context.Canceled {
			logger.WithError(err).Error("server failed")
			cancel()
		}
	}()

	select {
	case <-sigChan:
		logger.Info("shutdown signal received")
	case <-ctx.Done():
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("shutdown failed")
	}

	if err := kafkaClient.Close(); err != nil {
		logger.WithError(err).Error("failed to close Kafka client")
	}

	recorder.Close()

	if err := bans.Close(); err != nil {
		logger.WithError(err).Error("failed to close ban store")
	}

	logger.Info("stratumd stopped")
}
