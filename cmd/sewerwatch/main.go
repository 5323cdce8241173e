package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"sewerwatch/internal/alerts"
	"sewerwatch/internal/api"
	"sewerwatch/internal/config"
	"sewerwatch/internal/engine"
	"sewerwatch/internal/fanout"
	"sewerwatch/internal/ingest"
	"sewerwatch/internal/logging"
	"sewerwatch/internal/model"
	"sewerwatch/internal/registry"
	"sewerwatch/internal/storage"
)

const version = "1.2.0"

func main() {
	configPath := flag.String("config", "", "path to YAML or JSON config file")
	flag.Parse()

	_ = godotenv.Load()

	var (
		cfgManager *config.Manager
		err        error
	)
	if *configPath != "" {
		cfgManager, err = config.NewManager(config.ResolvePath(*configPath))
		if err != nil {
			fmt.Fprintf(os.Stderr, "load config: %v\n", err)
			os.Exit(1)
		}
	} else {
		cfgManager = config.NewStaticManager(config.FromEnv())
	}

	cfg := cfgManager.Get()
	logger := logging.NewLogger(cfg.LogLevel)
	logger.Info("starting sewerwatch", "version", version, "storage", cfg.Storage.Driver)

	store, err := storage.NewStore(cfg.Storage)
	if err != nil {
		logger.Error("open store", "err", err)
		os.Exit(1)
	}
	if err := store.Init(context.Background()); err != nil {
		logger.Error("init store", "err", err)
		os.Exit(1)
	}
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := registry.New(store)
	hub := fanout.NewHub(logger, cfg.Fanout.SendBuffer, cfg.Fanout.SnapshotLimit)
	recent := alerts.NewStore(1000)

	messages := make(chan model.InboundMessage, cfg.Ingest.ChannelBuffer)
	eng := engine.NewEngine(cfgManager, logger, store, reg, hub, recent)
	eng.Start(ctx, messages)

	if _, err := ingest.StartMQTT(ctx, cfgManager, messages, logger); err != nil {
		logger.Error("mqtt connect", "err", err)
		os.Exit(1)
	}
	go ingest.StartKafka(ctx, cfgManager, messages, logger)
	ingest.StartREST(ctx, cfgManager, messages, logger)

	api.Start(ctx, cfgManager, store, reg, recent, hub, logger, version)

	if *configPath != "" {
		go cfgManager.Watch(3*time.Second,
			func(c *config.Config) { logger.Info("config reloaded", "path", *configPath) },
			func(err error) { logger.Warn("config reload failed", "err", err) },
			ctx.Done())
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("shutting down")
	cancel()
	time.Sleep(300 * time.Millisecond)
}
