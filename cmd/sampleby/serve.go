package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/vjranagit/sampleby/internal/config"
	"github.com/vjranagit/sampleby/pkg/api"
	"github.com/vjranagit/sampleby/pkg/storage"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve()
		},
	}
}

func serve() error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return errors.Wrap(err, "invalid configuration")
	}
	cfg.ConfigureLogging()

	log.WithFields(log.Fields{
		"version":     version,
		"listen":      cfg.Server.ListenAddr,
		"path":        cfg.Storage.Path,
		"retention":   cfg.Storage.RetentionDays,
		"compression": cfg.Storage.CompressionLevel,
		"blocks":      cfg.Storage.BlockGranularity,
	}).Info("Configuration loaded")

	var store storage.Storage
	store, err = storage.NewStorage(cfg.ToStorageConfig())
	if err != nil {
		return errors.Wrap(err, "failed to initialize storage")
	}
	if cfg.Storage.CacheCapacity > 0 {
		cached, err := storage.NewCachedStorage(store, cfg.Storage.CacheCapacity, cfg.Storage.CacheTTL)
		if err != nil {
			store.Close()
			return err
		}
		store = cached
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.WithError(err).Error("Failed to close storage")
		}
	}()

	server := api.NewServer(cfg.Server.ListenAddr, store, cfg.Server.Timeout)

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", cfg.Server.ListenAddr).Info("API server listening")
		errCh <- server.Start()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return errors.Wrap(err, "server error")
	case sig := <-sigChan:
		log.WithField("signal", sig).Info("Shutdown signal received, stopping server")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Stop(ctx); err != nil {
		log.WithError(err).Warn("Server shutdown error")
	}

	log.Info("Server stopped")
	return nil
}
