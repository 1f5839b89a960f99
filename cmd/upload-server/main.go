// cmd/upload-server/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Gammanik/resumable-upload/internal/api"
	"github.com/Gammanik/resumable-upload/internal/config"
	"github.com/Gammanik/resumable-upload/internal/logger"
	"github.com/Gammanik/resumable-upload/internal/metastore"
	"github.com/Gammanik/resumable-upload/internal/storage"
	"github.com/Gammanik/resumable-upload/internal/upload"
	"github.com/docker/go-units"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewWithLevel("upload-server", cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Fatalw("startup", "ERROR", err)
	}
}

func run(cfg *config.Config, log *zap.SugaredLogger) error {
	layout, err := storage.NewLayout(cfg.Root)
	if err != nil {
		return err
	}

	// Инициализируем реестр сессий
	store, err := metastore.NewBoltStore(cfg.MetaPath)
	if err != nil {
		return fmt.Errorf("failed to open metastore: %w", err)
	}
	defer store.Close()

	svc := upload.New(layout, store, log, upload.Options{
		MaxChunkSize:     cfg.MaxChunkBytes(),
		MergeConcurrency: cfg.MergeConcurrency,
	})
	if err := svc.RecoverSessions(); err != nil {
		return err
	}
	handler := api.NewFileHandler(svc, store, log, cfg.MaxChunkBytes())

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      api.NewRouter(handler),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	serverErrors := make(chan error, 1)
	go func() {
		log.Infow("startup", "status", "upload server started", "address", cfg.Addr(),
			"root", layout.Root, "maxChunkSize", units.BytesSize(float64(cfg.MaxChunkBytes())))
		serverErrors <- server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case sig := <-shutdown:
		log.Infow("shutdown", "status", "upload server stopping", "signal", sig.String())

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			server.Close()
			return fmt.Errorf("could not stop server gracefully: %w", err)
		}
	}

	log.Infow("shutdown", "status", "upload server stopped", "address", cfg.Addr())
	return nil
}
