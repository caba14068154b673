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

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/DoyleJ11/mission-game-backend/internal/config"
	"github.com/DoyleJ11/mission-game-backend/internal/httpapi"
	"github.com/DoyleJ11/mission-game-backend/internal/hub"
	"github.com/DoyleJ11/mission-game-backend/internal/logging"
	"github.com/DoyleJ11/mission-game-backend/internal/store"
	"github.com/DoyleJ11/mission-game-backend/internal/ws"
)

func main() {
	cfg, err := config.Load(os.Args[1:], ".env")
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(2)
	}
	logger, err := logging.New(cfg.Dev)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) (err error) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, closeStore, err := openStore(cfg.DatabaseURL, logger)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, closeStore()) }()

	// Rooms outlive the signal context so they can be stopped in order below.
	h := hub.NewHub(context.WithoutCancel(ctx), st, cfg.Rules, cfg.Room, logger)
	n, err := h.Restore(ctx)
	if err != nil {
		return err
	}
	logger.Info("rooms restored", zap.Int("count", n))

	wsOpts := ws.DefaultOptions()
	wsOpts.OriginPatterns = cfg.AllowedOrigins
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpapi.SetupRoutes(h, logger, wsOpts),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", zap.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return multierr.Combine(srv.Shutdown(sctx), h.Shutdown(sctx))
	})
	return g.Wait()
}

func openStore(dsn string, logger *zap.Logger) (store.Store, func() error, error) {
	if dsn == "" {
		logger.Warn("DATABASE_URL not set, rooms are kept in memory only")
		return store.NewMemory(), func() error { return nil }, nil
	}
	db, err := store.Open(dsn, logger.Named("store"))
	if err != nil {
		return nil, nil, err
	}
	return db, db.Close, nil
}
