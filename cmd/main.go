package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nmorozov/authd/internal/cache"
	"github.com/nmorozov/authd/internal/config"
	"github.com/nmorozov/authd/internal/logger"
	"github.com/nmorozov/authd/internal/repository"
	"github.com/nmorozov/authd/internal/server"
	"github.com/nmorozov/authd/internal/service"
	"github.com/nmorozov/authd/internal/token"
	"github.com/nmorozov/authd/internal/webhook"
)

func main() {
	if err := run(); err != nil {
		logger.Global().Fatal("Service terminated", logger.Error(err))
	}
}

func run() error {
	cfg, err := config.GetConfig()
	if err != nil {
		return err
	}

	logger.Initialize(os.Stdout)
	l := logger.Global()
	defer l.Sync()

	db, err := repository.Connect(cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	store := repository.NewRefreshTokenStore(db, l)
	if err := store.RunMigrations(cfg.Database.MigrationsPath); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	users := repository.NewUserRepository(db, l)

	redisCache, err := cache.NewRedisCache(cfg.Redis, l)
	if err != nil {
		return err
	}
	defer redisCache.Close()

	codec := token.NewCodec(cfg.JWT)
	hasher := token.NewHasher()
	tokens := service.NewTokenService(store, users, codec, hasher, cfg.JWT, l)
	userSvc := service.NewUserService(users, tokens, codec, l)
	guard := cache.NewLoginGuard(redisCache, l)
	notifier := webhook.New(cfg.Webhook, l)

	srv := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      server.New(userSvc, tokens, codec, guard, notifier, l).Routes(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout),
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout),
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		l.Info("HTTP server listening", logger.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	l.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}
