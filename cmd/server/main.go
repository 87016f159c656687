package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/iliyamo/sunnah-audio/internal/config"
	"github.com/iliyamo/sunnah-audio/internal/database"
	"github.com/iliyamo/sunnah-audio/internal/handler"
	"github.com/iliyamo/sunnah-audio/internal/logger"
	"github.com/iliyamo/sunnah-audio/internal/mailer"
	"github.com/iliyamo/sunnah-audio/internal/metrics"
	"github.com/iliyamo/sunnah-audio/internal/middleware"
	"github.com/iliyamo/sunnah-audio/internal/queue"
	"github.com/iliyamo/sunnah-audio/internal/repository"
	"github.com/iliyamo/sunnah-audio/internal/router"
	"github.com/iliyamo/sunnah-audio/internal/service"
	"github.com/iliyamo/sunnah-audio/internal/utils"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "server:", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load() // .env is optional

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log, err := logger.New(cfg.Log)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	if cfg.MySQL.AutoMigrate {
		if err := database.Migrate(cfg.MySQL, log); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	db, err := database.Open(cfg.MySQL)
	if err != nil {
		return fmt.Errorf("mysql: %w", err)
	}
	defer db.Close()

	rdb, err := config.NewRedisClient(cfg.Redis)
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	defer rdb.Close()

	for _, dir := range []string{cfg.Paths.Uploads, cfg.Paths.Images} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}

	m := metrics.New(prometheus.NewRegistry())

	hasher := utils.NewPasswordHasher(utils.DefaultArgon2Params, 0)
	tokens := utils.NewTokenService(cfg.JWT.Secret, cfg.JWT.TokenLifetime)

	users := repository.NewUserRepo(db)
	acl := repository.NewAccessRepo(db)
	subsRepo := repository.NewSubscriptionRepo(db)
	books := repository.NewBookRepo(db)
	files := repository.NewFileRepo(db)
	downloads := repository.NewDownloadRepo(db)
	otps := repository.NewOtpStore(rdb)

	mail := mailer.New(cfg.SMTP, log.Named("mailer"), m)
	publisher := queue.NewPublisher(cfg.Broker.URL, log.Named("queue"))

	subs := service.NewSubscriptionService(subsRepo, m, log.Named("subscriptions"))
	policy := service.NewAccessPolicy(users, acl, subs)
	auth := service.NewAuthService(users, hasher, tokens, otps, mail, subs, log.Named("auth"))
	gateway := service.NewDownloadGateway(files, downloads, policy, publisher, cfg.Paths.Uploads, m, log.Named("downloads"))
	content := service.NewContentService(books, files, policy, cfg.Paths.Uploads, log.Named("content"))

	sweeper, err := service.NewSweeper(subs, cfg.Sweep.Schedule, log.Named("sweeper"))
	if err != nil {
		return err
	}

	e := router.New(log, m, router.Handlers{
		Health:        handler.NewHealthHandler(db, rdb),
		Auth:          handler.NewAuthHandler(auth, policy),
		Subscriptions: handler.NewSubscriptionHandler(subs),
		Files:         handler.NewFileHandler(gateway, content, log.Named("files")),
		Books:         handler.NewBookHandler(content),
	}, router.Guards{
		Identity:   middleware.NewIdentityGateway(tokens, log.Named("identity")),
		Limiter:    middleware.NewRateLimiter(config.LoadRateLimitConfig(), rdb, log.Named("ratelimit")),
		PlansCache: middleware.ResponseCache(config.LoadCacheConfig(), rdb, log.Named("cache")),
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var bg sync.WaitGroup
	if cfg.Broker.URL != "" {
		consumer := queue.NewConsumer(cfg.Broker.URL, filepath.Join("logs", "download.log"), log.Named("consumer"))
		bg.Add(1)
		go func() {
			defer bg.Done()
			if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("download consumer stopped", zap.Error(err))
			}
		}()
	}

	sweeper.Start()

	serveErr := make(chan error, 1)
	go func() {
		log.Info("listening", zap.String("addr", cfg.Server.Addr()), zap.String("env", cfg.Env))
		if err := e.Start(cfg.Server.Addr()); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var startErr error
	select {
	case err, ok := <-serveErr:
		if ok {
			startErr = fmt.Errorf("listen %s: %w", cfg.Server.Addr(), err)
		}
	case <-ctx.Done():
		log.Info("shutting down")
	}
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", zap.Error(err))
	}
	if err := sweeper.Stop(shutdownCtx); err != nil {
		log.Warn("sweeper stop", zap.Error(err))
	}
	bg.Wait()
	if err := publisher.Close(); err != nil {
		log.Warn("publisher close", zap.Error(err))
	}
	log.Info("stopped")
	return startErr
}
