package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"spinmill/backend/internal/cache"
	"spinmill/backend/internal/config"
	"spinmill/backend/internal/httpapi"
	"spinmill/backend/internal/lock"
	"spinmill/backend/internal/logging"
	"spinmill/backend/internal/lotwizard"
	"spinmill/backend/internal/service"
	"spinmill/backend/internal/store"
	"spinmill/backend/internal/store/memory"
	pgstore "spinmill/backend/internal/store/postgres"
	sqlitestore "spinmill/backend/internal/store/sqlite"
)

const draftJanitorInterval = time.Minute

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("load configuration: %v", err)
	}
	if err := validateConfig(cfg); err != nil {
		logrus.Fatalf("invalid configuration: %v", err)
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var repo store.Repository
	closers := make([]func() error, 0, 2)

	switch {
	case cfg.DatabaseURL != "":
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatalf("postgres unavailable (%v) and DATABASE_URL is set; refusing to start with in-memory fallback", err)
		}
		repo = pg
		closers = append(closers, pg.Close)
		logger.Info("repository: postgres")
	case cfg.SQLitePath != "":
		db, err := sqlitestore.Open(ctx, cfg.SQLitePath)
		if err != nil {
			logger.Fatalf("sqlite unavailable at %s: %v", cfg.SQLitePath, err)
		}
		repo = db
		closers = append(closers, db.Close)
		logger.WithField("path", cfg.SQLitePath).Info("repository: sqlite")
	default:
		repo = memory.NewSeeded()
		logger.Info("repository: in-memory")
	}

	inwardCache := cache.InwardCache(cache.NoopInwardCache{})
	locker := lock.Locker(lock.NewLocal())
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedisInwardCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(ctx); err != nil {
			logger.WithError(err).Warn("redis unavailable, using noop cache and local locks")
			_ = redisCache.Close()
		} else {
			inwardCache = redisCache
			locker = lock.NewRedis(redisCache.Client(), logging.Component(logger, "lock"))
			closers = append(closers, redisCache.Close)
			logger.Info("cache: redis")
		}
	} else {
		logger.Info("cache: noop")
	}

	hub := httpapi.NewHub(logging.Component(logger, "events"), cfg.AllowedOrigin)
	svc := service.New(repo, service.Options{
		Cache:            inwardCache,
		Locker:           locker,
		Notifier:         hub,
		Logger:           logging.Component(logger, "service"),
		LotPrefix:        cfg.LotPrefix,
		SeasonStartMonth: time.Month(cfg.SeasonStartMonth),
		InwardCacheTTL:   time.Duration(cfg.InwardCacheTTLSeconds) * time.Second,
	})
	draftLogger := logging.Component(logger, "drafts")
	drafts := service.NewDrafts(svc, time.Duration(cfg.DraftIdleMinutes)*time.Minute, draftLogger,
		lotwizard.WithLotPrefix(cfg.LotPrefix))
	api := httpapi.New(svc, drafts, hub, cfg.AllowedOrigin, logging.Component(logger, "http"))

	janitorCtx, stopJanitor := context.WithCancel(context.Background())
	defer stopJanitor()
	go drafts.RunJanitor(janitorCtx, draftJanitorInterval)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.WithField("addr", cfg.Address()).Info("mill backend listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("server error: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	stopJanitor()
	hub.Close()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("shutdown error")
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			logger.WithError(err).Error("close error")
		}
	}

	logger.Info("server stopped")
}

func validateConfig(cfg config.Config) error {
	port, err := strconv.Atoi(cfg.Port)
	if err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("PORT must be a number between 1 and 65535, got %q", cfg.Port)
	}
	if cfg.DatabaseURL != "" && cfg.SQLitePath != "" {
		return errors.New("set either DATABASE_URL or SQLITE_PATH, not both")
	}
	if cfg.SeasonStartMonth < 1 || cfg.SeasonStartMonth > 12 {
		return fmt.Errorf("SEASON_START_MONTH must be 1-12, got %d", cfg.SeasonStartMonth)
	}
	prefix := strings.TrimSpace(cfg.LotPrefix)
	if prefix == "" || strings.ContainsAny(prefix, "/ ") {
		return fmt.Errorf("LOT_PREFIX must be non-empty without slashes or spaces, got %q", cfg.LotPrefix)
	}
	if _, err := logrus.ParseLevel(cfg.LogLevel); err != nil {
		return fmt.Errorf("LOG_LEVEL: %w", err)
	}
	if format := strings.ToLower(strings.TrimSpace(cfg.LogFormat)); format != "json" && format != "text" {
		return fmt.Errorf("LOG_FORMAT must be json or text, got %q", cfg.LogFormat)
	}
	return nil
}
