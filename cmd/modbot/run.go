package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"modbot/internal/analytics"
	"modbot/internal/bot"
	"modbot/internal/config"
	"modbot/internal/embed"
	"modbot/internal/httpapi"
	"modbot/internal/i18n"
	"modbot/internal/lockfile"
	"modbot/internal/modules/audit"
	"modbot/internal/punishment"
	"modbot/internal/storage"

	"go.uber.org/zap"
)

func run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger, err := config.BuildLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()

	store, err := storage.New(cfg.DatabaseURL)
	if err != nil {
		logger.Error("storage init failed", zap.Error(err))
		return err
	}
	defer store.Close()
	if err := store.Migrate(ctx); err != nil {
		logger.Error("migrations failed", zap.Error(err))
		return err
	}
	logger.Info("storage ready", zap.String("dialect", string(store.Dialect())))

	messages, err := i18n.Load(cfg.DefaultLanguage)
	if err != nil {
		return err
	}
	locker := newLocker(cfg)
	auditLogger := audit.NewLogger(store, logger)
	punishments := punishment.NewHandler(store, logger)
	analyticsService := analytics.New(store, punishments)

	botSvc, err := bot.New(cfg, logger, bot.Services{
		Store:       store,
		Locker:      locker,
		Audit:       auditLogger,
		Punishments: punishments,
		Analytics:   analyticsService,
		Messages:    messages,
		Embeds:      embed.MustDefault(),
	})
	if err != nil {
		logger.Error("bot init failed", zap.Error(err))
		return err
	}

	if err := botSvc.Start(); err != nil {
		logger.Error("bot start failed", zap.Error(err))
		return err
	}
	logger.Info("bot started")

	var server *http.Server
	if cfg.Health.Enabled {
		api := httpapi.New(httpapi.Deps{
			PresetsDir:  cfg.PresetsDir,
			Commands:    bot.PresetCommands,
			Locker:      locker,
			Punishments: punishments,
			Analytics:   analyticsService,
			Database:    store,
		}, logger)
		server = &http.Server{Addr: cfg.Health.Addr, Handler: api, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			logger.Info("http api enabled", zap.String("addr", cfg.Health.Addr))
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("http server error", zap.Error(err))
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
	case <-ctx.Done():
	}
	logger.Info("shutdown requested")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if server != nil {
		_ = server.Shutdown(shutdownCtx)
	}
	botSvc.Close(shutdownCtx)
	return nil
}

func newLocker(cfg config.Config) *lockfile.Locker {
	return lockfile.New(lockfile.Options{
		Retries:    cfg.Lock.Retries,
		MinTimeout: cfg.Lock.MinTimeout,
		MaxTimeout: cfg.Lock.MaxTimeout,
	})
}
