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

	"suarawarga/backend/internal/api/handler"
	"suarawarga/backend/internal/app"
	"suarawarga/backend/internal/config"
	"suarawarga/backend/internal/localization"
	"suarawarga/backend/internal/logger"
	"suarawarga/backend/internal/telegram"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	log, err := logger.New(logger.Config{Level: cfg.Log.Level, Development: cfg.Log.Development})
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal("server stopped", logger.Error(err))
	}
	log.Info("server stopped")
}

func run(ctx context.Context, cfg *config.Config, log logger.Logger) error {
	log.Info("starting SuaraWarga backend")

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()
	if err := a.Store.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.Hub.Run(ctx) })

	if a.Worker != nil {
		g.Go(func() error { return a.Worker.Run(ctx) })
	}

	if cfg.TelegramToken != "" {
		localizer, err := localization.NewLocalizer()
		if err != nil {
			return fmt.Errorf("localizer: %w", err)
		}
		bot, err := telegram.NewBotService(cfg.TelegramToken, a.Store, a.Complaints, localizer, log)
		if err != nil {
			return err
		}
		notifier := telegram.NewNotifier(bot.Sender(), a.Store, localizer, log)
		g.Go(func() error {
			if a.Hub.Register(notifier) {
				notifier.Run()
			}
			return bot.Run(ctx)
		})
	} else {
		log.Warn("SUARAWARGA_TELEGRAM_TOKEN not set, telegram intake disabled")
	}

	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	h := handler.NewHandler(handler.Deps{
		Tokens:     a.Tokens,
		Complaints: a.Complaints,
		Workflow:   a.Workflow,
		Reports:    a.Reports,
		Anchorer:   a.Anchorer,
		Store:      a.Store,
		Hub:        a.Hub,
		Metrics:    a.Metrics,
		Health:     a.Health,
		Log:        log,
	})
	server := &http.Server{
		Addr:           cfg.HTTP.Addr,
		Handler:        handler.NewRouter(h),
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		MaxHeaderBytes: 1 << 20,
	}

	g.Go(func() error {
		log.Info("http server listening", logger.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	if a.Anchorer != nil {
		a.Anchorer.Wait()
	}
	return err
}
