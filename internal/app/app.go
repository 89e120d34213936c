// Package app wires the services shared by the server and the admin CLI.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"suarawarga/backend/internal/auth"
	"suarawarga/backend/internal/clustering"
	"suarawarga/backend/internal/complaint"
	"suarawarga/backend/internal/config"
	"suarawarga/backend/internal/ledger"
	"suarawarga/backend/internal/llm"
	"suarawarga/backend/internal/logger"
	"suarawarga/backend/internal/notify"
	"suarawarga/backend/internal/report"
	"suarawarga/backend/internal/storage"
	"suarawarga/backend/internal/telemetry"
	"suarawarga/backend/internal/verification"
	"suarawarga/backend/internal/workflow"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// App holds every long-lived dependency. Anchorer and Worker are nil when
// the ledger is disabled.
type App struct {
	Config   *config.Config
	Log      logger.Logger
	DB       *gorm.DB
	Redis    *redis.Client
	Store    *storage.Service
	Registry *prometheus.Registry
	Metrics  *telemetry.Metrics
	Hub      *notify.Hub
	Tokens   *auth.Tokens

	Ledger     ledger.Client
	Anchorer   *verification.Anchorer
	Worker     *verification.Worker
	Workflow   *workflow.Service
	Complaints *complaint.Service
	Reports    *report.Service

	closers []func()
}

// setupDependencies connects PostgreSQL and Redis.
func setupDependencies(ctx context.Context, cfg *config.Config, log logger.Logger) (*gorm.DB, *redis.Client, error) {
	db, err := gorm.Open(postgres.Open(cfg.Database.DSN), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("connect postgres: %w", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, nil, fmt.Errorf("connect redis: %w", err)
	}

	log.Info("database and redis connections established")
	return db, rdb, nil
}

// New connects the stores and builds the services.
func New(ctx context.Context, cfg *config.Config, log logger.Logger) (*App, error) {
	db, rdb, err := setupDependencies(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	a := &App{Config: cfg, Log: log, DB: db, Redis: rdb}
	a.closers = append(a.closers, func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
		rdb.Close()
	})
	a.Store = storage.NewStorageService(db, rdb, log)
	a.Registry = telemetry.NewRegistry()
	a.Metrics = telemetry.New(a.Registry)
	a.Hub = notify.NewHub(rdb, log)
	a.Tokens = auth.NewTokens(cfg.JWTSecret, auth.DefaultTokenTTL)

	if err := a.buildLedger(ctx); err != nil {
		a.Close()
		return nil, err
	}
	a.buildServices()
	return a, nil
}

func (a *App) provider() llm.Provider {
	if a.Config.LLM.APIKey == "" {
		a.Log.Warn("no LLM API key, classification and naming use defaults")
		return llm.Offline{}
	}
	p, err := llm.NewAnthropic(llm.AnthropicConfig{
		APIKey:            a.Config.LLM.APIKey,
		Model:             a.Config.LLM.Model,
		RequestsPerMinute: a.Config.LLM.RequestsPerMinute,
	})
	if err != nil {
		a.Log.Error("LLM provider unavailable, using defaults", logger.Error(err))
		return llm.Offline{}
	}
	return p
}

func (a *App) buildLedger(ctx context.Context) error {
	lc := a.Config.Ledger
	switch {
	case !lc.Enabled:
		a.Log.Warn("ledger disabled, complaints stay unverified")
		return nil
	case lc.Simulated:
		a.Ledger = ledger.NewMemoryLedger(true)
	default:
		eth, err := ledger.DialEthereum(ctx, ledger.EthereumConfig{
			RPCURL:          lc.RPCURL,
			ChainID:         lc.ChainID,
			PrivateKey:      lc.PrivateKey,
			ContractAddress: lc.ContractAddress,
		}, a.Log)
		if err != nil {
			return fmt.Errorf("dial ledger: %w", err)
		}
		a.Ledger = eth
		a.closers = append(a.closers, eth.Close)
	}

	a.Anchorer = verification.NewAnchorer(a.Store, a.Ledger, verification.Options{
		SubmitTimeout:  lc.SubmitTimeout,
		ConfirmTimeout: lc.ConfirmTimeout,
	}, a.Hub, a.Log, a.Metrics)
	a.Worker = verification.NewWorker(a.Anchorer, lc.RetryInterval, lc.MaxAttempts, a.Log)
	return nil
}

func (a *App) buildServices() {
	p := a.provider()
	timeout := a.Config.LLM.Timeout
	classifier := llm.NewClassifier(p, timeout, a.Log, a.Metrics)
	namer := llm.NewNamer(p, timeout, a.Log, a.Metrics)

	engine := clustering.NewEngine(a.Store, namer, storage.NewLocker(a.Redis, a.Log), clustering.Options{
		StrictRegion: a.Config.StrictRegionWindow,
		WindowSize:   config.CandidateWindowSize,
	}, a.Log, a.Metrics)
	a.Workflow = workflow.NewService(a.Store, workflow.Permissive(), a.Hub, a.Log, a.Metrics)

	// a nil *Anchorer must not become a non-nil interface
	var anchorer complaint.Anchorer
	if a.Anchorer != nil {
		anchorer = a.Anchorer
	}
	a.Complaints = complaint.NewService(a.Store, classifier, engine, anchorer, a.Workflow, a.Hub, a.Log, a.Metrics)
	a.Reports = report.NewService(a.Store, namer, a.Hub, a.Log)
}

// Health pings PostgreSQL and Redis.
func (a *App) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	sqlDB, err := a.DB.DB()
	if err != nil {
		return err
	}
	return errors.Join(sqlDB.PingContext(ctx), a.Redis.Ping(ctx).Err())
}

// Close releases connections in reverse order of creation.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
