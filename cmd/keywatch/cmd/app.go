package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/good-yellow-bee/keywatch/internal/alerting"
	"github.com/good-yellow-bee/keywatch/internal/api"
	"github.com/good-yellow-bee/keywatch/internal/api/health"
	"github.com/good-yellow-bee/keywatch/internal/config"
	"github.com/good-yellow-bee/keywatch/internal/metrics"
	"github.com/good-yellow-bee/keywatch/internal/models"
	"github.com/good-yellow-bee/keywatch/internal/notifier"
	"github.com/good-yellow-bee/keywatch/internal/scheduler"
	"github.com/good-yellow-bee/keywatch/internal/storage"
)

// stores holds the persistence layer. History always lives in SQLite;
// states and checkpoints move to Redis when it is configured.
type stores struct {
	sqlite      *storage.SQLiteStorage
	redis       *redis.Client
	states      storage.StateRepository
	checkpoints storage.CheckpointRepository
	history     storage.HistoryRepository
}

func openStores(ctx context.Context, cfg *Config, logger *zap.Logger) (*stores, error) {
	if dir := filepath.Dir(cfg.Storage.SQLitePath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
	}

	sqlite := storage.NewSQLiteStorage(cfg.Storage.SQLitePath)
	if err := sqlite.Open(); err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := sqlite.Migrate(); err != nil {
		sqlite.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	logger.Info("database initialized", zap.String("path", cfg.Storage.SQLitePath))

	s := &stores{
		sqlite:      sqlite,
		states:      sqlite.States(),
		checkpoints: sqlite.Checkpoints(),
		history:     sqlite.History(),
	}

	if rc := cfg.Storage.Redis; rc.Addr != "" {
		client := storage.NewRedisClient(&storage.RedisConfig{
			Addr:      rc.Addr,
			Password:  rc.Password,
			DB:        rc.DB,
			KeyPrefix: rc.KeyPrefix,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			sqlite.Close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		s.redis = client
		s.states = storage.NewRedisStateRepo(client, rc.KeyPrefix)
		s.checkpoints = storage.NewRedisCheckpointRepo(client, rc.KeyPrefix)
		logger.Info("alarm state stored in redis", zap.String("addr", rc.Addr))
	}

	return s, nil
}

func (s *stores) Close() error {
	var errs []error
	if s.redis != nil {
		errs = append(errs, s.redis.Close())
	}
	errs = append(errs, s.sqlite.Close())
	return errors.Join(errs...)
}

// engine is a fully wired scan pipeline.
type engine struct {
	cfg          *Config
	logger       *zap.Logger
	stores       *stores
	searcher     *storage.ClickHouseSearcher
	source       *config.Source
	router       *notifier.Router
	orchestrator *alerting.Orchestrator
}

func newEngine(ctx context.Context, cfg *Config, logger *zap.Logger) (*engine, error) {
	source := config.NewSource(cfg.Monitors, logger)
	if err := source.Load(); err != nil {
		return nil, err
	}
	for _, issue := range config.Check(source.Snapshot()) {
		logger.Warn("project will fail until its configuration is fixed",
			zap.String("project", issue.ProjectID), zap.Error(issue.Err))
	}

	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	searcher := storage.NewClickHouseSearcher(&storage.ClickHouseConfig{
		Addresses:   cfg.ClickHouse.Addresses,
		Database:    cfg.ClickHouse.Database,
		Username:    cfg.ClickHouse.Username,
		Password:    cfg.ClickHouse.Password,
		Table:       cfg.ClickHouse.Table,
		PageSize:    cfg.ClickHouse.PageSize,
		DialTimeout: duration(cfg.ClickHouse.DialTimeout),
		Compression: cfg.ClickHouse.Compression,
	})
	if err := searcher.Open(); err != nil {
		st.Close()
		return nil, fmt.Errorf("open clickhouse: %w", err)
	}

	router, err := newRouter(&cfg.Notifier, logger)
	if err != nil {
		searcher.Close()
		st.Close()
		return nil, err
	}

	store := storage.NewEngineStore(source, st.states, st.checkpoints, st.history)
	evaluator := alerting.NewEvaluator(searcher, store, router, metrics.NewPrometheusSink(nil),
		alerting.WithLogger(logger))
	orchestrator := alerting.NewOrchestrator(store, evaluator, alerting.OrchestratorConfig{
		Concurrency:    cfg.Scan.Concurrency,
		Lookback:       duration(cfg.Scan.DefaultLookback),
		IngestionDelay: duration(cfg.Scan.IngestionDelay),
	}, logger)

	return &engine{
		cfg:          cfg,
		logger:       logger,
		stores:       st,
		searcher:     searcher,
		source:       source,
		router:       router,
		orchestrator: orchestrator,
	}, nil
}

// newRouter registers a channel for every configured notifier section.
func newRouter(cfg *NotifierConfig, logger *zap.Logger) (*notifier.Router, error) {
	router := notifier.NewRouterWithRateLimit(notifier.RateLimitConfig{
		Enabled:      !cfg.RateLimit.Disabled,
		MaxPerWindow: cfg.RateLimit.MaxPerWindow,
		Window:       duration(cfg.RateLimit.Window),
	}, logger)

	if cfg.Slack.WebhookURL != "" {
		slack, err := notifier.NewSlackNotifier(notifier.SlackConfig{
			WebhookURL: cfg.Slack.WebhookURL,
			Username:   cfg.Slack.Username,
		})
		if err != nil {
			return nil, err
		}
		router.Register(slack)
	}
	if cfg.Teams.WebhookURL != "" {
		teams, err := notifier.NewTeamsNotifier(notifier.TeamsConfig{WebhookURL: cfg.Teams.WebhookURL})
		if err != nil {
			return nil, err
		}
		router.Register(teams)
	}
	if cfg.Email.Host != "" {
		email, err := notifier.NewEmailNotifier(notifier.EmailConfig{
			Host:       cfg.Email.Host,
			Port:       cfg.Email.Port,
			Username:   cfg.Email.Username,
			Password:   cfg.Email.Password,
			From:       cfg.Email.From,
			Recipients: cfg.Email.Recipients,
		})
		if err != nil {
			return nil, err
		}
		router.Register(email)
	}
	if cfg.Webhook.Enabled || cfg.Webhook.URL != "" {
		router.Register(notifier.NewWebhookNotifier(notifier.WebhookConfig{
			URL:        cfg.Webhook.URL,
			Headers:    cfg.Webhook.Headers,
			Timeout:    duration(cfg.Webhook.Timeout),
			RetryCount: cfg.Webhook.RetryCount,
		}))
	}

	if len(router.Channels()) == 0 {
		logger.Warn("no notification channels configured, transitions will fail to deliver")
	} else {
		logger.Info("notification channels registered", zap.Strings("channels", router.Channels()))
	}
	return router, nil
}

// run performs one scan and prunes expired notification history.
func (e *engine) run(ctx context.Context) (*alerting.RunReport, error) {
	report, err := e.orchestrator.Run(ctx)

	if retention := duration(e.cfg.Storage.HistoryRetention); retention > 0 && ctx.Err() == nil {
		n, perr := e.stores.history.DeleteBefore(ctx, time.Now().Add(-retention))
		if perr != nil {
			e.logger.Warn("prune notification history", zap.Error(perr))
		} else if n > 0 {
			e.logger.Debug("pruned notification history", zap.Int64("deleted", n))
		}
	}
	return report, err
}

// registerHealth adds a checker per backend.
func (e *engine) registerHealth(srv *api.Server) {
	srv.RegisterHealthChecker(health.NewSQLiteChecker(e.stores.sqlite.DB()))
	srv.RegisterHealthChecker(health.NewClickHouseChecker(e.searcher))
	if e.stores.redis != nil {
		client := e.stores.redis
		srv.RegisterHealthChecker(health.NewPingChecker("redis", health.PingFunc(func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		})))
	}
}

func (e *engine) newScheduler() *scheduler.Scheduler {
	return scheduler.New(e.run, scheduler.Config{
		Interval:   duration(e.cfg.Scan.Interval),
		Timeout:    duration(e.cfg.Scan.Timeout),
		RunOnStart: !e.cfg.Scan.SkipInitialRun,
	}, e.logger)
}

func (e *engine) newAPI(sched *scheduler.Scheduler) (*api.Server, error) {
	srv, err := api.New(&api.Config{
		Address: e.cfg.HTTP.Address,
		Verbose: e.cfg.HTTP.Verbose,
	}, api.Deps{
		Config:      e.source,
		States:      e.stores.states,
		Checkpoints: e.stores.checkpoints,
		History:     e.stores.history,
		Scanner:     sched,
	}, e.logger)
	if err != nil {
		return nil, err
	}
	e.registerHealth(srv)
	return srv, nil
}

func (e *engine) watchConfig(ctx context.Context) {
	e.source.OnReload(func(cfg *models.MonitorConfig) {
		for _, issue := range config.Check(cfg) {
			e.logger.Warn("reloaded configuration has an invalid project",
				zap.String("project", issue.ProjectID), zap.Error(issue.Err))
		}
	})
	if err := e.source.Watch(ctx); err != nil {
		e.logger.Error("monitor config watch stopped", zap.Error(err))
	}
}

func (e *engine) Close() error {
	return errors.Join(e.router.Close(), e.searcher.Close(), e.stores.Close())
}
