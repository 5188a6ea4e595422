package worker

import (
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/xamircastel/xafra-ads-v5-sub000/internal/config"
	"github.com/xamircastel/xafra-ads-v5-sub000/internal/db"
	"github.com/xamircastel/xafra-ads-v5-sub000/internal/logger"
	"github.com/xamircastel/xafra-ads-v5-sub000/internal/metrics"
	"github.com/xamircastel/xafra-ads-v5-sub000/internal/postback"
	"github.com/xamircastel/xafra-ads-v5-sub000/internal/repository"
)

// deps bundles everything a worker process shares: config, stores and the
// delivery pipeline.
type deps struct {
	cfg        config.Config
	mysql      *sqlx.DB
	clickhouse *sqlx.DB
	retries    repository.RetryQueueRepository
	outbox     repository.OutboxRepository
	dispatcher *postback.Dispatcher
}

func (d *deps) close() {
	if d.clickhouse != nil {
		_ = d.clickhouse.Close()
	}
	if d.mysql != nil {
		_ = d.mysql.Close()
	}
}

// openDeps loads config, initializes logging/metrics and connects the stores
// every worker needs. ClickHouse is optional in dev; the dispatcher treats
// attempt logging as best-effort anyway.
func openDeps(cmd *cobra.Command) (*deps, error) {
	cfgPath, _ := cmd.Root().PersistentFlags().GetString("config")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger.Init(cfg.LogLevel)
	metrics.MustRegister(prometheus.DefaultRegisterer)

	mysqlDB, err := db.NewMySQLConnection(cfg.MySQL.DSN, db.MySQLOpts{
		MaxOpenConns:    cfg.MySQL.MaxOpenConns,
		MaxIdleConns:    cfg.MySQL.MaxIdleConns,
		ConnMaxLifetime: cfg.MySQL.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.MySQL.ConnMaxIdleTime,
		PingTimeout:     cfg.MySQL.PingTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("mysql connect: %w", err)
	}

	chDB, err := db.NewClickHouseConnection(db.ClickHouseOpts{
		DSN:             cfg.ClickHouse.DSN,
		MaxOpenConns:    cfg.ClickHouse.MaxOpenConns,
		MaxIdleConns:    cfg.ClickHouse.MaxIdleConns,
		ConnMaxLifetime: cfg.ClickHouse.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ClickHouse.ConnMaxIdleTime,
		PingTimeout:     cfg.ClickHouse.PingTimeout,
	})
	if err != nil {
		_ = mysqlDB.Close()
		return nil, fmt.Errorf("clickhouse connect: %w", err)
	}

	retriesRepo := repository.NewRetryQueueRepository(mysqlDB)

	sender := postback.NewSender(
		cfg.Postback.Timeout,
		cfg.Postback.Breaker.FailThreshold,
		time.Duration(cfg.Postback.Breaker.OpenForMs)*time.Millisecond,
		logger.Log,
	)
	dispatcher := postback.NewDispatcher(
		repository.NewProductsRepository(mysqlDB),
		repository.NewCampaignsRepository(mysqlDB),
		repository.NewCHAttemptsRepository(chDB),
		retriesRepo,
		sender,
		postback.RetryPolicy{
			InitialDelay: cfg.Retry.InitialDelay,
			Multiplier:   cfg.Retry.Multiplier,
			MaxDelay:     cfg.Retry.MaxDelay,
			MaxAttempts:  cfg.Retry.MaxAttempts,
		},
		logger.Log,
	)

	return &deps{
		cfg:        cfg,
		mysql:      mysqlDB,
		clickhouse: chDB,
		retries:    retriesRepo,
		outbox:     repository.NewOutboxRepository(mysqlDB),
		dispatcher: dispatcher,
	}, nil
}
