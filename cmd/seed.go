package cmd

import (
	"fmt"
	"log"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"

	"github.com/xamircastel/xafra-ads-v5-sub000/internal/config"
	"github.com/xamircastel/xafra-ads-v5-sub000/internal/db"
	"github.com/xamircastel/xafra-ads-v5-sub000/internal/model"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the database with demo customers and offers",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		sqlDB, err := db.NewMySQLConnection(cfg.MySQL.DSN, db.MySQLOpts{
			MaxOpenConns:    cfg.MySQL.MaxOpenConns,
			MaxIdleConns:    cfg.MySQL.MaxIdleConns,
			ConnMaxLifetime: cfg.MySQL.ConnMaxLifetime,
			ConnMaxIdleTime: cfg.MySQL.ConnMaxIdleTime,
			PingTimeout:     cfg.MySQL.PingTimeout,
		})
		if err != nil {
			return fmt.Errorf("mysql connect: %w", err)
		}
		defer sqlDB.Close()

		log.Println(">> Seeding demo customers and products...")

		if err := seedCustomers(sqlDB); err != nil {
			return err
		}
		if err := seedProducts(sqlDB); err != nil {
			return err
		}

		log.Println(">> Seed completed ✅")
		return nil
	},
}

// seedCustomers inserts deterministic demo customers (idempotent).
func seedCustomers(dbx *sqlx.DB) error {
	customers := []model.Customer{
		{
			Name:         "Gomovil CR",
			APIKey:       "11111111111111111111111111111111",
			Status:       model.CustomerActive,
			Country:      "cr",
			Operator:     "kolbi",
			RateLimitRPS: intptr(50),
		},
		{
			Name:         "Digital Media PE",
			APIKey:       "22222222222222222222222222222222",
			Status:       model.CustomerActive,
			Country:      "pe",
			Operator:     "entel",
			RateLimitRPS: intptr(20),
		},
		{
			Name:         "Suspended Source",
			APIKey:       "33333333333333333333333333333333",
			Status:       model.CustomerSuspended,
			Country:      "cr",
			Operator:     "kolbi",
			RateLimitRPS: nil,
		},
	}

	// idempotent upsert based on api_key (UNIQUE)
	const q = `
INSERT INTO customers
    (name, api_key, status, country, operator, rate_limit_rps, created_at, updated_at)
VALUES
    (?, ?, ?, ?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE
    name           = VALUES(name),
    status         = VALUES(status),
    country        = VALUES(country),
    operator       = VALUES(operator),
    rate_limit_rps = VALUES(rate_limit_rps),
    updated_at     = VALUES(updated_at)
`
	tx, err := dbx.Beginx()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := time.Now()
	for _, c := range customers {
		if _, err := tx.Exec(q, c.Name, c.APIKey, c.Status, c.Country, c.Operator, c.RateLimitRPS, now, now); err != nil {
			return fmt.Errorf("insert customer %q: %w", c.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit customers: %w", err)
	}
	return nil
}

// seedProducts attaches a few demo offers to the first active customer.
func seedProducts(dbx *sqlx.DB) error {
	products := []struct {
		Reference   string
		Name        string
		URLRedirect string
		Random      bool
		URLPostback *string
		Method      model.PostbackMethod
	}{
		{
			Reference:   "demo-kolbi-games",
			Name:        "Kolbi Games Club",
			URLRedirect: "https://lp.kolbi-games.example/sub?clickid=<TRACKING>",
			Random:      true,
			URLPostback: strptr("https://tracker.gomovil.example/pb?cid=<TRACKING>"),
			Method:      model.PostbackGET,
		},
		{
			Reference:   "demo-kolbi-video",
			Name:        "Kolbi Video Club",
			URLRedirect: "https://lp.kolbi-video.example/start?c=<TRACKING>",
			Random:      true,
			URLPostback: strptr("https://tracker.gomovil.example/pb?cid=<TRACKING>"),
			Method:      model.PostbackGET,
		},
		{
			Reference:   "demo-direct-only",
			Name:        "Direct Offer",
			URLRedirect: "https://lp.direct.example/?c=<TRACKING>",
			Random:      false,
			URLPostback: nil,
			Method:      model.PostbackGET,
		},
	}

	const q = `
INSERT INTO products
    (customer_id, name, reference, url_redirect, active, random,
     country, operator, url_postback, body_postback, method_postback, created_at, updated_at)
SELECT c.id, ?, ?, ?, 1, ?, c.country, c.operator, ?, NULL, ?, NOW(), NOW()
  FROM customers c
 WHERE c.api_key = '11111111111111111111111111111111'
ON DUPLICATE KEY UPDATE
    name         = VALUES(name),
    url_redirect = VALUES(url_redirect),
    random       = VALUES(random),
    url_postback = VALUES(url_postback),
    updated_at   = VALUES(updated_at)
`
	for _, p := range products {
		if _, err := dbx.Exec(q, p.Name, p.Reference, p.URLRedirect, p.Random, p.URLPostback, p.Method); err != nil {
			return fmt.Errorf("insert product %q: %w", p.Reference, err)
		}
	}
	return nil
}

func intptr(i int) *int       { return &i }
func strptr(s string) *string { return &s }
