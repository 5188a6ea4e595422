package http

import (
	"context"
	"net/http"
	"time"

	"github.com/jmoiron/sqlx"
	echo "github.com/labstack/echo/v4"
	echoMid "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xamircastel/xafra-ads-v5-sub000/internal/config"
	"github.com/xamircastel/xafra-ads-v5-sub000/internal/distribution"
	"github.com/xamircastel/xafra-ads-v5-sub000/internal/http/middleware"
	"github.com/xamircastel/xafra-ads-v5-sub000/internal/metrics"
	"github.com/xamircastel/xafra-ads-v5-sub000/internal/postback"
	"github.com/xamircastel/xafra-ads-v5-sub000/internal/repository"
	"github.com/xamircastel/xafra-ads-v5-sub000/internal/service/confirm"
	"github.com/xamircastel/xafra-ads-v5-sub000/internal/service/redirect"
	"github.com/xamircastel/xafra-ads-v5-sub000/internal/signature"
	"github.com/xamircastel/xafra-ads-v5-sub000/internal/token"
)

type Server struct {
	e   *echo.Echo
	log *zap.Logger
}

func NewServer(cfg config.Config, mysqlDB, clickhouseDB *sqlx.DB, rds *redis.Client, logger *zap.Logger) *Server {
	// repos (MySQL)
	customersRepo := repository.NewCustomersRepository(mysqlDB)
	productsRepo := repository.NewProductsRepository(mysqlDB)
	campaignsRepo := repository.NewCampaignsRepository(mysqlDB)
	outboxRepo := repository.NewOutboxRepository(mysqlDB)
	retriesRepo := repository.NewRetryQueueRepository(mysqlDB)

	// repos (ClickHouse)
	attemptsRepo := repository.NewCHAttemptsRepository(clickhouseDB)

	// token codec + distribution engine
	codec := token.NewCodec(rds, token.Options{
		KeyPrefix:      cfg.Token.KeyPrefix,
		Length:         cfg.Token.Length,
		NeverExpireTTL: cfg.Token.NeverExpireTTL,
	})
	engine := distribution.NewEngine(campaignsRepo, distribution.Config{
		Window:           cfg.Distribution.Window,
		MinClicksOffer:   cfg.Distribution.MinClicksOffer,
		MinClicksTotal:   cfg.Distribution.MinClicksTotal,
		FloorWeight:      cfg.Distribution.FloorWeight,
		PerformanceShare: cfg.Distribution.PerformanceShare,
	})

	// services
	redirectSvc := redirect.NewService(codec, productsRepo, campaignsRepo, engine, logger)
	confirmSvc := confirm.NewService(mysqlDB, customersRepo, campaignsRepo, outboxRepo, cfg.Kafka.PostbackTopic, logger)

	sender := postback.NewSender(
		cfg.Postback.Timeout,
		cfg.Postback.Breaker.FailThreshold,
		time.Duration(cfg.Postback.Breaker.OpenForMs)*time.Millisecond,
		logger,
	)
	dispatcher := postback.NewDispatcher(productsRepo, campaignsRepo, attemptsRepo, retriesRepo, sender, postback.RetryPolicy{
		InitialDelay: cfg.Retry.InitialDelay,
		Multiplier:   cfg.Retry.Multiplier,
		MaxDelay:     cfg.Retry.MaxDelay,
		MaxAttempts:  cfg.Retry.MaxAttempts,
	}, logger)

	verifier := signature.NewVerifier(webhookSources(cfg.Webhooks))

	// echo
	e := echo.New()
	e.HideBanner = true
	e.Use(echoMid.Recover(), echoMid.Logger())

	metrics.MustRegister(prometheus.DefaultRegisterer)

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// health
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })

	// middlewares
	authMW := middleware.APIKeyMiddleware(customersRepo)
	rlMW := middleware.RateLimitMiddleware(middleware.RateLimitConfig{
		Redis:          rds,
		DefaultRPS:     cfg.RateLimit.RPS,
		KeyPrefix:      "rl:cust:",
		Window:         time.Second,
		RetryAfterHint: true,
	})

	// visitor-facing redirect routes: anonymous, latency-critical
	e.GET("/ads/:token", adsHandler(redirectSvc, routeDirect))
	e.GET("/ads/tr/:token", adsHandler(redirectSvc, routeAuto))
	e.GET("/ads/random/:token", adsHandler(redirectSvc, routeRandom))

	// traffic-source facing utility and confirmation routes
	e.POST("/util/encrypt", encryptHandler(customersRepo, productsRepo, codec, cfg.Token.DefaultTTLHours))
	e.POST("/util/decrypt", decryptHandler(codec))
	e.GET("/confirm/:apikey/:tracking", confirmHandler(confirmSvc))
	e.POST("/webhooks/receive/:source", receiveWebhookHandler(verifier, confirmSvc))

	// authenticated customer API
	api := e.Group("", authMW, rlMW)
	api.POST("/postbacks/send", sendPostbackHandler(dispatcher, productsRepo))

	// operator surface
	ops := e.Group("/ops", authMW, rlMW)
	ops.GET("/retries", listRetriesHandler(retriesRepo))
	ops.DELETE("/retries/:id", cancelRetryHandler(retriesRepo))
	ops.GET("/postbacks/attempts", listAttemptsHandler(attemptsRepo))

	return &Server{e: e, log: logger}
}

func webhookSources(sources []config.WebhookSource) []signature.Source {
	out := make([]signature.Source, 0, len(sources))
	for _, s := range sources {
		out = append(out, signature.Source{
			Name:          s.Name,
			Secret:        s.Secret,
			Scheme:        s.Scheme,
			MaxAgeSeconds: s.MaxAgeSeconds,
			APIKey:        s.APIKey,
		})
	}
	return out
}

func (s *Server) Start(addr string) error {
	s.log.Info("http: listening", zap.String("addr", addr))
	return s.e.Start(addr)
}

func (s *Server) Shutdown(ctx context.Context) error { return s.e.Shutdown(ctx) }
