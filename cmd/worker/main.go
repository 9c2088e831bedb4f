package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/nadi-bh/backend-nadi/internal/billing"
	"github.com/nadi-bh/backend-nadi/internal/config"
	"github.com/nadi-bh/backend-nadi/internal/event"
	"github.com/nadi-bh/backend-nadi/internal/member"
	"github.com/nadi-bh/backend-nadi/internal/myfatoorah"
	"github.com/nadi-bh/backend-nadi/internal/obs"
	"github.com/nadi-bh/backend-nadi/internal/poller"
	"github.com/nadi-bh/backend-nadi/internal/resilience"
	"github.com/nadi-bh/backend-nadi/internal/subscription"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logFormat := envOrDefault("OBS_LOG_FORMAT", "json")
	logLevel := envOrDefault("OBS_LOG_LEVEL", "info")
	logger := obs.NewLogger(logFormat, logLevel).With().Str("component", "worker").Logger()

	obs.MustRegisterDomainMetrics(envOrDefault("OBS_METRICS_NAMESPACE", "nadi"), nil)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	initCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse database config")
	}
	poolConfig.ConnConfig.Tracer = obs.PGXTracer{}
	pool, err := pgxpool.NewWithConfig(initCtx, poolConfig)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	defer pool.Close()
	if err := pool.Ping(initCtx); err != nil {
		logger.Fatal().Err(err).Msg("ping database")
	}

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url")
	}

	taskClient := asynq.NewClient(asynq.RedisClientOpt{Addr: redisOpts.Addr, Password: redisOpts.Password, DB: redisOpts.DB})
	defer func() {
		if err := taskClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close task client")
		}
	}()

	gatewayHTTP := &http.Client{
		Timeout:   30 * time.Second,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
	gateway := &myfatoorah.Client{
		Config: myfatoorah.Config{
			BaseURL:              cfg.MyFatoorahBaseURL,
			EventAPIKey:          cfg.EventAPIKey,
			SubscriptionAPIKey:   cfg.SubscriptionAPIKey,
			EventSupplier:        cfg.EventSupplierName,
			SubscriptionSupplier: cfg.SubscriptionSupplier,
			LogoURL:              cfg.PaymentLogoURL,
		},
		HTTPClient: gatewayHTTP,
		Retry: &resilience.HTTPClient{
			Client:      gatewayHTTP,
			Breaker:     resilience.NewBreaker(10, 0.5, 30*time.Second).WithTarget("myfatoorah").WithLogger(logger),
			BaseBackoff: 200 * time.Millisecond,
			MaxAttempts: 3,
			Jitter:      0.2,
		},
		Log: logger.With().Str("component", "myfatoorah").Logger(),
	}

	billingSvc := &billing.Service{
		Gateway:            gateway,
		Payments:           &billing.Store{Pool: pool},
		Events:             &event.Store{Pool: pool},
		Subscriptions:      &subscription.Store{Pool: pool},
		Members:            &member.Store{Pool: pool},
		Tasks:              taskClient,
		CallbackBaseURL:    cfg.PaymentCallbackBaseURL,
		MembershipFeeFils:  cfg.MembershipFeeFils,
		MembershipTermDays: cfg.MembershipTermDays,
		PollInterval:       cfg.PollInterval,
		Log:                logger.With().Str("component", "billing").Logger(),
	}

	pollHandler := &poller.Handler{
		Gateway:     gateway,
		Billing:     billingSvc,
		Tasks:       taskClient,
		Interval:    cfg.PollInterval,
		MaxAttempts: cfg.PollMaxAttempts,
		Log:         logger.With().Str("component", "poller").Logger(),
	}

	srv := asynq.NewServer(
		asynq.RedisClientOpt{Addr: redisOpts.Addr, Password: redisOpts.Password, DB: redisOpts.DB},
		asynq.Config{
			Concurrency: envInt("WORKER_CONCURRENCY", 10),
			Logger:      asynqLogger{logger},
		},
	)
	mux := asynq.NewServeMux()
	mux.Handle(billing.TypePaymentPoll, pollHandler)

	go func() {
		<-ctx.Done()
		srv.Shutdown()
	}()

	logger.Info().Msg("worker starting")
	if err := srv.Run(mux); err != nil {
		logger.Fatal().Err(err).Msg("worker stopped with error")
	}
	logger.Info().Msg("worker shutdown complete")
}

// asynqLogger adapts zerolog to asynq's logging interface.
type asynqLogger struct {
	log zerolog.Logger
}

func (l asynqLogger) Debug(args ...any) { l.log.Debug().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Info(args ...any)  { l.log.Info().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Warn(args ...any)  { l.log.Warn().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Error(args ...any) { l.log.Error().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Fatal(args ...any) { l.log.Fatal().Msg(fmt.Sprint(args...)) }

func envOrDefault(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(val)
		if trimmed != "" {
			return trimmed
		}
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
			return parsed
		}
	}
	return fallback
}
