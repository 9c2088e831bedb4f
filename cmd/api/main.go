package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	validator "github.com/go-playground/validator/v10"
	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	limiter "github.com/ulule/limiter/v3"
	limitermw "github.com/ulule/limiter/v3/drivers/middleware/stdlib"
	limiterredis "github.com/ulule/limiter/v3/drivers/store/redis"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/nadi-bh/backend-nadi/internal/auth"
	"github.com/nadi-bh/backend-nadi/internal/billing"
	"github.com/nadi-bh/backend-nadi/internal/common"
	"github.com/nadi-bh/backend-nadi/internal/config"
	"github.com/nadi-bh/backend-nadi/internal/db"
	"github.com/nadi-bh/backend-nadi/internal/event"
	"github.com/nadi-bh/backend-nadi/internal/health"
	"github.com/nadi-bh/backend-nadi/internal/member"
	"github.com/nadi-bh/backend-nadi/internal/myfatoorah"
	"github.com/nadi-bh/backend-nadi/internal/obs"
	"github.com/nadi-bh/backend-nadi/internal/resilience"
	"github.com/nadi-bh/backend-nadi/internal/security"
	"github.com/nadi-bh/backend-nadi/internal/subscription"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logFormat := envOrDefault("OBS_LOG_FORMAT", "json")
	logLevel := envOrDefault("OBS_LOG_LEVEL", "info")
	logger := obs.NewLogger(logFormat, logLevel).With().Str("env", cfg.AppEnv).Logger()

	metricsNamespace := envOrDefault("OBS_METRICS_NAMESPACE", "nadi")
	metricsEnabled := envBool("OBS_ENABLE_PROMETHEUS", true)
	obs.MustRegisterDomainMetrics(metricsNamespace, nil)

	tracingEnabled := envBool("OBS_ENABLE_TRACING", true)
	if tracingEnabled {
		sampling := envFloat("OBS_TRACING_SAMPLING_RATIO", 1.0)
		shutdown, err := obs.InitTracer(context.Background(), obs.TracingConfig{
			ServiceName:   "nadi-api",
			Endpoint:      envOrDefault("OBS_OTLP_ENDPOINT", ""),
			Exporter:      envOrDefault("OBS_TRACING_EXPORTER", "otlp"),
			SamplingRatio: sampling,
			Environment:   cfg.AppEnv,
		})
		if err != nil {
			logger.Error().Err(err).Msg("initialise tracing")
			tracingEnabled = false
		} else {
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					logger.Error().Err(err).Msg("shutdown tracer")
				}
			}()
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := db.Migrate(cfg.DatabaseURL); err != nil {
		logger.Fatal().Err(err).Msg("apply migrations")
	}

	initCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse database config")
	}
	poolConfig.ConnConfig.Tracer = obs.PGXTracer{}
	if poolConfig.ConnConfig.RuntimeParams == nil {
		poolConfig.ConnConfig.RuntimeParams = map[string]string{}
	}
	poolConfig.ConnConfig.RuntimeParams["application_name"] = "nadi-api"

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
	redisClient := redis.NewClient(redisOpts)
	if err := redisotel.InstrumentTracing(redisClient); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if metricsEnabled {
		if err := redisotel.InstrumentMetrics(redisClient); err != nil {
			logger.Error().Err(err).Msg("instrument redis metrics")
		}
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close redis")
		}
	}()
	if err := redisClient.Ping(initCtx).Err(); err != nil {
		logger.Fatal().Err(err).Msg("ping redis")
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

	members := &member.Store{Pool: pool}
	events := &event.Store{Pool: pool}
	subscriptions := &subscription.Store{Pool: pool}
	payments := &billing.Store{Pool: pool}

	validate := validator.New()

	authService, err := auth.NewService(auth.Config{
		Members: members,
		Secret:  cfg.JWTSecret,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise auth service")
	}
	authHandler := &auth.Handler{Svc: authService, Validate: validate}
	authMiddleware := auth.Middleware{Service: authService}

	billingSvc := &billing.Service{
		Gateway:            gateway,
		Payments:           payments,
		Events:             events,
		Subscriptions:      subscriptions,
		Members:            members,
		Tasks:              taskClient,
		CallbackBaseURL:    cfg.PaymentCallbackBaseURL,
		MembershipFeeFils:  cfg.MembershipFeeFils,
		MembershipTermDays: cfg.MembershipTermDays,
		PollInterval:       cfg.PollInterval,
		Log:                logger.With().Str("component", "billing").Logger(),
	}
	billingHandler := &billing.Handler{Svc: billingSvc, Validate: validate}
	callback := &billing.Callback{
		Svc:       billingSvc,
		Gateway:   gateway,
		Replay:    redisClient,
		ReplayTTL: cfg.CallbackReplayTTL,
		Log:       logger.With().Str("component", "callback").Logger(),
	}

	eventHandler := &event.Handler{Store: events, Validate: validate}
	subscriptionHandler := &subscription.Handler{Store: subscriptions}

	idem := common.Idem{R: redisClient, TTL: cfg.CallbackReplayTTL}

	limiterStore, err := limiterredis.NewStoreWithOptions(redisClient, limiter.StoreOptions{Prefix: "limiter"})
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise rate limiter store")
	}
	checkoutLimiter := limitermw.NewMiddleware(limiter.New(limiterStore, limiter.Rate{Period: time.Minute, Limit: 30}))
	loginLimiter := limitermw.NewMiddleware(limiter.New(limiterStore, limiter.Rate{Period: time.Minute, Limit: 10}))

	var httpMetrics *obs.HTTPMetrics
	if metricsEnabled {
		buckets := obs.ParseBucketsCSV(envOrDefault("OBS_METRICS_BUCKETS_MS", ""))
		httpMetrics = obs.NewHTTPMetrics(metricsNamespace, buckets, nil)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(security.Headers{Enable: true}.Middleware)
	r.Use(security.BodyLimit{Max: 1 << 20}.Middleware)
	r.Use(obs.RoutePatternMiddleware)
	if tracingEnabled {
		r.Use(obs.TracingMiddleware)
	}
	if metricsEnabled && httpMetrics != nil {
		r.Use(obs.HTTPObs{Metrics: httpMetrics}.Middleware)
	}
	r.Use(obs.RequestLogger{Logger: logger}.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins(cfg),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	healthHandler := health.Handler{
		Checker:      health.Deps{DB: pool, Redis: redisClient},
		DBTimeout:    envDurationMillis("HEALTH_READY_DB_TIMEOUT_MS", 500),
		RedisTimeout: envDurationMillis("HEALTH_READY_REDIS_TIMEOUT_MS", 300),
	}
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)

	r.Route("/v1", func(v chi.Router) {
		v.Get("/events", eventHandler.List)
		v.Get("/events/{eventId}", eventHandler.Get)

		v.Route("/auth", func(a chi.Router) {
			a.Post("/register", authHandler.Register)
			a.With(loginLimiter.Handler).Post("/login", authHandler.Login)
			a.With(authMiddleware.RequireAuth).Get("/me", authHandler.Me)
		})

		v.Group(func(g chi.Router) {
			g.Use(authMiddleware.RequireAuth)
			// Bearer requests bypass this; it guards the cookie fallback.
			g.Use(security.CSRF{}.Middleware)
			g.Use(checkoutLimiter.Handler)
			g.With(idem.Middleware).Post("/events/{eventId}/checkout", billingHandler.InitiateEventCheckout)
			g.With(idem.Middleware).Post("/payments/{referenceId}/execute", billingHandler.ExecuteCheckout)
			g.With(idem.Middleware).Post("/subscriptions/checkout", billingHandler.StartSubscriptionCheckout)
			g.With(idem.Middleware).Post("/subscriptions/checkout/legacy", billingHandler.LegacySubscriptionCheckout)
		})

		v.Group(func(g chi.Router) {
			g.Use(authMiddleware.RequireAuth)
			g.Get("/payments/{referenceId}/status", billingHandler.Status)
			g.Get("/subscriptions/me", subscriptionHandler.Me)
		})

		v.Route("/admin", func(admin chi.Router) {
			admin.Use(authMiddleware.RequireAuth)
			admin.Use(security.CSRF{}.Middleware)
			admin.Use(requireRole(members, "admin"))
			admin.Post("/events", eventHandler.Create)
		})

		// The gateway redirects the customer's browser here; no auth.
		v.Get("/payments/callback", callback.Handle)
		v.Post("/payments/callback", callback.Handle)
		v.Get("/payments/error", callback.HandleError)
	})

	srv := &http.Server{
		Addr:    cfg.HTTPAddr(),
		Handler: r,
	}

	go func() {
		<-ctx.Done()
		health.SetReady(false)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("server shutdown")
		}
	}()

	logger.Info().Str("addr", srv.Addr).Msg("server starting")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("server exited unexpectedly")
	}
	logger.Info().Msg("server shutdown complete")
}

func allowedOrigins(cfg *config.Config) []string {
	if len(cfg.CORSAllowedOrigins) == 0 {
		return []string{"*"}
	}
	return cfg.CORSAllowedOrigins
}

func requireRole(members *member.Store, role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			memberID, ok := common.UserID(r.Context())
			if !ok {
				common.JSONError(w, http.StatusForbidden, "FORBIDDEN", "forbidden", nil)
				return
			}
			m, err := members.GetByID(r.Context(), memberID)
			if err != nil || m.Role != role {
				common.JSONError(w, http.StatusForbidden, "FORBIDDEN", "insufficient permissions", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func envOrDefault(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(val)
		if trimmed != "" {
			return trimmed
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "1", "t", "true", "yes", "on":
			return true
		case "0", "f", "false", "no", "off":
			return false
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseFloat(strings.TrimSpace(val), 64); err == nil {
			return parsed
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

func envDurationMillis(key string, fallback int) time.Duration {
	return time.Duration(envInt(key, fallback)) * time.Millisecond
}
