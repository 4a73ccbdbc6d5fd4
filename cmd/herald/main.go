package main

import (
	"context"
	"time"

	"postdeck/internal/handlers"
	"postdeck/internal/ledger"
	"postdeck/internal/provisioner"
	"postdeck/internal/reconciler"
	stripeclient "postdeck/internal/stripe"
	"postdeck/pkg/auth"
	"postdeck/pkg/cache"
	"postdeck/pkg/clients"
	"postdeck/pkg/clients/ayrshare"
	"postdeck/pkg/config"
	"postdeck/pkg/crypto"
	"postdeck/pkg/database"
	"postdeck/pkg/logging"
	"postdeck/pkg/monitoring"
	"postdeck/pkg/ratelimit"
	"postdeck/pkg/redis"
	"postdeck/pkg/server"
	"postdeck/pkg/version"
)

func main() {
	// Setup logger
	logger := logging.NewLoggerWithService("herald")

	// Load environment variables
	config.LoadEnv(logger)

	logger.Info("Starting Herald (Event Reconciliation API)")

	dbURL := config.RequireEnv("DATABASE_URL")
	jwtSecret := config.RequireEnv("JWT_SECRET")
	serviceToken := config.RequireEnv("SERVICE_TOKEN")
	ayrshareKey := config.RequireEnv("AYRSHARE_API_KEY")
	stripeSecretKey := config.GetEnv("STRIPE_SECRET_KEY", "")
	stripeWebhookSecret := config.GetEnv("STRIPE_WEBHOOK_SECRET", "")

	// Connect to database and apply schema
	dbConfig := database.DefaultConfig()
	dbConfig.URL = dbURL
	db := database.MustConnect(dbConfig, logger)
	defer db.Close()
	if err := database.ApplySchema(db, logger); err != nil {
		logger.WithError(err).Fatal("Schema migration failed")
	}

	// Setup monitoring
	healthChecker := monitoring.NewHealthChecker("herald", version.Version)
	metricsCollector := monitoring.NewMetricsCollector("herald", version.Version, version.GitCommit)

	healthChecker.AddCheck("database", monitoring.DatabaseHealthCheck(db))
	healthChecker.AddCheck("config", monitoring.ConfigurationHealthCheck(map[string]string{
		"DATABASE_URL":     dbURL,
		"JWT_SECRET":       jwtSecret,
		"AYRSHARE_API_KEY": ayrshareKey,
	}))

	// Webhook rate limiting: redis-backed when available so limits hold
	// across replicas, in-process otherwise.
	var limiterStore ratelimit.Store = ratelimit.NewMemoryStore()
	if redisURL := config.GetEnv("REDIS_ADDR", ""); redisURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		redisClient, err := redis.NewUniversalClient(ctx, redis.Config{
			Mode:     redis.Mode(config.GetEnv("REDIS_MODE", string(redis.ModeSingle))),
			Addrs:    []string{redisURL},
			Password: config.GetEnv("REDIS_PASSWORD", ""),
		})
		cancel()
		if err != nil {
			logger.WithError(err).Warn("Redis unavailable, falling back to in-process rate limiting")
		} else {
			defer redisClient.Close()
			limiterStore = ratelimit.NewRedisStore(redisClient, "herald:ratelimit")
			healthChecker.AddCheck("redis", monitoring.RedisHealthCheck(redisClient))
		}
	}
	webhookLimiter := ratelimit.NewLimiter(limiterStore,
		int64(config.GetEnvInt("WEBHOOK_RATE_LIMIT", 300)), time.Minute)

	// Custom herald metrics
	metrics := &handlers.HeraldMetrics{
		WebhookEvents:            metricsCollector.NewCounter("webhook_events_total", "Webhook events processed", []string{"provider", "event_type", "outcome"}),
		WebhookSignatureFailures: metricsCollector.NewCounter("webhook_signature_failures_total", "Webhook signature verification failures", []string{"provider"}),
		QuarantinedEvents:        metricsCollector.NewCounter("quarantined_events_total", "Unroutable webhook events quarantined", []string{"provider"}),
		ProvisioningRuns:         metricsCollector.NewCounter("provisioning_runs_total", "Profile provisioning runs", []string{"outcome"}),
	}
	metrics.DBQueries, metrics.DBDuration, metrics.DBConnections = metricsCollector.CreateDatabaseMetrics()

	cacheHits := metricsCollector.NewCounter("history_cache_hits_total", "Reconciliation cache hits", []string{})
	cacheMisses := metricsCollector.NewCounter("history_cache_misses_total", "Reconciliation cache misses", []string{})

	// Distribution provider client
	ayrClient := ayrshare.NewClient(ayrshareKey,
		ayrshare.WithHTTPClient(clients.NewHTTPClient(15*time.Second)),
		ayrshare.WithLogger(logger),
	)

	// Billing provider client
	var stripeClient *stripeclient.Client
	if stripeSecretKey != "" {
		stripeClient = stripeclient.NewClient(stripeclient.Config{
			SecretKey:     stripeSecretKey,
			WebhookSecret: stripeWebhookSecret,
			Logger:        logger,
		})
	} else {
		logger.Warn("STRIPE_SECRET_KEY not set, billing webhooks disabled")
	}

	// Profile API keys are encrypted at rest when a master secret is set.
	var fieldEncryptor *crypto.FieldEncryptor
	if secret := config.GetEnv("FIELD_ENCRYPTION_SECRET", ""); secret != "" {
		var err error
		fieldEncryptor, err = crypto.DeriveFieldEncryptor([]byte(secret), "profile-keys")
		if err != nil {
			logger.WithError(err).Fatal("Field encryption setup failed")
		}
	} else {
		logger.Warn("FIELD_ENCRYPTION_SECRET not set, profile keys stored in plaintext")
	}

	// Core services
	eventLedger := ledger.New(db, logger)
	emailService := handlers.NewEmailService(logger)
	provisionerCfg := provisioner.DefaultConfig()
	provisionerCfg.Encryptor = fieldEncryptor
	wsProvisioner := provisioner.New(db, ayrClient, emailService, logger, provisionerCfg)
	historyCache := cache.New(cache.Options{
		TTL:        config.GetEnvDuration("HISTORY_CACHE_TTL", 2*time.Minute),
		MaxEntries: config.GetEnvInt("HISTORY_CACHE_MAX_ENTRIES", 1000),
	}, cache.MetricsHooks{
		OnHit:  func(map[string]string) { cacheHits.WithLabelValues().Inc() },
		OnMiss: func(map[string]string) { cacheMisses.WithLabelValues().Inc() },
	})
	schedReconciler := reconciler.New(db, ayrClient, historyCache, logger,
		reconciler.WithEncryptor(fieldEncryptor))

	// Initialize handlers
	handlers.Init(db, logger, metrics, handlers.Deps{
		Ledger:      eventLedger,
		Provisioner: wsProvisioner,
		Reconciler:  schedReconciler,
		Stripe:      stripeClient,
		Ayrshare:    ayrClient,
		Encryptor:   fieldEncryptor,
	})

	// Setup router with unified monitoring
	router := server.SetupServiceRouter(logger, "herald", healthChecker, metricsCollector)

	// API routes (root level - nginx adds /api/ prefix)
	{
		// Authentication required endpoints
		protected := router.Group("")
		protected.Use(auth.JWTAuthMiddleware([]byte(jwtSecret)))
		{
			protected.GET("/schedule", handlers.GetUnifiedSchedule)
			protected.GET("/posts/:id/analytics", handlers.GetPostAnalytics)
			protected.POST("/posts/:id/analytics", handlers.RefreshPostAnalytics)
			protected.GET("/comments", handlers.ListComments)
			protected.GET("/messages", handlers.ListMessages)
		}

		// Webhook endpoints (signature-verified, rate-limited, no auth)
		webhooks := router.Group("/webhooks")
		webhooks.Use(ratelimit.Middleware(webhookLimiter, nil, logger))
		{
			webhooks.POST("/stripe", handlers.HandleStripeWebhook)
			webhooks.POST("/ayrshare", handlers.HandleAyrshareWebhook)
		}

		// Operator endpoints (service-to-service)
		serviceAPI := router.Group("")
		serviceAPI.Use(auth.ServiceAuthMiddleware(serviceToken))
		{
			serviceAPI.GET("/admin/workspaces/repair", handlers.ListWorkspacesNeedingRepair)
			serviceAPI.POST("/admin/workspaces/:id/repair", handlers.RepairWorkspace)
			serviceAPI.POST("/admin/workspaces/:id/cancel", handlers.CancelWorkspaceBilling)
			serviceAPI.DELETE("/admin/events/:provider/:event_id", handlers.ReplayEvent)
		}
	}

	// Start server with graceful shutdown
	serverConfig := server.DefaultConfig("herald", "18010")
	if err := server.Start(serverConfig, router, logger); err != nil {
		logger.WithError(err).Fatal("Server startup failed")
	}
}
