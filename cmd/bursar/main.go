package main

import (
	"context"
	"time"

	"bursar/internal/checkout"
	"bursar/internal/correlation"
	"bursar/internal/flow"
	"bursar/internal/handlers"
	"bursar/internal/notifications"
	"bursar/internal/pending"
	"bursar/internal/provider"
	"bursar/internal/settlement"
	"bursar/pkg/auth"
	"bursar/pkg/config"
	"bursar/pkg/crypto"
	"bursar/pkg/database"
	"bursar/pkg/logging"
	"bursar/pkg/monitoring"
	"bursar/pkg/server"
	"bursar/pkg/version"
)

func main() {
	// Setup logger
	logger := logging.NewLoggerWithService("bursar")

	// Load environment variables
	config.LoadEnv(logger)

	logger.Info("Starting Bursar (Checkout API)")

	dbURL := config.RequireEnv("DATABASE_URL")
	jwtSecret := config.RequireEnv("JWT_SECRET")
	serviceToken := config.RequireEnv("SERVICE_TOKEN")
	providerURL := config.RequireEnv("PROVIDER_URL")
	providerToken := config.RequireEnv("PROVIDER_TOKEN")
	ledgerURL := config.RequireEnv("LEDGER_URL")
	ledgerToken := config.RequireEnv("LEDGER_TOKEN")
	fieldSecret := config.RequireEnv("FIELD_ENCRYPTION_SECRET")

	// Connect to database
	dbConfig := database.DefaultConfig()
	dbConfig.URL = dbURL
	db := database.MustConnect(dbConfig, logger)
	defer db.Close()

	// Setup monitoring
	healthChecker := monitoring.NewHealthChecker("bursar", version.Version)
	metricsCollector := monitoring.NewMetricsCollector("bursar", version.Version, version.GitCommit)

	healthChecker.AddCheck("database", monitoring.DatabaseHealthCheck(db))
	healthChecker.AddCheck("config", monitoring.ConfigurationHealthCheck(map[string]string{
		"DATABASE_URL": dbURL,
		"JWT_SECRET":   jwtSecret,
		"PROVIDER_URL": providerURL,
		"LEDGER_URL":   ledgerURL,
	}))
	healthChecker.AddCheck("ledger", monitoring.HTTPServiceHealthCheck("ledger", ledgerURL+"/health"))

	handlers.InitMetrics(metricsCollector)

	// Holder names are encrypted before they reach the ledger
	encryptor, err := crypto.DeriveFieldEncryptor([]byte(fieldSecret), "payment-instrument")
	if err != nil {
		logger.WithError(err).Fatal("Failed to derive field encryptor")
	}

	// Wire checkout collaborators
	pendingStore := pending.NewPostgresStore(db)

	providerClient := provider.NewClient(provider.Config{
		BaseURL:     providerURL,
		BearerToken: providerToken,
		Timeout:     config.GetEnvDuration("PROVIDER_TIMEOUT", 30*time.Second),
		Logger:      logger,
	})

	ledgerClient := settlement.NewClient(settlement.Config{
		BaseURL:      ledgerURL,
		SessionToken: ledgerToken,
		Timeout:      config.GetEnvDuration("LEDGER_TIMEOUT", 30*time.Second),
		Logger:       logger,
		Encryptor:    encryptor,
	})

	defaultRate := config.GetEnvInt64("WALLET_UNIT_PRICE_CENTS", 5)
	rates := settlement.NewRateSource(ledgerClient, defaultRate)

	recentTransactions := correlation.New(time.Now)

	orchestrator := flow.NewOrchestrator(flow.Config{
		Intents:         checkout.NewBuilder(rates),
		Pending:         pendingStore,
		Provider:        providerClient,
		Settler:         ledgerClient,
		Recent:          recentTransactions,
		Receipts:        handlers.NewReceiptMailer(logger),
		Logger:          logger,
		ProviderBaseURL: providerURL,
	})

	listener := notifications.NewListener(recentTransactions, logger)

	// Initialize handlers
	handlers.Init(db, logger, orchestrator, listener)

	// Background sweep of abandoned pending transactions
	jobManager := handlers.NewJobManager(pendingStore, logger)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	jobManager.Start(ctx)
	defer jobManager.Stop()

	// Setup router with unified monitoring
	router := server.SetupServiceRouter(logger, "bursar", healthChecker, metricsCollector)

	{
		// Authentication required endpoints
		protected := router.Group("")
		protected.Use(auth.JWTAuthMiddleware([]byte(jwtSecret)))
		{
			protected.POST("/checkout", handlers.StartCheckout)
			protected.GET("/checkout/return", handlers.CheckoutReturn)
			protected.GET("/checkout/:client_transaction_id/status", handlers.CheckoutStatus)
			protected.POST("/checkout/:client_transaction_id/retry", handlers.RetryCheckout)
			protected.POST("/checkout/preview", handlers.PreviewRedemption)
		}

		// Push ingress (service-to-service)
		serviceAPI := router.Group("")
		serviceAPI.Use(auth.ServiceAuthMiddleware(serviceToken))
		{
			serviceAPI.POST("/notifications/push", handlers.HandlePushNotification)
		}
	}

	// Start server with graceful shutdown
	serverConfig := server.DefaultConfig("bursar", "18010")
	if err := server.Start(serverConfig, router, logger); err != nil {
		logger.WithError(err).Fatal("Server startup failed")
	}
}
