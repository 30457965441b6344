package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/civicdrive/backend/docs"
	"github.com/civicdrive/backend/internal/audit"
	"github.com/civicdrive/backend/internal/config"
	"github.com/civicdrive/backend/internal/database"
	"github.com/civicdrive/backend/internal/handlers"
	"github.com/civicdrive/backend/internal/jobs"
	"github.com/civicdrive/backend/internal/logger"
	"github.com/civicdrive/backend/internal/metrics"
	mW "github.com/civicdrive/backend/internal/middleware"
	"github.com/civicdrive/backend/internal/services"
	"github.com/civicdrive/backend/internal/store/postgres"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	httpSwagger "github.com/swaggo/http-swagger"
)

// @title CivicDrive Ledger API
// @version 1.0
// @description Balances, borrowing and payments for municipal vehicle services
// @host localhost:8080
// @BasePath /api/v1
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	// Initialize config
	config.Init()
	logCfg := config.LoadLoggingConfig()
	logger.Init(logCfg)

	jwtSecret := viper.GetString("jwt.secret_key")
	if jwtSecret == "" {
		logrus.Fatal("JWT_SECRET_KEY must be set")
	}

	port := viper.GetString("server.port")

	// Initialize Swagger docs
	docs.SwaggerInfo.Host = "localhost:" + port

	ctx := context.Background()

	// Initialize storage
	db := database.InitDatabase(ctx)
	defer db.Close()

	if err := postgres.Migrate(ctx, db); err != nil {
		logrus.WithError(err).Fatal("Failed to migrate database")
	}

	redisClient := database.InitRedis(ctx)
	if redisClient != nil {
		defer redisClient.Close()
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewDBStatsCollector(db, "civicdrive"),
	)
	appMetrics := metrics.New(registry)

	// Initialize services
	ledgerStore := postgres.New(db)
	policy := services.NewLoanPolicy(config.LoadLoanPolicyConfig())
	paymentService := services.NewPaymentService(ledgerStore, policy,
		services.WithAuditLogger(audit.NewLogger(logger.NewAuditLogger(logCfg))),
		services.WithMetrics(appMetrics),
	)
	customerService := services.NewCustomerService(ledgerStore, policy)
	receiptService := services.NewReceiptService(customerService, redisClient)

	ledgerHandler := handlers.NewLedgerHandler(paymentService, customerService, receiptService)
	paymentHandler := handlers.NewPaymentHandler(paymentService)
	customerHandler := handlers.NewCustomerHandler(customerService)

	auth := mW.NewAuthenticator(jwtSecret, redisClient)
	rateLimiter := mW.NewRateLimiter(redisClient, config.LoadRateLimitConfig(), "ledger")
	idempotency := mW.NewIdempotency(redisClient, config.LoadIdempotencyConfig())

	sweeper := jobs.NewRefundSweeper(paymentService, config.LoadRefundConfig())
	if err := sweeper.Start(); err != nil {
		logrus.WithError(err).Fatal("Failed to start refund sweeper")
	}

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(mW.SecurityHeaders)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(appMetrics.Middleware)

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", mW.IdempotencyHeader},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "Retry-After", "Idempotent-Replayed"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		status := map[string]string{"status": "healthy", "database": "up", "redis": "disabled"}
		code := http.StatusOK
		if err := db.PingContext(r.Context()); err != nil {
			status["status"], status["database"] = "unhealthy", "down"
			code = http.StatusServiceUnavailable
		}
		if redisClient != nil {
			status["redis"] = "up"
			if err := redisClient.Ping(r.Context()).Err(); err != nil {
				status["redis"] = "down"
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(status)
	})

	r.Handle("/metrics", metrics.Handler(registry))

	// Swagger documentation
	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(auth.Middleware)

		r.Get("/ledger/balance", ledgerHandler.GetBalance)
		r.Get("/ledger/transactions", ledgerHandler.GetTransactions)
		r.Get("/ledger/transactions/{id}", ledgerHandler.GetTransaction)
		r.Get("/ledger/transactions/{id}/receipt", ledgerHandler.GetReceipt)
		r.Get("/ledger/limit", ledgerHandler.GetBorrowLimit)
		r.Get("/ledger/affordability", ledgerHandler.CheckAffordability)
		r.Get("/ledger/deposit/preview", ledgerHandler.PreviewDeposit)

		// Balance mutations
		r.Group(func(r chi.Router) {
			r.Use(rateLimiter.Middleware)
			r.Use(idempotency.Middleware)

			r.Post("/ledger/deposit", ledgerHandler.Deposit)
			r.Post("/ledger/withdraw", ledgerHandler.Withdraw)
			r.Post("/ledger/transfer", ledgerHandler.Transfer)
			r.Post("/ledger/borrow", ledgerHandler.Borrow)
			r.Post("/ledger/use", ledgerHandler.Use)
			r.Post("/ledger/repay", ledgerHandler.Repay)
			r.Post("/payments/{kind}", paymentHandler.Charge)
		})

		// Registry, police and parking staff
		r.Group(func(r chi.Router) {
			r.Use(mW.RequireRole(mW.StaffRoles...))

			r.Get("/receipts/{code}", ledgerHandler.VerifyReceipt)
			r.Get("/customers/balance", customerHandler.GetCustomerBalance)
			r.Get("/customers/balances", customerHandler.SearchBalances)
			r.Get("/customers/transactions", customerHandler.GetCustomerTransactions)
			r.Get("/customers/{userID}/balance", customerHandler.GetCustomerBalanceByID)

			r.With(idempotency.Middleware).Post("/payments/refund", paymentHandler.Refund)
		})

		r.Group(func(r chi.Router) {
			r.Use(mW.RequireRole(mW.RoleAdmin, mW.RoleRegistry))
			r.Use(idempotency.Middleware)

			r.Post("/admin/deposit", ledgerHandler.AdminDeposit)
		})
	})

	// Start server
	server := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		logrus.WithField("port", port).Info("Server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.WithError(err).Fatal("Server failed")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logrus.Info("Server shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Error("Server forced to shutdown")
	}
	sweeper.Stop(shutdownCtx)

	logrus.Info("Server stopped")
}
