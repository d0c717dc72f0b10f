package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/tripmarket/marketplace-backend/internal/config"
	"github.com/tripmarket/marketplace-backend/internal/database"
	"github.com/tripmarket/marketplace-backend/internal/handlers"
	"github.com/tripmarket/marketplace-backend/internal/middleware"
	"github.com/tripmarket/marketplace-backend/internal/services"
	"github.com/tripmarket/marketplace-backend/pkg/jwt"
	"github.com/tripmarket/marketplace-backend/pkg/notify"
	"github.com/tripmarket/marketplace-backend/pkg/paygate"
)

var (
	version   = "1.0.0"
	buildTime = "unknown"
)

func main() {
	// Initialize logger
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)

	logger.WithFields(logrus.Fields{
		"version":    version,
		"build_time": buildTime,
	}).Info("Starting marketplace backend")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	logLevel, err := logrus.ParseLevel(cfg.Server.LogLevel)
	if err != nil {
		logger.Warn("Invalid log level, using INFO")
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	if cfg.Server.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	// Database
	db, err := database.NewConnection(cfg.Database, logger)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	logger.Info("Database connection established")

	bookingRepo := database.NewBookingRepository(db.DB, logger)
	tripRepo := database.NewTripRepository(db.DB)
	vendorRepo := database.NewVendorRepository(db.DB)
	promoRepo := database.NewPromoCodeRepository(db.DB)
	paymentRepo := database.NewPaymentRepository(db.DB)
	escrowRepo := database.NewEscrowRepository(db.DB, logger)
	payoutRepo := database.NewPayoutRepository(db.DB, logger)
	eventRepo := database.NewGatewayEventRepository(db.DB)
	auditRepo := database.NewPaymentAuditRepository(db.DB, logger)

	// Payment gateway
	gateway, err := newGateway(cfg, logger)
	if err != nil {
		logger.Fatalf("Failed to initialize payment gateway: %v", err)
	}

	// Notifications
	var notifier notify.Notifier = notify.NewLogNotifier(logger)
	var asyncNotifier *notify.AsyncNotifier
	if cfg.Kafka.Enabled {
		producer, err := notify.NewSyncProducer(cfg.Kafka.Brokers, cfg.Kafka.ClientID)
		if err != nil {
			logger.Fatalf("Failed to connect to Kafka: %v", err)
		}
		kafkaNotifier := notify.NewKafkaNotifier(producer, cfg.Kafka.TopicPrefix, cfg.Kafka.ClientID, logger)
		defer kafkaNotifier.Close()
		// webhook and request paths enqueue; the broker is written from the worker
		asyncNotifier = notify.NewAsyncNotifier(kafkaNotifier, notify.AsyncConfig{Buffer: cfg.Kafka.QueueSize}, logger)
		notifier = asyncNotifier
		logger.WithField("brokers", cfg.Kafka.Brokers).Info("Kafka notifications enabled")
	}

	// Services
	jwtService := jwt.NewService(cfg.JWT.Secret, cfg.JWT.Issuer, cfg.JWT.AccessTokenExpiry)
	promoService := services.NewPromoService(promoRepo, logger)
	escrowService := services.NewEscrowService(escrowRepo, logger)
	bookingService := services.NewBookingService(
		bookingRepo,
		tripRepo,
		vendorRepo,
		paymentRepo,
		promoService,
		gateway,
		notifier,
		auditRepo,
		services.BookingServiceConfig{
			Pricing:          services.NewPricingConfig(cfg.Pricing),
			DefaultCurrency:  cfg.Payment.Currency,
			ReceiptVerifyURL: cfg.Server.ReceiptVerifyURL,
		},
		logger,
	)
	payoutService := services.NewPayoutService(
		vendorRepo,
		escrowRepo,
		payoutRepo,
		gateway,
		notifier,
		auditRepo,
		cfg.Payout,
		cfg.Payment.Currency,
		logger,
	)
	reconcilerService := services.NewReconcilerService(
		eventRepo,
		bookingRepo,
		paymentRepo,
		payoutRepo,
		vendorRepo,
		bookingService,
		escrowService,
		notifier,
		auditRepo,
		services.ReconcilerConfig{ReplayMaxAttempts: cfg.Jobs.ReplayMaxAttempts},
		logger,
	)

	reviewService := services.NewReviewService(auditRepo, bookingRepo, paymentRepo, escrowService, logger)

	cronService := services.NewCronService(
		escrowService,
		bookingService,
		payoutService,
		reconcilerService,
		cfg.Jobs,
		cfg.Payout,
		logger,
	)
	if cfg.Jobs.Enabled {
		if err := cronService.Start(); err != nil {
			logger.Fatalf("Failed to start cron service: %v", err)
		}
		defer cronService.Stop()
		logger.Info("Cron service started")
	} else {
		logger.Warn("Scheduled jobs disabled, use the admin job endpoints")
	}

	// Handlers
	bookingHandler := handlers.NewBookingHandler(bookingService, logger)
	webhookHandler := handlers.NewWebhookHandler(reconcilerService, handlers.WebhookConfig{
		Secret:    cfg.Payment.WebhookSecret,
		Tolerance: cfg.Payment.WebhookTolerance,
	}, logger)
	vendorHandler := handlers.NewVendorHandler(escrowService, payoutService, logger)
	adminHandler := handlers.NewAdminHandler(cronService, promoService, reviewService, logger)

	// Router
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger(logger))
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.CORS.AllowedOrigins,
		AllowMethods:     cfg.CORS.AllowedMethods,
		AllowHeaders:     cfg.CORS.AllowedHeaders,
		ExposeHeaders:    []string{"Content-Length", middleware.RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/health", healthCheckHandler(db))

	v1 := router.Group("/api/v1")
	{
		// Signed by the payment provider, no bearer token
		v1.POST("/payments/webhook", webhookHandler.HandlePaymentWebhook)

		protected := v1.Group("")
		protected.Use(middleware.AuthMiddleware(jwtService))
		{
			protected.POST("/pricing/quote", bookingHandler.QuotePrice)

			bookings := protected.Group("/bookings")
			{
				bookings.POST("", bookingHandler.CreateBooking)
				bookings.GET("/:id", bookingHandler.GetBooking)
				bookings.POST("/:id/cancel", bookingHandler.CancelBooking)
				bookings.GET("/:id/receipt", bookingHandler.GetReceipt)
			}

			vendor := protected.Group("/vendor")
			vendor.Use(middleware.RequireRole(jwt.RoleVendor), middleware.RequireVendor(vendorRepo, logger))
			{
				vendor.GET("/balance", vendorHandler.GetBalance)
				vendor.POST("/payouts/early", vendorHandler.RequestEarlyPayout)
			}

			admin := protected.Group("/admin")
			admin.Use(middleware.RequireRole(jwt.RoleAdmin))
			{
				admin.GET("/jobs", adminHandler.GetJobStatus)
				admin.POST("/jobs/escrow-release", adminHandler.RunEscrowRelease)
				admin.POST("/jobs/complete-bookings", adminHandler.RunCompleteBookings)
				admin.POST("/jobs/payout-batch", adminHandler.RunPayoutBatch)
				admin.POST("/jobs/resume-stalled", adminHandler.RunResumeStalled)
				admin.POST("/jobs/replay-events", adminHandler.RunReplayEvents)
				admin.POST("/promo-codes/:code/deactivate", adminHandler.DeactivatePromoCode)
				admin.GET("/payment-audits/review", adminHandler.ListReviewQueue)
				admin.GET("/bookings/:id/ledger", adminHandler.GetBookingLedger)
			}
		}
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	go func() {
		logger.WithField("port", cfg.Server.Port).Info("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}
	if asyncNotifier != nil {
		if err := asyncNotifier.Close(ctx); err != nil {
			logger.WithError(err).Error("Notification queue not drained")
		}
	}
	logger.Info("Server exited")
}

// newGateway returns the provider client, or the in-memory development
// gateway when it is requested outside production
func newGateway(cfg *config.Config, logger *logrus.Logger) (paygate.Gateway, error) {
	if cfg.Payment.UseDevGateway && !cfg.Server.IsProduction() {
		logger.Warn("Using development payment gateway, no real charges will be made")
		return paygate.NewDevGateway(logger)
	}

	client := paygate.NewClient(paygate.ClientConfig{
		BaseURL:   cfg.Payment.BaseURL,
		SecretKey: cfg.Payment.SecretKey,
		Timeout:   cfg.Payment.Timeout,
	}, logger)
	if !client.IsConfigured() {
		logger.Warn("Payment gateway credentials missing, gateway calls will fail")
	}
	return client, nil
}

// healthCheckHandler returns a health check endpoint
func healthCheckHandler(db *database.PostgresDB) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		if err := db.Health(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":   "unhealthy",
				"database": "unhealthy",
				"error":    err.Error(),
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"database":  "healthy",
			"version":   version,
			"timestamp": time.Now().Unix(),
		})
	}
}
