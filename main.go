package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sakhi/config"
	"sakhi/cron"
	"sakhi/database"
	bookingRepoPkg "sakhi/database/repository/booking"
	ledgerRepoPkg "sakhi/database/repository/ledger"
	roomRepoPkg "sakhi/database/repository/room"
	userRepoPkg "sakhi/database/repository/user"
	"sakhi/handlers"
	"sakhi/routes"
	"sakhi/services/booking"
	"sakhi/services/notification"
	"sakhi/services/settlement"
	"sakhi/services/user"
	"sakhi/services/wallet"
	"sakhi/utils"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/stripe/stripe-go/v76"
)

func main() {
	config.LoadConfig()
	utils.InitializeLogger()
	logger := utils.GetLogger()

	database.InitDB()
	utils.InitCache()
	utils.InitAuthCache()
	utils.FirebaseInit()
	stripe.Key = config.AppConfig.StripeKey

	storageService, err := utils.Cloudinary()
	if err != nil {
		logger.Sugar().Fatalf("main: failed to initialize cloudinary storage service: %v", err)
	}

	// Create the Gin router.
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(utils.ErrorHandler())
	router.Use(gin.Logger())

	// repositories.
	ledgerRepo := ledgerRepoPkg.NewMongoLedgerRepo()
	userRepo := userRepoPkg.NewMongoUserRepo(ledgerRepo)
	bookingRepo := bookingRepoPkg.NewMongoBookingRepo(ledgerRepo)
	signalingRepo := roomRepoPkg.NewMongoSignaling()

	// services.
	notificationService := &notification.DefaultNotificationService{
		Users: userRepo,
	}

	userService := &user.Service{
		Repo:   userRepo,
		Logger: logger,
	}

	bookingService := &booking.DefaultBookingService{
		Repo:      bookingRepo,
		Users:     userRepo,
		Signaling: signalingRepo,
		Notifier:  notificationService,
		Logger:    logger,
		FeeRate:   config.AppConfig.PlatformFeeRate,
	}

	walletService := &wallet.Service{
		Ledger:        ledgerRepo,
		Users:         userRepo,
		Logger:        logger,
		WebhookSecret: config.AppConfig.WebhookSecret,
	}

	settlementEngine := &settlement.Engine{
		Repo:               bookingRepo,
		Logger:             logger,
		Signaling:          signalingRepo,
		MinBillableSeconds: config.AppConfig.MinBillableCallSeconds,
		FeeRate:            config.AppConfig.PlatformFeeRate,
		AcceptTimeout:      time.Duration(config.AppConfig.AcceptTimeoutMinutes) * time.Minute,
	}

	// Assemble the handler bundle.
	handlerBundle := &handlers.HandlerBundle{
		Auth:    handlers.NewAuthHandler(userService),
		Booking: handlers.NewBookingHandler(bookingService, storageService, signalingRepo, logger),
		Wallet:  handlers.NewWalletHandler(walletService, userService),
		Call:    handlers.NewCallHandler(bookingService, signalingRepo),
		Webhook: handlers.NewWebhookHandler(walletService),
	}

	routes.RegisterRoutes(router, handlerBundle)

	// Background settlement and infrastructure monitoring.
	cron.InitSettlementWorker(settlementEngine)
	utils.StartHealthMonitor(
		[]*redis.Client{utils.GetCacheClient(), utils.GetAuthCacheClient()},
		database.MongoClient,
	)

	// Start the HTTP server.
	port := config.AppConfig.AppPort
	if port == "" {
		port = "8080"
	}
	srv := &http.Server{
		Addr:    "0.0.0.0:" + port,
		Handler: router,
	}

	logger.Sugar().Infof("Starting server on %s...", srv.Addr)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Sugar().Fatalf("main: server failed to start: %v", err)
		}
	}()

	// Wait for an OS signal to gracefully shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Sugar().Info("main: server is shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Sugar().Fatalf("main: server forced to shutdown: %v", err)
	}

	logger.Sugar().Info("main: server stopped gracefully")
}
