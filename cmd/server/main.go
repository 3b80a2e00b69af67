package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fulfillment-service/config"
	"fulfillment-service/internal/api"
	"fulfillment-service/internal/broker"
	"fulfillment-service/internal/pricing"
	"fulfillment-service/internal/redisclient"
	"fulfillment-service/internal/service"
	"fulfillment-service/internal/store"
	"fulfillment-service/internal/util"
	"fulfillment-service/internal/worker"

	"github.com/gin-gonic/gin"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting fulfillment service")

	tp, err := util.InitTracer("fulfillment-service", cfg.Observ.JaegerEndpoint)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			log.Printf("Error shutting down tracer: %v", err)
		}
	}()

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	log.Println("Database connected")

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()
	log.Println("Redis connected")

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicFulfillment)
	defer producer.Close()
	log.Println("Kafka producer initialized")

	eventPublisher := broker.NewEventPublisher(producer)

	calc := &pricing.Calculator{
		PerCourse: cfg.Pricing.PerCourse,
		Combo5:    cfg.Pricing.Combo5,
		Combo10:   cfg.Pricing.Combo10,
	}

	enrollClient := service.NewHTTPEnrollmentClient(
		cfg.Enrollment.BaseURL, cfg.Enrollment.PlatformEmail, cfg.Enrollment.Timeout)
	driveClient := service.NewDriveClient(
		cfg.Drive.APIBase, cfg.Drive.AccessToken, cfg.Drive.Timeout)

	orchestrator := service.NewOrchestrator(
		db, db, db, enrollClient, redisClient, driveClient, eventPublisher, cfg.Fulfillment)
	orderService := service.NewOrderService(db, db, db, eventPublisher, calc)
	paymentService := service.NewPaymentService(
		db, db, orchestrator, eventPublisher, cfg.Pricing.Tolerance)
	callbackService := service.NewCallbackService(
		db, db, db, orchestrator, driveClient, eventPublisher,
		cfg.Drive.FindRetries, cfg.Drive.RetryDelay)
	adminService := service.NewAdminService(
		db, db, orchestrator, driveClient, cfg.Enrollment.PlatformEmail)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	recoveryWorker := worker.NewRecoveryWorker(
		db, redisClient, orchestrator, cfg.Fulfillment.RecoveryTick, 3*cfg.Fulfillment.RecoveryTick)
	go recoveryWorker.Start(workerCtx)

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.Default()
	handler := api.NewHandler(
		orderService, paymentService, callbackService, adminService, cfg.Server.CallbackSecret)
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		log.Printf("Starting HTTP server on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	workerCancel()
	recoveryWorker.Stop()

	log.Println("Server exited")
}
