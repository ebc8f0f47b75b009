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

	"payment-gateway/config"
	"payment-gateway/internal/api"
	"payment-gateway/internal/broker"
	"payment-gateway/internal/checkout"
	"payment-gateway/internal/models"
	"payment-gateway/internal/payments"
	"payment-gateway/internal/redisclient"
	"payment-gateway/internal/store"
	"payment-gateway/internal/util"
	"payment-gateway/internal/worker"

	"github.com/gin-gonic/gin"
)

func main() {

	cfg := config.Load()

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting payment gateway")

	tp, err := util.InitTracer("payment-gateway", cfg.Observ.JaegerEndpoint)
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

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicPayments)
	defer producer.Close()
	log.Println("Kafka producer initialized")

	eventPublisher := broker.NewEventPublisher(producer)

	registry := payments.Registry{}
	var klarnaClient *payments.KlarnaClient
	var anetClient *payments.AuthorizeNetClient

	timeout := cfg.Checkout.RequestTimeout
	retries := cfg.Checkout.MaxRetries

	if cfg.Affirm.Enabled {
		affirmClient, err := payments.NewAffirmClient(
			cfg.Affirm.BaseURL, cfg.Affirm.PublicKey, cfg.Affirm.PrivateKey,
			cfg.Server.SiteURL, timeout, retries)
		if err != nil {
			log.Fatalf("Failed to initialize Affirm client: %v", err)
		}
		registry[models.ProviderAffirm] = affirmClient
	}

	if cfg.Klarna.Enabled {
		klarnaClient, err = payments.NewKlarnaClient(
			cfg.Klarna.BaseURL, cfg.Klarna.APIKey, cfg.Klarna.APISecret,
			timeout, retries)
		if err != nil {
			log.Fatalf("Failed to initialize Klarna client: %v", err)
		}
		registry[models.ProviderKlarna] = klarnaClient
	}

	if cfg.Authorize.Enabled {
		anetClient, err = payments.NewAuthorizeNetClient(
			cfg.Authorize.BaseURL, cfg.Authorize.APILoginID, cfg.Authorize.TransactionKey,
			cfg.Authorize.WebhookSignatureKey, !cfg.IsProduction(), timeout, retries)
		if err != nil {
			log.Fatalf("Failed to initialize Authorize.net client: %v", err)
		}
		registry[models.ProviderAuthorizeNet] = anetClient
	}

	orchestrator := checkout.NewOrchestrator(
		registry,
		redisClient,
		db,
		eventPublisher,
		models.Provider(cfg.Checkout.DefaultProvider),
		cfg.Server.SiteURL,
		cfg.Server.ServiceURL+"/webhooks/klarna",
		cfg.Checkout.SessionTTL,
	)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	var processor *worker.WebhookProcessor
	if klarnaClient != nil {
		processor = worker.NewWebhookProcessor(db, klarnaClient, eventPublisher)
	} else {
		processor = worker.NewWebhookProcessor(db, nil, eventPublisher)
	}
	webhookConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicPayments, cfg.Kafka.ConsumerGroup)
	webhookWorker := worker.NewWebhookWorker(webhookConsumer, processor)
	go func() {
		if err := webhookWorker.Start(workerCtx); err != nil {
			log.Printf("Webhook worker error: %v", err)
		}
	}()

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.Default()
	handler := api.NewHandler(orchestrator, db, registry, anetClient, eventPublisher)
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
	webhookWorker.Stop()

	log.Println("Server exited")
}
