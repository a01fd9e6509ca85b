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

	"storefront-orders/config"
	"storefront-orders/internal/api"
	"storefront-orders/internal/auth"
	"storefront-orders/internal/broker"
	"storefront-orders/internal/inventory"
	"storefront-orders/internal/notify"
	"storefront-orders/internal/redisclient"
	"storefront-orders/internal/service"
	"storefront-orders/internal/store"
	"storefront-orders/internal/store/memstore"
	"storefront-orders/internal/store/mongostore"
	"storefront-orders/internal/util"
	"storefront-orders/internal/worker"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

const (
	serviceName      = "storefront-orders"
	relayBatchSize   = 100
	shutdownDeadline = 10 * time.Second
)

// repository is what every store driver provides.
type repository interface {
	service.OrderRepository
	Ping(ctx context.Context) error
	Close() error
}

func openRepository(ctx context.Context, cfg *config.Config) (repository, error) {
	switch cfg.Store.Driver {
	case "postgres":
		return store.NewStore(cfg.Database.URL)
	case "mongo":
		return mongostore.Connect(ctx, cfg.Mongo.URI, cfg.Mongo.Database)
	case "memory":
		return memstore.New(), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting storefront orders service", zap.String("store", cfg.Store.Driver))

	ctx := context.Background()

	tp, err := util.InitTracer(ctx, serviceName, cfg.Observ.OTLPEndpoint)
	if err != nil {
		logger.Fatal("Failed to initialize tracer", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Error("Error shutting down tracer", zap.Error(err))
		}
	}()

	repo, err := openRepository(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to open order store", zap.Error(err))
	}
	defer repo.Close()
	logger.Info("Order store connected")

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()
	logger.Info("Redis connected")

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder)
	defer producer.Close()
	logger.Info("Kafka producer initialized", zap.String("topic", cfg.Kafka.TopicOrder))

	ledger := inventory.NewLedger(repo, logger)
	orderService := service.NewOrderService(
		repo,
		ledger,
		service.NewPaymentService(),
		service.NewStatsAggregator(repo, cfg.Business.DeliveryCommissionRate),
		service.Settings{
			TaxRate:               cfg.Business.TaxRate,
			EstimatedDeliveryDays: cfg.Business.EstimatedDeliveryDays,
			StrictAssignment:      cfg.Business.StrictAssignment,
			IdempotencyTTL:        cfg.Business.IdempotencyTTL(),
		},
	).
		WithEventPublisher(broker.NewEventPublisher(producer)).
		WithIdempotency(redisClient).
		WithOtpGuard(redisclient.NewOtpLimiter(redisClient, cfg.Business.OtpMaxAttempts, cfg.Business.OtpAttemptWindow()))

	// Notifications are advisory; the service runs without them.
	if conn, err := notify.Dial(cfg.RabbitMQ.URL); err != nil {
		logger.Warn("RabbitMQ unavailable, customer notifications disabled", zap.Error(err))
	} else {
		defer conn.Close()
		orderService.WithNotifier(notify.NewPublisher(conn, cfg.RabbitMQ.Exchange))
		logger.Info("RabbitMQ connected", zap.String("exchange", cfg.RabbitMQ.Exchange))
	}

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	checkoutConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicCheckout, cfg.Kafka.ConsumerGroup, logger)
	checkoutWorker := worker.NewCheckoutWorker(checkoutConsumer, orderService, repo)
	go func() {
		if err := checkoutWorker.Start(workerCtx); err != nil && workerCtx.Err() == nil {
			logger.Error("Checkout worker error", zap.Error(err))
		}
	}()

	relay := worker.NewInventoryRelay(ledger, cfg.Business.InventoryRelayInterval(), relayBatchSize)
	go relay.Run(workerCtx)

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Logger())
	handler := api.NewHandler(orderService, ledger, auth.NewTokens(cfg.Auth.JWTSecret, cfg.Auth.Issuer),
		api.ReadinessCheck{Name: "store", Check: repo.Ping},
		api.ReadinessCheck{Name: "redis", Check: redisClient.Ping},
	)
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:           otelhttp.NewHandler(router, serviceName),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownDeadline)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	workerCancel()
	if err := checkoutWorker.Stop(); err != nil {
		logger.Error("Failed to stop checkout worker", zap.Error(err))
	}

	logger.Info("Server exited")
}
