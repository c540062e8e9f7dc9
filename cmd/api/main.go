package main

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"

	"github.com/vaidashi/lavender-orders/internal/api"
	"github.com/vaidashi/lavender-orders/internal/auth"
	"github.com/vaidashi/lavender-orders/internal/clients"
	"github.com/vaidashi/lavender-orders/internal/config"
	"github.com/vaidashi/lavender-orders/internal/database"
	"github.com/vaidashi/lavender-orders/internal/handlers"
	"github.com/vaidashi/lavender-orders/internal/notify"
	"github.com/vaidashi/lavender-orders/internal/outbox"
	"github.com/vaidashi/lavender-orders/internal/pricing"
	"github.com/vaidashi/lavender-orders/internal/repository"
	"github.com/vaidashi/lavender-orders/internal/service"
	"github.com/vaidashi/lavender-orders/pkg/circuitbreaker"
	"github.com/vaidashi/lavender-orders/pkg/kafka"
	"github.com/vaidashi/lavender-orders/pkg/logger"
	"github.com/vaidashi/lavender-orders/pkg/middleware"
)

const serviceName = "lavender-orders"

// storage bundles the stores one storage driver provides
type storage struct {
	orders      repository.Store
	outbox      outbox.MessageStore
	deadLetters interface {
		outbox.DeadLetterStore
		api.DeadLetterLister
	}
	close func() error
}

func openStorage(ctx context.Context, cfg *config.Config, l logger.Logger) (*storage, error) {
	if cfg.Storage == config.StorageMemory {
		l.Warn("Using in-memory storage; orders are lost on restart")
		store := repository.NewMemoryStore()

		return &storage{
			orders:      store,
			outbox:      store.Outbox(),
			deadLetters: store.DeadLetters(),
			close:       func() error { return nil },
		}, nil
	}

	db, err := database.New(ctx, cfg, l)
	if err != nil {
		return nil, err
	}

	if err := db.RunMigrations(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &storage{
		orders:      repository.NewOrderRepository(db, l),
		outbox:      repository.NewOutboxRepository(db, l),
		deadLetters: repository.NewDeadLetterRepository(db, l),
		close:       db.Close,
	}, nil
}

func newAuthenticator(cfg *config.Config, l logger.Logger) (*auth.Authenticator, error) {
	hash := cfg.Auth.AdminPasswordHash

	if hash == "" && cfg.Auth.AdminPassword != "" {
		hashed, err := auth.HashPassword(cfg.Auth.AdminPassword)
		if err != nil {
			return nil, fmt.Errorf("failed to hash admin password: %w", err)
		}
		hash = hashed
	}

	if hash == "" {
		return nil, nil
	}

	secret := []byte(cfg.Auth.SessionSecret)
	if len(secret) == 0 {
		// Sessions do not survive a restart without a configured secret
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, fmt.Errorf("failed to generate session secret: %w", err)
		}
		l.Warn("SESSION_SECRET not set, using a random secret")
	}

	return auth.New(auth.Config{
		PasswordHash: hash,
		Secret:       secret,
		TTL:          cfg.Auth.SessionTTL,
		CookieSecure: cfg.Auth.CookieSecure || cfg.IsProduction(),
	}, l)
}

func newNotifier(cfg *config.Config, l logger.Logger) notify.Notifier {
	if cfg.SMTP.Host == "" {
		l.Info("SMTP not configured, customer notifications are logged only")
		return notify.NewLogNotifier(l)
	}

	return notify.NewSMTPNotifier(notify.SMTPConfig{
		Host:     cfg.SMTP.Host,
		Port:     cfg.SMTP.Port,
		Username: cfg.SMTP.Username,
		Password: cfg.SMTP.Password,
		From:     cfg.SMTP.From,
	})
}

func main() {
	cfg, err := config.Load()

	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	l := logger.NewLogger(cfg.LogLevel).With("service", serviceName)
	defer func() { _ = l.Sync() }()

	l.Info("Starting API server...", "env", cfg.Env, "storage", cfg.Storage)

	ctx := context.Background()

	store, err := openStorage(ctx, cfg, l)
	if err != nil {
		l.Error("Failed to open storage", "error", err)
		os.Exit(1)
	}
	defer func() { _ = store.close() }()

	meter := otel.GetMeterProvider().Meter(serviceName)
	breakerCfg := circuitbreaker.Config{
		MaxFailures: cfg.Breaker.MaxFailures,
		OpenTimeout: cfg.Breaker.OpenTimeout,
	}
	breakers := circuitbreaker.NewRegistry()

	orderService := service.NewOrderService(store.orders, l, service.WithMetrics(service.NewMetrics(meter, l)))

	// Checkout and the catalog need a payment provider
	var (
		checkoutService *service.CheckoutService
		catalog         *clients.CatalogClient
		redisClient     *redis.Client
	)

	if cfg.Stripe.SecretKey != "" {
		payments, err := clients.NewPaymentClient(clients.PaymentClientConfig{
			SecretKey: cfg.Stripe.SecretKey,
			Currency:  cfg.Stripe.Currency,
			Breaker:   breakerCfg,
		}, l)
		if err != nil {
			l.Error("Failed to create payment client", "error", err)
			os.Exit(1)
		}
		breakers.Register(payments.Breaker())

		if cfg.Redis.Addr != "" {
			redisClient = redis.NewClient(&redis.Options{
				Addr:     cfg.Redis.Addr,
				Password: cfg.Redis.Password,
				DB:       cfg.Redis.DB,
			})
			defer func() { _ = redisClient.Close() }()
		}

		catalog, err = clients.NewCatalogClient(clients.CatalogClientConfig{
			SecretKey:   cfg.Stripe.SecretKey,
			CategoryKey: cfg.Stripe.CategoryKey,
			Cache:       redisClient,
			CacheTTL:    cfg.Redis.CatalogTTL,
			Breaker:     breakerCfg,
		}, l)
		if err != nil {
			l.Error("Failed to create catalog client", "error", err)
			os.Exit(1)
		}
		breakers.Register(catalog.Breaker())

		checkoutService = service.NewCheckoutService(orderService, catalog, payments, pricing.NewCalculator(cfg.Pricing), l)
	} else {
		l.Warn("STRIPE_SECRET_KEY not set, checkout and catalog are disabled")
	}

	authenticator, err := newAuthenticator(cfg, l)
	if err != nil {
		l.Error("Failed to configure admin authentication", "error", err)
		os.Exit(1)
	}
	if authenticator == nil {
		l.Warn("No admin password configured, admin routes are disabled")
	}

	dispatcher := notify.NewDispatcher(newNotifier(cfg, l), meter, l)

	// Outbox delivery goes to Kafka when enabled, otherwise straight to the dispatcher
	var (
		deliveryHandler outbox.MessageHandler = outbox.NewDispatchHandler(dispatcher, l)
		producer        *kafka.Producer
		consumer        *kafka.Consumer
	)

	if cfg.Kafka.Enabled {
		producer, err = kafka.NewProducer(kafka.ProducerConfig{Brokers: cfg.Kafka.Brokers, ClientID: serviceName}, l)
		if err != nil {
			l.Error("Failed to create Kafka producer", "error", err)
			os.Exit(1)
		}
		deliveryHandler = outbox.NewKafkaHandler(producer, cfg.Kafka.OrdersTopic, l)

		consumer, err = kafka.NewConsumer(&kafka.ConsumerConfig{
			Brokers:       cfg.Kafka.Brokers,
			Topics:        []string{cfg.Kafka.OrdersTopic},
			ConsumerGroup: cfg.Kafka.ConsumerGroup,
			ClientID:      serviceName,
		}, l)
		if err != nil {
			l.Error("Failed to create Kafka consumer", "error", err)
			os.Exit(1)
		}
		consumer.RegisterHandler(cfg.Kafka.OrdersTopic, handlers.NewOrderEventsHandler(dispatcher, l))

		if err := consumer.Start(); err != nil {
			l.Error("Failed to start Kafka consumer", "error", err)
			os.Exit(1)
		}
	}

	outboxProcessor := outbox.NewProcessor(store.outbox, store.deadLetters, outbox.ProcessorConfig{
		PollingInterval: cfg.Outbox.PollingInterval,
		BatchSize:       cfg.Outbox.BatchSize,
		MaxRetries:      cfg.Outbox.MaxRetries,
	}, l)
	outboxProcessor.SetFallbackHandler(deliveryHandler)
	outboxProcessor.Start()

	dlqProcessor := outbox.NewDeadLetterProcessor(store.deadLetters, outbox.DeadLetterProcessorConfig{
		PollingInterval: cfg.Outbox.DLQPollingInterval,
		BatchSize:       cfg.Outbox.DLQBatchSize,
		MaxRetries:      cfg.Outbox.DLQMaxRetries,
	}, l)
	dlqProcessor.SetFallbackHandler(deliveryHandler)
	dlqProcessor.Start()

	loginLimiter := middleware.NewRateLimiterMiddleware(middleware.RateLimiterConfig{
		Name:              "login",
		RequestsPerSecond: 0.1,
		Burst:             5,
		TrustForwardedFor: cfg.IsProduction(),
	}, l)
	defer loginLimiter.Stop()

	checkoutLimiter := middleware.NewRateLimiterMiddleware(middleware.RateLimiterConfig{
		Name:              "checkout",
		RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
		Burst:             cfg.RateLimit.Burst,
		TrustForwardedFor: cfg.IsProduction(),
	}, l)
	defer checkoutLimiter.Stop()

	degradation := middleware.NewGracefulDegradation(breakerCfg, []string{"/api/v1/health", "/api/v1/admin"}, l)
	breakers.Register(degradation.Breaker())

	deps := api.Dependencies{
		Orders:          orderService,
		Checkout:        checkoutService,
		DeadLetters:     dlqProcessor,
		DLQStore:        store.deadLetters,
		Auth:            authenticator,
		Breakers:        breakers,
		Health:          store.orders,
		LoginLimiter:    loginLimiter,
		CheckoutLimiter: checkoutLimiter,
		Degradation:     degradation,
	}
	if catalog != nil {
		deps.Catalog = catalog
	}

	server := api.NewServer(cfg.Port, deps, l)

	// Start the server in a goroutine
	go func() {
		l.Info(fmt.Sprintf("Server is starting on port %d", cfg.Port))

		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.Error("Failed to start server", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown via interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	l.Info("Shutting down server...")

	// Create a context with a timeout for the shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		l.Error("Server forced to shutdown", "error", err)
	}

	outboxProcessor.Stop()
	dlqProcessor.Stop()

	if consumer != nil {
		if err := consumer.Stop(); err != nil {
			l.Error("Failed to stop Kafka consumer", "error", err)
		}
	}

	if producer != nil {
		if err := producer.Close(); err != nil {
			l.Error("Failed to close Kafka producer", "error", err)
		}
	}

	l.Info("Server exiting")
}
