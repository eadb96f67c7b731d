package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mercatto/api/internal/di"
	"github.com/mercatto/api/internal/handlers"
	"github.com/mercatto/api/internal/payments"
	"github.com/mercatto/api/internal/platform/auth"
	"github.com/mercatto/api/internal/platform/config"
	pfirestore "github.com/mercatto/api/internal/platform/firestore"
	"github.com/mercatto/api/internal/platform/idempotency"
	"github.com/mercatto/api/internal/platform/jobs"
	"github.com/mercatto/api/internal/platform/observability"
	firestoreRepo "github.com/mercatto/api/internal/repositories/firestore"
	"github.com/mercatto/api/internal/services"
)

const (
	idempotencyCleanupInterval = 10 * time.Minute
	idempotencyCleanupBatch    = 100
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load(config.WithEnvFile(".env"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	baseLogger, err := observability.NewLogger(cfg.Logging.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()
	logger := baseLogger.Named("api")

	firestoreProvider := pfirestore.NewProvider(cfg.Firestore)
	firestoreClient, err := firestoreProvider.Client(ctx)
	if err != nil {
		logger.Fatal("failed to initialise firestore client", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := firestoreProvider.Close(closeCtx); err != nil {
			logger.Warn("firestore close error", zap.Error(err))
		}
	}()

	registry, err := firestoreRepo.NewRegistry(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise repositories", zap.Error(err))
	}

	notifier, pubsubClient, err := newNotifier(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialise notification publisher", zap.Error(err))
	}
	if pubsubClient != nil {
		defer func() {
			if err := pubsubClient.Close(); err != nil {
				logger.Warn("pubsub close error", zap.Error(err))
			}
		}()
	}

	gateway, err := newGateway(cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialise payment gateway", zap.Error(err))
	}

	container, err := di.NewContainer(ctx, cfg, di.Dependencies{
		Registry: registry,
		Gateway:  gateway,
		Notifier: notifier,
		Logger:   logger,
	})
	if err != nil {
		logger.Fatal("failed to assemble services", zap.Error(err))
	}

	authenticator, err := auth.NewAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer)
	if err != nil {
		logger.Fatal("failed to initialise authenticator", zap.Error(err))
	}

	idempotencyStore := idempotency.NewFirestoreStore(firestoreClient)
	idempotencyMiddleware := idempotency.Middleware(
		idempotencyStore,
		idempotency.WithLogger(zap.NewStdLog(logger.Named("idempotency"))),
	)

	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	var cleanupWG sync.WaitGroup
	cleanupTicker := time.NewTicker(idempotencyCleanupInterval)
	cleanupWG.Add(1)
	go func() {
		defer cleanupWG.Done()
		cleanupLogger := logger.Named("idempotency")
		for {
			select {
			case <-cleanupTicker.C:
				runCtx, cancel := context.WithTimeout(cleanupCtx, time.Minute)
				removed, err := idempotencyStore.CleanupExpired(runCtx, time.Now().UTC(), idempotencyCleanupBatch)
				cancel()
				if err != nil {
					cleanupLogger.Error("idempotency cleanup error", zap.Error(err))
					continue
				}
				if removed > 0 {
					cleanupLogger.Info("idempotency cleanup removed records", zap.Int("count", removed))
				}
			case <-cleanupCtx.Done():
				return
			}
		}
	}()

	svc := container.Services
	catalogHandlers := handlers.NewCatalogHandlers(svc.Catalog, svc.Stock)
	adminCatalogHandlers := handlers.NewAdminCatalogHandlers(authenticator, svc.Catalog)
	stockHandlers := handlers.NewStockHandlers(authenticator, svc.Stock)
	couponHandlers := handlers.NewCouponHandlers(authenticator, svc.Coupons)
	cartHandlers := handlers.NewCartHandlers(authenticator, svc.Cart)
	orderHandlers := handlers.NewOrderHandlers(authenticator, svc.Orders)
	paymentHandlers := handlers.NewPaymentHandlers(authenticator, svc.Payments)
	deliveryHandlers := handlers.NewDeliveryHandlers(authenticator, svc.Deliveries)
	auditHandlers := handlers.NewAuditHandlers(authenticator, svc.Audit)
	healthHandlers := handlers.NewHealthHandlers(registry.Health())

	projectID := strings.TrimSpace(cfg.Firestore.ProjectID)
	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(projectID),
		observability.RecoveryMiddleware(logger.Named("http")),
		observability.RequestLoggerMiddleware(projectID),
		idempotencyMiddleware,
	}

	router := handlers.NewRouter(
		handlers.WithMiddlewares(middlewares...),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithCatalogRoutes(catalogHandlers.Routes),
		handlers.WithTrackingRoutes(deliveryHandlers.PublicRoutes),
		handlers.WithCouponRoutes(couponHandlers.QuoteRoutes),
		handlers.WithCartRoutes(cartHandlers.Routes),
		handlers.WithOrderRoutes(func(r chi.Router) {
			orderHandlers.Routes(r)
			paymentHandlers.OrderRoutes(r)
		}),
		handlers.WithPaymentRoutes(paymentHandlers.Routes),
		handlers.WithDeliveryRoutes(deliveryHandlers.Routes),
		handlers.WithAdminRoutes(func(r chi.Router) {
			r.Group(adminCatalogHandlers.Routes)
			r.Group(stockHandlers.Routes)
			r.Group(couponHandlers.AdminRoutes)
			r.Group(auditHandlers.Routes)
		}),
		handlers.WithWebhookRoutes(paymentHandlers.WebhookRoutes),
	)

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("mercatto api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	cleanupTicker.Stop()
	cleanupCancel()
	cleanupWG.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

func newNotifier(ctx context.Context, cfg config.Config, logger *zap.Logger) (services.NotificationPublisher, *pubsub.Client, error) {
	projectID := strings.TrimSpace(cfg.PubSub.ProjectID)
	if projectID == "" {
		logger.Warn("pubsub project not configured; notifications are logged only")
		return &logNotifier{logger: logger.Named("notifications")}, nil, nil
	}

	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, nil, fmt.Errorf("pubsub client: %w", err)
	}
	publisher, err := jobs.NewPubSubNotificationPublisher(client.Topic(cfg.PubSub.Topic))
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	return publisher, client, nil
}

func newGateway(cfg config.Config, logger *zap.Logger) (payments.Gateway, error) {
	stripeLogger := logger.Named("stripe")
	stripeGateway, err := payments.NewStripeGateway(payments.StripeGatewayConfig{
		APIKey: cfg.Gateway.APIKey,
		Clock:  time.Now,
		Logger: func(_ context.Context, event string, fields map[string]any) {
			zFields := make([]zap.Field, 0, len(fields))
			for k, v := range fields {
				zFields = append(zFields, zap.Any(k, v))
			}
			stripeLogger.Debug(event, zFields...)
		},
	})
	if err != nil {
		return nil, err
	}
	return payments.NewRetryingGateway(stripeGateway, cfg.Gateway.MaxAttempts, 200*time.Millisecond)
}

// logNotifier is the local-development stand-in for the Pub/Sub publisher.
type logNotifier struct {
	logger *zap.Logger
}

func (n *logNotifier) PublishNotification(_ context.Context, event services.NotificationEvent) (string, error) {
	n.logger.Info("notification",
		zap.String("event_type", event.EventType),
		zap.String("recipient", event.Recipient),
		zap.Any("payload", event.Payload),
	)
	return "logged", nil
}
