package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fjod/go_cart/settlement-service/internal/cache"
	"github.com/fjod/go_cart/settlement-service/internal/catalog"
	"github.com/fjod/go_cart/settlement-service/internal/config"
	settlementgrpc "github.com/fjod/go_cart/settlement-service/internal/grpc"
	h "github.com/fjod/go_cart/settlement-service/internal/http"
	"github.com/fjod/go_cart/settlement-service/internal/logger"
	"github.com/fjod/go_cart/settlement-service/internal/metrics"
	"github.com/fjod/go_cart/settlement-service/internal/notify"
	"github.com/fjod/go_cart/settlement-service/internal/payment"
	"github.com/fjod/go_cart/settlement-service/internal/repository"
	"github.com/fjod/go_cart/settlement-service/internal/service"
	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

const serviceName = "settlement-service"

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	log := logger.New(serviceName, cfg.LogLevel)
	slog.SetDefault(log)

	if err := run(cfg, log); err != nil {
		log.Error("service stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{},
	))
	m := metrics.New()

	// Carts
	var cartRepo repository.CartRepository
	switch cfg.Storage {
	case config.StorageMongo:
		mongoDB, err := repository.ConnectMongoDB(ctx, cfg.MongoURI, cfg.MongoDBName)
		if err != nil {
			return fmt.Errorf("connect to MongoDB: %w", err)
		}
		defer mongoDB.Client().Disconnect(context.Background())

		repo := repository.NewMongoRepository(mongoDB)
		if err := repo.CreateIndexes(ctx); err != nil {
			return fmt.Errorf("create cart indexes: %w", err)
		}
		cartRepo = repo
		log.Info("connected to MongoDB", "uri", cfg.MongoURI, "db", cfg.MongoDBName)
	default:
		cartRepo = repository.NewMemoryCartRepository()
		log.Warn("carts are kept in memory and lost on restart")
	}

	// Orders
	var orderRepo repository.OrderRepository
	if cfg.Postgres != nil {
		db, err := repository.OpenPostgres(ctx, *cfg.Postgres)
		if err != nil {
			return fmt.Errorf("connect to Postgres: %w", err)
		}
		repo := repository.NewPostgresOrderRepository(db)
		defer repo.Close()

		if err := repo.RunMigrations(); err != nil {
			return fmt.Errorf("migrate orders: %w", err)
		}
		orderRepo = repo
		log.Info("connected to Postgres", "host", cfg.Postgres.Host, "db", cfg.Postgres.DBName)
	} else {
		orderRepo = repository.NewMemoryOrderRepository()
		log.Warn("orders are kept in memory and lost on restart")
	}

	// Catalog
	products, err := catalog.NewSQLiteCatalog(cfg.CatalogDBPath)
	if err != nil {
		return fmt.Errorf("open catalog: %w", err)
	}
	defer products.Close()
	if err := products.RunMigrations(); err != nil {
		return fmt.Errorf("migrate catalog: %w", err)
	}
	lookup := catalog.NewGuardedLookup(products, cfg.CatalogTimeout)

	// Cache and event bus
	notifyCtx, stopNotify := context.WithCancel(context.Background())
	defer stopNotify()

	hub := notify.NewHub(log)
	go hub.Run(notifyCtx)

	var (
		cartCache cache.CartCache
		sinks     []notify.Sink
	)
	if cfg.RedisAddr != "" {
		redisClient, err := newRedisClient(ctx, cfg)
		if err != nil {
			return err
		}
		defer redisClient.Close()

		cartCache = cache.NewRedisCache(redisClient)

		bus := notify.NewRedisBus(redisClient, notify.DefaultChannel, hub, log)
		sinks = append(sinks, notify.Sink{Name: "redis", Publisher: bus})
		go func() {
			if err := bus.Run(notifyCtx); err != nil {
				log.Error("redis event bus stopped", "error", err)
			}
		}()
		log.Info("connected to Redis", "addr", cfg.RedisAddr)
	}

	if len(cfg.KafkaBrokers) > 0 {
		kp := notify.NewKafkaPublisher(cfg.KafkaTopic, cfg.KafkaBrokers...)
		defer kp.Close()
		sinks = append(sinks, notify.Sink{Name: "kafka", Publisher: kp})

		if cfg.RedisAddr == "" {
			relay := notify.NewKafkaRelay(hub, log, relayGroupID(), cfg.KafkaTopic, cfg.KafkaBrokers...)
			defer relay.Close()
			go relay.Run(notifyCtx)
		}
	}

	if cfg.RedisAddr == "" && len(cfg.KafkaBrokers) == 0 {
		// Single instance: deliver straight to local connections.
		sinks = append(sinks, notify.Sink{Name: "hub", Publisher: hub})
	}
	events := notify.NewFanout(m, sinks...)

	// Payments
	var gateway payment.Gateway = payment.DemoGateway{}
	if cfg.PaymentMode == config.PaymentModeAsync {
		gateway = payment.DeferredGateway{}
	}
	methods := payment.Methods{
		Gateway: payment.NewGuardedGateway(gateway, cfg.GatewayTimeout),
		Bank: payment.BankDetails{
			BankName:      cfg.Bank.Name,
			AccountName:   cfg.Bank.AccountName,
			AccountNumber: cfg.Bank.AccountNumber,
		},
		ReceiptEmail:      cfg.Bank.ReceiptEmail,
		PayPalCheckoutURL: "https://www.sandbox.paypal.com/checkoutnow",
	}

	// Services
	carts := service.NewCartService(cartRepo, cartCache, log, m)
	factory := service.NewOrderFactory(lookup, carts, log)
	dispatcher := service.NewDispatcher(carts, factory, orderRepo, methods, events, log, m)
	reconciler := service.NewReconciler(orderRepo, carts, events, log, m)
	orders := service.NewOrderService(orderRepo)

	callback := h.NewCallbackHandler(reconciler, cfg.CallbackTimeout, log)
	router := h.NewRouter(h.Routes{
		Cart:           h.NewCartHandler(carts, cfg.RequestTimeout, log),
		Checkout:       h.NewCheckoutHandler(dispatcher, cfg.RequestTimeout, log),
		Orders:         h.NewOrdersHandler(orders, cfg.RequestTimeout, log),
		Callback:       callback,
		Notifications:  h.NewNotificationsHandler(hub, log),
		Metrics:        m.Handler(),
		RequestTimeout: cfg.RequestTimeout,
		Log:            log,
	})

	// gRPC health
	lis, err := net.Listen("tcp", fmt.Sprintf(":%s", cfg.GRPCPort))
	if err != nil {
		return fmt.Errorf("listen on gRPC port: %w", err)
	}
	grpcServer := settlementgrpc.NewServer()
	go func() {
		log.Info("gRPC health listening", "port", cfg.GRPCPort)
		if err := grpcServer.Serve(lis); err != nil {
			log.Error("gRPC server error", "error", err)
		}
	}()

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("settlement service starting", "port", cfg.HTTPPort, "payment_mode", cfg.PaymentMode)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()
	grpcServer.SetServing(true)

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-serveErr:
		log.Error("HTTP server error", "error", err)
	}

	// Graceful shutdown
	grpcServer.SetServing(false)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", "error", err)
	}
	callback.Wait()
	grpcServer.Shutdown(shutdownCtx)
	stopNotify()

	log.Info("server exited")
	return nil
}

func newRedisClient(ctx context.Context, cfg *config.Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       0,
	})
	if err := redisotel.InstrumentTracing(client); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("instrument Redis tracing: %w", err)
	}
	if err := redisotel.InstrumentMetrics(client); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("instrument Redis metrics: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping Redis: %w", err)
	}
	return client, nil
}

// relayGroupID gives every instance its own consumer group so each sees all
// events.
func relayGroupID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = fmt.Sprintf("pid-%d", os.Getpid())
	}
	return "settlement-notify-" + host
}
