package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/rs-labo46/ec-checkout/internal/config"
	"github.com/rs-labo46/ec-checkout/internal/dispatch"
	"github.com/rs-labo46/ec-checkout/internal/domain/model"
	"github.com/rs-labo46/ec-checkout/internal/handler"
	"github.com/rs-labo46/ec-checkout/internal/infra/cache"
	"github.com/rs-labo46/ec-checkout/internal/infra/db"
	"github.com/rs-labo46/ec-checkout/internal/infra/gateway"
	"github.com/rs-labo46/ec-checkout/internal/infra/memstore"
	"github.com/rs-labo46/ec-checkout/internal/infra/messaging"
	infraRepo "github.com/rs-labo46/ec-checkout/internal/infra/repository"
	"github.com/rs-labo46/ec-checkout/internal/metrics"
	repo "github.com/rs-labo46/ec-checkout/internal/repository"
	"github.com/rs-labo46/ec-checkout/internal/server"
	"github.com/rs-labo46/ec-checkout/internal/usecase"
)

type publisher interface {
	messaging.Publisher
	Close() error
}

func main() {
	//.envは無くてもよい（本番は環境変数）
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}))
	slog.SetDefault(log)

	if err := run(cfg, log); err != nil {
		log.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	//DB
	var tx repo.TransactionManager
	switch cfg.StorageDriver {
	case config.StorageMemory:
		store := memstore.New()
		seedDemo(store)
		tx = store
		log.Warn("using in-memory storage; data is lost on restart")
	default:
		gdb, err := db.Connect(cfg.DSN())
		if err != nil {
			return err
		}
		if err := db.Migrate(gdb); err != nil {
			return err
		}
		tx = infraRepo.NewTxManagerGorm(gdb)
	}

	m := metrics.New(prometheus.DefaultRegisterer)

	//Webhookの処理中マーク（Redisが無ければDBだけで重複排除）
	var guard usecase.InFlightGuard
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		guard = cache.NewEventClaimer(rdb, 5*time.Minute)
	}

	var pub publisher = messaging.NewLogPublisher(log)
	if len(cfg.KafkaBrokers) > 0 {
		pub = messaging.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
	}
	defer pub.Close()

	gw := gateway.NewClient(cfg.GatewayBaseURL, cfg.GatewayAPIKey, cfg.GatewayTimeout)
	retry := usecase.DefaultRetryPolicy()
	retry.MaxTries = uint(cfg.GatewayMaxRetries)
	pricing := usecase.PricingPolicy{
		Currency:              cfg.Currency,
		TaxRate:               cfg.TaxRate,
		ShippingFlat:          cfg.ShippingFlat,
		FreeShippingThreshold: cfg.FreeShippingThreshold,
	}

	//Usecase生成
	committer := usecase.NewOrderCommitter(tx, log, m)
	compensation := usecase.NewCompensationHandler(tx, gw, retry, log, m)
	payments := usecase.NewPaymentOrchestrator(gw, retry, log)
	checkoutUC := usecase.NewCheckoutUsecase(tx, pricing, payments, committer, compensation, log, m)
	reconciler := usecase.NewReconciler(tx, gateway.NewVerifier(cfg.GatewayWebhookSecret, cfg.WebhookTolerance), committer, compensation, guard, log, m)
	recovery := usecase.NewRecovery(tx, committer, compensation, cfg.RecoveryStaleAfter, log)

	//Handler生成
	e := server.NewEcho(cfg.JWTSecret, server.Handlers{
		Product:  handler.NewProductHandler(usecase.NewProductUsecase(tx)),
		Address:  handler.NewAddressHandler(usecase.NewAddressUsecase(tx)),
		Cart:     handler.NewCartHandler(usecase.NewCartUsecase(tx, pricing)),
		Checkout: handler.NewCheckoutHandler(checkoutUC),
		Order:    handler.NewOrderHandler(usecase.NewOrderUsecase(tx)),
		Webhook:  handler.NewWebhookHandler(reconciler),
	}, m)

	poller := dispatch.NewOutboxPoller(tx, pub, messaging.NewNotifier(pub), recovery, log, m, dispatch.Options{
		EventTick:    cfg.OutboxPollInterval,
		RecoveryTick: cfg.RecoveryInterval,
	})

	addr := cfg.Port
	if !strings.HasPrefix(addr, ":") {
		addr = ":" + addr
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("http server listening", "addr", addr, "storage", cfg.StorageDriver)
		return server.Start(gctx, addr, e)
	})
	g.Go(func() error {
		return poller.Run(gctx)
	})
	return g.Wait()
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// memoryモード用のデモデータ（user_id=1の住所と商品）
func seedDemo(store *memstore.Store) {
	store.SeedAddress(model.Address{
		UserID:     1,
		Name:       "Demo User",
		PostalCode: "100-0001",
		Prefecture: "Tokyo",
		City:       "Chiyoda",
		Line1:      "1-1",
		IsDefault:  true,
	})
	for _, p := range []model.Product{
		{Name: "Coffee Beans", Description: "Medium roast, 200g", Price: 1200, Stock: 50, IsActive: true},
		{Name: "Drip Kettle", Description: "0.8L stainless", Price: 4500, Stock: 10, IsActive: true},
		{Name: "Paper Filters", Description: "100 sheets", Price: 300, Stock: 200, IsActive: true},
	} {
		store.SeedProduct(p)
	}
}
