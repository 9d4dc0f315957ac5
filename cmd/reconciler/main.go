package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5/pgxpool"
	redisclient "github.com/redis/go-redis/v9"
	"github.com/robertarktes/booking-checkout/internal/adapters/crdb"
	"github.com/robertarktes/booking-checkout/internal/adapters/gateway"
	mongoadapter "github.com/robertarktes/booking-checkout/internal/adapters/mongo"
	redisadapter "github.com/robertarktes/booking-checkout/internal/adapters/redis"
	"github.com/robertarktes/booking-checkout/internal/checkout"
	"github.com/robertarktes/booking-checkout/internal/config"
	"github.com/robertarktes/booking-checkout/internal/observability"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownOtel, err := observability.SetupOTel(ctx, cfg, "checkout-reconciler")
	if err != nil {
		log.Fatalf("failed to setup otel: %v", err)
	}
	defer shutdownOtel()

	logger := observability.NewLogger()

	pool, err := pgxpool.New(ctx, cfg.CRDBDSN)
	if err != nil {
		log.Fatalf("failed to connect to crdb: %v", err)
	}
	defer pool.Close()
	repo := crdb.NewRepository(pool)

	mongoClient, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		log.Fatalf("failed to connect to mongo: %v", err)
	}
	defer mongoClient.Disconnect(context.Background())
	auditor := mongoadapter.NewAuditLogger(mongoClient.Database(cfg.MongoDB), logger)

	redisClient := redisclient.NewClient(&redisclient.Options{Addr: cfg.RedisAddr})
	defer redisClient.Close()

	gw := gateway.NewClient(cfg.GatewayBaseURL, cfg.GatewaySecretKey, cfg.GatewayTimeout)
	svc := checkout.NewService(checkout.NewConfig(cfg), repo, gw, redisadapter.NewCache(redisClient), nil, auditor, logger)

	logger.WithFields(map[string]interface{}{
		"interval": cfg.ReconcileInterval.String(),
		"after":    cfg.ReconcileAfter.String(),
	}).Info("reconciler started")
	err = checkout.NewReconciler(svc, cfg.ReconcileAfter, 100, 4).Run(ctx, cfg.ReconcileInterval)
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("reconciler: %v", err)
	}
	logger.Info("Shutdown reconciler")
}
