package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/booking-checkout/internal/adapters/rabbit"
	"github.com/robertarktes/booking-checkout/internal/config"
	"github.com/robertarktes/booking-checkout/internal/notify"
	"github.com/robertarktes/booking-checkout/internal/observability"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := observability.NewLogger()
	dispatcher := notify.NewDispatcher(notify.NewLogNotifier(logger))

	logger.Info("notifier started")
	err = rabbit.NewConsumer(cfg.RabbitURL, "checkout.notify.q", "order.*", logger).Run(ctx, dispatcher.Handle)
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("notifier: %v", err)
	}
	logger.Info("Shutdown notifier")
}
