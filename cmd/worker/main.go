package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/suPer8Hu/chat-platform/internal/chat"
	"github.com/suPer8Hu/chat-platform/internal/config"
	"github.com/suPer8Hu/chat-platform/internal/db"
	"github.com/suPer8Hu/chat-platform/internal/inbox"
	"github.com/suPer8Hu/chat-platform/internal/store/rabbitmq"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.RabbitURL == "" {
		log.Fatalf("RABBIT_URL is required for the worker")
	}

	gdb, err := db.Connect(cfg.DBDSN)
	if err != nil {
		log.Fatalf("db connect: %v", err)
	}
	if err := db.Migrate(gdb); err != nil {
		log.Fatalf("db migrate: %v", err)
	}

	projection := inbox.NewRepo(gdb)

	consumer, err := rabbitmq.NewConsumer(cfg.RabbitURL, cfg.RabbitQueue, rabbitmq.ConsumerOptions{
		Concurrency: cfg.WorkerConcurrency,
		MaxRetries:  cfg.RabbitMaxRetries,
		RetryDelay:  cfg.RabbitRetryDelay,
	})
	if err != nil {
		log.Fatalf("rabbit consumer: %v", err)
	}
	defer consumer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Printf("worker started, queue=%s concurrency=%d", cfg.RabbitQueue, cfg.WorkerConcurrency)

	err = consumer.Run(ctx, func(ctx context.Context, evt chat.Event) error {
		start := time.Now()
		if err := projection.Apply(ctx, evt); err != nil {
			if errors.Is(err, inbox.ErrBadEvent) {
				return fmt.Errorf("%w: %v", rabbitmq.ErrPermanent, err)
			}
			return err
		}
		if cost := time.Since(start); cost > 500*time.Millisecond {
			log.Printf("event_timing type=%s thread=%s cost=%s", evt.Type, evt.ThreadID, cost)
		}
		return nil
	})
	if err != nil {
		log.Fatalf("worker stopped: %v", err)
	}
	log.Printf("worker shut down")
}
