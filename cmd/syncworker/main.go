package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/mkatche/chatflow/internal/config"
	"github.com/mkatche/chatflow/internal/db"
	"github.com/mkatche/chatflow/internal/history"
	"github.com/mkatche/chatflow/internal/histsync"
	"github.com/mkatche/chatflow/internal/logger"
)

func workerConcurrency() int {
	v := os.Getenv("WORKER_CONCURRENCY")
	if v == "" {
		return 2
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 2
	}
	if n > 50 {
		return 50
	}
	return n
}

func main() {
	cfg := config.Load()

	log, err := logger.New(cfg.Mode)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	gdb, err := db.Connect(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		log.Fatal("db connect failed", zap.Error(err))
	}

	store := history.NewStore(gdb, log)
	if err := store.AutoMigrate(); err != nil {
		log.Fatal("automigrate failed", zap.Error(err))
	}
	consumer := histsync.NewConsumer(store, log)

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		log.Fatal("rabbit dial failed", zap.Error(err))
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		log.Fatal("rabbit channel failed", zap.Error(err))
	}
	defer ch.Close()

	if _, err := ch.QueueDeclare(cfg.RabbitQueue, true, false, false, false, nil); err != nil {
		log.Fatal("queue declare failed", zap.Error(err))
	}

	concurrency := workerConcurrency()
	if err := ch.Qos(concurrency, 0, false); err != nil {
		log.Fatal("qos failed", zap.Error(err))
	}

	msgs, err := ch.Consume(cfg.RabbitQueue, "", false, false, false, false, nil)
	if err != nil {
		log.Fatal("consume failed", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("sync worker started",
		zap.String("queue", cfg.RabbitQueue),
		zap.Int("concurrency", concurrency))

	// worker pool
	jobs := make(chan amqp.Delivery, concurrency*2)

	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func(workerID int) {
			defer wg.Done()
			for d := range jobs {
				var ev histsync.Event
				if err := json.Unmarshal(d.Body, &ev); err != nil || ev.ID == "" {
					log.Warn("bad message",
						zap.Int("worker", workerID), zap.Error(err))
					_ = d.Nack(false, false)
					continue
				}

				start := time.Now()
				if err := consumer.Apply(ctx, ev); err != nil {
					log.Warn("event failed",
						zap.Int("worker", workerID),
						zap.String("event", ev.ID),
						zap.Duration("cost", time.Since(start)),
						zap.Error(err))
					_ = d.Nack(false, false)
					continue
				}

				if err := d.Ack(false); err != nil {
					log.Warn("ack failed",
						zap.Int("worker", workerID),
						zap.String("event", ev.ID),
						zap.Error(err))
				}
			}
		}(i)
	}

	// dispatcher
	for {
		select {
		case <-ctx.Done():
			log.Info("sync worker shutting down")
			close(jobs)
			wg.Wait()
			return

		case d, ok := <-msgs:
			if !ok {
				log.Warn("delivery channel closed")
				time.Sleep(1 * time.Second)
				continue
			}
			jobs <- d
		}
	}
}
