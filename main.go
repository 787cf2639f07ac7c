package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"

	"example.com/microblog/cmd/server"
	"example.com/microblog/cmd/worker"
	appkafka "example.com/microblog/internal/broker"
	"example.com/microblog/internal/feed"
	config "example.com/microblog/internal/init"
	"example.com/microblog/internal/logger"
	"example.com/microblog/internal/store"
	"example.com/microblog/internal/store/cassandra"
	"example.com/microblog/internal/store/postgres"
	"example.com/microblog/internal/store/sqlite"
)

func main() {
	// Initialize application configuration
	cfg := config.Init()
	logger.SetLevel(cfg.LogLevel)
	defer logger.Sync()
	mode := cfg.Mode

	// Setup OS signal handling for graceful shutdown (SIGINT, SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if mode == "migrate" {
		if err := migrate(ctx, cfg); err != nil {
			log.Fatalf("Migration failed: %v", err)
		}
		log.Println("Migrations completed")
		return
	}

	st, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatalf("Store connection failed: %v", err)
	}
	defer st.Close()

	kafkaCfg := appkafka.ConfigFrom(cfg)

	// Run application depending on selected mode
	switch mode {
	case "server":
		if cfg.JWTSecret == "" {
			log.Fatal("JWT_SECRET must be set in server mode")
		}

		// Activity events go to Kafka, or straight to the store when it is disabled
		var kafkaWriter appkafka.KafkaWriter = appkafka.NewInline(st)
		if cfg.KafkaEnabled {
			if err := appkafka.EnsureTopic(ctx, kafkaCfg); err != nil {
				log.Printf("Kafka topic check failed: %v", err)
			}
			kafkaWriter, err = appkafka.NewKafkaWriter(ctx, kafkaCfg)
			if err != nil {
				log.Fatalf("Kafka writer init failed: %v", err)
			}
		}
		defer kafkaWriter.Close()

		server.Run(ctx, st, kafkaWriter, server.Options{
			Addr:      cfg.ServerAddr,
			TLSCert:   cfg.TLSCert,
			TLSKey:    cfg.TLSKey,
			JWTSecret: cfg.JWTSecret,
			TokenTTL:  cfg.TokenTTL,
			Feed: feed.Options{
				DefaultLimit: cfg.FeedDefaultLimit,
				MaxLimit:     cfg.FeedMaxLimit,
				FanoutLimit:  cfg.FeedFanoutLimit,
			},
		})
	case "worker":
		if !cfg.KafkaEnabled {
			log.Fatal("worker mode requires KAFKA_ENABLED=true")
		}
		// Start the worker that reads activity events from Kafka and applies them
		kafkaReader := appkafka.NewKafkaReader(kafkaCfg)
		defer kafkaReader.Close()

		w := worker.New(st, kafkaReader, cfg.WorkerCount, cfg.WorkerQueueSize)
		w.Run(ctx)
	default:
		log.Fatalf("unknown mode: %s", mode)
	}

	log.Println("Shutdown completed")
}

// openStore connects the backend named by STORE_DRIVER, applying migrations.
func openStore(ctx context.Context, cfg *config.Config) (store.StoreInterface, error) {
	switch cfg.StoreDriver {
	case "memory":
		return store.NewMemory(), nil
	case "sqlite":
		return sqlite.Open(ctx, cfg.SQLitePath)
	case "postgres":
		return postgres.Connect(ctx, cfg.PostgresDSN)
	case "cassandra":
		return cassandra.New(cfg)
	default:
		return nil, fmt.Errorf("unknown store driver: %q", cfg.StoreDriver)
	}
}

// migrate applies pending schema migrations without serving.
func migrate(ctx context.Context, cfg *config.Config) error {
	switch cfg.StoreDriver {
	case "memory":
		return nil
	case "sqlite":
		return sqlite.Migrate(ctx, cfg.SQLitePath)
	case "postgres":
		return postgres.Migrate(cfg.PostgresDSN)
	case "cassandra":
		return cassandra.Migrate(cfg)
	default:
		return fmt.Errorf("unknown store driver: %q", cfg.StoreDriver)
	}
}
