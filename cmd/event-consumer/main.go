package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"notes-service/cache"
	"notes-service/config"
	"notes-service/consumer"
	"notes-service/storage"
)

func main() {
	var cfg config.Consumer
	if err := config.Parse(&cfg); err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
	}
	log.Info("event consumer starting")

	store, err := storage.New(cfg.MongoURI, cfg.MongoDatabase, cfg.EventsCollection,
		cfg.QueueConnStr, cfg.EventsQueue, cfg.PoisonQueue)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := store.EnsureIndexes(ctx); err != nil {
		log.Fatalf("indexes: %v", err)
	}

	var updater *cache.Updater
	if cfg.RedisConnStr != "" {
		redisOpts, err := redis.ParseURL(cfg.RedisConnStr)
		if err != nil {
			log.Fatalf("redis config: %v", err)
		}
		updater = cache.NewUpdater(store, redis.NewClient(redisOpts), cfg.CacheTTL)
	}

	var refresher consumer.Refresher
	if updater != nil {
		refresher = updater
	}
	c := consumer.New(store, store, refresher, log.StandardLogger(), cfg.MaxDeliveries, cfg.IdleDelay)
	if err := c.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("consumer: %v", err)
	}
	log.Info("event consumer stopped")

	if err := store.Close(context.Background()); err != nil {
		log.WithError(err).Warn("store close failed")
	}
}
