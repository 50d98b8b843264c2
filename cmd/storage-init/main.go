package main

import (
	"context"

	log "github.com/sirupsen/logrus"

	"notes-service/config"
	"notes-service/storage"
)

// storage-init provisions the queues and the event log indexes once at
// deploy time, so the services themselves never race on infrastructure
// creation.
func main() {
	var cfg config.Consumer
	if err := config.Parse(&cfg); err != nil {
		log.Fatalf("config: %v", err)
	}
	log.Info("storage init starting")

	store, err := storage.New(cfg.MongoURI, cfg.MongoDatabase, cfg.EventsCollection,
		cfg.QueueConnStr, cfg.EventsQueue, cfg.PoisonQueue)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}

	ctx := context.Background()
	if err := store.EnsureQueues(ctx); err != nil {
		log.Fatalf("create queues: %v", err)
	}
	if err := store.EnsureIndexes(ctx); err != nil {
		log.Fatalf("create indexes: %v", err)
	}
	if err := store.Close(ctx); err != nil {
		log.WithError(err).Warn("store close failed")
	}
	log.Info("storage init complete")
}
