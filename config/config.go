package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Storage holds the settings shared by every process that touches the event
// log or the message channel.
type Storage struct {
	MongoURI         string `env:"MONGO_URI,required"`
	MongoDatabase    string `env:"MONGO_DATABASE" envDefault:"notes_db"`
	EventsCollection string `env:"EVENTS_COLLECTION" envDefault:"events"`
	QueueConnStr     string `env:"QUEUE_CONNECTION_STRING,required"`
	EventsQueue      string `env:"EVENTS_QUEUE" envDefault:"note_events"`
	PoisonQueue      string `env:"POISON_QUEUE" envDefault:"note_events_poison"`
}

// API configures the command/query service.
type API struct {
	Storage
	ListenAddr     string        `env:"LISTEN_ADDR" envDefault:":8080"`
	RedisConnStr   string        `env:"REDIS_CONNECTION_STRING"`
	DeduperTTL     time.Duration `env:"DEDUPER_TTL" envDefault:"24h"`
	PublishTimeout time.Duration `env:"PUBLISH_TIMEOUT" envDefault:"5s"`
	JWKSURL        string        `env:"JWKS_URL"`
	JWTAudience    string        `env:"JWT_AUDIENCE"`
	JWTIssuer      string        `env:"JWT_ISSUER"`
	Debug          bool          `env:"DEBUG"`
}

// Consumer configures the event consumer.
type Consumer struct {
	Storage
	RedisConnStr  string        `env:"REDIS_CONNECTION_STRING"`
	MaxDeliveries int64         `env:"MAX_DELIVERIES" envDefault:"5"`
	IdleDelay     time.Duration `env:"IDLE_DELAY" envDefault:"1s"`
	CacheTTL      time.Duration `env:"CACHE_TTL" envDefault:"12h"`
	Debug         bool          `env:"DEBUG"`
}

// Parse loads configuration for target from environment variables.
func Parse(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}
