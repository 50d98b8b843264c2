package main

import (
	"os"

	"github.com/MicahParks/keyfunc"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"notes-service/api"
	"notes-service/cache"
	"notes-service/config"
	"notes-service/storage"
)

func main() {
	var cfg config.API
	if err := config.Parse(&cfg); err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
	}

	store, err := storage.New(cfg.MongoURI, cfg.MongoDatabase, cfg.EventsCollection,
		cfg.QueueConnStr, cfg.EventsQueue, cfg.PoisonQueue)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}

	var auth *api.Auth
	if secret := os.Getenv("LOCAL_AUTH_SHARED_SECRET"); secret != "" {
		auth = api.NewLocalAuth([]byte(secret))
	} else {
		if cfg.JWKSURL == "" {
			log.Fatal("missing auth config: set JWKS_URL or LOCAL_AUTH_SHARED_SECRET")
		}
		jwks, err := keyfunc.Get(cfg.JWKSURL, keyfunc.Options{})
		if err != nil {
			log.Fatalf("jwks: %v", err)
		}
		auth = api.NewAuth(jwks, cfg.JWTAudience, cfg.JWTIssuer)
	}

	services := api.Services{
		Events:         store,
		Publisher:      store,
		Auth:           auth,
		PublishTimeout: cfg.PublishTimeout,
		Logger:         log.StandardLogger(),
	}
	if cfg.RedisConnStr != "" {
		redisOpts, err := redis.ParseURL(cfg.RedisConnStr)
		if err != nil {
			log.Fatalf("redis config: %v", err)
		}
		rc := redis.NewClient(redisOpts)
		services.Deduper = api.NewRedisDeduper(rc, cfg.DeduperTTL)
		services.Cache = cache.NewReader(rc)
	}

	e := echo.New()
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, "Idempotency-Key"},
	}))
	api.Register(e, services)

	e.Logger.Fatal(e.Start(cfg.ListenAddr))
}
