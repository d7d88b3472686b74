package main

import (
	"fmt"
	"os"

	"github.com/MicahParks/keyfunc"
	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"taskmate-sync/api"
	"taskmate-sync/broadcast"
	"taskmate-sync/config"
	"taskmate-sync/storage"
)

func main() {
	config.SetupLogging()

	connStr := os.Getenv("STORAGE_CONNECTION_STRING")
	tables := storage.TablesFromEnv(os.Getenv)
	if connStr == "" {
		log.Fatal("missing storage config")
	}
	if err := tables.Validate(); err != nil {
		log.Fatalf("storage config: %v", err)
	}
	base, err := storage.New(connStr, tables)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}

	redisOpts, err := config.RedisOptions(os.Getenv("REDIS_CONNECTION_STRING"))
	if err != nil {
		log.Fatalf("redis config: %v", err)
	}
	rc := redis.NewClient(redisOpts)
	cacheTTL, err := config.EnvDur("READ_CACHE_TTL", defaultCacheTTL)
	if err != nil {
		log.Fatal(err)
	}
	store := storage.NewCache(base, rc, cacheTTL)

	dedupeTTL, err := config.EnvDur("DEDUPER_TTL", defaultDedupeTTL)
	if err != nil {
		log.Fatal(err)
	}

	auth, err := newAuth()
	if err != nil {
		log.Fatal(err)
	}

	opts := api.Options{
		Deduper: api.NewRedisDeduper(rc, dedupeTTL),
		Events:  broadcast.NewRedisTransport(rc),
		Logger:  log.StandardLogger(),
	}
	if key, secret := os.Getenv("CHANNEL_KEY"), os.Getenv("CHANNEL_SECRET"); key != "" && secret != "" {
		opts.Channels = &api.ChannelSigner{Key: key, Secret: []byte(secret)}
	} else {
		log.Warn("CHANNEL_KEY/CHANNEL_SECRET not set; channel authorization disabled")
	}
	if opts.EnqueueTimeout, err = config.EnvDur("ENQUEUE_TIMEOUT", 0); err != nil {
		log.Fatal(err)
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{config.EnvString("CORS_ORIGIN", "*")},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, echo.HeaderContentEncoding},
	}))
	e.Use(echoprometheus.NewMiddleware("boardsync_api"))
	e.Use(api.RequestObserver(log.StandardLogger()))
	e.Use(api.GzipRequestMiddleware())
	e.GET("/metrics", echoprometheus.NewHandler())

	api.Register(e, store, auth, opts)

	listenAddr := ":8080"
	if val, ok := os.LookupEnv("FUNCTIONS_CUSTOMHANDLER_PORT"); ok {
		listenAddr = ":" + val
	}
	e.Logger.Fatal(e.Start(listenAddr))
}

func newAuth() (*api.Auth, error) {
	if config.EnvBool("AUTH0_TEST_MODE") {
		secret := os.Getenv("TEST_JWT_SECRET")
		if secret == "" {
			return nil, fmt.Errorf("TEST_JWT_SECRET must be set when AUTH0_TEST_MODE=1")
		}
		return api.NewTestAuth([]byte(secret)), nil
	}
	audience := os.Getenv("AUTH0_AUDIENCE")
	domain := os.Getenv("AUTH0_DOMAIN")
	if audience == "" || domain == "" {
		return nil, fmt.Errorf("missing Auth0 config")
	}
	ttl, err := config.EnvDur("JWKS_CACHE_TTL", api.DefaultJWKSCacheTTL)
	if err != nil {
		return nil, err
	}
	jwks, err := keyfunc.Get(fmt.Sprintf("https://%s/.well-known/jwks.json", domain), keyfunc.Options{})
	if err != nil {
		return nil, fmt.Errorf("jwks: %w", err)
	}
	return api.NewAuth(jwks, audience, "https://"+domain+"/", ttl), nil
}
