/**
 * @description
 * This is the main entry point for the panel-service. It is responsible for
 * initializing all components of the service, including configuration, database
 * connection, external API clients, message brokers, repositories, the core
 * application service, and the HTTP server. It wires everything together and
 * starts the service.
 *
 * @dependencies
 * - log, net/http: Standard Go libraries for logging and HTTP server functionality.
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - github.com/redis/go-redis/v9: Catalog cache backend.
 * - internal/api, internal/app, internal/config, internal/store: Internal packages for the service.
 * - pkg/smmclient, pkg/paystackclient, pkg/rabbitmq: Clients for external services.
 */

package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/gainfollowers/panel-service/internal/api"
	"github.com/gainfollowers/panel-service/internal/app"
	"github.com/gainfollowers/panel-service/internal/config"
	"github.com/gainfollowers/panel-service/internal/store"
	"github.com/gainfollowers/panel-service/pkg/paystackclient"
	"github.com/gainfollowers/panel-service/pkg/rabbitmq"
	"github.com/gainfollowers/panel-service/pkg/smmclient"
)

func main() {
	// Load application configuration from environment variables.
	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}
	if strings.TrimSpace(cfg.ProviderAPIKey) == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"provider api key must be configured\" env=PROVIDER_API_KEY")
	}
	if strings.TrimSpace(cfg.PaystackSecretKey) == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"paystack secret key must be configured\" env=PAYSTACK_SECRET_KEY")
	}

	log.Printf("level=info component=bootstrap msg=\"starting panel-service\" port=%s", cfg.ServerPort)

	// Establish a connection pool to the PostgreSQL database.
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database url parse failed\" err=%v", err)
	}

	poolConfig.MaxConns = 50
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	// Disable prepared statement caching to prevent conflicts behind poolers.
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database connection failed\" err=%v", err)
	}
	defer dbpool.Close()
	log.Println("level=info component=bootstrap msg=\"database connected\"")

	// Initialize the RabbitMQ producer to publish events. This service only
	// needs to publish; a missing broker degrades to a no-op fallback.
	var eventPublisher rabbitmq.Publisher
	if producer, prodErr := rabbitmq.NewEventProducer(cfg.RabbitMQURL); prodErr != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq producer unavailable; using fallback\" err=%v", prodErr)
		eventPublisher = &rabbitmq.EventProducerFallback{}
	} else {
		eventPublisher = producer
		log.Println("level=info component=bootstrap msg=\"rabbitmq producer connected\"")
	}
	defer eventPublisher.Close()

	// Initialize external API clients.
	providerClient := smmclient.NewClient(cfg.ProviderAPIURL, cfg.ProviderAPIKey)
	gatewayClient := paystackclient.NewClient(cfg.PaystackBaseURL, cfg.PaystackSecretKey)

	// Optional Redis catalog cache; a missing Redis just means every catalog
	// read hits the provider.
	var catalogCache app.CatalogCache
	if strings.TrimSpace(cfg.RedisURL) == "" {
		log.Println("level=warn component=bootstrap msg=\"redis url missing; catalog caching disabled\" env=REDIS_URL")
	} else {
		redisOptions, parseErr := redis.ParseURL(cfg.RedisURL)
		if parseErr != nil {
			log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; catalog caching disabled\" err=%v", parseErr)
		} else {
			redisClient := redis.NewClient(redisOptions)
			pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancelPing()
			if pingErr := redisClient.Ping(pingCtx).Err(); pingErr != nil {
				log.Printf("level=warn component=bootstrap msg=\"redis ping failed; catalog caching disabled\" err=%v", pingErr)
				redisClient.Close()
			} else {
				defer redisClient.Close()
				catalogCache = app.NewRedisCatalogCache(redisClient, "panel", time.Duration(cfg.CatalogCacheTTLSecs)*time.Second)
				log.Println("level=info component=bootstrap msg=\"redis connected\"")
			}
		}
	}

	// Initialize the data access layer (repository).
	repository := store.NewPostgresRepository(dbpool)

	// Initialize the core application service with its dependencies.
	panelService := app.NewService(
		repository,
		providerClient,
		gatewayClient,
		eventPublisher,
		catalogCache,
		app.Options{
			USDRate:           cfg.USDRate,
			MarginPercent:     cfg.MarginPercent,
			PlaceOrderTimeout: time.Duration(cfg.PlaceOrderTimeoutSecs) * time.Second,
			StatusTimeout:     time.Duration(cfg.StatusTimeoutSecs) * time.Second,
			TopupCallbackURL:  cfg.TopupCallbackURL,
		},
	)

	// Initialize the API handlers and routes.
	panelHandlers := api.NewPanelHandlers(
		panelService,
		cfg.PaystackWebhookSecret,
		time.Duration(cfg.SyncGraceMinutes)*time.Minute,
		cfg.SyncBatchSize,
	)
	router := api.PanelRoutes(panelHandlers, cfg.AuthJWKSURL, cfg.InternalAPIKey)

	serverAddr := fmt.Sprintf(":%s", cfg.ServerPort)
	log.Printf("level=info component=http msg=\"server listening\" addr=%s", serverAddr)

	server := &http.Server{
		Addr:    serverAddr,
		Handler: router,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("level=fatal component=http msg=\"server stopped unexpectedly\" err=%v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Println("level=info component=http msg=\"shutdown started\"")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("level=error component=http msg=\"shutdown failed\" err=%v", err)
	}

	log.Println("level=info component=http msg=\"shutdown complete\"")
}
