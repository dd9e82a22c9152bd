package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/Priya8975/notify-delivery/internal/api"
	"github.com/Priya8975/notify-delivery/internal/config"
	"github.com/Priya8975/notify-delivery/internal/engine"
	"github.com/Priya8975/notify-delivery/internal/mq"
	"github.com/Priya8975/notify-delivery/internal/provider"
	"github.com/Priya8975/notify-delivery/internal/store"
	ws "github.com/Priya8975/notify-delivery/internal/websocket"
	"github.com/Priya8975/notify-delivery/internal/worker"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize PostgreSQL
	pgStore, err := store.NewPostgres(ctx, cfg.DatabaseURL, logger, cfg.SlowQueryThreshold)
	if err != nil {
		logger.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer pgStore.Close()
	logger.Info("connected to PostgreSQL")

	if err := pgStore.RunMigrations(ctx, cfg.MigrationsDir); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}
	logger.Info("database migrations applied")

	// Initialize Redis
	redisStore, err := store.NewRedis(ctx, cfg.RedisURL, cfg.NumWorkers+10)
	if err != nil {
		logger.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer redisStore.Close()
	logger.Info("connected to Redis")

	// Broker is optional; without it callbacks are applied in-process.
	var (
		callbackPub *mq.Publisher
		alertPub    engine.AlertPublisher
	)
	if cfg.AMQPURL != "" {
		callbackPub, err = mq.NewPublisher(cfg.AMQPURL, mq.CallbackExchange)
		if err != nil {
			logger.Error("failed to connect to rabbitmq", "error", err)
			os.Exit(1)
		}
		defer callbackPub.Close()

		alerts, err := mq.NewPublisher(cfg.AMQPURL, mq.AlertExchange)
		if err != nil {
			logger.Error("failed to open alert publisher", "error", err)
			os.Exit(1)
		}
		defer alerts.Close()
		alertPub = alerts
		logger.Info("connected to RabbitMQ")
	}

	// Safety circuits
	rateWindow := engine.NewRateWindow(redisStore.Client(), logger, cfg.Bounce.FailOpen)
	bounces := engine.NewBounceRateTracker(rateWindow, cfg.Bounce.Window)
	guard := engine.NewServiceGuard(redisStore.Client(), alertPub, pgStore, logger)

	hub := ws.NewHub(logger)
	go hub.Run(ctx)

	// Providers
	registry := engine.NewProviderRegistry(pgStore, logger)
	if err := registry.Load(ctx); err != nil {
		logger.Error("failed to load providers", "error", err)
		os.Exit(1)
	}
	go registry.StartRefresh(ctx, cfg.Callbacks.RegistryRefresh)

	factory, err := buildProviders(ctx, cfg)
	if err != nil {
		logger.Error("failed to configure providers", "error", err)
		os.Exit(1)
	}
	registry.UseAdapters(factory)
	logger.Info("providers configured", "identifiers", factory.Identifiers())

	statuses := engine.NewStatusMachine(pgStore, bounces, hub, logger)
	dispatcher := engine.NewDeliveryDispatcher(engine.DispatcherConfig{
		WarnThreshold:    cfg.Bounce.WarnThreshold,
		SuspendThreshold: cfg.Bounce.SuspendThreshold,
		SendTimeout:      cfg.Callbacks.ProviderSendTimeout,
	}, engine.DispatcherDeps{
		Bounces:       bounces,
		Circuit:       guard,
		Registry:      registry,
		Providers:     factory,
		Notifications: pgStore,
		Statuses:      statuses,
		Services:      pgStore,
	}, logger)

	// Callback processing
	var dlq worker.DLQPublisher
	if callbackPub != nil {
		dlq = callbackPub
	}
	processor := worker.NewCallbackProcessor(worker.ProcessorConfig{
		RetryWindow: cfg.Callbacks.RetryWindow,
	}, pgStore, statuses, pgStore, dlq, logger)

	pool := worker.NewPool(cfg.NumWorkers, processor, logger)
	pool.Start(ctx)

	retryPoller := worker.NewRetryPoller(redisStore.Client(), pool, logger)
	processor.SetRetryScheduler(retryPoller)

	// Goroutines that feed the pool must exit before it is stopped.
	var feeders sync.WaitGroup
	feeders.Add(1)
	go func() {
		defer feeders.Done()
		retryPoller.Start(ctx)
	}()

	sweeper := worker.NewTimeoutSweeper(pgStore, statuses,
		cfg.Callbacks.NotificationTimeout, cfg.Callbacks.TimeoutSweepInterval, logger)
	go sweeper.Start(ctx)

	var sink api.CallbackSink = pool
	if callbackPub != nil {
		sink = worker.NewBrokerSink(callbackPub)

		consumer, err := mq.NewConsumer(cfg.AMQPURL, mq.CallbackExchange,
			"notify.callbacks.worker", mq.CallbackRoutingKey("*"), cfg.NumWorkers, logger)
		if err != nil {
			logger.Error("failed to start callback consumer", "error", err)
			os.Exit(1)
		}
		defer consumer.Close()
		consumer.SetHandler(processor.HandleMessage)

		for i := 0; i < consumerCount(cfg.NumWorkers); i++ {
			feeders.Add(1)
			go func() {
				defer feeders.Done()
				if err := consumer.Start(ctx); err != nil {
					logger.Error("callback consumer stopped", "error", err)
				}
			}()
		}
	}

	// Setup router
	router := api.NewRouter(api.RouterDeps{
		Auth:          api.NewAuthenticator(pgStore, cfg.Auth.AdminClientID, cfg.Auth.AdminSecret),
		Notifications: api.NewNotificationHandler(dispatcher, pgStore, logger),
		Callbacks:     api.NewCallbackHandler(sink, logger),
		Services:      api.NewServiceHandler(pgStore, bounces, guard),
		Providers:     api.NewProviderHandler(pgStore, registry),
		DeadLetters:   api.NewDeadLetterHandler(pgStore, sink),
		Limiter:       rateWindow,
		RateLimit: api.RateLimitSettings{
			Enabled: cfg.RateLimit.Enabled,
			Limit:   cfg.RateLimit.Limit,
			Window:  cfg.RateLimit.Window,
		},
		Health: map[string]api.Pinger{
			"postgres": pgStore,
			"redis":    redisStore,
		},
		WebSocket: hub.HandleWebSocket,
		Logger:    logger,
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15*time.Second + cfg.Callbacks.ProviderSendTimeout,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info("server starting", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}

	cancel()
	feeders.Wait()
	pool.Stop()

	logger.Info("server stopped")
}

func consumerCount(workers int) int {
	switch {
	case workers < 1:
		return 1
	case workers > 8:
		return 8
	default:
		return workers
	}
}

// buildProviders registers an adapter for every backend that has credentials
// configured. The research provider is always available.
func buildProviders(ctx context.Context, cfg *config.Config) (*provider.Factory, error) {
	factory := provider.NewFactory(provider.NewResearch())
	p := cfg.Providers

	awsCfg, err := provider.LoadAWSConfig(ctx, provider.AWSConfig{
		Region:          p.AWS.Region,
		AccessKeyID:     p.AWS.AccessKeyID,
		SecretAccessKey: p.AWS.SecretAccessKey,
		Endpoint:        p.AWS.Endpoint,
	})
	if err != nil {
		return nil, err
	}

	if p.SES.FromAddress != "" {
		factory.Register(provider.NewSES(awsCfg, p.SES.FromAddress, p.SES.ConfigurationSet))
	}
	factory.Register(provider.NewSNS(awsCfg, p.SNS.SenderID))
	if p.Pinpoint.PoolID != "" {
		factory.Register(provider.NewPinpoint(awsCfg, p.Pinpoint.PoolID, p.Pinpoint.ConfigurationSet))
	}
	if p.Twilio.AccountSID != "" {
		factory.Register(provider.NewTwilio(provider.TwilioConfig{
			AccountSID:        p.Twilio.AccountSID,
			AuthToken:         p.Twilio.AuthToken,
			From:              p.Twilio.From,
			BaseURL:           p.Twilio.BaseURL,
			StatusCallbackURL: p.Twilio.StatusCallbackURL,
			Timeout:           cfg.Callbacks.ProviderSendTimeout,
		}))
	}
	if p.GovDelivery.BaseURL != "" {
		factory.Register(provider.NewGovDelivery(provider.GovDeliveryConfig{
			BaseURL:   p.GovDelivery.BaseURL,
			AuthToken: p.GovDelivery.AuthToken,
			FromName:  p.GovDelivery.FromName,
			Timeout:   cfg.Callbacks.ProviderSendTimeout,
		}))
	}
	return factory, nil
}
