package main

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/rabbitmq/amqp091-go"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"teledoom/internal/ari"
	"teledoom/internal/call"
	"teledoom/internal/config"
	"teledoom/internal/engine"
	"teledoom/internal/game"
	"teledoom/internal/handler"
	"teledoom/internal/logger"
	"teledoom/internal/messaging"
	"teledoom/internal/metrics"
	"teledoom/internal/overlay"
	"teledoom/internal/repository"
	"teledoom/internal/sms"
	"teledoom/internal/stream"
)

// Разрешение экрана движка. Twitch принимает и такое.
const (
	screenWidth  = 320
	screenHeight = 240
)

func main() {
	// .env нужен только для локальной разработки
	_ = godotenv.Load()

	// --- Configuration ---
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// --- Logger Setup ---
	log, err := logger.New(logger.Config{
		Level:    cfg.LogLevel,
		Encoding: "json",
	})
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	zap.ReplaceGlobals(log)
	zap.L().Info("Logger initialized successfully", zap.String("logLevel", cfg.LogLevel))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- Overlay ---
	frameOverlay, err := overlay.New(overlay.Config{
		Width:         screenWidth,
		Height:        screenHeight,
		FontPath:      cfg.Overlay.FontPath,
		WatermarkPath: cfg.Overlay.WatermarkPath,
	}, log)
	if err != nil {
		zap.L().Fatal("Failed to initialize overlay", zap.Error(err))
	}

	// --- Optional External Connections ---
	var callRepo repository.CallRepository
	var pgPool *pgxpool.Pool
	if cfg.DB.Host != "" {
		pgPool, err = setupPostgres(ctx, cfg)
		if err != nil {
			zap.L().Fatal("Failed to connect to PostgreSQL", zap.Error(err))
		}
		defer pgPool.Close()
		zap.L().Info("Connected to PostgreSQL")

		if err := repository.ApplyMigrations(cfg.DB.GetDSN(), log); err != nil {
			zap.L().Fatal("Failed to apply migrations", zap.Error(err))
		}
		callRepo = repository.NewPgCallRepository(pgPool, log)
	}

	var cooldownRepo repository.CooldownRepository
	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient, err = setupRedis(ctx, cfg)
		if err != nil {
			zap.L().Fatal("Failed to connect to Redis", zap.Error(err))
		}
		defer redisClient.Close()
		zap.L().Info("Connected to Redis")
		cooldownRepo = repository.NewRedisCooldownRepository(redisClient, log)
	}

	var callPublisher messaging.CallEventPublisher
	if cfg.Rabbit.URL != "" {
		mqConn, err := connectRabbitMQ(cfg.Rabbit.URL, log)
		if err != nil {
			zap.L().Fatal("Failed to connect to RabbitMQ", zap.Error(err))
		}
		defer mqConn.Close()
		zap.L().Info("Connected to RabbitMQ")

		callPublisher, err = messaging.NewRabbitMQCallEventPublisher(mqConn, log)
		if err != nil {
			zap.L().Fatal("Failed to create call event publisher", zap.Error(err))
		}
		defer callPublisher.Close()
	}

	var smsSender sms.Sender
	if cfg.Simwood.Enabled() {
		smsSender = sms.NewClient(sms.Config{
			APIUser:     cfg.Simwood.APIUser,
			APIPassword: cfg.Simwood.APIPassword,
			Account:     cfg.Simwood.Account,
			Number:      cfg.Simwood.Number,
		}, log)
	} else {
		zap.L().Warn("Simwood credentials not set, no SMS integration!")
	}

	// --- Telephony ---
	events := make(chan game.Event, 64)

	ariClient := ari.NewClient(ari.ClientConfig{
		URL:      cfg.ARI.URL,
		Username: cfg.ARI.Username,
		Password: cfg.ARI.Password,
		App:      cfg.ARI.App,
	}, log)

	callManager := call.NewManager(ariClient, events, call.Config{
		WelcomeMessage: cfg.Simwood.WelcomeMessage,
		CooldownTTL:    cfg.Redis.CooldownTTL,
	}, call.Options{
		SMS:       smsSender,
		Cooldown:  cooldownRepo,
		Calls:     callRepo,
		Publisher: callPublisher,
	}, log)

	go func() {
		if err := ariClient.Run(ctx); err != nil && ctx.Err() == nil {
			zap.L().Error("ARI client stopped with error", zap.Error(err))
		}
	}()
	go func() {
		for event := range ariClient.Events() {
			callManager.HandleEvent(ctx, event)
		}
	}()

	// --- Game and Stream ---
	twitch := stream.NewTwitch(stream.Config{
		URL:     cfg.Twitch.URL,
		FPS:     cfg.Twitch.FPS,
		CBR:     cfg.Twitch.CBR,
		Width:   screenWidth,
		Height:  screenHeight,
		Verbose: cfg.Env == "development",
	}, log)

	runner := &gameRunner{
		client: engine.NewClient(cfg.Engine.URL, log),
		engineConfig: engine.Config{
			Width:     screenWidth,
			Height:    screenHeight,
			Ticrate:   cfg.Twitch.FPS,
			RenderHUD: true,
			Buttons:   game.ButtonNames(),
		},
		stream:  twitch,
		overlay: frameOverlay,
		events:  events,
		loopConfig: game.Config{
			FPS: cfg.Twitch.FPS,
		},
		logger: log,
	}
	go runner.run(ctx)

	// --- HTTP Server ---
	statusHandler := handler.NewStatusHandler(callManager, runner, callRepo, log)
	router := handler.NewRouter(cfg.Env, statusHandler, log)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	zap.L().Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zap.L().Fatal("HTTP Server listen error", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	sig := <-quit
	zap.L().Info("Shutting down", zap.String("signal", sig.String()))

	// Сначала останавливаем телефонию и игру, потом HTTP сервер
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zap.L().Error("HTTP Server forced to shutdown", zap.Error(err))
	}

	zap.L().Info("Server exiting")
}

// gameRunner держит игровой цикл, переподключаясь к движку при обрывах.
type gameRunner struct {
	client       *engine.Client
	engineConfig engine.Config
	stream       stream.Starter
	overlay      game.Decorator
	events       chan game.Event
	loopConfig   game.Config
	logger       *zap.Logger

	mu   sync.Mutex
	loop *game.Loop
}

// Streaming сообщает, идет ли сейчас стрим (для служебного API).
func (r *gameRunner) Streaming() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loop != nil && r.loop.Streaming()
}

func (r *gameRunner) run(ctx context.Context) {
	delay := time.Second
	const maxDelay = 30 * time.Second

	for ctx.Err() == nil {
		dialCtx, dialCancel := context.WithTimeout(ctx, 10*time.Second)
		session, err := r.client.Dial(dialCtx, r.engineConfig)
		dialCancel()
		if err != nil {
			r.logger.Warn("Engine connection failed, retrying",
				zap.Error(err), zap.Duration("delay", delay))
			metrics.EngineReconnects.Inc()
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			if delay *= 2; delay > maxDelay {
				delay = maxDelay
			}
			continue
		}
		delay = time.Second

		loop := game.NewLoop(session, r.stream, r.overlay, r.events, r.loopConfig, r.logger)
		r.mu.Lock()
		r.loop = loop
		r.mu.Unlock()

		err = loop.Run(ctx)
		r.mu.Lock()
		r.loop = nil
		r.mu.Unlock()
		_ = session.Close()

		if ctx.Err() != nil {
			return
		}
		r.logger.Error("Game loop stopped, reconnecting to engine", zap.Error(err))
		metrics.EngineReconnects.Inc()
	}
}

// setupPostgres initializes the PostgreSQL connection pool with retry logic.
func setupPostgres(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DB.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("unable to parse postgres config: %w", err)
	}
	poolConfig.MaxConns = int32(cfg.DB.MaxConns)
	poolConfig.MaxConnIdleTime = cfg.DB.IdleTimeout

	var pool *pgxpool.Pool
	var lastErr error
	maxRetries := 50
	retryDelay := 3 * time.Second

	zap.L().Info("Attempting to connect to PostgreSQL",
		zap.Int("max_retries", maxRetries), zap.Duration("retry_delay", retryDelay))

	for i := 0; i < maxRetries; i++ {
		attempt := i + 1
		connectCtx, connectCancel := context.WithTimeout(ctx, 5*time.Second)
		pool, err = pgxpool.NewWithConfig(connectCtx, poolConfig)
		connectCancel()

		if err == nil {
			pingCtx, pingCancel := context.WithTimeout(ctx, 2*time.Second)
			err = pool.Ping(pingCtx)
			pingCancel()
			if err == nil {
				zap.L().Info("Successfully connected and pinged PostgreSQL", zap.Int("attempt", attempt))
				return pool, nil
			}
			pool.Close()
		}

		lastErr = fmt.Errorf("postgres connection attempt %d/%d failed: %w", attempt, maxRetries, err)
		zap.L().Warn("Postgres connection failed, retrying...",
			zap.Int("attempt", attempt), zap.Int("max_retries", maxRetries), zap.Error(err))
		if i < maxRetries-1 {
			time.Sleep(retryDelay)
		}
	}

	return nil, fmt.Errorf("failed to connect to postgres after %d attempts: %w", maxRetries, lastErr)
}

// setupRedis initializes the Redis client with retry logic.
func setupRedis(ctx context.Context, cfg *config.Config) (*redis.Client, error) {
	redisOpts := &redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}

	var client *redis.Client
	var lastErr error
	maxRetries := 50
	retryDelay := 3 * time.Second

	zap.L().Info("Attempting to connect and ping Redis",
		zap.String("address", redisOpts.Addr), zap.Int("max_retries", maxRetries))

	for i := 0; i < maxRetries; i++ {
		attempt := i + 1
		client = redis.NewClient(redisOpts)

		pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
		_, err := client.Ping(pingCtx).Result()
		pingCancel()

		if err == nil {
			zap.L().Info("Successfully connected and pinged Redis", zap.Int("attempt", attempt))
			return client, nil
		}

		client.Close()
		lastErr = fmt.Errorf("unable to ping redis (attempt %d/%d): %w", attempt, maxRetries, err)
		zap.L().Warn("Redis ping failed, retrying...",
			zap.Int("attempt", attempt), zap.Int("max_retries", maxRetries), zap.Error(err))
		if i < maxRetries-1 {
			time.Sleep(retryDelay)
		}
	}

	return nil, fmt.Errorf("failed to connect to redis after %d attempts: %w", maxRetries, lastErr)
}

// connectRabbitMQ пытается подключиться к RabbitMQ с несколькими попытками.
func connectRabbitMQ(amqpURL string, log *zap.Logger) (*amqp091.Connection, error) {
	var conn *amqp091.Connection
	var err error
	maxRetries := 50
	retryDelay := 5 * time.Second

	log.Info("Attempting to connect to RabbitMQ",
		zap.String("url", maskRabbitMQURL(amqpURL)),
		zap.Int("max_retries", maxRetries),
		zap.Duration("retry_delay", retryDelay),
	)
	for i := 0; i < maxRetries; i++ {
		attempt := i + 1
		conn, err = amqp091.Dial(amqpURL)
		if err == nil {
			log.Info("Successfully connected to RabbitMQ", zap.Int("attempt", attempt))
			go func() {
				notifyClose := make(chan *amqp091.Error)
				conn.NotifyClose(notifyClose)
				if err := <-notifyClose; err != nil {
					log.Error("RabbitMQ connection closed unexpectedly", zap.Error(err))
				} else {
					log.Info("RabbitMQ connection closed gracefully.")
				}
			}()
			return conn, nil
		}
		log.Warn("RabbitMQ connection failed, retrying...",
			zap.Int("attempt", attempt), zap.Int("max_attempts", maxRetries), zap.Error(err))
		time.Sleep(retryDelay)
	}
	return nil, fmt.Errorf("failed to connect to RabbitMQ after %d attempts: %w", maxRetries, err)
}

// maskRabbitMQURL прячет пароль из URL при логировании.
func maskRabbitMQURL(amqpURL string) string {
	u, err := url.Parse(amqpURL)
	if err != nil {
		return "amqp://***"
	}
	if u.User != nil {
		u.User = url.User(u.User.Username())
	}
	return u.String()
}
