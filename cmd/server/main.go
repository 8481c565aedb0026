package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"storybook-server/internal/auth"
	"storybook-server/internal/config"
	"storybook-server/internal/database"
	"storybook-server/internal/handler"
	"storybook-server/internal/logger"
	"storybook-server/internal/messaging"
	"storybook-server/internal/repository"
	"storybook-server/internal/segmenter"
	"storybook-server/internal/service"
	"storybook-server/internal/session"
	"storybook-server/internal/taskmanager"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.MustNew(cfg.Logger)
	defer func() { _ = log.Sync() }()
	zap.ReplaceGlobals(log)

	log.Info("Starting storybook server",
		zap.String("env", cfg.AppEnv),
		zap.String("store_backend", cfg.StoreBackend),
		zap.String("narrative_client", cfg.Narrative.ClientType),
		zap.String("illustration_client", cfg.Illustration.ClientType),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Хранилище ---
	durable, closeStore, err := setupStore(ctx, cfg, log)
	if err != nil {
		log.Fatal("Failed to set up story store", zap.Error(err))
	}
	defer closeStore()

	sessions := session.NewManager(durable, log)

	// --- Клиенты генерации ---
	narrative, err := service.NewNarrativeGenerator(cfg.Narrative, log)
	if err != nil {
		log.Fatal("Failed to create narrative client", zap.Error(err))
	}

	var requirements service.RequirementsExtractor
	if cfg.Requirements.Enabled {
		requirements, err = service.NewRequirementsExtractor(cfg.Requirements, cfg.Narrative, log)
		if err != nil {
			log.Fatal("Failed to create requirements extractor", zap.Error(err))
		}
	}

	illustrations, err := service.NewIllustrationGenerator(cfg.Illustration, log)
	if err != nil {
		log.Fatal("Failed to create illustration client", zap.Error(err))
	}

	// --- Уведомления о прогрессе ---
	var notifier service.ProgressNotifier
	if cfg.RabbitMQ.URL != "" {
		conn, ch, publisher, err := setupProgressPublisher(cfg.RabbitMQ, log)
		if err != nil {
			log.Warn("Progress notifications disabled", zap.Error(err))
		} else {
			defer conn.Close()
			defer ch.Close()
			notifier = publisher
		}
	} else {
		log.Info("RABBITMQ_URL not set, progress notifications disabled")
	}

	orchestrator := service.NewGenerationOrchestrator(
		narrative,
		illustrations,
		sessions,
		notifier,
		service.OrchestratorConfig{
			Themes:       cfg.Story.DefaultThemes,
			Splitter:     segmenter.NewSplitter(cfg.Story.MinPageLength, cfg.Story.MaxPages),
			Requirements: requirements,
		},
		log,
	)

	tasks := taskmanager.New(taskmanager.Config{MaxTasks: cfg.Story.MaxActiveTasks}, log)
	go tasks.RunCleanup(ctx, time.Minute, cfg.Story.TaskRetention)
	go expireGuestSessions(ctx, sessions, cfg.Auth.GuestTokenTTL)

	tokens, err := auth.NewTokenManager(cfg.Auth.JWTSecret, log)
	if err != nil {
		log.Fatal("Failed to create token manager", zap.Error(err))
	}

	// --- HTTP ---
	if cfg.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	storyHandler := handler.NewStoryHandler(orchestrator, tasks, sessions, tokens, cfg.Auth.GuestTokenTTL, log)
	if requirements != nil {
		storyHandler.SetRequirementsExtractor(requirements)
	}
	router := handler.NewRouter(handler.RouterConfig{
		AllowedOrigins: cfg.CORSAllowedOrigins,
		EnableMetrics:  true,
	}, storyHandler, log)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("Starting HTTP server", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("HTTP server listen error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server forced to shutdown", zap.Error(err))
	}
	if err := tasks.Shutdown(shutdownCtx); err != nil {
		log.Warn("Generation tasks did not finish before shutdown", zap.Error(err))
	}
	log.Info("Server exiting")
}

// setupStore поднимает выбранное durable-хранилище и возвращает функцию освобождения ресурсов.
func setupStore(ctx context.Context, cfg *config.Config, log *zap.Logger) (repository.StoryRepository, func(), error) {
	switch strings.ToLower(cfg.StoreBackend) {
	case "firestore":
		client, err := repository.NewFirestoreClient(ctx, cfg.Firestore, log)
		if err != nil {
			return nil, nil, err
		}
		closeFn := func() {
			if err := client.Close(); err != nil {
				log.Warn("Failed to close Firestore client", zap.Error(err))
			}
		}
		return repository.NewFirestoreStoryRepository(client, cfg.Firestore.AppID, log), closeFn, nil

	default:
		pool, err := connectPostgres(ctx, cfg.Database, log)
		if err != nil {
			return nil, nil, err
		}
		if cfg.Database.RunMigrations {
			if err := database.NewMigrator(pool, log).Up(ctx); err != nil {
				pool.Close()
				return nil, nil, fmt.Errorf("migrations failed: %w", err)
			}
		}

		feed, closeFeed := setupChangeFeed(ctx, cfg.Redis, log)
		closeFn := func() {
			closeFeed()
			pool.Close()
		}
		return repository.NewPgStoryRepository(pool, feed, log), closeFn, nil
	}
}

// connectPostgres пытается подключиться несколько раз: база может подниматься дольше сервера.
func connectPostgres(ctx context.Context, cfg config.DatabaseConfig, log *zap.Logger) (*pgxpool.Pool, error) {
	const maxRetries = 10
	retryDelay := 3 * time.Second

	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		pool, err := database.NewPool(ctx, cfg, log)
		if err == nil {
			return pool, nil
		}
		lastErr = err
		log.Warn("Postgres connection failed, retrying...",
			zap.Int("attempt", attempt),
			zap.Int("max_retries", maxRetries),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(retryDelay):
		}
	}
	return nil, fmt.Errorf("postgres unavailable after %d attempts: %w", maxRetries, lastErr)
}

// setupChangeFeed использует Redis, а при его недоступности ленту внутри процесса.
func setupChangeFeed(ctx context.Context, cfg config.RedisConfig, log *zap.Logger) (repository.ChangeFeed, func()) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		log.Warn("Redis unavailable, live lists limited to this instance", zap.String("addr", cfg.Addr), zap.Error(err))
		_ = client.Close()
		return repository.NewInProcessChangeFeed(), func() {}
	}
	log.Info("Connected to Redis", zap.String("addr", cfg.Addr))
	return repository.NewRedisChangeFeed(client, cfg.ChannelPrefix, log), func() { _ = client.Close() }
}

func setupProgressPublisher(cfg config.RabbitMQConfig, log *zap.Logger) (*amqp.Connection, *amqp.Channel, *messaging.RabbitMQProgressPublisher, error) {
	conn, err := messaging.Connect(cfg.URL, 5, 3*time.Second, log)
	if err != nil {
		return nil, nil, nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, nil, fmt.Errorf("failed to open RabbitMQ channel: %w", err)
	}
	publisher, err := messaging.NewRabbitMQProgressPublisher(ch, cfg.ProgressQueue, log)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, nil, nil, err
	}
	return conn, ch, publisher, nil
}

func expireGuestSessions(ctx context.Context, sessions *session.Manager, ttl time.Duration) {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sessions.ExpireOlderThan(ttl)
		}
	}
}
