package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	v1 "github.com/abba-boss/luxury-cars-automobiles-sub002/cmd/api/router/v1"
	"github.com/abba-boss/luxury-cars-automobiles-sub002/internal/config"
	authadapter "github.com/abba-boss/luxury-cars-automobiles-sub002/internal/infrastructure/auth/adapter"
	cacheadapter "github.com/abba-boss/luxury-cars-automobiles-sub002/internal/infrastructure/cache/adapter"
	cacheport "github.com/abba-boss/luxury-cars-automobiles-sub002/internal/infrastructure/cache/port"
	"github.com/abba-boss/luxury-cars-automobiles-sub002/internal/infrastructure/database"
	queueadapter "github.com/abba-boss/luxury-cars-automobiles-sub002/internal/infrastructure/queue/adapter"
	qport "github.com/abba-boss/luxury-cars-automobiles-sub002/internal/infrastructure/queue/port"
	"github.com/abba-boss/luxury-cars-automobiles-sub002/internal/infrastructure/realtime"
	relayadapter "github.com/abba-boss/luxury-cars-automobiles-sub002/internal/infrastructure/relay/adapter"
	relayport "github.com/abba-boss/luxury-cars-automobiles-sub002/internal/infrastructure/relay/port"
	"github.com/abba-boss/luxury-cars-automobiles-sub002/internal/observability"
	"github.com/abba-boss/luxury-cars-automobiles-sub002/internal/pkg/chat/application/task"
	repoadapter "github.com/abba-boss/luxury-cars-automobiles-sub002/internal/pkg/chat/persistence/repository/adapter"
	repository "github.com/abba-boss/luxury-cars-automobiles-sub002/internal/pkg/chat/persistence/repository/port"
	"github.com/abba-boss/luxury-cars-automobiles-sub002/internal/pkg/chat/presentation/controller"
	httpHandler "github.com/abba-boss/luxury-cars-automobiles-sub002/internal/pkg/chat/presentation/http"
)

const shutdownTimeout = 30 * time.Second

func main() {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: .env file not found or could not be loaded: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := observability.NewLogger(cfg.LogLevel, cfg.LogFormat).With("service", "realtime")
	slog.SetDefault(logger)
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	// Connect to backing services on startup
	startCtx, cancelStart := context.WithTimeout(context.Background(), 10*time.Second)
	b, err := openBackends(startCtx, cfg, logger)
	cancelStart()
	if err != nil {
		logger.Error("failed to open backends", "error", err)
		os.Exit(1)
	}

	auth := authadapter.NewJWTAuthenticator(cfg.JWTSecret, cfg.JWTIssuer, b.cache)
	router := realtime.NewRouter(logger)
	fanout := realtime.NewFanout(router, b.relay, logger)

	var conversations repository.ConversationRepository = repoadapter.NewOpenConversationRepository()
	if b.pool != nil {
		conversations = repoadapter.NewPgConversationRepository(b.pool)
	} else {
		logger.Warn("DB_URL not set: any authenticated user may join any conversation")
	}
	conversations = repoadapter.NewCachedConversationRepository(conversations, b.cache, cfg.ParticipantTTL(), logger)

	var queue qport.Client
	if b.queue != nil {
		queue = b.queue
	}
	if b.worker != nil {
		task.RegisterOrderRequestTask(b.worker, fanout, logger)
		task.RegisterSessionRevokedTask(b.worker, auth, fanout, logger)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	v1.RegisterRoutes(engine, httpHandler.Dependencies{
		Auth:          auth,
		Router:        router,
		Fanout:        fanout,
		Conversations: conversations,
		Queue:         queue,
		PersistQueue:  cfg.PersistQueue,
		Socket: controller.SocketOptions{
			SendBuffer:     cfg.SendBuffer,
			RatePerSec:     cfg.RatePerSec,
			RateBurst:      cfg.RateBurst,
			AllowedOrigins: cfg.Origins(),
		},
		Logger: logger,
	})

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	runCtx, stop := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		logger.Info("http server listening", "addr", srv.Addr, "node_id", fanout.NodeID())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return fanout.Run(gctx)
	})
	if b.worker != nil {
		g.Go(func() error {
			return b.worker.Run(gctx)
		})
	}

	var shuttingDown atomic.Bool
	groupDone := make(chan struct{})
	go func() {
		err := g.Wait()
		if err != nil && !shuttingDown.Load() {
			logger.Error("realtime server stopped unexpectedly", "error", err)
			b.Close()
			os.Exit(1)
		}
		close(groupDone)
	}()

	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		shutdownTimeout,
		map[string]gfshutdown.Operation{
			"realtime": func(ctx context.Context) error {
				logger.Info("graceful shutdown initiated")
				shuttingDown.Store(true)

				router.Close()
				err := srv.Shutdown(ctx)
				stop()

				select {
				case <-groupDone:
				case <-ctx.Done():
				}
				b.Close()
				return err
			},
		},
	)

	exitCode := <-wait
	logger.Info("realtime server exited", "code", exitCode)
	os.Exit(exitCode)
}

// backends holds the optional external services. Without DB_URL the
// conversation directory is open; without REDIS_URL the cache is in-process
// and there is no relay or job queue.
type backends struct {
	pool   *pgxpool.Pool
	cache  cacheport.Cache
	relay  relayport.Relay
	queue  *queueadapter.AsynqClient
	worker *queueadapter.AsynqServer
}

func openBackends(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*backends, error) {
	b := &backends{}

	if cfg.DatabaseURL != "" {
		pool, err := database.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		b.pool = pool
	}

	if cfg.RedisURL == "" {
		b.cache = cacheadapter.NewMemoryCache()
		return b, nil
	}

	rc, err := cacheadapter.NewRedisCache(ctx, cfg.RedisURL, "realtime:")
	if err != nil {
		b.Close()
		return nil, err
	}
	b.cache = rc
	b.relay = relayadapter.NewRedisRelay(rc.Client(), relayadapter.DefaultChannel)

	if b.queue, err = queueadapter.NewAsynqClient(cfg.RedisURL); err != nil {
		b.Close()
		return nil, err
	}
	if b.worker, err = queueadapter.NewAsynqServer(cfg.RedisURL, cfg.AsynqConcurrency, cfg.WorkerQueues(), logger); err != nil {
		b.Close()
		return nil, err
	}
	return b, nil
}

func (b *backends) Close() {
	if b.queue != nil {
		_ = b.queue.Close()
	}
	if b.relay != nil {
		_ = b.relay.Close()
	}
	if b.cache != nil {
		_ = b.cache.Close()
	}
	if b.pool != nil {
		b.pool.Close()
	}
}
