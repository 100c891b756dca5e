package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os/signal"
	"syscall"

	"relaychat/internal/config"
	"relaychat/internal/handlers"
	"relaychat/internal/middleware"
	"relaychat/internal/routes"
	"relaychat/internal/services"
	"relaychat/internal/store"
	"relaychat/internal/utils"
	"relaychat/internal/websocket"
	"relaychat/pkg/database"
	"relaychat/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	// Initialize logger
	logger.Init()
	defer logger.Close()

	// Load configuration
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Fatal("Invalid configuration: " + err.Error())
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize store
	st, db, err := openStore(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to initialize store: " + err.Error())
	}

	// Initialize WebSocket hub and realtime services
	hub := websocket.NewHub(websocket.SettingsFromConfig(cfg.Server.WebSocket))

	rt := cfg.Realtime
	cache := services.NewIdempotencyCache(rt.IdempotencySize, rt.IdempotencyTTL)
	typing := services.NewTypingTracker(rt.TypingTimeout)
	pipeline := services.NewMessagePipeline(st, cache, rt.PersistRetryDelay)

	presence := services.NewPresenceService(hub)
	private := services.NewPrivateMessagingService(hub, pipeline, typing, rt.IdempotencySize, rt.IdempotencyTTL)
	group := services.NewGroupMessagingService(hub, st, pipeline, typing, rt.IdempotencySize, rt.IdempotencyTTL)
	calls := services.NewCallOrchestrator(hub, st, rt)

	hub.AddObserver(presence)
	hub.AddObserver(calls)

	// Initialize Gin router
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	limiter := middleware.NewRateLimiter(cfg.Server.HTTP.RateLimit, cfg.Server.HTTP.RateBurst)
	defer limiter.Stop()

	routes.SetupRoutes(router, routes.Dependencies{
		Config:     cfg,
		Hub:        hub,
		Store:      st,
		Verifier:   utils.NewJWTVerifier(cfg.Security.JWT),
		Dispatcher: handlers.NewEventRouter(private, group, calls),
		Presence:   presence,
		Calls:      calls,
		ICE:        services.NewICEService(cfg.ICE),
		Limiter:    limiter,
	})

	server := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.HTTP.Host, cfg.App.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.HTTP.ReadTimeout,
		WriteTimeout: cfg.Server.HTTP.WriteTimeout,
		IdleTimeout:  cfg.Server.HTTP.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})

	g.Go(func() error {
		logger.WithFields(map[string]interface{}{
			"addr":      server.Addr,
			"namespace": cfg.Server.WebSocket.Namespace,
			"store":     cfg.Database.Driver,
		}).Info("Server starting")

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.HTTP.ShutdownTimeout)
		defer cancel()

		err := server.Shutdown(shutdownCtx)

		calls.Close()
		typing.Stop()
		hub.Close()

		if db != nil {
			if derr := db.Disconnect(shutdownCtx); derr != nil {
				logger.WithError(derr).Error("Failed to disconnect from MongoDB")
			}
		}
		return err
	})

	if err := g.Wait(); err != nil {
		logger.Fatal("Server stopped with error: " + err.Error())
	}
	logger.Info("Server stopped")
}

// openStore builds the configured store driver. db is nil for the memory driver.
func openStore(ctx context.Context, cfg *config.Config) (store.Store, *database.DB, error) {
	switch cfg.Database.Driver {
	case "memory":
		memory := store.NewMemoryStore()
		seed, err := store.ParseGroupSeed(cfg.Database.Memory.Groups)
		if err != nil {
			return nil, nil, err
		}
		for groupID, members := range seed {
			for _, userID := range members {
				if err := memory.AddGroupMember(ctx, groupID, userID); err != nil {
					return nil, nil, err
				}
			}
		}
		logger.WithField("groups", len(seed)).Info("Using in-memory store")
		return memory, nil, nil

	default:
		db, err := database.Connect(ctx, cfg.Database.MongoDB)
		if err != nil {
			return nil, nil, err
		}
		if err := db.EnsureIndexes(ctx); err != nil {
			_ = db.Disconnect(context.Background())
			return nil, nil, err
		}
		return store.NewMongoStore(db, cfg.Database.MongoDB.OperationTimeout), db, nil
	}
}
