// BotArmy server: REST API, SSE event streams, and the agent pipeline over
// a SQLite message queue.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"botarmy/internal/agents"
	"botarmy/internal/config"
	"botarmy/internal/events"
	"botarmy/internal/handlers"
	"botarmy/internal/llm"
	"botarmy/internal/logging"
	"botarmy/internal/metrics"
	"botarmy/internal/middleware"
	"botarmy/internal/store"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg := config.Load()
	logging.Init(cfg.Environment)
	defer logging.Sync()
	log := logging.L()

	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		log.Fatal("failed to open database", zap.String("path", cfg.DatabasePath), zap.Error(err))
	}
	defer st.Close()

	if err := st.Seed(cfg.SeedProjectID); err != nil {
		log.Fatal("failed to seed database", zap.Error(err))
	}

	var client llm.Client
	if cfg.OpenAIKey != "" {
		client = llm.NewOpenAIClient(cfg.OpenAIKey, llm.WithModel(cfg.OpenAIModel))
		log.Info("llm client ready", zap.String("model", cfg.OpenAIModel))
	} else {
		client = llm.NewStubClient()
		log.Warn("OPENAI_API_KEY not set, using stub llm client")
	}

	broker := events.NewBroker()
	go broker.Run()
	defer broker.Shutdown()

	registry := agents.DefaultRegistry(client, st, broker)
	runner := agents.NewRunner(st, registry, broker)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(
		middleware.Recovery(),
		middleware.RequestLogger(),
		middleware.CORS(cfg.AllowedOrigins),
		middleware.RateLimit(middleware.NewIPRateLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateBurst)),
		metrics.Middleware(),
	)

	h := handlers.NewHandler(st, registry, runner, broker, cfg.SeedProjectID)
	h.RegisterRoutes(router)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("forced shutdown", zap.Error(err))
	}
	log.Info("server stopped")
}
