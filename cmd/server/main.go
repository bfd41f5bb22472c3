package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/wuwenbin0122/novus-synthesis/internal/api"
	"github.com/wuwenbin0122/novus-synthesis/internal/auth"
	"github.com/wuwenbin0122/novus-synthesis/internal/history"
	"github.com/wuwenbin0122/novus-synthesis/internal/synthesis"
	"github.com/wuwenbin0122/novus-synthesis/internal/utils"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("config: no .env file loaded: %v", err)
	}

	cfg, err := utils.LoadConfig()
	if err != nil {
		log.Fatalf("config: failed to load: %v", err)
	}

	logger, err := utils.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("logger: failed to build: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()

	ctx := context.Background()

	store, err := history.Open(ctx, cfg.History, sugar)
	if err != nil {
		sugar.Fatalw("history: failed to open", "backend", cfg.History.Backend, "error", err)
	}
	if store != nil {
		defer func() {
			if err := store.Close(context.Background()); err != nil {
				sugar.Warnw("history: close error", "error", err)
			}
		}()
	}

	var authService *auth.Service
	if cfg.JWTSecret != "" {
		authService, err = auth.NewService(cfg.JWTSecret, cfg.JWTTTL)
		if err != nil {
			sugar.Fatalw("auth: failed to initialise", "error", err)
		}
	} else {
		sugar.Warn("auth: JWT_SECRET not set, gateway routes are unauthenticated")
	}

	client := synthesis.NewClient(cfg.Synthesis, sugar.Named("synthesis"))

	router := setupRouter(client, store, authService, sugar)

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		sugar.Infow("server listening",
			"addr", server.Addr,
			"synthesis_endpoint", client.Endpoint(),
			"history_backend", cfg.History.Backend,
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			sugar.Fatalw("server crashed", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		sugar.Warnw("graceful shutdown failed", "error", err)
	}

	sugar.Info("server stopped cleanly")
}

func setupRouter(client api.Synthesizer, store history.Store, authService *auth.Service, logger *zap.SugaredLogger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	})

	api.NewHandler(client, store, authService, logger.Named("api")).RegisterRoutes(router)

	return router
}
