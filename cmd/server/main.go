package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/martius-lab/teamproject-competition-server/internal/config"
	"github.com/martius-lab/teamproject-competition-server/internal/repository"
	"github.com/martius-lab/teamproject-competition-server/internal/server"
	"github.com/martius-lab/teamproject-competition-server/internal/service"
	"github.com/martius-lab/teamproject-competition-server/pkg/database"
	"github.com/martius-lab/teamproject-competition-server/pkg/events"
	"github.com/martius-lab/teamproject-competition-server/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger.Init(cfg.LogLevel, cfg.Env == "production")
	defer logger.Sync()

	logger.Info("Starting competition server",
		"port", cfg.Port,
		"env", cfg.Env,
		"game", cfg.GameName,
	)

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("Failed to connect to database", "error", err)
	}
	defer db.Close()

	if err := repository.EnsureSchema(db); err != nil {
		logger.Fatal("Failed to apply database schema", "error", err)
	}
	logger.Info("Database connection established")

	// event publishing is optional; without Redis the server runs standalone
	var publisher *events.Publisher
	if cfg.RedisURL != "" {
		publisher, err = events.NewPublisher(cfg.RedisURL)
		if err != nil {
			logger.Fatal("Failed to connect to Redis", "error", err)
		}
		defer publisher.Close()
		logger.Info("Redis event publishing enabled")
	}

	userRepo := repository.NewUserRepository(db)
	gameRepo := repository.NewGameRepository(db)

	players := service.NewPlayerManager(userRepo)
	games := service.NewGameManager(cfg.GameName, gameRepo, publisher, logger.L())
	matchmaking := service.NewMatchmakingManager(
		players,
		games,
		userRepo,
		service.NewSkillService(),
		publisher,
		service.MatchmakingConfig{
			MatchQualityThreshold:       cfg.MatchQualityThreshold,
			PercentageMinPlayersWaiting: cfg.PercentageMinPlayersWaiting,
			PercentalTimeBonus:          cfg.PercentalTimeBonus,
		},
		logger.L(),
	)

	srv := server.New(cfg, players, matchmaking, games)
	srv.Start()

	httpSrv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Port),
		Handler: srv.Router(),
		// no global timeouts, agent connections are long-lived
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		logger.Info("Server listening", "address", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	srv.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(ctx); err != nil {
		logger.Fatal("Server forced to shutdown", "error", err)
	}

	logger.Info("Server exited")
}
