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
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"trivialive/config"
	"trivialive/handlers"
	"trivialive/middleware"
	"trivialive/models"
	"trivialive/routes"
	"trivialive/services"
)

func main() {
	log := zerolog.New(os.Stdout).With().Timestamp().Logger()

	cfg := config.Load()

	db, err := config.InitDB(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	if err := db.AutoMigrate(
		&models.QuestionRow{},
		&models.OptionRow{},
		&models.GameRecord{},
		&models.PlayerResult{},
	); err != nil {
		log.Fatal().Err(err).Msg("failed to migrate database")
	}

	redisClient := config.InitRedis(cfg)
	clock := clockwork.NewRealClock()

	// Engine wiring: the hub is built first because the connection manager
	// and the hub reference each other.
	hub := services.NewHub(log)
	registry := services.NewRoomRegistry(clock, log)
	scheduler := services.NewQuestionScheduler(registry, hub, clock, log)
	provider := services.NewDBQuestionProvider(db)
	settlement := services.NewSettlementService(db, log)
	snapshots := services.NewStateCache(redisClient, cfg.SnapshotTTL, log)
	game := services.NewGameService(registry, provider, scheduler, hub, settlement, snapshots, clock, log)
	answers := services.NewAnswerProcessor(registry, scheduler, hub, clock, log)
	sessions := services.NewConnectionManager(registry, game, scheduler, hub, hub, clock, cfg.ReconnectGrace, log)
	hub.Attach(sessions, game, answers)

	auth := services.NewAuthService(cfg.JWTSecret)
	gameHandler := handlers.NewGameHandler(game, sessions, answers, registry)

	router := gin.Default()
	router.Use(middleware.CORS())
	routes.SetupRoutes(router, gameHandler, hub, auth, log)

	srv := &http.Server{
		Addr:    cfg.BindAddress + ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Info().Msg("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("server shutdown failed")
	}
	registry.Shutdown()
}
