package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pramodkumar0813/DI-Skill-Bridge/config"
	"github.com/pramodkumar0813/DI-Skill-Bridge/internal/auth"
	"github.com/pramodkumar0813/DI-Skill-Bridge/internal/bus"
	"github.com/pramodkumar0813/DI-Skill-Bridge/internal/classroom"
	"github.com/pramodkumar0813/DI-Skill-Bridge/internal/directory"
	"github.com/pramodkumar0813/DI-Skill-Bridge/internal/handlers"
	"github.com/pramodkumar0813/DI-Skill-Bridge/internal/logger"
	"github.com/pramodkumar0813/DI-Skill-Bridge/internal/presence"
	"github.com/pramodkumar0813/DI-Skill-Bridge/internal/redis"
	"github.com/pramodkumar0813/DI-Skill-Bridge/internal/session"
	"github.com/rs/zerolog/log"
)

func main() {
	issueFor := flag.String("issue-token", "", "print a development access token for this user id and exit")
	flag.Parse()

	// Load configuration
	cfg := config.Load()
	logger.Init(cfg.LogLevel, cfg.Environment)

	if *issueFor != "" {
		token, err := auth.IssueToken(cfg.JWTSecret, *issueFor, 24*time.Hour)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to issue token")
		}
		fmt.Println(token)
		return
	}

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	redisClient, err := redis.Connect(ctx, cfg.Redis)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to Redis")
	}
	defer redisClient.Close()
	log.Info().Str("host", cfg.Redis.Host).Msg("redis connection established")

	dir, err := directory.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to the class directory")
	}
	defer dir.Close()
	log.Info().Msg("class directory connection established")

	hub := bus.NewHub(redisClient, cfg.Redis.EventChannel, cfg.Presence.Timeout)
	if err := hub.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to start event bus")
	}
	defer hub.Close()

	store := presence.NewStore(redisClient, cfg.Presence.Timeout)
	sessions := session.NewRegistry(auth.NewVerifier(cfg.JWTSecret, dir, cfg.Directory.Timeout))
	coordinator := classroom.New(sessions, store, hub, dir, classroom.Options{
		EnforceWindow:    cfg.Schedule.EnforceWindow,
		JoinLead:         cfg.Schedule.JoinLead,
		DirectoryTimeout: cfg.Directory.Timeout,
		CleanupTimeout:   cfg.Presence.Timeout,
	})

	ws := handlers.NewHandler(sessions, coordinator, hub, cfg.WebSocket)
	router := handlers.NewRouter(cfg, ws, coordinator, map[string]handlers.Pinger{
		"redis":    store,
		"postgres": dir,
	})

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.Port).Str("instance", hub.InstanceID()).Msg("classroom server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown failed")
	}
	// Hijacked websocket connections are not covered by server.Shutdown.
	if err := ws.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("websocket connections did not drain")
	}

	log.Info().Msg("classroom server stopped")
}
