package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	credapp "liaison/internal/application/credential"
	"liaison/internal/infrastructure/auth"
	"liaison/internal/infrastructure/cache"
	"liaison/internal/infrastructure/config"
	"liaison/internal/infrastructure/database"
	"liaison/internal/infrastructure/repository"
	"liaison/internal/infrastructure/secret"
	"liaison/internal/shared/logger"
)

func main() {
	env := "development"
	if len(os.Args) > 1 {
		env = os.Args[1]
	}
	if envVar := os.Getenv("ENV"); envVar != "" {
		env = envVar
	}

	cfg, err := config.Load(env)
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(&cfg.Logger); err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	log := logger.NewLogger()
	log.Infow("starting credential refresh worker", "environment", env)

	if err := database.Init(&cfg.Database); err != nil {
		log.Fatalw("failed to initialize database", "error", err)
	}
	defer database.Close()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.GetAddr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		pingCancel()
		log.Fatalw("failed to connect to redis", "error", err)
	}
	pingCancel()
	log.Infow("redis connection established", "address", cfg.Redis.GetAddr())

	codec, err := secret.NewTokenCodec(cfg.Credential.Secret)
	if err != nil {
		log.Fatalw("failed to initialize token codec", "error", err)
	}

	oauthClient := auth.NewAtlassianOAuthClient(auth.AtlassianOAuthConfig{
		ClientID:     cfg.Atlassian.ClientID,
		ClientSecret: cfg.Atlassian.ClientSecret,
		RedirectURL:  cfg.Atlassian.RedirectURL,
	})

	credSvc := credapp.NewService(
		repository.NewCredentialRepository(database.Get()),
		codec,
		cache.NewTokenSnapshotCache(redisClient, log),
		cache.NewLocalTokenCache(),
		credapp.NewAtlassianRefresher(oauthClient),
		log,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	worker := credapp.NewRefreshWorker(credSvc,
		credapp.DefaultSweepInterval, credapp.DefaultSweepWindow, log)

	done := make(chan struct{})
	go func() {
		defer close(done)
		worker.Run(ctx)
	}()

	sig := <-sigChan
	log.Infow("received signal, shutting down", "signal", sig)
	cancel()
	<-done

	log.Infow("credential refresh worker stopped")
}
