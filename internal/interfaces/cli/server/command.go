package server

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	credapp "liaison/internal/application/credential"
	"liaison/internal/infrastructure/auth"
	"liaison/internal/infrastructure/cache"
	"liaison/internal/infrastructure/config"
	"liaison/internal/infrastructure/database"
	"liaison/internal/infrastructure/llm"
	"liaison/internal/infrastructure/migration"
	"liaison/internal/infrastructure/repository"
	"liaison/internal/infrastructure/secret"
	"liaison/internal/infrastructure/slack"
	"liaison/internal/infrastructure/tracker"
	httpRouter "liaison/internal/interfaces/http"
	"liaison/internal/interfaces/http/handlers"
	"liaison/internal/interfaces/http/middleware"
	"liaison/internal/shared/logger"
	"liaison/internal/shared/services/markdown"
)

var (
	env                string
	autoMigrate        bool
	skipMigrationCheck bool
)

func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "server",
		Short: "Start the HTTP server",
		Long:  `Start the liaison HTTP server: OAuth callback, slash commands and the admin API.`,
		RunE:  run,
	}

	cmd.Flags().StringVarP(&env, "env", "e", "development", "Environment (development, test, production)")
	cmd.Flags().BoolVar(&autoMigrate, "auto-migrate", false, "Automatically run database migrations on startup (not recommended for production)")
	cmd.Flags().BoolVar(&skipMigrationCheck, "skip-migration-check", false, "Skip migration status check on startup")

	return cmd
}

func run(cmd *cobra.Command, args []string) error {
	if envVar := os.Getenv("ENV"); envVar != "" {
		env = envVar
	}

	cfg, err := config.Load(env)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	cfg.Server.Mode = mapEnvToGinMode(env)

	if err := logger.Init(&cfg.Logger); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Sync()

	logger.Info("starting server",
		"environment", env,
		"auto_migrate", autoMigrate)

	gin.SetMode(cfg.Server.Mode)
	gin.DefaultWriter = io.Discard
	gin.DebugPrintRouteFunc = func(httpMethod, absolutePath, handlerName string, nuHandlers int) {
	}

	if err := database.Init(&cfg.Database); err != nil {
		logger.Fatal("failed to initialize database", "error", err)
	}
	defer database.Close()

	if err := handleMigrations(env); err != nil {
		logger.Fatal("migration handling failed", "error", err)
	}

	log := logger.NewLogger()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.GetAddr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer pingCancel()
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		logger.Fatal("failed to connect to redis", "error", err, "addr", cfg.Redis.GetAddr())
	}

	codec, err := secret.NewTokenCodec(cfg.Credential.Secret)
	if err != nil {
		logger.Fatal("failed to initialize token codec", "error", err)
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

	states := cache.NewOAuthStateStore(redisClient)
	issues := tracker.NewClient(cfg.Atlassian.SiteURL, credSvc, log)
	schemas := tracker.NewSchemaCache(issues, redisClient, log)
	llmClient := llm.NewClient(&cfg.LLM, log)
	mrkdwnSvc := markdown.NewMrkdwnService()
	verifier := slack.NewVerifier(cfg.Slack.SigningSecret)
	chat := slack.NewClient(cfg.Slack.BotToken, log)
	jwtSvc := auth.NewJWTService(cfg.Auth.JWT.Secret, cfg.Auth.JWT.AccessExpMinutes)

	router := httpRouter.NewRouter(httpRouter.RouterDeps{
		OAuth: handlers.NewOAuthHandler(oauthClient, states, credSvc, log),
		Commands: handlers.NewCommandHandler(
			verifier, chat, credSvc, oauthClient, states,
			issues, schemas, llmClient, mrkdwnSvc,
			cfg.Slack.AdminUserIDs, log,
		),
		Admin:  handlers.NewAdminHandler(credSvc, log),
		AuthMW: middleware.NewAuthMiddleware(jwtSvc, log),
		Logger: log,
	})

	srv := &http.Server{
		Addr:         cfg.Server.GetAddr(),
		Handler:      router.Engine(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server starting",
			"address", cfg.Server.GetAddr(),
			"mode", cfg.Server.Mode)

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("failed to start server", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		return err
	}

	logger.Info("server exited gracefully")
	return nil
}

func handleMigrations(environment string) error {
	if skipMigrationCheck {
		logger.Info("skipping migration check")
		return nil
	}

	if autoMigrate {
		if environment == "production" {
			logger.Warn("auto-migration is enabled in production environment - this is not recommended!")
		}

		logger.Info("running auto-migration")
		strategy := migration.NewGormAutoMigrateStrategy()
		if err := strategy.Migrate(database.Get()); err != nil {
			return fmt.Errorf("auto-migration failed: %w", err)
		}
		logger.Info("auto-migration completed successfully")
		return nil
	}

	logger.Info("checking migration status")

	scriptsPath, err := filepath.Abs("./internal/infrastructure/migration/scripts")
	if err != nil {
		logger.Warn("failed to get migration scripts path", "error", err)
		return nil
	}

	strategy := migration.NewGooseStrategy(scriptsPath)
	version, err := strategy.GetVersion(database.Get())
	if err != nil {
		logger.Warn("failed to check migration status", "error", err)
	} else {
		logger.Info("current migration version", "version", version)
	}

	logger.Info("migration check completed")
	return nil
}

func mapEnvToGinMode(environment string) string {
	switch environment {
	case "production", "prod":
		return "release"
	case "development", "dev":
		return "debug"
	case "test", "testing":
		return "test"
	case "debug":
		return "debug"
	case "release":
		return "release"
	default:
		return "debug"
	}
}
