package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"storybook/internal/http/handlers"
	httpapi "storybook/internal/http/httpapi"
	"storybook/internal/infra"
	"storybook/internal/jobs"
	"storybook/internal/pipeline"
	"storybook/internal/providers/openai"
	"storybook/internal/storage"
)

func main() {
	// Muat .env (opsional)
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ai, err := openai.NewClient(openai.Options{
		APIKey:      cfg.OpenAIAPIKey,
		BaseURL:     cfg.OpenAIBaseURL,
		TextModel:   cfg.TextModel,
		VisionModel: cfg.VisionModel,
		ImageModel:  cfg.ImageModel,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build provider client")
	}

	var store *storage.FileStore
	var staticDir string
	if cfg.StoragePath != "" {
		store, err = storage.NewFileStore(cfg.StoragePath, cfg.StorageBaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to initialize artifact store")
		}
		staticDir = store.BasePath()
	}

	registry := jobs.NewRegistry()
	runner := pipeline.New(ai, registry, store, logger, pipeline.Config{
		TextModel:   cfg.TextModel,
		VisionModel: cfg.VisionModel,
		ImageSize:   cfg.ImageSize,
	})

	app := handlers.NewApp(logger, registry, runner)
	router := httpapi.NewRouter(app, logger, httpapi.Options{
		StaticDir:      staticDir,
		AllowedOrigins: cfg.AllowedOrigins,
		RateLimit:      cfg.RateLimitPerMin,
		DefaultLocale:  "en",
	})

	server := infra.NewHTTPServer(cfg, router)

	// Start async
	go func() {
		logger.Info().Msgf("API listening on :%s", cfg.Port)
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	// Graceful shutdown. In-flight jobs keep their registry entries; clients
	// that poll after a restart get a clean 404.
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	logger.Info().Msg("server stopped")
}
