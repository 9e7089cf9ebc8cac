package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"authz-gateway/internal/app"
	"authz-gateway/internal/config"
	"authz-gateway/pkg/logger"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
)

const (
	defaultEnvFile   = ".env"
	signalBufferSize = 1
)

var shutdownSignals = []os.Signal{
	syscall.SIGINT,
	syscall.SIGTERM,
}

func main() {
	envFile := pflag.String("env-file", defaultEnvFile, "dotenv file loaded before reading the environment")
	policyMode := pflag.String("policy-mode", "", "override POLICY_MODE (full or restricted)")
	logLevel := pflag.String("log-level", "", "override LOG_LEVEL")
	pflag.Parse()

	envErr := godotenv.Load(*envFile)

	// POLICY_MODE and LOG_LEVEL are read by config.Load
	if *policyMode != "" {
		_ = os.Setenv("POLICY_MODE", *policyMode)
	}
	if *logLevel != "" {
		_ = os.Setenv("LOG_LEVEL", *logLevel)
	}

	cfg, err := config.Load()
	if err != nil {
		log := logger.New("info", true)
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	log := logger.New(cfg.Log.Level, cfg.Log.Pretty)
	if envErr != nil {
		log.Warn().Str("file", *envFile).Msg("env file not loaded, using process environment")
	}
	log.Info().
		Str("environment", cfg.Server.Environment).
		Str("policy_mode", cfg.Policy.Mode).
		Msg("configuration loaded")

	ctx := context.Background()

	service, err := app.InitializeService(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize service")
	}

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- service.Start()
	}()

	quit := make(chan os.Signal, signalBufferSize)
	signal.Notify(quit, shutdownSignals...)

	select {
	case sig := <-quit:
		log.Info().Str("signal", sig.String()).Msg("shutting down server")
	case err := <-serverErr:
		if err != nil {
			log.Error().Err(err).Msg("server stopped unexpectedly")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := service.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
		os.Exit(1)
	}

	log.Info().Msg("server exited gracefully")
}
