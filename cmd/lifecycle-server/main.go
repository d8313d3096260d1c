package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/jwtauth"
	"github.com/joho/godotenv"
	"github.com/tendant/chi-demo/app"
	"github.com/tendant/chi-demo/middleware"
	"github.com/tendant/simple-lifecycle/pkg/lifecycle/api"
	"github.com/tendant/simple-lifecycle/pkg/lifecycle/config"
)

func main() {
	configFile := flag.String("config", "", "Optional YAML/JSON/TOML config file")
	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), "Usage: lifecycle-server [-config file]\n\n")
		config.Usage(flag.CommandLine.Output())
	}
	flag.Parse()

	// Load .env file if it exists (silently ignore if not found)
	_ = godotenv.Load()

	opts := []config.Option{config.WithEnv()}
	if *configFile != "" {
		opts = []config.Option{config.WithConfigFile(*configFile)}
	}
	cfg, err := config.Load(opts...)
	if err != nil {
		slog.Error("Failed to read configuration", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := cfg.Build(ctx)
	if err != nil {
		slog.Error("Failed to build lifecycle service", "err", err)
		os.Exit(1)
	}
	logger := rt.Logger
	slog.SetDefault(logger)

	handlerOpts := []api.Option{api.WithLogger(logger)}
	if cfg.Auth.JWTSecret != "" {
		handlerOpts = append(handlerOpts, api.WithJWTAuth(jwtauth.New("HS256", []byte(cfg.Auth.JWTSecret), nil)))
	}
	lifecycleHandler := api.NewHandler(rt.Service, rt.Kinds, handlerOpts...)

	server := app.DefaultApp()
	app.RoutesHealthz(server.R)
	app.RoutesHealthzReady(server.R)
	server.R.Method(http.MethodGet, "/metrics", rt.Metrics.Handler())

	var apiKeyMiddleware func(http.Handler) http.Handler
	if cfg.Auth.APIKeySHA256 != "" {
		apiKeyMiddleware, err = middleware.ApiKeyMiddleware(middleware.ApiKeyConfig{
			APIKeys: map[string]string{"key1": cfg.Auth.APIKeySHA256},
		})
		if err != nil {
			logger.Error("Failed initialize API Key middleware", "err", err)
			os.Exit(1)
		}
	}
	server.R.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			if apiKeyMiddleware != nil {
				r.Use(apiKeyMiddleware)
			}
			r.Mount("/", lifecycleHandler.Routes())
		})
	})

	if rt.Scheduler != nil {
		go rt.Scheduler.Run(ctx)
	}

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           server.R,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("Starting lifecycle server", "port", cfg.Port, "environment", cfg.Environment,
			"database", cfg.Database.Type, "archive", cfg.Archive.Type)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server failed", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown failed", "err", err)
	}
	if err := rt.Close(shutdownCtx); err != nil {
		logger.Error("Failed to drain lifecycle events", "err", err)
	}
}
