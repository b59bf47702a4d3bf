package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/jwtauth"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tendant/chi-demo/app"
	"github.com/tendant/chi-demo/middleware"

	"github.com/tendant/simple-image/pkg/simpleimage/api"
	"github.com/tendant/simple-image/pkg/simpleimage/config"
	"github.com/tendant/simple-image/pkg/simpleimage/objectkey"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "err", err)
		config.Usage(os.Stderr)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}))
	slog.SetDefault(logger)

	ctx := context.Background()
	rt, err := cfg.BuildService(ctx, logger, prometheus.DefaultRegisterer)
	if err != nil {
		slog.Error("Failed to build image service", "err", err)
		os.Exit(1)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := rt.Close(ctx); err != nil {
			slog.Error("Failed to shut down cleanly", "err", err)
		}
	}()

	server := app.DefaultApp()

	app.RoutesHealthz(server.R)
	app.RoutesHealthzReady(server.R)

	if cfg.Metrics.Enabled {
		server.R.Handle("/metrics", promhttp.Handler())
	}

	// originals of local backends are downloaded through presigned URLs
	objects := api.NewObjectHandler(rt.Service, rt.BlobStore, objectkey.New(cfg.Images.KeyPrefix))
	if rt.Signer != nil {
		server.R.Mount("/files", objects.SignedRoutes(rt.Signer))
	}
	server.R.Mount("/public", objects.PublicRoutes())

	var ja *jwtauth.JWTAuth
	if cfg.JWTSecret != "" {
		ja = jwtauth.New("HS256", []byte(cfg.JWTSecret), nil)
	}

	var apiKeyMiddleware func(next http.Handler) http.Handler
	if cfg.APIKeySHA256 != "" {
		apiKeyMiddleware, err = middleware.ApiKeyMiddleware(middleware.ApiKeyConfig{
			APIKeys: map[string]string{
				"key1": cfg.APIKeySHA256,
			},
		})
		if err != nil {
			slog.Error("Failed initialize API Key middleware", "err", err)
			return
		}
	}

	imageHandler := api.NewImageHandler(rt.Service, api.WithMaxBodySize(cfg.Images.MaxFileSize+1<<20))
	server.R.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			if apiKeyMiddleware != nil {
				r.Use(apiKeyMiddleware)
			}
			r.Use(api.Identity(ja))
			r.Mount("/images", imageHandler.Routes())
		})
	})

	slog.Info("Starting image service",
		"environment", cfg.Environment,
		"database", cfg.Database.Type,
		"storage", rt.BlobStore.Name(),
		"events", cfg.Events.Sink)

	server.Run()
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
