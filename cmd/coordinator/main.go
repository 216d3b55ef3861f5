package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/danpasecinic/deployd/internal/coordinator/api"
	"github.com/danpasecinic/deployd/internal/coordinator/build"
	"github.com/danpasecinic/deployd/internal/coordinator/dispatch"
	"github.com/danpasecinic/deployd/internal/coordinator/placement"
	"github.com/danpasecinic/deployd/internal/coordinator/registry"
	"github.com/danpasecinic/deployd/internal/runtime"
)

func main() {
	_ = godotenv.Load()

	heartbeatTimeout := envDuration("HEARTBEAT_TIMEOUT", 10*time.Second)
	placementTTL := envDuration("PLACEMENT_TTL", time.Hour)
	port := envInt("COORDINATOR_PORT", 5000)

	dockerClient, err := runtime.NewClient()
	if err != nil {
		log.Fatalf("failed to create docker client: %v", err)
	}
	defer func() {
		if err := dockerClient.Close(); err != nil {
			log.Printf("error closing docker client: %v", err)
		}
	}()

	reg := registry.New(heartbeatTimeout)
	placements := placement.New()
	dispatcher := dispatch.New(reg, placements)

	registryCfg := build.RegistryConfig{
		Push:     os.Getenv("HUB_PUSH") == "true",
		Username: os.Getenv("DOCKER_USERNAME"),
		Password: os.Getenv("DOCKER_PASSWORD"),
	}
	pipeline := build.NewPipeline(dockerClient, dispatcher, os.TempDir(), registryCfg)

	server := api.NewServer(reg, placements, pipeline)

	e := echo.New()
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	server.RegisterRoutes(e)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go server.RunExpiry(ctx)
	go server.RunPruner(ctx, heartbeatTimeout, placementTTL)
	go server.RunMetricsSync(ctx)

	go func() {
		addr := ":" + strconv.Itoa(port)
		log.Printf("coordinator starting on %s", addr)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			e.Logger.Fatal("shutting down the server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	e.Logger.Info("shutting down server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		e.Logger.Fatal(err)
	}

	e.Logger.Info("server stopped")
}

func envDuration(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		log.Printf("invalid %s=%q, using default %s: %v", key, raw, fallback, err)
		return fallback
	}
	return d
}

func envInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		log.Printf("invalid %s=%q, using default %d: %v", key, raw, fallback, err)
		return fallback
	}
	return n
}
