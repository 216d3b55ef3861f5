package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/danpasecinic/deployd/internal/runtime"
	"github.com/danpasecinic/deployd/internal/worker/api"
	"github.com/danpasecinic/deployd/internal/worker/deployment"
	"github.com/danpasecinic/deployd/internal/worker/heartbeat"
)

func main() {
	_ = godotenv.Load()

	agentID := flag.String("agent-id", "", "agent ID (defaults to a fresh UUID)")
	port := flag.Int("port", envInt("AGENT_PORT", 5001), "worker listen port")
	heartbeatInterval := flag.Duration("heartbeat-interval", envDuration("HEARTBEAT_INTERVAL", 2*time.Second), "heartbeat interval")
	flag.Parse()

	id := *agentID
	if id == "" {
		id = uuid.New().String()
	}

	endpoint := os.Getenv("AGENT_IP")
	if endpoint == "" {
		endpoint = fmt.Sprintf("localhost:%d", *port)
	}

	coordinatorURL := os.Getenv("SCHEDULER_URL")
	if coordinatorURL == "" {
		coordinatorURL = "http://localhost:5000"
	}

	dockerClient, err := runtime.NewClient()
	if err != nil {
		log.Fatalf("failed to create docker client: %v", err)
	}
	defer func() {
		if err := dockerClient.Close(); err != nil {
			log.Printf("error closing docker client: %v", err)
		}
	}()

	deployments := deployment.NewManager(dockerClient)
	emitter := heartbeat.New(id, endpoint, coordinatorURL, deployments)
	server := api.NewServer(deployments)

	e := echo.New()
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	server.RegisterRoutes(e)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go emitter.Run(ctx, *heartbeatInterval)
	go server.RunMetricsSync(ctx)

	go func() {
		addr := ":" + strconv.Itoa(*port)
		log.Printf("worker starting on %s (agent: %s)", addr, id)
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

	deployments.ShutdownCleanup(shutdownCtx)

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
