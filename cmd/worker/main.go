package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "go.uber.org/automaxprocs"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"attendtrack/internal/config"
	"attendtrack/internal/facejobs"
	"attendtrack/internal/faceclient"
	"attendtrack/internal/logger"
	"attendtrack/internal/queue"
	"attendtrack/internal/store"
)

// Worker drains face gallery jobs from redis and applies them to the face
// service.
func main() {
	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log, cleanup := logger.New(logger.Options{Level: cfg.LogLevel, JSON: cfg.LogJSON, File: cfg.LogFile})
	defer cleanup()

	if cfg.QueueBackend == "memory" {
		log.Error("worker needs QUEUE_BACKEND=redis; the memory queue is drained inside the api process")
		cleanup()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rdb := store.NewRedis(store.RedisOptions{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	defer rdb.Close()
	if !rdb.Healthy(ctx) {
		log.Warn("redis not reachable yet, consumer will keep retrying", zap.String("addr", cfg.RedisAddr))
	}

	face := faceclient.New(cfg.FaceServiceURL, cfg.FaceTimeout)
	if cfg.FaceEnabled {
		if err := face.Health(ctx); err != nil {
			log.Warn("face service not available", zap.String("url", cfg.FaceServiceURL), zap.Error(err))
		} else {
			log.Info("face service connected", zap.String("url", cfg.FaceServiceURL))
		}
	}

	p := &facejobs.Processor{Gallery: face, Enabled: cfg.FaceEnabled, Log: log.Named("facejobs")}
	if err := p.Run(ctx, queue.NewRedisQueue(rdb.Client, queue.DefaultKey)); err != nil {
		log.Error("worker failed", zap.Error(err))
		cleanup()
		os.Exit(1)
	}
	log.Info("worker stopped")
}
