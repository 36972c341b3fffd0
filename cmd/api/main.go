package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "go.uber.org/automaxprocs"

	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"attendtrack/internal/attendance"
	"attendtrack/internal/auth"
	"attendtrack/internal/cache"
	"attendtrack/internal/calendar"
	"attendtrack/internal/cloudinary"
	"attendtrack/internal/config"
	"attendtrack/internal/facejobs"
	"attendtrack/internal/faceclient"
	"attendtrack/internal/handler"
	"attendtrack/internal/httpmiddleware"
	"attendtrack/internal/identity"
	"attendtrack/internal/logger"
	"attendtrack/internal/queue"
	"attendtrack/internal/store"
)

func main() {
	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log, cleanup := logger.New(logger.Options{Level: cfg.LogLevel, JSON: cfg.LogJSON, File: cfg.LogFile})
	defer cleanup()

	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := run(cfg, log); err != nil {
		log.Error("api exited", zap.Error(err))
		cleanup()
		os.Exit(1)
	}
}

func run(cfg config.App, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect db: %w", err)
	}
	defer db.Close()
	if err := store.Migrate(ctx, db.Client); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	log.Info("database ready")

	rdb := store.NewRedis(store.RedisOptions{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	defer rdb.Close()
	if !rdb.Healthy(ctx) {
		log.Warn("redis not reachable, stats cache degrades to direct reads", zap.String("addr", cfg.RedisAddr))
	}

	var jobs queue.Queue
	face := faceclient.New(cfg.FaceServiceURL, cfg.FaceTimeout)
	if cfg.QueueBackend == "memory" {
		jobs = queue.NewInMemory(64)
		p := &facejobs.Processor{Gallery: face, Enabled: cfg.FaceEnabled, Log: log.Named("facejobs")}
		go func() {
			if err := p.Run(ctx, jobs); err != nil {
				log.Error("face job processor", zap.Error(err))
			}
		}()
	} else {
		jobs = queue.NewRedisQueue(rdb.Client, queue.DefaultKey)
	}

	if cfg.FaceEnabled {
		if err := face.Health(ctx); err != nil {
			log.Warn("face service not available", zap.String("url", cfg.FaceServiceURL), zap.Error(err))
		} else {
			log.Info("face service connected", zap.String("url", cfg.FaceServiceURL))
		}
	} else {
		log.Info("face recognition disabled")
	}

	var images identity.ImageStore
	if cfg.CloudinaryConfigured() {
		images = cloudinary.New(cfg.CloudinaryCloudName, cfg.CloudinaryAPIKey, cfg.CloudinaryAPISecret, cfg.CloudinaryFolder)
		log.Info("cloudinary configured", zap.String("cloud", cfg.CloudinaryCloudName))
	} else {
		log.Info("cloudinary not configured, user photos are not stored")
	}

	cal := calendar.New(cfg.Location())
	issuer := auth.Issuer{Name: cfg.JWTIssuer, Key: cfg.JWTSigningKey, TTL: cfg.AccessTTL}

	userRepo := identity.NewRepository(db.Client)
	users := identity.NewService(userRepo, images, jobs, issuer, log.Named("identity"))

	ledger := attendance.NewRepository(db.Client, cal.Location)
	reports := attendance.NewReporter(ledger, userRepo, cal, cache.New(rdb.Client), cfg.StatsCacheTTL, log.Named("reports"))
	marks := attendance.NewReconciler(attendance.ReconcilerConfig{
		RecognitionEnabled: cfg.FaceEnabled,
		RecognitionTimeout: cfg.FaceTimeout,
		Stats:              reports,
	}, ledger, userRepo, face, cal, log.Named("attendance"))

	h := handler.New(handler.Config{
		SigningKey:  cfg.JWTSigningKey,
		Issuer:      cfg.JWTIssuer,
		Development: cfg.Development(),
	}, users, marks, reports, cal, map[string]handler.Pinger{"db": db, "redis": rdb}, log.Named("http"))

	r := gin.New()
	r.Use(ginzap.RecoveryWithZap(log, true))
	r.Use(httpmiddleware.RequestID())
	r.Use(httpmiddleware.AccessLog(log, "/healthz", "/metrics"))
	r.Use(httpmiddleware.Metrics())
	r.Use(corsMiddleware(cfg.CORSOrigins))
	r.Use(httpmiddleware.NewIPRateLimiter(cfg.RateLimitPerMin).GinMiddleware())
	r.Use(httpmiddleware.ConcurrencyLimit(cfg.MaxInFlight))
	h.RegisterRoutes(r)

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("http server listening", zap.String("addr", srv.Addr), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	log.Info("server stopped")
	return nil
}

func corsMiddleware(origins []string) gin.HandlerFunc {
	c := cors.Config{
		AllowMethods:  []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization", httpmiddleware.KeyRequestID},
		ExposeHeaders: []string{httpmiddleware.KeyRequestID},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		c.AllowAllOrigins = true
	} else {
		c.AllowOrigins = origins
		c.AllowCredentials = true
	}
	return cors.New(c)
}
