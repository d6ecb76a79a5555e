package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"facecheck/internal/academics"
	"facecheck/internal/app"
	"facecheck/internal/auth"
	"facecheck/internal/config"
	"facecheck/internal/httpapi"
	"facecheck/internal/httpmiddleware"
	"facecheck/internal/queue"
	"facecheck/internal/scheduler"
	"facecheck/internal/worker"
)

func main() {
	cfg := config.Load()

	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatalf("api failed: %v", err)
	}
}

func run(ctx context.Context, cfg config.App) error {
	rt, err := app.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	applied, err := rt.DB.Migrate(ctx)
	if err != nil {
		return err
	}
	for _, name := range applied {
		log.Printf("applied migration %s", name)
	}

	// With the memory queue nothing outside this process would ever see a
	// control message, so the API hosts the workers itself.
	var (
		ctrl     worker.Controller
		registry *worker.Registry
	)
	if cfg.QueueBackend == "memory" {
		registry = worker.NewRegistry(rt.WorkerFactory())
		ctrl = registry
		log.Println("queue backend memory: running session workers in process")
	} else {
		ctrl = worker.NewQueueController(queue.NewRedisQueue(rt.Redis.Client, queue.DefaultKey))
	}

	sched := scheduler.New(rt.Sessions, ctrl, func(s academics.Session) string {
		return rt.Cameras.SourceFor(s.RoomID)
	}, cfg.Scheduler.Interval)
	go sched.Run(ctx)

	deps := httpapi.Deps{
		Sessions: rt.Sessions,
		Ledger:   rt.Ledger,
		Live:     rt.Live,
		Devices:  auth.NewDeviceRepository(rt.DB.Client),
		Photos:   rt.Templates,
		Trainer:  rt.Trainer(),
		Workers:  ctrl,
		Cameras:  rt.Cameras,
		Checks: map[string]func(context.Context) bool{
			"db":    rt.DB.Healthy,
			"redis": rt.Redis.Healthy,
		},
	}
	if rt.Cloud != nil {
		deps.Uploader = rt.Cloud
		log.Printf("cloudinary configured: %s", cfg.CloudinaryCloudName)
	} else {
		log.Println("cloudinary not configured, photo upload disabled")
	}

	h := httpapi.New(httpapi.Config{
		Issuer:     cfg.JWTIssuer,
		SigningKey: cfg.JWTSigningKey,
		AccessTTL:  cfg.AccessTTL,
		RefreshTTL: cfg.RefreshTTL,
		QRSecret:   cfg.QRSecret,
		QRStep:     cfg.QRStep,
	}, deps)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(httpmiddleware.CORS())
	r.Use(httpmiddleware.SecurityHeaders())
	r.Use(httpmiddleware.NewLimiter(cfg.RateLimitPerMin, cfg.RateLimitPerMin).Middleware())
	h.Register(r)

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("starting server on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}
	log.Println("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("server forced shutdown: %v", err)
	}
	if registry != nil {
		if err := registry.Shutdown(shutdownCtx); err != nil {
			log.Printf("workers did not stop in time: %v", err)
		}
	}
	log.Println("server exited")
	return nil
}
