// Package app wires the Postgres, Redis and HTTP clients behind the API, the
// worker process and the admin CLI.
package app

import (
	"context"
	"fmt"
	"log"
	"time"

	"facecheck/internal/academics"
	"facecheck/internal/attendance"
	"facecheck/internal/camera"
	"facecheck/internal/cloudinary"
	"facecheck/internal/config"
	"facecheck/internal/faceclient"
	"facecheck/internal/livestatus"
	"facecheck/internal/queue"
	"facecheck/internal/store"
	"facecheck/internal/templates"
	"facecheck/internal/whitelist"
	"facecheck/internal/worker"
)

const cameraReadTimeout = 5 * time.Second

// Runtime holds the shared connections and repositories of one process.
type Runtime struct {
	Config    config.App
	DB        *store.DB
	Redis     *store.Redis
	Sessions  *academics.Repository
	Templates *templates.PostgresStore
	Ledger    *attendance.Ledger
	Live      *livestatus.Cache
	Face      *faceclient.Client
	Cloud     *cloudinary.Client
	Cameras   *config.CameraMap
}

// Open connects to Postgres and Redis and builds the repositories.
func Open(ctx context.Context, cfg config.App) (*Runtime, error) {
	cameras, err := config.LoadCameraMap(cfg.Camera.MapFile, cfg.Camera.DefaultSource)
	if err != nil {
		return nil, err
	}
	db, err := store.NewDB(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	rdb := store.NewRedis(cfg.RedisAddr)
	if !rdb.Healthy(ctx) {
		log.Printf("warning: redis %s not reachable, live status and queue may fail", cfg.RedisAddr)
	}

	rt := &Runtime{
		Config:    cfg,
		DB:        db,
		Redis:     rdb,
		Sessions:  academics.NewRepository(db.Client),
		Templates: templates.NewPostgresStore(db.Client),
		Ledger:    attendance.NewLedger(attendance.NewPostgresStore(db.Client), cfg.Match.GracePeriod),
		Live:      livestatus.New(rdb.Client, livestatus.DefaultTTL),
		Face:      faceclient.New(cfg.FaceServiceURL, cfg.FaceSkip),
		Cameras:   cameras,
	}
	if cfg.CloudinaryEnabled() {
		rt.Cloud = cloudinary.New(cfg.CloudinaryCloudName, cfg.CloudinaryAPIKey, cfg.CloudinaryAPISecret, cfg.CloudinaryFolder)
	}
	return rt, nil
}

// Close releases the connections.
func (rt *Runtime) Close() {
	if err := rt.Redis.Close(); err != nil {
		log.Printf("close redis: %v", err)
	}
	if err := rt.DB.Close(); err != nil {
		log.Printf("close postgres: %v", err)
	}
}

// Queue returns the control queue selected by QUEUE_BACKEND. The memory
// backend only reaches workers in the same process.
func (rt *Runtime) Queue() queue.Queue {
	if rt.Config.QueueBackend == "memory" {
		return queue.NewInMemory(64)
	}
	return queue.NewRedisQueue(rt.Redis.Client, queue.DefaultKey)
}

// WorkerConfig maps the match and camera settings onto a worker config.
func WorkerConfig(cfg config.App) worker.Config {
	return worker.Config{
		Threshold:           cfg.Match.Threshold,
		Cooldown:            cfg.Match.Cooldown,
		ReadBackoff:         cfg.Camera.ReadBackoff,
		FrameInterval:       cfg.Camera.FrameInterval,
		ReadFailureLimit:    cfg.Camera.ReadFailureLimit,
		RetryOnWriteFailure: cfg.Match.RetryOnWriteFailure,
	}
}

// Camera returns the ffmpeg opener configured for this process.
func Camera(cfg config.App) camera.FFmpeg {
	return camera.FFmpeg{
		FPS:          cfg.Camera.FPS,
		WarmupFrames: cfg.Camera.WarmupFrames,
		ReadTimeout:  cameraReadTimeout,
	}
}

// WorkerFactory builds session workers backed by the runtime's stores.
func (rt *Runtime) WorkerFactory() worker.Factory {
	cfg := WorkerConfig(rt.Config)
	deps := worker.Deps{
		Sessions:   rt.Sessions,
		Whitelists: whitelist.NewLoader(rt.Sessions, rt.Templates),
		Cameras:    Camera(rt.Config),
		Detector:   rt.Face,
		Ledger:     rt.Ledger,
		Reporter:   rt.Live,
	}
	return func(sessionID int64, source string) worker.Runner {
		return worker.NewSessionWorker(sessionID, source, cfg, deps)
	}
}

// Trainer returns a template trainer. Photos are fetched over plain HTTPS,
// so training works without upload credentials.
func (rt *Runtime) Trainer() *templates.Trainer {
	fetcher := rt.Cloud
	if fetcher == nil {
		fetcher = cloudinary.New("", "", "", "")
	}
	return templates.NewTrainer(rt.Templates, fetcher, rt.Face)
}
