package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"facecheck/internal/app"
	"facecheck/internal/config"
	"facecheck/internal/livestatus"
	"facecheck/internal/worker"

	"github.com/google/uuid"
)

// Worker consumes session control messages and runs one camera loop per
// running session.
func main() {
	cfg := config.Load()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := app.Open(ctx, cfg)
	if err != nil {
		log.Fatalf("worker init failed: %v", err)
	}
	defer rt.Close()

	if cfg.QueueBackend == "memory" {
		log.Println("warning: QUEUE_BACKEND=memory, this process will receive no control messages")
	}

	if !cfg.FaceSkip {
		if err := rt.Face.Health(ctx); err != nil {
			log.Printf("warning: face service not available: %v", err)
		} else {
			log.Println("face service connected")
		}
	}

	owner := workerID()
	registry := worker.NewRegistry(rt.WorkerFactory()).
		WithLease(livestatus.NewLease(rt.Redis.Client), owner, cfg.Scheduler.LeaseTTL)
	log.Printf("worker id %s", owner)

	// Running sessions get a worker without waiting for a control message:
	// once at boot, then periodically to pick up sessions whose owner died.
	resume(ctx, rt, registry)
	go func() {
		t := time.NewTicker(cfg.Scheduler.Interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				resume(ctx, rt, registry)
			}
		}
	}()

	msgs, err := rt.Queue().Consume(ctx)
	if err != nil {
		log.Fatalf("queue consume init failed: %v", err)
	}

	log.Println("worker started, waiting for control messages...")
	worker.Serve(ctx, msgs, registry, cfg.Camera.DefaultSource)

	log.Println("shutdown signal received")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := registry.Shutdown(shutdownCtx); err != nil {
		log.Printf("workers did not stop in time: %v", err)
	}
	log.Println("worker stopped")
}

func resume(ctx context.Context, rt *app.Runtime, registry *worker.Registry) {
	running, err := rt.Sessions.ListRunning(ctx)
	if err != nil {
		log.Printf("list running sessions: %v", err)
		return
	}
	for _, s := range running {
		registry.Start(s.ID, rt.Cameras.SourceFor(s.RoomID))
	}
}

func workerID() string {
	host, err := os.Hostname()
	if err != nil {
		host = "worker"
	}
	return fmt.Sprintf("%s-%d-%s", host, os.Getpid(), uuid.NewString()[:8])
}
