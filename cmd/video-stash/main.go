package main

import (
	"log"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/pavel-fokin/video-stash/internal/server"
	"github.com/pavel-fokin/video-stash/internal/videos"
)

func main() {
	_ = godotenv.Load()

	cfg := server.Config{}
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("failed to parse config: %v", err)
	}

	srv, videoService := server.New(&cfg)

	if cfg.RetentionAge > 0 {
		go sweepLoop(videoService, cfg.SweepInterval)
	}

	log.Printf("starting server on %s", cfg.Addr)
	if err := srv.ListenAndServe(); err != nil {
		log.Fatalf("failed to start server: %v", err)
	}
}

// sweepLoop runs the retention sweep once at startup and then on every
// tick, out of band of request handling.
func sweepLoop(videoService *videos.Service, interval time.Duration) {
	for {
		removed, err := videoService.Sweep(time.Now())
		if err != nil {
			slog.Error("Retention sweep failed", "error", err)
		} else if removed > 0 {
			slog.Info("Retention sweep complete", "removed", removed)
		}
		time.Sleep(interval)
	}
}
