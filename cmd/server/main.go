package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"watchstream/internal/library"
	"watchstream/internal/platform/config"
	"watchstream/internal/platform/logger"
	"watchstream/internal/platform/metrics"
	"watchstream/internal/streaming"

	"github.com/go-chi/chi/v5"
)

const shutdownTimeout = 10 * time.Second

func main() {
	_ = config.Load()

	port := config.GetEnv("PORT", "8080")
	logLevel := config.GetEnv("LOG_LEVEL", "info")
	logFormat := config.GetEnv("LOG_FORMAT", "json")
	libraryDB := config.GetEnv("LIBRARY_DB", "library.db")
	scratchDir := config.GetEnv("SCRATCH_DIR", filepath.Join(os.TempDir(), "watchstream"))
	ffmpegBin := config.GetEnv("FFMPEG_PATH", "ffmpeg")
	ffprobeBin := config.GetEnv("FFPROBE_PATH", "ffprobe")
	cacheCapacity := config.GetEnvInt("SEGMENT_CACHE_CAPACITY", streaming.DefaultCacheCapacity)
	precompute := config.GetEnvInt("PRECOMPUTE_SEGMENTS", streaming.DefaultPrecomputeSegments)
	targetSeconds := config.GetEnvFloat("SEGMENT_TARGET_SECONDS", streaming.DefaultSegmentSeconds)

	log := logger.New(logLevel, logFormat)

	lib, err := library.Open(libraryDB, log)
	if err != nil {
		log.Error("failed to open library", "error", err)
		os.Exit(1)
	}
	defer lib.Close()

	// Session background tasks live under this context; cancelled on the
	// first shutdown signal so no task outlives the process.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	met := metrics.New()

	reg := streaming.NewRegistry(ctx, streaming.Options{
		Library:       lib,
		Prober:        streaming.NewFFProber(ffprobeBin, log),
		ScratchRoot:   scratchDir,
		FFmpegBin:     ffmpegBin,
		CacheCapacity: cacheCapacity,
		Precompute:    precompute,
		TargetSeconds: targetSeconds,
		Log:           log,
		Metrics:       met,
	})

	h := streaming.NewHandler(reg, log, met)

	r := chi.NewRouter()
	r.Use(logger.RequestLogger(log))
	r.Use(metrics.RequestMiddleware(met))
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		met.Handler(func() { met.SetActiveSessions(reg.Len()) }).ServeHTTP(w, r)
	})
	h.Routes(r)

	addr := ":" + port
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	log.Info("server starting",
		"port", port,
		"library_db", libraryDB,
		"scratch_dir", scratchDir,
		"cache_capacity", cacheCapacity,
		"precompute_segments", precompute,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info("shutdown signal received, draining connections")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", "error", err)
		os.Exit(1)
	}

	log.Info("server stopped")
}
