package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"ffscript/api"
	"ffscript/config"
	"ffscript/ffmpeg"
	"ffscript/logger"
	"ffscript/storage"
	"ffscript/store"
	"ffscript/task"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the job workers",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	logger.Init(cfg.LogLevel)
	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 2. Job store
	db, err := store.Open(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		return fmt.Errorf("failed to open job store: %w", err)
	}
	defer db.Close()
	repo := store.NewRepository(db)
	if n, err := repo.MarkInterruptedJobs(ctx); err != nil {
		return fmt.Errorf("failed to recover interrupted jobs: %w", err)
	} else if n > 0 {
		logger.Warn("marked interrupted jobs as failed", "main", map[string]interface{}{"count": n})
	}

	// 3. Storage and engines
	objects, err := openObjectStore(cfg)
	if err != nil {
		return err
	}
	localResults, err := storage.NewFSObjectStore(filepath.Join(cfg.StorageDir, "local"))
	if err != nil {
		return err
	}
	local := ffmpeg.NewLocalEngine(cfg)
	cloud := ffmpeg.NewCloudEngine(objects, local)

	taskManager, err := task.NewManager(cfg, repo,
		map[ffmpeg.Mode]ffmpeg.Engine{ffmpeg.ModeLocal: local, ffmpeg.ModeCloud: cloud},
		map[ffmpeg.Mode]storage.ObjectStore{ffmpeg.ModeLocal: localResults, ffmpeg.ModeCloud: objects},
	)
	if err != nil {
		return fmt.Errorf("failed to initialize task manager: %w", err)
	}

	// Load the engine in the background so the first job does not pay for it.
	go func() {
		if err := local.Loader().Load(ctx); err != nil {
			logger.Error("ffmpeg engine failed to load", "main", map[string]interface{}{"error": err.Error()})
		}
	}()

	// 4. Router and server
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: api.SetupRouter(taskManager, local, cfg),
	}

	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	defer cancelWorkers()
	taskManager.Start(workerCtx)

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server starting", "main", map[string]interface{}{"port": cfg.Port})
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
	}()

	// 5. Wait for interrupt signal for graceful shutdown
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		return fmt.Errorf("listen: %w", err)
	}
	stop()
	logger.Info("shutting down gracefully, press Ctrl+C again to force", "main", nil)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "main", map[string]interface{}{"error": err.Error()})
	}

	cancelWorkers()
	taskManager.Wait()
	if err := local.Close(); err != nil {
		logger.Warn("failed to remove engine work directory", "main", map[string]interface{}{"error": err.Error()})
	}
	logger.Info("server exiting", "main", nil)
	return nil
}

// openObjectStore returns the store cloud mode uploads inputs and publishes results to.
func openObjectStore(cfg *config.Config) (storage.ObjectStore, error) {
	switch cfg.StorageBackend {
	case "s3":
		s, err := storage.NewS3ObjectStore(cfg.S3Bucket, cfg.S3Region, cfg.S3Endpoint, cfg.S3ForcePathStyle)
		if err != nil {
			return nil, fmt.Errorf("failed to open S3 bucket %s: %w", cfg.S3Bucket, err)
		}
		return s, nil
	case "fs", "":
		s, err := storage.NewFSObjectStore(filepath.Join(cfg.StorageDir, cfg.S3Bucket))
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
	}
}
