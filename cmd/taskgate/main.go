package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/seantiz/taskgate/internal/api"
	"github.com/seantiz/taskgate/internal/config"
	"github.com/seantiz/taskgate/internal/engine"
	"github.com/seantiz/taskgate/internal/job"
	"github.com/seantiz/taskgate/internal/store"
)

const drainTimeout = 15 * time.Second

func main() {
	// A missing .env file is fine.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := config.NewLogger(os.Stdout, cfg.LogLevel, cfg.LogFormat)

	logger.Info("taskgate: starting",
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
		"max_parallelism", cfg.MaxParallelism,
		"default_timeout", cfg.DefaultTimeout.String(),
	)

	db, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	eng := engine.New[string, []byte](
		config.NewEngineLogger(os.Stdout, cfg),
		cfg.MaxParallelism,
		engine.WithJournal(db),
		engine.WithMetrics(prometheus.DefaultRegisterer),
	)

	srv := api.NewServer(cfg.ListenAddr, db, job.NewDefaultRegistry(), eng, logger,
		api.WithDefaultTimeout(cfg.DefaultTimeout),
	)

	runErr := srv.Run()

	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	if err := eng.CancelAll(ctx); err != nil {
		logger.Warn("tasks still running at exit", "error", err)
	}

	if runErr != nil {
		log.Fatalf("server error: %v", runErr)
	}
}
