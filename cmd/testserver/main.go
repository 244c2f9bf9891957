// testserver starts a taskgate API server with an in-memory journal, a stub
// job and a batch of registered tasks for manual testing.
// Usage: go run ./cmd/testserver, then POST /v1/tasks/start.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/seantiz/taskgate/internal/api"
	"github.com/seantiz/taskgate/internal/engine"
	"github.com/seantiz/taskgate/internal/job"
	"github.com/seantiz/taskgate/internal/logging"
	"github.com/seantiz/taskgate/internal/store"
)

// stubJob is a configurable job that emits fixed progress lines.
type stubJob struct {
	name     string
	delay    time.Duration
	output   []byte
	logLines []string
}

func (s *stubJob) Run(ctx context.Context, _ string, _ json.RawMessage, progress engine.Reporter) ([]byte, error) {
	for i, line := range s.logLines {
		select {
		case <-time.After(s.delay / time.Duration(len(s.logLines))):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		progress.Report((i+1)*100/len(s.logLines), line)
	}
	return s.output, nil
}

func (s *stubJob) Info() job.Info {
	return job.Info{Name: s.name, Description: "stub job for manual testing"}
}

func main() {
	addr := ":8080"
	if v := os.Getenv("TASKGATE_LISTEN_ADDR"); v != "" {
		addr = v
	}

	db, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	stub := &stubJob{
		name:     "stub",
		delay:    500 * time.Millisecond,
		output:   []byte("hello from stub"),
		logLines: []string{"[stub] starting", "[stub] working", "[stub] done"},
	}
	reg := job.NewDefaultRegistry()
	reg.Register(stub)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	eng := engine.New[string, []byte](logging.NewSlog(logger), 2, engine.WithJournal(db))

	for i := range 6 {
		eng.RegisterTask(engine.Definition[string, []byte]{
			Key:     fmt.Sprintf("stub-%d", i),
			Work:    job.Work(stub, nil),
			Timeout: 2 * time.Second,
		})
	}

	srv := api.NewServer(addr, db, reg, eng, logger)

	logger.Info("testserver: starting", "addr", addr, "queued", eng.Len())
	if err := srv.Run(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
