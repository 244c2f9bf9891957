package store

import (
	"context"

	"github.com/seantiz/taskgate/internal/model"
)

// RunStats holds aggregate statistics over journaled runs.
type RunStats struct {
	Total         int            `json:"total"`
	CountByStatus map[string]int `json:"count_by_status"`
	AvgDurationMS float64        `json:"avg_duration_ms"`
}

// Store is the run journal. It only records history; the engine never
// reads it back to restore state.
type Store interface {
	RecordRun(ctx context.Context, r *model.Run) error
	GetRun(ctx context.Context, id string) (*model.Run, error)
	ListRuns(ctx context.Context, limit, offset int) ([]*model.Run, int, error)
	ListRunsByKey(ctx context.Context, key string, limit int) ([]*model.Run, error)
	GetRunStats(ctx context.Context) (*RunStats, error)
	Close() error
}
