package job

import (
	"context"
	"encoding/json"

	"github.com/seantiz/taskgate/internal/engine"
)

// Job is the interface that every named job kind implements.
type Job interface {
	// Run executes the job once for the given task key. params is the raw
	// JSON from the request and may be empty. The context carries the
	// engine's cancellation and timeout signal.
	Run(ctx context.Context, key string, params json.RawMessage, progress engine.Reporter) ([]byte, error)

	// Info describes the job for listings.
	Info() Info
}

// Info describes a job kind.
type Info struct {
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Params      map[string]string `json:"params,omitempty"`
}

// Work binds a job and its params into an engine work function.
func Work(j Job, params json.RawMessage) engine.WorkFunc[string, []byte] {
	return func(ctx context.Context, key string, progress engine.Reporter) ([]byte, error) {
		return j.Run(ctx, key, params, progress)
	}
}
