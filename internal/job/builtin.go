package job

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/seantiz/taskgate/internal/engine"
)

func decodeParams(raw json.RawMessage, v any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode params: %w", err)
	}
	return nil
}

// SleepParams configures SleepJob.
type SleepParams struct {
	DurationMS   int64 `json:"duration_ms"`
	Steps        int   `json:"steps"`
	IgnoreCancel bool  `json:"ignore_cancel"`
}

// SleepJob waits for a configurable duration, reporting progress after each
// of its steps. With ignore_cancel it keeps sleeping after cancellation, which
// is how a non-cooperative task behaves.
type SleepJob struct{}

func (SleepJob) Info() Info {
	return Info{
		Name:        "sleep",
		Description: "sleeps for duration_ms, reporting progress in steps",
		Params: map[string]string{
			"duration_ms":   "total sleep in milliseconds (default 1000)",
			"steps":         "number of progress reports (default 4)",
			"ignore_cancel": "keep sleeping after cancellation",
		},
	}
}

func (SleepJob) Run(ctx context.Context, key string, raw json.RawMessage, progress engine.Reporter) ([]byte, error) {
	p := SleepParams{DurationMS: 1000, Steps: 4}
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	if p.Steps <= 0 {
		p.Steps = 1
	}
	if p.DurationMS < 0 {
		p.DurationMS = 0
	}

	step := time.Duration(p.DurationMS) * time.Millisecond / time.Duration(p.Steps)
	for i := 1; i <= p.Steps; i++ {
		if p.IgnoreCancel {
			time.Sleep(step)
		} else {
			select {
			case <-time.After(step):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		progress.Report(i*100/p.Steps, fmt.Sprintf("step %d of %d", i, p.Steps))
	}

	return fmt.Appendf(nil, "%s slept %dms", key, p.DurationMS), nil
}

// FailParams configures FailJob.
type FailParams struct {
	Message string `json:"message"`
	AfterMS int64  `json:"after_ms"`
	Panic   bool   `json:"panic"`
}

// FailJob fails after an optional delay, either by returning an error or by
// panicking.
type FailJob struct{}

func (FailJob) Info() Info {
	return Info{
		Name:        "fail",
		Description: "fails after after_ms with message",
		Params: map[string]string{
			"message":  "error message (default \"job failed\")",
			"after_ms": "delay before failing",
			"panic":    "panic instead of returning an error",
		},
	}
}

func (FailJob) Run(ctx context.Context, _ string, raw json.RawMessage, _ engine.Reporter) ([]byte, error) {
	p := FailParams{Message: "job failed"}
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}

	if p.AfterMS > 0 {
		select {
		case <-time.After(time.Duration(p.AfterMS) * time.Millisecond):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if p.Panic {
		panic(p.Message)
	}
	return nil, errors.New(p.Message)
}

// EchoJob returns its params unchanged.
type EchoJob struct{}

func (EchoJob) Info() Info {
	return Info{
		Name:        "echo",
		Description: "returns params as the task value",
	}
}

func (EchoJob) Run(_ context.Context, _ string, raw json.RawMessage, progress engine.Reporter) ([]byte, error) {
	progress.Report(100, "echoed")
	return []byte(raw), nil
}
