package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seantiz/taskgate/internal/engine"
	"github.com/seantiz/taskgate/internal/job"
	"github.com/seantiz/taskgate/internal/model"
)

func doJSON(t *testing.T, method, url string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func waitTask(t *testing.T, base, key string) taskResponse {
	t.Helper()
	resp := doJSON(t, http.MethodGet, base+"/v1/tasks/"+key+"?wait=true", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	return decode[taskResponse](t, resp)
}

func TestListJobs(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp := doJSON(t, http.MethodGet, ts.URL+"/v1/jobs", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	infos := decode[[]job.Info](t, resp)
	names := make([]string, 0, len(infos))
	for _, info := range infos {
		names = append(names, info.Name)
	}
	assert.Equal(t, []string{"echo", "fail", "sleep"}, names)
}

func TestSubmitTaskValidation(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	tests := []struct {
		name string
		body any
	}{
		{"missing key", map[string]any{"job": "echo"}},
		{"missing job", map[string]any{"key": "a"}},
		{"unknown job", map[string]any{"key": "a", "job": "teleport"}},
		{"not json", "{"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := doJSON(t, http.MethodPost, ts.URL+"/v1/tasks", tt.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
}

func TestSubmitAndRunTask(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp := doJSON(t, http.MethodPost, ts.URL+"/v1/tasks", map[string]any{
		"key":    "greet",
		"job":    "echo",
		"params": map[string]string{"hello": "world"},
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	task := waitTask(t, ts.URL, "greet")
	assert.Equal(t, model.StatusFinished, task.Status)
	require.NotNil(t, task.Outcome)
	assert.JSONEq(t, `{"hello":"world"}`, task.Outcome.Value)
	assert.NotEmpty(t, task.Outcome.RunID)
	assert.NotNil(t, task.Outcome.StartedAt)

	require.NoError(t, srv.engine.WaitAll(t.Context()))
	run, err := srv.store.GetRun(t.Context(), task.Outcome.RunID)
	require.NoError(t, err)
	assert.Equal(t, "greet", run.Key)
	assert.Equal(t, model.StatusFinished, run.Status)
}

func TestSubmitTaskTimeout(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp := doJSON(t, http.MethodPost, ts.URL+"/v1/tasks", map[string]any{
		"key":        "slow",
		"job":        "sleep",
		"timeout_ms": 50,
		"params":     map[string]any{"duration_ms": 2000, "ignore_cancel": true, "steps": 1},
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	task := waitTask(t, ts.URL, "slow")
	assert.Equal(t, model.StatusTimedOut, task.Status)
	require.NotNil(t, task.Outcome)
	assert.Equal(t, engine.ErrTimeout.Error(), task.Outcome.Error)
}

func TestDefaultTimeoutApplies(t *testing.T) {
	srv := newTestServer(t, WithDefaultTimeout(50*time.Millisecond))
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	doJSON(t, http.MethodPost, ts.URL+"/v1/tasks", map[string]any{
		"key":    "slow",
		"job":    "sleep",
		"params": map[string]any{"duration_ms": 2000},
	})

	task := waitTask(t, ts.URL, "slow")
	assert.Equal(t, model.StatusTimedOut, task.Status)
}

func TestFailedTask(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	doJSON(t, http.MethodPost, ts.URL+"/v1/tasks", map[string]any{
		"key":    "broken",
		"job":    "fail",
		"params": map[string]any{"message": "disk on fire"},
	})

	task := waitTask(t, ts.URL, "broken")
	assert.Equal(t, model.StatusFailed, task.Status)
	require.NotNil(t, task.Outcome)
	assert.Equal(t, "disk on fire", task.Outcome.Error)
}

func TestRegisterThenStartAll(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	for _, key := range []string{"a", "b", "c"} {
		resp := doJSON(t, http.MethodPost, ts.URL+"/v1/tasks", map[string]any{
			"key": key, "job": "echo", "start": false,
		})
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		assert.Equal(t, model.StatusQueued, decode[taskResponse](t, resp).Status)
	}

	resp := doJSON(t, http.MethodGet, ts.URL+"/v1/tasks/a?wait=true", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, model.StatusQueued, decode[taskResponse](t, resp).Status)

	resp = doJSON(t, http.MethodPost, ts.URL+"/v1/tasks/start", nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, map[string]int{"started": 3}, decode[map[string]int](t, resp))

	require.Eventually(t, func() bool {
		for _, key := range []string{"a", "b", "c"} {
			if !srv.engine.ContainsTask(key) {
				return false
			}
		}
		return true
	}, 2*time.Second, 5*time.Millisecond)

	for _, key := range []string{"a", "b", "c"} {
		assert.Equal(t, model.StatusFinished, waitTask(t, ts.URL, key).Status)
	}

	resp = doJSON(t, http.MethodGet, ts.URL+"/v1/tasks", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	statuses := decode[[]engine.TaskStatus[string]](t, resp)
	assert.Len(t, statuses, 3)
}

func TestGetTaskNotFound(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp := doJSON(t, http.MethodGet, ts.URL+"/v1/tasks/ghost", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCancelTask(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	doJSON(t, http.MethodPost, ts.URL+"/v1/tasks", map[string]any{
		"key":    "long",
		"job":    "sleep",
		"params": map[string]any{"duration_ms": 5000},
	})

	resp := doJSON(t, http.MethodDelete, ts.URL+"/v1/tasks/long", nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	task := waitTask(t, ts.URL, "long")
	assert.Equal(t, model.StatusCancelled, task.Status)

	resp = doJSON(t, http.MethodDelete, ts.URL+"/v1/tasks/ghost", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCancelAll(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	for _, key := range []string{"x", "y", "z"} {
		doJSON(t, http.MethodPost, ts.URL+"/v1/tasks", map[string]any{
			"key": key, "job": "sleep", "params": map[string]any{"duration_ms": 5000},
		})
	}

	resp := doJSON(t, http.MethodPost, ts.URL+"/v1/tasks/cancel", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	for _, st := range decode[[]engine.TaskStatus[string]](t, resp) {
		assert.Equal(t, model.StatusCancelled, st.Status, "task %s", st.Key)
	}
}

func TestParallelism(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp := doJSON(t, http.MethodGet, ts.URL+"/v1/parallelism", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 2, decode[parallelismResponse](t, resp).Max)

	resp = doJSON(t, http.MethodPut, ts.URL+"/v1/parallelism", map[string]int{"max": 6})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 6, decode[parallelismResponse](t, resp).Max)
	assert.Equal(t, 6, srv.engine.MaxDegreeOfParallelism())

	resp = doJSON(t, http.MethodPut, ts.URL+"/v1/parallelism", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
