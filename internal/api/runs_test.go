package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seantiz/taskgate/internal/model"
)

func seedRun(t *testing.T, srv *Server, key, status string, finished time.Time) *model.Run {
	t.Helper()
	run := &model.Run{
		ID:         model.NewID(),
		Key:        key,
		Status:     status,
		Message:    "task " + status,
		CreatedAt:  finished,
		FinishedAt: finished,
	}
	require.NoError(t, srv.store.RecordRun(t.Context(), run))
	return run
}

func TestListRunsPagination(t *testing.T) {
	srv := newTestServer(t)
	base := time.Now().UTC()
	for i := range 5 {
		seedRun(t, srv, "batch", model.StatusFinished, base.Add(time.Duration(i)*time.Second))
	}

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp := doJSON(t, http.MethodGet, ts.URL+"/v1/runs?limit=2&offset=1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	page := decode[listRunsResponse](t, resp)
	assert.Equal(t, 5, page.Total)
	assert.Equal(t, 2, page.Limit)
	assert.Equal(t, 1, page.Offset)
	assert.Len(t, page.Runs, 2)
}

func TestListRunsDefaultsAndEmpty(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp := doJSON(t, http.MethodGet, ts.URL+"/v1/runs?limit=1000&offset=-3", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	page := decode[listRunsResponse](t, resp)
	assert.Equal(t, defaultListLimit, page.Limit)
	assert.Equal(t, 0, page.Offset)
	assert.NotNil(t, page.Runs)
	assert.Empty(t, page.Runs)
}

func TestListRunsByKey(t *testing.T) {
	srv := newTestServer(t)
	now := time.Now().UTC()
	seedRun(t, srv, "mine", model.StatusFinished, now)
	seedRun(t, srv, "mine", model.StatusFailed, now.Add(time.Second))
	seedRun(t, srv, "theirs", model.StatusFinished, now)

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp := doJSON(t, http.MethodGet, ts.URL+"/v1/runs?key=mine", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	page := decode[listRunsResponse](t, resp)
	require.Len(t, page.Runs, 2)
	assert.Equal(t, model.StatusFailed, page.Runs[0].Status)
}

func TestGetRun(t *testing.T) {
	srv := newTestServer(t)
	run := seedRun(t, srv, "one", model.StatusCancelled, time.Now().UTC())

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp := doJSON(t, http.MethodGet, ts.URL+"/v1/runs/"+run.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decode[model.Run](t, resp)
	assert.Equal(t, run.ID, got.ID)
	assert.Equal(t, model.StatusCancelled, got.Status)

	resp = doJSON(t, http.MethodGet, ts.URL+"/v1/runs/nope", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
