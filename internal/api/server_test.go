package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"mailbridge/internal/domain"
	"mailbridge/internal/infra/sqlitequeue"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubEvents struct {
	events []domain.Event
	err    error
}

func (s stubEvents) Recent(_ context.Context, n int64) ([]domain.Event, error) {
	if int64(len(s.events)) > n {
		return s.events[:n], s.err
	}
	return s.events, s.err
}

func testServer(t *testing.T, events EventSource) (*httptest.Server, *sqlitequeue.Store) {
	t.Helper()
	q, err := sqlitequeue.Open(filepath.Join(t.TempDir(), "commands.db"))
	require.NoError(t, err)
	t.Cleanup(func() { q.Close() })

	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewCounter(prometheus.CounterOpts{Name: "mailbridge_test_total", Help: "test"}))

	ts := httptest.NewServer(NewServer(q, events, reg).Handler())
	t.Cleanup(ts.Close)
	return ts, q
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestHealthAndRequestID(t *testing.T) {
	ts, _ := testServer(t, nil)

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Equal(t, map[string]string{"status": "ok"}, decode[map[string]string](t, resp))

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/healthz", nil)
	req.Header.Set("X-Request-ID", "abc")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "abc", resp.Header.Get("X-Request-ID"))
}

func TestStatsAndJobs(t *testing.T) {
	ts, q := testServer(t, nil)
	ctx := context.Background()
	id, _, err := q.Enqueue(ctx, domain.NewJob{Sender: "a@x.com", Command: "ls", Subject: "s"})
	require.NoError(t, err)

	resp, err := http.Get(ts.URL + "/stats")
	require.NoError(t, err)
	stats := decode[map[string]int](t, resp)
	assert.Equal(t, 1, stats["pending"])
	assert.Equal(t, 0, stats["failed"])

	resp, err = http.Get(ts.URL + "/jobs?status=pending")
	require.NoError(t, err)
	jobs := decode[[]domain.Job](t, resp)
	require.Len(t, jobs, 1)
	assert.Equal(t, id, jobs[0].ID)

	resp, err = http.Get(ts.URL + "/jobs?status=completed")
	require.NoError(t, err)
	assert.Empty(t, decode[[]domain.Job](t, resp))

	resp, err = http.Get(ts.URL + "/jobs?status=bogus")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/jobs/1")
	require.NoError(t, err)
	assert.Equal(t, "ls", decode[domain.Job](t, resp).Command)

	resp, err = http.Get(ts.URL + "/jobs/999")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/jobs/abc")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRetryEndpoint(t *testing.T) {
	ts, q := testServer(t, nil)
	ctx := context.Background()
	id, _, err := q.Enqueue(ctx, domain.NewJob{Sender: "a@x.com", Command: "ls"})
	require.NoError(t, err)

	resp, err := http.Post(ts.URL+"/jobs/1/retry", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode, "pending job cannot be retried")

	_, err = q.Dequeue(ctx)
	require.NoError(t, err)
	require.NoError(t, q.UpdateStatus(ctx, id, domain.StatusFailed, "", "boom"))

	resp, err = http.Post(ts.URL+"/jobs/1/retry", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	j, err := q.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, j.Status)
}

func TestEventsEndpoint(t *testing.T) {
	ts, _ := testServer(t, nil)
	resp, err := http.Get(ts.URL + "/events")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode, "not served without an event source")

	src := stubEvents{events: []domain.Event{
		{Type: domain.EventCompleted, JobID: 2},
		{Type: domain.EventStarted, JobID: 2},
	}}
	ts, _ = testServer(t, src)
	resp, err = http.Get(ts.URL + "/events?limit=1")
	require.NoError(t, err)
	events := decode[[]domain.Event](t, resp)
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventCompleted, events[0].Type)

	ts, _ = testServer(t, stubEvents{err: errors.New("redis down")})
	resp, err = http.Get(ts.URL + "/events")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	ts, _ := testServer(t, nil)
	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	buf := new(strings.Builder)
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "mailbridge_test_total")
}

func TestRecoverHandler(t *testing.T) {
	h := recoverHandler(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") }))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestRealIP(t *testing.T) {
	var got string
	h := realIPHandler(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) { got = r.RemoteAddr }))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	h.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, "203.0.113.7", got)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Real-IP", "not-an-ip")
	h.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, "192.0.2.1:1234", got)
}

func TestCORSPreflight(t *testing.T) {
	ts, _ := testServer(t, nil)
	req, _ := http.NewRequest(http.MethodOptions, ts.URL+"/jobs", nil)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}
