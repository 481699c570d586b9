package jobmanager

import (
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cbsinteractive/ump-gateway/internal/apipath"
	"github.com/cbsinteractive/ump-gateway/internal/exceptions"
	"github.com/cbsinteractive/ump-gateway/internal/handlers"
	"github.com/cbsinteractive/ump-gateway/internal/httpclient"
	"github.com/cbsinteractive/ump-gateway/internal/httpclient/fake"
	"github.com/cbsinteractive/ump-gateway/internal/job"
	"github.com/cbsinteractive/ump-gateway/internal/jobrepo"
	"github.com/cbsinteractive/ump-gateway/internal/metrics"
	"github.com/cbsinteractive/ump-gateway/internal/observer"
	"github.com/cbsinteractive/ump-gateway/internal/process"
	"github.com/cbsinteractive/ump-gateway/internal/providers"
	"github.com/cbsinteractive/ump-gateway/internal/retry"
	"github.com/cbsinteractive/ump-gateway/internal/verify"
)

type testHarness struct {
	fc      *fake.Client
	repo    jobrepo.Repository
	mgr     *Manager
	metrics *metrics.Metrics
}

func newHarness(t *testing.T, cfg Config) *testHarness {
	fc := fake.New()
	fc.QueueJSON("https://gdal.example/processes/reproject", 200, map[string]interface{}{
		"id": "reproject",
	}, nil)

	registry := providers.NewRegistry([]providers.Provider{
		{Name: "gdal", BaseURL: "https://gdal.example", DefaultTimeout: time.Second},
	})
	pipeline := handlers.New(false, "")
	pm := process.NewManager(registry, fc, pipeline, process.Config{CacheTTL: time.Minute, ResolveMode: process.ResolveModeFirstMatch})
	repo := jobrepo.NewInMemory()
	log := logrus.New()
	log.SetOutput(io.Discard)
	m := metrics.New(prometheus.NewRegistry())
	bus := observer.NewBus(log, m)
	bus.Register(observer.NewStatusHistoryObserver(repo, func() int64 { return time.Now().UnixNano() }, log))

	if cfg.ForwardRetry == (retry.Policy{}) {
		cfg.ForwardRetry = retry.Policy{MaxAttempts: 3, BaseWait: time.Millisecond, MaxWait: 2 * time.Millisecond}
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 20 * time.Millisecond
	}

	mgr := New(cfg, repo, registry, pm, fc, bus, verify.New(fc), m, &exceptions.NoopReporter{}, log, time.Now)
	return &testHarness{fc: fc, repo: repo, mgr: mgr, metrics: m}
}

func TestCreateAndForwardDirectAsyncAck(t *testing.T) {
	h := newHarness(t, Config{})
	h.fc.QueueJSON("https://gdal.example/processes/reproject/execution", 201, map[string]interface{}{
		"jobID": "remote-1", "status": "accepted",
	}, nil)

	j, status, headers, info, err := h.mgr.CreateAndForward(context.Background(), "gdal:reproject", map[string]int{"x": 1}, nil)
	require.NoError(t, err)
	assert.Equal(t, 201, status)
	assert.Equal(t, apipath.Base+"/jobs/"+j.ID, headers["Location"])
	assert.Equal(t, job.StatusAccepted, info.Status)
	assert.Equal(t, "remote-1", j.RemoteJobID)
}

func TestCreateAndForwardImmediateResults(t *testing.T) {
	h := newHarness(t, Config{VerifyImmediateResults: false})
	h.fc.QueueJSON("https://gdal.example/processes/reproject/execution", 200, map[string]interface{}{
		"outputs": map[string]interface{}{"result": "ok"},
	}, nil)

	j, status, _, info, err := h.mgr.CreateAndForward(context.Background(), "gdal:reproject", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 201, status)
	assert.Equal(t, job.StatusSuccessful, info.Status)
	assert.True(t, j.Terminal())
}

func TestCreateAndForwardNotFoundBeforeCreatingJob(t *testing.T) {
	h := newHarness(t, Config{})
	h.fc.QueueJSON("https://gdal.example/processes/missing", 404, map[string]interface{}{"error": "no such process"}, nil)

	_, _, _, _, err := h.mgr.CreateAndForward(context.Background(), "gdal:missing", nil, nil)
	assert.ErrorIs(t, err, ErrNotFound)

	jobs, listErr := h.repo.List(context.Background(), jobrepo.Filter{})
	require.NoError(t, listErr)
	assert.Empty(t, jobs, "no job must be created for an unresolved process")
}

func TestCreateAndForwardExhaustsRetryAndMarksFailed(t *testing.T) {
	h := newHarness(t, Config{ForwardRetry: retry.Policy{MaxAttempts: 2, BaseWait: time.Millisecond, MaxWait: 2 * time.Millisecond}})
	h.fc.QueueResponse("https://gdal.example/processes/reproject/execution", httpclient.Response{StatusCode: 503, Body: map[string]interface{}{"error": "unavailable"}}, nil)
	h.fc.QueueResponse("https://gdal.example/processes/reproject/execution", httpclient.Response{StatusCode: 503, Body: map[string]interface{}{"error": "unavailable"}}, nil)

	j, status, _, info, err := h.mgr.CreateAndForward(context.Background(), "gdal:reproject", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 201, status, "the gateway always creates a local job even on forwarding failure")
	assert.Equal(t, job.StatusFailed, info.Status)
	assert.True(t, j.Terminal())
	assert.Equal(t, float64(1), testutil.ToFloat64(h.metrics.ForwardRetriesTotal), "one retry after the first 503")
}

func TestCreateAndForwardNonTransientFailureStopsAfterOneAttempt(t *testing.T) {
	h := newHarness(t, Config{})
	h.fc.QueueResponse("https://gdal.example/processes/reproject/execution", httpclient.Response{StatusCode: 400, Body: map[string]interface{}{"error": "bad request"}}, nil)

	_, _, _, info, err := h.mgr.CreateAndForward(context.Background(), "gdal:reproject", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, job.StatusFailed, info.Status)
	assert.Len(t, h.fc.Calls, 2, "one descriptor GET plus exactly one forward POST, no retries on a 400")
}

func TestCreateAndForwardRejectedAfterShutdown(t *testing.T) {
	h := newHarness(t, Config{})
	require.NoError(t, h.mgr.Shutdown(context.Background()))

	_, _, _, _, err := h.mgr.CreateAndForward(context.Background(), "gdal:reproject", nil, nil)
	assert.ErrorIs(t, err, ErrShuttingDown)
}

func TestPollLoopReachesTerminalTransition(t *testing.T) {
	h := newHarness(t, Config{PollInterval: 15 * time.Millisecond})
	h.fc.QueueJSON("https://gdal.example/processes/reproject/execution", 201, map[string]interface{}{
		"jobID": "remote-1", "status": "running",
	}, nil)
	statusURL := "https://gdal.example/jobs/remote-1?f=json"
	h.fc.QueueJSON(statusURL, 200, map[string]interface{}{"jobID": "remote-1", "status": "running"}, nil)
	h.fc.QueueJSON(statusURL, 200, map[string]interface{}{"jobID": "remote-1", "status": "running"}, nil)
	h.fc.QueueJSON(statusURL, 200, map[string]interface{}{"jobID": "remote-1", "status": "successful", "progress": 100}, nil)

	j, _, _, _, err := h.mgr.CreateAndForward(context.Background(), "gdal:reproject", nil, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, err := h.repo.Get(context.Background(), j.ID)
		return err == nil && got.Terminal()
	}, 2*time.Second, 10*time.Millisecond)

	final, err := h.repo.Get(context.Background(), j.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusSuccessful, final.StatusCode)
	require.NoError(t, h.mgr.Shutdown(context.Background()))
}

func TestShutdownStopsLivePollTasks(t *testing.T) {
	h := newHarness(t, Config{PollInterval: 10 * time.Millisecond, GracefulShutdownDeadline: time.Second})
	h.fc.QueueJSON("https://gdal.example/processes/reproject/execution", 201, map[string]interface{}{
		"jobID": "remote-1", "status": "running",
	}, nil)
	h.fc.Default = func(method, url string) (httpclient.Response, error) {
		return httpclient.Response{StatusCode: 200, Headers: http.Header{}, Body: map[string]interface{}{"jobID": "remote-1", "status": "running"}}, nil
	}

	_, _, _, _, err := h.mgr.CreateAndForward(context.Background(), "gdal:reproject", nil, nil)
	require.NoError(t, err)

	require.NoError(t, h.mgr.Shutdown(context.Background()))
}
