package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cbsinteractive/ump-gateway/internal/apipath"
	"github.com/cbsinteractive/ump-gateway/internal/exceptions"
	"github.com/cbsinteractive/ump-gateway/internal/handlers"
	"github.com/cbsinteractive/ump-gateway/internal/httpclient/fake"
	"github.com/cbsinteractive/ump-gateway/internal/job"
	"github.com/cbsinteractive/ump-gateway/internal/jobmanager"
	"github.com/cbsinteractive/ump-gateway/internal/jobrepo"
	"github.com/cbsinteractive/ump-gateway/internal/metrics"
	"github.com/cbsinteractive/ump-gateway/internal/observer"
	"github.com/cbsinteractive/ump-gateway/internal/process"
	"github.com/cbsinteractive/ump-gateway/internal/providers"
	"github.com/cbsinteractive/ump-gateway/internal/retry"
	"github.com/cbsinteractive/ump-gateway/internal/verify"
)

func newTestServer(t *testing.T) (http.Handler, *fake.Client, jobrepo.Repository) {
	t.Helper()
	fc := fake.New()
	fc.QueueJSON("https://gdal.example/processes/reproject", 200, map[string]interface{}{"id": "reproject"}, nil)

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

	cfg := jobmanager.Config{
		ForwardRetry: retry.Policy{MaxAttempts: 1, BaseWait: time.Millisecond, MaxWait: time.Millisecond},
		PollInterval: time.Hour,
	}
	jm := jobmanager.New(cfg, repo, registry, pm, fc, bus, verify.New(fc), m, &exceptions.NoopReporter{}, log, time.Now)

	return NewRouter(pm, jm, log), fc, repo
}

func TestListProcessesReturns200(t *testing.T) {
	router, _, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, Version+"/processes", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGetProcessNotFound(t *testing.T) {
	router, fc, _ := newTestServer(t)
	fc.QueueJSON("https://gdal.example/processes/missing", 404, map[string]interface{}{"error": "no such process"}, nil)
	req := httptest.NewRequest(http.MethodGet, Version+"/processes/gdal:missing", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestExecuteProcessReturns201WithLocation(t *testing.T) {
	router, fc, _ := newTestServer(t)
	fc.QueueJSON("https://gdal.example/processes/reproject/execution", 201, map[string]interface{}{
		"jobID": "remote-1", "status": "accepted",
	}, nil)

	req := httptest.NewRequest(http.MethodPost, Version+"/processes/gdal:reproject/execution", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)

	var info map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.Equal(t, "accepted", info["status"])

	jobID, _ := info["jobID"].(string)
	require.NotEmpty(t, jobID)
	assert.Equal(t, apipath.Base+"/jobs/"+jobID, rec.Header().Get("Location"))
}

func TestExecuteProcessMalformedBodyReturns400(t *testing.T) {
	router, _, _ := newTestServer(t)
	body := bytesReader("{not json")
	req := httptest.NewRequest(http.MethodPost, Version+"/processes/gdal:reproject/execution", body)
	req.ContentLength = int64(len("{not json"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestExecuteProcessUnknownProcessReturns404(t *testing.T) {
	router, fc, _ := newTestServer(t)
	fc.QueueJSON("https://gdal.example/processes/missing", 404, map[string]interface{}{"error": "nope"}, nil)
	req := httptest.NewRequest(http.MethodPost, Version+"/processes/gdal:missing/execution", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetJobNotFound(t *testing.T) {
	router, _, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, Version+"/jobs/does-not-exist", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetJobResultsConflictWhenNotSuccessful(t *testing.T) {
	router, fc, repo := newTestServer(t)
	fc.QueueJSON("https://gdal.example/processes/reproject/execution", 201, map[string]interface{}{
		"jobID": "remote-1", "status": "running",
	}, nil)

	req := httptest.NewRequest(http.MethodPost, Version+"/processes/gdal:reproject/execution", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	jobs, err := repo.List(context.Background(), jobrepo.Filter{})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, job.StatusRunning, jobs[0].StatusCode)

	req2 := httptest.NewRequest(http.MethodGet, Version+"/jobs/"+jobs[0].ID+"/results", nil)
	rec2 := httptest.NewRecorder()
	router.ServeHTTP(rec2, req2)
	assert.Equal(t, http.StatusConflict, rec2.Code)
}

func TestGetJobResultsRedirectsWhenSuccessful(t *testing.T) {
	router, fc, repo := newTestServer(t)
	fc.QueueJSON("https://gdal.example/processes/reproject/execution", 200, map[string]interface{}{
		"outputs": map[string]interface{}{"result": "ok"},
	}, nil)

	req := httptest.NewRequest(http.MethodPost, Version+"/processes/gdal:reproject/execution", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	jobs, err := repo.List(context.Background(), jobrepo.Filter{})
	require.NoError(t, err)
	require.Len(t, jobs, 1)

	req2 := httptest.NewRequest(http.MethodGet, Version+"/jobs/"+jobs[0].ID+"/results", nil)
	rec2 := httptest.NewRecorder()
	router.ServeHTTP(rec2, req2)
	assert.Equal(t, http.StatusFound, rec2.Code)
}

func bytesReader(s string) *stringReaderCloser {
	return &stringReaderCloser{s: s}
}

type stringReaderCloser struct {
	s string
	i int
}

func (r *stringReaderCloser) Read(p []byte) (int, error) {
	if r.i >= len(r.s) {
		return 0, io.EOF
	}
	n := copy(p, r.s[r.i:])
	r.i += n
	return n, nil
}
