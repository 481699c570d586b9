package jobrepo

import (
	"context"
	"testing"
	"time"

	"github.com/cbsinteractive/ump-gateway/internal/job"
	"github.com/cbsinteractive/ump-gateway/internal/ogc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestJob(id string) *job.Job {
	return job.New(id, "gdal:reproject", "gdal", nil, job.InputsInline, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
}

func TestCreateRejectsDuplicateID(t *testing.T) {
	r := NewInMemory()
	ctx := context.Background()
	require.NoError(t, r.Create(ctx, newTestJob("a")))
	err := r.Create(ctx, newTestJob("a"))
	assert.ErrorIs(t, err, ErrExists)
}

func TestGetReturnsNotFound(t *testing.T) {
	r := NewInMemory()
	_, err := r.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdatePreservesCreatedAndProcessID(t *testing.T) {
	r := NewInMemory()
	ctx := context.Background()
	j := newTestJob("a")
	require.NoError(t, r.Create(ctx, j))

	mutated := j.Clone()
	mutated.ProcessID = "other:process"
	mutated.Created = time.Now()
	mutated.StatusCode = job.StatusRunning
	require.NoError(t, r.Update(ctx, mutated))

	got, err := r.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "gdal:reproject", got.ProcessID)
	assert.Equal(t, j.Created, got.Created)
	assert.Equal(t, job.StatusRunning, got.StatusCode)
}

func TestAppendStatusIsNoOpOnByteIdenticalSnapshot(t *testing.T) {
	r := NewInMemory()
	ctx := context.Background()
	j := newTestJob("a")
	require.NoError(t, r.Create(ctx, j))

	snap := ogc.StatusInfo{JobID: "a", Status: job.StatusRunning}
	require.NoError(t, r.AppendStatus(ctx, "a", 1, snap))
	require.NoError(t, r.AppendStatus(ctx, "a", 2, snap))

	hist, err := r.History(ctx, "a")
	require.NoError(t, err)
	require.Len(t, hist, 1, "identical snapshot must not append a second entry")
}

func TestAppendStatusSeqIsMonotonic(t *testing.T) {
	r := NewInMemory()
	ctx := context.Background()
	j := newTestJob("a")
	require.NoError(t, r.Create(ctx, j))

	require.NoError(t, r.AppendStatus(ctx, "a", 1, ogc.StatusInfo{JobID: "a", Status: job.StatusAccepted}))
	require.NoError(t, r.AppendStatus(ctx, "a", 2, ogc.StatusInfo{JobID: "a", Status: job.StatusRunning}))
	require.NoError(t, r.AppendStatus(ctx, "a", 3, ogc.StatusInfo{JobID: "a", Status: job.StatusSuccessful}))

	hist, err := r.History(ctx, "a")
	require.NoError(t, err)
	require.Len(t, hist, 3)
	assert.Equal(t, int64(0), hist[0].Seq)
	assert.Equal(t, int64(1), hist[1].Seq)
	assert.Equal(t, int64(2), hist[2].Seq)
}

func TestMarkFailedIsIdempotentOnTerminalJob(t *testing.T) {
	r := NewInMemory()
	ctx := context.Background()
	j := newTestJob("a")
	require.NoError(t, r.Create(ctx, j))

	first, err := r.MarkFailed(ctx, "a", time.Now().UnixNano(), "boom")
	require.NoError(t, err)
	assert.Equal(t, "boom", first.Diagnostic)

	second, err := r.MarkFailed(ctx, "a", time.Now().UnixNano(), "different reason")
	require.NoError(t, err)
	assert.Equal(t, "boom", second.Diagnostic, "already-terminal job must not be re-marked")
}

func TestListFiltersByStatus(t *testing.T) {
	r := NewInMemory()
	ctx := context.Background()
	require.NoError(t, r.Create(ctx, newTestJob("a")))
	running := newTestJob("b")
	running.StatusCode = job.StatusRunning
	require.NoError(t, r.Create(ctx, running))

	out, err := r.List(ctx, Filter{Status: []job.StatusCode{job.StatusRunning}})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "b", out[0].ID)
}
