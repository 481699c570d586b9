package statusderive

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cbsinteractive/ump-gateway/internal/httpclient"
	"github.com/cbsinteractive/ump-gateway/internal/httpclient/fake"
	"github.com/cbsinteractive/ump-gateway/internal/ogc"
)

func TestDirectStatusInfoCapturesLocationHeader(t *testing.T) {
	h := http.Header{}
	h.Set("Location", "/jobs/remote-1?f=json")
	in := Input{
		ProviderBaseURL: "https://gdal.example",
		LocalJobID:      "local-1",
		LocalProcessID:  "gdal:reproject",
		Response: httpclient.Response{
			StatusCode: 201,
			Headers:    h,
			Body:       map[string]interface{}{"jobID": "remote-1", "status": "accepted"},
		},
	}
	res, err := Derive(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, ogc.StatusAccepted, res.Info.Status)
	assert.Equal(t, "local-1", res.Info.JobID)
	assert.Equal(t, "remote-1", res.RemoteJobID)
	assert.Equal(t, "https://gdal.example/jobs/remote-1?f=json", res.RemoteStatusURL)
}

func TestDirectStatusInfoSynthesizesURLWhenNoLocationHeader(t *testing.T) {
	in := Input{
		ProviderBaseURL: "https://gdal.example",
		LocalJobID:      "local-1",
		LocalProcessID:  "gdal:reproject",
		Response: httpclient.Response{
			StatusCode: 201,
			Headers:    http.Header{},
			Body:       map[string]interface{}{"jobID": "remote-1", "status": "running"},
		},
	}
	res, err := Derive(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, "https://gdal.example/jobs/remote-1?f=json", res.RemoteStatusURL)
}

func TestDirectStatusInfoUnknownStatusMapsToFailed(t *testing.T) {
	in := Input{
		LocalJobID: "local-1",
		Response: httpclient.Response{
			StatusCode: 200,
			Headers:    http.Header{},
			Body:       map[string]interface{}{"jobID": "remote-1", "status": "sideways"},
		},
	}
	res, err := Derive(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, ogc.StatusFailed, res.Info.Status)
	assert.Contains(t, res.Info.Message, "sideways")
}

func TestImmediateResultsSynthesizesSuccessfulStatus(t *testing.T) {
	in := Input{
		LocalJobID: "local-1",
		Response: httpclient.Response{
			StatusCode: 200,
			Headers:    http.Header{},
			Body:       map[string]interface{}{"outputs": map[string]interface{}{"result": "ok"}},
		},
	}
	res, err := Derive(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, ogc.StatusSuccessful, res.Info.Status)
	require.NotNil(t, res.Info.Progress)
	assert.Equal(t, 100, *res.Info.Progress)
	_, ok := res.Info.LinkByRel("results")
	assert.True(t, ok)
}

func TestLocationFollowupFollowsHeaderAndAppliesDirect(t *testing.T) {
	fc := fake.New()
	fc.QueueJSON("https://gdal.example/status/remote-1", 200, map[string]interface{}{
		"jobID": "remote-1", "status": "running",
	}, nil)

	h := http.Header{}
	h.Set("Location", "/status/remote-1")
	in := Input{
		ProviderBaseURL: "https://gdal.example",
		ProviderTimeout: time.Second,
		LocalJobID:      "local-1",
		LocalProcessID:  "gdal:reproject",
		Port:            fc,
		Response: httpclient.Response{
			StatusCode: 201,
			Headers:    h,
			Body:       map[string]interface{}{},
		},
	}
	res, err := Derive(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, ogc.StatusRunning, res.Info.Status)
	assert.Equal(t, "https://gdal.example/status/remote-1", res.RemoteStatusURL)
}

func TestLocationFollowupRecordsURLEvenOnTransportFailure(t *testing.T) {
	fc := fake.New()
	fc.QueueResponse("https://gdal.example/status/remote-1", httpclient.Response{}, &httpclient.TransportError{URL: "x"})

	h := http.Header{}
	h.Set("Location", "/status/remote-1")
	in := Input{
		ProviderBaseURL: "https://gdal.example",
		ProviderTimeout: time.Second,
		LocalJobID:      "local-1",
		Port:            fc,
		Response: httpclient.Response{
			StatusCode: 201,
			Headers:    h,
			Body:       map[string]interface{}{},
		},
	}
	res, err := Derive(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, ogc.StatusFailed, res.Info.Status)
	assert.Equal(t, "https://gdal.example/status/remote-1", res.RemoteStatusURL)
}

func TestFallbackFailedOnUnparseableBody(t *testing.T) {
	in := Input{
		LocalJobID: "local-1",
		Response: httpclient.Response{
			StatusCode: 500,
			Headers:    http.Header{},
			Body:       []byte("internal server error"),
			Raw:        []byte("internal server error"),
		},
	}
	res, err := Derive(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, ogc.StatusFailed, res.Info.Status)
	assert.Contains(t, res.Info.Message, "500")
}
