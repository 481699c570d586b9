package verify

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cbsinteractive/ump-gateway/internal/httpclient"
	"github.com/cbsinteractive/ump-gateway/internal/httpclient/fake"
	"github.com/cbsinteractive/ump-gateway/internal/providers"
)

func TestProbeSucceedsOn2xx(t *testing.T) {
	fc := fake.New()
	fc.QueueResponse("https://gdal.example/jobs/remote-1/results", httpclient.Response{StatusCode: 200}, nil)
	v := New(fc)
	err := v.Probe(context.Background(), providers.Provider{BaseURL: "https://gdal.example", DefaultTimeout: time.Second}, "remote-1", 0)
	require.NoError(t, err)
}

func TestProbeFailsOnNon2xx(t *testing.T) {
	fc := fake.New()
	fc.QueueResponse("https://gdal.example/jobs/remote-1/results", httpclient.Response{StatusCode: 500}, nil)
	v := New(fc)
	err := v.Probe(context.Background(), providers.Provider{BaseURL: "https://gdal.example", DefaultTimeout: time.Second}, "remote-1", 0)
	assert.ErrorIs(t, err, ErrVerificationFailed)
}

func TestProbeFailsOnTransportError(t *testing.T) {
	fc := fake.New()
	fc.QueueResponse("https://gdal.example/jobs/remote-1/results", httpclient.Response{}, &httpclient.TransportError{URL: "x"})
	v := New(fc)
	err := v.Probe(context.Background(), providers.Provider{BaseURL: "https://gdal.example", DefaultTimeout: time.Second}, "remote-1", 0)
	assert.ErrorIs(t, err, ErrVerificationFailed)
}

func TestProbeRejectsEmptyRemoteJobID(t *testing.T) {
	v := New(fake.New())
	err := v.Probe(context.Background(), providers.Provider{BaseURL: "https://gdal.example"}, "", 0)
	assert.ErrorIs(t, err, ErrVerificationFailed)
}
