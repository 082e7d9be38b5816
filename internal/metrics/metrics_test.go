package metrics

import (
	"context"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRegistry_ObserveTick(t *testing.T) {
	r := New()
	r.ObserveTick(9.5, 10)
	assert.Equal(t, 9.5, testutil.ToFloat64(r.FPS))
	assert.InDelta(t, -0.5, testutil.ToFloat64(r.FPSDeviation), 1e-9)
}

func TestServer_ServesStats(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := lis.Addr().String()
	require.NoError(t, lis.Close())

	r := New()
	r.Inferences.Inc()
	r.FPS.Set(12.5)
	server := NewServer(addr, r, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.Run(ctx) }()

	deadline := time.Now().Add(time.Second)
	var resp *http.Response
	for time.Now().Before(deadline) {
		resp, err = http.Get("http://" + addr + "/stats")
		if err == nil {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "inferences")
	assert.Contains(t, string(body), "fps 12.5")

	cancel()
	require.NoError(t, <-done)
}
