package rank

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/dyluth/diffuse/internal/diffusion"
	"github.com/dyluth/diffuse/pkg/rendezvous"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewHealthServer(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := rendezvous.NewClient(&redis.Options{Addr: mr.Addr()}, "test-run")
	require.NoError(t, err)
	defer client.Close()

	hs := NewHealthServer(client, NewStatus(0), 8080)
	assert.NotNil(t, hs.server)
	assert.Equal(t, ":8080", hs.server.Addr)
}

func TestHealthzHandler_Success(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := rendezvous.NewClient(&redis.Options{Addr: mr.Addr()}, "test-run")
	require.NoError(t, err)
	defer client.Close()

	status := NewStatus(2)
	status.Observe(diffusion.Progress{Rank: 2, Round: 3, Iterations: 5})
	hs := NewHealthServer(client, status, 8080)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	hs.handleHealthz(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var response HealthResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&response))
	assert.Equal(t, HealthResponse{Status: "healthy", Rank: 2, State: "round", Round: 3}, response)
}

func TestHealthzHandler_RedisUnavailable(t *testing.T) {
	client, err := rendezvous.NewClient(&redis.Options{
		Addr:        "localhost:16379",
		DialTimeout: 100 * time.Millisecond,
	}, "test-run")
	require.NoError(t, err)
	defer client.Close()

	hs := NewHealthServer(client, NewStatus(0), 8080)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	hs.handleHealthz(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var response HealthResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&response))
	assert.Equal(t, "unhealthy", response.Status)
	assert.Equal(t, "init", response.State)
	assert.NotEmpty(t, response.Error)
}

func TestHealthServer_StartShutdown(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := rendezvous.NewClient(&redis.Options{Addr: mr.Addr()}, "test-run")
	require.NoError(t, err)
	defer client.Close()

	hs := NewHealthServer(client, NewStatus(0), 0)
	hs.Start()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, hs.Shutdown(ctx))
}

func TestStatusObserve(t *testing.T) {
	s := NewStatus(1)
	assert.Equal(t, diffusion.StateInit, s.State())
	assert.Equal(t, 0, s.Round())

	s.Observe(diffusion.Progress{Round: 1, Iterations: 2})
	assert.Equal(t, diffusion.StateRound, s.State())

	s.Observe(diffusion.Progress{Round: 2, Iterations: 2})
	assert.Equal(t, diffusion.StateDone, s.State())
	assert.Equal(t, 2, s.Round())
}
