package rendezvous

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestClient creates a client connected to a miniredis instance.
func setupTestClient(t *testing.T, runID string) (*Client, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)

	client, err := NewClient(&redis.Options{Addr: mr.Addr()}, runID)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	return client, mr
}

// peerClient creates another client for the same run on the same server.
func peerClient(t *testing.T, mr *miniredis.Miniredis, runID string) *Client {
	client, err := NewClient(&redis.Options{Addr: mr.Addr()}, runID)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client
}

func TestNewClient(t *testing.T) {
	t.Run("creates client successfully", func(t *testing.T) {
		client, _ := setupTestClient(t, "run-1")
		assert.Equal(t, "run-1", client.RunID())
		assert.Equal(t, DefaultKeyTTL, client.keyTTL)
		assert.NoError(t, client.Ping(context.Background()))
	})

	t.Run("rejects empty run ID", func(t *testing.T) {
		_, err := NewClient(&redis.Options{Addr: "localhost:6379"}, "")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "run ID cannot be empty")
	})

	t.Run("ignores non-positive TTL", func(t *testing.T) {
		client, _ := setupTestClient(t, "run-1")
		client.SetKeyTTL(0)
		assert.Equal(t, DefaultKeyTTL, client.keyTTL)
		client.SetKeyTTL(time.Minute)
		assert.Equal(t, time.Minute, client.keyTTL)
	})
}

func TestPublishAndAwaitStart(t *testing.T) {
	ctx := context.Background()
	root, mr := setupTestClient(t, "run-start")
	peer := peerClient(t, mr, "run-start")

	pix := []byte{1, 2, 3, 4, 5, 6}
	signal := &StartSignal{Status: StartStatusOK, Width: 2, Height: 1}
	require.NoError(t, root.PublishStart(ctx, signal, pix, 3))

	got, err := peer.AwaitStart(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, signal, got)

	image, err := peer.FetchImage(ctx, 6)
	require.NoError(t, err)
	assert.Equal(t, pix, image)

	_, err = peer.FetchImage(ctx, 12)
	assert.Error(t, err)

	// Rank 2 was woken too; the coordinator was not.
	_, err = peer.AwaitStart(ctx, 2)
	require.NoError(t, err)
	assert.False(t, mr.Exists(StartInboxKey("run-start", 0)))

	ttl := mr.TTL(StartKey("run-start"))
	assert.Greater(t, ttl, time.Duration(0))
}

func TestPublishStart_Failure(t *testing.T) {
	ctx := context.Background()
	root, mr := setupTestClient(t, "run-fail")
	peer := peerClient(t, mr, "run-fail")

	signal := &StartSignal{Status: StartStatusFailed, Reason: "no such file"}
	require.NoError(t, root.PublishStart(ctx, signal, nil, 2))

	got, err := peer.AwaitStart(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, StartStatusFailed, got.Status)
	assert.Equal(t, "no such file", got.Reason)
	assert.False(t, mr.Exists(ImageKey("run-fail")), "no image is stored for a failed start")
}

func TestPublishStart_Rejects(t *testing.T) {
	ctx := context.Background()
	root, _ := setupTestClient(t, "run-bad")

	err := root.PublishStart(ctx, &StartSignal{Status: "maybe"}, nil, 2)
	assert.Error(t, err)

	err = root.PublishStart(ctx, &StartSignal{Status: StartStatusOK, Width: 2, Height: 2}, []byte{1}, 2)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "announces 12")
}

func TestAwaitStart_HonoursContext(t *testing.T) {
	peer, _ := setupTestClient(t, "run-wait")

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	_, err := peer.AwaitStart(ctx, 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestContributeAwaitFetch(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	const size = 3
	_, mr := setupTestClient(t, "run-gather")
	clients := make([]*Client, size)
	for rank := range clients {
		clients[rank] = peerClient(t, mr, "run-gather")
	}

	results := make([][][]byte, size)
	errs := make([]error, size)
	var wg sync.WaitGroup
	for rank := 0; rank < size; rank++ {
		wg.Add(1)
		go func(rank int) {
			defer wg.Done()
			c := clients[rank]
			data := []byte(fmt.Sprintf("rank-%d", rank))
			if rank == 2 {
				data = []byte{} // a band with no effective rows still takes part
			}
			if err := c.Contribute(ctx, 0, rank, size, data); err != nil {
				errs[rank] = err
				return
			}
			if err := c.AwaitPeers(ctx, 0, rank, size); err != nil {
				errs[rank] = err
				return
			}
			results[rank], errs[rank] = c.FetchSlices(ctx, 0, size)
		}(rank)
	}
	wg.Wait()

	for rank := 0; rank < size; rank++ {
		require.NoError(t, errs[rank], "rank %d", rank)
		assert.Equal(t, [][]byte{[]byte("rank-0"), []byte("rank-1"), {}}, results[rank])
	}
}

func TestAwaitPeers_TimesOutWhenPeerMissing(t *testing.T) {
	client, _ := setupTestClient(t, "run-missing")
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	require.NoError(t, client.Contribute(ctx, 0, 0, 2, []byte{1}))
	err := client.AwaitPeers(ctx, 0, 0, 2)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "waiting for peers")
}

func TestFetchSlices_MissingContribution(t *testing.T) {
	ctx := context.Background()
	client, _ := setupTestClient(t, "run-partial")

	require.NoError(t, client.Contribute(ctx, 4, 0, 2, []byte{1}))
	_, err := client.FetchSlices(ctx, 4, 2)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rank 1 has no slice for round 4")
}

func TestReset(t *testing.T) {
	ctx := context.Background()
	client, mr := setupTestClient(t, "run-reset")
	require.NoError(t, mr.Set("diffuse:other-run:image", "keep"))

	require.NoError(t, client.Contribute(ctx, 0, 0, 2, []byte{1}))
	require.NoError(t, client.PublishStart(ctx, &StartSignal{Status: StartStatusOK, Width: 1, Height: 1}, []byte{1, 2, 3}, 2))

	require.NoError(t, client.Reset(ctx))
	assert.False(t, mr.Exists(SliceKey("run-reset", 0, 0)))
	assert.False(t, mr.Exists(StartKey("run-reset")))
	assert.True(t, mr.Exists("diffuse:other-run:image"), "other runs are untouched")

	// Resetting an empty run is fine.
	require.NoError(t, client.Reset(ctx))
}

func TestRoundEvents(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client, mr := setupTestClient(t, "run-events")
	sub, err := client.SubscribeRoundEvents(ctx)
	require.NoError(t, err)
	defer sub.Close()

	ev := &RoundEvent{RunID: "run-events", Rank: 1, Round: 3, Iterations: 3, ElapsedMs: 12}
	require.NoError(t, client.PublishRoundEvent(ctx, ev))

	select {
	case got := <-sub.Events():
		assert.Equal(t, ev, got)
		assert.True(t, got.Done())
	case <-ctx.Done():
		t.Fatal("timed out waiting for round event")
	}

	mr.Publish(RoundEventsChannel("run-events"), "not json")
	select {
	case err := <-sub.Errors():
		assert.Contains(t, err.Error(), "failed to unmarshal round event")
	case <-ctx.Done():
		t.Fatal("timed out waiting for subscription error")
	}

	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close())
}

func TestContribute_KeepsAtMostTwoRoundsOfSlices(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	const size, rounds = 3, 6
	_, mr := setupTestClient(t, "run-prune")
	clients := make([]*Client, size)
	for rank := range clients {
		clients[rank] = peerClient(t, mr, "run-prune")
	}

	errs := make([]error, size)
	var wg sync.WaitGroup
	for rank := 0; rank < size; rank++ {
		wg.Add(1)
		go func(rank int) {
			defer wg.Done()
			c := clients[rank]
			for round := 0; round < rounds; round++ {
				if err := c.Contribute(ctx, round, rank, size, []byte(fmt.Sprintf("%d/%d", round, rank))); err != nil {
					errs[rank] = err
					return
				}
				if err := c.AwaitPeers(ctx, round, rank, size); err != nil {
					errs[rank] = err
					return
				}
				slices, err := c.FetchSlices(ctx, round, size)
				if err != nil {
					errs[rank] = err
					return
				}
				for peer, data := range slices {
					if want := fmt.Sprintf("%d/%d", round, peer); string(data) != want {
						errs[rank] = fmt.Errorf("round %d: got %q from rank %d, want %q", round, data, peer, want)
						return
					}
				}
			}
		}(rank)
	}
	wg.Wait()

	for rank := 0; rank < size; rank++ {
		require.NoError(t, errs[rank], "rank %d", rank)
	}

	var sliceKeys []string
	for _, key := range mr.Keys() {
		if strings.HasPrefix(key, "diffuse:run-prune:round:") {
			sliceKeys = append(sliceKeys, key)
		}
	}
	assert.LessOrEqual(t, len(sliceKeys), 2*size)
	for rank := 0; rank < size; rank++ {
		assert.False(t, mr.Exists(SliceKey("run-prune", rounds-3, rank)))
		assert.True(t, mr.Exists(SliceKey("run-prune", rounds-1, rank)))
	}
	assert.False(t, mr.Exists(RoundInboxKey("run-prune", 0, 0)), "drained inboxes disappear")
}

func TestPublishAndAwaitFinish(t *testing.T) {
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		root, mr := setupTestClient(t, "run-finish")
		peer := peerClient(t, mr, "run-finish")

		require.NoError(t, root.PublishFinish(ctx, &FinishSignal{Status: StartStatusOK}, 3))
		for rank := 1; rank < 3; rank++ {
			got, err := peer.AwaitFinish(ctx, rank)
			require.NoError(t, err)
			assert.Equal(t, StartStatusOK, got.Status)
		}
		assert.False(t, mr.Exists(FinishInboxKey("run-finish", 0)))
	})

	t.Run("failure carries the reason", func(t *testing.T) {
		root, mr := setupTestClient(t, "run-finish-fail")
		peer := peerClient(t, mr, "run-finish-fail")

		require.NoError(t, root.PublishFinish(ctx, &FinishSignal{Status: StartStatusFailed, Reason: "disk full"}, 2))
		got, err := peer.AwaitFinish(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, StartStatusFailed, got.Status)
		assert.Equal(t, "disk full", got.Reason)
	})

	t.Run("rejects invalid signal", func(t *testing.T) {
		root, _ := setupTestClient(t, "run-finish-bad")
		err := root.PublishFinish(ctx, &FinishSignal{Status: StartStatusFailed}, 2)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "requires a reason")
	})

	t.Run("honours context", func(t *testing.T) {
		peer, _ := setupTestClient(t, "run-finish-wait")
		waitCtx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
		defer cancel()
		_, err := peer.AwaitFinish(waitCtx, 1)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}
