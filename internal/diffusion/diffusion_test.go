package diffusion

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/dyluth/diffuse/internal/collective"
	"github.com/dyluth/diffuse/pkg/raster"
	"github.com/dyluth/diffuse/pkg/rendezvous"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// patterned returns a deterministic image with both smooth gradients and
// sharp jumps, so that both stencil branches are exercised.
func patterned(t *testing.T, width, height int) *raster.Image {
	t.Helper()
	img, err := raster.New(width, height)
	require.NoError(t, err)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			for c := 0; c < raster.Channels; c++ {
				v := (x*37 + y*91 + c*53) % 256
				if (x+y)%5 == 0 {
					v = 255 - v
				}
				img.Set(y, x, c, uint8(v))
			}
		}
	}
	return img
}

func solid(t *testing.T, width, height int, r, g, b uint8) *raster.Image {
	t.Helper()
	img, err := raster.New(width, height)
	require.NoError(t, err)
	img.Fill(r, g, b)
	return img
}

func TestParamsValidate(t *testing.T) {
	tests := []struct {
		name    string
		params  Params
		wantErr bool
	}{
		{name: "valid", params: Params{Alpha: 0.5, Iterations: 1}},
		{name: "alpha outside unit range is allowed", params: Params{Alpha: 2, Iterations: 3, Threads: 4}},
		{name: "zero iterations", params: Params{Alpha: 0.5}, wantErr: true},
		{name: "negative iterations", params: Params{Iterations: -1}, wantErr: true},
		{name: "negative threads", params: Params{Iterations: 1, Threads: -2}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.params.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidConfig)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestFlatGrayIsFixedPoint(t *testing.T) {
	img := solid(t, 4, 4, 128, 128, 128)
	params := Params{Alpha: 0.5, Iterations: 3}

	for _, workers := range []int{1, 2, 4} {
		t.Run(fmt.Sprintf("workers=%d", workers), func(t *testing.T) {
			out, err := RunLocal(context.Background(), img, params, workers)
			require.NoError(t, err)
			assert.Equal(t, img.Pix, out.Pix)
		})
	}
}

func TestSinglePixelScenario(t *testing.T) {
	t.Run("saturated red pixel is an edge", func(t *testing.T) {
		img := solid(t, 5, 5, 0, 0, 0)
		img.SetPixel(2, 2, 255, 0, 0)

		out, err := RunLocal(context.Background(), img, Params{Alpha: 1, Iterations: 1}, 1)
		require.NoError(t, err)

		// Every neighbour of the centre is zero, so the centre's smoothed value
		// is zero and the edge test replaces it. The neighbours move toward the
		// centre by a weight of exp(-255^2/800), far below one intensity level.
		assert.Equal(t, [3]uint8{0, 0, 0}, pixel(out, 2, 2))
		for _, p := range [][2]int{{1, 2}, {3, 2}, {2, 1}, {2, 3}} {
			assert.Equal(t, [3]uint8{0, 0, 0}, pixel(out, p[0], p[1]), "neighbour %v", p)
		}
	})

	t.Run("moderate pixel pulls its neighbours", func(t *testing.T) {
		img := solid(t, 5, 5, 0, 0, 0)
		img.SetPixel(2, 2, 30, 0, 0)

		out, err := RunLocal(context.Background(), img, Params{Alpha: 1, Iterations: 1}, 1)
		require.NoError(t, err)

		// w = exp(-900/800) ~ 0.3247; smooth = 30w / (3 + w) ~ 2.93 -> 2.
		for _, p := range [][2]int{{1, 2}, {3, 2}, {2, 1}, {2, 3}} {
			assert.Equal(t, [3]uint8{2, 0, 0}, pixel(out, p[0], p[1]), "neighbour %v", p)
		}
		// The centre differs from its smoothed value by 30 > threshold.
		assert.Equal(t, [3]uint8{0, 0, 0}, pixel(out, 2, 2))
		// Diagonals see only zeros.
		assert.Equal(t, [3]uint8{0, 0, 0}, pixel(out, 1, 1))
	})
}

func pixel(img *raster.Image, y, x int) [3]uint8 {
	return [3]uint8{img.At(y, x, 0), img.At(y, x, 1), img.At(y, x, 2)}
}

func TestBordersUnchanged(t *testing.T) {
	img := patterned(t, 9, 11)

	for _, workers := range []int{1, 3, 11} {
		t.Run(fmt.Sprintf("workers=%d", workers), func(t *testing.T) {
			out, err := RunLocal(context.Background(), img, Params{Alpha: 0.8, Iterations: 5, Threads: 2}, workers)
			require.NoError(t, err)

			for x := 0; x < img.Width; x++ {
				assert.Equal(t, pixel(img, 0, x), pixel(out, 0, x))
				assert.Equal(t, pixel(img, img.Height-1, x), pixel(out, img.Height-1, x))
			}
			for y := 0; y < img.Height; y++ {
				assert.Equal(t, pixel(img, y, 0), pixel(out, y, 0))
				assert.Equal(t, pixel(img, y, img.Width-1), pixel(out, y, img.Width-1))
			}
			assert.NotEqual(t, img.Pix, out.Pix, "interior should change")
		})
	}
}

func TestAlphaZero(t *testing.T) {
	t.Run("smooth regions are unchanged", func(t *testing.T) {
		img, err := raster.New(6, 6)
		require.NoError(t, err)
		for y := 0; y < 6; y++ {
			for x := 0; x < 6; x++ {
				img.SetPixel(y, x, uint8(100+x+y), uint8(50+2*x), uint8(200-y))
			}
		}

		out, err := RunLocal(context.Background(), img, Params{Alpha: 0, Iterations: 7}, 2)
		require.NoError(t, err)
		assert.Equal(t, img.Pix, out.Pix)
	})

	t.Run("edge pixels are still replaced", func(t *testing.T) {
		img := solid(t, 5, 5, 0, 0, 0)
		img.SetPixel(2, 2, 30, 0, 0)

		out, err := RunLocal(context.Background(), img, Params{Alpha: 0, Iterations: 1}, 1)
		require.NoError(t, err)

		want := solid(t, 5, 5, 0, 0, 0)
		assert.Equal(t, want.Pix, out.Pix)
	})
}

func TestDeterminism(t *testing.T) {
	img := patterned(t, 16, 13)
	params := Params{Alpha: 0.6, Iterations: 4, Threads: 4}

	first, err := RunLocal(context.Background(), img, params, 3)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := RunLocal(context.Background(), img, params, 3)
		require.NoError(t, err)
		require.Equal(t, first.Pix, again.Pix, "run %d", i)
	}
}

func TestDistributedMatchesSerial(t *testing.T) {
	img := patterned(t, 7, 9)
	params := Params{Alpha: 0.7, Iterations: 4}

	want, err := Serial(img, params)
	require.NoError(t, err)

	for workers := 1; workers <= img.Height; workers++ {
		for _, threads := range []int{1, 3} {
			t.Run(fmt.Sprintf("workers=%d/threads=%d", workers, threads), func(t *testing.T) {
				p := params
				p.Threads = threads
				got, err := RunLocal(context.Background(), img, p, workers)
				require.NoError(t, err)
				assert.Equal(t, want.Pix, got.Pix)
			})
		}
	}
}

func TestRunLocal_DoesNotModifyInput(t *testing.T) {
	img := patterned(t, 6, 6)
	orig := img.Clone()

	_, err := RunLocal(context.Background(), img, Params{Alpha: 1, Iterations: 2}, 2)
	require.NoError(t, err)
	assert.Equal(t, orig.Pix, img.Pix)

	_, err = Serial(img, Params{Alpha: 1, Iterations: 2})
	require.NoError(t, err)
	assert.Equal(t, orig.Pix, img.Pix)
}

func TestRunLocal_RejectsInvalidConfig(t *testing.T) {
	img := patterned(t, 4, 3)

	_, err := RunLocal(context.Background(), img, Params{Alpha: 0.5, Iterations: 1}, 4)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = RunLocal(context.Background(), img, Params{Alpha: 0.5, Iterations: 0}, 1)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = RunLocal(context.Background(), img, Params{Alpha: 0.5, Iterations: 1}, 0)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = Serial(img, Params{Alpha: 0.5})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestTinyImagesHaveNoInterior(t *testing.T) {
	for _, dims := range [][2]int{{1, 1}, {2, 2}, {5, 2}, {2, 5}} {
		img := patterned(t, dims[0], dims[1])
		out, err := RunLocal(context.Background(), img, Params{Alpha: 1, Iterations: 2}, dims[1])
		require.NoError(t, err)
		assert.Equal(t, img.Pix, out.Pix, "%dx%d", dims[0], dims[1])
	}
}

func TestDriverLifecycle(t *testing.T) {
	img := patterned(t, 5, 5)
	group, err := collective.NewLocalGroup(1)
	require.NoError(t, err)
	comm, err := group.Comm(0)
	require.NoError(t, err)

	var seen []Progress
	d, err := NewDriver(img, comm, Params{Alpha: 0.5, Iterations: 3}, WithObserver(func(p Progress) {
		seen = append(seen, p)
	}))
	require.NoError(t, err)

	assert.Equal(t, StateInit, d.State())
	assert.Equal(t, 0, d.Round())
	assert.Equal(t, 0, d.Partition().LocalStart)
	assert.Equal(t, 5, d.Partition().LocalRows)

	require.NoError(t, d.Step(context.Background()))
	assert.Equal(t, StateRound, d.State())
	assert.Equal(t, 1, d.Round())

	out, err := d.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateDone, d.State())
	assert.Equal(t, 3, d.Round())
	assert.Same(t, d.Image(), out)

	assert.ErrorIs(t, d.Step(context.Background()), ErrDriverDone)

	require.Len(t, seen, 3)
	for i, p := range seen {
		assert.Equal(t, i+1, p.Round)
		assert.Equal(t, 3, p.Iterations)
		assert.Equal(t, 0, p.Rank)
	}

	want, err := Serial(img, Params{Alpha: 0.5, Iterations: 3})
	require.NoError(t, err)
	assert.Equal(t, want.Pix, out.Pix)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "init", StateInit.String())
	assert.Equal(t, "round", StateRound.String())
	assert.Equal(t, "done", StateDone.String())
	assert.Equal(t, "State(9)", State(9).String())
}

func TestObserverSharedAcrossRanks(t *testing.T) {
	img := patterned(t, 6, 8)

	var mu sync.Mutex
	counts := map[int]int{}
	_, err := RunLocal(context.Background(), img, Params{Alpha: 0.5, Iterations: 4}, 3, WithObserver(func(p Progress) {
		mu.Lock()
		defer mu.Unlock()
		counts[p.Rank]++
	}))
	require.NoError(t, err)
	assert.Equal(t, map[int]int{0: 4, 1: 4, 2: 4}, counts)
}

func TestRunLocal_Cancelled(t *testing.T) {
	img := patterned(t, 8, 8)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := RunLocal(ctx, img, Params{Alpha: 0.5, Iterations: 50}, 4)
	assert.ErrorIs(t, err, context.Canceled)
}

// TestRedisRanksMatchSerial runs three drivers as separate Redis-connected
// ranks against a shared miniredis server.
func TestRedisRanksMatchSerial(t *testing.T) {
	mr := miniredis.RunT(t)
	img := patterned(t, 6, 10)
	params := Params{Alpha: 0.9, Iterations: 3, Threads: 2}
	const size = 3

	want, err := Serial(img, params)
	require.NoError(t, err)

	outs := make([]*raster.Image, size)
	errs := make([]error, size)
	var wg sync.WaitGroup
	for rank := 0; rank < size; rank++ {
		wg.Add(1)
		go func(rank int) {
			defer wg.Done()
			client, err := rendezvous.NewClient(&redis.Options{Addr: mr.Addr()}, "diffusion-test")
			if err != nil {
				errs[rank] = err
				return
			}
			comm, err := collective.NewRedisComm(client, rank, size)
			if err != nil {
				errs[rank] = err
				return
			}
			defer comm.Close()

			var in *raster.Image
			if rank == collective.Root {
				in = img
			}
			start, err := collective.Bootstrap(context.Background(), comm, in, nil)
			if err != nil {
				errs[rank] = err
				return
			}
			d, err := NewDriver(start, comm, params)
			if err != nil {
				errs[rank] = err
				return
			}
			outs[rank], errs[rank] = d.Run(context.Background())
		}(rank)
	}
	wg.Wait()

	for rank := 0; rank < size; rank++ {
		require.NoError(t, errs[rank], "rank %d", rank)
		assert.Equal(t, want.Pix, outs[rank].Pix, "rank %d", rank)
	}
}
