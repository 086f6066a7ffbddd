package median

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/dyluth/diffuse/internal/collective"
	"github.com/dyluth/diffuse/internal/partition"
	"github.com/dyluth/diffuse/pkg/raster"
	"github.com/dyluth/diffuse/pkg/rendezvous"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func patterned(t *testing.T, width, height int) *raster.Image {
	t.Helper()
	img, err := raster.New(width, height)
	require.NoError(t, err)
	for i := range img.Pix {
		img.Pix[i] = uint8((i*53 + i/7) % 256)
	}
	return img
}

func TestValue(t *testing.T) {
	img, err := raster.New(3, 3)
	require.NoError(t, err)
	vals := []uint8{9, 1, 8, 2, 7, 3, 6, 4, 5}
	for i, v := range vals {
		img.SetPixel(i/3, i%3, v, 255-v, 100)
	}

	assert.Equal(t, uint8(5), Value(img, 1, 1, raster.Red))
	assert.Equal(t, uint8(250), Value(img, 1, 1, raster.Green))
	assert.Equal(t, uint8(100), Value(img, 1, 1, raster.Blue))
}

func TestSerial(t *testing.T) {
	t.Run("removes an isolated impulse", func(t *testing.T) {
		img, err := raster.New(5, 5)
		require.NoError(t, err)
		img.Fill(40, 50, 60)
		img.SetPixel(2, 2, 255, 255, 255)

		out, err := Serial(img)
		require.NoError(t, err)
		for y := 0; y < 5; y++ {
			for x := 0; x < 5; x++ {
				assert.Equal(t, uint8(40), out.At(y, x, raster.Red), "pixel (%d,%d)", y, x)
			}
		}
		assert.Equal(t, uint8(255), img.At(2, 2, raster.Red), "input is not modified")
	})

	t.Run("borders are copied unchanged", func(t *testing.T) {
		img := patterned(t, 6, 5)
		out, err := Serial(img)
		require.NoError(t, err)
		for x := 0; x < 6; x++ {
			for c := 0; c < raster.Channels; c++ {
				assert.Equal(t, img.At(0, x, c), out.At(0, x, c))
				assert.Equal(t, img.At(4, x, c), out.At(4, x, c))
			}
		}
		for y := 0; y < 5; y++ {
			assert.Equal(t, img.At(y, 0, raster.Green), out.At(y, 0, raster.Green))
			assert.Equal(t, img.At(y, 5, raster.Green), out.At(y, 5, raster.Green))
		}
	})

	t.Run("rejects an invalid image", func(t *testing.T) {
		_, err := Serial(&raster.Image{Width: 2, Height: 2, Pix: make([]uint8, 3)})
		assert.Error(t, err)
	})
}

func TestRunLocal_MatchesSerial(t *testing.T) {
	img := patterned(t, 7, 9)
	want, err := Serial(img)
	require.NoError(t, err)

	for workers := 1; workers <= img.Height; workers++ {
		for _, threads := range []int{0, 1, 3} {
			got, err := RunLocal(context.Background(), img, workers, threads)
			require.NoError(t, err, "workers=%d threads=%d", workers, threads)
			assert.Equal(t, want.Pix, got.Pix, "workers=%d threads=%d", workers, threads)
		}
	}
}

func TestRunLocal_InvalidConfig(t *testing.T) {
	img := patterned(t, 4, 3)

	_, err := RunLocal(context.Background(), img, 4, 1)
	assert.ErrorIs(t, err, partition.ErrInvalidConfig)

	_, err = RunLocal(context.Background(), img, 0, 1)
	assert.ErrorIs(t, err, partition.ErrInvalidConfig)

	_, err = RunLocal(context.Background(), img, 2, -1)
	assert.ErrorIs(t, err, partition.ErrInvalidConfig)
}

func TestFilter_RedisRanksMatchSerial(t *testing.T) {
	const size = 3
	mr := miniredis.RunT(t)
	img := patterned(t, 5, 8)
	want, err := Serial(img)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	results := make([]*raster.Image, size)
	errs := make([]error, size)
	var wg sync.WaitGroup
	for rank := 0; rank < size; rank++ {
		client, err := rendezvous.NewClient(&redis.Options{Addr: mr.Addr()}, "median-run")
		require.NoError(t, err)
		comm, err := collective.NewRedisComm(client, rank, size)
		require.NoError(t, err)

		wg.Add(1)
		go func(rank int, comm *collective.RedisComm) {
			defer wg.Done()
			defer comm.Close()

			var in *raster.Image
			if rank == collective.Root {
				in = img
			}
			start, err := collective.Bootstrap(ctx, comm, in, nil)
			if err != nil {
				errs[rank] = err
				return
			}
			results[rank], errs[rank] = Filter(ctx, start, comm, 2)
		}(rank, comm)
	}
	wg.Wait()

	for rank := 0; rank < size; rank++ {
		require.NoError(t, errs[rank], "rank %d", rank)
		assert.Equal(t, want.Pix, results[rank].Pix, "rank %d", rank)
	}
}
