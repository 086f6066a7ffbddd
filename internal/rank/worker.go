package rank

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/dyluth/diffuse/internal/collective"
	"github.com/dyluth/diffuse/internal/diffusion"
	"github.com/dyluth/diffuse/internal/partition"
	"github.com/dyluth/diffuse/internal/printer"
	"github.com/dyluth/diffuse/pkg/raster"
	"github.com/dyluth/diffuse/pkg/rendezvous"
	"github.com/redis/go-redis/v9"
)

// Worker is one rank of a distributed run.
type Worker struct {
	cfg    *Config
	args   Args
	client *rendezvous.Client
	status *Status

	// Timings receives rank 0's timing text. Defaults to io.Discard.
	Timings io.Writer
}

// NewWorker connects to the broker and verifies it is reachable.
func NewWorker(ctx context.Context, cfg *Config, args Args) (*Worker, error) {
	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}

	client, err := rendezvous.NewClient(redisOpts, cfg.RunID)
	if err != nil {
		return nil, fmt.Errorf("failed to create rendezvous client: %w", err)
	}
	client.SetKeyTTL(cfg.KeyTTL)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Worker{
		cfg:     cfg,
		args:    args,
		client:  client,
		status:  NewStatus(cfg.Rank),
		Timings: io.Discard,
	}, nil
}

// Client returns the worker's rendezvous client.
func (w *Worker) Client() *rendezvous.Client { return w.client }

// Status returns the worker's live progress.
func (w *Worker) Status() *Status { return w.status }

// Close releases the broker connection.
func (w *Worker) Close() error {
	return w.client.Close()
}

// Run executes the whole run for this rank. Rank 0 reads the input before the
// start broadcast and writes the output after the last round. A load or write
// failure on rank 0 is broadcast so that every rank returns an error.
func (w *Worker) Run(ctx context.Context) error {
	total := time.Now()
	rank := w.cfg.Rank

	comm, err := collective.NewRedisComm(w.client, rank, w.cfg.WorldSize)
	if err != nil {
		return err
	}
	bounded := collective.WithTimeout(comm, w.cfg.BarrierTimeout)

	var img *raster.Image
	var loadErr error
	if rank == collective.Root {
		img, loadErr = w.load()
		if loadErr != nil {
			w.logEvent("error", "load_failed", map[string]interface{}{"error": loadErr.Error()})
		}
	}

	start, err := collective.Bootstrap(ctx, bounded, img, loadErr)
	if err != nil {
		return err
	}
	w.logEvent("info", "started", map[string]interface{}{
		"width":      start.Width,
		"height":     start.Height,
		"world_size": w.cfg.WorldSize,
		"iterations": w.args.Iterations,
		"alpha":      w.args.Alpha,
	})

	driver, err := diffusion.NewDriver(start, bounded, w.args.Params(w.cfg.Threads), diffusion.WithObserver(w.observe))
	if err != nil {
		return err
	}
	log.Printf("[INFO] Rank %d owns %s", rank, driver.Partition())

	compute := time.Now()
	out, err := driver.Run(ctx)
	if err != nil {
		w.logEvent("error", "run_failed", map[string]interface{}{"round": driver.Round(), "error": err.Error()})
		return err
	}
	elapsed := time.Since(compute)

	if rank == collective.Root {
		fmt.Fprintln(w.Timings, printer.FormatTiming("Computation time", elapsed))
		if err := w.finish(ctx, raster.WriteFile(w.args.OutputPath, out)); err != nil {
			return err
		}
		fmt.Fprintln(w.Timings, printer.FormatTiming("Total execution time", time.Since(total)))
	} else if err := w.awaitFinish(ctx); err != nil {
		return err
	}

	w.logEvent("info", "completed", map[string]interface{}{
		"rounds":     driver.Round(),
		"compute_ms": elapsed.Milliseconds(),
	})
	return nil
}

// finish tells every peer whether the output was written and returns the
// write error, if any.
func (w *Worker) finish(ctx context.Context, writeErr error) error {
	signal := &rendezvous.FinishSignal{Status: rendezvous.StartStatusOK}
	if writeErr != nil {
		writeErr = fmt.Errorf("failed to write output: %w", writeErr)
		signal = &rendezvous.FinishSignal{Status: rendezvous.StartStatusFailed, Reason: writeErr.Error()}
		w.logEvent("error", "write_failed", map[string]interface{}{"error": writeErr.Error()})
	}

	pubCtx, cancel := context.WithTimeout(ctx, w.cfg.BarrierTimeout)
	defer cancel()
	if err := w.client.PublishFinish(pubCtx, signal, w.cfg.WorldSize); err != nil {
		if writeErr != nil {
			return writeErr
		}
		return err
	}
	return writeErr
}

// awaitFinish waits for the coordinator to write the output, so that a failed
// write makes every rank exit non-zero.
func (w *Worker) awaitFinish(ctx context.Context) error {
	waitCtx, cancel := context.WithTimeout(ctx, w.cfg.BarrierTimeout)
	defer cancel()

	signal, err := w.client.AwaitFinish(waitCtx, w.cfg.Rank)
	if err != nil {
		return err
	}
	if signal.Status == rendezvous.StartStatusFailed {
		return fmt.Errorf("%w: %s", collective.ErrCoordinatorFailed, signal.Reason)
	}
	return nil
}

// load reads the input and checks it can be split across the group, so that
// an impossible partition is reported to every rank like a load failure.
func (w *Worker) load() (*raster.Image, error) {
	img, err := raster.ReadFile(w.args.InputPath)
	if err != nil {
		return nil, err
	}
	if err := partition.Validate(img.Height, w.cfg.WorldSize); err != nil {
		return nil, err
	}
	return img, nil
}

// observe records progress and publishes it for `diffuse watch`.
func (w *Worker) observe(p diffusion.Progress) {
	w.status.Observe(p)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := w.client.PublishRoundEvent(ctx, &rendezvous.RoundEvent{
		RunID:       w.cfg.RunID,
		Rank:        p.Rank,
		Round:       p.Round,
		Iterations:  p.Iterations,
		ElapsedMs:   p.Elapsed.Milliseconds(),
		TimestampMs: time.Now().UnixMilli(),
	})
	if err != nil {
		log.Printf("[WARN] Failed to publish round %d event: %v", p.Round, err)
	}
}

// logEvent writes a structured JSON log line.
func (w *Worker) logEvent(level, eventType string, data map[string]interface{}) {
	data["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	data["level"] = level
	data["component"] = "rank"
	data["event_type"] = eventType
	data["run_id"] = w.cfg.RunID
	data["rank"] = w.cfg.Rank

	jsonData, err := json.Marshal(data)
	if err != nil {
		log.Printf("[Rank] Failed to marshal log event: %v", err)
		return
	}

	log.Println(string(jsonData))
}
