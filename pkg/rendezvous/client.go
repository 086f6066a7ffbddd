package rendezvous

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// CoordinatorRank is the rank that publishes the start signal.
	CoordinatorRank = 0

	// DefaultKeyTTL bounds how long run state outlives an abandoned run.
	DefaultKeyTTL = 10 * time.Minute

	// pollInterval is the server-side BLPOP timeout between context checks.
	pollInterval = time.Second
)

// Client provides run-scoped Redis operations for one rank.
// All keys and channels are namespaced with the run ID.
// The client is safe for concurrent use.
type Client struct {
	rdb    *redis.Client
	runID  string
	keyTTL time.Duration
}

// NewClient creates a rendezvous client for the given run.
//
// Parameters:
//   - redisOpts: Redis connection options (address, password, DB, etc.)
//   - runID: run identifier shared by every rank (must not be empty)
//
// Returns an error if runID is empty.
func NewClient(redisOpts *redis.Options, runID string) (*Client, error) {
	if runID == "" {
		return nil, fmt.Errorf("run ID cannot be empty")
	}

	return &Client{
		rdb:    redis.NewClient(redisOpts),
		runID:  runID,
		keyTTL: DefaultKeyTTL,
	}, nil
}

// SetKeyTTL changes the expiry applied to every key written afterwards.
func (c *Client) SetKeyTTL(ttl time.Duration) {
	if ttl > 0 {
		c.keyTTL = ttl
	}
}

// RunID returns the run this client is scoped to.
func (c *Client) RunID() string {
	return c.runID
}

// Close closes the Redis connection. Implements io.Closer.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping verifies Redis connectivity.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Reset deletes every key of this run. The coordinator calls it before
// publishing the start signal so that leftovers of a crashed run with the same
// ID cannot satisfy a barrier.
func (c *Client) Reset(ctx context.Context) error {
	pattern := fmt.Sprintf("diffuse:%s:*", c.runID)
	iter := c.rdb.Scan(ctx, 0, pattern, 100).Iterator()

	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan run keys: %w", err)
	}

	if len(keys) == 0 {
		return nil
	}
	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to delete run keys: %w", err)
	}
	return nil
}

// PublishStart stores the start signal, and on success the input pixels, then
// wakes every non-coordinator rank of a group of size ranks.
// The writes and wake-ups are applied atomically.
func (c *Client) PublishStart(ctx context.Context, signal *StartSignal, pix []byte, size int) error {
	if err := signal.Validate(); err != nil {
		return fmt.Errorf("invalid start signal: %w", err)
	}

	if signal.Status == StartStatusOK {
		if want := signal.Width * signal.Height * 3; len(pix) != want {
			return fmt.Errorf("image payload is %d bytes, start signal announces %d", len(pix), want)
		}
	}

	pipe := c.rdb.TxPipeline()
	startKey := StartKey(c.runID)
	pipe.HSet(ctx, startKey, StartSignalToHash(signal))
	pipe.Expire(ctx, startKey, c.keyTTL)

	if signal.Status == StartStatusOK {
		pipe.Set(ctx, ImageKey(c.runID), pix, c.keyTTL)
	}

	for rank := 0; rank < size; rank++ {
		if rank == CoordinatorRank {
			continue
		}
		inbox := StartInboxKey(c.runID, rank)
		pipe.RPush(ctx, inbox, string(signal.Status))
		pipe.Expire(ctx, inbox, c.keyTTL)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to publish start signal: %w", err)
	}

	return nil
}

// AwaitStart blocks until the coordinator has published the start signal and
// returns it.
func (c *Client) AwaitStart(ctx context.Context, rank int) (*StartSignal, error) {
	if err := c.pop(ctx, StartInboxKey(c.runID, rank)); err != nil {
		return nil, fmt.Errorf("waiting for start signal: %w", err)
	}

	hash, err := c.rdb.HGetAll(ctx, StartKey(c.runID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read start signal: %w", err)
	}
	if len(hash) == 0 {
		return nil, fmt.Errorf("start signal missing for run '%s'", c.runID)
	}

	signal, err := HashToStartSignal(hash)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize start signal: %w", err)
	}

	return signal, nil
}

// FetchImage reads the broadcast input pixels and checks their length.
func (c *Client) FetchImage(ctx context.Context, want int) ([]byte, error) {
	pix, err := c.rdb.Get(ctx, ImageKey(c.runID)).Bytes()
	if err != nil {
		return nil, fmt.Errorf("failed to read input image: %w", err)
	}
	if len(pix) != want {
		return nil, fmt.Errorf("input image is %d bytes, expected %d", len(pix), want)
	}
	return pix, nil
}

// Contribute stores this rank's rows for round and drops an arrival token in
// the inbox of every other rank. The slice is visible before any token is.
//
// The rank's own slice of round-2 is deleted in the same transaction. A rank
// contributing round has passed the round-1 barrier, and no peer contributes
// round-1 before it has fetched round-2, so nobody reads that slice again.
func (c *Client) Contribute(ctx context.Context, round, rank, size int, data []byte) error {
	pipe := c.rdb.TxPipeline()
	if round >= 2 {
		pipe.Del(ctx, SliceKey(c.runID, round-2, rank))
	}
	pipe.Set(ctx, SliceKey(c.runID, round, rank), data, c.keyTTL)

	token := strconv.Itoa(rank)
	for peer := 0; peer < size; peer++ {
		if peer == rank {
			continue
		}
		inbox := RoundInboxKey(c.runID, round, peer)
		pipe.RPush(ctx, inbox, token)
		pipe.Expire(ctx, inbox, c.keyTTL)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to contribute round %d: %w", round, err)
	}
	return nil
}

// AwaitPeers blocks until every other rank has contributed round.
func (c *Client) AwaitPeers(ctx context.Context, round, rank, size int) error {
	inbox := RoundInboxKey(c.runID, round, rank)
	for arrived := 1; arrived < size; arrived++ {
		if err := c.pop(ctx, inbox); err != nil {
			return fmt.Errorf("round %d: waiting for peers (%d of %d arrived): %w", round, arrived, size, err)
		}
	}
	return nil
}

// FetchSlices reads every rank's rows for round, indexed by rank.
func (c *Client) FetchSlices(ctx context.Context, round, size int) ([][]byte, error) {
	keys := make([]string, size)
	for rank := range keys {
		keys[rank] = SliceKey(c.runID, round, rank)
	}

	values, err := c.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read round %d slices: %w", round, err)
	}

	slices := make([][]byte, size)
	for rank, v := range values {
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("rank %d has no slice for round %d", rank, round)
		}
		slices[rank] = []byte(s)
	}
	return slices, nil
}

// PublishFinish records whether the coordinator wrote the output and wakes
// every non-coordinator rank of a group of size ranks.
func (c *Client) PublishFinish(ctx context.Context, signal *FinishSignal, size int) error {
	if err := signal.Validate(); err != nil {
		return fmt.Errorf("invalid finish signal: %w", err)
	}

	pipe := c.rdb.TxPipeline()
	finishKey := FinishKey(c.runID)
	pipe.HSet(ctx, finishKey, FinishSignalToHash(signal))
	pipe.Expire(ctx, finishKey, c.keyTTL)

	for rank := 0; rank < size; rank++ {
		if rank == CoordinatorRank {
			continue
		}
		inbox := FinishInboxKey(c.runID, rank)
		pipe.RPush(ctx, inbox, string(signal.Status))
		pipe.Expire(ctx, inbox, c.keyTTL)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to publish finish signal: %w", err)
	}
	return nil
}

// AwaitFinish blocks until the coordinator has published the finish signal
// and returns it.
func (c *Client) AwaitFinish(ctx context.Context, rank int) (*FinishSignal, error) {
	if err := c.pop(ctx, FinishInboxKey(c.runID, rank)); err != nil {
		return nil, fmt.Errorf("waiting for finish signal: %w", err)
	}

	hash, err := c.rdb.HGetAll(ctx, FinishKey(c.runID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read finish signal: %w", err)
	}
	if len(hash) == 0 {
		return nil, fmt.Errorf("finish signal missing for run '%s'", c.runID)
	}

	signal, err := HashToFinishSignal(hash)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize finish signal: %w", err)
	}
	return signal, nil
}

// pop removes one element from key, blocking until one is available or ctx
// is done.
func (c *Client) pop(ctx context.Context, key string) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := c.rdb.BLPop(ctx, pollInterval, key).Err()
		if err == nil {
			return nil
		}
		if errors.Is(err, redis.Nil) {
			continue
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return err
	}
}

// PublishRoundEvent publishes a progress event on the run's events channel.
func (c *Client) PublishRoundEvent(ctx context.Context, ev *RoundEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal round event: %w", err)
	}

	if err := c.rdb.Publish(ctx, RoundEventsChannel(c.runID), payload).Err(); err != nil {
		return fmt.Errorf("failed to publish round event: %w", err)
	}
	return nil
}

// Subscription represents an active Pub/Sub subscription to round events.
// Caller must call Close() when done to clean up resources.
type Subscription struct {
	events <-chan *RoundEvent
	errors <-chan error
	cancel func()
	once   sync.Once
}

// Events returns the channel of round events.
// The channel is closed when the subscription is closed or the context is cancelled.
func (s *Subscription) Events() <-chan *RoundEvent {
	return s.events
}

// Errors returns the channel of non-fatal subscription errors.
func (s *Subscription) Errors() <-chan error {
	return s.errors
}

// Close stops the subscription. Safe to call multiple times.
func (s *Subscription) Close() error {
	s.once.Do(s.cancel)
	return nil
}

// SubscribeRoundEvents subscribes to round progress events for this run.
// The subscription is confirmed by the server before this returns, so events
// published afterwards are not missed.
func (c *Client) SubscribeRoundEvents(ctx context.Context) (*Subscription, error) {
	pubsub := c.rdb.Subscribe(ctx, RoundEventsChannel(c.runID))
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to round events: %w", err)
	}

	eventsChan := make(chan *RoundEvent, 16)
	errorsChan := make(chan error, 4)
	subCtx, cancelFunc := context.WithCancel(ctx)

	go func() {
		defer close(eventsChan)
		defer close(errorsChan)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}

				var ev RoundEvent
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					select {
					case errorsChan <- fmt.Errorf("failed to unmarshal round event: %w", err):
					case <-subCtx.Done():
						return
					}
					continue
				}

				select {
				case eventsChan <- &ev:
				case <-subCtx.Done():
					return
				}
			}
		}
	}()

	return &Subscription{
		events: eventsChan,
		errors: errorsChan,
		cancel: cancelFunc,
	}, nil
}

// IsNotFound returns true if the error is a Redis "key not found" error.
func IsNotFound(err error) bool {
	return errors.Is(err, redis.Nil)
}
