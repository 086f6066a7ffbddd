package report

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/dyluth/diffuse/pkg/rendezvous"
)

// RoundFormatter renders round progress events.
type RoundFormatter interface {
	FormatRound(ev *rendezvous.RoundEvent) error
}

// NewRoundFormatter returns the formatter for format writing to w.
func NewRoundFormatter(format OutputFormat, w io.Writer) (RoundFormatter, error) {
	switch format {
	case OutputFormatDefault:
		return &defaultFormatter{writer: w}, nil
	case OutputFormatJSONL:
		return &jsonFormatter{encoder: json.NewEncoder(w)}, nil
	default:
		return nil, fmt.Errorf("unknown output format: %s", format)
	}
}

type defaultFormatter struct {
	writer io.Writer
}

func (f *defaultFormatter) FormatRound(ev *rendezvous.RoundEvent) error {
	ts := time.UnixMilli(ev.TimestampMs).Format("15:04:05.000")
	_, err := fmt.Fprintf(f.writer, "[%s] 🔁 Round %d/%d complete: rank=%d elapsed=%dms\n",
		ts, ev.Round, ev.Iterations, ev.Rank, ev.ElapsedMs)
	if err != nil {
		return err
	}
	if ev.Done() {
		_, err = fmt.Fprintf(f.writer, "[%s] ✅ Rank %d finished\n", ts, ev.Rank)
	}
	return err
}

type jsonFormatter struct {
	encoder *json.Encoder
}

func (f *jsonFormatter) FormatRound(ev *rendezvous.RoundEvent) error {
	return f.encoder.Encode(ev)
}

// StreamRounds formats events from sub until every one of worldSize ranks has
// reported its final round, the subscription ends, or ctx is done.
// Subscription errors are written to errOut and do not stop the stream.
func StreamRounds(ctx context.Context, sub *rendezvous.Subscription, f RoundFormatter, worldSize int, errOut io.Writer) error {
	finished := map[int]bool{}
	errs := sub.Errors()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			fmt.Fprintf(errOut, "⚠️  %v\n", err)
		case ev, ok := <-sub.Events():
			if !ok {
				return ctx.Err()
			}
			if err := f.FormatRound(ev); err != nil {
				return fmt.Errorf("failed to format round event: %w", err)
			}
			if ev.Done() {
				finished[ev.Rank] = true
			}
			if worldSize > 0 && len(finished) >= worldSize {
				return nil
			}
		}
	}
}
