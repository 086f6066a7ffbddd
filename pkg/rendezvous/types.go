package rendezvous

import (
	"fmt"
)

// StartStatus tells peers whether the coordinator loaded its input.
type StartStatus string

const (
	// StartStatusOK means the image is available under ImageKey.
	StartStatusOK StartStatus = "ok"

	// StartStatusFailed means the coordinator could not load the input and
	// every rank must exit without entering a round.
	StartStatusFailed StartStatus = "failed"
)

// Validate checks that the status is one of the known values.
func (s StartStatus) Validate() error {
	switch s {
	case StartStatusOK, StartStatusFailed:
		return nil
	default:
		return fmt.Errorf("invalid start status: %q", s)
	}
}

// StartSignal is the coordinator's one-time announcement to all ranks.
type StartSignal struct {
	Status StartStatus `json:"status"`
	Width  int         `json:"width"`
	Height int         `json:"height"`
	Reason string      `json:"reason,omitempty"` // set when Status is failed
}

// Validate checks field consistency for the signal's status.
func (s *StartSignal) Validate() error {
	if err := s.Status.Validate(); err != nil {
		return err
	}

	if s.Status == StartStatusOK && (s.Width <= 0 || s.Height <= 0) {
		return fmt.Errorf("start signal has invalid dimensions %dx%d", s.Width, s.Height)
	}

	if s.Status == StartStatusFailed && s.Reason == "" {
		return fmt.Errorf("failed start signal requires a reason")
	}

	return nil
}

// FinishSignal is the coordinator's report on writing the output after the
// last round. It reuses the start statuses.
type FinishSignal struct {
	Status StartStatus `json:"status"`
	Reason string      `json:"reason,omitempty"` // set when Status is failed
}

// Validate checks field consistency for the signal's status.
func (s *FinishSignal) Validate() error {
	if err := s.Status.Validate(); err != nil {
		return err
	}
	if s.Status == StartStatusFailed && s.Reason == "" {
		return fmt.Errorf("failed finish signal requires a reason")
	}
	return nil
}

// RoundEvent reports that a rank completed the exchange of one round.
type RoundEvent struct {
	RunID       string `json:"run_id"`
	Rank        int    `json:"rank"`
	Round       int    `json:"round"` // 1-based: number of completed rounds
	Iterations  int    `json:"iterations"`
	ElapsedMs   int64  `json:"elapsed_ms"`
	TimestampMs int64  `json:"timestamp_ms"`
}

// Done reports whether the event marks the final round.
func (e *RoundEvent) Done() bool {
	return e.Round >= e.Iterations
}
