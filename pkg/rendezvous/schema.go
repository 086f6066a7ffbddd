package rendezvous

import "fmt"

// Redis key pattern helpers
//
// Key pattern: diffuse:{run_id}:{entity}
// Channel pattern: diffuse:{run_id}:{event_type}_events

// StartKey returns the Redis key for the start signal hash.
// Pattern: diffuse:{run_id}:start
func StartKey(runID string) string {
	return fmt.Sprintf("diffuse:%s:start", runID)
}

// ImageKey returns the Redis key holding the broadcast input pixels.
// Pattern: diffuse:{run_id}:image
func ImageKey(runID string) string {
	return fmt.Sprintf("diffuse:%s:image", runID)
}

// SliceKey returns the Redis key for one rank's rows in one round.
// Pattern: diffuse:{run_id}:round:{round}:rank:{rank}
func SliceKey(runID string, round, rank int) string {
	return fmt.Sprintf("diffuse:%s:round:%d:rank:%d", runID, round, rank)
}

// FinishKey returns the Redis key for the finish signal hash.
// Pattern: diffuse:{run_id}:finish
func FinishKey(runID string) string {
	return fmt.Sprintf("diffuse:%s:finish", runID)
}

// FinishInboxKey returns the list a rank blocks on until the coordinator has
// written the output.
// Pattern: diffuse:{run_id}:inbox:{rank}:finish
func FinishInboxKey(runID string, rank int) string {
	return fmt.Sprintf("diffuse:%s:inbox:%d:finish", runID, rank)
}

// StartInboxKey returns the list a rank blocks on until the coordinator
// has published the start signal.
// Pattern: diffuse:{run_id}:inbox:{rank}:start
func StartInboxKey(runID string, rank int) string {
	return fmt.Sprintf("diffuse:%s:inbox:%d:start", runID, rank)
}

// RoundInboxKey returns the list that collects peer arrival tokens for a
// rank in one round.
// Pattern: diffuse:{run_id}:inbox:{rank}:round:{round}
func RoundInboxKey(runID string, round, rank int) string {
	return fmt.Sprintf("diffuse:%s:inbox:%d:round:%d", runID, rank, round)
}

// RoundEventsChannel returns the Pub/Sub channel for round progress events.
// Pattern: diffuse:{run_id}:round_events
func RoundEventsChannel(runID string) string {
	return fmt.Sprintf("diffuse:%s:round_events", runID)
}
