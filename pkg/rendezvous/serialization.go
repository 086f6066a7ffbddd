package rendezvous

import (
	"fmt"
	"strconv"
)

// Serialization helpers for converting between Go structs and Redis hashes.

// StartSignalToHash converts a StartSignal to Redis hash fields.
func StartSignalToHash(s *StartSignal) map[string]interface{} {
	return map[string]interface{}{
		"status": string(s.Status),
		"width":  s.Width,
		"height": s.Height,
		"reason": s.Reason,
	}
}

// HashToStartSignal converts a Redis hash to a StartSignal and validates it.
func HashToStartSignal(hash map[string]string) (*StartSignal, error) {
	width, err := strconv.Atoi(hash["width"])
	if err != nil {
		return nil, fmt.Errorf("invalid width field: %w", err)
	}

	height, err := strconv.Atoi(hash["height"])
	if err != nil {
		return nil, fmt.Errorf("invalid height field: %w", err)
	}

	s := &StartSignal{
		Status: StartStatus(hash["status"]),
		Width:  width,
		Height: height,
		Reason: hash["reason"],
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}

	return s, nil
}

// FinishSignalToHash converts a FinishSignal to Redis hash fields.
func FinishSignalToHash(s *FinishSignal) map[string]interface{} {
	return map[string]interface{}{
		"status": string(s.Status),
		"reason": s.Reason,
	}
}

// HashToFinishSignal converts a Redis hash to a FinishSignal and validates it.
func HashToFinishSignal(hash map[string]string) (*FinishSignal, error) {
	s := &FinishSignal{
		Status: StartStatus(hash["status"]),
		Reason: hash["reason"],
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}
