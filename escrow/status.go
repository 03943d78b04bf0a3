package escrow

import "time"

// transitions is the full edge set of the lifecycle state machine. Released
// and Refunded are terminal.
var transitions = map[Status][]Status{
	StatusCreated:   {StatusFunded, StatusRefunded},
	StatusFunded:    {StatusDelivered, StatusReleased, StatusRefunded, StatusDisputed},
	StatusDelivered: {StatusReleased, StatusDisputed},
	StatusDisputed:  {StatusReleased, StatusRefunded},
}

// CanTransition reports whether from -> to is a legal lifecycle edge.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether the status has no outgoing edges.
func Terminal(s Status) bool {
	return s == StatusReleased || s == StatusRefunded
}

// ValidStatus reports whether s is one of the six lifecycle states.
func ValidStatus(s Status) bool {
	switch s {
	case StatusCreated, StatusFunded, StatusDelivered, StatusReleased, StatusRefunded, StatusDisputed:
		return true
	default:
		return false
	}
}

// ReleaseEligible computes release eligibility at request time: delivered, or
// funded with an elapsed time-lock.
func ReleaseEligible(rec Record, now time.Time) bool {
	if rec.Status == StatusDelivered {
		return true
	}
	if rec.Status != StatusFunded || rec.TimeLock == nil {
		return false
	}
	return !now.Before(*rec.TimeLock)
}

// advance mutates rec to the target status, stamping updated_at. It returns
// ErrInvalidStatus when the edge is not part of the lifecycle.
func advance(rec *Record, to Status, now time.Time) error {
	if !CanTransition(rec.Status, to) {
		return ErrInvalidStatus
	}
	rec.Status = to
	rec.UpdatedAt = now
	return nil
}
