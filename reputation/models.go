package reputation

import "time"

// Profile is the aggregated standing of a user, maintained exclusively by the
// feedback worker.
type Profile struct {
	UserID         string
	CompletedDeals int64
	DisputeCount   int64
	TrustScore     int16
	UpdatedAt      time.Time
}

// TrustScore derives the 0-100 score from deal and dispute counts: a neutral
// base of 50, one point per completed deal capped at 50, minus two points per
// dispute capped at 50.
func TrustScore(completedDeals, disputeCount int64) int16 {
	score := int64(50)
	if completedDeals > 50 {
		completedDeals = 50
	}
	score += completedDeals
	if disputeCount > 25 {
		disputeCount = 25
	}
	score -= 2 * disputeCount
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return int16(score)
}
