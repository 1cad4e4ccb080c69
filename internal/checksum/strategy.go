// Package checksum computes deterministic digests over a configured field
// set of market records, persists them, and runs verification sweeps.
package checksum

// Strategy decides whether a record's checksum is due for re-verification.
type Strategy interface {
	// Name returns the registry name of the strategy.
	Name() string

	// ShouldVerify reports whether a record is due, given its age in days
	// and the days elapsed since its last verification. A record never
	// verified is passed an infinite daysSinceVerification.
	ShouldVerify(recordAgeDays, daysSinceVerification float64) bool
}

// TimeBased re-verifies once the time since the last verification reaches
// VerifyIntervalDays.
type TimeBased struct {
	VerifyIntervalDays float64
}

// NewTimeBased creates a time-based verification strategy.
func NewTimeBased(intervalDays float64) *TimeBased {
	return &TimeBased{VerifyIntervalDays: intervalDays}
}

// Name returns "time_based".
func (t *TimeBased) Name() string { return "time_based" }

// ShouldVerify reports whether the verification interval has elapsed.
func (t *TimeBased) ShouldVerify(recordAgeDays, daysSinceVerification float64) bool {
	return daysSinceVerification >= t.VerifyIntervalDays
}

// CriticalData is the short-interval policy for regulatorily sensitive
// tables. Same shape as TimeBased with a tighter default.
type CriticalData struct {
	VerifyIntervalDays float64
}

// NewCriticalData creates a critical-data verification strategy.
func NewCriticalData(intervalDays float64) *CriticalData {
	return &CriticalData{VerifyIntervalDays: intervalDays}
}

// Name returns "critical_data".
func (c *CriticalData) Name() string { return "critical_data" }

// ShouldVerify reports whether the verification interval has elapsed.
func (c *CriticalData) ShouldVerify(recordAgeDays, daysSinceVerification float64) bool {
	return daysSinceVerification >= c.VerifyIntervalDays
}
