package harvest

import "github.com/use-agent/changehub/models"

// RetryState tracks enrichment attempts for a single row.
type RetryState struct {
	Attempt     int // 1-based
	MaxAttempts int
}

// ShouldRetry reports whether another enrichment attempt is warranted.
// Only an empty description triggers a retry; panes legitimately omit
// overview or url.
func ShouldRetry(s RetryState, d models.Details) bool {
	return d.Description == "" && s.Attempt < max(s.MaxAttempts, 1)
}
