package domain

// JobResult status constants
const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)
