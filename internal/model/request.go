// Package model defines the core domain models used throughout the application.
package model

import (
	"time"
)

// CategoryHint is the caller-supplied guess about which side of the ledger a
// document belongs to. Unknown is valid and means "let the pipeline decide".
type CategoryHint string

// Category hint constants.
const (
	HintSales     CategoryHint = "SALES"
	HintPurchases CategoryHint = "PURCHASES"
	HintUnknown   CategoryHint = "UNKNOWN"
)

// ExtractionRequest describes one document to process. It is immutable:
// created by the caller and never modified by the pipeline.
type ExtractionRequest struct {
	ID        string
	Document  []byte
	MediaType string
	Filename  string
	Hint      CategoryHint
	UserID    string
}

// AttemptOutcome records how a single model attempt ended.
type AttemptOutcome string

// Attempt outcome constants.
const (
	OutcomeSuccess AttemptOutcome = "SUCCESS"
	OutcomeError   AttemptOutcome = "ERROR"
	OutcomeTimeout AttemptOutcome = "TIMEOUT"
)

// ExtractionAttempt is one try against one model. Owned by the orchestrator
// for the lifetime of a request; appended to the attempt log and never
// mutated afterwards.
type ExtractionAttempt struct {
	StartedAt   time.Time
	Model       string
	Method      ExtractionMethod
	Outcome     AttemptOutcome
	RawResponse string
	Error       string
	Duration    time.Duration
}

// ExtractionMethod identifies the strategy that produced an extraction. It is
// one half of the calibration key.
type ExtractionMethod string

// Extraction method constants.
const (
	MethodVision   ExtractionMethod = "vision"
	MethodText     ExtractionMethod = "text"
	MethodTemplate ExtractionMethod = "template"
	MethodFallback ExtractionMethod = "fallback"
)

// TerminalFailure is returned when every model and retry has been exhausted.
// It always carries the full attempt log so the caller can tell systemic
// failures from transient ones.
type TerminalFailure struct {
	Reason   string
	Attempts []ExtractionAttempt
}

func (f *TerminalFailure) Error() string {
	return f.Reason
}
