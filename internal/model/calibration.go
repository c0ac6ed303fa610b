package model

import "time"

// CalibrationEntry is a learned multiplicative correction applied to raw
// confidence scores, keyed by (document type, extraction method). Entries
// are lazily created on first correction and updated forever.
type CalibrationEntry struct {
	UpdatedAt       time.Time
	DocType         DocumentType
	Method          ExtractionMethod
	Factor          float64
	CorrectionCount int
}

// CorrectionOutcome is the user's verdict on an extraction.
type CorrectionOutcome string

// Correction outcome constants.
const (
	OutcomeCorrect   CorrectionOutcome = "CORRECT"
	OutcomeIncorrect CorrectionOutcome = "INCORRECT"
	OutcomePartial   CorrectionOutcome = "PARTIAL"
)

// Correction is one piece of user feedback about a categorized result.
type Correction struct {
	SubmittedAt        time.Time
	ID                 string
	RequestID          string
	DocType            DocumentType
	Method             ExtractionMethod
	TemplateID         string
	Outcome            CorrectionOutcome
	Reason             string
	OriginalTotal      *float64
	CorrectedTotal     *float64
	OriginalConfidence float64
	Consumed           bool
}
