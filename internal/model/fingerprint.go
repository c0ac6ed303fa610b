package model

import "time"

// LayoutFeatures are coarse structural properties of a document's text,
// used as a low-weight similarity signal between fingerprints.
type LayoutFeatures struct {
	LineCount   int
	LineDensity float64
	ColumnCount int
	HeadLine    string
	TailLine    string
}

// DocumentFingerprint is the structural signature of a document's text,
// used to detect recurring document sources. SuccessRate and LastUsed are
// mutated only by the feedback learner.
type DocumentFingerprint struct {
	CreatedAt   time.Time
	LastUsed    time.Time
	ID          string
	Signature   string
	Patterns    []string
	Identity    []string
	Layout      LayoutFeatures
	SuccessRate float64
	UseCount    int
}

// TemplateRule maps one extraction field to the strategy that filled it when
// the template was synthesized.
type TemplateRule struct {
	Field    string
	Pattern  string
	Required bool
}

// Template is a stored, reusable extraction strategy bound to one
// fingerprint cluster. Templates are deactivated rather than deleted so the
// learner's history stays intact.
type Template struct {
	CreatedAt     time.Time
	UpdatedAt     time.Time
	ID            string
	Name          string
	FingerprintID string
	Rules         []TemplateRule
	UseCount      int
	SuccessRate   float64
	AvgConfidence float64
	Active        bool
}
