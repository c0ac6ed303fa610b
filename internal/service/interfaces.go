// Package service defines the interfaces for all application services.
package service

import (
	"context"

	"github.com/lukavetter/vatlens/internal/model"
)

// Storage defines the contract for our persistence layer. The pipeline only
// needs create/read/update-by-key semantics; no cross-document transactions.
type Storage interface {
	// Fingerprint operations
	SaveFingerprint(ctx context.Context, fp *model.DocumentFingerprint) error
	GetFingerprint(ctx context.Context, id string) (*model.DocumentFingerprint, error)
	GetFingerprintBySignature(ctx context.Context, signature string) (*model.DocumentFingerprint, error)
	GetAllFingerprints(ctx context.Context) ([]model.DocumentFingerprint, error)
	UpdateFingerprintStats(ctx context.Context, id string, successRate float64) error

	// Template operations
	SaveTemplate(ctx context.Context, tmpl *model.Template) error
	GetTemplate(ctx context.Context, id string) (*model.Template, error)
	GetActiveTemplates(ctx context.Context) ([]model.Template, error)
	UpdateTemplateStats(ctx context.Context, id string, successRate, avgConfidence float64) error
	IncrementTemplateUseCount(ctx context.Context, id string) error
	DeactivateTemplate(ctx context.Context, id string) error

	// Calibration operations
	GetCalibration(ctx context.Context, docType model.DocumentType, method model.ExtractionMethod) (*model.CalibrationEntry, error)
	SaveCalibration(ctx context.Context, entry *model.CalibrationEntry) error
	GetAllCalibrations(ctx context.Context) ([]model.CalibrationEntry, error)

	// Correction operations
	SaveCorrection(ctx context.Context, c *model.Correction) error
	GetUnconsumedCorrections(ctx context.Context) ([]model.Correction, error)
	MarkCorrectionsConsumed(ctx context.Context, ids []string) error

	// Suspect amount operations (amounts proven wrong by prior corrections)
	SaveSuspectAmounts(ctx context.Context, amounts []float64) error
	GetSuspectAmounts(ctx context.Context) ([]float64, error)

	// Database management
	Migrate(ctx context.Context) error
	Close() error
}

// TextExtractor converts non-image documents into plain text.
type TextExtractor interface {
	Extract(ctx context.Context, data []byte, mediaType string) (string, error)
}

// Processor is the caller-facing pipeline operation.
type Processor interface {
	Process(ctx context.Context, req model.ExtractionRequest) (*model.CategorizedResult, error)
}
