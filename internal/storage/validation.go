// Package storage provides the SQLite persistence layer.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/lukavetter/vatlens/internal/model"
)

// Validation errors.
var (
	ErrNilContext         = errors.New("context cannot be nil")
	ErrEmptyString        = errors.New("string parameter cannot be empty")
	ErrNilParameter       = errors.New("parameter cannot be nil")
	ErrInvalidFingerprint = errors.New("invalid fingerprint")
	ErrInvalidTemplate    = errors.New("invalid template")
	ErrInvalidCalibration = errors.New("invalid calibration")
	ErrInvalidCorrection  = errors.New("invalid correction")
)

// validateContext ensures the context is not nil.
func validateContext(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}
	return nil
}

// validateString ensures a string parameter is not empty.
func validateString(s string, paramName string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%w: %s", ErrEmptyString, paramName)
	}
	return nil
}

func validateFingerprint(fp *model.DocumentFingerprint) error {
	if fp == nil {
		return fmt.Errorf("%w: fingerprint", ErrNilParameter)
	}
	if fp.ID == "" {
		return fmt.Errorf("%w: missing ID", ErrInvalidFingerprint)
	}
	if fp.Signature == "" {
		return fmt.Errorf("%w: missing signature", ErrInvalidFingerprint)
	}
	return nil
}

func validateTemplate(tmpl *model.Template) error {
	if tmpl == nil {
		return fmt.Errorf("%w: template", ErrNilParameter)
	}
	if tmpl.ID == "" {
		return fmt.Errorf("%w: missing ID", ErrInvalidTemplate)
	}
	if tmpl.FingerprintID == "" {
		return fmt.Errorf("%w: missing fingerprint ID", ErrInvalidTemplate)
	}
	return nil
}

func validateCalibration(entry *model.CalibrationEntry) error {
	if entry == nil {
		return fmt.Errorf("%w: calibration", ErrNilParameter)
	}
	if entry.DocType == "" || entry.Method == "" {
		return fmt.Errorf("%w: missing key", ErrInvalidCalibration)
	}
	if entry.Factor <= 0 {
		return fmt.Errorf("%w: factor must be positive", ErrInvalidCalibration)
	}
	return nil
}

func validateCorrection(c *model.Correction) error {
	if c == nil {
		return fmt.Errorf("%w: correction", ErrNilParameter)
	}
	if c.ID == "" {
		return fmt.Errorf("%w: missing ID", ErrInvalidCorrection)
	}
	if c.RequestID == "" {
		return fmt.Errorf("%w: missing request ID", ErrInvalidCorrection)
	}
	switch c.Outcome {
	case model.OutcomeCorrect, model.OutcomeIncorrect, model.OutcomePartial:
	default:
		return fmt.Errorf("%w: unknown outcome %q", ErrInvalidCorrection, c.Outcome)
	}
	return nil
}
