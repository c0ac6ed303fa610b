package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lukavetter/vatlens/internal/common"
	"github.com/lukavetter/vatlens/internal/model"
)

// GetCalibration retrieves the calibration entry for a (docType, method)
// pair. Returns ErrNotFound when no corrections have created one yet.
func (s *SQLiteStorage) GetCalibration(ctx context.Context, docType model.DocumentType, method model.ExtractionMethod) (*model.CalibrationEntry, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	var entry model.CalibrationEntry
	err := s.db.QueryRowContext(ctx, `
		SELECT doc_type, method, factor, correction_count, updated_at
		FROM calibrations
		WHERE doc_type = ? AND method = ?
	`, string(docType), string(method)).Scan(
		&entry.DocType, &entry.Method, &entry.Factor,
		&entry.CorrectionCount, &entry.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: calibration %s/%s", common.ErrNotFound, docType, method)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get calibration: %w", err)
	}
	return &entry, nil
}

// SaveCalibration inserts or updates a calibration entry.
func (s *SQLiteStorage) SaveCalibration(ctx context.Context, entry *model.CalibrationEntry) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateCalibration(entry); err != nil {
		return err
	}

	if entry.UpdatedAt.IsZero() {
		entry.UpdatedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO calibrations (doc_type, method, factor, correction_count, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(doc_type, method) DO UPDATE SET
			factor = excluded.factor,
			correction_count = excluded.correction_count,
			updated_at = excluded.updated_at
	`, string(entry.DocType), string(entry.Method), entry.Factor,
		entry.CorrectionCount, entry.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save calibration: %w", err)
	}
	return nil
}

// GetAllCalibrations retrieves every calibration entry.
func (s *SQLiteStorage) GetAllCalibrations(ctx context.Context) ([]model.CalibrationEntry, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT doc_type, method, factor, correction_count, updated_at
		FROM calibrations
		ORDER BY doc_type, method
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query calibrations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []model.CalibrationEntry
	for rows.Next() {
		var entry model.CalibrationEntry
		if err := rows.Scan(
			&entry.DocType, &entry.Method, &entry.Factor,
			&entry.CorrectionCount, &entry.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan calibration: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}
