package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/lukavetter/vatlens/internal/model"
)

// SaveCorrection stores one piece of user feedback.
func (s *SQLiteStorage) SaveCorrection(ctx context.Context, c *model.Correction) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateCorrection(c); err != nil {
		return err
	}

	if c.SubmittedAt.IsZero() {
		c.SubmittedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO corrections (
			id, request_id, doc_type, method, template_id,
			outcome, reason, original_total, corrected_total,
			original_confidence, consumed, submitted_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			outcome = excluded.outcome,
			reason = excluded.reason,
			original_total = excluded.original_total,
			corrected_total = excluded.corrected_total,
			original_confidence = excluded.original_confidence,
			consumed = excluded.consumed
	`, c.ID, c.RequestID, string(c.DocType), string(c.Method), c.TemplateID,
		string(c.Outcome), c.Reason, c.OriginalTotal, c.CorrectedTotal,
		c.OriginalConfidence, c.Consumed, c.SubmittedAt)
	if err != nil {
		return fmt.Errorf("failed to save correction: %w", err)
	}
	return nil
}

// GetUnconsumedCorrections retrieves corrections not yet folded into a batch
// re-derivation, oldest first.
func (s *SQLiteStorage) GetUnconsumedCorrections(ctx context.Context) ([]model.Correction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, request_id, doc_type, method, template_id,
			outcome, reason, original_total, corrected_total,
			original_confidence, consumed, submitted_at
		FROM corrections
		WHERE consumed = 0
		ORDER BY submitted_at
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query corrections: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var corrections []model.Correction
	for rows.Next() {
		var c model.Correction
		var originalTotal, correctedTotal sql.NullFloat64
		if err := rows.Scan(
			&c.ID, &c.RequestID, &c.DocType, &c.Method, &c.TemplateID,
			&c.Outcome, &c.Reason, &originalTotal, &correctedTotal,
			&c.OriginalConfidence, &c.Consumed, &c.SubmittedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan correction: %w", err)
		}
		if originalTotal.Valid {
			c.OriginalTotal = &originalTotal.Float64
		}
		if correctedTotal.Valid {
			c.CorrectedTotal = &correctedTotal.Float64
		}
		corrections = append(corrections, c)
	}
	return corrections, rows.Err()
}

// MarkCorrectionsConsumed flags a batch of corrections as folded in.
func (s *SQLiteStorage) MarkCorrectionsConsumed(ctx context.Context, ids []string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}

	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	_, err := s.db.ExecContext(ctx,
		`UPDATE corrections SET consumed = 1 WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return fmt.Errorf("failed to mark corrections consumed: %w", err)
	}
	return nil
}

// SaveSuspectAmounts replaces the derived suspect amount list.
func (s *SQLiteStorage) SaveSuspectAmounts(ctx context.Context, amounts []float64) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM suspect_amounts`); err != nil {
			return fmt.Errorf("failed to clear suspect amounts: %w", err)
		}
		for _, amount := range amounts {
			if _, err := tx.ExecContext(ctx, `
				INSERT OR IGNORE INTO suspect_amounts (amount) VALUES (?)
			`, amount); err != nil {
				return fmt.Errorf("failed to insert suspect amount: %w", err)
			}
		}
		return nil
	})
}

// GetSuspectAmounts retrieves the derived suspect amount list.
func (s *SQLiteStorage) GetSuspectAmounts(ctx context.Context) ([]float64, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT amount FROM suspect_amounts ORDER BY amount`)
	if err != nil {
		return nil, fmt.Errorf("failed to query suspect amounts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var amounts []float64
	for rows.Next() {
		var amount float64
		if err := rows.Scan(&amount); err != nil {
			return nil, fmt.Errorf("failed to scan suspect amount: %w", err)
		}
		amounts = append(amounts, amount)
	}
	return amounts, rows.Err()
}
