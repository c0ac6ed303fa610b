package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lukavetter/vatlens/internal/common"
	"github.com/lukavetter/vatlens/internal/model"
)

// SaveFingerprint inserts or updates a fingerprint.
func (s *SQLiteStorage) SaveFingerprint(ctx context.Context, fp *model.DocumentFingerprint) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateFingerprint(fp); err != nil {
		return err
	}

	patterns, err := json.Marshal(fp.Patterns)
	if err != nil {
		return fmt.Errorf("failed to marshal patterns: %w", err)
	}
	identity, err := json.Marshal(fp.Identity)
	if err != nil {
		return fmt.Errorf("failed to marshal identity: %w", err)
	}

	if fp.CreatedAt.IsZero() {
		fp.CreatedAt = time.Now()
	}

	var lastUsed any
	if !fp.LastUsed.IsZero() {
		lastUsed = fp.LastUsed
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO fingerprints (
			id, signature, patterns, identity,
			line_count, line_density, column_count, head_line, tail_line,
			success_rate, use_count, created_at, last_used
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			signature = excluded.signature,
			patterns = excluded.patterns,
			identity = excluded.identity,
			line_count = excluded.line_count,
			line_density = excluded.line_density,
			column_count = excluded.column_count,
			head_line = excluded.head_line,
			tail_line = excluded.tail_line,
			success_rate = excluded.success_rate,
			use_count = excluded.use_count,
			last_used = excluded.last_used
	`, fp.ID, fp.Signature, string(patterns), string(identity),
		fp.Layout.LineCount, fp.Layout.LineDensity, fp.Layout.ColumnCount,
		fp.Layout.HeadLine, fp.Layout.TailLine,
		fp.SuccessRate, fp.UseCount, fp.CreatedAt, lastUsed)
	if err != nil {
		return fmt.Errorf("failed to save fingerprint: %w", err)
	}
	return nil
}

// GetFingerprint retrieves a fingerprint by ID.
func (s *SQLiteStorage) GetFingerprint(ctx context.Context, id string) (*model.DocumentFingerprint, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, fingerprintSelect+` WHERE id = ?`, id)
	return scanFingerprintRow(row)
}

// GetFingerprintBySignature retrieves a fingerprint by its exact signature.
func (s *SQLiteStorage) GetFingerprintBySignature(ctx context.Context, signature string) (*model.DocumentFingerprint, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(signature, "signature"); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, fingerprintSelect+` WHERE signature = ? LIMIT 1`, signature)
	return scanFingerprintRow(row)
}

// GetAllFingerprints retrieves every stored fingerprint.
func (s *SQLiteStorage) GetAllFingerprints(ctx context.Context) ([]model.DocumentFingerprint, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, fingerprintSelect+` ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to query fingerprints: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var fingerprints []model.DocumentFingerprint
	for rows.Next() {
		fp, err := scanFingerprint(rows)
		if err != nil {
			return nil, err
		}
		fingerprints = append(fingerprints, *fp)
	}
	return fingerprints, rows.Err()
}

// UpdateFingerprintStats records a new success rate and touches last_used.
func (s *SQLiteStorage) UpdateFingerprintStats(ctx context.Context, id string, successRate float64) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(id, "id"); err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE fingerprints SET success_rate = ?, last_used = CURRENT_TIMESTAMP WHERE id = ?
	`, successRate, id)
	if err != nil {
		return fmt.Errorf("failed to update fingerprint stats: %w", err)
	}
	return requireRowAffected(result, "fingerprint")
}

const fingerprintSelect = `
	SELECT id, signature, patterns, identity,
		line_count, line_density, column_count, head_line, tail_line,
		success_rate, use_count, created_at, last_used
	FROM fingerprints`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFingerprintRow(row *sql.Row) (*model.DocumentFingerprint, error) {
	fp, err := scanFingerprint(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: fingerprint", common.ErrNotFound)
	}
	return fp, err
}

func scanFingerprint(row rowScanner) (*model.DocumentFingerprint, error) {
	var fp model.DocumentFingerprint
	var patterns, identity string
	var lastUsed sql.NullTime

	err := row.Scan(
		&fp.ID, &fp.Signature, &patterns, &identity,
		&fp.Layout.LineCount, &fp.Layout.LineDensity, &fp.Layout.ColumnCount,
		&fp.Layout.HeadLine, &fp.Layout.TailLine,
		&fp.SuccessRate, &fp.UseCount, &fp.CreatedAt, &lastUsed,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan fingerprint: %w", err)
	}

	if err := json.Unmarshal([]byte(patterns), &fp.Patterns); err != nil {
		return nil, fmt.Errorf("failed to unmarshal patterns: %w", err)
	}
	if err := json.Unmarshal([]byte(identity), &fp.Identity); err != nil {
		return nil, fmt.Errorf("failed to unmarshal identity: %w", err)
	}
	if lastUsed.Valid {
		fp.LastUsed = lastUsed.Time
	}
	return &fp, nil
}

// requireRowAffected maps a zero-row update to ErrNotFound.
func requireRowAffected(result sql.Result, entity string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", common.ErrNotFound, entity)
	}
	return nil
}
