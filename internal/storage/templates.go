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

// SaveTemplate inserts or updates a template.
func (s *SQLiteStorage) SaveTemplate(ctx context.Context, tmpl *model.Template) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateTemplate(tmpl); err != nil {
		return err
	}

	rules, err := json.Marshal(tmpl.Rules)
	if err != nil {
		return fmt.Errorf("failed to marshal rules: %w", err)
	}

	now := time.Now()
	if tmpl.CreatedAt.IsZero() {
		tmpl.CreatedAt = now
	}
	tmpl.UpdatedAt = now

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO templates (
			id, name, fingerprint_id, rules,
			use_count, success_rate, avg_confidence, active,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			fingerprint_id = excluded.fingerprint_id,
			rules = excluded.rules,
			use_count = excluded.use_count,
			success_rate = excluded.success_rate,
			avg_confidence = excluded.avg_confidence,
			active = excluded.active,
			updated_at = excluded.updated_at
	`, tmpl.ID, tmpl.Name, tmpl.FingerprintID, string(rules),
		tmpl.UseCount, tmpl.SuccessRate, tmpl.AvgConfidence, tmpl.Active,
		tmpl.CreatedAt, tmpl.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save template: %w", err)
	}
	return nil
}

// GetTemplate retrieves a template by ID.
func (s *SQLiteStorage) GetTemplate(ctx context.Context, id string) (*model.Template, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, templateSelect+` WHERE id = ?`, id)
	tmpl, err := scanTemplate(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: template", common.ErrNotFound)
	}
	return tmpl, err
}

// GetActiveTemplates retrieves all active templates.
func (s *SQLiteStorage) GetActiveTemplates(ctx context.Context) ([]model.Template, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, templateSelect+` WHERE active = 1 ORDER BY success_rate DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query templates: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var templates []model.Template
	for rows.Next() {
		tmpl, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		templates = append(templates, *tmpl)
	}
	return templates, rows.Err()
}

// UpdateTemplateStats records a new success rate and average confidence.
func (s *SQLiteStorage) UpdateTemplateStats(ctx context.Context, id string, successRate, avgConfidence float64) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(id, "id"); err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE templates
		SET success_rate = ?, avg_confidence = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, successRate, avgConfidence, id)
	if err != nil {
		return fmt.Errorf("failed to update template stats: %w", err)
	}
	return requireRowAffected(result, "template")
}

// IncrementTemplateUseCount bumps a template's use counter.
func (s *SQLiteStorage) IncrementTemplateUseCount(ctx context.Context, id string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(id, "id"); err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE templates
		SET use_count = use_count + 1, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, id)
	if err != nil {
		return fmt.Errorf("failed to increment template use count: %w", err)
	}
	return requireRowAffected(result, "template")
}

// DeactivateTemplate retires a template without deleting its history.
func (s *SQLiteStorage) DeactivateTemplate(ctx context.Context, id string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(id, "id"); err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE templates
		SET active = 0, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, id)
	if err != nil {
		return fmt.Errorf("failed to deactivate template: %w", err)
	}
	return requireRowAffected(result, "template")
}

const templateSelect = `
	SELECT id, name, fingerprint_id, rules,
		use_count, success_rate, avg_confidence, active,
		created_at, updated_at
	FROM templates`

func scanTemplate(row rowScanner) (*model.Template, error) {
	var tmpl model.Template
	var rules string

	err := row.Scan(
		&tmpl.ID, &tmpl.Name, &tmpl.FingerprintID, &rules,
		&tmpl.UseCount, &tmpl.SuccessRate, &tmpl.AvgConfidence, &tmpl.Active,
		&tmpl.CreatedAt, &tmpl.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan template: %w", err)
	}

	if err := json.Unmarshal([]byte(rules), &tmpl.Rules); err != nil {
		return nil, fmt.Errorf("failed to unmarshal rules: %w", err)
	}
	return &tmpl, nil
}
