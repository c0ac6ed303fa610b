// Package learner folds user corrections back into the system: calibration
// factors, template and fingerprint success rates, and the list of amounts
// known to be wrong. Learning is incremental (an EMA per correction) with a
// periodic batch pass once enough unconsumed corrections accumulate.
package learner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/lukavetter/vatlens/internal/common"
	"github.com/lukavetter/vatlens/internal/model"
)

// Store is the slice of persistence the learner needs.
type Store interface {
	GetCalibration(ctx context.Context, docType model.DocumentType, method model.ExtractionMethod) (*model.CalibrationEntry, error)
	SaveCalibration(ctx context.Context, entry *model.CalibrationEntry) error

	SaveCorrection(ctx context.Context, c *model.Correction) error
	GetUnconsumedCorrections(ctx context.Context) ([]model.Correction, error)
	MarkCorrectionsConsumed(ctx context.Context, ids []string) error

	GetTemplate(ctx context.Context, id string) (*model.Template, error)
	UpdateTemplateStats(ctx context.Context, id string, successRate, avgConfidence float64) error

	GetFingerprint(ctx context.Context, id string) (*model.DocumentFingerprint, error)
	UpdateFingerprintStats(ctx context.Context, id string, successRate float64) error

	GetSuspectAmounts(ctx context.Context) ([]float64, error)
	SaveSuspectAmounts(ctx context.Context, amounts []float64) error
}

// Config holds the learner's tuning knobs.
type Config struct {
	// Alpha is the EMA smoothing factor shared by calibration, template and
	// fingerprint updates.
	Alpha float64
	// BatchThreshold is the number of unconsumed corrections that triggers
	// the batch re-derivation pass.
	BatchThreshold int
	// IncorrectAccuracy is the accuracy assigned to an INCORRECT verdict.
	// Nonzero so a single bad extraction does not zero a calibration.
	IncorrectAccuracy float64
}

// DefaultConfig returns the default learner configuration.
func DefaultConfig() Config {
	return Config{Alpha: 0.15, BatchThreshold: 10, IncorrectAccuracy: 0.2}
}

// Factor bounds. A learned factor outside these is evidence of garbage
// input, not of a genuinely miscalibrated model.
const (
	minFactor = 0.1
	maxFactor = 2.0

	// minOriginalConfidence guards the accuracy/confidence division.
	minOriginalConfidence = 0.1
)

// Learner applies corrections to the stored learning state.
type Learner struct {
	store  Store
	logger *slog.Logger
	cfg    Config
}

// New creates a learner, filling zero config values with defaults.
func New(cfg Config, store Store, logger *slog.Logger) *Learner {
	def := DefaultConfig()
	if cfg.Alpha <= 0 || cfg.Alpha >= 1 {
		cfg.Alpha = def.Alpha
	}
	if cfg.BatchThreshold <= 0 {
		cfg.BatchThreshold = def.BatchThreshold
	}
	if cfg.IncorrectAccuracy <= 0 {
		cfg.IncorrectAccuracy = def.IncorrectAccuracy
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Learner{cfg: cfg, store: store, logger: logger}
}

// SubmitCorrection records one correction and applies its incremental
// updates. When enough corrections have queued up it also runs the batch
// re-derivation pass.
func (l *Learner) SubmitCorrection(ctx context.Context, c *model.Correction) error {
	switch c.Outcome {
	case model.OutcomeCorrect, model.OutcomeIncorrect, model.OutcomePartial:
	default:
		return fmt.Errorf("%w: unknown outcome %q", common.ErrMalformedRequest, c.Outcome)
	}

	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.SubmittedAt.IsZero() {
		c.SubmittedAt = time.Now()
	}

	// Persist the correction before touching any learning state so a failed
	// save cannot leave an update with no record behind it.
	if err := l.store.SaveCorrection(ctx, c); err != nil {
		return fmt.Errorf("saving correction: %w", err)
	}

	accuracy := l.accuracy(c)

	if err := l.updateCalibration(ctx, c, accuracy); err != nil {
		return err
	}
	if err := l.updateTemplate(ctx, c, accuracy); err != nil {
		return err
	}

	pending, err := l.store.GetUnconsumedCorrections(ctx)
	if err != nil {
		return fmt.Errorf("counting pending corrections: %w", err)
	}
	if len(pending) >= l.cfg.BatchThreshold {
		return l.rederive(ctx, pending)
	}
	return nil
}

// accuracy scores the correction: full marks for CORRECT, a fixed low score
// for INCORRECT, and a score proportional to the relative numeric error for
// PARTIAL.
func (l *Learner) accuracy(c *model.Correction) float64 {
	switch c.Outcome {
	case model.OutcomeCorrect:
		return 1.0
	case model.OutcomeIncorrect:
		return l.cfg.IncorrectAccuracy
	}

	if c.OriginalTotal == nil || c.CorrectedTotal == nil || *c.CorrectedTotal == 0 {
		// Partial with no numbers to compare: split the difference.
		return 0.6
	}

	relative := math.Abs(*c.OriginalTotal-*c.CorrectedTotal) / math.Abs(*c.CorrectedTotal)
	accuracy := 1.0 - relative
	if accuracy < l.cfg.IncorrectAccuracy {
		accuracy = l.cfg.IncorrectAccuracy
	}
	if accuracy > 1.0 {
		accuracy = 1.0
	}
	return accuracy
}

// updateCalibration applies the EMA to the (docType, method) factor. A
// CORRECT verdict never lowers the factor and an INCORRECT one never raises
// it, whatever the EMA arithmetic says.
func (l *Learner) updateCalibration(ctx context.Context, c *model.Correction, accuracy float64) error {
	entry, err := l.store.GetCalibration(ctx, c.DocType, c.Method)
	if err != nil {
		if !errors.Is(err, common.ErrNotFound) {
			return fmt.Errorf("loading calibration: %w", err)
		}
		entry = &model.CalibrationEntry{DocType: c.DocType, Method: c.Method, Factor: 1.0}
	}

	confidence := c.OriginalConfidence
	if confidence < minOriginalConfidence {
		confidence = minOriginalConfidence
	}
	target := accuracy / confidence

	previous := entry.Factor
	next := (1-l.cfg.Alpha)*previous + l.cfg.Alpha*target

	switch c.Outcome {
	case model.OutcomeCorrect:
		if next < previous {
			next = previous
		}
	case model.OutcomeIncorrect:
		if next > previous {
			next = previous
		}
	}

	if next < minFactor {
		next = minFactor
	}
	if next > maxFactor {
		next = maxFactor
	}

	entry.Factor = next
	entry.CorrectionCount++
	entry.UpdatedAt = time.Now()

	if err := l.store.SaveCalibration(ctx, entry); err != nil {
		return fmt.Errorf("saving calibration: %w", err)
	}

	l.logger.Debug("calibration updated",
		"doc_type", c.DocType,
		"method", c.Method,
		"factor", next,
		"corrections", entry.CorrectionCount)
	return nil
}

// updateTemplate folds the correction into the template's success rate and
// average confidence, and into the owning fingerprint's success rate.
func (l *Learner) updateTemplate(ctx context.Context, c *model.Correction, accuracy float64) error {
	if c.TemplateID == "" {
		return nil
	}

	tmpl, err := l.store.GetTemplate(ctx, c.TemplateID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			l.logger.Warn("correction references unknown template", "template_id", c.TemplateID)
			return nil
		}
		return fmt.Errorf("loading template: %w", err)
	}

	successRate := (1-l.cfg.Alpha)*tmpl.SuccessRate + l.cfg.Alpha*accuracy
	avgConfidence := (1-l.cfg.Alpha)*tmpl.AvgConfidence + l.cfg.Alpha*c.OriginalConfidence
	if err := l.store.UpdateTemplateStats(ctx, tmpl.ID, successRate, avgConfidence); err != nil {
		return fmt.Errorf("updating template stats: %w", err)
	}

	if tmpl.FingerprintID == "" {
		return nil
	}
	fp, err := l.store.GetFingerprint(ctx, tmpl.FingerprintID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("loading fingerprint: %w", err)
	}

	fpRate := (1-l.cfg.Alpha)*fp.SuccessRate + l.cfg.Alpha*accuracy
	if err := l.store.UpdateFingerprintStats(ctx, fp.ID, fpRate); err != nil {
		return fmt.Errorf("updating fingerprint stats: %w", err)
	}
	return nil
}

// rederive is the batch pass: recompute the suspect amount list from the
// queued corrections, refresh template aggregates, and mark the batch
// consumed.
func (l *Learner) rederive(ctx context.Context, pending []model.Correction) error {
	suspects, err := l.store.GetSuspectAmounts(ctx)
	if err != nil {
		return fmt.Errorf("loading suspect amounts: %w", err)
	}

	ids := make([]string, 0, len(pending))
	byTemplate := make(map[string][]float64)

	for _, c := range pending {
		ids = append(ids, c.ID)

		if c.OriginalTotal != nil && disproven(&c) {
			suspects = appendAmount(suspects, *c.OriginalTotal)
		}
		if c.TemplateID != "" {
			byTemplate[c.TemplateID] = append(byTemplate[c.TemplateID], l.accuracy(&c))
		}
	}

	if err := l.store.SaveSuspectAmounts(ctx, suspects); err != nil {
		return fmt.Errorf("saving suspect amounts: %w", err)
	}

	for templateID, accuracies := range byTemplate {
		tmpl, err := l.store.GetTemplate(ctx, templateID)
		if err != nil {
			if errors.Is(err, common.ErrNotFound) {
				continue
			}
			return fmt.Errorf("loading template: %w", err)
		}

		batchMean := mean(accuracies)
		successRate := (1-l.cfg.Alpha)*tmpl.SuccessRate + l.cfg.Alpha*batchMean
		if err := l.store.UpdateTemplateStats(ctx, templateID, successRate, tmpl.AvgConfidence); err != nil {
			return fmt.Errorf("updating template stats: %w", err)
		}
	}

	if err := l.store.MarkCorrectionsConsumed(ctx, ids); err != nil {
		return fmt.Errorf("consuming corrections: %w", err)
	}

	l.logger.Info("correction batch consumed",
		"corrections", len(ids),
		"suspect_amounts", len(suspects),
		"templates_refreshed", len(byTemplate))
	return nil
}

// disproven reports whether the correction proves the original total wrong.
func disproven(c *model.Correction) bool {
	if c.Outcome == model.OutcomeIncorrect {
		return true
	}
	if c.Outcome == model.OutcomePartial && c.CorrectedTotal != nil {
		return math.Abs(*c.OriginalTotal-*c.CorrectedTotal) > 0.005
	}
	return false
}

func appendAmount(amounts []float64, amount float64) []float64 {
	for _, existing := range amounts {
		if math.Abs(existing-amount) < 0.005 {
			return amounts
		}
	}
	return append(amounts, amount)
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
