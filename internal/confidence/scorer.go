// Package confidence computes calibrated confidence scores for categorized
// results. The score is built from structural signals (amount count and
// plausibility, rate validity, field presence), then multiplied by a learned
// calibration factor. The order of operations — additive boosts before the
// multiplicative calibration, then the clamp — is a hard invariant: the
// learner's history only makes sense against scores computed this way.
package confidence

import (
	"context"
	"errors"
	"log/slog"
	"math"

	"github.com/lukavetter/vatlens/internal/common"
	"github.com/lukavetter/vatlens/internal/model"
)

// CalibrationSource supplies learned calibration factors. A missing entry
// means factor 1.0.
type CalibrationSource interface {
	GetCalibration(ctx context.Context, docType model.DocumentType, method model.ExtractionMethod) (*model.CalibrationEntry, error)
}

// Config holds scoring parameters.
type Config struct {
	// Tolerance for treating a single amount as matching its breakdown.
	Tolerance float64
	// PlausibleMin/Max bound the range in which a lone amount earns the
	// higher base score.
	PlausibleMin float64
	PlausibleMax float64
	// ValidRates lists known national VAT rates in percent.
	ValidRates []float64
	// FlagPenalty is subtracted once per validation flag.
	FlagPenalty float64
	// ClampMin/Max bound the final score.
	ClampMin float64
	ClampMax float64
}

// DefaultConfig returns the default scoring configuration.
func DefaultConfig() Config {
	return Config{
		Tolerance:    0.02,
		PlausibleMin: 0.01,
		PlausibleMax: 50000,
		ValidRates:   []float64{0, 5, 5.5, 7, 9, 10, 12, 13, 13.5, 19, 20, 21, 22, 23, 24, 25},
		FlagPenalty:  0.03,
		ClampMin:     0.1,
		ClampMax:     0.99,
	}
}

// Boost values, each applied at most once and summed.
const (
	boostValidRate      = 0.05
	boostLineItems      = 0.05
	boostExplicitTotal  = 0.04
	boostDocTypeCertain = 0.03

	multiAmountIncrement = 0.03
	multiAmountCap       = 0.15
	breakdownIncrement   = 0.01
	breakdownCap         = 0.03
)

// Scorer computes calibrated confidence scores.
type Scorer struct {
	calibrations CalibrationSource
	logger       *slog.Logger
	cfg          Config
}

// New creates a scorer. calibrations may be nil, in which case every factor
// is 1.0.
func New(cfg Config, calibrations CalibrationSource, logger *slog.Logger) *Scorer {
	def := DefaultConfig()
	if cfg.Tolerance <= 0 {
		cfg.Tolerance = def.Tolerance
	}
	if cfg.PlausibleMin <= 0 {
		cfg.PlausibleMin = def.PlausibleMin
	}
	if cfg.PlausibleMax <= 0 {
		cfg.PlausibleMax = def.PlausibleMax
	}
	if len(cfg.ValidRates) == 0 {
		cfg.ValidRates = def.ValidRates
	}
	if cfg.FlagPenalty <= 0 {
		cfg.FlagPenalty = def.FlagPenalty
	}
	if cfg.ClampMin <= 0 {
		cfg.ClampMin = def.ClampMin
	}
	if cfg.ClampMax <= 0 {
		cfg.ClampMax = def.ClampMax
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Scorer{cfg: cfg, calibrations: calibrations, logger: logger}
}

// Score computes the calibrated confidence for a categorized result.
func (s *Scorer) Score(ctx context.Context, result *model.CategorizedResult) float64 {
	raw := s.base(result) + s.boosts(&result.Extraction)
	raw -= s.cfg.FlagPenalty * float64(len(result.Flags))

	raw *= s.factor(ctx, result.Extraction.DocType, result.Method)

	return s.clamp(raw)
}

func (s *Scorer) base(result *model.CategorizedResult) float64 {
	amounts := append(append([]float64{}, result.SalesAmounts...), result.PurchaseAmounts...)

	switch len(amounts) {
	case 0:
		return 0.1
	case 1:
		amount := amounts[0]
		if base, ok := s.breakdownMatch(&result.Extraction, amount); ok {
			return base
		}
		if amount >= s.cfg.PlausibleMin && amount <= s.cfg.PlausibleMax {
			return 0.75
		}
		return 0.5
	default:
		increment := multiAmountIncrement * float64(len(amounts)-1)
		if increment > multiAmountCap {
			increment = multiAmountCap
		}
		return 0.8 + increment
	}
}

// breakdownMatch reports whether a lone amount is confirmed by an itemized
// breakdown summing to it, and returns the corresponding base score.
func (s *Scorer) breakdownMatch(extraction *model.ParsedExtraction, amount float64) (float64, bool) {
	items := extraction.ItemTaxAmounts()
	if len(items) == 0 {
		return 0, false
	}

	sum := 0.0
	for _, v := range items {
		sum += v
	}
	if math.Abs(sum-amount) > s.cfg.Tolerance {
		return 0, false
	}

	increment := breakdownIncrement * float64(len(items))
	if increment > breakdownCap {
		increment = breakdownCap
	}
	return 0.95 + increment, true
}

func (s *Scorer) boosts(extraction *model.ParsedExtraction) float64 {
	total := 0.0

	if s.hasValidRate(extraction) {
		total += boostValidRate
	}
	if len(extraction.LineItems) > 0 {
		total += boostLineItems
	}
	if extraction.ExplicitTotal {
		total += boostExplicitTotal
	}
	if extraction.DocType != model.DocTypeUnknown && extraction.DocTypeConfidence >= 0.8 {
		total += boostDocTypeCertain
	}

	return total
}

func (s *Scorer) hasValidRate(extraction *model.ParsedExtraction) bool {
	for _, item := range extraction.LineItems {
		if item.TaxRate == nil {
			continue
		}
		for _, rate := range s.cfg.ValidRates {
			if math.Abs(*item.TaxRate-rate) < 0.01 {
				return true
			}
		}
	}
	return false
}

// factor looks up the learned calibration factor, defaulting to 1.0.
func (s *Scorer) factor(ctx context.Context, docType model.DocumentType, method model.ExtractionMethod) float64 {
	if s.calibrations == nil {
		return 1.0
	}

	entry, err := s.calibrations.GetCalibration(ctx, docType, method)
	if err != nil {
		if !errors.Is(err, common.ErrNotFound) {
			s.logger.Warn("calibration lookup failed",
				"doc_type", docType,
				"method", method,
				"error", err)
		}
		return 1.0
	}
	if entry == nil || entry.Factor <= 0 {
		return 1.0
	}
	return entry.Factor
}

func (s *Scorer) clamp(score float64) float64 {
	if score < s.cfg.ClampMin {
		return s.cfg.ClampMin
	}
	if score > s.cfg.ClampMax {
		return s.cfg.ClampMax
	}
	return score
}
