// Package categorize turns a parsed extraction into a canonical categorized
// record: it filters out non-tax amounts, assigns the survivors to sales or
// purchases, and reconciles itemized sums against any stated total. The
// whole engine is deterministic: the same inputs always produce the same
// result.
package categorize

import (
	"fmt"
	"math"
	"strings"

	"github.com/lukavetter/vatlens/internal/model"
)

// Config holds the engine's tuning knobs. The tolerance and ceiling values
// are empirically chosen constants, kept configurable on purpose.
type Config struct {
	// Tolerance is the maximum difference between an itemized sum and a
	// stated total that still counts as agreement.
	Tolerance float64
	// SanityCeiling is the largest believable tax figure.
	SanityCeiling float64
	// VocabWindow is the character distance within which payment/lease
	// vocabulary disqualifies an amount.
	VocabWindow int
	// ExclusionVocabulary lists the payment/lease/installment words.
	ExclusionVocabulary []string
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		Tolerance:     0.02,
		SanityCeiling: 100000,
		VocabWindow:   60,
		ExclusionVocabulary: []string{
			"lease", "leasing", "rental", "rent due", "installment",
			"instalment", "payment due", "amount due", "monthly payment",
			"direct debit", "hire purchase", "finance charge",
		},
	}
}

// Engine assigns extracted amounts to sales or purchases and reconciles
// them against stated totals.
type Engine struct {
	cfg Config
}

// New creates a categorization engine, filling zero config values with
// defaults.
func New(cfg Config) *Engine {
	def := DefaultConfig()
	if cfg.Tolerance <= 0 {
		cfg.Tolerance = def.Tolerance
	}
	if cfg.SanityCeiling <= 0 {
		cfg.SanityCeiling = def.SanityCeiling
	}
	if cfg.VocabWindow <= 0 {
		cfg.VocabWindow = def.VocabWindow
	}
	if len(cfg.ExclusionVocabulary) == 0 {
		cfg.ExclusionVocabulary = def.ExclusionVocabulary
	}
	return &Engine{cfg: cfg}
}

// Input bundles everything the engine needs for one document.
type Input struct {
	Extraction *model.ParsedExtraction
	// DocText is the document's plain text, used for vocabulary proximity
	// checks. May be empty for vision-only extractions.
	DocText string
	Hint    model.CategoryHint
	// KnownBad lists amounts proven wrong by prior corrections.
	KnownBad []float64
}

// Categorize derives the categorized result for one extraction.
func (e *Engine) Categorize(in Input) *model.CategorizedResult {
	result := &model.CategorizedResult{
		Extraction: *in.Extraction,
	}

	candidates, itemized := e.candidateAmounts(in.Extraction)
	surviving := e.applyExclusions(candidates, in.DocText, in.KnownBad, result)

	classification, reasoning := e.assign(in.Extraction, in.DocText, in.Hint)
	result.Classification = classification
	result.Reasoning = reasoning

	if len(surviving) == 0 {
		result.AddFlag(model.FlagNoAmountsFound)
		return result
	}

	amounts := e.reconcile(surviving, itemized, in.Extraction.TaxTotal, result)

	switch classification {
	case model.ClassSales:
		result.SalesAmounts = amounts
	default:
		result.PurchaseAmounts = amounts
	}

	return result
}

// candidateAmounts returns the line-item tax amounts, or failing that the
// single stated tax total. The bool reports whether the amounts are
// itemized.
func (e *Engine) candidateAmounts(extraction *model.ParsedExtraction) ([]float64, bool) {
	if items := extraction.ItemTaxAmounts(); len(items) > 0 {
		return items, true
	}
	if extraction.TaxTotal != nil {
		return []float64{*extraction.TaxTotal}, false
	}
	return nil, false
}

// applyExclusions drops amounts that are known bad, above the sanity
// ceiling, or textually co-located with payment/lease vocabulary.
func (e *Engine) applyExclusions(candidates []float64, docText string, knownBad []float64, result *model.CategorizedResult) []float64 {
	var surviving []float64

	lowerText := strings.ToLower(docText)

	for _, amount := range candidates {
		switch {
		case e.isKnownBad(amount, knownBad):
			result.AddFlag(model.FlagExcludedKnownBad)
		case amount > e.cfg.SanityCeiling:
			result.AddFlag(model.FlagExcludedImplausible)
		case e.nearExclusionVocab(amount, lowerText):
			result.AddFlag(model.FlagExcludedSuspectedPay)
		default:
			surviving = append(surviving, amount)
		}
	}

	return surviving
}

func (e *Engine) isKnownBad(amount float64, knownBad []float64) bool {
	for _, bad := range knownBad {
		if math.Abs(amount-bad) < 0.005 {
			return true
		}
	}
	return false
}

// nearExclusionVocab reports whether the amount appears in the document
// text within the configured window of any exclusion word.
func (e *Engine) nearExclusionVocab(amount float64, lowerText string) bool {
	if lowerText == "" {
		return false
	}

	for _, rendering := range renderAmount(amount) {
		idx := 0
		for {
			pos := strings.Index(lowerText[idx:], rendering)
			if pos < 0 {
				break
			}
			pos += idx

			lo := pos - e.cfg.VocabWindow
			if lo < 0 {
				lo = 0
			}
			hi := pos + len(rendering) + e.cfg.VocabWindow
			if hi > len(lowerText) {
				hi = len(lowerText)
			}

			window := lowerText[lo:hi]
			for _, word := range e.cfg.ExclusionVocabulary {
				if strings.Contains(window, word) {
					return true
				}
			}

			idx = pos + len(rendering)
		}
	}

	return false
}

// renderAmount produces the textual forms an amount is likely to take in a
// document: point and comma decimal separators.
func renderAmount(amount float64) []string {
	point := fmt.Sprintf("%.2f", amount)
	comma := strings.ReplaceAll(point, ".", ",")
	return []string{point, comma}
}

// assign picks sales or purchases using, in priority order: the caller
// hint, document-type heuristics, the model's own classification, and
// finally a purchase default.
func (e *Engine) assign(extraction *model.ParsedExtraction, docText string, hint model.CategoryHint) (model.Classification, string) {
	switch hint {
	case model.HintSales:
		return model.ClassSales, "caller hint: sales"
	case model.HintPurchases:
		return model.ClassPurchases, "caller hint: purchases"
	}

	if extraction.DocType == model.DocTypeLease {
		return model.ClassPurchases, "document type heuristic: lease documents are purchases"
	}
	lowerText := strings.ToLower(docText)
	for _, word := range []string{"lease agreement", "hire purchase", "financial services", "loan agreement"} {
		if strings.Contains(lowerText, word) {
			return model.ClassPurchases, fmt.Sprintf("document vocabulary heuristic: %q", word)
		}
	}

	switch extraction.SuggestedClass {
	case model.ClassSales:
		return model.ClassSales, "model classification: sales"
	case model.ClassPurchases:
		return model.ClassPurchases, "model classification: purchases"
	}

	return model.ClassPurchases, "default: purchases"
}

// reconcile compares an itemized sum against the stated total. Agreement
// within tolerance collapses to the single total; a larger stated total
// supersedes the itemized values; a smaller one cannot be explained by
// missing line items, so both are retained for manual review.
func (e *Engine) reconcile(surviving []float64, itemized bool, statedTotal *float64, result *model.CategorizedResult) []float64 {
	if !itemized || len(surviving) <= 1 || statedTotal == nil {
		return surviving
	}

	sum := 0.0
	for _, amount := range surviving {
		sum += amount
	}

	stated := *statedTotal
	diff := math.Abs(sum - stated)

	if diff <= e.cfg.Tolerance {
		return []float64{stated}
	}

	if stated > sum && stated <= e.cfg.SanityCeiling {
		result.AddFlag(model.FlagMismatchResolvedByTotal)
		return []float64{stated}
	}

	result.AddFlag(model.FlagMismatchUnresolved)
	return surviving
}
