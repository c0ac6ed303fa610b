package model

import "time"

// Classification indicates which side of the ledger a document's amounts
// were assigned to.
type Classification string

// Classification constants.
const (
	ClassSales     Classification = "SALES"
	ClassPurchases Classification = "PURCHASES"
	ClassMixed     Classification = "MIXED"
)

// ValidationFlag tags a result with a non-fatal condition that downstream
// review may care about.
type ValidationFlag string

// Validation flag constants.
const (
	FlagNoAmountsFound          ValidationFlag = "NO_AMOUNTS_FOUND"
	FlagFallbackUsed            ValidationFlag = "FALLBACK_USED"
	FlagFallbackStructure       ValidationFlag = "FALLBACK_STRUCTURE"
	FlagExcludedSuspectedPay    ValidationFlag = "AMOUNT_EXCLUDED_SUSPECTED_PAYMENT"
	FlagExcludedKnownBad        ValidationFlag = "AMOUNT_EXCLUDED_KNOWN_BAD"
	FlagExcludedImplausible     ValidationFlag = "AMOUNT_EXCLUDED_IMPLAUSIBLE"
	FlagMismatchResolvedByTotal ValidationFlag = "MISMATCH_RESOLVED_BY_TOTAL"
	FlagMismatchUnresolved      ValidationFlag = "MISMATCH_UNRESOLVED"
)

// CategorizedResult is the final product of the pipeline for one document:
// the parsed extraction plus categorized amounts, a confidence score and any
// validation flags. It is derived deterministically from the extraction, the
// document text and the category hint.
type CategorizedResult struct {
	ProcessedAt     time.Time
	RequestID       string
	Extraction      ParsedExtraction
	Classification  Classification
	Reasoning       string
	SalesAmounts    []float64
	PurchaseAmounts []float64
	Flags           []ValidationFlag
	Confidence      float64
	Method          ExtractionMethod
	TemplateID      string
	Attempts        []ExtractionAttempt
}

// HasFlag reports whether the result carries the given validation flag.
func (r *CategorizedResult) HasFlag(flag ValidationFlag) bool {
	for _, f := range r.Flags {
		if f == flag {
			return true
		}
	}
	return false
}

// AddFlag appends a flag if it is not already present.
func (r *CategorizedResult) AddFlag(flag ValidationFlag) {
	if !r.HasFlag(flag) {
		r.Flags = append(r.Flags, flag)
	}
}
