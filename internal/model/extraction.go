package model

// DocumentType is the model's best guess at what kind of document was
// scanned. It is the other half of the calibration key.
type DocumentType string

// Document type constants.
const (
	DocTypeInvoice   DocumentType = "INVOICE"
	DocTypeReceipt   DocumentType = "RECEIPT"
	DocTypeStatement DocumentType = "STATEMENT"
	DocTypeLease     DocumentType = "LEASE"
	DocTypeUnknown   DocumentType = "UNKNOWN"
)

// LineItem is a single row on an invoice or receipt. All numeric fields are
// optional; nil means the model did not report the value or it failed the
// plausibility checks.
type LineItem struct {
	Description string
	Quantity    *float64
	UnitPrice   *float64
	TaxRate     *float64
	TaxAmount   *float64
	LineTotal   *float64
}

// ParsedExtraction is the best-effort structured decode of a model response.
// Invariant: every numeric field is either nil or finite and non-negative;
// implausible values are dropped during decoding, never clamped.
type ParsedExtraction struct {
	DocType           DocumentType
	DocTypeConfidence float64

	// Business identity, all optional.
	BusinessName string
	TaxID        string
	Address      string

	// Transaction fields, all optional.
	Date      string
	Reference string
	Currency  string

	// SuggestedClass is the model's own sales/purchases guess, consulted
	// only after the caller hint and document-type heuristics.
	SuggestedClass Classification

	LineItems []LineItem

	Subtotal   *float64
	TaxTotal   *float64
	GrandTotal *float64

	// ExplicitTotal is true when TaxTotal came from a stated field in the
	// response rather than being inferred by the fallback scanner.
	ExplicitTotal bool
}

// HasAmounts reports whether the extraction contains any tax-relevant
// monetary value at all.
func (p *ParsedExtraction) HasAmounts() bool {
	if p.TaxTotal != nil {
		return true
	}
	for _, item := range p.LineItems {
		if item.TaxAmount != nil {
			return true
		}
	}
	return false
}

// ItemTaxAmounts returns the tax amounts of all line items that carry one,
// in document order.
func (p *ParsedExtraction) ItemTaxAmounts() []float64 {
	var amounts []float64
	for _, item := range p.LineItems {
		if item.TaxAmount != nil {
			amounts = append(amounts, *item.TaxAmount)
		}
	}
	return amounts
}
