package docai

import (
	"math"
	"strings"

	"github.com/lukavetter/vatlens/internal/model"
)

// DefaultAmountCeiling is the sanity ceiling above which a numeric field is
// considered absurd and dropped.
const DefaultAmountCeiling = 1_000_000

// wireExtraction is the strict optional-field record the service is asked to
// produce. Every numeric field is a pointer so absence survives decoding.
type wireExtraction struct {
	DocumentType      string         `json:"document_type"`
	DocTypeConfidence *float64       `json:"document_type_confidence"`
	BusinessName      string         `json:"business_name"`
	TaxID             string         `json:"tax_id"`
	Address           string         `json:"address"`
	Date              string         `json:"date"`
	Reference         string         `json:"reference"`
	Currency          string         `json:"currency"`
	Classification    string         `json:"classification"`
	LineItems         []wireLineItem `json:"line_items"`
	Subtotal          *float64       `json:"subtotal"`
	TaxTotal          *float64       `json:"tax_total"`
	GrandTotal        *float64       `json:"grand_total"`
}

type wireLineItem struct {
	Description string   `json:"description"`
	Quantity    *float64 `json:"quantity"`
	UnitPrice   *float64 `json:"unit_price"`
	TaxRate     *float64 `json:"tax_rate"`
	TaxAmount   *float64 `json:"tax_amount"`
	LineTotal   *float64 `json:"line_total"`
}

// toModel converts the wire record into the domain model, enforcing the
// numeric invariant: values that are negative, non-finite or above the
// ceiling are dropped, never clamped.
func (w *wireExtraction) toModel(ceiling float64) *model.ParsedExtraction {
	extraction := &model.ParsedExtraction{
		DocType:        parseDocType(w.DocumentType),
		BusinessName:   strings.TrimSpace(w.BusinessName),
		TaxID:          strings.TrimSpace(w.TaxID),
		Address:        strings.TrimSpace(w.Address),
		Date:           strings.TrimSpace(w.Date),
		Reference:      strings.TrimSpace(w.Reference),
		Currency:       strings.TrimSpace(w.Currency),
		SuggestedClass: parseClassification(w.Classification),
		Subtotal:       sanitizeAmount(w.Subtotal, ceiling),
		TaxTotal:       sanitizeAmount(w.TaxTotal, ceiling),
		GrandTotal:     sanitizeAmount(w.GrandTotal, ceiling),
	}

	if w.DocTypeConfidence != nil {
		conf := *w.DocTypeConfidence
		if !math.IsNaN(conf) && !math.IsInf(conf, 0) && conf >= 0 && conf <= 1 {
			extraction.DocTypeConfidence = conf
		}
	}

	extraction.ExplicitTotal = extraction.TaxTotal != nil

	for _, item := range w.LineItems {
		extraction.LineItems = append(extraction.LineItems, model.LineItem{
			Description: strings.TrimSpace(item.Description),
			Quantity:    sanitizeAmount(item.Quantity, ceiling),
			UnitPrice:   sanitizeAmount(item.UnitPrice, ceiling),
			TaxRate:     sanitizeRate(item.TaxRate),
			TaxAmount:   sanitizeAmount(item.TaxAmount, ceiling),
			LineTotal:   sanitizeAmount(item.LineTotal, ceiling),
		})
	}

	return extraction
}

func sanitizeAmount(v *float64, ceiling float64) *float64 {
	if v == nil {
		return nil
	}
	value := *v
	if math.IsNaN(value) || math.IsInf(value, 0) || value < 0 || value > ceiling {
		return nil
	}
	out := value
	return &out
}

// sanitizeRate keeps percentages in [0, 100].
func sanitizeRate(v *float64) *float64 {
	if v == nil {
		return nil
	}
	value := *v
	if math.IsNaN(value) || math.IsInf(value, 0) || value < 0 || value > 100 {
		return nil
	}
	out := value
	return &out
}

func parseDocType(raw string) model.DocumentType {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "INVOICE":
		return model.DocTypeInvoice
	case "RECEIPT":
		return model.DocTypeReceipt
	case "STATEMENT", "BANK_STATEMENT":
		return model.DocTypeStatement
	case "LEASE", "LEASE_AGREEMENT", "RENTAL":
		return model.DocTypeLease
	default:
		return model.DocTypeUnknown
	}
}

func parseClassification(raw string) model.Classification {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "SALES", "SALE", "INCOME":
		return model.ClassSales
	case "PURCHASES", "PURCHASE", "EXPENSE":
		return model.ClassPurchases
	case "MIXED":
		return model.ClassMixed
	default:
		return ""
	}
}
