package docai

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lukavetter/vatlens/internal/model"
)

func TestRecover(t *testing.T) {
	t.Run("strict JSON parses without flags", func(t *testing.T) {
		raw := `{"document_type": "INVOICE", "tax_total": 111.36, "currency": "EUR"}`

		extraction, flags := Recover(raw, DefaultAmountCeiling)

		require.NotNil(t, extraction)
		assert.Empty(t, flags)
		assert.Equal(t, model.DocTypeInvoice, extraction.DocType)
		require.NotNil(t, extraction.TaxTotal)
		assert.InDelta(t, 111.36, *extraction.TaxTotal, 0.001)
		assert.True(t, extraction.ExplicitTotal)
	})

	t.Run("markdown fences are stripped", func(t *testing.T) {
		raw := "```json\n{\"document_type\": \"RECEIPT\", \"tax_total\": 5.20}\n```"

		extraction, flags := Recover(raw, DefaultAmountCeiling)

		require.NotNil(t, extraction)
		assert.Empty(t, flags)
		assert.Equal(t, model.DocTypeReceipt, extraction.DocType)
	})

	t.Run("balanced object extracted from chatter", func(t *testing.T) {
		raw := `Here is the extraction you asked for:
{"document_type": "INVOICE", "tax_total": 42.50, "business_name": "ACME {Group}"}
Let me know if you need anything else.`

		extraction, flags := Recover(raw, DefaultAmountCeiling)

		require.NotNil(t, extraction)
		require.Len(t, flags, 1)
		assert.Equal(t, model.FlagFallbackUsed, flags[0])
		require.NotNil(t, extraction.TaxTotal)
		assert.InDelta(t, 42.50, *extraction.TaxTotal, 0.001)
	})

	t.Run("braces inside string literals do not break extraction", func(t *testing.T) {
		raw := `prefix {"business_name": "A } B", "tax_total": 10.00} suffix`

		extraction, flags := Recover(raw, DefaultAmountCeiling)

		require.NotNil(t, extraction)
		require.Len(t, flags, 1)
		assert.Equal(t, "A } B", extraction.BusinessName)
	})

	t.Run("numeric fallback synthesizes a minimal structure", func(t *testing.T) {
		raw := `The total VAT appears to be 23.45 on a net of 117.25.`

		extraction, flags := Recover(raw, DefaultAmountCeiling)

		require.NotNil(t, extraction)
		require.Len(t, flags, 1)
		assert.Equal(t, model.FlagFallbackStructure, flags[0])
		assert.Empty(t, extraction.LineItems)
		require.NotNil(t, extraction.TaxTotal)
		assert.InDelta(t, 117.25, *extraction.TaxTotal, 0.001)
		assert.False(t, extraction.ExplicitTotal)
	})

	t.Run("no amounts means empty extraction, never a fabricated one", func(t *testing.T) {
		raw := `I could not read this document at all.`

		extraction, flags := Recover(raw, DefaultAmountCeiling)

		require.NotNil(t, extraction)
		require.Len(t, flags, 1)
		assert.Equal(t, model.FlagFallbackStructure, flags[0])
		assert.Nil(t, extraction.TaxTotal)
		assert.False(t, extraction.HasAmounts())
	})

	t.Run("fallback ignores integers and values above ceiling", func(t *testing.T) {
		raw := `Invoice 2024 page 3, amount due 9999999.99, VAT 12,50`

		extraction, flags := Recover(raw, DefaultAmountCeiling)

		require.Len(t, flags, 1)
		require.NotNil(t, extraction.TaxTotal)
		assert.InDelta(t, 12.50, *extraction.TaxTotal, 0.001)
	})
}

func TestBalancedObject(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		want   string
		wantOK bool
	}{
		{name: "plain object", input: `{"a":1}`, want: `{"a":1}`, wantOK: true},
		{name: "nested object", input: `x {"a":{"b":2}} y`, want: `{"a":{"b":2}}`, wantOK: true},
		{name: "no object", input: "nothing here", wantOK: false},
		{name: "unterminated", input: `{"a":1`, wantOK: false},
		{name: "escaped quote in string", input: `{"a":"\"}"}`, want: `{"a":"\"}"}`, wantOK: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := balancedObject(tt.input)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestDecodeNumericInvariant(t *testing.T) {
	t.Run("negative and absurd values are dropped not clamped", func(t *testing.T) {
		raw := `{
			"document_type": "INVOICE",
			"subtotal": -5.00,
			"tax_total": 2000000,
			"grand_total": 123.45,
			"line_items": [
				{"description": "widget", "tax_rate": 120, "tax_amount": -1.0, "line_total": 10.0}
			]
		}`

		extraction, flags := Recover(raw, DefaultAmountCeiling)

		require.NotNil(t, extraction)
		assert.Empty(t, flags)
		assert.Nil(t, extraction.Subtotal)
		assert.Nil(t, extraction.TaxTotal)
		require.NotNil(t, extraction.GrandTotal)
		assert.InDelta(t, 123.45, *extraction.GrandTotal, 0.001)

		require.Len(t, extraction.LineItems, 1)
		item := extraction.LineItems[0]
		assert.Nil(t, item.TaxRate)
		assert.Nil(t, item.TaxAmount)
		require.NotNil(t, item.LineTotal)
	})

	t.Run("document type confidence outside [0,1] is ignored", func(t *testing.T) {
		raw := `{"document_type": "RECEIPT", "document_type_confidence": 7.5}`

		extraction, _ := Recover(raw, DefaultAmountCeiling)
		assert.Zero(t, extraction.DocTypeConfidence)
	})

	t.Run("model classification is normalized", func(t *testing.T) {
		raw := `{"document_type": "INVOICE", "classification": "purchase"}`

		extraction, _ := Recover(raw, DefaultAmountCeiling)
		assert.Equal(t, model.ClassPurchases, extraction.SuggestedClass)
	})
}
