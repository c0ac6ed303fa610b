package docai

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/lukavetter/vatlens/internal/model"
)

// decimalToken matches money-like decimal numbers in free text, with either
// comma or point as the decimal separator.
var decimalToken = regexp.MustCompile(`\d+(?:[.,]\d{1,2})`)

// Recover turns a raw service response into a ParsedExtraction, degrading
// gracefully: strict JSON parse first, then the first balanced {...}
// substring, then a decimal-token scan that synthesizes a minimal structure
// with only a best-guess total. Parse degradation is never a hard failure.
func Recover(raw string, ceiling float64) (*model.ParsedExtraction, []model.ValidationFlag) {
	content := cleanMarkdownWrapper(raw)

	if extraction, ok := decodeStrict(content, ceiling); ok {
		return extraction, nil
	}

	if candidate, ok := balancedObject(content); ok {
		if extraction, ok := decodeStrict(candidate, ceiling); ok {
			return extraction, []model.ValidationFlag{model.FlagFallbackUsed}
		}
	}

	extraction := synthesizeFromNumbers(raw, ceiling)
	return extraction, []model.ValidationFlag{model.FlagFallbackStructure}
}

func decodeStrict(content string, ceiling float64) (*model.ParsedExtraction, bool) {
	var wire wireExtraction
	if err := json.Unmarshal([]byte(content), &wire); err != nil {
		return nil, false
	}
	return wire.toModel(ceiling), true
}

// balancedObject returns the first balanced top-level {...} substring,
// respecting JSON string literals and escapes.
func balancedObject(content string) (string, bool) {
	start := strings.IndexByte(content, '{')
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false

	for i := start; i < len(content); i++ {
		c := content[i]

		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}

		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return content[start : i+1], true
			}
		}
	}

	return "", false
}

// synthesizeFromNumbers builds a minimal extraction from decimal tokens in
// the raw text: a best-guess total and zero line items. When nothing
// money-like is present the extraction stays empty rather than fabricating
// an amount.
func synthesizeFromNumbers(raw string, ceiling float64) *model.ParsedExtraction {
	extraction := &model.ParsedExtraction{
		DocType: model.DocTypeUnknown,
	}

	var best float64
	found := false
	for _, token := range decimalToken.FindAllString(raw, -1) {
		value, err := strconv.ParseFloat(strings.ReplaceAll(token, ",", "."), 64)
		if err != nil {
			continue
		}
		if value <= 0 || value > ceiling {
			continue
		}
		if value > best {
			best = value
			found = true
		}
	}

	if found {
		extraction.TaxTotal = &best
	}

	return extraction
}
