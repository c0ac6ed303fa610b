// Package fingerprint derives structural signatures from document text and
// matches them against stored fingerprints and templates. The signature
// abstracts away the variable content (amounts, dates, names) so that two
// documents from the same source hash the same way.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
	"unicode"

	"github.com/lukavetter/vatlens/internal/model"
)

const (
	maxPatterns = 32
	maxIdentity = 8
	headLines   = 8
)

var (
	vatIDPattern = regexp.MustCompile(`\b[A-Z]{2}[0-9A-Z]{8,12}\b`)
	emailPattern = regexp.MustCompile(`\b[\w.+-]+@[\w-]+\.[\w.]+\b`)
	columnSplit  = regexp.MustCompile(`\s{2,}`)
)

// Fingerprint computes the structural fingerprint of a document's text. The
// returned fingerprint has no ID; the matcher assigns one when persisting.
func Fingerprint(text string) *model.DocumentFingerprint {
	lines := nonEmptyLines(text)
	normalized := make([]string, len(lines))
	for i, line := range lines {
		normalized[i] = normalizeLine(line)
	}

	sum := sha256.Sum256([]byte(strings.Join(normalized, "\n")))

	return &model.DocumentFingerprint{
		Signature: hex.EncodeToString(sum[:]),
		Patterns:  recurringPatterns(normalized),
		Identity:  identityTokens(lines),
		Layout:    layoutFeatures(lines, normalized),
	}
}

// normalizeLine replaces digit runs with '#', uppercase runs with 'A' and
// lowercase runs with 'a', and collapses whitespace. Punctuation survives, so
// the line keeps its shape without its content.
func normalizeLine(line string) string {
	var b strings.Builder
	var last rune

	for _, r := range line {
		var mapped rune
		switch {
		case unicode.IsDigit(r):
			mapped = '#'
		case unicode.IsUpper(r):
			mapped = 'A'
		case unicode.IsLower(r):
			mapped = 'a'
		case unicode.IsSpace(r):
			mapped = ' '
		default:
			mapped = r
		}

		// Collapse runs of the shape placeholders and of spaces.
		if mapped == last && (mapped == '#' || mapped == 'A' || mapped == 'a' || mapped == ' ') {
			continue
		}
		b.WriteRune(mapped)
		last = mapped
	}

	return strings.TrimSpace(b.String())
}

func nonEmptyLines(text string) []string {
	var lines []string
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

// recurringPatterns returns the normalized line shapes that occur more than
// once, in first-appearance order.
func recurringPatterns(normalized []string) []string {
	counts := make(map[string]int, len(normalized))
	for _, line := range normalized {
		counts[line]++
	}

	var patterns []string
	seen := make(map[string]bool)
	for _, line := range normalized {
		if counts[line] < 2 || seen[line] {
			continue
		}
		seen[line] = true
		patterns = append(patterns, line)
		if len(patterns) == maxPatterns {
			break
		}
	}
	return patterns
}

// identityTokens extracts candidate business-identity strings: header lines
// with real words, VAT-style registration numbers and email addresses.
func identityTokens(lines []string) []string {
	var tokens []string
	seen := make(map[string]bool)

	add := func(token string) {
		token = strings.ToLower(strings.TrimSpace(token))
		if token == "" || seen[token] || len(tokens) >= maxIdentity {
			return
		}
		seen[token] = true
		tokens = append(tokens, token)
	}

	head := lines
	if len(head) > headLines {
		head = head[:headLines]
	}
	for _, line := range head {
		if letterCount(line) >= 3 && !strings.ContainsAny(line, "0123456789") {
			add(line)
		}
	}

	joined := strings.Join(lines, "\n")
	for _, match := range vatIDPattern.FindAllString(joined, maxIdentity) {
		add(match)
	}
	for _, match := range emailPattern.FindAllString(joined, maxIdentity) {
		add(match)
	}

	return tokens
}

func letterCount(s string) int {
	n := 0
	for _, r := range s {
		if unicode.IsLetter(r) {
			n++
		}
	}
	return n
}

func layoutFeatures(lines, normalized []string) model.LayoutFeatures {
	features := model.LayoutFeatures{LineCount: len(lines)}
	if len(lines) == 0 {
		return features
	}

	total := 0
	columns := 1
	for _, line := range lines {
		total += len(strings.TrimSpace(line))
		if c := len(columnSplit.Split(strings.TrimSpace(line), -1)); c > columns {
			columns = c
		}
	}

	features.LineDensity = float64(total) / float64(len(lines))
	features.ColumnCount = columns
	features.HeadLine = normalized[0]
	features.TailLine = normalized[len(normalized)-1]
	return features
}

// Similarity scores two fingerprints in [0, 1] as a weighted blend of hash
// equality, pattern overlap, identity overlap and layout agreement. Signals
// with no evidence on either side (neither fingerprint has patterns, say)
// drop out and the remaining weights are renormalized, so sparse documents
// are judged on what they do have. Identity carries more weight when both
// sides actually have identity tokens.
func Similarity(a, b *model.DocumentFingerprint) float64 {
	hashScore := 0.0
	if a.Signature != "" && a.Signature == b.Signature {
		hashScore = 1.0
	}

	identityWeight := 0.2
	if len(a.Identity) > 0 && len(b.Identity) > 0 {
		identityWeight = 0.3
	}

	score := 0.4 * hashScore
	total := 0.4

	if len(a.Patterns) > 0 || len(b.Patterns) > 0 {
		score += 0.3 * jaccard(a.Patterns, b.Patterns)
		total += 0.3
	}
	if len(a.Identity) > 0 || len(b.Identity) > 0 {
		score += identityWeight * jaccard(a.Identity, b.Identity)
		total += identityWeight
	}

	score += 0.1 * layoutScore(a.Layout, b.Layout)
	total += 0.1

	return score / total
}

func jaccard(a, b []string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}

	set := make(map[string]bool, len(a))
	for _, s := range a {
		set[s] = true
	}

	intersection := 0
	union := len(set)
	seen := make(map[string]bool, len(b))
	for _, s := range b {
		if seen[s] {
			continue
		}
		seen[s] = true
		if set[s] {
			intersection++
		} else {
			union++
		}
	}

	return float64(intersection) / float64(union)
}

func layoutScore(a, b model.LayoutFeatures) float64 {
	score := ratio(float64(a.LineCount), float64(b.LineCount))
	score += ratio(a.LineDensity, b.LineDensity)
	if a.ColumnCount == b.ColumnCount {
		score += 1
	}
	if a.HeadLine != "" && a.HeadLine == b.HeadLine {
		score += 1
	}
	if a.TailLine != "" && a.TailLine == b.TailLine {
		score += 1
	}
	return score / 5
}

func ratio(a, b float64) float64 {
	if a <= 0 || b <= 0 {
		return 0
	}
	if a > b {
		a, b = b, a
	}
	return a / b
}
