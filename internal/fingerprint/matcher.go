package fingerprint

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/lukavetter/vatlens/internal/model"
)

// Store is the slice of persistence the matcher needs.
type Store interface {
	GetAllFingerprints(ctx context.Context) ([]model.DocumentFingerprint, error)
	SaveFingerprint(ctx context.Context, fp *model.DocumentFingerprint) error
	GetActiveTemplates(ctx context.Context) ([]model.Template, error)
	SaveTemplate(ctx context.Context, tmpl *model.Template) error
	IncrementTemplateUseCount(ctx context.Context, id string) error
}

// Config holds the matcher's thresholds.
type Config struct {
	// MatchThreshold is the minimum similarity for reusing a stored
	// fingerprint and its templates.
	MatchThreshold float64
	// CreateThreshold is the minimum extraction confidence for synthesizing
	// a new template.
	CreateThreshold float64
}

// DefaultConfig returns the default matcher thresholds.
func DefaultConfig() Config {
	return Config{MatchThreshold: 0.6, CreateThreshold: 0.8}
}

// Resolution is the outcome of resolving a document's text against the
// store: the fingerprint it matched or created, and the best active template
// for that fingerprint, if any.
type Resolution struct {
	Fingerprint *model.DocumentFingerprint
	Template    *model.Template
	Score       float64
	Created     bool
}

// Matcher resolves document text to stored fingerprints and templates.
type Matcher struct {
	store  Store
	logger *slog.Logger
	cfg    Config
}

// NewMatcher creates a matcher backed by the given store.
func NewMatcher(cfg Config, store Store, logger *slog.Logger) *Matcher {
	def := DefaultConfig()
	if cfg.MatchThreshold <= 0 {
		cfg.MatchThreshold = def.MatchThreshold
	}
	if cfg.CreateThreshold <= 0 {
		cfg.CreateThreshold = def.CreateThreshold
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Matcher{cfg: cfg, store: store, logger: logger}
}

// Resolve fingerprints the text and matches it against the store. A match at
// or above the threshold reuses the stored fingerprint and bumps its use
// count; otherwise a fresh fingerprint is persisted.
func (m *Matcher) Resolve(ctx context.Context, text string) (*Resolution, error) {
	fp := Fingerprint(text)

	stored, err := m.store.GetAllFingerprints(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading fingerprints: %w", err)
	}

	var best *model.DocumentFingerprint
	bestScore := 0.0
	for i := range stored {
		if score := Similarity(fp, &stored[i]); score > bestScore {
			best = &stored[i]
			bestScore = score
		}
	}

	if best == nil || bestScore < m.cfg.MatchThreshold {
		fp.ID = uuid.NewString()
		fp.CreatedAt = time.Now()
		fp.UseCount = 1
		if err := m.store.SaveFingerprint(ctx, fp); err != nil {
			return nil, fmt.Errorf("saving fingerprint: %w", err)
		}

		m.logger.Debug("new fingerprint registered",
			"fingerprint_id", fp.ID,
			"patterns", len(fp.Patterns))
		return &Resolution{Fingerprint: fp, Created: true}, nil
	}

	best.UseCount++
	if err := m.store.SaveFingerprint(ctx, best); err != nil {
		return nil, fmt.Errorf("updating fingerprint: %w", err)
	}

	template, err := m.bestTemplate(ctx, best.ID)
	if err != nil {
		return nil, err
	}
	if template != nil {
		if err := m.store.IncrementTemplateUseCount(ctx, template.ID); err != nil {
			return nil, fmt.Errorf("updating template use count: %w", err)
		}
	}

	m.logger.Debug("fingerprint matched",
		"fingerprint_id", best.ID,
		"score", bestScore,
		"template_matched", template != nil)

	return &Resolution{Fingerprint: best, Template: template, Score: bestScore}, nil
}

// bestTemplate picks the active template for a fingerprint with the best
// track record.
func (m *Matcher) bestTemplate(ctx context.Context, fingerprintID string) (*model.Template, error) {
	templates, err := m.store.GetActiveTemplates(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading templates: %w", err)
	}

	var best *model.Template
	for i := range templates {
		tmpl := &templates[i]
		if tmpl.FingerprintID != fingerprintID {
			continue
		}
		if best == nil ||
			tmpl.SuccessRate > best.SuccessRate ||
			(tmpl.SuccessRate == best.SuccessRate && tmpl.UseCount > best.UseCount) {
			best = tmpl
		}
	}
	return best, nil
}

// Synthesize creates a template from a template-free extraction, provided the
// extraction's confidence clears the creation threshold. Returns nil when no
// template was created.
func (m *Matcher) Synthesize(ctx context.Context, fp *model.DocumentFingerprint, extraction *model.ParsedExtraction, confidence float64) (*model.Template, error) {
	if confidence <= m.cfg.CreateThreshold {
		return nil, nil
	}

	rules := inferRules(extraction)
	if len(rules) == 0 {
		return nil, nil
	}

	now := time.Now()
	tmpl := &model.Template{
		ID:            uuid.NewString(),
		Name:          templateName(extraction),
		FingerprintID: fp.ID,
		Rules:         rules,
		UseCount:      1,
		SuccessRate:   1.0,
		AvgConfidence: confidence,
		Active:        true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := m.store.SaveTemplate(ctx, tmpl); err != nil {
		return nil, fmt.Errorf("saving template: %w", err)
	}

	m.logger.Info("template synthesized",
		"template_id", tmpl.ID,
		"fingerprint_id", fp.ID,
		"rules", len(rules),
		"confidence", confidence)
	return tmpl, nil
}

// inferRules derives presence-based field rules from the fields the
// extraction actually filled.
func inferRules(extraction *model.ParsedExtraction) []model.TemplateRule {
	var rules []model.TemplateRule

	addString := func(field, value string) {
		if value != "" {
			rules = append(rules, model.TemplateRule{Field: field, Pattern: value})
		}
	}

	addString("business_name", extraction.BusinessName)
	addString("tax_id", extraction.TaxID)
	addString("currency", extraction.Currency)
	if extraction.Date != "" {
		rules = append(rules, model.TemplateRule{Field: "date", Pattern: "present"})
	}
	if extraction.TaxTotal != nil {
		rules = append(rules, model.TemplateRule{Field: "tax_total", Pattern: "present", Required: true})
	}
	if len(extraction.LineItems) > 0 {
		rules = append(rules, model.TemplateRule{Field: "line_items", Pattern: "present"})
	}

	return rules
}

func templateName(extraction *model.ParsedExtraction) string {
	if extraction.BusinessName != "" {
		return fmt.Sprintf("%s (%s)", extraction.BusinessName, extraction.DocType)
	}
	return string(extraction.DocType)
}
