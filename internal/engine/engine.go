// Package engine wires the pipeline together: fingerprint resolution,
// orchestrated extraction, categorization, confidence scoring and template
// synthesis. One Process call is all-or-nothing with respect to its context;
// distinct requests may run in parallel.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lukavetter/vatlens/internal/categorize"
	"github.com/lukavetter/vatlens/internal/common"
	"github.com/lukavetter/vatlens/internal/confidence"
	"github.com/lukavetter/vatlens/internal/extract"
	"github.com/lukavetter/vatlens/internal/fingerprint"
	"github.com/lukavetter/vatlens/internal/model"
	"github.com/lukavetter/vatlens/internal/service"
)

// Extractor is the slice of the orchestrator the engine needs.
type Extractor interface {
	Run(ctx context.Context, req model.ExtractionRequest, docText string) (*extract.Outcome, error)
}

// Deps bundles the engine's collaborators.
type Deps struct {
	Orchestrator Extractor
	Matcher      *fingerprint.Matcher
	Categorizer  *categorize.Engine
	Scorer       *confidence.Scorer
	Store        service.Storage
	Text         service.TextExtractor
	Logger       *slog.Logger
}

// Engine is the caller-facing pipeline.
type Engine struct {
	deps Deps
}

// New creates an engine. All collaborators except Logger are required.
func New(deps Deps) (*Engine, error) {
	switch {
	case deps.Orchestrator == nil:
		return nil, fmt.Errorf("%w: orchestrator", common.ErrMissingConfig)
	case deps.Matcher == nil:
		return nil, fmt.Errorf("%w: matcher", common.ErrMissingConfig)
	case deps.Categorizer == nil:
		return nil, fmt.Errorf("%w: categorizer", common.ErrMissingConfig)
	case deps.Scorer == nil:
		return nil, fmt.Errorf("%w: scorer", common.ErrMissingConfig)
	case deps.Store == nil:
		return nil, fmt.Errorf("%w: store", common.ErrMissingConfig)
	case deps.Text == nil:
		return nil, fmt.Errorf("%w: text extractor", common.ErrMissingConfig)
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Engine{deps: deps}, nil
}

// Process runs the full pipeline for one document.
func (e *Engine) Process(ctx context.Context, req model.ExtractionRequest) (*model.CategorizedResult, error) {
	if len(req.Document) == 0 {
		return nil, fmt.Errorf("%w: empty document", common.ErrMalformedRequest)
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.Hint == "" {
		req.Hint = model.HintUnknown
	}

	logger := e.deps.Logger.With("request_id", req.ID)
	start := time.Now()

	// Text-bearing media is fingerprinted before any model call so a known
	// source's template can inform the result. Images carry no text yet.
	docText := ""
	var resolution *fingerprint.Resolution
	if !isImageMediaType(req.MediaType) {
		text, err := e.deps.Text.Extract(ctx, req.Document, req.MediaType)
		if err != nil {
			return nil, &model.TerminalFailure{
				Reason: fmt.Sprintf("document unreadable: %v", err),
			}
		}
		docText = text

		resolution, err = e.deps.Matcher.Resolve(ctx, docText)
		if err != nil {
			return nil, fmt.Errorf("resolving fingerprint: %w", err)
		}
	}

	outcome, err := e.deps.Orchestrator.Run(ctx, req, docText)
	if err != nil {
		return nil, err
	}

	knownBad, err := e.deps.Store.GetSuspectAmounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading suspect amounts: %w", err)
	}

	result := e.deps.Categorizer.Categorize(categorize.Input{
		Extraction: outcome.Extraction,
		DocText:    docText,
		Hint:       req.Hint,
		KnownBad:   knownBad,
	})

	result.RequestID = req.ID
	result.ProcessedAt = time.Now()
	result.Attempts = outcome.Attempts
	result.Method = outcome.Method
	for _, flag := range outcome.Flags {
		result.AddFlag(flag)
	}

	if resolution != nil && resolution.Template != nil {
		result.Method = model.MethodTemplate
		result.TemplateID = resolution.Template.ID
	}

	result.Confidence = e.deps.Scorer.Score(ctx, result)

	// A confident template-free extraction of a text document seeds a new
	// template for its fingerprint cluster.
	if resolution != nil && resolution.Template == nil {
		tmpl, err := e.deps.Matcher.Synthesize(ctx, resolution.Fingerprint, &result.Extraction, result.Confidence)
		if err != nil {
			return nil, fmt.Errorf("synthesizing template: %w", err)
		}
		if tmpl != nil {
			result.TemplateID = tmpl.ID
		}
	}

	logger.Info("document processed",
		"classification", result.Classification,
		"confidence", result.Confidence,
		"method", result.Method,
		"flags", len(result.Flags),
		"attempts", len(result.Attempts),
		"duration", time.Since(start))

	return result, nil
}

func isImageMediaType(mediaType string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(mediaType)), "image/")
}
