// Package extract orchestrates calls to the document-understanding service:
// ordered candidate models, bounded retries per model, media routing and the
// attempt log. It never invents success: when every model is exhausted the
// caller gets a TerminalFailure with the full history.
package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/lukavetter/vatlens/internal/common"
	"github.com/lukavetter/vatlens/internal/docai"
	"github.com/lukavetter/vatlens/internal/governor"
	"github.com/lukavetter/vatlens/internal/model"
	"github.com/lukavetter/vatlens/internal/service"
)

// maxRawResponseLog bounds how much raw model output the attempt log keeps.
const maxRawResponseLog = 2000

// ModelSpec names one candidate model and whether it accepts image payloads.
type ModelSpec struct {
	Name   string
	Vision bool
}

// Config holds the orchestrator's tuning knobs.
type Config struct {
	// Models are tried in order until one produces a usable response.
	Models []ModelSpec
	// AttemptsPerModel bounds retries of retryable failures per model.
	AttemptsPerModel int
	// CallTimeout is the hard per-call deadline.
	CallTimeout time.Duration
	// Instructions is the opaque prompt sent with every call.
	Instructions string
	// AmountCeiling is passed through to the response decoder.
	AmountCeiling float64
	MaxTokens     int
	Temperature   float64
}

// DefaultConfig returns the default orchestrator configuration.
func DefaultConfig() Config {
	return Config{
		Models: []ModelSpec{
			{Name: "vision-large", Vision: true},
			{Name: "vision-small", Vision: true},
		},
		AttemptsPerModel: 3,
		CallTimeout:      30 * time.Second,
		AmountCeiling:    docai.DefaultAmountCeiling,
	}
}

// Submitter is the slice of the governor the orchestrator needs.
type Submitter interface {
	Submit(ctx context.Context, req governor.Request) error
}

// Outcome is a successful orchestration: a best-effort extraction plus the
// degradation flags and the full attempt history.
type Outcome struct {
	Extraction *model.ParsedExtraction
	Flags      []model.ValidationFlag
	Method     model.ExtractionMethod
	Model      string
	// DocText is the plain text used for text-only calls; empty for vision.
	DocText  string
	Attempts []model.ExtractionAttempt
}

// Orchestrator drives the extraction state machine for one request at a time.
type Orchestrator struct {
	client docai.Client
	gov    Submitter
	text   service.TextExtractor
	logger *slog.Logger
	cfg    Config
}

// New creates an orchestrator, filling zero config values with defaults.
func New(cfg Config, client docai.Client, gov Submitter, text service.TextExtractor, logger *slog.Logger) *Orchestrator {
	def := DefaultConfig()
	if len(cfg.Models) == 0 {
		cfg.Models = def.Models
	}
	if cfg.AttemptsPerModel <= 0 {
		cfg.AttemptsPerModel = def.AttemptsPerModel
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = def.CallTimeout
	}
	if cfg.AmountCeiling <= 0 {
		cfg.AmountCeiling = def.AmountCeiling
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Orchestrator{
		cfg:    cfg,
		client: client,
		gov:    gov,
		text:   text,
		logger: logger,
	}
}

// Run extracts structured data from the request's document. docText may
// carry pre-extracted plain text; when empty and the media type is not an
// image, the orchestrator extracts it itself. On exhaustion it returns a
// *model.TerminalFailure carrying the attempt log.
func (o *Orchestrator) Run(ctx context.Context, req model.ExtractionRequest, docText string) (*Outcome, error) {
	vision := isImageMediaType(req.MediaType)

	if !vision && docText == "" {
		text, err := o.text.Extract(ctx, req.Document, req.MediaType)
		if err != nil {
			// No model can process a document we cannot read.
			return nil, &model.TerminalFailure{
				Reason: fmt.Sprintf("document unreadable: %v", err),
			}
		}
		docText = text
	}

	var attempts []model.ExtractionAttempt
	var lastErr error

	for _, spec := range o.cfg.Models {
		if vision && !spec.Vision {
			continue
		}

		raw, err := o.tryModel(ctx, spec, req, docText, vision, &attempts)
		if err == nil {
			return o.buildOutcome(spec, raw, docText, vision, attempts)
		}
		lastErr = err

		// Infrastructure refusals and cancellation are not a model's fault;
		// trying the next model would only make things worse.
		if errors.Is(err, common.ErrCircuitOpen) ||
			errors.Is(err, common.ErrQueueFull) ||
			errors.Is(err, context.Canceled) {
			return nil, err
		}

		o.logger.Warn("model exhausted, advancing",
			"request_id", req.ID,
			"model", spec.Name,
			"error", err)
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("%w: no model accepts %s", common.ErrUnsupportedMedia, req.MediaType)
	}
	return nil, &model.TerminalFailure{
		Reason:   fmt.Sprintf("all models exhausted: %v", lastErr),
		Attempts: attempts,
	}
}

// tryModel runs up to AttemptsPerModel attempts of one model under governor
// control, appending one attempt log entry per invocation.
func (o *Orchestrator) tryModel(ctx context.Context, spec ModelSpec, req model.ExtractionRequest, docText string, vision bool, attempts *[]model.ExtractionAttempt) (string, error) {
	var raw string

	err := o.gov.Submit(ctx, governor.Request{
		MaxAttempts: o.cfg.AttemptsPerModel,
		Cost:        len(req.Document),
		Fn: func(ctx context.Context) error {
			text, err := o.callOnce(ctx, spec, req, docText, vision, attempts)
			if err != nil {
				return err
			}
			raw = text
			return nil
		},
	})
	return raw, err
}

func (o *Orchestrator) callOnce(ctx context.Context, spec ModelSpec, req model.ExtractionRequest, docText string, vision bool, attempts *[]model.ExtractionAttempt) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, o.cfg.CallTimeout)
	defer cancel()

	extractReq := docai.ExtractRequest{
		Model:        spec.Name,
		Instructions: o.cfg.Instructions,
		MaxTokens:    o.cfg.MaxTokens,
		Temperature:  o.cfg.Temperature,
	}
	if vision {
		extractReq.Image = req.Document
		extractReq.ImageMediaType = req.MediaType
	} else {
		extractReq.Instructions = o.cfg.Instructions + "\n\nDocument text:\n" + docText
	}

	entry := model.ExtractionAttempt{
		StartedAt: time.Now(),
		Model:     spec.Name,
		Method:    methodFor(vision),
	}

	resp, err := o.client.Extract(callCtx, extractReq)
	entry.Duration = time.Since(entry.StartedAt)

	switch {
	case err == nil:
		entry.Outcome = model.OutcomeSuccess
		entry.RawResponse = truncate(resp.Text, maxRawResponseLog)
	case errors.Is(err, context.DeadlineExceeded):
		entry.Outcome = model.OutcomeTimeout
		entry.Error = err.Error()
	default:
		entry.Outcome = model.OutcomeError
		entry.Error = err.Error()
	}
	*attempts = append(*attempts, entry)

	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

func (o *Orchestrator) buildOutcome(spec ModelSpec, raw, docText string, vision bool, attempts []model.ExtractionAttempt) (*Outcome, error) {
	extraction, flags := docai.Recover(raw, o.cfg.AmountCeiling)

	method := methodFor(vision)
	for _, flag := range flags {
		if flag == model.FlagFallbackStructure {
			method = model.MethodFallback
		}
	}

	return &Outcome{
		Extraction: extraction,
		Flags:      flags,
		Method:     method,
		Model:      spec.Name,
		DocText:    docText,
		Attempts:   attempts,
	}, nil
}

func methodFor(vision bool) model.ExtractionMethod {
	if vision {
		return model.MethodVision
	}
	return model.MethodText
}

func isImageMediaType(mediaType string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(mediaType)), "image/")
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}
