// Package textextract converts non-image documents into plain text for
// text-only extraction calls and for fingerprinting.
package textextract

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/lukavetter/vatlens/internal/common"
)

// Extractor turns raw document bytes into plain text.
type Extractor struct {
	logger *slog.Logger
}

// New creates a text extractor.
func New(logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{logger: logger}
}

// Extract converts the document to plain text, or returns a typed failure:
// ErrDocumentEmpty, ErrDocumentEncrypted, ErrDocumentCorrupted or
// ErrUnsupportedMedia.
func (e *Extractor) Extract(ctx context.Context, data []byte, mediaType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(data) == 0 {
		return "", common.ErrDocumentEmpty
	}

	switch baseMediaType(mediaType) {
	case "text/plain":
		text := strings.TrimSpace(string(data))
		if text == "" {
			return "", common.ErrDocumentEmpty
		}
		return text, nil
	case "application/pdf":
		return e.extractPDF(data)
	default:
		return "", fmt.Errorf("%w: %s", common.ErrUnsupportedMedia, mediaType)
	}
}

func baseMediaType(mediaType string) string {
	if idx := strings.IndexByte(mediaType, ';'); idx >= 0 {
		mediaType = mediaType[:idx]
	}
	return strings.ToLower(strings.TrimSpace(mediaType))
}

func (e *Extractor) extractPDF(data []byte) (text string, err error) {
	// The PDF library panics on some malformed inputs.
	defer func() {
		if r := recover(); r != nil {
			e.logger.Warn("pdf parser panicked", "panic", r)
			text, err = "", fmt.Errorf("%w: pdf parser failure", common.ErrDocumentCorrupted)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "encrypted") {
			return "", fmt.Errorf("%w: %v", common.ErrDocumentEncrypted, err)
		}
		return "", fmt.Errorf("%w: %v", common.ErrDocumentCorrupted, err)
	}

	plain, err := reader.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("%w: %v", common.ErrDocumentCorrupted, err)
	}

	var b strings.Builder
	if _, err := io.Copy(&b, plain); err != nil {
		return "", fmt.Errorf("%w: %v", common.ErrDocumentCorrupted, err)
	}

	result := strings.TrimSpace(b.String())
	if result == "" {
		return "", common.ErrDocumentEmpty
	}
	return result, nil
}
