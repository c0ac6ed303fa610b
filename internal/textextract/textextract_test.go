package textextract

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lukavetter/vatlens/internal/common"
	"github.com/lukavetter/vatlens/internal/service"
)

var _ service.TextExtractor = (*Extractor)(nil)

func TestExtractPlainText(t *testing.T) {
	extractor := New(nil)
	ctx := context.Background()

	t.Run("passthrough", func(t *testing.T) {
		text, err := extractor.Extract(ctx, []byte("  VAT Total: 111.36\n"), "text/plain")
		require.NoError(t, err)
		assert.Equal(t, "VAT Total: 111.36", text)
	})

	t.Run("charset parameter is tolerated", func(t *testing.T) {
		text, err := extractor.Extract(ctx, []byte("hello"), "text/plain; charset=utf-8")
		require.NoError(t, err)
		assert.Equal(t, "hello", text)
	})

	t.Run("whitespace only is empty", func(t *testing.T) {
		_, err := extractor.Extract(ctx, []byte("   \n\t"), "text/plain")
		assert.ErrorIs(t, err, common.ErrDocumentEmpty)
	})
}

func TestExtractFailures(t *testing.T) {
	extractor := New(nil)
	ctx := context.Background()

	t.Run("no data", func(t *testing.T) {
		_, err := extractor.Extract(ctx, nil, "text/plain")
		assert.ErrorIs(t, err, common.ErrDocumentEmpty)
	})

	t.Run("unsupported media type", func(t *testing.T) {
		_, err := extractor.Extract(ctx, []byte("data"), "application/zip")
		assert.ErrorIs(t, err, common.ErrUnsupportedMedia)
	})

	t.Run("garbage pdf is corrupted", func(t *testing.T) {
		_, err := extractor.Extract(ctx, []byte("%PDF-1.4 not actually a pdf"), "application/pdf")
		assert.ErrorIs(t, err, common.ErrDocumentCorrupted)
	})

	t.Run("canceled context", func(t *testing.T) {
		canceled, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := extractor.Extract(canceled, []byte("data"), "text/plain")
		assert.ErrorIs(t, err, context.Canceled)
	})
}
