package docai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lukavetter/vatlens/internal/common"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) Client {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient(Config{
		Provider: "openai",
		APIKey:   "test-key",
		BaseURL:  server.URL,
	})
	require.NoError(t, err)
	return client
}

func TestNewClientRequiresAPIKey(t *testing.T) {
	_, err := NewClient(Config{Provider: "openai"})
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrMissingConfig)
}

func TestNewClientUnsupportedProvider(t *testing.T) {
	_, err := NewClient(Config{Provider: "carrier-pigeon", APIKey: "k"})
	require.Error(t, err)
}

func TestExtract(t *testing.T) {
	t.Run("returns text and usage", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

			var body map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "vision-1", body["model"])

			_ = json.NewEncoder(w).Encode(map[string]any{
				"choices": []map[string]any{
					{"message": map[string]any{"role": "assistant", "content": `{"tax_total": 1.0}`}},
				},
				"usage": map[string]int{"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15},
			})
		})

		resp, err := client.Extract(context.Background(), ExtractRequest{
			Model:        "vision-1",
			Instructions: "extract",
		})

		require.NoError(t, err)
		assert.Equal(t, `{"tax_total": 1.0}`, resp.Text)
		assert.Equal(t, 15, resp.Usage.TotalTokens)
	})

	t.Run("image payload becomes a vision content part", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			var body struct {
				Messages []struct {
					Role    string          `json:"role"`
					Content json.RawMessage `json:"content"`
				} `json:"messages"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			require.Len(t, body.Messages, 2)

			var parts []contentPart
			require.NoError(t, json.Unmarshal(body.Messages[1].Content, &parts))
			require.Len(t, parts, 2)
			assert.Equal(t, "text", parts[0].Type)
			assert.Equal(t, "image_url", parts[1].Type)
			require.NotNil(t, parts[1].ImageURL)
			assert.Contains(t, parts[1].ImageURL.URL, "data:image/jpeg;base64,")

			_ = json.NewEncoder(w).Encode(map[string]any{
				"choices": []map[string]any{
					{"message": map[string]any{"content": "{}"}},
				},
			})
		})

		_, err := client.Extract(context.Background(), ExtractRequest{
			Model:          "vision-1",
			Instructions:   "extract",
			Image:          []byte{0xFF, 0xD8},
			ImageMediaType: "image/jpeg",
		})
		require.NoError(t, err)
	})

	t.Run("no choices is an error", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
			_ = json.NewEncoder(w).Encode(map[string]any{"choices": []any{}})
		})

		_, err := client.Extract(context.Background(), ExtractRequest{Model: "m"})
		require.Error(t, err)
	})
}

func TestExtractStatusMapping(t *testing.T) {
	tests := []struct {
		wantErr   error
		name      string
		status    int
		retryable bool
	}{
		{name: "unauthorized", status: http.StatusUnauthorized, wantErr: common.ErrAuthFailure, retryable: false},
		{name: "forbidden", status: http.StatusForbidden, wantErr: common.ErrAuthFailure, retryable: false},
		{name: "rate limited", status: http.StatusTooManyRequests, wantErr: common.ErrRateLimit, retryable: true},
		{name: "quota", status: http.StatusPaymentRequired, wantErr: common.ErrQuotaExceeded, retryable: true},
		{name: "server error", status: http.StatusInternalServerError, wantErr: common.ErrServerError, retryable: true},
		{name: "bad gateway", status: http.StatusBadGateway, wantErr: common.ErrServerError, retryable: true},
		{name: "bad request", status: http.StatusBadRequest, wantErr: common.ErrMalformedRequest, retryable: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"error": "nope"}`))
			})

			_, err := client.Extract(context.Background(), ExtractRequest{Model: "m"})
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, tt.retryable, common.IsRetryable(err))
		})
	}
}
