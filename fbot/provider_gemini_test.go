package fbot

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func geminiTestProvider(t *testing.T, handler http.HandlerFunc, keys ...string) *GeminiProvider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	if len(keys) == 0 {
		keys = []string{"test-key"}
	}
	return NewGeminiProvider(
		&GeminiConfig{APIKeys: keys, BaseURL: srv.URL},
		srv.Client(),
		slog.Default(),
	)
}

func geminiSuccessBody(text string) geminiGenerateResponse {
	return geminiGenerateResponse{
		Candidates: []geminiCandidate{
			{Content: geminiContent{Parts: []geminiPart{{Text: text}}}},
		},
	}
}

func TestGeminiGenerate(t *testing.T) {
	t.Parallel()
	provider := geminiTestProvider(
		t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(
				t,
				"/models/gemini-2.5-flash:generateContent",
				r.URL.Path,
			)
			assert.Equal(t, "test-key", r.URL.Query().Get("key"))

			var req geminiGenerateRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			require.Len(t, req.Contents, 1)
			require.Len(t, req.Contents[0].Parts, 1)
			assert.Equal(t, "what is two plus two", req.Contents[0].Parts[0].Text)

			_ = json.NewEncoder(w).Encode(geminiSuccessBody("four"))
		},
	)

	text, err := provider.Generate(
		context.Background(),
		"what is two plus two",
		"gemini-2.5-flash",
	)
	require.NoError(t, err)
	assert.Equal(t, "four", text)
}

func TestGeminiGenerateErrorEnvelope(t *testing.T) {
	t.Parallel()
	provider := geminiTestProvider(
		t, func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(
				geminiGenerateResponse{
					Error: &geminiAPIError{
						Code:    400,
						Message: "unknown model",
						Status:  "INVALID_ARGUMENT",
					},
				},
			)
		},
	)

	_, err := provider.Generate(context.Background(), "hi", "nope")
	var pe *ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, ErrorKindUpstream, pe.Kind)
	assert.Contains(t, pe.Message, "unknown model")
}

func TestGeminiGenerateAuthError(t *testing.T) {
	t.Parallel()
	provider := geminiTestProvider(
		t, func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusForbidden)
			_ = json.NewEncoder(w).Encode(
				geminiGenerateResponse{
					Error: &geminiAPIError{
						Code:    403,
						Message: "key not valid",
						Status:  "PERMISSION_DENIED",
					},
				},
			)
		},
	)

	_, err := provider.Generate(context.Background(), "hi", "gemini-2.5-flash")
	var pe *ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, ErrorKindAuth, pe.Kind)
}

func TestGeminiGenerateNoCandidates(t *testing.T) {
	t.Parallel()
	provider := geminiTestProvider(
		t, func(w http.ResponseWriter, _ *http.Request) {
			_ = json.NewEncoder(w).Encode(geminiGenerateResponse{})
		},
	)

	_, err := provider.Generate(context.Background(), "hi", "gemini-2.5-flash")
	var pe *ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, ErrorKindMalformedResponse, pe.Kind)
}

func TestGeminiGenerateEmptyText(t *testing.T) {
	t.Parallel()
	provider := geminiTestProvider(
		t, func(w http.ResponseWriter, _ *http.Request) {
			_ = json.NewEncoder(w).Encode(geminiSuccessBody("   "))
		},
	)

	_, err := provider.Generate(context.Background(), "hi", "gemini-2.5-flash")
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestGeminiGenerateRotatesKeysOnQuota(t *testing.T) {
	t.Parallel()
	var calls atomic.Int64
	provider := geminiTestProvider(
		t, func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			if r.URL.Query().Get("key") == "key-a" {
				w.WriteHeader(http.StatusTooManyRequests)
				_ = json.NewEncoder(w).Encode(
					geminiGenerateResponse{
						Error: &geminiAPIError{
							Code:    429,
							Message: "quota exceeded",
							Status:  "RESOURCE_EXHAUSTED",
						},
					},
				)
				return
			}
			_ = json.NewEncoder(w).Encode(geminiSuccessBody("rescued"))
		},
		"key-a", "key-b",
	)

	text, err := provider.Generate(context.Background(), "hi", "gemini-2.5-flash")
	require.NoError(t, err)
	assert.Equal(t, "rescued", text)
	assert.Equal(t, int64(2), calls.Load())
}

func TestGeminiGenerateSingleKeyQuotaFails(t *testing.T) {
	t.Parallel()
	var calls atomic.Int64
	provider := geminiTestProvider(
		t, func(w http.ResponseWriter, _ *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(
				geminiGenerateResponse{
					Error: &geminiAPIError{
						Code:    429,
						Message: "quota exceeded",
						Status:  "RESOURCE_EXHAUSTED",
					},
				},
			)
		},
	)

	_, err := provider.Generate(context.Background(), "hi", "gemini-2.5-flash")
	assert.True(t, IsQuotaError(err))
	assert.Equal(t, int64(1), calls.Load())
}

func TestGeminiGenerateTimeout(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(
		http.HandlerFunc(
			func(w http.ResponseWriter, _ *http.Request) {
				time.Sleep(500 * time.Millisecond)
				_ = json.NewEncoder(w).Encode(geminiSuccessBody("too late"))
			},
		),
	)
	t.Cleanup(srv.Close)

	provider := NewGeminiProvider(
		&GeminiConfig{
			APIKeys: []string{"test-key"},
			BaseURL: srv.URL,
			Timeout: 20 * time.Millisecond,
		},
		srv.Client(),
		slog.Default(),
	)

	_, err := provider.Generate(context.Background(), "hi", "gemini-2.5-flash")
	require.Error(t, err)
	var providerErr *ProviderError
	require.ErrorAs(t, err, &providerErr)
	assert.Equal(t, ErrorKindTimeout, providerErr.Kind)
}
