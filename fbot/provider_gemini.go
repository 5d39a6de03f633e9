package fbot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// GeminiProvider talks to the Google Generative Language REST API directly.
type GeminiProvider struct {
	baseURL    string
	keys       *keyRing
	timeout    time.Duration
	httpClient *http.Client
	logger     *slog.Logger
}

// NewGeminiProvider creates a provider from config. A nil httpClient falls
// back to [http.DefaultClient].
func NewGeminiProvider(
	cfg *GeminiConfig,
	httpClient *http.Client,
	logger *slog.Logger,
) *GeminiProvider {
	if logger == nil {
		logger = slog.Default()
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	logger = logger.With(loggerNameKey, "gemini")
	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultGeminiBaseURL
	}
	return &GeminiProvider{
		baseURL:    baseURL,
		keys:       newKeyRing(cfg.APIKeys, logger),
		timeout:    cfg.Timeout,
		httpClient: httpClient,
		logger:     logger,
	}
}

func (g *GeminiProvider) Name() string {
	return providerNameGemini
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiGenerateRequest struct {
	Contents []geminiContent `json:"contents"`
}

type geminiCandidate struct {
	Content geminiContent `json:"content"`
}

type geminiGenerateResponse struct {
	Candidates []geminiCandidate `json:"candidates"`
	Error      *geminiAPIError   `json:"error"`
}

type geminiAPIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

// Generate sends prompt to modelID. Quota failures rotate through the
// configured API keys before giving up.
func (g *GeminiProvider) Generate(
	ctx context.Context,
	prompt string,
	modelID string,
) (string, error) {
	attempts := g.keys.Len()
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		text, err := g.generateOnce(ctx, prompt, modelID, g.keys.Current())
		if err == nil {
			return text, nil
		}
		lastErr = err
		if !IsQuotaError(err) {
			return "", err
		}
		g.logger.Warn(
			"quota exhausted for current api key",
			"model", modelID,
			"attempt", attempt+1,
			"error", err,
		)
		g.keys.Rotate()
	}
	return "", lastErr
}

func (g *GeminiProvider) generateOnce(
	ctx context.Context,
	prompt string,
	modelID string,
	apiKey string,
) (string, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}
	payload := geminiGenerateRequest{
		Contents: []geminiContent{{Parts: []geminiPart{{Text: prompt}}}},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("error marshaling request: %w", err)
	}

	endpoint := fmt.Sprintf(
		"%s/models/%s:generateContent?key=%s",
		g.baseURL,
		modelID,
		apiKey,
	)
	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		endpoint,
		bytes.NewReader(body),
	)
	if err != nil {
		return "", fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		kind := ErrorKindNetwork
		if errors.Is(err, context.DeadlineExceeded) {
			kind = ErrorKindTimeout
		}
		return "", &ProviderError{
			Kind:     kind,
			Provider: g.Name(),
			Message:  "request failed",
			Err:      err,
		}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &ProviderError{
			Kind:     ErrorKindNetwork,
			Provider: g.Name(),
			Message:  "error reading response body",
			Err:      err,
		}
	}

	var parsed geminiGenerateResponse
	if err = json.Unmarshal(respBody, &parsed); err != nil {
		return "", &ProviderError{
			Kind:     ErrorKindMalformedResponse,
			Provider: g.Name(),
			Message: fmt.Sprintf(
				"invalid response json (status %d)",
				resp.StatusCode,
			),
			Err: err,
		}
	}

	if resp.StatusCode != http.StatusOK || parsed.Error != nil {
		return "", g.classifyError(resp.StatusCode, parsed.Error)
	}

	if len(parsed.Candidates) == 0 ||
		len(parsed.Candidates[0].Content.Parts) == 0 {
		return "", &ProviderError{
			Kind:     ErrorKindMalformedResponse,
			Provider: g.Name(),
			Message:  "response contained no candidates",
		}
	}
	text := parsed.Candidates[0].Content.Parts[0].Text
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

func (g *GeminiProvider) classifyError(
	statusCode int,
	apiErr *geminiAPIError,
) *ProviderError {
	message := fmt.Sprintf("http status %d", statusCode)
	status := ""
	if apiErr != nil {
		if apiErr.Message != "" {
			message = apiErr.Message
		}
		status = apiErr.Status
	}

	kind := ErrorKindUpstream
	switch {
	case statusCode == http.StatusTooManyRequests ||
		status == "RESOURCE_EXHAUSTED":
		kind = ErrorKindQuota
	case statusCode == http.StatusUnauthorized ||
		statusCode == http.StatusForbidden ||
		status == "PERMISSION_DENIED" ||
		status == "UNAUTHENTICATED":
		kind = ErrorKindAuth
	case statusCode == http.StatusGatewayTimeout ||
		status == "DEADLINE_EXCEEDED":
		kind = ErrorKindTimeout
	}
	return &ProviderError{
		Kind:     kind,
		Provider: g.Name(),
		Message:  message,
	}
}
