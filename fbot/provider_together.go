package fbot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// TogetherProvider serves chat completions through the Together AI API,
// which speaks the OpenAI wire format.
type TogetherProvider struct {
	client  *openai.Client
	timeout time.Duration
	logger  *slog.Logger
}

// NewTogetherProvider creates a provider from config. A nil httpClient
// leaves the client's default transport in place.
func NewTogetherProvider(
	cfg *TogetherConfig,
	httpClient *http.Client,
	logger *slog.Logger,
) *TogetherProvider {
	if logger == nil {
		logger = slog.Default()
	}
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	clientConfig.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	if clientConfig.BaseURL == "" {
		clientConfig.BaseURL = DefaultTogetherBaseURL
	}
	if httpClient != nil {
		clientConfig.HTTPClient = httpClient
	}
	return &TogetherProvider{
		client:  openai.NewClientWithConfig(clientConfig),
		timeout: cfg.Timeout,
		logger:  logger.With(loggerNameKey, "together"),
	}
}

func (t *TogetherProvider) Name() string {
	return providerNameTogether
}

// Generate sends prompt to modelID and returns the first choice's content.
// Llama models require the structured content-part message format, other
// models take a plain string.
func (t *TogetherProvider) Generate(
	ctx context.Context,
	prompt string,
	modelID string,
) (string, error) {
	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}
	message := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser}
	if usesMultiContent(modelID) {
		message.MultiContent = []openai.ChatMessagePart{
			{Type: openai.ChatMessagePartTypeText, Text: prompt},
		}
	} else {
		message.Content = prompt
	}

	resp, err := t.client.CreateChatCompletion(
		ctx,
		openai.ChatCompletionRequest{
			Model:    modelID,
			Messages: []openai.ChatCompletionMessage{message},
		},
	)
	if err != nil {
		return "", t.classifyError(err)
	}
	if len(resp.Choices) == 0 {
		return "", &ProviderError{
			Kind:     ErrorKindMalformedResponse,
			Provider: t.Name(),
			Message:  "response contained no choices",
		}
	}
	content := resp.Choices[0].Message.Content
	if strings.TrimSpace(content) == "" {
		return "", ErrEmptyResponse
	}
	return content, nil
}

func usesMultiContent(modelID string) bool {
	return strings.HasPrefix(modelID, "meta-llama/")
}

func (t *TogetherProvider) classifyError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		kind := ErrorKindUpstream
		switch apiErr.HTTPStatusCode {
		case http.StatusTooManyRequests:
			kind = ErrorKindQuota
		case http.StatusUnauthorized, http.StatusForbidden:
			kind = ErrorKindAuth
		case http.StatusGatewayTimeout, http.StatusRequestTimeout:
			kind = ErrorKindTimeout
		}
		return &ProviderError{
			Kind:     kind,
			Provider: t.Name(),
			Message:  fmt.Sprintf("%v", apiErr.Message),
			Err:      err,
		}
	}
	kind := ErrorKindNetwork
	if errors.Is(err, context.DeadlineExceeded) {
		kind = ErrorKindTimeout
	}
	return &ProviderError{
		Kind:     kind,
		Provider: t.Name(),
		Message:  "request failed",
		Err:      err,
	}
}

var thinkBlockPattern = regexp.MustCompile(`(?s)<think>(.*?)</think>`)

// formatThinkBlockquote rewrites <think>...</think> reasoning traces into
// Discord small-text lines so they render as a muted preamble above the
// answer.
func formatThinkBlockquote(content string) string {
	return thinkBlockPattern.ReplaceAllStringFunc(
		content, func(match string) string {
			inner := thinkBlockPattern.FindStringSubmatch(match)[1]
			inner = strings.TrimSpace(inner)
			if inner == "" {
				return ""
			}
			lines := strings.Split(inner, "\n")
			for i, line := range lines {
				lines[i] = "-# " + strings.TrimSpace(line)
			}
			return strings.Join(lines, "\n") + "\n"
		},
	)
}
