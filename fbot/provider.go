package fbot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrEmptyResponse indicates the provider answered successfully but with no
// usable text content.
var ErrEmptyResponse = errors.New("provider returned an empty response")

// ErrorKind classifies a provider failure for handling decisions such as
// API key rotation.
type ErrorKind string

const (
	ErrorKindAuth              ErrorKind = "auth"
	ErrorKindQuota             ErrorKind = "quota"
	ErrorKindTimeout           ErrorKind = "timeout"
	ErrorKindNetwork           ErrorKind = "network"
	ErrorKindMalformedResponse ErrorKind = "malformed_response"
	ErrorKindUpstream          ErrorKind = "upstream"
)

// ProviderError wraps a failure from an upstream AI provider with enough
// classification for the caller to decide how to react.
type ProviderError struct {
	Kind     ErrorKind
	Provider string
	Message  string
	Err      error
}

func (e *ProviderError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s: %s", e.Provider, e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Kind)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// IsQuotaError reports whether err is a provider failure classified as a
// quota or rate-limit exhaustion.
func IsQuotaError(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Kind == ErrorKindQuota
}

// Provider generates a completion for a prompt against a specific model.
type Provider interface {
	// Name identifies the provider in logs and error messages.
	Name() string

	// Generate sends prompt to modelID and returns the response text.
	// An empty successful response is reported as [ErrEmptyResponse].
	Generate(ctx context.Context, prompt string, modelID string) (string, error)
}

// keyRing cycles through a fixed set of API keys. Rotation happens when a
// request fails with a quota error, so a project with several keys can ride
// out per-key rate limits.
type keyRing struct {
	mu     sync.Mutex
	keys   []string
	index  int
	logger *slog.Logger
}

func newKeyRing(keys []string, logger *slog.Logger) *keyRing {
	if logger == nil {
		logger = slog.Default()
	}
	return &keyRing{keys: keys, logger: logger}
}

// Current returns the key requests should use right now.
func (k *keyRing) Current() string {
	k.mu.Lock()
	defer k.mu.Unlock()
	if len(k.keys) == 0 {
		return ""
	}
	return k.keys[k.index]
}

// Rotate advances to the next key and returns it. With a single key this is
// a logged no-op.
func (k *keyRing) Rotate() string {
	k.mu.Lock()
	defer k.mu.Unlock()
	if len(k.keys) == 0 {
		return ""
	}
	if len(k.keys) == 1 {
		k.logger.Warn("api key exhausted but no alternate keys configured")
		return k.keys[0]
	}
	k.index = (k.index + 1) % len(k.keys)
	k.logger.Info("rotated api key", "key_index", k.index, "key_count", len(k.keys))
	return k.keys[k.index]
}

func (k *keyRing) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.keys)
}

// modelRoute binds a chat command token to the provider and model that
// serve it, plus presentation details for the response embeds.
type modelRoute struct {
	// Command is the message prefix users type, e.g. "f.geminiflash".
	Command string

	// ModelID is the provider-side model identifier.
	ModelID string

	// DisplayName labels response embeds.
	DisplayName string

	// IconURL decorates the embed author line.
	IconURL string

	// ProviderName selects the provider from the bot's provider map.
	ProviderName string

	// Thinking enables the placeholder-then-edit delivery flow for
	// models with long generation times.
	Thinking bool

	// PostProcess optionally rewrites the raw model output before
	// chunking, e.g. reformatting reasoning traces.
	PostProcess func(string) string
}

const (
	providerNameGemini   = "gemini"
	providerNameTogether = "together"
)

// defaultModelRouteList is the closed set of chat commands the bot answers
// to, in presentation order. The usage card, the slash command choices and
// the status API all derive from this list.
func defaultModelRouteList() []modelRoute {
	return []modelRoute{
		{
			Command:      "f.geminipropreview",
			ModelID:      "gemini-3-pro-preview",
			DisplayName:  "Gemini 3 Pro Preview",
			IconURL:      geminiIconURL,
			ProviderName: providerNameGemini,
			Thinking:     true,
		},
		{
			Command:      "f.geminipro",
			ModelID:      "gemini-2.5-pro",
			DisplayName:  "Gemini 2.5 Pro",
			IconURL:      geminiIconURL,
			ProviderName: providerNameGemini,
			Thinking:     true,
		},
		{
			Command:      "f.geminiflash",
			ModelID:      "gemini-2.5-flash",
			DisplayName:  "Gemini 2.5 Flash",
			IconURL:      geminiIconURL,
			ProviderName: providerNameGemini,
		},
		{
			Command:      "f.llama",
			ModelID:      "meta-llama/Llama-4-Maverick-17B-128E-Instruct-FP8",
			DisplayName:  "Llama 4 Maverick",
			IconURL:      metaIconURL,
			ProviderName: providerNameTogether,
		},
		{
			Command:      "f.deepseek-r1",
			ModelID:      "deepseek-ai/DeepSeek-R1",
			DisplayName:  "DeepSeek R1",
			IconURL:      deepseekIconURL,
			ProviderName: providerNameTogether,
			PostProcess:  formatThinkBlockquote,
		},
	}
}

// defaultModelRoutes indexes the route list by command token.
func defaultModelRoutes() map[string]modelRoute {
	routes := defaultModelRouteList()
	table := make(map[string]modelRoute, len(routes))
	for _, r := range routes {
		table[r.Command] = r
	}
	return table
}

const (
	geminiIconURL   = "https://www.gstatic.com/lamda/images/gemini_sparkle_v002_d4735304ff6292a690345.svg"
	metaIconURL     = "https://upload.wikimedia.org/wikipedia/commons/a/ab/Meta-Logo.png"
	deepseekIconURL = "https://registry.npmmirror.com/@lobehub/icons-static-png/latest/files/dark/deepseek-color.png"
)
