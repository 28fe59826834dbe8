// Package transcribe turns recorded answers into text through a hosted
// speech-to-text provider.
package transcribe

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotConfigured is returned when a provider has no API key.
	ErrNotConfigured = errors.New("transcription provider not configured")

	// ErrNoResult is returned when the provider answered without any
	// channel or alternative to read a transcript from. A transcript that
	// is present but empty (a silent recording) is not an error.
	ErrNoResult = errors.New("transcription returned no result")
)

type Client interface {
	Transcribe(ctx context.Context, audio []byte, language string) (string, error)
}

type Option func(*clientOptions)

type clientOptions struct {
	baseURL string
}

func WithBaseURL(url string) Option {
	return func(o *clientOptions) {
		o.baseURL = url
	}
}

func NewClient(provider, apiKey, model string, opts ...Option) (Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("%s: %w", provider, ErrNotConfigured)
	}

	o := &clientOptions{}
	for _, opt := range opts {
		opt(o)
	}

	switch provider {
	case "deepgram":
		return newDeepgramClient(apiKey, model, o)
	case "openai":
		return newOpenAIClient(apiKey, model, o)
	default:
		return nil, fmt.Errorf("unknown transcription provider %q: supported providers are deepgram, openai", provider)
	}
}

// isoLanguage reduces a BCP 47 tag such as pt-BR to its ISO-639-1 part.
func isoLanguage(tag string) string {
	tag = strings.TrimSpace(tag)
	if i := strings.IndexAny(tag, "-_"); i > 0 {
		tag = tag[:i]
	}
	return strings.ToLower(tag)
}
