package transcribe

import (
	"errors"
	"strings"
	"testing"
)

func TestNewClientRequiresAPIKey(t *testing.T) {
	client, err := NewClient("deepgram", "", "nova-2")
	if !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
	if client != nil {
		t.Fatalf("expected nil client, got %#v", client)
	}
}

func TestNewClientUnknownProvider(t *testing.T) {
	client, err := NewClient("acme", "key", "model")
	if err == nil {
		t.Fatal("expected error for unknown provider, got nil")
	}
	if client != nil {
		t.Fatalf("expected nil client, got %#v", client)
	}
	if !strings.Contains(err.Error(), "unknown transcription provider") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestIsoLanguage(t *testing.T) {
	tests := map[string]string{
		"pt-BR": "pt",
		"en_US": "en",
		"PT":    "pt",
		" es ":  "es",
		"":      "",
	}
	for in, want := range tests {
		if got := isoLanguage(in); got != want {
			t.Fatalf("isoLanguage(%q) = %q, want %q", in, got, want)
		}
	}
}
