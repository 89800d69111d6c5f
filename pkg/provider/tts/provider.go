// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider wraps a cloud speech synthesis service (Speechify,
// ElevenLabs) and presents a uniform request/response interface: one call
// turns one piece of text into one block of raw 16-bit PCM. Script-level
// concerns such as voice selection by role, fallback between providers and
// file output live above this package.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"

	"github.com/MrWong99/mangavoice/pkg/audio"
)

// Provider is the abstraction over any TTS backend.
//
// Implementations must be safe for concurrent use. Multiple synthesis requests
// may run in parallel when a script is rendered with concurrency > 1.
type Provider interface {
	// Name returns the stable provider identifier (e.g. "speechify").
	Name() string

	// Synthesize renders req.Text with the requested voice, rate and language
	// and returns the complete audio. The returned Audio always carries raw
	// little-endian 16-bit PCM together with its format.
	//
	// Errors from the remote service should be returned as *Error so callers
	// can inspect status and retryability.
	Synthesize(ctx context.Context, req Request) (*Audio, error)

	// ListVoices returns the provider's voice catalogue. The list reflects the
	// service's current state and may change between calls.
	ListVoices(ctx context.Context) ([]Voice, error)
}

// Request is a single synthesis call.
type Request struct {
	// Text is the text to speak. Must be non-empty.
	Text string

	// VoiceID is the provider-specific voice identifier.
	VoiceID string

	// Language is a locale code such as "en-US" or "ja-JP".
	Language string

	// Rate is the target speaking rate in words per minute. Zero means the
	// provider's natural rate.
	Rate int
}

// Audio is the result of a synthesis call.
type Audio struct {
	// Data is raw little-endian 16-bit PCM.
	Data []byte

	// Format describes Data.
	Format audio.Format
}

// Voice is a read-only voice catalogue entry.
type Voice struct {
	// ID is the provider-specific voice identifier.
	ID string `json:"id"`

	// Name is the human-readable voice name.
	Name string `json:"name"`

	// Provider identifies which TTS provider this voice belongs to.
	Provider string `json:"provider"`

	// Gender is the voice gender as reported by the provider ("male",
	// "female", "notSpecified", ...). Empty when unknown.
	Gender string `json:"gender,omitempty"`

	// Locale is the voice's primary locale. Empty when unknown.
	Locale string `json:"locale,omitempty"`

	// Tags are free-form descriptors such as "timbre:deep".
	Tags []string `json:"tags,omitempty"`

	// Models lists the synthesis models that can render this voice.
	Models []VoiceModel `json:"models,omitempty"`

	// Metadata holds provider-specific attributes (accent, category, age...).
	Metadata map[string]string `json:"metadata,omitempty"`
}

// VoiceModel is a synthesis model available for a voice.
type VoiceModel struct {
	Name    string   `json:"name"`
	Locales []string `json:"locales,omitempty"`
}
