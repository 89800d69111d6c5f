// Package mock provides a test double for the tts.Provider interface.
//
// Use Provider to return controlled audio to the narration layer and to
// verify which text, voice and language reached the TTS backend, in order.
//
// Example:
//
//	p := &mock.Provider{
//	    ProviderName:     "speechify",
//	    ListVoicesResult: []tts.Voice{{ID: "scott", Gender: "male"}},
//	}
//	audio, _ := p.Synthesize(ctx, tts.Request{Text: "hi", VoiceID: "scott"})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/mangavoice/pkg/audio"
	"github.com/MrWong99/mangavoice/pkg/provider/tts"
)

// DefaultFormat is the format of audio produced when SynthesizeFunc and
// SynthesizeResult are both unset.
var DefaultFormat = audio.Format{SampleRate: 16000, Channels: 1}

// SynthesizeCall records a single invocation of Synthesize.
type SynthesizeCall struct {
	// Ctx is the context passed to Synthesize.
	Ctx context.Context
	// Request is the request passed to Synthesize.
	Request tts.Request
}

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// ProviderName is returned by Name. Defaults to "mock".
	ProviderName string

	// SynthesizeFunc, if set, computes the response for each call and takes
	// precedence over SynthesizeResult and SynthesizeErr.
	SynthesizeFunc func(ctx context.Context, req tts.Request) (*tts.Audio, error)

	// SynthesizeResult is returned by Synthesize when non-nil.
	SynthesizeResult *tts.Audio

	// SynthesizeErr, if non-nil, is returned as the error from Synthesize.
	SynthesizeErr error

	// ListVoicesResult is returned by ListVoices.
	ListVoicesResult []tts.Voice

	// ListVoicesErr, if non-nil, is returned as the error from ListVoices.
	ListVoicesErr error

	// --- Call records ---

	// SynthesizeCalls records every call to Synthesize in order.
	SynthesizeCalls []SynthesizeCall

	// ListVoicesCalls counts calls to ListVoices.
	ListVoicesCalls int
}

// Name returns ProviderName, or "mock" when unset.
func (p *Provider) Name() string {
	if p.ProviderName == "" {
		return "mock"
	}
	return p.ProviderName
}

// Synthesize records the call and returns the configured response. With no
// configuration it returns 10ms of DefaultFormat PCM per character of text,
// so output length tracks input length.
func (p *Provider) Synthesize(ctx context.Context, req tts.Request) (*tts.Audio, error) {
	p.mu.Lock()
	p.SynthesizeCalls = append(p.SynthesizeCalls, SynthesizeCall{Ctx: ctx, Request: req})
	fn, result, err := p.SynthesizeFunc, p.SynthesizeResult, p.SynthesizeErr
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	if err != nil {
		return nil, err
	}
	if result != nil {
		return result, nil
	}
	bytesPerChar := DefaultFormat.BytesPerSecond() / 100
	return &tts.Audio{
		Data:   make([]byte, len(req.Text)*bytesPerChar),
		Format: DefaultFormat,
	}, nil
}

// ListVoices records the call and returns ListVoicesResult, ListVoicesErr.
func (p *Provider) ListVoices(_ context.Context) ([]tts.Voice, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ListVoicesCalls++
	return p.ListVoicesResult, p.ListVoicesErr
}

// Calls returns a snapshot of recorded Synthesize calls. Thread-safe.
func (p *Provider) Calls() []SynthesizeCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]SynthesizeCall, len(p.SynthesizeCalls))
	copy(out, p.SynthesizeCalls)
	return out
}

// Texts returns the Text of every recorded Synthesize call in call order.
func (p *Provider) Texts() []string {
	calls := p.Calls()
	out := make([]string, len(calls))
	for i, c := range calls {
		out[i] = c.Request.Text
	}
	return out
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SynthesizeCalls = nil
	p.ListVoicesCalls = 0
}

// Ensure Provider implements tts.Provider at compile time.
var _ tts.Provider = (*Provider)(nil)
