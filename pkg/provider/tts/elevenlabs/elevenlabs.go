// Package elevenlabs provides an ElevenLabs-backed TTS provider. Synthesis
// uses the REST text-to-speech endpoint by default, or the streaming
// WebSocket stream-input API when constructed with [WithStreaming]. It
// implements the tts.Provider interface.
package elevenlabs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/MrWong99/mangavoice/pkg/audio"
	"github.com/MrWong99/mangavoice/pkg/provider/tts"
)

const (
	providerName     = "elevenlabs"
	defaultBaseURL   = "https://api.elevenlabs.io"
	defaultWSBaseURL = "wss://api.elevenlabs.io"
	defaultModel     = "eleven_turbo_v2_5"
	defaultOutputFmt = "pcm_24000"
	defaultTimeout   = 60 * time.Second

	ttsPathFmt    = "/v1/text-to-speech/%s"
	streamPathFmt = "/v1/text-to-speech/%s/stream-input"
	voicesPath    = "/v1/voices"

	// baseRate is the speaking rate, in words per minute, that maps to speed 1.0.
	baseRate = 150
	minSpeed = 0.7
	maxSpeed = 1.2

	maxErrorBody = 4 << 10
)

// Option is a functional option for configuring the ElevenLabs Provider.
type Option func(*Provider)

// WithModel sets the ElevenLabs model ID (e.g., "eleven_turbo_v2_5").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithOutputFormat sets the PCM output format (e.g., "pcm_16000", "pcm_24000").
// Only pcm_* formats are accepted; [New] rejects anything else.
func WithOutputFormat(format string) Option {
	return func(p *Provider) {
		p.outputFormat = format
	}
}

// WithBaseURL overrides the REST endpoint.
func WithBaseURL(u string) Option {
	return func(p *Provider) {
		p.baseURL = strings.TrimRight(u, "/")
	}
}

// WithWebSocketURL overrides the WebSocket endpoint used in streaming mode.
func WithWebSocketURL(u string) Option {
	return func(p *Provider) {
		p.wsBaseURL = strings.TrimRight(u, "/")
	}
}

// WithHTTPClient sets a custom HTTP client for REST calls.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = c
	}
}

// WithStreaming switches Synthesize to the WebSocket stream-input API.
func WithStreaming(enabled bool) Option {
	return func(p *Provider) {
		p.streaming = enabled
	}
}

// WithRateLimit limits outgoing requests to rps per second with the given
// burst. rps <= 0 disables limiting.
func WithRateLimit(rps float64, burst int) Option {
	return func(p *Provider) {
		if rps <= 0 {
			p.limiter = nil
			return
		}
		if burst <= 0 {
			burst = 1
		}
		p.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// Provider implements tts.Provider backed by the ElevenLabs API.
type Provider struct {
	apiKey       string
	model        string
	outputFormat string
	format       audio.Format
	baseURL      string
	wsBaseURL    string
	streaming    bool
	httpClient   *http.Client
	limiter      *rate.Limiter
}

var _ tts.Provider = (*Provider)(nil)

// New creates a new ElevenLabs Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("elevenlabs: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:       apiKey,
		model:        defaultModel,
		outputFormat: defaultOutputFmt,
		baseURL:      defaultBaseURL,
		wsBaseURL:    defaultWSBaseURL,
		httpClient:   &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	f, err := parseOutputFormat(p.outputFormat)
	if err != nil {
		return nil, err
	}
	p.format = f
	return p, nil
}

// Name returns "elevenlabs".
func (p *Provider) Name() string { return providerName }

// parseOutputFormat maps "pcm_<rate>" to a mono PCM format.
func parseOutputFormat(s string) (audio.Format, error) {
	rateStr, ok := strings.CutPrefix(s, "pcm_")
	if !ok {
		return audio.Format{}, fmt.Errorf("elevenlabs: output format %q is not supported; use pcm_<rate>", s)
	}
	sr, err := strconv.Atoi(rateStr)
	if err != nil || sr <= 0 {
		return audio.Format{}, fmt.Errorf("elevenlabs: invalid sample rate in output format %q", s)
	}
	return audio.Format{SampleRate: sr, Channels: 1}, nil
}

// voiceSettings mirrors the ElevenLabs voice_settings object.
type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Style           float64 `json:"style,omitempty"`
	UseSpeakerBoost bool    `json:"use_speaker_boost,omitempty"`
	Speed           float64 `json:"speed,omitempty"`
}

func defaultVoiceSettings(wpm int) *voiceSettings {
	return &voiceSettings{
		Stability:       0.2,
		SimilarityBoost: 0.8,
		Style:           0.4,
		UseSpeakerBoost: true,
		Speed:           speedFor(wpm),
	}
}

// speedFor maps words per minute onto the ElevenLabs speed range.
func speedFor(wpm int) float64 {
	if wpm <= 0 {
		return 1.0
	}
	s := float64(wpm) / baseRate
	if s < minSpeed {
		return minSpeed
	}
	if s > maxSpeed {
		return maxSpeed
	}
	return s
}

// languageCode reduces a locale such as "fr-FR" to its ISO 639-1 code.
func languageCode(locale string) string {
	code, _, _ := strings.Cut(locale, "-")
	return strings.ToLower(code)
}

// Synthesize renders req through ElevenLabs and returns raw PCM in the
// configured output format.
func (p *Provider) Synthesize(ctx context.Context, req tts.Request) (*tts.Audio, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, tts.ErrEmptyText
	}
	if req.VoiceID == "" {
		return nil, errors.New("elevenlabs: voice ID must not be empty")
	}
	if err := p.wait(ctx); err != nil {
		return nil, err
	}
	var (
		pcm []byte
		err error
	)
	if p.streaming {
		pcm, err = p.synthesizeStream(ctx, req)
	} else {
		pcm, err = p.synthesizeREST(ctx, req)
	}
	if err != nil {
		return nil, err
	}
	return &tts.Audio{Data: pcm, Format: p.format}, nil
}

// ---- REST ----

type convertRequest struct {
	Text          string         `json:"text"`
	ModelID       string         `json:"model_id,omitempty"`
	LanguageCode  string         `json:"language_code,omitempty"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
}

type errorResponse struct {
	Detail struct {
		Status  string `json:"status"`
		Message string `json:"message"`
	} `json:"detail"`
}

func (p *Provider) synthesizeREST(ctx context.Context, req tts.Request) ([]byte, error) {
	body, err := json.Marshal(convertRequest{
		Text:          req.Text,
		ModelID:       p.model,
		LanguageCode:  languageCode(req.Language),
		VoiceSettings: defaultVoiceSettings(req.Rate),
	})
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: marshal request: %w", err)
	}

	endpoint := p.baseURL + fmt.Sprintf(ttsPathFmt, url.PathEscape(req.VoiceID)) +
		"?output_format=" + url.QueryEscape(p.outputFormat)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: build request: %w", err)
	}
	httpReq.Header.Set("xi-api-key", p.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "audio/pcm")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, &tts.Error{Provider: providerName, Message: "request failed", Cause: err, Retryable: true}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp)
	}
	pcm, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &tts.Error{Provider: providerName, Message: "read audio", Cause: err, Retryable: true}
	}
	if len(pcm) == 0 {
		return nil, &tts.Error{Provider: providerName, Message: "response contained no audio"}
	}
	return pcm, nil
}

func statusError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	msg := strings.TrimSpace(string(raw))
	var er errorResponse
	if json.Unmarshal(raw, &er) == nil && er.Detail.Message != "" {
		msg = er.Detail.Message
	}
	return tts.StatusError(providerName, resp.StatusCode, msg)
}

// ---- ListVoices ----

// voicesResponse is the top-level response from GET /v1/voices.
type voicesResponse struct {
	Voices []elevenLabsVoice `json:"voices"`
}

// elevenLabsVoice is a single voice entry from the ElevenLabs API.
type elevenLabsVoice struct {
	VoiceID  string            `json:"voice_id"`
	Name     string            `json:"name"`
	Category string            `json:"category"`
	Labels   map[string]string `json:"labels"`
}

// ListVoices returns all voices available from ElevenLabs for the configured API key.
func (p *Provider) ListVoices(ctx context.Context) ([]tts.Voice, error) {
	if err := p.wait(ctx); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+voicesPath, nil)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: list voices: %w", err)
	}
	req.Header.Set("xi-api-key", p.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, &tts.Error{Provider: providerName, Message: "list voices request failed", Cause: err, Retryable: true}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &tts.Error{Provider: providerName, Message: "read voices response", Cause: err, Retryable: true}
	}
	voices, err := parseVoicesResponse(body)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: list voices decode: %w", err)
	}
	return voices, nil
}

// parseVoicesResponse parses a raw /v1/voices body into voices.
func parseVoicesResponse(data []byte) ([]tts.Voice, error) {
	var vr voicesResponse
	if err := json.Unmarshal(data, &vr); err != nil {
		return nil, err
	}
	return toVoices(vr.Voices), nil
}

// toVoices maps ElevenLabs entries onto catalogue voices. The gender label is
// lifted into Voice.Gender; all labels plus the category remain in Metadata.
// ElevenLabs does not report a locale per voice.
func toVoices(in []elevenLabsVoice) []tts.Voice {
	voices := make([]tts.Voice, 0, len(in))
	for _, v := range in {
		meta := make(map[string]string, len(v.Labels)+1)
		for k, val := range v.Labels {
			meta[k] = val
		}
		if v.Category != "" {
			meta["category"] = v.Category
		}
		voices = append(voices, tts.Voice{
			ID:       v.VoiceID,
			Name:     v.Name,
			Provider: providerName,
			Gender:   v.Labels["gender"],
			Metadata: meta,
		})
	}
	return voices
}

func (p *Provider) wait(ctx context.Context) error {
	if p.limiter == nil {
		return nil
	}
	if err := p.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("elevenlabs: rate limiter: %w", err)
	}
	return nil
}
