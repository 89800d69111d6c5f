// Package speechify provides a Speechify-backed TTS provider using the
// Speechify REST API. It implements the tts.Provider interface.
package speechify

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/MrWong99/mangavoice/pkg/audio"
	"github.com/MrWong99/mangavoice/pkg/provider/tts"
)

const (
	providerName   = "speechify"
	defaultBaseURL = "https://api.sws.speechify.com"
	speechPath     = "/v1/audio/speech"
	voicesPath     = "/v1/voices"
	defaultTimeout = 60 * time.Second

	// ModelEnglish is the English-only model.
	ModelEnglish = "simba-english"
	// ModelMultilingual is used for every non-English locale.
	ModelMultilingual = "simba-multilingual"

	// baseRate is the speaking rate, in words per minute, that maps to 100%
	// prosody.
	baseRate = 150

	// maxErrorBody bounds how much of an error response is read.
	maxErrorBody = 4 << 10
)

// Option is a functional option for configuring the Speechify Provider.
type Option func(*Provider)

// WithBaseURL overrides the API endpoint (e.g. for tests or a proxy).
func WithBaseURL(u string) Option {
	return func(p *Provider) {
		p.baseURL = strings.TrimRight(u, "/")
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = c
	}
}

// WithModel pins the synthesis model instead of choosing it per language.
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
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

// Provider implements tts.Provider backed by the Speechify API.
type Provider struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	limiter    *rate.Limiter
}

var _ tts.Provider = (*Provider)(nil)

// New creates a new Speechify Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("speechify: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:     apiKey,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Name returns "speechify".
func (p *Provider) Name() string { return providerName }

// ---- Synthesis ----

type speechRequest struct {
	Input       string         `json:"input"`
	VoiceID     string         `json:"voice_id"`
	Language    string         `json:"language,omitempty"`
	Model       string         `json:"model,omitempty"`
	AudioFormat string         `json:"audio_format"`
	Options     *speechOptions `json:"options,omitempty"`
}

type speechOptions struct {
	LoudnessNormalization bool `json:"loudness_normalization"`
	TextNormalization     bool `json:"text_normalization"`
}

type speechResponse struct {
	AudioData               string `json:"audio_data"`
	AudioFormat             string `json:"audio_format"`
	BillableCharactersCount int    `json:"billable_characters_count"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Synthesize renders req as WAV through Speechify and returns the decoded PCM.
func (p *Provider) Synthesize(ctx context.Context, req tts.Request) (*tts.Audio, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, tts.ErrEmptyText
	}
	if req.VoiceID == "" {
		return nil, errors.New("speechify: voice ID must not be empty")
	}

	body := speechRequest{
		Input:       buildInput(req.Text, req.Rate),
		VoiceID:     req.VoiceID,
		Language:    req.Language,
		Model:       p.modelFor(req.Language),
		AudioFormat: "wav",
		Options: &speechOptions{
			LoudnessNormalization: true,
			TextNormalization:     true,
		},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("speechify: marshal request: %w", err)
	}

	var sr speechResponse
	if err := p.do(ctx, http.MethodPost, speechPath, payload, &sr); err != nil {
		return nil, err
	}
	if sr.AudioData == "" {
		return nil, &tts.Error{Provider: providerName, Message: "response contained no audio"}
	}

	raw, err := base64.StdEncoding.DecodeString(sr.AudioData)
	if err != nil {
		return nil, &tts.Error{Provider: providerName, Message: "decode audio_data", Cause: err}
	}
	format, pcm, err := audio.DecodeWAV(raw)
	if err != nil {
		return nil, &tts.Error{Provider: providerName, Message: "decode wav", Cause: err}
	}
	return &tts.Audio{Data: pcm, Format: format}, nil
}

// modelFor picks the model for a locale unless one was pinned.
func (p *Provider) modelFor(language string) string {
	if p.model != "" {
		return p.model
	}
	if isEnglish(language) {
		return ModelEnglish
	}
	return ModelMultilingual
}

func isEnglish(language string) bool {
	l := strings.ToLower(language)
	return l == "" || l == "en" || strings.HasPrefix(l, "en-")
}

// buildInput returns text unchanged at the base rate and wraps it in SSML
// prosody otherwise. SSML input must have its text XML-escaped.
func buildInput(text string, wpm int) string {
	if wpm <= 0 || wpm == baseRate {
		return text
	}
	pct := int(math.Round(float64(wpm) / baseRate * 100))
	var b strings.Builder
	fmt.Fprintf(&b, `<speak><prosody rate="%d%%">`, pct)
	_ = xml.EscapeText(&b, []byte(text))
	b.WriteString(`</prosody></speak>`)
	return b.String()
}

// ---- ListVoices ----

type voiceEntry struct {
	ID          string       `json:"id"`
	DisplayName string       `json:"display_name"`
	Gender      string       `json:"gender"`
	Locale      string       `json:"locale"`
	Type        string       `json:"type"`
	Tags        []string     `json:"tags"`
	Models      []voiceModel `json:"models"`
}

type voiceModel struct {
	Name      string `json:"name"`
	Languages []struct {
		Locale string `json:"locale"`
	} `json:"languages"`
}

// ListVoices returns every voice visible to the configured API key.
func (p *Provider) ListVoices(ctx context.Context) ([]tts.Voice, error) {
	var entries []voiceEntry
	if err := p.do(ctx, http.MethodGet, voicesPath, nil, &entries); err != nil {
		return nil, err
	}
	return toVoices(entries), nil
}

func toVoices(entries []voiceEntry) []tts.Voice {
	voices := make([]tts.Voice, 0, len(entries))
	for _, e := range entries {
		v := tts.Voice{
			ID:       e.ID,
			Name:     e.DisplayName,
			Provider: providerName,
			Gender:   e.Gender,
			Locale:   e.Locale,
			Tags:     e.Tags,
		}
		if e.Type != "" {
			v.Metadata = map[string]string{"type": e.Type}
		}
		for _, m := range e.Models {
			vm := tts.VoiceModel{Name: m.Name}
			for _, l := range m.Languages {
				vm.Locales = append(vm.Locales, l.Locale)
			}
			v.Models = append(v.Models, vm)
		}
		voices = append(voices, v)
	}
	return voices
}

// ---- transport ----

// do performs an authenticated JSON request and decodes the response into out.
func (p *Provider) do(ctx context.Context, method, path string, payload []byte, out any) error {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("speechify: rate limiter: %w", err)
		}
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("speechify: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return &tts.Error{Provider: providerName, Message: "request failed", Cause: err, Retryable: true}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return p.statusError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &tts.Error{Provider: providerName, Message: "decode response", Cause: err}
	}
	return nil
}

func (p *Provider) statusError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var er errorResponse
	msg := strings.TrimSpace(string(raw))
	if json.Unmarshal(raw, &er) == nil {
		if er.Message != "" {
			msg = er.Message
		} else if er.Error != "" {
			msg = er.Error
		}
	}
	return tts.StatusError(providerName, resp.StatusCode, msg)
}
