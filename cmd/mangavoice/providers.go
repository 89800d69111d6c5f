package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/MrWong99/mangavoice/internal/config"
	"github.com/MrWong99/mangavoice/internal/narration"
	"github.com/MrWong99/mangavoice/internal/observe"
	"github.com/MrWong99/mangavoice/internal/resilience"
	"github.com/MrWong99/mangavoice/pkg/provider/tts"
	"github.com/MrWong99/mangavoice/pkg/provider/tts/elevenlabs"
	"github.com/MrWong99/mangavoice/pkg/provider/tts/speechify"
)

// providerTimeout bounds a single provider HTTP call.
const providerTimeout = 60 * time.Second

// newRegistry returns a registry with both built-in TTS backends.
func newRegistry() *config.Registry {
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)
	return reg
}

// tracedClient returns an HTTP client whose requests carry client spans.
func tracedClient(provider string) *http.Client {
	return &http.Client{
		Timeout: providerTimeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport,
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				return provider + " " + r.Method + " " + r.URL.Path
			}),
		),
	}
}

func registerBuiltinProviders(reg *config.Registry) {
	reg.RegisterTTS(config.ProviderSpeechify, func(entry config.ProviderEntry) (tts.Provider, error) {
		opts := []speechify.Option{speechify.WithHTTPClient(tracedClient(entry.Name))}
		if entry.BaseURL != "" {
			opts = append(opts, speechify.WithBaseURL(entry.BaseURL))
		}
		if entry.Model != "" {
			opts = append(opts, speechify.WithModel(entry.Model))
		}
		if entry.RateLimit > 0 {
			opts = append(opts, speechify.WithRateLimit(entry.RateLimit, entry.RateBurst))
		}
		return speechify.New(entry.APIKey, opts...)
	})

	reg.RegisterTTS(config.ProviderElevenLabs, func(entry config.ProviderEntry) (tts.Provider, error) {
		opts := []elevenlabs.Option{elevenlabs.WithHTTPClient(tracedClient(entry.Name))}
		if entry.BaseURL != "" {
			opts = append(opts, elevenlabs.WithBaseURL(entry.BaseURL))
		}
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if f := config.OptString(entry.Options, "output_format"); f != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(f))
		}
		if u := config.OptString(entry.Options, "websocket_url"); u != "" {
			opts = append(opts, elevenlabs.WithWebSocketURL(u))
		}
		if config.OptBool(entry.Options, "streaming") {
			opts = append(opts, elevenlabs.WithStreaming(true))
		}
		if entry.RateLimit > 0 {
			opts = append(opts, elevenlabs.WithRateLimit(entry.RateLimit, entry.RateBurst))
		}
		return elevenlabs.New(entry.APIKey, opts...)
	})
}

var apiKeyEnv = map[narration.ProviderName]string{
	narration.Speechify:  config.EnvSpeechifyAPIKey,
	narration.ElevenLabs: config.EnvElevenLabsAPIKey,
}

// providerFactory builds narration providers from the config blocks.
func providerFactory(cfg *config.Config, reg *config.Registry) narration.Factory {
	return func(name narration.ProviderName) (tts.Provider, error) {
		entry, ok := cfg.TTS.Entry(string(name))
		if !ok {
			return nil, fmt.Errorf("unknown provider %q", name)
		}
		if !entry.Configured() {
			return nil, fmt.Errorf("no API key (set %s or tts.%s.api_key)", apiKeyEnv[name], name)
		}
		return reg.CreateTTS(entry)
	}
}

// generatorConfig maps the file configuration onto the narration layer.
func generatorConfig(cfg *config.Config, met *observe.Metrics) narration.Config {
	t := cfg.TTS
	return narration.Config{
		OutputDir: cfg.OutputDir,
		Provider:  narration.ProviderName(t.Provider),
		Language:  t.Language,
		Rate:      t.Rate,
		Voices: map[narration.ProviderName]narration.VoiceIDs{
			narration.Speechify:  {Narrator: t.Speechify.NarratorVoiceID, Character: t.Speechify.CharacterVoiceID},
			narration.ElevenLabs: {Narrator: t.ElevenLabs.NarratorVoiceID, Character: t.ElevenLabs.CharacterVoiceID},
		},
		Concurrency:    t.Concurrency,
		LinePause:      t.LinePause,
		StickyFallback: t.StickyFallback,
		CircuitBreaker: resilience.CircuitBreakerConfig{
			MaxFailures:  t.CircuitBreaker.MaxFailures,
			ResetTimeout: t.CircuitBreaker.ResetTimeout,
			HalfOpenMax:  t.CircuitBreaker.HalfOpenMax,
		},
		Metrics: met,
	}
}

func newGenerator(ctx context.Context, cfg *config.Config, reg *config.Registry, met *observe.Metrics) (*narration.Generator, error) {
	return narration.New(ctx, generatorConfig(cfg, met), providerFactory(cfg, reg))
}
