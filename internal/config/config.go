// Package config provides the configuration schema, loader, environment
// overrides, hot-reload watcher and TTS provider registry for mangavoice.
package config

import (
	"strings"
	"time"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Provider names understood by the registry and the narration layer.
const (
	ProviderSpeechify  = "speechify"
	ProviderElevenLabs = "elevenlabs"
)

// Defaults applied by [ApplyDefaults] for zero-valued fields.
const (
	DefaultOutputDir   = "./audio_output"
	DefaultProvider    = ProviderSpeechify
	DefaultLanguage    = "en"
	DefaultRate        = 150
	DefaultConcurrency = 1
	DefaultLinePause   = 300 * time.Millisecond
	DefaultMaxFileAge  = 24 * time.Hour
	DefaultListenAddr  = ":8080"

	DefaultSpeechifyVoiceID        = "scott"
	DefaultElevenLabsNarratorVoice = "pNInz6obpgDQGcFmaJgB"
	DefaultElevenLabsActorVoice    = "EXAVITQu4vr4xnSDxMaL"
)

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [Parse].
type Config struct {
	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// OutputDir is where generated audio and transcripts are written.
	OutputDir string `yaml:"output_dir"`

	// MaxFileAge is the age beyond which the cleanup command removes
	// generated files.
	MaxFileAge time.Duration `yaml:"max_file_age"`

	TTS    TTSConfig    `yaml:"tts"`
	Server ServerConfig `yaml:"server"`
}

// ServerConfig holds settings for the optional HTTP API.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// ShutdownTimeout bounds graceful shutdown. Default: 10s.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// TTSConfig selects the preferred provider and tunes synthesis.
type TTSConfig struct {
	// Provider is the preferred backend: "speechify" or "elevenlabs". The
	// other one serves as fallback when it is configured.
	Provider string `yaml:"provider"`

	// Language is the default locale code (see the languages command).
	Language string `yaml:"language"`

	// Rate is the speaking rate in words per minute.
	Rate int `yaml:"rate"`

	// Concurrency is the number of script lines synthesised in parallel.
	Concurrency int `yaml:"concurrency"`

	// LinePause is the silence inserted between consecutive lines.
	LinePause time.Duration `yaml:"line_pause"`

	// StickyFallback keeps using the fallback provider for later calls once
	// it has serviced one.
	StickyFallback bool `yaml:"sticky_fallback"`

	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`

	Speechify  ProviderEntry `yaml:"speechify"`
	ElevenLabs ProviderEntry `yaml:"elevenlabs"`
}

// CircuitBreakerConfig tunes the per-provider circuit breaker.
type CircuitBreakerConfig struct {
	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
	HalfOpenMax  int           `yaml:"half_open_max"`
}

// ProviderEntry is the configuration block shared by both TTS backends.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name is filled in by [TTSConfig.Entry]; it is not read from YAML.
	Name string `yaml:"-"`

	// APIKey is the authentication key for the provider's API.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider.
	Model string `yaml:"model"`

	// NarratorVoiceID voices lines with the narrator role (and unknown roles).
	NarratorVoiceID string `yaml:"narrator_voice_id"`

	// CharacterVoiceID voices lines with the character role.
	CharacterVoiceID string `yaml:"character_voice_id"`

	// RateLimit caps requests per second. 0 disables limiting.
	RateLimit float64 `yaml:"rate_limit"`

	// RateBurst is the limiter burst size. Default: 1.
	RateBurst int `yaml:"rate_burst"`

	// Options holds provider-specific values not covered above, such as
	// "streaming", "output_format" or "websocket_url" for ElevenLabs.
	Options map[string]any `yaml:"options"`
}

// Configured reports whether the entry carries an API key.
func (e ProviderEntry) Configured() bool {
	return strings.TrimSpace(e.APIKey) != ""
}

// Entry returns the provider block for name with its Name field set.
func (t TTSConfig) Entry(name string) (ProviderEntry, bool) {
	var e ProviderEntry
	switch strings.ToLower(name) {
	case ProviderSpeechify:
		e, e.Name = t.Speechify, ProviderSpeechify
	case ProviderElevenLabs:
		e, e.Name = t.ElevenLabs, ProviderElevenLabs
	default:
		return ProviderEntry{}, false
	}
	return e, true
}

// ApplyDefaults fills zero-valued fields with their defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = LogInfo
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = DefaultOutputDir
	}
	if cfg.MaxFileAge == 0 {
		cfg.MaxFileAge = DefaultMaxFileAge
	}
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}

	t := &cfg.TTS
	if t.Provider == "" {
		t.Provider = DefaultProvider
	}
	t.Provider = strings.ToLower(t.Provider)
	if t.Language == "" {
		t.Language = DefaultLanguage
	}
	if t.Rate == 0 {
		t.Rate = DefaultRate
	}
	if t.Concurrency == 0 {
		t.Concurrency = DefaultConcurrency
	}
	if t.LinePause == 0 {
		t.LinePause = DefaultLinePause
	}
	if t.Speechify.NarratorVoiceID == "" {
		t.Speechify.NarratorVoiceID = DefaultSpeechifyVoiceID
	}
	if t.Speechify.CharacterVoiceID == "" {
		t.Speechify.CharacterVoiceID = DefaultSpeechifyVoiceID
	}
	if t.ElevenLabs.NarratorVoiceID == "" {
		t.ElevenLabs.NarratorVoiceID = DefaultElevenLabsNarratorVoice
	}
	if t.ElevenLabs.CharacterVoiceID == "" {
		t.ElevenLabs.CharacterVoiceID = DefaultElevenLabsActorVoice
	}
}
