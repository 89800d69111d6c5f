package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// LookupFunc resolves an environment variable. [os.LookupEnv] satisfies it.
type LookupFunc func(key string) (string, bool)

// Environment variables that override YAML values.
const (
	EnvSpeechifyAPIKey    = "SPEECHIFY_API_KEY"
	EnvElevenLabsAPIKey   = "ELEVENLABS_API_KEY"
	EnvProvider           = "TTS_PROVIDER"
	EnvSpeechifyNarrator  = "SPEECHIFY_NARRATOR_VOICE_ID"
	EnvSpeechifyCharacter = "SPEECHIFY_CHARACTER_VOICE_ID"
	EnvElevenNarrator     = "ELEVEN_NARRATOR_VOICE_ID"
	EnvElevenActor        = "ELEVEN_ACTOR_VOICE_ID"
	EnvSpeechRate         = "TTS_SPEECH_RATE"
	EnvOutputDir          = "AUDIO_OUTPUT_DIR"
	EnvMaxFileAgeHours    = "MAX_AUDIO_FILE_AGE_HOURS"
	EnvLogLevel           = "LOG_LEVEL"
)

// ValidProviderNames lists the TTS backends [Validate] accepts.
var ValidProviderNames = []string{ProviderSpeechify, ProviderElevenLabs}

// Load reads the YAML configuration file at path, applies environment
// overrides from the process environment, fills defaults and validates the
// result. An empty path skips the file and builds the config from the
// environment and defaults alone.
func Load(path string) (*Config, error) {
	var data []byte
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: open %q: %w", path, err)
		}
	}
	cfg, err := Parse(data, os.LookupEnv)
	if err != nil {
		if path != "" {
			return nil, fmt.Errorf("config: parse %q: %w", path, err)
		}
		return nil, err
	}
	return cfg, nil
}

// Parse decodes data, applies overrides resolved through lookup, fills
// defaults and validates. Empty data yields a config built from overrides
// and defaults. A nil lookup skips the environment entirely.
func Parse(data []byte, lookup LookupFunc) (*Config, error) {
	cfg, err := decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	if lookup != nil {
		if err := ApplyEnv(cfg, lookup); err != nil {
			return nil, err
		}
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	return cfg, nil
}

// LoadEnvFile loads KEY=VALUE pairs from a dotenv file into the process
// environment without overriding variables that are already set. A missing
// file is not an error unless required is true.
func LoadEnvFile(path string, required bool) error {
	if path == "" {
		return nil
	}
	err := godotenv.Load(path)
	if err == nil {
		slog.Debug("loaded environment file", "path", path)
		return nil
	}
	if !required && errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("config: load env file %q: %w", path, err)
}

// ApplyEnv overrides cfg fields with any environment variables that lookup
// resolves to a non-empty value. Malformed numeric values are reported
// together.
func ApplyEnv(cfg *Config, lookup LookupFunc) error {
	get := func(key string) (string, bool) {
		v, ok := lookup(key)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}
	var errs []error

	if v, ok := get(EnvSpeechifyAPIKey); ok {
		cfg.TTS.Speechify.APIKey = v
	}
	if v, ok := get(EnvElevenLabsAPIKey); ok {
		cfg.TTS.ElevenLabs.APIKey = v
	}
	if v, ok := get(EnvProvider); ok {
		cfg.TTS.Provider = strings.ToLower(v)
	}
	if v, ok := get(EnvSpeechifyNarrator); ok {
		cfg.TTS.Speechify.NarratorVoiceID = v
	}
	if v, ok := get(EnvSpeechifyCharacter); ok {
		cfg.TTS.Speechify.CharacterVoiceID = v
	}
	if v, ok := get(EnvElevenNarrator); ok {
		cfg.TTS.ElevenLabs.NarratorVoiceID = v
	}
	if v, ok := get(EnvElevenActor); ok {
		cfg.TTS.ElevenLabs.CharacterVoiceID = v
	}
	if v, ok := get(EnvSpeechRate); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s %q is not an integer", EnvSpeechRate, v))
		} else {
			cfg.TTS.Rate = n
		}
	}
	if v, ok := get(EnvOutputDir); ok {
		cfg.OutputDir = v
	}
	if v, ok := get(EnvMaxFileAgeHours); ok {
		h, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s %q is not a number", EnvMaxFileAgeHours, v))
		} else {
			cfg.MaxFileAge = time.Duration(h * float64(time.Hour))
		}
	}
	if v, ok := get(EnvLogLevel); ok {
		cfg.LogLevel = LogLevel(strings.ToLower(v))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: environment: %w", errors.Join(errs...))
	}
	return nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.LogLevel != "" && !cfg.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("log_level %q is invalid; valid values: debug, info, warn, error", cfg.LogLevel))
	}
	if cfg.MaxFileAge < 0 {
		errs = append(errs, fmt.Errorf("max_file_age %s must not be negative", cfg.MaxFileAge))
	}

	t := cfg.TTS
	if _, ok := t.Entry(t.Provider); !ok && t.Provider != "" {
		errs = append(errs, fmt.Errorf("tts.provider %q is invalid; valid values: %s",
			t.Provider, strings.Join(ValidProviderNames, ", ")))
	}
	if t.Rate < 0 {
		errs = append(errs, fmt.Errorf("tts.rate %d must not be negative", t.Rate))
	}
	if t.Concurrency < 0 {
		errs = append(errs, fmt.Errorf("tts.concurrency %d must not be negative", t.Concurrency))
	}
	if t.LinePause < 0 {
		errs = append(errs, fmt.Errorf("tts.line_pause %s must not be negative", t.LinePause))
	}
	if t.CircuitBreaker.MaxFailures < 0 || t.CircuitBreaker.HalfOpenMax < 0 || t.CircuitBreaker.ResetTimeout < 0 {
		errs = append(errs, errors.New("tts.circuit_breaker values must not be negative"))
	}

	for _, name := range ValidProviderNames {
		entry, _ := t.Entry(name)
		prefix := "tts." + name
		if entry.RateLimit < 0 {
			errs = append(errs, fmt.Errorf("%s.rate_limit %.2f must not be negative", prefix, entry.RateLimit))
		}
		if entry.RateBurst < 0 {
			errs = append(errs, fmt.Errorf("%s.rate_burst %d must not be negative", prefix, entry.RateBurst))
		}
	}
	if f := OptString(t.ElevenLabs.Options, "output_format"); f != "" && !strings.HasPrefix(f, "pcm_") {
		errs = append(errs, fmt.Errorf("tts.elevenlabs.options.output_format %q is invalid; only pcm_<rate> formats are supported", f))
	}

	if !t.Speechify.Configured() && !t.ElevenLabs.Configured() {
		slog.Warn("no TTS API key configured; set " + EnvSpeechifyAPIKey + " or " + EnvElevenLabsAPIKey)
	}

	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	return errors.Join(errs...)
}

// OptString extracts a string value from a provider Options map.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func OptString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

// OptBool extracts a boolean value from a provider Options map. String
// values are parsed with [strconv.ParseBool].
func OptBool(opts map[string]any, key string) bool {
	switch v := opts[key].(type) {
	case bool:
		return v
	case string:
		b, _ := strconv.ParseBool(v)
		return b
	}
	return false
}
