// Package narration turns scripts of narrator and character lines into a
// single WAV file using one of two cloud TTS providers. The preferred
// provider renders the whole script; if any line fails, the complete script
// is retried on the alternate provider so an output never mixes voices from
// both backends.
//
// [Generator] is the entry point. It never reads the environment; callers
// pass a [Config] and a [Factory] that builds providers by name.
package narration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/mangavoice/internal/observe"
	"github.com/MrWong99/mangavoice/internal/resilience"
	"github.com/MrWong99/mangavoice/pkg/audio"
	"github.com/MrWong99/mangavoice/pkg/provider/tts"
)

// ProviderName identifies a TTS backend.
type ProviderName string

const (
	Speechify  ProviderName = "speechify"
	ElevenLabs ProviderName = "elevenlabs"
)

// ParseProvider parses s case-insensitively. An empty string selects
// [Speechify].
func ParseProvider(s string) (ProviderName, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(Speechify):
		return Speechify, nil
	case string(ElevenLabs):
		return ElevenLabs, nil
	}
	return "", fmt.Errorf("narration: unknown provider %q (want %s or %s)", s, Speechify, ElevenLabs)
}

// Alternate returns the provider that backs up p.
func (p ProviderName) Alternate() ProviderName {
	if p == ElevenLabs {
		return Speechify
	}
	return ElevenLabs
}

// VoiceIDs holds the per-role voices for one provider.
type VoiceIDs struct {
	Narrator  string `json:"narrator"`
	Character string `json:"character"`
}

// For returns the voice that reads lines with role r.
func (v VoiceIDs) For(r Role) string {
	if r.normalize() == RoleCharacter && v.Character != "" {
		return v.Character
	}
	return v.Narrator
}

// DefaultVoices are used for any provider without configured voices.
var DefaultVoices = map[ProviderName]VoiceIDs{
	Speechify:  {Narrator: "scott", Character: "scott"},
	ElevenLabs: {Narrator: "pNInz6obpgDQGcFmaJgB", Character: "EXAVITQu4vr4xnSDxMaL"},
}

const (
	// DefaultRate is the speaking rate, in words per minute, used when none
	// is configured.
	DefaultRate      = 150
	DefaultOutputDir = "./audio_output"
	DefaultLinePause = 300 * time.Millisecond
)

// Factory builds the provider registered under name. An error means the
// provider cannot be used, typically because its API key is missing.
type Factory func(name ProviderName) (tts.Provider, error)

// Config is the construction-time configuration of a [Generator].
type Config struct {
	// OutputDir receives generated audio. Created if absent.
	OutputDir string

	// Provider is the preferred backend. The other one is the fallback.
	Provider ProviderName

	// Language and Rate are the initial [Settings].
	Language string
	Rate     int

	// Voices maps each provider to its narrator and character voices.
	Voices map[ProviderName]VoiceIDs

	// Concurrency is the number of lines synthesised in parallel. Default 1.
	Concurrency int

	// LinePause is the silence between consecutive lines. Negative disables
	// it; zero selects DefaultLinePause.
	LinePause time.Duration

	// StickyFallback promotes a provider that serviced a call after the
	// primary failed, so later calls try it first.
	StickyFallback bool

	// CircuitBreaker tunes the breaker in front of each provider.
	CircuitBreaker resilience.CircuitBreakerConfig

	// Metrics receives instrumentation. Default: observe.DefaultMetrics().
	Metrics *observe.Metrics

	// Now overrides the clock used for file names and cleanup.
	Now func() time.Time
}

// Settings are the language and rate applied to synthesis.
type Settings struct {
	// Language is the effective language code.
	Language string `json:"language"`
	// Locale is the locale sent to providers.
	Locale string `json:"locale"`
	Tier   Tier   `json:"tier"`
	// Rate is the speaking rate in words per minute.
	Rate int `json:"rate"`
	// Warning is set when the requested language was substituted.
	Warning string `json:"warning,omitempty"`
}

// VoiceConfig is a snapshot of the voice-related configuration.
type VoiceConfig struct {
	Rate     int                       `json:"rate"`
	Language string                    `json:"language"`
	Voices   map[ProviderName]VoiceIDs `json:"voices"`
}

// Result describes a generated audio file.
type Result struct {
	Path            string        `json:"path"`
	TranscriptPath  string        `json:"transcript_path"`
	Provider        ProviderName  `json:"provider"`
	Lines           int           `json:"lines"`
	Language        string        `json:"language"`
	Duration        time.Duration `json:"-"`
	DurationSeconds float64       `json:"duration_seconds"`
	Format          audio.Format  `json:"-"`
	Warning         string        `json:"warning,omitempty"`
}

// backend pairs a provider with the name it was registered under.
type backend struct {
	name ProviderName
	tts.Provider
}

// Generator renders scripts to audio with automatic provider fallback.
// It is safe for concurrent use.
type Generator struct {
	group       *resilience.FallbackGroup[backend]
	unavailable map[ProviderName]error
	sticky      bool
	concurrency int
	linePause   time.Duration
	metrics     *observe.Metrics
	now         func() time.Time
	newID       func() string

	mu        sync.RWMutex
	settings  Settings
	voices    map[ProviderName]VoiceIDs
	active    ProviderName
	outputDir string
}

// New builds a Generator. The preferred provider is constructed first and
// the alternate second; whichever succeeds is used, with the preferred one
// tried first when both do. If neither can be constructed New returns
// [ErrProviderUnavailable] wrapping both causes. The output directory is
// created before New returns.
func New(ctx context.Context, cfg Config, factory Factory) (*Generator, error) {
	preferred, err := ParseProvider(string(cfg.Provider))
	if err != nil {
		return nil, err
	}
	alternate := preferred.Alternate()
	log := observe.Logger(ctx)

	primary, errPrimary := factory(preferred)
	secondary, errSecondary := factory(alternate)
	if errPrimary != nil && errSecondary != nil {
		return nil, fmt.Errorf("%w: %w", ErrProviderUnavailable, errors.Join(
			fmt.Errorf("%s: %w", preferred, errPrimary),
			fmt.Errorf("%s: %w", alternate, errSecondary),
		))
	}

	met := cfg.Metrics
	if met == nil {
		met = observe.DefaultMetrics()
	}
	cbCfg := cfg.CircuitBreaker
	cbCfg.OnStateChange = func(name string, _, to resilience.State) {
		met.RecordBreakerTransition(context.Background(), name, to.String())
	}
	fbCfg := resilience.FallbackConfig{
		CircuitBreaker: cbCfg,
		OnFallback: func(from, to string) {
			met.RecordFallback(context.Background(), from, to)
		},
	}

	g := &Generator{
		unavailable: make(map[ProviderName]error),
		sticky:      cfg.StickyFallback,
		concurrency: max(cfg.Concurrency, 1),
		linePause:   cfg.LinePause,
		metrics:     met,
		now:         cfg.Now,
		newID:       func() string { return uuid.NewString()[:8] },
		voices:      make(map[ProviderName]VoiceIDs, 2),
	}
	if g.linePause == 0 {
		g.linePause = DefaultLinePause
	}
	if g.now == nil {
		g.now = time.Now
	}

	if errPrimary != nil {
		log.Warn("preferred TTS provider unavailable, using alternate",
			"preferred", preferred, "alternate", alternate, "err", errPrimary)
		g.unavailable[preferred] = errPrimary
		g.group = resilience.NewFallbackGroup(backend{alternate, secondary}, string(alternate), fbCfg)
	} else {
		g.group = resilience.NewFallbackGroup(backend{preferred, primary}, string(preferred), fbCfg)
		if errSecondary != nil {
			log.Info("fallback TTS provider unavailable",
				"provider", alternate, "err", errSecondary)
			g.unavailable[alternate] = errSecondary
		} else {
			g.group.AddFallback(string(alternate), backend{alternate, secondary})
		}
	}
	g.active = ProviderName(g.group.Primary())

	for _, name := range []ProviderName{Speechify, ElevenLabs} {
		g.voices[name] = mergeVoices(DefaultVoices[name], cfg.Voices[name])
	}

	outputDir := cfg.OutputDir
	if outputDir == "" {
		outputDir = DefaultOutputDir
	}
	if err := g.SetOutputDirectory(outputDir); err != nil {
		return nil, err
	}
	g.Configure(cfg.Language, cfg.Rate)

	log.Info("narration generator ready",
		"provider", g.active,
		"fallbacks", g.group.Names()[1:],
		"output_dir", g.OutputDirectory(),
		"sticky_fallback", g.sticky,
	)
	return g, nil
}

func mergeVoices(base, override VoiceIDs) VoiceIDs {
	if override.Narrator != "" {
		base.Narrator = override.Narrator
	}
	if override.Character != "" {
		base.Character = override.Character
	}
	return base
}

// resolveSettings validates language and rate. An unsupported language is
// replaced by [DefaultLanguage] and described in Warning.
func resolveSettings(language string, rate int) Settings {
	if rate <= 0 {
		rate = DefaultRate
	}
	code := strings.TrimSpace(language)
	if code == "" {
		code = DefaultLanguage
	}
	var warning string
	lang, ok := LookupLanguage(code)
	if !ok {
		warning = fmt.Sprintf("%v %q; using %q", ErrUnsupportedLanguage, code, DefaultLanguage)
		lang, _ = LookupLanguage(DefaultLanguage)
	}
	return Settings{
		Language: lang.Code,
		Locale:   lang.Locale,
		Tier:     lang.Tier,
		Rate:     rate,
		Warning:  warning,
	}
}

// Configure sets the language and speaking rate for subsequent calls. An
// unsupported language falls back to English with a logged warning that is
// also returned in [Settings.Warning]. rate <= 0 selects [DefaultRate].
func (g *Generator) Configure(language string, rate int) Settings {
	s := resolveSettings(language, rate)
	switch {
	case s.Warning != "":
		slog.Warn("unsupported language, falling back to default",
			"requested", language, "language", s.Language)
	case s.Tier == TierBeta:
		slog.Info("language support is in beta", "language", s.Language)
	}

	g.mu.Lock()
	g.settings = s
	g.mu.Unlock()
	return s
}

// Settings returns the current language and rate.
func (g *Generator) Settings() Settings {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.settings
}

// ActiveProvider returns the provider that serviced the most recent
// successful call, or the constructor-selected provider before any call.
func (g *Generator) ActiveProvider() ProviderName {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.active
}

// Providers returns the usable providers in the order the next call will
// try them.
func (g *Generator) Providers() []ProviderName {
	names := g.group.Names()
	out := make([]ProviderName, len(names))
	for i, n := range names {
		out[i] = ProviderName(n)
	}
	return out
}

// BreakerStates reports the circuit breaker state of every usable provider.
func (g *Generator) BreakerStates() map[ProviderName]resilience.State {
	names := g.group.Names()
	out := make(map[ProviderName]resilience.State, len(names))
	for _, n := range names {
		if cb := g.group.Breaker(n); cb != nil {
			out[ProviderName(n)] = cb.State()
		}
	}
	return out
}

// Ready returns an error when every provider's circuit breaker is open, so
// no script could currently be rendered.
func (g *Generator) Ready(context.Context) error {
	var open []string
	for name, st := range g.BreakerStates() {
		if st != resilience.StateOpen {
			return nil
		}
		open = append(open, string(name))
	}
	slices.Sort(open)
	return fmt.Errorf("circuit open for %s", strings.Join(open, ", "))
}

func (g *Generator) setActive(p ProviderName) {
	g.mu.Lock()
	g.active = p
	g.mu.Unlock()
}

// VoiceConfig returns a snapshot of rate, language and voice mapping.
func (g *Generator) VoiceConfig() VoiceConfig {
	g.mu.RLock()
	defer g.mu.RUnlock()
	voices := make(map[ProviderName]VoiceIDs, len(g.voices))
	for k, v := range g.voices {
		voices[k] = v
	}
	return VoiceConfig{Rate: g.settings.Rate, Language: g.settings.Language, Voices: voices}
}

// SetVoices replaces the voices used for provider p. Empty fields keep
// their current value. When the voices actually change, p's circuit breaker
// is closed again: failures against the old voice IDs say nothing about the
// new ones.
func (g *Generator) SetVoices(p ProviderName, v VoiceIDs) {
	g.mu.Lock()
	prev := g.voices[p]
	next := mergeVoices(prev, v)
	g.voices[p] = next
	g.mu.Unlock()

	if next == prev {
		return
	}
	if cb := g.group.Breaker(string(p)); cb != nil {
		cb.Reset()
	}
}

func (g *Generator) voicesFor(p ProviderName) VoiceIDs {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.voices[p]
}

// GenerateAudioFromScript renders every non-blank line of script and writes
// one WAV file plus a transcript to the output directory. A non-empty
// language overrides the configured one for this call only.
//
// All lines of an attempt come from one provider. When any line fails the
// attempt is abandoned and the whole script is retried on the next
// provider. If every provider fails the error wraps [ErrSynthesisFailed]
// and each provider's cause.
func (g *Generator) GenerateAudioFromScript(ctx context.Context, script Script, language string) (*Result, error) {
	return g.Generate(ctx, script, Options{Language: language})
}

// Options override [Settings] for a single generation.
type Options struct {
	// Language replaces the configured language when non-empty.
	Language string
	// Rate replaces the configured rate when positive.
	Rate int
}

// Generate is [Generator.GenerateAudioFromScript] with per-call overrides
// for language and rate.
func (g *Generator) Generate(ctx context.Context, script Script, opts Options) (res *Result, err error) {
	lines := script.speakable()
	if len(lines) == 0 {
		return nil, ErrEmptyScript
	}

	settings := g.Settings()
	if strings.TrimSpace(opts.Language) != "" || opts.Rate > 0 {
		language, rate := settings.Language, settings.Rate
		if strings.TrimSpace(opts.Language) != "" {
			language = opts.Language
		}
		if opts.Rate > 0 {
			rate = opts.Rate
		}
		override := resolveSettings(language, rate)
		if override.Warning != "" {
			slog.Warn("unsupported language, falling back to default",
				"requested", language, "language", override.Language)
		}
		settings = override
	}

	ctx, span := observe.StartSpan(ctx, "narration.generate", trace.WithAttributes(
		attribute.Int("lines", len(lines)),
		attribute.String("language", settings.Language),
		attribute.Int("rate", settings.Rate),
	))
	defer func() { observe.EndSpan(span, err) }()
	log := observe.Logger(ctx)

	g.metrics.ActiveGenerations.Add(ctx, 1)
	defer g.metrics.ActiveGenerations.Add(ctx, -1)
	start := time.Now()

	first := ProviderName(g.group.Primary())
	segments, served, err := resilience.ExecuteWithResult(ctx, g.group, func(b backend) ([]*tts.Audio, error) {
		return g.synthesizeScript(ctx, b, lines, settings)
	})
	if err != nil {
		g.metrics.RecordGeneration(ctx, "", time.Since(start), 0, err)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("narration: generate: %w", ctxErr)
		}
		causes := []error{err}
		for name, cause := range g.unavailable {
			causes = append(causes, fmt.Errorf("%s: not configured: %w", name, cause))
		}
		return nil, fmt.Errorf("%w: %w", ErrSynthesisFailed, errors.Join(causes...))
	}

	provider := ProviderName(served)
	if provider != first {
		log.Warn("script rendered by fallback provider", "failed", first, "provider", provider)
		if g.sticky {
			g.group.Promote(served)
		}
	}
	span.SetAttributes(attribute.String("provider", served))

	format, pcm := assemble(segments, g.linePause)
	res, err = g.writeOutput(provider, script, settings, format, pcm)
	if err != nil {
		g.metrics.RecordGeneration(ctx, served, time.Since(start), 0, err)
		return nil, err
	}
	res.Lines = len(lines)
	res.Language = settings.Language
	res.Warning = settings.Warning

	g.setActive(provider)
	g.metrics.RecordGeneration(ctx, served, time.Since(start), res.Duration, nil)
	log.Info("audio generated",
		"provider", provider,
		"path", res.Path,
		"lines", res.Lines,
		"duration", res.Duration.Round(time.Millisecond),
	)
	return res, nil
}

// synthesizeScript renders lines with one provider. Up to g.concurrency
// lines run at once; results keep script order. The first failure cancels
// the remaining lines.
func (g *Generator) synthesizeScript(ctx context.Context, b backend, lines []speakableLine, s Settings) ([]*tts.Audio, error) {
	voices := g.voicesFor(b.name)
	out := make([]*tts.Audio, len(lines))

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(g.concurrency)
	for i, line := range lines {
		eg.Go(func() error {
			if err := egCtx.Err(); err != nil {
				return err
			}
			start := time.Now()
			a, err := b.Synthesize(egCtx, tts.Request{
				Text:     line.text,
				VoiceID:  voices.For(line.role),
				Language: s.Locale,
				Rate:     s.Rate,
			})
			if err == nil && (a == nil || len(a.Data) == 0 || !a.Format.Valid()) {
				err = errors.New("provider returned no audio")
			}
			g.metrics.RecordSynthesis(ctx, string(b.name), time.Since(start), err)
			if err != nil {
				return fmt.Errorf("line %d (%s): %w", line.index+1, line.role, err)
			}
			g.metrics.RecordScriptLine(ctx, string(b.name), string(line.role))
			out[i] = a
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// assemble joins segments in order, converting each to the first segment's
// format and separating them with pause of silence.
func assemble(segments []*tts.Audio, pause time.Duration) (audio.Format, []byte) {
	format := segments[0].Format
	gap := audio.Silence(format, pause)

	size := 0
	for _, s := range segments {
		size += len(s.Data) + len(gap)
	}
	pcm := make([]byte, 0, size)
	for i, s := range segments {
		if i > 0 {
			pcm = append(pcm, gap...)
		}
		pcm = append(pcm, audio.Convert(s.Data, s.Format, format)...)
	}
	return format, pcm
}
