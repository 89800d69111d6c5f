package narration

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/MrWong99/mangavoice/internal/observe"
	"github.com/MrWong99/mangavoice/internal/voicematch"
	"github.com/MrWong99/mangavoice/pkg/provider/tts"
)

// VoiceCatalog is the voice list of one provider.
type VoiceCatalog struct {
	Provider ProviderName `json:"provider"`
	Count    int          `json:"count"`
	Voices   []tts.Voice  `json:"voices"`
}

// GetAvailableVoices lists the voices of the active provider. There is no
// fallback here: a listing failure is returned as is.
func (g *Generator) GetAvailableVoices(ctx context.Context) (VoiceCatalog, error) {
	name := g.ActiveProvider()
	catalog := VoiceCatalog{Provider: name, Voices: []tts.Voice{}}

	b, ok := g.group.Get(string(name))
	if !ok {
		return catalog, fmt.Errorf("narration: provider %s not available", name)
	}

	ctx, span := observe.StartSpan(ctx, "narration.list_voices")
	voices, err := b.ListVoices(ctx)
	observe.EndSpan(span, err)
	if err != nil {
		g.metrics.RecordProviderRequest(ctx, string(name), "list_voices", observe.StatusError)
		g.metrics.RecordProviderError(ctx, string(name), "list_voices")
		return catalog, fmt.Errorf("narration: list %s voices: %w", name, err)
	}
	g.metrics.RecordProviderRequest(ctx, string(name), "list_voices", observe.StatusOK)

	if voices != nil {
		catalog.Voices = voices
	}
	catalog.Count = len(catalog.Voices)
	return catalog, nil
}

// VoiceFilter selects voices. Zero-valued fields match everything.
type VoiceFilter struct {
	// Gender matches case-insensitively.
	Gender string
	// Locale matches the voice locale or any model locale, case-insensitively.
	// A bare language such as "en" also matches "en-US".
	Locale string
	// Tags must all be present on the voice.
	Tags []string
	// Attributes must all be present in the voice metadata with equal values.
	Attributes map[string]string
}

// Matches reports whether v satisfies every criterion of f.
func (f VoiceFilter) Matches(v tts.Voice) bool {
	if f.Gender != "" && !strings.EqualFold(f.Gender, v.Gender) {
		return false
	}
	if f.Locale != "" && !voiceHasLocale(v, f.Locale) {
		return false
	}
	for _, tag := range f.Tags {
		if !slices.ContainsFunc(v.Tags, func(t string) bool { return strings.EqualFold(t, tag) }) {
			return false
		}
	}
	for k, want := range f.Attributes {
		if got, ok := v.Metadata[k]; !ok || !strings.EqualFold(got, want) {
			return false
		}
	}
	return true
}

func voiceHasLocale(v tts.Voice, locale string) bool {
	if localeMatches(v.Locale, locale) {
		return true
	}
	for _, m := range v.Models {
		for _, l := range m.Locales {
			if localeMatches(l, locale) {
				return true
			}
		}
	}
	return false
}

func localeMatches(have, want string) bool {
	if have == "" {
		return false
	}
	have = strings.ReplaceAll(have, "_", "-")
	want = strings.ReplaceAll(want, "_", "-")
	if strings.EqualFold(have, want) {
		return true
	}
	if strings.Contains(want, "-") {
		return false
	}
	lang, _, _ := strings.Cut(have, "-")
	return strings.EqualFold(lang, want)
}

// FilterVoiceModels returns the voices that satisfy f, in input order. The
// result is never nil.
func FilterVoiceModels(voices []tts.Voice, f VoiceFilter) []tts.Voice {
	out := make([]tts.Voice, 0, len(voices))
	for _, v := range voices {
		if f.Matches(v) {
			out = append(out, v)
		}
	}
	return out
}

var nameMatcher = voicematch.New()

// SearchVoices returns the voices whose name sounds like or resembles query,
// best match first. An empty query returns voices unchanged.
func SearchVoices(voices []tts.Voice, query string) []tts.Voice {
	if strings.TrimSpace(query) == "" {
		return voices
	}
	found := nameMatcher.Find(query, voices)
	out := make([]tts.Voice, len(found))
	for i, m := range found {
		out[i] = m.Voice
	}
	return out
}

// ModelNames returns the distinct model names across voices in first-seen
// order.
func ModelNames(voices []tts.Voice) []string {
	var names []string
	seen := make(map[string]struct{})
	for _, v := range voices {
		for _, m := range v.Models {
			if _, dup := seen[m.Name]; dup || m.Name == "" {
				continue
			}
			seen[m.Name] = struct{}{}
			names = append(names, m.Name)
		}
	}
	return names
}
