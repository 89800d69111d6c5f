package narration

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/MrWong99/mangavoice/pkg/provider/tts"
	"github.com/MrWong99/mangavoice/pkg/provider/tts/mock"
)

var catalogue = []tts.Voice{
	{
		ID: "scott", Name: "Scott", Gender: "male", Locale: "en-US",
		Tags:   []string{"timbre:deep", "use-case:narration"},
		Models: []tts.VoiceModel{{Name: "simba-english", Locales: []string{"en-US"}}},
	},
	{
		ID: "lisa", Name: "Lisa", Gender: "female", Locale: "fr-FR",
		Models: []tts.VoiceModel{
			{Name: "simba-multilingual", Locales: []string{"fr-FR", "de-DE"}},
		},
		Metadata: map[string]string{"accent": "parisian"},
	},
	{
		ID: "rachel", Name: "Rachel", Gender: "Female",
		Models: []tts.VoiceModel{
			{Name: "simba-english", Locales: []string{"en-GB"}},
			{Name: "simba-multilingual", Locales: []string{"ja-JP"}},
		},
		Metadata: map[string]string{"accent": "british", "age": "young"},
	},
}

func voiceIDs(vs []tts.Voice) []string {
	out := make([]string, len(vs))
	for i, v := range vs {
		out[i] = v.ID
	}
	return out
}

func TestFilterVoiceModels(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		filter VoiceFilter
		want   []string
	}{
		{"no filter", VoiceFilter{}, []string{"scott", "lisa", "rachel"}},
		{"gender case-insensitive", VoiceFilter{Gender: "female"}, []string{"lisa", "rachel"}},
		{"exact locale", VoiceFilter{Locale: "fr-FR"}, []string{"lisa"}},
		{"locale via model", VoiceFilter{Locale: "de_de"}, []string{"lisa"}},
		{"bare language", VoiceFilter{Locale: "en"}, []string{"scott", "rachel"}},
		{"tags all required", VoiceFilter{Tags: []string{"timbre:deep", "use-case:narration"}}, []string{"scott"}},
		{"missing tag", VoiceFilter{Tags: []string{"timbre:deep", "x"}}, []string{}},
		{"attribute", VoiceFilter{Attributes: map[string]string{"accent": "British"}}, []string{"rachel"}},
		{"combined", VoiceFilter{Gender: "female", Locale: "ja-JP"}, []string{"rachel"}},
		{"nothing", VoiceFilter{Gender: "robot"}, []string{}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := FilterVoiceModels(catalogue, tc.filter)
			if got == nil {
				t.Fatal("FilterVoiceModels returned nil")
			}
			if ids := voiceIDs(got); !slices.Equal(ids, tc.want) {
				t.Errorf("got %v, want %v", ids, tc.want)
			}
		})
	}
}

func TestModelNames(t *testing.T) {
	t.Parallel()
	got := ModelNames(catalogue)
	want := []string{"simba-english", "simba-multilingual"}
	if !slices.Equal(got, want) {
		t.Errorf("ModelNames = %v, want %v", got, want)
	}
	if ModelNames(nil) != nil {
		t.Error("ModelNames(nil) should be nil")
	}
}

func TestSearchVoices(t *testing.T) {
	t.Parallel()
	got := SearchVoices(catalogue, "rachal")
	if len(got) == 0 || got[0].ID != "rachel" {
		t.Fatalf("SearchVoices(rachal) = %v, want rachel first", got)
	}
	if got := SearchVoices(catalogue, ""); len(got) != len(catalogue) {
		t.Errorf("empty query returned %d voices, want all %d", len(got), len(catalogue))
	}
	if got := SearchVoices(catalogue, "zzzz"); len(got) != 0 {
		t.Errorf("SearchVoices(zzzz) = %v, want none", got)
	}
}

func TestGetAvailableVoices_ActiveProvider(t *testing.T) {
	t.Parallel()
	sp, el, providers := bothProviders()
	sp.ListVoicesResult = catalogue[:1]
	el.ListVoicesResult = catalogue[1:]
	g := newTestGenerator(t, Config{Provider: ElevenLabs}, providers)

	got, err := g.GetAvailableVoices(context.Background())
	if err != nil {
		t.Fatalf("GetAvailableVoices: %v", err)
	}
	if got.Provider != ElevenLabs || got.Count != 2 {
		t.Errorf("catalog = %s/%d, want elevenlabs/2", got.Provider, got.Count)
	}
	if sp.ListVoicesCalls != 0 {
		t.Error("inactive provider was queried")
	}
}

func TestGetAvailableVoices_EmptyListIsNotNil(t *testing.T) {
	t.Parallel()
	_, _, providers := bothProviders()
	g := newTestGenerator(t, Config{}, providers)

	got, err := g.GetAvailableVoices(context.Background())
	if err != nil {
		t.Fatalf("GetAvailableVoices: %v", err)
	}
	if got.Voices == nil || got.Count != 0 {
		t.Errorf("catalog = %+v, want empty non-nil list", got)
	}
}

func TestGetAvailableVoices_Error(t *testing.T) {
	t.Parallel()
	wantErr := errors.New("unauthorized")
	sp := &mock.Provider{ProviderName: "speechify", ListVoicesErr: wantErr}
	el := &mock.Provider{ProviderName: "elevenlabs", ListVoicesResult: catalogue}
	g := newTestGenerator(t, Config{}, map[ProviderName]*mock.Provider{Speechify: sp, ElevenLabs: el})

	_, err := g.GetAvailableVoices(context.Background())
	if !errors.Is(err, wantErr) {
		t.Errorf("err = %v, want %v", err, wantErr)
	}
	if el.ListVoicesCalls != 0 {
		t.Error("voice listing fell back to the other provider")
	}
}
