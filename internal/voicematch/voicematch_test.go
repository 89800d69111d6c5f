package voicematch_test

import (
	"testing"

	"github.com/MrWong99/mangavoice/internal/voicematch"
	"github.com/MrWong99/mangavoice/pkg/provider/tts"
)

var catalog = []tts.Voice{
	{ID: "scott", Name: "Scott"},
	{ID: "21m00Tcm4TlvDq8ikWAM", Name: "Rachel"},
	{ID: "hannah-v2", Name: "Hannah"},
	{ID: "anna", Name: "Anna"},
	{ID: "unnamed"},
}

func TestBest(t *testing.T) {
	t.Parallel()

	m := voicematch.New()
	tests := []struct {
		name      string
		query     string
		wantID    string
		wantMatch bool
	}{
		{name: "exact name", query: "Scott", wantID: "scott", wantMatch: true},
		{name: "misspelled name", query: "rachal", wantID: "21m00Tcm4TlvDq8ikWAM", wantMatch: true},
		{name: "voice id", query: "21M00TCM4TLVDQ8IKWAM", wantID: "21m00Tcm4TlvDq8ikWAM", wantMatch: true},
		{name: "padded query", query: "  rachel  ", wantID: "21m00Tcm4TlvDq8ikWAM", wantMatch: true},
		{name: "unrelated", query: "zzzz", wantMatch: false},
		{name: "empty", query: "   ", wantMatch: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, ok := m.Best(tt.query, catalog)
			if ok != tt.wantMatch {
				t.Fatalf("Best(%q) matched = %v, want %v", tt.query, ok, tt.wantMatch)
			}
			if ok && got.Voice.ID != tt.wantID {
				t.Errorf("Best(%q) = %q, want %q", tt.query, got.Voice.ID, tt.wantID)
			}
		})
	}
}

func TestFind_ExactRanksFirst(t *testing.T) {
	t.Parallel()

	found := voicematch.New().Find("anna", catalog)
	if len(found) == 0 {
		t.Fatal("Find returned nothing")
	}
	if found[0].Voice.ID != "anna" || found[0].Score != 1 || !found[0].Phonetic {
		t.Errorf("first match = %+v, want exact anna", found[0])
	}
	for i := 1; i < len(found); i++ {
		prev, cur := found[i-1], found[i]
		if prev.Phonetic == cur.Phonetic && cur.Score > prev.Score {
			t.Errorf("matches %d and %d out of order: %v then %v", i-1, i, prev.Score, cur.Score)
		}
		if !prev.Phonetic && cur.Phonetic {
			t.Errorf("phonetic match %q ranked after fuzzy match %q", cur.Voice.ID, prev.Voice.ID)
		}
	}
}

func TestFind_Thresholds(t *testing.T) {
	t.Parallel()

	strict := voicematch.New(
		voicematch.WithPhoneticThreshold(1.01),
		voicematch.WithFuzzyThreshold(1.01),
	)
	if found := strict.Find("rachal", catalog); len(found) != 0 {
		t.Errorf("strict matcher found %v, want nothing", found)
	}
	// An ID is matched verbatim regardless of thresholds.
	if _, ok := strict.Best("scott", catalog); !ok {
		t.Error("strict matcher did not match an exact voice id")
	}
}

func TestFind_EmptyCatalog(t *testing.T) {
	t.Parallel()

	if found := voicematch.New().Find("scott", nil); found != nil {
		t.Errorf("Find on empty catalog = %v, want nil", found)
	}
}
