package narration

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestParseScript(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		input   string
		want    int
		wantErr error
	}{
		{"array", `[{"role":"narrator","description":"a"},{"role":"character","description":"b"}]`, 2, nil},
		{"wrapped", `{"script":[{"role":"narrator","description":"a"}]}`, 1, nil},
		{"empty input", "  \n", 0, ErrEmptyScript},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			s, err := ParseScript(strings.NewReader(tc.input))
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("err = %v, want %v", err, tc.wantErr)
			}
			if len(s) != tc.want {
				t.Errorf("len = %d, want %d", len(s), tc.want)
			}
		})
	}

	if _, err := ParseScript(strings.NewReader(`[{"role":`)); err == nil {
		t.Error("malformed JSON accepted")
	}
}

func TestScript_SpeakableNormalisesRoles(t *testing.T) {
	t.Parallel()
	s := Script{
		{Role: "CHARACTER", Description: " Hey! "},
		{Role: "villain", Description: "Muahaha"},
		{Role: RoleNarrator, Description: ""},
	}
	lines := s.speakable()
	if len(lines) != 2 {
		t.Fatalf("got %d speakable lines, want 2", len(lines))
	}
	if lines[0].role != RoleCharacter || lines[0].text != "Hey!" || lines[0].index != 0 {
		t.Errorf("line 0 = %+v", lines[0])
	}
	if lines[1].role != RoleNarrator || lines[1].index != 1 {
		t.Errorf("line 1 = %+v", lines[1])
	}

	if got := s.Text(); got != "Hey! Muahaha" {
		t.Errorf("Text = %q", got)
	}
}

func TestScript_Transcript(t *testing.T) {
	t.Parallel()
	s := Script{
		{Role: RoleNarrator, Description: "Tokyo, später."},
		{Role: RoleCharacter, Description: "  "},
		{Role: "Character", Description: "Run!"},
	}
	got := s.Transcript(TranscriptInfo{
		Provider:  ElevenLabs,
		Generated: time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC),
		Language:  "de-DE",
		Rate:      180,
	})
	want := "MANGA AUDIO TRANSCRIPT (elevenlabs)\n" +
		strings.Repeat("=", 60) + "\n\n" +
		"Generated: 2026-03-01T12:30:00Z\n" +
		"Provider: elevenlabs\n" +
		"Script Segments: 2\n" +
		"Language: de-DE\n" +
		"Speech Rate: 180 WPM\n\n" +
		"Combined Text (19 chars):\n" +
		"Tokyo, später. Run!\n\n" +
		"Script:\n" +
		"1. [NARRATOR]: Tokyo, später.\n" +
		"2. [CHARACTER]: Run!\n"
	if got != want {
		t.Errorf("Transcript =\n%s\nwant\n%s", got, want)
	}
}

func TestVoiceIDs_For(t *testing.T) {
	t.Parallel()
	v := VoiceIDs{Narrator: "n", Character: "c"}
	if v.For(RoleNarrator) != "n" || v.For(RoleCharacter) != "c" || v.For("other") != "n" {
		t.Error("role mapping wrong")
	}
	if (VoiceIDs{Narrator: "n"}).For(RoleCharacter) != "n" {
		t.Error("missing character voice should use narrator voice")
	}
}
