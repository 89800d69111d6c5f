package narration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"
	"unicode/utf8"
)

// Role selects which voice reads a line.
type Role string

const (
	RoleNarrator  Role = "narrator"
	RoleCharacter Role = "character"
)

// normalize maps r onto a known role. Anything unrecognised is narrated.
func (r Role) normalize() Role {
	if strings.EqualFold(strings.TrimSpace(string(r)), string(RoleCharacter)) {
		return RoleCharacter
	}
	return RoleNarrator
}

// Line is one entry of a script.
type Line struct {
	Role        Role   `json:"role"`
	Description string `json:"description"`
}

// Script is an ordered sequence of lines. Output audio follows its order.
type Script []Line

// speakableLine is a non-blank line with its position in the original script.
type speakableLine struct {
	index int
	role  Role
	text  string
}

// speakable returns the lines that carry text, with roles normalised.
func (s Script) speakable() []speakableLine {
	out := make([]speakableLine, 0, len(s))
	for i, l := range s {
		text := strings.TrimSpace(l.Description)
		if text == "" {
			continue
		}
		out = append(out, speakableLine{index: i, role: l.Role.normalize(), text: text})
	}
	return out
}

// TranscriptInfo is the generation context printed above a transcript.
type TranscriptInfo struct {
	Provider  ProviderName
	Generated time.Time
	Language  string
	Rate      int
}

// Transcript renders a header describing how the audio was produced, the
// combined text, and every speakable line numbered as "n. [ROLE]: text".
func (s Script) Transcript(info TranscriptInfo) string {
	lines := s.speakable()
	text := s.Text()

	var b strings.Builder
	fmt.Fprintf(&b, "MANGA AUDIO TRANSCRIPT (%s)\n", info.Provider)
	b.WriteString(strings.Repeat("=", 60) + "\n\n")
	fmt.Fprintf(&b, "Generated: %s\n", info.Generated.Format(time.RFC3339))
	fmt.Fprintf(&b, "Provider: %s\n", info.Provider)
	fmt.Fprintf(&b, "Script Segments: %d\n", len(lines))
	fmt.Fprintf(&b, "Language: %s\n", info.Language)
	fmt.Fprintf(&b, "Speech Rate: %d WPM\n\n", info.Rate)
	fmt.Fprintf(&b, "Combined Text (%d chars):\n%s\n\n", utf8.RuneCountInString(text), text)
	b.WriteString("Script:\n")
	for i, l := range lines {
		fmt.Fprintf(&b, "%d. [%s]: %s\n", i+1, strings.ToUpper(string(l.role)), l.text)
	}
	return b.String()
}

// Text joins the speakable descriptions with single spaces.
func (s Script) Text() string {
	lines := s.speakable()
	parts := make([]string, len(lines))
	for i, l := range lines {
		parts[i] = l.text
	}
	return strings.Join(parts, " ")
}

// ParseScript decodes a script from JSON. Both a bare array of lines and an
// object of the form {"script": [...]} are accepted.
func ParseScript(r io.Reader) (Script, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("narration: read script: %w", err)
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, ErrEmptyScript
	}

	var s Script
	if data[0] == '{' {
		var wrapped struct {
			Script Script `json:"script"`
		}
		if err := json.Unmarshal(data, &wrapped); err != nil {
			return nil, fmt.Errorf("narration: decode script: %w", err)
		}
		s = wrapped.Script
	} else if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("narration: decode script: %w", err)
	}
	return s, nil
}
