package narration

import (
	"slices"
	"strings"
)

// DefaultLanguage replaces unsupported language codes.
const DefaultLanguage = "en"

// Tier is the support level of a language. It is informational only;
// synthesis behaves the same for every tier.
type Tier string

const (
	TierFull Tier = "full"
	TierBeta Tier = "beta"
)

// Language is an entry in the supported-language table.
type Language struct {
	// Code is the code callers pass in, such as "en" or "fr-FR".
	Code string `json:"code"`
	// Locale is the full locale sent to providers.
	Locale string `json:"locale"`
	Name   string `json:"name"`
	Tier   Tier   `json:"tier"`
}

var languages = []Language{
	{"en", "en-US", "English", TierFull},
	{"fr-FR", "fr-FR", "French", TierFull},
	{"de-DE", "de-DE", "German", TierFull},
	{"es-ES", "es-ES", "Spanish", TierFull},
	{"pt-BR", "pt-BR", "Portuguese (Brazil)", TierFull},
	{"pt-PT", "pt-PT", "Portuguese (Portugal)", TierFull},

	{"ar-AE", "ar-AE", "Arabic", TierBeta},
	{"da-DK", "da-DK", "Danish", TierBeta},
	{"nl-NL", "nl-NL", "Dutch", TierBeta},
	{"et-EE", "et-EE", "Estonian", TierBeta},
	{"fi-FI", "fi-FI", "Finnish", TierBeta},
	{"el-GR", "el-GR", "Greek", TierBeta},
	{"he-IL", "he-IL", "Hebrew", TierBeta},
	{"hi-IN", "hi-IN", "Hindi", TierBeta},
	{"it-IT", "it-IT", "Italian", TierBeta},
	{"ja-JP", "ja-JP", "Japanese", TierBeta},
	{"nb-NO", "nb-NO", "Norwegian", TierBeta},
	{"pl-PL", "pl-PL", "Polish", TierBeta},
	{"ru-RU", "ru-RU", "Russian", TierBeta},
	{"sv-SE", "sv-SE", "Swedish", TierBeta},
	{"tr-TR", "tr-TR", "Turkish", TierBeta},
	{"uk-UA", "uk-UA", "Ukrainian", TierBeta},
	{"vi-VN", "vi-VN", "Vietnamese", TierBeta},
}

var languageIndex = func() map[string]Language {
	m := make(map[string]Language, len(languages))
	for _, l := range languages {
		m[strings.ToLower(l.Code)] = l
	}
	return m
}()

// LookupLanguage finds code in the supported-language table. Matching is
// case-insensitive and accepts "_" in place of "-".
func LookupLanguage(code string) (Language, bool) {
	key := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(code), "_", "-"))
	l, ok := languageIndex[key]
	return l, ok
}

// Languages returns the supported-language table: full tier first, each
// tier sorted by code.
func Languages() []Language {
	out := slices.Clone(languages)
	slices.SortStableFunc(out, func(a, b Language) int {
		if a.Tier != b.Tier {
			if a.Tier == TierFull {
				return -1
			}
			return 1
		}
		return strings.Compare(a.Code, b.Code)
	})
	return out
}
