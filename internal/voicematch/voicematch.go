// Package voicematch finds catalogue voices by an approximate name, so a
// user can ask for "rachal" or "scot" and get the voice they meant.
//
// Matching runs in two stages:
//
//  1. Phonetic candidates: Double Metaphone codes of every query word are
//     compared with those of the voice name. Any shared code makes the
//     voice a phonetic candidate, accepted when its Jaro-Winkler score
//     reaches the phonetic threshold.
//
//  2. Fuzzy candidates: voices without a phonetic overlap are accepted only
//     when their Jaro-Winkler score reaches the higher fuzzy threshold.
//
// A query equal to a voice ID (case-insensitive) always matches with score 1.
package voicematch

import (
	"cmp"
	"slices"
	"strings"

	"github.com/antzucaro/matchr"

	"github.com/MrWong99/mangavoice/pkg/provider/tts"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85
)

// Option configures a [Matcher].
type Option func(*Matcher)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score for a
// phonetically similar voice. Default: 0.70.
func WithPhoneticThreshold(threshold float64) Option {
	return func(m *Matcher) { m.phoneticThreshold = threshold }
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score for a voice with no
// phonetic overlap. Default: 0.85.
func WithFuzzyThreshold(threshold float64) Option {
	return func(m *Matcher) { m.fuzzyThreshold = threshold }
}

// Matcher ranks voices against a query. It is read-only after construction
// and safe for concurrent use.
type Matcher struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// New returns a Matcher with the default thresholds unless overridden.
func New(opts ...Option) *Matcher {
	m := &Matcher{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Match is a voice accepted for a query.
type Match struct {
	Voice tts.Voice `json:"voice"`
	// Score is the Jaro-Winkler similarity in [0, 1].
	Score float64 `json:"score"`
	// Phonetic reports whether the voice sounded like the query.
	Phonetic bool `json:"phonetic"`
}

// Find returns every voice matching query, best first. Phonetic matches
// rank above fuzzy ones; ties keep catalogue order.
func (m *Matcher) Find(query string, voices []tts.Voice) []Match {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" || len(voices) == 0 {
		return nil
	}
	qTokens := strings.Fields(q)
	qCodes := codesFor(qTokens)

	var out []Match
	for _, v := range voices {
		if strings.EqualFold(v.ID, q) {
			out = append(out, Match{Voice: v, Score: 1, Phonetic: true})
			continue
		}
		name := strings.ToLower(strings.TrimSpace(v.Name))
		if name == "" {
			continue
		}
		nTokens := strings.Fields(name)
		score := similarity(qTokens, nTokens, q, name)

		switch {
		case overlaps(qCodes, codesFor(nTokens)) && score >= m.phoneticThreshold:
			out = append(out, Match{Voice: v, Score: score, Phonetic: true})
		case score >= m.fuzzyThreshold:
			out = append(out, Match{Voice: v, Score: score})
		}
	}

	slices.SortStableFunc(out, func(a, b Match) int {
		if a.Phonetic != b.Phonetic {
			if a.Phonetic {
				return -1
			}
			return 1
		}
		return cmp.Compare(b.Score, a.Score)
	})
	return out
}

// Best returns the top match for query.
func (m *Matcher) Best(query string, voices []tts.Voice) (Match, bool) {
	found := m.Find(query, voices)
	if len(found) == 0 {
		return Match{}, false
	}
	return found[0], true
}

// codesFor collects the Double Metaphone codes of tokens. Words without
// consonants produce no code.
func codesFor(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

func overlaps(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

// similarity is the best Jaro-Winkler score over the full strings, the
// strings without spaces and every pair of words. Voice names such as
// "Rachel - Calm" are usually searched for by one of their words.
func similarity(qTokens, nTokens []string, q, name string) float64 {
	score := matchr.JaroWinkler(q, name, false)
	if len(qTokens) > 1 || len(nTokens) > 1 {
		if s := matchr.JaroWinkler(strings.Join(qTokens, ""), strings.Join(nTokens, ""), false); s > score {
			score = s
		}
	}
	for _, a := range qTokens {
		for _, b := range nTokens {
			if s := matchr.JaroWinkler(a, b, false); s > score {
				score = s
			}
		}
	}
	return score
}
