package narration

import (
	"math"
	"strings"
	"unicode/utf8"
)

// Statistics are text measurements used to estimate speech length.
type Statistics struct {
	Characters               int          `json:"characters"`
	Words                    int          `json:"words"`
	EstimatedDurationSeconds float64      `json:"estimated_duration_seconds"`
	Provider                 ProviderName `json:"provider"`
}

// GetTTSStatistics measures text at the configured rate for the active
// provider.
func (g *Generator) GetTTSStatistics(text string) Statistics {
	return ComputeStatistics(text, g.Settings().Rate, g.ActiveProvider())
}

// ComputeStatistics counts characters (runes) and whitespace-separated words
// in text. The duration estimate is words / (rate / 60), rounded to one
// decimal. rate <= 0 selects [DefaultRate].
func ComputeStatistics(text string, rate int, provider ProviderName) Statistics {
	if rate <= 0 {
		rate = DefaultRate
	}
	words := len(strings.Fields(text))
	secs := float64(words) / (float64(rate) / 60)
	return Statistics{
		Characters:               utf8.RuneCountInString(text),
		Words:                    words,
		EstimatedDurationSeconds: math.Round(secs*10) / 10,
		Provider:                 provider,
	}
}
