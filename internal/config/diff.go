package config

// ConfigDiff describes what changed between two configs.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// SettingsChanged is true when language or rate changed. Both can be
	// applied to a running generator.
	SettingsChanged bool

	// VoicesChanged is true when any narrator or character voice ID changed.
	VoicesChanged bool

	// RestartRequired lists changed fields that only take effect after a
	// restart (provider selection, credentials, output directory, ...).
	RestartRequired []string
}

// Changed reports whether anything differs.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.SettingsChanged || d.VoicesChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.LogLevel != new.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.LogLevel
	}

	ot, nt := old.TTS, new.TTS
	if ot.Language != nt.Language || ot.Rate != nt.Rate {
		d.SettingsChanged = true
	}
	if voicesOf(ot.Speechify) != voicesOf(nt.Speechify) || voicesOf(ot.ElevenLabs) != voicesOf(nt.ElevenLabs) {
		d.VoicesChanged = true
	}

	restart := func(field string, changed bool) {
		if changed {
			d.RestartRequired = append(d.RestartRequired, field)
		}
	}
	restart("output_dir", old.OutputDir != new.OutputDir)
	restart("server.listen_addr", old.Server.ListenAddr != new.Server.ListenAddr)
	restart("tts.provider", ot.Provider != nt.Provider)
	restart("tts.concurrency", ot.Concurrency != nt.Concurrency)
	restart("tts.line_pause", ot.LinePause != nt.LinePause)
	restart("tts.sticky_fallback", ot.StickyFallback != nt.StickyFallback)
	restart("tts.circuit_breaker", ot.CircuitBreaker != nt.CircuitBreaker)
	restart("tts.speechify", connOf(ot.Speechify) != connOf(nt.Speechify))
	restart("tts.elevenlabs", connOf(ot.ElevenLabs) != connOf(nt.ElevenLabs))

	return d
}

type voicePair struct{ narrator, character string }

func voicesOf(e ProviderEntry) voicePair {
	return voicePair{e.NarratorVoiceID, e.CharacterVoiceID}
}

type connSettings struct {
	apiKey, baseURL, model string
	rateLimit              float64
	rateBurst              int
}

func connOf(e ProviderEntry) connSettings {
	return connSettings{e.APIKey, e.BaseURL, e.Model, e.RateLimit, e.RateBurst}
}
