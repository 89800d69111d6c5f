package narration

import "errors"

var (
	// ErrProviderUnavailable is returned by [New] when neither TTS backend
	// can be constructed.
	ErrProviderUnavailable = errors.New("narration: no TTS provider available")

	// ErrSynthesisFailed is returned when every provider failed to render a
	// script. The wrapped error names each provider with its cause.
	ErrSynthesisFailed = errors.New("narration: synthesis failed")

	// ErrEmptyScript is returned when a script has no speakable lines.
	ErrEmptyScript = errors.New("narration: script is empty")

	// ErrFileNotFound is returned by [Generator.GetAudioInfo] for a missing path.
	ErrFileNotFound = errors.New("narration: audio file not found")

	// ErrUnsupportedLanguage describes a language substitution. It is only
	// ever reported through [Settings.Warning], never returned.
	ErrUnsupportedLanguage = errors.New("narration: unsupported language")
)
