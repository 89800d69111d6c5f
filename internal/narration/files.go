package narration

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/MrWong99/mangavoice/pkg/audio"
)

// filePrefix starts every generated file name.
const filePrefix = "manga_"

// AudioInfo describes a file on disk.
type AudioInfo struct {
	Path            string        `json:"path"`
	SizeBytes       int64         `json:"size_bytes"`
	SizeHuman       string        `json:"size_human"`
	Format          string        `json:"format"`
	Duration        time.Duration `json:"-"`
	DurationSeconds float64       `json:"duration_seconds"`
	SampleRate      int           `json:"sample_rate,omitempty"`
	Channels        int           `json:"channels,omitempty"`
	Provider        ProviderName  `json:"provider"`
	Modified        time.Time     `json:"modified"`
}

// SetOutputDirectory switches the directory that receives generated audio,
// creating it if needed. An empty dir selects [DefaultOutputDir].
func (g *Generator) SetOutputDirectory(dir string) error {
	if dir == "" {
		dir = DefaultOutputDir
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("narration: create output directory: %w", err)
	}
	g.mu.Lock()
	g.outputDir = dir
	g.mu.Unlock()
	return nil
}

// OutputDirectory returns the directory that receives generated audio.
func (g *Generator) OutputDirectory() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.outputDir
}

// writeOutput stores pcm as a WAV file and the script transcript next to it.
// The WAV is written to a temporary file first so a partial file is never
// visible under its final name. Both files exist or neither does.
func (g *Generator) writeOutput(provider ProviderName, script Script, s Settings, format audio.Format, pcm []byte) (*Result, error) {
	dir := g.OutputDirectory()
	now := g.now()
	base := fmt.Sprintf("%s%s_%s_%s", filePrefix, provider,
		now.Format("20060102_150405"), g.newID())
	path := filepath.Join(dir, base+".wav")

	if err := writeWAVFile(path, format, pcm); err != nil {
		return nil, fmt.Errorf("narration: write audio: %w", err)
	}

	transcript := filepath.Join(dir, base+"_transcript.txt")
	text := script.Transcript(TranscriptInfo{
		Provider:  provider,
		Generated: now,
		Language:  s.Language,
		Rate:      s.Rate,
	})
	if err := os.WriteFile(transcript, []byte(text), 0o644); err != nil {
		if rmErr := os.Remove(path); rmErr != nil {
			slog.Warn("remove audio after failed transcript", "path", path, "err", rmErr)
		}
		return nil, fmt.Errorf("narration: write transcript: %w", err)
	}

	d := format.Duration(len(pcm))
	return &Result{
		Path:            path,
		TranscriptPath:  transcript,
		Provider:        provider,
		Duration:        d,
		DurationSeconds: d.Seconds(),
		Format:          format,
	}, nil
}

func writeWAVFile(path string, format audio.Format, pcm []byte) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()

	w := bufio.NewWriter(tmp)
	if err = audio.EncodeWAV(w, format, pcm); err != nil {
		tmp.Close()
		return err
	}
	if err = w.Flush(); err != nil {
		tmp.Close()
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	if err = os.Chmod(tmp.Name(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// GetAudioInfo reports size, duration and format of the file at path.
// Duration and format details are only filled in for WAV files. A missing
// path returns [ErrFileNotFound].
func (g *Generator) GetAudioInfo(path string) (AudioInfo, error) {
	st, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return AudioInfo{}, fmt.Errorf("%w: %s", ErrFileNotFound, path)
	}
	if err != nil {
		return AudioInfo{}, fmt.Errorf("narration: stat %s: %w", path, err)
	}
	if st.IsDir() {
		return AudioInfo{}, fmt.Errorf("%w: %s is a directory", ErrFileNotFound, path)
	}

	info := AudioInfo{
		Path:      path,
		SizeBytes: st.Size(),
		SizeHuman: humanize.Bytes(uint64(st.Size())),
		Format:    strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), "."),
		Provider:  providerFromName(filepath.Base(path)),
		Modified:  st.ModTime(),
	}
	if info.Provider == "" {
		info.Provider = g.ActiveProvider()
	}

	f, err := os.Open(path)
	if err != nil {
		return AudioInfo{}, fmt.Errorf("narration: open %s: %w", path, err)
	}
	defer f.Close()

	wav, err := audio.ReadWAVInfo(bufio.NewReader(f))
	switch {
	case errors.Is(err, audio.ErrNotWAV):
		return info, nil
	case err != nil:
		return AudioInfo{}, fmt.Errorf("narration: read %s: %w", path, err)
	}
	info.Format = "wav"
	info.Duration = wav.Duration
	info.DurationSeconds = wav.Duration.Seconds()
	info.SampleRate = wav.Format.SampleRate
	info.Channels = wav.Format.Channels
	return info, nil
}

// providerFromName extracts the provider from a generated file name, or
// returns "" for names this package did not produce.
func providerFromName(name string) ProviderName {
	rest, ok := strings.CutPrefix(name, filePrefix)
	if !ok {
		return ""
	}
	p, _, _ := strings.Cut(rest, "_")
	switch ProviderName(p) {
	case Speechify, ElevenLabs:
		return ProviderName(p)
	}
	return ""
}

// CleanupOldFiles removes regular files in the output directory whose
// modification time is older than maxAge and returns how many were removed.
// Subdirectories are left alone. Removal errors do not stop the sweep; they
// are joined into the returned error. A missing directory removes nothing.
func (g *Generator) CleanupOldFiles(maxAge time.Duration) (int, error) {
	dir := g.OutputDirectory()
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("narration: read output directory: %w", err)
	}

	cutoff := g.now().Add(-maxAge)
	var (
		removed int
		errs    []error
	)
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				errs = append(errs, err)
			}
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}
		path := filepath.Join(dir, e.Name())
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
			continue
		}
		removed++
		slog.Debug("removed old audio file", "path", path, "age", g.now().Sub(info.ModTime()).Round(time.Second))
	}

	if removed > 0 {
		g.metrics.FilesCleaned.Add(context.Background(), int64(removed))
		slog.Info("cleaned up old audio files", "dir", dir, "removed", removed, "max_age", maxAge)
	}
	return removed, errors.Join(errs...)
}
