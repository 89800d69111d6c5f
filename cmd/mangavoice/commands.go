package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/MrWong99/mangavoice/internal/config"
	"github.com/MrWong99/mangavoice/internal/narration"
	"github.com/MrWong99/mangavoice/internal/observe"
)

// cmdEnv is what every subcommand receives.
type cmdEnv struct {
	cfg        *config.Config
	configPath string
	reg        *config.Registry
	stdout     io.Writer
	stderr     io.Writer
}

func (e *cmdEnv) generator(ctx context.Context) (*narration.Generator, error) {
	return newGenerator(ctx, e.cfg, e.reg, observe.DefaultMetrics())
}

// usageError marks a command-line mistake (exit status 2).
type usageError struct{ msg string }

func (u usageError) Error() string { return u.msg }

type command func(ctx context.Context, env *cmdEnv, args []string) error

var commands = map[string]command{
	"generate":  cmdGenerate,
	"voices":    cmdVoices,
	"stats":     cmdStats,
	"info":      cmdInfo,
	"languages": cmdLanguages,
	"cleanup":   cmdCleanup,
	"serve":     cmdServe,
}

func newFlagSet(name string, env *cmdEnv) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(env.stderr)
	return fs
}

// parseFlags parses args, turning flag errors other than -h into usage
// errors.
func parseFlags(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return err
		}
		return usageError{err.Error()}
	}
	return nil
}

// stringList is a repeatable string flag.
type stringList []string

func (s *stringList) String() string     { return strings.Join(*s, ",") }
func (s *stringList) Set(v string) error { *s = append(*s, v); return nil }

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// ── generate ──────────────────────────────────────────────────────────────────

func cmdGenerate(ctx context.Context, env *cmdEnv, args []string) error {
	fs := newFlagSet("generate", env)
	scriptPath := fs.String("script", "", `JSON script file, or "-" for stdin`)
	lang := fs.String("lang", "", "language code for this script (default: configured language)")
	rate := fs.Int("rate", 0, "speaking rate in words per minute (default: configured rate)")
	asJSON := fs.Bool("json", false, "print the result as JSON")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if *scriptPath == "" {
		return usageError{"-script is required"}
	}
	if *rate < 0 {
		return usageError{"-rate must not be negative"}
	}

	var r io.Reader = os.Stdin
	if *scriptPath != "-" {
		f, err := os.Open(*scriptPath)
		if err != nil {
			return fmt.Errorf("open script: %w", err)
		}
		defer f.Close()
		r = f
	}
	script, err := narration.ParseScript(r)
	if err != nil {
		return err
	}

	gen, err := env.generator(ctx)
	if err != nil {
		return err
	}
	res, err := gen.Generate(ctx, script, narration.Options{Language: *lang, Rate: *rate})
	if err != nil {
		return err
	}

	if *asJSON {
		return printJSON(env.stdout, res)
	}
	if res.Warning != "" {
		fmt.Fprintf(env.stderr, "warning: %s\n", res.Warning)
	}
	fmt.Fprintf(env.stdout, "%s\n", res.Path)
	fmt.Fprintf(env.stdout, "  provider:   %s\n", res.Provider)
	fmt.Fprintf(env.stdout, "  lines:      %d\n", res.Lines)
	fmt.Fprintf(env.stdout, "  duration:   %s\n", res.Duration.Round(100*time.Millisecond))
	fmt.Fprintf(env.stdout, "  transcript: %s\n", res.TranscriptPath)
	return nil
}

// ── voices ────────────────────────────────────────────────────────────────────

func cmdVoices(ctx context.Context, env *cmdEnv, args []string) error {
	fs := newFlagSet("voices", env)
	gender := fs.String("gender", "", "only voices of this gender")
	locale := fs.String("locale", "", `only voices supporting this locale ("en" matches "en-US")`)
	var tags stringList
	fs.Var(&tags, "tag", "only voices carrying this tag (repeatable)")
	name := fs.String("name", "", "rank voices by how closely their name matches this")
	models := fs.Bool("models", false, "print the distinct model names instead of voices")
	asJSON := fs.Bool("json", false, "print JSON")
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	gen, err := env.generator(ctx)
	if err != nil {
		return err
	}
	catalog, err := gen.GetAvailableVoices(ctx)
	if err != nil {
		return err
	}
	catalog.Voices = narration.FilterVoiceModels(catalog.Voices, narration.VoiceFilter{
		Gender: *gender,
		Locale: *locale,
		Tags:   tags,
	})
	catalog.Voices = narration.SearchVoices(catalog.Voices, *name)
	catalog.Count = len(catalog.Voices)

	if *models {
		names := narration.ModelNames(catalog.Voices)
		if *asJSON {
			return printJSON(env.stdout, names)
		}
		for _, n := range names {
			fmt.Fprintln(env.stdout, n)
		}
		return nil
	}
	if *asJSON {
		return printJSON(env.stdout, catalog)
	}

	tw := tabwriter.NewWriter(env.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tGENDER\tLOCALE\tTAGS")
	for _, v := range catalog.Voices {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", v.ID, v.Name, v.Gender, v.Locale, strings.Join(v.Tags, ","))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(env.stdout, "\n%d voices from %s\n", catalog.Count, catalog.Provider)
	return nil
}

// ── stats ─────────────────────────────────────────────────────────────────────

func cmdStats(_ context.Context, env *cmdEnv, args []string) error {
	fs := newFlagSet("stats", env)
	text := fs.String("text", "", "text to measure (default: remaining arguments)")
	rate := fs.Int("rate", 0, "speaking rate in words per minute (default: configured rate)")
	asJSON := fs.Bool("json", false, "print JSON")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	t := *text
	if t == "" {
		t = strings.Join(fs.Args(), " ")
	}
	if strings.TrimSpace(t) == "" {
		return usageError{"nothing to measure; pass -text or arguments"}
	}

	// No provider is contacted, so none needs to be constructed.
	r := env.cfg.TTS.Rate
	if *rate > 0 {
		r = *rate
	}
	st := narration.ComputeStatistics(t, r, narration.ProviderName(env.cfg.TTS.Provider))
	if *asJSON {
		return printJSON(env.stdout, st)
	}
	fmt.Fprintf(env.stdout, "characters: %d\nwords:      %d\nestimated:  %.1fs at %d wpm\n",
		st.Characters, st.Words, st.EstimatedDurationSeconds, max(r, 1))
	return nil
}

// ── info ──────────────────────────────────────────────────────────────────────

func cmdInfo(ctx context.Context, env *cmdEnv, args []string) error {
	fs := newFlagSet("info", env)
	asJSON := fs.Bool("json", false, "print JSON")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return usageError{"expected exactly one file path"}
	}

	gen, err := env.generator(ctx)
	if err != nil {
		return err
	}
	info, err := gen.GetAudioInfo(fs.Arg(0))
	if err != nil {
		return err
	}
	if *asJSON {
		return printJSON(env.stdout, info)
	}
	fmt.Fprintf(env.stdout, "%s\n", info.Path)
	fmt.Fprintf(env.stdout, "  size:     %s\n", info.SizeHuman)
	fmt.Fprintf(env.stdout, "  format:   %s\n", info.Format)
	if info.Duration > 0 {
		fmt.Fprintf(env.stdout, "  duration: %s (%d Hz, %d ch)\n",
			info.Duration.Round(10*time.Millisecond), info.SampleRate, info.Channels)
	}
	fmt.Fprintf(env.stdout, "  provider: %s\n", info.Provider)
	fmt.Fprintf(env.stdout, "  modified: %s\n", humanize.Time(info.Modified))
	return nil
}

// ── languages ─────────────────────────────────────────────────────────────────

func cmdLanguages(_ context.Context, env *cmdEnv, args []string) error {
	fs := newFlagSet("languages", env)
	asJSON := fs.Bool("json", false, "print JSON")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	langs := narration.Languages()
	if *asJSON {
		return printJSON(env.stdout, langs)
	}
	tw := tabwriter.NewWriter(env.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CODE\tLOCALE\tNAME\tSUPPORT")
	for _, l := range langs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", l.Code, l.Locale, l.Name, l.Tier)
	}
	return tw.Flush()
}

// ── cleanup ───────────────────────────────────────────────────────────────────

func cmdCleanup(ctx context.Context, env *cmdEnv, args []string) error {
	fs := newFlagSet("cleanup", env)
	maxAge := fs.Duration("max-age", env.cfg.MaxFileAge, "remove files older than this")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if *maxAge < 0 {
		return usageError{"-max-age must not be negative"}
	}

	gen, err := env.generator(ctx)
	if err != nil {
		return err
	}
	n, err := gen.CleanupOldFiles(*maxAge)
	fmt.Fprintf(env.stdout, "removed %s from %s\n",
		humanize.Comma(int64(n))+" "+plural(n, "file", "files"), gen.OutputDirectory())
	return err
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
