// Command mangavoice renders manga scripts of narrator and character lines
// into narrated audio using Speechify or ElevenLabs, with automatic fallback
// between the two.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/MrWong99/mangavoice/internal/config"
)

const usageText = `usage: mangavoice [-config file.yaml] [-env .env] <command> [flags]

commands:
  generate   render a JSON script to a WAV file
  voices     list voices of the active provider
  stats      word count and estimated speaking time of a text
  info       show size and duration of an audio file
  languages  list supported languages
  cleanup    delete generated files older than the max age
  serve      run the HTTP API
`

func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	// ── Global flags ──────────────────────────────────────────────────────────
	fs := flag.NewFlagSet("mangavoice", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() { fmt.Fprint(stderr, usageText) }
	configPath := fs.String("config", "", "path to the YAML configuration file (optional)")
	envFile := fs.String("env", ".env", "dotenv file loaded into the environment if present")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return 2
	}
	name, cmdArgs := fs.Arg(0), fs.Args()[1:]

	cmd, ok := commands[name]
	if !ok {
		fmt.Fprintf(stderr, "mangavoice: unknown command %q\n\n", name)
		fs.Usage()
		return 2
	}

	// ── Configuration ─────────────────────────────────────────────────────────
	explicitEnv := false
	fs.Visit(func(f *flag.Flag) { explicitEnv = explicitEnv || f.Name == "env" })
	if err := config.LoadEnvFile(*envFile, explicitEnv); err != nil {
		fmt.Fprintf(stderr, "mangavoice: %v\n", err)
		return 1
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(stderr, "mangavoice: config file %q not found; copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(stderr, "mangavoice: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	slog.SetDefault(newLogger(stderr, cfg.LogLevel))

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	env := &cmdEnv{
		cfg:        cfg,
		configPath: *configPath,
		reg:        newRegistry(),
		stdout:     stdout,
		stderr:     stderr,
	}
	if err := cmd(ctx, env, cmdArgs); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		var u usageError
		if errors.As(err, &u) {
			fmt.Fprintf(stderr, "mangavoice %s: %v\n", name, err)
			return 2
		}
		slog.Error(name+" failed", "err", err)
		return 1
	}
	return 0
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(w io.Writer, level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl}))
}
