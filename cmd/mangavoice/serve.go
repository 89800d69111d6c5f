package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/MrWong99/mangavoice/internal/config"
	"github.com/MrWong99/mangavoice/internal/health"
	"github.com/MrWong99/mangavoice/internal/narration"
	"github.com/MrWong99/mangavoice/internal/observe"
	"github.com/MrWong99/mangavoice/internal/server"
)

// version is overridden at build time via -ldflags "-X main.version=...".
var version = "dev"

func cmdServe(ctx context.Context, env *cmdEnv, args []string) error {
	fs := newFlagSet("serve", env)
	addr := fs.String("addr", "", "listen address (default: server.listen_addr)")
	cleanupEvery := fs.Duration("cleanup-interval", 0, "remove files older than max_file_age at this interval (0 disables)")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if *addr != "" {
		env.cfg.Server.ListenAddr = *addr
	}

	// ── Telemetry ─────────────────────────────────────────────────────────────
	tel, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown", "err", err)
		}
	}()

	gen, err := newGenerator(ctx, env.cfg, env.reg, tel.Metrics)
	if err != nil {
		return err
	}
	printStartupSummary(env.stdout, env.cfg, env.reg, gen)

	// ── Hot reload ────────────────────────────────────────────────────────────
	maxAge := func() time.Duration { return env.cfg.MaxFileAge }
	if env.configPath != "" {
		w, err := config.NewWatcher(env.configPath, func(old, new *config.Config) {
			applyConfigChange(gen, env.stderr, old, new)
		})
		if err != nil {
			return fmt.Errorf("watch config: %w", err)
		}
		defer w.Stop()
		maxAge = func() time.Duration { return w.Current().MaxFileAge }
		go reloadOnHangup(ctx, w)
	}

	if *cleanupEvery > 0 {
		go runCleanup(ctx, gen, *cleanupEvery, maxAge)
	}

	h := health.New(
		health.WritableDir("output_dir", gen.OutputDirectory),
		health.Checker{Name: "providers", Check: gen.Ready},
	)
	srv := server.New(gen, serverConfig(env.cfg),
		server.WithMetrics(tel.Metrics),
		server.WithMetricsHandler(tel.MetricsHandler()),
		server.WithHealth(h),
	)
	return srv.Run(ctx)
}

func serverConfig(cfg *config.Config) server.Config {
	sc := server.Config{
		Addr:            cfg.Server.ListenAddr,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}
	if cfg.Server.TLS != nil {
		sc.CertFile = cfg.Server.TLS.CertFile
		sc.KeyFile = cfg.Server.TLS.KeyFile
	}
	return sc
}

// applyConfigChange pushes the parts of a reloaded config that can change
// at runtime into the generator and logs the rest.
func applyConfigChange(gen *narration.Generator, logOut io.Writer, old, new *config.Config) {
	d := config.Diff(old, new)
	if !d.Changed() {
		return
	}
	if d.LogLevelChanged {
		slog.SetDefault(newLogger(logOut, d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.SettingsChanged {
		s := gen.Configure(new.TTS.Language, new.TTS.Rate)
		if s.Warning != "" {
			slog.Warn("config reload", "warning", s.Warning)
		}
		slog.Info("narration settings changed", "language", s.Language, "rate", s.Rate)
	}
	if d.VoicesChanged {
		gen.SetVoices(narration.Speechify, narration.VoiceIDs{
			Narrator:  new.TTS.Speechify.NarratorVoiceID,
			Character: new.TTS.Speechify.CharacterVoiceID,
		})
		gen.SetVoices(narration.ElevenLabs, narration.VoiceIDs{
			Narrator:  new.TTS.ElevenLabs.NarratorVoiceID,
			Character: new.TTS.ElevenLabs.CharacterVoiceID,
		})
		slog.Info("voice ids changed")
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes need a restart to take effect", "fields", strings.Join(d.RestartRequired, ", "))
	}
}

// reloadOnHangup rereads the config file on SIGHUP without waiting for the
// next poll.
func reloadOnHangup(ctx context.Context, w *config.Watcher) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			changed, err := w.Reload()
			if err != nil {
				slog.Warn("config reload on SIGHUP", "err", err)
				continue
			}
			slog.Info("config reload on SIGHUP", "changed", changed)
		}
	}
}

// runCleanup removes expired files every interval until ctx is done. maxAge
// is read on each tick so a reloaded max_file_age applies without a restart.
func runCleanup(ctx context.Context, gen *narration.Generator, every time.Duration, maxAge func() time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := gen.CleanupOldFiles(maxAge())
			if err != nil {
				slog.Warn("cleanup", "removed", n, "err", err)
				continue
			}
			if n > 0 {
				slog.Info("cleanup", "removed", n)
			}
		}
	}
}

func printStartupSummary(w io.Writer, cfg *config.Config, reg *config.Registry, gen *narration.Generator) {
	s := gen.Settings()
	fmt.Fprintln(w, "╔═══════════════════════════════════════╗")
	fmt.Fprintln(w, "║       mangavoice startup summary      ║")
	fmt.Fprintln(w, "╠═══════════════════════════════════════╣")
	for _, name := range reg.TTSNames() {
		entry, ok := cfg.TTS.Entry(name)
		if !ok {
			continue
		}
		printProvider(w, gen, narration.ProviderName(name), entry.Model)
	}
	fmt.Fprintf(w, "║  Active          : %-19s ║\n", gen.ActiveProvider())
	fmt.Fprintf(w, "║  Language        : %-19s ║\n", s.Locale)
	fmt.Fprintf(w, "║  Rate (wpm)      : %-19d ║\n", s.Rate)
	fmt.Fprintf(w, "║  Output dir      : %-19s ║\n", truncate(gen.OutputDirectory()))
	fmt.Fprintf(w, "║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	fmt.Fprintln(w, "╚═══════════════════════════════════════╝")
}

func printProvider(w io.Writer, gen *narration.Generator, p narration.ProviderName, model string) {
	value := "(not configured)"
	for _, have := range gen.Providers() {
		if have == p {
			value = string(p)
			if model != "" {
				value += " / " + model
			}
		}
	}
	fmt.Fprintf(w, "║  %-12s    : %-19s ║\n", p, truncate(value))
}

func truncate(s string) string {
	if len([]rune(s)) > 19 {
		return string([]rune(s)[:18]) + "…"
	}
	return s
}
