package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"ppewatch/internal/config"
	"ppewatch/internal/dispatch"
	"ppewatch/internal/logging"
	"ppewatch/internal/reconcile"
	"ppewatch/internal/remote"
	"ppewatch/internal/session"
)

type appConfig struct {
	config.Config
	configPath string
	headless   bool
}

// parseFlags loads the config file and environment, then applies only the
// flags that were given on the command line.
func parseFlags(args []string) (appConfig, error) {
	fs := flag.NewFlagSet("ppewatch-tui", flag.ContinueOnError)
	configPath := fs.String("config", strings.TrimSpace(os.Getenv(config.PathEnv)), "YAML config file (default: user config dir, optional)")
	serviceURL := fs.String("service-url", "", "Detection service base URL")
	pollInterval := fs.Duration("poll-interval", 0, "Compliance poll interval")
	requestTimeout := fs.Duration("request-timeout", 0, "Per-request timeout")
	logFile := fs.String("log-file", "", "Diagnostic log file")
	logLevel := fs.String("log-level", "", "Log level (debug, info, warn, error)")
	altScreen := fs.Bool("alt-screen", true, "Use the terminal alternate screen")
	launcher := fs.Bool("launcher", true, "Show the launcher screen first")
	headless := fs.Bool("headless", false, "Poll and log to stderr without the UI")
	if err := fs.Parse(args); err != nil {
		return appConfig{}, err
	}

	loaded, err := config.Load(*configPath)
	if err != nil {
		return appConfig{}, err
	}
	cfg := appConfig{Config: loaded, configPath: *configPath, headless: *headless}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "service-url":
			cfg.ServiceURL = *serviceURL
		case "poll-interval":
			cfg.PollInterval = *pollInterval
		case "request-timeout":
			cfg.RequestTimeout = *requestTimeout
		case "log-file":
			cfg.LogFile = *logFile
		case "log-level":
			cfg.LogLevel = *logLevel
		case "alt-screen":
			cfg.AltScreen = *altScreen
		case "launcher":
			cfg.Launcher = *launcher
		}
	})
	if err := cfg.Validate(); err != nil {
		return appConfig{}, fmt.Errorf("invalid flags: %w", err)
	}
	return cfg, nil
}

func run(cfg appConfig) error {
	var console io.Writer
	if cfg.headless {
		console = os.Stderr
	}
	log, closer, err := logging.New(logging.Options{
		Path:      cfg.LogFile,
		Level:     cfg.LogLevel,
		Console:   console,
		Component: "ppewatch-tui",
	})
	if err != nil {
		return err
	}
	defer closer.Close()

	client, err := remote.New(cfg.ServiceURL, remote.WithTimeout(cfg.RequestTimeout), remote.WithLogger(log))
	if err != nil {
		return err
	}
	store := session.NewStore()
	disp := dispatch.New(store, client, dispatch.WithLogger(log))
	recon := reconcile.New(store, client, reconcile.WithLogger(log))
	log.Info().
		Str("service", cfg.ServiceURL).
		Dur("poll_interval", cfg.PollInterval).
		Str("config", nullCoalesce(cfg.configPath, config.DefaultPath())).
		Msg("starting")

	if cfg.headless {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runHeadless(ctx, cfg, store, disp, recon, log)
	}

	opts := []tea.ProgramOption{tea.WithMouseCellMotion()}
	if cfg.AltScreen {
		opts = append(opts, tea.WithAltScreen())
	}
	p := tea.NewProgram(newModel(cfg, store, disp, recon, log), opts...)
	_, err = p.Run()
	return err
}

// runHeadless seeds the session and polls until ctx is done, logging each new
// activity record.
func runHeadless(ctx context.Context, cfg appConfig, store *session.Store, disp *dispatch.Dispatcher, recon *reconcile.Reconciler, log zerolog.Logger) error {
	var newest session.Record
	cancel := store.Subscribe(func(state session.State) {
		if len(state.Activity) == 0 || state.Activity[0] == newest {
			return
		}
		newest = state.Activity[0]
		log.Info().
			Str("kind", string(newest.Kind)).
			Str("level", string(newest.Level)).
			Uint64("generation", state.Generation).
			Msg(newest.Message)
	})
	defer cancel()

	if _, err := disp.Seed(ctx); err != nil {
		return fmt.Errorf("initial sync: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return recon.Run(ctx, cfg.PollInterval)
	})
	g.Go(func() error {
		ticker := time.NewTicker(mediaCheckEvery * cfg.PollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				_, _ = disp.VerifyMedia(ctx)
			}
		}
	})
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info().Msg("stopped")
	return nil
}

func main() {
	cfg, err := parseFlags(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "ppewatch-tui: %v\n", err)
		os.Exit(2)
	}
	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "ppewatch-tui fatal error: %v\n", err)
		os.Exit(1)
	}
}
