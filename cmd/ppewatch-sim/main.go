package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"ppewatch/internal/logging"
	"ppewatch/internal/simulator"
)

type simConfig struct {
	addr     string
	interval time.Duration
	camera   bool
	seed     int64
	logLevel string
}

func parseFlags(args []string) (simConfig, error) {
	cfg := simConfig{}
	fs := flag.NewFlagSet("ppewatch-sim", flag.ContinueOnError)
	fs.StringVar(&cfg.addr, "addr", "127.0.0.1:5000", "Listen address")
	fs.DurationVar(&cfg.interval, "interval", time.Second, "How often the simulated detector draws a new reading")
	fs.BoolVar(&cfg.camera, "camera", true, "Pretend a camera is attached")
	fs.Int64Var(&cfg.seed, "seed", 0, "Random seed (0 uses the clock)")
	fs.StringVar(&cfg.logLevel, "log-level", "info", "Log level")
	if err := fs.Parse(args); err != nil {
		return simConfig{}, err
	}
	if cfg.interval <= 0 {
		return simConfig{}, fmt.Errorf("interval must be positive, got %s", cfg.interval)
	}
	if cfg.seed == 0 {
		cfg.seed = time.Now().UnixNano()
	}
	return cfg, nil
}

func run(ctx context.Context, cfg simConfig, log zerolog.Logger) error {
	sim := simulator.New(simulator.WithCamera(cfg.camera), simulator.WithLogger(log))
	srv := &http.Server{
		Addr:              cfg.addr,
		Handler:           sim.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", cfg.addr).Msg("simulator listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		rng := rand.New(rand.NewSource(cfg.seed))
		ticker := time.NewTicker(cfg.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				sim.Randomize(rng)
			}
		}
	})
	return g.Wait()
}

func main() {
	cfg, err := parseFlags(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "ppewatch-sim: %v\n", err)
		os.Exit(2)
	}
	log, _, err := logging.New(logging.Options{Level: cfg.logLevel, Console: os.Stderr, Component: "ppewatch-sim"})
	if err != nil {
		fmt.Fprintf(os.Stderr, "ppewatch-sim: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, cfg, log); err != nil {
		log.Error().Err(err).Msg("simulator stopped")
		stop()
		os.Exit(1)
	}
	log.Info().Msg("simulator stopped")
}
