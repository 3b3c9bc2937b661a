package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/timzifer/ctxguard/config"
	"github.com/timzifer/ctxguard/diagnostics"
	"github.com/timzifer/ctxguard/guard"
	"github.com/timzifer/ctxguard/internal/logging"
	"github.com/timzifer/ctxguard/simulation"
)

type runOptions struct {
	configPath     string
	liveView       bool
	liveViewListen string
	simulate       bool
}

func main() {
	cfgPath := flag.String("config", "config.yaml", "Path to configuration file")
	configCheck := flag.Bool("config-check", false, "Validate configuration and exit")
	liveView := flag.Bool("live-view", false, "Enable live view web interface")
	liveViewListen := flag.String("live-view-listen", "", "Live view listen address (overrides live_view.listen)")
	simulate := flag.Bool("simulate", false, "Drive simulated widgets through the context pool")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	if *configCheck {
		printConfigSummary(cfg)
		os.Exit(0)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger, cleanup, err := logging.Setup(cfg.Logging)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to setup logger")
	}
	defer cleanup()
	log.Logger = logger

	opts := runOptions{
		configPath:     *cfgPath,
		liveView:       *liveView || cfg.LiveView.Enabled,
		liveViewListen: *liveViewListen,
		simulate:       *simulate,
	}
	if opts.liveViewListen == "" {
		opts.liveViewListen = cfg.LiveViewListen()
	}

	if err := run(ctx, cfg, opts, logger); err != nil {
		logger.Fatal().Err(err).Msg("service stopped with error")
	}
}

func run(ctx context.Context, cfg *config.Config, opts runOptions, logger zerolog.Logger) error {
	m, err := guard.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("create context pool: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return m.Run(gctx)
	})

	if opts.liveView {
		srv, err := diagnostics.Start(opts.liveViewListen, m, cfg.DiagnosticsInterval(), logger)
		if err != nil {
			return fmt.Errorf("start live view: %w", err)
		}
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Close(shutdownCtx)
		})
	}

	var sim *simulation.Simulation
	if opts.simulate {
		sim = simulation.New(m, simulation.OptionsFromConfig(cfg.Simulation), logger)
		m.Scheduler().Post(sim.Start)
	}

	if cfg.HotReload {
		r, err := newReloader(opts.configPath, m, logger)
		if err != nil {
			return err
		}
		g.Go(func() error {
			return r.Run(gctx, time.Second)
		})
	}

	err = g.Wait()
	if sim != nil {
		sim.Stop()
	}
	m.Close()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func printConfigSummary(cfg *config.Config) {
	fmt.Printf("Context capacity: %d\n", cfg.ContextCapacity())
	fmt.Printf("Reconcile delay:  %s\n", cfg.ReconcileDelay())
	fmt.Printf("Settle delay:     %s\n", cfg.SettleDelay())
	fmt.Printf("Auto retry delay: %s\n", cfg.AutoRetryDelay())
	fmt.Printf("Live view:        %t (%s, poll %s)\n", cfg.LiveView.Enabled, cfg.LiveViewListen(), cfg.DiagnosticsInterval())
	fmt.Printf("Hot reload:       %t\n", cfg.HotReload)
	fmt.Println("Configuration check completed successfully.")
}
