// Command dtnsim runs a DTN scenario to completion and reports what
// happened to every bundle.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"

	"github.com/signalsfoundry/dtn-simulator/internal/logging"
	"github.com/signalsfoundry/dtn-simulator/internal/observability"
	"github.com/signalsfoundry/dtn-simulator/internal/sim"
	"github.com/signalsfoundry/dtn-simulator/timectrl"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		fmt.Fprintf(os.Stderr, "dtnsim: %v\n", err)
		os.Exit(1)
	}
}

type options struct {
	scenario    string
	protocol    string
	steps       int
	order       string
	seed        int64
	pace        time.Duration
	historyPath string
	metricsPath string
	summary     bool
	logLevel    string
	logFormat   string
	tracing     bool
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var o options
	fs := flag.NewFlagSet("dtnsim", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&o.scenario, "scenario", "", "Scenario file (YAML or JSON)")
	fs.StringVar(&o.protocol, "protocol", "", "Override the routing protocol: cgr, epidemic, spray-and-wait")
	fs.IntVar(&o.steps, "steps", 0, "Override the number of ticks")
	fs.StringVar(&o.order, "order", "", "Override node processing order: ascending or seeded")
	fs.Int64Var(&o.seed, "seed", 0, "Seed for the seeded node order")
	fs.DurationVar(&o.pace, "pace", 0, "Wall-clock duration per tick; 0 runs accelerated")
	fs.StringVar(&o.historyPath, "history", "", "Write per-tick node state as JSON lines to this file")
	fs.StringVar(&o.metricsPath, "metrics", "", "Write Prometheus text metrics to this file after the run")
	fs.BoolVar(&o.summary, "summary", true, "Print a JSON summary to stdout")
	fs.StringVar(&o.logLevel, "log-level", "warn", "Log level: debug, info, warn, error")
	fs.StringVar(&o.logFormat, "log-format", "text", "Log format: text or json")
	fs.BoolVar(&o.tracing, "tracing", false, "Enable tracing using the DTNSIM_TRACING_* environment")
	if err := fs.Parse(args); err != nil {
		return o, err
	}
	if o.scenario == "" {
		return o, errors.New("-scenario is required")
	}
	return o, nil
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	o, err := parseFlags(args, stderr)
	if err != nil {
		return err
	}
	log := logging.New(logging.Config{Level: o.logLevel, Format: o.logFormat, Output: stderr})
	ctx, log = logging.WithRunLogger(ctx, log)

	sc, err := sim.LoadScenario(o.scenario)
	if err != nil {
		return err
	}
	if o.protocol != "" {
		sc.Protocol = o.protocol
	}
	if o.order != "" {
		sc.Order = o.order
	}
	if o.seed != 0 {
		sc.Seed = o.seed
	}
	if o.steps > 0 {
		sc.Steps = o.steps
	}
	if err := sc.Validate(); err != nil {
		return err
	}
	if sc.Steps == 0 {
		return fmt.Errorf("%w: steps must be set in the scenario or with -steps", sim.ErrInvalidScenario)
	}

	if o.tracing {
		cfg := observability.TracingConfigFromEnv()
		cfg.Enabled = true
		cfg.Run = observability.RunInfo{ID: logging.RunIDFromContext(ctx), Scenario: sc.Name, Protocol: sc.Protocol}
		shutdown, err := observability.InitTracing(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer observability.ShutdownWithTimeout(context.Background(), shutdown, log)
	}

	reg := prometheus.NewRegistry()
	metrics, err := observability.NewRoutingCollector(reg)
	if err != nil {
		return err
	}
	opts := sim.BuildOptions{
		Logger:   log,
		Recorder: metrics,
		Observer: metrics,
		Pacing:   o.pace,
		Mode:     timectrl.RealTime,
	}
	engine, err := sim.Build(sc, opts)
	if err != nil {
		return err
	}
	if err := engine.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	if o.historyPath != "" {
		if err := writeFile(o.historyPath, engine.History().WriteJSONL); err != nil {
			return fmt.Errorf("write history: %w", err)
		}
	}
	if o.metricsPath != "" {
		if err := writeFile(o.metricsPath, func(w io.Writer) error { return writeMetrics(w, reg) }); err != nil {
			return fmt.Errorf("write metrics: %w", err)
		}
	}
	if o.summary {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(engine.Summary()); err != nil {
			return err
		}
	}
	return nil
}

func writeFile(path string, write func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func writeMetrics(w io.Writer, g prometheus.Gatherer) error {
	families, err := g.Gather()
	if err != nil {
		return err
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}
