package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/signalsfoundry/dtn-simulator/internal/api"
	"github.com/signalsfoundry/dtn-simulator/internal/logging"
	"github.com/signalsfoundry/dtn-simulator/internal/observability"
	"github.com/signalsfoundry/dtn-simulator/internal/routing"
	"github.com/signalsfoundry/dtn-simulator/internal/sim"
	"github.com/signalsfoundry/dtn-simulator/timectrl"
)

// Config holds the server's runtime settings.
type Config struct {
	ListenAddress  string
	MetricsAddress string
	ScenarioPath   string
	LogLevel       string
	LogFormat      string
	// TickInterval paces the engine in real-time mode.
	TickInterval time.Duration
	Accelerated  bool
	// Steps overrides the scenario; zero keeps it, negative runs forever.
	Steps        int
	HistoryLimit int
	Tracing      observability.TracingConfig
}

func main() {
	var cfg Config
	flag.StringVar(&cfg.ListenAddress, "grpc-addr", ":50051", "TCP address the simulation gRPC server listens on")
	flag.StringVar(&cfg.MetricsAddress, "metrics-addr", ":9090", "HTTP address for Prometheus /metrics (empty disables)")
	flag.StringVar(&cfg.ScenarioPath, "scenario", "examples/lunar/scenario.yaml", "Scenario file (YAML or JSON)")
	flag.StringVar(&cfg.LogLevel, "log-level", "info", "Log level: debug, info, warn, error")
	flag.StringVar(&cfg.LogFormat, "log-format", "text", "Log format: text or json")
	flag.DurationVar(&cfg.TickInterval, "tick", time.Second, "Wall-clock duration of one tick")
	flag.BoolVar(&cfg.Accelerated, "accelerated", false, "Run ticks back to back instead of pacing them")
	flag.IntVar(&cfg.Steps, "steps", -1, "Ticks to run; 0 keeps the scenario value, negative runs until stopped")
	flag.IntVar(&cfg.HistoryLimit, "history", 1024, "Tick records kept for GetTick (0 keeps all)")
	flag.Parse()
	cfg.Tracing = observability.TracingConfigFromEnv()

	log := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	lis, err := net.Listen("tcp", cfg.ListenAddress)
	if err != nil {
		log.Error(ctx, "failed to listen for gRPC", logging.String("addr", cfg.ListenAddress), logging.Err(err))
		os.Exit(1)
	}
	if err := run(ctx, cfg, log, lis); err != nil {
		log.Error(ctx, "server exited", logging.Err(err))
		os.Exit(1)
	}
}

// run serves the simulation API on lis and drives the engine until ctx is
// cancelled.
func run(ctx context.Context, cfg Config, log logging.Logger, lis net.Listener) error {
	log = logging.OrNoop(log)
	ctx, runLog := logging.WithRunLogger(ctx, log)

	sc, err := sim.LoadScenario(cfg.ScenarioPath)
	if err != nil {
		return fmt.Errorf("load scenario: %w", err)
	}

	tracing := cfg.Tracing
	tracing.Run = observability.RunInfo{ID: logging.RunIDFromContext(ctx), Scenario: sc.Name, Protocol: sc.Protocol}
	shutdownTracing, err := observability.InitTracing(ctx, tracing, runLog)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, runLog)

	reg := prometheus.NewRegistry()
	rpcMetrics, err := observability.NewRPCCollector(reg)
	if err != nil {
		return err
	}
	routingMetrics, err := observability.NewRoutingCollector(reg)
	if err != nil {
		return err
	}

	obs := &tickObserver{metrics: routingMetrics}
	opts := sim.BuildOptions{
		Logger:       runLog,
		Recorder:     routingMetrics,
		Observer:     obs,
		Mode:         timectrl.RealTime,
		Pacing:       cfg.TickInterval,
		HistoryLimit: cfg.HistoryLimit,
		Steps:        cfg.Steps,
	}
	if cfg.Accelerated {
		opts.Mode = timectrl.Accelerated
	}
	engine, err := sim.Build(sc, opts)
	if err != nil {
		return fmt.Errorf("build simulation: %w", err)
	}
	obs.engine = engine
	publishNetworkCounts(engine, rpcMetrics)

	server := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			api.LoggingUnaryServerInterceptor(runLog),
			rpcMetrics.UnaryServerInterceptor(),
			api.TracingUnaryServerInterceptor(),
		),
	)
	healthSrv := health.NewServer()
	healthpb.RegisterHealthServer(server, healthSrv)
	api.RegisterSimulationServer(server, api.NewSimulationService(engine, runLog))
	reflection.Register(server)
	healthSrv.SetServingStatus(api.ServiceName, healthpb.HealthCheckResponse_SERVING)

	metricsSrv := serveMetrics(ctx, cfg.MetricsAddress, rpcMetrics, runLog)

	serveErr := make(chan error, 1)
	go func() {
		runLog.Info(ctx, "starting simulation gRPC server", logging.String("addr", lis.Addr().String()))
		serveErr <- server.Serve(lis)
	}()

	simCtx, cancelSim := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := engine.Run(simCtx); err != nil && !errors.Is(err, context.Canceled) {
			runLog.Warn(ctx, "simulation stopped", logging.Err(err))
		}
		runLog.Info(ctx, "simulation finished; API stays up", logging.Int("ticks", engine.Ticks()))
	}()

	var result error
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		result = err
	}

	runLog.Info(context.Background(), "shutting down simulation server")
	cancelSim()
	wg.Wait()
	healthSrv.Shutdown()
	server.GracefulStop()

	if metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	if errors.Is(result, grpc.ErrServerStopped) {
		return nil
	}
	return result
}

// tickObserver forwards tick stats to the routing metrics and samples the
// route cache of every contact-graph node.
type tickObserver struct {
	metrics *observability.RoutingCollector
	engine  *sim.Engine
}

func (o *tickObserver) TickCompleted(ctx context.Context, s sim.TickStats) {
	o.metrics.TickCompleted(ctx, s)
	if o.engine == nil {
		return
	}
	nw := o.engine.Network()
	var hits, misses int64
	for _, id := range nw.Directory().Routers() {
		p, ok := nw.Protocol(id)
		if !ok {
			continue
		}
		if node, ok := p.(*routing.CGRNode); ok {
			h, m, _ := node.Router().CacheStats()
			hits += h
			misses += m
		}
	}
	o.metrics.SetContactCacheHitRatio(hits, misses)
}

func publishNetworkCounts(engine *sim.Engine, c *observability.RPCCollector) {
	dir := engine.Network().Directory()
	routers := len(dir.Routers())
	contacts := 0
	if truth := engine.Truth(); truth != nil {
		contacts = truth.Len()
	}
	c.SetNetworkCounts(routers, dir.Len()-routers, contacts)
}

func serveMetrics(ctx context.Context, addr string, collector *observability.RPCCollector, log logging.Logger) *http.Server {
	if addr == "" || collector == nil {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn(ctx, "metrics server exited", logging.Err(err))
		}
	}()

	log.Info(ctx, "serving Prometheus metrics", logging.String("addr", addr))
	return srv
}
