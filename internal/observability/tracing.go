package observability

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/signalsfoundry/dtn-simulator/internal/logging"
)

// Attribute keys shared by simulator spans and the tracer resource.
const (
	TickKey     = attribute.Key("dtn.tick")
	RunIDKey    = attribute.Key("dtn.run_id")
	ScenarioKey = attribute.Key("dtn.scenario")
	ProtocolKey = attribute.Key("dtn.protocol")
)

// RunInfo identifies the simulation run every exported span belongs to.
type RunInfo struct {
	ID       string
	Scenario string
	Protocol string
}

func (r RunInfo) attributes() []attribute.KeyValue {
	var kv []attribute.KeyValue
	if r.ID != "" {
		kv = append(kv, RunIDKey.String(r.ID))
	}
	if r.Scenario != "" {
		kv = append(kv, ScenarioKey.String(r.Scenario))
	}
	if r.Protocol != "" {
		kv = append(kv, ProtocolKey.String(r.Protocol))
	}
	return kv
}

// TracingConfig governs how simulator tracing is initialised.
type TracingConfig struct {
	Enabled     bool
	ServiceName string
	Exporter    string // stdout | otlp
	Endpoint    string // otlp collector host:port
	SampleRatio float64
	// TickEvery keeps the whole trace of every Nth tick and drops the
	// others. Zero samples tick traces by SampleRatio.
	TickEvery int64
	Run       RunInfo
	// Output receives stdout-exporter spans. Defaults to os.Stdout.
	Output io.Writer
}

// TracingConfigFromEnv reads the DTNSIM_TRACING_* and DTNSIM_OTLP_ENDPOINT
// variables. Run is left for the caller to fill once the scenario is known.
func TracingConfigFromEnv() TracingConfig {
	cfg := TracingConfig{
		Enabled:     strings.EqualFold(os.Getenv("DTNSIM_TRACING_ENABLED"), "true"),
		ServiceName: envOr("DTNSIM_TRACING_SERVICE_NAME", "dtnsim"),
		Exporter:    strings.ToLower(envOr("DTNSIM_TRACING_EXPORTER", "stdout")),
		Endpoint:    os.Getenv("DTNSIM_OTLP_ENDPOINT"),
		SampleRatio: 1,
	}
	if v, err := strconv.ParseFloat(os.Getenv("DTNSIM_TRACING_SAMPLE_RATIO"), 64); err == nil && v >= 0 && v <= 1 {
		cfg.SampleRatio = v
	}
	if v, err := strconv.ParseInt(os.Getenv("DTNSIM_TRACING_TICK_EVERY"), 10, 64); err == nil && v > 0 {
		cfg.TickEvery = v
	}
	return cfg
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// Sampler returns the root sampler for cfg wrapped so that child spans
// follow their parent's decision.
func (cfg TracingConfig) Sampler() sdktrace.Sampler {
	var root sdktrace.Sampler = sdktrace.TraceIDRatioBased(cfg.SampleRatio)
	if cfg.TickEvery > 0 {
		root = tickSampler{every: cfg.TickEvery, fallback: root}
	}
	return sdktrace.ParentBased(root)
}

// tickSampler decides root spans that carry TickKey by tick number, so a
// sampled tick keeps every route and contact span beneath it. Other roots,
// such as RPCs, go to fallback.
type tickSampler struct {
	every    int64
	fallback sdktrace.Sampler
}

func (s tickSampler) ShouldSample(p sdktrace.SamplingParameters) sdktrace.SamplingResult {
	for _, kv := range p.Attributes {
		if kv.Key != TickKey {
			continue
		}
		decision := sdktrace.Drop
		if kv.Value.AsInt64()%s.every == 0 {
			decision = sdktrace.RecordAndSample
		}
		return sdktrace.SamplingResult{
			Decision:   decision,
			Tracestate: trace.SpanContextFromContext(p.ParentContext).TraceState(),
		}
	}
	return s.fallback.ShouldSample(p)
}

func (s tickSampler) Description() string {
	return fmt.Sprintf("TickSampler{every=%d,fallback=%s}", s.every, s.fallback.Description())
}

// InitTracing installs the global tracer provider and propagators for cfg.
// The returned function flushes and stops the provider.
func InitTracing(ctx context.Context, cfg TracingConfig, log logging.Logger) (func(context.Context) error, error) {
	log = logging.OrNoop(log)

	if !cfg.Enabled {
		otel.SetTracerProvider(noop.NewTracerProvider())
		otel.SetTextMapPropagator(propagation.TraceContext{})
		log.Debug(ctx, "tracing disabled")
		return func(context.Context) error { return nil }, nil
	}

	exp, err := newExporter(ctx, cfg)
	if err != nil {
		return nil, err
	}

	attrs := append([]attribute.KeyValue{
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("service.namespace", "dtn"),
	}, cfg.Run.attributes()...)
	sampler := cfg.Sampler()
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sampler),
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(resource.NewSchemaless(attrs...)),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	log.Info(ctx, "tracing enabled",
		logging.String("exporter", cfg.Exporter),
		logging.String("sampler", sampler.Description()),
		logging.String("scenario", cfg.Run.Scenario),
		logging.String("protocol", cfg.Run.Protocol),
	)
	return tp.Shutdown, nil
}

func newExporter(ctx context.Context, cfg TracingConfig) (sdktrace.SpanExporter, error) {
	switch strings.ToLower(cfg.Exporter) {
	case "stdout", "":
		out := cfg.Output
		if out == nil {
			out = os.Stdout
		}
		return stdouttrace.New(stdouttrace.WithWriter(out), stdouttrace.WithoutTimestamps())
	case "otlp", "otlpgrpc":
		endpoint := cfg.Endpoint
		if endpoint == "" {
			endpoint = "localhost:4317"
		}
		return otlptrace.New(ctx, otlptracegrpc.NewClient(
			otlptracegrpc.WithEndpoint(endpoint),
			otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		))
	default:
		return nil, fmt.Errorf("unsupported tracing exporter: %s", cfg.Exporter)
	}
}

// ShutdownWithTimeout runs shutdown with a five second bound and logs, rather
// than returns, any failure.
func ShutdownWithTimeout(ctx context.Context, shutdown func(context.Context) error, log logging.Logger) {
	if shutdown == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		logging.OrNoop(log).Warn(ctx, "tracing shutdown failed", logging.Err(err))
	}
}
