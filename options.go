package courier

import (
	"log/slog"
	"time"

	gu "github.com/xraph/go-utils/metrics"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/courier/breaker"
	"github.com/xraph/courier/catalog"
	"github.com/xraph/courier/delivery"
	"github.com/xraph/courier/dlq"
	"github.com/xraph/courier/endpoint"
	"github.com/xraph/courier/observability"
	"github.com/xraph/courier/ratelimit"
	"github.com/xraph/courier/sharedstate"
	"github.com/xraph/courier/store"
	"github.com/xraph/courier/vault"
)

// Courier is the root webhook delivery engine.
type Courier struct {
	config      Config
	store       store.Store
	sharedState sharedstate.Store
	sender      delivery.Sender
	resolver    endpoint.Resolver
	logger      *slog.Logger
	now         func() time.Time

	metricFactory  gu.MetricFactory
	tracerProvider trace.TracerProvider
	metrics        *observability.Metrics
	tracer         *observability.Tracer

	vault       *vault.Vault
	guard       *endpoint.Guard
	catalog     *catalog.Catalog
	breaker     *breaker.Service
	limiter     *ratelimit.Limiter
	endpointSvc *endpoint.Service
	executor    *delivery.Executor
	engine      *delivery.Engine
	dlqSvc      *dlq.Service
}

// Option configures a Courier instance.
type Option func(*Courier) error

// New creates a new Courier with the given options. The configuration is
// checked with ValidateStartup before any service is built.
func New(opts ...Option) (*Courier, error) {
	c := &Courier{
		config: DefaultConfig(),
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	if c.store == nil {
		return nil, ErrNoStore
	}
	if err := ValidateStartup(c.config); err != nil {
		return nil, err
	}
	if err := c.wireServices(); err != nil {
		return nil, err
	}
	return c, nil
}

// WithStore sets the persistence backend for the Courier instance.
func WithStore(s store.Store) Option {
	return func(c *Courier) error {
		c.store = s
		return nil
	}
}

// WithLogger sets the structured logger for the Courier instance.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Courier) error {
		c.logger = logger
		return nil
	}
}

// WithConfig replaces the whole configuration. Options applied after it
// still override individual fields.
func WithConfig(cfg Config) Option {
	return func(c *Courier) error {
		c.config = cfg
		return nil
	}
}

// WithMasterKey sets the key that seals endpoint signing secrets.
func WithMasterKey(key string) Option {
	return func(c *Courier) error {
		c.config.MasterKey = key
		return nil
	}
}

// WithEnvironment sets the deployment environment.
func WithEnvironment(env Environment) Option {
	return func(c *Courier) error {
		c.config.Environment = env
		return nil
	}
}

// WithConcurrency sets the number of attempts in flight per process.
func WithConcurrency(n int) Option {
	return func(c *Courier) error {
		c.config.Concurrency = n
		return nil
	}
}

// WithPollInterval sets how often the delivery engine checks for due deliveries.
func WithPollInterval(d time.Duration) Option {
	return func(c *Courier) error {
		c.config.PollInterval = d
		return nil
	}
}

// WithScanSchedule runs scans on a cron schedule instead of the poll ticker.
func WithScanSchedule(expr string) Option {
	return func(c *Courier) error {
		c.config.ScanSchedule = expr
		return nil
	}
}

// WithBatchSize sets the maximum number of deliveries claimed per scan.
func WithBatchSize(n int) Option {
	return func(c *Courier) error {
		c.config.BatchSize = n
		return nil
	}
}

// WithRequestTimeout sets the HTTP timeout per delivery attempt.
func WithRequestTimeout(d time.Duration) Option {
	return func(c *Courier) error {
		c.config.RequestTimeout = d
		return nil
	}
}

// WithMaxAttempts sets the attempt budget of new deliveries.
func WithMaxAttempts(n int) Option {
	return func(c *Courier) error {
		c.config.MaxAttempts = n
		return nil
	}
}

// WithShutdownTimeout sets the maximum time to wait for in-flight deliveries on shutdown.
func WithShutdownTimeout(d time.Duration) Option {
	return func(c *Courier) error {
		c.config.ShutdownTimeout = d
		return nil
	}
}

// WithAllowPrivateNetworks lets endpoints point at private addresses. Local
// development and tests only.
func WithAllowPrivateNetworks(allow bool) Option {
	return func(c *Courier) error {
		c.config.AllowPrivateNetworks = allow
		return nil
	}
}

// WithStrictEventTypes rejects events whose type is not in the catalog.
func WithStrictEventTypes(strict bool) Option {
	return func(c *Courier) error {
		c.config.StrictEventTypes = strict
		return nil
	}
}

// WithSharedState sets where circuit breaker state lives. Without it the
// state is local to the process.
func WithSharedState(s sharedstate.Store) Option {
	return func(c *Courier) error {
		c.sharedState = s
		return nil
	}
}

// WithSender replaces the outbound sender chosen by Config.SenderMode.
func WithSender(s delivery.Sender) Option {
	return func(c *Courier) error {
		c.sender = s
		return nil
	}
}

// WithResolver sets the DNS resolver used to vet endpoint URLs.
func WithResolver(r endpoint.Resolver) Option {
	return func(c *Courier) error {
		c.resolver = r
		return nil
	}
}

// WithMetricFactory records Courier metrics through factory.
func WithMetricFactory(factory gu.MetricFactory) Option {
	return func(c *Courier) error {
		c.metricFactory = factory
		return nil
	}
}

// WithTracerProvider sets the OpenTelemetry tracer provider. Without it the
// global provider is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Courier) error {
		c.tracerProvider = tp
		return nil
	}
}

// WithClock sets the clock used for scheduling. Tests only.
func WithClock(now func() time.Time) Option {
	return func(c *Courier) error {
		c.now = now
		return nil
	}
}
