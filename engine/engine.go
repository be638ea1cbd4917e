// Package engine wires all forgeq subsystems together: store, rate limiter,
// dead letter queue, queue manager, worker pool, middleware chain, and
// lifecycle extensions. It is the entry point for applications — construct
// an Engine over a store, register handlers, and Start.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/gameforge/forgeq/backoff"
	"github.com/gameforge/forgeq/dlq"
	"github.com/gameforge/forgeq/ext"
	"github.com/gameforge/forgeq/gpu"
	"github.com/gameforge/forgeq/id"
	"github.com/gameforge/forgeq/job"
	"github.com/gameforge/forgeq/middleware"
	"github.com/gameforge/forgeq/modelcache"
	"github.com/gameforge/forgeq/observability"
	"github.com/gameforge/forgeq/queue"
	"github.com/gameforge/forgeq/ratelimit"
	"github.com/gameforge/forgeq/store"
	"github.com/gameforge/forgeq/worker"
)

// Engine bundles the wired subsystems. Use Build to create one.
type Engine struct {
	store      store.Store
	registry   *job.Registry
	extensions *ext.Registry
	limiter    *ratelimit.Limiter
	dlqService *dlq.Service
	manager    *queue.Manager
	pool       *worker.Pool
	monitor    *gpu.Monitor
	models     *modelcache.Cache
	logger     *slog.Logger

	// Build-time configuration.
	pendingExts []ext.Extension
	cfg         queue.Config
	limits      ratelimit.Limits
	noRateLimit bool
	bo          backoff.Strategy
	mws         []middleware.Middleware
	dlqOpts     []dlq.Option
	poolOpts    []worker.PoolOption
	device      gpu.Device
	maxModels   int

	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
}

// Option configures an Engine at build time.
type Option func(*Engine)

// WithLogger sets the structured logger for every subsystem.
func WithLogger(l *slog.Logger) Option {
	return func(eng *Engine) {
		if l != nil {
			eng.logger = l
		}
	}
}

// WithQueueConfig overrides the queue manager configuration.
func WithQueueConfig(cfg queue.Config) Option {
	return func(eng *Engine) { eng.cfg = cfg }
}

// WithRateLimits overrides the per-user admission limits.
func WithRateLimits(l ratelimit.Limits) Option {
	return func(eng *Engine) { eng.limits = l }
}

// WithoutRateLimiter disables per-user admission control.
func WithoutRateLimiter() Option {
	return func(eng *Engine) { eng.noRateLimit = true }
}

// WithExtension registers a lifecycle extension.
func WithExtension(e ext.Extension) Option {
	return func(eng *Engine) { eng.pendingExts = append(eng.pendingExts, e) }
}

// WithMiddleware appends middleware to the default execution chain.
func WithMiddleware(m middleware.Middleware) Option {
	return func(eng *Engine) { eng.mws = append(eng.mws, m) }
}

// WithBackoff sets the retry delay strategy. Defaults to backoff.Default().
func WithBackoff(b backoff.Strategy) Option {
	return func(eng *Engine) { eng.bo = b }
}

// WithDLQOptions configures the dead letter queue service.
func WithDLQOptions(opts ...dlq.Option) Option {
	return func(eng *Engine) { eng.dlqOpts = append(eng.dlqOpts, opts...) }
}

// WithPoolOptions configures the worker pool (concurrency, throttle, waits).
func WithPoolOptions(opts ...worker.PoolOption) Option {
	return func(eng *Engine) { eng.poolOpts = append(eng.poolOpts, opts...) }
}

// WithDevice attaches an accelerator device; the engine builds a memory
// monitor and model cache over it. Without a device both still work but
// report zeroed stats.
func WithDevice(d gpu.Device) Option {
	return func(eng *Engine) { eng.device = d }
}

// WithMaxModels overrides the model cache's resident cap.
func WithMaxModels(n int) Option {
	return func(eng *Engine) { eng.maxModels = n }
}

// WithTracerProvider sets a custom OTel TracerProvider for the tracing
// middleware. Defaults to the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) { eng.tracerProvider = tp }
}

// WithMeterProvider sets a custom OTel MeterProvider for the metrics
// middleware and the observability extension. Defaults to the global
// provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) { eng.meterProvider = mp }
}

const instrumentationName = "github.com/gameforge/forgeq"

// Build wires an Engine over the given store.
func Build(st store.Store, opts ...Option) (*Engine, error) {
	if st == nil {
		return nil, fmt.Errorf("engine: store is required")
	}

	eng := &Engine{
		store:    st,
		registry: job.NewRegistry(),
		logger:   slog.Default(),
		cfg:      queue.DefaultConfig(),
		limits:   ratelimit.DefaultLimits(),
	}

	for _, opt := range opts {
		opt(eng)
	}
	if eng.bo == nil {
		eng.bo = backoff.Default()
	}

	eng.extensions = ext.NewRegistry(eng.logger)
	for _, e := range eng.pendingExts {
		eng.extensions.Register(e)
	}

	eng.dlqService = dlq.NewService(st,
		append([]dlq.Option{dlq.WithLogger(eng.logger)}, eng.dlqOpts...)...)

	if !eng.noRateLimit {
		eng.limiter = ratelimit.New(st, st,
			ratelimit.WithLimits(eng.limits),
			ratelimit.WithLogger(eng.logger))
	}

	managerOpts := []queue.Option{
		queue.WithConfig(eng.cfg),
		queue.WithDLQ(eng.dlqService),
		queue.WithBackoff(eng.bo),
		queue.WithExtensions(eng.extensions),
		queue.WithLogger(eng.logger),
	}
	if eng.limiter != nil {
		managerOpts = append(managerOpts, queue.WithRateLimiter(eng.limiter))
	}
	eng.manager = queue.New(st, managerOpts...)

	// Tracing and metrics middleware, on the custom providers when set.
	var tracingMw middleware.Middleware
	if eng.tracerProvider != nil {
		tracingMw = middleware.TracingWithTracer(eng.tracerProvider.Tracer(instrumentationName))
	} else {
		tracingMw = middleware.Tracing()
	}
	var metricsMw middleware.Middleware
	if eng.meterProvider != nil {
		metricsMw = middleware.MetricsWithMeter(eng.meterProvider.Meter(instrumentationName))
	} else {
		metricsMw = middleware.Metrics()
	}

	var obsExt *observability.MetricsExtension
	if eng.meterProvider != nil {
		obsExt = observability.NewMetricsExtensionWithMeter(
			eng.meterProvider.Meter(instrumentationName + "/observability"))
	} else {
		obsExt = observability.NewMetricsExtension()
	}
	eng.extensions.Register(obsExt)

	// Default chain: recover → tracing → metrics → logging → timeout,
	// then caller middleware innermost.
	allMws := []middleware.Middleware{
		middleware.Recover(eng.logger),
		tracingMw,
		metricsMw,
		middleware.Logging(eng.logger),
		middleware.Timeout(eng.logger),
	}
	allMws = append(allMws, eng.mws...)

	poolOpts := append([]worker.PoolOption{
		worker.WithLogger(eng.logger),
		worker.WithMiddleware(allMws...),
	}, eng.poolOpts...)
	eng.pool = worker.NewPool(eng.manager, eng.registry, poolOpts...)

	eng.monitor = gpu.NewMonitor(eng.device, gpu.WithLogger(eng.logger))
	cacheOpts := []modelcache.Option{modelcache.WithLogger(eng.logger)}
	if eng.maxModels > 0 {
		cacheOpts = append(cacheOpts, modelcache.WithMaxModels(eng.maxModels))
	}
	eng.models = modelcache.New(eng.monitor, cacheOpts...)

	return eng, nil
}

// Register binds a type-erased handler to a job type.
func (eng *Engine) Register(jobType string, h job.HandlerFunc) {
	eng.registry.Register(jobType, h)
}

// Register registers a typed handler with the engine: the payload is
// JSON-unmarshalled into T and the result marshalled from R.
func Register[T, R any](eng *Engine, jobType string, handler func(ctx context.Context, j *job.Job, payload T) (R, error)) {
	job.RegisterTyped(eng.registry, jobType, handler)
}

// Enqueue marshals payload and admits a job for the user.
func Enqueue[T any](ctx context.Context, eng *Engine, userID, jobType string, payload T, opts ...job.Option) (id.JobID, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return id.JobID{}, fmt.Errorf("engine: marshal payload for job type %q: %w", jobType, err)
	}
	return eng.EnqueueRaw(ctx, userID, jobType, data, opts...)
}

// EnqueueRaw admits a job with a pre-serialized payload.
func (eng *Engine) EnqueueRaw(ctx context.Context, userID, jobType string, payload []byte, opts ...job.Option) (id.JobID, error) {
	return eng.manager.Enqueue(ctx, userID, jobType, payload, opts...)
}

// ReplayDLQ re-enqueues a dead-lettered job and marks the entry replayed.
func (eng *Engine) ReplayDLQ(ctx context.Context, entryID id.DLQID, opts ...job.Option) (id.JobID, error) {
	return eng.dlqService.Replay(ctx, entryID, eng.manager, opts...)
}

// Start verifies store connectivity, then launches the queue manager's
// maintenance loops and the worker pool.
func (eng *Engine) Start(ctx context.Context) error {
	if err := eng.store.Ping(ctx); err != nil {
		return fmt.Errorf("engine: store ping: %w", err)
	}
	if err := eng.manager.Start(ctx); err != nil {
		return fmt.Errorf("engine: start queue manager: %w", err)
	}
	if err := eng.pool.Start(ctx); err != nil {
		return fmt.Errorf("engine: start worker pool: %w", err)
	}
	eng.logger.Info("engine started", "worker_id", eng.pool.WorkerID().String())
	return nil
}

// Stop drains the worker pool, then stops the queue manager's background
// loops. The store is left open; it belongs to the caller.
func (eng *Engine) Stop(ctx context.Context) error {
	if err := eng.pool.Stop(ctx); err != nil {
		return fmt.Errorf("engine: stop worker pool: %w", err)
	}
	if err := eng.manager.Stop(ctx); err != nil {
		return fmt.Errorf("engine: stop queue manager: %w", err)
	}
	eng.logger.Info("engine stopped")
	return nil
}

// Queue returns the queue manager.
func (eng *Engine) Queue() *queue.Manager { return eng.manager }

// Pool returns the worker pool.
func (eng *Engine) Pool() *worker.Pool { return eng.pool }

// Registry returns the job handler registry.
func (eng *Engine) Registry() *job.Registry { return eng.registry }

// Extensions returns the lifecycle extension registry.
func (eng *Engine) Extensions() *ext.Registry { return eng.extensions }

// RateLimiter returns the admission limiter, or nil when disabled.
func (eng *Engine) RateLimiter() *ratelimit.Limiter { return eng.limiter }

// DLQ returns the dead letter queue service.
func (eng *Engine) DLQ() *dlq.Service { return eng.dlqService }

// Monitor returns the device memory monitor.
func (eng *Engine) Monitor() *gpu.Monitor { return eng.monitor }

// Models returns the model cache.
func (eng *Engine) Models() *modelcache.Cache { return eng.models }
