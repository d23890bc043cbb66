package resilience

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/NikhilSetiya/textbook-assistant/pkg/errors"
	"github.com/NikhilSetiya/textbook-assistant/pkg/logging"
)

// Operation is a unit of remote work. It receives the zero-based attempt
// index and may be invoked up to MaxAttempts times.
type Operation func(ctx context.Context, attempt int) (interface{}, error)

// ExecuteOptions controls a single Execute call. Zero fields take the
// executor defaults.
type ExecuteOptions struct {
	// CacheKey enables cache lookups and population when set
	CacheKey string `json:"cache_key,omitempty"`
	// Timeout bounds each attempt
	Timeout time.Duration `json:"timeout"`
	// MaxAttempts includes the first attempt
	MaxAttempts int `json:"max_attempts"`
	// BaseDelay is the pause after the first failed attempt
	BaseDelay time.Duration `json:"base_delay"`
	// MaxDelay caps any single pause
	MaxDelay time.Duration `json:"max_delay"`
	// BackoffMultiplier grows the pause per attempt
	BackoffMultiplier float64 `json:"backoff_multiplier"`
	// QueueWhenOpen defers the call until the circuit allows it instead of
	// failing fast
	QueueWhenOpen bool `json:"queue_when_open"`
}

// DefaultExecuteOptions returns 30s timeout, 3 attempts, 1s..10s backoff x2
func DefaultExecuteOptions() ExecuteOptions {
	return ExecuteOptions{
		Timeout:           30 * time.Second,
		MaxAttempts:       3,
		BaseDelay:         time.Second,
		MaxDelay:          10 * time.Second,
		BackoffMultiplier: 2,
	}
}

func (o ExecuteOptions) withDefaults(d ExecuteOptions) ExecuteOptions {
	if o.Timeout <= 0 {
		o.Timeout = d.Timeout
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = d.MaxAttempts
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = d.BaseDelay
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = d.MaxDelay
	}
	if o.BackoffMultiplier <= 0 {
		o.BackoffMultiplier = d.BackoffMultiplier
	}
	return o
}

// Backoff returns the delay policy described by the options
func (o ExecuteOptions) Backoff() Backoff {
	return Backoff{
		BaseDelay:  o.BaseDelay,
		MaxDelay:   o.MaxDelay,
		Multiplier: o.BackoffMultiplier,
	}
}

// Cache is the response store consulted before an operation runs
type Cache interface {
	Get(key string) (interface{}, bool)
	Put(key string, value interface{})
	Clear()
}

// CacheStats summarizes cache effectiveness
type CacheStats struct {
	Size      int     `json:"size"`
	MaxSize   int     `json:"max_size"`
	TTL       string  `json:"ttl"`
	Hits      uint64  `json:"hits"`
	Misses    uint64  `json:"misses"`
	Evictions uint64  `json:"evictions"`
	HitRate   float64 `json:"hit_rate"`
}

// StatsReporter is implemented by caches that track their own statistics
type StatsReporter interface {
	Stats() CacheStats
}

// Tracer records cache lookups and retries on the caller's trace
type Tracer interface {
	StartCacheSpan(ctx context.Context, operation, key string) (context.Context, trace.Span)
	AddSpanEvent(span trace.Span, name string, attrs ...attribute.KeyValue)
}

// ExecutorConfig holds the collaborators of an Executor
type ExecutorConfig struct {
	// Name identifies the protected dependency in errors and logs
	Name           string
	CircuitBreaker CircuitBreakerConfig
	Defaults       ExecuteOptions
	// Cache is optional; without it CacheKey is ignored
	Cache Cache
	Queue QueueConfig
	// Sleep defaults to ContextSleep
	Sleep           SleepFunc
	RetryableErrors func(error) bool
	// OnRetry is called before each backoff pause
	OnRetry func(attempt int, err error, delay time.Duration)
	// Tracer is optional
	Tracer Tracer
	Logger *logging.Logger
}

// Executor guards calls to one remote dependency with a circuit breaker,
// a response cache, per-attempt timeouts, retry with backoff and a queue for
// calls deferred while the circuit is open.
type Executor struct {
	name      string
	breaker   *CircuitBreaker
	cache     Cache
	queue     *RequestQueue
	sleep     SleepFunc
	retryable func(error) bool
	onRetry   func(attempt int, err error, delay time.Duration)
	tracer    Tracer
	logger    *logging.Logger

	mu       sync.RWMutex
	defaults ExecuteOptions
}

// NewExecutor creates an executor and starts nothing until work is queued
func NewExecutor(config ExecutorConfig) *Executor {
	if config.Name == "" {
		config.Name = "upstream"
	}
	if config.Logger == nil {
		config.Logger = logging.GetLogger()
	}
	if config.CircuitBreaker.Name == "" {
		config.CircuitBreaker.Name = config.Name
	}
	if config.CircuitBreaker.Logger == nil {
		config.CircuitBreaker.Logger = config.Logger
	}
	if config.Sleep == nil {
		config.Sleep = ContextSleep
	}
	if config.RetryableErrors == nil {
		config.RetryableErrors = DefaultRetryableErrors
	}

	e := &Executor{
		name:      config.Name,
		breaker:   NewCircuitBreaker(config.CircuitBreaker),
		cache:     config.Cache,
		sleep:     config.Sleep,
		retryable: config.RetryableErrors,
		onRetry:   config.OnRetry,
		tracer:    config.Tracer,
		logger:    config.Logger,
		defaults:  config.Defaults.withDefaults(DefaultExecuteOptions()),
	}
	e.queue = newRequestQueue(config.Queue, e.breaker.Allow, e.Execute, config.Logger)
	return e
}

// Execute runs op under the resilience policy and returns its value or a
// classified error: CircuitOpenError, TimeoutError or UpstreamError.
func (e *Executor) Execute(ctx context.Context, op Operation, opts ExecuteOptions) (interface{}, error) {
	opts = opts.withDefaults(e.Defaults())

	if !e.breaker.Allow() {
		if !opts.QueueWhenOpen {
			return nil, errors.NewCircuitOpenError(e.name)
		}

		e.logger.LogResilienceEvent(ctx, "request_queued", e.name, logrus.Fields{
			"queue_length": e.queue.Len() + 1,
		})
		return e.queue.Enqueue(ctx, op, opts).Wait(ctx)
	}

	if opts.CacheKey != "" && e.cache != nil {
		if value, ok := e.cacheGet(ctx, opts.CacheKey); ok {
			return value, nil
		}
	}

	backoff := opts.Backoff()
	var lastErr error

	for attempt := 0; attempt < opts.MaxAttempts; attempt++ {
		value, err := e.runAttempt(ctx, op, attempt, opts.Timeout)
		if err == nil {
			e.breaker.RecordSuccess()
			if opts.CacheKey != "" && e.cache != nil {
				e.cachePut(ctx, opts.CacheKey, value)
			}
			if attempt > 0 {
				e.logger.Info("Operation succeeded after retry",
					"circuit", e.name,
					"attempt", attempt+1,
				)
			}
			return value, nil
		}

		// The caller gave up; that says nothing about the dependency.
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		e.breaker.RecordFailure()
		lastErr = err

		if attempt == opts.MaxAttempts-1 {
			break
		}

		if !e.retryable(err) {
			e.logger.Debug("Error is not retryable, stopping",
				"circuit", e.name,
				"error", err.Error(),
				"attempt", attempt+1,
			)
			return nil, err
		}

		delay := backoff.Delay(attempt)
		e.logger.Debug("Operation failed, retrying",
			"circuit", e.name,
			"error", err.Error(),
			"attempt", attempt+1,
			"max_attempts", opts.MaxAttempts,
			"delay", delay.String(),
		)
		if e.onRetry != nil {
			e.onRetry(attempt, err, delay)
		}
		if e.tracer != nil {
			e.tracer.AddSpanEvent(trace.SpanFromContext(ctx), "retry",
				attribute.Int("retry.attempt", attempt+1),
				attribute.String("retry.error_type", string(errors.GetType(err))),
				attribute.String("retry.delay", delay.String()),
			)
		}

		if err := e.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}

	e.logger.Warn("Operation failed after all retry attempts",
		"circuit", e.name,
		"error", lastErr.Error(),
		"attempts", opts.MaxAttempts,
	)
	return nil, lastErr
}

func (e *Executor) cacheGet(ctx context.Context, key string) (interface{}, bool) {
	if e.tracer == nil {
		return e.cache.Get(key)
	}

	_, span := e.tracer.StartCacheSpan(ctx, "get", key)
	defer span.End()

	value, ok := e.cache.Get(key)
	span.SetAttributes(attribute.Bool("cache.hit", ok))
	return value, ok
}

func (e *Executor) cachePut(ctx context.Context, key string, value interface{}) {
	if e.tracer != nil {
		_, span := e.tracer.StartCacheSpan(ctx, "put", key)
		defer span.End()
	}
	e.cache.Put(key, value)
}

type attemptResult struct {
	value interface{}
	err   error
}

// runAttempt races op against the timeout. The losing goroutine is abandoned;
// its context is cancelled but nothing forces it to return.
func (e *Executor) runAttempt(ctx context.Context, op Operation, attempt int, timeout time.Duration) (interface{}, error) {
	attemptCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan attemptResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- attemptResult{err: errors.NewUpstreamError(e.name, fmt.Errorf("operation panicked: %v", r))}
			}
		}()
		value, err := op(attemptCtx, attempt)
		done <- attemptResult{value: value, err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-done:
		if res.err != nil {
			return nil, e.classify(res.err)
		}
		return res.value, nil
	case <-timer.C:
		return nil, errors.NewTimeoutError(e.name+" request", timeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// classify keeps taxonomy errors as they are and wraps everything else as an
// upstream failure
func (e *Executor) classify(err error) error {
	var appErr *errors.AppError
	if errors.As(err, &appErr) {
		return err
	}
	return errors.NewUpstreamError(e.name, err)
}

// Defaults returns the options applied to zero fields
func (e *Executor) Defaults() ExecuteOptions {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.defaults
}

// SetDefaults replaces the default options; zero fields keep the built-in values
func (e *Executor) SetDefaults(opts ExecuteOptions) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.defaults = opts.withDefaults(DefaultExecuteOptions())
}

// Status reports the circuit and the queued request count
func (e *Executor) Status() CircuitStatus {
	status := e.breaker.Status()
	status.QueueLength = e.queue.Len()
	return status
}

// ResetCircuit forces the circuit closed
func (e *Executor) ResetCircuit() {
	e.breaker.Reset()
	e.logger.LogResilienceEvent(context.Background(), "circuit_reset", e.name, nil)
}

// ClearCache drops every cached response
func (e *Executor) ClearCache() {
	if e.cache != nil {
		e.cache.Clear()
	}
}

// CacheStats returns cache statistics when the cache tracks them
func (e *Executor) CacheStats() CacheStats {
	if reporter, ok := e.cache.(StatsReporter); ok {
		return reporter.Stats()
	}
	return CacheStats{}
}

// Breaker exposes the circuit breaker, mainly for health checks
func (e *Executor) Breaker() *CircuitBreaker {
	return e.breaker
}

// Close rejects queued requests and stops the drain loop
func (e *Executor) Close() {
	e.queue.Close()
}

// Do is Execute for callers that want a typed result
func Do[T any](ctx context.Context, e *Executor, op func(ctx context.Context, attempt int) (T, error), opts ExecuteOptions) (T, error) {
	var zero T

	value, err := e.Execute(ctx, func(ctx context.Context, attempt int) (interface{}, error) {
		return op(ctx, attempt)
	}, opts)
	if err != nil {
		return zero, err
	}

	typed, ok := value.(T)
	if !ok {
		return zero, errors.NewInternalError(fmt.Sprintf("unexpected result type %T", value))
	}
	return typed, nil
}
