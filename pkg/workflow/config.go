package workflow

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/orderflow/pkg/eventbus"
	"github.com/dukex/orderflow/pkg/lock"
	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel/trace"
)

// Config holds engine-wide defaults. Per-workflow options override them.
type Config struct {
	// DefaultTimeout applies to workflows without their own timeout; zero means unbounded.
	DefaultTimeout    time.Duration `validate:"gte=0"`
	DefaultMaxRetries int           `validate:"gte=0"`

	CompensationAttempts int           `validate:"gte=1,lte=100"`
	CompensationBackoff  time.Duration `validate:"gt=0"`

	// ResultTTL bounds how long a completed result is replayed; zero keeps it forever.
	ResultTTL time.Duration `validate:"gte=0"`
}

func DefaultConfig() Config {
	return Config{
		DefaultMaxRetries:    3,
		CompensationAttempts: 3,
		CompensationBackoff:  100 * time.Millisecond,
		ResultTTL:            24 * time.Hour,
	}
}

func (c Config) Validate() error {
	err := validator.New().Struct(c)
	if err != nil {
		return fmt.Errorf("invalid engine config: %w", err)
	}

	return nil
}

type EngineOption func(*Engine)

func WithConfig(config Config) EngineOption {
	return func(e *Engine) { e.config = config }
}

func WithPublisher(publisher eventbus.EventPublisher) EngineOption {
	return func(e *Engine) { e.publisher = publisher }
}

func WithLocker(locker lock.Locker) EngineOption {
	return func(e *Engine) { e.locker = locker }
}

func WithTracer(tracer trace.Tracer) EngineOption {
	return func(e *Engine) { e.tracer = tracer }
}

func WithLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) { e.logger = logger }
}

// WithClock replaces time.Now, mainly for timeout tests.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

type RunOption func(*runOptions)

type runOptions struct {
	idempotencyKey string
	correlationID  string
	parentID       string
	timeout        time.Duration
	metadata       map[string]any
}

func newRunOptions(opts []RunOption) runOptions {
	options := runOptions{metadata: make(map[string]any)}
	for _, opt := range opts {
		opt(&options)
	}

	return options
}

func WithIdempotencyKey(key string) RunOption {
	return func(o *runOptions) { o.idempotencyKey = key }
}

func WithCorrelationID(id string) RunOption {
	return func(o *runOptions) { o.correlationID = id }
}

// WithRunTimeout overrides the workflow timeout for one run.
func WithRunTimeout(timeout time.Duration) RunOption {
	return func(o *runOptions) { o.timeout = timeout }
}

// WithMetadata seeds the workflow context before the first step.
func WithMetadata(key string, value any) RunOption {
	return func(o *runOptions) { o.metadata[key] = value }
}

func withParent(executionID string) RunOption {
	return func(o *runOptions) { o.parentID = executionID }
}
