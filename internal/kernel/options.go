package kernel

import (
	"context"
	"log/slog"
	"time"

	"snipebot/pkg/snipebot"
)

// config is the resolved kernel configuration.
type config struct {
	moduleHookTimeout  time.Duration
	shutdownTimeout    time.Duration
	subscriptionBuffer int
	subscriptionWorker int
	handlerTimeout     time.Duration
	commandPrefix      string
	logger             *slog.Logger
	onAsyncError       func(context.Context, string, error)
}

// Option customizes New.
type Option func(*config)

func defaultConfig() config {
	cfg := config{
		moduleHookTimeout:  5 * time.Second,
		shutdownTimeout:    10 * time.Second,
		subscriptionBuffer: 256,
		subscriptionWorker: 1,
		handlerTimeout:     3 * time.Second,
		commandPrefix:      snipebot.DefaultCommandPrefix,
	}
	cfg.setLogger(slog.Default())

	return cfg
}

// setLogger also routes async errors to logger unless a handler was set
// explicitly afterwards.
func (c *config) setLogger(logger *slog.Logger) {
	scoped := logger.With("component", "kernel")
	c.logger = scoped
	c.onAsyncError = func(ctx context.Context, scope string, err error) {
		scoped.ErrorContext(ctx, "async failure", "scope", scope, "error", err)
	}
}

// positive keeps the current value when the candidate is not above zero.
func positive[T int | time.Duration](candidate T, current *T) {
	if candidate > 0 {
		*current = candidate
	}
}

// WithModuleHookTimeout bounds each OnRegister, OnStart and OnShutdown call.
func WithModuleHookTimeout(timeout time.Duration) Option {
	return func(cfg *config) { positive(timeout, &cfg.moduleHookTimeout) }
}

// WithShutdownTimeout bounds the whole shutdown sequence.
func WithShutdownTimeout(timeout time.Duration) Option {
	return func(cfg *config) { positive(timeout, &cfg.shutdownTimeout) }
}

// WithDefaultSubscriptionBuffer sets the queue depth of subscriptions that
// do not choose one.
func WithDefaultSubscriptionBuffer(size int) Option {
	return func(cfg *config) { positive(size, &cfg.subscriptionBuffer) }
}

// WithDefaultSubscriptionWorkers sets the lane count of subscriptions that
// do not choose one.
func WithDefaultSubscriptionWorkers(workers int) Option {
	return func(cfg *config) { positive(workers, &cfg.subscriptionWorker) }
}

// WithDefaultHandlerTimeout bounds a single handler call.
func WithDefaultHandlerTimeout(timeout time.Duration) Option {
	return func(cfg *config) { positive(timeout, &cfg.handlerTimeout) }
}

// WithCommandPrefix sets the prefix introducing commands. An invalid prefix
// leaves the default in place.
func WithCommandPrefix(prefix string) Option {
	return func(cfg *config) {
		if snipebot.ValidateCommandPrefix(prefix) == nil {
			cfg.commandPrefix = prefix
		}
	}
}

// WithLogger sets the kernel logger.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *config) {
		if logger != nil {
			cfg.setLogger(logger)
		}
	}
}

// WithAsyncErrorHandler receives failures from subscription workers and
// dropped events instead of the logger.
func WithAsyncErrorHandler(handler func(context.Context, string, error)) Option {
	return func(cfg *config) {
		if handler != nil {
			cfg.onAsyncError = handler
		}
	}
}
