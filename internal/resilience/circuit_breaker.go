// Package resilience wraps the synchronous REST legs of a live exchange
// client (order placement, cancellation, balance queries) in per-endpoint
// circuit breakers. It deliberately has nothing to do with the streaming
// market-data/account reconnect path, which retries unconditionally instead.
package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Factory creates and caches one gobreaker.CircuitBreaker per name, where a
// name identifies an (exchange, endpoint-class) pair such as
// "binance.open_order".
type Factory struct {
	logger   *zap.Logger
	mu       sync.RWMutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// FactoryParams is the fx constructor input for Factory.
type FactoryParams struct {
	fx.In

	Logger *zap.Logger
}

// NewFactory builds a Factory. Suitable for fx.Provide.
func NewFactory(params FactoryParams) *Factory {
	return &Factory{
		logger:   params.Logger,
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

func (f *Factory) settings(name string) gobreaker.Settings {
	logger := f.logger
	return gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    30 * time.Second,
		Timeout:     20 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 6 && ratio >= 0.5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	}
}

// Get returns the named breaker, creating it with default settings on first
// use.
func (f *Factory) Get(name string) *gobreaker.CircuitBreaker {
	f.mu.RLock()
	cb, ok := f.breakers[name]
	f.mu.RUnlock()
	if ok {
		return cb
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if cb, ok = f.breakers[name]; ok {
		return cb
	}
	cb = gobreaker.NewCircuitBreaker(f.settings(name))
	f.breakers[name] = cb
	return cb
}

// Do runs fn through the named breaker. ctx is only used for its
// cancellation; gobreaker itself has no context-aware Execute.
func Do[T any](ctx context.Context, f *Factory, name string, fn func(context.Context) (T, error)) (T, error) {
	cb := f.Get(name)
	result, err := cb.Execute(func() (interface{}, error) {
		return fn(ctx)
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result.(T), nil
}
