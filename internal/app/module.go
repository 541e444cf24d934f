// Package app wires every subsystem of the engine core into one fx.App:
// catalogue, engine state, the reducer, per-exchange execution managers,
// the audit publisher, and metrics. Everything is provided from one flat
// fx.Options bundle, one fx.Provide per constructor.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/quantcore/tradengine/internal/audit"
	"github.com/quantcore/tradengine/internal/catalogue"
	"github.com/quantcore/tradengine/internal/clock"
	tcconfig "github.com/quantcore/tradengine/internal/config"
	"github.com/quantcore/tradengine/internal/engine"
	"github.com/quantcore/tradengine/internal/execution"
	"github.com/quantcore/tradengine/internal/execution/live"
	"github.com/quantcore/tradengine/internal/execution/mock"
	"github.com/quantcore/tradengine/internal/metrics"
	"github.com/quantcore/tradengine/internal/resilience"
	"github.com/quantcore/tradengine/internal/risk"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func decimalFromFloat(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

// Module is the complete fx.Options set a binary assembles to run this
// engine core.
var Module = fx.Options(
	fx.Provide(provideConfig),
	fx.Provide(provideLogger),
	fx.Provide(provideCatalogue),
	fx.Provide(provideRegistry),
	fx.Provide(metrics.New),
	fx.Provide(resilience.NewFactory),
	fx.Provide(provideRiskManager),
	fx.Provide(provideStrategy),
	fx.Provide(provideEngineState),
	fx.Provide(provideExecutionManagers),
	fx.Provide(provideEngine),
	fx.Provide(audit.NewPublisher),
	fx.Invoke(registerLifecycle),
	fx.Invoke(startMarketDataFeeds),
	fx.Invoke(forwardAccountEvents),
	fx.Invoke(metrics.RegisterExporter),
)

func provideConfig() (*tcconfig.Config, error) {
	return tcconfig.Load("")
}

func provideLogger(cfg *tcconfig.Config) (*zap.Logger, error) {
	return tcconfig.NewLogger(cfg)
}

func provideRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

// provideCatalogue builds the frozen instrument catalogue from the
// subscription configuration. It is built once at startup and never
// mutated afterward, per §3's catalogue rule.
func provideCatalogue(cfg *tcconfig.Config) *catalogue.Instruments {
	b := catalogue.NewBuilder()
	for _, ic := range cfg.Instruments {
		ex := b.Exchange(ic.Exchange)
		base := b.Asset(ic.Base)
		quote := b.Asset(ic.Quote)
		kind := catalogue.KindSpot
		switch ic.Kind {
		case "future":
			kind = catalogue.KindFuture
		case "perpetual":
			kind = catalogue.KindPerpetual
		case "option":
			kind = catalogue.KindOption
		}
		b.AddInstrument(ex, ic.NameExchange, base, quote, kind, catalogue.InstrumentSpec{})
	}
	return b.Build()
}

func provideEngineState(cat *catalogue.Instruments, cfg *tcconfig.Config, log *zap.Logger) *engine.EngineState {
	return engine.NewEngineState(cat, time.Now(), cfg.Engine.PositionHistorySize, log)
}

// provideRiskManager builds a risk.LimitManager and configures it with every
// instrument's MaxOrderSize/MaxPositionSize from InstrumentConfig. An
// instrument with neither set is left unconfigured and approved by default.
func provideRiskManager(cat *catalogue.Instruments, cfg *tcconfig.Config, log *zap.Logger) *risk.LimitManager {
	lm := risk.NewLimitManager(log)
	for _, ic := range cfg.Instruments {
		if ic.MaxOrderSize == "" && ic.MaxPositionSize == "" {
			continue
		}
		exIdx, ok := cat.FindExchange(ic.Exchange)
		if !ok {
			continue
		}
		idx, ok := cat.FindInstrument(exIdx, ic.NameExchange)
		if !ok {
			continue
		}
		maxOrder, _ := decimal.NewFromString(ic.MaxOrderSize)
		maxPosition, _ := decimal.NewFromString(ic.MaxPositionSize)
		lm.SetLimit(idx, risk.Limit{MaxOrderSize: maxOrder, MaxPositionSize: maxPosition})
	}
	return lm
}

// provideExecutionManagers builds one execution.Manager per configured
// exchange, backed by either the mock exchange or a live REST client per
// ExecutionConfig.Mode, and starts each manager's Run loop.
func provideExecutionManagers(
	lc fx.Lifecycle,
	cat *catalogue.Instruments,
	cfg *tcconfig.Config,
	breakers *resilience.Factory,
	m *metrics.Metrics,
	log *zap.Logger,
) (map[catalogue.ExchangeIndex]*execution.Manager, <-chan execution.AccountEvent, error) {
	out := make(map[catalogue.ExchangeIndex]*execution.Manager, len(cfg.Executions))
	accounts := make(chan execution.AccountEvent, 1024)

	for _, ec := range cfg.Executions {
		exIdx, ok := cat.FindExchange(ec.Exchange)
		if !ok {
			return nil, nil, fmt.Errorf("execution config names unknown exchange %q", ec.Exchange)
		}

		var client execution.Client
		switch ec.Mode {
		case "live":
			client = live.New(ec.Exchange, nil, nil, breakers, log)
		default:
			// Instrument/balance seeding for the mock exchange is
			// per-deployment and not modelled by ExecutionConfig's minimal
			// shape; operators wanting a seeded mock venue construct
			// mock.Config directly rather than through this default path.
			client = mock.New(mock.Config{
				LatencyMS:   ec.MockLatency.Milliseconds(),
				FeesPercent: decimalFromFloat(ec.MockFeesPct),
				Metrics:     m,
			}, time.Now())
		}

		timeout := ec.Timeout
		if timeout <= 0 {
			timeout = cfg.Engine.ExecutionTimeout
		}

		mgr := execution.NewManager(exIdx, client, timeout, accounts, log)
		out[exIdx] = mgr
	}

	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			for _, mgr := range out {
				go mgr.Run(ctx)
			}
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})

	return out, accounts, nil
}

// provideStrategy supplies the engine's Strategy collaborator. Signal
// generation itself is a collaborator interface this core only consumes
// (§1's Non-goals); the default wiring is the no-op implementation, and a
// deployment supplies its own engine.Strategy by replacing this provider.
func provideStrategy() engine.Strategy {
	return engine.NoopStrategy{}
}

func provideEngine(
	state *engine.EngineState,
	cfg *tcconfig.Config,
	executions map[catalogue.ExchangeIndex]*execution.Manager,
	st engine.Strategy,
	rm *risk.LimitManager,
	log *zap.Logger,
	m *metrics.Metrics,
) *engine.Engine {
	return engine.New(
		state,
		engine.Config{InputBuffer: cfg.Engine.InputChannelCapacity, AuditCapacity: cfg.Engine.AuditChannelCapacity},
		st,
		rm,
		executions,
		clock.Real{},
		log,
		m,
	)
}

// registerLifecycle starts the reducer goroutine and the audit publisher
// goroutine on fx start, and cancels both on stop.
func registerLifecycle(lc fx.Lifecycle, eng *engine.Engine, pub *audit.Publisher, log *zap.Logger) {
	ctx, cancel := context.WithCancel(context.Background())

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				if err := eng.Run(ctx); err != nil {
					log.Error("engine stopped", zap.Error(err))
				}
			}()
			go pub.Run(ctx, eng.Audit())
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
}
