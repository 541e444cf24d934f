// Package mock implements a deterministic in-process execution venue used
// for backtests and paper trading: Market/IoC-only matching, balance
// accounting, and synthetic latency.
package mock

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/quantcore/tradengine/internal/catalogue"
	"github.com/quantcore/tradengine/internal/clock"
	"github.com/quantcore/tradengine/internal/execution"
	"github.com/quantcore/tradengine/internal/metrics"
	"github.com/quantcore/tradengine/internal/order"
	"github.com/quantcore/tradengine/internal/xerrors"
	"github.com/shopspring/decimal"
)

// InstrumentSpec is the minimal per-instrument knowledge the mock exchange
// needs: which assets fund a buy/sell. Prices come from each request.
type InstrumentSpec struct {
	Base  catalogue.AssetIndex
	Quote catalogue.AssetIndex
}

// Config configures one mock exchange instance. Metrics is optional; a nil
// value disables the fill counter.
type Config struct {
	LatencyMS   int64
	FeesPercent decimal.Decimal
	Instruments map[catalogue.InstrumentIndex]InstrumentSpec
	Balances    map[catalogue.AssetIndex]decimal.Decimal // initial total == free
	Metrics     *metrics.Metrics
}

type balance struct {
	total decimal.Decimal
	free  decimal.Decimal
}

// Exchange is a deterministic mock execution venue. It implements
// execution.Client.
type Exchange struct {
	mu          sync.Mutex
	clock       *clock.Fake
	latency     time.Duration
	feesPercent decimal.Decimal
	instruments map[catalogue.InstrumentIndex]InstrumentSpec
	balances    map[catalogue.AssetIndex]*balance
	orderSeq    atomic.Uint64
	orders      map[catalogue.InstrumentIndex][]order.Snapshot
	metrics     *metrics.Metrics
}

// New creates a mock exchange seeded with cfg's initial balances, with its
// internal clock starting at start.
func New(cfg Config, start time.Time) *Exchange {
	balances := make(map[catalogue.AssetIndex]*balance, len(cfg.Balances))
	for asset, amt := range cfg.Balances {
		balances[asset] = &balance{total: amt, free: amt}
	}
	return &Exchange{
		clock:       clock.NewFake(start),
		latency:     time.Duration(cfg.LatencyMS) * time.Millisecond,
		feesPercent: cfg.FeesPercent,
		instruments: cfg.Instruments,
		balances:    balances,
		orders:      make(map[catalogue.InstrumentIndex][]order.Snapshot),
		metrics:     cfg.Metrics,
	}
}

var _ execution.Client = (*Exchange)(nil)

// ResponseDelay and NotificationDelay are the two synthetic delays of
// §4.6's time model. Open itself advances the exchange's internal clock
// deterministically and returns immediately, so that unit tests and
// backtest replay never depend on wall-clock sleeps. Nothing in this module
// applies either delay.
func (e *Exchange) ResponseDelay() time.Duration { return e.latency / 2 }

// NotificationDelay is the exchange->client delay of the time model: the
// full latency.
func (e *Exchange) NotificationDelay() time.Duration { return e.latency }

// Open processes an order-open request per §4.6: only unconditional Market
// orders with ImmediateOrCancel time-in-force are supported; any other kind
// is rejected. The response is returned at once, with no delay, and no
// trade or balance notification is produced. The exchange's internal clock
// advances by half the latency, and that time is the fill's TimeUpdate, so
// it is deterministic.
func (e *Exchange) Open(ctx context.Context, req execution.OpenRequest) (order.OpenResponse, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	requestTime := e.clock.Now()

	if req.Request.Kind != order.KindMarket || req.Request.TimeInForce != order.TimeInForceImmediateOrCancel {
		return order.OpenResponse{Key: req.Key}, xerrors.New(xerrors.CodeUnsupportedOrderKind,
			"mock exchange only supports Market/IoC orders")
	}

	spec, ok := e.instruments[req.Key.Instrument]
	if !ok {
		return order.OpenResponse{Key: req.Key}, xerrors.New(xerrors.CodeInstrumentInvalid,
			"unknown instrument")
	}

	price := req.Request.Price
	qty := req.Request.Quantity
	notional := price.Mul(qty)
	fees := notional.Mul(e.feesPercent)

	var fundingAsset catalogue.AssetIndex
	var required decimal.Decimal
	if req.Side == order.SideBuy {
		fundingAsset = spec.Quote
		required = notional.Add(fees)
	} else {
		fundingAsset = spec.Base
		required = qty
	}

	bal, ok := e.balances[fundingAsset]
	if !ok {
		bal = &balance{}
		e.balances[fundingAsset] = bal
	}
	if bal.free.LessThan(required) {
		return order.OpenResponse{Key: req.Key}, xerrors.New(xerrors.CodeInsufficientBalance,
			"insufficient free balance for order")
	}

	bal.free = bal.free.Sub(required)
	bal.total = bal.total.Sub(required)

	// Sell proceeds settle in the quote asset, net of fees charged there.
	if req.Side == order.SideSell {
		proceeds := notional.Sub(fees)
		quoteBal, ok := e.balances[spec.Quote]
		if !ok {
			quoteBal = &balance{}
			e.balances[spec.Quote] = quoteBal
		}
		quoteBal.free = quoteBal.free.Add(proceeds)
		quoteBal.total = quoteBal.total.Add(proceeds)
	} else {
		baseBal, ok := e.balances[spec.Base]
		if !ok {
			baseBal = &balance{}
			e.balances[spec.Base] = baseBal
		}
		baseBal.free = baseBal.free.Add(qty)
		baseBal.total = baseBal.total.Add(qty)
	}

	id := e.orderSeq.Add(1)
	exchangeTime := requestTime.Add(e.latency / 2)
	e.clock.Set(exchangeTime)

	open := order.Open{
		OrderID:    order.OrderID(strconv.FormatUint(id, 10)),
		Price:      price,
		Quantity:   qty,
		Filled:     qty,
		TimeUpdate: exchangeTime,
	}

	snap := order.Snapshot{Key: req.Key, Side: req.Side, Terminal: true, Open: &open}
	e.orders[req.Key.Instrument] = append(e.orders[req.Key.Instrument], snap)

	if e.metrics != nil {
		e.metrics.MockExchangeFills.WithLabelValues(strconv.Itoa(int(req.Key.Instrument))).Inc()
	}

	return order.OpenResponse{Key: req.Key, Open: open}, nil
}

// Cancel is always a no-op failure: the mock exchange only supports
// Market/IoC orders, which settle synchronously and are never left open to
// cancel.
func (e *Exchange) Cancel(ctx context.Context, req execution.CancelRequest) (order.CancelResponse, error) {
	return order.CancelResponse{Key: req.Key}, xerrors.New(xerrors.CodeOrderNotFound,
		"mock exchange has no open orders to cancel")
}

// AccountSnapshot returns an immutable view of current balances and all
// tracked (terminal-state) orders, grouped by instrument.
func (e *Exchange) AccountSnapshot(ctx context.Context) (execution.AccountSnapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	balances := make([]execution.Balance, 0, len(e.balances))
	now := e.clock.Now()
	for asset, bal := range e.balances {
		balances = append(balances, execution.Balance{
			Asset: asset,
			Total: bal.total.String(),
			Free:  bal.free.String(),
			Time:  now,
		})
	}

	ordersByInstrument := make(map[catalogue.InstrumentIndex][]order.Snapshot, len(e.orders))
	for inst, snaps := range e.orders {
		cp := make([]order.Snapshot, len(snaps))
		copy(cp, snaps)
		ordersByInstrument[inst] = cp
	}

	return execution.AccountSnapshot{Balances: balances, OrdersByInstrument: ordersByInstrument}, nil
}

