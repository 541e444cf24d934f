package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/quantcore/tradengine/internal/catalogue"
	"github.com/quantcore/tradengine/internal/clock"
	"github.com/quantcore/tradengine/internal/execution"
	"github.com/quantcore/tradengine/internal/metrics"
	"github.com/quantcore/tradengine/internal/order"
	"github.com/quantcore/tradengine/internal/position"
	"github.com/quantcore/tradengine/internal/xerrors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Engine is the single-threaded cooperative reducer. State, Run, and every
// unexported helper below are only ever touched from the goroutine Run
// starts on; nothing here is safe to call concurrently.
type Engine struct {
	state      *EngineState
	input      chan Event
	audit      *auditSink
	strategy   Strategy
	risk       RiskManager
	executions map[catalogue.ExchangeIndex]*execution.Manager
	clock      clock.Clock
	log        *zap.Logger
	metrics    *metrics.Metrics
	sequence   uint64
}

// Config bundles Engine's construction parameters.
type Config struct {
	InputBuffer   int
	AuditCapacity int
}

// New builds an Engine. executions must have one entry per exchange the
// catalogue names. m is optional; a nil *metrics.Metrics disables every
// collector increment below rather than panicking, so metrics stay an
// add-on and never a correctness dependency.
func New(state *EngineState, cfg Config, strategy Strategy, risk RiskManager,
	executions map[catalogue.ExchangeIndex]*execution.Manager, clk clock.Clock,
	log *zap.Logger, m *metrics.Metrics) *Engine {
	if cfg.InputBuffer <= 0 {
		cfg.InputBuffer = 1024
	}
	if cfg.AuditCapacity <= 0 {
		cfg.AuditCapacity = 4096
	}
	e := &Engine{
		state:      state,
		strategy:   strategy,
		risk:       risk,
		executions: executions,
		clock:      clk,
		log:        log,
		metrics:    m,
	}
	e.input = make(chan Event, cfg.InputBuffer)
	e.audit = newAuditSink(cfg.AuditCapacity, e.recordAuditDrop)
	return e
}

// recordAuditDrop is the auditSink's drop callback: it fires only when the
// bounded audit channel is full and an unread entry is evicted.
func (e *Engine) recordAuditDrop(dropped Audit) {
	if e.metrics != nil {
		e.metrics.AuditRecordsDroppedTotal.Inc()
	}
	if e.log != nil {
		e.log.Warn("audit channel full, dropped oldest record", zap.Uint64("sequence", dropped.Sequence))
	}
}

// Input returns the send side of the engine's merged event queue. Feed
// goroutines, the account fan-in, and command sources all send on it.
func (e *Engine) Input() chan<- Event { return e.input }

// Audit returns the receive side of the droppable audit channel.
func (e *Engine) Audit() <-chan Audit { return e.audit.Chan() }

// Run is the reducer's main loop. It emits an initial snapshot audit, then
// processes events one at a time to completion until a Shutdown command
// arrives or ctx is cancelled. A panic anywhere inside event processing or a
// Strategy/RiskManager hook is recovered here and converted into an
// unrecoverable shutdown, matching the task-boundary panic-catching rule.
func (e *Engine) Run(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			perr := xerrors.Newf(xerrors.CodeOrderRejected, "engine panic: %v", r).WithField("panic", r)
			perr.Severity = xerrors.SeverityUnrecoverable
			err = perr
			e.emitShutdown(fmt.Sprintf("panic: %v", r))
		}
	}()

	e.emit(Audit{Kind: AuditSnapshot, Snapshot: viewPtr(e.state.View(e.clock.Now()))})

	for {
		select {
		case <-ctx.Done():
			e.emitShutdown("context cancelled")
			return ctx.Err()
		case ev := <-e.input:
			if terminate, reason := e.process(ev); terminate {
				e.emitShutdown(reason)
				return nil
			}
		}
	}
}

func viewPtr(v EngineStateView) *EngineStateView { return &v }

func (e *Engine) engineTime(ev Event) time.Time {
	if !ev.Time.IsZero() {
		return ev.Time
	}
	return e.clock.Now()
}

// process folds one event into state and returns (terminate, reason) if the
// event was a Shutdown command. Algorithmic orders are only generated off
// market/account/connectivity events, never off a Command itself: a Command
// is already a deliberate instruction, and routing strategy output from it
// too would let one decision trigger another unasked-for one in the same
// fold.
func (e *Engine) process(ev Event) (bool, string) {
	now := e.engineTime(ev)
	isCommand := ev.Command != nil

	switch {
	case ev.Market != nil:
		e.applyMarket(*ev.Market, now)
	case ev.Account != nil:
		e.applyAccount(*ev.Account)
	case ev.Connectivity != nil:
		e.applyConnectivity(*ev.Connectivity, now)
	case ev.Command != nil:
		if terminate, reason := e.applyCommand(*ev.Command); terminate {
			return true, reason
		}
	}

	e.emit(Audit{Kind: AuditEvent, EngineTime: now, Event: &ev})
	if !isCommand {
		e.routeStrategy(now)
	}
	return false, ""
}

func (e *Engine) applyMarket(m MarketEvent, now time.Time) {
	inst := &e.state.Instrument[m.Instrument]
	inst.Book = m.Book
	inst.HasBook = true
	inst.LastMarketEvent = now
	if mid, ok := m.Book.MidPrice(); ok {
		inst.Position.MarkToMarket(mid)
	}
}

func (e *Engine) applyConnectivity(c ConnectivityEvent, now time.Time) {
	e.state.Connectivity[c.Exchange] = Connectivity{Healthy: c.Healthy, Reason: c.Reason, Since: now}
	if e.metrics != nil {
		connected := 0.0
		if c.Healthy {
			connected = 1.0
		}
		e.metrics.ExchangeConnected.WithLabelValues(e.state.Instruments.Exchange(c.Exchange).Name).Set(connected)
	}
	if !c.Healthy {
		e.strategy.OnDisconnect(c.Exchange)
	}
}

func (e *Engine) applyAccount(ev execution.AccountEvent) {
	switch {
	case ev.OrderOpened != nil:
		if inst := e.instrumentForKey(ev.OrderOpened.Key); inst != nil {
			inst.Orders.UpdateFromOpen(*ev.OrderOpened)
		}
	case ev.OrderCancelled != nil:
		if inst := e.instrumentForKey(ev.OrderCancelled.Key); inst != nil {
			inst.Orders.UpdateFromCancel(*ev.OrderCancelled)
		}
	case ev.OrderSnapshot != nil:
		if inst := e.instrumentForKey(ev.OrderSnapshot.Key); inst != nil {
			inst.Orders.UpdateFromOrderSnapshot(*ev.OrderSnapshot)
		}
	case ev.Trade != nil:
		e.applyTrade(*ev.Trade)
	case ev.BalanceSnapshot != nil:
		total, errTotal := decimal.NewFromString(ev.BalanceSnapshot.Total)
		free, errFree := decimal.NewFromString(ev.BalanceSnapshot.Free)
		if errTotal != nil || errFree != nil {
			e.log.Error("dropping unparseable balance snapshot",
				zap.Int("exchange", int(ev.Exchange)), zap.Int("asset", int(ev.BalanceSnapshot.Asset)))
			break
		}
		e.state.Balances[ev.Exchange][ev.BalanceSnapshot.Asset] = AssetBalance{Total: total, Free: free}
	}
}

func (e *Engine) applyTrade(at execution.AccountTrade) {
	price, err1 := decimal.NewFromString(at.Price)
	qty, err2 := decimal.NewFromString(at.Quantity)
	fees, err3 := decimal.NewFromString(at.Fees)
	if err1 != nil || err2 != nil || err3 != nil {
		e.log.Error("dropping unparseable account trade", zap.String("cid", string(at.Key.CID)))
		return
	}

	inst := &e.state.Instrument[at.Instrument]
	before := len(inst.Position.History())
	inst.Position.ApplyTrade(position.Trade{
		TradeID:  string(at.Key.CID),
		Side:     at.Side,
		Price:    price,
		Quantity: qty,
		Fees:     fees,
		Time:     at.Time,
	})
	inst.Position.MarkToMarket(price)
	if after := inst.Position.History(); len(after) > before {
		closed := after[len(after)-1]
		e.emit(Audit{Kind: AuditPositionClosed, Closed: &closed})
	}
}

func (e *Engine) instrumentForKey(key order.Key) *InstrumentState {
	if int(key.Instrument) < 0 || int(key.Instrument) >= len(e.state.Instrument) {
		return nil
	}
	return &e.state.Instrument[key.Instrument]
}

func (e *Engine) applyCommand(c Command) (bool, string) {
	switch c.Kind {
	case CommandShutdown:
		return true, "commanded"
	case CommandTradingState:
		e.state.TradingEnabled = c.Enabled
	case CommandCancelOrders:
		e.cancelMatching(c.Filter)
	case CommandClosePositions:
		e.closeMatching(c.Filter)
	case CommandSendOpenRequests:
		e.sendOpenRequests(c.Opens)
	case CommandSendCancelRequests:
		e.sendCancelRequests(c.Cancels)
	}
	return false, ""
}

// closeMatching drives every instrument matching f with an open position to
// flat, by routing a synthetic Market/IoC order sized to close it, priced
// off the instrument's current book mid. An instrument with no open position
// or no book to price the close against is left untouched; the latter is
// logged since a ClosePositions command silently not acting on an instrument
// is otherwise indistinguishable from one with nothing to close.
func (e *Engine) closeMatching(f Filter) {
	for i := range e.state.Instrument {
		idx := catalogue.InstrumentIndex(i)
		if !filterMatchesInstrument(e.state.Instruments, f, idx) {
			continue
		}

		inst := &e.state.Instrument[i]
		pos, ok := inst.Position.Current()
		if !ok || pos.Quantity.IsZero() {
			continue
		}

		mid, ok := inst.Book.MidPrice()
		if !ok {
			e.log.Warn("cannot close position, no book to price against", zap.Int("instrument", i))
			continue
		}

		in := e.state.Instruments.Instrument(idx)
		mgr, ok := e.executions[in.Exchange]
		if !ok {
			continue
		}

		side := order.SideSell
		if pos.Side == order.SideSell {
			side = order.SideBuy
		}
		key := order.Key{
			Exchange:   in.Exchange,
			Instrument: idx,
			CID:        order.ClientOrderID(fmt.Sprintf("close-%d-%d", idx, e.sequence)),
		}
		req := order.RequestOpen{Kind: order.KindMarket, TimeInForce: order.TimeInForceImmediateOrCancel, Price: mid, Quantity: pos.Quantity}

		inst.Orders.RecordInFlightOpen(key, side, req)
		if sent, err := mgr.Send(execution.Request{Open: &execution.OpenRequest{Key: key, Side: side, Request: req}}); err != nil || !sent {
			e.log.Warn("close-position request not sent", zap.String("cid", string(key.CID)), zap.Error(err))
		}
	}
}

// sendOpenRequests routes a directly-commanded batch of opens through the
// same risk check as strategy-generated orders; a command bypassing risk
// would make the risk manager a strategy-only gate instead of the
// order-level one it is meant to be.
func (e *Engine) sendOpenRequests(opens []OrderRequestOpen) {
	if len(opens) == 0 {
		return
	}
	view := e.state.View(e.clock.Now())
	approved, refused := e.risk.CheckOpenRequests(view, opens)
	e.emitRefusals(refused)
	e.sendApprovedOpens(approved)
}

func (e *Engine) sendCancelRequests(cancels []OrderRequestCancel) {
	for _, c := range cancels {
		e.sendCancelRequest(c)
	}
}

func (e *Engine) cancelMatching(f Filter) {
	for i := range e.state.Instrument {
		idx := catalogue.InstrumentIndex(i)
		if !filterMatchesInstrument(e.state.Instruments, f, idx) {
			continue
		}
		for _, o := range e.state.Instrument[i].Orders.Orders() {
			if o.State == order.StateCancelInFlight {
				continue
			}
			mgr, ok := e.executions[o.Key.Exchange]
			if !ok {
				continue
			}
			e.state.Instrument[i].Orders.RecordInFlightCancel(o.Key)
			if sent, err := mgr.Send(execution.Request{Cancel: &execution.CancelRequest{Key: o.Key}}); err != nil || !sent {
				e.log.Warn("cancel request not sent", zap.String("cid", string(o.Key.CID)), zap.Error(err))
			}
		}
	}
}

func filterMatchesInstrument(cat *catalogue.Instruments, f Filter, idx catalogue.InstrumentIndex) bool {
	in := cat.Instrument(idx)
	switch f.Kind {
	case FilterNone:
		return true
	case FilterExchange:
		return in.Exchange == f.Exchange
	case FilterInstrument:
		return idx == f.Instrument
	case FilterUnderlying:
		return in.Base == f.Base && in.Quote == f.Quote
	default:
		return false
	}
}

// routeStrategy calls the strategy and risk collaborators with a fresh view
// of the just-updated state, then routes approved opens and requested
// cancels to their per-exchange execution managers, recording each as
// in-flight before it leaves the reducer.
func (e *Engine) routeStrategy(now time.Time) {
	if !e.state.TradingEnabled {
		return
	}
	view := e.state.View(now)
	opens, cancels := e.strategy.GenerateAlgoOrders(view)

	var approved []OrderRequestOpen
	var refused []OrderRequestRefused
	if len(opens) > 0 {
		approved, refused = e.risk.CheckOpenRequests(view, opens)
	}

	e.emitRefusals(refused)
	e.sendApprovedOpens(approved)
	e.sendCancelRequests(cancels)
}

func (e *Engine) emitRefusals(refused []OrderRequestRefused) {
	for i := range refused {
		if e.metrics != nil {
			e.metrics.OrderRejections.WithLabelValues(refused[i].Reason).Inc()
		}
		e.emit(Audit{Kind: AuditOrderRefused, Refused: &refused[i]})
	}
}

func (e *Engine) sendApprovedOpens(approved []OrderRequestOpen) {
	for _, o := range approved {
		mgr, ok := e.executions[o.Exchange]
		if !ok {
			e.log.Error("no execution manager for exchange", zap.Int("exchange", int(o.Exchange)))
			continue
		}
		key := order.Key{Exchange: o.Exchange, Instrument: o.Instrument, CID: o.CID}
		e.state.Instrument[o.Instrument].Orders.RecordInFlightOpen(key, o.Side, o.Request)
		sent, err := mgr.Send(execution.Request{Open: &execution.OpenRequest{Key: key, Side: o.Side, Request: o.Request}})
		if err != nil || !sent {
			e.log.Warn("open request not sent", zap.String("cid", string(o.CID)), zap.Error(err))
			continue
		}
		opened := o
		e.emit(Audit{Kind: AuditOrderOpened, Opened: &opened})
	}
}

func (e *Engine) sendCancelRequest(c OrderRequestCancel) {
	mgr, ok := e.executions[c.Exchange]
	if !ok {
		return
	}
	key := order.Key{Exchange: c.Exchange, Instrument: c.Instrument, CID: c.CID}
	e.state.Instrument[c.Instrument].Orders.RecordInFlightCancel(key)
	if sent, err := mgr.Send(execution.Request{Cancel: &execution.CancelRequest{Key: key}}); err != nil || !sent {
		e.log.Warn("cancel request not sent", zap.String("cid", string(c.CID)), zap.Error(err))
	}
}

func (e *Engine) emit(a Audit) {
	a.Sequence = e.sequence
	e.sequence++
	if e.metrics != nil {
		e.metrics.AuditRecordsTotal.Inc()
	}
	e.audit.emit(a)
}

func (e *Engine) emitShutdown(reason string) {
	e.emit(Audit{Kind: AuditShutdown, ShutdownReason: reason})
}
