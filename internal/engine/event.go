// Package engine hosts the single-threaded deterministic reducer at the
// centre of the core: it folds market events, account events, commands, and
// trading-state changes into EngineState and emits an ordered audit stream.
package engine

import (
	"time"

	"github.com/quantcore/tradengine/internal/book"
	"github.com/quantcore/tradengine/internal/catalogue"
	"github.com/quantcore/tradengine/internal/execution"
	"github.com/quantcore/tradengine/internal/order"
)

// MarketEvent carries a new order-book snapshot for one instrument, already
// assembled by the book package.
type MarketEvent struct {
	Instrument catalogue.InstrumentIndex
	Book       book.Snapshot
}

// ConnectivityEvent reports a change in a feed's connection health.
type ConnectivityEvent struct {
	Exchange catalogue.ExchangeIndex
	Healthy  bool
	Reason   string
}

// Filter selects which orders/positions a command applies to.
type Filter struct {
	Kind       FilterKind
	Exchange   catalogue.ExchangeIndex
	Instrument catalogue.InstrumentIndex
	Base       catalogue.AssetIndex
	Quote      catalogue.AssetIndex
}

// FilterKind discriminates Filter's cases.
type FilterKind int

const (
	FilterNone FilterKind = iota
	FilterExchange
	FilterInstrument
	FilterUnderlying
)

// CommandKind discriminates Command's cases.
type CommandKind int

const (
	CommandCancelOrders CommandKind = iota
	CommandClosePositions
	CommandTradingState
	CommandShutdown
	CommandSendOpenRequests
	CommandSendCancelRequests
)

// Command is an operator- or strategy-issued instruction delivered on the
// same merged input queue as market and account events.
type Command struct {
	Kind    CommandKind
	Filter  Filter
	Enabled bool // for CommandTradingState

	Opens   []OrderRequestOpen   // for CommandSendOpenRequests
	Cancels []OrderRequestCancel // for CommandSendCancelRequests
}

// Event is the sum type folded by the reducer. Exactly one field is set.
type Event struct {
	Time         time.Time
	Market       *MarketEvent
	Account      *execution.AccountEvent
	Connectivity *ConnectivityEvent
	Command      *Command
}

// OrderRequestOpen is what a Strategy emits to open a new order.
type OrderRequestOpen struct {
	Exchange   catalogue.ExchangeIndex
	Instrument catalogue.InstrumentIndex
	CID        order.ClientOrderID
	Side       order.Side
	Request    order.RequestOpen
}

// OrderRequestCancel is what a Strategy emits to cancel a tracked order.
type OrderRequestCancel struct {
	Exchange   catalogue.ExchangeIndex
	Instrument catalogue.InstrumentIndex
	CID        order.ClientOrderID
}

// OrderRequestRefused is a request the risk manager declined to route.
type OrderRequestRefused struct {
	Request OrderRequestOpen
	Reason  string
}
