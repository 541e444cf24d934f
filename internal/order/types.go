// Package order tracks, per instrument, the lifecycle of orders this engine
// has requested: from an in-flight open/cancel request through Open to a
// terminal state, reconciling optimistic local state with authoritative
// exchange account events.
package order

import (
	"time"

	"github.com/quantcore/tradengine/internal/catalogue"
	"github.com/shopspring/decimal"
)

// Side is the direction of an order.
type Side int

const (
	SideBuy Side = iota
	SideSell
)

// Kind is the order type. Only Market is exercised by the mock exchange;
// Limit exists for live-exchange routing.
type Kind int

const (
	KindMarket Kind = iota
	KindLimit
)

// TimeInForce controls how long an order remains workable.
type TimeInForce int

const (
	TimeInForceGoodUntilCancelled TimeInForce = iota
	TimeInForceGoodUntilEndOfDay
	TimeInForceImmediateOrCancel
)

// ClientOrderID is a client-chosen identifier, unique per (exchange,
// instrument) for the engine's uptime, round-tripped by the exchange.
type ClientOrderID string

// OrderID is the exchange-assigned identifier returned once an order is
// acknowledged.
type OrderID string

// Key identifies an order by its full addressing: exchange, instrument,
// and client-order-id.
type Key struct {
	Exchange   catalogue.ExchangeIndex
	Instrument catalogue.InstrumentIndex
	CID        ClientOrderID
}

// State is the tag of an order's current lifecycle state.
type State int

const (
	StateOpenInFlight State = iota
	StateOpen
	StateCancelInFlight
)

func (s State) String() string {
	switch s {
	case StateOpenInFlight:
		return "OpenInFlight"
	case StateOpen:
		return "Open"
	case StateCancelInFlight:
		return "CancelInFlight"
	default:
		return "Unknown"
	}
}

// RequestOpen is the payload of a locally-issued open request, recorded as
// in-flight before any exchange response arrives.
type RequestOpen struct {
	Kind        Kind
	TimeInForce TimeInForce
	Price       decimal.Decimal
	Quantity    decimal.Decimal
}

// Open is the authoritative state of an order the exchange has accepted.
type Open struct {
	OrderID    OrderID
	Price      decimal.Decimal
	Quantity   decimal.Decimal
	Filled     decimal.Decimal
	TimeUpdate time.Time
}

// Order is one tracked order, in whichever state it currently occupies.
type Order struct {
	Key   Key
	Side  Side
	State State
	Open  *Open // set once the exchange acknowledges the order; kept through StateCancelInFlight
}

// CancelResponse is the exchange's reply to a cancel request.
type CancelResponse struct {
	Key   Key
	Err   error
}

// OpenResponse is the exchange's reply to an open request.
type OpenResponse struct {
	Key  Key
	Open Open
	Err  error
}

// Snapshot is an authoritative exchange account event describing the
// current state of one order, used to reconcile local tracking outside the
// request/response flow (e.g. a periodic account snapshot).
type Snapshot struct {
	Key        Key
	Side       Side
	Terminal   bool
	Open       *Open
}
