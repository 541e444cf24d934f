// Package execution routes cancel/open order requests to per-exchange
// execution managers and defines the execution-client contract both the
// live exchange and the mock exchange implement.
package execution

import (
	"context"
	"time"

	"github.com/quantcore/tradengine/internal/catalogue"
	"github.com/quantcore/tradengine/internal/order"
)

// OpenRequest asks an exchange to open a new order.
type OpenRequest struct {
	Key      order.Key
	Side     order.Side
	Request  order.RequestOpen
}

// CancelRequest asks an exchange to cancel an existing order.
type CancelRequest struct {
	Key order.Key
}

// Request is the sum type of requests sent on an execution channel.
type Request struct {
	Open   *OpenRequest
	Cancel *CancelRequest
}

// AccountEvent is the sum type of events an execution manager forwards from
// the exchange's account stream into the engine's merged account channel.
type AccountEvent struct {
	Exchange       catalogue.ExchangeIndex
	BalanceSnapshot *Balance
	OrderSnapshot  *order.Snapshot
	Trade          *AccountTrade
	OrderOpened    *order.OpenResponse
	OrderCancelled *order.CancelResponse
}

// Balance mirrors one AssetBalance observed from the exchange.
type Balance struct {
	Asset catalogue.AssetIndex
	Total string
	Free  string
	Time  time.Time
}

// AccountTrade is a fill notification, carrying enough to update both the
// order manager and the position tracker.
type AccountTrade struct {
	Key        order.Key
	Instrument catalogue.InstrumentIndex
	Side       order.Side
	Price      string
	Quantity   string
	Fees       string
	Time       time.Time
}

// Client is the execution-client contract both the live exchange and the
// mock exchange implement.
type Client interface {
	// Open submits req; the response is eventually delivered on the
	// manager's response handling path (or synchronously for the mock).
	Open(ctx context.Context, req OpenRequest) (order.OpenResponse, error)
	// Cancel submits a cancel request.
	Cancel(ctx context.Context, req CancelRequest) (order.CancelResponse, error)
	// AccountSnapshot returns an immutable view of current balances and
	// tracked orders, grouped by instrument.
	AccountSnapshot(ctx context.Context) (AccountSnapshot, error)
}

// AccountSnapshot is the exchange's view of balances and orders at a point
// in time.
type AccountSnapshot struct {
	Balances          []Balance
	OrdersByInstrument map[catalogue.InstrumentIndex][]order.Snapshot
}
