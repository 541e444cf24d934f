// Package position derives a continuous per-instrument position from a
// sequence of trade events, maintaining realised PnL (closed portion) and
// unrealised PnL (open portion marked-to-market).
package position

import (
	"time"

	"github.com/quantcore/tradengine/internal/catalogue"
	"github.com/quantcore/tradengine/internal/order"
	"github.com/shopspring/decimal"
)

// Trade is one fill applied to a position.
type Trade struct {
	TradeID    string
	Side       order.Side
	Price      decimal.Decimal
	Quantity   decimal.Decimal
	Fees       decimal.Decimal
	Time       time.Time
}

// Position is the open position on one instrument. Quantity is always
// stored as an absolute value; Side carries its sign.
type Position struct {
	Instrument    catalogue.InstrumentIndex
	Side          order.Side
	AveragePrice  decimal.Decimal
	Quantity      decimal.Decimal // absolute
	QuantityMax   decimal.Decimal // absolute, high-water mark
	RealisedPnL   decimal.Decimal
	UnrealisedPnL decimal.Decimal
	EntryFees     decimal.Decimal
	ExitFees      decimal.Decimal
	TradeIDs      []string
	EnterTime     time.Time
	LastUpdate    time.Time
}

// Closed is an archived position that has returned to flat.
type Closed struct {
	Position
	ClosedTime time.Time
}

func sideSign(s order.Side) decimal.Decimal {
	if s == order.SideBuy {
		return decimal.NewFromInt(1)
	}
	return decimal.NewFromInt(-1)
}

// Tracker maintains one instrument's current open position (if any) and a
// bounded history of recently closed positions.
type Tracker struct {
	instrument  catalogue.InstrumentIndex
	current     *Position
	history     []Closed
	historyCap  int
}

// NewTracker creates a tracker for instrument, archiving up to historyCap
// closed positions (0 disables archiving).
func NewTracker(instrument catalogue.InstrumentIndex, historyCap int) *Tracker {
	return &Tracker{instrument: instrument, historyCap: historyCap}
}

// Current returns the tracker's open position, if any.
func (t *Tracker) Current() (*Position, bool) {
	return t.current, t.current != nil
}

// History returns the archived closed positions, most recent last.
func (t *Tracker) History() []Closed { return t.history }

// ApplyTrade folds one trade into the tracker's current position, opening,
// increasing, reducing, closing, or flipping it per the same-side/
// reduce/close/flip rules.
func (t *Tracker) ApplyTrade(tr Trade) {
	if t.current == nil {
		t.open(tr, tr.Quantity, tr.Fees)
		return
	}

	if t.current.Side == tr.Side {
		t.increase(tr)
		return
	}

	switch cmp := tr.Quantity.Cmp(t.current.Quantity); {
	case cmp < 0:
		t.reduce(tr, tr.Quantity, tr.Fees)
	case cmp == 0:
		t.reduce(tr, tr.Quantity, tr.Fees)
		t.closeCurrent(tr.Time)
	default:
		closingQty := t.current.Quantity
		remainderQty := tr.Quantity.Sub(closingQty)
		// Proportionally allocate fees between the closing and opening
		// portions by quantity share of the trade.
		closingFees := tr.Fees.Mul(closingQty).Div(tr.Quantity)
		openingFees := tr.Fees.Sub(closingFees)

		t.reduce(tr, closingQty, closingFees)
		t.closeCurrent(tr.Time)
		t.open(tr, remainderQty, openingFees)
	}
}

func (t *Tracker) open(tr Trade, quantity, fees decimal.Decimal) {
	t.current = &Position{
		Instrument:   t.instrument,
		Side:         tr.Side,
		AveragePrice: tr.Price,
		Quantity:     quantity,
		QuantityMax:  quantity,
		EntryFees:    fees,
		RealisedPnL:  fees.Neg(),
		TradeIDs:     []string{tr.TradeID},
		EnterTime:    tr.Time,
		LastUpdate:   tr.Time,
	}
}

// increase applies a same-side trade: new average price is the quantity-
// weighted blend P̄ = (P̄·Q + t_p·t_q)/(Q + t_q).
func (t *Tracker) increase(tr Trade) {
	p := t.current
	newQty := p.Quantity.Add(tr.Quantity)
	p.AveragePrice = p.AveragePrice.Mul(p.Quantity).
		Add(tr.Price.Mul(tr.Quantity)).
		Div(newQty)
	p.Quantity = newQty
	if newQty.GreaterThan(p.QuantityMax) {
		p.QuantityMax = newQty
	}
	p.RealisedPnL = p.RealisedPnL.Sub(tr.Fees)
	p.EntryFees = p.EntryFees.Add(tr.Fees)
	p.TradeIDs = append(p.TradeIDs, tr.TradeID)
	p.LastUpdate = tr.Time
}

// reduce applies an opposite-side trade of size qty (<= p.Quantity):
// realised PnL moves by signed (t_p - P̄)*qty - fees.
func (t *Tracker) reduce(tr Trade, qty, fees decimal.Decimal) {
	p := t.current
	pnl := tr.Price.Sub(p.AveragePrice).Mul(qty).Mul(sideSign(p.Side)).Sub(fees)
	p.RealisedPnL = p.RealisedPnL.Add(pnl)
	p.Quantity = p.Quantity.Sub(qty)
	p.ExitFees = p.ExitFees.Add(fees)
	p.TradeIDs = append(p.TradeIDs, tr.TradeID)
	p.LastUpdate = tr.Time
}

func (t *Tracker) closeCurrent(at time.Time) {
	closed := Closed{Position: *t.current, ClosedTime: at}
	t.current = nil
	if t.historyCap <= 0 {
		return
	}
	t.history = append(t.history, closed)
	if len(t.history) > t.historyCap {
		t.history = t.history[len(t.history)-t.historyCap:]
	}
}

// MarkToMarket recomputes unrealised PnL against a newly observed price:
// side_sign * (price - P̄) * Q - approx_remaining_exit_fees, where
// approx_remaining_exit_fees = (Q / Q_max) * entry_fees.
func (t *Tracker) MarkToMarket(price decimal.Decimal) {
	p := t.current
	if p == nil {
		return
	}
	var remainingExitFees decimal.Decimal
	if !p.QuantityMax.IsZero() {
		remainingExitFees = p.Quantity.Div(p.QuantityMax).Mul(p.EntryFees)
	}
	p.UnrealisedPnL = price.Sub(p.AveragePrice).Mul(p.Quantity).Mul(sideSign(p.Side)).Sub(remainingExitFees)
}
