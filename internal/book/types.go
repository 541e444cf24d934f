// Package book maintains per-instrument L2 order books from an HTTP
// snapshot plus a WebSocket delta stream, including per-exchange sequence
// validation and resynchronisation.
package book

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side tags which side of the book a Level or delta entry belongs to.
type Side int

const (
	SideBid Side = iota
	SideAsk
)

// Level is one price level of an order book. Amount is always > 0; a level
// with amount 0 is absent and is removed rather than kept.
type Level struct {
	Price  decimal.Decimal
	Amount decimal.Decimal
}

// OrderBookSide is a sorted slice of Levels: descending by price for bids,
// ascending for asks, all prices distinct. It is never shared mutably —
// callers that need a stable view take a Snapshot.
type OrderBookSide struct {
	side   Side
	levels []Level
}

// NewOrderBookSide creates an empty side.
func NewOrderBookSide(side Side) *OrderBookSide {
	return &OrderBookSide{side: side}
}

// Levels returns the side's levels in sorted order. The caller must not
// mutate the returned slice.
func (s *OrderBookSide) Levels() []Level { return s.levels }

// Best returns the best (first) level of the side, if any.
func (s *OrderBookSide) Best() (Level, bool) {
	if len(s.levels) == 0 {
		return Level{}, false
	}
	return s.levels[0], true
}

// less reports whether price a should sort before price b on this side.
func (s *OrderBookSide) less(a, b decimal.Decimal) bool {
	if s.side == SideBid {
		return a.GreaterThan(b)
	}
	return a.LessThan(b)
}

// OrderBook is the assembled two-sided book for one instrument at one
// exchange, seeded from a snapshot and evolved by deltas.
type OrderBook struct {
	Sequence   uint64
	EngineTime time.Time
	Bids       *OrderBookSide
	Asks       *OrderBookSide
}

// NewOrderBook creates an empty book at the given initial sequence.
func NewOrderBook(sequence uint64) *OrderBook {
	return &OrderBook{
		Sequence: sequence,
		Bids:     NewOrderBookSide(SideBid),
		Asks:     NewOrderBookSide(SideAsk),
	}
}

// Snapshot is a value-copy of a book suitable for handing to collaborators
// outside the engine without risking mutation of the live book.
type Snapshot struct {
	Sequence   uint64
	EngineTime time.Time
	Bids       []Level
	Asks       []Level
}

// Snapshot takes an immutable copy of the book's current state.
func (b *OrderBook) Snapshot() Snapshot {
	bids := make([]Level, len(b.Bids.levels))
	copy(bids, b.Bids.levels)
	asks := make([]Level, len(b.Asks.levels))
	copy(asks, b.Asks.levels)
	return Snapshot{
		Sequence:   b.Sequence,
		EngineTime: b.EngineTime,
		Bids:       bids,
		Asks:       asks,
	}
}

// MidPrice returns (best_bid+best_ask)/2, the best price of whichever side
// is non-empty if only one side has levels, or false if both sides are
// empty.
func (s Snapshot) MidPrice() (decimal.Decimal, bool) {
	bestBid, hasBid := bestOf(s.Bids)
	bestAsk, hasAsk := bestOf(s.Asks)
	switch {
	case hasBid && hasAsk:
		return bestBid.Price.Add(bestAsk.Price).Div(decimal.NewFromInt(2)), true
	case hasBid:
		return bestBid.Price, true
	case hasAsk:
		return bestAsk.Price, true
	default:
		return decimal.Zero, false
	}
}

// MicroPrice returns the volume-weighted mid-price, weighing each side by
// the opposite side's size. Falls back to the single populated side's best
// price, same as MidPrice, when only one side has levels.
func (s Snapshot) MicroPrice() (decimal.Decimal, bool) {
	bestBid, hasBid := bestOf(s.Bids)
	bestAsk, hasAsk := bestOf(s.Asks)
	switch {
	case hasBid && hasAsk:
		denom := bestBid.Amount.Add(bestAsk.Amount)
		if denom.IsZero() {
			return decimal.Zero, false
		}
		num := bestBid.Price.Mul(bestAsk.Amount).Add(bestAsk.Price.Mul(bestBid.Amount))
		return num.Div(denom), true
	case hasBid:
		return bestBid.Price, true
	case hasAsk:
		return bestAsk.Price, true
	default:
		return decimal.Zero, false
	}
}

func bestOf(levels []Level) (Level, bool) {
	if len(levels) == 0 {
		return Level{}, false
	}
	return levels[0], true
}
