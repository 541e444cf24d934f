package book

import (
	"sort"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Delta is one (price, amount) update carried in a WebSocket delta message.
type Delta struct {
	Price  decimal.Decimal
	Amount decimal.Decimal
}

// Upsert applies price/amount updates to a side in place:
//
//   - present, amount == 0: remove the level.
//   - present, amount  > 0: replace the amount.
//   - absent,  amount == 0: no-op (log only); the exchange may remove a
//     level that is already absent locally.
//   - absent,  amount  > 0: insert, preserving sort order.
func (s *OrderBookSide) Upsert(deltas []Delta, log *zap.Logger) {
	for _, d := range deltas {
		s.upsertSingle(d, log)
	}
}

func (s *OrderBookSide) upsertSingle(d Delta, log *zap.Logger) {
	// First index whose level is not strictly before d.Price in this side's
	// order: the insertion point, or the match if prices are equal.
	i := sort.Search(len(s.levels), func(i int) bool {
		return s.levels[i].Price.Equal(d.Price) || !s.less(s.levels[i].Price, d.Price)
	})

	found := i < len(s.levels) && s.levels[i].Price.Equal(d.Price)

	switch {
	case found && d.Amount.IsZero():
		s.levels = append(s.levels[:i], s.levels[i+1:]...)
	case found && d.Amount.GreaterThan(decimal.Zero):
		s.levels[i].Amount = d.Amount
	case !found && d.Amount.IsZero():
		if log != nil {
			log.Debug("order book delta removed an already-absent level",
				zap.String("price", d.Price.String()))
		}
	case !found:
		s.levels = append(s.levels, Level{})
		copy(s.levels[i+1:], s.levels[i:])
		s.levels[i] = Level{Price: d.Price, Amount: d.Amount}
	}
}
