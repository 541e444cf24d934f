package engine

import (
	"time"

	"github.com/quantcore/tradengine/internal/book"
	"github.com/quantcore/tradengine/internal/catalogue"
	"github.com/quantcore/tradengine/internal/order"
	"github.com/quantcore/tradengine/internal/position"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// InstrumentState is the per-instrument slot of EngineState, indexed
// directly by catalogue.InstrumentIndex.
type InstrumentState struct {
	Book            book.Snapshot
	HasBook         bool
	Orders          *order.Manager
	Position        *position.Tracker
	LastMarketEvent time.Time
}

// Connectivity is the per-exchange health tracked in EngineState.
type Connectivity struct {
	Healthy bool
	Reason  string
	Since   time.Time
}

// AssetBalance is one asset's balance on one exchange. The invariant
// Free <= Total always holds; Total - Free is the amount reserved against
// in-flight or open orders.
type AssetBalance struct {
	Total decimal.Decimal
	Free  decimal.Decimal
}

// EngineState is the exclusive-owned, continuously-folded state of one
// engine instance. It is mutated only by the engine goroutine.
type EngineState struct {
	Instruments *catalogue.Instruments

	StartTime time.Time

	Connectivity []Connectivity                         // indexed by ExchangeIndex
	Balances     []map[catalogue.AssetIndex]AssetBalance // indexed by ExchangeIndex
	Instrument   []InstrumentState                       // indexed by InstrumentIndex

	TradingEnabled bool
}

// NewEngineState builds a fresh EngineState for catalogue cat, with trading
// enabled by default and every exchange initially marked unhealthy until its
// feed reports in.
func NewEngineState(cat *catalogue.Instruments, start time.Time, positionHistory int, log *zap.Logger) *EngineState {
	s := &EngineState{
		Instruments:    cat,
		StartTime:      start,
		Connectivity:   make([]Connectivity, cat.NumExchanges()),
		Balances:       make([]map[catalogue.AssetIndex]AssetBalance, cat.NumExchanges()),
		Instrument:     make([]InstrumentState, cat.NumInstruments()),
		TradingEnabled: true,
	}
	for i := range s.Connectivity {
		s.Connectivity[i] = Connectivity{Healthy: false, Since: start}
	}
	for i := range s.Balances {
		s.Balances[i] = make(map[catalogue.AssetIndex]AssetBalance)
	}
	for i := range s.Instrument {
		idx := catalogue.InstrumentIndex(i)
		s.Instrument[i] = InstrumentState{
			Orders:   order.NewManager(log),
			Position: position.NewTracker(idx, positionHistory),
		}
	}
	return s
}

// EngineStateView is an immutable, value-copied snapshot of EngineState
// handed to Strategy/RiskManager hooks and to the audit stream. It is built
// once per processed event; its per-instrument slice is a fresh copy so a
// collaborator cannot observe or cause mutation of the live state.
type EngineStateView struct {
	EngineTime     time.Time
	TradingEnabled bool
	Connectivity   []Connectivity
	Instrument     []InstrumentInfoView
}

// InstrumentInfoView is the per-instrument projection carried in a view.
type InstrumentInfoView struct {
	Book        book.Snapshot
	HasBook     bool
	Orders      []*order.Order
	Position    position.Position
	HasPosition bool
}

// View builds an EngineStateView of s as of engineTime.
func (s *EngineState) View(engineTime time.Time) EngineStateView {
	v := EngineStateView{
		EngineTime:     engineTime,
		TradingEnabled: s.TradingEnabled,
		Connectivity:   append([]Connectivity(nil), s.Connectivity...),
		Instrument:     make([]InstrumentInfoView, len(s.Instrument)),
	}
	for i, inst := range s.Instrument {
		var info InstrumentInfoView
		if inst.HasBook {
			info.Book = inst.Book
			info.Book.Bids = append([]book.Level(nil), inst.Book.Bids...)
			info.Book.Asks = append([]book.Level(nil), inst.Book.Asks...)
			info.HasBook = true
		}
		if inst.Orders != nil {
			for _, o := range inst.Orders.Orders() {
				cp := *o
				if o.Open != nil {
					open := *o.Open
					cp.Open = &open
				}
				info.Orders = append(info.Orders, &cp)
			}
		}
		if inst.Position != nil {
			if cur, ok := inst.Position.Current(); ok {
				info.Position = *cur
				info.Position.TradeIDs = append([]string(nil), cur.TradeIDs...)
				info.HasPosition = true
			}
		}
		v.Instrument[i] = info
	}
	return v
}
