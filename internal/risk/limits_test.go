package risk

import (
	"testing"

	"github.com/quantcore/tradengine/internal/catalogue"
	"github.com/quantcore/tradengine/internal/engine"
	"github.com/quantcore/tradengine/internal/order"
	"github.com/quantcore/tradengine/internal/position"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"
)

func openRequest(qty string) engine.OrderRequestOpen {
	return engine.OrderRequestOpen{
		Instrument: catalogue.InstrumentIndex(0),
		CID:        order.ClientOrderID("A"),
		Side:       order.SideBuy,
		Request:    order.RequestOpen{Quantity: decimal.RequireFromString(qty)},
	}
}

func TestNoLimitConfiguredApprovesEverything(t *testing.T) {
	lm := NewLimitManager(zaptest.NewLogger(t))

	approved, refused := lm.CheckOpenRequests(engine.EngineStateView{}, []engine.OrderRequestOpen{openRequest("100")})

	assert.Empty(t, refused)
	assert.Len(t, approved, 1)
}

func TestOrderSizeExceedsLimitIsRefused(t *testing.T) {
	lm := NewLimitManager(zaptest.NewLogger(t))
	lm.SetLimit(catalogue.InstrumentIndex(0), Limit{MaxOrderSize: decimal.NewFromInt(10)})

	approved, refused := lm.CheckOpenRequests(engine.EngineStateView{}, []engine.OrderRequestOpen{openRequest("11")})

	assert.Empty(t, approved)
	assert.Len(t, refused, 1)
}

func TestPositionSizeLimitBlocksOrderThatWouldExceedIt(t *testing.T) {
	lm := NewLimitManager(zaptest.NewLogger(t))
	lm.SetLimit(catalogue.InstrumentIndex(0), Limit{MaxPositionSize: decimal.NewFromInt(10)})

	view := engine.EngineStateView{
		Instrument: []engine.InstrumentInfoView{
			{
				HasPosition: true,
				Position: position.Position{
					Side:     order.SideBuy,
					Quantity: decimal.NewFromInt(8),
				},
			},
		},
	}

	approved, refused := lm.CheckOpenRequests(view, []engine.OrderRequestOpen{openRequest("5")})

	assert.Empty(t, approved)
	assert.Len(t, refused, 1)
}

func TestPositionReducingOrderIsApprovedEvenAtLimit(t *testing.T) {
	lm := NewLimitManager(zaptest.NewLogger(t))
	lm.SetLimit(catalogue.InstrumentIndex(0), Limit{MaxPositionSize: decimal.NewFromInt(10)})

	view := engine.EngineStateView{
		Instrument: []engine.InstrumentInfoView{
			{
				HasPosition: true,
				Position: position.Position{
					Side:     order.SideBuy,
					Quantity: decimal.NewFromInt(10),
				},
			},
		},
	}

	req := openRequest("3")
	req.Side = order.SideSell

	approved, refused := lm.CheckOpenRequests(view, []engine.OrderRequestOpen{req})

	assert.Empty(t, refused)
	assert.Len(t, approved, 1)
}
