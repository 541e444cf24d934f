package position

import (
	"testing"
	"time"

	"github.com/quantcore/tradengine/internal/catalogue"
	"github.com/quantcore/tradengine/internal/order"
	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func TestPositionFlip(t *testing.T) {
	tr := NewTracker(catalogue.InstrumentIndex(0), 8)

	tr.ApplyTrade(Trade{TradeID: "t1", Side: order.SideBuy, Price: dec("100"), Quantity: dec("1"), Fees: dec("0"), Time: time.Now()})

	tr.ApplyTrade(Trade{TradeID: "t2", Side: order.SideSell, Price: dec("110"), Quantity: dec("3"), Fees: dec("0"), Time: time.Now()})

	hist := tr.History()
	if len(hist) != 1 {
		t.Fatalf("expected 1 closed position, got %d", len(hist))
	}
	if !hist[0].RealisedPnL.Equal(dec("10")) {
		t.Fatalf("expected closed realised pnl 10, got %s", hist[0].RealisedPnL)
	}

	cur, ok := tr.Current()
	if !ok {
		t.Fatal("expected new short position opened")
	}
	if cur.Side != order.SideSell {
		t.Fatalf("expected short side, got %v", cur.Side)
	}
	if !cur.AveragePrice.Equal(dec("110")) {
		t.Fatalf("expected average price 110, got %s", cur.AveragePrice)
	}
	if !cur.Quantity.Equal(dec("2")) {
		t.Fatalf("expected quantity 2, got %s", cur.Quantity)
	}
}

func TestPositionExactFlattenCloses(t *testing.T) {
	tr := NewTracker(catalogue.InstrumentIndex(0), 8)
	tr.ApplyTrade(Trade{TradeID: "t1", Side: order.SideBuy, Price: dec("100"), Quantity: dec("2"), Fees: dec("0"), Time: time.Now()})
	tr.ApplyTrade(Trade{TradeID: "t2", Side: order.SideSell, Price: dec("105"), Quantity: dec("2"), Fees: dec("0"), Time: time.Now()})

	if _, ok := tr.Current(); ok {
		t.Fatal("expected position closed with zero open positions")
	}
	hist := tr.History()
	if len(hist) != 1 || !hist[0].RealisedPnL.Equal(dec("10")) {
		t.Fatalf("expected realised pnl 10, got %+v", hist)
	}
}

func TestPositionSameSideAveragePriceFormula(t *testing.T) {
	tr := NewTracker(catalogue.InstrumentIndex(0), 8)
	tr.ApplyTrade(Trade{TradeID: "t1", Side: order.SideBuy, Price: dec("100"), Quantity: dec("1"), Fees: dec("0"), Time: time.Now()})
	tr.ApplyTrade(Trade{TradeID: "t2", Side: order.SideBuy, Price: dec("110"), Quantity: dec("1"), Fees: dec("0"), Time: time.Now()})

	cur, _ := tr.Current()
	// P̄ = (100*1 + 110*1)/(1+1) = 105
	if !cur.AveragePrice.Equal(dec("105")) {
		t.Fatalf("expected average price 105, got %s", cur.AveragePrice)
	}
	if !cur.Quantity.Equal(dec("2")) {
		t.Fatalf("expected quantity 2, got %s", cur.Quantity)
	}
}

func TestQuantityNeverExceedsMax(t *testing.T) {
	tr := NewTracker(catalogue.InstrumentIndex(0), 8)
	tr.ApplyTrade(Trade{TradeID: "t1", Side: order.SideBuy, Price: dec("100"), Quantity: dec("5"), Fees: dec("0"), Time: time.Now()})
	tr.ApplyTrade(Trade{TradeID: "t2", Side: order.SideSell, Price: dec("100"), Quantity: dec("3"), Fees: dec("0"), Time: time.Now()})

	cur, ok := tr.Current()
	if !ok {
		t.Fatal("expected position still open")
	}
	if cur.Quantity.GreaterThan(cur.QuantityMax) {
		t.Fatalf("quantity %s exceeds quantity_abs_max %s", cur.Quantity, cur.QuantityMax)
	}
}

func TestMarkToMarketUnrealisedPnL(t *testing.T) {
	tr := NewTracker(catalogue.InstrumentIndex(0), 8)
	tr.ApplyTrade(Trade{TradeID: "t1", Side: order.SideBuy, Price: dec("100"), Quantity: dec("2"), Fees: dec("0"), Time: time.Now()})

	tr.MarkToMarket(dec("105"))

	cur, _ := tr.Current()
	// (105-100)*2 - 0 = 10
	if !cur.UnrealisedPnL.Equal(dec("10")) {
		t.Fatalf("expected unrealised pnl 10, got %s", cur.UnrealisedPnL)
	}
}
