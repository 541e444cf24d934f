package mock

import (
	"context"
	"testing"
	"time"

	"github.com/quantcore/tradengine/internal/catalogue"
	"github.com/quantcore/tradengine/internal/execution"
	"github.com/quantcore/tradengine/internal/order"
	"github.com/shopspring/decimal"
)

const (
	quoteAsset catalogue.AssetIndex = 0
	baseAsset  catalogue.AssetIndex = 1
	instrument catalogue.InstrumentIndex = 0
)

func newTestExchange(t *testing.T, freeQuote string) *Exchange {
	cfg := Config{
		LatencyMS:   100,
		FeesPercent: decimal.NewFromFloat(0.1),
		Instruments: map[catalogue.InstrumentIndex]InstrumentSpec{
			instrument: {Base: baseAsset, Quote: quoteAsset},
		},
		Balances: map[catalogue.AssetIndex]decimal.Decimal{
			quoteAsset: dec(t, freeQuote),
			baseAsset:  decimal.Zero,
		},
	}
	return New(cfg, time.Unix(0, 0))
}

func dec(t *testing.T, s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("bad decimal %q: %v", s, err)
	}
	return v
}

func TestMockExchangeInsufficientBalance(t *testing.T) {
	ex := newTestExchange(t, "100")

	req := execution.OpenRequest{
		Key:  order.Key{Instrument: instrument, CID: "A"},
		Side: order.SideBuy,
		Request: order.RequestOpen{
			Kind:        order.KindMarket,
			TimeInForce: order.TimeInForceImmediateOrCancel,
			Price:       dec(t, "100"),
			Quantity:    dec(t, "1"),
		},
	}

	_, err := ex.Open(context.Background(), req)
	if err == nil {
		t.Fatal("expected InsufficientBalance rejection")
	}

	snap, _ := ex.AccountSnapshot(context.Background())
	for _, b := range snap.Balances {
		if b.Asset == quoteAsset && b.Free != "100" {
			t.Fatalf("expected balance unchanged at 100, got %s", b.Free)
		}
	}
}

func TestMockExchangeSuccessfulBuyDeductsQuoteAndCreditsBase(t *testing.T) {
	ex := newTestExchange(t, "1000")

	req := execution.OpenRequest{
		Key:  order.Key{Instrument: instrument, CID: "A"},
		Side: order.SideBuy,
		Request: order.RequestOpen{
			Kind:        order.KindMarket,
			TimeInForce: order.TimeInForceImmediateOrCancel,
			Price:       dec(t, "100"),
			Quantity:    dec(t, "1"),
		},
	}

	resp, err := ex.Open(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected rejection: %v", err)
	}
	if resp.Open.Filled.String() != "1" {
		t.Fatalf("expected fully filled quantity 1, got %s", resp.Open.Filled)
	}

	snap, _ := ex.AccountSnapshot(context.Background())
	var quoteFree, baseFree string
	for _, b := range snap.Balances {
		if b.Asset == quoteAsset {
			quoteFree = b.Free
		}
		if b.Asset == baseAsset {
			baseFree = b.Free
		}
	}
	// required = 100*1 + 100*1*0.1 = 110; free goes from 1000 to 890
	if quoteFree != "890" {
		t.Fatalf("expected quote free 890, got %s", quoteFree)
	}
	if baseFree != "1" {
		t.Fatalf("expected base free 1, got %s", baseFree)
	}
}

func TestMockExchangeRejectsNonMarketOrder(t *testing.T) {
	ex := newTestExchange(t, "1000")
	req := execution.OpenRequest{
		Key:  order.Key{Instrument: instrument, CID: "A"},
		Side: order.SideBuy,
		Request: order.RequestOpen{
			Kind:        order.KindLimit,
			TimeInForce: order.TimeInForceGoodUntilCancelled,
			Price:       dec(t, "100"),
			Quantity:    dec(t, "1"),
		},
	}
	if _, err := ex.Open(context.Background(), req); err == nil {
		t.Fatal("expected UnsupportedOrderKind rejection")
	}
}
