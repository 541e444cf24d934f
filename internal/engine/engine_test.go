package engine

import (
	"context"
	"testing"
	"time"

	"github.com/quantcore/tradengine/internal/book"
	"github.com/quantcore/tradengine/internal/catalogue"
	"github.com/quantcore/tradengine/internal/clock"
	"github.com/quantcore/tradengine/internal/execution"
	"github.com/quantcore/tradengine/internal/order"
	"github.com/shopspring/decimal"
	"go.uber.org/zap/zaptest"
)

func testCatalogue() *catalogue.Instruments {
	b := catalogue.NewBuilder()
	ex := b.Exchange("mock")
	base := b.Asset("BTC")
	quote := b.Asset("USDT")
	b.AddInstrument(ex, "BTCUSDT", base, quote, catalogue.KindSpot, catalogue.InstrumentSpec{})
	return b.Build()
}

func fixedEvents(t *testing.T) []Event {
	t0 := time.Unix(1700000000, 0)
	snap := book.Snapshot{
		Sequence:   1,
		EngineTime: t0,
		Bids:       []book.Level{{Price: decimal.RequireFromString("100"), Amount: decimal.RequireFromString("1")}},
		Asks:       []book.Level{{Price: decimal.RequireFromString("101"), Amount: decimal.RequireFromString("1")}},
	}
	return []Event{
		{Time: t0, Connectivity: &ConnectivityEvent{Exchange: 0, Healthy: true}},
		{Time: t0.Add(time.Second), Market: &MarketEvent{Instrument: 0, Book: snap}},
		{Time: t0.Add(2 * time.Second), Account: &execution.AccountEvent{
			Exchange: 0,
			Trade: &execution.AccountTrade{
				Key:        order.Key{Exchange: 0, Instrument: 0, CID: "t1"},
				Instrument: 0,
				Side:       order.SideBuy,
				Price:      "100",
				Quantity:   "1",
				Fees:       "0",
				Time:       t0.Add(2 * time.Second),
			},
		}},
		{Time: t0.Add(3 * time.Second), Command: &Command{Kind: CommandShutdown}},
	}
}

func runEngine(t *testing.T, events []Event) []Audit {
	t.Helper()
	cat := testCatalogue()
	state := NewEngineState(cat, time.Unix(1700000000, 0), 8, zaptest.NewLogger(t))
	eng := New(state, Config{}, NoopStrategy{}, PassthroughRisk{}, map[catalogue.ExchangeIndex]*execution.Manager{}, clock.NewFake(time.Unix(1700000000, 0)), zaptest.NewLogger(t), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- eng.Run(ctx) }()

	for _, ev := range events {
		eng.Input() <- ev
	}

	<-done

	var audits []Audit
	for {
		select {
		case a := <-eng.Audit():
			audits = append(audits, a)
		default:
			return audits
		}
	}
}

func TestAuditSequenceStartsAtZeroAndSnapshotFirst(t *testing.T) {
	audits := runEngine(t, fixedEvents(t))
	if len(audits) == 0 {
		t.Fatal("expected at least one audit record")
	}
	if audits[0].Kind != AuditSnapshot || audits[0].Sequence != 0 {
		t.Fatalf("expected first record to be a snapshot at sequence 0, got %+v", audits[0])
	}
	for i, a := range audits {
		if a.Sequence != uint64(i) {
			t.Fatalf("expected strictly monotonic sequence, record %d has sequence %d", i, a.Sequence)
		}
	}
}

func TestDeterministicReplay(t *testing.T) {
	events := fixedEvents(t)
	first := runEngine(t, events)
	second := runEngine(t, fixedEvents(t))

	if len(first) != len(second) {
		t.Fatalf("expected equal audit lengths, got %d and %d", len(first), len(second))
	}
	for i := range first {
		if first[i].Kind != second[i].Kind || first[i].Sequence != second[i].Sequence {
			t.Fatalf("audit record %d diverged: %+v vs %+v", i, first[i], second[i])
		}
	}
}

func TestShutdownCommandTerminatesReducer(t *testing.T) {
	audits := runEngine(t, fixedEvents(t))
	last := audits[len(audits)-1]
	if last.Kind != AuditShutdown {
		t.Fatalf("expected final audit record to be shutdown, got %+v", last)
	}
	if last.ShutdownReason != "commanded" {
		t.Fatalf("expected commanded shutdown reason, got %q", last.ShutdownReason)
	}
}

func TestTradingStateCommandDisablesTrading(t *testing.T) {
	cat := testCatalogue()
	state := NewEngineState(cat, time.Unix(0, 0), 8, zaptest.NewLogger(t))
	eng := New(state, Config{}, NoopStrategy{}, PassthroughRisk{}, map[catalogue.ExchangeIndex]*execution.Manager{}, clock.NewFake(time.Unix(0, 0)), zaptest.NewLogger(t), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- eng.Run(ctx) }()

	eng.Input() <- Event{Command: &Command{Kind: CommandTradingState, Enabled: false}}
	eng.Input() <- Event{Command: &Command{Kind: CommandShutdown}}
	<-done

	if eng.state.TradingEnabled {
		t.Fatal("expected trading disabled after command")
	}
}
