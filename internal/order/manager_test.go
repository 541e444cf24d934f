package order

import (
	"testing"
	"time"

	"github.com/quantcore/tradengine/internal/catalogue"
	"github.com/shopspring/decimal"
	"go.uber.org/zap/zaptest"
)

func testKey(t *testing.T, cid string) Key {
	return Key{
		Exchange:   catalogue.ExchangeIndex(0),
		Instrument: catalogue.InstrumentIndex(0),
		CID:        ClientOrderID(cid),
	}
}

func TestDuplicateClientOrderIDOverwrites(t *testing.T) {
	m := NewManager(zaptest.NewLogger(t))
	key := testKey(t, "A")

	m.RecordInFlightOpen(key, SideBuy, RequestOpen{Quantity: decimal.NewFromInt(1)})
	m.RecordInFlightOpen(key, SideBuy, RequestOpen{Quantity: decimal.NewFromInt(2)})

	orders := m.Orders()
	if len(orders) != 1 {
		t.Fatalf("expected exactly one tracked order, got %d", len(orders))
	}
	if orders[0].State != StateOpenInFlight {
		t.Fatalf("expected state OpenInFlight, got %v", orders[0].State)
	}
}

func TestOpenInFlightTransitionsToOpen(t *testing.T) {
	m := NewManager(zaptest.NewLogger(t))
	key := testKey(t, "A")
	m.RecordInFlightOpen(key, SideBuy, RequestOpen{})

	m.UpdateFromOpen(OpenResponse{Key: key, Open: Open{OrderID: "1", TimeUpdate: time.Now()}})

	got, ok := m.Get(key.CID)
	if !ok || got.State != StateOpen {
		t.Fatalf("expected state Open, got ok=%v state=%v", ok, got)
	}
}

func TestOpenIgnoredWhileCancelInFlight(t *testing.T) {
	m := NewManager(zaptest.NewLogger(t))
	key := testKey(t, "A")
	m.RecordInFlightOpen(key, SideBuy, RequestOpen{})
	m.UpdateFromOpen(OpenResponse{Key: key, Open: Open{OrderID: "1", TimeUpdate: time.Now()}})
	m.RecordInFlightCancel(key)

	staleTime := time.Now().Add(-time.Hour)
	m.UpdateFromOpen(OpenResponse{Key: key, Open: Open{OrderID: "1", TimeUpdate: staleTime}})

	got, ok := m.Get(key.CID)
	if !ok || got.State != StateCancelInFlight {
		t.Fatalf("expected state to remain CancelInFlight, got ok=%v state=%v", ok, got)
	}
}

func TestOpenSnapshotKeepsLaterTimestamp(t *testing.T) {
	m := NewManager(zaptest.NewLogger(t))
	key := testKey(t, "A")
	m.RecordInFlightOpen(key, SideBuy, RequestOpen{})

	early := time.Now()
	late := early.Add(time.Second)

	m.UpdateFromOpen(OpenResponse{Key: key, Open: Open{OrderID: "1", TimeUpdate: late}})
	m.UpdateFromOrderSnapshot(Snapshot{Key: key, Side: SideBuy, Open: &Open{OrderID: "1", TimeUpdate: early}})

	got, _ := m.Get(key.CID)
	if !got.Open.TimeUpdate.Equal(late) {
		t.Fatalf("expected later timestamp %v retained, got %v", late, got.Open.TimeUpdate)
	}
}

func TestSuccessfulCancelRemovesOrderRegardlessOfPriorState(t *testing.T) {
	m := NewManager(zaptest.NewLogger(t))
	key := testKey(t, "A")
	m.RecordInFlightOpen(key, SideBuy, RequestOpen{})
	m.UpdateFromOpen(OpenResponse{Key: key, Open: Open{OrderID: "1", TimeUpdate: time.Now()}})

	m.UpdateFromCancel(CancelResponse{Key: key})

	if _, ok := m.Get(key.CID); ok {
		t.Fatal("expected order removed after successful cancel")
	}
}

func TestTerminalSnapshotRemovesOrder(t *testing.T) {
	m := NewManager(zaptest.NewLogger(t))
	key := testKey(t, "A")
	m.RecordInFlightOpen(key, SideBuy, RequestOpen{})
	m.UpdateFromOrderSnapshot(Snapshot{Key: key, Side: SideBuy, Terminal: true})

	if _, ok := m.Get(key.CID); ok {
		t.Fatal("expected order removed after terminal snapshot")
	}
}
