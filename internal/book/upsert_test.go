package book

import (
	"testing"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func levels(side *OrderBookSide) []Level {
	return side.Levels()
}

func TestUpsertInsertPreservesOrder(t *testing.T) {
	bids := NewOrderBookSide(SideBid)
	bids.Upsert([]Delta{
		{Price: d("100"), Amount: d("1")},
		{Price: d("99"), Amount: d("2")},
		{Price: d("101"), Amount: d("3")},
	}, nil)

	got := levels(bids)
	want := []string{"101", "100", "99"}
	if len(got) != len(want) {
		t.Fatalf("got %d levels, want %d", len(got), len(want))
	}
	for i, p := range want {
		if !got[i].Price.Equal(d(p)) {
			t.Fatalf("level %d: got price %s, want %s", i, got[i].Price, p)
		}
	}
}

func TestUpsertRemovesZeroAmountLevel(t *testing.T) {
	asks := NewOrderBookSide(SideAsk)
	asks.Upsert([]Delta{{Price: d("100"), Amount: d("1")}}, nil)
	asks.Upsert([]Delta{{Price: d("100"), Amount: d("0")}}, nil)

	if len(levels(asks)) != 0 {
		t.Fatalf("expected level removed, got %v", levels(asks))
	}
}

func TestUpsertReplacesExistingAmount(t *testing.T) {
	bids := NewOrderBookSide(SideBid)
	bids.Upsert([]Delta{{Price: d("100"), Amount: d("1")}}, nil)
	bids.Upsert([]Delta{{Price: d("100"), Amount: d("5")}}, nil)

	got := levels(bids)
	if len(got) != 1 || !got[0].Amount.Equal(d("5")) {
		t.Fatalf("expected single level amount 5, got %v", got)
	}
}

func TestUpsertAbsentZeroAmountIsNoOp(t *testing.T) {
	asks := NewOrderBookSide(SideAsk)
	asks.Upsert([]Delta{{Price: d("100"), Amount: d("0")}}, nil)

	if len(levels(asks)) != 0 {
		t.Fatalf("expected no level created, got %v", levels(asks))
	}
}

func TestEndToEndSnapshotPlusInOrderDeltas(t *testing.T) {
	ob := NewOrderBook(100)
	ob.Bids.Upsert([]Delta{{Price: d("100.0"), Amount: d("1.0")}}, nil)
	ob.Asks.Upsert([]Delta{{Price: d("101.0"), Amount: d("1.0")}}, nil)

	ob.Bids.Upsert([]Delta{{Price: d("100.0"), Amount: d("0")}}, nil)
	ob.Asks.Upsert([]Delta{{Price: d("100.5"), Amount: d("2.0")}}, nil)
	ob.Sequence = 110

	if len(ob.Bids.Levels()) != 0 {
		t.Fatalf("expected empty bids, got %v", ob.Bids.Levels())
	}
	wantAsks := []string{"100.5", "101.0"}
	gotAsks := ob.Asks.Levels()
	if len(gotAsks) != len(wantAsks) {
		t.Fatalf("got %d ask levels, want %d", len(gotAsks), len(wantAsks))
	}
	for i, p := range wantAsks {
		if !gotAsks[i].Price.Equal(d(p)) {
			t.Fatalf("ask %d: got %s, want %s", i, gotAsks[i].Price, p)
		}
	}
	if ob.Sequence != 110 {
		t.Fatalf("got sequence %d, want 110", ob.Sequence)
	}
}

func TestMidPriceBothSidesEmpty(t *testing.T) {
	snap := Snapshot{}
	if _, ok := snap.MidPrice(); ok {
		t.Fatal("expected no mid price with both sides empty")
	}
	if _, ok := snap.MicroPrice(); ok {
		t.Fatal("expected no micro price with both sides empty")
	}
}

func TestMidPriceOneSideEmpty(t *testing.T) {
	snap := Snapshot{Bids: []Level{{Price: d("100"), Amount: d("1")}}}
	mid, ok := snap.MidPrice()
	if !ok || !mid.Equal(d("100")) {
		t.Fatalf("expected mid 100, got %v ok=%v", mid, ok)
	}
}

func TestMidPriceBothSidesPopulated(t *testing.T) {
	snap := Snapshot{
		Bids: []Level{{Price: d("100"), Amount: d("2")}},
		Asks: []Level{{Price: d("102"), Amount: d("2")}},
	}
	mid, ok := snap.MidPrice()
	if !ok || !mid.Equal(d("101")) {
		t.Fatalf("expected mid 101, got %v ok=%v", mid, ok)
	}
}

func TestMicroPriceWeightsByOppositeSide(t *testing.T) {
	snap := Snapshot{
		Bids: []Level{{Price: d("100"), Amount: d("1")}},
		Asks: []Level{{Price: d("102"), Amount: d("3")}},
	}
	// micro = (100*3 + 102*1) / (1+3) = 402/4 = 100.5
	micro, ok := snap.MicroPrice()
	if !ok || !micro.Equal(d("100.5")) {
		t.Fatalf("expected micro 100.5, got %v ok=%v", micro, ok)
	}
}
