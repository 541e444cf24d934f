package book

import (
	"context"
	"testing"
	"time"

	"github.com/quantcore/tradengine/internal/catalogue"
	"github.com/quantcore/tradengine/internal/xerrors"
)

type staticFeed struct {
	snap RawSnapshot
}

func (f staticFeed) Snapshot(ctx context.Context, symbol string) (RawSnapshot, error) {
	return f.snap, nil
}

func (f staticFeed) Deltas(ctx context.Context, symbol string) (<-chan RawDelta, error) {
	ch := make(chan RawDelta)
	close(ch)
	return ch, nil
}

func TestAssemblerOutOfOrderDeltaDropped(t *testing.T) {
	feed := staticFeed{snap: RawSnapshot{LastUpdateID: 100}}
	asm := NewAssembler(feed, SameAsSnapshotValidator{}, nil)

	iob, err := asm.Init(context.Background(), catalogue.InstrumentIndex(0), "BTCUSDT")
	if err != nil {
		t.Fatalf("init: %v", err)
	}

	_, accepted, err := asm.Update(iob, RawDelta{FirstUpdateID: 95, LastUpdateID: 99}, time.Now())
	if err != nil {
		t.Fatalf("expected dropped delta not to error, got %v", err)
	}
	if accepted {
		t.Fatal("expected delta to be dropped, not accepted")
	}
}

func TestAssemblerInvalidSequenceOnPrevIDMismatch(t *testing.T) {
	feed := staticFeed{snap: RawSnapshot{LastUpdateID: 100}}
	asm := NewAssembler(feed, SameAsSnapshotValidator{}, nil)

	iob, err := asm.Init(context.Background(), catalogue.InstrumentIndex(0), "BTCUSDT")
	if err != nil {
		t.Fatalf("init: %v", err)
	}

	_, _, err = asm.Update(iob, RawDelta{FirstUpdateID: 100, LastUpdateID: 101, HasPrevID: true, PrevLastUpdateID: 100}, time.Now())
	if err != nil {
		t.Fatalf("first delta should be accepted, got %v", err)
	}

	_, _, err = asm.Update(iob, RawDelta{FirstUpdateID: 102, LastUpdateID: 110, HasPrevID: true, PrevLastUpdateID: 999}, time.Now())
	if err == nil {
		t.Fatal("expected InvalidSequence error")
	}
	if !xerrors.Is(err, xerrors.CodeInvalidSequence) {
		t.Fatalf("expected CodeInvalidSequence, got %v", err)
	}
}

func TestAssemblerFirstUpdateBoundary(t *testing.T) {
	feed := staticFeed{snap: RawSnapshot{LastUpdateID: 100}}
	asm := NewAssembler(feed, NextExpectedValidator{}, nil)

	iob, err := asm.Init(context.Background(), catalogue.InstrumentIndex(0), "BTCUSDT")
	if err != nil {
		t.Fatalf("init: %v", err)
	}

	// expected = 101 under NextExpectedValidator; first==last==101 is the
	// accepted boundary case.
	_, accepted, err := asm.Update(iob, RawDelta{FirstUpdateID: 101, LastUpdateID: 101}, time.Now())
	if err != nil || !accepted {
		t.Fatalf("expected boundary delta accepted, got accepted=%v err=%v", accepted, err)
	}
}
