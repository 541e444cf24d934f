package book

import (
	"context"
	"time"

	"github.com/quantcore/tradengine/internal/catalogue"
	"github.com/quantcore/tradengine/internal/xerrors"
	"go.uber.org/zap"
)

// RawSnapshot is the decoded shape of an HTTP order-book snapshot response.
type RawSnapshot struct {
	LastUpdateID uint64
	Bids         []Delta
	Asks         []Delta
}

// BookFeed is the exchange-specific transport boundary: an HTTP snapshot
// fetch plus a WebSocket delta stream. Each exchange implements this once;
// the assembly algorithm in Assembler is shared.
type BookFeed interface {
	Snapshot(ctx context.Context, symbol string) (RawSnapshot, error)
	Deltas(ctx context.Context, symbol string) (<-chan RawDelta, error)
}

// InstrumentOrderBook is the 1:1 pairing of an instrument with its book and
// the exchange-specific sequence validator governing updates to it.
type InstrumentOrderBook struct {
	Instrument   catalogue.InstrumentIndex
	Book         *OrderBook
	validator    SequenceValidator
	seenFirst    bool
	lastUpdateID uint64
}

// Assembler owns Init/Update for a family of instruments sharing one
// BookFeed and SequenceValidator.
type Assembler struct {
	feed      BookFeed
	validator SequenceValidator
	log       *zap.Logger
}

// NewAssembler creates an Assembler backed by feed, validated with
// validator, logging through log.
func NewAssembler(feed BookFeed, validator SequenceValidator, log *zap.Logger) *Assembler {
	return &Assembler{feed: feed, validator: validator, log: log}
}

// Init issues an HTTP snapshot request and seeds a fresh InstrumentOrderBook
// from it. A snapshot that fails to decode is returned as xerrors.CodeDecode;
// any other failure is wrapped as xerrors.CodeTransport.
func (a *Assembler) Init(ctx context.Context, instrument catalogue.InstrumentIndex, symbol string) (*InstrumentOrderBook, error) {
	snap, err := a.feed.Snapshot(ctx, symbol)
	if err != nil {
		if xerrors.Is(err, xerrors.CodeDecode) {
			return nil, err
		}
		return nil, xerrors.Wrap(err, xerrors.CodeTransport, "fetch order book snapshot")
	}

	ob := NewOrderBook(snap.LastUpdateID)
	ob.Bids.Upsert(snap.Bids, a.log)
	ob.Asks.Upsert(snap.Asks, a.log)

	return &InstrumentOrderBook{
		Instrument:   instrument,
		Book:         ob,
		validator:    a.validator,
		lastUpdateID: snap.LastUpdateID,
	}, nil
}

// Update applies a delta to iob's book. It returns a fresh Snapshot if the
// delta was accepted, (Snapshot{}, false, nil) if the delta was older than
// the book and silently dropped, or a non-nil error (always
// xerrors.CodeInvalidSequence) if the caller must discard the book and
// re-init.
func (a *Assembler) Update(iob *InstrumentOrderBook, delta RawDelta, now time.Time) (Snapshot, bool, error) {
	if delta.IsSnapshot {
		iob.Book = NewOrderBook(delta.LastUpdateID)
		iob.Book.Bids.Upsert(delta.Bids, a.log)
		iob.Book.Asks.Upsert(delta.Asks, a.log)
		iob.Book.EngineTime = now
		iob.seenFirst = true
		iob.lastUpdateID = delta.LastUpdateID
		return iob.Book.Snapshot(), true, nil
	}

	if !iob.seenFirst {
		accept, err := iob.validator.FirstUpdate(iob.lastUpdateID, delta)
		if err != nil {
			return Snapshot{}, false, err
		}
		if !accept {
			return Snapshot{}, false, nil
		}
		iob.seenFirst = true
	} else {
		if err := iob.validator.Continuity(iob.lastUpdateID, delta); err != nil {
			return Snapshot{}, false, err
		}
	}

	iob.Book.Bids.Upsert(delta.Bids, a.log)
	iob.Book.Asks.Upsert(delta.Asks, a.log)
	iob.Book.Sequence = delta.LastUpdateID
	iob.Book.EngineTime = now
	iob.lastUpdateID = delta.LastUpdateID

	return iob.Book.Snapshot(), true, nil
}
