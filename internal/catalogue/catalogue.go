// Package catalogue holds the frozen IndexedInstruments catalogue built once
// at startup from the subscription configuration. It hands out dense integer
// indices that the engine uses as slice indices on the hot path instead of
// map lookups keyed by exchange symbols.
package catalogue

import "fmt"

// ExchangeIndex is a dense index into the catalogue's exchange table.
type ExchangeIndex int

// AssetIndex is a dense index into the catalogue's asset table.
type AssetIndex int

// InstrumentIndex is a dense index into the catalogue's instrument table.
type InstrumentIndex int

// InstrumentKind distinguishes the instrument families the catalogue tracks.
type InstrumentKind int

const (
	KindSpot InstrumentKind = iota
	KindFuture
	KindPerpetual
	KindOption
)

// QuantityUnit is the unit quantities are expressed in for an instrument.
type QuantityUnit int

const (
	UnitAsset QuantityUnit = iota
	UnitContract
	UnitQuote
)

// PriceSpec describes an instrument's price increments.
type PriceSpec struct {
	TickSize string
	Min      string
}

// QuantitySpec describes an instrument's quantity increments.
type QuantitySpec struct {
	Unit      QuantityUnit
	Min       string
	Increment string
}

// NotionalSpec describes an instrument's minimum notional.
type NotionalSpec struct {
	Min string
}

// InstrumentSpec carries the price/quantity/notional rules an instrument
// trades under.
type InstrumentSpec struct {
	Price    PriceSpec
	Quantity QuantitySpec
	Notional NotionalSpec
}

// Instrument is one entry of the frozen catalogue.
type Instrument struct {
	Index        InstrumentIndex
	Exchange     ExchangeIndex
	NameExchange string
	Base         AssetIndex
	Quote        AssetIndex
	Kind         InstrumentKind
	Spec         InstrumentSpec
}

// Exchange is one entry of the exchange table.
type Exchange struct {
	Index ExchangeIndex
	Name  string
}

// Asset is one entry of the asset table.
type Asset struct {
	Index  AssetIndex
	Ticker string
}

// Instruments is the frozen catalogue. It is built once by NewBuilder/Build
// and never mutated afterward. Lookups by index are O(1) slice indexing;
// FindExchange and FindAsset are map lookups by name, and FindInstrument is
// a linear scan.
type Instruments struct {
	exchanges   []Exchange
	assets      []Asset
	instruments []Instrument

	exchangeByName map[string]ExchangeIndex
	assetByTicker  map[string]AssetIndex
}

// Builder accumulates exchanges, assets, and instruments before Build
// freezes them into an Instruments catalogue.
type Builder struct {
	exchanges      []Exchange
	assets         []Asset
	instruments    []Instrument
	exchangeByName map[string]ExchangeIndex
	assetByTicker  map[string]AssetIndex
}

// NewBuilder creates an empty Builder.
func NewBuilder() *Builder {
	return &Builder{
		exchangeByName: make(map[string]ExchangeIndex),
		assetByTicker:  make(map[string]AssetIndex),
	}
}

// Exchange returns the index for name, creating an entry if this is the
// first time name has been seen.
func (b *Builder) Exchange(name string) ExchangeIndex {
	if idx, ok := b.exchangeByName[name]; ok {
		return idx
	}
	idx := ExchangeIndex(len(b.exchanges))
	b.exchanges = append(b.exchanges, Exchange{Index: idx, Name: name})
	b.exchangeByName[name] = idx
	return idx
}

// Asset returns the index for ticker, creating an entry if this is the
// first time ticker has been seen.
func (b *Builder) Asset(ticker string) AssetIndex {
	if idx, ok := b.assetByTicker[ticker]; ok {
		return idx
	}
	idx := AssetIndex(len(b.assets))
	b.assets = append(b.assets, Asset{Index: idx, Ticker: ticker})
	b.assetByTicker[ticker] = idx
	return idx
}

// AddInstrument appends an instrument to the catalogue under construction
// and returns its frozen index.
func (b *Builder) AddInstrument(exchange ExchangeIndex, nameExchange string, base, quote AssetIndex, kind InstrumentKind, spec InstrumentSpec) InstrumentIndex {
	idx := InstrumentIndex(len(b.instruments))
	b.instruments = append(b.instruments, Instrument{
		Index:        idx,
		Exchange:     exchange,
		NameExchange: nameExchange,
		Base:         base,
		Quote:        quote,
		Kind:         kind,
		Spec:         spec,
	})
	return idx
}

// Build freezes the builder into an Instruments catalogue.
func (b *Builder) Build() *Instruments {
	return &Instruments{
		exchanges:      b.exchanges,
		assets:         b.assets,
		instruments:    b.instruments,
		exchangeByName: b.exchangeByName,
		assetByTicker:  b.assetByTicker,
	}
}

// Instrument returns the instrument at idx. It panics on an out-of-range
// index since InstrumentIndex values are only ever handed out by this
// catalogue and a bad one is a programming error, not a runtime condition.
func (c *Instruments) Instrument(idx InstrumentIndex) Instrument {
	return c.instruments[idx]
}

// Exchange returns the exchange at idx.
func (c *Instruments) Exchange(idx ExchangeIndex) Exchange {
	return c.exchanges[idx]
}

// Asset returns the asset at idx.
func (c *Instruments) Asset(idx AssetIndex) Asset {
	return c.assets[idx]
}

// NumInstruments returns the number of instruments in the catalogue, for
// sizing dense per-instrument slices.
func (c *Instruments) NumInstruments() int { return len(c.instruments) }

// NumAssets returns the number of assets in the catalogue, for sizing dense
// per-asset balance slices.
func (c *Instruments) NumAssets() int { return len(c.assets) }

// NumExchanges returns the number of exchanges in the catalogue.
func (c *Instruments) NumExchanges() int { return len(c.exchanges) }

// FindExchange looks up an exchange by name, returning false if unknown.
func (c *Instruments) FindExchange(name string) (ExchangeIndex, bool) {
	idx, ok := c.exchangeByName[name]
	return idx, ok
}

// FindAsset looks up an asset by ticker, returning false if unknown.
func (c *Instruments) FindAsset(ticker string) (AssetIndex, bool) {
	idx, ok := c.assetByTicker[ticker]
	return idx, ok
}

// FindInstrument looks up an instrument by (exchange, exchange-native name).
func (c *Instruments) FindInstrument(exchange ExchangeIndex, nameExchange string) (InstrumentIndex, bool) {
	for _, in := range c.instruments {
		if in.Exchange == exchange && in.NameExchange == nameExchange {
			return in.Index, true
		}
	}
	return 0, false
}

func (k InstrumentKind) String() string {
	switch k {
	case KindSpot:
		return "Spot"
	case KindFuture:
		return "Future"
	case KindPerpetual:
		return "Perpetual"
	case KindOption:
		return "Option"
	default:
		return fmt.Sprintf("InstrumentKind(%d)", int(k))
	}
}
