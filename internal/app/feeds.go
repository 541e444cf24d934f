package app

import (
	"context"
	"strings"
	"time"

	"github.com/quantcore/tradengine/internal/book"
	"github.com/quantcore/tradengine/internal/catalogue"
	tcconfig "github.com/quantcore/tradengine/internal/config"
	"github.com/quantcore/tradengine/internal/engine"
	"github.com/quantcore/tradengine/internal/execution"
	"github.com/quantcore/tradengine/internal/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// startMarketDataFeeds dials one book.WSFeed per configured market-data
// exchange and, for every catalogue instrument on that exchange, runs a
// reconnecting snapshot/delta pipeline that feeds engine.MarketEvents and
// engine.ConnectivityEvents into eng.Input(). Instruments on an exchange with
// no matching MarketDataConfig are left without a feed; operators wiring up a
// new exchange add its snapshot/stream URL templates rather than this code
// changing.
func startMarketDataFeeds(lc fx.Lifecycle, cat *catalogue.Instruments, cfg *tcconfig.Config, eng *engine.Engine, m *metrics.Metrics, log *zap.Logger) {
	feedsByExchange := make(map[catalogue.ExchangeIndex]*book.WSFeed, len(cfg.MarketData))
	for _, md := range cfg.MarketData {
		exIdx, ok := cat.FindExchange(md.Exchange)
		if !ok {
			continue
		}
		snapshotURL := urlTemplate(md.SnapshotURLTemplate)
		streamURL := urlTemplate(md.StreamURLTemplate)
		feedsByExchange[exIdx] = book.NewWSFeed(nil, snapshotURL, streamURL, book.JSONDecoder{}, log)
	}

	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			for i := 0; i < cat.NumInstruments(); i++ {
				idx := catalogue.InstrumentIndex(i)
				in := cat.Instrument(idx)
				feed, ok := feedsByExchange[in.Exchange]
				if !ok {
					log.Warn("no market data feed configured for exchange, instrument will never receive book updates",
						zap.String("exchange", cat.Exchange(in.Exchange).Name),
						zap.String("instrument", in.NameExchange))
					continue
				}
				go runFeed(ctx, idx, in, feed, eng, m, cfg.Engine.ReconnectMinBackoff, cfg.Engine.ReconnectMaxBackoff, log)
			}
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
}

func urlTemplate(tmpl string) func(symbol string) string {
	return func(symbol string) string {
		return strings.Replace(tmpl, "%s", symbol, 1)
	}
}

// runFeed assembles idx's book from feed, forwarding every accepted snapshot
// to eng.Input(). On a lost connection or a rejected sequence it reports
// unhealthy connectivity. After a lost connection it re-initializes after a
// bounded exponential backoff, per the reconnect policy in the engine's
// ambient config; after a rejected sequence it re-initializes immediately.
func runFeed(ctx context.Context, idx catalogue.InstrumentIndex, in catalogue.Instrument, feed *book.WSFeed,
	eng *engine.Engine, m *metrics.Metrics, minBackoff, maxBackoff time.Duration, log *zap.Logger) {
	if minBackoff <= 0 {
		minBackoff = 500 * time.Millisecond
	}
	if maxBackoff <= 0 {
		maxBackoff = 30 * time.Second
	}

	assembler := book.NewAssembler(feed, book.NextExpectedValidator{}, log)
	backoff := minBackoff

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		iob, err := assembler.Init(ctx, idx, in.NameExchange)
		if err != nil {
			reportConnectivity(eng, in.Exchange, false, err.Error())
			if !sleepOrDone(ctx, backoff) {
				return
			}
			backoff = nextBackoff(backoff, maxBackoff)
			continue
		}
		reportConnectivity(eng, in.Exchange, true, "")
		backoff = minBackoff

		sendMarket(eng, idx, iob.Book.Snapshot())

		deltas, err := feed.Deltas(ctx, in.NameExchange)
		if err != nil {
			reportConnectivity(eng, in.Exchange, false, err.Error())
			if !sleepOrDone(ctx, backoff) {
				return
			}
			backoff = nextBackoff(backoff, maxBackoff)
			continue
		}

		resync := false
		for delta := range deltas {
			snap, ok, err := assembler.Update(iob, delta, time.Now())
			if err != nil {
				log.Warn("book resync required", zap.String("instrument", in.NameExchange), zap.Error(err))
				if m != nil {
					m.BookResyncsTotal.WithLabelValues(in.NameExchange).Inc()
				}
				resync = true
				break
			}
			if ok {
				sendMarket(eng, idx, snap)
			}
		}

		reportConnectivity(eng, in.Exchange, false, "delta stream closed")
		if resync {
			continue
		}
		if !sleepOrDone(ctx, backoff) {
			return
		}
		backoff = nextBackoff(backoff, maxBackoff)
	}
}

func nextBackoff(cur, max time.Duration) time.Duration {
	next := cur * 2
	if next > max {
		return max
	}
	return next
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func sendMarket(eng *engine.Engine, idx catalogue.InstrumentIndex, snap book.Snapshot) {
	eng.Input() <- engine.Event{Market: &engine.MarketEvent{Instrument: idx, Book: snap}}
}

func reportConnectivity(eng *engine.Engine, exchange catalogue.ExchangeIndex, healthy bool, reason string) {
	eng.Input() <- engine.Event{Connectivity: &engine.ConnectivityEvent{Exchange: exchange, Healthy: healthy, Reason: reason}}
}

// forwardAccountEvents drains accounts and forwards each event onto
// eng.Input() until ctx is cancelled, fanning the per-exchange execution
// managers' account streams into the single-threaded reducer.
func forwardAccountEvents(lc fx.Lifecycle, eng *engine.Engine, accounts <-chan execution.AccountEvent, log *zap.Logger) {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				for {
					select {
					case <-ctx.Done():
						return
					case ev, ok := <-accounts:
						if !ok {
							return
						}
						select {
						case eng.Input() <- engine.Event{Account: &ev}:
						case <-ctx.Done():
							return
						}
					}
				}
			}()
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
}
