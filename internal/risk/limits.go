// Package risk implements engine.RiskManager with per-instrument order-size
// and position-size limits, adapted from the teacher's LimitManager (which
// tracked float64 limits per user ID with a patrickmn/go-cache front cache)
// to this module's per-instrument decimal position model.
package risk

import (
	"strconv"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/quantcore/tradengine/internal/catalogue"
	"github.com/quantcore/tradengine/internal/engine"
	"github.com/quantcore/tradengine/internal/order"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Limit bounds the orders and resulting position one instrument may carry.
type Limit struct {
	MaxOrderSize    decimal.Decimal
	MaxPositionSize decimal.Decimal
}

// cacheTTL governs how long a resolved Limit is trusted before LimitManager
// re-reads the underlying map; limits change rarely relative to order flow.
const cacheTTL = 5 * time.Minute

// LimitManager is an engine.RiskManager checking every proposed open against
// a per-instrument Limit. An instrument with no configured Limit is approved
// unconditionally, matching the teacher's "no limits defined, approve by
// default" behavior.
type LimitManager struct {
	mu     sync.RWMutex
	limits map[catalogue.InstrumentIndex]Limit
	cache  *cache.Cache
	log    *zap.Logger
}

// NewLimitManager creates a LimitManager with no limits configured.
func NewLimitManager(log *zap.Logger) *LimitManager {
	return &LimitManager{
		limits: make(map[catalogue.InstrumentIndex]Limit),
		cache:  cache.New(cacheTTL, 2*cacheTTL),
		log:    log,
	}
}

// SetLimit configures instrument's order/position size limits, replacing any
// prior configuration and invalidating the cached lookup.
func (lm *LimitManager) SetLimit(instrument catalogue.InstrumentIndex, limit Limit) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	lm.limits[instrument] = limit
	lm.cache.Delete(cacheKey(instrument))
}

func cacheKey(instrument catalogue.InstrumentIndex) string {
	return "instrument-limit:" + strconv.Itoa(int(instrument))
}

func (lm *LimitManager) limitFor(instrument catalogue.InstrumentIndex) (Limit, bool) {
	if cached, found := lm.cache.Get(cacheKey(instrument)); found {
		limit, ok := cached.(Limit)
		return limit, ok
	}

	lm.mu.RLock()
	limit, ok := lm.limits[instrument]
	lm.mu.RUnlock()

	if ok {
		lm.cache.SetDefault(cacheKey(instrument), limit)
	}
	return limit, ok
}

// CheckOpenRequests implements engine.RiskManager. A request is refused if
// its size exceeds MaxOrderSize, or if the position it would leave behind
// (current signed quantity plus the request, collapsed to an absolute value)
// exceeds MaxPositionSize.
func (lm *LimitManager) CheckOpenRequests(state engine.EngineStateView, reqs []engine.OrderRequestOpen) (approved []engine.OrderRequestOpen, refused []engine.OrderRequestRefused) {
	for _, req := range reqs {
		limit, ok := lm.limitFor(req.Instrument)
		if !ok {
			approved = append(approved, req)
			continue
		}

		if reason, violated := lm.check(state, req, limit); violated {
			refused = append(refused, engine.OrderRequestRefused{Request: req, Reason: reason})
			lm.log.Warn("risk limit violation",
				zap.Int("instrument", int(req.Instrument)),
				zap.String("cid", string(req.CID)),
				zap.String("reason", reason))
			continue
		}

		approved = append(approved, req)
	}
	return approved, refused
}

func (lm *LimitManager) check(state engine.EngineStateView, req engine.OrderRequestOpen, limit Limit) (string, bool) {
	if !limit.MaxOrderSize.IsZero() && req.Request.Quantity.GreaterThan(limit.MaxOrderSize) {
		return "order size exceeds configured maximum", true
	}

	if limit.MaxPositionSize.IsZero() {
		return "", false
	}

	projected := req.Request.Quantity
	if int(req.Instrument) < len(state.Instrument) {
		inst := state.Instrument[req.Instrument]
		if inst.HasPosition {
			signed := inst.Position.Quantity
			if inst.Position.Side == order.SideSell {
				signed = signed.Neg()
			}
			delta := req.Request.Quantity
			if req.Side == order.SideSell {
				delta = delta.Neg()
			}
			projected = signed.Add(delta).Abs()
		}
	}

	if projected.GreaterThan(limit.MaxPositionSize) {
		return "resulting position would exceed configured maximum", true
	}
	return "", false
}
