package order

import (
	"go.uber.org/zap"
)

// Manager is the single source of truth for "what orders does this engine
// believe are live at the exchange" for one instrument. It is mutated only
// from the engine's reducer goroutine.
type Manager struct {
	log    *zap.Logger
	orders map[ClientOrderID]*Order
}

// NewManager creates an empty per-instrument order manager.
func NewManager(log *zap.Logger) *Manager {
	return &Manager{log: log, orders: make(map[ClientOrderID]*Order)}
}

// RecordInFlightOpen records a locally-issued open request as in-flight.
// Never blocks, never fails. A duplicate client-order-id is a logic error:
// it is logged at error level and the table is overwritten so local state
// stays consistent with the most recent request.
func (m *Manager) RecordInFlightOpen(key Key, side Side, req RequestOpen) {
	if existing, ok := m.orders[key.CID]; ok {
		m.log.Error("duplicate client order id on record-in-flight-open, overwriting",
			zap.String("cid", string(key.CID)),
			zap.Stringer("previous_state", existing.State))
	}
	m.orders[key.CID] = &Order{Key: key, Side: side, State: StateOpenInFlight}
}

// RecordInFlightCancel records a locally-issued cancel request as in-flight.
func (m *Manager) RecordInFlightCancel(key Key) {
	existing, ok := m.orders[key.CID]
	if !ok {
		m.log.Error("record-in-flight-cancel for untracked client order id",
			zap.String("cid", string(key.CID)))
		m.orders[key.CID] = &Order{Key: key, State: StateCancelInFlight}
		return
	}
	existing.State = StateCancelInFlight
}

// UpdateFromOpen folds an exchange open-request response into local state.
func (m *Manager) UpdateFromOpen(resp OpenResponse) {
	existing, ok := m.orders[resp.Key.CID]
	if resp.Err != nil {
		if ok {
			m.log.Error("execution error for existing order on open response",
				zap.String("cid", string(resp.Key.CID)),
				zap.Stringer("state", existing.State),
				zap.Error(resp.Err))
		} else {
			m.log.Error("execution error for untracked client order id on open response",
				zap.String("cid", string(resp.Key.CID)), zap.Error(resp.Err))
		}
		delete(m.orders, resp.Key.CID)
		return
	}

	if !ok {
		m.log.Warn("open response for untracked client order id, inserting as new tracked order",
			zap.String("cid", string(resp.Key.CID)))
		open := resp.Open
		m.orders[resp.Key.CID] = &Order{Key: resp.Key, State: StateOpen, Open: &open}
		return
	}

	switch existing.State {
	case StateOpenInFlight:
		open := resp.Open
		existing.State = StateOpen
		existing.Open = &open
	case StateOpen:
		if existing.Open == nil || resp.Open.TimeUpdate.After(existing.Open.TimeUpdate) {
			open := resp.Open
			existing.Open = &open
		}
	case StateCancelInFlight:
		m.log.Error("ignoring stale open response for order with cancel in flight",
			zap.String("cid", string(resp.Key.CID)))
	}
}

// UpdateFromCancel folds an exchange cancel-request response into local
// state. A successful cancel always removes the order, regardless of its
// prior local state; the log severity reflects whether that removal was
// expected (CancelInFlight) or not (OpenInFlight/Open, unexpected).
func (m *Manager) UpdateFromCancel(resp CancelResponse) {
	existing, ok := m.orders[resp.Key.CID]

	if resp.Err == nil {
		if !ok {
			m.log.Warn("cancel response ok for untracked client order id, ignoring",
				zap.String("cid", string(resp.Key.CID)))
			return
		}
		switch existing.State {
		case StateOpenInFlight, StateOpen:
			m.log.Warn("unexpected cancel ok while order was not cancel-in-flight",
				zap.String("cid", string(resp.Key.CID)), zap.Stringer("state", existing.State))
		case StateCancelInFlight:
			m.log.Debug("order cancelled as expected",
				zap.String("cid", string(resp.Key.CID)))
		}
		delete(m.orders, resp.Key.CID)
		return
	}

	if !ok {
		m.log.Error("execution error for untracked client order id on cancel response",
			zap.String("cid", string(resp.Key.CID)), zap.Error(resp.Err))
		return
	}

	switch existing.State {
	case StateCancelInFlight:
		m.log.Error("execution error cancelling existing order",
			zap.String("cid", string(resp.Key.CID)), zap.Error(resp.Err))
	default:
		m.log.Error("execution error for cancel against order not in cancel-in-flight state",
			zap.String("cid", string(resp.Key.CID)), zap.Stringer("state", existing.State), zap.Error(resp.Err))
	}
}

// UpdateFromOrderSnapshot folds an authoritative exchange order snapshot
// into local state, per the additional-transitions table: Open upserts when
// local state is OpenInFlight/absent, keeps the later-updated Open when
// both are Open, is ignored when CancelInFlight is in progress, and any
// terminal snapshot (Cancelled/FullyFilled/Rejected) removes the order from
// tracking.
func (m *Manager) UpdateFromOrderSnapshot(snap Snapshot) {
	existing, ok := m.orders[snap.Key.CID]

	if snap.Terminal {
		if ok {
			delete(m.orders, snap.Key.CID)
		}
		return
	}

	if snap.Open == nil {
		return
	}

	if !ok {
		m.orders[snap.Key.CID] = &Order{Key: snap.Key, Side: snap.Side, State: StateOpen, Open: snap.Open}
		return
	}

	switch existing.State {
	case StateOpenInFlight:
		existing.State = StateOpen
		existing.Open = snap.Open
	case StateOpen:
		if existing.Open == nil || snap.Open.TimeUpdate.After(existing.Open.TimeUpdate) {
			existing.Open = snap.Open
		}
	case StateCancelInFlight:
		m.log.Debug("ignoring stale open snapshot while cancel is in flight",
			zap.String("cid", string(snap.Key.CID)))
	}
}

// Orders returns a snapshot slice of all currently tracked orders.
func (m *Manager) Orders() []*Order {
	out := make([]*Order, 0, len(m.orders))
	for _, o := range m.orders {
		out = append(out, o)
	}
	return out
}

// Get returns the tracked order for cid, if any.
func (m *Manager) Get(cid ClientOrderID) (*Order, bool) {
	o, ok := m.orders[cid]
	return o, ok
}
