package engine

import (
	"time"

	"github.com/quantcore/tradengine/internal/position"
)

// AuditKind discriminates Audit's payload.
type AuditKind int

const (
	AuditSnapshot AuditKind = iota
	AuditEvent
	AuditOrderOpened
	AuditOrderRefused
	AuditPositionClosed
	AuditShutdown
)

func (k AuditKind) String() string {
	switch k {
	case AuditSnapshot:
		return "snapshot"
	case AuditEvent:
		return "event"
	case AuditOrderOpened:
		return "order_opened"
	case AuditOrderRefused:
		return "order_refused"
	case AuditPositionClosed:
		return "position_closed"
	case AuditShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// Audit is one entry of the engine's ordered, append-only audit stream.
// Sequence numbers are strictly increasing per engine instance starting at
// 0; the first entry emitted by a fresh engine is always a snapshot.
type Audit struct {
	Sequence   uint64
	EngineTime time.Time
	Kind       AuditKind
	Snapshot   *EngineStateView
	Event      *Event
	Opened     *OrderRequestOpen
	Refused    *OrderRequestRefused
	Closed     *position.Closed
	ShutdownReason string
}

// auditSink is the engine's internal view of the droppable audit channel:
// a bounded channel that drops the oldest entry and logs a warning if the
// consumer falls behind, so a slow or stalled publisher never blocks the
// reducer.
type auditSink struct {
	ch   chan Audit
	drop func(dropped Audit)
}

func newAuditSink(capacity int, onDrop func(Audit)) *auditSink {
	return &auditSink{ch: make(chan Audit, capacity), drop: onDrop}
}

func (s *auditSink) emit(a Audit) {
	for {
		select {
		case s.ch <- a:
			return
		default:
		}
		select {
		case dropped := <-s.ch:
			if s.drop != nil {
				s.drop(dropped)
			}
		default:
			// Another goroutine drained concurrently; retry the send.
		}
	}
}

// Chan exposes the audit channel for a publisher to consume.
func (s *auditSink) Chan() <-chan Audit { return s.ch }
