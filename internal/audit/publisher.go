// Package audit publishes the engine's audit stream to a NATS-backed
// watermill publisher, adapted from the teacher's go-micro broker wiring to
// watermill's message.Publisher interface. Publishing is fire-and-forget
// from the engine's perspective: the engine's own droppable channel already
// absorbs backpressure (see internal/engine/audit.go); this package only
// drains that channel and forwards each record as a watermill message.
package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-nats/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	"github.com/quantcore/tradengine/internal/config"
	"github.com/quantcore/tradengine/internal/engine"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// record is the newline-delimited JSON shape published for one audit entry.
type record struct {
	Sequence   uint64      `json:"sequence"`
	EngineTime string      `json:"engine_time"`
	Kind       string      `json:"kind"`
	Payload    interface{} `json:"payload,omitempty"`
}

// Publisher drains an engine's audit channel and publishes each entry to
// NATS under "<subject-prefix>.<instance-id>".
type Publisher struct {
	pub     message.Publisher
	subject string
	log     *zap.Logger
}

// NewPublisherParams is the fx constructor input for NewPublisher.
type NewPublisherParams struct {
	fx.In

	Config    *config.Config
	Logger    *zap.Logger
	Lifecycle fx.Lifecycle
}

// NewPublisher builds a watermill-nats Publisher and registers fx.Lifecycle
// hooks to connect on start and close on stop, mirroring the teacher's
// broker.Connect/Disconnect pattern.
func NewPublisher(p NewPublisherParams) (*Publisher, error) {
	pub, err := nats.NewPublisher(
		nats.PublisherConfig{
			URL:       p.Config.Audit.NATSURL,
			Marshaler: &nats.GobMarshaler{},
		},
		watermill.NewStdLogger(false, false),
	)
	if err != nil {
		return nil, fmt.Errorf("create nats publisher: %w", err)
	}

	instanceID := p.Config.Audit.InstanceID
	if instanceID == "" {
		instanceID = uuid.NewString()
	}

	publisher := &Publisher{
		pub:     pub,
		subject: fmt.Sprintf("%s.%s", p.Config.Audit.SubjectPrefix, instanceID),
		log:     p.Logger,
	}

	p.Lifecycle.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			publisher.log.Info("closing audit publisher")
			return pub.Close()
		},
	})

	return publisher, nil
}

// Run drains audits until ctx is cancelled, publishing each. A marshal or
// publish failure is logged and the record is dropped rather than retried,
// consistent with the audit stream's fire-and-forget contract.
func (p *Publisher) Run(ctx context.Context, audits <-chan engine.Audit) {
	for {
		select {
		case <-ctx.Done():
			return
		case a, ok := <-audits:
			if !ok {
				return
			}
			p.publish(a)
		}
	}
}

func (p *Publisher) publish(a engine.Audit) {
	rec := record{
		Sequence:   a.Sequence,
		EngineTime: a.EngineTime.Format("2006-01-02T15:04:05.000000000Z07:00"),
		Kind:       a.Kind.String(),
		Payload:    auditPayload(a),
	}

	body, err := json.Marshal(rec)
	if err != nil {
		p.log.Error("marshal audit record", zap.Uint64("sequence", a.Sequence), zap.Error(err))
		return
	}

	msg := message.NewMessage(uuid.NewString(), body)
	if err := p.pub.Publish(p.subject, msg); err != nil {
		p.log.Warn("publish audit record", zap.Uint64("sequence", a.Sequence), zap.Error(err))
	}
}

func auditPayload(a engine.Audit) interface{} {
	switch {
	case a.Snapshot != nil:
		return a.Snapshot
	case a.Event != nil:
		return a.Event
	case a.Opened != nil:
		return a.Opened
	case a.Refused != nil:
		return a.Refused
	case a.Closed != nil:
		return a.Closed
	case a.ShutdownReason != "":
		return a.ShutdownReason
	default:
		return nil
	}
}
