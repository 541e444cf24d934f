package execution

import (
	"context"
	"time"

	"github.com/quantcore/tradengine/internal/catalogue"
	"github.com/quantcore/tradengine/internal/order"
	"github.com/quantcore/tradengine/internal/xerrors"
	"go.uber.org/zap"
)

// Manager is the per-exchange execution manager task: it holds the exchange
// client, submits queued requests to it one at a time, each under its own
// timeout, and forwards the responses as account events into a single merged
// channel the engine consumes. It keeps no table of in-flight requests.
type Manager struct {
	exchange catalogue.ExchangeIndex
	client   Client
	log      *zap.Logger
	timeout  time.Duration

	requests chan Request
	accounts chan<- AccountEvent
	closed   chan struct{}
}

// NewManager creates a Manager for one exchange. accounts is the engine's
// single merged account channel; this manager forwards its own account
// events onto it.
func NewManager(exchange catalogue.ExchangeIndex, client Client, timeout time.Duration, accounts chan<- AccountEvent, log *zap.Logger) *Manager {
	return &Manager{
		exchange: exchange,
		client:   client,
		log:      log,
		timeout:  timeout,
		requests: make(chan Request, 256),
		accounts: accounts,
		closed:   make(chan struct{}),
	}
}

// Send accepts req for asynchronous processing. It returns (true, nil) if
// the request was queued, (false, CodeExecutionChannelUnhealthy) if the
// request queue is full, or (false, CodeExecutionChannelTerminated) if the
// channel is closed — an unrecoverable condition that must propagate to
// engine shutdown.
func (m *Manager) Send(req Request) (bool, error) {
	select {
	case <-m.closed:
		return false, xerrors.New(xerrors.CodeExecutionChannelTerminated, "execution channel closed")
	default:
	}

	select {
	case m.requests <- req:
		return true, nil
	default:
		return false, xerrors.New(xerrors.CodeExecutionChannelUnhealthy, "execution request channel full")
	}
}

// Run drains requests until ctx is cancelled, submitting each to the client
// with a per-request timeout and forwarding the response as an account
// event. Run is meant to be started on its own goroutine.
func (m *Manager) Run(ctx context.Context) {
	defer close(m.closed)
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-m.requests:
			m.handle(ctx, req)
		}
	}
}

func (m *Manager) handle(ctx context.Context, req Request) {
	reqCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	switch {
	case req.Open != nil:
		resp, err := m.client.Open(reqCtx, *req.Open)
		if err != nil {
			// True state is reconciled later via the (authoritative)
			// account stream; this is a synthetic failure for the caller.
			resp = order.OpenResponse{Key: req.Open.Key, Err: err}
		}
		m.forward(AccountEvent{Exchange: m.exchange, OrderOpened: &resp})
	case req.Cancel != nil:
		resp, err := m.client.Cancel(reqCtx, *req.Cancel)
		if err != nil {
			resp = order.CancelResponse{Key: req.Cancel.Key, Err: err}
		}
		m.forward(AccountEvent{Exchange: m.exchange, OrderCancelled: &resp})
	}
}

func (m *Manager) forward(ev AccountEvent) {
	select {
	case m.accounts <- ev:
	case <-m.closed:
	}
}
