// Package live implements execution.Client against a real exchange's REST
// API: order placement, cancellation, and account/balance queries. Each of
// those calls is an independent unary request wrapped in its own circuit
// breaker; it has nothing to do with the market-data/account WebSocket
// reconnect path, which is never breaker-gated.
package live

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/quantcore/tradengine/internal/execution"
	"github.com/quantcore/tradengine/internal/order"
	"github.com/quantcore/tradengine/internal/resilience"
	"github.com/quantcore/tradengine/internal/xerrors"
	"go.uber.org/zap"
)

// WireAdapter translates between the generic Open/Cancel/AccountSnapshot
// requests and one exchange's REST shape. Each exchange integration
// implements this; Client supplies the transport, breaker, and timeout
// plumbing around it.
type WireAdapter interface {
	// BuildOpenRequest returns the HTTP request for placing req.
	BuildOpenRequest(ctx context.Context, req execution.OpenRequest) (*http.Request, error)
	// ParseOpenResponse decodes a successful open response body.
	ParseOpenResponse(body []byte) (order.Open, error)

	BuildCancelRequest(ctx context.Context, req execution.CancelRequest) (*http.Request, error)
	ParseCancelResponse(body []byte) error

	BuildAccountSnapshotRequest(ctx context.Context) (*http.Request, error)
	ParseAccountSnapshotResponse(body []byte) (execution.AccountSnapshot, error)
}

// Client is a live, REST-backed execution.Client for one exchange.
type Client struct {
	exchangeName string
	httpClient   *http.Client
	adapter      WireAdapter
	breakers     *resilience.Factory
	log          *zap.Logger
}

// New creates a Client. breakers is shared across all live clients in the
// process; each endpoint class gets its own breaker keyed by
// "<exchange>.<endpoint>".
func New(exchangeName string, httpClient *http.Client, adapter WireAdapter, breakers *resilience.Factory, log *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{
		exchangeName: exchangeName,
		httpClient:   httpClient,
		adapter:      adapter,
		breakers:     breakers,
		log:          log,
	}
}

var _ execution.Client = (*Client)(nil)

func (c *Client) breakerName(endpoint string) string {
	return fmt.Sprintf("%s.%s", c.exchangeName, endpoint)
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, xerrors.Wrap(err, xerrors.CodeTransport, "execute request")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, xerrors.Wrap(err, xerrors.CodeTransport, "read response body")
	}

	if resp.StatusCode >= 300 {
		return nil, xerrors.Newf(xerrors.CodeTransport, "exchange returned status %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}

// Open places an order. The REST call is wrapped in the
// "<exchange>.open_order" breaker; a tripped breaker surfaces as a
// CodeExecutionChannelUnhealthy error so the caller treats it the same way
// as a full in-flight request queue.
func (c *Client) Open(ctx context.Context, req execution.OpenRequest) (order.OpenResponse, error) {
	open, err := resilience.Do(ctx, c.breakers, c.breakerName("open_order"), func(ctx context.Context) (order.Open, error) {
		httpReq, err := c.adapter.BuildOpenRequest(ctx, req)
		if err != nil {
			return order.Open{}, err
		}
		body, err := c.do(httpReq)
		if err != nil {
			return order.Open{}, err
		}
		return c.adapter.ParseOpenResponse(body)
	})
	if err != nil {
		return order.OpenResponse{Key: req.Key}, c.classify(err)
	}
	return order.OpenResponse{Key: req.Key, Open: open}, nil
}

// Cancel cancels an order through the "<exchange>.cancel_order" breaker.
func (c *Client) Cancel(ctx context.Context, req execution.CancelRequest) (order.CancelResponse, error) {
	_, err := resilience.Do(ctx, c.breakers, c.breakerName("cancel_order"), func(ctx context.Context) (struct{}, error) {
		httpReq, err := c.adapter.BuildCancelRequest(ctx, req)
		if err != nil {
			return struct{}{}, err
		}
		body, err := c.do(httpReq)
		if err != nil {
			return struct{}{}, err
		}
		return struct{}{}, c.adapter.ParseCancelResponse(body)
	})
	if err != nil {
		return order.CancelResponse{Key: req.Key}, c.classify(err)
	}
	return order.CancelResponse{Key: req.Key}, nil
}

// AccountSnapshot fetches balances and orders through the
// "<exchange>.account_snapshot" breaker.
func (c *Client) AccountSnapshot(ctx context.Context) (execution.AccountSnapshot, error) {
	snap, err := resilience.Do(ctx, c.breakers, c.breakerName("account_snapshot"), func(ctx context.Context) (execution.AccountSnapshot, error) {
		httpReq, err := c.adapter.BuildAccountSnapshotRequest(ctx)
		if err != nil {
			return execution.AccountSnapshot{}, err
		}
		body, err := c.do(httpReq)
		if err != nil {
			return execution.AccountSnapshot{}, err
		}
		return c.adapter.ParseAccountSnapshotResponse(body)
	})
	if err != nil {
		return execution.AccountSnapshot{}, c.classify(err)
	}
	return snap, nil
}

// classify turns a tripped breaker's sentinel error into the taxonomy
// order.Manager/execution.Manager callers already branch on; any other
// error (including xerrors ones from the adapter) passes through unchanged.
func (c *Client) classify(err error) error {
	if err == nil {
		return nil
	}
	if err.Error() == "circuit breaker is open" || err.Error() == "too many requests" {
		return xerrors.Wrap(err, xerrors.CodeExecutionChannelUnhealthy, "breaker open for "+c.exchangeName)
	}
	return err
}

// jsonBody is a small helper adapters use to build request bodies; kept
// here rather than duplicated per exchange.
func jsonBody(v interface{}) (io.Reader, error) {
	buf, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return bytes.NewReader(buf), nil
}
