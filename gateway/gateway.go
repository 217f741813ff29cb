// Package gateway holds the HTTP clients for the two external
// collaborators: the ledger node that serves the snapshot feed and the
// wallet connector that moves funds out. Each client implements one of
// the narrow interfaces the core packages consume, so the core never
// sees HTTP.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantaflow/paycore/snapshot"
	"github.com/quantaflow/paycore/withdrawal"
)

// ErrBaseURLRequired is returned when a client is built without a base URL.
var ErrBaseURLRequired = errors.New("gateway base url is required")

const defaultHTTPTimeout = 15 * time.Second

// Client is the shared HTTP plumbing behind the collaborator clients.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a gateway client for the given base URL.
func NewClient(baseURL string) (*Client, error) {
	if baseURL == "" {
		return nil, ErrBaseURLRequired
	}

	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("gateway base url: %w", err)
	}

	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: defaultHTTPTimeout},
	}, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	return c.do(req, out)
}

func (c *Client) postJSON(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("gateway request: %w", err)
	}

	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("gateway %s %s: status %d", req.Method, req.URL.Path, resp.StatusCode)
	}

	if out == nil {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	return nil
}

type feedSnapshot struct {
	SnapshotID string    `json:"snapshot_id"`
	AssetID    string    `json:"asset_id"`
	Amount     string    `json:"amount"`
	Memo       string    `json:"memo"`
	SenderRef  string    `json:"sender_ref"`
	CreatedAt  time.Time `json:"created_at"`
}

// SnapshotFeed implements snapshot.Feed against the ledger node's feed
// endpoint.
type SnapshotFeed struct {
	client *Client
}

var _ snapshot.Feed = (*SnapshotFeed)(nil)

// NewSnapshotFeed creates a feed client.
func NewSnapshotFeed(client *Client) *SnapshotFeed {
	return &SnapshotFeed{client: client}
}

// Poll implements snapshot.Feed.
func (f *SnapshotFeed) Poll(ctx context.Context) ([]snapshot.Snapshot, error) {
	var raw []feedSnapshot

	if err := f.client.getJSON(ctx, "/v1/snapshots", &raw); err != nil {
		return nil, err
	}

	out := make([]snapshot.Snapshot, 0, len(raw))

	for _, item := range raw {
		amount, err := decimal.NewFromString(item.Amount)
		if err != nil {
			return nil, fmt.Errorf("snapshot %s amount: %w", item.SnapshotID, err)
		}

		out = append(out, snapshot.Snapshot{
			SnapshotID: item.SnapshotID,
			AssetID:    item.AssetID,
			Amount:     amount,
			Memo:       item.Memo,
			SenderRef:  item.SenderRef,
			CreatedAt:  item.CreatedAt.UTC(),
		})
	}

	return out, nil
}

// WalletConnector talks to the outbound wallet service. It implements the
// refund executor plus the withdrawal-side collaborators.
type WalletConnector struct {
	client *Client
}

var (
	_ withdrawal.SourceBalance = (*WalletConnector)(nil)
	_ withdrawal.Disburser     = (*WalletConnector)(nil)
	_ withdrawal.StatusChecker = (*WalletConnector)(nil)
)

// NewWalletConnector creates a wallet connector client.
func NewWalletConnector(client *Client) *WalletConnector {
	return &WalletConnector{client: client}
}

// Available implements withdrawal.SourceBalance.
func (w *WalletConnector) Available(ctx context.Context, assetID string) (decimal.Decimal, error) {
	var resp struct {
		Available string `json:"available"`
	}

	if err := w.client.getJSON(ctx, "/v1/balances/"+url.PathEscape(assetID), &resp); err != nil {
		return decimal.Zero, err
	}

	available, err := decimal.NewFromString(resp.Available)
	if err != nil {
		return decimal.Zero, fmt.Errorf("source balance: %w", err)
	}

	return available, nil
}

// Disburse implements withdrawal.Disburser. The withdrawal id doubles as
// the connector-side idempotency key, so a retried call returns the same
// external reference instead of paying twice.
func (w *WalletConnector) Disburse(ctx context.Context, wd *withdrawal.Withdrawal) (string, error) {
	req := map[string]string{
		"idempotency_key": wd.ID.String(),
		"asset_id":        wd.AssetID,
		"amount":          wd.Amount.String(),
		"destination":     wd.Destination,
	}

	var resp struct {
		ExternalRef string `json:"external_ref"`
	}

	if err := w.client.postJSON(ctx, "/v1/transfers", req, &resp); err != nil {
		return "", err
	}

	return resp.ExternalRef, nil
}

// Confirmations implements withdrawal.StatusChecker.
func (w *WalletConnector) Confirmations(ctx context.Context, externalRef string) (int, error) {
	var resp struct {
		Confirmations int `json:"confirmations"`
	}

	if err := w.client.getJSON(ctx, "/v1/transfers/"+url.PathEscape(externalRef), &resp); err != nil {
		return 0, err
	}

	return resp.Confirmations, nil
}

// ReturnTransfer sends a received transfer back to its origin. The refund
// worker drains the durable refund jobs through this call; the snapshot id
// is the idempotency key.
func (w *WalletConnector) ReturnTransfer(ctx context.Context, snapshotID, assetID, amount, senderRef string) error {
	req := map[string]string{
		"idempotency_key": snapshotID,
		"asset_id":        assetID,
		"amount":          amount,
		"recipient_ref":   senderRef,
	}

	return w.client.postJSON(ctx, "/v1/refunds", req, nil)
}
