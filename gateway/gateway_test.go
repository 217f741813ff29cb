//go:build unit

package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantaflow/paycore/withdrawal"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient(server.URL)
	require.NoError(t, err)

	return client
}

func TestNewClientRequiresBaseURL(t *testing.T) {
	t.Parallel()

	_, err := NewClient("")
	require.ErrorIs(t, err, ErrBaseURLRequired)
}

func TestSnapshotFeedPoll(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/snapshots", r.URL.Path)

		_, _ = w.Write([]byte(`[
			{"snapshot_id":"snap-1","asset_id":"asset-btc","amount":"0.5","memo":"abcd","sender_ref":"sender-1","created_at":"2026-08-01T12:00:00Z"},
			{"snapshot_id":"snap-2","asset_id":"asset-eth","amount":"2","memo":"","sender_ref":"sender-2","created_at":"2026-08-01T12:00:01Z"}
		]`))
	}))

	feed := NewSnapshotFeed(client)

	window, err := feed.Poll(context.Background())
	require.NoError(t, err)
	require.Len(t, window, 2)

	assert.Equal(t, "snap-1", window[0].SnapshotID)
	assert.True(t, window[0].Amount.Equal(decimal.RequireFromString("0.5")))
	assert.Equal(t, "abcd", window[0].Memo)
	assert.Equal(t, "snap-2", window[1].SnapshotID)
}

func TestSnapshotFeedRejectsBadAmount(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[{"snapshot_id":"snap-1","amount":"not-a-number"}]`))
	}))

	_, err := NewSnapshotFeed(client).Poll(context.Background())
	require.Error(t, err)
}

func TestWalletConnectorAvailable(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/balances/asset-btc", r.URL.Path)

		_, _ = w.Write([]byte(`{"available":"123.45"}`))
	}))

	available, err := NewWalletConnector(client).Available(context.Background(), "asset-btc")
	require.NoError(t, err)
	assert.True(t, available.Equal(decimal.RequireFromString("123.45")))
}

func TestWalletConnectorDisburse(t *testing.T) {
	t.Parallel()

	id := uuid.New()

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/transfers", r.URL.Path)

		var body map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, id.String(), body["idempotency_key"])
		assert.Equal(t, "10", body["amount"])
		assert.Equal(t, "dest-addr", body["destination"])

		_, _ = w.Write([]byte(`{"external_ref":"tx-777"}`))
	}))

	ref, err := NewWalletConnector(client).Disburse(context.Background(), &withdrawal.Withdrawal{
		ID:          id,
		AssetID:     "asset-btc",
		Amount:      decimal.NewFromInt(10),
		Destination: "dest-addr",
	})
	require.NoError(t, err)
	assert.Equal(t, "tx-777", ref)
}

func TestWalletConnectorConfirmations(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/transfers/tx-777", r.URL.Path)

		_, _ = w.Write([]byte(`{"confirmations":9}`))
	}))

	confirmations, err := NewWalletConnector(client).Confirmations(context.Background(), "tx-777")
	require.NoError(t, err)
	assert.Equal(t, 9, confirmations)
}

func TestWalletConnectorReturnTransfer(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/refunds", r.URL.Path)

		var body map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "snap-1", body["idempotency_key"])
		assert.Equal(t, "sender-1", body["recipient_ref"])

		w.WriteHeader(http.StatusNoContent)
	}))

	err := NewWalletConnector(client).ReturnTransfer(context.Background(), "snap-1", "asset-btc", "0.5", "sender-1")
	require.NoError(t, err)
}

func TestClientSurfacesHTTPErrors(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))

	_, err := NewSnapshotFeed(client).Poll(context.Background())
	require.ErrorContains(t, err, "status 500")
}
