//go:build unit

package memo

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		payload Payload
	}{
		{
			name: "market making create",
			payload: Payload{
				Version:     CurrentVersion,
				TradingType: TradingTypeMarketMaking,
				Action:      ActionCreate,
				PairID:      "BTC-USDT",
				OrderID:     "order-123",
			},
		},
		{
			name: "market making cancel",
			payload: Payload{
				Version:     CurrentVersion,
				TradingType: TradingTypeMarketMaking,
				Action:      ActionCancel,
				PairID:      "ETH-USDT",
				OrderID:     "order-456",
			},
		},
		{
			name: "swap create",
			payload: Payload{
				Version:       CurrentVersion,
				TradingType:   TradingTypeSwap,
				Action:        ActionCreate,
				PairID:        "BTC-USDT",
				RewardAddress: "addr-789",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			encoded, err := EncodeHex(tt.payload)
			require.NoError(t, err)

			decoded, err := DecodeHex(encoded)
			require.NoError(t, err)
			assert.Equal(t, tt.payload, decoded)
		})
	}
}

func TestEncodeWireShape(t *testing.T) {
	t.Parallel()

	raw, err := Encode(Payload{
		Version:     CurrentVersion,
		TradingType: TradingTypeMarketMaking,
		Action:      ActionCreate,
		PairID:      "BTC-USDT",
		OrderID:     "order-123",
	})
	require.NoError(t, err)
	assert.Equal(t, "1:0:0:BTC-USDT:order-123", string(raw))
}

func TestDecodeFailsClosed(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		raw      string
		expected error
	}{
		{
			name:     "empty memo",
			raw:      "",
			expected: ErrMalformedMemo,
		},
		{
			name:     "too few fields",
			raw:      "1:0:0:BTC-USDT",
			expected: ErrMalformedMemo,
		},
		{
			name:     "too many fields",
			raw:      "1:0:0:BTC-USDT:order:extra",
			expected: ErrMalformedMemo,
		},
		{
			name:     "non-numeric version",
			raw:      "v1:0:0:BTC-USDT:order",
			expected: ErrMalformedMemo,
		},
		{
			name:     "unsupported version",
			raw:      "2:0:0:BTC-USDT:order",
			expected: ErrUnsupportedVersion,
		},
		{
			name:     "non-numeric trading type",
			raw:      "1:mm:0:BTC-USDT:order",
			expected: ErrMalformedMemo,
		},
		{
			name:     "unknown trading type code",
			raw:      "1:9:0:BTC-USDT:order",
			expected: ErrUnknownTradingType,
		},
		{
			name:     "non-numeric action",
			raw:      "1:0:go:BTC-USDT:order",
			expected: ErrMalformedMemo,
		},
		{
			name:     "unknown action code",
			raw:      "1:0:7:BTC-USDT:order",
			expected: ErrUnknownAction,
		},
		{
			name:     "empty pair id",
			raw:      "1:0:0::order",
			expected: ErrMalformedMemo,
		},
		{
			name:     "empty type-specific field",
			raw:      "1:0:0:BTC-USDT:",
			expected: ErrMalformedMemo,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			payload, err := Decode([]byte(tt.raw))
			require.ErrorIs(t, err, tt.expected)
			assert.Equal(t, Payload{}, payload)
		})
	}
}

func TestDecodeHexRejectsInvalidHex(t *testing.T) {
	t.Parallel()

	_, err := DecodeHex("not-hex!")
	require.ErrorIs(t, err, ErrMalformedMemo)
}

func TestDecodeHexAcceptsEncodedMemo(t *testing.T) {
	t.Parallel()

	encoded := hex.EncodeToString([]byte("1:1:0:BTC-USDT:reward-addr"))

	payload, err := DecodeHex(encoded)
	require.NoError(t, err)
	assert.Equal(t, TradingTypeSwap, payload.TradingType)
	assert.Equal(t, "reward-addr", payload.RewardAddress)
	assert.Empty(t, payload.OrderID)
}

func TestEncodeRejectsInvalidPayload(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		payload  Payload
		expected error
	}{
		{
			name: "wrong version",
			payload: Payload{
				Version:     99,
				TradingType: TradingTypeMarketMaking,
				Action:      ActionCreate,
				PairID:      "BTC-USDT",
				OrderID:     "order",
			},
			expected: ErrUnsupportedVersion,
		},
		{
			name: "unknown trading type",
			payload: Payload{
				Version:     CurrentVersion,
				TradingType: TradingType(42),
				Action:      ActionCreate,
				PairID:      "BTC-USDT",
			},
			expected: ErrUnknownTradingType,
		},
		{
			name: "market making without order id",
			payload: Payload{
				Version:     CurrentVersion,
				TradingType: TradingTypeMarketMaking,
				Action:      ActionCreate,
				PairID:      "BTC-USDT",
			},
			expected: ErrMalformedMemo,
		},
		{
			name: "swap without reward address",
			payload: Payload{
				Version:     CurrentVersion,
				TradingType: TradingTypeSwap,
				Action:      ActionCreate,
				PairID:      "BTC-USDT",
			},
			expected: ErrMalformedMemo,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := Encode(tt.payload)
			require.ErrorIs(t, err, tt.expected)
		})
	}
}

func TestLabelsAreBidirectional(t *testing.T) {
	t.Parallel()

	for code, label := range tradingTypeLabels {
		parsed, err := ParseTradingTypeLabel(label)
		require.NoError(t, err)
		assert.Equal(t, code, parsed)
	}

	for code, label := range actionLabels {
		parsed, err := ParseActionLabel(label)
		require.NoError(t, err)
		assert.Equal(t, code, parsed)
	}

	_, err := ParseTradingTypeLabel("Margin")
	require.ErrorIs(t, err, ErrUnknownTradingType)

	_, err = ParseActionLabel("Amend")
	require.ErrorIs(t, err, ErrUnknownAction)
}

func TestUnknownCodeLabelFallback(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "TradingType(42)", TradingType(42).Label())
	assert.Equal(t, "Action(42)", Action(42).Label())
}
