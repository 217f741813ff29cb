// Package memo implements the compact payload a sender attaches to a
// transfer to express trading intent.
//
// The wire format is positional, colon-delimited text carried hex-encoded
// in the transfer's memo field:
//
//	version:tradingType:action:field1:field2
//
// Integer codes are the wire contract; labels exist for presentation only
// and must never be used in comparison logic. Decoding fails closed: any
// shape deviation yields an error, never a partial payload.
package memo

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// CurrentVersion is the only memo version this codec accepts. Payloads at
// any other version are rejected so that the caller refunds the transfer,
// which lets the wire format evolve without breaking old clients.
const CurrentVersion = 1

const (
	fieldSeparator = ":"
	fieldCount     = 5
)

var (
	// ErrMalformedMemo is returned for any shape deviation: wrong field
	// count, non-numeric codes, empty identifiers or invalid hex.
	ErrMalformedMemo = errors.New("malformed memo")
	// ErrUnsupportedVersion is returned when the version field differs
	// from CurrentVersion.
	ErrUnsupportedVersion = errors.New("unsupported memo version")
	// ErrUnknownTradingType is returned for a trading-type code outside
	// the static table.
	ErrUnknownTradingType = errors.New("unknown trading type code")
	// ErrUnknownAction is returned for an action code outside the static
	// table.
	ErrUnknownAction = errors.New("unknown action code")
)

// Payload is the decoded sender intent. It is never persisted; it exists
// only between decode and dispatch.
type Payload struct {
	Version     int
	TradingType TradingType
	Action      Action

	// PairID identifies the trading pair. Set for all payload kinds.
	PairID string

	// OrderID identifies the pre-registered intent. Set for market-making
	// payloads.
	OrderID string

	// RewardAddress receives swap proceeds. Set for swap payloads.
	RewardAddress string
}

// Encode serializes the payload into its wire representation.
func Encode(payload Payload) ([]byte, error) {
	if payload.Version != CurrentVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, payload.Version)
	}

	if !payload.TradingType.IsValid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownTradingType, int(payload.TradingType))
	}

	if !payload.Action.IsValid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownAction, int(payload.Action))
	}

	lastField, err := typeSpecificField(payload)
	if err != nil {
		return nil, err
	}

	if strings.TrimSpace(payload.PairID) == "" {
		return nil, fmt.Errorf("%w: empty pair id", ErrMalformedMemo)
	}

	fields := []string{
		strconv.Itoa(payload.Version),
		strconv.Itoa(int(payload.TradingType)),
		strconv.Itoa(int(payload.Action)),
		payload.PairID,
		lastField,
	}

	return []byte(strings.Join(fields, fieldSeparator)), nil
}

// EncodeHex serializes the payload and hex-encodes it the way the external
// ledger carries memos.
func EncodeHex(payload Payload) (string, error) {
	raw, err := Encode(payload)
	if err != nil {
		return "", err
	}

	return hex.EncodeToString(raw), nil
}

// Decode parses the wire representation into a Payload. Any deviation from
// the expected shape returns an error and a zero payload.
func Decode(raw []byte) (Payload, error) {
	if len(raw) == 0 {
		return Payload{}, fmt.Errorf("%w: empty memo", ErrMalformedMemo)
	}

	fields := strings.Split(string(raw), fieldSeparator)
	if len(fields) != fieldCount {
		return Payload{}, fmt.Errorf("%w: expected %d fields, got %d", ErrMalformedMemo, fieldCount, len(fields))
	}

	version, err := strconv.Atoi(fields[0])
	if err != nil {
		return Payload{}, fmt.Errorf("%w: non-numeric version %q", ErrMalformedMemo, fields[0])
	}

	if version != CurrentVersion {
		return Payload{}, fmt.Errorf("%w: %d", ErrUnsupportedVersion, version)
	}

	tradingTypeCode, err := strconv.Atoi(fields[1])
	if err != nil {
		return Payload{}, fmt.Errorf("%w: non-numeric trading type %q", ErrMalformedMemo, fields[1])
	}

	tradingType := TradingType(tradingTypeCode)
	if !tradingType.IsValid() {
		return Payload{}, fmt.Errorf("%w: %d", ErrUnknownTradingType, tradingTypeCode)
	}

	actionCode, err := strconv.Atoi(fields[2])
	if err != nil {
		return Payload{}, fmt.Errorf("%w: non-numeric action %q", ErrMalformedMemo, fields[2])
	}

	action := Action(actionCode)
	if !action.IsValid() {
		return Payload{}, fmt.Errorf("%w: %d", ErrUnknownAction, actionCode)
	}

	pairID := fields[3]
	if strings.TrimSpace(pairID) == "" {
		return Payload{}, fmt.Errorf("%w: empty pair id", ErrMalformedMemo)
	}

	lastField := fields[4]
	if strings.TrimSpace(lastField) == "" {
		return Payload{}, fmt.Errorf("%w: empty type-specific field", ErrMalformedMemo)
	}

	payload := Payload{
		Version:     version,
		TradingType: tradingType,
		Action:      action,
		PairID:      pairID,
	}

	switch tradingType {
	case TradingTypeMarketMaking:
		payload.OrderID = lastField
	case TradingTypeSwap:
		payload.RewardAddress = lastField
	}

	return payload, nil
}

// DecodeHex hex-decodes a memo as carried by the external ledger feed, then
// parses it.
func DecodeHex(encoded string) (Payload, error) {
	raw, err := hex.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return Payload{}, fmt.Errorf("%w: invalid hex: %w", ErrMalformedMemo, err)
	}

	return Decode(raw)
}

func typeSpecificField(payload Payload) (string, error) {
	switch payload.TradingType {
	case TradingTypeMarketMaking:
		if strings.TrimSpace(payload.OrderID) == "" {
			return "", fmt.Errorf("%w: empty order id", ErrMalformedMemo)
		}

		return payload.OrderID, nil
	case TradingTypeSwap:
		if strings.TrimSpace(payload.RewardAddress) == "" {
			return "", fmt.Errorf("%w: empty reward address", ErrMalformedMemo)
		}

		return payload.RewardAddress, nil
	default:
		return "", fmt.Errorf("%w: %d", ErrUnknownTradingType, int(payload.TradingType))
	}
}
