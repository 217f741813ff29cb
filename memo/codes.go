package memo

import "fmt"

// TradingType is the integer wire code for the trading subsystem a payload
// addresses.
type TradingType int

const (
	TradingTypeMarketMaking TradingType = 0
	TradingTypeSwap         TradingType = 1
)

// Action is the integer wire code for the operation within a trading type.
type Action int

const (
	ActionCreate Action = 0
	ActionCancel Action = 1
)

var tradingTypeLabels = map[TradingType]string{
	TradingTypeMarketMaking: "MarketMaking",
	TradingTypeSwap:         "Swap",
}

var tradingTypeCodes = map[string]TradingType{
	"MarketMaking": TradingTypeMarketMaking,
	"Swap":         TradingTypeSwap,
}

var actionLabels = map[Action]string{
	ActionCreate: "Create",
	ActionCancel: "Cancel",
}

var actionCodes = map[string]Action{
	"Create": ActionCreate,
	"Cancel": ActionCancel,
}

// IsValid reports whether the code is part of the static table.
func (t TradingType) IsValid() bool {
	_, ok := tradingTypeLabels[t]

	return ok
}

// Label returns the human-readable label for the code. Presentation only.
func (t TradingType) Label() string {
	if label, ok := tradingTypeLabels[t]; ok {
		return label
	}

	return fmt.Sprintf("TradingType(%d)", int(t))
}

// ParseTradingTypeLabel maps a label back to its wire code.
func ParseTradingTypeLabel(label string) (TradingType, error) {
	if code, ok := tradingTypeCodes[label]; ok {
		return code, nil
	}

	return 0, fmt.Errorf("%w: label %q", ErrUnknownTradingType, label)
}

// IsValid reports whether the code is part of the static table.
func (a Action) IsValid() bool {
	_, ok := actionLabels[a]

	return ok
}

// Label returns the human-readable label for the code. Presentation only.
func (a Action) Label() string {
	if label, ok := actionLabels[a]; ok {
		return label
	}

	return fmt.Sprintf("Action(%d)", int(a))
}

// ParseActionLabel maps a label back to its wire code.
func ParseActionLabel(label string) (Action, error) {
	if code, ok := actionCodes[label]; ok {
		return code, nil
	}

	return 0, fmt.Errorf("%w: label %q", ErrUnknownAction, label)
}
